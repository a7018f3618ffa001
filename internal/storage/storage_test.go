package storage

import (
	"context"
	"errors"
	"os"
	"slices"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"tixwatch/internal/model"
)

var ignoreTimestamps = cmpopts.IgnoreFields(model.WatchTask{}, "CreatedAt", "UpdatedAt")

var base = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTask(id, recipient, url string, next time.Time) *model.WatchTask {
	return &model.WatchTask{
		ID:            id,
		SourceURL:     url,
		CanonicalURL:  url,
		RecipientID:   recipient,
		RecipientKind: model.RecipientIndividual,
		PeriodSeconds: 60,
		NextCheckAt:   next,
		Active:        true,
	}
}

func TestSQLite(t *testing.T) {
	runSuite(t, func(t *testing.T) Storage { return newTestDB(t) })
}

func TestPostgres(t *testing.T) {
	dsn := os.Getenv("TIXWATCH_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TIXWATCH_TEST_PG_DSN not set")
	}
	runSuite(t, func(t *testing.T) Storage {
		t.Helper()
		ctx := context.Background()
		p, err := NewPostgres(ctx, dsn)
		if err != nil {
			t.Fatalf("new postgres: %v", err)
		}
		if _, err := p.pool.Exec(ctx, `TRUNCATE watch_tasks`); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		t.Cleanup(func() { _ = p.Close() })
		return p
	})
}

func runSuite(t *testing.T, open func(t *testing.T) Storage) {
	t.Run("create and get", func(t *testing.T) { testCreateGet(t, open(t)) })
	t.Run("duplicate", func(t *testing.T) { testDuplicate(t, open(t)) })
	t.Run("not found", func(t *testing.T) { testNotFound(t, open(t)) })
	t.Run("list filters", func(t *testing.T) { testListFilters(t, open(t)) })
	t.Run("active due", func(t *testing.T) { testActiveDue(t, open(t)) })
	t.Run("partial update", func(t *testing.T) { testUpdate(t, open(t)) })
	t.Run("claim", func(t *testing.T) { testClaim(t, open(t)) })
}

func testCreateGet(t *testing.T, s Storage) {
	ctx := context.Background()

	tests := []struct {
		name string
		task model.WatchTask
	}{
		{
			name: "fresh task",
			task: *newTask("01A", "100", "https://tickets.example.com/e?id=1", base),
		},
		{
			name: "task with history",
			task: model.WatchTask{
				ID:            "01B",
				SourceURL:     "https://tickets.example.com/e?id=2&utm_source=x",
				CanonicalURL:  "https://tickets.example.com/e?id=2",
				RecipientID:   "-200",
				RecipientKind: model.RecipientGroup,
				PeriodSeconds: 30,
				NextCheckAt:   base.Add(time.Minute),
				LastSignature: model.Ptr("abc"),
				LastOutcome:   model.OutcomeAvailable,
				LastTotal:     12,
				LastCheckedAt: model.Ptr(base),
				Active:        true,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := tt.task
			if err := s.CreateTask(ctx, &task); err != nil {
				t.Fatalf("create: %v", err)
			}
			if task.CreatedAt.IsZero() {
				t.Error("expected CreatedAt to be set")
			}

			got, err := s.GetTask(ctx, task.ID)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if diff := cmp.Diff(tt.task, *got, ignoreTimestamps); diff != "" {
				t.Errorf("GetTask mismatch (-want +got):\n%s", diff)
			}

			found, err := s.FindTask(ctx, task.RecipientID, task.CanonicalURL)
			if err != nil {
				t.Fatalf("find: %v", err)
			}
			if found.ID != task.ID {
				t.Errorf("FindTask id = %q, want %q", found.ID, task.ID)
			}
		})
	}
}

func testDuplicate(t *testing.T, s Storage) {
	ctx := context.Background()
	if err := s.CreateTask(ctx, newTask("01A", "100", "https://a.example/", base)); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := s.CreateTask(ctx, newTask("01B", "100", "https://a.example/", base))
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
	// Same URL for a different recipient is a separate task.
	if err := s.CreateTask(ctx, newTask("01C", "200", "https://a.example/", base)); err != nil {
		t.Errorf("create for other recipient: %v", err)
	}
}

func testNotFound(t *testing.T, s Storage) {
	ctx := context.Background()
	if _, err := s.GetTask(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetTask: expected ErrNotFound, got %v", err)
	}
	if _, err := s.FindTask(ctx, "100", "https://a.example/"); !errors.Is(err, ErrNotFound) {
		t.Errorf("FindTask: expected ErrNotFound, got %v", err)
	}
	err := s.UpdateTask(ctx, "missing", model.TaskUpdate{Active: model.Ptr(false)})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateTask: expected ErrNotFound, got %v", err)
	}
}

func testListFilters(t *testing.T, s Storage) {
	ctx := context.Background()
	for _, task := range []*model.WatchTask{
		newTask("01A", "100", "https://a.example/1", base),
		newTask("01B", "100", "https://a.example/2", base),
		newTask("01C", "100", "https://a.example/3", base),
		newTask("01D", "200", "https://a.example/1", base),
	} {
		if err := s.CreateTask(ctx, task); err != nil {
			t.Fatalf("create %s: %v", task.ID, err)
		}
	}
	if err := s.UpdateTask(ctx, "01B", model.TaskUpdate{Active: model.Ptr(false)}); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	tests := []struct {
		filter model.ListFilter
		want   []string
	}{
		{filter: model.ListActive, want: []string{"01A", "01C"}},
		{filter: model.ListInactive, want: []string{"01B"}},
		{filter: model.ListAll, want: []string{"01A", "01B", "01C"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.filter), func(t *testing.T) {
			tasks, err := s.ListTasks(ctx, "100", tt.filter)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			var got []string
			for _, task := range tasks {
				got = append(got, task.ID)
			}
			slices.Sort(got)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ListTasks(%s) mismatch (-want +got):\n%s", tt.filter, diff)
			}
		})
	}
}

func testActiveDue(t *testing.T, s Storage) {
	ctx := context.Background()
	inactive := newTask("01D", "100", "https://a.example/4", base.Add(-time.Hour))
	inactive.Active = false
	for _, task := range []*model.WatchTask{
		newTask("01A", "100", "https://a.example/1", base),
		newTask("01B", "100", "https://a.example/2", base.Add(-time.Minute)),
		newTask("01C", "100", "https://a.example/3", base.Add(time.Second)),
		inactive,
		newTask("01E", "200", "https://a.example/5", base.Add(-2*time.Minute)),
	} {
		if err := s.CreateTask(ctx, task); err != nil {
			t.Fatalf("create %s: %v", task.ID, err)
		}
	}

	tests := []struct {
		name  string
		limit int
		want  []string
	}{
		{name: "all due, earliest first", limit: 10, want: []string{"01E", "01B", "01A"}},
		{name: "limited", limit: 2, want: []string{"01E", "01B"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tasks, err := s.ListActiveDue(ctx, base, tt.limit)
			if err != nil {
				t.Fatalf("list due: %v", err)
			}
			var got []string
			for _, task := range tasks {
				got = append(got, task.ID)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ListActiveDue mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func testUpdate(t *testing.T, s Storage) {
	ctx := context.Background()
	task := newTask("01A", "100", "https://a.example/1", base)
	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatalf("create: %v", err)
	}

	checked := base.Add(5 * time.Second)
	err := s.UpdateTask(ctx, task.ID, model.TaskUpdate{
		LastSignature: model.Ptr("sig-1"),
		LastOutcome:   model.Ptr(model.OutcomeAvailable),
		LastTotal:     model.Ptr(7),
		LastCheckedAt: &checked,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	// An empty update is a no-op.
	if err := s.UpdateTask(ctx, task.ID, model.TaskUpdate{}); err != nil {
		t.Fatalf("empty update: %v", err)
	}

	got, err := s.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	want := *task
	want.LastSignature = model.Ptr("sig-1")
	want.LastOutcome = model.OutcomeAvailable
	want.LastTotal = 7
	want.LastCheckedAt = &checked
	if diff := cmp.Diff(want, *got, ignoreTimestamps); diff != "" {
		t.Errorf("after update (-want +got):\n%s", diff)
	}
}

func testClaim(t *testing.T, s Storage) {
	ctx := context.Background()
	task := newTask("01A", "100", "https://a.example/1", base)
	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatalf("create: %v", err)
	}
	next := base.Add(time.Minute)

	ok, err := s.ClaimTask(ctx, task.ID, base, next)
	if err != nil || !ok {
		t.Fatalf("first claim = %v, %v; want true, nil", ok, err)
	}
	ok, err = s.ClaimTask(ctx, task.ID, base, next.Add(time.Minute))
	if err != nil || ok {
		t.Fatalf("second claim = %v, %v; want false, nil", ok, err)
	}

	got, err := s.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.NextCheckAt.Equal(next) {
		t.Errorf("NextCheckAt = %v, want %v", got.NextCheckAt, next)
	}

	due, err := s.ListActiveDue(ctx, base, 10)
	if err != nil {
		t.Fatalf("list due: %v", err)
	}
	if len(due) != 0 {
		t.Errorf("claimed task still due: %v", due)
	}

	if err := s.UpdateTask(ctx, task.ID, model.TaskUpdate{Active: model.Ptr(false)}); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	ok, err = s.ClaimTask(ctx, task.ID, next, next.Add(time.Minute))
	if err != nil || ok {
		t.Errorf("claim inactive = %v, %v; want false, nil", ok, err)
	}
}
