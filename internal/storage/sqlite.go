package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"tixwatch/internal/model"
	"tixwatch/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

const taskColumns = `id, source_url, canonical_url, recipient_id, recipient_kind, period_seconds,
	next_check_at, last_signature, last_outcome, last_total, last_checked_at, active, created_at, updated_at`

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Writes serialize anyway, and ":memory:" databases exist per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := migrations.Run(db, migrations.SQLite); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateTask inserts a new task and populates its CreatedAt and UpdatedAt.
func (s *SQLite) CreateTask(ctx context.Context, task *model.WatchTask) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO watch_tasks (`+taskColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.SourceURL, task.CanonicalURL, task.RecipientID, string(task.RecipientKind),
		task.PeriodSeconds, task.NextCheckAt.Unix(), task.LastSignature, string(task.LastOutcome),
		task.LastTotal, unixOrNil(task.LastCheckedAt), boolToInt(task.Active), now, now,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicate
		}
		return fmt.Errorf("insert task: %w", err)
	}
	task.CreatedAt, _ = time.Parse(timeLayout, now)
	task.UpdatedAt = task.CreatedAt
	return nil
}

// GetTask returns a single task by its ID.
func (s *SQLite) GetTask(ctx context.Context, id string) (*model.WatchTask, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM watch_tasks WHERE id = ?`, id,
	)
	return scanTask(row)
}

// FindTask returns the task a recipient holds for a canonical URL.
func (s *SQLite) FindTask(ctx context.Context, recipientID, canonicalURL string) (*model.WatchTask, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM watch_tasks WHERE recipient_id = ? AND canonical_url = ?`,
		recipientID, canonicalURL,
	)
	return scanTask(row)
}

// ListTasks returns a recipient's tasks, most recently updated first.
func (s *SQLite) ListTasks(ctx context.Context, recipientID string, filter model.ListFilter) ([]model.WatchTask, error) {
	query := `SELECT ` + taskColumns + ` FROM watch_tasks WHERE recipient_id = ?`
	args := []any{recipientID}
	switch filter {
	case model.ListActive:
		query += ` AND active = 1`
	case model.ListInactive:
		query += ` AND active = 0`
	}
	query += ` ORDER BY updated_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanTasks(rows)
}

// ListActiveDue returns active tasks whose next check is at or before now.
func (s *SQLite) ListActiveDue(ctx context.Context, now time.Time, limit int) ([]model.WatchTask, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM watch_tasks
		 WHERE active = 1 AND next_check_at <= ?
		 ORDER BY next_check_at, id
		 LIMIT ?`,
		now.Unix(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query due tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanTasks(rows)
}

// UpdateTask applies a partial update to an existing task.
func (s *SQLite) UpdateTask(ctx context.Context, id string, upd model.TaskUpdate) error {
	sets, args := updateClauses(upd, sqliteDialect)
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC().Format(timeLayout), id)

	res, err := s.db.ExecContext(ctx,
		`UPDATE watch_tasks SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimTask advances next_check_at only if it still holds the expected value.
func (s *SQLite) ClaimTask(ctx context.Context, id string, expected, next time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE watch_tasks SET next_check_at = ?, updated_at = ?
		 WHERE id = ? AND active = 1 AND next_check_at = ?`,
		next.Unix(), time.Now().UTC().Format(timeLayout), id, expected.Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("claim task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// dialect captures the SQL differences between the supported databases.
type dialect struct {
	placeholder func(n int) string
	boolean     func(b bool) any
}

var sqliteDialect = dialect{
	placeholder: func(int) string { return "?" },
	boolean:     func(b bool) any { return boolToInt(b) },
}

// updateClauses renders the non-nil fields of upd as "column = placeholder"
// pairs. Epoch seconds are used for scheduling columns in both dialects.
func updateClauses(upd model.TaskUpdate, d dialect) ([]string, []any) {
	var sets []string
	var args []any
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, col+" = "+d.placeholder(len(args)))
	}
	if upd.SourceURL != nil {
		add("source_url", *upd.SourceURL)
	}
	if upd.PeriodSeconds != nil {
		add("period_seconds", *upd.PeriodSeconds)
	}
	if upd.NextCheckAt != nil {
		add("next_check_at", upd.NextCheckAt.Unix())
	}
	if upd.LastSignature != nil {
		add("last_signature", *upd.LastSignature)
	}
	if upd.LastOutcome != nil {
		add("last_outcome", string(*upd.LastOutcome))
	}
	if upd.LastTotal != nil {
		add("last_total", *upd.LastTotal)
	}
	if upd.LastCheckedAt != nil {
		add("last_checked_at", upd.LastCheckedAt.Unix())
	}
	if upd.Active != nil {
		add("active", d.boolean(*upd.Active))
	}
	return sets, args
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func unixOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanTask(row scannable) (*model.WatchTask, error) {
	var t model.WatchTask
	var kind, outcome, created, updated string
	var next int64
	var active int
	var sig sql.NullString
	var checked sql.NullInt64
	err := row.Scan(&t.ID, &t.SourceURL, &t.CanonicalURL, &t.RecipientID, &kind, &t.PeriodSeconds,
		&next, &sig, &outcome, &t.LastTotal, &checked, &active, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}
	t.RecipientKind = model.RecipientKind(kind)
	t.LastOutcome = model.Outcome(outcome)
	t.NextCheckAt = time.Unix(next, 0).UTC()
	t.Active = active == 1
	if sig.Valid {
		t.LastSignature = &sig.String
	}
	if checked.Valid {
		c := time.Unix(checked.Int64, 0).UTC()
		t.LastCheckedAt = &c
	}
	t.CreatedAt, _ = time.Parse(timeLayout, created)
	t.UpdatedAt, _ = time.Parse(timeLayout, updated)
	return &t, nil
}

func scanTasks(rows *sql.Rows) ([]model.WatchTask, error) {
	var tasks []model.WatchTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}
