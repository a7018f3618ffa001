// Package scheduler runs due watch tasks through fetch, extraction and change
// detection, and reschedules them.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"tixwatch/internal/extract"
	"tixwatch/internal/fingerprint"
	"tixwatch/internal/model"
	"tixwatch/internal/notify"
	"tixwatch/internal/storage"
)

// Fetcher retrieves raw page content.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// ErrorKind names the stage at which a task failed.
type ErrorKind string

// Error kinds recorded in a PassResult.
const (
	ErrFetch    ErrorKind = "fetch"
	ErrExtract  ErrorKind = "extract"
	ErrStore    ErrorKind = "store"
	ErrDelivery ErrorKind = "delivery"
)

// TaskError records one per-task failure within a pass.
type TaskError struct {
	TaskID string
	Kind   ErrorKind
	Err    error
}

func (e TaskError) Error() string {
	return fmt.Sprintf("task %s: %s: %v", e.TaskID, e.Kind, e.Err)
}

// PassResult summarizes one scheduler pass.
type PassResult struct {
	// Due is the number of tasks selected for this pass.
	Due int
	// Processed counts selected tasks that were claimed and checked.
	Processed int
	Notified  int
	// Deferred counts selected tasks left untouched because the soft
	// deadline passed; they stay due for the next pass.
	Deferred int
	Errors   []TaskError
}

// Options tunes a Scheduler.
type Options struct {
	Bounds          model.PeriodBounds
	MaxTasksPerPass int
	// Workers caps concurrent task checks within a pass.
	Workers      int
	AlwaysNotify bool
	// SoftDeadline stops a pass from starting more tasks once it has run
	// this long. Zero disables it.
	SoftDeadline time.Duration

	// JitterMin and JitterMax bound the random delay before each task check.
	// A zero JitterMax disables it.
	JitterMin time.Duration
	JitterMax time.Duration

	// Busy is the pause after a pass that found due tasks. IdleMin and
	// IdleMax bound the pause after an empty pass.
	Busy    time.Duration
	IdleMin time.Duration
	IdleMax time.Duration
}

// DefaultOptions returns the standalone worker settings.
func DefaultOptions() Options {
	return Options{
		Bounds:          model.WorkerBounds,
		MaxTasksPerPass: 6,
		Workers:         3,
		JitterMin:       500 * time.Millisecond,
		JitterMax:       1200 * time.Millisecond,
		Busy:            time.Second,
		IdleMin:         5 * time.Second,
		IdleMax:         10 * time.Second,
	}
}

// Scheduler checks due tasks and notifies recipients about availability changes.
type Scheduler struct {
	store     storage.Storage
	fetcher   Fetcher
	extractor extract.Extractor
	notifier  notify.Notifier
	opts      Options
	log       *slog.Logger

	now func() time.Time
}

// New creates a Scheduler.
func New(store storage.Storage, f Fetcher, ex extract.Extractor, n notify.Notifier, opts Options, log *slog.Logger) *Scheduler {
	if opts.MaxTasksPerPass <= 0 {
		opts.MaxTasksPerPass = DefaultOptions().MaxTasksPerPass
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Scheduler{
		store:     store,
		fetcher:   f,
		extractor: ex,
		notifier:  n,
		opts:      opts,
		log:       log,
		now:       time.Now,
	}
}

// Run repeatedly runs passes until ctx is cancelled, pausing briefly after
// busy passes and longer after empty ones.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		res := s.Tick(ctx, s.now(), 0)
		if res.Due > 0 {
			s.log.Info("pass complete",
				"due", res.Due,
				"processed", res.Processed,
				"notified", res.Notified,
				"errors", len(res.Errors))
		}

		if err := sleep(ctx, s.pause(res)); err != nil {
			return
		}
	}
}

// Pass runs a single pass at the current time with the configured limit.
func (s *Scheduler) Pass(ctx context.Context) PassResult {
	return s.Tick(ctx, s.now(), 0)
}

// Tick runs one pass: it selects at most limit due tasks (the configured
// maximum when limit <= 0), claims each one by advancing its next check time,
// and checks the claimed tasks on a bounded worker pool. Per-task failures are
// collected in the result and never abort the pass.
func (s *Scheduler) Tick(ctx context.Context, now time.Time, limit int) PassResult {
	if limit <= 0 {
		limit = s.opts.MaxTasksPerPass
	}

	var res PassResult
	tasks, err := s.store.ListActiveDue(ctx, now, limit)
	if err != nil {
		s.log.Error("list due tasks", "error", err)
		res.Errors = append(res.Errors, TaskError{Kind: ErrStore, Err: err})
		return res
	}
	res.Due = len(tasks)
	started := time.Now()

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.opts.Workers)
	for _, task := range tasks {
		g.Go(func() error {
			if s.opts.SoftDeadline > 0 && time.Since(started) > s.opts.SoftDeadline {
				mu.Lock()
				res.Deferred++
				mu.Unlock()
				return nil
			}
			r := s.process(ctx, task, now)
			mu.Lock()
			defer mu.Unlock()
			if r.claimed {
				res.Processed++
			}
			if r.notified {
				res.Notified++
			}
			res.Errors = append(res.Errors, r.errors...)
			return nil
		})
	}
	_ = g.Wait()

	if res.Deferred > 0 {
		s.log.Warn("soft deadline reached, remaining tasks run next pass", "deferred", res.Deferred)
	}
	slices.SortFunc(res.Errors, func(a, b TaskError) int {
		return strings.Compare(a.TaskID, b.TaskID)
	})
	return res
}

type taskResult struct {
	claimed  bool
	notified bool
	errors   []TaskError
}

func (s *Scheduler) process(ctx context.Context, task model.WatchTask, now time.Time) (r taskResult) {
	log := s.log.With("task_id", task.ID, "url", task.CanonicalURL)
	fail := func(kind ErrorKind, err error) {
		r.errors = append(r.errors, TaskError{TaskID: task.ID, Kind: kind, Err: err})
	}

	// stage names the step in progress so a panic is reported against it.
	stage := ErrStore
	defer func() {
		if p := recover(); p != nil {
			log.Error("task panicked", "stage", stage, "panic", p)
			fail(stage, fmt.Errorf("panic: %v", p))
		}
	}()

	next := now.Add(s.opts.Bounds.Interval(task.PeriodSeconds))
	ok, err := s.store.ClaimTask(ctx, task.ID, task.NextCheckAt, next)
	if err != nil {
		log.Error("claim task", "error", err)
		fail(ErrStore, err)
		return r
	}
	if !ok {
		log.Debug("task claimed elsewhere")
		return r
	}
	r.claimed = true

	stage = ErrFetch
	if err := sleep(ctx, s.jitter()); err != nil {
		fail(ErrFetch, err)
		return r
	}

	body, err := s.fetcher.Fetch(ctx, task.CanonicalURL)
	if err != nil {
		log.Warn("fetch failed", "error", err)
		fail(ErrFetch, err)
		s.recordFailure(ctx, log, task.ID, now)
		return r
	}

	stage = ErrExtract
	snap, err := s.extractor.Extract(body)
	if err != nil {
		log.Warn("extract failed", "error", err)
		fail(ErrExtract, err)
		s.recordFailure(ctx, log, task.ID, now)
		return r
	}

	verdict := fingerprint.Evaluate(snap, task.LastSignature)
	upd := model.TaskUpdate{
		LastOutcome:   &verdict.Outcome,
		LastTotal:     &snap.Total,
		LastCheckedAt: &now,
	}
	if verdict.Record {
		upd.LastSignature = &verdict.Signature
	}
	stage = ErrStore
	if err := s.store.UpdateTask(ctx, task.ID, upd); err != nil {
		log.Error("record check", "error", err)
		fail(ErrStore, err)
	}

	log.Debug("checked task",
		"outcome", verdict.Outcome,
		"total", snap.Total,
		"notify", verdict.Notify)

	if !verdict.Notify && !(s.opts.AlwaysNotify && snap.Positive()) {
		return r
	}
	stage = ErrDelivery
	text := notify.FormatAvailability(&task, snap)
	if err := s.notifier.Send(ctx, task.RecipientID, text, snap.Meta.ImageURL); err != nil {
		log.Error("deliver notification", "recipient_id", task.RecipientID, "error", err)
		fail(ErrDelivery, err)
		return r
	}
	log.Info("sent notification", "recipient_id", task.RecipientID, "total", snap.Total)
	r.notified = true
	return r
}

// recordFailure marks a failed check without touching the stored signature.
func (s *Scheduler) recordFailure(ctx context.Context, log *slog.Logger, id string, now time.Time) {
	outcome := model.OutcomeError
	err := s.store.UpdateTask(ctx, id, model.TaskUpdate{LastOutcome: &outcome, LastCheckedAt: &now})
	if err != nil {
		log.Error("record failure", "error", err)
	}
}

func (s *Scheduler) jitter() time.Duration {
	return between(s.opts.JitterMin, s.opts.JitterMax)
}

func (s *Scheduler) pause(res PassResult) time.Duration {
	if res.Due > 0 {
		return s.opts.Busy
	}
	return between(s.opts.IdleMin, s.opts.IdleMax)
}

// between returns a random duration in [lo, hi], or lo when the range is empty.
func between(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
