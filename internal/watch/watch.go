// Package watch manages a recipient's watch tasks: creating, reactivating,
// deactivating, listing, and probing pages on demand.
package watch

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"tixwatch/internal/extract"
	"tixwatch/internal/fingerprint"
	"tixwatch/internal/model"
	"tixwatch/internal/storage"
)

var (
	// ErrNotFound is returned when a task does not exist for the recipient.
	ErrNotFound = storage.ErrNotFound
	// ErrInvalidURL is returned for URLs that cannot be watched.
	ErrInvalidURL = errors.New("invalid url")
	// ErrInvalidRecipient is returned for an unknown recipient kind or empty id.
	ErrInvalidRecipient = errors.New("invalid recipient")
)

// Resolver maps a user-supplied URL to its canonical watch target.
type Resolver interface {
	Resolve(ctx context.Context, raw string) (string, error)
}

// Fetcher retrieves raw page content.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// Probe is the result of an on-demand check.
type Probe struct {
	URL       string
	Snapshot  *extract.Snapshot
	Signature string
}

// Service implements watch management on top of a Storage.
type Service struct {
	store         storage.Storage
	resolver      Resolver
	fetcher       Fetcher
	extractor     extract.Extractor
	bounds        model.PeriodBounds
	defaultPeriod int
	log           *slog.Logger

	now func() time.Time
}

// NewService creates a Service. Periods are clamped to bounds; a
// non-positive requested period falls back to defaultPeriod.
func NewService(store storage.Storage, r Resolver, f Fetcher, ex extract.Extractor,
	bounds model.PeriodBounds, defaultPeriod int, log *slog.Logger) *Service {
	return &Service{
		store:         store,
		resolver:      r,
		fetcher:       f,
		extractor:     ex,
		bounds:        bounds,
		defaultPeriod: bounds.Clamp(defaultPeriod),
		log:           log,
		now:           time.Now,
	}
}

// Bounds returns the period bounds applied to new and updated tasks.
func (s *Service) Bounds() model.PeriodBounds {
	return s.bounds
}

// Watch starts monitoring rawURL for a recipient. An existing task for the
// same canonical URL is updated instead, and reactivated with an immediate
// next check if it was inactive. created reports whether a new task was
// inserted.
func (s *Service) Watch(ctx context.Context, recipientID string, kind model.RecipientKind, rawURL string, periodSec int) (task *model.WatchTask, created bool, err error) {
	if recipientID == "" || !kind.Valid() {
		return nil, false, ErrInvalidRecipient
	}
	canonical, err := s.resolver.Resolve(ctx, rawURL)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	period := s.defaultPeriod
	if periodSec > 0 {
		period = s.bounds.Clamp(periodSec)
	}

	existing, err := s.store.FindTask(ctx, recipientID, canonical)
	switch {
	case err == nil:
		task, err := s.refresh(ctx, existing, period)
		return task, false, err
	case !errors.Is(err, storage.ErrNotFound):
		return nil, false, fmt.Errorf("find task: %w", err)
	}

	task = &model.WatchTask{
		ID:            newID(),
		SourceURL:     strings.TrimSpace(rawURL),
		CanonicalURL:  canonical,
		RecipientID:   recipientID,
		RecipientKind: kind,
		PeriodSeconds: period,
		NextCheckAt:   s.now().UTC(),
		Active:        true,
	}
	err = s.store.CreateTask(ctx, task)
	if errors.Is(err, storage.ErrDuplicate) {
		// Lost a race with a concurrent watch of the same page.
		existing, ferr := s.store.FindTask(ctx, recipientID, canonical)
		if ferr != nil {
			return nil, false, fmt.Errorf("find task: %w", ferr)
		}
		task, err := s.refresh(ctx, existing, period)
		return task, false, err
	}
	if err != nil {
		return nil, false, fmt.Errorf("create task: %w", err)
	}

	s.log.Info("watch created", "task_id", task.ID, "recipient_id", recipientID, "url", canonical)
	return task, true, nil
}

func (s *Service) refresh(ctx context.Context, task *model.WatchTask, period int) (*model.WatchTask, error) {
	upd := model.TaskUpdate{PeriodSeconds: &period}
	if !task.Active {
		now := s.now().UTC()
		upd.Active = model.Ptr(true)
		upd.NextCheckAt = &now
	}
	if err := s.store.UpdateTask(ctx, task.ID, upd); err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	if !task.Active {
		s.log.Info("watch reactivated", "task_id", task.ID, "recipient_id", task.RecipientID)
	}
	return s.store.GetTask(ctx, task.ID)
}

// Unwatch deactivates a recipient's task. Tasks owned by other recipients
// are reported as not found.
func (s *Service) Unwatch(ctx context.Context, recipientID, id string) error {
	task, err := s.owned(ctx, recipientID, id)
	if err != nil {
		return err
	}
	if !task.Active {
		return nil
	}
	if err := s.store.UpdateTask(ctx, task.ID, model.TaskUpdate{Active: model.Ptr(false)}); err != nil {
		return fmt.Errorf("deactivate task: %w", err)
	}
	s.log.Info("watch stopped", "task_id", id, "recipient_id", recipientID)
	return nil
}

// List returns a recipient's tasks, most recently updated first.
func (s *Service) List(ctx context.Context, recipientID string, filter model.ListFilter) ([]model.WatchTask, error) {
	tasks, err := s.store.ListTasks(ctx, recipientID, filter)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// Check fetches and evaluates a page once without touching stored state.
// target is either a URL or the id of one of the recipient's tasks.
func (s *Service) Check(ctx context.Context, recipientID, target string) (*Probe, error) {
	target = strings.TrimSpace(target)

	var url string
	if strings.Contains(target, "://") {
		canonical, err := s.resolver.Resolve(ctx, target)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
		}
		url = canonical
	} else {
		task, err := s.owned(ctx, recipientID, target)
		if err != nil {
			return nil, err
		}
		url = task.CanonicalURL
	}

	body, err := s.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetch page: %w", err)
	}
	snap, err := s.extractor.Extract(body)
	if err != nil {
		return nil, fmt.Errorf("extract page: %w", err)
	}
	return &Probe{URL: url, Snapshot: snap, Signature: fingerprint.Signature(snap)}, nil
}

func (s *Service) owned(ctx context.Context, recipientID, id string) (*model.WatchTask, error) {
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.RecipientID != recipientID {
		return nil, ErrNotFound
	}
	return task, nil
}

func newID() string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
