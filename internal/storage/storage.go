// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"tixwatch/internal/model"
)

var (
	// ErrNotFound is returned when a task does not exist.
	ErrNotFound = errors.New("task not found")
	// ErrDuplicate is returned when a task for the same recipient and
	// canonical URL already exists.
	ErrDuplicate = errors.New("task already exists")
)

// Storage is the interface for all persistence operations.
type Storage interface {
	CreateTask(ctx context.Context, task *model.WatchTask) error
	GetTask(ctx context.Context, id string) (*model.WatchTask, error)
	FindTask(ctx context.Context, recipientID, canonicalURL string) (*model.WatchTask, error)
	ListTasks(ctx context.Context, recipientID string, filter model.ListFilter) ([]model.WatchTask, error)

	// ListActiveDue returns at most limit active tasks with NextCheckAt <= now,
	// earliest first.
	ListActiveDue(ctx context.Context, now time.Time, limit int) ([]model.WatchTask, error)
	UpdateTask(ctx context.Context, id string, upd model.TaskUpdate) error
	// ClaimTask moves an active task's NextCheckAt from expected to next. It
	// reports false when another caller changed NextCheckAt first.
	ClaimTask(ctx context.Context, id string, expected, next time.Time) (bool, error)

	Ping(ctx context.Context) error
	Close() error
}
