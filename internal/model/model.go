// Package model defines the domain types used across the application.
package model

import "time"

// RecipientKind identifies the kind of delivery target a task notifies.
type RecipientKind string

// Supported recipient kinds.
const (
	RecipientIndividual RecipientKind = "individual"
	RecipientGroup      RecipientKind = "group"
	RecipientRoom       RecipientKind = "room"
)

// Valid reports whether k is one of the known recipient kinds.
func (k RecipientKind) Valid() bool {
	switch k {
	case RecipientIndividual, RecipientGroup, RecipientRoom:
		return true
	}
	return false
}

// Outcome is the result of the most recent check of a task.
type Outcome string

// Check outcomes. OutcomeIndeterminate means the page was fetched but carried
// no interpretable availability signal.
const (
	OutcomeAvailable     Outcome = "available"
	OutcomeSoldOut       Outcome = "soldout"
	OutcomeIndeterminate Outcome = "indeterminate"
	OutcomeError         Outcome = "error"
)

// WatchTask is a persistent unit of monitoring: one page watched on behalf of
// one recipient.
type WatchTask struct {
	ID            string
	SourceURL     string
	CanonicalURL  string
	RecipientID   string
	RecipientKind RecipientKind
	PeriodSeconds int
	NextCheckAt   time.Time
	// LastSignature is nil until the task has been checked with a usable result.
	LastSignature *string
	LastOutcome   Outcome
	LastTotal     int
	LastCheckedAt *time.Time
	Active        bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// FirstRun reports whether no signature has been recorded for the task yet.
func (t *WatchTask) FirstRun() bool {
	return t.LastSignature == nil
}

// Due reports whether the task should be checked at now.
func (t *WatchTask) Due(now time.Time) bool {
	return t.Active && !now.Before(t.NextCheckAt)
}

// TaskUpdate carries a partial update of a task. Nil fields are left untouched.
type TaskUpdate struct {
	SourceURL     *string
	PeriodSeconds *int
	NextCheckAt   *time.Time
	LastSignature *string
	LastOutcome   *Outcome
	LastTotal     *int
	LastCheckedAt *time.Time
	Active        *bool
}

// Empty reports whether the update changes nothing.
func (u TaskUpdate) Empty() bool {
	return u.SourceURL == nil && u.PeriodSeconds == nil && u.NextCheckAt == nil &&
		u.LastSignature == nil && u.LastOutcome == nil && u.LastTotal == nil &&
		u.LastCheckedAt == nil && u.Active == nil
}

// ListFilter selects tasks by their active flag.
type ListFilter string

// Supported list filters.
const (
	ListActive   ListFilter = "on"
	ListInactive ListFilter = "off"
	ListAll      ListFilter = "all"
)

// ParseListFilter maps user input to a ListFilter, defaulting to ListActive.
func ParseListFilter(s string) ListFilter {
	switch ListFilter(s) {
	case ListInactive, ListAll:
		return ListFilter(s)
	}
	return ListActive
}

// PeriodBounds is the allowed polling cadence range, in seconds.
type PeriodBounds struct {
	Min int
	Max int
}

// Bounds used by the two deployment variants.
var (
	ChatBounds   = PeriodBounds{Min: 15, Max: 3600}
	WorkerBounds = PeriodBounds{Min: 5, Max: 300}
)

// Clamp forces sec into [Min, Max].
func (b PeriodBounds) Clamp(sec int) int {
	if sec < b.Min {
		return b.Min
	}
	if sec > b.Max {
		return b.Max
	}
	return sec
}

// Interval returns the delay until the next check of a task with the given period.
func (b PeriodBounds) Interval(periodSeconds int) time.Duration {
	return time.Duration(max(b.Min, periodSeconds)) * time.Second
}

// Ptr returns a pointer to v. It keeps TaskUpdate literals short.
func Ptr[T any](v T) *T {
	return &v
}
