package model

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestPeriodBoundsClamp(t *testing.T) {
	tests := []struct {
		name   string
		bounds PeriodBounds
		in     int
		want   int
	}{
		{name: "chat below min", bounds: ChatBounds, in: 1, want: 15},
		{name: "chat in range", bounds: ChatBounds, in: 60, want: 60},
		{name: "chat above max", bounds: ChatBounds, in: 7200, want: 3600},
		{name: "worker below min", bounds: WorkerBounds, in: 0, want: 5},
		{name: "worker above max", bounds: WorkerBounds, in: 600, want: 300},
		{name: "negative", bounds: WorkerBounds, in: -10, want: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, tt.bounds.Clamp(tt.in)); diff != "" {
				t.Errorf("Clamp() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPeriodBoundsInterval(t *testing.T) {
	if diff := cmp.Diff(15*time.Second, ChatBounds.Interval(3)); diff != "" {
		t.Errorf("Interval() below min mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(60*time.Second, ChatBounds.Interval(60)); diff != "" {
		t.Errorf("Interval() mismatch (-want +got):\n%s", diff)
	}
}

func TestWatchTaskDue(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		task WatchTask
		want bool
	}{
		{name: "past", task: WatchTask{Active: true, NextCheckAt: now.Add(-time.Second)}, want: true},
		{name: "exactly now", task: WatchTask{Active: true, NextCheckAt: now}, want: true},
		{name: "future", task: WatchTask{Active: true, NextCheckAt: now.Add(time.Second)}, want: false},
		{name: "inactive", task: WatchTask{Active: false, NextCheckAt: now.Add(-time.Hour)}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, tt.task.Due(now)); diff != "" {
				t.Errorf("Due() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseListFilter(t *testing.T) {
	for in, want := range map[string]ListFilter{
		"":     ListActive,
		"on":   ListActive,
		"off":  ListInactive,
		"all":  ListAll,
		"junk": ListActive,
	} {
		if diff := cmp.Diff(want, ParseListFilter(in)); diff != "" {
			t.Errorf("ParseListFilter(%q) mismatch (-want +got):\n%s", in, diff)
		}
	}
}

func TestTaskUpdateEmpty(t *testing.T) {
	if !(TaskUpdate{}).Empty() {
		t.Error("zero TaskUpdate should be empty")
	}
	if (TaskUpdate{Active: Ptr(false)}).Empty() {
		t.Error("TaskUpdate with Active set should not be empty")
	}
}
