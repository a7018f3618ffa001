package notify

import (
	"fmt"
	"strings"

	"tixwatch/internal/extract"
	"tixwatch/internal/fingerprint"
	"tixwatch/internal/model"
)

// FormatAvailability renders the notification body for a task whose page
// shows tickets.
func FormatAvailability(task *model.WatchTask, s *extract.Snapshot) string {
	var b strings.Builder
	b.WriteString("🎫 Tickets available\n")
	if s.Meta.Title != "" {
		fmt.Fprintf(&b, "\n%s\n", s.Meta.Title)
	}
	if s.Meta.Venue != "" {
		fmt.Fprintf(&b, "Venue: %s\n", s.Meta.Venue)
	}
	if s.Meta.DateTime != "" {
		fmt.Fprintf(&b, "Date: %s\n", s.Meta.DateTime)
	}

	b.WriteString("\n")
	if s.TextMode {
		if len(s.Details) == 0 {
			b.WriteString("The page shows tickets on sale.\n")
		}
		for _, d := range s.Details {
			fmt.Fprintf(&b, "• %s\n", d)
		}
	} else {
		for _, p := range fingerprint.SortedPairs(s.Sections) {
			i := strings.LastIndexByte(p, ':')
			fmt.Fprintf(&b, "• %s: %s\n", p[:i], p[i+1:])
		}
		fmt.Fprintf(&b, "Total: %d\n", s.Total)
	}

	fmt.Fprintf(&b, "\n%s", task.CanonicalURL)
	return b.String()
}

// FormatProbe renders an on-demand check result.
func FormatProbe(url string, s *extract.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Check: %s\n", url)
	if s.Meta.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", s.Meta.Title)
	}
	fmt.Fprintf(&b, "Result: %s\n", s.Outcome())
	if s.TextMode {
		for _, d := range s.Details {
			fmt.Fprintf(&b, "• %s\n", d)
		}
		return b.String()
	}
	for _, p := range fingerprint.SortedPairs(s.Sections) {
		i := strings.LastIndexByte(p, ':')
		fmt.Fprintf(&b, "• %s: %s\n", p[:i], p[i+1:])
	}
	if s.Total > 0 {
		fmt.Fprintf(&b, "Total: %d\n", s.Total)
	}
	return b.String()
}
