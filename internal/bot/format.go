package bot

import (
	"fmt"
	"strings"

	"tixwatch/internal/model"
)

const (
	statusActive  = "active"
	statusStopped = "stopped"
)

// FormatTaskList formats a list of watches for display.
func FormatTaskList(tasks []model.WatchTask, filter model.ListFilter) string {
	if len(tasks) == 0 {
		if filter == model.ListActive {
			return "You are not watching anything. Use /watch <url> to start."
		}
		return "No watches found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Your watches (%s):\n", listLabel(filter))
	for _, t := range tasks {
		b.WriteString("\n")
		b.WriteString(FormatTaskInfo(&t))
	}
	return b.String()
}

// FormatTaskInfo formats a single watch.
func FormatTaskInfo(t *model.WatchTask) string {
	var b strings.Builder
	status := statusActive
	if !t.Active {
		status = statusStopped
	}
	fmt.Fprintf(&b, "#%s every %ds [%s]\n", t.ID, t.PeriodSeconds, status)
	fmt.Fprintf(&b, "%s\n", t.CanonicalURL)
	if t.LastCheckedAt != nil {
		fmt.Fprintf(&b, "Last check: %s", t.LastCheckedAt.UTC().Format("2006-01-02 15:04 UTC"))
		if t.LastOutcome != "" {
			fmt.Fprintf(&b, " (%s", t.LastOutcome)
			if t.LastTotal > 0 {
				fmt.Fprintf(&b, ", %d left", t.LastTotal)
			}
			b.WriteString(")")
		}
		b.WriteString("\n")
	}
	return b.String()
}

// FormatWatchResult formats the reply to a successful /watch.
func FormatWatchResult(t *model.WatchTask, created bool) string {
	head := "Watch updated."
	if created {
		head = "Watch added."
	}
	return fmt.Sprintf("%s\n#%s every %ds\n%s\nYou will get a message when tickets show up or change.",
		head, t.ID, t.PeriodSeconds, t.CanonicalURL)
}

func listLabel(f model.ListFilter) string {
	switch f {
	case model.ListInactive:
		return statusStopped
	case model.ListAll:
		return "all"
	default:
		return statusActive
	}
}
