package bot

import (
	"fmt"
	"strconv"
	"strings"

	"tixwatch/internal/model"
)

// WatchArgs holds the parsed arguments of a /watch command.
type WatchArgs struct {
	URL string
	// PeriodSeconds is zero when no period was given.
	PeriodSeconds int
}

// ParseWatchArgs parses arguments for /watch.
// Format: <url> [seconds]
func ParseWatchArgs(args string) (WatchArgs, error) {
	parts := strings.Fields(args)
	if len(parts) == 0 || len(parts) > 2 {
		return WatchArgs{}, fmt.Errorf("usage: /watch <url> [seconds]")
	}

	wa := WatchArgs{URL: parts[0]}
	if len(parts) == 2 {
		sec, err := strconv.Atoi(parts[1])
		if err != nil || sec <= 0 {
			return WatchArgs{}, fmt.Errorf("invalid period %q, use a number of seconds", parts[1])
		}
		wa.PeriodSeconds = sec
	}
	return wa, nil
}

// ParseIDArg extracts a task ID from a command argument string.
func ParseIDArg(args string) (string, error) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return "", fmt.Errorf("task ID is required")
	}
	return strings.TrimPrefix(fields[0], "#"), nil
}

// ParseListArg maps the /list argument to a filter.
func ParseListArg(args string) model.ListFilter {
	return model.ParseListFilter(strings.ToLower(strings.TrimSpace(args)))
}
