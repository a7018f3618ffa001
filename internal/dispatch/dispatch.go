// Package dispatch fans one external tick out into several delayed scheduler
// passes using a Redis sorted set as the delay queue.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"tixwatch/internal/scheduler"
)

// DefaultKey is the sorted set holding pending passes, scored by due time in
// Unix milliseconds.
const DefaultKey = "tixwatch:ticks"

// pollBatch bounds how many due entries one poll claims.
const pollBatch = 16

// Passer runs one scheduler pass.
type Passer interface {
	Pass(ctx context.Context) scheduler.PassResult
}

// TriggerResult describes what a Trigger did.
type TriggerResult struct {
	// Scheduled is the number of delayed passes queued.
	Scheduled int
	// Fallback is set when the queue was unavailable and a pass ran inline.
	Fallback bool
	Pass     *scheduler.PassResult
}

// Fanout queues delayed passes and runs them when they fall due.
type Fanout struct {
	client  *redis.Client
	key     string
	offsets []time.Duration
	passer  Passer
	log     *slog.Logger

	now func() time.Time
}

// NewFanout creates a Fanout. A nil client makes every Trigger fall back to
// an immediate pass.
func NewFanout(client *redis.Client, offsets []time.Duration, passer Passer, log *slog.Logger) *Fanout {
	if len(offsets) == 0 {
		offsets = []time.Duration{0}
	}
	return &Fanout{
		client:  client,
		key:     DefaultKey,
		offsets: offsets,
		passer:  passer,
		log:     log,
		now:     time.Now,
	}
}

// Trigger queues one pass per configured offset. When the queue cannot be
// reached it runs a single pass immediately instead.
func (f *Fanout) Trigger(ctx context.Context) TriggerResult {
	if f.client == nil {
		return f.fallback(ctx, nil)
	}

	now := f.now()
	_, err := f.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, off := range f.offsets {
			pipe.ZAdd(ctx, f.key, redis.Z{
				Score:  float64(now.Add(off).UnixMilli()),
				Member: fmt.Sprintf("%d:%d", now.UnixNano(), i),
			})
		}
		return nil
	})
	if err != nil {
		return f.fallback(ctx, err)
	}

	f.log.Debug("queued passes", "count", len(f.offsets))
	return TriggerResult{Scheduled: len(f.offsets)}
}

func (f *Fanout) fallback(ctx context.Context, cause error) TriggerResult {
	if cause != nil {
		f.log.Warn("delay queue unavailable, running pass inline", "error", cause)
	}
	res := f.passer.Pass(ctx)
	return TriggerResult{Fallback: true, Pass: &res}
}

// Poll claims queued passes that are due and runs them. An entry is claimed
// by removing it, so each queued pass runs at most once across instances.
func (f *Fanout) Poll(ctx context.Context) (int, error) {
	if f.client == nil {
		return 0, nil
	}

	due, err := f.client.ZRangeByScore(ctx, f.key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(f.now().UnixMilli(), 10),
		Count: pollBatch,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("list due passes: %w", err)
	}

	ran := 0
	for _, member := range due {
		removed, err := f.client.ZRem(ctx, f.key, member).Result()
		if err != nil {
			return ran, fmt.Errorf("claim pass: %w", err)
		}
		if removed == 0 {
			continue
		}
		res := f.passer.Pass(ctx)
		ran++
		f.log.Info("pass complete",
			"entry", member,
			"due", res.Due,
			"processed", res.Processed,
			"notified", res.Notified,
			"errors", len(res.Errors))
	}
	return ran, nil
}

// Pending returns the number of queued passes.
func (f *Fanout) Pending(ctx context.Context) (int64, error) {
	if f.client == nil {
		return 0, nil
	}
	n, err := f.client.ZCard(ctx, f.key).Result()
	if err != nil {
		return 0, fmt.Errorf("count pending passes: %w", err)
	}
	return n, nil
}

// Run polls the queue every interval until ctx is cancelled.
func (f *Fanout) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := f.Poll(ctx); err != nil {
				f.log.Error("poll delay queue", "error", err)
			}
		}
	}
}
