package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/scourhq/scour/config"
	"github.com/scourhq/scour/internal/events"
	"github.com/scourhq/scour/internal/store"
	"github.com/scourhq/scour/internal/telemetry"
)

// Reaper expires suspensions that outlived their TTL. It is off unless
// configured: an unconfigured deployment keeps suspensions durable forever.
type Reaper struct {
	store   store.RunStore
	rec     *events.Recorder
	metrics *telemetry.Metrics
	logger  *log.Logger

	expr *cronexpr.Expression
	ttl  time.Duration
}

func NewReaper(cfg config.ReaperConfig, st store.RunStore, rec *events.Recorder, metrics *telemetry.Metrics) (*Reaper, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	expr, err := cronexpr.Parse(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("reaper schedule: %w", err)
	}
	return &Reaper{
		store:   st,
		rec:     rec,
		metrics: metrics,
		logger:  log.New(log.Writer(), "[REAPER] ", log.LstdFlags),
		expr:    expr,
		ttl:     cfg.TTL,
	}, nil
}

// Start runs the reap loop until the context is cancelled. A nil reaper is a
// no-op, so callers can start it unconditionally.
func (r *Reaper) Start(ctx context.Context) {
	if r == nil {
		return
	}
	go func() {
		for {
			next := r.expr.Next(time.Now())
			if next.IsZero() {
				r.logger.Printf("schedule yields no future runs, stopping")
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Until(next)):
				r.reap(ctx)
			}
		}
	}()
}

// reap consumes every expired suspension through the same CAS path a resume
// takes, so a racing legitimate resume always beats the reaper cleanly.
func (r *Reaper) reap(ctx context.Context) {
	cutoff := time.Now().Add(-r.ttl)
	expired, err := r.store.ListSuspendedBefore(ctx, cutoff)
	if err != nil {
		r.logger.Printf("list expired suspensions: %v", err)
		return
	}
	for _, susp := range expired {
		if err := r.expire(ctx, susp); err != nil {
			r.logger.Printf("expire run %s: %v", susp.RunID, err)
		}
	}
}

func (r *Reaper) expire(ctx context.Context, susp store.Suspension) error {
	err := r.store.Resume(ctx, susp.RunID, susp.StepID, json.RawMessage(`{"expired":true}`))
	if errors.Is(err, store.ErrConflict) {
		// Someone resumed it first; nothing to do.
		return nil
	}
	if err != nil {
		return err
	}

	run, err := r.store.GetRun(ctx, susp.RunID)
	if err != nil {
		return err
	}
	run.Status = store.StatusFailed
	run.Error = fmt.Sprintf("suspension expired after %s", r.ttl)
	if err := r.store.UpdateRun(ctx, run); err != nil {
		return err
	}

	r.logger.Printf("expired run %s (suspended at %s since %s)", susp.RunID, susp.StepID, susp.SuspendedAt.Format(time.RFC3339))
	r.rec.Emit(susp.RunID, susp.StepID, events.TypeFailed, "suspension expired", map[string]any{
		"suspended_at": susp.SuspendedAt,
		"ttl":          r.ttl.String(),
	})
	if r.metrics != nil {
		r.metrics.SuspensionsExpired.Inc()
	}
	return nil
}
