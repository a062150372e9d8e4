package coordinator

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/scourhq/scour/internal/events"
	"github.com/scourhq/scour/internal/helpers"
	"github.com/scourhq/scour/internal/planner"
	"github.com/scourhq/scour/internal/search"
	"github.com/scourhq/scour/internal/telemetry"
)

// Batch is one provider's contribution to a search, yielded as soon as the
// adapter completes. A degraded provider yields an empty batch with Err set;
// it never aborts the overall search.
type Batch struct {
	ProviderID string
	Results    []search.RawResult
	Err        error
	Latency    time.Duration
}

// Coordinator executes SearchPlans against live provider adapters. It owns a
// bounded worker pool and a health tracker; neither is package-level state.
type Coordinator struct {
	registry *search.Registry
	health   *HealthTracker
	pool     *ants.Pool
	logger   *log.Logger

	maxRetries   int
	retryBackoff time.Duration
	enhanceTerms int
	metrics      *telemetry.Metrics
}

// Option configures coordinator behaviour.
type Option func(*Coordinator)

// WithRetry overrides the retry policy for transient provider errors.
func WithRetry(retries int, backoff time.Duration) Option {
	return func(c *Coordinator) {
		c.maxRetries = retries
		c.retryBackoff = backoff
	}
}

// WithMetrics attaches Prometheus collectors for provider calls.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

func New(registry *search.Registry, poolSize int, opts ...Option) (*Coordinator, error) {
	if poolSize <= 0 {
		poolSize = 8
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}
	c := &Coordinator{
		registry:     registry,
		health:       NewHealthTracker(),
		pool:         pool,
		logger:       log.New(log.Writer(), "[COORD] ", log.LstdFlags),
		maxRetries:   1,
		retryBackoff: 500 * time.Millisecond,
		enhanceTerms: 4,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Close releases the worker pool.
func (c *Coordinator) Close() { c.pool.Release() }

// Health exposes per-provider diagnostics.
func (c *Coordinator) Health() []ProviderHealth { return c.health.Snapshot() }

// Execute runs the plan and streams result batches in completion order. The
// returned channel is closed once every selected provider has reported. The
// recorder receives provider lifecycle events for the given run/step.
func (c *Coordinator) Execute(ctx context.Context, plan planner.SearchPlan, rec *events.Recorder, runID, stepID string) <-chan Batch {
	out := make(chan Batch, len(plan.Providers))
	switch plan.Strategy {
	case planner.StrategySequential:
		go c.runSequential(ctx, plan, rec, runID, stepID, out)
	default:
		go c.runParallel(ctx, plan, rec, runID, stepID, out)
	}
	return out
}

// runParallel invokes every selected adapter concurrently. Each invocation
// carries its own timeout; one adapter's failure or latency never cancels its
// siblings.
func (c *Coordinator) runParallel(ctx context.Context, plan planner.SearchPlan, rec *events.Recorder, runID, stepID string, out chan<- Batch) {
	defer close(out)
	var wg sync.WaitGroup
	for _, id := range plan.Providers {
		provider, ok := c.registry.Get(id)
		if !ok {
			continue
		}
		wg.Add(1)
		p := provider
		submitErr := c.pool.Submit(func() {
			defer wg.Done()
			out <- c.invoke(ctx, p, plan.Query, plan, rec, runID, stepID)
		})
		if submitErr != nil {
			wg.Done()
			c.logger.Printf("pool submit for %s: %v", id, submitErr)
			out <- Batch{ProviderID: id, Err: submitErr}
		}
	}
	wg.Wait()
}

// runSequential walks the adapters one at a time, enhancing the query for
// each subsequent provider with salient terms extracted from the results so
// far. Errors skip to the next adapter; the chain stops early once the plan's
// expected result count is reached.
func (c *Coordinator) runSequential(ctx context.Context, plan planner.SearchPlan, rec *events.Recorder, runID, stepID string, out chan<- Batch) {
	defer close(out)
	query := plan.Query
	total := 0
	var topTexts []string
	for _, id := range plan.Providers {
		provider, ok := c.registry.Get(id)
		if !ok {
			continue
		}
		batch := c.invoke(ctx, provider, query, plan, rec, runID, stepID)
		out <- batch
		if batch.Err != nil {
			continue
		}
		total += len(batch.Results)
		for i, r := range batch.Results {
			if i >= 3 {
				break
			}
			topTexts = append(topTexts, r.Title+" "+r.Snippet)
		}
		if plan.ExpectedResultCount > 0 && total >= plan.ExpectedResultCount {
			return
		}
		query = enhanceQuery(plan.Query, topTexts, c.enhanceTerms)
	}
}

// invoke calls one adapter with the plan's per-adapter timeout, retrying once
// on clearly transient failures. Outcomes are recorded in the health tracker.
func (c *Coordinator) invoke(ctx context.Context, p search.Provider, query string, plan planner.SearchPlan, rec *events.Recorder, runID, stepID string) Batch {
	opts := search.Options{MaxResults: plan.ExpectedResultCount, Timeout: plan.Timeout}
	var (
		results []search.RawResult
		err     error
	)
	start := time.Now()
	for attempt := 0; ; attempt++ {
		results, err = p.Search(ctx, query, opts)
		if err == nil {
			break
		}
		var pe *search.ProviderError
		retryable := errors.As(err, &pe) && pe.Retryable()
		if !retryable || attempt >= c.maxRetries || ctx.Err() != nil {
			break
		}
		time.Sleep(c.retryBackoff)
	}
	latency := time.Since(start)
	c.health.Record(p.ID(), latency, err)
	var errKind string
	if err != nil {
		errKind = string(search.KindOf(err))
	}
	c.metrics.ObserveProviderCall(p.ID(), latency, errKind)

	if err != nil {
		c.logger.Printf("provider %s degraded: %v", p.ID(), err)
		rec.Emit(runID, stepID, events.TypeProviderDegraded, err.Error(), map[string]any{
			"provider":   p.ID(),
			"kind":       string(search.KindOf(err)),
			"latency_ms": latency.Milliseconds(),
		})
		return Batch{ProviderID: p.ID(), Err: err, Latency: latency}
	}
	rec.Emit(runID, stepID, events.TypeProgress, "provider batch", map[string]any{
		"provider":   p.ID(),
		"results":    len(results),
		"latency_ms": latency.Milliseconds(),
	})
	return Batch{ProviderID: p.ID(), Results: results, Latency: latency}
}

// enhanceQuery appends context terms from earlier providers' top results,
// skipping terms already present in the base query.
func enhanceQuery(base string, texts []string, max int) string {
	terms := helpers.SalientTerms(texts, max)
	if len(terms) == 0 {
		return base
	}
	lower := strings.ToLower(base)
	var extra []string
	for _, term := range terms {
		if !strings.Contains(lower, term) {
			extra = append(extra, term)
		}
	}
	if len(extra) == 0 {
		return base
	}
	return base + " " + strings.Join(extra, " ")
}
