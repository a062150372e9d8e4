package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/scourhq/scour/internal/events"
	"github.com/scourhq/scour/internal/store"
	"github.com/scourhq/scour/internal/telemetry"
)

// Driver runs the step pipeline against the durable run store. Each run
// executes on at most one goroutine at a time; suspension parks the run
// durably, and a later resume picks up from the suspended step with the
// checkpointed state.
type Driver struct {
	store   store.RunStore
	steps   []Step
	rec     *events.Recorder
	metrics *telemetry.Metrics
	logger  *log.Logger

	stepTimeout time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

type DriverOption func(*Driver)

// WithStepTimeout bounds each step's execution.
func WithStepTimeout(d time.Duration) DriverOption {
	return func(dr *Driver) { dr.stepTimeout = d }
}

// WithMetrics attaches Prometheus collectors for run outcomes.
func WithMetrics(m *telemetry.Metrics) DriverOption {
	return func(dr *Driver) { dr.metrics = m }
}

func NewDriver(st store.RunStore, steps []Step, rec *events.Recorder, opts ...DriverOption) *Driver {
	d := &Driver{
		store:  st,
		steps:  steps,
		rec:    rec,
		logger: log.New(log.Writer(), "[WORKFLOW] ", log.LstdFlags),
		locks:  map[string]*sync.Mutex{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RunRequest starts a new run.
type RunRequest struct {
	Query        string   `json:"query"`
	SubQuestions []string `json:"sub_questions,omitempty"`
}

// StartRun persists a new run and executes it in the background. The run id
// is returned immediately; progress flows through the event stream.
func (d *Driver) StartRun(ctx context.Context, req RunRequest) (string, error) {
	runID, err := d.CreateRun(ctx, req)
	if err != nil {
		return "", err
	}
	go func() {
		if err := d.Execute(context.Background(), runID); err != nil {
			d.logger.Printf("run %s: %v", runID, err)
		}
	}()
	return runID, nil
}

// CreateRun persists the run record without executing it.
func (d *Driver) CreateRun(ctx context.Context, req RunRequest) (string, error) {
	if req.Query == "" {
		return "", fmt.Errorf("workflow: empty query")
	}
	runID := uuid.New().String()
	state := State{RunID: runID, Query: req.Query, SubQuestions: req.SubQuestions}
	checkpoint, err := json.Marshal(state)
	if err != nil {
		return "", err
	}
	if err := d.store.CreateRun(ctx, store.WorkflowRun{
		RunID:      runID,
		Query:      req.Query,
		Status:     store.StatusPending,
		Checkpoint: checkpoint,
	}); err != nil {
		return "", err
	}
	return runID, nil
}

// Execute drives a pending run to completion, suspension, or failure.
func (d *Driver) Execute(ctx context.Context, runID string) error {
	return d.advance(ctx, runID, nil)
}

// Resume consumes the run's suspension and continues execution from the
// suspended step. A non-empty stepID must name exactly the suspended step or
// the resume conflicts; an empty stepID targets whatever step is suspended.
// The consume is compare-and-swap guarded in the store, so a concurrent
// duplicate resume gets store.ErrConflict and the run state is untouched by
// the loser.
func (d *Driver) Resume(ctx context.Context, runID, stepID string, payload json.RawMessage) error {
	susp, err := d.store.GetSuspension(ctx, runID)
	if err != nil {
		return err
	}
	if !susp.Active {
		return store.ErrConflict
	}
	if stepID == "" {
		stepID = susp.StepID
	}
	if err := d.store.Resume(ctx, runID, stepID, payload); err != nil {
		return err
	}
	d.rec.Emit(runID, susp.StepID, events.TypeWorkflowResumed, "run resumed", nil)
	return d.advance(ctx, runID, payload)
}

// Status returns the durable run record.
func (d *Driver) Status(ctx context.Context, runID string) (store.WorkflowRun, error) {
	return d.store.GetRun(ctx, runID)
}

// Suspension returns the run's suspension record, if any.
func (d *Driver) Suspension(ctx context.Context, runID string) (store.Suspension, error) {
	return d.store.GetSuspension(ctx, runID)
}

// advance executes steps from the run's current position. resume carries the
// resume payload into the first step executed, then clears.
func (d *Driver) advance(ctx context.Context, runID string, resume json.RawMessage) error {
	lock := d.runLock(runID)
	lock.Lock()
	defer lock.Unlock()

	run, err := d.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	switch run.Status {
	case store.StatusCompleted, store.StatusFailed:
		return fmt.Errorf("workflow: run %s already %s", runID, run.Status)
	case store.StatusSuspended:
		if resume == nil {
			return store.ErrConflict
		}
	}

	var state State
	if len(run.Checkpoint) > 0 {
		if err := json.Unmarshal(run.Checkpoint, &state); err != nil {
			return d.fail(ctx, run, time.Now(), fmt.Errorf("decode checkpoint: %w", err))
		}
	}

	started := time.Now()
	idx := d.stepIndex(run.CurrentStepID)
	if run.Status == store.StatusPending {
		d.rec.Emit(runID, d.steps[idx].ID, events.TypeRunning, "run started", nil)
	}

	for ; idx < len(d.steps); idx++ {
		step := d.steps[idx]
		run.Status = store.StatusRunning
		run.CurrentStepID = step.ID
		if err := d.checkpoint(ctx, &run, &state); err != nil {
			return err
		}

		res := d.runStep(ctx, step, &state, resume)
		resume = nil

		switch res.kind {
		case outcomeSuspend:
			if err := d.store.Suspend(ctx, runID, step.ID, res.payload); err != nil {
				return d.fail(ctx, run, started, fmt.Errorf("persist suspension: %w", err))
			}
			run.Status = store.StatusSuspended
			if err := d.checkpoint(ctx, &run, &state); err != nil {
				return err
			}
			d.rec.Emit(runID, step.ID, events.TypeWorkflowSuspended, "run suspended awaiting input", map[string]any{
				"payload": json.RawMessage(res.payload),
			})
			return nil
		case outcomeFail:
			return d.fail(ctx, run, started, fmt.Errorf("step %s: %w", step.ID, res.err))
		}

		d.rec.Progress(runID, step.ID, float64(idx+1)/float64(len(d.steps)), "step completed")
	}

	result, err := json.Marshal(state.finalResult())
	if err != nil {
		return d.fail(ctx, run, started, fmt.Errorf("marshal result: %w", err))
	}
	run.Status = store.StatusCompleted
	run.Result = result
	if err := d.checkpoint(ctx, &run, &state); err != nil {
		return err
	}
	d.rec.Emit(runID, run.CurrentStepID, events.TypeCompleted, "run completed", nil)
	d.metrics.ObserveRun(store.StatusCompleted, time.Since(started))
	return nil
}

// runStep executes one step with panic isolation and the optional per-step
// timeout.
func (d *Driver) runStep(ctx context.Context, step Step, state *State, resume json.RawMessage) (res StepResult) {
	if d.stepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.stepTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			d.logger.Printf("step %s panicked: %v\n%s", step.ID, r, debug.Stack())
			res = Fail(fmt.Errorf("panic: %v", r))
		}
	}()
	return step.Run(ctx, state, resume)
}

// fail marks the run failed. Events already emitted stay in the stream, so
// partial results remain observable.
func (d *Driver) fail(ctx context.Context, run store.WorkflowRun, started time.Time, cause error) error {
	d.logger.Printf("run %s failed: %v", run.RunID, cause)
	run.Status = store.StatusFailed
	run.Error = cause.Error()
	if err := d.store.UpdateRun(ctx, run); err != nil {
		d.logger.Printf("run %s: persist failure status: %v", run.RunID, err)
	}
	d.rec.Emit(run.RunID, run.CurrentStepID, events.TypeFailed, cause.Error(), nil)
	d.metrics.ObserveRun(store.StatusFailed, time.Since(started))
	return cause
}

func (d *Driver) checkpoint(ctx context.Context, run *store.WorkflowRun, state *State) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	run.Checkpoint = raw
	return d.store.UpdateRun(ctx, *run)
}

func (d *Driver) stepIndex(stepID string) int {
	for i, s := range d.steps {
		if s.ID == stepID {
			return i
		}
	}
	return 0
}

func (d *Driver) runLock(runID string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	lock, ok := d.locks[runID]
	if !ok {
		lock = &sync.Mutex{}
		d.locks[runID] = lock
	}
	return lock
}
