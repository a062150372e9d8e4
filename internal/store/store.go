// Package store persists workflow runs and their suspension records. Two
// backends implement the same contract: Postgres for shared deployments and
// Badger for single-node embedded use.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/scourhq/scour/config"
)

// Run statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusSuspended = "suspended"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

var (
	// ErrNotFound indicates the run or suspension does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict indicates a resume attempt that does not match the
	// currently suspended step, or a suspension already consumed.
	ErrConflict = errors.New("store: conflict")
	// ErrExists indicates a run id collision on create.
	ErrExists = errors.New("store: already exists")
)

// WorkflowRun is the durable record of one search run.
type WorkflowRun struct {
	RunID         string          `json:"run_id"`
	Query         string          `json:"query"`
	Status        string          `json:"status"`
	CurrentStepID string          `json:"current_step_id"`
	Checkpoint    json.RawMessage `json:"checkpoint,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
	Error         string          `json:"error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Suspension is the durable record of a run waiting for external input.
type Suspension struct {
	RunID         string          `json:"run_id"`
	StepID        string          `json:"step_id"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	ResumePayload json.RawMessage `json:"resume_payload,omitempty"`
	Active        bool            `json:"active"`
	SuspendedAt   time.Time       `json:"suspended_at"`
	ResumedAt     *time.Time      `json:"resumed_at,omitempty"`
}

// RunStore is the persistence contract for runs and suspensions.
//
// Resume is compare-and-swap guarded: it succeeds only when the run is
// currently suspended at exactly the given step, and flips the suspension
// inactive in the same operation, so concurrent resumes cannot both win.
type RunStore interface {
	CreateRun(ctx context.Context, run WorkflowRun) error
	GetRun(ctx context.Context, runID string) (WorkflowRun, error)
	UpdateRun(ctx context.Context, run WorkflowRun) error

	Suspend(ctx context.Context, runID, stepID string, payload json.RawMessage) error
	GetSuspension(ctx context.Context, runID string) (Suspension, error)
	Resume(ctx context.Context, runID, stepID string, resumePayload json.RawMessage) error

	// ListSuspendedBefore returns active suspensions older than the cutoff.
	ListSuspendedBefore(ctx context.Context, cutoff time.Time) ([]Suspension, error)

	Close() error
}

// Open builds the configured backend.
func Open(ctx context.Context, cfg config.StorageConfig) (RunStore, error) {
	switch cfg.Backend {
	case "", "postgres":
		return OpenPostgres(ctx, cfg.Postgres.DSN())
	case "badger":
		return OpenBadger(cfg.Badger.Dir)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
