package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/scourhq/scour/internal/aggregate"
	"github.com/scourhq/scour/internal/planner"
	"github.com/scourhq/scour/internal/rag"
	"github.com/scourhq/scour/internal/search"
	"github.com/scourhq/scour/internal/validation"
)

// outcome discriminates the three ways a step can end. A StepResult is
// exactly one of them; callers switch on Kind instead of probing fields.
type outcome int

const (
	outcomeContinue outcome = iota
	outcomeSuspend
	outcomeFail
)

// StepResult is the tagged outcome of one step execution.
type StepResult struct {
	kind    outcome
	payload json.RawMessage
	err     error
}

// Continue advances to the next step.
func Continue() StepResult { return StepResult{kind: outcomeContinue} }

// Suspend parks the run at the current step until an external resume. The
// payload is persisted and surfaced to whoever resumes.
func Suspend(payload interface{}) StepResult {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Fail(fmt.Errorf("marshal suspend payload: %w", err))
	}
	return StepResult{kind: outcomeSuspend, payload: raw}
}

// Fail terminates the run with an error.
func Fail(err error) StepResult { return StepResult{kind: outcomeFail, err: err} }

// Step is one stage of the pipeline. Run receives the mutable run state and,
// when the step is being resumed after a suspension, the resume payload;
// resume is nil on first execution.
type Step struct {
	ID  string
	Run func(ctx context.Context, st *State, resume json.RawMessage) StepResult
}

// State is the checkpointed data flowing between steps. It round-trips
// through JSON on every step boundary, so a resumed run reconstructs exactly
// what the suspended run had.
type State struct {
	RunID        string                   `json:"run_id"`
	Query        string                   `json:"query"`
	SubQuestions []string                 `json:"sub_questions,omitempty"`
	Plan         *planner.SearchPlan      `json:"plan,omitempty"`
	Raw          []search.RawResult       `json:"raw,omitempty"`
	Results      []aggregate.MergedResult `json:"results,omitempty"`
	Stats        aggregate.Stats          `json:"stats"`
	Curated      []aggregate.MergedResult `json:"curated,omitempty"`
	Passages     []rag.RetrievedPassage   `json:"passages,omitempty"`
	Report       *validation.Report       `json:"report,omitempty"`
	Degraded     []string                 `json:"degraded,omitempty"`
}

// Result is the final output attached to a completed run.
type Result struct {
	Query    string                   `json:"query"`
	Intent   string                   `json:"intent"`
	Results  []aggregate.MergedResult `json:"results"`
	Passages []rag.RetrievedPassage   `json:"passages"`
	Report   *validation.Report       `json:"report"`
	Degraded []string                 `json:"degraded,omitempty"`
}

func (s *State) finalResult() Result {
	intent := ""
	if s.Plan != nil {
		intent = string(s.Plan.Intent)
	}
	curated := s.Curated
	if curated == nil {
		curated = s.Results
	}
	return Result{
		Query:    s.Query,
		Intent:   intent,
		Results:  curated,
		Passages: s.Passages,
		Report:   s.Report,
		Degraded: s.Degraded,
	}
}
