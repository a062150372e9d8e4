package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/scourhq/scour/config"
	"github.com/scourhq/scour/internal/aggregate"
	"github.com/scourhq/scour/internal/coordinator"
	"github.com/scourhq/scour/internal/embedding"
	"github.com/scourhq/scour/internal/events"
	"github.com/scourhq/scour/internal/fetch"
	"github.com/scourhq/scour/internal/planner"
	"github.com/scourhq/scour/internal/rag"
	"github.com/scourhq/scour/internal/search"
	"github.com/scourhq/scour/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pipelineProvider struct {
	id string
}

func (p pipelineProvider) ID() string       { return p.id }
func (p pipelineProvider) Configured() bool { return true }
func (p pipelineProvider) Search(ctx context.Context, q string, o search.Options) ([]search.RawResult, error) {
	now := time.Now().Add(-24 * time.Hour)
	return []search.RawResult{
		{Title: "Quantum key distribution in practice", URL: "https://" + p.id + ".org/qkd", Snippet: "quantum key distribution networks", Score: 0.9, ProviderID: p.id, PublishedAt: &now},
		{Title: "Quantum-safe migration guide", URL: "https://" + p.id + ".org/pqc", Snippet: "post-quantum migration paths", Score: 0.8, ProviderID: p.id, PublishedAt: &now},
	}, nil
}

type pipelineEmbedder struct{}

func (pipelineEmbedder) Embed(ctx context.Context, texts []string, mode embedding.Mode) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i, t := range texts {
		if strings.Contains(strings.ToLower(t), "quantum") {
			vecs[i] = []float32{1, 0.1}
		} else {
			vecs[i] = []float32{0.1, 1}
		}
	}
	return vecs, nil
}

type pipelineFetcher struct{}

func (pipelineFetcher) Fetch(ctx context.Context, url string) (fetch.Document, error) {
	return fetch.Document{
		URL:  url,
		Text: "quantum key distribution lets two parties derive a shared secret with eavesdropping detection",
	}, nil
}

type failingProvider struct {
	id string
}

func (p failingProvider) ID() string       { return p.id }
func (p failingProvider) Configured() bool { return true }
func (p failingProvider) Search(ctx context.Context, q string, o search.Options) ([]search.RawResult, error) {
	return nil, search.NewError(p.id, search.ErrAuth, errors.New("key rejected"))
}

func pipelineDriver(t *testing.T, reviewEnabled bool, providers ...search.Provider) (*Driver, *events.MemorySink) {
	t.Helper()

	if len(providers) == 0 {
		providers = []search.Provider{pipelineProvider{id: "serper"}, pipelineProvider{id: "brave"}}
	}
	registry := search.NewRegistry(providers...)
	plannerCfg := config.PlannerConfig{Intents: map[string]config.IntentConfig{
		"research": {Providers: []string{"serper", "brave"}, QualityThreshold: 0.5, Timeout: 5 * time.Second, ExpectedResultCount: 10},
	}}
	pl := planner.New(plannerCfg, registry)

	co, err := coordinator.New(registry, 4)
	require.NoError(t, err)
	t.Cleanup(co.Close)

	ag := aggregate.New(config.AggregationConfig{})
	eng := rag.NewEngine(pipelineEmbedder{}, config.RAGConfig{})

	sink := events.NewMemorySink(200)
	rec := events.NewRecorder(sink)

	pipe := NewPipeline(
		config.WorkflowConfig{ReviewEnabled: reviewEnabled, ReviewTopN: 2},
		config.FetchConfig{MaxSources: 3},
		pl, co, ag, pipelineFetcher{}, eng, rec,
	)

	st, err := store.OpenBadger("")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	return NewDriver(st, pipe.Steps(), rec), sink
}

func TestPipelineEndToEndWithoutReview(t *testing.T) {
	d, _ := pipelineDriver(t, false)
	ctx := context.Background()

	runID, err := d.CreateRun(ctx, RunRequest{Query: "quantum cryptography overview"})
	require.NoError(t, err)
	require.NoError(t, d.Execute(ctx, runID))

	run, err := d.Status(ctx, runID)
	require.NoError(t, err)
	require.Equal(t, store.StatusCompleted, run.Status)

	var result Result
	require.NoError(t, json.Unmarshal(run.Result, &result))
	assert.NotEmpty(t, result.Results, "merged results present")
	assert.NotEmpty(t, result.Passages, "retrieved passages present")
	require.NotNil(t, result.Report)
	assert.True(t, result.Report.Passed)

	// Both providers returned the same URLs; dedup keeps one copy each.
	seen := map[string]bool{}
	for _, r := range result.Results {
		assert.False(t, seen[r.NormalizedURL], "duplicate url %s", r.NormalizedURL)
		seen[r.NormalizedURL] = true
	}
}

func TestPipelineCompletesWhenAllProvidersFail(t *testing.T) {
	d, sink := pipelineDriver(t, false, failingProvider{id: "serper"}, failingProvider{id: "brave"})
	ctx := context.Background()

	runID, err := d.CreateRun(ctx, RunRequest{Query: "quantum cryptography overview"})
	require.NoError(t, err)
	require.NoError(t, d.Execute(ctx, runID))

	// Provider failures degrade the run; the outcome is an empty completed
	// run, never a failed one.
	run, err := d.Status(ctx, runID)
	require.NoError(t, err)
	require.Equal(t, store.StatusCompleted, run.Status)

	var result Result
	require.NoError(t, json.Unmarshal(run.Result, &result))
	assert.Empty(t, result.Results)
	assert.Empty(t, result.Passages)
	assert.ElementsMatch(t, []string{"serper", "brave"}, result.Degraded)
	require.NotNil(t, result.Report)
	assert.False(t, result.Report.Passed)

	var degraded, empty bool
	for _, ev := range sink.ForRun(runID) {
		switch ev.Type {
		case events.TypeProviderDegraded:
			degraded = true
		case events.TypeNoQualifyingResults:
			empty = true
		}
	}
	assert.True(t, degraded, "provider failures surface as events")
	assert.True(t, empty, "empty outcome is reported")
}

func TestPipelineReviewSuspendsAndResumes(t *testing.T) {
	d, sink := pipelineDriver(t, true)
	ctx := context.Background()

	runID, err := d.CreateRun(ctx, RunRequest{Query: "quantum cryptography overview"})
	require.NoError(t, err)
	require.NoError(t, d.Execute(ctx, runID))

	run, err := d.Status(ctx, runID)
	require.NoError(t, err)
	require.Equal(t, store.StatusSuspended, run.Status)
	require.Equal(t, StepReview, run.CurrentStepID)

	susp, err := d.Suspension(ctx, runID)
	require.NoError(t, err)
	var prompt ReviewPrompt
	require.NoError(t, json.Unmarshal(susp.Payload, &prompt))
	require.NotEmpty(t, prompt.Results)
	assert.LessOrEqual(t, len(prompt.Suggested), 2)

	// Pick only the first suggested result.
	decision, _ := json.Marshal(ReviewDecision{Selected: []int{prompt.Suggested[0]}})
	require.NoError(t, d.Resume(ctx, runID, StepReview, decision))

	run, err = d.Status(ctx, runID)
	require.NoError(t, err)
	require.Equal(t, store.StatusCompleted, run.Status)

	var result Result
	require.NoError(t, json.Unmarshal(run.Result, &result))
	assert.Len(t, result.Results, 1, "curation narrowed the result set")

	var suspended bool
	for _, ev := range sink.ForRun(runID) {
		if ev.Type == events.TypeWorkflowSuspended {
			suspended = true
		}
	}
	assert.True(t, suspended)
}

func TestPipelineResumeDefaultAcceptsSuggestion(t *testing.T) {
	d, _ := pipelineDriver(t, true)
	ctx := context.Background()

	runID, err := d.CreateRun(ctx, RunRequest{Query: "quantum networks survey"})
	require.NoError(t, err)
	require.NoError(t, d.Execute(ctx, runID))

	require.NoError(t, d.Resume(ctx, runID, "", json.RawMessage(`{}`)))

	run, err := d.Status(ctx, runID)
	require.NoError(t, err)
	require.Equal(t, store.StatusCompleted, run.Status)

	var result Result
	require.NoError(t, json.Unmarshal(run.Result, &result))
	assert.Len(t, result.Results, 2, "empty decision accepts the top-N suggestion")
}
