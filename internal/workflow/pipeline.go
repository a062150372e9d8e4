package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/scourhq/scour/config"
	"github.com/scourhq/scour/internal/aggregate"
	"github.com/scourhq/scour/internal/coordinator"
	"github.com/scourhq/scour/internal/events"
	"github.com/scourhq/scour/internal/fetch"
	"github.com/scourhq/scour/internal/planner"
	"github.com/scourhq/scour/internal/rag"
	"github.com/scourhq/scour/internal/validation"
)

// Step ids, in execution order.
const (
	StepPlan      = "plan"
	StepSearch    = "search"
	StepAggregate = "aggregate"
	StepReview    = "review"
	StepRetrieve  = "retrieve"
	StepValidate  = "validate"
)

// ReviewPrompt is the suspension payload shown to the reviewer: the merged
// results with a suggested selection.
type ReviewPrompt struct {
	Suggested []int             `json:"suggested"`
	Results   []reviewCandidate `json:"results"`
}

type reviewCandidate struct {
	Index    int     `json:"index"`
	Title    string  `json:"title"`
	URL      string  `json:"url"`
	Provider string  `json:"provider"`
	Score    float64 `json:"score"`
}

// ReviewDecision is the resume payload. A nil or empty selection accepts the
// suggestion.
type ReviewDecision struct {
	Selected []int `json:"selected"`
}

// Pipeline assembles the step sequence from the concrete components.
type Pipeline struct {
	Planner     *planner.Planner
	Coordinator *coordinator.Coordinator
	Aggregator  *aggregate.Aggregator
	Fetcher     fetch.Fetcher
	Engine      *rag.Engine
	Validator   *validation.Validator
	Recorder    *events.Recorder

	ReviewEnabled bool
	ReviewTopN    int
	MaxSources    int

	logger *log.Logger
}

func (p *Pipeline) Steps() []Step {
	if p.logger == nil {
		p.logger = log.New(log.Writer(), "[PIPELINE] ", log.LstdFlags)
	}
	return []Step{
		{ID: StepPlan, Run: p.plan},
		{ID: StepSearch, Run: p.search},
		{ID: StepAggregate, Run: p.aggregate},
		{ID: StepReview, Run: p.review},
		{ID: StepRetrieve, Run: p.retrieve},
		{ID: StepValidate, Run: p.validate},
	}
}

// NewPipeline wires the default pipeline from config-driven components.
func NewPipeline(cfg config.WorkflowConfig, fetchCfg config.FetchConfig, pl *planner.Planner, co *coordinator.Coordinator, ag *aggregate.Aggregator, f fetch.Fetcher, eng *rag.Engine, rec *events.Recorder) *Pipeline {
	topN := cfg.ReviewTopN
	if topN <= 0 {
		topN = 5
	}
	maxSources := fetchCfg.MaxSources
	if maxSources <= 0 {
		maxSources = 5
	}
	return &Pipeline{
		Planner:       pl,
		Coordinator:   co,
		Aggregator:    ag,
		Fetcher:       f,
		Engine:        eng,
		Validator:     validation.New(),
		Recorder:      rec,
		ReviewEnabled: cfg.ReviewEnabled,
		ReviewTopN:    topN,
		MaxSources:    maxSources,
	}
}

func (p *Pipeline) plan(ctx context.Context, st *State, _ json.RawMessage) StepResult {
	plan := p.Planner.Plan(st.Query)
	st.Plan = &plan
	p.Recorder.Emit(st.RunID, StepPlan, events.TypeProgress, "plan ready", map[string]any{
		"intent":    string(plan.Intent),
		"strategy":  string(plan.Strategy),
		"providers": plan.Providers,
	})
	return Continue()
}

func (p *Pipeline) search(ctx context.Context, st *State, _ json.RawMessage) StepResult {
	if st.Plan == nil {
		return Fail(fmt.Errorf("no plan in state"))
	}
	if len(st.Plan.Providers) == 0 {
		return Fail(fmt.Errorf("no providers available for query"))
	}

	st.Raw = nil
	st.Degraded = nil
	for batch := range p.Coordinator.Execute(ctx, *st.Plan, p.Recorder, st.RunID, StepSearch) {
		if batch.Err != nil {
			st.Degraded = append(st.Degraded, batch.ProviderID)
			continue
		}
		st.Raw = append(st.Raw, batch.Results...)
	}
	// Provider failures degrade the run, they never abort it. With every
	// provider down the aggregate step reports the empty outcome and the
	// validation report carries the cause.
	return Continue()
}

func (p *Pipeline) aggregate(ctx context.Context, st *State, _ json.RawMessage) StepResult {
	results, stats := p.Aggregator.Aggregate(*st.Plan, st.Raw)
	st.Results = results
	st.Stats = stats
	st.Raw = nil
	if len(results) == 0 {
		p.Recorder.Emit(st.RunID, StepAggregate, events.TypeNoQualifyingResults,
			"no results cleared the quality threshold", map[string]any{
				"received": stats.Received,
				"filtered": stats.Filtered,
			})
	}
	return Continue()
}

// review suspends the run for human curation. The suggested selection is the
// top N results; resuming with an empty decision accepts it.
func (p *Pipeline) review(ctx context.Context, st *State, resume json.RawMessage) StepResult {
	if !p.ReviewEnabled || len(st.Results) == 0 {
		st.Curated = st.Results
		return Continue()
	}

	if resume == nil {
		prompt := ReviewPrompt{}
		for i, r := range st.Results {
			if i < p.ReviewTopN {
				prompt.Suggested = append(prompt.Suggested, i)
			}
			prompt.Results = append(prompt.Results, reviewCandidate{
				Index:    i,
				Title:    r.Title,
				URL:      r.NormalizedURL,
				Provider: r.ProviderID,
				Score:    r.OverallScore,
			})
		}
		return Suspend(prompt)
	}

	var decision ReviewDecision
	if err := json.Unmarshal(resume, &decision); err != nil {
		return Fail(fmt.Errorf("bad review decision: %w", err))
	}
	selected := decision.Selected
	if len(selected) == 0 {
		for i := range st.Results {
			if i >= p.ReviewTopN {
				break
			}
			selected = append(selected, i)
		}
	}
	curated := make([]aggregate.MergedResult, 0, len(selected))
	for _, idx := range selected {
		if idx < 0 || idx >= len(st.Results) {
			return Fail(fmt.Errorf("review selection index %d out of range", idx))
		}
		curated = append(curated, st.Results[idx])
	}
	st.Curated = curated
	return Continue()
}

// retrieve fetches the curated sources, preferring provider-supplied full
// content, and runs similarity retrieval over them. Fetch failures skip the
// source.
func (p *Pipeline) retrieve(ctx context.Context, st *State, _ json.RawMessage) StepResult {
	curated := st.Curated
	if len(curated) > p.MaxSources {
		curated = curated[:p.MaxSources]
	}

	docs := make([]*fetch.Document, len(curated))
	var wg sync.WaitGroup
	for i, r := range curated {
		if r.RawContent != "" {
			docs[i] = &fetch.Document{URL: r.NormalizedURL, Title: r.Title, Text: r.RawContent}
			continue
		}
		wg.Add(1)
		go func(i int, url string) {
			defer wg.Done()
			doc, err := p.Fetcher.Fetch(ctx, url)
			if err != nil {
				p.logger.Printf("skipping source %s: %v", url, err)
				return
			}
			docs[i] = &doc
		}(i, r.NormalizedURL)
	}
	wg.Wait()

	var fetched []fetch.Document
	for _, d := range docs {
		if d != nil && d.Text != "" {
			fetched = append(fetched, *d)
		}
	}

	passages, err := p.Engine.Retrieve(ctx, st.Query, st.SubQuestions, fetched, p.Recorder, st.RunID, StepRetrieve)
	if err != nil {
		return Fail(err)
	}
	st.Passages = passages
	return Continue()
}

func (p *Pipeline) validate(ctx context.Context, st *State, _ json.RawMessage) StepResult {
	curated := st.Curated
	if curated == nil {
		curated = st.Results
	}
	rep := p.Validator.Evaluate(*st.Plan, st.Stats, curated, st.Passages, st.Degraded)
	st.Report = &rep
	p.Recorder.Emit(st.RunID, StepValidate, events.TypeProgress, "validation complete", map[string]any{
		"passed": rep.Passed,
		"score":  rep.Score,
		"issues": rep.Issues,
	})
	return Continue()
}
