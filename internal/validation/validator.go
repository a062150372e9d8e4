// Package validation grades a finished run: did the pipeline deliver enough
// qualifying material, and how trustworthy is what it delivered.
package validation

import (
	"fmt"

	"github.com/scourhq/scour/internal/aggregate"
	"github.com/scourhq/scour/internal/planner"
	"github.com/scourhq/scour/internal/rag"
)

// Report is the structured outcome attached to every completed run.
type Report struct {
	Passed          bool     `json:"passed"`
	Score           float64  `json:"score"`
	Issues          []string `json:"issues,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
}

// Validator scores runs against the plan's expectations.
type Validator struct {
	// MinScore is the passing bar for the composite score.
	MinScore float64
}

func New() *Validator {
	return &Validator{MinScore: 0.5}
}

// Evaluate grades the run output. Degraded-but-useful runs pass with
// recommendations; runs that produced nothing usable fail.
func (v *Validator) Evaluate(plan planner.SearchPlan, stats aggregate.Stats, results []aggregate.MergedResult, passages []rag.RetrievedPassage, failedProviders []string) Report {
	var rep Report

	coverage := 1.0
	if plan.ExpectedResultCount > 0 {
		coverage = float64(len(results)) / float64(plan.ExpectedResultCount)
		if coverage > 1 {
			coverage = 1
		}
	}

	var avgQuality float64
	for _, r := range results {
		avgQuality += r.OverallScore
	}
	if len(results) > 0 {
		avgQuality /= float64(len(results))
	}

	grounding := 0.0
	if len(passages) > 0 {
		grounding = 1.0
	}

	rep.Score = 0.4*coverage + 0.4*avgQuality + 0.2*grounding

	if len(results) == 0 {
		rep.Issues = append(rep.Issues, "no results cleared the quality threshold")
	} else if coverage < 0.5 {
		rep.Issues = append(rep.Issues, fmt.Sprintf("only %d of %d expected results qualified", len(results), plan.ExpectedResultCount))
	}
	if stats.Received > 0 && stats.Filtered > stats.Received/2 {
		rep.Issues = append(rep.Issues, "more than half of the raw results fell below the quality threshold")
	}
	if len(passages) == 0 && len(results) > 0 {
		rep.Issues = append(rep.Issues, "no passages cleared the similarity threshold")
		rep.Recommendations = append(rep.Recommendations, "broaden the query or lower the similarity threshold")
	}

	switch {
	case len(failedProviders) == len(plan.Providers) && len(plan.Providers) > 0:
		rep.Issues = append(rep.Issues, "every planned provider failed")
	case len(failedProviders) > 0:
		rep.Recommendations = append(rep.Recommendations,
			fmt.Sprintf("results came from a reduced provider set; %d provider(s) were degraded", len(failedProviders)))
	}

	rep.Passed = rep.Score >= v.MinScore && len(results) > 0
	return rep
}
