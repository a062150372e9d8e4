package validation

import (
	"testing"

	"github.com/scourhq/scour/internal/aggregate"
	"github.com/scourhq/scour/internal/planner"
	"github.com/scourhq/scour/internal/rag"
	"github.com/scourhq/scour/internal/search"
	"github.com/stretchr/testify/assert"
)

func mergedWithScore(score float64) aggregate.MergedResult {
	return aggregate.MergedResult{
		RawResult:    search.RawResult{URL: "https://a.org"},
		OverallScore: score,
	}
}

func plan(expected int, providers ...string) planner.SearchPlan {
	return planner.SearchPlan{Providers: providers, ExpectedResultCount: expected}
}

func TestEvaluateHealthyRunPasses(t *testing.T) {
	v := New()
	results := []aggregate.MergedResult{mergedWithScore(0.9), mergedWithScore(0.8), mergedWithScore(0.85)}
	passages := []rag.RetrievedPassage{{Text: "p", Similarity: 0.8}}

	rep := v.Evaluate(plan(3, "serper", "brave"), aggregate.Stats{Received: 5, Returned: 3}, results, passages, nil)
	assert.True(t, rep.Passed)
	assert.Greater(t, rep.Score, 0.8)
	assert.Empty(t, rep.Issues)
}

func TestEvaluateEmptyRunFails(t *testing.T) {
	v := New()
	rep := v.Evaluate(plan(10, "serper"), aggregate.Stats{Received: 4, Filtered: 4}, nil, nil, nil)
	assert.False(t, rep.Passed)
	assert.NotEmpty(t, rep.Issues)
}

func TestEvaluateDegradedProvidersRecommends(t *testing.T) {
	v := New()
	results := []aggregate.MergedResult{mergedWithScore(0.9), mergedWithScore(0.8)}
	passages := []rag.RetrievedPassage{{Text: "p", Similarity: 0.7}}

	rep := v.Evaluate(plan(2, "serper", "brave"), aggregate.Stats{Received: 2, Returned: 2}, results, passages, []string{"brave"})
	assert.True(t, rep.Passed, "a single-provider run with good results still passes")
	assert.NotEmpty(t, rep.Recommendations)
}

func TestEvaluateAllProvidersFailed(t *testing.T) {
	v := New()
	rep := v.Evaluate(plan(10, "serper", "brave"), aggregate.Stats{}, nil, nil, []string{"serper", "brave"})
	assert.False(t, rep.Passed)
	assert.Contains(t, rep.Issues, "every planned provider failed")
}

func TestEvaluateMissingPassagesIsIssueNotFailure(t *testing.T) {
	v := New()
	results := []aggregate.MergedResult{mergedWithScore(0.9), mergedWithScore(0.9)}

	rep := v.Evaluate(plan(2, "serper"), aggregate.Stats{Received: 2, Returned: 2}, results, nil, nil)
	assert.True(t, rep.Passed)
	assert.NotEmpty(t, rep.Issues)
	assert.NotEmpty(t, rep.Recommendations)
}
