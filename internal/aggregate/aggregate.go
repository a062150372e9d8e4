package aggregate

import (
	"log"
	"sort"
	"strings"
	"time"

	"github.com/scourhq/scour/config"
	"github.com/scourhq/scour/internal/helpers"
	"github.com/scourhq/scour/internal/planner"
	"github.com/scourhq/scour/internal/search"
)

// MergedResult is a RawResult annotated with the three quality axes and the
// weighted overall score. Unique by normalized URL within one pass.
type MergedResult struct {
	search.RawResult
	NormalizedURL    string  `json:"normalized_url"`
	RelevanceScore   float64 `json:"relevance_score"`
	CredibilityScore float64 `json:"credibility_score"`
	FreshnessScore   float64 `json:"freshness_score"`
	OverallScore     float64 `json:"overall_score"`
}

// Stats summarizes one aggregation pass for diagnostics and validation.
type Stats struct {
	Received   int `json:"received"`
	Duplicates int `json:"duplicates"`
	Filtered   int `json:"filtered"`
	Returned   int `json:"returned"`
}

// Aggregator merges, deduplicates, scores and ranks provider results.
type Aggregator struct {
	cfg    config.AggregationConfig
	logger *log.Logger
	now    func() time.Time
}

func New(cfg config.AggregationConfig) *Aggregator {
	return &Aggregator{
		cfg:    cfg.Normalize(),
		logger: log.New(log.Writer(), "[AGG] ", log.LstdFlags),
		now:    time.Now,
	}
}

// Aggregate merges all provider results for a plan into a ranked, bounded
// list. A zero-length return is a valid outcome, not an error: the caller
// surfaces it explicitly as "no qualifying results".
func (a *Aggregator) Aggregate(plan planner.SearchPlan, results []search.RawResult) ([]MergedResult, Stats) {
	stats := Stats{Received: len(results)}

	// Deduplicate by canonical URL; the first-seen result wins.
	seen := make(map[string]struct{}, len(results))
	deduped := make([]MergedResult, 0, len(results))
	for _, r := range results {
		norm, err := helpers.NormalizeURL(r.URL)
		if err != nil {
			a.logger.Printf("dropping result with bad url %q: %v", r.URL, err)
			stats.Filtered++
			continue
		}
		if _, dup := seen[norm]; dup {
			stats.Duplicates++
			continue
		}
		seen[norm] = struct{}{}
		deduped = append(deduped, MergedResult{RawResult: r, NormalizedURL: norm})
	}

	relevance := newRelevanceScorer(plan.Query, deduped)
	priority := providerPriority(plan)
	for i := range deduped {
		m := &deduped[i]
		m.RelevanceScore = relevance.score(m)
		m.CredibilityScore = a.credibility(m.NormalizedURL)
		m.FreshnessScore = a.freshness(m.PublishedAt)
		m.OverallScore = a.cfg.RelevanceWeight*m.RelevanceScore +
			a.cfg.CredibilityWeight*m.CredibilityScore +
			a.cfg.FreshnessWeight*m.FreshnessScore
	}

	kept := deduped[:0]
	for _, m := range deduped {
		if m.OverallScore >= plan.QualityThreshold {
			kept = append(kept, m)
		} else {
			stats.Filtered++
		}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].OverallScore != kept[j].OverallScore {
			return kept[i].OverallScore > kept[j].OverallScore
		}
		return priority[kept[i].ProviderID] < priority[kept[j].ProviderID]
	})

	if plan.ExpectedResultCount > 0 && len(kept) > plan.ExpectedResultCount {
		kept = kept[:plan.ExpectedResultCount]
	}
	stats.Returned = len(kept)
	out := make([]MergedResult, len(kept))
	copy(out, kept)
	return out, stats
}

// credibility boosts trusted top-level domains over the configured baseline.
func (a *Aggregator) credibility(normURL string) float64 {
	domain := helpers.Domain(normURL)
	score := a.cfg.BaseCredibility
	for suffix, boost := range a.cfg.TrustedSuffixes {
		if strings.HasSuffix(domain, suffix) && boost > score {
			score = boost
		}
	}
	return clamp01(score)
}

// freshness decays with publish age: full score inside the fresh window,
// linear decay down to the floor at the stale boundary.
func (a *Aggregator) freshness(publishedAt *time.Time) float64 {
	if publishedAt == nil || publishedAt.IsZero() {
		return a.cfg.UnknownFreshness
	}
	days := a.now().Sub(*publishedAt).Hours() / 24
	fresh := float64(a.cfg.FreshDays)
	stale := float64(a.cfg.StaleDays)
	switch {
	case days < 0:
		return 1
	case days <= fresh:
		return 1
	case days >= stale:
		return a.cfg.FreshnessFloor
	default:
		span := stale - fresh
		return 1 - (days-fresh)/span*(1-a.cfg.FreshnessFloor)
	}
}

func providerPriority(plan planner.SearchPlan) map[string]int {
	priority := make(map[string]int, len(plan.Providers))
	for i, id := range plan.Providers {
		priority[id] = i
	}
	return priority
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
