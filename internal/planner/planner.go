package planner

import (
	"log"
	"strings"
	"time"

	"github.com/scourhq/scour/config"
	"github.com/scourhq/scour/internal/search"
)

// Intent classifies what kind of answer a query is after.
type Intent string

const (
	IntentResearch    Intent = "research"
	IntentQuickLookup Intent = "quick_lookup"
	IntentRealTime    Intent = "real_time"
	IntentAcademic    Intent = "academic"
	IntentCode        Intent = "code"
)

// Strategy determines how the coordinator drives the selected providers.
type Strategy string

const (
	StrategyParallel   Strategy = "parallel"
	StrategySequential Strategy = "sequential"
)

// SearchPlan is the decided strategy for one query. Immutable once built.
type SearchPlan struct {
	Query               string        `json:"query"`
	Intent              Intent        `json:"intent"`
	Providers           []string      `json:"providers"`
	Strategy            Strategy      `json:"strategy"`
	QualityThreshold    float64       `json:"quality_threshold"`
	Timeout             time.Duration `json:"timeout"`
	ExpectedResultCount int           `json:"expected_result_count"`
}

// IntentClassifier decides the intent for a raw query. The default is
// deterministic keyword matching; callers may plug in something smarter.
type IntentClassifier interface {
	Classify(query string) Intent
}

// KeywordClassifier is the default rule-based classifier.
type KeywordClassifier struct{}

var intentKeywords = []struct {
	intent Intent
	words  []string
}{
	{IntentCode, []string{"code", "tutorial", "example", "implement", "library", "api", "function", "snippet"}},
	{IntentAcademic, []string{"research", "study", "paper", "academic", "journal", "peer-reviewed", "thesis"}},
	{IntentRealTime, []string{"today", "news", "latest", "breaking", "now", "current", "live"}},
	{IntentQuickLookup, []string{"what is", "who is", "define", "meaning of", "when was", "how many"}},
}

func (KeywordClassifier) Classify(query string) Intent {
	q := strings.ToLower(query)
	for _, rule := range intentKeywords {
		for _, w := range rule.words {
			if strings.Contains(q, w) {
				return rule.intent
			}
		}
	}
	return IntentResearch
}

// Planner builds SearchPlans from raw queries. It never fails: missing
// configuration degrades to a conservative default plan.
type Planner struct {
	cfg        config.PlannerConfig
	registry   *search.Registry
	classifier IntentClassifier
	logger     *log.Logger
}

// Option configures planner behaviour.
type Option func(*Planner)

// WithClassifier replaces the default keyword classifier.
func WithClassifier(c IntentClassifier) Option {
	return func(p *Planner) { p.classifier = c }
}

func New(cfg config.PlannerConfig, registry *search.Registry, opts ...Option) *Planner {
	p := &Planner{
		cfg:        cfg,
		registry:   registry,
		classifier: KeywordClassifier{},
		logger:     log.New(log.Writer(), "[PLANNER] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

const (
	fallbackThreshold = 0.6
	fallbackTimeout   = 10 * time.Second
	fallbackCount     = 10
)

// Plan builds the search strategy for a query.
func (p *Planner) Plan(query string) SearchPlan {
	intent := p.classifier.Classify(query)
	row, ok := p.cfg.Intents[string(intent)]
	if !ok {
		p.logger.Printf("no intent table row for %q, using defaults", intent)
		row = config.IntentConfig{QualityThreshold: fallbackThreshold, Timeout: fallbackTimeout, ExpectedResultCount: fallbackCount}
	}

	providers := p.selectProviders(row.Providers)
	plan := SearchPlan{
		Query:               query,
		Intent:              intent,
		Providers:           providers,
		Strategy:            chooseStrategy(intent, providers),
		QualityThreshold:    row.QualityThreshold,
		Timeout:             row.Timeout,
		ExpectedResultCount: row.ExpectedResultCount,
	}
	if plan.QualityThreshold == 0 {
		plan.QualityThreshold = fallbackThreshold
	}
	if plan.Timeout == 0 {
		plan.Timeout = fallbackTimeout
	}
	if plan.ExpectedResultCount == 0 {
		plan.ExpectedResultCount = fallbackCount
	}
	return plan
}

// selectProviders filters the intent's preferred adapters down to those that
// are actually configured, preserving preference order. When none survive it
// falls back to whatever the registry can offer rather than failing the plan.
func (p *Planner) selectProviders(preferred []string) []string {
	available := p.registry.Configured()
	availSet := make(map[string]struct{}, len(available))
	for _, id := range available {
		availSet[id] = struct{}{}
	}

	var out []string
	for _, id := range preferred {
		if _, ok := availSet[id]; ok {
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		if len(available) == 0 {
			return nil
		}
		// Minimal default set: the first configured adapter.
		out = available[:1]
	}
	return out
}

func chooseStrategy(intent Intent, providers []string) Strategy {
	switch {
	case len(providers) <= 1:
		return StrategySequential
	case intent == IntentAcademic:
		// Later providers refine on earlier results.
		return StrategySequential
	default:
		return StrategyParallel
	}
}
