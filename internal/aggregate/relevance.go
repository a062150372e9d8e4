package aggregate

import (
	"github.com/blevesearch/bleve"
)

// relevanceScorer fills in a relevance score for results whose provider did
// not supply one. Natively scored results pass through untouched; the rest
// are ranked with BM25 against the plan query over an in-memory index of
// title plus snippet, keyed by normalized URL.
type relevanceScorer struct {
	scores map[string]float64
}

type relevanceDoc struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

func newRelevanceScorer(query string, results []MergedResult) *relevanceScorer {
	rs := &relevanceScorer{scores: make(map[string]float64)}

	var unscored []MergedResult
	for _, r := range results {
		if r.Score <= 0 {
			unscored = append(unscored, r)
		}
	}
	if len(unscored) == 0 || query == "" {
		return rs
	}

	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return rs
	}
	defer index.Close()
	for _, r := range unscored {
		_ = index.Index(r.NormalizedURL, relevanceDoc{Title: r.Title, Snippet: r.Snippet})
	}

	q := bleve.NewQueryStringQuery(query)
	req := bleve.NewSearchRequestOptions(q, len(unscored), 0, false)
	res, err := index.Search(req)
	if err != nil || res.MaxScore <= 0 {
		return rs
	}
	for _, hit := range res.Hits {
		rs.scores[hit.ID] = hit.Score / res.MaxScore
	}
	return rs
}

// score returns the provider-native score when present, the BM25 fallback
// when one was computed, and zero otherwise.
func (rs *relevanceScorer) score(m *MergedResult) float64 {
	if m.Score > 0 {
		return clamp01(m.Score)
	}
	return rs.scores[m.NormalizedURL]
}
