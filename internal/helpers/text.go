package helpers

import (
	"sort"
	"strings"
	"unicode"
)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"by": {}, "for": {}, "from": {}, "has": {}, "have": {}, "in": {}, "is": {},
	"it": {}, "its": {}, "of": {}, "on": {}, "or": {}, "that": {}, "the": {},
	"this": {}, "to": {}, "was": {}, "were": {}, "what": {}, "when": {},
	"where": {}, "which": {}, "who": {}, "will": {}, "with": {}, "how": {},
	"why": {}, "about": {}, "into": {}, "more": {}, "new": {}, "their": {},
}

// SalientTerms tokenizes the given texts and returns the most frequent
// non-stopword terms, longest-count first, capped at max. Used by the
// sequential search strategy to enhance follow-up queries with context from
// earlier providers.
func SalientTerms(texts []string, max int) []string {
	if max <= 0 {
		return nil
	}
	counts := make(map[string]int)
	for _, text := range texts {
		for _, tok := range tokenize(text) {
			if len(tok) < 4 {
				continue
			}
			if _, skip := stopwords[tok]; skip {
				continue
			}
			counts[tok]++
		}
	}
	terms := make([]string, 0, len(counts))
	for term := range counts {
		terms = append(terms, term)
	}
	sort.Slice(terms, func(i, j int) bool {
		if counts[terms[i]] == counts[terms[j]] {
			return terms[i] < terms[j]
		}
		return counts[terms[i]] > counts[terms[j]]
	})
	if len(terms) > max {
		terms = terms[:max]
	}
	return terms
}

// NormalizeText case-folds and collapses whitespace; the result is the
// deduplication key for retrieved passages.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(s))), " ")
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
