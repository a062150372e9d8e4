// Package fetch retrieves full document content for search results before
// chunking and embedding. A failed fetch never fails a run; the source is
// skipped and retrieval continues with whatever content is available.
package fetch

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/scourhq/scour/config"
)

// Document is the extracted main content of one source.
type Document struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

// Fetcher retrieves and extracts readable text from a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Document, error)
}

// Closer is implemented by fetchers holding long-lived resources.
type Closer interface {
	Close() error
}

const defaultUserAgent = "scour/1.0 (+https://github.com/scourhq/scour)"

// New builds the configured fetch backend.
func New(cfg config.FetchConfig) (Fetcher, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	maxChars := cfg.MaxChars
	if maxChars <= 0 {
		maxChars = 12000
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	switch cfg.Backend {
	case "", "http":
		return NewHTTP(timeout, maxChars, ua), nil
	case "chromedp":
		return NewBrowser(timeout, maxChars, ua)
	default:
		return nil, fmt.Errorf("unknown fetch backend %q", cfg.Backend)
	}
}

func truncate(text string, maxChars int) string {
	text = strings.TrimSpace(text)
	if len(text) <= maxChars {
		return text
	}
	cut := maxChars
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
