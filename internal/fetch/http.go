package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
)

// HTTP fetches pages with a plain HTTP client and extracts the main article
// text with readability. Suits static pages; script-heavy sites need the
// browser backend.
type HTTP struct {
	client    *http.Client
	maxChars  int
	userAgent string
}

func NewHTTP(timeout time.Duration, maxChars int, userAgent string) *HTTP {
	return &HTTP{
		client:    &http.Client{Timeout: timeout},
		maxChars:  maxChars,
		userAgent: userAgent,
	}
}

func (h *HTTP) Fetch(ctx context.Context, link string) (Document, error) {
	if strings.TrimSpace(link) == "" {
		return Document{}, fmt.Errorf("fetch: empty url")
	}
	parsed, err := url.Parse(link)
	if err != nil {
		return Document{}, fmt.Errorf("fetch: bad url %q: %w", link, err)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", link, nil)
	if err != nil {
		return Document{}, err
	}
	req.Header.Set("User-Agent", h.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := h.client.Do(req)
	if err != nil {
		return Document{}, fmt.Errorf("fetch %s: %w", link, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Document{}, fmt.Errorf("fetch %s: status %d", link, resp.StatusCode)
	}

	article, err := readability.FromReader(resp.Body, parsed)
	if err != nil {
		return Document{}, fmt.Errorf("extract %s: %w", link, err)
	}
	return Document{
		URL:   link,
		Title: strings.TrimSpace(article.Title),
		Text:  truncate(article.TextContent, h.maxChars),
	}, nil
}
