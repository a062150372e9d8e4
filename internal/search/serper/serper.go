package serper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/scourhq/scour/internal/search"
)

const endpoint = "https://google.serper.dev/search"

// Client adapts the serper.dev Google search API.
type Client struct {
	APIKey     string
	HTTPClient *http.Client
}

func New(apiKey string) *Client {
	return &Client{APIKey: apiKey, HTTPClient: &http.Client{}}
}

func (c *Client) ID() string       { return "serper" }
func (c *Client) Configured() bool { return c.APIKey != "" }

func (c *Client) Search(ctx context.Context, query string, opts search.Options) ([]search.RawResult, error) {
	if !c.Configured() {
		return nil, search.NewError(c.ID(), search.ErrAuth, fmt.Errorf("api key not configured"))
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	payload := map[string]any{"q": query}
	if opts.MaxResults > 0 {
		payload["num"] = opts.MaxResults
	}
	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, search.NewError(c.ID(), search.ErrBadRequest, err)
	}
	req.Header.Set("X-API-KEY", c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, search.NewError(c.ID(), search.ErrTimeout, err)
		}
		return nil, search.NewError(c.ID(), search.ErrNetwork, err)
	}
	defer resp.Body.Close()
	if kind := search.KindFromStatus(resp.StatusCode); kind != "" {
		return nil, search.NewError(c.ID(), kind, fmt.Errorf("status %d", resp.StatusCode))
	}

	var raw struct {
		Organic []struct {
			Title    string `json:"title"`
			Link     string `json:"link"`
			Snippet  string `json:"snippet"`
			Date     string `json:"date"`
			Position int    `json:"position"`
		} `json:"organic"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, search.NewError(c.ID(), search.ErrBadPayload, err)
	}

	out := make([]search.RawResult, 0, len(raw.Organic))
	for i, item := range raw.Organic {
		if opts.MaxResults > 0 && i >= opts.MaxResults {
			break
		}
		r := search.RawResult{
			ID:         uuid.NewString(),
			Title:      item.Title,
			URL:        item.Link,
			Snippet:    item.Snippet,
			ProviderID: c.ID(),
			Score:      positionScore(item.Position, len(raw.Organic)),
		}
		if ts, err := time.Parse("Jan 2, 2006", item.Date); err == nil {
			r.PublishedAt = &ts
		}
		out = append(out, r)
	}
	return out, nil
}

// positionScore converts a 1-based SERP position into a [0,1] score. Serper
// does not expose a native relevance score.
func positionScore(position, total int) float64 {
	if position <= 0 || total <= 0 {
		return 0
	}
	return 1 - float64(position-1)/float64(total)
}
