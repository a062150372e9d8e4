package newsapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/scourhq/scour/internal/search"
)

const defaultEndpoint = "https://newsapi.org/v2/everything"

// Client adapts the NewsAPI "everything" endpoint. It serves the real_time
// intent where fresh coverage matters more than depth.
type Client struct {
	APIKey     string
	Endpoint   string
	HTTPClient *http.Client
}

func New(apiKey string) *Client {
	return &Client{APIKey: apiKey, Endpoint: defaultEndpoint, HTTPClient: &http.Client{}}
}

func (c *Client) ID() string       { return "newsapi" }
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

	endpoint := c.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	params := url.Values{}
	params.Set("q", query)
	params.Set("sortBy", "publishedAt")
	if opts.MaxResults > 0 {
		params.Set("pageSize", fmt.Sprintf("%d", opts.MaxResults))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, search.NewError(c.ID(), search.ErrBadRequest, err)
	}
	req.Header.Set("X-Api-Key", c.APIKey)

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
		Status   string `json:"status"`
		Articles []struct {
			Author      string    `json:"author"`
			Title       string    `json:"title"`
			Description string    `json:"description"`
			URL         string    `json:"url"`
			Content     string    `json:"content"`
			PublishedAt time.Time `json:"publishedAt"`
		} `json:"articles"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, search.NewError(c.ID(), search.ErrBadPayload, err)
	}
	if raw.Status != "ok" {
		return nil, search.NewError(c.ID(), search.ErrBadPayload, fmt.Errorf("unexpected status %q", raw.Status))
	}

	total := len(raw.Articles)
	out := make([]search.RawResult, 0, total)
	for i, item := range raw.Articles {
		if opts.MaxResults > 0 && i >= opts.MaxResults {
			break
		}
		r := search.RawResult{
			ID:         uuid.NewString(),
			Title:      item.Title,
			URL:        item.URL,
			Snippet:    item.Description,
			RawContent: item.Content,
			Author:     item.Author,
			ProviderID: c.ID(),
			Score:      1 - float64(i)/float64(total),
		}
		if !item.PublishedAt.IsZero() {
			ts := item.PublishedAt
			r.PublishedAt = &ts
		}
		out = append(out, r)
	}
	return out, nil
}
