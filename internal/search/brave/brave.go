package brave

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"encoding/json"

	"github.com/google/uuid"
	"github.com/scourhq/scour/internal/search"
)

const endpoint = "https://api.search.brave.com/res/v1/web/search"

// Client adapts the Brave web search API.
type Client struct {
	APIKey     string
	HTTPClient *http.Client
}

func New(apiKey string) *Client {
	return &Client{APIKey: apiKey, HTTPClient: &http.Client{}}
}

func (c *Client) ID() string       { return "brave" }
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

	params := url.Values{}
	params.Set("q", query)
	if opts.MaxResults > 0 {
		params.Set("count", fmt.Sprintf("%d", opts.MaxResults))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, search.NewError(c.ID(), search.ErrBadRequest, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", c.APIKey)

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
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
				Age         string `json:"page_age"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, search.NewError(c.ID(), search.ErrBadPayload, err)
	}

	total := len(raw.Web.Results)
	out := make([]search.RawResult, 0, total)
	for i, item := range raw.Web.Results {
		if opts.MaxResults > 0 && i >= opts.MaxResults {
			break
		}
		r := search.RawResult{
			ID:         uuid.NewString(),
			Title:      item.Title,
			URL:        item.URL,
			Snippet:    item.Description,
			ProviderID: c.ID(),
			Score:      1 - float64(i)/float64(total),
		}
		if ts, err := time.Parse(time.RFC3339, item.Age); err == nil {
			r.PublishedAt = &ts
		}
		out = append(out, r)
	}
	return out, nil
}
