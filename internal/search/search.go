package search

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RawResult is the normalized shape every provider adapter maps its payload
// into. Internal logic never branches on provider identity; the adapter is the
// only place that knows a provider's wire format.
type RawResult struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	URL         string     `json:"url"`
	Snippet     string     `json:"snippet"`
	RawContent  string     `json:"raw_content,omitempty"`
	Score       float64    `json:"score"` // provider-native relevance in [0,1], 0 when absent
	ProviderID  string     `json:"provider_id"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	Author      string     `json:"author,omitempty"`
}

// Options carries per-call search parameters.
type Options struct {
	MaxResults int
	Timeout    time.Duration
}

// Provider is the uniform adapter contract around one external search engine.
// Search must return an empty slice (not an error) for an ordinary
// zero-results response; failures are reported as *ProviderError.
type Provider interface {
	ID() string
	Configured() bool
	Search(ctx context.Context, query string, opts Options) ([]RawResult, error)
}

// ErrorKind classifies provider failures for retry decisions.
type ErrorKind string

const (
	ErrAuth       ErrorKind = "auth"
	ErrTimeout    ErrorKind = "timeout"
	ErrNetwork    ErrorKind = "network"
	ErrBadRequest ErrorKind = "bad_request"
	ErrBadPayload ErrorKind = "bad_payload"
	ErrServer     ErrorKind = "server"
)

// ProviderError is the typed error every adapter raises for auth, transport
// and payload failures, distinguished from zero results.
type ProviderError struct {
	Provider string
	Kind     ErrorKind
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether the failure is clearly transient. Auth errors and
// malformed requests must not be retried.
func (e *ProviderError) Retryable() bool {
	switch e.Kind {
	case ErrTimeout, ErrNetwork, ErrServer:
		return true
	default:
		return false
	}
}

// NewError wraps err as a ProviderError for the given adapter.
func NewError(provider string, kind ErrorKind, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: kind, Err: err}
}

// KindOf extracts the error kind from err, or "" when err is not a provider
// error.
func KindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// KindFromStatus maps an HTTP status code to an error kind. 2xx codes map to
// "", meaning no error.
func KindFromStatus(status int) ErrorKind {
	switch {
	case status >= 200 && status < 300:
		return ""
	case status == 401 || status == 403:
		return ErrAuth
	case status == 408 || status == 504:
		return ErrTimeout
	case status >= 400 && status < 500:
		return ErrBadRequest
	default:
		return ErrServer
	}
}

// Registry holds the configured provider adapters keyed by ID, preserving
// registration order for deterministic fallback selection.
type Registry struct {
	order     []string
	providers map[string]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.ID()] = p
		r.order = append(r.order, p.ID())
	}
	return r
}

// Get returns the provider with the given ID.
func (r *Registry) Get(id string) (Provider, bool) {
	p, ok := r.providers[id]
	return p, ok
}

// Configured returns the IDs of all adapters that report themselves ready to
// serve, in registration order.
func (r *Registry) Configured() []string {
	var out []string
	for _, id := range r.order {
		if r.providers[id].Configured() {
			out = append(out, id)
		}
	}
	return out
}
