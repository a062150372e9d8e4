package embedding

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	ollama "github.com/ollama/ollama/api"
	"github.com/scourhq/scour/config"
)

// Ollama embeds text with a locally served model. Models trained with
// asymmetric retrieval prefixes get the mode spelled out in the input.
type Ollama struct {
	client  *ollama.Client
	model   string
	timeout time.Duration
}

func NewOllama(cfg config.EmbeddingConfig) (*Ollama, error) {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	var client *ollama.Client
	if cfg.BaseURL != "" {
		base, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("embedding: bad ollama base url: %w", err)
		}
		client = ollama.NewClient(base, &http.Client{Timeout: timeout})
	} else {
		var err error
		client, err = ollama.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("embedding: could not create ollama client: %w", err)
		}
	}
	return &Ollama{client: client, model: cfg.Model, timeout: timeout}, nil
}

func (o *Ollama) Embed(ctx context.Context, texts []string, mode Mode) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	input := make([]string, len(texts))
	prefix := retrievalPrefix(mode)
	for i, t := range texts {
		input[i] = prefix + t
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := o.client.Embed(ctx, &ollama.EmbedRequest{Model: o.model, Input: input})
	if err != nil {
		return nil, fmt.Errorf("ollama embed failed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama returned %d vectors for %d inputs", len(resp.Embeddings), len(texts))
	}
	return resp.Embeddings, nil
}

// retrievalPrefix matches the convention used by nomic-style embedding models.
func retrievalPrefix(mode Mode) string {
	switch mode {
	case ModeQuery:
		return "search_query: "
	case ModePassage:
		return "search_document: "
	default:
		return ""
	}
}
