package embedding

import (
	"context"
	"fmt"

	"github.com/scourhq/scour/config"
)

// Mode distinguishes query vectors from passage vectors for backends whose
// models embed the two asymmetrically.
type Mode string

const (
	ModeQuery   Mode = "query"
	ModePassage Mode = "passage"
)

// Embedder converts batches of text into vectors. Implementations return one
// vector per input, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string, mode Mode) ([][]float32, error)
}

// New builds the configured embedding backend.
func New(cfg config.EmbeddingConfig) (Embedder, error) {
	switch cfg.Backend {
	case "", "openai":
		return NewOpenAI(cfg)
	case "ollama":
		return NewOllama(cfg)
	default:
		return nil, fmt.Errorf("unknown embedding backend %q", cfg.Backend)
	}
}
