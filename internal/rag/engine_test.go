package rag

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/scourhq/scour/config"
	"github.com/scourhq/scour/internal/embedding"
	"github.com/scourhq/scour/internal/events"
	"github.com/scourhq/scour/internal/fetch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubEmbedder maps texts onto a tiny fixed vector space: anything
// mentioning "quantum" points one way, everything else the other. Texts
// containing "poison" fail, and failBatchedQueries rejects multi-text query
// batches to exercise the fallback path.
type stubEmbedder struct {
	failBatchedQueries bool
	queryCalls         int
}

func (s *stubEmbedder) Embed(ctx context.Context, texts []string, mode embedding.Mode) ([][]float32, error) {
	if mode == embedding.ModeQuery {
		s.queryCalls++
		if s.failBatchedQueries && len(texts) > 1 {
			return nil, errors.New("batch too large")
		}
	}
	vecs := make([][]float32, len(texts))
	for i, t := range texts {
		if strings.Contains(t, "poison") {
			return nil, errors.New("embedding backend rejected input")
		}
		if strings.Contains(strings.ToLower(t), "quantum") {
			vecs[i] = []float32{1, 0.1}
		} else {
			vecs[i] = []float32{0.1, 1}
		}
	}
	return vecs, nil
}

func testEngine(e embedding.Embedder) *Engine {
	return NewEngine(e, config.RAGConfig{
		ChunkSize:           4000,
		SimilarityThreshold: 0.65,
		TopKPerQuery:        8,
		MaxPassages:         10,
		MaxSubQuestions:     3,
	})
}

func docsFor(texts ...string) []fetch.Document {
	docs := make([]fetch.Document, len(texts))
	for i, t := range texts {
		docs[i] = fetch.Document{URL: "https://src.org/" + string(rune('a'+i)), Text: t}
	}
	return docs
}

func TestRetrieveRanksSimilarPassagesFirst(t *testing.T) {
	eng := testEngine(&stubEmbedder{})
	sink := events.NewMemorySink(100)
	rec := events.NewRecorder(sink)

	docs := docsFor(
		"quantum key distribution relies on entangled photons",
		"a recipe for sourdough bread with a long fermentation",
	)
	passages, err := eng.Retrieve(context.Background(), "quantum cryptography", nil, docs, rec, "run1", "retrieve")
	require.NoError(t, err)
	require.Len(t, passages, 1, "only the quantum passage clears the threshold")
	assert.Contains(t, passages[0].Text, "quantum key distribution")
	assert.GreaterOrEqual(t, passages[0].Similarity, 0.65)

	var generated bool
	for _, ev := range sink.ForRun("run1") {
		if ev.Type == events.TypeEmbeddingsGenerated {
			generated = true
		}
	}
	assert.True(t, generated, "expected an embeddings_generated event")
}

func TestRetrieveSkipsFailedSource(t *testing.T) {
	eng := testEngine(&stubEmbedder{})
	sink := events.NewMemorySink(100)
	rec := events.NewRecorder(sink)

	docs := docsFor(
		"quantum error correction surface codes",
		"poisoned text the backend refuses",
	)
	passages, err := eng.Retrieve(context.Background(), "quantum computing", nil, docs, rec, "run1", "retrieve")
	require.NoError(t, err)
	require.Len(t, passages, 1)
	assert.Contains(t, passages[0].Text, "surface codes")

	var skipped bool
	for _, ev := range sink.ForRun("run1") {
		if ev.Type == events.TypeEmbeddingSkipped {
			skipped = true
		}
	}
	assert.True(t, skipped, "expected an embedding_skipped event for the bad source")
}

func TestRetrieveDeduplicatesPassages(t *testing.T) {
	eng := testEngine(&stubEmbedder{})
	rec := events.NewRecorder(events.NewMemorySink(100))

	// The same passage text appears in two sources with different casing.
	docs := docsFor(
		"Quantum supremacy was demonstrated on a sycamore chip",
		"quantum supremacy   was demonstrated on a sycamore chip",
	)
	passages, err := eng.Retrieve(context.Background(), "quantum supremacy", nil, docs, rec, "run1", "retrieve")
	require.NoError(t, err)
	assert.Len(t, passages, 1)
}

func TestRetrieveCapsPassages(t *testing.T) {
	eng := NewEngine(&stubEmbedder{}, config.RAGConfig{
		ChunkSize:           4000,
		SimilarityThreshold: 0.5,
		TopKPerQuery:        8,
		MaxPassages:         2,
		MaxSubQuestions:     3,
	})
	rec := events.NewRecorder(events.NewMemorySink(100))

	docs := docsFor(
		"quantum passage one",
		"quantum passage two",
		"quantum passage three",
		"quantum passage four",
	)
	passages, err := eng.Retrieve(context.Background(), "quantum", nil, docs, rec, "run1", "retrieve")
	require.NoError(t, err)
	assert.Len(t, passages, 2)
}

func TestRetrieveFallsBackToMainQuery(t *testing.T) {
	stub := &stubEmbedder{failBatchedQueries: true}
	eng := testEngine(stub)
	sink := events.NewMemorySink(100)
	rec := events.NewRecorder(sink)

	docs := docsFor("quantum annealing optimization")
	passages, err := eng.Retrieve(context.Background(), "quantum annealing",
		[]string{"how does annealing compare to gate models"}, docs, rec, "run1", "retrieve")
	require.NoError(t, err)
	assert.NotEmpty(t, passages)
	assert.Equal(t, 2, stub.queryCalls, "batch attempt plus single-query retry")

	var degraded bool
	for _, ev := range sink.ForRun("run1") {
		if ev.Type == events.TypeEmbeddingSkipped {
			degraded = true
		}
	}
	assert.True(t, degraded)
}

func TestRetrieveNoSourcesReturnsEmpty(t *testing.T) {
	eng := testEngine(&stubEmbedder{})
	rec := events.NewRecorder(events.NewMemorySink(100))

	passages, err := eng.Retrieve(context.Background(), "quantum", nil, nil, rec, "run1", "retrieve")
	require.NoError(t, err)
	assert.Empty(t, passages)
}
