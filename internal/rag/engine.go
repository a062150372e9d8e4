package rag

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/scourhq/scour/config"
	"github.com/scourhq/scour/internal/embedding"
	"github.com/scourhq/scour/internal/events"
	"github.com/scourhq/scour/internal/fetch"
	"github.com/scourhq/scour/internal/helpers"
)

// RetrievedPassage is one passage selected for the final context, with the
// best similarity any query vector achieved against it.
type RetrievedPassage struct {
	Text       string  `json:"text"`
	SourceURL  string  `json:"source_url"`
	Similarity float64 `json:"similarity"`
}

// Engine selects the passages most similar to a query from a set of fetched
// documents. Sources are chunked and embedded independently; one bad source
// never sinks the retrieval.
type Engine struct {
	embedder embedding.Embedder
	cfg      config.RAGConfig
	logger   *log.Logger
}

func NewEngine(embedder embedding.Embedder, cfg config.RAGConfig) *Engine {
	return &Engine{
		embedder: embedder,
		cfg:      cfg.Normalize(),
		logger:   log.New(log.Writer(), "[RAG] ", log.LstdFlags),
	}
}

type sourceChunks struct {
	chunks  []ContentChunk
	vectors [][]float32
}

// Retrieve embeds the query (plus optional sub-questions) and every document,
// ranks chunks by cosine similarity, and returns the deduplicated top
// passages. An empty return with a nil error means nothing cleared the
// similarity threshold.
func (e *Engine) Retrieve(ctx context.Context, query string, subQuestions []string, docs []fetch.Document, rec *events.Recorder, runID, stepID string) ([]RetrievedPassage, error) {
	queryVecs, err := e.embedQueries(ctx, query, subQuestions, rec, runID, stepID)
	if err != nil {
		return nil, err
	}

	sources := e.embedSources(ctx, docs, rec, runID, stepID)
	if len(sources) == 0 {
		return nil, nil
	}

	var totalChunks int
	for _, s := range sources {
		totalChunks += len(s.chunks)
	}
	rec.Emit(runID, stepID, events.TypeEmbeddingsGenerated, "source embeddings ready", map[string]any{
		"sources": len(sources),
		"chunks":  totalChunks,
	})

	return e.rank(queryVecs, sources), nil
}

// embedQueries builds one vector per query text. If the batch fails it falls
// back to embedding the main query alone; sub-question coverage degrades but
// retrieval proceeds.
func (e *Engine) embedQueries(ctx context.Context, query string, subQuestions []string, rec *events.Recorder, runID, stepID string) ([][]float32, error) {
	texts := []string{query}
	for _, q := range subQuestions {
		if len(texts) > e.cfg.MaxSubQuestions {
			break
		}
		if q != "" && q != query {
			texts = append(texts, q)
		}
	}

	vecs, err := e.embedder.Embed(ctx, texts, embedding.ModeQuery)
	if err == nil {
		return vecs, nil
	}
	if len(texts) == 1 {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	e.logger.Printf("query batch embedding failed, retrying with main query only: %v", err)
	rec.Emit(runID, stepID, events.TypeEmbeddingSkipped, "sub-question embedding failed, using main query only", map[string]any{
		"error": err.Error(),
	})
	vecs, err = e.embedder.Embed(ctx, []string{query}, embedding.ModeQuery)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return vecs, nil
}

// embedSources chunks and embeds each document concurrently. A source whose
// embedding fails is reported and dropped.
func (e *Engine) embedSources(ctx context.Context, docs []fetch.Document, rec *events.Recorder, runID, stepID string) []sourceChunks {
	results := make([]*sourceChunks, len(docs))
	var wg sync.WaitGroup
	for i, doc := range docs {
		chunks := ChunkText(doc.Text, doc.URL, e.cfg.ChunkSize)
		if len(chunks) == 0 {
			continue
		}
		wg.Add(1)
		go func(i int, doc fetch.Document, chunks []ContentChunk) {
			defer wg.Done()
			texts := make([]string, len(chunks))
			for j, c := range chunks {
				texts[j] = c.Text
			}
			vecs, err := e.embedder.Embed(ctx, texts, embedding.ModePassage)
			if err != nil {
				e.logger.Printf("skipping source %s: %v", doc.URL, err)
				rec.Emit(runID, stepID, events.TypeEmbeddingSkipped, "source embedding failed", map[string]any{
					"source": doc.URL,
					"error":  err.Error(),
				})
				return
			}
			results[i] = &sourceChunks{chunks: chunks, vectors: vecs}
		}(i, doc, chunks)
	}
	wg.Wait()

	out := make([]sourceChunks, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

type scoredChunk struct {
	chunk      ContentChunk
	similarity float64
}

// rank takes the top chunks per query vector above the threshold, merges
// them, and keeps the best-scoring distinct passages.
func (e *Engine) rank(queryVecs [][]float32, sources []sourceChunks) []RetrievedPassage {
	best := make(map[string]scoredChunk)
	for _, qv := range queryVecs {
		var perQuery []scoredChunk
		for _, src := range sources {
			for i, chunk := range src.chunks {
				if i >= len(src.vectors) {
					break
				}
				sim := cosine(qv, src.vectors[i])
				if sim >= e.cfg.SimilarityThreshold {
					perQuery = append(perQuery, scoredChunk{chunk: chunk, similarity: sim})
				}
			}
		}
		sort.Slice(perQuery, func(i, j int) bool { return perQuery[i].similarity > perQuery[j].similarity })
		if len(perQuery) > e.cfg.TopKPerQuery {
			perQuery = perQuery[:e.cfg.TopKPerQuery]
		}
		for _, sc := range perQuery {
			key := helpers.NormalizeText(sc.chunk.Text)
			if prev, ok := best[key]; !ok || sc.similarity > prev.similarity {
				best[key] = sc
			}
		}
	}

	merged := make([]scoredChunk, 0, len(best))
	for _, sc := range best {
		merged = append(merged, sc)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].similarity != merged[j].similarity {
			return merged[i].similarity > merged[j].similarity
		}
		if merged[i].chunk.SourceURL != merged[j].chunk.SourceURL {
			return merged[i].chunk.SourceURL < merged[j].chunk.SourceURL
		}
		return merged[i].chunk.ChunkIndex < merged[j].chunk.ChunkIndex
	})
	if len(merged) > e.cfg.MaxPassages {
		merged = merged[:e.cfg.MaxPassages]
	}

	passages := make([]RetrievedPassage, len(merged))
	for i, sc := range merged {
		passages[i] = RetrievedPassage{
			Text:       sc.chunk.Text,
			SourceURL:  sc.chunk.SourceURL,
			Similarity: sc.similarity,
		}
	}
	return passages
}
