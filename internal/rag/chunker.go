package rag

import (
	"strings"
	"unicode/utf8"
)

// ContentChunk is one embeddable slice of a source document.
type ContentChunk struct {
	Text       string `json:"text"`
	SourceURL  string `json:"source_url"`
	ChunkIndex int    `json:"chunk_index"`
}

// ChunkText splits a document into chunks of at most maxSize characters.
// Splitting prefers paragraph boundaries, then sentence boundaries, and only
// hard-cuts when a single sentence exceeds the limit. Empty chunks are
// dropped.
func ChunkText(text, sourceURL string, maxSize int) []ContentChunk {
	if maxSize <= 0 {
		maxSize = 4000
	}
	var chunks []ContentChunk
	for _, piece := range splitRecursive(text, maxSize) {
		piece = strings.TrimSpace(piece)
		if piece == "" {
			continue
		}
		chunks = append(chunks, ContentChunk{
			Text:       piece,
			SourceURL:  sourceURL,
			ChunkIndex: len(chunks),
		})
	}
	return chunks
}

func splitRecursive(text string, maxSize int) []string {
	text = strings.TrimSpace(text)
	if len(text) <= maxSize {
		return []string{text}
	}

	if parts := splitAndPack(text, "\n\n", maxSize); parts != nil {
		return parts
	}
	if parts := splitAndPack(text, ". ", maxSize); parts != nil {
		return parts
	}

	// Single oversized run with no usable boundary: hard cut, backed off to
	// a rune start so no chunk carries a torn multi-byte sequence.
	var out []string
	for len(text) > maxSize {
		cut := maxSize
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		if cut == 0 {
			cut = maxSize
		}
		out = append(out, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		out = append(out, text)
	}
	return out
}

// splitAndPack splits on sep and greedily repacks pieces up to maxSize.
// Returns nil when the separator does not reduce anything, so the caller can
// fall through to a finer split.
func splitAndPack(text, sep string, maxSize int) []string {
	pieces := strings.Split(text, sep)
	if len(pieces) < 2 {
		return nil
	}

	// Re-attach the separator so sentence ends survive repacking.
	for i := 0; i < len(pieces)-1; i++ {
		pieces[i] += sep
	}

	var out []string
	var current strings.Builder
	for _, piece := range pieces {
		if len(piece) > maxSize {
			if current.Len() > 0 {
				out = append(out, current.String())
				current.Reset()
			}
			out = append(out, splitRecursive(piece, maxSize)...)
			continue
		}
		if current.Len()+len(piece) > maxSize && current.Len() > 0 {
			out = append(out, current.String())
			current.Reset()
		}
		current.WriteString(piece)
	}
	if current.Len() > 0 {
		out = append(out, current.String())
	}
	return out
}
