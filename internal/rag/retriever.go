package rag

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"nestbot/internal/llm"
	"nestbot/internal/storage"
)

const (
	DefaultRetrieverLimit      = 8
	DefaultSimilarityThreshold = 0.1
)

type RetrieveOptions struct {
	Limit               int
	SimilarityThreshold float64
	ContentTypes        []string
}

func (o RetrieveOptions) withDefaults() RetrieveOptions {
	if o.Limit <= 0 {
		o.Limit = DefaultRetrieverLimit
	}
	return o
}

// Retriever finds the chunks nearest to a query.
type Retriever struct {
	embedder llm.Embedder
	store    storage.VectorStore
}

func NewRetriever(embedder llm.Embedder, store storage.VectorStore) *Retriever {
	return &Retriever{embedder: embedder, store: store}
}

// Retrieve returns up to opts.Limit chunks at or above the similarity
// threshold, most similar first with ties broken by id.
func (r *Retriever) Retrieve(ctx context.Context, query string, opts RetrieveOptions) ([]storage.ScoredChunk, error) {
	opts = opts.withDefaults()

	embedding, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	found, err := r.store.Search(ctx, embedding, opts.Limit, opts.ContentTypes)
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}

	allowed := make(map[string]bool, len(opts.ContentTypes))
	for _, ct := range opts.ContentTypes {
		allowed[ct] = true
	}

	chunks := make([]storage.ScoredChunk, 0, len(found))
	for _, c := range found {
		if c.Similarity < opts.SimilarityThreshold {
			continue
		}
		if len(allowed) > 0 && !allowed[c.ContentType] {
			continue
		}
		chunks = append(chunks, c)
	}

	SortBySimilarity(chunks)
	if len(chunks) > opts.Limit {
		chunks = chunks[:opts.Limit]
	}

	return chunks, nil
}

// SortBySimilarity orders chunks by descending similarity, then ascending id.
func SortBySimilarity(chunks []storage.ScoredChunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		if chunks[i].Similarity != chunks[j].Similarity {
			return chunks[i].Similarity > chunks[j].Similarity
		}
		return chunks[i].ID < chunks[j].ID
	})
}

// FilterChunksByMetadata narrows chunks to those matching the query's
// extracted filters and entity types, then keeps the limit most similar.
// Filters that match nothing are ignored rather than emptying the context.
// The result is always a subset of chunks.
func FilterChunksByMetadata(chunks []storage.ScoredChunk, metadata Metadata, limit int) []storage.ScoredChunk {
	selected := make([]storage.ScoredChunk, len(chunks))
	copy(selected, chunks)

	if len(metadata.EntityTypes) > 0 {
		selected = keepMatching(selected, func(c storage.ScoredChunk) bool {
			for _, t := range metadata.EntityTypes {
				if strings.EqualFold(t, c.ContentType) {
					return true
				}
			}
			return false
		})
	}

	if len(metadata.Filters) > 0 {
		selected = keepMatching(selected, func(c storage.ScoredChunk) bool {
			for key, want := range metadata.Filters {
				if !chunkHas(c, key, want) {
					return false
				}
			}
			return true
		})
	}

	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].Similarity > selected[j].Similarity
	})

	if limit >= 0 && len(selected) > limit {
		selected = selected[:limit]
	}

	return selected
}

// keepMatching returns the chunks satisfying pred, or all of them when none do.
func keepMatching(chunks []storage.ScoredChunk, pred func(storage.ScoredChunk) bool) []storage.ScoredChunk {
	var kept []storage.ScoredChunk
	for _, c := range chunks {
		if pred(c) {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		return chunks
	}
	return kept
}

func chunkHas(c storage.ScoredChunk, key, want string) bool {
	want = strings.ToLower(strings.TrimSpace(want))
	if want == "" {
		return true
	}

	switch strings.ToLower(key) {
	case "content_type":
		return strings.ToLower(c.ContentType) == want
	case "source_key":
		return strings.Contains(strings.ToLower(c.SourceKey), want)
	}

	value, ok := c.AdditionalContext[key]
	if !ok {
		return false
	}
	return strings.Contains(strings.ToLower(fmt.Sprint(value)), want)
}

// MergeChunks adds more to current, dropping duplicate ids (the more similar
// copy wins) and keeping the limit most similar.
func MergeChunks(current, more []storage.ScoredChunk, limit int) []storage.ScoredChunk {
	byID := make(map[string]storage.ScoredChunk, len(current)+len(more))
	for _, c := range append(append([]storage.ScoredChunk{}, current...), more...) {
		if existing, ok := byID[c.ID]; !ok || c.Similarity > existing.Similarity {
			byID[c.ID] = c
		}
	}

	merged := make([]storage.ScoredChunk, 0, len(byID))
	for _, c := range byID {
		merged = append(merged, c)
	}
	SortBySimilarity(merged)

	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}
