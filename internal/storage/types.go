package storage

import (
	"context"
	"time"
)

// Content types a chunk can be derived from.
const (
	ContentTypeProject    = "project"
	ContentTypeChapter    = "chapter"
	ContentTypeCommittee  = "committee"
	ContentTypeEvent      = "event"
	ContentTypeRepository = "repository"
	ContentTypeMessage    = "message"
	ContentTypePost       = "post"
)

// Chunk is one embedded text fragment. ContentHash is derived from Text and,
// together with SourceKey, identifies the chunk for deduplication.
type Chunk struct {
	ID                string         `json:"id"`
	Text              string         `json:"text"`
	ContentHash       string         `json:"content_hash"`
	Embedding         []float32      `json:"embedding,omitempty"`
	ContentType       string         `json:"content_type"`
	SourceKey         string         `json:"source_key"`
	AdditionalContext map[string]any `json:"additional_context,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}

// ScoredChunk is a chunk with its cosine similarity to a query.
type ScoredChunk struct {
	Chunk
	Similarity float64 `json:"similarity"`
}

type VectorStore interface {
	// Search returns the limit nearest chunks, optionally restricted to
	// contentTypes, closest first.
	Search(ctx context.Context, embedding []float32, limit int, contentTypes []string) ([]ScoredChunk, error)
	// Upsert stores chunks, skipping ones already present. It returns how
	// many were new.
	Upsert(ctx context.Context, chunks []Chunk) (int, error)
	Close() error
}

type Event struct {
	Key       string
	Name      string
	URL       string
	StartDate time.Time
	EndDate   time.Time
	Location  string
	Summary   string
}

type Post struct {
	Title       string
	URL         string
	AuthorName  string
	PublishedAt time.Time
}

// EntityReader is the read-only view of the entity database.
type EntityReader interface {
	CountActiveProjects(ctx context.Context) (int, error)
	CountActiveChapters(ctx context.Context) (int, error)
	CountOpenIssues(ctx context.Context) (int, error)
	LatestPosts(ctx context.Context, limit int) ([]Post, error)
	UpcomingEvents(ctx context.Context, today time.Time) ([]Event, error)
}
