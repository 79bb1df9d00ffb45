// Package search is the read-only façade over the entity search indexes.
package search

import (
	"context"
	"errors"
	"time"
)

// Index names one searchable entity collection.
type Index string

const (
	IndexProject   Index = "project"
	IndexChapter   Index = "chapter"
	IndexCommittee Index = "committee"
	IndexIssue     Index = "issue"
	IndexUser      Index = "user"
	IndexEvent     Index = "event"
	IndexSponsor   Index = "sponsor"
	IndexPost      Index = "post"
)

// HardCap is the deepest result the engine will page into.
const HardCap = 1000

var ErrUnavailable = errors.New("search is temporarily unavailable")

// ErrUnknownIndex is returned for an index outside the known set.
var ErrUnknownIndex = errors.New("unknown search index")

func (i Index) Valid() bool {
	switch i {
	case IndexProject, IndexChapter, IndexCommittee, IndexIssue, IndexUser, IndexEvent, IndexSponsor, IndexPost:
		return true
	}
	return false
}

type Counts struct {
	Stars        int `json:"stars"`
	Forks        int `json:"forks"`
	Issues       int `json:"issues"`
	Contributors int `json:"contributors"`
}

type Metadata struct {
	Leaders     []string  `json:"leaders,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	Topics      []string  `json:"topics,omitempty"`
	Counts      Counts    `json:"counts"`
	Region      string    `json:"region,omitempty"`
	ProjectName string    `json:"project_name,omitempty"`
	ProjectURL  string    `json:"project_url,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// Hit is one search result.
type Hit struct {
	EntityType Index    `json:"entity_type"`
	Key        string   `json:"key"`
	Name       string   `json:"name"`
	URL        string   `json:"url"`
	Summary    string   `json:"summary"`
	Metadata   Metadata `json:"metadata"`
}

// Valid reports whether the hit has enough to be rendered.
func (h Hit) Valid() bool {
	return h.Name != "" && h.URL != ""
}

type PageRequest struct {
	Query   string
	Page    int
	Limit   int
	Filters map[string]string
}

type PaginatedResult struct {
	Hits       []Hit
	TotalPages int
	TotalHits  int
}

// Searcher runs paginated queries. Implementations are safe for concurrent use.
type Searcher interface {
	Search(ctx context.Context, index Index, req PageRequest) (*PaginatedResult, error)
}
