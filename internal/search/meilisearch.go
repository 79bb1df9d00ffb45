package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/meilisearch/meilisearch-go"

	"nestbot/internal/metrics"
)

// indexSearcher is the part of meilisearch.IndexManager we use.
type indexSearcher interface {
	SearchWithContext(ctx context.Context, query string, request *meilisearch.SearchRequest) (*meilisearch.SearchResponse, error)
}

// browseSort orders empty-query results. Indexes are configured with these
// sortable attributes by the indexing job.
var browseSort = map[Index][]string{
	IndexProject:   {"idx_level_raw:desc", "idx_stars_count:desc", "idx_updated_at:desc"},
	IndexChapter:   {"idx_updated_at:desc"},
	IndexCommittee: {"idx_updated_at:desc"},
	IndexIssue:     {"idx_created_at:desc"},
	IndexEvent:     {"idx_start_date:asc"},
	IndexPost:      {"idx_published_at:desc"},
	IndexSponsor:   {"idx_name:asc"},
	IndexUser:      {"idx_contributions_count:desc"},
}

// document is the shape of an indexed entity.
type document struct {
	Key          string   `json:"idx_key"`
	Name         string   `json:"idx_name"`
	URL          string   `json:"idx_url"`
	Summary      string   `json:"idx_summary"`
	Leaders      []string `json:"idx_leaders"`
	Tags         []string `json:"idx_tags"`
	Topics       []string `json:"idx_topics"`
	Stars        int      `json:"idx_stars_count"`
	Forks        int      `json:"idx_forks_count"`
	Issues       int      `json:"idx_open_issues_count"`
	Contributors int      `json:"idx_contributors_count"`
	Region       string   `json:"idx_region"`
	ProjectName  string   `json:"idx_project_name"`
	ProjectURL   string   `json:"idx_project_url"`
	CreatedAt    float64  `json:"idx_created_at"`
	UpdatedAt    float64  `json:"idx_updated_at"`
}

// MeilisearchSearcher serves entity queries from Meilisearch indexes named
// "<prefix>_<entity>s".
type MeilisearchSearcher struct {
	prefix string
	index  func(uid string) indexSearcher
}

func NewMeilisearchSearcher(host, apiKey, prefix string) *MeilisearchSearcher {
	client := meilisearch.New(host, meilisearch.WithAPIKey(apiKey))
	return &MeilisearchSearcher{
		prefix: prefix,
		index: func(uid string) indexSearcher {
			return client.Index(uid)
		},
	}
}

func (m *MeilisearchSearcher) indexUID(index Index) string {
	return fmt.Sprintf("%s_%ss", m.prefix, index)
}

func (m *MeilisearchSearcher) Search(ctx context.Context, index Index, req PageRequest) (*PaginatedResult, error) {
	if !index.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownIndex, index)
	}

	req = normalize(req)

	// Pages past the engine's window are empty by definition.
	if req.Page*req.Limit > HardCap {
		return &PaginatedResult{Hits: []Hit{}}, nil
	}

	request := &meilisearch.SearchRequest{
		Query:  req.Query,
		Offset: int64((req.Page - 1) * req.Limit),
		Limit:  int64(req.Limit),
	}
	if filter := BuildFilter(req.Filters); filter != "" {
		request.Filter = filter
	}
	if req.Query == "" {
		request.Sort = browseSort[index]
	}

	uid := m.indexUID(index)
	resp, err := m.index(uid).SearchWithContext(ctx, req.Query, request)
	metrics.SearchRequests.WithLabelValues(string(index), metrics.Status(err)).Inc()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		slog.Error("Search backend failed", "index", uid, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	hits, err := decodeHits(index, resp.Hits)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	total := int(resp.EstimatedTotalHits)
	if len(hits) > req.Limit {
		hits = hits[:req.Limit]
	}

	return &PaginatedResult{
		Hits:       hits,
		TotalHits:  total,
		TotalPages: TotalPages(total, req.Limit),
	}, nil
}

// TotalPages counts the pages reachable within HardCap.
func TotalPages(totalHits, limit int) int {
	if totalHits <= 0 || limit <= 0 {
		return 0
	}
	if totalHits > HardCap {
		totalHits = HardCap
	}
	return (totalHits + limit - 1) / limit
}

func normalize(req PageRequest) PageRequest {
	req.Query = strings.TrimSpace(req.Query)
	if req.Page < 1 {
		req.Page = 1
	}
	if req.Limit < 1 {
		req.Limit = 10
	}
	if req.Limit > 100 {
		req.Limit = 100
	}
	return req
}

// BuildFilter renders equality facets as a Meilisearch filter expression.
// Values are quoted and escaped; attribute names that are not plain
// identifiers are skipped.
func BuildFilter(filters map[string]string) string {
	if len(filters) == 0 {
		return ""
	}

	keys := make([]string, 0, len(filters))
	for k := range filters {
		if isIdentifier(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	clauses := make([]string, 0, len(keys))
	for _, k := range keys {
		v := filters[k]
		if v == "true" || v == "false" {
			clauses = append(clauses, fmt.Sprintf("%s = %s", k, v))
			continue
		}
		escaped := strings.ReplaceAll(v, `\`, `\\`)
		escaped = strings.ReplaceAll(escaped, `"`, `\"`)
		clauses = append(clauses, fmt.Sprintf(`%s = "%s"`, k, escaped))
	}

	return strings.Join(clauses, " AND ")
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

func decodeHits(index Index, raw meilisearch.Hits) ([]Hit, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal hits: %w", err)
	}

	var docs []document
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode hits: %w", err)
	}

	hits := make([]Hit, 0, len(docs))
	for _, d := range docs {
		hits = append(hits, Hit{
			EntityType: index,
			Key:        d.Key,
			Name:       d.Name,
			URL:        d.URL,
			Summary:    d.Summary,
			Metadata: Metadata{
				Leaders: d.Leaders,
				Tags:    d.Tags,
				Topics:  d.Topics,
				Counts: Counts{
					Stars:        d.Stars,
					Forks:        d.Forks,
					Issues:       d.Issues,
					Contributors: d.Contributors,
				},
				Region:      d.Region,
				ProjectName: d.ProjectName,
				ProjectURL:  d.ProjectURL,
				CreatedAt:   unixTime(d.CreatedAt),
				UpdatedAt:   unixTime(d.UpdatedAt),
			},
		})
	}

	return hits, nil
}

func unixTime(ts float64) time.Time {
	if ts <= 0 {
		return time.Time{}
	}
	return time.Unix(int64(ts), 0).UTC()
}
