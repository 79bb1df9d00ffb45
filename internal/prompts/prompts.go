// Package prompts looks up LLM prompt templates by key.
package prompts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Keys used by the QA pipeline.
const (
	KeyEvaluator         = "evaluator-system-prompt"
	KeyRAG               = "rag-system-prompt"
	KeyMetadataExtractor = "metadata-extractor-prompt"
	KeyQuestionDetector  = "slack-question-detector-system-prompt"
)

// Provider returns the prompt text for key, or "" when there is none.
// Callers treat "" as a signal to take their degraded path.
type Provider interface {
	Get(ctx context.Context, key string) string
}

// Map is a fixed set of prompts.
type Map map[string]string

func (m Map) Get(_ context.Context, key string) string {
	return m[key]
}

// PostgresProvider reads prompts from the ai_prompts table and caches them,
// misses included, for ttl.
type PostgresProvider struct {
	db    *sql.DB
	cache *expirable.LRU[string, string]
}

func NewPostgresProvider(db *sql.DB, ttl time.Duration) *PostgresProvider {
	return &PostgresProvider{
		db:    db,
		cache: expirable.NewLRU[string, string](64, nil, ttl),
	}
}

func (p *PostgresProvider) Get(ctx context.Context, key string) string {
	if text, ok := p.cache.Get(key); ok {
		return text
	}

	text, err := p.load(ctx, key)
	if err != nil {
		// Not cached, so the next call retries.
		slog.Error("Failed to load prompt", "key", key, "error", err)
		return ""
	}

	p.cache.Add(key, text)
	return text
}

func (p *PostgresProvider) load(ctx context.Context, key string) (string, error) {
	var text string
	err := p.db.QueryRowContext(ctx, `SELECT text FROM ai_prompts WHERE key = $1`, key).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Warn("Prompt not found", "key", key)
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query prompt: %w", err)
	}
	return text, nil
}
