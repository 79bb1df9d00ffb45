package storage

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"nestbot/internal/metrics"
)

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	// Handle Railway-specific SSL configuration
	finalURL := adjustDatabaseURLForEnvironment(databaseURL)

	db, err := sql.Open("postgres", finalURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}

func adjustDatabaseURLForEnvironment(databaseURL string) string {
	// Railway PostgreSQL doesn't support SSL
	if os.Getenv("RAILWAY_ENVIRONMENT") != "" || strings.Contains(databaseURL, "railway.app") {
		parsedURL, err := url.Parse(databaseURL)
		if err != nil {
			return databaseURL
		}

		values := parsedURL.Query()
		values.Set("sslmode", "disable")
		parsedURL.RawQuery = values.Encode()
		return parsedURL.String()
	}

	return databaseURL
}

// PostgresVectorStore keeps chunks in a pgvector table.
type PostgresVectorStore struct {
	db         *sql.DB
	dimensions int
}

func NewPostgresVectorStore(db *sql.DB, dimensions int) *PostgresVectorStore {
	return &PostgresVectorStore{db: db, dimensions: dimensions}
}

// InitSchema creates the chunk table. The vector width is fixed by the
// embedder in use; switching models requires a new table.
func (s *PostgresVectorStore) InitSchema(ctx context.Context) error {
	slog.Info("Initializing chunk schema...", "dimensions", s.dimensions)

	if _, err := s.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector;"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createTableSQL := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS ai_chunks (
			id UUID PRIMARY KEY,
			text TEXT NOT NULL,
			content_hash VARCHAR(64) NOT NULL,
			embedding vector(%d) NOT NULL,
			content_type VARCHAR(32) NOT NULL,
			source_key VARCHAR(255) NOT NULL,
			additional_context JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			UNIQUE (source_key, content_hash)
		);
	`, s.dimensions)
	if _, err := s.db.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("failed to create ai_chunks table: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_ai_chunks_content_type ON ai_chunks(content_type);"); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	// May fail on an empty table; similarity search still works without it.
	vectorIndexSQL := "CREATE INDEX IF NOT EXISTS idx_ai_chunks_embedding ON ai_chunks USING ivfflat (embedding vector_cosine_ops);"
	if _, err := s.db.ExecContext(ctx, vectorIndexSQL); err != nil {
		slog.Warn("Could not create vector index", "error", err)
	}

	slog.Info("Chunk schema initialized")
	return nil
}

// searchQuery orders by distance and then id so ties come back stably.
func searchQuery(filterTypes bool) string {
	where := ""
	if filterTypes {
		where = "WHERE content_type = ANY($3)"
	}
	return fmt.Sprintf(`
		SELECT id, text, content_hash, content_type, source_key, additional_context, created_at,
			   1 - (embedding <=> $1) AS similarity
		FROM ai_chunks
		%s
		ORDER BY embedding <=> $1, id
		LIMIT $2
	`, where)
}

func (s *PostgresVectorStore) Search(ctx context.Context, embedding []float32, limit int, contentTypes []string) ([]ScoredChunk, error) {
	if len(embedding) != s.dimensions {
		return nil, fmt.Errorf("query embedding has %d dimensions, store expects %d", len(embedding), s.dimensions)
	}

	args := []any{pgvector.NewVector(embedding), limit}
	if len(contentTypes) > 0 {
		args = append(args, pq.Array(contentTypes))
	}

	rows, err := s.db.QueryContext(ctx, searchQuery(len(contentTypes) > 0), args...)
	metrics.DatabaseOperations.WithLabelValues("chunk_search", metrics.Status(err)).Inc()
	if err != nil {
		return nil, fmt.Errorf("failed to search similar chunks: %w", err)
	}
	defer rows.Close()

	var chunks []ScoredChunk
	for rows.Next() {
		var (
			c       ScoredChunk
			rawMeta []byte
		)
		err := rows.Scan(
			&c.ID,
			&c.Text,
			&c.ContentHash,
			&c.ContentType,
			&c.SourceKey,
			&rawMeta,
			&c.CreatedAt,
			&c.Similarity,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}

		if len(rawMeta) > 0 {
			if err := json.Unmarshal(rawMeta, &c.AdditionalContext); err != nil {
				slog.Warn("Ignoring malformed chunk context", "chunk_id", c.ID, "error", err)
			}
		}

		chunks = append(chunks, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chunks: %w", err)
	}

	return chunks, nil
}

// Upsert inserts chunks in one transaction. A chunk whose (source_key, text)
// is already stored is skipped.
func (s *PostgresVectorStore) Upsert(ctx context.Context, chunks []Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	for i := range chunks {
		if err := s.prepare(&chunks[i]); err != nil {
			return 0, err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO ai_chunks (
			id, text, content_hash, embedding, content_type, source_key, additional_context
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (source_key, content_hash) DO NOTHING
	`

	inserted := 0
	for _, c := range chunks {
		meta, err := json.Marshal(c.AdditionalContext)
		if err != nil {
			return 0, fmt.Errorf("failed to encode chunk context: %w", err)
		}

		res, err := tx.ExecContext(ctx, query,
			c.ID,
			c.Text,
			c.ContentHash,
			pgvector.NewVector(c.Embedding),
			c.ContentType,
			c.SourceKey,
			meta,
		)
		if err != nil {
			metrics.DatabaseOperations.WithLabelValues("chunk_upsert", "error").Inc()
			return 0, fmt.Errorf("failed to store chunk: %w", err)
		}

		n, _ := res.RowsAffected()
		status := "duplicate"
		if n > 0 {
			inserted++
			status = "inserted"
		}
		metrics.ChunksStored.WithLabelValues(c.ContentType, status).Inc()
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit chunks: %w", err)
	}

	metrics.DatabaseOperations.WithLabelValues("chunk_upsert", "success").Inc()
	return inserted, nil
}

// prepare fills derived fields and checks the chunk fits the table.
func (s *PostgresVectorStore) prepare(c *Chunk) error {
	if strings.TrimSpace(c.Text) == "" {
		return fmt.Errorf("chunk for %q has no text", c.SourceKey)
	}
	if c.SourceKey == "" || c.ContentType == "" {
		return fmt.Errorf("chunk is missing source key or content type")
	}
	if len(c.Embedding) != s.dimensions {
		return fmt.Errorf("chunk for %q has %d dimensions, store expects %d", c.SourceKey, len(c.Embedding), s.dimensions)
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	c.ContentHash = HashContent(c.Text)
	if c.AdditionalContext == nil {
		c.AdditionalContext = map[string]any{}
	}
	return nil
}

func (s *PostgresVectorStore) Close() error {
	return s.db.Close()
}

func HashContent(content string) string {
	hash := sha256.Sum256([]byte(content))
	return fmt.Sprintf("%x", hash)
}
