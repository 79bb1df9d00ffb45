package storage

import (
	"strings"
	"testing"
)

func TestHashContent(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected string
	}{
		{
			name:     "empty content",
			content:  "",
			expected: "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		},
		{
			name:     "simple content",
			content:  "hello world",
			expected: "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9",
		},
		{
			name:     "same content same hash",
			content:  "duplicate content",
			expected: HashContent("duplicate content"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := HashContent(tt.content)
			if result != tt.expected {
				t.Errorf("HashContent() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestPrepareDerivesDedupKey(t *testing.T) {
	store := NewPostgresVectorStore(nil, 3)

	c1 := Chunk{Text: "OWASP Juice Shop is an insecure app", SourceKey: "juice-shop", ContentType: ContentTypeProject, Embedding: []float32{1, 0, 0}}
	c2 := Chunk{Text: "OWASP Juice Shop is an insecure app", SourceKey: "juice-shop", ContentType: ContentTypeProject, Embedding: []float32{0, 1, 0}}
	c3 := Chunk{Text: "OWASP ZAP is a scanner", SourceKey: "zap", ContentType: ContentTypeProject, Embedding: []float32{0, 0, 1}}

	for _, c := range []*Chunk{&c1, &c2, &c3} {
		if err := store.prepare(c); err != nil {
			t.Fatalf("prepare() error = %v", err)
		}
	}

	// Same (source_key, text) collides on the unique constraint.
	if c1.SourceKey != c2.SourceKey || c1.ContentHash != c2.ContentHash {
		t.Errorf("Chunks with same source and text should share a dedup key")
	}

	if c1.ContentHash == c3.ContentHash {
		t.Errorf("Chunks with different text should have different hashes")
	}

	if c1.ID == "" || c1.ID == c2.ID {
		t.Errorf("Each chunk should get its own id, got %q and %q", c1.ID, c2.ID)
	}

	if c1.AdditionalContext == nil {
		t.Errorf("Additional context should default to an empty map")
	}
}

func TestPrepareRejectsInvalidChunks(t *testing.T) {
	store := NewPostgresVectorStore(nil, 3)

	testCases := []struct {
		name  string
		chunk Chunk
	}{
		{name: "blank text", chunk: Chunk{Text: "  ", SourceKey: "k", ContentType: ContentTypeMessage, Embedding: []float32{1, 2, 3}}},
		{name: "missing source", chunk: Chunk{Text: "t", ContentType: ContentTypeMessage, Embedding: []float32{1, 2, 3}}},
		{name: "wrong dimensions", chunk: Chunk{Text: "t", SourceKey: "k", ContentType: ContentTypeMessage, Embedding: []float32{1, 2}}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if err := store.prepare(&tc.chunk); err == nil {
				t.Errorf("Expected error for %s", tc.name)
			}
		})
	}
}

func TestSearchQuery(t *testing.T) {
	unfiltered := searchQuery(false)
	if strings.Contains(unfiltered, "$3") {
		t.Errorf("Unfiltered query should not reference content types")
	}

	filtered := searchQuery(true)
	if !strings.Contains(filtered, "content_type = ANY($3)") {
		t.Errorf("Filtered query should restrict content types")
	}

	for _, q := range []string{unfiltered, filtered} {
		if !strings.Contains(q, "ORDER BY embedding <=> $1, id") {
			t.Errorf("Query should order by distance then id")
		}
	}
}

func TestContentHashConsistency(t *testing.T) {
	content := "This is a test message for consistency"

	hash1 := HashContent(content)
	hash2 := HashContent(content)
	hash3 := HashContent(content)

	if hash1 != hash2 || hash2 != hash3 {
		t.Errorf("Hash should be consistent: %v, %v, %v", hash1, hash2, hash3)
	}

	// Hash should be exactly 64 characters (SHA256 hex)
	if len(hash1) != 64 {
		t.Errorf("Hash length should be 64 characters, got %d", len(hash1))
	}
}

func TestAdjustDatabaseURLForEnvironment(t *testing.T) {
	t.Setenv("RAILWAY_ENVIRONMENT", "")

	local := "postgres://localhost/nest?sslmode=require"
	if got := adjustDatabaseURLForEnvironment(local); got != local {
		t.Errorf("Local URL should be unchanged, got %v", got)
	}

	got := adjustDatabaseURLForEnvironment("postgres://u:p@db.railway.app:5432/nest")
	if !strings.Contains(got, "sslmode=disable") {
		t.Errorf("Railway URL should disable SSL, got %v", got)
	}
}
