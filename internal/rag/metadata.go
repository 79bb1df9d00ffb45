package rag

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"nestbot/internal/llm"
	"nestbot/internal/prompts"
)

// Metadata is what the extractor could read out of a question.
type Metadata struct {
	RequestedFields []string          `json:"requested_fields"`
	EntityTypes     []string          `json:"entity_types"`
	Filters         map[string]string `json:"filters"`
	Keywords        []string          `json:"keywords"`
}

// MetadataExtractor asks the model to pull structured filters from a query.
type MetadataExtractor struct {
	completer llm.Completer
	prompts   prompts.Provider
}

func NewMetadataExtractor(completer llm.Completer, provider prompts.Provider) *MetadataExtractor {
	return &MetadataExtractor{completer: completer, prompts: provider}
}

// Extract is best-effort: any failure yields empty metadata.
func (m *MetadataExtractor) Extract(ctx context.Context, query string) Metadata {
	systemPrompt := m.prompts.Get(ctx, prompts.KeyMetadataExtractor)
	if systemPrompt == "" {
		return Metadata{}
	}

	reply, err := m.completer.Complete(ctx, llm.ChatRequest{
		Operation:   "metadata",
		System:      systemPrompt,
		User:        "Query: " + query,
		Temperature: 0,
		MaxTokens:   500,
		JSON:        true,
	})
	if err != nil {
		slog.Warn("Metadata extraction failed", "error", err)
		return Metadata{}
	}

	var md Metadata
	if err := json.Unmarshal([]byte(extractJSONObject(reply)), &md); err != nil {
		slog.Warn("Metadata extractor returned invalid JSON", "error", err)
		return Metadata{}
	}
	return md
}

// extractJSONObject strips code fences and surrounding prose from a model
// reply, returning the outermost {...} span.
func extractJSONObject(reply string) string {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start == -1 || end < start {
		return reply
	}
	return reply[start : end+1]
}
