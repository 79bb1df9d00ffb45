// Package llm wraps the model providers used for classification, answering,
// embeddings and image transcription.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"nestbot/internal/config"
)

var (
	ErrEmbeddingFailed  = errors.New("embedding failed")
	ErrCompletionFailed = errors.New("completion failed")
)

// ChatRequest is a single-turn chat completion. Operation only labels metrics.
type ChatRequest struct {
	Operation   string
	System      string
	User        string
	Temperature float32
	MaxTokens   int
	// JSON asks the model for a single JSON object.
	JSON bool
}

type Completer interface {
	Complete(ctx context.Context, req ChatRequest) (string, error)
}

// Embedder turns text into fixed-size vectors.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// Transcriber extracts the text shown in an image.
type Transcriber interface {
	TranscribeImage(ctx context.Context, mimeType string, data []byte) (string, error)
}

// NewCompleter picks the chat provider named by cfg.LLMProvider.
func NewCompleter(cfg *config.Config, openAI *OpenAIClient) (Completer, error) {
	switch strings.ToLower(cfg.LLMProvider) {
	case "", "openai":
		return openAI, nil
	case "anthropic":
		client, err := NewAnthropicClient(cfg.AnthropicAPIKey, cfg.AnthropicChatModel)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.LLMProvider)
	}
}
