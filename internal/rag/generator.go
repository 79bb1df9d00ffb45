package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"nestbot/internal/llm"
	"nestbot/internal/prompts"
	"nestbot/internal/storage"
)

// FallbackAnswer is returned when the model cannot be reached.
const FallbackAnswer = "I'm sorry, I'm currently unable to answer your question. Please try again later."

const (
	contextDelimiter = "\n\n---\n\n"
	noContext        = "No context available."

	// Used when the rag-system-prompt is missing.
	defaultRAGPrompt = "You are the OWASP Nest assistant. Answer the question using only the provided context. " +
		"If the context does not contain the answer, say that you don't know. Format the answer for Slack."
)

// GenerateInput is one generator call. PreviousAnswer and Feedback are set on
// refinement passes.
type GenerateInput struct {
	Query          string
	Chunks         []storage.ScoredChunk
	PreviousAnswer string
	Feedback       string
}

type Generator struct {
	completer llm.Completer
	prompts   prompts.Provider
}

func NewGenerator(completer llm.Completer, provider prompts.Provider) *Generator {
	return &Generator{completer: completer, prompts: provider}
}

// FormatContext renders chunks with their provenance headers.
func FormatContext(chunks []storage.ScoredChunk) string {
	if len(chunks) == 0 {
		return noContext
	}

	parts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		parts = append(parts, fmt.Sprintf("[%s:%s]\n%s", c.ContentType, c.SourceKey, strings.TrimSpace(c.Text)))
	}
	return strings.Join(parts, contextDelimiter)
}

func (g *Generator) GenerateAnswer(ctx context.Context, in GenerateInput) string {
	systemPrompt := g.prompts.Get(ctx, prompts.KeyRAG)
	if systemPrompt == "" {
		systemPrompt = defaultRAGPrompt
	}

	var user strings.Builder
	fmt.Fprintf(&user, "Context:\n%s\n\nQuestion: %s", FormatContext(in.Chunks), in.Query)
	if in.PreviousAnswer != "" {
		fmt.Fprintf(&user, "\n\nPrevious answer:\n%s", in.PreviousAnswer)
	}
	if in.Feedback != "" {
		fmt.Fprintf(&user, "\n\nFeedback: %s", in.Feedback)
	}

	answer, err := g.completer.Complete(ctx, llm.ChatRequest{
		Operation:   "generate",
		System:      systemPrompt,
		User:        user.String(),
		Temperature: 0.4,
		MaxTokens:   2000,
	})
	if err != nil {
		slog.Error("Answer generation failed", "error", err)
		return FallbackAnswer
	}

	answer = strings.TrimSpace(answer)
	if answer == "" {
		return FallbackAnswer
	}
	return answer
}
