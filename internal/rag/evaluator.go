package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"nestbot/internal/llm"
	"nestbot/internal/prompts"
	"nestbot/internal/storage"
)

const evaluatorErrorFeedback = "Evaluator error or invalid response."

type Evaluation struct {
	Complete            bool   `json:"complete"`
	RequiresMoreContext bool   `json:"requires_more_context"`
	Feedback            string `json:"feedback,omitempty"`
}

// terminalEvaluation ends the loop with the current answer.
func terminalEvaluation() Evaluation {
	return Evaluation{Complete: true, RequiresMoreContext: false, Feedback: evaluatorErrorFeedback}
}

type Evaluator struct {
	completer llm.Completer
	prompts   prompts.Provider
}

func NewEvaluator(completer llm.Completer, provider prompts.Provider) *Evaluator {
	return &Evaluator{completer: completer, prompts: provider}
}

// Evaluate judges whether answer fully addresses query. Any failure counts
// as complete so the loop stops.
func (e *Evaluator) Evaluate(ctx context.Context, query, answer string, chunks []storage.ScoredChunk) Evaluation {
	systemPrompt := e.prompts.Get(ctx, prompts.KeyEvaluator)
	if systemPrompt == "" {
		slog.Warn("Evaluator prompt missing, accepting answer")
		return terminalEvaluation()
	}

	reply, err := e.completer.Complete(ctx, llm.ChatRequest{
		Operation:   "evaluate",
		System:      systemPrompt,
		User:        fmt.Sprintf("Query: %s\n\nAnswer: %s\n\nContext:\n%s", query, answer, FormatContext(chunks)),
		Temperature: 0,
		MaxTokens:   500,
		JSON:        true,
	})
	if err != nil {
		slog.Warn("Evaluation failed", "error", err)
		return terminalEvaluation()
	}

	return ParseEvaluation(reply)
}

// ParseEvaluation decodes the evaluator's JSON. A reply without a boolean
// "complete" field is invalid. needs_more_context is accepted as an alias.
func ParseEvaluation(reply string) Evaluation {
	var raw struct {
		Complete            *bool  `json:"complete"`
		RequiresMoreContext bool   `json:"requires_more_context"`
		NeedsMoreContext    bool   `json:"needs_more_context"`
		Feedback            string `json:"feedback"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(reply)), &raw); err != nil || raw.Complete == nil {
		return terminalEvaluation()
	}

	return Evaluation{
		Complete:            *raw.Complete,
		RequiresMoreContext: raw.RequiresMoreContext || raw.NeedsMoreContext,
		Feedback:            raw.Feedback,
	}
}
