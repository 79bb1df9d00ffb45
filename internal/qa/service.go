// Package qa answers free-text questions from Slack users.
package qa

import (
	"context"
	"strings"

	"nestbot/internal/logging"
	"nestbot/internal/metrics"
	"nestbot/internal/rag"
)

// RefusalMessage is the reply to text that is not an OWASP question.
const RefusalMessage = "Please ask questions related to OWASP."

type questionDetector interface {
	IsDomainQuestion(ctx context.Context, text string) bool
}

type orchestrator interface {
	Run(ctx context.Context, query string) (rag.Result, error)
}

type Service struct {
	detector     questionDetector
	orchestrator orchestrator
}

func NewService(detector questionDetector, orchestrator orchestrator) *Service {
	return &Service{detector: detector, orchestrator: orchestrator}
}

// Answer returns the reply for text, or RefusalMessage when text is not an
// OWASP question.
func (s *Service) Answer(ctx context.Context, text string) (string, error) {
	answer, ok, err := s.AnswerIfQuestion(ctx, text)
	if err != nil {
		return "", err
	}
	if !ok {
		return RefusalMessage, nil
	}
	return answer, nil
}

// AnswerIfQuestion answers text only when the detector accepts it. Rejected
// text never reaches retrieval.
func (s *Service) AnswerIfQuestion(ctx context.Context, text string) (string, bool, error) {
	text = strings.TrimSpace(text)
	if !s.detector.IsDomainQuestion(ctx, text) {
		metrics.QAOutcomes.WithLabelValues("rejected").Inc()
		return "", false, nil
	}

	result, err := s.orchestrator.Run(ctx, text)
	if err != nil {
		metrics.QAOutcomes.WithLabelValues("error").Inc()
		return "", true, err
	}

	logging.LoggerFromContext(ctx).Info("Answered question", "iterations", result.Iterations)
	metrics.QAOutcomes.WithLabelValues("answered").Inc()
	return result.Answer, true, nil
}
