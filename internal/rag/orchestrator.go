package rag

import (
	"context"
	"log/slog"
	"strings"

	"nestbot/internal/logging"
	"nestbot/internal/metrics"
	"nestbot/internal/storage"
)

const (
	DefaultMaxIterations = 3

	refineFeedback = "Expand and refine answer using newly retrieved context."
)

type chunkRetriever interface {
	Retrieve(ctx context.Context, query string, opts RetrieveOptions) ([]storage.ScoredChunk, error)
}

type answerGenerator interface {
	GenerateAnswer(ctx context.Context, in GenerateInput) string
}

type answerEvaluator interface {
	Evaluate(ctx context.Context, query, answer string, chunks []storage.ScoredChunk) Evaluation
}

type metadataExtractor interface {
	Extract(ctx context.Context, query string) Metadata
}

type step int

const (
	stepRetrieve step = iota
	stepGenerate
	stepEvaluate
	stepRoute
	stepRefine
	stepDone
)

// Turn is one generated answer.
type Turn struct {
	Query  string
	Answer string
}

type Result struct {
	Answer     string
	Iterations int
	History    []Turn
}

type OrchestratorConfig struct {
	MaxIterations int
	Retrieve      RetrieveOptions
}

// Orchestrator runs the retrieve, generate, evaluate loop for one question.
type Orchestrator struct {
	retriever chunkRetriever
	generator answerGenerator
	evaluator answerEvaluator
	extractor metadataExtractor
	config    OrchestratorConfig
}

func NewOrchestrator(retriever chunkRetriever, generator answerGenerator, evaluator answerEvaluator, extractor metadataExtractor, config OrchestratorConfig) *Orchestrator {
	if config.MaxIterations <= 0 {
		config.MaxIterations = DefaultMaxIterations
	}
	config.Retrieve = config.Retrieve.withDefaults()

	return &Orchestrator{
		retriever: retriever,
		generator: generator,
		evaluator: evaluator,
		extractor: extractor,
		config:    config,
	}
}

// qaState is the machine's state between steps.
type qaState struct {
	query      string
	chunks     []storage.ScoredChunk
	answer     string
	feedback   string
	evaluation Evaluation
	iteration  int
	history    []Turn
}

// Run answers query. It returns an error only when ctx ends, along with the
// best answer produced so far.
func (o *Orchestrator) Run(ctx context.Context, query string) (Result, error) {
	logger := logging.LoggerFromContext(ctx)
	s := &qaState{query: query}

	for next := stepRetrieve; next != stepDone; {
		if err := ctx.Err(); err != nil {
			return s.result(), err
		}

		switch next {
		case stepRetrieve:
			s.chunks = o.initialChunks(ctx, query)
			logger.Debug("Retrieved context", "chunks", len(s.chunks))
			next = stepGenerate

		case stepGenerate:
			previous := ""
			if s.iteration > 0 {
				previous = s.answer
			}
			s.answer = o.generator.GenerateAnswer(ctx, GenerateInput{
				Query:          query,
				Chunks:         s.chunks,
				PreviousAnswer: previous,
				Feedback:       s.feedback,
			})
			s.history = append(s.history, Turn{Query: query, Answer: s.answer})
			s.iteration++
			next = stepEvaluate

		case stepEvaluate:
			s.evaluation = o.evaluator.Evaluate(ctx, query, s.answer, s.chunks)
			next = stepRoute

		case stepRoute:
			switch {
			case s.evaluation.Complete:
				next = stepDone
			case s.iteration >= o.config.MaxIterations:
				logger.Info("QA reached max iterations", "iterations", s.iteration)
				next = stepDone
			default:
				next = stepRefine
			}

		case stepRefine:
			if s.evaluation.RequiresMoreContext {
				more := o.retrieve(ctx, strings.TrimSpace(query+" "+s.evaluation.Feedback))
				s.chunks = MergeChunks(s.chunks, more, o.config.Retrieve.Limit)
				s.feedback = refineFeedback
			} else {
				s.feedback = s.evaluation.Feedback
			}
			next = stepGenerate
		}
	}

	metrics.QAIterations.Observe(float64(s.iteration))
	return s.result(), nil
}

func (s *qaState) result() Result {
	return Result{Answer: s.answer, Iterations: s.iteration, History: s.history}
}

func (o *Orchestrator) initialChunks(ctx context.Context, query string) []storage.ScoredChunk {
	var md Metadata
	if o.extractor != nil {
		md = o.extractor.Extract(ctx, query)
	}

	chunks := o.retrieve(ctx, query)
	return FilterChunksByMetadata(chunks, md, o.config.Retrieve.Limit)
}

// retrieve treats vector store and embedding failures as an empty context.
func (o *Orchestrator) retrieve(ctx context.Context, query string) []storage.ScoredChunk {
	chunks, err := o.retriever.Retrieve(ctx, query, o.config.Retrieve)
	if err != nil {
		slog.Warn("Retrieval failed, continuing without context", "error", err)
		return nil
	}
	return chunks
}
