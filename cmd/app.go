package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/time/rate"

	"nestbot/internal/chat"
	"nestbot/internal/config"
	"nestbot/internal/jobs"
	"nestbot/internal/llm"
	"nestbot/internal/prompts"
	"nestbot/internal/qa"
	"nestbot/internal/rag"
	"nestbot/internal/search"
	"nestbot/internal/storage"
)

const (
	// Slack allows about one message per second per channel.
	channelPostRate  = rate.Limit(1)
	channelPostBurst = 3
)

// app holds the wired dependencies shared by every command.
type app struct {
	db       *sql.DB
	slack    *chat.SlackClient
	chat     chat.Client
	search   search.Searcher
	entities storage.EntityReader
	vectors  *storage.PostgresVectorStore
	embedder llm.Embedder
	qa       *qa.Service
	images   *qa.ImageExtractor

	closers []io.Closer
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{}

	db, err := storage.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a.db = db
	a.closers = append(a.closers, db)

	a.vectors = storage.NewPostgresVectorStore(db, cfg.EmbeddingDimensions)
	if err := a.vectors.InitSchema(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize vector schema: %w", err)
	}
	a.entities = storage.NewPostgresEntityReader(db)
	a.search = search.NewMeilisearchSearcher(cfg.MeilisearchHost, cfg.MeilisearchAPIKey, cfg.MeilisearchIndexPrefix)

	openAI, err := llm.NewOpenAIClient(llm.OpenAIConfig{
		APIKey:         cfg.OpenAIAPIKey,
		ChatModel:      cfg.OpenAIChatModel,
		EmbeddingModel: cfg.EmbeddingModel,
		VisionModel:    cfg.VisionModel,
		Dimensions:     cfg.EmbeddingDimensions,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	completer, err := llm.NewCompleter(cfg, openAI)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.embedder, err = llm.NewCachedEmbedder(openAI, cfg.EmbeddingCacheSize)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.slack = chat.NewSlackClient(cfg.SlackBotToken, cfg.SlackAppToken)
	opts := []chat.RetryOption{chat.WithPacing(channelPostRate, channelPostBurst)}
	if cfg.RedisURL != "" {
		clock, err := chat.NewRedisClockFromURL(cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, clock)
		opts = append(opts, chat.WithClock(clock))
		slog.Info("Using shared Redis backoff clock")
	}
	a.chat = chat.NewRetryingClient(a.slack, opts...)

	provider := prompts.NewPostgresProvider(db, cfg.PromptCacheTTL)
	orchestrator := rag.NewOrchestrator(
		rag.NewRetriever(a.embedder, a.vectors),
		rag.NewGenerator(completer, provider),
		rag.NewEvaluator(completer, provider),
		rag.NewMetadataExtractor(completer, provider),
		rag.OrchestratorConfig{
			MaxIterations: cfg.QAMaxIterations,
			Retrieve: rag.RetrieveOptions{
				Limit:               cfg.RetrieverLimit,
				SimilarityThreshold: cfg.SimilarityThreshold,
			},
		},
	)
	a.qa = qa.NewService(rag.NewDetector(completer, provider, nil), orchestrator)
	a.images = qa.NewImageExtractor(a.chat, openAI)

	return a, nil
}

// messageSync builds the channel history job. Channels are re-read from
// holder on every run so a reload takes effect.
func (a *app) messageSync(holder *config.Holder) *jobs.MessageSync {
	return jobs.NewMessageSync(a.chat, a.embedder, a.vectors, func() []string {
		return holder.Get().SyncChannelIDs
	}, holder.Get().MessageSyncInterval)
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			slog.Warn("Error closing resource", "error", err)
		}
	}
}
