package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"golang.org/x/sync/errgroup"

	"nestbot/internal/chat"
	"nestbot/internal/llm"
	"nestbot/internal/metrics"
	"nestbot/internal/storage"
)

const (
	historyPageSize  = 200
	maxHistoryPages  = 10
	channelPageSize  = 200
	embedBatchSize   = 50
	maxWordsPerChunk = 1000
	minMessageLength = 10
	syncConcurrency  = 3
)

// SyncStats summarizes one sync pass.
type SyncStats struct {
	Channels int
	Messages int
	Chunks   int
	Stored   int
}

// MessageSync copies Slack channel history into the vector store so the QA
// pipeline can retrieve it.
type MessageSync struct {
	client   chat.Client
	embedder llm.Embedder
	store    storage.VectorStore
	channels func() []string
	interval time.Duration

	done     chan struct{}
	stopOnce sync.Once
}

// NewMessageSync syncs the channels returned by channels, or every public
// channel the bot is in when it returns none.
func NewMessageSync(client chat.Client, embedder llm.Embedder, store storage.VectorStore, channels func() []string, interval time.Duration) *MessageSync {
	return &MessageSync{
		client:   client,
		embedder: embedder,
		store:    store,
		channels: channels,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start runs a sync pass every interval until ctx ends or Stop is called.
func (s *MessageSync) Start(ctx context.Context) {
	if s.interval <= 0 {
		slog.Info("Message sync disabled")
		return
	}

	slog.Info("Starting message sync", slog.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Message sync stopped due to context cancellation")
			return
		case <-s.done:
			slog.Info("Message sync stopped")
			return
		case <-ticker.C:
			if _, err := s.Run(ctx); err != nil {
				slog.Error("Error running message sync", "error", err)
			}
		}
	}
}

func (s *MessageSync) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

// Run performs one sync pass. A failing channel is logged and skipped.
// Re-running over the same history stores nothing new.
func (s *MessageSync) Run(ctx context.Context) (SyncStats, error) {
	start := time.Now()
	var stats SyncStats

	channels, err := s.resolveChannels(ctx)
	if err != nil {
		metrics.MessageSyncRuns.WithLabelValues("error").Inc()
		return stats, err
	}

	names := s.userNames(ctx)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(syncConcurrency)
	for _, ch := range channels {
		ch := ch
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			chunks, messages, err := s.collect(gctx, ch, names)
			if err != nil {
				slog.Error("Error reading channel history", slog.String("channel_id", ch.id), slog.String("error", err.Error()))
				return nil
			}

			stored, err := s.embedAndStore(gctx, chunks)
			if err != nil {
				slog.Error("Error storing channel chunks", slog.String("channel_id", ch.id), slog.String("error", err.Error()))
				return nil
			}

			mu.Lock()
			defer mu.Unlock()
			stats.Channels++
			stats.Messages += messages
			stats.Chunks += len(chunks)
			stats.Stored += stored
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		metrics.MessageSyncRuns.WithLabelValues("error").Inc()
		return stats, err
	}

	duration := time.Since(start)
	metrics.MessageSyncRuns.WithLabelValues("success").Inc()
	metrics.MessageSyncDuration.Observe(duration.Seconds())

	slog.Info("Completed message sync",
		slog.Int("channels", stats.Channels),
		slog.Int("messages", stats.Messages),
		slog.Int("chunks", stats.Chunks),
		slog.Int("stored", stats.Stored),
		slog.Duration("duration", duration))

	return stats, nil
}

type syncChannel struct {
	id   string
	name string
}

func (s *MessageSync) resolveChannels(ctx context.Context) ([]syncChannel, error) {
	if configured := s.channels(); len(configured) > 0 {
		out := make([]syncChannel, 0, len(configured))
		for _, id := range configured {
			out = append(out, syncChannel{id: id})
		}
		return out, nil
	}

	var (
		out    []syncChannel
		cursor string
	)
	for {
		page, next, err := s.client.ConversationsList(ctx, cursor, channelPageSize)
		if err != nil {
			return nil, fmt.Errorf("failed to list channels: %w", err)
		}
		for _, c := range page {
			if c.IsMember && !c.IsArchived {
				out = append(out, syncChannel{id: c.ID, name: c.Name})
			}
		}
		if next == "" {
			return out, nil
		}
		cursor = next
	}
}

// userNames maps user ids to display names. On failure ids are used as names.
func (s *MessageSync) userNames(ctx context.Context) map[string]string {
	users, err := s.client.UsersList(ctx)
	if err != nil {
		slog.Warn("Failed to list users, falling back to ids", "error", err)
		return map[string]string{}
	}

	names := make(map[string]string, len(users))
	for _, u := range users {
		names[u.ID] = displayName(u)
	}
	return names
}

func displayName(u slack.User) string {
	switch {
	case u.Profile.DisplayName != "":
		return u.Profile.DisplayName
	case u.Profile.RealName != "":
		return u.Profile.RealName
	case u.Name != "":
		return u.Name
	}
	return u.ID
}

// collect pages through a channel's history and turns each usable message
// into chunks.
func (s *MessageSync) collect(ctx context.Context, ch syncChannel, names map[string]string) ([]storage.Chunk, int, error) {
	var (
		chunks   []storage.Chunk
		messages int
		cursor   string
	)

	for page := 0; page < maxHistoryPages; page++ {
		history, next, err := s.client.ConversationsHistory(ctx, ch.id, cursor, historyPageSize)
		if err != nil {
			return nil, 0, err
		}

		for _, msg := range history {
			content, ok := messageContent(msg)
			if !ok {
				continue
			}
			messages++

			userName := names[msg.User]
			if userName == "" {
				userName = msg.User
			}

			for i, text := range chunkContent(fmt.Sprintf("[%s] %s: %s", formatTimestamp(msg.Timestamp), userName, content)) {
				chunks = append(chunks, storage.Chunk{
					Text:        text,
					ContentType: storage.ContentTypeMessage,
					SourceKey:   ch.id + ":" + msg.Timestamp,
					AdditionalContext: map[string]any{
						"channel_id":   ch.id,
						"channel_name": ch.name,
						"user_name":    userName,
						"ts":           msg.Timestamp,
						"chunk_index":  i,
					},
				})
			}
		}

		if next == "" {
			break
		}
		cursor = next
	}

	return chunks, messages, nil
}

// embedAndStore embeds chunks in batches and upserts them.
func (s *MessageSync) embedAndStore(ctx context.Context, chunks []storage.Chunk) (int, error) {
	stored := 0
	for start := 0; start < len(chunks); start += embedBatchSize {
		end := min(start+embedBatchSize, len(chunks))
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}

		embeddings, err := s.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return stored, err
		}
		for i := range batch {
			batch[i].Embedding = embeddings[i]
		}

		n, err := s.store.Upsert(ctx, batch)
		if err != nil {
			return stored, err
		}
		stored += n
	}
	return stored, nil
}

// messageContent returns the cleaned text of a message worth indexing.
func messageContent(msg slack.Message) (string, bool) {
	if msg.Text == "" || msg.BotID != "" || msg.SubType == "bot_message" {
		return "", false
	}
	if msg.SubType != "" && msg.SubType != "thread_broadcast" && msg.SubType != "file_share" {
		return "", false
	}

	content := cleanMessageText(msg.Text)
	if len(content) < minMessageLength || !isQualityContent(content) {
		return "", false
	}
	return content, true
}

// cleanMessageText removes user mentions and channel references
func cleanMessageText(text string) string {
	for _, prefix := range []string{"<@", "<#"} {
		for {
			start := strings.Index(text, prefix)
			if start == -1 {
				break
			}
			end := strings.Index(text[start:], ">")
			if end == -1 {
				break
			}
			text = text[:start] + text[start+end+1:]
		}
	}
	return strings.Join(strings.Fields(text), " ")
}

// isQualityContent checks if content is worth generating an embedding for
func isQualityContent(content string) bool {
	if strings.TrimSpace(content) == "" {
		return false
	}

	testPatterns := []string{
		"hello world", "lorem ipsum", "dummy text", "test message",
	}

	contentLower := strings.ToLower(content)
	for _, pattern := range testPatterns {
		if strings.Contains(contentLower, pattern) {
			return false
		}
	}

	return len(strings.Fields(content)) >= 2
}

// chunkContent splits content into word windows
func chunkContent(content string) []string {
	words := strings.Fields(content)
	if len(words) <= maxWordsPerChunk {
		return []string{content}
	}

	var chunks []string
	for i := 0; i < len(words); i += maxWordsPerChunk {
		end := min(i+maxWordsPerChunk, len(words))
		chunks = append(chunks, strings.Join(words[i:end], " "))
	}
	return chunks
}

// formatTimestamp converts a Slack timestamp to a human-readable UTC time
func formatTimestamp(slackTimestamp string) string {
	seconds, _, _ := strings.Cut(slackTimestamp, ".")
	unixSeconds, err := strconv.ParseInt(seconds, 10, 64)
	if err != nil {
		return slackTimestamp
	}
	return time.Unix(unixSeconds, 0).UTC().Format("January 2, 2006, 3:04PM")
}
