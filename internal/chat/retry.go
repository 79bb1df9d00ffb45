package chat

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"golang.org/x/time/rate"

	"nestbot/internal/metrics"
)

// MaxAttempts bounds every outbound call, rate-limit retries included.
const MaxAttempts = 5

// RetryingClient wraps a Client with rate-limit and transient-error retries.
// A 429 on a channel holds that channel's clock for Retry-After, so
// concurrent posters to the channel wait too.
type RetryingClient struct {
	next  Client
	clock Clock

	pacing   rate.Limit
	burst    int
	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() time.Duration
}

type RetryOption func(*RetryingClient)

// WithClock swaps the backoff clock, e.g. for a RedisClock.
func WithClock(clock Clock) RetryOption {
	return func(r *RetryingClient) { r.clock = clock }
}

// WithPacing limits posts per channel to r per second with the given burst.
func WithPacing(r rate.Limit, burst int) RetryOption {
	return func(rc *RetryingClient) {
		rc.pacing = r
		rc.burst = burst
	}
}

func NewRetryingClient(next Client, opts ...RetryOption) *RetryingClient {
	r := &RetryingClient{
		next:     next,
		clock:    NewMemoryClock(),
		limiters: make(map[string]*rate.Limiter),
		now:      time.Now,
		sleep:    sleepContext,
		jitter: func() time.Duration {
			return time.Duration(rand.Int63n(int64(time.Second)))
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (r *RetryingClient) limiter(key string) *rate.Limiter {
	if r.pacing == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[key]
	if !ok {
		l = rate.NewLimiter(r.pacing, r.burst)
		r.limiters[key] = l
	}
	return l
}

// waitTurn blocks until key's clock allows a call.
func (r *RetryingClient) waitTurn(ctx context.Context, key string) error {
	notBefore, err := r.clock.NotBefore(ctx, key)
	if err != nil {
		// A broken shared clock must not stop the bot from talking.
		slog.Warn("Backoff clock unavailable", "key", key, "error", err)
	} else if wait := notBefore.Sub(r.now()); wait > 0 {
		if err := r.sleep(ctx, wait); err != nil {
			return err
		}
	}

	if l := r.limiter(key); l != nil {
		return l.Wait(ctx)
	}
	return nil
}

func (r *RetryingClient) do(ctx context.Context, method, key string, call func() error) error {
	var err error
	for attempt := 0; attempt < MaxAttempts; attempt++ {
		if werr := r.waitTurn(ctx, key); werr != nil {
			return werr
		}

		err = call()
		metrics.SlackAPICalls.WithLabelValues(method, metrics.Status(err)).Inc()
		if err == nil {
			return nil
		}

		if attempt == MaxAttempts-1 {
			break
		}

		if wait, ok := retryAfter(err); ok {
			metrics.SlackAPIRetries.WithLabelValues(method, "rate_limited").Inc()
			slog.Warn("Slack rate limited", "method", method, "key", key, "retry_after", wait, "attempt", attempt+1)
			if herr := r.clock.Hold(ctx, key, r.now().Add(wait)); herr != nil {
				slog.Warn("Failed to hold backoff clock", "key", key, "error", herr)
				if serr := r.sleep(ctx, wait); serr != nil {
					return serr
				}
			}
			continue
		}

		if !isTransient(err) {
			return err
		}

		backoff := time.Duration(1<<attempt)*time.Second + r.jitter()
		metrics.SlackAPIRetries.WithLabelValues(method, "transient").Inc()
		slog.Warn("Slack call failed, backing off", "method", method, "error", err, "backoff", backoff, "attempt", attempt+1)
		if serr := r.sleep(ctx, backoff); serr != nil {
			return serr
		}
	}
	return err
}

func (r *RetryingClient) PostMessage(ctx context.Context, msg Message) (string, error) {
	var ts string
	err := r.do(ctx, "chat.postMessage", msg.ChannelID, func() error {
		var err error
		ts, err = r.next.PostMessage(ctx, msg)
		return err
	})
	return ts, err
}

func (r *RetryingClient) PostEphemeral(ctx context.Context, msg Message) error {
	return r.do(ctx, "chat.postEphemeral", msg.ChannelID, func() error {
		return r.next.PostEphemeral(ctx, msg)
	})
}

func (r *RetryingClient) OpenDM(ctx context.Context, userID string) (string, error) {
	var channelID string
	err := r.do(ctx, "conversations.open", "conversations.open", func() error {
		var err error
		channelID, err = r.next.OpenDM(ctx, userID)
		return err
	})
	return channelID, err
}

func (r *RetryingClient) PublishHomeView(ctx context.Context, userID string, blocks []slack.Block) error {
	return r.do(ctx, "views.publish", "views.publish:"+userID, func() error {
		return r.next.PublishHomeView(ctx, userID, blocks)
	})
}

func (r *RetryingClient) ConversationsHistory(ctx context.Context, channelID, cursor string, limit int) ([]slack.Message, string, error) {
	var (
		msgs []slack.Message
		next string
	)
	err := r.do(ctx, "conversations.history", "conversations.history", func() error {
		var err error
		msgs, next, err = r.next.ConversationsHistory(ctx, channelID, cursor, limit)
		return err
	})
	return msgs, next, err
}

func (r *RetryingClient) ConversationsList(ctx context.Context, cursor string, limit int) ([]slack.Channel, string, error) {
	var (
		channels []slack.Channel
		next     string
	)
	err := r.do(ctx, "conversations.list", "conversations.list", func() error {
		var err error
		channels, next, err = r.next.ConversationsList(ctx, cursor, limit)
		return err
	})
	return channels, next, err
}

func (r *RetryingClient) UsersList(ctx context.Context) ([]slack.User, error) {
	var users []slack.User
	err := r.do(ctx, "users.list", "users.list", func() error {
		var err error
		users, err = r.next.UsersList(ctx)
		return err
	})
	return users, err
}

// DownloadFile is not retried: a failed attempt may already have written
// part of the body to w.
func (r *RetryingClient) DownloadFile(ctx context.Context, url string, w io.Writer) error {
	err := r.next.DownloadFile(ctx, url, w)
	metrics.SlackAPICalls.WithLabelValues("files.download", metrics.Status(err)).Inc()
	return err
}
