package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTime is a manual clock; sleeping advances it.
type fakeTime struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeTime) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeTime) Sleep(_ context.Context, d time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d > 0 {
		f.now = f.now.Add(d)
	}
	return nil
}

// scriptedClient fails PostMessage with the queued errors, then succeeds.
type scriptedClient struct {
	clock   *fakeTime
	errs    []error
	callsAt []time.Time
}

func (s *scriptedClient) PostMessage(ctx context.Context, msg Message) (string, error) {
	s.callsAt = append(s.callsAt, s.clock.Now())
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return "", err
	}
	return "1717200000.000100", nil
}

func (s *scriptedClient) PostEphemeral(ctx context.Context, msg Message) error {
	_, err := s.PostMessage(ctx, msg)
	return err
}

func (s *scriptedClient) OpenDM(ctx context.Context, userID string) (string, error) {
	return "D" + userID, nil
}

func (s *scriptedClient) PublishHomeView(ctx context.Context, userID string, blocks []slack.Block) error {
	return nil
}

func (s *scriptedClient) ConversationsHistory(ctx context.Context, channelID, cursor string, limit int) ([]slack.Message, string, error) {
	return nil, "", nil
}

func (s *scriptedClient) ConversationsList(ctx context.Context, cursor string, limit int) ([]slack.Channel, string, error) {
	return nil, "", nil
}

func (s *scriptedClient) UsersList(ctx context.Context) ([]slack.User, error) {
	return nil, nil
}

func (s *scriptedClient) DownloadFile(ctx context.Context, url string, w io.Writer) error {
	return nil
}

func newTestRetrying(errs ...error) (*RetryingClient, *scriptedClient, *fakeTime) {
	ft := &fakeTime{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	inner := &scriptedClient{clock: ft, errs: errs}
	r := NewRetryingClient(inner)
	r.now = ft.Now
	r.sleep = ft.Sleep
	r.jitter = func() time.Duration { return 250 * time.Millisecond }
	return r, inner, ft
}

func TestRetryHonorsRetryAfter(t *testing.T) {
	for _, k := range []time.Duration{time.Second, 3 * time.Second, 30 * time.Second} {
		t.Run(k.String(), func(t *testing.T) {
			r, inner, _ := newTestRetrying(&slack.RateLimitedError{RetryAfter: k})

			ts, err := r.PostMessage(context.Background(), Message{ChannelID: "C1", Text: "hi"})
			require.NoError(t, err)
			assert.NotEmpty(t, ts)

			require.Len(t, inner.callsAt, 2)
			assert.GreaterOrEqual(t, inner.callsAt[1].Sub(inner.callsAt[0]), k)
		})
	}
}

func TestRetryRateLimitWithoutDelayUsesDefault(t *testing.T) {
	r, inner, _ := newTestRetrying(&slack.RateLimitedError{})

	_, err := r.PostMessage(context.Background(), Message{ChannelID: "C1"})
	require.NoError(t, err)
	require.Len(t, inner.callsAt, 2)
	assert.GreaterOrEqual(t, inner.callsAt[1].Sub(inner.callsAt[0]), DefaultRetryAfter)
}

func TestRetryTransientBackoff(t *testing.T) {
	r, inner, _ := newTestRetrying(
		slack.StatusCodeError{Code: 503, Status: "Service Unavailable"},
		slack.StatusCodeError{Code: 502, Status: "Bad Gateway"},
	)

	_, err := r.PostMessage(context.Background(), Message{ChannelID: "C1"})
	require.NoError(t, err)
	require.Len(t, inner.callsAt, 3)

	// 2^0 + jitter, then 2^1 + jitter
	assert.Equal(t, 1250*time.Millisecond, inner.callsAt[1].Sub(inner.callsAt[0]))
	assert.Equal(t, 2250*time.Millisecond, inner.callsAt[2].Sub(inner.callsAt[1]))
}

func TestRetryGivesUpAfterMaxAttempts(t *testing.T) {
	errs := make([]error, 10)
	for i := range errs {
		errs[i] = slack.StatusCodeError{Code: 500, Status: "Internal Server Error"}
	}
	r, inner, _ := newTestRetrying(errs...)

	_, err := r.PostMessage(context.Background(), Message{ChannelID: "C1"})
	require.Error(t, err)
	assert.Len(t, inner.callsAt, MaxAttempts)
}

func TestRetryDoesNotRetryPermanentErrors(t *testing.T) {
	testCases := []struct {
		name string
		err  error
	}{
		{name: "cannot dm bot", err: fmt.Errorf("chat.postMessage: %w", errors.New("cannot_dm_bot"))},
		{name: "client error", err: slack.StatusCodeError{Code: 403, Status: "Forbidden"}},
		{name: "archived", err: errors.New("is_archived")},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r, inner, _ := newTestRetrying(tc.err)

			_, err := r.PostMessage(context.Background(), Message{ChannelID: "C1"})
			require.Error(t, err)
			assert.Len(t, inner.callsAt, 1)
		})
	}
}

func TestRetrySharedChannelClock(t *testing.T) {
	r, inner, ft := newTestRetrying()

	receipt := ft.Now()
	require.NoError(t, r.clock.Hold(context.Background(), "C1", receipt.Add(5*time.Second)))

	_, err := r.PostMessage(context.Background(), Message{ChannelID: "C1"})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, inner.callsAt[0].Sub(receipt), 5*time.Second)

	// Other channels are unaffected.
	before := ft.Now()
	_, err = r.PostMessage(context.Background(), Message{ChannelID: "C2"})
	require.NoError(t, err)
	assert.Equal(t, before, inner.callsAt[1])
}

func TestErrorClassification(t *testing.T) {
	assert.True(t, IsCannotDMBot(fmt.Errorf("open dm: %w", errors.New("cannot_dm_bot"))))
	assert.False(t, IsCannotDMBot(errors.New("channel_not_found")))
	assert.False(t, IsCannotDMBot(nil))

	assert.True(t, IsPermanent(errors.New("channel_not_found")))
	assert.False(t, IsPermanent(errors.New("timeout")))

	assert.True(t, isTransient(slack.StatusCodeError{Code: 502}))
	assert.False(t, isTransient(slack.StatusCodeError{Code: 404}))
	assert.False(t, isTransient(context.DeadlineExceeded))
}
