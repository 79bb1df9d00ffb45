// Package chattest provides an in-memory chat.Client for tests.
package chattest

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/slack-go/slack"

	"nestbot/internal/chat"
)

// HomeView is one views.publish call.
type HomeView struct {
	UserID string
	Blocks []slack.Block
}

// Recorder records every outbound call. Errors set on it are returned by the
// matching method.
type Recorder struct {
	mu sync.Mutex

	Posts      []chat.Message
	Ephemerals []chat.Message
	DMsOpened  []string
	HomeViews  []HomeView

	PostErr    error
	OpenDMErr  error
	PublishErr error

	History  map[string][]slack.Message
	Channels []slack.Channel
	Users    []slack.User
	Files    map[string]string
}

func NewRecorder() *Recorder {
	return &Recorder{History: map[string][]slack.Message{}, Files: map[string]string{}}
}

// DMChannel is the channel id OpenDM returns for userID.
func DMChannel(userID string) string {
	return "D" + userID
}

// Calls counts the outbound calls that reach the platform.
func (r *Recorder) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Posts) + len(r.Ephemerals) + len(r.DMsOpened) + len(r.HomeViews)
}

func (r *Recorder) PostMessage(_ context.Context, msg chat.Message) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.PostErr != nil {
		return "", r.PostErr
	}
	r.Posts = append(r.Posts, msg)
	return "1700000000.000100", nil
}

func (r *Recorder) PostEphemeral(_ context.Context, msg chat.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.PostErr != nil {
		return r.PostErr
	}
	r.Ephemerals = append(r.Ephemerals, msg)
	return nil
}

func (r *Recorder) OpenDM(_ context.Context, userID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.OpenDMErr != nil {
		return "", r.OpenDMErr
	}
	r.DMsOpened = append(r.DMsOpened, userID)
	return DMChannel(userID), nil
}

func (r *Recorder) PublishHomeView(_ context.Context, userID string, blocks []slack.Block) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.PublishErr != nil {
		return r.PublishErr
	}
	r.HomeViews = append(r.HomeViews, HomeView{UserID: userID, Blocks: blocks})
	return nil
}

// ConversationsHistory pages History[channelID]. Cursors are opaque; a
// limit of zero pages two at a time.
func (r *Recorder) ConversationsHistory(_ context.Context, channelID, cursor string, limit int) ([]slack.Message, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return page(r.History[channelID], cursor, limit)
}

func (r *Recorder) ConversationsList(_ context.Context, cursor string, limit int) ([]slack.Channel, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return page(r.Channels, cursor, limit)
}

func (r *Recorder) UsersList(context.Context) ([]slack.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Users, nil
}

func (r *Recorder) DownloadFile(_ context.Context, url string, w io.Writer) error {
	r.mu.Lock()
	content := r.Files[url]
	r.mu.Unlock()
	_, err := io.Copy(w, strings.NewReader(content))
	return err
}

// page uses the cursor's length as the offset.
func page[T any](items []T, cursor string, limit int) ([]T, string, error) {
	if limit <= 0 {
		limit = 2
	}
	start := len(cursor)
	if start > len(items) {
		start = len(items)
	}
	end := start + limit
	if end >= len(items) {
		return items[start:], "", nil
	}
	return items[start:end], strings.Repeat(".", end), nil
}
