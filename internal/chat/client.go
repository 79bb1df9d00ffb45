// Package chat talks to the Slack Web API on behalf of handlers.
package chat

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/slack-go/slack"
)

// Message is an outbound post. UserID is only used for ephemeral messages;
// ThreadTS replies in a thread when set.
type Message struct {
	ChannelID string
	UserID    string
	ThreadTS  string
	Blocks    []slack.Block
	Text      string
}

// File is an attachment on an inbound message.
type File struct {
	ID         string
	Name       string
	MimeType   string
	Size       int
	URLPrivate string
}

func FilesFromSlack(files []slack.File) []File {
	out := make([]File, 0, len(files))
	for _, f := range files {
		out = append(out, File{ID: f.ID, Name: f.Name, MimeType: f.Mimetype, Size: f.Size, URLPrivate: f.URLPrivateDownload})
	}
	return out
}

// Client is everything the bot needs from the chat platform.
type Client interface {
	PostMessage(ctx context.Context, msg Message) (string, error)
	PostEphemeral(ctx context.Context, msg Message) error
	OpenDM(ctx context.Context, userID string) (string, error)
	PublishHomeView(ctx context.Context, userID string, blocks []slack.Block) error
	ConversationsHistory(ctx context.Context, channelID, cursor string, limit int) ([]slack.Message, string, error)
	ConversationsList(ctx context.Context, cursor string, limit int) ([]slack.Channel, string, error)
	UsersList(ctx context.Context) ([]slack.User, error)
	DownloadFile(ctx context.Context, url string, w io.Writer) error
}

// SlackClient implements Client on top of slack-go.
type SlackClient struct {
	api *slack.Client
}

// NewSlackClient builds the API client. The HTTP transport canonicalizes
// Retry-After so rate-limit errors always carry a usable delay.
func NewSlackClient(botToken, appToken string) *SlackClient {
	httpClient := &http.Client{Transport: NewRetryAfterTransport(http.DefaultTransport)}

	opts := []slack.Option{slack.OptionHTTPClient(httpClient)}
	if appToken != "" {
		opts = append(opts, slack.OptionAppLevelToken(appToken))
	}

	return &SlackClient{api: slack.New(botToken, opts...)}
}

// API exposes the underlying client for socket mode.
func (c *SlackClient) API() *slack.Client {
	return c.api
}

func messageOptions(msg Message) []slack.MsgOption {
	opts := []slack.MsgOption{
		slack.MsgOptionText(msg.Text, false),
		slack.MsgOptionDisableLinkUnfurl(),
	}
	if len(msg.Blocks) > 0 {
		opts = append(opts, slack.MsgOptionBlocks(msg.Blocks...))
	}
	if msg.ThreadTS != "" {
		opts = append(opts, slack.MsgOptionTS(msg.ThreadTS))
	}
	return opts
}

func (c *SlackClient) PostMessage(ctx context.Context, msg Message) (string, error) {
	_, ts, err := c.api.PostMessageContext(ctx, msg.ChannelID, messageOptions(msg)...)
	if err != nil {
		return "", fmt.Errorf("chat.postMessage: %w", err)
	}
	return ts, nil
}

func (c *SlackClient) PostEphemeral(ctx context.Context, msg Message) error {
	_, err := c.api.PostEphemeralContext(ctx, msg.ChannelID, msg.UserID, messageOptions(msg)...)
	if err != nil {
		return fmt.Errorf("chat.postEphemeral: %w", err)
	}
	return nil
}

func (c *SlackClient) OpenDM(ctx context.Context, userID string) (string, error) {
	channel, _, _, err := c.api.OpenConversationContext(ctx, &slack.OpenConversationParameters{
		Users: []string{userID},
	})
	if err != nil {
		return "", fmt.Errorf("conversations.open: %w", err)
	}
	return channel.ID, nil
}

func (c *SlackClient) PublishHomeView(ctx context.Context, userID string, blocks []slack.Block) error {
	view := slack.HomeTabViewRequest{
		Type:   slack.VTHomeTab,
		Blocks: slack.Blocks{BlockSet: blocks},
	}
	if _, err := c.api.PublishViewContext(ctx, userID, view, ""); err != nil {
		return fmt.Errorf("views.publish: %w", err)
	}
	return nil
}

func (c *SlackClient) ConversationsHistory(ctx context.Context, channelID, cursor string, limit int) ([]slack.Message, string, error) {
	resp, err := c.api.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
		ChannelID: channelID,
		Cursor:    cursor,
		Limit:     limit,
	})
	if err != nil {
		return nil, "", fmt.Errorf("conversations.history: %w", err)
	}
	return resp.Messages, resp.ResponseMetaData.NextCursor, nil
}

func (c *SlackClient) ConversationsList(ctx context.Context, cursor string, limit int) ([]slack.Channel, string, error) {
	channels, next, err := c.api.GetConversationsContext(ctx, &slack.GetConversationsParameters{
		Cursor:          cursor,
		Limit:           limit,
		Types:           []string{"public_channel"},
		ExcludeArchived: true,
	})
	if err != nil {
		return nil, "", fmt.Errorf("conversations.list: %w", err)
	}
	return channels, next, nil
}

func (c *SlackClient) UsersList(ctx context.Context) ([]slack.User, error) {
	users, err := c.api.GetUsersContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("users.list: %w", err)
	}
	return users, nil
}

func (c *SlackClient) DownloadFile(ctx context.Context, url string, w io.Writer) error {
	if err := c.api.GetFileContext(ctx, url, w); err != nil {
		return fmt.Errorf("files download: %w", err)
	}
	return nil
}
