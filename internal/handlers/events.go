package handlers

import (
	"context"
	"regexp"
	"strings"

	"github.com/slack-go/slack"

	"nestbot/internal/blocks"
	"nestbot/internal/chat"
	"nestbot/internal/dispatch"
	"nestbot/internal/logging"
	"nestbot/internal/qa"
	"nestbot/internal/templates"
)

var mentionPattern = regexp.MustCompile(`<@[A-Z0-9]+>`)

const emptyMentionMessage = "Hi! Ask me anything about OWASP, e.g. _What is the OWASP Top 10?_"

// teamJoin welcomes a new workspace member. The chapter count is optional.
func (h *Handlers) teamJoin(ctx context.Context, in *dispatch.Interaction, client chat.Client) error {
	data := h.templateData(in)
	if chapters, err := h.entities.CountActiveChapters(ctx); err != nil {
		logging.LoggerFromContext(ctx).Warn("Could not count chapters", "error", err)
	} else {
		data.ChaptersCount = chapters
	}
	return h.dmTemplate(ctx, client, in.UserID, templates.TeamJoin, data)
}

// contributeChannelJoin greets a new member of the contribute channel in the
// channel itself and sends a DM with current project and issue counts.
func (h *Handlers) contributeChannelJoin(ctx context.Context, in *dispatch.Interaction, client chat.Client) error {
	data := h.templateData(in)

	projects, err := h.entities.CountActiveProjects(ctx)
	if err != nil {
		return err
	}
	issues, err := h.entities.CountOpenIssues(ctx)
	if err != nil {
		return err
	}
	data.ProjectsCount = projects
	data.IssuesCount = issues

	greeting, err := h.templates.Render(templates.ContributeEphemeral, data)
	if err != nil {
		return err
	}
	if err := client.PostEphemeral(ctx, chat.Message{
		ChannelID: in.ChannelID,
		UserID:    in.UserID,
		Blocks:    []slack.Block{blocks.Markdown(greeting)},
		Text:      greeting,
	}); err != nil {
		return err
	}

	return h.dmTemplate(ctx, client, in.UserID, templates.ContributeDM, data)
}

func (h *Handlers) gsocChannelJoin(ctx context.Context, in *dispatch.Interaction, client chat.Client) error {
	return h.dmTemplate(ctx, client, in.UserID, templates.GSoCWelcome, h.templateData(in))
}

// appMention answers a question addressed to the bot, in the thread.
func (h *Handlers) appMention(ctx context.Context, in *dispatch.Interaction, client chat.Client) error {
	text := h.withImages(ctx, in, stripMentions(in.Text))
	if text == "" {
		return h.replyInThread(ctx, client, in, emptyMentionMessage)
	}

	answer, err := h.qa.Answer(ctx, text)
	if err != nil {
		return err
	}
	return h.replyInThread(ctx, client, in, answer)
}

// isAssistantMessage accepts top-level human messages in assistant channels.
func (h *Handlers) isAssistantMessage(in *dispatch.Interaction) bool {
	if in.BotID != "" || in.ThreadTS != "" {
		return false
	}
	if in.SubType != "" && in.SubType != "file_share" {
		return false
	}
	return h.config.Get().IsAssistantChannel(in.ChannelID)
}

// assistantMessage answers messages the detector accepts and ignores the rest.
func (h *Handlers) assistantMessage(ctx context.Context, in *dispatch.Interaction, client chat.Client) error {
	text := h.withImages(ctx, in, in.Text)
	if text == "" {
		return nil
	}

	answer, ok, err := h.qa.AnswerIfQuestion(ctx, text)
	if err != nil {
		return err
	}
	if !ok {
		logging.LoggerFromContext(ctx).Debug("Message is not a question, ignoring")
		return nil
	}
	return h.replyInThread(ctx, client, in, answer)
}

func (h *Handlers) withImages(ctx context.Context, in *dispatch.Interaction, text string) string {
	text = strings.TrimSpace(text)
	if h.images == nil || len(in.Files) == 0 {
		return text
	}
	return qa.WithImageText(text, h.images.Extract(ctx, in.Files))
}

func (h *Handlers) replyInThread(ctx context.Context, client chat.Client, in *dispatch.Interaction, text string) error {
	_, err := client.PostMessage(ctx, chat.Message{
		ChannelID: in.ChannelID,
		ThreadTS:  in.ReplyThread(),
		Blocks:    blocks.MarkdownSections(text),
		Text:      text,
	})
	return err
}

func stripMentions(text string) string {
	return strings.TrimSpace(mentionPattern.ReplaceAllString(text, ""))
}
