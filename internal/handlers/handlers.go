// Package handlers implements the bot's slash commands, events and home-tab
// actions.
package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/slack-go/slack"

	"nestbot/internal/blocks"
	"nestbot/internal/chat"
	"nestbot/internal/config"
	"nestbot/internal/dispatch"
	"nestbot/internal/logging"
	"nestbot/internal/search"
	"nestbot/internal/storage"
	"nestbot/internal/templates"
)

const (
	errorMessage   = "⚠️ An error occurred processing your request."
	timeoutMessage = "⏱️ Sorry, that took too long. Please try again."

	notifyTimeout = 5 * time.Second
)

type answerer interface {
	Answer(ctx context.Context, text string) (string, error)
	AnswerIfQuestion(ctx context.Context, text string) (string, bool, error)
}

type imageExtractor interface {
	Extract(ctx context.Context, files []chat.File) []string
}

type Deps struct {
	Config    *config.Holder
	Search    search.Searcher
	Entities  storage.EntityReader
	Templates *templates.Renderer
	QA        answerer
	Images    imageExtractor
	Now       func() time.Time
}

type Handlers struct {
	config    *config.Holder
	search    search.Searcher
	entities  storage.EntityReader
	templates *templates.Renderer
	qa        answerer
	images    imageExtractor
	now       func() time.Time

	subcommands map[string]dispatch.HandlerFunc
}

func New(deps Deps) *Handlers {
	h := &Handlers{
		config:    deps.Config,
		search:    deps.Search,
		entities:  deps.Entities,
		templates: deps.Templates,
		qa:        deps.QA,
		images:    deps.Images,
		now:       deps.Now,
	}
	if h.now == nil {
		h.now = time.Now
	}

	h.subcommands = map[string]dispatch.HandlerFunc{
		"chapters":   h.chapters,
		"committees": h.committees,
		"contribute": h.contribute,
		"donate":     h.donate,
		"events":     h.events,
		"gsoc":       h.gsoc,
		"leaders":    h.leaders,
		"news":       h.news,
		"policies":   h.policies,
		"projects":   h.projects,
		"sponsors":   h.sponsors,
	}
	return h
}

// Register adds every handler to r.
func (h *Handlers) Register(r *dispatch.Registry) {
	r.OnCommand("/projects", h.guard(h.projects))
	r.OnCommand("/chapters", h.guard(h.chapters))
	r.OnCommand("/committees", h.guard(h.committees))
	r.OnCommand("/contribute", h.guard(h.contribute))
	r.OnCommand("/gsoc", h.guard(h.gsoc))
	r.OnCommand("/events", h.guard(h.events))
	r.OnCommand("/news", h.guard(h.news))
	r.OnCommand("/leaders", h.guard(h.leaders))
	r.OnCommand("/policies", h.guard(h.policies))
	r.OnCommand("/donate", h.guard(h.donate))
	r.OnCommand("/sponsors", h.guard(h.sponsors))
	r.OnCommand("/owasp", h.guard(h.owasp))
	r.OnCommand("/ai", h.guard(h.ai), dispatch.LongRunning())

	r.OnEvent("team_join", h.guard(h.teamJoin), nil)
	r.OnEvent("member_joined_channel", h.guard(h.contributeChannelJoin), dispatch.ChannelIs(func() string {
		return h.config.Get().ContributeChannelID
	}))
	r.OnEvent("member_joined_channel", h.guard(h.gsocChannelJoin), dispatch.ChannelIs(func() string {
		return h.config.Get().GSoCChannelID
	}))
	r.OnEvent("app_mention", h.guard(h.appMention), nil, dispatch.LongRunning())
	r.OnEvent("message", h.guard(h.assistantMessage), h.isAssistantMessage, dispatch.LongRunning())
	r.OnEvent("app_home_opened", h.guard(h.homeOpened), nil)

	for _, view := range homeViews {
		r.OnAction(blocks.ViewActionID(view.entity), h.guard(h.homeAction))
		r.OnAction(blocks.PrevActionID(view.entity), h.guard(h.homeAction))
		r.OnAction(blocks.NextActionID(view.entity), h.guard(h.homeAction))
	}
}

// guard applies the error policy: cannot_dm_bot is dropped silently, other
// failures get a best-effort DM to the user.
func (h *Handlers) guard(fn dispatch.HandlerFunc) dispatch.HandlerFunc {
	return func(ctx context.Context, in *dispatch.Interaction, client chat.Client) error {
		err := fn(ctx, in, client)
		if err == nil {
			return nil
		}

		logger := logging.LoggerFromContext(ctx)
		if chat.IsCannotDMBot(err) {
			logger.Debug("Cannot DM bot user, skipping", "error", err)
			return nil
		}

		text := errorMessage
		if errors.Is(err, context.DeadlineExceeded) {
			text = timeoutMessage
		}

		if in.UserID != "" {
			notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
			defer cancel()
			if dmErr := h.dm(notifyCtx, client, in.UserID, []slack.Block{blocks.Markdown(text)}, text); dmErr != nil {
				logger.Warn("Failed to notify user of error", "error", dmErr)
			}
		}

		return err
	}
}

func (h *Handlers) dm(ctx context.Context, client chat.Client, userID string, content []slack.Block, text string) error {
	channelID, err := client.OpenDM(ctx, userID)
	if err != nil {
		return err
	}
	_, err = client.PostMessage(ctx, chat.Message{ChannelID: channelID, Blocks: content, Text: text})
	return err
}

// sectionBlocks renders each section as its own markdown block.
func sectionBlocks(sections []string) []slack.Block {
	out := make([]slack.Block, 0, len(sections))
	for _, s := range sections {
		out = append(out, blocks.Markdown(s))
	}
	return out
}

// templateData fills the fields every template shares.
func (h *Handlers) templateData(in *dispatch.Interaction) templates.Data {
	cfg := h.config.Get()
	return templates.Data{
		UserID:        in.UserID,
		ChannelID:     in.ChannelID,
		GSoCChannelID: cfg.GSoCChannelID,
		SiteName:      cfg.SiteName,
		WebsiteURL:    cfg.WebsiteURL,
	}
}

// dmTemplate DMs the user the named template, one block per section.
func (h *Handlers) dmTemplate(ctx context.Context, client chat.Client, userID, name string, data templates.Data) error {
	sections, err := h.templates.Sections(name, data)
	if err != nil {
		return err
	}
	return h.dm(ctx, client, userID, sectionBlocks(sections), firstSection(sections))
}

func firstSection(sections []string) string {
	if len(sections) == 0 {
		return ""
	}
	return sections[0]
}
