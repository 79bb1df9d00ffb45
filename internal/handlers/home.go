package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/slack-go/slack"

	"nestbot/internal/blocks"
	"nestbot/internal/chat"
	"nestbot/internal/dispatch"
	"nestbot/internal/pagination"
	"nestbot/internal/templates"
)

const invalidStateMessage = "That page is no longer available. Pick a section to start over."

func (h *Handlers) homeOpened(ctx context.Context, in *dispatch.Interaction, client chat.Client) error {
	content, err := h.homeBlocks(in)
	if err != nil {
		return err
	}
	return client.PublishHomeView(ctx, in.UserID, content)
}

// homeAction serves view_<entity>_action and its _next and _prev variants by
// republishing the home view with the requested page.
func (h *Handlers) homeAction(ctx context.Context, in *dispatch.Interaction, client chat.Client) error {
	entity, paged := parseViewAction(in.Key)
	view, ok := homeView(entity)
	if !ok {
		return errors.New("unknown home action " + in.Key)
	}

	content, err := h.homeBlocks(in)
	if err != nil {
		return err
	}

	state := pagination.New(view.entity, "", pagination.DefaultLimit)
	if paged {
		state, err = pagination.Decode(view.entity, in.Value)
		if err != nil {
			content = append(content, blocks.Markdown(invalidStateMessage))
			return client.PublishHomeView(ctx, in.UserID, content)
		}
	}

	page, err := h.entityBlocks(ctx, view, state, blocks.HomePresentation())
	if err != nil {
		return err
	}

	return client.PublishHomeView(ctx, in.UserID, append(content, page...))
}

// homeBlocks is the fixed top of the home view: intro and section buttons.
func (h *Handlers) homeBlocks(in *dispatch.Interaction) ([]slack.Block, error) {
	intro, err := h.templates.Render(templates.Home, h.templateData(in))
	if err != nil {
		return nil, err
	}

	buttons := make([]blocks.Button, 0, len(homeViews))
	for _, v := range homeViews {
		buttons = append(buttons, blocks.Button{
			Label:    v.title,
			ActionID: blocks.ViewActionID(v.entity),
			Value:    v.entity,
		})
	}

	return blocks.Compact(blocks.Markdown(intro), blocks.ActionButtons(buttons), blocks.Divider()), nil
}

// parseViewAction splits view_<entity>_action[_next|_prev] into the entity
// and whether the action carries a pagination state.
func parseViewAction(actionID string) (string, bool) {
	rest, ok := strings.CutPrefix(actionID, "view_")
	if !ok {
		return "", false
	}

	for _, suffix := range []string{"_action_next", "_action_prev"} {
		if entity, ok := strings.CutSuffix(rest, suffix); ok {
			return entity, true
		}
	}

	entity, _ := strings.CutSuffix(rest, "_action")
	return entity, false
}
