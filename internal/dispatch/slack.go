package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"nestbot/internal/chat"
)

var ErrUnsupportedEvent = errors.New("unsupported event envelope")

// FromSlashCommand converts a parsed slash command.
func FromSlashCommand(cmd slack.SlashCommand, ack func()) *Interaction {
	in := NewInteraction(KindCommand, cmd.Command, ack)
	in.TeamID = cmd.TeamID
	in.UserID = cmd.UserID
	in.ChannelID = cmd.ChannelID
	in.Text = cmd.Text
	in.TriggerID = cmd.TriggerID
	return in
}

// FromInteractionCallback returns one interaction per block action in cb.
// Every returned interaction shares ack.
func FromInteractionCallback(cb slack.InteractionCallback, ack func()) []*Interaction {
	if cb.Type != slack.InteractionTypeBlockActions {
		return nil
	}

	out := make([]*Interaction, 0, len(cb.ActionCallback.BlockActions))
	for _, action := range cb.ActionCallback.BlockActions {
		if action == nil {
			continue
		}
		in := NewInteraction(KindAction, action.ActionID, ack)
		in.TeamID = cb.Team.ID
		in.UserID = cb.User.ID
		in.ChannelID = cb.Channel.ID
		in.TriggerID = cb.TriggerID
		in.Value = action.Value
		out = append(out, in)
	}
	return out
}

// innerEvent is the subset of inner event fields the handlers read. user and
// channel are ids on most events and objects on a few (team_join).
type innerEvent struct {
	Type      string          `json:"type"`
	User      json.RawMessage `json:"user"`
	Channel   json.RawMessage `json:"channel"`
	Text      string          `json:"text"`
	TS        string          `json:"ts"`
	ThreadTS  string          `json:"thread_ts"`
	BotID     string          `json:"bot_id"`
	SubType   string          `json:"subtype"`
	Files     []slack.File    `json:"files"`
	ChannelID string          `json:"channel_id"`
}

// ParseEventsAPI parses an Events API body. Inner event types slack-go has
// no struct for still parse, since FromEventsAPI only needs the envelope.
func ParseEventsAPI(body []byte) (slackevents.EventsAPIEvent, error) {
	ev, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		if _, ok := ev.Data.(*slackevents.EventsAPICallbackEvent); ok {
			return ev, nil
		}
		return ev, err
	}
	return ev, nil
}

// FromEventsAPI converts an Events API callback.
func FromEventsAPI(ev slackevents.EventsAPIEvent, ack func()) (*Interaction, error) {
	cb, ok := ev.Data.(*slackevents.EventsAPICallbackEvent)
	if !ok || cb.InnerEvent == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEvent, ev.Type)
	}

	var inner innerEvent
	if err := json.Unmarshal(*cb.InnerEvent, &inner); err != nil {
		return nil, fmt.Errorf("failed to decode %s event: %w", ev.Type, err)
	}

	in := NewInteraction(KindEvent, inner.Type, ack)
	in.ID = cb.EventID
	in.TeamID = ev.TeamID
	in.UserID = idOf(inner.User)
	in.ChannelID = idOf(inner.Channel)
	if in.ChannelID == "" {
		in.ChannelID = inner.ChannelID
	}
	in.Text = inner.Text
	in.MessageTS = inner.TS
	in.ThreadTS = inner.ThreadTS
	in.BotID = inner.BotID
	in.SubType = inner.SubType
	if len(inner.Files) > 0 {
		in.Files = chat.FilesFromSlack(inner.Files)
	}
	return in, nil
}

// idOf reads either "U123" or {"id": "U123", ...}.
func idOf(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id
	}

	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return ""
}
