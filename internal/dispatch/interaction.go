// Package dispatch routes inbound Slack interactions to registered handlers.
package dispatch

import (
	"sync"

	"nestbot/internal/chat"
)

type Kind string

const (
	KindCommand Kind = "command"
	KindEvent   Kind = "event"
	KindAction  Kind = "action"
)

// Interaction is one inbound record from Slack, whichever transport carried
// it. Key is the command name, event type or action id.
type Interaction struct {
	ID        string
	Kind      Kind
	Key       string
	TeamID    string
	UserID    string
	ChannelID string
	Text      string
	TriggerID string

	// Messages and mentions.
	MessageTS string
	ThreadTS  string
	BotID     string
	SubType   string
	Files     []chat.File

	// Actions.
	Value string

	ack     func()
	ackOnce sync.Once
}

// NewInteraction builds an interaction whose ack calls fn. fn may be nil.
func NewInteraction(kind Kind, key string, ack func()) *Interaction {
	return &Interaction{Kind: kind, Key: key, ack: ack}
}

// Ack acknowledges the interaction to the platform. Only the first call has
// any effect.
func (in *Interaction) Ack() {
	in.ackOnce.Do(func() {
		if in.ack != nil {
			in.ack()
		}
	})
}

// ReplyThread is the thread a reply to this message belongs in.
func (in *Interaction) ReplyThread() string {
	if in.ThreadTS != "" {
		return in.ThreadTS
	}
	return in.MessageTS
}
