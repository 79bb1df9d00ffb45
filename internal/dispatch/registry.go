package dispatch

import (
	"context"

	"nestbot/internal/chat"
)

// HandlerFunc handles one interaction. Returned errors are logged by the
// dispatcher; handlers are expected to have replied to the user already.
type HandlerFunc func(ctx context.Context, in *Interaction, client chat.Client) error

// Matcher filters an event handler in. It must not do I/O.
type Matcher func(in *Interaction) bool

// ChannelIs matches interactions in channelID.
func ChannelIs(channelID func() string) Matcher {
	return func(in *Interaction) bool {
		id := channelID()
		return id != "" && in.ChannelID == id
	}
}

type Option func(*entry)

// LongRunning gives the handler the QA deadline instead of the search one.
func LongRunning() Option {
	return func(e *entry) { e.longRunning = true }
}

type entry struct {
	kind        Kind
	key         string
	matcher     Matcher
	fn          HandlerFunc
	longRunning bool
}

// Registry is filled at startup and read-only afterwards.
type Registry struct {
	entries []entry
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) add(kind Kind, key string, matcher Matcher, fn HandlerFunc, opts []Option) {
	e := entry{kind: kind, key: key, matcher: matcher, fn: fn}
	for _, opt := range opts {
		opt(&e)
	}
	r.entries = append(r.entries, e)
}

func (r *Registry) OnCommand(name string, fn HandlerFunc, opts ...Option) {
	r.add(KindCommand, name, nil, fn, opts)
}

// OnEvent registers fn for eventType. matcher may be nil to accept every event.
func (r *Registry) OnEvent(eventType string, fn HandlerFunc, matcher Matcher, opts ...Option) {
	r.add(KindEvent, eventType, matcher, fn, opts)
}

func (r *Registry) OnAction(actionID string, fn HandlerFunc, opts ...Option) {
	r.add(KindAction, actionID, nil, fn, opts)
}

// lookup returns the entries for in in registration order: the first match
// for commands and actions, every match for events.
func (r *Registry) lookup(in *Interaction) []entry {
	var matched []entry
	for _, e := range r.entries {
		if e.kind != in.Kind || e.key != in.Key {
			continue
		}
		if e.matcher != nil && !e.matcher(in) {
			continue
		}
		matched = append(matched, e)
		if in.Kind != KindEvent {
			break
		}
	}
	return matched
}

// Commands lists the registered command names.
func (r *Registry) Commands() []string {
	var names []string
	for _, e := range r.entries {
		if e.kind == KindCommand {
			names = append(names, e.key)
		}
	}
	return names
}
