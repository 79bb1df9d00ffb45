// Package socket receives Slack interactions over a Socket Mode websocket.
package socket

import (
	"context"
	"log/slog"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"nestbot/internal/dispatch"
)

type dispatcher interface {
	Dispatch(ctx context.Context, in *dispatch.Interaction)
}

// acker is the part of socketmode.Client that acknowledges envelopes.
type acker interface {
	Ack(req socketmode.Request, payload ...interface{})
}

type Runner struct {
	client     *socketmode.Client
	dispatcher dispatcher
}

// NewRunner wraps api, which must carry an app-level token.
func NewRunner(api *slack.Client, d dispatcher) *Runner {
	return &Runner{client: socketmode.New(api), dispatcher: d}
}

// Run connects and handles events until ctx ends.
func (r *Runner) Run(ctx context.Context) error {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-r.client.Events:
				if !ok {
					return
				}
				go handle(ctx, r.client, r.dispatcher, evt)
			}
		}
	}()

	slog.Info("Starting socket mode")
	return r.client.RunContext(ctx)
}

// handle turns one socket envelope into interactions. Envelopes that carry
// nothing to dispatch are acknowledged right away.
func handle(ctx context.Context, a acker, d dispatcher, evt socketmode.Event) {
	ack := func() {
		if evt.Request != nil {
			a.Ack(*evt.Request)
		}
	}

	for _, in := range interactions(evt, ack) {
		d.Dispatch(ctx, in)
	}
}

func interactions(evt socketmode.Event, ack func()) []*dispatch.Interaction {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		slog.Info("Connecting to Slack with Socket Mode")
	case socketmode.EventTypeConnected:
		slog.Info("Connected to Slack with Socket Mode")
	case socketmode.EventTypeConnectionError:
		slog.Warn("Socket Mode connection failed, retrying")

	case socketmode.EventTypeSlashCommand:
		cmd, ok := evt.Data.(slack.SlashCommand)
		if !ok {
			break
		}
		return []*dispatch.Interaction{dispatch.FromSlashCommand(cmd, ack)}

	case socketmode.EventTypeInteractive:
		callback, ok := evt.Data.(slack.InteractionCallback)
		if !ok {
			break
		}
		if out := dispatch.FromInteractionCallback(callback, ack); len(out) > 0 {
			return out
		}

	case socketmode.EventTypeEventsAPI:
		event, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			break
		}
		in, err := dispatch.FromEventsAPI(event, ack)
		if err != nil {
			slog.Debug("Ignoring event", "type", event.Type, "error", err)
			break
		}
		return []*dispatch.Interaction{in}
	}

	ack()
	return nil
}
