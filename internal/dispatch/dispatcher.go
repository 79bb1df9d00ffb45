package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"nestbot/internal/chat"
	"nestbot/internal/config"
	"nestbot/internal/logging"
	"nestbot/internal/metrics"
)

// Dispatcher acknowledges interactions and runs their handlers.
type Dispatcher struct {
	registry *Registry
	client   chat.Client
	config   *config.Holder
}

func NewDispatcher(registry *Registry, client chat.Client, holder *config.Holder) *Dispatcher {
	return &Dispatcher{registry: registry, client: client, config: holder}
}

func (d *Dispatcher) enabled(kind Kind) bool {
	cfg := d.config.Get()
	if kind == KindCommand {
		return cfg.CommandsEnabled
	}
	return cfg.EventsEnabled
}

// Dispatch handles in synchronously: ack, then each matching handler under
// its own deadline. It never panics.
func (d *Dispatcher) Dispatch(ctx context.Context, in *Interaction) {
	if in.ID == "" {
		in.ID = uuid.New().String()
	}

	logger := logging.InteractionLogger(ctx, in.ID, string(in.Kind), in.Key, in.UserID, in.ChannelID)
	ctx = logging.ContextWithLogger(ctx, logger)

	in.Ack()

	if !d.enabled(in.Kind) {
		logger.Debug("Interaction dropped, feature disabled")
		metrics.InteractionsTotal.WithLabelValues(string(in.Kind), in.Key, "disabled").Inc()
		return
	}

	entries := d.registry.lookup(in)
	if len(entries) == 0 {
		logger.Debug("No handler for interaction")
		metrics.InteractionsTotal.WithLabelValues(string(in.Kind), in.Key, "unhandled").Inc()
		return
	}

	for _, e := range entries {
		start := time.Now()
		err := d.run(ctx, e, in)
		status := metrics.Status(err)
		if err != nil {
			logger.Error("Interaction handler failed", "error", err)
		}
		metrics.InteractionsTotal.WithLabelValues(string(in.Kind), in.Key, status).Inc()
		metrics.InteractionDuration.WithLabelValues(string(in.Kind)).Observe(time.Since(start).Seconds())
	}
}

func (d *Dispatcher) run(ctx context.Context, e entry, in *Interaction) (err error) {
	cfg := d.config.Get()
	timeout := cfg.SearchTimeout
	if e.longRunning {
		timeout = cfg.QATimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			logging.LoggerFromContext(ctx).Error("Interaction handler panicked", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	return e.fn(ctx, in, d.client)
}
