package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"nestbot/internal/dispatch"
	"nestbot/internal/handlers"
	"nestbot/internal/server"
	"nestbot/internal/socket"
	"nestbot/internal/templates"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Slack bot",
	Long: `Run the Slack bot. Interactions arrive over Socket Mode when
SLACK_APP_TOKEN is set and over HTTP otherwise. The HTTP server always
serves /health, /ready and /metrics.

Send SIGHUP to reload configuration from the environment.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	cfg := holder.Get()
	slog.Info("Starting nestbot", slog.String("environment", cfg.Environment))

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	renderer, err := templates.New()
	if err != nil {
		return err
	}

	registry := dispatch.NewRegistry()
	handlers.New(handlers.Deps{
		Config:    holder,
		Search:    a.search,
		Entities:  a.entities,
		Templates: renderer,
		QA:        a.qa,
		Images:    a.images,
	}).Register(registry)
	dispatcher := dispatch.NewDispatcher(registry, a.chat, holder)

	messages := a.messageSync(holder)
	go messages.Start(ctx)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server.New(holder, dispatcher, a.db.PingContext, server.WithQueryAPI(a.qa)).Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		slog.Info("Server starting", slog.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if cfg.SocketMode() {
		go func() {
			if err := socket.NewRunner(a.slack.API(), dispatcher).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- err
			}
		}()
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(signals)

	for {
		select {
		case err := <-errCh:
			slog.Error("Server failed", "error", err)
			shutdown(srv, cancel, messages.Stop)
			return err
		case sig := <-signals:
			if sig == syscall.SIGHUP {
				if err := holder.Reload(); err != nil {
					slog.Error("Configuration reload rejected, keeping previous", "error", err)
					continue
				}
				slog.Info("Configuration reloaded")
				continue
			}
			slog.Info("Server shutting down...")
			return shutdown(srv, cancel, messages.Stop)
		}
	}
}

func shutdown(srv *http.Server, cancel context.CancelFunc, stopJobs func()) error {
	cancel()
	stopJobs()

	ctx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		return err
	}

	slog.Info("Server exited gracefully")
	return nil
}
