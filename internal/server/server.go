// Package server receives Slack interactions over HTTP.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"nestbot/internal/config"
	"nestbot/internal/dispatch"
	"nestbot/internal/logging"
	"nestbot/internal/middleware"
)

const (
	// Slack gives up on a request after 3s.
	ackTimeout = 2500 * time.Millisecond

	maxBodyBytes = 1 << 20
)

type dispatcher interface {
	Dispatch(ctx context.Context, in *dispatch.Interaction)
}

// ReadyFunc reports whether dependencies are reachable.
type ReadyFunc func(ctx context.Context) error

type Server struct {
	config     *config.Holder
	dispatcher dispatcher
	ready      ReadyFunc
	qa         answerer
	router     *mux.Router
}

func New(holder *config.Holder, d dispatcher, ready ReadyFunc, opts ...Option) *Server {
	s := &Server{config: holder, dispatcher: d, ready: ready}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	if holder.Get().SlackSigningSecret == "" {
		slog.Warn("SLACK_SIGNING_SECRET is not set, Slack requests will not be verified")
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.LoggingMiddleware)
	router.Use(middleware.MetricsMiddleware)

	slackRouter := router.PathPrefix("/slack").Subrouter()
	slackRouter.Use(middleware.SlackRateLimitMiddleware())
	slackRouter.Use(s.verifySignature)
	slackRouter.HandleFunc("/commands", s.handleCommand).Methods("POST")
	slackRouter.HandleFunc("/actions", s.handleAction).Methods("POST")
	slackRouter.HandleFunc("/events", s.handleEvent).Methods("POST")

	if s.qa != nil {
		apiRouter := router.PathPrefix("/api").Subrouter()
		apiRouter.Use(middleware.APIRateLimitMiddleware())
		apiRouter.HandleFunc("/query", s.handleQuery).Methods("POST")
	}

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	router.HandleFunc("/ready", s.handleReady).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	return router
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			logging.LoggerFromContext(r.Context()).Warn("Readiness check failed", "error", err)
			http.Error(w, "Not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}

// verifySignature checks the request signature against the signing secret
// and leaves the body readable for the handler. Without a secret requests pass
// unverified; Validate refuses that combination in production.
func (s *Server) verifySignature(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := logging.LoggerFromContext(r.Context())

		secret := s.config.Get().SlackSigningSecret
		if secret == "" {
			next.ServeHTTP(w, r)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			http.Error(w, "Invalid body", http.StatusBadRequest)
			return
		}

		verifier, err := slack.NewSecretsVerifier(r.Header, secret)
		if err != nil {
			logger.Warn("Rejected unsigned Slack request", "error", err)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		if _, err := verifier.Write(body); err != nil {
			http.Error(w, "Invalid body", http.StatusBadRequest)
			return
		}
		if err := verifier.Ensure(); err != nil {
			logger.Warn("Rejected Slack request with bad signature", "error", err)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

// dispatch runs the interactions past the request's lifetime and returns once
// the first has been acknowledged or ackTimeout passed.
func (s *Server) dispatch(r *http.Request, acked <-chan struct{}, interactions ...*dispatch.Interaction) {
	ctx := context.WithoutCancel(r.Context())
	go func() {
		for _, in := range interactions {
			s.dispatcher.Dispatch(ctx, in)
		}
	}()

	select {
	case <-acked:
	case <-time.After(ackTimeout):
		logging.LoggerFromContext(r.Context()).Warn("Interaction not acknowledged in time")
	}
}

// ackSignal returns a channel closed by the returned ack func. The func is
// safe to call more than once.
func ackSignal() (chan struct{}, func()) {
	acked := make(chan struct{})
	var once sync.Once
	return acked, func() {
		once.Do(func() { close(acked) })
	}
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	cmd, err := slack.SlashCommandParse(r)
	if err != nil {
		http.Error(w, "Invalid command", http.StatusBadRequest)
		return
	}

	acked, ack := ackSignal()
	s.dispatch(r, acked, dispatch.FromSlashCommand(cmd, ack))
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	payload := r.FormValue("payload")
	if payload == "" {
		http.Error(w, "Missing payload", http.StatusBadRequest)
		return
	}

	var callback slack.InteractionCallback
	if err := json.Unmarshal([]byte(payload), &callback); err != nil {
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}

	acked, ack := ackSignal()
	interactions := dispatch.FromInteractionCallback(callback, ack)
	if len(interactions) == 0 {
		w.WriteHeader(http.StatusOK)
		return
	}

	s.dispatch(r, acked, interactions...)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Invalid body", http.StatusBadRequest)
		return
	}

	event, err := dispatch.ParseEventsAPI(body)
	if err != nil {
		http.Error(w, "Invalid event", http.StatusBadRequest)
		return
	}

	if event.Type == slackevents.URLVerification {
		var challenge slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &challenge); err != nil {
			http.Error(w, "Invalid challenge", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(challenge.Challenge))
		return
	}

	// Retries repeat an event already being handled.
	if r.Header.Get("X-Slack-Retry-Num") != "" {
		w.WriteHeader(http.StatusOK)
		return
	}

	acked, ack := ackSignal()
	in, err := dispatch.FromEventsAPI(event, ack)
	if err != nil {
		logging.LoggerFromContext(r.Context()).Debug("Ignoring event", "type", event.Type, "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	s.dispatch(r, acked, in)
	w.WriteHeader(http.StatusOK)
}
