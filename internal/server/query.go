package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"nestbot/internal/logging"
)

// writeMargin covers encoding the answer after the QA deadline.
const writeMargin = 5 * time.Second

type answerer interface {
	Answer(ctx context.Context, text string) (string, error)
}

type Option func(*Server)

// WithQueryAPI enables POST /api/query, answered by qa. Requests must carry
// QUERY_API_TOKEN as a bearer token.
func WithQueryAPI(qa answerer) Option {
	return func(s *Server) { s.qa = qa }
}

type QueryRequest struct {
	Query string `json:"query"`
}

type QueryResponse struct {
	Query  string `json:"query"`
	Answer string `json:"answer"`
}

func (s *Server) authorized(r *http.Request) bool {
	token := s.config.Get().QueryAPIToken
	if token == "" {
		return false
	}
	got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return ok && subtle.ConstantTimeCompare([]byte(got), []byte(token)) == 1
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	logger := logging.LoggerFromContext(r.Context())

	if !s.authorized(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req QueryRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		http.Error(w, "Query cannot be empty", http.StatusBadRequest)
		return
	}

	timeout := s.config.Get().QATimeout
	// The server-wide write timeout is shorter than a QA run.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Now().Add(timeout + writeMargin)); err != nil && !errors.Is(err, http.ErrNotSupported) {
		logger.Warn("Could not extend write deadline", "error", err)
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	answer, err := s.qa.Answer(ctx, req.Query)
	if err != nil {
		logger.Error("Error processing query", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(QueryResponse{Query: req.Query, Answer: answer}); err != nil {
		logger.Error("Error encoding response", "error", err)
	}
}
