// Package httpapi exposes the assistant over a small JSON API.
package httpapi

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sales-assistant/internal/common/errors"
	"sales-assistant/internal/common/logger"
	"sales-assistant/internal/common/validation"
	"sales-assistant/internal/orchestrator"
)

const maxBodyBytes = 64 << 10

var turnSchema = validation.MustCompile([]byte(`{
  "type": "object",
  "required": ["conversationId", "text"],
  "properties": {
    "conversationId": {"type": "string", "minLength": 1, "maxLength": 256},
    "text": {"type": "string", "minLength": 1, "maxLength": 2000},
    "timestamp": {"type": "string", "format": "date-time"}
  },
  "additionalProperties": false
}`))

// Assistant is the part of the orchestrator the API needs.
type Assistant interface {
	ProcessTurn(ctx context.Context, conversationID, utterance string, at time.Time) (orchestrator.Response, error)
	Reset(ctx context.Context, conversationID string) error
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type TurnRequest struct {
	ConversationID string     `json:"conversationId"`
	Text           string     `json:"text"`
	Timestamp      *time.Time `json:"timestamp,omitempty"`
}

type errorBody struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

type Server struct {
	assistant Assistant
	checks    map[string]Pinger
	logger    logger.Logger
	clock     func() time.Time
}

// New builds the API. checks are pinged by /ready.
func New(assistant Assistant, checks map[string]Pinger, log logger.Logger) *Server {
	return &Server{
		assistant: assistant,
		checks:    checks,
		logger:    logger.ForComponent(log, "http-api"),
		clock:     time.Now,
	}
}

// Handler routes the API, health and metrics endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/turns", s.handleTurn)
	mux.HandleFunc("DELETE /v1/sessions/{id}", s.handleReset)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "request body too large"})
		return
	}

	res, err := turnSchema.Validate(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "request body is not valid JSON"})
		return
	}
	if !res.Valid {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request", Details: res.GetErrorMessages()})
		return
	}

	var req TurnRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request", Details: []string{err.Error()}})
		return
	}

	at := s.clock()
	if req.Timestamp != nil {
		at = *req.Timestamp
	}

	resp, err := s.assistant.ProcessTurn(r.Context(), req.ConversationID, req.Text, at)
	if err != nil {
		status := http.StatusServiceUnavailable
		if stderrors.Is(err, orchestrator.ErrEmptyConversationID) {
			status = http.StatusBadRequest
		}
		s.logger.Warn("Turn failed", map[string]interface{}{
			"conversationId": req.ConversationID,
			"code":           string(errors.CodeOf(err)),
			"error":          err.Error(),
		})
		// the body still carries text the user can be shown
		writeJSON(w, status, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.assistant.Reset(r.Context(), id); err != nil {
		s.logger.Error("Session reset failed", map[string]interface{}{
			"conversationId": id,
			"error":          err.Error(),
		})
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: errors.UserMessage(errors.CodeOf(err))})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   s.clock().Format(time.RFC3339),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	body := map[string]string{"status": "ready"}
	status := http.StatusOK
	for name, p := range s.checks {
		if err := p.Ping(ctx); err != nil {
			body[name] = err.Error()
			body["status"] = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		body[name] = "ok"
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Serve runs srv until ctx is cancelled and then shuts it down, waiting at
// most grace for in-flight turns.
func Serve(ctx context.Context, srv *http.Server, grace time.Duration, log logger.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", map[string]interface{}{"address": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
