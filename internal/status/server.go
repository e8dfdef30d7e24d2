// Package status exposes the bridge's local observability surface over HTTP:
// a health probe, the connection and error state a frontend indicator would
// render, an endpoint to dismiss the visible error, and an ingress for chat
// widget message events.
package status

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"legalchat/internal/relay"
	"legalchat/internal/types"
)

// ConnectionReporter exposes the relay connection state.
type ConnectionReporter interface {
	State() relay.State
}

// ErrorStore exposes the dismissible routing error.
type ErrorStore interface {
	LastError() *types.AppError
	DismissError()
}

// MessageSink receives chat widget message events for routing.
type MessageSink interface {
	OnOutboundMessage(ctx context.Context, event types.ChatMessageEvent) error
}

// Server is the status surface. Construct one per session alongside the
// relay manager and router it reports on.
type Server struct {
	Session *types.Session
	Conn    ConnectionReporter
	Errors  ErrorStore
	Sink    MessageSink
	Logger  *slog.Logger

	router *chi.Mux
}

// NewServer wires the status surface over the given collaborators and mounts
// its routes.
func NewServer(session *types.Session, conn ConnectionReporter, errs ErrorStore, sink MessageSink, logger *slog.Logger) (*Server, error) {
	if conn == nil {
		return nil, fmt.Errorf("connection reporter must not be nil")
	}
	if errs == nil {
		return nil, fmt.Errorf("error store must not be nil")
	}
	if sink == nil {
		return nil, fmt.Errorf("message sink must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		Session: session,
		Conn:    conn,
		Errors:  errs,
		Sink:    sink,
		Logger:  logger,
		router:  chi.NewRouter(),
	}
	s.mountRoutes()
	return s, nil
}

// Handler returns the http.Handler for the status surface.
func (s *Server) Handler() http.Handler {
	return s.router
}

// mountRoutes registers middleware and routes. Recoverer is outermost so all
// panics are caught; RequestID runs before logging so every log line carries
// the correlation ID.
func (s *Server) mountRoutes() {
	s.router.Use(s.Recoverer)
	s.router.Use(RequestIDMiddleware)
	s.router.Use(RequestLogger(s.Logger))

	s.router.Get("/health", s.HandleHealth)
	s.router.Get("/status", s.HandleStatus)
	s.router.Delete("/status/error", s.HandleDismissError)
	s.router.Post("/events/message", s.HandleMessageEvent)
}

// healthResponse is the JSON body for the health probe.
type healthResponse struct {
	Status string `json:"status"`
}

// statusResponse mirrors what a frontend connection indicator renders: the
// relay state, the active session, and the current dismissible error if any.
type statusResponse struct {
	Connection relay.State    `json:"connection"`
	Session    *types.Session `json:"session,omitempty"`
	LastError  *ErrorDetail   `json:"lastError,omitempty"`
}

// HandleHealth reports process liveness. The bridge has no hard dependencies
// to probe: a broken relay connection is a degraded state the reconnect loop
// owns, not a reason to report unhealthy.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	JSON(w, r, http.StatusOK, healthResponse{Status: "healthy"})
}

// HandleStatus returns the current connection state, session, and visible
// error. Mounted at GET /status.
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Connection: s.Conn.State(),
		Session:    s.Session,
	}
	if appErr := s.Errors.LastError(); appErr != nil {
		resp.LastError = &ErrorDetail{
			Code:    string(appErr.Code),
			Message: appErr.Message,
			Details: appErr.Details,
		}
	}
	JSON(w, r, http.StatusOK, APIResponse{Data: resp})
}

// HandleDismissError clears the visible error. Mounted at DELETE
// /status/error; dismissing when no error is present is a no-op.
func (s *Server) HandleDismissError(w http.ResponseWriter, r *http.Request) {
	s.Errors.DismissError()
	w.WriteHeader(http.StatusNoContent)
}

// HandleMessageEvent accepts a chat message event from the widget and routes
// it. Routing failures surface both here and in the status error state.
// Mounted at POST /events/message.
func (s *Server) HandleMessageEvent(w http.ResponseWriter, r *http.Request) {
	var event types.ChatMessageEvent
	if err := DecodeJSON(w, r, &event); err != nil {
		Error(w, r, err)
		return
	}

	if err := s.Sink.OnOutboundMessage(r.Context(), event); err != nil {
		Error(w, r, err)
		return
	}

	JSON(w, r, http.StatusAccepted, APIResponse{Data: map[string]bool{"routed": true}})
}
