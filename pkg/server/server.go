// Package server exposes a minimal HTTP API around the agent loop, including
// an SSE streaming endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cexll/linguahome-go/pkg/agent"
	"github.com/cexll/linguahome-go/pkg/audit"
	"github.com/cexll/linguahome-go/pkg/catalog"
	"github.com/cexll/linguahome-go/pkg/event"
)

// Server routes HTTP traffic onto a Loop.
type Server struct {
	loop    *agent.Loop
	catalog *catalog.Catalog
	mux     *http.ServeMux
	logger  *zap.Logger
	journal *audit.Journal
	events  *event.Stream
}

// Option customizes a Server.
type Option func(*Server)

// WithLogger attaches a structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithAudit persists actuator commands seen on the monitor channel.
func WithAudit(journal *audit.Journal) Option {
	return func(s *Server) { s.journal = journal }
}

// New creates a Server with pre-wired routes.
func New(loop *agent.Loop, cat *catalog.Catalog, opts ...Option) *Server {
	srv := &Server{
		loop:    loop,
		catalog: cat,
		mux:     http.NewServeMux(),
		logger:  zap.NewNop(),
		events:  event.NewStream(),
	}
	for _, opt := range opts {
		opt(srv)
	}
	srv.routes()
	return srv
}

func (s *Server) routes() {
	s.mux.HandleFunc("/run", s.handleRun)
	s.mux.HandleFunc("/run/stream", s.handleStream)
	s.mux.HandleFunc("/events", s.handleEvents)
	s.mux.HandleFunc("/devices", s.handleDevices)
	s.mux.HandleFunc("/healthz", s.handleHealth)
}

// ServeHTTP implements http.Handler and delegates to the internal mux.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe starts the HTTP server on addr.
func (s *Server) ListenAndServe(addr string) error {
	return http.ListenAndServe(addr, s)
}

// MonitorBus drains the monitor channel into the structured log and the
// /events broadcast stream until ctx ends or the channel closes.
func (s *Server) MonitorBus(ctx context.Context, monitor <-chan event.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-monitor:
			if !ok {
				return
			}
			s.logMonitorEvent(evt)
			if err := s.events.Send(evt); err != nil {
				s.logger.Debug("broadcast monitor event", zap.Error(err))
			}
		}
	}
}

func (s *Server) logMonitorEvent(evt event.Event) {
	fields := []zap.Field{
		zap.String("event_id", evt.ID),
		zap.String("session_id", evt.SessionID),
	}
	switch data := evt.Data.(type) {
	case event.ErrorData:
		fields = append(fields, zap.String("kind", data.Kind), zap.String("message", data.Message))
		s.logger.Warn("pipeline error", fields...)
	case event.AuditData:
		fields = append(fields,
			zap.Int("actuator_id", data.ActuatorID),
			zap.String("action", data.Action),
			zap.Bool("ok", data.OK))
		s.logger.Info("device command", fields...)
		if s.journal != nil {
			err := s.journal.Append(audit.Record{
				Time:       evt.Timestamp,
				SessionID:  evt.SessionID,
				TurnID:     evt.TurnID,
				ActuatorID: data.ActuatorID,
				Action:     data.Action,
				Value:      data.Value,
				OK:         data.OK,
			})
			if err != nil {
				s.logger.Warn("audit append failed", zap.Error(err))
			}
		}
	default:
		s.logger.Info("monitor event", append(fields, zap.String("type", string(evt.Type)))...)
	}
}

type runPayload struct {
	Input     string `json:"input"`
	SessionID string `json:"session_id"`
}

type runResponse struct {
	TurnID    string `json:"turn_id"`
	SessionID string `json:"session_id"`
	Response  string `json:"response"`
	Outcome   string `json:"outcome"`
	Attempts  int    `json:"attempts"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()
	var payload runPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	input := strings.TrimSpace(payload.Input)
	if input == "" {
		http.Error(w, "input is required", http.StatusBadRequest)
		return
	}
	sessionID := strings.TrimSpace(payload.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	reply, err := s.loop.Submit(r.Context(), agent.Request{SessionID: sessionID, Utterance: input})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusRequestTimeout
		}
		http.Error(w, err.Error(), status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(runResponse{
		TurnID:    reply.TurnID,
		SessionID: sessionID,
		Response:  reply.Response,
		Outcome:   string(reply.Outcome),
		Attempts:  reply.Attempts,
	}); err != nil {
		s.logger.Warn("encode run response", zap.Error(err))
	}
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	query := r.URL.Query()
	input := strings.TrimSpace(query.Get("input"))
	if input == "" {
		http.Error(w, "input is required", http.StatusBadRequest)
		return
	}
	sessionID := strings.TrimSpace(query.Get("session_id"))
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	events, err := s.loop.SubmitStream(r.Context(), agent.Request{SessionID: sessionID, Utterance: input})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := event.ServeEventSource(w, r, events); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("stream turn", zap.String("session_id", sessionID), zap.Error(err))
	}
}

// handleEvents attaches the caller to the shared monitor broadcast. Every
// connected client sees the audit/error events flowing through MonitorBus.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.events.ServeHTTP(w, r)
}

type deviceEntry struct {
	Name         string `json:"name"`
	SensorID     int    `json:"sensor_id"`
	ActuatorID   int    `json:"actuator_id,omitempty"`
	Room         string `json:"room"`
	Kind         string `json:"kind"`
	Controllable bool   `json:"controllable"`
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	devices := s.catalog.Devices()
	entries := make([]deviceEntry, 0, len(devices))
	for _, d := range devices {
		entries = append(entries, deviceEntry{
			Name:         d.Name,
			SensorID:     d.SensorID,
			ActuatorID:   d.ActuatorID,
			Room:         d.Room,
			Kind:         string(d.Kind),
			Controllable: d.Controllable(),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(entries); err != nil {
		s.logger.Warn("encode devices response", zap.Error(err))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
