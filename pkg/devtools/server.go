package devtools

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/reagent-go/reagent/pkg/reagent"
)

// Server exposes a running engine for inspection:
//
//	GET /graph   — JSON snapshot of cells, subscriptions, queue depths
//	GET /events  — WebSocket stream of engine events
//	GET /metrics — Prometheus metrics (default registry)
//
// The server is read-only; it never mutates the engine. Intended for
// development and debugging, not for exposure on untrusted networks.
type Server struct {
	engine *reagent.Engine
	sink   *StreamSink
	logger *slog.Logger

	upgrader websocket.Upgrader
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the logger for connection errors.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates an inspector for the engine. sink must be the
// StreamSink installed on the engine via reagent.WithEventSink (or a
// sink the engine's events are otherwise forwarded to); pass nil to
// disable the /events endpoint.
func NewServer(engine *reagent.Engine, sink *StreamSink, opts ...ServerOption) *Server {
	s := &Server{
		engine: engine,
		sink:   sink,
		logger: slog.Default(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the inspector's HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/graph", s.handleGraph)
	r.Get("/events", s.handleEvents)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	snap := s.engine.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		s.logger.Error("devtools: graph encode failed", "err", err)
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.sink == nil {
		http.Error(w, "event stream not configured", http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("devtools: websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	events, cancel := s.sink.Subscribe()
	defer cancel()

	// Reader goroutine: detect client close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}
