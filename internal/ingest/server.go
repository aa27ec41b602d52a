package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"loupe/internal/logging"
	"loupe/internal/observability"
)

// Frame is one browser-extension message. Only type "url_change" is
// recognised; everything else is dropped.
type Frame struct {
	Type        string  `json:"type"`
	URL         string  `json:"url"`
	ProfileName string  `json:"profileName"`
	Title       string  `json:"title"`
	TabID       int64   `json:"tabId"`
	Timestamp   float64 `json:"timestamp"`
}

// Server accepts extension frames over a loopback WebSocket and keeps the
// most recent accepted frame for the monitor loop to correlate against the
// foreground window.
type Server struct {
	addr    string
	logger  logging.Logger
	metrics *observability.MetricsCollector

	upgrader websocket.Upgrader
	httpSrv  *http.Server

	mu     sync.Mutex
	latest Frame
	hasOne bool
}

// NewServer builds an ingester bound to addr. Non-loopback addresses are
// refused: the port is the extension's only door and must never face the
// network.
func NewServer(addr string, logger logging.Logger, metrics *observability.MetricsCollector) (*Server, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid ingest address %q: %w", addr, err)
	}
	if ip := net.ParseIP(host); ip == nil || !ip.IsLoopback() {
		return nil, fmt.Errorf("ingest address %q is not loopback", addr)
	}
	if metrics == nil {
		metrics = &observability.MetricsCollector{}
	}
	return &Server{
		addr:    addr,
		logger:  logging.OrNop(logger),
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 1024,
			// Extensions send no Origin the server recognises; the loopback
			// bind is the trust boundary.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}, nil
}

// Run binds the listener and serves until ctx is cancelled. A bind failure
// is fatal for the ingester only; the caller degrades to tracking without
// URL data.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("ingest listener on %s: %w", s.addr, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleConn)
	s.httpSrv = &http.Server{Handler: mux}

	errc := make(chan error, 1)
	go func() { errc <- s.httpSrv.Serve(listener) }()
	s.logger.Info("browser extension listener on ws://%s", s.addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
		return nil
	case err := <-errc:
		if err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("ingest server: %w", err)
	}
}

// Close shuts the listener down; in-flight client reads abort.
func (s *Server) Close() error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Close()
}

func (s *Server) handleConn(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("extension upgrade failed: %v", err)
		return
	}
	defer func() { _ = conn.Close() }()
	s.logger.Info("browser extension connected from %s", r.RemoteAddr)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			s.logger.Info("browser extension disconnected: %v", err)
			return
		}
		s.ingest(r.Context(), payload)
	}
}

// ingest parses one message and stores it when it is a well-formed
// url_change. Malformed or unrecognised messages are dropped without a
// client-visible error.
func (s *Server) ingest(ctx context.Context, payload []byte) {
	var frame Frame
	if err := json.Unmarshal(payload, &frame); err != nil {
		s.logger.Debug("discarding malformed extension message: %v", err)
		s.metrics.RecordFrame(ctx, "discarded")
		return
	}
	if frame.Type != "url_change" || frame.URL == "" {
		s.logger.Debug("discarding extension message of type %q", frame.Type)
		s.metrics.RecordFrame(ctx, "discarded")
		return
	}

	s.mu.Lock()
	s.latest = frame
	s.hasOne = true
	s.mu.Unlock()
	s.metrics.RecordFrame(ctx, "accepted")
}

// Latest copies out the most recent accepted frame. The lock is held for the
// duration of the copy only.
func (s *Server) Latest() (Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.hasOne
}
