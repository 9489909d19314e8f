// Package server hosts the proxy's HTTP surface: the websocket endpoint
// clients connect to, plus the health and metrics routes.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Signal-Meaning/dg-react-agent-sub013/internal/config"
	"github.com/Signal-Meaning/dg-react-agent-sub013/internal/health"
	"github.com/Signal-Meaning/dg-react-agent-sub013/internal/observe"
	"github.com/Signal-Meaning/dg-react-agent-sub013/internal/session"
)

// forceCloseGrace bounds the wait for sessions after their context is
// cancelled at the end of the drain window.
const forceCloseGrace = 5 * time.Second

// Server accepts client websockets and runs one [session.Session] per
// connection.
type Server struct {
	cfg     *config.Config
	log     *slog.Logger
	metrics *observe.Metrics

	httpSrv        *http.Server
	sessCtx        context.Context
	cancelSessions context.CancelFunc
	sessions       sync.WaitGroup
	draining       atomic.Bool
}

// New builds a Server from the process configuration.
func New(cfg *config.Config, m *observe.Metrics, log *slog.Logger) *Server {
	return &Server{
		cfg:     cfg,
		log:     log,
		metrics: m,
		sessCtx: context.Background(),
	}
}

// Handler returns the HTTP handler serving the websocket, health and
// metrics routes. Run installs it on its own listener; tests can mount it
// directly.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+s.cfg.Server.Path, s.handleWS)
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(health.Checker{
		Name: "accepting",
		Check: func(context.Context) error {
			if s.draining.Load() {
				return errors.New("draining")
			}
			return nil
		},
	}).Register(mux)
	return mux
}

// Run serves until ctx is cancelled, then drains: the listener stops, live
// sessions get the configured drain window to finish, and whatever remains
// is force-closed. Returns an error only for a failed bind or an unexpected
// listener failure.
func (s *Server) Run(ctx context.Context) error {
	sessCtx, cancelSessions := context.WithCancel(context.Background())
	defer cancelSessions()
	s.sessCtx = sessCtx
	s.cancelSessions = cancelSessions

	ln, err := net.Listen("tcp", s.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", s.cfg.Server.ListenAddr, err)
	}
	s.httpSrv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.Info("listening",
		slog.String("addr", ln.Addr().String()),
		slog.String("path", s.cfg.Server.Path))

	serveErr := make(chan error, 1)
	go func() { serveErr <- s.httpSrv.Serve(ln) }()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: serve: %w", err)
	case <-ctx.Done():
	}

	return s.drain()
}

// drain stops accepting, waits out the drain window, then cancels the
// remaining sessions.
func (s *Server) drain() error {
	s.draining.Store(true)
	s.log.Info("draining", slog.Duration("window", s.cfg.Server.DrainTimeout))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.DrainTimeout)
	defer cancel()
	// Shutdown stops the listener; hijacked websocket connections are the
	// sessions' to finish.
	_ = s.httpSrv.Shutdown(shutdownCtx)

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("all sessions finished")
		return nil
	case <-shutdownCtx.Done():
	}

	// Cancelling the session context sends each remaining client a
	// going-away close and unwinds the pumps.
	s.log.Warn("drain window elapsed, force closing remaining sessions")
	s.cancelSessions()

	select {
	case <-done:
	case <-time.After(forceCloseGrace):
		s.log.Error("sessions did not finish after force close")
	}
	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.draining.Load() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		// Accept has already written the HTTP error response.
		s.log.Warn("websocket upgrade failed",
			slog.String("remote", r.RemoteAddr),
			slog.Any("error", err))
		return
	}
	conn.SetReadLimit(16 << 20)

	ctx := s.sessCtx
	s.metrics.SessionsStarted.Add(ctx, 1)
	s.metrics.ActiveSessions.Add(ctx, 1)

	sess := session.New(conn, session.Config{
		UpstreamURL:     s.cfg.Upstream.URL,
		APIKey:          s.cfg.Upstream.APIKey,
		Model:           s.cfg.Upstream.Model,
		DebounceWindow:  s.cfg.Audio.DebounceWindow,
		CommitThreshold: s.cfg.Audio.CommitThreshold,
		AckTimeout:      s.cfg.Session.AckTimeout,
		WriteQueueSize:  s.cfg.Session.WriteQueueSize,
		LogPayloads:     s.cfg.Server.LogPayloads,
	}, s.metrics, s.log)

	s.sessions.Add(1)
	defer s.sessions.Done()
	defer s.metrics.ActiveSessions.Add(context.Background(), -1)

	// The handler goroutine owns the hijacked connection; run the session
	// here rather than spawning another goroutine.
	_ = sess.Run(ctx)
}
