// Package transport binds the HTTP listener, routes the five WebSocket
// endpoints to their roles and runs the per-connection pumps. All session
// logic lives in the hub; this package only moves frames.
package transport

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jonmccon/pocket-parrot-sub001/internal/config"
	"github.com/jonmccon/pocket-parrot-sub001/internal/hub"
	"github.com/jonmccon/pocket-parrot-sub001/internal/metrics"
)

// Server is the HTTP/WebSocket front of the relay.
type Server struct {
	cfg     config.Config
	logger  *zap.Logger
	hub     *hub.Hub
	metrics *metrics.Registry

	upgrader   websocket.Upgrader
	httpServer *http.Server
	listener   net.Listener
	// Limits log noise from misbehaving clients (bad upgrades, junk
	// frames), not the traffic itself.
	logLimit  *rate.Limiter
	startTime time.Time
}

func NewServer(cfg config.Config, logger *zap.Logger, h *hub.Hub, m *metrics.Registry) *Server {
	return &Server{
		cfg:     cfg,
		logger:  logger,
		hub:     h,
		metrics: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.Server.ReadBufferSize,
			WriteBufferSize: cfg.Server.WriteBufferSize,
			// Trusted network boundary; origin checks belong to a
			// fronting proxy.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logLimit:  rate.NewLimiter(rate.Every(time.Second), 5),
		startTime: time.Now(),
	}
}

// Handler builds the endpoint dispatch table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/pocket-parrot", s.serveRole(hub.RoleProducer, s.cfg.Server.MaxProducerFrame))
	mux.HandleFunc("/dashboard", s.serveRole(hub.RoleDashboard, s.cfg.Server.MaxControlFrame))
	mux.HandleFunc("/listener", s.serveRole(hub.RolePassiveListener, s.cfg.Server.MaxControlFrame))
	mux.HandleFunc("/orientation", s.serveRole(hub.RoleOrientationListener, s.cfg.Server.MaxControlFrame))
	mux.HandleFunc("/bulk", s.serveRole(hub.RoleBulkListener, s.cfg.Server.MaxControlFrame))
	if s.cfg.Metrics.Enabled && s.metrics != nil {
		mux.Handle(s.cfg.Metrics.Endpoint, s.metrics.Handler())
	}
	return mux
}

// Start binds the listener and begins serving. A bind failure is
// returned to the caller; everything after that is handled per
// connection.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.listener = ln
	s.httpServer = &http.Server{Handler: s.Handler()}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http serve", zap.Error(err))
		}
	}()

	s.logger.Info("relay listening",
		zap.String("addr", addr),
		zap.Int("max_producers", s.cfg.Session.MaxProducers),
		zap.Duration("inactivity_timeout", s.cfg.Session.InactivityTimeout),
		zap.Duration("batch_interval", s.cfg.Batch.Interval),
		zap.Int("max_batch_size", s.cfg.Batch.MaxSize))
	return nil
}

// Shutdown stops accepting new connections and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// handleRoot serves the plain-text health banner. Unknown paths fall
// through here and are rejected.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "Pocket Parrot relay OK\nuptime: %s\n", time.Since(s.startTime).Round(time.Second))
}

// serveRole upgrades the connection, registers it with the hub under the
// given role and runs the pumps until the socket goes away.
func (s *Server) serveRole(role hub.Role, frameLimit int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			if s.logLimit.Allow() {
				s.logger.Warn("websocket upgrade failed",
					zap.String("path", r.URL.Path),
					zap.Error(err))
			}
			return
		}

		cl := newClient(conn, s.cfg.Server.SendQueueSize, s.cfg.Server.WriteTimeout, s.cfg.Server.PongTimeout, s.logger)
		go cl.writePump()

		id, ok := s.hub.Connect(role, cl)
		if !ok {
			// Admission denied; the write pump drains the rejection
			// frame before the socket closes.
			cl.Close()
			return
		}

		handle := s.inboundHandler(role, id)
		cl.readPump(frameLimit, handle)

		s.hub.Disconnect(id)
		cl.Close()
	}
}

// inboundHandler routes frames by role. Listener roles have no inbound
// protocol; their frames are dropped.
func (s *Server) inboundHandler(role hub.Role, id string) func([]byte) {
	switch role {
	case hub.RoleProducer:
		return func(msg []byte) { s.hub.HandleProducerMessage(id, msg) }
	case hub.RoleDashboard:
		return func(msg []byte) { s.hub.HandleDashboardMessage(id, msg) }
	default:
		return func(msg []byte) {
			if s.logLimit.Allow() {
				s.logger.Debug("ignoring inbound frame from listener",
					zap.String("id", id),
					zap.String("role", string(role)))
			}
		}
	}
}
