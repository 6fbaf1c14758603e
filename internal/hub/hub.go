// Package hub implements the session core of the relay: the connection
// registry, the single-active-sender arbiter, the fan-out router, the
// bulk batcher and the statistics aggregator. All core state is mutated
// under one mutex; the transport delivers events (connects, frames,
// disconnects) one at a time per connection.
package hub

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jonmccon/pocket-parrot-sub001/internal/config"
	"github.com/jonmccon/pocket-parrot-sub001/internal/metrics"
	"github.com/jonmccon/pocket-parrot-sub001/internal/protocol"
)

// Hub owns all session state. Metrics may be nil (tests).
type Hub struct {
	cfg     config.Config
	logger  *zap.Logger
	metrics *metrics.Registry

	mu       sync.Mutex
	reg      *registry
	sessions ledger

	activeSender    string
	timerSeq        uint64
	inactivityTimer *time.Timer

	bulkQueue   []protocol.BulkRecord
	bulkStop    chan struct{}
	bulkRunning bool

	totalDataPoints  int64
	minuteDataPoints int64
	lastRateReset    time.Time
	startTime        time.Time

	closed bool
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a hub. Call Start to launch the periodic loops.
func New(cfg config.Config, logger *zap.Logger, reg *metrics.Registry) *Hub {
	now := time.Now()
	return &Hub{
		cfg:           cfg,
		logger:        logger,
		metrics:       reg,
		reg:           newRegistry(),
		sessions:      make(ledger),
		startTime:     now,
		lastRateReset: now,
		stopCh:        make(chan struct{}),
	}
}

// Start launches the status-report and rate-reset loops. The two 60 s
// wakes are independent and may drift relative to each other.
func (h *Hub) Start() {
	h.wg.Add(2)
	go h.statusLoop()
	go h.rateResetLoop()
}

// Connect registers a new connection in the given role and returns its
// connection id. ok is false when admission was denied (producer cap) or
// the hub is shutting down; the caller closes the socket in both cases.
func (h *Hub) Connect(role Role, p Peer) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		p.Send(protocol.Rejected{Type: protocol.TypeRejected, Timestamp: protocol.Now(), Reason: protocol.ReasonServerClosing})
		return "", false
	}

	if role == RoleProducer && h.reg.count(RoleProducer) >= h.cfg.Session.MaxProducers {
		p.Send(protocol.Rejected{Type: protocol.TypeRejected, Timestamp: protocol.Now(), Reason: protocol.ReasonCapacity})
		h.countRejection("capacity")
		h.logger.Warn("producer rejected, capacity reached",
			zap.Int("max_producers", h.cfg.Session.MaxProducers))
		return "", false
	}

	c := &conn{
		id:          newConnID(role),
		role:        role,
		peer:        p,
		remoteAddr:  p.RemoteAddr(),
		connectedAt: time.Now(),
	}
	if role == RoleProducer {
		// Overwritten by the handshake when the client supplies one.
		c.deviceID = "unknown_" + c.id
	}
	h.reg.add(c)
	if h.metrics != nil {
		h.metrics.ActiveConnections.WithLabelValues(string(role)).Inc()
	}
	h.logger.Info("connection registered",
		zap.String("id", c.id),
		zap.String("role", string(role)),
		zap.String("remote", c.remoteAddr))

	switch role {
	case RoleDashboard:
		c.peer.Send(h.statsMessageLocked())
	case RolePassiveListener:
		c.peer.Send(protocol.ListenerConnected{
			Type:      protocol.TypeListenerConnected,
			Timestamp: protocol.Now(),
			Message:   "Connected to sensor data stream",
		})
	case RoleOrientationListener:
		c.peer.Send(protocol.ListenerConnected{
			Type:      protocol.TypeOrientationListenerConnected,
			Timestamp: protocol.Now(),
			Message:   "Connected to orientation stream",
		})
	case RoleBulkListener:
		c.peer.Send(protocol.BulkListenerConnected{
			Type:          protocol.TypeBulkListenerConnected,
			Timestamp:     protocol.Now(),
			BatchInterval: h.cfg.Batch.Interval.Milliseconds(),
			MaxBatchSize:  h.cfg.Batch.MaxSize,
		})
		if h.reg.count(RoleBulkListener) == 1 {
			h.startBulkTickerLocked()
		}
	}

	h.pushStatsLocked()
	return c.id, true
}

// Disconnect runs the full disconnect handling for a connection: ledger
// write, registry removal, dashboard notification and, for a departing
// active sender, successor promotion.
func (h *Hub) Disconnect(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c := h.reg.remove(id)
	if c == nil {
		return
	}
	if h.metrics != nil {
		h.metrics.ActiveConnections.WithLabelValues(string(c.role)).Dec()
	}
	h.logger.Info("connection closed",
		zap.String("id", c.id),
		zap.String("role", string(c.role)))

	switch c.role {
	case RoleProducer:
		wasActive := h.activeSender == c.id
		// Ledger first: WasActiveSender reflects pre-disconnect state.
		h.sessions.record(c, wasActive, time.Now())
		h.sendToRoleLocked(RoleDashboard, protocol.UserEvent{
			Type:       protocol.TypeUserDisconnected,
			Timestamp:  protocol.Now(),
			UserID:     c.id,
			Username:   c.username,
			DeviceID:   c.deviceID,
			TotalUsers: h.reg.count(RoleProducer),
		})
		if wasActive {
			h.clearInactivityLocked()
			h.activeSender = ""
			h.promoteSuccessorLocked(c.id)
		}
	case RoleBulkListener:
		if h.reg.count(RoleBulkListener) == 0 {
			h.stopBulkTickerLocked()
		}
	}

	h.pushStatsLocked()
}

// HandleProducerMessage processes one inbound frame from a producer
// connection. Malformed frames and unknown types are logged and dropped.
func (h *Hub) HandleProducerMessage(id string, raw []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		h.logger.Debug("malformed producer frame", zap.String("id", id), zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	c := h.reg.producer(id)
	if c == nil {
		return
	}

	switch env.Type {
	case protocol.TypeHandshake:
		var hs protocol.Handshake
		if err := json.Unmarshal(raw, &hs); err != nil {
			h.logger.Debug("malformed handshake", zap.String("id", id), zap.Error(err))
			return
		}
		h.handleHandshakeLocked(c, hs)
	case protocol.TypeData:
		var frame protocol.DataFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			h.logger.Debug("malformed data frame", zap.String("id", id), zap.Error(err))
			return
		}
		h.handleDataLocked(c, frame)
	case protocol.TypeRequestSenderRole:
		h.handleSenderRequestLocked(c)
	default:
		h.logger.Debug("unknown producer message type",
			zap.String("id", id),
			zap.String("type", env.Type))
	}
}

// HandleDashboardMessage processes one inbound control frame from a
// dashboard connection.
func (h *Hub) HandleDashboardMessage(id string, raw []byte) {
	var cmd protocol.DashboardCommand
	if err := json.Unmarshal(raw, &cmd); err != nil {
		h.logger.Debug("malformed dashboard frame", zap.String("id", id), zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	c := h.reg.lookup(id)
	if c == nil || c.role != RoleDashboard {
		return
	}

	switch cmd.Type {
	case protocol.TypeGetStats:
		c.peer.Send(h.statsMessageLocked())
	case protocol.TypeKickUser:
		h.kickUserLocked(cmd.UserID)
	case protocol.TypePromoteUser:
		h.promoteUserLocked(cmd.UserID)
	case protocol.TypeDemoteUser:
		h.demoteUserLocked()
	default:
		h.logger.Debug("unknown dashboard message type",
			zap.String("id", id),
			zap.String("type", cmd.Type))
	}
}

// Shutdown cancels all timers, flushes the bulk queue once, notifies
// every non-dashboard subscriber and closes all sockets.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true

	h.clearInactivityLocked()
	h.stopBulkTickerLocked()
	h.flushBulkLocked()

	bye := protocol.ServerShutdown{
		Type:      protocol.TypeServerShutdown,
		Timestamp: protocol.Now(),
		Message:   "Server is shutting down",
	}
	for _, role := range []Role{RoleProducer, RolePassiveListener, RoleOrientationListener, RoleBulkListener} {
		h.sendToRoleLocked(role, bye)
	}

	peers := make([]Peer, 0, len(h.reg.byID))
	for _, c := range h.reg.byID {
		peers = append(peers, c.peer)
	}
	h.mu.Unlock()

	close(h.stopCh)
	for _, p := range peers {
		p.Close()
	}
	h.wg.Wait()
	h.logger.Info("hub shutdown complete")
}

// statusLoop logs a status report every status interval while at least
// one connection of any role is attached.
func (h *Hub) statusLoop() {
	defer h.wg.Done()
	ticker := time.NewTicker(h.cfg.Session.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.mu.Lock()
			total := len(h.reg.byID)
			if total == 0 {
				h.mu.Unlock()
				continue
			}
			snap := h.snapshotLocked()
			h.mu.Unlock()

			sys := metrics.SampleSystem()
			h.logger.Info("status report",
				zap.Int("producers", snap.ActiveProducers),
				zap.Int("dashboards", snap.Dashboards),
				zap.Int("listeners", snap.PassiveListeners),
				zap.Int("orientation_listeners", snap.OrientationListeners),
				zap.Int("bulk_listeners", snap.BulkListeners),
				zap.Int64("total_data_points", snap.TotalDataPoints),
				zap.Int64("points_last_minute", snap.DataPointsLastMinute),
				zap.Int("bulk_queue", snap.BulkQueueSize),
				zap.Int64("uptime_s", snap.UptimeSeconds),
				zap.Float64("cpu_pct", sys.CPUPercent),
				zap.Float64("rss_mb", sys.RSSMB),
				zap.Int("goroutines", sys.Goroutines))
		}
	}
}

func (h *Hub) countRejection(reason string) {
	if h.metrics != nil {
		h.metrics.Rejections.WithLabelValues(reason).Inc()
	}
}
