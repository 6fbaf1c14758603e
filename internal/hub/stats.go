package hub

import (
	"time"

	"github.com/jonmccon/pocket-parrot-sub001/internal/protocol"
)

// recordDataPointLocked bumps the throughput counters. The per-minute
// counter also resets lazily here if the reset ticker has fallen behind.
func (h *Hub) recordDataPointLocked() {
	if time.Since(h.lastRateReset) > h.cfg.Session.RateWindow {
		h.minuteDataPoints = 0
		h.lastRateReset = time.Now()
	}
	h.totalDataPoints++
	h.minuteDataPoints++
	if h.metrics != nil {
		h.metrics.DataPointsTotal.Inc()
	}
}

// rateResetLoop zeroes the per-minute counter on a fixed cadence. This
// wake is independent of the status-report wake.
func (h *Hub) rateResetLoop() {
	defer h.wg.Done()
	ticker := time.NewTicker(h.cfg.Session.RateWindow)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.mu.Lock()
			h.minuteDataPoints = 0
			h.lastRateReset = time.Now()
			h.mu.Unlock()
		}
	}
}

// snapshotLocked assembles the stats snapshot described to dashboards
// and passive listeners.
func (h *Hub) snapshotLocked() protocol.StatsSnapshot {
	snap := protocol.StatsSnapshot{
		ActiveProducers:      h.reg.count(RoleProducer),
		Dashboards:           h.reg.count(RoleDashboard),
		PassiveListeners:     h.reg.count(RolePassiveListener),
		OrientationListeners: h.reg.count(RoleOrientationListener),
		BulkListeners:        h.reg.count(RoleBulkListener),
		TotalDataPoints:      h.totalDataPoints,
		DataPointsLastMinute: h.minuteDataPoints,
		BulkQueueSize:        len(h.bulkQueue),
		UptimeSeconds:        int64(time.Since(h.startTime).Seconds()),
		Users:                make([]protocol.ProducerInfo, 0, h.reg.count(RoleProducer)),
	}
	if h.activeSender != "" {
		id := h.activeSender
		snap.ActiveSender = &id
	}

	for _, c := range h.reg.role(RoleProducer) {
		info := protocol.ProducerInfo{
			ID:             c.id,
			ConnectedAt:    c.connectedAt.UnixMilli(),
			DataCount:      c.dataCount,
			Username:       c.username,
			IsActiveSender: c.id == h.activeSender,
			DeviceID:       c.deviceID,
			RemoteAddress:  c.remoteAddr,
		}
		if !c.lastData.IsZero() {
			t := c.lastData.UnixMilli()
			info.LastDataTime = &t
		}
		snap.Users = append(snap.Users, info)
	}
	return snap
}

func (h *Hub) statsMessageLocked() protocol.StatsMessage {
	return protocol.StatsMessage{
		Type:      protocol.TypeStats,
		Timestamp: protocol.Now(),
		Stats:     h.snapshotLocked(),
	}
}
