package hub

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/jonmccon/pocket-parrot-sub001/internal/protocol"
)

// handleDataLocked accepts a data frame from the active sender and fans
// it out. Frames from any other producer are rejected without state
// change.
func (h *Hub) handleDataLocked(c *conn, frame protocol.DataFrame) {
	if h.activeSender != c.id {
		c.peer.Send(protocol.Rejected{
			Type:      protocol.TypeRejected,
			Timestamp: protocol.Now(),
			Reason:    protocol.ReasonNotActive,
		})
		h.countRejection("not_sender")
		return
	}
	if len(frame.Data) == 0 {
		h.logger.Debug("data frame without payload", zap.String("id", c.id))
		return
	}

	var payload protocol.SensorPayload
	if err := json.Unmarshal(frame.Data, &payload); err != nil {
		h.logger.Debug("unparseable sensor payload", zap.String("id", c.id), zap.Error(err))
		return
	}

	c.dataCount++
	c.lastData = time.Now()
	h.recordDataPointLocked()
	h.armInactivityLocked()

	now := protocol.Now()

	// Orientation fast path first: never batched, never queued behind
	// the other dispatches for this frame.
	if payload.Orientation != nil {
		h.sendToRoleLocked(RoleOrientationListener, protocol.OrientationData{
			Type:        protocol.TypeOrientationData,
			Timestamp:   now,
			UserID:      c.id,
			Username:    c.username,
			Orientation: *payload.Orientation,
		})
		h.countFanout("orientation")
	}

	h.enqueueBulkLocked(protocol.BulkRecord{
		Timestamp:       now,
		UserID:          c.id,
		Username:        c.username,
		ID:              payload.ID,
		GPS:             payload.GPS,
		Motion:          payload.Motion,
		Weather:         payload.Weather,
		ObjectsDetected: payload.ObjectsDetected,
		PhotoBase64:     payload.PhotoBase64,
		AudioBase64:     payload.AudioBase64,
		ColorPalette:    payload.ColorPalette,
	})

	h.sendToRoleLocked(RolePassiveListener, protocol.SensorData{
		Type:      protocol.TypeSensorData,
		Timestamp: now,
		UserID:    c.id,
		Username:  c.username,
		Data:      frame.Data,
	})
	h.countFanout("sensor")

	h.sendToRoleLocked(RoleDashboard, protocol.DataReceived{
		Type:      protocol.TypeDataReceived,
		Timestamp: now,
		UserID:    c.id,
		Username:  c.username,
		DataID:    payload.ID,
	})
	h.countFanout("dashboard")

	h.pushStatsLocked()

	c.peer.Send(protocol.Ack{
		Type:      protocol.TypeAck,
		Timestamp: now,
		Received:  payload.ID,
	})
}

// sendToRoleLocked delivers one message to every connection in a role.
// Sends are best-effort; a peer with a full buffer just misses the event.
func (h *Hub) sendToRoleLocked(role Role, v any) {
	for _, c := range h.reg.role(role) {
		if !c.peer.Send(v) {
			if h.metrics != nil {
				h.metrics.DroppedSends.Inc()
			}
		}
	}
}

// pushStatsLocked emits the current snapshot to dashboards and passive
// listeners.
func (h *Hub) pushStatsLocked() {
	msg := h.statsMessageLocked()
	h.sendToRoleLocked(RoleDashboard, msg)
	h.sendToRoleLocked(RolePassiveListener, msg)
}

func (h *Hub) countFanout(path string) {
	if h.metrics != nil {
		h.metrics.FanoutTotal.WithLabelValues(path).Inc()
	}
}
