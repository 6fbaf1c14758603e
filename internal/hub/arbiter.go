package hub

import (
	"time"

	"go.uber.org/zap"

	"github.com/jonmccon/pocket-parrot-sub001/internal/protocol"
)

// handleHandshakeLocked binds device identity to the producer and decides
// its role: first producer in wins, a recently-disconnected former sender
// may hot-reclaim, everyone else observes.
func (h *Hub) handleHandshakeLocked(c *conn, hs protocol.Handshake) {
	if hs.DeviceID != "" {
		c.deviceID = hs.DeviceID
	}
	c.username = hs.Username

	prev, known := h.sessions.lookup(c.deviceID)
	if known && time.Since(prev.DisconnectedAt) <= h.cfg.Session.ReconnectWindow {
		// The 5-minute window only informs this log line; promotion is
		// governed by the shorter window below.
		h.logger.Info("device reconnected",
			zap.String("id", c.id),
			zap.String("device_id", c.deviceID),
			zap.Duration("gap", time.Since(prev.DisconnectedAt)),
			zap.Bool("was_active_sender", prev.WasActiveSender))
	}

	hotReclaim := known &&
		prev.WasActiveSender &&
		time.Since(prev.DisconnectedAt) <= h.cfg.Session.ReconnectPromotionWindow

	assigned := protocol.RoleObserver
	switch {
	case h.activeSender == "" || h.activeSender == c.id:
		assigned = protocol.RoleSender
	case hotReclaim:
		incumbent := h.reg.producer(h.activeSender)
		if incumbent != nil && h.silenceLocked(incumbent) > h.cfg.Session.ReclaimIdleThreshold {
			assigned = protocol.RoleSender
		}
	}

	c.peer.Send(protocol.Welcome{
		Type:      protocol.TypeWelcome,
		Timestamp: protocol.Now(),
		ClientID:  c.id,
		Role:      assigned,
	})

	if assigned == protocol.RoleSender {
		if h.activeSender != "" && h.activeSender != c.id {
			h.demoteActiveLocked("replaced by reconnecting sender")
		}
		h.promoteLocked(c)
	} else {
		active := h.reg.producer(h.activeSender)
		notice := protocol.ObserverMode{
			Type:         protocol.TypeObserverMode,
			Timestamp:    protocol.Now(),
			ActiveSender: h.activeSender,
			Message:      "Another device is currently sending data",
		}
		if active != nil {
			notice.ActiveUsername = active.username
		}
		c.peer.Send(notice)
	}

	h.sendToRoleLocked(RoleDashboard, protocol.UserEvent{
		Type:       protocol.TypeUserConnected,
		Timestamp:  protocol.Now(),
		UserID:     c.id,
		Username:   c.username,
		DeviceID:   c.deviceID,
		TotalUsers: h.reg.count(RoleProducer),
	})
	h.pushStatsLocked()
}

// handleSenderRequestLocked grants an explicit role request when there is
// no sender or the incumbent has gone silent past the inactivity timeout.
func (h *Hub) handleSenderRequestLocked(c *conn) {
	if h.activeSender == c.id {
		return
	}
	if h.activeSender != "" {
		incumbent := h.reg.producer(h.activeSender)
		if incumbent != nil && h.silenceLocked(incumbent) <= h.cfg.Session.InactivityTimeout {
			c.peer.Send(protocol.Rejected{
				Type:      protocol.TypeRejected,
				Timestamp: protocol.Now(),
				Reason:    protocol.ReasonSenderFresh,
			})
			h.countRejection("role_contention")
			return
		}
		h.demoteActiveLocked("inactive, replaced on request")
	}
	h.promoteLocked(c)
	h.pushStatsLocked()
}

// promoteLocked makes c the active sender and performs all promotion
// side-effects: promoted to c, sender_changed to producers, senderPromoted
// to dashboards, inactivity timer armed.
func (h *Hub) promoteLocked(c *conn) {
	h.activeSender = c.id
	c.promotedAt = time.Now()

	c.peer.Send(protocol.Promoted{
		Type:      protocol.TypePromoted,
		Timestamp: protocol.Now(),
		Role:      protocol.RoleSender,
	})
	h.sendToRoleLocked(RoleProducer, protocol.SenderChanged{
		Type:         protocol.TypeSenderChanged,
		Timestamp:    protocol.Now(),
		ActiveSender: c.id,
		Username:     c.username,
	})
	h.sendToRoleLocked(RoleDashboard, protocol.SenderPromoted{
		Type:      protocol.TypeSenderPromoted,
		Timestamp: protocol.Now(),
		UserID:    c.id,
		Username:  c.username,
	})

	h.armInactivityLocked()
	h.logger.Info("sender promoted",
		zap.String("id", c.id),
		zap.String("username", c.username))
}

// demoteActiveLocked sends demoted to the current sender and clears the
// active slot and timer. It does not pick a successor.
func (h *Hub) demoteActiveLocked(reason string) {
	c := h.reg.producer(h.activeSender)
	h.clearInactivityLocked()
	h.activeSender = ""
	if c == nil {
		return
	}
	c.promotedAt = time.Time{}
	c.peer.Send(protocol.Demoted{
		Type:      protocol.TypeDemoted,
		Timestamp: protocol.Now(),
		Reason:    reason,
	})
	h.logger.Info("sender demoted", zap.String("id", c.id), zap.String("reason", reason))
}

// promoteSuccessorLocked promotes the most-recently-connected producer
// other than exclude, or leaves the arbiter idle when none remains.
func (h *Hub) promoteSuccessorLocked(exclude string) {
	next := h.reg.mostRecentProducer(exclude)
	if next == nil {
		h.logger.Info("no producers remaining, sender slot idle")
		return
	}
	h.promoteLocked(next)
}

// silenceLocked reports how long a producer has gone without an accepted
// frame. A sender that never sent one is measured from its promotion, and
// before that from admission.
func (h *Hub) silenceLocked(c *conn) time.Duration {
	switch {
	case !c.lastData.IsZero():
		return time.Since(c.lastData)
	case !c.promotedAt.IsZero():
		return time.Since(c.promotedAt)
	default:
		return time.Since(c.connectedAt)
	}
}

// armInactivityLocked schedules the single demotion timer. The sequence
// number invalidates any previously scheduled fire.
func (h *Hub) armInactivityLocked() {
	if h.inactivityTimer != nil {
		h.inactivityTimer.Stop()
	}
	h.timerSeq++
	seq := h.timerSeq
	h.inactivityTimer = time.AfterFunc(h.cfg.Session.InactivityTimeout, func() {
		h.onInactivityTimeout(seq)
	})
}

func (h *Hub) clearInactivityLocked() {
	if h.inactivityTimer != nil {
		h.inactivityTimer.Stop()
		h.inactivityTimer = nil
	}
	h.timerSeq++
}

// onInactivityTimeout demotes a sender that stayed silent for the full
// timeout and promotes the most recently connected remaining producer.
func (h *Hub) onInactivityTimeout(seq uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if seq != h.timerSeq || h.activeSender == "" || h.closed {
		return
	}
	demoted := h.activeSender
	h.demoteActiveLocked("inactivity timeout")
	h.promoteSuccessorLocked(demoted)
	h.pushStatsLocked()
}

// kickUserLocked forcibly disconnects a producer on dashboard request.
// The transport observes the close and runs normal disconnect handling.
func (h *Hub) kickUserLocked(userID string) {
	target := h.reg.producer(userID)
	if target == nil {
		h.logger.Warn("kick target not found", zap.String("user_id", userID))
		return
	}
	target.peer.Send(protocol.Kicked{
		Type:      protocol.TypeKicked,
		Timestamp: protocol.Now(),
		Reason:    "Disconnected by administrator",
	})
	target.peer.Close()
	h.logger.Info("producer kicked", zap.String("id", userID))
}

// promoteUserLocked is the dashboard override: unconditional promotion,
// ignoring freshness checks.
func (h *Hub) promoteUserLocked(userID string) {
	target := h.reg.producer(userID)
	if target == nil {
		h.logger.Warn("promote target not found", zap.String("user_id", userID))
		return
	}
	if h.activeSender == target.id {
		return
	}
	if h.activeSender != "" {
		h.demoteActiveLocked("demoted by administrator")
	}
	h.promoteLocked(target)
	h.pushStatsLocked()
}

// demoteUserLocked is the dashboard override: demote the current sender
// and stay idle. A no-op while idle.
func (h *Hub) demoteUserLocked() {
	if h.activeSender == "" {
		return
	}
	h.demoteActiveLocked("demoted by administrator")
	h.pushStatsLocked()
}
