package hub

import "time"

// deviceSession remembers the most recent disconnect of a device so a
// rapid reconnect can be correlated with its previous producer session.
type deviceSession struct {
	DeviceID         string
	DisconnectedAt   time.Time
	LastConnectionID string
	LastUsername     string
	LastDataCount    int64
	WasActiveSender  bool
}

// ledger is keyed by device id. Entries are overwritten on every
// disconnect and never expired; memory is bounded by unique-device
// cardinality in practice.
type ledger map[string]deviceSession

// record writes the entry for a disconnecting producer. It must run
// before any successor promotion so WasActiveSender reflects the
// pre-disconnect state.
func (l ledger) record(c *conn, wasActive bool, at time.Time) {
	if c.deviceID == "" {
		return
	}
	l[c.deviceID] = deviceSession{
		DeviceID:         c.deviceID,
		DisconnectedAt:   at,
		LastConnectionID: c.id,
		LastUsername:     c.username,
		LastDataCount:    c.dataCount,
		WasActiveSender:  wasActive,
	}
}

func (l ledger) lookup(deviceID string) (deviceSession, bool) {
	s, ok := l[deviceID]
	return s, ok
}
