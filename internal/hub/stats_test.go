package hub

import (
	"testing"
	"time"

	"github.com/jonmccon/pocket-parrot-sub001/internal/protocol"
)

func TestSnapshotContents(t *testing.T) {
	h := newTestHub(t)
	prodID, _ := connect(t, h, RoleProducer)
	handshake(t, h, prodID, "device-1", "amy")
	connect(t, h, RoleDashboard)
	connect(t, h, RolePassiveListener)
	connect(t, h, RoleOrientationListener)
	connect(t, h, RoleBulkListener)

	h.mu.Lock()
	snap := h.snapshotLocked()
	h.mu.Unlock()

	if snap.ActiveProducers != 1 || snap.Dashboards != 1 || snap.PassiveListeners != 1 ||
		snap.OrientationListeners != 1 || snap.BulkListeners != 1 {
		t.Fatalf("role counts = %+v", snap)
	}
	if snap.ActiveSender == nil || *snap.ActiveSender != prodID {
		t.Fatalf("active sender = %v, want %q", snap.ActiveSender, prodID)
	}
	if len(snap.Users) != 1 {
		t.Fatalf("users = %+v", snap.Users)
	}
	u := snap.Users[0]
	if u.ID != prodID || u.DeviceID != "device-1" || u.Username != "amy" || !u.IsActiveSender {
		t.Fatalf("user row = %+v", u)
	}
	if u.LastDataTime != nil {
		t.Fatal("lastDataTime must be null before any accepted frame")
	}
	if u.DataCount != 0 {
		t.Fatalf("dataCount = %d, want 0", u.DataCount)
	}

	sendData(t, h, prodID, `{"id":1}`)
	h.mu.Lock()
	snap = h.snapshotLocked()
	h.mu.Unlock()
	if snap.TotalDataPoints != 1 || snap.DataPointsLastMinute != 1 {
		t.Fatalf("counters = %d/%d", snap.TotalDataPoints, snap.DataPointsLastMinute)
	}
	if snap.Users[0].LastDataTime == nil || snap.Users[0].DataCount != 1 {
		t.Fatalf("user row after data = %+v", snap.Users[0])
	}
}

func TestActiveSenderNullWhileIdle(t *testing.T) {
	h := newTestHub(t)
	h.mu.Lock()
	snap := h.snapshotLocked()
	h.mu.Unlock()
	if snap.ActiveSender != nil {
		t.Fatalf("active sender = %v, want null", snap.ActiveSender)
	}
}

func TestSuccessiveSnapshotsEqualExceptUptime(t *testing.T) {
	h := newTestHub(t)
	prodID, _ := connect(t, h, RoleProducer)
	handshake(t, h, prodID, "device-1", "amy")
	sendData(t, h, prodID, `{"id":1}`)

	h.mu.Lock()
	a := h.snapshotLocked()
	b := h.snapshotLocked()
	h.mu.Unlock()

	a.UptimeSeconds, b.UptimeSeconds = 0, 0
	if a.ActiveProducers != b.ActiveProducers ||
		a.TotalDataPoints != b.TotalDataPoints ||
		a.DataPointsLastMinute != b.DataPointsLastMinute ||
		a.BulkQueueSize != b.BulkQueueSize ||
		*a.ActiveSender != *b.ActiveSender ||
		len(a.Users) != len(b.Users) {
		t.Fatalf("snapshots differ beyond uptime:\n%+v\n%+v", a, b)
	}
}

func TestRateWindowLazyReset(t *testing.T) {
	h := newTestHub(t)
	prodID, _ := connect(t, h, RoleProducer)
	handshake(t, h, prodID, "device-1", "")
	sendData(t, h, prodID, `{"id":1}`)
	sendData(t, h, prodID, `{"id":2}`)

	h.mu.Lock()
	h.lastRateReset = time.Now().Add(-2 * time.Minute)
	h.mu.Unlock()

	sendData(t, h, prodID, `{"id":3}`)

	h.mu.Lock()
	minute := h.minuteDataPoints
	total := h.totalDataPoints
	h.mu.Unlock()
	if minute != 1 {
		t.Fatalf("per-minute counter = %d, want 1 after stale window", minute)
	}
	if total != 3 {
		t.Fatalf("total = %d, want monotonic 3", total)
	}
}

func TestGetStatsGoesToRequestingDashboard(t *testing.T) {
	h := newTestHub(t)
	dID, d := connect(t, h, RoleDashboard)
	before := d.countType(protocol.TypeStats)

	dashboardCmd(t, h, dID, protocol.DashboardCommand{Type: protocol.TypeGetStats})

	if got := d.countType(protocol.TypeStats); got != before+1 {
		t.Fatalf("stats count = %d, want %d", got, before+1)
	}
}

func TestStatsPushedOnConnectionEvents(t *testing.T) {
	h := newTestHub(t)
	_, d := connect(t, h, RoleDashboard)
	base := d.countType(protocol.TypeStats)

	lisID, _ := connect(t, h, RolePassiveListener)
	if got := d.countType(protocol.TypeStats); got != base+1 {
		t.Fatalf("stats after connect = %d, want %d", got, base+1)
	}
	h.Disconnect(lisID)
	if got := d.countType(protocol.TypeStats); got != base+2 {
		t.Fatalf("stats after disconnect = %d, want %d", got, base+2)
	}
}
