package hub

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/jonmccon/pocket-parrot-sub001/internal/config"
	"github.com/jonmccon/pocket-parrot-sub001/internal/protocol"
)

func TestFanoutOfOneFrame(t *testing.T) {
	h := newTestHub(t, func(c *config.Config) {
		c.Batch.Interval = time.Hour
	})
	prodID, prod := connect(t, h, RoleProducer)
	handshake(t, h, prodID, "d1", "amy")
	_, dash := connect(t, h, RoleDashboard)
	_, lis := connect(t, h, RolePassiveListener)
	_, ori := connect(t, h, RoleOrientationListener)
	_, blk := connect(t, h, RoleBulkListener)

	payload := `{"id":42,"gps":{"lat":47.6,"lon":-122.3},"orientation":{"alpha":10.5,"beta":-3.25,"gamma":92},"weather":{"tempC":18}}`
	sendData(t, h, prodID, payload)

	// Orientation fast path carries the exact triple.
	od, ok := ori.last(protocol.TypeOrientationData).(protocol.OrientationData)
	if !ok {
		t.Fatalf("orientation listener: %v", ori.types())
	}
	if od.Orientation != (protocol.Orientation{Alpha: 10.5, Beta: -3.25, Gamma: 92}) {
		t.Fatalf("orientation = %+v", od.Orientation)
	}
	if od.UserID != prodID || od.Username != "amy" {
		t.Fatalf("orientation identity = %q/%q", od.UserID, od.Username)
	}

	// Passive listeners get the unmodified payload plus metadata.
	sd, ok := lis.last(protocol.TypeSensorData).(protocol.SensorData)
	if !ok {
		t.Fatalf("passive listener: %v", lis.types())
	}
	if string(sd.Data) != payload {
		t.Fatalf("payload modified in flight:\n got %s\nwant %s", sd.Data, payload)
	}
	if lis.countType(protocol.TypeStats) == 0 {
		t.Fatalf("passive listener missing stats push: %v", lis.types())
	}

	// Dashboards get the synthetic dataReceived plus stats.
	dr, ok := dash.last(protocol.TypeDataReceived).(protocol.DataReceived)
	if !ok || string(dr.DataID) != "42" {
		t.Fatalf("dashboard dataReceived = %+v (%v)", dr, dash.types())
	}
	if dash.countType(protocol.TypeStats) == 0 {
		t.Fatalf("dashboard missing stats push: %v", dash.types())
	}

	// Sender gets exactly one ack echoing the frame id.
	if prod.countType(protocol.TypeAck) != 1 {
		t.Fatalf("ack count = %d, want 1", prod.countType(protocol.TypeAck))
	}
	ack := prod.last(protocol.TypeAck).(protocol.Ack)
	if string(ack.Received) != "42" {
		t.Fatalf("ack.received = %s, want 42", ack.Received)
	}

	// The bulk record is queued without the orientation field.
	h.mu.Lock()
	queue := append([]protocol.BulkRecord(nil), h.bulkQueue...)
	h.mu.Unlock()
	if len(queue) != 1 {
		t.Fatalf("bulk queue length = %d", len(queue))
	}
	rec := queue[0]
	if string(rec.ID) != "42" || string(rec.GPS) != `{"lat":47.6,"lon":-122.3}` {
		t.Fatalf("bulk record = %+v", rec)
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		t.Fatal(err)
	}
	var asMap map[string]any
	if err := json.Unmarshal(raw, &asMap); err != nil {
		t.Fatal(err)
	}
	if _, has := asMap["orientation"]; has {
		t.Fatal("bulk record must omit orientation")
	}
	// No batch yet: size and interval triggers have not fired.
	if blk.countType(protocol.TypeBulkBatch) != 0 {
		t.Fatalf("premature batch: %v", blk.types())
	}
}

func TestOrientationPrecedesSensorData(t *testing.T) {
	h := newTestHub(t)
	prodID, _ := connect(t, h, RoleProducer)
	handshake(t, h, prodID, "d1", "")

	both := &fakePeer{}
	if _, ok := h.Connect(RoleOrientationListener, both); !ok {
		t.Fatal("orientation connect")
	}
	connect(t, h, RolePassiveListener)

	sendData(t, h, prodID, `{"id":1,"orientation":{"alpha":1,"beta":2,"gamma":3}}`)

	types := both.types()
	for _, mt := range types {
		if mt == protocol.TypeSensorData || mt == protocol.TypeBulkBatch {
			t.Fatalf("orientation listener received %q", mt)
		}
	}
	if both.countType(protocol.TypeOrientationData) != 1 {
		t.Fatalf("orientation listener: %v", types)
	}
}

func TestFrameWithoutOrientationSkipsFastPath(t *testing.T) {
	h := newTestHub(t)
	prodID, _ := connect(t, h, RoleProducer)
	handshake(t, h, prodID, "d1", "")
	_, ori := connect(t, h, RoleOrientationListener)
	_, lis := connect(t, h, RolePassiveListener)

	sendData(t, h, prodID, `{"id":5,"gps":{"lat":1}}`)

	if ori.countType(protocol.TypeOrientationData) != 0 {
		t.Fatalf("unexpected orientation_data: %v", ori.types())
	}
	if lis.countType(protocol.TypeSensorData) != 1 {
		t.Fatalf("passive listener must still receive the frame: %v", lis.types())
	}
}

func TestPerProducerOrderPreserved(t *testing.T) {
	h := newTestHub(t)
	prodID, _ := connect(t, h, RoleProducer)
	handshake(t, h, prodID, "d1", "")
	_, lis := connect(t, h, RolePassiveListener)

	for i := 0; i < 5; i++ {
		sendData(t, h, prodID, `{"id":`+string(rune('0'+i))+`}`)
	}

	var seen []string
	lis.mu.Lock()
	for _, m := range lis.msgs {
		if sd, ok := m.(protocol.SensorData); ok {
			var p protocol.SensorPayload
			if err := json.Unmarshal(sd.Data, &p); err != nil {
				lis.mu.Unlock()
				t.Fatal(err)
			}
			seen = append(seen, string(p.ID))
		}
	}
	lis.mu.Unlock()

	want := []string{"0", "1", "2", "3", "4"}
	if len(seen) != len(want) {
		t.Fatalf("sensor_data count = %d, want %d", len(seen), len(want))
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("out of order at %d: got %v", i, seen)
		}
	}
}
