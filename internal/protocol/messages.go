// Package protocol defines the JSON message envelopes exchanged with
// producers, dashboards and the three listener roles. Every frame is a
// JSON text message discriminated by a "type" field.
package protocol

import (
	"encoding/json"
	"time"
)

// Message type discriminators.
const (
	// Inbound from producers (/pocket-parrot).
	TypeHandshake         = "handshake"
	TypeData              = "data"
	TypeRequestSenderRole = "request_sender_role"

	// Inbound from dashboards (/dashboard).
	TypeGetStats    = "getStats"
	TypeKickUser    = "kickUser"
	TypePromoteUser = "promoteUser"
	TypeDemoteUser  = "demoteUser"

	// Outbound to producers.
	TypeWelcome        = "welcome"
	TypeObserverMode   = "observer_mode"
	TypePromoted       = "promoted"
	TypeDemoted        = "demoted"
	TypeSenderChanged  = "sender_changed"
	TypeAck            = "ack"
	TypeRejected       = "rejected"
	TypeKicked         = "kicked"
	TypeServerShutdown = "server_shutdown"

	// Outbound to dashboards.
	TypeStats            = "stats"
	TypeUserConnected    = "userConnected"
	TypeUserDisconnected = "userDisconnected"
	TypeSenderPromoted   = "senderPromoted"
	TypeDataReceived     = "dataReceived"

	// Outbound to listeners.
	TypeListenerConnected            = "listener_connected"
	TypeSensorData                   = "sensor_data"
	TypeOrientationListenerConnected = "orientation_listener_connected"
	TypeOrientationData              = "orientation_data"
	TypeBulkListenerConnected        = "bulk_listener_connected"
	TypeBulkBatch                    = "bulk_data_batch"
)

// Rejection reasons.
const (
	ReasonCapacity      = "Server capacity reached"
	ReasonNotActive     = "You are not the active data sender"
	ReasonSenderFresh   = "Another sender is currently active"
	ReasonServerClosing = "Server is shutting down"
)

// Role names as carried in welcome/promoted frames.
const (
	RoleSender   = "sender"
	RoleObserver = "observer"
)

// Now returns the wall clock as milliseconds since the Unix epoch, the
// timestamp convention used on every outbound frame.
func Now() int64 {
	return time.Now().UnixMilli()
}

// Envelope is the minimal decode used to discriminate inbound frames.
type Envelope struct {
	Type string `json:"type"`
}

// Handshake is the first frame a producer sends after connecting.
type Handshake struct {
	Type      string          `json:"type"`
	Client    string          `json:"client,omitempty"`
	Version   string          `json:"version,omitempty"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
	DeviceID  string          `json:"deviceId,omitempty"`
	Username  string          `json:"username,omitempty"`
}

// DataFrame wraps one sensor sample. Data is kept raw so the passive
// listener path re-emits it byte for byte.
type DataFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Orientation is the device orientation triple, in degrees.
type Orientation struct {
	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`
	Gamma float64 `json:"gamma"`
}

// SensorPayload is the routed view of a data frame. Sub-objects the relay
// never inspects ride as raw JSON; orientation is typed because the fast
// path projects it out.
type SensorPayload struct {
	ID              json.RawMessage `json:"id,omitempty"`
	Timestamp       json.RawMessage `json:"timestamp,omitempty"`
	GPS             json.RawMessage `json:"gps,omitempty"`
	Orientation     *Orientation    `json:"orientation,omitempty"`
	Motion          json.RawMessage `json:"motion,omitempty"`
	Weather         json.RawMessage `json:"weather,omitempty"`
	ObjectsDetected json.RawMessage `json:"objectsDetected,omitempty"`
	PhotoBase64     string          `json:"photoBase64,omitempty"`
	AudioBase64     string          `json:"audioBase64,omitempty"`
	ColorPalette    json.RawMessage `json:"colorPalette,omitempty"`
}

// DashboardCommand covers every inbound dashboard frame; UserID is only
// meaningful for kickUser and promoteUser.
type DashboardCommand struct {
	Type   string `json:"type"`
	UserID string `json:"userId,omitempty"`
}

// Welcome is sent to every producer once its handshake is processed.
type Welcome struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	ClientID  string `json:"clientId"`
	Role      string `json:"role"`
}

// ObserverMode tells a producer it is connected but not the sender.
type ObserverMode struct {
	Type           string `json:"type"`
	Timestamp      int64  `json:"timestamp"`
	ActiveSender   string `json:"activeSender"`
	ActiveUsername string `json:"activeUsername,omitempty"`
	Message        string `json:"message,omitempty"`
}

type Promoted struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	Role      string `json:"role"`
}

type Demoted struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	Reason    string `json:"reason,omitempty"`
}

// SenderChanged is broadcast to producers whenever a promotion occurs.
type SenderChanged struct {
	Type         string `json:"type"`
	Timestamp    int64  `json:"timestamp"`
	ActiveSender string `json:"activeSender"`
	Username     string `json:"username,omitempty"`
}

// Ack confirms one accepted data frame; Received echoes the frame's id.
type Ack struct {
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Received  json.RawMessage `json:"received,omitempty"`
}

type Rejected struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	Reason    string `json:"reason"`
}

type Kicked struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	Reason    string `json:"reason,omitempty"`
}

type ServerShutdown struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	Message   string `json:"message,omitempty"`
}

// UserEvent announces producer arrivals and departures to dashboards.
type UserEvent struct {
	Type       string `json:"type"`
	Timestamp  int64  `json:"timestamp"`
	UserID     string `json:"userId"`
	Username   string `json:"username,omitempty"`
	DeviceID   string `json:"deviceId,omitempty"`
	TotalUsers int    `json:"totalUsers"`
}

type SenderPromoted struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	UserID    string `json:"userId"`
	Username  string `json:"username,omitempty"`
}

type DataReceived struct {
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"`
	UserID    string          `json:"userId"`
	Username  string          `json:"username,omitempty"`
	DataID    json.RawMessage `json:"dataId,omitempty"`
}

// SensorData carries the unmodified inbound payload to passive listeners.
type SensorData struct {
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"`
	UserID    string          `json:"userId"`
	Username  string          `json:"username,omitempty"`
	Data      json.RawMessage `json:"data"`
}

// OrientationData is the low-latency projection sent to orientation
// listeners ahead of any other dispatch for the same frame.
type OrientationData struct {
	Type        string      `json:"type"`
	Timestamp   int64       `json:"timestamp"`
	UserID      string      `json:"userId"`
	Username    string      `json:"username,omitempty"`
	Orientation Orientation `json:"orientation"`
}

type ListenerConnected struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	Message   string `json:"message,omitempty"`
}

// BulkListenerConnected advertises the batching parameters in effect.
type BulkListenerConnected struct {
	Type          string `json:"type"`
	Timestamp     int64  `json:"timestamp"`
	BatchInterval int64  `json:"batchInterval"`
	MaxBatchSize  int    `json:"maxBatchSize"`
}

// BulkRecord is one coalesced sample: every sensor field except
// orientation, plus producer identity.
type BulkRecord struct {
	Timestamp       int64           `json:"timestamp"`
	UserID          string          `json:"userId"`
	Username        string          `json:"username,omitempty"`
	ID              json.RawMessage `json:"id,omitempty"`
	GPS             json.RawMessage `json:"gps,omitempty"`
	Motion          json.RawMessage `json:"motion,omitempty"`
	Weather         json.RawMessage `json:"weather,omitempty"`
	ObjectsDetected json.RawMessage `json:"objectsDetected,omitempty"`
	PhotoBase64     string          `json:"photoBase64,omitempty"`
	AudioBase64     string          `json:"audioBase64,omitempty"`
	ColorPalette    json.RawMessage `json:"colorPalette,omitempty"`
}

type BulkBatch struct {
	Type      string       `json:"type"`
	Timestamp int64        `json:"timestamp"`
	BatchSize int          `json:"batchSize"`
	Records   []BulkRecord `json:"records"`
}

// ProducerInfo is one row of the stats snapshot's user list.
type ProducerInfo struct {
	ID             string `json:"id"`
	ConnectedAt    int64  `json:"connectedAt"`
	DataCount      int64  `json:"dataCount"`
	LastDataTime   *int64 `json:"lastDataTime"`
	Username       string `json:"username,omitempty"`
	IsActiveSender bool   `json:"isActiveSender"`
	DeviceID       string `json:"deviceId,omitempty"`
	RemoteAddress  string `json:"remoteAddress,omitempty"`
}

// StatsSnapshot is pushed to dashboards and passive listeners after every
// accepted frame and at every connection event.
type StatsSnapshot struct {
	ActiveProducers      int            `json:"activeProducers"`
	Dashboards           int            `json:"dashboards"`
	PassiveListeners     int            `json:"passiveListeners"`
	OrientationListeners int            `json:"orientationListeners"`
	BulkListeners        int            `json:"bulkListeners"`
	ActiveSender         *string        `json:"activeSender"`
	TotalDataPoints      int64          `json:"totalDataPoints"`
	DataPointsLastMinute int64          `json:"dataPointsLastMinute"`
	BulkQueueSize        int            `json:"bulkQueueSize"`
	UptimeSeconds        int64          `json:"uptimeSeconds"`
	Users                []ProducerInfo `json:"users"`
}

type StatsMessage struct {
	Type      string        `json:"type"`
	Timestamp int64         `json:"timestamp"`
	Stats     StatsSnapshot `json:"stats"`
}
