package hub

// Role identifies which endpoint a connection arrived on. It is fixed at
// registration and never changes for the life of the connection.
type Role string

const (
	RoleProducer            Role = "producer"
	RoleDashboard           Role = "dashboard"
	RolePassiveListener     Role = "listener"
	RoleOrientationListener Role = "orientation"
	RoleBulkListener        Role = "bulk"
)

// Peer is the hub's view of one connected socket. Send must not block:
// it enqueues the message for delivery and reports false when the peer's
// buffer is full or the peer is gone. Close tears down the underlying
// transport; the transport then reports the disconnect back to the hub.
type Peer interface {
	Send(v any) bool
	Close()
	RemoteAddr() string
}
