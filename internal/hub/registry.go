package hub

import (
	"fmt"
	"math/rand/v2"
	"time"
)

// conn is the hub-side record for one live connection.
type conn struct {
	id          string
	role        Role
	peer        Peer
	remoteAddr  string
	connectedAt time.Time

	// Producer-only fields.
	deviceID   string
	username   string
	dataCount  int64
	lastData   time.Time // zero until the first accepted frame
	promotedAt time.Time // zero unless currently the active sender
}

// registry indexes live connections by id and by role. All access is
// serialized by the hub mutex.
type registry struct {
	byID   map[string]*conn
	byRole map[Role]map[string]*conn
}

func newRegistry() *registry {
	r := &registry{
		byID:   make(map[string]*conn),
		byRole: make(map[Role]map[string]*conn),
	}
	for _, role := range []Role{RoleProducer, RoleDashboard, RolePassiveListener, RoleOrientationListener, RoleBulkListener} {
		r.byRole[role] = make(map[string]*conn)
	}
	return r
}

func (r *registry) add(c *conn) {
	r.byID[c.id] = c
	r.byRole[c.role][c.id] = c
}

// remove deletes the connection and returns it, or nil if unknown.
func (r *registry) remove(id string) *conn {
	c, ok := r.byID[id]
	if !ok {
		return nil
	}
	delete(r.byID, id)
	delete(r.byRole[c.role], id)
	return c
}

func (r *registry) lookup(id string) *conn {
	return r.byID[id]
}

// producer returns the connection only if it is registered in the
// producer role.
func (r *registry) producer(id string) *conn {
	return r.byRole[RoleProducer][id]
}

func (r *registry) role(role Role) map[string]*conn {
	return r.byRole[role]
}

func (r *registry) count(role Role) int {
	return len(r.byRole[role])
}

// mostRecentProducer returns the producer with the latest connectedAt,
// skipping exclude. Ties break toward the later timestamp scan winner.
func (r *registry) mostRecentProducer(exclude string) *conn {
	var best *conn
	for id, c := range r.byRole[RoleProducer] {
		if id == exclude {
			continue
		}
		if best == nil || c.connectedAt.After(best.connectedAt) {
			best = c
		}
	}
	return best
}

const idCharset = "abcdefghijklmnopqrstuvwxyz0123456789"

func randSuffix(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = idCharset[rand.IntN(len(idCharset))]
	}
	return string(b)
}

// newConnID builds a process-unique connection id. Producers use the
// user_<millis>_<rand> form; other roles get role-prefixed opaque ids.
func newConnID(role Role) string {
	if role == RoleProducer {
		return fmt.Sprintf("user_%d_%s", time.Now().UnixMilli(), randSuffix(6))
	}
	return fmt.Sprintf("%s_%d_%s", role, time.Now().UnixMilli(), randSuffix(6))
}
