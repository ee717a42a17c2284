package relay

import (
	"net"

	"github.com/omochice/line-relay/pkg/protocol"
)

// connection is a registered client: the raw stream plus its line framer.
type connection struct {
	id     uint16
	stream net.Conn
	framer *protocol.Framer
}

func (c *connection) close() {
	_ = c.stream.Close()
}

// registry maps identifiers to live connections. It is owned by the event
// loop and only ever touched between loop iterations, so it carries no lock.
// Fan-out scans the whole map; fine at chat scale, a scaling limit beyond it.
type registry struct {
	conns map[uint16]*connection
}

func newRegistry() *registry {
	return &registry{conns: make(map[uint16]*connection)}
}

// insert registers c under id. A stale entry under the same id is closed and
// overwritten: the kernel can reissue an ephemeral port right after a
// disconnect, before the old entry's reader has reported in.
func (r *registry) insert(id uint16, c *connection) {
	if stale, ok := r.conns[id]; ok && stale != c {
		stale.close()
	}
	r.conns[id] = c
}

// remove drops id when it is still mapped to c (nil c matches any entry).
// Removing an absent id is a no-op. Reports whether an entry was removed.
func (r *registry) remove(id uint16, c *connection) bool {
	cur, ok := r.conns[id]
	if !ok || (c != nil && cur != c) {
		return false
	}
	delete(r.conns, id)
	return true
}

func (r *registry) get(id uint16) (*connection, bool) {
	c, ok := r.conns[id]
	return c, ok
}

func (r *registry) len() int {
	return len(r.conns)
}

// each visits every live connection in unspecified order. The callback must
// not mutate the registry; collect and apply changes after the scan.
func (r *registry) each(f func(*connection)) {
	for _, c := range r.conns {
		f(c)
	}
}

func (r *registry) closeAll() {
	for id, c := range r.conns {
		c.close()
		delete(r.conns, id)
	}
}
