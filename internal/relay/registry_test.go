package relay

import (
	"errors"
	"net"
	"testing"
	"time"
)

func pipeConnection(t *testing.T, id uint16) *connection {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})
	return &connection{id: id, stream: server}
}

func TestRegistry_Insert(t *testing.T) {
	r := newRegistry()
	c := pipeConnection(t, 5001)

	r.insert(5001, c)

	if got := r.len(); got != 1 {
		t.Fatalf("len() = %d, want 1", got)
	}
	if cur, ok := r.get(5001); !ok || cur != c {
		t.Errorf("get(5001) = %v, %v; want inserted connection", cur, ok)
	}
}

func TestRegistry_Insert_OverwritesStaleEntry(t *testing.T) {
	r := newRegistry()
	stale := pipeConnection(t, 5001)
	fresh := pipeConnection(t, 5001)

	r.insert(5001, stale)
	r.insert(5001, fresh)

	if got := r.len(); got != 1 {
		t.Fatalf("len() = %d, want 1", got)
	}
	if cur, _ := r.get(5001); cur != fresh {
		t.Error("get(5001) still returns the stale connection")
	}

	// The stale stream must have been closed by the overwrite.
	if streamOpen(stale.stream) {
		t.Error("stale stream still open after overwrite")
	}
}

func TestRegistry_Remove(t *testing.T) {
	r := newRegistry()
	c := pipeConnection(t, 5001)
	r.insert(5001, c)

	if !r.remove(5001, c) {
		t.Error("remove(5001, c) = false, want true")
	}
	if got := r.len(); got != 0 {
		t.Errorf("len() = %d, want 0", got)
	}
}

func TestRegistry_Remove_AbsentIsNoop(t *testing.T) {
	r := newRegistry()

	if r.remove(5001, nil) {
		t.Error("remove of absent id = true, want false")
	}
	if got := r.len(); got != 0 {
		t.Errorf("len() = %d, want 0", got)
	}
}

func TestRegistry_Remove_IgnoresReissuedIdentifier(t *testing.T) {
	r := newRegistry()
	old := pipeConnection(t, 5001)
	current := pipeConnection(t, 5001)
	r.insert(5001, current)

	// A stale disconnect for the previous holder of the id must not evict
	// the live entry.
	if r.remove(5001, old) {
		t.Error("remove with stale connection = true, want false")
	}
	if cur, ok := r.get(5001); !ok || cur != current {
		t.Error("live entry was evicted by a stale disconnect")
	}
}

func TestRegistry_Each(t *testing.T) {
	r := newRegistry()
	ids := []uint16{5001, 5002, 5003}
	for _, id := range ids {
		r.insert(id, pipeConnection(t, id))
	}

	seen := make(map[uint16]bool)
	r.each(func(c *connection) {
		seen[c.id] = true
	})

	for _, id := range ids {
		if !seen[id] {
			t.Errorf("each() did not visit %d", id)
		}
	}
}

func TestRegistry_CloseAll(t *testing.T) {
	r := newRegistry()
	c := pipeConnection(t, 5001)
	r.insert(5001, c)

	r.closeAll()

	if got := r.len(); got != 0 {
		t.Errorf("len() = %d, want 0", got)
	}
	if streamOpen(c.stream) {
		t.Error("stream still open after closeAll")
	}
}

// streamOpen reports whether reading the stream still succeeds or times
// out, rather than failing with a closed-pipe error.
func streamOpen(conn net.Conn) bool {
	_ = conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	_, err := conn.Read(make([]byte, 1))
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	return err == nil
}
