// Package relay implements the broadcast relay core: a single event loop
// that races listener accepts against readiness on every open connection,
// and the dispatcher that keeps the connection registry consistent while
// messages, disconnects, and new arrivals race each other.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"

	"github.com/omochice/line-relay/internal/metrics"
	"github.com/omochice/line-relay/pkg/protocol"
)

// ErrServerClosed is returned by Serve and ListenAndServe after the context
// is cancelled and shutdown completes.
var ErrServerClosed = errors.New("relay: server closed")

// Server relays each client's lines to every other connected client. All
// registry state is owned by the goroutine running Serve; nothing else
// touches it.
type Server struct {
	address      string
	wsAddress    string
	maxLineLen   int
	writeTimeout time.Duration
	eventBuffer  int
	log          *slog.Logger
	metrics      *metrics.Metrics

	events chan event
	conns  *registry
	active atomic.Int64
	wg     sync.WaitGroup

	mu       sync.Mutex
	listener net.Listener
	wsListen net.Listener
}

// New creates a relay server listening on address once served.
func New(address string, opts ...Option) *Server {
	s := &Server{
		address:      address,
		maxLineLen:   protocol.MaxLineLength,
		writeTimeout: 10 * time.Second,
		eventBuffer:  16,
		log:          slog.Default(),
		metrics:      metrics.New(nil),
		conns:        newRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.events = make(chan event, s.eventBuffer)
	return s
}

// ListenAndServe binds the configured addresses and runs the event loop
// until ctx is cancelled. A bind failure is the only fatal startup error.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("relay: bind %s: %w", s.address, err)
	}

	var wsLn net.Listener
	if s.wsAddress != "" {
		wsLn, err = net.Listen("tcp", s.wsAddress)
		if err != nil {
			ln.Close()
			return fmt.Errorf("relay: bind websocket %s: %w", s.wsAddress, err)
		}
	}

	return s.Serve(ctx, ln, wsLn)
}

// Serve runs the event loop over the given listeners until ctx is
// cancelled. wsLn may be nil. On return every connection is closed and the
// registry is empty.
func (s *Server) Serve(ctx context.Context, ln, wsLn net.Listener) error {
	s.mu.Lock()
	s.listener, s.wsListen = ln, wsLn
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.log.Info("listening", "addr", ln.Addr().String())
	s.wg.Add(1)
	go s.acceptLoop(ctx, ln, s.setupTCP)

	if wsLn != nil {
		s.log.Info("listening for websocket clients", "addr", wsLn.Addr().String())
		s.wg.Add(1)
		go s.acceptLoop(ctx, wsLn, s.setupWebSocket)
	}

	for {
		select {
		case <-ctx.Done():
			s.shutdown(cancel, ln, wsLn)
			return ErrServerClosed
		case ev := <-s.events:
			s.dispatch(ctx, ev)
		}
	}
}

// shutdown closes the listeners and every connection, releases all pending
// event producers, and waits for the goroutines to drain.
func (s *Server) shutdown(cancel context.CancelFunc, listeners ...net.Listener) {
	for _, l := range listeners {
		if l != nil {
			l.Close()
		}
	}
	s.conns.closeAll()
	s.active.Store(0)
	s.metrics.ActiveConnections.Set(0)
	cancel()
	s.wg.Wait()

	// No producers remain; close streams stuck in undispatched events.
	for {
		select {
		case ev := <-s.events:
			if ev.kind == eventNewConnection {
				ev.stream.Close()
			}
		default:
			s.log.Info("server stopped")
			return
		}
	}
}

// Addr returns the primary listening address, or "" before Serve binds it.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// WebSocketAddr returns the WebSocket listening address, or "".
func (s *Server) WebSocketAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wsListen == nil {
		return ""
	}
	return s.wsListen.Addr().String()
}

// ClientCount returns the number of registered connections.
func (s *Server) ClientCount() int {
	return int(s.active.Load())
}

// acceptLoop accepts connections and hands each to setup in its own
// goroutine, keeping the listener free during slow handshakes. Accept
// errors are transient; only a closed listener stops the loop.
func (s *Server) acceptLoop(ctx context.Context, l net.Listener, setup func(context.Context, net.Conn)) {
	defer s.wg.Done()
	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.metrics.AcceptErrors.Inc()
			s.log.Warn("accept failed", "error", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			setup(ctx, conn)
		}()
	}
}

func (s *Server) setupTCP(ctx context.Context, conn net.Conn) {
	id, err := peerID(conn)
	if err != nil {
		s.log.Warn("rejecting connection", "remote", conn.RemoteAddr().String(), "error", err)
		conn.Close()
		return
	}
	s.post(ctx, event{kind: eventNewConnection, id: id, stream: conn})
}

func (s *Server) setupWebSocket(ctx context.Context, conn net.Conn) {
	id, err := peerID(conn)
	if err != nil {
		s.log.Warn("rejecting websocket connection", "remote", conn.RemoteAddr().String(), "error", err)
		conn.Close()
		return
	}
	// Unblock a stalled handshake when the server shuts down.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	if _, err := ws.Upgrade(conn); err != nil {
		stop()
		s.log.Debug("websocket upgrade failed", "id", id, "error", err)
		conn.Close()
		return
	}
	stop()
	s.post(ctx, event{kind: eventNewConnection, id: id, stream: newWSConn(conn)})
}

// post delivers an event to the loop, or discards it when the server is
// shutting down.
func (s *Server) post(ctx context.Context, ev event) {
	select {
	case s.events <- ev:
	case <-ctx.Done():
		if ev.kind == eventNewConnection {
			ev.stream.Close()
		}
	}
}

// dispatch fully processes one event before the loop receives the next;
// that is what keeps per-sender delivery order intact.
func (s *Server) dispatch(ctx context.Context, ev event) {
	switch ev.kind {
	case eventNewConnection:
		s.register(ctx, ev.id, ev.stream)
	case eventNewMessage:
		s.broadcast(ev.conn, ev.text)
	case eventDisconnected:
		s.drop(ev.id, ev.conn)
	}
}

// register sends the login notice and, only when that succeeds, inserts the
// connection and starts its reader. A connection whose login fails is
// discarded whole; it never appears half-registered.
func (s *Server) register(ctx context.Context, id uint16, stream net.Conn) {
	c := &connection{id: id, stream: stream, framer: protocol.NewFramer(stream, s.maxLineLen)}
	if err := s.sendLine(c, protocol.BuildLogin(id)); err != nil {
		s.log.Warn("login send failed", "id", id, "error", err)
		c.close()
		return
	}

	s.conns.insert(id, c)
	s.syncActive()
	s.metrics.ConnectionsTotal.Inc()
	s.log.Info("client connected", "id", id)

	s.wg.Add(1)
	go s.readLoop(ctx, c)
}

// broadcast relays text from its sender to every other registered
// connection. Sends are isolated best-effort: one failing recipient is
// disconnected and the fan-out continues with the rest.
func (s *Server) broadcast(from *connection, text string) {
	if cur, ok := s.conns.get(from.id); !ok || cur != from {
		// The sender was deregistered while this line was in flight.
		return
	}

	line := protocol.BuildMessage(from.id, text)
	var failed []*connection
	s.conns.each(func(c *connection) {
		if c == from {
			return
		}
		if err := s.sendLine(c, line); err != nil {
			s.metrics.SendFailures.Inc()
			s.log.Warn("relay send failed", "id", c.id, "error", err)
			failed = append(failed, c)
			return
		}
		s.metrics.MessagesRelayed.Inc()
	})

	// A write failure is an implicit disconnect; waiting for the read side
	// to notice would leave dead entries in the registry.
	for _, c := range failed {
		s.drop(c.id, c)
	}
}

/// drop removes and closes a connection. Idempotent: stale disconnect events
// for an identifier the kernel has already reissued are ignored.
func (s *Server) drop(id uint16, c *connection) {
	if !s.conns.remove(id, c) {
		return
	}
	c.close()
	s.syncActive()
	s.log.Info("client disconnected", "id", id)
}

// sendLine writes one protocol line with the per-recipient write deadline
// applied, so a slow reader delays a broadcast by at most the timeout.
func (s *Server) sendLine(c *connection, line string) error {
	if s.writeTimeout > 0 {
		_ = c.stream.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	return c.framer.WriteLine(line)
}

// readLoop feeds one registered connection's lines into the event channel,
// in read order, ending with a single disconnect event.
func (s *Server) readLoop(ctx context.Context, c *connection) {
	defer s.wg.Done()
	for {
		line, err := c.framer.ReadLine()
		if err != nil {
			if errors.Is(err, protocol.ErrLineTooLong) {
				s.metrics.OversizedLines.Inc()
				s.log.Warn("dropping connection: oversized line", "id", c.id)
			}
			s.post(ctx, event{kind: eventDisconnected, id: c.id, conn: c})
			return
		}
		s.post(ctx, event{kind: eventNewMessage, id: c.id, conn: c, text: line})
	}
}

func (s *Server) syncActive() {
	n := s.conns.len()
	s.active.Store(int64(n))
	s.metrics.ActiveConnections.Set(float64(n))
}

// peerID derives a connection's identifier from the ephemeral source port
// the network stack assigned to the peer.
func peerID(conn net.Conn) (uint16, error) {
	ap, err := netip.ParseAddrPort(conn.RemoteAddr().String())
	if err != nil {
		return 0, fmt.Errorf("relay: no peer port: %w", err)
	}
	return ap.Port(), nil
}
