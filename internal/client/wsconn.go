package client

import (
	"bytes"
	"context"
	"io"
	"net"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// wsClientConn adapts a dialed WebSocket connection to the byte stream the
// framer expects, mapping one server text frame to one line and one
// outbound line to one frame.
type wsClientConn struct {
	net.Conn

	// rw reads through the handshake's buffered reader when the dialer
	// returned one, and writes to the raw stream.
	rw io.ReadWriter

	readBuf []byte
	pending []byte
}

func dialWebSocket(ctx context.Context, url string) (net.Conn, error) {
	conn, br, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, err
	}

	var r io.Reader = conn
	if br != nil {
		r = br
	}
	return &wsClientConn{
		Conn: conn,
		rw:   struct {
			io.Reader
			io.Writer
		}{r, conn},
	}, nil
}

func (c *wsClientConn) Read(p []byte) (int, error) {
	if len(c.readBuf) == 0 {
		data, err := wsutil.ReadServerText(c.rw)
		if err != nil {
			return 0, err
		}
		if len(data) == 0 || data[len(data)-1] != '\n' {
			data = append(data, '\n')
		}
		c.readBuf = data
	}

	n := copy(p, c.readBuf)
	c.readBuf = c.readBuf[n:]
	return n, nil
}

func (c *wsClientConn) Write(p []byte) (int, error) {
	c.pending = append(c.pending, p...)
	for {
		i := bytes.IndexByte(c.pending, '\n')
		if i < 0 {
			return len(p), nil
		}
		line := bytes.TrimSuffix(c.pending[:i], []byte{'\r'})
		if err := wsutil.WriteClientText(c.Conn, line); err != nil {
			return 0, err
		}
		c.pending = c.pending[i+1:]
	}
}

func (c *wsClientConn) Close() error {
	_ = wsutil.WriteClientMessage(c.Conn, ws.OpClose, nil)
	return c.Conn.Close()
}
