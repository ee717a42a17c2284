package relay

import (
	"bytes"
	"net"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// wsConn adapts an upgraded WebSocket connection to the byte stream the
// Framer expects: each inbound text frame becomes one line (delimiter
// restored), each outbound line is flushed as one text frame (delimiter
// stripped). Deadlines and addresses pass through to the raw stream.
type wsConn struct {
	net.Conn

	// readBuf holds the remainder of the current inbound frame.
	readBuf []byte
	// pending holds outbound bytes awaiting a delimiter.
	pending []byte
}

func newWSConn(conn net.Conn) *wsConn {
	return &wsConn{Conn: conn}
}

func (c *wsConn) Read(p []byte) (int, error) {
	if len(c.readBuf) == 0 {
		data, err := wsutil.ReadClientText(c.Conn)
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

func (c *wsConn) Write(p []byte) (int, error) {
	c.pending = append(c.pending, p...)
	for {
		i := bytes.IndexByte(c.pending, '\n')
		if i < 0 {
			return len(p), nil
		}
		line := bytes.TrimSuffix(c.pending[:i], []byte{'\r'})
		if err := wsutil.WriteServerText(c.Conn, line); err != nil {
			return 0, err
		}
		c.pending = c.pending[i+1:]
	}
}

func (c *wsConn) Close() error {
	_ = wsutil.WriteServerMessage(c.Conn, ws.OpClose, nil)
	return c.Conn.Close()
}
