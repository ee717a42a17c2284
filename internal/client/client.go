// Package client implements a line-protocol client for the relay server.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/omochice/line-relay/pkg/protocol"
)

// Client connects to a relay server, exposes the identifier the server
// assigned, and delivers incoming relays over a channel.
type Client struct {
	addr      string
	websocket bool

	conn     net.Conn
	framer   *protocol.Framer
	id       uint16
	messages chan protocol.ServerMessage

	closeOnce sync.Once
}

// New creates a client for addr. An address with a ws:// or wss:// scheme
// connects over WebSocket; a tcp:// scheme or a bare host:port connects
// over plain TCP.
func New(addr string) *Client {
	websocket := strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://")
	if !websocket {
		addr = strings.TrimPrefix(addr, "tcp://")
	}
	return &Client{
		addr:      addr,
		websocket: websocket,
		messages:  make(chan protocol.ServerMessage, 16),
	}
}

// Connect dials the server and blocks until the login notice arrives, so
// the identifier is known once Connect returns.
func (c *Client) Connect(ctx context.Context) error {
	var (
		stream net.Conn
		err    error
	)
	if c.websocket {
		stream, err = dialWebSocket(ctx, c.addr)
	} else {
		var d net.Dialer
		stream, err = d.DialContext(ctx, "tcp", c.addr)
	}
	if err != nil {
		return fmt.Errorf("client: connect %s: %w", c.addr, err)
	}

	framer := protocol.NewFramer(stream, 0)
	line, err := framer.ReadLine()
	if err != nil {
		stream.Close()
		return fmt.Errorf("client: read login notice: %w", err)
	}
	msg, err := protocol.ParseServerMessage(line)
	if err != nil || msg.Kind != protocol.KindLogin {
		stream.Close()
		return fmt.Errorf("client: unexpected greeting %q", line)
	}

	c.conn = stream
	c.framer = framer
	c.id = msg.Sender

	go c.recvLoop()
	return nil
}

// ID returns the identifier assigned by the server. Valid after Connect.
func (c *Client) ID() uint16 {
	return c.id
}

// Send relays one line of text to every other connected client.
func (c *Client) Send(text string) error {
	if c.framer == nil {
		return errors.New("client: not connected")
	}
	return c.framer.WriteLine(text)
}

// Messages returns the incoming message channel. It is closed when the
// connection ends.
func (c *Client) Messages() <-chan protocol.ServerMessage {
	return c.messages
}

// Close terminates the connection. Safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

func (c *Client) recvLoop() {
	defer close(c.messages)
	for {
		line, err := c.framer.ReadLine()
		if err != nil {
			// The protocol has no error channel; the stream just ends.
			return
		}
		msg, err := protocol.ParseServerMessage(line)
		if err != nil {
			continue
		}
		c.messages <- msg
	}
}
