package client_test

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/omochice/line-relay/internal/client"
	"github.com/omochice/line-relay/internal/relay"
	"github.com/omochice/line-relay/pkg/protocol"
)

func startRelay(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	srv := relay.New(ln.Addr().String(), relay.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx, ln, nil)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return ln.Addr().String()
}

func TestClient_Connect(t *testing.T) {
	addr := startRelay(t)

	c := client.New(addr)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() unexpected error: %v", err)
	}
	defer c.Close()

	if c.ID() == 0 {
		t.Error("ID() = 0, want the assigned port")
	}
}

func TestClient_Connect_TCPScheme(t *testing.T) {
	addr := startRelay(t)

	c := client.New("tcp://" + addr)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() with tcp:// scheme unexpected error: %v", err)
	}
	defer c.Close()

	if c.ID() == 0 {
		t.Error("ID() = 0, want the assigned port")
	}
}

func TestClient_Connect_Refused(t *testing.T) {
	// Grab an address and release it so the dial fails.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	c := client.New(addr)
	if err := c.Connect(context.Background()); err == nil {
		t.Error("Connect() to a closed address = nil, want error")
	}
}

func TestClient_SendAndReceive(t *testing.T) {
	addr := startRelay(t)

	sender := client.New(addr)
	if err := sender.Connect(context.Background()); err != nil {
		t.Fatalf("sender Connect() unexpected error: %v", err)
	}
	defer sender.Close()

	receiver := client.New(addr)
	if err := receiver.Connect(context.Background()); err != nil {
		t.Fatalf("receiver Connect() unexpected error: %v", err)
	}
	defer receiver.Close()

	if err := sender.Send("hello"); err != nil {
		t.Fatalf("Send() unexpected error: %v", err)
	}

	select {
	case msg := <-receiver.Messages():
		want := protocol.ServerMessage{Kind: protocol.KindMessage, Sender: sender.ID(), Content: "hello"}
		if msg != want {
			t.Errorf("received %+v, want %+v", msg, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for relayed message")
	}
}

func TestClient_MessagesClosedOnDisconnect(t *testing.T) {
	addr := startRelay(t)

	c := client.New(addr)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() unexpected error: %v", err)
	}
	c.Close()

	select {
	case _, ok := <-c.Messages():
		if ok {
			t.Error("Messages() delivered after Close, want closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Messages() not closed after Close")
	}
}

func TestClient_SendBeforeConnect(t *testing.T) {
	c := client.New("127.0.0.1:1")
	if err := c.Send("hello"); err == nil {
		t.Error("Send() before Connect = nil, want error")
	}
}
