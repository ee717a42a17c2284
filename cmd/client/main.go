package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/omochice/line-relay/internal/client"
	"github.com/omochice/line-relay/pkg/protocol"
)

func main() {
	serverAddr := flag.String("server", "localhost:8888", "Relay address (host:port, or ws://host:port for WebSocket)")
	flag.Parse()

	c := client.New(*serverAddr)
	if err := c.Connect(context.Background()); err != nil {
		log.Fatalf("Failed to connect to relay: %v", err)
	}
	defer c.Close()

	fmt.Printf("Connected to %s as %d\n", *serverAddr, c.ID())

	// Print incoming relays while stdin drives outgoing lines.
	go func() {
		for msg := range c.Messages() {
			if msg.Kind == protocol.KindMessage {
				fmt.Printf("[%d]: %s\n", msg.Sender, msg.Content)
			}
		}
		fmt.Println("*** disconnected ***")
		os.Exit(0)
	}()

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, protocol.MaxLineLength), protocol.MaxLineLength)
	for scanner.Scan() {
		if err := c.Send(scanner.Text()); err != nil {
			log.Fatalf("Failed to send message: %v", err)
		}
	}
}
