// Package protocol implements the relay's newline-delimited text protocol.
package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind represents the type of a server-to-client message.
type Kind int

const (
	KindLogin Kind = iota
	KindMessage
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case KindLogin:
		return "LOGIN"
	case KindMessage:
		return "MESSAGE"
	default:
		return "UNKNOWN"
	}
}

// ServerMessage is a parsed server-to-client protocol line.
type ServerMessage struct {
	Kind    Kind
	Sender  uint16
	Content string
}

// BuildLogin builds the login notice sent to a freshly registered client.
func BuildLogin(id uint16) string {
	return "LOGIN:" + strconv.FormatUint(uint64(id), 10)
}

// BuildMessage builds the relay line delivered to every client other than the sender.
func BuildMessage(id uint16, content string) string {
	return fmt.Sprintf("MESSAGE:%d %s", id, content)
}

// ParseServerMessage parses a server-to-client line into a ServerMessage.
func ParseServerMessage(line string) (ServerMessage, error) {
	if rest, ok := strings.CutPrefix(line, "LOGIN:"); ok {
		id, err := parseID(rest)
		if err != nil {
			return ServerMessage{}, fmt.Errorf("protocol: malformed login %q: %w", line, err)
		}
		return ServerMessage{Kind: KindLogin, Sender: id}, nil
	}

	if rest, ok := strings.CutPrefix(line, "MESSAGE:"); ok {
		idPart, content, _ := strings.Cut(rest, " ")
		id, err := parseID(idPart)
		if err != nil {
			return ServerMessage{}, fmt.Errorf("protocol: malformed message %q: %w", line, err)
		}
		return ServerMessage{Kind: KindMessage, Sender: id, Content: content}, nil
	}

	return ServerMessage{}, fmt.Errorf("protocol: unrecognized line %q", line)
}

func parseID(s string) (uint16, error) {
	id, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid identifier %q", s)
	}
	return uint16(id), nil
}
