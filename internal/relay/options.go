package relay

import (
	"log/slog"
	"time"

	"github.com/omochice/line-relay/internal/metrics"
)

// Option configures a Server.
type Option func(*Server)

// WithWebSocketAddr enables a second listener accepting WebSocket clients.
func WithWebSocketAddr(addr string) Option {
	return func(s *Server) {
		s.wsAddress = addr
	}
}

// WithLogger sets the server logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// WithMetrics sets the metrics collectors the server reports into.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithMaxLineLength overrides the default maximum line length.
func WithMaxLineLength(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxLineLen = n
		}
	}
}

// WithWriteTimeout bounds each per-recipient send during login and fan-out.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// WithEventBuffer sets the capacity of the inbound event channel.
func WithEventBuffer(n int) Option {
	return func(s *Server) {
		if n >= 0 {
			s.eventBuffer = n
		}
	}
}
