// Package connection implements the host side of the short-range
// point-to-point link: whatever physical transport is
// attached to the Universal Node currently holding the host's attachment,
// carrying ASCII commands out and reassembled notification frames back.
package connection

import "context"

// Connection is the narrow surface the link supervisor and the power
// manager's dispatcher drive. Implementations include serial, TCP, and
// MQTT-bridged transports; every one of them reassembles link-endpoint
// fragments the same way. Serial and TCP carry each fragment in a
// StreamFramer frame; MQTT carries one fragment per broker message.
type Connection interface {
	// Connect establishes the physical link to the attached node.
	Connect(ctx context.Context) error

	// Notifications returns a channel of fully reassembled frames: DATA,
	// ACK, ONOFF, TIMEOUT, SENT, or ERROR payloads. The
	// channel is closed when the connection is closed.
	Notifications() <-chan []byte

	// Send transmits a single ASCII command (<=64 bytes) to the attached
	// node's command endpoint.
	Send(ctx context.Context, command []byte) error

	// Close cleanly shuts down the connection. This closes the
	// Notifications channel.
	Close() error

	// Name returns a unique identifier for this connection, e.g.
	// "serial:/dev/ttyUSB0".
	Name() string

	// IsConnected reports whether the link is currently attached. The
	// link supervisor's heartbeat polls this every 2s.
	IsConnected() bool
}
