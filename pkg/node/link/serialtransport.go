package link

import (
	"context"
	"errors"
	"io"

	"go.uber.org/zap"

	"github.com/fleetpower/dcmesh/pkg/fleetproto"
)

// SerialTransport implements Transport over a byte stream (a serial port or
// PTY), the node-facing side of the same StreamFramer scheme
// internal/connection uses on the host. It stands in for a radio stack when
// the host reaches the node over a wired link, and in simulation.
type SerialTransport struct {
	framer   *fleetproto.StreamFramer
	endpoint *Endpoint
	logger   *zap.Logger
	table    ServiceTable
	stopCh   chan struct{}
}

// NewSerialTransport wraps rw (an open serial port or PTY master/slave) as a
// link Transport. Call SetEndpoint before StartAdvertising so inbound
// command writes have somewhere to go.
func NewSerialTransport(rw io.ReadWriter, logger *zap.Logger) *SerialTransport {
	return &SerialTransport{
		framer: fleetproto.NewStreamFramer(rw, rw),
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

// SetEndpoint wires the Endpoint that owns this transport, breaking the
// construction cycle between Endpoint (needs a Transport) and Transport
// (needs to call back into the Endpoint on inbound writes).
func (t *SerialTransport) SetEndpoint(e *Endpoint) {
	t.endpoint = e
}

// RegisterService records the service table; there is no real BLE GATT
// registration to perform over a plain byte stream.
func (t *SerialTransport) RegisterService(table ServiceTable) error {
	t.table = table
	return nil
}

// StartAdvertising begins reading inbound command frames.
func (t *SerialTransport) StartAdvertising(ctx context.Context) error {
	go t.readLoop(ctx)
	return nil
}

// StopAdvertising stops the read loop.
func (t *SerialTransport) StopAdvertising() error {
	select {
	case <-t.stopCh:
	default:
		close(t.stopCh)
	}
	return nil
}

// Notify writes one outbound frame.
func (t *SerialTransport) Notify(frame []byte) error {
	return t.framer.WritePacket(frame)
}

func (t *SerialTransport) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stopCh:
			return
		default:
		}

		frame, err := t.framer.ReadPacket()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			continue
		}

		if t.endpoint != nil {
			t.endpoint.OnCommandWrite(frame)
		} else {
			t.logger.Warn("serial transport: command write arrived before endpoint was wired")
		}
	}
}
