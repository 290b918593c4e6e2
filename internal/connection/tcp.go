package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fleetpower/dcmesh/internal/config"
	"github.com/fleetpower/dcmesh/internal/logging"
	"github.com/fleetpower/dcmesh/pkg/fleetproto"
)

// TCP implements Connection over a bare TCP socket, framing each link-endpoint
// fragment with fleetproto's length-prefixed StreamFramer.
type TCP struct {
	config config.TCPConfig
	conn   net.Conn
	framer *fleetproto.StreamFramer
	reasm  fleetproto.Reassembler
	notify chan []byte
	logger *zap.Logger

	mu        sync.RWMutex
	connected bool
	stopCh    chan struct{}
}

// NewTCP creates a new TCP connection.
func NewTCP(cfg config.TCPConfig) (*TCP, error) {
	return &TCP{
		config: cfg,
		notify: make(chan []byte, 100),
		logger: logging.With(zap.String("connection", "tcp")),
		stopCh: make(chan struct{}),
	}, nil
}

// Connect dials the configured host:port and starts the read loop.
func (t *TCP) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.connected {
		return nil
	}

	addr := fmt.Sprintf("%s:%d", t.config.Host, t.config.Port)
	t.logger.Info("connecting to tcp endpoint", zap.String("address", addr))

	dialer := net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))

	t.conn = conn
	t.framer = fleetproto.NewStreamFramer(conn, conn)
	t.reasm.Reset()
	t.connected = true
	t.stopCh = make(chan struct{})

	go t.readLoop(ctx, t.stopCh)

	t.logger.Info("connected to tcp endpoint")
	return nil
}

// Notifications returns the channel of reassembled link-endpoint frames.
func (t *TCP) Notifications() <-chan []byte {
	return t.notify
}

// Send frames and writes a single command to the command endpoint.
func (t *TCP) Send(_ context.Context, command []byte) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.connected {
		return fmt.Errorf("not connected")
	}
	return t.framer.WritePacket(command)
}

// Close shuts down the connection and the Notifications channel.
func (t *TCP) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected {
		return nil
	}

	t.logger.Info("closing tcp connection")
	close(t.stopCh)
	t.connected = false

	if t.conn != nil {
		if err := t.conn.Close(); err != nil {
			t.logger.Error("error closing tcp connection", zap.Error(err))
		}
		t.conn = nil
	}

	close(t.notify)
	return nil
}

// Name identifies this connection for logs and TUI display.
func (t *TCP) Name() string {
	return fmt.Sprintf("tcp:%s:%d", t.config.Host, t.config.Port)
}

// IsConnected reports the current link state.
func (t *TCP) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

func (t *TCP) readLoop(ctx context.Context, stopCh chan struct{}) {
	t.logger.Debug("starting read loop")
	for {
		select {
		case <-ctx.Done():
			t.logger.Debug("read loop stopped: context cancelled")
			return
		case <-stopCh:
			t.logger.Debug("read loop stopped: stop signal")
			return
		default:
			if !t.readFragment() {
				t.logger.Warn("tcp peer closed, marking link down")
				t.markDisconnected()
				return
			}
		}
	}
}

// readFragment reads one frame; false means the peer is gone and the read
// loop must stop so the heartbeat sees the link as down.
func (t *TCP) readFragment() bool {
	t.mu.RLock()
	conn := t.conn
	t.mu.RUnlock()
	if conn != nil {
		_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	}

	frame, err := t.framer.ReadPacket()
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return true
		}
		if errors.Is(err, io.EOF) {
			return false
		}
		t.logger.Debug("error reading frame", zap.Error(err))
		return true
	}

	msg, complete := t.reasm.Feed(frame)
	if !complete {
		return true
	}

	select {
	case t.notify <- msg:
	default:
		t.logger.Warn("notification channel full, dropping message")
	}
	return true
}

// markDisconnected flips the link down without closing the Notifications
// channel, so a later Connect can resume delivery on the same channel.
func (t *TCP) markDisconnected() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return
	}
	t.connected = false
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
}
