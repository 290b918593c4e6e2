package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"github.com/fleetpower/dcmesh/internal/config"
	"github.com/fleetpower/dcmesh/internal/logging"
	"github.com/fleetpower/dcmesh/pkg/fleetproto"
)

// Serial implements Connection over a USB/UART serial port, the usual way a
// host reaches the Universal Node holding its attachment.
type Serial struct {
	config config.SerialConfig
	port   serial.Port
	framer *fleetproto.StreamFramer
	reasm  fleetproto.Reassembler
	notify chan []byte
	logger *zap.Logger

	mu        sync.RWMutex
	connected bool
	stopCh    chan struct{}
}

// NewSerial creates a new serial connection.
func NewSerial(cfg config.SerialConfig) (*Serial, error) {
	return &Serial{
		config: cfg,
		notify: make(chan []byte, 100),
		logger: logging.With(zap.String("connection", "serial")),
		stopCh: make(chan struct{}),
	}, nil
}

// Connect opens the configured port and starts the read loop.
func (s *Serial) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return nil
	}

	s.logger.Info("connecting to serial port",
		zap.String("port", s.config.Port),
		zap.Int("baud", s.config.Baud))

	mode := &serial.Mode{
		BaudRate: s.config.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(s.config.Port, mode)
	if err != nil {
		return fmt.Errorf("failed to open serial port: %w", err)
	}

	if err := port.SetReadTimeout(100 * time.Millisecond); err != nil {
		port.Close()
		return fmt.Errorf("failed to set read timeout: %w", err)
	}

	s.port = port
	s.framer = fleetproto.NewStreamFramer(port, port)
	s.reasm.Reset()
	s.connected = true
	s.stopCh = make(chan struct{})

	go s.readLoop(ctx, s.stopCh)

	s.logger.Info("connected to serial port")
	return nil
}

// Notifications returns the channel of reassembled link-endpoint frames.
func (s *Serial) Notifications() <-chan []byte {
	return s.notify
}

// Send frames and writes a single command to the command endpoint.
func (s *Serial) Send(_ context.Context, command []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.connected {
		return fmt.Errorf("not connected")
	}
	return s.framer.WritePacket(command)
}

// Close shuts down the port and the Notifications channel.
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return nil
	}

	s.logger.Info("closing serial connection")
	close(s.stopCh)
	s.connected = false

	if s.port != nil {
		if err := s.port.Close(); err != nil {
			s.logger.Error("error closing serial port", zap.Error(err))
		}
		s.port = nil
	}

	close(s.notify)
	return nil
}

// Name identifies this connection for logs and TUI display.
func (s *Serial) Name() string {
	return fmt.Sprintf("serial:%s", s.config.Port)
}

// IsConnected reports the current link state.
func (s *Serial) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func (s *Serial) readLoop(ctx context.Context, stopCh chan struct{}) {
	s.logger.Debug("starting read loop")
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("read loop stopped: context cancelled")
			return
		case <-stopCh:
			s.logger.Debug("read loop stopped: stop signal")
			return
		default:
			if !s.readFragment() {
				s.logger.Warn("serial peer closed, marking link down")
				s.markDisconnected()
				return
			}
		}
	}
}

// readFragment reads one frame; false means the peer is gone and the read
// loop must stop so the heartbeat sees the link as down.
func (s *Serial) readFragment() bool {
	frame, err := s.framer.ReadPacket()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return false
		}
		s.logger.Debug("error reading frame", zap.Error(err))
		return true
	}

	msg, complete := s.reasm.Feed(frame)
	if !complete {
		return true
	}

	select {
	case s.notify <- msg:
	default:
		s.logger.Warn("notification channel full, dropping message")
	}
	return true
}

// markDisconnected flips the link down without closing the Notifications
// channel, so a later Connect can resume delivery on the same channel.
func (s *Serial) markDisconnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return
	}
	s.connected = false
	if s.port != nil {
		_ = s.port.Close()
		s.port = nil
	}
}

// ListPorts enumerates candidate serial ports for the link supervisor's scan
// phase.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}
