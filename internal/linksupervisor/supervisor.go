// Package linksupervisor implements the host-side link supervisor: the
// state machine that owns the physical connection to whichever Universal
// Node currently holds the host's attachment, reattaching on drop and gating
// outbound commands while the link is down.
package linksupervisor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/qmuntal/stateless"
	"go.uber.org/zap"

	"github.com/fleetpower/dcmesh/internal/config"
	"github.com/fleetpower/dcmesh/internal/connection"
	"github.com/fleetpower/dcmesh/pkg/fleetproto"
)

// State is one node of the supervisor's state graph.
type State string

const (
	StateDisconnected State = "disconnected"
	StateScanning     State = "scanning"
	StateConnecting   State = "connecting"
	StateAttached     State = "attached"
	StateReattaching  State = "reattaching"
)

// Trigger is one edge label of the supervisor's state graph.
type Trigger string

const (
	TriggerUserConnect   Trigger = "user_connect"
	TriggerDevicesFound  Trigger = "devices_found"
	TriggerSubscribeOK   Trigger = "subscribe_ok"
	TriggerSubscribeFail Trigger = "subscribe_fail"
	TriggerHeartbeatFail Trigger = "heartbeat_fail"
	TriggerScanExhausted Trigger = "scan_exhausted"
)

// ErrNotAttached is returned by SendCommand when the link is not in the
// Attached state; callers must not block waiting for reattachment.
var ErrNotAttached = errors.New("link supervisor: not attached")

// Pauser is the subset of powermanager.Manager the supervisor drives across
// attach/detach transitions.
type Pauser interface {
	Pause()
	Resume()
}

// Supervisor owns one connection.Connection and the reattachment state machine built
// around it.
type Supervisor struct {
	conn   connection.Connection
	cfg    config.LinkSupervisorConfig
	pauser Pauser
	logger *zap.Logger

	sm *stateless.StateMachine

	mu              sync.Mutex
	lastConnectedAt time.Time
}

// New constructs a Supervisor wrapping conn, configured from cfg, and wired
// to pause/resume pauser (the Power Manager) across attach/detach.
func New(conn connection.Connection, cfg config.LinkSupervisorConfig, pauser Pauser, logger *zap.Logger) *Supervisor {
	s := &Supervisor{
		conn:   conn,
		cfg:    cfg,
		pauser: pauser,
		logger: logger,
	}

	sm := stateless.NewStateMachine(StateDisconnected)

	sm.Configure(StateDisconnected).
		Permit(TriggerUserConnect, StateScanning)

	sm.Configure(StateScanning).
		OnEntryFrom(TriggerUserConnect, s.onEnterScanning).
		Permit(TriggerDevicesFound, StateConnecting).
		Permit(TriggerScanExhausted, StateDisconnected)

	sm.Configure(StateConnecting).
		OnEntry(s.onEnterConnecting).
		Permit(TriggerSubscribeOK, StateAttached).
		Permit(TriggerSubscribeFail, StateScanning)

	sm.Configure(StateAttached).
		OnEntry(s.onEnterAttached).
		OnExit(s.onExitAttached).
		Permit(TriggerHeartbeatFail, StateReattaching)

	sm.Configure(StateReattaching).
		OnEntry(s.onEnterReattaching).
		Permit(TriggerSubscribeOK, StateAttached).
		Permit(TriggerScanExhausted, StateDisconnected)

	s.sm = sm
	return s
}

// Connect drives the state machine from Disconnected to (eventually)
// Attached, or returns an error if the underlying connection never comes up.
func (s *Supervisor) Connect(ctx context.Context) error {
	if err := s.sm.FireCtx(ctx, TriggerUserConnect); err != nil {
		return err
	}
	if s.State() == StateScanning {
		// The single target did not come up; fall back to Disconnected so a
		// later Connect can try again.
		_ = s.sm.FireCtx(ctx, TriggerScanExhausted)
		return fmt.Errorf("link supervisor: could not attach via %s", s.conn.Name())
	}
	return nil
}

// State reports the supervisor's current state.
func (s *Supervisor) State() State {
	st, _ := s.sm.State(context.Background())
	return st.(State)
}

// Attached reports whether the link is currently usable.
func (s *Supervisor) Attached() bool {
	return s.State() == StateAttached
}

func (s *Supervisor) onEnterScanning(ctx context.Context, _ ...any) error {
	s.logger.Debug("link supervisor: scanning", zap.String("connection", s.conn.Name()))
	// This realization's Connection already names its single target (one
	// serial port, TCP host, or MQTT broker); there is no multi-candidate
	// discovery to perform, so scanning always finds exactly that target.
	return s.sm.FireCtx(ctx, TriggerDevicesFound)
}

func (s *Supervisor) onEnterConnecting(ctx context.Context, _ ...any) error {
	s.logger.Info("link supervisor: connecting", zap.String("connection", s.conn.Name()))

	connectCtx := ctx
	var cancel context.CancelFunc
	if s.cfg.ScanTimeout > 0 {
		connectCtx, cancel = context.WithTimeout(ctx, s.cfg.ScanTimeout)
		defer cancel()
	}

	if err := s.conn.Connect(connectCtx); err != nil {
		s.logger.Warn("link supervisor: connect failed", zap.Error(err))
		return s.sm.FireCtx(ctx, TriggerSubscribeFail)
	}

	s.mu.Lock()
	s.lastConnectedAt = time.Now()
	s.mu.Unlock()

	return s.sm.FireCtx(ctx, TriggerSubscribeOK)
}

func (s *Supervisor) onEnterAttached(_ context.Context, _ ...any) error {
	s.logger.Info("link supervisor: attached", zap.String("connection", s.conn.Name()))
	if s.pauser != nil {
		s.pauser.Resume()
	}
	return nil
}

func (s *Supervisor) onExitAttached(_ context.Context, _ ...any) error {
	if s.pauser != nil {
		s.pauser.Pause()
	}
	return nil
}

// SetPauser wires the Power Manager after construction, breaking the
// constructor cycle between Supervisor (needs a Pauser) and Manager (needs a
// Dispatcher, which the Supervisor itself is).
func (s *Supervisor) SetPauser(p Pauser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pauser = p
}

func (s *Supervisor) onEnterReattaching(ctx context.Context, _ ...any) error {
	s.logger.Warn("link supervisor: reattaching", zap.String("connection", s.conn.Name()))

	retryWait := s.cfg.ReattachRetryWait
	if retryWait <= 0 {
		retryWait = 5 * time.Second
	}

	const maxAttempts = 3
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return s.sm.FireCtx(ctx, TriggerScanExhausted)
		}

		// Candidate ordering: this connection is already bound to the
		// last-attached target, so retrying it first (and only) realizes
		// the "last connected address first" rule for a single-target
		// transport; a multi-device scanning transport would enumerate
		// further candidates here between attempts.
		if err := s.conn.Connect(ctx); err == nil {
			s.mu.Lock()
			s.lastConnectedAt = time.Now()
			s.mu.Unlock()
			return s.sm.FireCtx(ctx, TriggerSubscribeOK)
		}

		s.logger.Debug("link supervisor: reattach attempt failed",
			zap.Int("attempt", attempt), zap.Duration("retry_wait", retryWait))

		select {
		case <-ctx.Done():
			return s.sm.FireCtx(ctx, TriggerScanExhausted)
		case <-time.After(retryWait):
		}
	}

	return s.sm.FireCtx(ctx, TriggerScanExhausted)
}

// Run drives the heartbeat: while Attached, it polls the connection's
// liveness every interval and fires HeartbeatFail on drop; while
// Disconnected, it retries Connect every interval.
func (s *Supervisor) Run(ctx context.Context) error {
	interval := s.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if s.State() == StateDisconnected {
				if err := s.Connect(ctx); err != nil {
					s.logger.Debug("link supervisor: connect retry failed", zap.Error(err))
				}
				continue
			}
			if s.State() != StateAttached {
				continue
			}
			if !s.conn.IsConnected() {
				s.logger.Warn("link supervisor: heartbeat detected drop")
				if err := s.sm.FireCtx(ctx, TriggerHeartbeatFail); err != nil {
					s.logger.Warn("link supervisor: heartbeat transition failed", zap.Error(err))
				}
			}
		}
	}
}

// SendCommand implements powermanager.Dispatcher: it renders the target
// mesh address and verb payload as an ASCII command line and writes it to
// the connection, refusing immediately while not Attached.
func (s *Supervisor) SendCommand(ctx context.Context, target fleetproto.Addr, payload []byte) error {
	if !s.Attached() {
		return ErrNotAttached
	}

	var targetStr string
	if target == fleetproto.GroupAddr {
		targetStr = "ALL"
	} else {
		targetStr = strconv.Itoa(fleetproto.NodeID(target))
	}

	cmd := fmt.Sprintf("%s:%s", targetStr, payload)
	return s.conn.Send(ctx, []byte(cmd))
}

// SendRaw writes an already-formed command line to the connection, with the
// same fail-fast gating as SendCommand.
func (s *Supervisor) SendRaw(ctx context.Context, command []byte) error {
	if !s.Attached() {
		return ErrNotAttached
	}
	return s.conn.Send(ctx, command)
}
