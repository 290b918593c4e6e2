// Package executor implements the command executor: it parses already
// frame-decoded commands, drives the HAL, and decides whether a command
// resolves locally or needs a mesh dispatch through the router.
package executor

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fleetpower/dcmesh/pkg/fleetproto"
	"github.com/fleetpower/dcmesh/pkg/node/hal"
)

// monitorInterval is the MONITOR verb's periodic READ polling cadence.
const monitorInterval = time.Second

// Sender is the subset of router.Router the executor needs: issuing a mesh
// command to a target address. Kept as an interface so executor does not
// import router directly, avoiding the router<->executor construction cycle
// (a Router is built from an Executor, so the Executor can only learn its
// Sender after both exist).
type Sender interface {
	SendCommand(ctx context.Context, target fleetproto.Addr, payload []byte) error
}

// Executor wraps a HAL and, once attached, a mesh Sender.
type Executor struct {
	hal      hal.HAL
	selfAddr fleetproto.Addr
	logger   *zap.Logger

	sender Sender

	// onOffHook observes coarse on/off transitions so the owning node can
	// persist them; nil outside a full node assembly.
	onOffHook func(on uint8)

	mu       sync.Mutex
	duty     int
	monitors map[fleetproto.Addr]context.CancelFunc
}

// New constructs an Executor for the node at selfAddr. AttachSender must be
// called before any command that requires mesh dispatch is handled.
func New(h hal.HAL, selfAddr fleetproto.Addr, logger *zap.Logger) *Executor {
	return &Executor{
		hal:      h,
		selfAddr: selfAddr,
		logger:   logger,
		monitors: make(map[fleetproto.Addr]context.CancelFunc),
	}
}

// AttachSender wires the mesh dispatch path. Called once, after the Router
// owning this Executor has been constructed.
func (e *Executor) AttachSender(s Sender) { e.sender = s }

// SetOnOffHook registers an observer for coarse on/off transitions.
func (e *Executor) SetOnOffHook(fn func(on uint8)) { e.onOffHook = fn }

// Execute implements the router.Executor interface: it runs the local
// effect for a mesh CMD payload already addressed to this node, and returns
// the raw reply payload, unwrapped; the caller adds the NODE<id>: framing.
func (e *Executor) Execute(raw []byte) []byte {
	cmd, err := fleetproto.ParseCommand(raw)
	if err != nil {
		return []byte(err.Error())
	}
	payload, _ := e.runLocal(context.Background(), cmd)
	return []byte(payload)
}

// Handle routes a command arriving at the command endpoint: to local
// execution (self target), to the group address plus local execution (ALL),
// or to a unicast mesh dispatch (any other node id). It returns the
// immediate reply payload and, when the command must also reach the mesh, a
// Dispatch describing that send.
func (e *Executor) Handle(ctx context.Context, cmd fleetproto.Command) (reply string, dispatch *Dispatch) {
	selfID := fleetproto.NodeID(e.selfAddr)

	// MONITOR runs on the bridging node itself: it starts a local 1s READ
	// poller toward the target and never enters the mesh as a command.
	if cmd.Verb == fleetproto.VerbMonitor {
		if !cmd.TargetAll && cmd.NodeID != 0 && cmd.NodeID != selfID {
			e.startMonitor(fleetproto.NodeAddr(cmd.NodeID))
		}
		return fleetproto.FormatReply(fleetproto.ReplySent, 0, string(fleetproto.VerbMonitor)), nil
	}

	switch {
	case cmd.TargetAll:
		meshPayload := meshPayload(cmd)
		local, _ := e.runLocal(ctx, cmd)
		return fleetproto.FormatReply(fleetproto.ReplyData, selfID, local),
			&Dispatch{Dst: fleetproto.GroupAddr, Payload: []byte(meshPayload)}

	case cmd.NodeID == 0 || cmd.NodeID == selfID:
		local, _ := e.runLocal(ctx, cmd)
		return fleetproto.FormatReply(fleetproto.ReplyData, selfID, local), nil

	default:
		meshPayload := meshPayload(cmd)
		return fleetproto.FormatReply(fleetproto.ReplySent, 0, string(cmd.Verb)),
			&Dispatch{Dst: fleetproto.NodeAddr(cmd.NodeID), Payload: []byte(meshPayload)}
	}
}

// Dispatch is a pending mesh send the caller must perform through a
// router.Router after Handle returns.
type Dispatch struct {
	Dst     fleetproto.Addr
	Payload []byte
}

// meshPayload renders the node-native short form carried over the mesh:
// addressing is already conveyed by the mesh destination, so only the verb
// (and value, for DUTY) travels.
func meshPayload(cmd fleetproto.Command) string {
	if cmd.Verb == fleetproto.VerbDuty {
		return "duty:" + strconv.Itoa(cmd.Value)
	}
	return string(cmd.Verb)
}

// runLocal performs the per-verb local effect and returns the standard
// D:/V:/I:/P: formatted reading.
func (e *Executor) runLocal(ctx context.Context, cmd fleetproto.Command) (string, error) {
	switch cmd.Verb {
	case fleetproto.VerbRead:
		return e.read(), nil

	case fleetproto.VerbDuty:
		if err := e.setDuty(cmd.Value); err != nil {
			e.logger.Warn("set duty failed", zap.Error(err))
		}
		return e.read(), nil

	case fleetproto.VerbStop, fleetproto.VerbOff:
		if err := e.setDuty(0); err != nil {
			e.logger.Warn("set duty failed", zap.Error(err))
		}
		if e.onOffHook != nil {
			e.onOffHook(0)
		}
		return e.read(), nil

	case fleetproto.VerbOn, fleetproto.VerbRamp:
		if e.onOffHook != nil && cmd.Verb == fleetproto.VerbOn {
			e.onOffHook(1)
		}
		if err := runRamp(ctx, e.setDuty); err != nil {
			e.logger.Warn("ramp interrupted", zap.Error(err))
		}
		return e.read(), nil

	case fleetproto.VerbMonitor:
		// A monitor request arriving over the mesh carries no usable
		// target; acknowledge without starting a poller.
		return "MONITOR", nil

	default:
		return "", nil
	}
}

func (e *Executor) read() string {
	volts, mAmps, ok := e.hal.ReadVoltageCurrent()
	if !ok {
		volts, mAmps = 0, 0
	}
	mW := volts * mAmps
	if mW < 0 {
		mW = -mW
	}
	e.mu.Lock()
	duty := e.duty
	e.mu.Unlock()
	return fleetproto.FormatData(duty, volts, mAmps, mW)
}

// setDuty commands the HAL and records the authoritative duty set-point,
// clamped to [0,100].
func (e *Executor) setDuty(percent int) error {
	percent = clampDuty(percent)
	err := e.hal.SetDuty(percent)
	e.mu.Lock()
	e.duty = percent
	e.mu.Unlock()
	return err
}

func clampDuty(n int) int {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}

// startMonitor launches (or replaces) a 1s periodic READ poller toward
// target, issued as mesh unicast commands through the attached Sender.
func (e *Executor) startMonitor(target fleetproto.Addr) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cancel, ok := e.monitors[target]; ok {
		cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.monitors[target] = cancel

	go func() {
		ticker := time.NewTicker(monitorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if e.sender != nil {
					_ = e.sender.SendCommand(ctx, target, []byte(string(fleetproto.VerbRead)))
				}
			}
		}
	}()
}
