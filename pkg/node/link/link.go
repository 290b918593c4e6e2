// Package link implements the node link endpoint: the single-host
// attachment surface exposing a command write and a sensor-data
// notification stream over a small two-characteristic service.
package link

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/fleetpower/dcmesh/pkg/fleetproto"
)

// ErrOrderingViolation is returned by Register if called after the mesh
// router has already been initialized. The underlying radio stack locks its
// service table at mesh init, so registration must happen first; advertising
// start must happen after.
var ErrOrderingViolation = errors.New("link: Register must run before router init")

// ServiceTable names the stable identifiers the transport exposes. They are
// opaque to this package; its concrete values live in node configuration.
type ServiceTable struct {
	ServiceUUID string
	SensorUUID  string
	CommandUUID string
	LocalName   string
}

// Transport is the minimal surface a concrete radio stack exposes to the
// link endpoint: register a service table once, then start/stop advertising.
type Transport interface {
	RegisterService(ServiceTable) error
	StartAdvertising(ctx context.Context) error
	StopAdvertising() error
	// Notify pushes one outbound frame over the sensor-data characteristic.
	Notify(frame []byte) error
}

// Endpoint is the attachment surface. Inbound command writes are delivered verbatim
// (commands are single writes of at most 64 bytes); outbound replies are
// chunked through fleetproto.Fragment before being handed to the transport.
type Endpoint struct {
	transport Transport
	logger    *zap.Logger

	registered bool
	meshInited bool

	commandCh chan []byte

	// notifyMu keeps one message's fragments contiguous on the wire when the
	// bridge and the router notify concurrently.
	notifyMu sync.Mutex

	captureOnce sync.Once
	attached    bool
	attachedMu  sync.RWMutex
}

// New constructs an Endpoint bound to transport. commandCh receives inbound
// command-endpoint writes, each <=64 bytes, verbatim, for the executor to
// consume.
func New(transport Transport, logger *zap.Logger) *Endpoint {
	return &Endpoint{
		transport: transport,
		logger:    logger,
		commandCh: make(chan []byte, 8),
	}
}

// Register installs the service table. It must be called before MarkMeshInit
// is invoked by the owning node's boot sequence, enforcing the
// registration-before-mesh-init ordering constraint.
func (e *Endpoint) Register(table ServiceTable) error {
	if e.meshInited {
		return ErrOrderingViolation
	}
	if err := e.transport.RegisterService(table); err != nil {
		return err
	}
	e.registered = true
	return nil
}

// MarkMeshInit records that the mesh router has initialized. Called by the node boot
// sequence immediately after mesh init completes.
func (e *Endpoint) MarkMeshInit() {
	e.meshInited = true
}

// Advertise starts advertising. It must run after mesh init, and Register
// must already have succeeded.
func (e *Endpoint) Advertise(ctx context.Context) error {
	if !e.registered {
		return ErrOrderingViolation
	}
	return e.transport.StartAdvertising(ctx)
}

// CommandWrites returns the channel of inbound command-endpoint payloads.
func (e *Endpoint) CommandWrites() <-chan []byte { return e.commandCh }

// OnCommandWrite is invoked by the concrete transport when a host write
// arrives on the command characteristic. It captures the connection handle
// on first use (direct-attach or mesh-proxy routing may both reach here
// without a standard connect event firing) and forwards the payload.
func (e *Endpoint) OnCommandWrite(payload []byte) {
	e.captureConnection()
	select {
	case e.commandCh <- payload:
	default:
		e.logger.Warn("command endpoint backpressure: write dropped")
	}
}

// OnSensorRead marks the connection captured the first time the host reads
// the sensor-data endpoint, mirroring OnCommandWrite's capture for the other
// characteristic.
func (e *Endpoint) OnSensorRead() {
	e.captureConnection()
}

func (e *Endpoint) captureConnection() {
	e.captureOnce.Do(func() {
		e.attachedMu.Lock()
		e.attached = true
		e.attachedMu.Unlock()
		e.logger.Debug("link endpoint captured host connection")
	})
}

// Attached reports whether a host connection handle has been captured.
func (e *Endpoint) Attached() bool {
	e.attachedMu.RLock()
	defer e.attachedMu.RUnlock()
	return e.attached
}

// OnDisconnect resumes advertising and resets connection capture so the next
// attachment is captured again.
func (e *Endpoint) OnDisconnect(ctx context.Context) error {
	e.attachedMu.Lock()
	e.attached = false
	e.attachedMu.Unlock()
	e.captureOnce = sync.Once{}
	return e.Advertise(ctx)
}

// Notify pushes payload to the sensor-data endpoint, fragmenting it when it
// exceeds a single notification's MaxFrame bytes.
func (e *Endpoint) Notify(payload []byte) error {
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()
	for _, frame := range fleetproto.Fragment(payload, fleetproto.MaxFrame) {
		if err := e.transport.Notify(frame); err != nil {
			return err
		}
	}
	return nil
}
