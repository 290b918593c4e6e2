// Package powermanager implements the Power Manager: the host-side
// closed-loop controller that keeps aggregate node power under budget while
// respecting priority and responsiveness, without sustained oscillation.
package powermanager

import (
	"context"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/fleetpower/dcmesh/pkg/fleetproto"
)

// pollWaitWindow is the per-generation reply wait before evaluate runs.
const pollWaitWindow = 4 * time.Second

// pausedInterval is the sleep the poll phase falls back to while paused.
const pausedInterval = time.Second

// Dispatcher is the mesh send surface the Manager issues commands through; a
// *router.Router or a host connection's equivalent satisfies it.
type Dispatcher interface {
	SendCommand(ctx context.Context, target fleetproto.Addr, payload []byte) error
}

// Manager is the Power Manager. NodeStatus entries are owned exclusively by
// the Manager; every other reader goes through Snapshot.
type Manager struct {
	mu     sync.Mutex
	cfg    PmConfig
	nodes  map[int]*NodeStatus
	paused bool

	pollGeneration int

	dispatcher Dispatcher
	logger     *zap.Logger
	metrics    *metrics

	wake chan struct{}
}

// New constructs a Manager. reg receives the Prometheus gauges the evaluate
// phase updates each cycle.
func New(cfg PmConfig, dispatcher Dispatcher, reg prometheus.Registerer, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:        cfg,
		nodes:      make(map[int]*NodeStatus),
		dispatcher: dispatcher,
		logger:     logger,
		metrics:    newMetrics(reg),
		wake:       make(chan struct{}, 1),
	}
}

// Run drives the poll/evaluate loop until ctx is cancelled. It is the
// Manager's single cooperative task, matching the single-goroutine
// concurrency model described for the host side.
func (m *Manager) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(m.currentInterval()):
		case <-m.wake:
		}

		if m.Paused() {
			continue
		}

		m.mu.Lock()
		m.pollGeneration++
		gen := m.pollGeneration
		m.mu.Unlock()

		if err := m.poll(ctx, gen); err != nil {
			m.logger.Warn("power manager poll failed", zap.Error(err))
			continue
		}
		m.evaluate()
	}
}

func (m *Manager) currentInterval() time.Duration {
	if m.Paused() {
		return pausedInterval
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg.PollInterval <= 0 {
		return DefaultPmConfig().PollInterval
	}
	return m.cfg.PollInterval
}

// poll issues exactly one ALL:READ and waits the per-generation reply window
// before evaluate runs. Replies themselves arrive out-of-band through
// ObserveReading, called by whatever host component decodes link-endpoint
// notifications.
func (m *Manager) poll(ctx context.Context, gen int) error {
	if err := m.dispatcher.SendCommand(ctx, fleetproto.GroupAddr, []byte(string(fleetproto.VerbRead))); err != nil {
		return err
	}
	m.logger.Debug("poll issued", zap.Int("generation", gen))

	m.mu.Lock()
	window := m.cfg.ReplyWaitWindow
	m.mu.Unlock()
	if window <= 0 {
		window = pollWaitWindow
	}

	waitCtx, cancel := context.WithTimeout(ctx, window)
	defer cancel()
	<-waitCtx.Done()
	return nil
}

// Generation returns the current poll generation, stamped on readings so
// stale replies can be identified.
func (m *Manager) Generation() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pollGeneration
}

// SetTargetDuty records the user's intended duty for a node, restored as a
// final nudge when balancing is disabled. all selects every tracked node.
func (m *Manager) SetTargetDuty(nodeID int, duty int, all bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ns := range m.nodes {
		if all || ns.NodeID == nodeID {
			ns.TargetDuty = duty
		}
	}
}

// evaluate recomputes responsiveness, then nudges each responsive node's
// duty toward its weighted share of the budget. commanded_duty is updated
// unconditionally on send; gating it on the next reported duty oscillates
// under mesh round-trip latency.
func (m *Manager) evaluate() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for _, ns := range m.nodes {
		ns.Responsive = now.Sub(ns.LastSeen) < m.cfg.StaleThreshold
	}

	if m.cfg.ThresholdMW <= 0 {
		return
	}

	var responsive []*NodeStatus
	totalWeight := 0.0
	for _, ns := range m.nodes {
		if !ns.Responsive {
			continue
		}
		responsive = append(responsive, ns)
		totalWeight += m.weightOf(ns.NodeID)
	}
	if len(responsive) == 0 {
		return
	}

	budget := m.cfg.BudgetMW()
	total := 0.0

	for _, ns := range responsive {
		total += ns.PowerMW

		share := budget * m.weightOf(ns.NodeID) / totalWeight
		d := ns.CommandedDuty
		diff := ns.PowerMW - share

		newDuty := d
		switch {
		case math.Abs(diff) <= m.cfg.Deadband:
			// within deadband, no change
		case diff > 0:
			cuts := math.Ceil(diff / share)
			newDuty = d - m.cfg.NudgeStep*int(cuts)
			if newDuty < 0 {
				newDuty = 0
			}
		default:
			newDuty = d + m.cfg.NudgeStep
			if newDuty > 100 {
				newDuty = 100
			}
		}

		if newDuty != d {
			target := fleetproto.NodeAddr(ns.NodeID)
			payload := []byte("duty:" + strconv.Itoa(newDuty))
			if err := m.dispatcher.SendCommand(context.Background(), target, payload); err != nil {
				m.logger.Warn("power manager nudge send failed", zap.Int("node_id", ns.NodeID), zap.Error(err))
			}
			// Unconditional update: the next READ frequently still shows the
			// previous duty because of mesh round-trip latency. Gating this
			// on confirmation causes indefinite oscillation.
			ns.CommandedDuty = newDuty
		}

		m.metrics.nodePowerMW.WithLabelValues(strconv.Itoa(ns.NodeID)).Set(ns.PowerMW)
		m.metrics.nodeDuty.WithLabelValues(strconv.Itoa(ns.NodeID)).Set(float64(ns.CommandedDuty))
	}

	m.metrics.totalPowerMW.Set(total)
	m.metrics.budgetMW.Set(budget)
}

func (m *Manager) weightOf(nodeID int) float64 {
	if m.cfg.PriorityNodeID != nil && *m.cfg.PriorityNodeID == nodeID {
		return 2
	}
	return 1
}

// ObserveReading records a decoded DATA reply. Called from the host
// connection layer, not from Run.
func (m *Manager) ObserveReading(r Reading) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ns, ok := m.nodes[r.NodeID]
	if !ok {
		ns = &NodeStatus{NodeID: r.NodeID, CommandedDuty: r.Duty, TargetDuty: r.Duty}
		m.nodes[r.NodeID] = ns
	}
	ns.Duty = r.Duty
	ns.VoltageV = r.VoltageV
	ns.CurrentMA = r.CurrentMA
	ns.PowerMW = math.Abs(r.VoltageV * r.CurrentMA)
	ns.LastSeen = time.Now()
	ns.PollGeneration = r.Generation
	ns.Responsive = true
}

// Snapshot returns a copy of every tracked NodeStatus, safe to read from any
// goroutine (the TUI's redraw loop in particular).
func (m *Manager) Snapshot() []NodeStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]NodeStatus, 0, len(m.nodes))
	for _, ns := range m.nodes {
		out = append(out, *ns)
	}
	return out
}

// SetThreshold sets the power budget and forces an immediate poll.
func (m *Manager) SetThreshold(mW float64) {
	m.mu.Lock()
	m.cfg.ThresholdMW = mW
	m.mu.Unlock()
	m.bootstrap()
}

// Disable stops the control loop's balancing (threshold 0) and nudges each
// node back to its user-set TargetDuty as a final action.
func (m *Manager) Disable() {
	m.mu.Lock()
	m.cfg.ThresholdMW = 0
	targets := make(map[fleetproto.Addr]int, len(m.nodes))
	for _, ns := range m.nodes {
		if ns.TargetDuty != ns.CommandedDuty {
			targets[fleetproto.NodeAddr(ns.NodeID)] = ns.TargetDuty
			ns.CommandedDuty = ns.TargetDuty
		}
	}
	m.mu.Unlock()

	for addr, duty := range targets {
		payload := []byte("duty:" + strconv.Itoa(duty))
		if err := m.dispatcher.SendCommand(context.Background(), addr, payload); err != nil {
			m.logger.Warn("power manager disable nudge failed", zap.Error(err))
		}
	}
}

// SetPriority doubles the given node's share and forces an immediate poll.
func (m *Manager) SetPriority(nodeID int) {
	m.mu.Lock()
	id := nodeID
	m.cfg.PriorityNodeID = &id
	m.mu.Unlock()
	m.bootstrap()
}

// ClearPriority returns to equal shares and forces an immediate poll.
func (m *Manager) ClearPriority() {
	m.mu.Lock()
	m.cfg.PriorityNodeID = nil
	m.mu.Unlock()
	m.bootstrap()
}

// Pause short-circuits the poll phase; set by the Link Supervisor while
// re-attaching.
func (m *Manager) Pause() {
	m.mu.Lock()
	m.paused = true
	m.mu.Unlock()
}

// Resume clears the paused flag; the loop resumes transparently.
func (m *Manager) Resume() {
	m.mu.Lock()
	m.paused = false
	m.mu.Unlock()
}

// Paused reports the current suspension state.
func (m *Manager) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

// bootstrap forces an out-of-cycle poll. A full channel means a wake is
// already pending, so the send is simply dropped.
func (m *Manager) bootstrap() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}
