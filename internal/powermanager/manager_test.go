package powermanager

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fleetpower/dcmesh/pkg/fleetproto"
)

type fakeDispatcher struct {
	mu   sync.Mutex
	sent []sentCommand
}

type sentCommand struct {
	target  fleetproto.Addr
	payload string
}

func (d *fakeDispatcher) SendCommand(_ context.Context, target fleetproto.Addr, payload []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, sentCommand{target: target, payload: string(payload)})
	return nil
}

func (d *fakeDispatcher) commands() []sentCommand {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]sentCommand(nil), d.sent...)
}

func (d *fakeDispatcher) reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = nil
}

func newTestManager(cfg PmConfig, d Dispatcher) *Manager {
	return New(cfg, d, nil, zap.NewNop())
}

func observe(m *Manager, nodeID, duty int, volts, milliamps float64) {
	m.ObserveReading(Reading{
		NodeID:     nodeID,
		Duty:       duty,
		VoltageV:   volts,
		CurrentMA:  milliamps,
		Generation: m.Generation(),
	})
}

func TestEvaluateScaleDownProportional(t *testing.T) {
	d := &fakeDispatcher{}
	cfg := DefaultPmConfig()
	cfg.ThresholdMW = 5000
	m := newTestManager(cfg, d)

	// Two equal nodes at 3000 mW each against a 4500 mW budget: each is
	// 750 mW over its 2250 mW share, one nudge step down apiece.
	observe(m, 0, 80, 12.0, 250.0)
	observe(m, 1, 80, 12.0, 250.0)
	m.evaluate()

	cmds := d.commands()
	require.Len(t, cmds, 2)
	for _, c := range cmds {
		require.Equal(t, "duty:70", c.payload)
	}

	for _, ns := range m.Snapshot() {
		require.Equal(t, 70, ns.CommandedDuty, "commanded duty updates on send, not on confirmation")
	}
}

func TestEvaluateLargerOvershootCutsHarder(t *testing.T) {
	d := &fakeDispatcher{}
	cfg := DefaultPmConfig()
	cfg.ThresholdMW = 1000 // budget 900, share 900
	m := newTestManager(cfg, d)

	// 2810 mW against a 900 mW share: overshoot ratio > 2, so the cut is
	// ceil(1910/900) = 3 nudge steps.
	observe(m, 0, 90, 11.24, 250.0)
	m.evaluate()

	cmds := d.commands()
	require.Len(t, cmds, 1)
	require.Equal(t, "duty:60", cmds[0].payload)
}

func TestEvaluateDeadbandHolds(t *testing.T) {
	d := &fakeDispatcher{}
	cfg := DefaultPmConfig()
	cfg.ThresholdMW = 5000
	cfg.Deadband = 100
	m := newTestManager(cfg, d)

	// 2250 mW share, 2300 mW measured: inside the deadband.
	observe(m, 0, 50, 10.0, 225.0)
	observe(m, 1, 50, 10.0, 230.0)
	m.evaluate()

	require.Empty(t, d.commands())
}

func TestEvaluateScaleUpClampedAt100(t *testing.T) {
	d := &fakeDispatcher{}
	cfg := DefaultPmConfig()
	cfg.ThresholdMW = 10000
	m := newTestManager(cfg, d)

	observe(m, 0, 95, 12.0, 100.0) // 1200 mW, well under its share
	m.evaluate()

	cmds := d.commands()
	require.Len(t, cmds, 1)
	require.Equal(t, "duty:100", cmds[0].payload)
}

func TestEvaluateDutyFloorsAtZero(t *testing.T) {
	d := &fakeDispatcher{}
	cfg := DefaultPmConfig()
	cfg.ThresholdMW = 100 // budget 90: everything is massively over
	m := newTestManager(cfg, d)

	observe(m, 0, 5, 12.0, 500.0)
	m.evaluate()

	cmds := d.commands()
	require.Len(t, cmds, 1)
	require.Equal(t, "duty:0", cmds[0].payload)
}

func TestPriorityDoublesShare(t *testing.T) {
	d := &fakeDispatcher{}
	cfg := DefaultPmConfig()
	cfg.ThresholdMW = 5000 // budget 4500
	m := newTestManager(cfg, d)
	m.SetPriority(1)
	d.reset() // SetPriority wakes the loop but sends nothing itself

	// Shares: node 1 gets 3000 mW, node 0 gets 1500 mW. Both measure
	// 2000 mW: node 0 is over, node 1 is under.
	observe(m, 0, 50, 10.0, 200.0)
	observe(m, 1, 50, 10.0, 200.0)
	m.evaluate()

	cmds := d.commands()
	require.Len(t, cmds, 2)

	byTarget := map[fleetproto.Addr]string{}
	for _, c := range cmds {
		byTarget[c.target] = c.payload
	}
	require.Equal(t, "duty:40", byTarget[fleetproto.NodeAddr(0)])
	require.Equal(t, "duty:60", byTarget[fleetproto.NodeAddr(1)])
}

func TestStaleNodeExcluded(t *testing.T) {
	d := &fakeDispatcher{}
	cfg := DefaultPmConfig()
	cfg.ThresholdMW = 5000
	cfg.StaleThreshold = 50 * time.Millisecond
	m := newTestManager(cfg, d)

	observe(m, 0, 80, 12.0, 250.0)
	observe(m, 1, 80, 12.0, 250.0)

	time.Sleep(80 * time.Millisecond)
	observe(m, 0, 80, 12.0, 250.0) // node 0 reports again; node 1 goes stale
	m.evaluate()

	for _, ns := range m.Snapshot() {
		if ns.NodeID == 1 {
			require.False(t, ns.Responsive)
		} else {
			require.True(t, ns.Responsive)
		}
	}

	// Only node 0 is balanced, and the full 4500 mW budget is its share,
	// so it scales up rather than down.
	cmds := d.commands()
	require.Len(t, cmds, 1)
	require.Equal(t, fleetproto.NodeAddr(0), cmds[0].target)
	require.Equal(t, "duty:90", cmds[0].payload)
}

func TestConvergenceWithoutOscillation(t *testing.T) {
	d := &fakeDispatcher{}
	cfg := DefaultPmConfig()
	cfg.ThresholdMW = 5000
	// One nudge step moves this plant 600 mW; the deadband has to absorb
	// that or the controller hunts around the share forever.
	cfg.Deadband = 700
	m := newTestManager(cfg, d)

	// A proportional plant: 60 mW per duty percent per node. Starting at
	// 3000 mW each (duty 50), total 6000 against a 4500 budget.
	const mwPerDuty = 60.0
	duties := map[int]int{0: 50, 1: 50}

	var history [][2]int
	for cycle := 0; cycle < 8; cycle++ {
		for id, duty := range duties {
			p := mwPerDuty * float64(duty)
			observe(m, id, duty, 12.0, p/12.0)
		}
		m.evaluate()

		// Apply whatever the controller commanded, modelling a mesh that
		// delivers every nudge before the next poll.
		for _, c := range d.commands() {
			id := fleetproto.NodeID(c.target)
			var next int
			_, err := fmt.Sscanf(c.payload, "duty:%d", &next)
			require.NoError(t, err)
			duties[id] = next
		}
		d.reset()
		history = append(history, [2]int{duties[0], duties[1]})
	}

	// Settled within four cycles: the last cycles repeat the cycle-4 state.
	for i := 4; i < len(history); i++ {
		require.Equal(t, history[3], history[i], "commanded duty still changing after cycle %d", i)
	}

	total := mwPerDuty * float64(duties[0]+duties[1])
	require.InDelta(t, 4500, total, 5*cfg.Deadband, "settled total should sit near budget")
}

func TestBudgetNonIncreasingWhenOver(t *testing.T) {
	d := &fakeDispatcher{}
	cfg := DefaultPmConfig()
	cfg.ThresholdMW = 5000
	m := newTestManager(cfg, d)

	const mwPerDuty = 60.0
	duties := map[int]int{0: 55, 1: 55}
	prevTotal := math.Inf(1)

	for cycle := 0; cycle < 4; cycle++ {
		var total float64
		for id, duty := range duties {
			p := mwPerDuty * float64(duty)
			total += p
			observe(m, id, duty, 12.0, p/12.0)
		}
		// A poll that found the fleet over budget must not be followed by a
		// higher total.
		if prevTotal > cfg.BudgetMW() {
			require.LessOrEqual(t, total, prevTotal)
		}
		prevTotal = total

		m.evaluate()
		for _, c := range d.commands() {
			var next int
			_, err := fmt.Sscanf(c.payload, "duty:%d", &next)
			require.NoError(t, err)
			duties[fleetproto.NodeID(c.target)] = next
		}
		d.reset()
	}
}

func TestDisableRestoresTargetDuty(t *testing.T) {
	d := &fakeDispatcher{}
	cfg := DefaultPmConfig()
	cfg.ThresholdMW = 5000
	m := newTestManager(cfg, d)

	observe(m, 0, 80, 12.0, 250.0)
	m.SetTargetDuty(0, 80, false)
	m.evaluate() // nudges commanded duty away from target
	d.reset()

	m.Disable()

	cmds := d.commands()
	require.Len(t, cmds, 1)
	require.Equal(t, "duty:80", cmds[0].payload)

	snap := m.Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, 80, snap[0].CommandedDuty)
}

func TestPausedLoopIssuesNoPoll(t *testing.T) {
	d := &fakeDispatcher{}
	cfg := DefaultPmConfig()
	cfg.PollInterval = 10 * time.Millisecond
	cfg.ReplyWaitWindow = time.Millisecond
	cfg.ThresholdMW = 5000
	m := newTestManager(cfg, d)
	m.Pause()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, m.Run(ctx))

	require.Empty(t, d.commands(), "paused manager must not poll")
}

func TestRunPollsAndEvaluates(t *testing.T) {
	d := &fakeDispatcher{}
	cfg := DefaultPmConfig()
	cfg.PollInterval = 10 * time.Millisecond
	cfg.ReplyWaitWindow = time.Millisecond
	cfg.ThresholdMW = 5000
	m := newTestManager(cfg, d)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, m.Run(ctx))

	var polls int
	for _, c := range d.commands() {
		if c.target == fleetproto.GroupAddr && strings.EqualFold(c.payload, "READ") {
			polls++
		}
	}
	require.Greater(t, polls, 1)
	require.Greater(t, m.Generation(), 1)
}
