package linksupervisor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fleetpower/dcmesh/internal/config"
)

type fakeConn struct {
	mu        sync.Mutex
	connected bool
	failNext  bool
	sent      [][]byte
	notify    chan []byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{notify: make(chan []byte, 4)}
}

func (f *fakeConn) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return errConnectFailed
	}
	f.connected = true
	return nil
}

func (f *fakeConn) Notifications() <-chan []byte { return f.notify }

func (f *fakeConn) Send(_ context.Context, cmd []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, cmd)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *fakeConn) Name() string { return "fake" }

func (f *fakeConn) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

type fakePauser struct {
	mu          sync.Mutex
	pauseCount  int
	resumeCount int
}

func (p *fakePauser) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pauseCount++
}

func (p *fakePauser) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resumeCount++
}

var errConnectFailed = &connectError{}

type connectError struct{}

func (*connectError) Error() string { return "connect failed" }

func TestSupervisorConnectReachesAttachedAndResumesManager(t *testing.T) {
	conn := newFakeConn()
	pauser := &fakePauser{}
	logger := zap.NewNop()
	sup := New(conn, config.LinkSupervisorConfig{HeartbeatInterval: 50 * time.Millisecond}, pauser, logger)

	require.NoError(t, sup.Connect(context.Background()))
	require.Equal(t, StateAttached, sup.State())
	require.True(t, sup.Attached())

	pauser.mu.Lock()
	resumes := pauser.resumeCount
	pauser.mu.Unlock()
	require.Equal(t, 1, resumes)
}

func TestSupervisorSendCommandGatedWhileNotAttached(t *testing.T) {
	conn := newFakeConn()
	pauser := &fakePauser{}
	sup := New(conn, config.LinkSupervisorConfig{}, pauser, zap.NewNop())

	err := sup.SendCommand(context.Background(), 0xC000, []byte("READ"))
	require.ErrorIs(t, err, ErrNotAttached)
}

func TestSupervisorHeartbeatFailTriggersReattach(t *testing.T) {
	conn := newFakeConn()
	pauser := &fakePauser{}
	sup := New(conn, config.LinkSupervisorConfig{
		HeartbeatInterval: 20 * time.Millisecond,
		ReattachRetryWait: 10 * time.Millisecond,
	}, pauser, zap.NewNop())

	require.NoError(t, sup.Connect(context.Background()))
	require.Equal(t, StateAttached, sup.State())

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	go sup.Run(ctx)

	conn.mu.Lock()
	conn.connected = false
	conn.mu.Unlock()

	// The state is Attached both before the drop is noticed and after the
	// reattach, so wait for the pause that marks the detach as well.
	require.Eventually(t, func() bool {
		pauser.mu.Lock()
		paused := pauser.pauseCount >= 1
		pauser.mu.Unlock()
		return paused && sup.State() == StateAttached
	}, 500*time.Millisecond, 10*time.Millisecond)

	pauser.mu.Lock()
	defer pauser.mu.Unlock()
	require.GreaterOrEqual(t, pauser.pauseCount, 1)
}
