package node_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/fleetpower/dcmesh/internal/store"
	"github.com/fleetpower/dcmesh/pkg/fleetproto"
	"github.com/fleetpower/dcmesh/pkg/node"
	"github.com/fleetpower/dcmesh/pkg/node/bus/simbus"
	"github.com/fleetpower/dcmesh/pkg/node/link"
)

type fakeHAL struct {
	mu    sync.Mutex
	duty  int
	volts float64
	mAmps float64
}

func (h *fakeHAL) ReadVoltageCurrent() (float64, float64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.volts, h.mAmps, true
}

func (h *fakeHAL) SetDuty(percent int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.duty = percent
	return nil
}

type fakeTransport struct {
	mu        sync.Mutex
	notified  [][]byte
	registered bool
}

func (t *fakeTransport) RegisterService(link.ServiceTable) error {
	t.registered = true
	return nil
}
func (t *fakeTransport) StartAdvertising(ctx context.Context) error { return nil }
func (t *fakeTransport) StopAdvertising() error                     { return nil }
func (t *fakeTransport) Notify(frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.notified = append(t.notified, append([]byte(nil), frame...))
	return nil
}

func TestNodeLocalReadViaLinkEndpoint(t *testing.T) {
	logger := zap.NewNop()
	hub := simbus.NewHub(200 * time.Millisecond)
	b := hub.Attach(fleetproto.NodeAddr(1))

	transport := &fakeTransport{}
	endpoint := link.New(transport, logger)
	if err := endpoint.Register(link.ServiceTable{LocalName: "fleet-node"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	endpoint.MarkMeshInit()
	if err := endpoint.Advertise(context.Background()); err != nil {
		t.Fatalf("Advertise failed: %v", err)
	}

	h := &fakeHAL{volts: 12.0, mAmps: 500.0}
	n, err := node.New(node.Config{
		Bus:        b,
		HAL:        h,
		IdentityKV: store.NewFileStore(t.TempDir()),
		Link:       endpoint,
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("node.New failed: %v", err)
	}
	defer n.Stop()

	endpoint.OnCommandWrite([]byte("0:READ"))

	want := "NODE1:DATA:D:0%,V:12.000V,I:500.00mA,P:6000.0mW"

	deadline := time.After(time.Second)
	var reassembled []byte
	for {
		transport.mu.Lock()
		frames := append([][]byte(nil), transport.notified...)
		transport.mu.Unlock()

		var r fleetproto.Reassembler
		var done bool
		for _, f := range frames {
			reassembled, done = r.Feed(f)
			if done {
				break
			}
		}
		if done {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for notification")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if string(reassembled) != want {
		t.Errorf("reply = %q, want %q", reassembled, want)
	}
	if !endpoint.Attached() {
		t.Errorf("expected connection capture on command write")
	}
}

func TestGroupReadFansOutWithoutSelfDuplicate(t *testing.T) {
	logger := zap.NewNop()
	hub := simbus.NewHub(200 * time.Millisecond)

	transport := &fakeTransport{}
	endpoint := link.New(transport, logger)
	if err := endpoint.Register(link.ServiceTable{LocalName: "fleet-node"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	var nodes []*node.Node
	for i := 0; i < 3; i++ {
		var ep *link.Endpoint
		if i == 0 {
			ep = endpoint
		}
		n, err := node.New(node.Config{
			Bus:        hub.Attach(fleetproto.NodeAddr(i)),
			HAL:        &fakeHAL{volts: 12.0, mAmps: 100.0 * float64(i+1)},
			IdentityKV: store.NewFileStore(t.TempDir()),
			Link:       ep,
			Logger:     logger,
		})
		if err != nil {
			t.Fatalf("node.New(%d) failed: %v", i, err)
		}
		defer n.Stop()
		nodes = append(nodes, n)
	}
	endpoint.MarkMeshInit()

	endpoint.OnCommandWrite([]byte("ALL:READ"))

	// Expect exactly one DATA notification per node: the bridge's own local
	// execution plus one mesh reply from each remote, never a self-echo
	// duplicate.
	wantIDs := map[int]int{0: 0, 1: 0, 2: 0}
	deadline := time.After(2 * time.Second)
	for {
		got := map[int]int{}
		var r fleetproto.Reassembler
		transport.mu.Lock()
		frames := append([][]byte(nil), transport.notified...)
		transport.mu.Unlock()
		for _, f := range frames {
			if msg, done := r.Feed(f); done {
				var id int
				if n, _ := fmt.Sscanf(string(msg), "NODE%d:DATA:", &id); n == 1 {
					got[id]++
				}
			}
		}
		if len(got) == len(wantIDs) {
			for id, count := range got {
				if count != 1 {
					t.Fatalf("node %d replied %d times, want exactly once", id, count)
				}
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out; notifications per node: %v", got)
		case <-time.After(20 * time.Millisecond):
		}
	}
}
