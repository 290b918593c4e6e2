package router_test

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/fleetpower/dcmesh/pkg/fleetproto"
	"github.com/fleetpower/dcmesh/pkg/node/bus/simbus"
	"github.com/fleetpower/dcmesh/pkg/node/router"
)

type echoExecutor struct{}

func (echoExecutor) Execute(raw []byte) []byte {
	return append([]byte("ECHO:"), raw...)
}

func TestRouterUnicastRoundTrip(t *testing.T) {
	hub := simbus.NewHub(200 * time.Millisecond)
	aBus := hub.Attach(fleetproto.NodeAddr(1))
	bBus := hub.Attach(fleetproto.NodeAddr(2))

	logger := zap.NewNop()

	var received []byte
	recvd := make(chan struct{}, 1)
	aRouter := router.New(aBus, echoExecutor{}, func(src fleetproto.Addr, payload []byte) {
		received = payload
		recvd <- struct{}{}
	}, logger)
	defer aRouter.Stop()

	bRouter := router.New(bBus, echoExecutor{}, nil, logger)
	defer bRouter.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := aRouter.SendCommand(ctx, fleetproto.NodeAddr(2), []byte("READ")); err != nil {
		t.Fatalf("SendCommand failed: %v", err)
	}

	select {
	case <-recvd:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reply")
	}

	if string(received) != "ECHO:READ" {
		t.Errorf("received = %q, want %q", received, "ECHO:READ")
	}
}

func TestRouterSelfEchoSuppressed(t *testing.T) {
	hub := simbus.NewHub(200 * time.Millisecond)
	aBus := hub.Attach(fleetproto.NodeAddr(1))

	var executed int
	countingExec := execFunc(func(raw []byte) []byte {
		executed++
		return raw
	})

	logger := zap.NewNop()
	aRouter := router.New(aBus, countingExec, nil, logger)
	defer aRouter.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := aRouter.SendCommand(ctx, fleetproto.GroupAddr, []byte("READ")); err != nil {
		t.Fatalf("SendCommand failed: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	if executed != 0 {
		t.Errorf("expected self-echoed group message to be dropped, executed %d times", executed)
	}
}

type execFunc func(raw []byte) []byte

func (f execFunc) Execute(raw []byte) []byte { return f(raw) }
