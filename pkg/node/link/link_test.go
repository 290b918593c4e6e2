package link_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/fleetpower/dcmesh/pkg/fleetproto"
	"github.com/fleetpower/dcmesh/pkg/node/link"
)

type fakeTransport struct {
	mu       sync.Mutex
	frames   [][]byte
	advertised bool
}

func (t *fakeTransport) RegisterService(link.ServiceTable) error { return nil }
func (t *fakeTransport) StartAdvertising(ctx context.Context) error {
	t.advertised = true
	return nil
}
func (t *fakeTransport) StopAdvertising() error { return nil }
func (t *fakeTransport) Notify(frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frames = append(t.frames, append([]byte(nil), frame...))
	return nil
}

func TestAdvertiseBeforeRegisterFails(t *testing.T) {
	transport := &fakeTransport{}
	e := link.New(transport, zap.NewNop())

	if err := e.Advertise(context.Background()); !errors.Is(err, link.ErrOrderingViolation) {
		t.Fatalf("expected ErrOrderingViolation, got %v", err)
	}
}

func TestRegisterAfterMeshInitFails(t *testing.T) {
	transport := &fakeTransport{}
	e := link.New(transport, zap.NewNop())
	e.MarkMeshInit()

	if err := e.Register(link.ServiceTable{}); !errors.Is(err, link.ErrOrderingViolation) {
		t.Fatalf("expected ErrOrderingViolation, got %v", err)
	}
}

func TestNotifyFragmentsLongPayload(t *testing.T) {
	transport := &fakeTransport{}
	e := link.New(transport, zap.NewNop())
	if err := e.Register(link.ServiceTable{}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	payload := []byte("NODE3:DATA:D:50%,V:12.345V,I:456.78mA,P:1234.5mW")
	if err := e.Notify(payload); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}

	transport.mu.Lock()
	frames := transport.frames
	transport.mu.Unlock()

	if len(frames) < 2 {
		t.Fatalf("expected multiple fragments, got %d", len(frames))
	}

	var r fleetproto.Reassembler
	var got []byte
	for _, f := range frames {
		got, _ = r.Feed(f)
	}
	if string(got) != string(payload) {
		t.Errorf("reassembled = %q, want %q", got, payload)
	}
}

func TestConnectionCaptureOnFirstCommandWrite(t *testing.T) {
	transport := &fakeTransport{}
	e := link.New(transport, zap.NewNop())

	if e.Attached() {
		t.Fatalf("expected not attached before any write")
	}
	e.OnCommandWrite([]byte("0:READ"))
	if !e.Attached() {
		t.Errorf("expected attached after first command write")
	}
}
