package fleetproto

import (
	"bytes"
	"testing"
)

func TestFragmentShortMessage(t *testing.T) {
	payload := []byte("NODE3:DATA:D:50%")
	frames := Fragment(payload, MaxFrame)
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if !bytes.Equal(frames[0], payload) {
		t.Errorf("frame mismatch: got %q, want %q", frames[0], payload)
	}
}

func TestFragmentLongMessage(t *testing.T) {
	payload := []byte("NODE3:DATA:D:50%,V:12.345V,I:456.78mA,P:1234.5mW")
	frames := Fragment(payload, MaxFrame)
	if len(frames) < 2 {
		t.Fatalf("expected multiple frames, got %d", len(frames))
	}

	for i, f := range frames[:len(frames)-1] {
		if len(f) != MaxFrame {
			t.Errorf("frame %d: len = %d, want %d", i, len(f), MaxFrame)
		}
		if f[0] != FragPrefix {
			t.Errorf("frame %d: missing FragPrefix", i)
		}
	}

	last := frames[len(frames)-1]
	if len(last) > MaxFrame {
		t.Errorf("final frame too long: %d", len(last))
	}
	if last[0] == FragPrefix {
		t.Errorf("final frame must not carry FragPrefix")
	}
}

func TestReassemblerRoundTrip(t *testing.T) {
	payload := []byte("NODE3:DATA:D:50%,V:12.345V,I:456.78mA,P:1234.5mW")
	frames := Fragment(payload, MaxFrame)

	var r Reassembler
	var got []byte
	var done bool
	for _, f := range frames {
		got, done = r.Feed(f)
	}
	if !done {
		t.Fatalf("reassembly did not complete")
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("reassembled = %q, want %q", got, payload)
	}
}

func TestReassemblerIntermediateFramesIncomplete(t *testing.T) {
	payload := []byte("NODE3:DATA:D:50%,V:12.345V,I:456.78mA,P:1234.5mW")
	frames := Fragment(payload, MaxFrame)
	if len(frames) < 2 {
		t.Fatalf("test requires a multi-frame message")
	}

	var r Reassembler
	for _, f := range frames[:len(frames)-1] {
		if _, done := r.Feed(f); done {
			t.Fatalf("reassembly completed before final frame")
		}
	}
}
