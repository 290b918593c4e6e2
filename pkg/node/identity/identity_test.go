package identity

import (
	"testing"

	"github.com/fleetpower/dcmesh/internal/store"
)

func TestKVIdentityStoreRoundTrip(t *testing.T) {
	s := NewKVIdentityStore(store.NewFileStore(t.TempDir()))

	if _, ok, err := s.Restore(); err != nil || ok {
		t.Fatalf("expected unprovisioned, got ok=%v err=%v", ok, err)
	}

	want := Identity{
		NetKeyIdx:        1,
		AppKeyIdx:        2,
		UnicastAddr:      0x0007,
		TID:              9,
		OnOff:            1,
		ClientModelBound: true,
	}
	if err := s.Save(want); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, ok, err := s.Restore()
	if err != nil || !ok {
		t.Fatalf("expected provisioned record, got ok=%v err=%v", ok, err)
	}
	if got != want {
		t.Errorf("Restore() = %+v, want %+v", got, want)
	}
	if !got.Provisioned() {
		t.Errorf("expected Provisioned() true for non-zero UnicastAddr")
	}
}

func TestKVIdentityStoreRejectsCorruptRecord(t *testing.T) {
	kv := store.NewFileStore(t.TempDir())
	if err := kv.PutAtomic(recordKey, []byte{1, 2, 3}); err != nil {
		t.Fatalf("PutAtomic failed: %v", err)
	}

	s := NewKVIdentityStore(kv)
	_, ok, err := s.Restore()
	if err != nil || ok {
		t.Fatalf("expected corrupt record treated as unprovisioned, got ok=%v err=%v", ok, err)
	}
}
