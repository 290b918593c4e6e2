package store

import "testing"

func TestFileStoreRoundTrip(t *testing.T) {
	s := NewFileStore(t.TempDir())

	if _, ok, err := s.Get("identity"); err != nil || ok {
		t.Fatalf("expected no record, got ok=%v err=%v", ok, err)
	}

	if err := s.PutAtomic("identity", []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("PutAtomic failed: %v", err)
	}

	data, ok, err := s.Get("identity")
	if err != nil || !ok {
		t.Fatalf("expected record, got ok=%v err=%v", ok, err)
	}
	if len(data) != 4 || data[0] != 1 || data[3] != 4 {
		t.Errorf("unexpected data: %v", data)
	}
}

func TestFileStorePutAtomicOverwrites(t *testing.T) {
	s := NewFileStore(t.TempDir())

	if err := s.PutAtomic("identity", []byte{1}); err != nil {
		t.Fatalf("first PutAtomic failed: %v", err)
	}
	if err := s.PutAtomic("identity", []byte{2, 2}); err != nil {
		t.Fatalf("second PutAtomic failed: %v", err)
	}

	data, ok, err := s.Get("identity")
	if err != nil || !ok {
		t.Fatalf("expected record, got ok=%v err=%v", ok, err)
	}
	if len(data) != 2 || data[0] != 2 {
		t.Errorf("expected overwritten record, got %v", data)
	}
}
