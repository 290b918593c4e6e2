// Package store is a typed atomic-record KV abstraction backing persistent
// identity: one real implementation, file-backed, writing to a shadow
// path and renaming into place so a reader never observes a torn record.
package store

import (
	"errors"
	"os"
	"path/filepath"
)

// ErrNotFound names the missing-record condition. FileStore.Get does not
// return it: a missing record is reported as ok=false with a nil error.
var ErrNotFound = errors.New("store: key not found")

// Store is the narrow KV surface the identity layer depends on.
type Store interface {
	// Get returns the record for key. ok is false (with no error) when no
	// record exists.
	Get(key string) (value []byte, ok bool, err error)

	// PutAtomic writes value for key such that a concurrent reader never
	// observes a partially-written record.
	PutAtomic(key string, value []byte) error
}

// FileStore is a directory of one file per key, each written via
// write-to-shadow-then-rename.
type FileStore struct {
	dir string
}

// NewFileStore creates a FileStore rooted at dir. dir must already exist.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, key+".rec")
}

func (s *FileStore) shadowPath(key string) string {
	return filepath.Join(s.dir, key+".rec.tmp")
}

func (s *FileStore) Get(key string) ([]byte, bool, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// PutAtomic writes value to a shadow file and renames it over the live
// record, so readers only ever see the prior complete record or the new one.
func (s *FileStore) PutAtomic(key string, value []byte) error {
	shadow := s.shadowPath(key)
	if err := os.WriteFile(shadow, value, 0o600); err != nil {
		return err
	}
	return os.Rename(shadow, s.path(key))
}
