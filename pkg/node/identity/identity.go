// Package identity implements persistent node identity: survive power
// cycles without re-provisioning by saving and restoring a NodeIdentity
// record through internal/store's atomic KV.
package identity

import (
	"encoding/binary"

	"github.com/fleetpower/dcmesh/internal/store"
	"github.com/fleetpower/dcmesh/pkg/fleetproto"
)

const recordKey = "identity"

// recordLen is the fixed, padding-free width of a packed Identity record:
// three uint16 fields, one uint8 counter, one uint8 coarse state, one bool.
const recordLen = 2 + 2 + 2 + 1 + 1 + 1

// Identity is the node's persisted post-provisioning state. Once
// UnicastAddr != 0 the record is provisioned and must be restored before any
// mesh traffic is admitted.
type Identity struct {
	NetKeyIdx         uint16
	AppKeyIdx         uint16
	UnicastAddr       fleetproto.Addr
	TID               uint8
	OnOff             uint8
	ClientModelBound  bool
}

// Provisioned reports whether the identity has been assigned a unicast
// address and must be restored before mesh traffic is admitted.
func (id Identity) Provisioned() bool { return id.UnicastAddr != 0 }

// Store is the identity save/restore surface.
type Store interface {
	Save(Identity) error
	Restore() (Identity, bool, error)
}

// KVIdentityStore is the real Store implementation, backed by an
// internal/store.Store keyed KV.
type KVIdentityStore struct {
	kv store.Store
}

// NewKVIdentityStore wraps kv as an identity.Store.
func NewKVIdentityStore(kv store.Store) *KVIdentityStore {
	return &KVIdentityStore{kv: kv}
}

// Save persists id atomically. Called on every event that mutates identity
// or onoff state, never on every sensor read.
func (s *KVIdentityStore) Save(id Identity) error {
	buf := make([]byte, recordLen)
	binary.BigEndian.PutUint16(buf[0:2], id.NetKeyIdx)
	binary.BigEndian.PutUint16(buf[2:4], id.AppKeyIdx)
	binary.BigEndian.PutUint16(buf[4:6], uint16(id.UnicastAddr))
	buf[6] = id.TID
	buf[7] = id.OnOff
	if id.ClientModelBound {
		buf[8] = 1
	}
	return s.kv.PutAtomic(recordKey, buf)
}

// Restore loads the identity record, exactly once at early boot, before
// advertising or mesh-join. A record of unexpected length is treated as
// corrupt and presented as "no record" so the node resumes advertising for
// provisioning rather than failing boot.
func (s *KVIdentityStore) Restore() (Identity, bool, error) {
	data, ok, err := s.kv.Get(recordKey)
	if err != nil {
		return Identity{}, false, err
	}
	if !ok {
		return Identity{}, false, nil
	}
	if len(data) != recordLen {
		return Identity{}, false, nil
	}

	id := Identity{
		NetKeyIdx:        binary.BigEndian.Uint16(data[0:2]),
		AppKeyIdx:        binary.BigEndian.Uint16(data[2:4]),
		UnicastAddr:      fleetproto.Addr(binary.BigEndian.Uint16(data[4:6])),
		TID:              data[6],
		OnOff:            data[7],
		ClientModelBound: data[8] != 0,
	}
	return id, true, nil
}
