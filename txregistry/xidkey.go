package txregistry

import (
	"sync"

	"golang.org/x/exp/slices"

	"github.com/stuartwdouglas/wildfly-transaction-client/txid"
)

// XidKey is the eviction key for an ImportedEntry: the moment past which no
// peer should still reference gtid, paired with the gtid itself so the key
// is unique even across two entries that happen to expire at the same
// nanosecond.
type XidKey struct {
	Expiration int64
	Gtid       txid.SimpleXid
}

// Compare orders keys by expiration first, then by gtid, matching the
// registry's range-prefix eviction sweep (oldest expirations first).
func (k XidKey) Compare(o XidKey) int {
	if k.Expiration != o.Expiration {
		if k.Expiration < o.Expiration {
			return -1
		}
		return 1
	}
	return k.Gtid.Compare(o.Gtid)
}

// orderedKeySet is a mutex-guarded sorted slice supporting insert/remove
// located by O(log n) binary search (the slice shift itself is O(n)) and a
// range-prefix sweep of expired keys, the closest
// idiomatic analog available in this corpus's own toolbox to a proper
// skip-list: a guarded slice plus golang.org/x/exp/slices' binary-search
// helpers, the same pairing kvclientpool.go uses for its connection list.
type orderedKeySet struct {
	mu   sync.Mutex
	keys []XidKey
}

func (s *orderedKeySet) Insert(k XidKey) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, found := slices.BinarySearchFunc(s.keys, k, XidKey.Compare)
	if found {
		return
	}
	s.keys = slices.Insert(s.keys, idx, k)
}

func (s *orderedKeySet) Remove(k XidKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, found := slices.BinarySearchFunc(s.keys, k, XidKey.Compare)
	if !found {
		return false
	}
	s.keys = slices.Delete(s.keys, idx, idx+1)
	return true
}

// SweepExpired removes and returns every key with Expiration < now.
func (s *orderedKeySet) SweepExpired(now int64) []XidKey {
	s.mu.Lock()
	defer s.mu.Unlock()

	probe := XidKey{Expiration: now}
	idx, _ := slices.BinarySearchFunc(s.keys, probe, XidKey.Compare)

	expired := append([]XidKey(nil), s.keys[:idx]...)
	s.keys = s.keys[idx:]
	return expired
}

func (s *orderedKeySet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}
