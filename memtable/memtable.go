// Package memtable implements the in-memory write buffer of the LSM
// engine: a sorted key -> entry map with approximate byte-size
// tracking used to decide when to flush.
package memtable

import "sort"

// Entry is a value slot or a tombstone. A tombstone still occupies a
// map entry (it must shadow any older value for the same key in a
// lower-priority SSTable) but carries no value payload.
type Entry struct {
	Value     []byte
	Tombstone bool
}

// Memtable is a sorted in-memory mapping of key to Entry.
type Memtable struct {
	byKey map[string]Entry
	size  int
}

// New returns an empty Memtable.
func New() *Memtable {
	return &Memtable{byKey: make(map[string]Entry)}
}

// Insert sets key to value, returning the previous value (if any) and
// whether one existed. If key already held an entry, its prior
// contribution to size is subtracted (saturating at zero) before the
// new contribution is added.
func (m *Memtable) Insert(key, value []byte) ([]byte, bool) {
	k := string(key)
	old, existed := m.byKey[k]

	m.size = subSaturating(m.size, occupancy(key, old, existed))
	m.byKey[k] = Entry{Value: cloneBytes(value)}
	m.size += len(key) + len(value)

	if existed && !old.Tombstone {
		return old.Value, true
	}
	return nil, false
}

// Get returns the entry for key, if present. The caller must check
// Entry.Tombstone: a tombstone is a present entry representing a
// delete, not an absent key.
func (m *Memtable) Get(key []byte) (Entry, bool) {
	e, ok := m.byKey[string(key)]
	if !ok {
		return Entry{}, false
	}
	e.Value = cloneBytes(e.Value)
	return e, true
}

// Remove marks key as deleted (a tombstone), returning the previous
// value if the key held one. Unlike a true map deletion, the key
// keeps occupying a slot so that a subsequent flush can write the
// tombstone to an SSTable and shadow any older on-disk value.
func (m *Memtable) Remove(key []byte) ([]byte, bool) {
	k := string(key)
	old, existed := m.byKey[k]

	m.size = subSaturating(m.size, occupancy(key, old, existed))
	m.byKey[k] = Entry{Tombstone: true}
	m.size += len(key)

	if existed && !old.Tombstone {
		return old.Value, true
	}
	return nil, false
}

// occupancy returns the byte contribution of the existing entry for
// key, or 0 if there was none.
func occupancy(key []byte, old Entry, existed bool) int {
	if !existed {
		return 0
	}
	return len(key) + len(old.Value)
}

func subSaturating(a, b int) int {
	if b > a {
		return 0
	}
	return a - b
}

// KV is a (key, entry) pair yielded by Iter in ascending key order.
type KV struct {
	Key   []byte
	Entry Entry
}

// Iter returns all entries (including tombstones) in ascending key
// order. Consumed by flush.
func (m *Memtable) Iter() []KV {
	out := make([]KV, 0, len(m.byKey))
	for k, e := range m.byKey {
		out = append(out, KV{Key: []byte(k), Entry: e})
	}
	sort.Slice(out, func(i, j int) bool { return string(out[i].Key) < string(out[j].Key) })
	return out
}

// Size returns the approximate byte count of all entries: key plus
// value length for a value, key length alone for a tombstone.
func (m *Memtable) Size() int { return m.size }

// Len returns the number of entries, including tombstones.
func (m *Memtable) Len() int { return len(m.byKey) }

// IsEmpty reports whether the memtable holds no entries.
func (m *Memtable) IsEmpty() bool { return len(m.byKey) == 0 }

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
