package skel

import (
	"context"

	"github.com/google/btree"

	"github.com/redwerk/libindex/pkg/archiver"
)

type entryItem[K any, V any] struct {
	key   K
	value V
}

// EntriesMap is the ordered K→V map local to one node (spec.md §3). It is
// itself skeletal as a whole: deflated replaces the backing btree with
// nothing but an archiver Meta handle, per the "deflated flag on the
// entries map" strategy spec.md §9 names as cleanest.
type EntriesMap[K any, V any] struct {
	cmp Comparator[K]
	bt  *btree.BTreeG[entryItem[K, V]] // nil while deflated

	deflated bool
	meta     archiver.Meta

	enc Encoder[K, V]
}

// Encoder turns a node's live entries into bytes for Push and reconstructs
// them from bytes on Pull. The core ships no concrete encoder: callers
// supply one.
type Encoder[K any, V any] interface {
	EncodeEntries(entries []KV[K, V]) ([]byte, error)
	DecodeEntries(data []byte) ([]KV[K, V], error)
}

// KV is a single exported key/value pair, used at the EntriesMap/Encoder
// boundary and by iteration.
type KV[K any, V any] struct {
	Key   K
	Value V
}

// NewEntriesMap creates an empty, live entries map.
func NewEntriesMap[K any, V any](cmp Comparator[K], enc Encoder[K, V]) *EntriesMap[K, V] {
	less := func(a, b entryItem[K, V]) bool { return cmp(a.key, b.key) < 0 }
	return &EntriesMap[K, V]{
		cmp: cmp,
		bt:  btree.NewG[entryItem[K, V]](32, less),
		enc: enc,
	}
}

// Size returns the number of entries (0 while deflated).
func (m *EntriesMap[K, V]) Size() int {
	if m.deflated {
		return 0
	}
	return m.bt.Len()
}

// IsLive reports whether the map's data is present in memory.
func (m *EntriesMap[K, V]) IsLive() bool { return !m.deflated }

// IsBare reports whether the map is deflated (bare is the entries-map
// analogue of a ghost: present only as a handle).
func (m *EntriesMap[K, V]) IsBare() bool { return m.deflated }

// Ascend performs an in-order walk, stopping early if fn returns false.
// Calling Ascend on a deflated map is a NotLoadedError-worthy condition
// for the caller's node to raise (the map itself doesn't know its node's
// range, so it panics with IllegalStateError — callers that might race
// with deflate must check IsLive first).
func (m *EntriesMap[K, V]) Ascend(fn func(k K, v V) bool) {
	if m.deflated {
		panic(&IllegalStateError{Reason: "Ascend called on a deflated EntriesMap"})
	}
	m.bt.Ascend(func(it entryItem[K, V]) bool { return fn(it.key, it.value) })
}

// Get returns the value for k, if present.
func (m *EntriesMap[K, V]) Get(k K) (V, bool) {
	var zero V
	if m.deflated {
		panic(&IllegalStateError{Reason: "Get called on a deflated EntriesMap"})
	}
	it, ok := m.bt.Get(entryItem[K, V]{key: k})
	if !ok {
		return zero, false
	}
	return it.value, true
}

// Put inserts or replaces the value for k.
func (m *EntriesMap[K, V]) Put(k K, v V) {
	if m.deflated {
		panic(&IllegalStateError{Reason: "Put called on a deflated EntriesMap"})
	}
	m.bt.ReplaceOrInsert(entryItem[K, V]{key: k, value: v})
}

// Delete removes k, reporting whether it was present.
func (m *EntriesMap[K, V]) Delete(k K) bool {
	if m.deflated {
		panic(&IllegalStateError{Reason: "Delete called on a deflated EntriesMap"})
	}
	_, ok := m.bt.Delete(entryItem[K, V]{key: k})
	return ok
}

// RangeBetween yields entries with key strictly between gt and lt (both
// exclusive), in order.
func (m *EntriesMap[K, V]) RangeBetween(gt, lt Bound[K], fn func(k K, v V) bool) {
	if m.deflated {
		panic(&IllegalStateError{Reason: "RangeBetween called on a deflated EntriesMap"})
	}
	m.bt.Ascend(func(it entryItem[K, V]) bool {
		if gt.IsFinite() && m.cmp(it.key, gt.Key()) <= 0 {
			return true
		}
		if lt.IsFinite() && m.cmp(it.key, lt.Key()) >= 0 {
			return false
		}
		return fn(it.key, it.value)
	})
}

// SplitAt splits the map so the left half holds the first rank entries
// (in order) and the right half holds the rest. m is left intact as the
// left half; a new map is returned for the right half.
func (m *EntriesMap[K, V]) SplitAt(rank int) *EntriesMap[K, V] {
	if m.deflated {
		panic(&IllegalStateError{Reason: "SplitAt called on a deflated EntriesMap"})
	}
	right := NewEntriesMap[K, V](m.cmp, m.enc)
	var toMove []entryItem[K, V]
	i := 0
	m.bt.Ascend(func(it entryItem[K, V]) bool {
		if i >= rank {
			toMove = append(toMove, it)
		}
		i++
		return true
	})
	for _, it := range toMove {
		m.bt.Delete(it)
		right.bt.ReplaceOrInsert(it)
	}
	return right
}

// Merge absorbs other's entries into m; other must not be used afterward.
func (m *EntriesMap[K, V]) Merge(other *EntriesMap[K, V]) {
	if m.deflated || other.deflated {
		panic(&IllegalStateError{Reason: "Merge called on a deflated EntriesMap"})
	}
	other.bt.Ascend(func(it entryItem[K, V]) bool {
		m.bt.ReplaceOrInsert(it)
		return true
	})
}

// All materializes every entry in order. Node restructuring (split,
// merge, borrow) works at this granularity since NODE_MIN keeps node
// fan-out small; steady-state point lookups go through Get/Put/Delete
// instead.
func (m *EntriesMap[K, V]) All() []KV[K, V] {
	if m.deflated {
		panic(&IllegalStateError{Reason: "All called on a deflated EntriesMap"})
	}
	out := make([]KV[K, V], 0, m.bt.Len())
	m.bt.Ascend(func(it entryItem[K, V]) bool {
		out = append(out, KV[K, V]{Key: it.key, Value: it.value})
		return true
	})
	return out
}

// Rebuild replaces the map's contents with kvs (assumed already unique by
// key; order doesn't matter, the backing btree re-sorts).
func (m *EntriesMap[K, V]) Rebuild(kvs []KV[K, V]) {
	if m.deflated {
		panic(&IllegalStateError{Reason: "Rebuild called on a deflated EntriesMap"})
	}
	bt := btree.NewG[entryItem[K, V]](32, func(a, b entryItem[K, V]) bool { return m.cmp(a.key, b.key) < 0 })
	for _, kv := range kvs {
		bt.ReplaceOrInsert(entryItem[K, V]{key: kv.Key, value: kv.Value})
	}
	m.bt = bt
}

// Deflate pushes the map's entries to the archiver as a single task and
// drops the in-memory btree, leaving only the Meta handle. No-op if
// already deflated.
func (m *EntriesMap[K, V]) Deflate(ctx context.Context, ar archiver.Archiver) error {
	if m.deflated {
		return nil
	}
	var kvs []KV[K, V]
	m.bt.Ascend(func(it entryItem[K, V]) bool {
		kvs = append(kvs, KV[K, V]{Key: it.key, Value: it.value})
		return true
	})
	data, err := m.enc.EncodeEntries(kvs)
	if err != nil {
		return &DataFormatError{Reason: "encoding entries: " + err.Error()}
	}
	task := &archiver.Task{Meta: m.meta, Data: data}
	if err := ar.Push(ctx, task); err != nil {
		return &TaskError{Cause: TaskAbort, Wrapped: err}
	}
	m.meta = task.Meta
	m.bt = nil
	m.deflated = true
	return nil
}

// Inflate fetches the map's entries back from the archiver. No-op if
// already live.
func (m *EntriesMap[K, V]) Inflate(ctx context.Context, ar archiver.Archiver) error {
	if !m.deflated {
		return nil
	}
	task := &archiver.Task{Meta: m.meta}
	if err := ar.Pull(ctx, task); err != nil {
		return &TaskError{Cause: TaskAbort, Wrapped: err}
	}
	kvs, err := m.enc.DecodeEntries(task.Data)
	if err != nil {
		return &DataFormatError{Reason: "decoding entries: " + err.Error()}
	}
	m.deflated = false
	m.Rebuild(kvs)
	return nil
}
