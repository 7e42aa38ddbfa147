// Package skel implements the skeletal B-tree map: an ordered associative
// container whose nodes can individually reside either in memory ("live")
// or as lightweight placeholders ("ghosts") backed by an external,
// possibly high-latency, content-addressed archiver.
package skel

// Comparator is a total order over K. It must behave like a three-way
// comparison: negative if a < b, zero if a == b, positive if a > b.
type Comparator[K any] func(a, b K) int

// Bound represents one end of a node's half-open key range [lkey, rkey).
// Go has no natural "null" for an arbitrary K, so the sentinel infinities
// from spec.md are modeled as an explicit tag rather than a nil key.
type Bound[K any] struct {
	key   K
	infLo bool // -infinity: sorts before every finite key
	infHi bool // +infinity: sorts after every finite key
}

// NegInf returns the leftmost sentinel boundary (-infinity).
func NegInf[K any]() Bound[K] {
	return Bound[K]{infLo: true}
}

// PosInf returns the rightmost sentinel boundary (+infinity).
func PosInf[K any]() Bound[K] {
	return Bound[K]{infHi: true}
}

// Finite wraps a concrete key as a boundary.
func Finite[K any](k K) Bound[K] {
	return Bound[K]{key: k}
}

// IsFinite reports whether b carries a real key rather than a sentinel.
func (b Bound[K]) IsFinite() bool {
	return !b.infLo && !b.infHi
}

// Key returns the wrapped key. Panics if the bound is a sentinel; callers
// must check IsFinite first.
func (b Bound[K]) Key() K {
	if !b.IsFinite() {
		panic("skel: Key() called on an infinite Bound")
	}
	return b.key
}

// compareBounds implements compare0 from spec.md §4.1: -infinity sorts
// before every finite key and +infinity sorts after every finite key,
// regardless of which side of the comparison it appears on.
func compareBounds[K any](cmp Comparator[K], a, b Bound[K]) int {
	switch {
	case a.infLo && b.infLo, a.infHi && b.infHi:
		return 0
	case a.infLo, b.infHi:
		return -1
	case a.infHi, b.infLo:
		return 1
	default:
		return cmp(a.key, b.key)
	}
}

// compareKeyToBound compares a concrete key against a boundary.
func compareKeyToBound[K any](cmp Comparator[K], k K, b Bound[K]) int {
	return compareBounds(cmp, Finite(k), b)
}
