package skel

import (
	"github.com/segmentio/ksuid"

	"github.com/redwerk/libindex/pkg/archiver"
)

// NodeID is a stable identifier for a node, independent of whether the
// node is currently live or ghosted. It is minted once, when a node is
// created live (via split, bulk construction, or translator Rev), and
// never changes across live/ghost transitions (Design Notes: "store a
// stable node identifier… rather than a raw pointer"). It is not used as
// a storage handle: node pushes carry no Meta, and each archiver invents
// its own.
type NodeID ksuid.KSUID

// NilNodeID is the identity of "no node" (used for a root's parent).
var NilNodeID = NodeID(ksuid.Nil)

func newNodeID() NodeID { return NodeID(ksuid.New()) }

func (id NodeID) String() string { return ksuid.KSUID(id).String() }

// childSlot is the tagged variant described in Design Notes item 1:
// exactly one of live/ghost is non-nil. Modeling the slot this way
// (instead of a pointer whose target is polymorphic) makes the Live/Ghost
// state machine from spec.md §4.2 explicit and exhaustively switchable.
type childSlot[K any, V any] struct {
	live  *Node[K, V]
	ghost *GhostNode[K, V]
}

func liveSlot[K any, V any](n *Node[K, V]) childSlot[K, V]       { return childSlot[K, V]{live: n} }
func ghostSlot[K any, V any](g *GhostNode[K, V]) childSlot[K, V] { return childSlot[K, V]{ghost: g} }

func (s childSlot[K, V]) isGhost() bool { return s.ghost != nil }

// lkey/rkey/size are the structural queries that are legal on either a
// live node or a ghost; anything that needs to materialize children
// (childCount, isLeaf, selectNode, navigation) is only legal on a live
// node and panics/returns NotLoadedError through higher layers for
// ghosts, per spec.md §3.

func (s childSlot[K, V]) lkey() Bound[K] {
	if s.live != nil {
		return s.live.lkey
	}
	return s.ghost.lkey
}

func (s childSlot[K, V]) rkey() Bound[K] {
	if s.live != nil {
		return s.live.rkey
	}
	return s.ghost.rkey
}

func (s childSlot[K, V]) size() int {
	if s.live != nil {
		return s.live.size
	}
	return s.ghost.size
}

// Node is a live B-tree node: its entries map and all of its children
// (live or ghosted) are directly reachable in memory.
type Node[K any, V any] struct {
	id   NodeID
	tree *Tree[K, V]

	parent NodeID // NilNodeID for the root
	leaf   bool   // immutable after construction

	lkey, rkey Bound[K]

	entries *EntriesMap[K, V]

	// children is empty for a leaf, len(entries)+1 otherwise. Arranged
	// between consecutive entry keys per spec.md §3.
	children []childSlot[K, V]

	// ghosts is the number of immediate children currently ghosted; a
	// derived field kept incrementally in step with attachGhost/
	// attachSkeleton rather than recomputed, and checked by assertions in
	// debug-only invariant checks (Design Notes item 1).
	ghosts int

	size int // total entries in the subtree, recomputed on structural change
}

// GhostNode is a placeholder for a subtree that has been pushed out to
// the archiver. It carries no owned resources beyond its Meta handle.
type GhostNode[K any, V any] struct {
	id         NodeID // same identity the node had while live
	lkey, rkey Bound[K]
	size       int

	// parent is a lookup handle into the owning Tree's live-node arena,
	// not an ownership reference (spec.md §3, Design Notes item 2). It is
	// mutated during restructuring under the tree's single-writer
	// contract: only the driver goroutine that currently owns the
	// traversal may write it, and it is never guarded by a mutex.
	parent NodeID

	meta archiver.Meta
}

// ID returns the ghost's stable node identity.
func (g *GhostNode[K, V]) ID() NodeID { return g.id }

// Meta returns the ghost's opaque storage handle.
func (g *GhostNode[K, V]) Meta() archiver.Meta { return g.meta }

// Parent returns the lookup handle (not an owning reference) of the live
// node currently holding this ghost as a child.
func (g *GhostNode[K, V]) Parent() NodeID { return g.parent }

// IsLeaf reports whether n is a leaf. Immutable after construction.
func (n *Node[K, V]) IsLeaf() bool { return n.leaf }

// NodeSize returns the cached subtree size.
func (n *Node[K, V]) NodeSize() int { return n.size }

// ChildCount returns the number of children (0 for a leaf).
func (n *Node[K, V]) ChildCount() int {
	if n.leaf {
		return 0
	}
	return len(n.children)
}

// IsBare reports whether n's entries map is bare and every child is a
// ghost (or n is a leaf) — spec.md §3.
func (n *Node[K, V]) IsBare() bool {
	if !n.entries.IsBare() {
		return false
	}
	if n.leaf {
		return true
	}
	for _, c := range n.children {
		if !c.isGhost() {
			return false
		}
	}
	return true
}

// isLiveDeep recursively checks the Live predicate from spec.md §3: entries
// map live, ghosts == 0, and every child recursively live. This is the
// expensive, assertion-grade check used by invariant tests; the hot path
// relies on the incrementally maintained ghosts counter instead.
func (n *Node[K, V]) isLiveDeep() bool {
	if !n.entries.IsLive() || n.ghosts != 0 {
		return false
	}
	for _, c := range n.children {
		if c.isGhost() {
			return false
		}
		if !c.live.isLiveDeep() {
			return false
		}
	}
	return true
}
