package skel

import (
	"context"

	"github.com/redwerk/libindex/pkg/archiver"
)

// attachGhost replaces n.children[idx] (currently live) with a ghost
// carrying the same identity and range, after the child's subtree has
// been pushed. The parent's ghosts counter is incremented to match.
func attachGhost[K any, V any](parent *Node[K, V], idx int, meta archiver.Meta) {
	live := parent.children[idx].live
	g := &GhostNode[K, V]{
		id:     live.id,
		lkey:   live.lkey,
		rkey:   live.rkey,
		size:   live.size,
		parent: parent.id,
		meta:   meta,
	}
	parent.tree.forget(live.id)
	parent.children[idx] = ghostSlot(g)
	parent.ghosts++
}

// attachSkeleton replaces n.children[idx] (currently a ghost) with a
// freshly constructed live node reconstituted from the archiver, after
// the node/tree translator has rebuilt it. The parent's ghosts counter
// is decremented to match.
func attachSkeleton[K any, V any](parent *Node[K, V], idx int, live *Node[K, V]) {
	live.parent = parent.id
	parent.tree.arena[live.id] = live
	parent.children[idx] = liveSlot(live)
	parent.ghosts--
}

// deflateNode pushes n's own entries and, recursively, every live child's
// subtree, replacing each pushed child with a ghost. n itself is left
// live (only its children and its entries map become bare) so the
// caller retains a handle to resume traversal; see spec.md §4.3/4.4.
//
// Children are deflated depth-first one at a time, but once every live
// child of n has been recursively bared it is pushed to the archiver as
// one batch via IterableSerialiser.PushBatch, per spec.md §4.4's "batch
// all such children as one group to the node-archiver". Archivers that
// only offer the minimal Archiver capability fall back to pushing each
// child individually.
func (t *Tree[K, V]) deflateNode(ctx context.Context, n *Node[K, V]) error {
	if t.ar == nil {
		return &IllegalStateError{Reason: "deflate requires an archiver"}
	}
	if err := n.entries.Deflate(ctx, t.ar); err != nil {
		return err
	}
	var idxs []int
	var tasks []*archiver.Task
	for i, c := range n.children {
		if c.isGhost() {
			continue
		}
		child := c.live
		if err := t.deflateNode(ctx, child); err != nil {
			return err
		}
		task, err := t.buildNodeTask(child)
		if err != nil {
			return err
		}
		idxs = append(idxs, i)
		tasks = append(tasks, task)
	}
	if len(tasks) == 0 {
		return nil
	}
	batcher, ok := t.ar.(archiver.IterableSerialiser)
	if !ok {
		for j, idx := range idxs {
			child := n.children[idx].live
			if err := t.ar.Push(ctx, tasks[j]); err != nil {
				return &TaskError{Cause: TaskAbort, LKey: boundLabel(child.lkey), RKey: boundLabel(child.rkey), Wrapped: err}
			}
			attachGhost(n, idx, tasks[j].Meta)
		}
		return nil
	}
	if err := batcher.PushBatch(ctx, tasks); err != nil {
		return &TaskError{Cause: TaskAbort, Wrapped: err}
	}
	for j, idx := range idxs {
		child := n.children[idx].live
		if tasks[j].Err != nil {
			return &TaskError{Cause: TaskAbort, LKey: boundLabel(child.lkey), RKey: boundLabel(child.rkey), Wrapped: tasks[j].Err}
		}
		attachGhost(n, idx, tasks[j].Meta)
	}
	return nil
}

// Deflate pushes the whole tree out to its archiver, leaving only bare
// skeleton behind. Sequential, depth-first (spec.md §4.4's non-scheduled
// path); BulkInflate (bulkinflate.go) offers the scheduled,
// parallel counterpart for Inflate.
func (t *Tree[K, V]) Deflate(ctx context.Context) error {
	return t.deflateNode(ctx, t.root)
}

// inflateNode reconstitutes every ghost directly or transitively reachable
// from n, sequentially and depth-first.
func (t *Tree[K, V]) inflateNode(ctx context.Context, n *Node[K, V]) error {
	if err := n.entries.Inflate(ctx, t.ar); err != nil {
		return err
	}
	for i, c := range n.children {
		if !c.isGhost() {
			continue
		}
		ghost := c.ghost
		live, err := t.pullNode(ctx, ghost)
		if err != nil {
			return err
		}
		attachSkeleton(n, i, live)
		if err := t.inflateNode(ctx, live); err != nil {
			return err
		}
	}
	return nil
}

// Inflate reconstitutes the whole tree from its archiver, sequentially.
func (t *Tree[K, V]) Inflate(ctx context.Context) error {
	return t.inflateNode(ctx, t.root)
}

// DeflateKey pushes out only the single child-subtree that would be
// descended into while looking up k (targeted deflate, spec.md §4.3): it
// does not recurse further than the immediate child holding k's range.
func (t *Tree[K, V]) DeflateKey(ctx context.Context, k K) error {
	return t.deflateKeyFrom(ctx, t.root, k)
}

func (t *Tree[K, V]) deflateKeyFrom(ctx context.Context, n *Node[K, V], k K) error {
	if t.ar == nil {
		return &UnsupportedOperationError{Op: "DeflateKey"}
	}
	if n.leaf {
		return nil
	}
	idx := n.childIndex(k)
	slot := n.children[idx]
	if slot.isGhost() {
		return nil
	}
	child := slot.live
	meta, err := t.pushNode(ctx, child)
	if err != nil {
		return err
	}
	attachGhost(n, idx, meta)
	return nil
}

// InflateKey reconstitutes exactly the ghost that a lookup for k would
// need, retrying the caller-supplied op once the ghost on k's path is
// live. If auto is false, InflateKey performs a single inflate pass and
// returns without retrying op — the caller decides whether to retry.
func (t *Tree[K, V]) InflateKey(ctx context.Context, k K, auto bool, op func() error) error {
	for {
		err := op()
		if err == nil {
			return nil
		}
		var nl *NotLoadedError[K]
		if !asNotLoaded(err, &nl) {
			return err
		}
		if err := t.inflateGhostByID(ctx, nl.Parent, nl.Ghost); err != nil {
			return err
		}
		if !auto {
			return nil
		}
	}
}

func (t *Tree[K, V]) inflateGhostByID(ctx context.Context, parentID, ghostID NodeID) error {
	parent, ok := t.lookupLive(parentID)
	if !ok {
		return &IllegalStateError{Reason: "inflate target's parent is not live"}
	}
	for i, c := range parent.children {
		if c.isGhost() && c.ghost.id == ghostID {
			live, err := t.pullNode(ctx, c.ghost)
			if err != nil {
				return err
			}
			attachSkeleton(parent, i, live)
			return nil
		}
	}
	return &IllegalStateError{Reason: "ghost not found under named parent"}
}

func asNotLoaded[K any](err error, out **NotLoadedError[K]) bool {
	nl, ok := err.(*NotLoadedError[K])
	if ok {
		*out = nl
	}
	return ok
}
