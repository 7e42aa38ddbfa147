package skel

import (
	"context"

	"github.com/redwerk/libindex/pkg/archiver"
)

// buildNodeTask serializes a bare node's own structural attributes (its
// entries-map handle plus its children's ranges and metas, which must
// already have been individually pushed/ghosted by the caller) into an
// archiver.Task ready to push, without performing the push itself — this
// lets callers push one node at a time (pushNode) or batch several
// siblings into one IterableSerialiser.PushBatch call (deflateNode).
func (t *Tree[K, V]) buildNodeTask(n *Node[K, V]) (*archiver.Task, error) {
	if t.ar == nil || t.tr == nil {
		return nil, &IllegalStateError{Reason: "pushNode requires an archiver and key codec"}
	}
	if !n.entries.IsBare() {
		return nil, &IllegalStateError{Reason: "pushNode called on a node whose entries are still live"}
	}
	a := Attrs[K]{
		LKey:        n.lkey,
		RKey:        n.rkey,
		Leaf:        n.leaf,
		EntriesMeta: n.entries.meta,
	}
	if !n.leaf {
		a.Subnodes = make([]SubnodeAttrs[K], len(n.children))
		for i, c := range n.children {
			if !c.isGhost() {
				return nil, &IllegalStateError{Reason: "pushNode called before all children were ghosted"}
			}
			a.Subnodes[i] = SubnodeAttrs[K]{ID: c.ghost.id, LKey: c.ghost.lkey, RKey: c.ghost.rkey, Size: c.ghost.size, Meta: c.ghost.meta}
		}
	}
	data, err := t.tr.App(a)
	if err != nil {
		return nil, err
	}
	return &archiver.Task{Data: data}, nil
}

// pushNode serializes n and pushes it as a single archiver task,
// returning the resulting handle. Used where only one node is being
// pushed at a time (DeflateKey's targeted deflate); deflateNode batches
// siblings instead.
func (t *Tree[K, V]) pushNode(ctx context.Context, n *Node[K, V]) (archiver.Meta, error) {
	task, err := t.buildNodeTask(n)
	if err != nil {
		return nil, err
	}
	if err := t.ar.Push(ctx, task); err != nil {
		return nil, &TaskError{Cause: TaskAbort, LKey: boundLabel(n.lkey), RKey: boundLabel(n.rkey), Wrapped: err}
	}
	return task.Meta, nil
}

// pullNode fetches and decodes the node attributes named by a ghost,
// reconstructing a live (but still internally bare) node: its entries
// map and any children remain deflated/ghosted until the caller
// recurses into them.
func (t *Tree[K, V]) pullNode(ctx context.Context, g *GhostNode[K, V]) (*Node[K, V], error) {
	if t.ar == nil || t.tr == nil {
		return nil, &IllegalStateError{Reason: "pullNode requires an archiver and key codec"}
	}
	task := &archiver.Task{Meta: g.meta}
	if err := t.ar.Pull(ctx, task); err != nil {
		return nil, &TaskError{Cause: TaskAbort, LKey: boundLabel(g.lkey), RKey: boundLabel(g.rkey), Wrapped: err}
	}
	a, err := t.tr.Rev(task.Data)
	if err != nil {
		return nil, err
	}
	return t.nodeFromAttrs(g.id, g.size, a), nil
}

// nodeFromAttrs builds a live-but-internally-bare node from decoded
// attributes: its entries map starts deflated and each subnode starts as
// a freshly constructed ghost, preserving the stable NodeID recorded in
// the wire format.
func (t *Tree[K, V]) nodeFromAttrs(id NodeID, size int, a Attrs[K]) *Node[K, V] {
	n := &Node[K, V]{
		id:      id,
		tree:    t,
		leaf:    a.Leaf,
		lkey:    a.LKey,
		rkey:    a.RKey,
		entries: NewEntriesMap[K, V](t.cmp, t.enc),
		size:    size,
	}
	n.entries.deflated = true
	n.entries.meta = a.EntriesMeta
	if !a.Leaf {
		n.children = make([]childSlot[K, V], len(a.Subnodes))
		n.ghosts = len(a.Subnodes)
		for i, s := range a.Subnodes {
			n.children[i] = ghostSlot(&GhostNode[K, V]{
				id:     s.ID,
				lkey:   s.LKey,
				rkey:   s.RKey,
				size:   s.Size,
				parent: n.id,
				meta:   s.Meta,
			})
		}
	}
	return n
}

func boundLabel[K any](b Bound[K]) string { return b.describe() }
