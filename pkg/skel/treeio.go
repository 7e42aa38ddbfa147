package skel

import (
	"context"
	"fmt"

	"github.com/redwerk/libindex/pkg/archiver"
)

// Save pushes the tree's full contents to its archiver via Deflate, then
// persists a root-level descriptor — node_min, total size, and the root's
// own storage handle — as one more archiver object via the tree
// translator (spec.md §4.6). The returned Meta is the handle a later Load
// needs to find the tree again.
func (t *Tree[K, V]) Save(ctx context.Context) (archiver.Meta, error) {
	if t.ar == nil || t.tr == nil {
		return nil, &IllegalStateError{Reason: "Save requires an archiver and key codec"}
	}
	if err := t.Deflate(ctx); err != nil {
		return nil, err
	}
	rootMeta, err := t.pushNode(ctx, t.root)
	if err != nil {
		return nil, err
	}
	tt := NewTreeTranslator(t.tr, t.keys)
	a := TreeAttrs[K]{
		NodeMin: t.nodeMin,
		Size:    t.root.size,
		Root: SubnodeAttrs[K]{
			ID:   t.root.id,
			LKey: t.root.lkey,
			RKey: t.root.rkey,
			Size: t.root.size,
			Meta: rootMeta,
		},
	}
	data, err := tt.App(a)
	if err != nil {
		return nil, err
	}
	task := &archiver.Task{Data: data}
	if err := t.ar.Push(ctx, task); err != nil {
		return nil, &TaskError{Cause: TaskAbort, Wrapped: err}
	}
	return task.Meta, nil
}

// Load replaces t's contents with a tree previously persisted by Save
// under descriptor, installing ar/keys as t's archiver the way
// SetArchiver does. It is only legal on a fresh, archiverless, empty tree
// (the state NewTree leaves you in) — loading into an in-use tree is a
// programmer error, not a data condition.
//
// Per spec.md §4.6, Load fully reconstructs the tree (recursively
// inflating every node), recomputes the root's total from its own entries
// and its children's recorded sizes, and checks that total against the
// size recorded in the descriptor; a mismatch is reported as
// DataFormatError rather than silently accepted.
func (t *Tree[K, V]) Load(ctx context.Context, ar archiver.Archiver, keys KeyCodec[K], descriptor archiver.Meta) error {
	if t.ar != nil {
		return &IllegalStateError{Reason: "Load called on a tree that already has an archiver"}
	}
	if !t.root.leaf || t.root.size != 0 {
		return &IllegalStateError{Reason: "Load called on a non-empty tree"}
	}

	task := &archiver.Task{Meta: descriptor}
	if err := ar.Pull(ctx, task); err != nil {
		return &TaskError{Cause: TaskAbort, Wrapped: err}
	}
	tr := NewNodeTranslator(t.cmp, keys)
	tt := NewTreeTranslator(tr, keys)
	a, err := tt.Rev(task.Data)
	if err != nil {
		return err
	}

	t.ar = ar
	t.keys = keys
	t.tr = tr
	t.nodeMin = a.NodeMin

	rootGhost := &GhostNode[K, V]{
		id:   a.Root.ID,
		lkey: a.Root.LKey,
		rkey: a.Root.RKey,
		size: a.Root.Size,
		meta: a.Root.Meta,
	}
	root, err := t.pullNode(ctx, rootGhost)
	if err != nil {
		return err
	}
	delete(t.arena, t.root.id)
	t.root = root
	t.arena[root.id] = root

	if err := t.Inflate(ctx); err != nil {
		return err
	}
	t.root.recomputeSize()
	if t.root.size != a.Size {
		return &DataFormatError{Reason: fmt.Sprintf("tree size mismatch: descriptor recorded %d, reconstructed root totals %d", a.Size, t.root.size)}
	}
	return nil
}
