package skel

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/redwerk/libindex/pkg/archiver"
)

func TestNodeTranslatorRoundTrip(t *testing.T) {
	tr := NewNodeTranslator[int](intCmp, intKeyCodec{})

	a := Attrs[int]{
		LKey:        NegInf[int](),
		RKey:        Finite(50),
		Leaf:        false,
		EntriesMeta: []byte("entries-handle"),
		Subnodes: []SubnodeAttrs[int]{
			{ID: newNodeID(), LKey: NegInf[int](), RKey: Finite(20), Size: 5, Meta: []byte("a")},
			{ID: newNodeID(), LKey: Finite(20), RKey: Finite(50), Size: 7, Meta: []byte("b")},
		},
	}

	data, err := tr.App(a)
	if err != nil {
		t.Fatalf("App: %v", err)
	}
	got, err := tr.Rev(data)
	if err != nil {
		t.Fatalf("Rev: %v", err)
	}

	if diff := cmp.Diff(a, got, cmp.AllowUnexported(Bound[int]{})); diff != "" {
		t.Fatalf("Rev(App(x)) differs from x (-want +got):\n%s", diff)
	}
}

func TestNodeTranslatorLeafRoundTrip(t *testing.T) {
	tr := NewNodeTranslator[int](intCmp, intKeyCodec{})
	a := Attrs[int]{
		LKey:        Finite(10),
		RKey:        Finite(20),
		Leaf:        true,
		EntriesMeta: []byte("leaf-entries"),
	}
	data, err := tr.App(a)
	if err != nil {
		t.Fatalf("App: %v", err)
	}
	got, err := tr.Rev(data)
	if err != nil {
		t.Fatalf("Rev: %v", err)
	}
	if diff := cmp.Diff(a, got, cmp.AllowUnexported(Bound[int]{})); diff != "" {
		t.Fatalf("Rev(App(x)) differs from x (-want +got):\n%s", diff)
	}
}

// TestVerifyNodeIntegrityRejectsGap is scenario S5's translator-rejection
// half at the wire level: non-contiguous subnode ranges are a
// data-format error, never silently accepted.
func TestVerifyNodeIntegrityRejectsGap(t *testing.T) {
	a := Attrs[int]{
		LKey: NegInf[int](),
		RKey: Finite(50),
		Leaf: false,
		Subnodes: []SubnodeAttrs[int]{
			{LKey: NegInf[int](), RKey: Finite(20)},
			{LKey: Finite(25), RKey: Finite(50)}, // gap: 20 != 25
		},
	}
	if err := verifyNodeIntegrity(intCmp, a); err == nil {
		t.Fatalf("verifyNodeIntegrity accepted a non-contiguous subnode range")
	}
}

func TestVerifyNodeIntegrityRejectsLeafWithSubnodes(t *testing.T) {
	a := Attrs[int]{
		LKey:     Finite(1),
		RKey:     Finite(2),
		Leaf:     true,
		Subnodes: []SubnodeAttrs[int]{{LKey: Finite(1), RKey: Finite(2)}},
	}
	if err := verifyNodeIntegrity(intCmp, a); err == nil {
		t.Fatalf("verifyNodeIntegrity accepted a leaf with subnodes")
	}
}

// TestTreeTranslatorRoundTrip exercises the tree-level descriptor App/Rev
// pair, spec.md §4.6's tree translator.
func TestTreeTranslatorRoundTrip(t *testing.T) {
	node := NewNodeTranslator[int](intCmp, intKeyCodec{})
	tt := NewTreeTranslator(node, intKeyCodec{})
	a := TreeAttrs[int]{
		NodeMin: 4,
		Size:    42,
		Root: SubnodeAttrs[int]{
			ID:   newNodeID(),
			LKey: NegInf[int](),
			RKey: PosInf[int](),
			Size: 42,
			Meta: []byte("root-handle"),
		},
	}
	data, err := tt.App(a)
	if err != nil {
		t.Fatalf("App: %v", err)
	}
	got, err := tt.Rev(data)
	if err != nil {
		t.Fatalf("Rev: %v", err)
	}
	if diff := cmp.Diff(a, got, cmp.AllowUnexported(Bound[int]{})); diff != "" {
		t.Fatalf("Rev(App(x)) differs from x (-want +got):\n%s", diff)
	}
}

// TestTreeSaveLoadRoundTrip drives Save/Load end to end: persist a whole
// tree's descriptor, load it into a fresh tree, and confirm the
// reconstructed tree iterates the same sequence (spec.md §4.6).
func TestTreeSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	tree, store := buildArchivedTree(t, 2, 100)

	descriptor, err := tree.Save(ctx)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded := newIntTree(2)
	if err := loaded.Load(ctx, store, intKeyCodec{}, descriptor); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Size() != 100 {
		t.Fatalf("loaded.Size() = %d, want 100", loaded.Size())
	}

	var got []int
	if err := loaded.Ascend(func(k int, val string) bool {
		got = append(got, k)
		return true
	}); err != nil {
		t.Fatalf("Ascend: %v", err)
	}
	if len(got) != 100 {
		t.Fatalf("got %d keys after Save/Load round-trip, want 100", len(got))
	}
	for i, k := range got {
		if k != i+1 {
			t.Fatalf("got[%d] = %d, want %d", i, k, i+1)
		}
	}
}

// TestTreeLoadRejectsSizeMismatch is spec.md §4.6's integrity check: a
// descriptor whose recorded size disagrees with the reconstructed root's
// total size is a DataFormatError, not a silently accepted tree.
func TestTreeLoadRejectsSizeMismatch(t *testing.T) {
	ctx := context.Background()
	tree, store := buildArchivedTree(t, 2, 20)

	descriptor, err := tree.Save(ctx)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	task := &archiver.Task{Meta: descriptor}
	if err := store.Pull(ctx, task); err != nil {
		t.Fatalf("Pull descriptor: %v", err)
	}
	node := NewNodeTranslator[int](intCmp, intKeyCodec{})
	tt := NewTreeTranslator(node, intKeyCodec{})
	a, err := tt.Rev(task.Data)
	if err != nil {
		t.Fatalf("Rev: %v", err)
	}
	a.Size++ // corrupt the recorded total
	corrupted, err := tt.App(a)
	if err != nil {
		t.Fatalf("App: %v", err)
	}
	if err := store.Push(ctx, &archiver.Task{Meta: descriptor, Data: corrupted}); err != nil {
		t.Fatalf("Push corrupted descriptor: %v", err)
	}

	loaded := newIntTree(2)
	err = loaded.Load(ctx, store, intKeyCodec{}, descriptor)
	var dataErr *DataFormatError
	if !errors.As(err, &dataErr) {
		t.Fatalf("Load with corrupted size = %v, want *DataFormatError", err)
	}
}

// TestPushNodePullNodeRoundTrip drives the translator through the
// archiver-facing nodeio helpers end to end: push a bare node, pull it
// back, and confirm the reconstructed node matches (Testable Property 5).
func TestPushNodePullNodeRoundTrip(t *testing.T) {
	ctx := context.Background()
	tree, _ := buildArchivedTree(t, 2, 30)

	root := tree.root
	if root.leaf {
		t.Fatalf("test setup expects a non-leaf root")
	}
	child := root.children[0].live
	if err := tree.deflateNode(ctx, child); err != nil {
		t.Fatalf("deflateNode(child): %v", err)
	}
	meta, err := tree.pushNode(ctx, child)
	if err != nil {
		t.Fatalf("pushNode: %v", err)
	}

	ghost := &GhostNode[int, string]{id: child.id, lkey: child.lkey, rkey: child.rkey, size: child.size, meta: meta}
	pulled, err := tree.pullNode(ctx, ghost)
	if err != nil {
		t.Fatalf("pullNode: %v", err)
	}

	if compareBounds(intCmp, pulled.lkey, child.lkey) != 0 {
		t.Fatalf("pulled lkey %v != original %v", pulled.lkey, child.lkey)
	}
	if compareBounds(intCmp, pulled.rkey, child.rkey) != 0 {
		t.Fatalf("pulled rkey %v != original %v", pulled.rkey, child.rkey)
	}
	if pulled.leaf != child.leaf {
		t.Fatalf("pulled leaf = %v, want %v", pulled.leaf, child.leaf)
	}
	if pulled.size != child.size {
		t.Fatalf("pulled size = %d, want %d", pulled.size, child.size)
	}
	if len(pulled.children) != len(child.children) {
		t.Fatalf("pulled child count = %d, want %d", len(pulled.children), len(child.children))
	}
}
