package skel

import (
	"github.com/redwerk/libindex/pkg/archiver"
)

// DefaultNodeMin is used when a caller passes a degenerate minimum
// degree to NewTree.
const DefaultNodeMin = 2

// Tree is the ordered, skeletal B-tree map of spec.md §4.1. All
// navigation (Get/Put/Remove/iteration) operates solely on live nodes;
// hitting a ghost raises NotLoadedError with enough context for the
// caller to inflate and retry.
//
// NodeMin is the B-tree's minimum degree t: every non-root node holds
// between t-1 and 2t-1 entries, and non-leaf nodes have one more child
// than entries (the classic Cormen/Leiserson/Rivest/Stein bound that
// spec.md §3's "NODE_MIN ≤ entries ≤ 2·NODE_MIN" approximates — see
// DESIGN.md for the exact resolution).
type Tree[K any, V any] struct {
	cmp     Comparator[K]
	nodeMin int
	enc     Encoder[K, V]
	ar      archiver.Archiver
	keys    KeyCodec[K]
	tr      *NodeTranslator[K]

	root  *Node[K, V]
	arena map[NodeID]*Node[K, V]
}

// NewTree creates an empty tree with a single live leaf root.
func NewTree[K any, V any](cmp Comparator[K], nodeMin int, enc Encoder[K, V]) *Tree[K, V] {
	if nodeMin < 2 {
		nodeMin = DefaultNodeMin
	}
	t := &Tree[K, V]{
		cmp:     cmp,
		nodeMin: nodeMin,
		enc:     enc,
		arena:   make(map[NodeID]*Node[K, V]),
	}
	t.root = t.newNode(NegInf[K](), PosInf[K](), true, NilNodeID)
	return t
}

func (t *Tree[K, V]) newNode(lkey, rkey Bound[K], leaf bool, parent NodeID) *Node[K, V] {
	n := &Node[K, V]{
		id:      newNodeID(),
		tree:    t,
		parent:  parent,
		leaf:    leaf,
		lkey:    lkey,
		rkey:    rkey,
		entries: NewEntriesMap[K, V](t.cmp, t.enc),
	}
	t.arena[n.id] = n
	return n
}

// NodeMin returns the tree's minimum degree.
func (t *Tree[K, V]) NodeMin() int { return t.nodeMin }

// Root returns the (always live) root node.
func (t *Tree[K, V]) Root() *Node[K, V] { return t.root }

// Size returns the total number of entries in the tree.
func (t *Tree[K, V]) Size() int { return t.root.size }

// Archiver returns the currently installed node archiver, or nil.
func (t *Tree[K, V]) Archiver() archiver.Archiver { return t.ar }

// SetArchiver installs the archiver and key codec used by Deflate/Inflate.
// Per spec.md §5, setting a new archiver on a partially-loaded (not fully
// live) tree is forbidden.
func (t *Tree[K, V]) SetArchiver(ar archiver.Archiver, keys KeyCodec[K]) error {
	if !t.root.isLiveDeep() {
		return &IllegalStateError{Reason: "SetArchiver called on a partially-loaded tree"}
	}
	t.ar = ar
	t.keys = keys
	t.tr = NewNodeTranslator(t.cmp, keys)
	return nil
}

func (t *Tree[K, V]) lookupLive(id NodeID) (*Node[K, V], bool) {
	n, ok := t.arena[id]
	return n, ok
}

func (t *Tree[K, V]) forget(id NodeID) { delete(t.arena, id) }

func (n *Node[K, V]) recomputeSize() {
	sz := n.entries.Size()
	if !n.leaf {
		for _, c := range n.children {
			sz += c.size()
		}
	}
	n.size = sz
}

// childIndex returns the number of entries strictly less than k — the
// slot such that children[idx] covers the open interval between
// entries[idx-1] and entries[idx] (spec.md §4.1's selectNode/nodeL/nodeR).
func (n *Node[K, V]) childIndex(k K) int {
	idx := 0
	for _, kv := range n.entries.All() {
		if n.tree.cmp(kv.Key, k) < 0 {
			idx++
		} else {
			break
		}
	}
	return idx
}

// selectNode returns the child slot covering k. Only legal on a live,
// non-leaf node.
func (n *Node[K, V]) selectNode(k K) childSlot[K, V] {
	return n.children[n.childIndex(k)]
}

// nodeR returns the child slot immediately to the right of an existing
// entry key (used by targeted deflate/inflate, spec.md §4.3).
func (n *Node[K, V]) nodeR(k K) childSlot[K, V] {
	return n.children[n.childIndex(k)+1]
}

// nodeL returns the child slot immediately to the left of an existing
// entry key.
func (n *Node[K, V]) nodeL(k K) childSlot[K, V] {
	return n.children[n.childIndex(k)]
}

// Get performs an ordered lookup. Descending through a ghost raises
// NotLoadedError; the caller is expected to inflate that child and retry
// (InflateKey implements exactly that retry loop).
func (t *Tree[K, V]) Get(k K) (V, bool, error) {
	return getFrom(t.root, k)
}

func getFrom[K any, V any](n *Node[K, V], k K) (V, bool, error) {
	var zero V
	if v, ok := n.entries.Get(k); ok {
		return v, true, nil
	}
	if n.leaf {
		return zero, false, nil
	}
	idx := n.childIndex(k)
	slot := n.children[idx]
	if slot.isGhost() {
		return zero, false, &NotLoadedError[K]{Parent: n.id, Key: Finite(k), Ghost: slot.ghost.id}
	}
	return getFrom(slot.live, k)
}

// Put inserts or replaces the value for k. Only defined on live nodes
// along the insertion path (spec.md §4.1); a ghost in the way surfaces
// NotLoadedError.
func (t *Tree[K, V]) Put(k K, v V) error {
	root := t.root
	if root.entries.Size() == 2*t.nodeMin-1 {
		newRoot := t.newNode(NegInf[K](), PosInf[K](), false, NilNodeID)
		newRoot.children = []childSlot[K, V]{liveSlot(root)}
		root.parent = newRoot.id
		if err := t.splitChild(newRoot, 0); err != nil {
			return err
		}
		t.root = newRoot
		root = newRoot
	}
	return t.insertNonFull(root, k, v)
}

func (t *Tree[K, V]) insertNonFull(n *Node[K, V], k K, v V) error {
	if n.leaf {
		n.entries.Put(k, v)
		n.recomputeSize()
		return nil
	}
	if _, exists := n.entries.Get(k); exists {
		n.entries.Put(k, v)
		return nil
	}
	idx := n.childIndex(k)
	child := n.children[idx]
	if child.isGhost() {
		return &NotLoadedError[K]{Parent: n.id, Key: Finite(k), Ghost: child.ghost.id}
	}
	if child.live.entries.Size() == 2*t.nodeMin-1 {
		if err := t.splitChild(n, idx); err != nil {
			return err
		}
		kv := n.entries.All()[idx]
		if c := t.cmp(k, kv.Key); c == 0 {
			// k was the median just promoted into n: replace it there.
			n.entries.Put(k, v)
			return nil
		} else if c > 0 {
			idx++
		}
		child = n.children[idx]
	}
	if err := t.insertNonFull(child.live, k, v); err != nil {
		return err
	}
	n.recomputeSize()
	return nil
}

// splitChild splits the full (2·NodeMin-1 entries) child at n.children[i],
// promoting the median entry into n. Both halves end up with NodeMin-1
// entries, the minimum degree's floor.
func (t *Tree[K, V]) splitChild(n *Node[K, V], i int) error {
	y := n.children[i]
	if y.isGhost() {
		return &IllegalStateError{Reason: "splitChild invoked on a ghosted child"}
	}
	mid := t.nodeMin - 1
	right := y.live.entries.SplitAt(mid)
	medianKV := right.All()[0]
	right.Delete(medianKV.Key)

	z := t.newNode(Finite(medianKV.Key), y.live.rkey, y.live.leaf, n.id)
	z.entries = right
	y.live.rkey = Finite(medianKV.Key)

	if !y.live.leaf {
		half := len(y.live.children) / 2
		z.children = append(z.children, y.live.children[half:]...)
		y.live.children = y.live.children[:half]
		for _, c := range z.children {
			if !c.isGhost() {
				c.live.parent = z.id
			} else {
				c.ghost.parent = z.id
			}
		}
	}
	y.live.recomputeSize()
	z.recomputeSize()

	n.children = append(n.children, childSlot[K, V]{})
	copy(n.children[i+2:], n.children[i+1:])
	n.children[i+1] = liveSlot(z)
	n.entries.Put(medianKV.Key, medianKV.Value)
	n.recomputeSize()
	return nil
}

// Remove deletes k, reporting whether it was present. Implements the
// standard preemptive-merge B-tree delete: before descending into a
// child holding exactly NodeMin-1 entries, it is first topped up by
// borrowing from a sibling or merged with one, guaranteeing the
// recursive call never needs to re-ascend to fix an underflow.
func (t *Tree[K, V]) Remove(k K) (bool, error) {
	removed, err := t.removeFrom(t.root, k)
	if err != nil {
		return false, err
	}
	if !t.root.leaf && len(t.root.children) == 1 {
		only := t.root.children[0]
		if !only.isGhost() {
			t.forget(t.root.id)
			only.live.parent = NilNodeID
			t.root = only.live
		}
	}
	return removed, nil
}

func (t *Tree[K, V]) removeFrom(n *Node[K, V], k K) (bool, error) {
	if kvs := n.entries.All(); containsKey(kvs, n.tree.cmp, k) {
		if n.leaf {
			n.entries.Delete(k)
			n.recomputeSize()
			return true, nil
		}
		return t.removeFromInternal(n, k)
	}
	if n.leaf {
		return false, nil
	}
	idx := n.childIndex(k)
	if err := t.ensureChildMinDegree(n, idx); err != nil {
		return false, err
	}
	// ensureChildMinDegree may have merged a sibling to the left of idx,
	// shifting which slot now covers k.
	idx = n.childIndex(k)
	child := n.children[idx]
	if child.isGhost() {
		return false, &NotLoadedError[K]{Parent: n.id, Key: Finite(k), Ghost: child.ghost.id}
	}
	removed, err := t.removeFrom(child.live, k)
	if err != nil {
		return false, err
	}
	n.recomputeSize()
	return removed, nil
}

func containsKey[K any, V any](kvs []KV[K, V], cmp Comparator[K], k K) bool {
	for _, kv := range kvs {
		if cmp(kv.Key, k) == 0 {
			return true
		}
	}
	return false
}

// removeFromInternal deletes a key that is known to live in n's own
// entries (n is non-leaf).
func (t *Tree[K, V]) removeFromInternal(n *Node[K, V], k K) (bool, error) {
	idx := n.childIndex(k) // left child index == right child index - 1 for this key
	left := n.children[idx]
	right := n.children[idx+1]
	if left.isGhost() {
		return false, &NotLoadedError[K]{Parent: n.id, Key: Finite(k), Ghost: left.ghost.id}
	}
	if right.isGhost() {
		return false, &NotLoadedError[K]{Parent: n.id, Key: Finite(k), Ghost: right.ghost.id}
	}

	if left.live.entries.Size() >= t.nodeMin {
		predKV := maxEntry(left.live)
		n.entries.Delete(k)
		n.entries.Put(predKV.Key, predKV.Value)
		for m := left.live; ; m = m.children[len(m.children)-1].live {
			m.rkey = Finite(predKV.Key)
			if m.leaf {
				break
			}
		}
		_, err := t.removeFrom(left.live, predKV.Key)
		n.recomputeSize()
		return true, err
	}
	if right.live.entries.Size() >= t.nodeMin {
		succKV := minEntry(right.live)
		n.entries.Delete(k)
		n.entries.Put(succKV.Key, succKV.Value)
		for m := right.live; ; m = m.children[0].live {
			m.lkey = Finite(succKV.Key)
			if m.leaf {
				break
			}
		}
		_, err := t.removeFrom(right.live, succKV.Key)
		n.recomputeSize()
		return true, err
	}
	// Both children are at minimum degree: merge k and right into left,
	// then recurse the deletion into the merged node.
	n.entries.Delete(k)
	t.mergeChildren(n, idx)
	removed, err := t.removeFrom(n.children[idx].live, k)
	n.recomputeSize()
	return removed, err
}

func maxEntry[K any, V any](n *Node[K, V]) KV[K, V] {
	for !n.leaf {
		n = n.children[len(n.children)-1].live
	}
	all := n.entries.All()
	return all[len(all)-1]
}

func minEntry[K any, V any](n *Node[K, V]) KV[K, V] {
	for !n.leaf {
		n = n.children[0].live
	}
	return n.entries.All()[0]
}

// ensureChildMinDegree guarantees n.children[idx] has more than NodeMin-1
// entries before the caller descends into it, borrowing from a sibling or
// merging as needed (CLRS's preemptive fix-up).
func (t *Tree[K, V]) ensureChildMinDegree(n *Node[K, V], idx int) error {
	child := n.children[idx]
	if child.isGhost() {
		return &NotLoadedError[K]{Parent: n.id, Key: child.lkey(), Ghost: child.ghost.id}
	}
	if child.live.entries.Size() > t.nodeMin-1 {
		return nil
	}
	if idx > 0 && !n.children[idx-1].isGhost() && n.children[idx-1].live.entries.Size() > t.nodeMin-1 {
		t.borrowFromLeft(n, idx)
		return nil
	}
	if idx < len(n.children)-1 && !n.children[idx+1].isGhost() && n.children[idx+1].live.entries.Size() > t.nodeMin-1 {
		t.borrowFromRight(n, idx)
		return nil
	}
	if idx > 0 {
		t.mergeChildren(n, idx-1)
	} else {
		t.mergeChildren(n, idx)
	}
	return nil
}

func (t *Tree[K, V]) borrowFromLeft(n *Node[K, V], idx int) {
	child := n.children[idx].live
	left := n.children[idx-1].live

	sepKey := left.rkey.Key()
	sepVal, _ := n.entries.Get(sepKey)
	n.entries.Delete(sepKey)
	child.entries.Put(sepKey, sepVal)

	leftAll := left.entries.All()
	borrowed := leftAll[len(leftAll)-1]
	left.entries.Delete(borrowed.Key)
	n.entries.Put(borrowed.Key, borrowed.Value)

	left.rkey = Finite(borrowed.Key)
	child.lkey = left.rkey

	if !left.leaf {
		lastChild := left.children[len(left.children)-1]
		left.children = left.children[:len(left.children)-1]
		child.children = append([]childSlot[K, V]{lastChild}, child.children...)
		if !lastChild.isGhost() {
			lastChild.live.parent = child.id
		} else {
			lastChild.ghost.parent = child.id
		}
	}
	left.recomputeSize()
	child.recomputeSize()
}

func (t *Tree[K, V]) borrowFromRight(n *Node[K, V], idx int) {
	child := n.children[idx].live
	right := n.children[idx+1].live

	sepKey := right.lkey.Key()
	sepVal, _ := n.entries.Get(sepKey)
	n.entries.Delete(sepKey)
	child.entries.Put(sepKey, sepVal)

	rightAll := right.entries.All()
	borrowed := rightAll[0]
	right.entries.Delete(borrowed.Key)
	n.entries.Put(borrowed.Key, borrowed.Value)

	right.lkey = Finite(borrowed.Key)
	child.rkey = right.lkey

	if !right.leaf {
		firstChild := right.children[0]
		right.children = right.children[1:]
		child.children = append(child.children, firstChild)
		if !firstChild.isGhost() {
			firstChild.live.parent = child.id
		} else {
			firstChild.ghost.parent = child.id
		}
	}
	right.recomputeSize()
	child.recomputeSize()
}

// mergeChildren merges n.children[i+1] and the separator entries[i] into
// n.children[i]; both inputs have exactly NodeMin-1 entries.
func (t *Tree[K, V]) mergeChildren(n *Node[K, V], i int) {
	left := n.children[i].live
	right := n.children[i+1].live

	sepKey := right.lkey.Key()
	sepVal, _ := n.entries.Get(sepKey)
	n.entries.Delete(sepKey)

	left.entries.Put(sepKey, sepVal)
	left.entries.Merge(right.entries)
	left.rkey = right.rkey

	if !left.leaf {
		left.children = append(left.children, right.children...)
		for _, c := range right.children {
			if !c.isGhost() {
				c.live.parent = left.id
			} else {
				c.ghost.parent = left.id
			}
		}
	}
	t.forget(right.id)
	n.children = append(n.children[:i+1], n.children[i+2:]...)
	left.recomputeSize()
	n.recomputeSize()
}

// Ascend performs a full in-order walk of the live tree, stopping early
// if fn returns false. Encountering a ghost raises NotLoadedError.
func (t *Tree[K, V]) Ascend(fn func(k K, v V) bool) error {
	_, err := ascendNode(t.root, fn)
	return err
}

func ascendNode[K any, V any](n *Node[K, V], fn func(k K, v V) bool) (bool, error) {
	if n.leaf {
		cont := true
		n.entries.Ascend(func(k K, v V) bool {
			cont = fn(k, v)
			return cont
		})
		return cont, nil
	}
	all := n.entries.All()
	for i, kv := range all {
		if n.children[i].isGhost() {
			return false, &NotLoadedError[K]{Parent: n.id, Key: Finite(kv.Key), Ghost: n.children[i].ghost.id}
		}
		cont, err := ascendNode(n.children[i].live, fn)
		if err != nil || !cont {
			return cont, err
		}
		if !fn(kv.Key, kv.Value) {
			return false, nil
		}
	}
	last := n.children[len(n.children)-1]
	if last.isGhost() {
		return false, &NotLoadedError[K]{Parent: n.id, Key: n.rkey, Ghost: last.ghost.id}
	}
	return ascendNode(last.live, fn)
}

// RangeBetween visits every entry with key strictly between lo and hi, in
// order, descending only into children whose range can overlap (lo, hi)
// and delegating the scan of a leaf's entries to EntriesMap.RangeBetween
// (a non-leaf's own entries are filtered inline). A ghost
// child that overlaps the range raises NotLoadedError rather than being
// silently skipped.
func (t *Tree[K, V]) RangeBetween(lo, hi Bound[K], fn func(k K, v V) bool) error {
	_, err := rangeNode(t.cmp, t.root, lo, hi, fn)
	return err
}

func rangeOverlaps[K any](cmp Comparator[K], childLo, childHi, lo, hi Bound[K]) bool {
	return compareBounds(cmp, childHi, lo) > 0 && compareBounds(cmp, childLo, hi) < 0
}

func rangeNode[K any, V any](cmp Comparator[K], n *Node[K, V], lo, hi Bound[K], fn func(k K, v V) bool) (bool, error) {
	if n.leaf {
		cont := true
		n.entries.RangeBetween(lo, hi, func(k K, v V) bool {
			cont = fn(k, v)
			return cont
		})
		return cont, nil
	}
	all := n.entries.All()
	for i, kv := range all {
		c := n.children[i]
		if rangeOverlaps(cmp, c.lkey(), c.rkey(), lo, hi) {
			if c.isGhost() {
				return false, &NotLoadedError[K]{Parent: n.id, Key: c.lkey(), Ghost: c.ghost.id}
			}
			cont, err := rangeNode(cmp, c.live, lo, hi, fn)
			if err != nil || !cont {
				return cont, err
			}
		}
		if compareKeyToBound(cmp, kv.Key, lo) > 0 && compareKeyToBound(cmp, kv.Key, hi) < 0 {
			if !fn(kv.Key, kv.Value) {
				return false, nil
			}
		}
	}
	last := n.children[len(n.children)-1]
	if rangeOverlaps(cmp, last.lkey(), last.rkey(), lo, hi) {
		if last.isGhost() {
			return false, &NotLoadedError[K]{Parent: n.id, Key: last.lkey(), Ghost: last.ghost.id}
		}
		return rangeNode(cmp, last.live, lo, hi, fn)
	}
	return true, nil
}

// ChildKeyPairs returns the successive (lkey_i, rkey_i) range for each
// child slot of a non-leaf node, per spec.md §4.1.
func (n *Node[K, V]) ChildKeyPairs() []KeyPair[K] {
	if n.leaf {
		return nil
	}
	pairs := make([]KeyPair[K], len(n.children))
	for i, c := range n.children {
		pairs[i] = KeyPair[K]{LKey: c.lkey(), RKey: c.rkey()}
	}
	return pairs
}

// KeyPair is one child slot's range.
type KeyPair[K any] struct {
	LKey, RKey Bound[K]
}
