package skel

import (
	"container/heap"
	"context"
	"time"

	"github.com/redwerk/libindex/pkg/archiver"
)

// nodeHeap is a priority queue of live nodes ordered by key range, so a
// single-threaded driver pulling from it performs an in-order traversal
// even though the underlying fetches complete out of order (spec.md
// §4.4's ordering guarantee).
type nodeHeap[K any, V any] struct {
	cmp   Comparator[K]
	items []*Node[K, V]
}

func (h *nodeHeap[K, V]) Len() int { return len(h.items) }
func (h *nodeHeap[K, V]) Less(i, j int) bool {
	return compareBounds(h.cmp, h.items[i].lkey, h.items[j].lkey) < 0
}
func (h *nodeHeap[K, V]) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *nodeHeap[K, V]) Push(x any)    { h.items = append(h.items, x.(*Node[K, V])) }
func (h *nodeHeap[K, V]) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}

// pendingPull tracks the tree position the driver needs once a task
// completes, since archiver.PullTask itself only carries wire-level
// identity (Meta/LKey/RKey), not tree position.
type pendingPull[K any, V any] struct {
	parentID   NodeID
	childIdx   int
	ghostID    NodeID
	lkey, rkey Bound[K]
}

func pullTaskKey(pt *archiver.PullTask) string { return string(pt.Meta) }

// BulkInflate is the scheduled, parallel counterpart of Inflate (spec.md
// §4.4's "core algorithm"): a single driver loop seeded with the root,
// descending level by level while sched's worker pool fetches ghosts
// concurrently. The driver is the only goroutine that ever mutates tree
// structure; sched's workers only ever deposit onto inflatedCh/errc.
func (t *Tree[K, V]) BulkInflate(ctx context.Context, sched archiver.ScheduledSerialiser, tracker archiver.ProgressTracker) (err error) {
	if t.tr == nil {
		return &IllegalStateError{Reason: "BulkInflate requires an archiver and key codec"}
	}

	tasks := make(chan *archiver.PullTask, 16)
	inflatedCh := make(chan *archiver.PullTask, 16)
	errc := make(chan *archiver.TaskOutcome, 16)

	// Cancelling ctx on every exit path releases the pool's workers even
	// when the driver returns early without having closed tasks.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	pool, perr := sched.PullSchedule(ctx, tasks, inflatedCh, errc)
	if perr != nil {
		return &TaskError{Cause: TaskAbort, Wrapped: perr}
	}
	defer func() {
		cancel()
		if cerr := pool.Close(); cerr != nil && err == nil {
			err = &TaskError{Cause: TaskAbort, Wrapped: cerr}
		}
	}()

	nq := &nodeHeap[K, V]{cmp: t.cmp}
	heap.Init(nq)
	heap.Push(nq, t.root)
	pending := make(map[string]*pendingPull[K, V])

	// tasksClosed guards a one-time close of tasks once the driver knows
	// it will never submit another pull: the node queue and the pending
	// set are both empty, so nothing still in flight could reseed either
	// one. Closing tasks is what lets a ScheduledSerialiser's worker pool
	// notice there is no more work and flip IsActive() to false — without
	// it a pool built like archiver/memory's (idle only once its task
	// channel closes or ctx is cancelled) would never report inactive and
	// this loop would spin forever.
	tasksClosed := false

	for {
		if err := t.drainErrors(errc, nq, pending); err != nil {
			return err
		}
		if err := t.drainInflated(ctx, inflatedCh, nq, pending, tracker); err != nil {
			return err
		}

		if nq.Len() == 0 && len(pending) == 0 && !tasksClosed {
			close(tasks)
			tasksClosed = true
		}
		if tasksClosed && !pool.IsActive() && len(pending) == 0 {
			return nil
		}

		if nq.Len() == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		n := heap.Pop(nq).(*Node[K, V])
		if err := n.entries.Inflate(ctx, t.ar); err != nil {
			return err
		}
		if n.leaf {
			continue
		}
		for i, c := range n.children {
			if !c.isGhost() {
				if c.live.ghosts > 0 || !c.live.entries.IsLive() {
					heap.Push(nq, c.live)
				}
				continue
			}
			pt := &archiver.PullTask{Meta: c.ghost.meta, LKey: boundLabel(c.ghost.lkey), RKey: boundLabel(c.ghost.rkey)}
			pending[pullTaskKey(pt)] = &pendingPull[K, V]{
				parentID: n.id,
				childIdx: i,
				ghostID:  c.ghost.id,
				lkey:     c.ghost.lkey,
				rkey:     c.ghost.rkey,
			}
			if tracker != nil {
				tracker.PullStarted()
				tracker.InFlight(1)
			}
			select {
			case tasks <- pt:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// drainErrors processes every currently-available outcome without
// blocking. A task-complete outcome is a benign notification that a
// duplicate fetch was eliminated elsewhere; the driver re-enqueues the
// parent so the next loop iteration re-inspects the child, accepting
// the race spec.md §5 documents (the winner may not have attached yet).
func (t *Tree[K, V]) drainErrors(errc <-chan *archiver.TaskOutcome, nq *nodeHeap[K, V], pending map[string]*pendingPull[K, V]) error {
	for {
		select {
		case oc := <-errc:
			if oc.Cause == archiver.OutcomeComplete {
				key := pullTaskKey(oc.Task)
				if pp, ok := pending[key]; ok {
					delete(pending, key)
					if parent, ok2 := t.lookupLive(pp.parentID); ok2 {
						heap.Push(nq, parent)
					}
				}
				continue
			}
			return &TaskError{Cause: TaskAbort, Wrapped: oc.Err}
		default:
			return nil
		}
	}
}

// drainInflated attaches every currently-available completed pull to its
// parent without blocking; the 1-second poll spec.md §5 describes is the
// idle wait in BulkInflate's main loop (entered only once the node queue
// is empty), not a per-iteration throttle here.
func (t *Tree[K, V]) drainInflated(ctx context.Context, inflatedCh <-chan *archiver.PullTask, nq *nodeHeap[K, V], pending map[string]*pendingPull[K, V], tracker archiver.ProgressTracker) error {
	for {
		select {
		case pt, ok := <-inflatedCh:
			if !ok {
				return nil
			}
			if err := t.attachInflated(pt, nq, pending, tracker); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}
}

func (t *Tree[K, V]) attachInflated(pt *archiver.PullTask, nq *nodeHeap[K, V], pending map[string]*pendingPull[K, V], tracker archiver.ProgressTracker) error {
	key := pullTaskKey(pt)
	pp, ok := pending[key]
	if !ok {
		return nil
	}
	delete(pending, key)
	parent, ok := t.lookupLive(pp.parentID)
	if !ok {
		return &IllegalStateError{Reason: "inflate target's parent is not live"}
	}
	a, err := t.tr.Rev(pt.Data)
	if err != nil {
		if tracker != nil {
			tracker.PullFinished(false)
			tracker.InFlight(-1)
		}
		return err
	}
	if compareBounds(t.cmp, a.LKey, pp.lkey) != 0 || compareBounds(t.cmp, a.RKey, pp.rkey) != 0 {
		if tracker != nil {
			tracker.PullFinished(false)
			tracker.InFlight(-1)
		}
		return &DataFormatError{Reason: "inflated node range does not match its ghost"}
	}
	idx := -1
	for i, c := range parent.children {
		if c.isGhost() && c.ghost.id == pp.ghostID {
			idx = i
			break
		}
	}
	if idx < 0 {
		// Benign race (spec.md §5): a concurrent attach already replaced
		// this ghost. Nothing further to do.
		if tracker != nil {
			tracker.PullFinished(true)
			tracker.InFlight(-1)
		}
		return nil
	}
	live := t.nodeFromAttrs(pp.ghostID, parent.children[idx].ghost.size, a)
	attachSkeleton(parent, idx, live)
	if tracker != nil {
		tracker.PullFinished(true)
		tracker.InFlight(-1)
	}
	heap.Push(nq, live)
	return nil
}
