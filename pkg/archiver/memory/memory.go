// Package memory provides an in-process reference implementation of
// archiver.ScheduledSerialiser, backed by a plain map guarded by a mutex.
// It exists for tests and examples: a real deployment would back Archiver
// with network or disk storage (see pkg/archiver/pebblearchiver).
package memory

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/redwerk/libindex/pkg/archiver"
)

// Store is an in-memory, content-addressed object store. Push without a
// supplied Meta invents one from a monotonic counter; Push with an
// existing Meta overwrites.
type Store struct {
	mu      sync.RWMutex
	objects map[string][]byte
	seq     uint64

	workers int
	sf      singleflight.Group
	tracker *progressTracker

	leaderMu sync.Mutex
	leaders  map[string]struct{}
}

// NewStore creates an empty store. workers bounds the PullSchedule pool's
// concurrency (spec.md §5's "pool of worker threads").
func NewStore(workers int) *Store {
	if workers < 1 {
		workers = 4
	}
	return &Store{
		objects: make(map[string][]byte),
		workers: workers,
		tracker: &progressTracker{},
		leaders: make(map[string]struct{}),
	}
}

func (s *Store) nextMeta() archiver.Meta {
	s.seq++
	return archiver.Meta([]byte{byte(s.seq >> 56), byte(s.seq >> 48), byte(s.seq >> 40), byte(s.seq >> 32),
		byte(s.seq >> 24), byte(s.seq >> 16), byte(s.seq >> 8), byte(s.seq)})
}

// Pull implements archiver.Archiver.
func (s *Store) Pull(ctx context.Context, task *archiver.Task) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[task.Meta.String()]
	if !ok {
		return &NotFoundError{Meta: task.Meta}
	}
	task.Data = data
	return nil
}

// Push implements archiver.Archiver.
func (s *Store) Push(ctx context.Context, task *archiver.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(task.Meta) == 0 {
		task.Meta = s.nextMeta()
	}
	cp := make([]byte, len(task.Data))
	copy(cp, task.Data)
	s.objects[task.Meta.String()] = cp
	return nil
}

// PullBatch implements archiver.IterableSerialiser. A per-task failure is
// attached to that task rather than aborting the batch.
func (s *Store) PullBatch(ctx context.Context, tasks []*archiver.Task) error {
	for _, t := range tasks {
		t.Err = s.Pull(ctx, t)
	}
	return nil
}

// PushBatch implements archiver.IterableSerialiser.
func (s *Store) PushBatch(ctx context.Context, tasks []*archiver.Task) error {
	for _, t := range tasks {
		t.Err = s.Push(ctx, t)
	}
	return nil
}

// Progress returns the store's ProgressTracker, satisfying archiver.Trackable.
func (s *Store) Progress() archiver.ProgressTracker { return s.tracker }

// PullSchedule implements archiver.ScheduledSerialiser. It spins up a
// bounded errgroup pool draining tasks, resolving concurrent duplicate
// fetches of the same object through a singleflight.Group so only one
// actually hits the store — the rest observe task-complete, exactly the
// benign race spec.md §5 names.
func (s *Store) PullSchedule(ctx context.Context, tasks <-chan *archiver.PullTask, inflated chan<- *archiver.PullTask, errc chan<- *archiver.TaskOutcome) (archiver.Scheduler, error) {
	sched := &scheduler{done: make(chan struct{})}
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < s.workers; i++ {
		g.Go(func() error {
			return s.worker(gctx, tasks, inflated, errc)
		})
	}
	go func() {
		_ = g.Wait()
		close(sched.done)
	}()
	sched.g = g
	return sched, nil
}

func (s *Store) worker(ctx context.Context, tasks <-chan *archiver.PullTask, inflated chan<- *archiver.PullTask, errc chan<- *archiver.TaskOutcome) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case pt, ok := <-tasks:
			if !ok {
				return nil
			}
			s.tracker.InFlight(1)
			key := pt.Meta.String()
			leader := s.claimLeader(key)
			v, err, _ := s.sf.Do(key, func() (interface{}, error) {
				task := &archiver.Task{Meta: pt.Meta}
				if perr := s.Pull(ctx, task); perr != nil {
					return nil, perr
				}
				return task.Data, nil
			})
			if leader {
				s.releaseLeader(key)
			}
			s.tracker.InFlight(-1)
			if err != nil {
				select {
				case errc <- &archiver.TaskOutcome{Cause: archiver.OutcomeAbort, Task: pt, Err: err}:
				case <-ctx.Done():
				}
				continue
			}
			if !leader {
				// Another worker already claimed this key and will
				// deliver it on inflated; this is the benign
				// duplicate-elimination race spec.md §5 documents.
				select {
				case errc <- &archiver.TaskOutcome{Cause: archiver.OutcomeComplete, Task: pt}:
				case <-ctx.Done():
				}
				continue
			}
			pt.Data = v.([]byte)
			select {
			case inflated <- pt:
			case <-ctx.Done():
			}
		}
	}
}

// claimLeader reports whether the caller is the first worker currently
// fetching key; only the leader delivers to inflated, everyone else gets
// task-complete once the leader's singleflight call resolves.
func (s *Store) claimLeader(key string) bool {
	s.leaderMu.Lock()
	defer s.leaderMu.Unlock()
	if _, taken := s.leaders[key]; taken {
		return false
	}
	s.leaders[key] = struct{}{}
	return true
}

func (s *Store) releaseLeader(key string) {
	s.leaderMu.Lock()
	defer s.leaderMu.Unlock()
	delete(s.leaders, key)
}

type scheduler struct {
	g    *errgroup.Group
	done chan struct{}
}

func (s *scheduler) IsActive() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

func (s *scheduler) Close() error {
	<-s.done
	return nil
}

// NotFoundError reports a Pull against a Meta the store never saw.
type NotFoundError struct {
	Meta archiver.Meta
}

func (e *NotFoundError) Error() string { return "memory: object not found: " + e.Meta.String() }

// progressTracker is a trivial counting ProgressTracker; pkg/metrics
// offers a Prometheus-backed alternative for real deployments.
type progressTracker struct {
	mu                  sync.Mutex
	started, finished   int
	succeeded, inFlight int
}

func (p *progressTracker) PullStarted() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started++
}

func (p *progressTracker) PullFinished(ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finished++
	if ok {
		p.succeeded++
	}
}

func (p *progressTracker) InFlight(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inFlight += n
}
