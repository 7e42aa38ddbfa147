// Package pebblearchiver backs archiver.Archiver with an embedded
// cockroachdb/pebble LSM store, the same engine
// ssargent-freyjadb/pkg/storage used for its record store. Objects are
// addressed by a ksuid-derived key when Push is not given one.
package pebblearchiver

import (
	"context"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/segmentio/ksuid"

	"github.com/redwerk/libindex/pkg/archiver"
)

// Archiver is a pebble-backed archiver.Archiver and
// archiver.IterableSerialiser.
type Archiver struct {
	db      *pebble.DB
	tracker *progressTracker
}

// Open opens (creating if absent) a pebble store at path.
func Open(path string) (*Archiver, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &Archiver{db: db, tracker: &progressTracker{}}, nil
}

// Close releases the underlying pebble handle.
func (a *Archiver) Close() error {
	return a.db.Close()
}

// Pull implements archiver.Archiver.
func (a *Archiver) Pull(ctx context.Context, task *archiver.Task) error {
	data, closer, err := a.db.Get([]byte(task.Meta))
	if err != nil {
		if err == pebble.ErrNotFound {
			return &NotFoundError{Meta: task.Meta}
		}
		return err
	}
	defer closer.Close()

	cp := make([]byte, len(data))
	copy(cp, data)
	task.Data = cp
	return nil
}

// Push implements archiver.Archiver. When task.Meta is empty a fresh
// ksuid-derived key is minted and written back, mirroring
// ssargent-freyjadb/pkg/storage.Create's ID-on-write behavior.
func (a *Archiver) Push(ctx context.Context, task *archiver.Task) error {
	if len(task.Meta) == 0 {
		id := ksuid.New()
		task.Meta = archiver.Meta(id.Bytes())
	}
	return a.db.Set([]byte(task.Meta), task.Data, pebble.NoSync)
}

// PullBatch implements archiver.IterableSerialiser.
func (a *Archiver) PullBatch(ctx context.Context, tasks []*archiver.Task) error {
	for _, t := range tasks {
		t.Err = a.Pull(ctx, t)
	}
	return nil
}

// PushBatch implements archiver.IterableSerialiser.
func (a *Archiver) PushBatch(ctx context.Context, tasks []*archiver.Task) error {
	for _, t := range tasks {
		t.Err = a.Push(ctx, t)
	}
	return nil
}

// Progress satisfies archiver.Trackable.
func (a *Archiver) Progress() archiver.ProgressTracker { return a.tracker }

// PullSchedule implements archiver.ScheduledSerialiser with a small fixed
// worker pool draining tasks directly against pebble; pebble's own
// internal concurrency control makes per-key deduplication unnecessary
// here (unlike pkg/archiver/memory, two concurrent Gets of the same key
// are simply two independent, cheap reads), so every task is its own
// "leader" and task-complete is never emitted by this archiver.
func (a *Archiver) PullSchedule(ctx context.Context, tasks <-chan *archiver.PullTask, inflated chan<- *archiver.PullTask, errc chan<- *archiver.TaskOutcome) (archiver.Scheduler, error) {
	const workers = 4
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case pt, ok := <-tasks:
					if !ok {
						return
					}
					a.tracker.InFlight(1)
					task := &archiver.Task{Meta: pt.Meta}
					err := a.Pull(ctx, task)
					a.tracker.InFlight(-1)
					if err != nil {
						a.tracker.PullFinished(false)
						select {
						case errc <- &archiver.TaskOutcome{Cause: archiver.OutcomeAbort, Task: pt, Err: err}:
						case <-ctx.Done():
						}
						continue
					}
					a.tracker.PullFinished(true)
					pt.Data = task.Data
					select {
					case inflated <- pt:
					case <-ctx.Done():
					}
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(done)
	}()
	return &scheduler{done: done}, nil
}

type scheduler struct {
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

// NotFoundError reports a Pull against a Meta pebble has no record of.
type NotFoundError struct {
	Meta archiver.Meta
}

func (e *NotFoundError) Error() string { return "pebblearchiver: object not found: " + e.Meta.String() }

type progressTracker struct {
	mu        sync.Mutex
	started   int
	finished  int
	succeeded int
	inFlight  int
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
