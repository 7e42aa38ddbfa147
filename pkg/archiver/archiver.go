// Package archiver defines the abstract contract between the skeletal
// B-tree core and an external, content-addressed store. Concrete
// archivers (file-backed, network-backed, …) are external collaborators;
// this package only fixes the shape they must present. See
// pkg/archiver/memory and pkg/archiver/pebblearchiver for reference
// implementations used in tests and examples.
package archiver

import "context"

// Meta is an opaque identity handle for a persisted object. Archivers may
// use whatever encoding suits their backing store (a content hash, a row
// id, a file offset); the core never interprets it.
type Meta []byte

func (m Meta) String() string {
	return string(m)
}

// Task is a single push or pull unit of work. Meta is the object's
// identity handle; Data carries the serialized object (the attribute map
// produced by the node/tree translator, already turned into bytes by the
// caller, or left generic for in-process archivers that skip encoding).
// Push may either use the supplied Meta or invent one, writing it back
// into Task.Meta.
type Task struct {
	Meta Meta
	Data []byte
	Err  error
}

// Archiver is the minimal capability level: single-task pull and push.
type Archiver interface {
	Pull(ctx context.Context, task *Task) error
	Push(ctx context.Context, task *Task) error
}

// IterableSerialiser batches pull/push with at-least-once semantics per
// task; a per-task failure attaches to that task (Task.Err), not to the
// whole batch.
type IterableSerialiser interface {
	Archiver
	PullBatch(ctx context.Context, tasks []*Task) error
	PushBatch(ctx context.Context, tasks []*Task) error
}

// PullTask is a single pending fetch submitted to a Scheduler by the bulk
// inflater. LKey/RKey are printable labels of the ghost's range; the
// driver checks the delivered node's range against its own record of the
// ghost, not against these strings.
type PullTask struct {
	Meta Meta
	LKey string
	RKey string

	// Result is filled in by the scheduler once the fetch completes.
	Data []byte
}

// Scheduler drains a task queue in parallel and deposits results or
// failures into the caller-supplied channels. IsActive is true iff the
// scheduler may still deposit work; Close is idempotent.
type Scheduler interface {
	IsActive() bool
	Close() error
}

// ScheduledSerialiser is the richest capability level: it returns a
// Scheduler that autonomously drains tasks, depositing completed work
// into inflated and failures into errc. A scheduler must never enqueue
// the same task to both channels, and must convert a duplicate's
// task-in-progress state into task-complete once the original task's
// work covers it.
type ScheduledSerialiser interface {
	IterableSerialiser
	PullSchedule(ctx context.Context, tasks <-chan *PullTask, inflated chan<- *PullTask, errc chan<- *TaskOutcome) (Scheduler, error)
}

// OutcomeCause mirrors skel.TaskCause without introducing a dependency
// from archiver (a leaf package) on the core.
type OutcomeCause int

const (
	OutcomeAbort OutcomeCause = iota
	OutcomeComplete
)

// TaskOutcome is what a Scheduler deposits on its error channel: either a
// terminal abort, or a benign task-complete notice for duplicate work.
type TaskOutcome struct {
	Cause TaskCause
	Task  *PullTask
	Err   error
}

// TaskCause names why a Scheduler stopped working a task.
type TaskCause = OutcomeCause

// ProgressTracker is the optional surface a Trackable archiver exposes;
// the bulk inflater registers each pull with it so external observers can
// report progress.
type ProgressTracker interface {
	PullStarted()
	PullFinished(ok bool)
	InFlight(n int)
}

// Trackable is implemented by archivers that can report a ProgressTracker
// for the bulk inflater to register pulls against.
type Trackable interface {
	Progress() ProgressTracker
}
