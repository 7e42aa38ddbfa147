package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redwerk/libindex/pkg/archiver"
)

func TestPushPullRoundTrip(t *testing.T) {
	s := NewStore(2)
	task := &archiver.Task{Data: []byte("hello")}
	if err := s.Push(context.Background(), task); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if len(task.Meta) == 0 {
		t.Fatalf("Push did not invent a Meta")
	}

	pull := &archiver.Task{Meta: task.Meta}
	if err := s.Pull(context.Background(), pull); err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if string(pull.Data) != "hello" {
		t.Fatalf("Pull.Data = %q, want %q", pull.Data, "hello")
	}
}

func TestPullMissingReturnsNotFound(t *testing.T) {
	s := NewStore(2)
	err := s.Pull(context.Background(), &archiver.Task{Meta: archiver.Meta("nope")})
	if err == nil {
		t.Fatalf("Pull of a missing key succeeded, want error")
	}
	if _, ok := err.(*NotFoundError); !ok {
		t.Fatalf("Pull error = %v (%T), want *NotFoundError", err, err)
	}
}

func TestPushBatchPullBatchPerTaskErrors(t *testing.T) {
	s := NewStore(2)
	ctx := context.Background()

	pushes := []*archiver.Task{{Data: []byte("a")}, {Data: []byte("b")}}
	if err := s.PushBatch(ctx, pushes); err != nil {
		t.Fatalf("PushBatch: %v", err)
	}
	for _, p := range pushes {
		if p.Err != nil {
			t.Fatalf("unexpected per-task push error: %v", p.Err)
		}
	}

	pulls := []*archiver.Task{
		{Meta: pushes[0].Meta},
		{Meta: archiver.Meta("missing")},
	}
	if err := s.PullBatch(ctx, pulls); err != nil {
		t.Fatalf("PullBatch: %v", err)
	}
	if pulls[0].Err != nil {
		t.Fatalf("pulls[0].Err = %v, want nil", pulls[0].Err)
	}
	if pulls[1].Err == nil {
		t.Fatalf("pulls[1].Err = nil, want a not-found error")
	}
}

// TestPullScheduleDuplicateEliminatesToTaskComplete is scenario S4: two
// concurrent PullTasks naming the same object resolve to exactly one
// delivery on inflated and one task-complete notice on errc.
func TestPullScheduleDuplicateEliminatesToTaskComplete(t *testing.T) {
	s := NewStore(4)
	ctx := context.Background()

	push := &archiver.Task{Data: []byte("shared")}
	if err := s.Push(ctx, push); err != nil {
		t.Fatalf("Push: %v", err)
	}

	tasks := make(chan *archiver.PullTask, 4)
	inflated := make(chan *archiver.PullTask, 4)
	errc := make(chan *archiver.TaskOutcome, 4)

	sched, err := s.PullSchedule(ctx, tasks, inflated, errc)
	if err != nil {
		t.Fatalf("PullSchedule: %v", err)
	}

	pt1 := &archiver.PullTask{Meta: push.Meta}
	pt2 := &archiver.PullTask{Meta: push.Meta}
	tasks <- pt1
	tasks <- pt2

	var mu sync.Mutex
	var delivered []*archiver.PullTask
	var outcomes []*archiver.TaskOutcome

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1; i++ {
			select {
			case pt := <-inflated:
				mu.Lock()
				delivered = append(delivered, pt)
				mu.Unlock()
			case <-time.After(2 * time.Second):
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1; i++ {
			select {
			case oc := <-errc:
				mu.Lock()
				outcomes = append(outcomes, oc)
				mu.Unlock()
			case <-time.After(2 * time.Second):
				return
			}
		}
	}()
	wg.Wait()
	close(tasks)
	if err := sched.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if len(delivered) != 1 {
		t.Fatalf("delivered %d results on inflated, want exactly 1", len(delivered))
	}
	if len(outcomes) != 1 {
		t.Fatalf("delivered %d outcomes on errc, want exactly 1", len(outcomes))
	}
	if outcomes[0].Cause != archiver.OutcomeComplete {
		t.Fatalf("outcome cause = %v, want OutcomeComplete", outcomes[0].Cause)
	}
	if string(delivered[0].Data) != "shared" {
		t.Fatalf("delivered data = %q, want %q", delivered[0].Data, "shared")
	}
}

func TestSchedulerBecomesInactiveAfterTasksClosed(t *testing.T) {
	s := NewStore(2)
	ctx := context.Background()
	tasks := make(chan *archiver.PullTask)
	inflated := make(chan *archiver.PullTask, 1)
	errc := make(chan *archiver.TaskOutcome, 1)

	sched, err := s.PullSchedule(ctx, tasks, inflated, errc)
	if err != nil {
		t.Fatalf("PullSchedule: %v", err)
	}
	if !sched.IsActive() {
		t.Fatalf("scheduler reported inactive immediately after start")
	}
	close(tasks)
	if err := sched.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if sched.IsActive() {
		t.Fatalf("scheduler still active after Close returned")
	}
}
