package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/redwerk/libindex/pkg/archiver"
)

func TestTrackerImplementsProgressTracker(t *testing.T) {
	var _ archiver.ProgressTracker = New(prometheus.NewRegistry())
}

func TestTrackerCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	tr := New(reg)

	tr.PullStarted()
	tr.PullStarted()
	tr.InFlight(1)
	tr.InFlight(1)
	tr.PullFinished(true)
	tr.InFlight(-1)
	tr.PullFinished(false)
	tr.InFlight(-1)

	if got := testutil.ToFloat64(tr.pullsStartedTotal); got != 2 {
		t.Fatalf("pullsStartedTotal = %v, want 2", got)
	}
	if got := testutil.ToFloat64(tr.pullsFinishedTotal.WithLabelValues(statusSuccess)); got != 1 {
		t.Fatalf("pullsFinishedTotal{success} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(tr.pullsFinishedTotal.WithLabelValues(statusError)); got != 1 {
		t.Fatalf("pullsFinishedTotal{error} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(tr.pullsInFlight); got != 0 {
		t.Fatalf("pullsInFlight = %v, want 0", got)
	}
}
