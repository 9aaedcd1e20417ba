package recovery

import (
	"context"
	"testing"
	"time"

	"github.com/ilyalabun/btm/resource"
)

func TestSchedulerRunsRecoverPeriodically(t *testing.T) {
	j := &fakeJournal{records: emptyJournalRecords()}
	registry := resource.NewRegistry()
	r := New(j, registry, Options{Now: func() time.Time { return time.UnixMilli(1700000000000) }})

	s := NewScheduler(r, 10*time.Millisecond, nil)
	s.Start(context.Background())

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if r.ExecutionsCount() >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()

	if got := r.ExecutionsCount(); got < 2 {
		t.Errorf("ExecutionsCount() = %d, want at least 2 scheduled runs", got)
	}
}

func TestSchedulerStopWaitsForInFlightRun(t *testing.T) {
	j := &fakeJournal{records: emptyJournalRecords()}
	registry := resource.NewRegistry()
	r := New(j, registry, Options{Now: func() time.Time { return time.UnixMilli(1700000000000) }})

	s := NewScheduler(r, time.Millisecond, nil)
	s.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	s.Stop()

	count := r.ExecutionsCount()
	time.Sleep(20 * time.Millisecond)
	if r.ExecutionsCount() != count {
		t.Error("scheduler kept running after Stop returned")
	}
}
