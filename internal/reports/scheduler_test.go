package reports

import (
	"context"
	"testing"
	"time"
)

func TestSweepGeneratesCurrentMonth(t *testing.T) {
	g := newTestGenerator(t)
	s := NewScheduler(time.Hour, 365*24*time.Hour, g, testStore(), nil)

	s.Sweep(context.Background())

	if !g.Exists(MonthKey(time.Now())) {
		t.Error("sweep did not generate the current month's report")
	}
}

func TestSweepLeavesExistingReport(t *testing.T) {
	g := newTestGenerator(t)
	ctx := context.Background()

	month := MonthKey(time.Now())
	first, err := g.Generate(ctx, month, false)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	s := NewScheduler(time.Hour, 365*24*time.Hour, g, testStore(), nil)
	s.Sweep(ctx)

	summary, err := g.ReadSummary(month)
	if err != nil {
		t.Fatalf("read summary failed: %v", err)
	}
	if !summary.GeneratedAt.Equal(first.Summary.GeneratedAt) {
		t.Error("sweep regenerated an existing report")
	}
}

func TestSchedulerStartStop(t *testing.T) {
	g := newTestGenerator(t)
	s := NewScheduler(time.Hour, 365*24*time.Hour, g, testStore(), nil)

	s.Start()
	s.Stop()

	// Stop again must not panic or block.
	s.Stop()
}

func TestStepContainsPanic(t *testing.T) {
	g := newTestGenerator(t)
	s := NewScheduler(time.Hour, 365*24*time.Hour, g, testStore(), nil)

	s.step("panicky", func() error {
		panic("boom")
	})
}
