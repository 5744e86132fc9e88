package alerts

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

func scoredBatch() []domain.ScoredTransaction {
	mk := func(id, customer, regulator string, suspicious bool, category domain.RiskCategory, count int) domain.ScoredTransaction {
		return domain.ScoredTransaction{
			Transaction: domain.Transaction{
				ID:         id,
				CustomerID: customer,
				Amount:     domain.NewValue("1000"),
				Currency:   domain.NewValue("USD"),
				Regulator:  domain.NewValue(regulator),
			},
			Detection: domain.DetectionResult{
				TransactionID:            id,
				IsSuspicious:             suspicious,
				RiskCategory:             category,
				SuspiciousDetectionCount: count,
				Reasons:                  []string{"Customer risk rating is High"},
			},
		}
	}

	return []domain.ScoredTransaction{
		mk("TX-1", "CUST-A", "MAS", true, domain.RiskHighPriority, 5),
		mk("TX-2", "CUST-A", "FINMA", true, domain.RiskLow, 2),
		mk("TX-3", "CUST-B", "MAS", true, domain.RiskMedium, 3),
		mk("TX-4", "CUST-C", "HKMA/SFC", false, domain.RiskNone, 0),
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(scoredBatch(), 30*24*time.Hour, nil, nil, nil)
}

func TestStoreKeepsOnlySuspicious(t *testing.T) {
	s := newTestStore(t)

	if s.FlaggedCount() != 3 {
		t.Errorf("expected 3 flagged, got %d", s.FlaggedCount())
	}
}

func TestResolveUnknownTransaction(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Resolve(context.Background(), "TX-404", "note"); err != ErrAlertNotFound {
		t.Errorf("expected ErrAlertNotFound, got %v", err)
	}

	// A clean transaction is not alertable either.
	if _, err := s.Resolve(context.Background(), "TX-4", "note"); err != ErrAlertNotFound {
		t.Errorf("expected ErrAlertNotFound for clean transaction, got %v", err)
	}
}

func TestResolveAndListResolved(t *testing.T) {
	s := newTestStore(t)

	alert, err := s.Resolve(context.Background(), "TX-1", "reviewed with compliance")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if alert.Note != "reviewed with compliance" {
		t.Errorf("unexpected note: %q", alert.Note)
	}

	resolved := s.ListResolved(context.Background())
	if len(resolved) != 1 {
		t.Fatalf("expected 1 resolved, got %d", len(resolved))
	}
	if resolved[0].TransactionID != "TX-1" {
		t.Errorf("unexpected transaction: %s", resolved[0].TransactionID)
	}
}

func TestResolveOverwritesNote(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Resolve(context.Background(), "TX-1", "first pass"); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if _, err := s.Resolve(context.Background(), "TX-1", "second pass"); err != nil {
		t.Fatalf("re-resolve failed: %v", err)
	}

	resolved := s.ListResolved(context.Background())
	if len(resolved) != 1 {
		t.Fatalf("expected 1 resolved, got %d", len(resolved))
	}
	if resolved[0].Note != "second pass" {
		t.Errorf("expected overwritten note, got %q", resolved[0].Note)
	}
}

func TestQueryFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if got := s.Query(ctx, domain.AlertFilter{}); len(got) != 3 {
		t.Errorf("expected 3 alerts unfiltered, got %d", len(got))
	}

	if got := s.Query(ctx, domain.AlertFilter{CustomerID: "cust-a"}); len(got) != 2 {
		t.Errorf("expected 2 alerts for CUST-A, got %d", len(got))
	}

	if got := s.Query(ctx, domain.AlertFilter{Regulator: "MAS"}); len(got) != 2 {
		t.Errorf("expected 2 MAS alerts, got %d", len(got))
	}

	// AND semantics across fields
	got := s.Query(ctx, domain.AlertFilter{CustomerID: "CUST-A", Regulator: "MAS"})
	if len(got) != 1 || got[0].TransactionID != "TX-1" {
		t.Errorf("expected only TX-1, got %v", got)
	}

	if got := s.Query(ctx, domain.AlertFilter{TransactionID: "TX-3"}); len(got) != 1 {
		t.Errorf("expected 1 alert by id, got %d", len(got))
	}

	if got := s.Query(ctx, domain.AlertFilter{CustomerIDs: []string{"CUST-B", "CUST-C"}}); len(got) != 1 {
		t.Errorf("expected 1 alert for customer list, got %d", len(got))
	}
}

func TestQueryResolvedFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Resolve(ctx, "TX-2", "done"); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	resolved := true
	got := s.Query(ctx, domain.AlertFilter{Resolved: &resolved})
	if len(got) != 1 || got[0].TransactionID != "TX-2" {
		t.Errorf("expected resolved TX-2, got %v", got)
	}

	unresolved := false
	got = s.Query(ctx, domain.AlertFilter{Resolved: &unresolved})
	if len(got) != 2 {
		t.Errorf("expected 2 unresolved, got %d", len(got))
	}
}

func TestRetentionPurge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	if _, err := s.Resolve(ctx, "TX-1", "old resolution"); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	// 29 days later the resolution is still inside the window.
	s.now = func() time.Time { return base.Add(29 * 24 * time.Hour) }
	if purged := s.PurgeExpired(ctx); purged != 0 {
		t.Errorf("purged %d resolutions inside the window", purged)
	}
	if len(s.ListResolved(ctx)) != 1 {
		t.Error("resolution dropped before retention expired")
	}

	// 31 days later it is purged, and the alert reverts to unresolved.
	s.now = func() time.Time { return base.Add(31 * 24 * time.Hour) }
	if purged := s.PurgeExpired(ctx); purged != 1 {
		t.Errorf("expected 1 purge, got %d", purged)
	}
	if len(s.ListResolved(ctx)) != 0 {
		t.Error("expired resolution survived purge")
	}

	got := s.Query(ctx, domain.AlertFilter{TransactionID: "TX-1"})
	if len(got) != 1 || got[0].Resolved {
		t.Errorf("purged alert should be unresolved and queryable, got %v", got)
	}

	// After the purge it can be resolved again, indistinguishable from
	// a never-resolved alert.
	if _, err := s.Resolve(ctx, "TX-1", "fresh look"); err != nil {
		t.Errorf("re-resolve after purge failed: %v", err)
	}
}

func TestQueryImplicitPurge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	if _, err := s.Resolve(ctx, "TX-1", "stale"); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	s.now = func() time.Time { return base.Add(40 * 24 * time.Hour) }

	// Query alone triggers the sweep.
	resolved := true
	if got := s.Query(ctx, domain.AlertFilter{Resolved: &resolved}); len(got) != 0 {
		t.Errorf("expected no resolved alerts after implicit purge, got %v", got)
	}
}

func TestSnapshotPurgesBeforeJoin(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	if _, err := s.Resolve(ctx, "TX-1", "closed out"); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	// Inside the window the snapshot sees the resolution.
	records := s.FlaggedWithResolution(ctx)
	resolved := 0
	for _, r := range records {
		if r.Resolved {
			resolved++
		}
	}
	if resolved != 1 {
		t.Fatalf("expected 1 resolved record, got %d", resolved)
	}

	// Past the window the snapshot itself triggers the sweep, so a
	// report generated after restart never counts a stale resolution.
	s.now = func() time.Time { return base.Add(40 * 24 * time.Hour) }
	records = s.FlaggedWithResolution(ctx)
	for _, r := range records {
		if r.Resolved {
			t.Errorf("snapshot reported %s resolved past retention", r.TransactionID)
		}
	}
	if len(s.ListResolved(ctx)) != 0 {
		t.Error("expired resolution survived the snapshot sweep")
	}
}

func TestSummary(t *testing.T) {
	s := newTestStore(t)

	summary := s.Summary()
	if summary.TotalFlagged != 3 {
		t.Errorf("expected 3 flagged, got %d", summary.TotalFlagged)
	}
	if summary.ByCategory["HIGH PRIORITY RISK"] != 1 {
		t.Errorf("unexpected category counts: %v", summary.ByCategory)
	}
	if summary.ByRegulator["MAS"] != 2 {
		t.Errorf("unexpected regulator counts: %v", summary.ByRegulator)
	}
	if summary.SuspiciousIndicatorHist[2] != 1 || summary.SuspiciousIndicatorHist[3] != 1 || summary.SuspiciousIndicatorHist[5] != 1 {
		t.Errorf("unexpected indicator histogram: %v", summary.SuspiciousIndicatorHist)
	}
}

func TestQueryCap(t *testing.T) {
	var scored []domain.ScoredTransaction
	for i := 0; i < maxQueryResults+50; i++ {
		scored = append(scored, domain.ScoredTransaction{
			Transaction: domain.Transaction{ID: fmt.Sprintf("TX-%d", i), CustomerID: "CUST-X"},
			Detection: domain.DetectionResult{
				IsSuspicious: true,
				RiskCategory: domain.RiskLow,
			},
		})
	}

	s := NewStore(scored, time.Hour, nil, nil, nil)
	got := s.Query(context.Background(), domain.AlertFilter{})
	if len(got) != maxQueryResults {
		t.Errorf("expected cap of %d, got %d", maxQueryResults, len(got))
	}
}
