// Package alerts holds the in-memory alert store: the scored batch's
// suspicious subset, its resolution state, and the retention sweep.
package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// ErrAlertNotFound is returned when a resolution targets a
// transaction that is not in the flagged set.
var ErrAlertNotFound = errors.New("alert not found")

// maxQueryResults caps one alert query response.
const maxQueryResults = 500

// Store owns the flagged subset of the scored batch and its
// resolution state. Detection results are immutable; the resolution
// map and the screening annotations mutate, under the store lock.
// Resolutions are
// written through to the repository so they survive restarts, with a
// write failure logged rather than failing the analyst action.
type Store struct {
	mu        sync.Mutex
	flagged   []domain.ScoredTransaction
	byTxID    map[string]*domain.ScoredTransaction
	resolved  map[string]*domain.Resolution
	retention time.Duration

	repo   domain.Repository
	bus    domain.EventBus
	logger *slog.Logger

	// now is a seam for retention tests.
	now func() time.Time
}

// NewStore builds the store over a scored batch, keeping only the
// suspicious transactions. repo and bus may be nil.
func NewStore(scored []domain.ScoredTransaction, retention time.Duration, repo domain.Repository, bus domain.EventBus, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		resolved:  make(map[string]*domain.Resolution),
		retention: retention,
		repo:      repo,
		bus:       bus,
		logger:    logger,
		now:       time.Now,
	}

	for i := range scored {
		if scored[i].Detection.IsSuspicious {
			s.flagged = append(s.flagged, scored[i])
		}
	}
	s.byTxID = make(map[string]*domain.ScoredTransaction, len(s.flagged))
	for i := range s.flagged {
		s.byTxID[s.flagged[i].Transaction.ID] = &s.flagged[i]
	}

	return s
}

// RestoreResolutions loads persisted resolutions for transactions
// still present in the flagged set. Resolutions for transactions no
// longer in the batch are dropped.
func (s *Store) RestoreResolutions(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}

	persisted, err := s.repo.ListResolutions(ctx)
	if err != nil {
		return fmt.Errorf("failed to load resolutions: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	restored := 0
	for txID, res := range persisted {
		if _, ok := s.byTxID[txID]; ok {
			s.resolved[txID] = res
			restored++
		}
	}

	s.logger.Info("restored alert resolutions", "persisted", len(persisted), "restored", restored)
	return nil
}

// Resolve marks a flagged transaction as resolved. Resolving an
// already-resolved alert overwrites the note and timestamp. A
// transaction outside the flagged set, including one already purged,
// returns ErrAlertNotFound.
func (s *Store) Resolve(ctx context.Context, transactionID, note string) (*domain.ResolvedAlert, error) {
	s.mu.Lock()
	if _, ok := s.byTxID[transactionID]; !ok {
		s.mu.Unlock()
		return nil, ErrAlertNotFound
	}

	res := &domain.Resolution{
		Note:       note,
		ResolvedAt: s.now().UTC(),
	}
	s.resolved[transactionID] = res
	s.mu.Unlock()

	if s.repo != nil {
		if err := s.repo.SaveResolution(ctx, transactionID, res); err != nil {
			s.logger.Error("failed to persist resolution", "transaction_id", transactionID, "error", err)
		}
	}

	alert := &domain.ResolvedAlert{
		TransactionID: transactionID,
		Note:          res.Note,
		ResolvedAt:    res.ResolvedAt,
	}

	if s.bus != nil {
		if payload, err := json.Marshal(alert); err == nil {
			if err := s.bus.Publish(ctx, domain.TopicAlertResolved, payload); err != nil {
				s.logger.Error("failed to publish resolution event", "transaction_id", transactionID, "error", err)
			}
		}
	}

	return alert, nil
}

// Query returns flagged alerts matching the filter, capped at 500
// records, after purging expired resolutions.
func (s *Store) Query(ctx context.Context, filter domain.AlertFilter) []domain.AlertRecord {
	s.sweepExpired(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	var records []domain.AlertRecord
	for i := range s.flagged {
		st := &s.flagged[i]
		_, isResolved := s.resolved[st.Transaction.ID]

		if !matchFilter(st, isResolved, filter) {
			continue
		}

		records = append(records, toRecord(st, isResolved))
		if len(records) >= maxQueryResults {
			break
		}
	}
	return records
}

// ListResolved returns the current resolutions after purging expired
// ones.
func (s *Store) ListResolved(ctx context.Context) []domain.ResolvedAlert {
	s.sweepExpired(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.ResolvedAlert, 0, len(s.resolved))
	for txID, res := range s.resolved {
		out = append(out, domain.ResolvedAlert{
			TransactionID: txID,
			Note:          res.Note,
			ResolvedAt:    res.ResolvedAt,
		})
	}
	return out
}

// PurgeExpired removes resolutions older than the retention window.
// The whole sweep judges against a single cutoff so a long sweep
// cannot purge a resolution that was inside the window when the sweep
// began. Returns the number purged.
func (s *Store) PurgeExpired(ctx context.Context) int {
	return s.sweepExpired(ctx)
}

func (s *Store) sweepExpired(ctx context.Context) int {
	if s.retention <= 0 {
		return 0
	}

	cutoff := s.now().UTC().Add(-s.retention)

	s.mu.Lock()
	var purged []string
	for txID, res := range s.resolved {
		if res.ResolvedAt.Before(cutoff) {
			purged = append(purged, txID)
		}
	}
	for _, txID := range purged {
		delete(s.resolved, txID)
	}
	s.mu.Unlock()

	if len(purged) > 0 {
		if s.repo != nil {
			if err := s.repo.DeleteResolutions(ctx, purged); err != nil {
				s.logger.Error("failed to delete persisted resolutions", "count", len(purged), "error", err)
			}
		}
		s.logger.Info("purged expired alert resolutions", "count", len(purged))
	}
	return len(purged)
}

// Summary aggregates the flagged set for the risk dashboard.
func (s *Store) Summary() domain.RiskSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	summary := domain.RiskSummary{
		TotalFlagged:            len(s.flagged),
		ByCategory:              make(map[string]int),
		ByRegulator:             make(map[string]int),
		SuspiciousIndicatorHist: make(map[int]int),
	}

	for i := range s.flagged {
		st := &s.flagged[i]
		summary.ByCategory[st.Detection.RiskCategory.String()]++

		regulator := st.Transaction.Regulator.String()
		if regulator == "" {
			regulator = "UNKNOWN"
		}
		summary.ByRegulator[regulator]++

		summary.SuspiciousIndicatorHist[st.Detection.SuspiciousDetectionCount]++
	}

	return summary
}

// FlaggedWithResolution snapshots the flagged set joined with current
// resolution state, for report generation and exports. Expired
// resolutions are purged first so a snapshot never counts a resolution
// past the retention window.
func (s *Store) FlaggedWithResolution(ctx context.Context) []domain.AlertRecord {
	s.sweepExpired(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]domain.AlertRecord, 0, len(s.flagged))
	for i := range s.flagged {
		st := &s.flagged[i]
		_, isResolved := s.resolved[st.Transaction.ID]
		records = append(records, toRecord(st, isResolved))
	}
	return records
}

// Screener re-evaluates screening rules for one transaction.
type Screener interface {
	EvaluateTransaction(tx *domain.Transaction) []domain.ScreeningHit
}

// RefreshScreening re-annotates the flagged set with the screener's
// current rules. Called after a rule is created, removed, or reloaded
// so alert listings reflect the live rule set without a restart.
func (s *Store) RefreshScreening(screening Screener) {
	if screening == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.flagged {
		s.flagged[i].Screening = screening.EvaluateTransaction(&s.flagged[i].Transaction)
	}
}

// FlaggedTransactions snapshots the flagged scored transactions.
func (s *Store) FlaggedTransactions() []domain.ScoredTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.ScoredTransaction, len(s.flagged))
	copy(out, s.flagged)
	return out
}

// FlaggedCount returns the size of the flagged set.
func (s *Store) FlaggedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.flagged)
}

func matchFilter(st *domain.ScoredTransaction, isResolved bool, f domain.AlertFilter) bool {
	tx := &st.Transaction

	if f.TransactionID != "" && tx.ID != f.TransactionID {
		return false
	}
	if f.CustomerID != "" && !strings.EqualFold(tx.CustomerID, f.CustomerID) {
		return false
	}
	if len(f.CustomerIDs) > 0 {
		found := false
		for _, id := range f.CustomerIDs {
			if strings.EqualFold(tx.CustomerID, id) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Regulator != "" && !tx.Regulator.EqualFold(f.Regulator) {
		return false
	}
	if f.BookingJurisdiction != "" && !tx.BookingJurisdiction.EqualFold(f.BookingJurisdiction) {
		return false
	}
	if f.Resolved != nil && isResolved != *f.Resolved {
		return false
	}
	return true
}

func toRecord(st *domain.ScoredTransaction, isResolved bool) domain.AlertRecord {
	tx := &st.Transaction
	return domain.AlertRecord{
		TransactionID:            tx.ID,
		Amount:                   tx.Amount.String(),
		Currency:                 tx.Currency.String(),
		Regulator:                tx.Regulator.String(),
		BookingJurisdiction:      tx.BookingJurisdiction.String(),
		CustomerID:               tx.CustomerID,
		CustomerRiskRating:       tx.CustomerRiskRating.String(),
		RiskCategory:             st.Detection.RiskCategory,
		SuspiciousDetectionCount: st.Detection.SuspiciousDetectionCount,
		Reasons:                  st.Detection.Reasons,
		BookingDatetime:          tx.BookingDatetime.String(),
		Resolved:                 isResolved,
		Screening:                st.Screening,
	}
}
