package rules

import (
	"github.com/opensource-finance/harrier/internal/domain"
)

// ScoreBatch runs the fixed rule set and optional screening engine
// over a batch, preserving batch order. A nil screening engine skips
// the screening pass.
func ScoreBatch(batch []domain.Transaction, evaluator *Evaluator, screening *ScreeningEngine) []domain.ScoredTransaction {
	scored := make([]domain.ScoredTransaction, len(batch))
	for i := range batch {
		tx := &batch[i]

		var hits []domain.ScreeningHit
		if screening != nil {
			hits = screening.EvaluateTransaction(tx)
		}

		scored[i] = domain.ScoredTransaction{
			Transaction: batch[i],
			Detection:   evaluator.Evaluate(tx),
			Screening:   hits,
		}
	}
	return scored
}
