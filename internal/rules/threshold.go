// Package rules implements the deterministic AML rule evaluation
// pipeline: the batch threshold calibrator, the fixed rule evaluator,
// and the CEL-based advisory screening engine.
package rules

import (
	"sort"

	"github.com/opensource-finance/harrier/internal/domain"
)

// FallbackHighAmountThreshold is used when a batch has no parseable
// amounts at all.
const FallbackHighAmountThreshold = 1_000_000

// Calibrator computes the batch-wide "high amount" cutoff.
type Calibrator struct {
	// Percentile of the amount distribution that defines "high".
	Percentile float64
}

// NewCalibrator creates a calibrator for the given percentile.
// Values outside (0, 100] fall back to 95.
func NewCalibrator(percentile float64) Calibrator {
	if percentile <= 0 || percentile > 100 {
		percentile = 95
	}
	return Calibrator{Percentile: percentile}
}

// Calibrate computes the threshold over every amount in the batch that
// parses as numeric. Missing and malformed amounts are skipped. The
// result is computed once per batch load and held fixed for the whole
// scoring pass, so every row is judged against the same cutoff.
func (c Calibrator) Calibrate(batch []domain.Transaction) float64 {
	amounts := make([]float64, 0, len(batch))
	for i := range batch {
		if amt, ok := batch[i].Amount.Float(); ok {
			amounts = append(amounts, amt)
		}
	}

	if len(amounts) == 0 {
		return FallbackHighAmountThreshold
	}

	sort.Float64s(amounts)
	return percentile(amounts, c.Percentile)
}

// percentile computes the p-th percentile of a sorted sample using
// linear interpolation between closest ranks.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := p / 100 * float64(len(sorted)-1)
	lo := int(rank)
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}

	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}
