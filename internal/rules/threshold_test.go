package rules

import (
	"fmt"
	"testing"

	"github.com/opensource-finance/harrier/internal/domain"
)

func txWithAmount(amount string) domain.Transaction {
	return domain.Transaction{Amount: domain.NewValue(amount)}
}

func TestCalibrateEmptyBatch(t *testing.T) {
	c := NewCalibrator(95)

	got := c.Calibrate(nil)
	if got != FallbackHighAmountThreshold {
		t.Errorf("expected fallback threshold %v, got %v", FallbackHighAmountThreshold, got)
	}
}

func TestCalibrateNoParseableAmounts(t *testing.T) {
	c := NewCalibrator(95)

	batch := []domain.Transaction{
		txWithAmount(""),
		txWithAmount("not-a-number"),
	}

	got := c.Calibrate(batch)
	if got != FallbackHighAmountThreshold {
		t.Errorf("expected fallback threshold %v, got %v", FallbackHighAmountThreshold, got)
	}
}

func TestCalibrateSingleValue(t *testing.T) {
	c := NewCalibrator(95)

	got := c.Calibrate([]domain.Transaction{txWithAmount("42.50")})
	if got != 42.50 {
		t.Errorf("expected 42.50, got %v", got)
	}
}

func TestCalibratePercentileInterpolation(t *testing.T) {
	// 100 values from 100 to 10000. The 95th percentile sits at rank
	// 0.95*99 = 94.05, interpolated between the 95th and 96th values.
	batch := make([]domain.Transaction, 100)
	for i := range batch {
		batch[i] = txWithAmount(fmt.Sprintf("%d", (i+1)*100))
	}

	c := NewCalibrator(95)
	got := c.Calibrate(batch)

	want := 9500.0 + 0.05*100.0
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestCalibrateIgnoresUnparseable(t *testing.T) {
	batch := []domain.Transaction{
		txWithAmount("100"),
		txWithAmount("abc"),
		txWithAmount("300"),
		txWithAmount(""),
		txWithAmount("200"),
	}

	c := NewCalibrator(50)
	got := c.Calibrate(batch)
	if got != 200 {
		t.Errorf("expected median 200, got %v", got)
	}
}

func TestCalibrateDeterministic(t *testing.T) {
	batch := []domain.Transaction{
		txWithAmount("500"),
		txWithAmount("100"),
		txWithAmount("900"),
		txWithAmount("300"),
		txWithAmount("700"),
	}

	c := NewCalibrator(95)
	first := c.Calibrate(batch)
	for i := 0; i < 10; i++ {
		if got := c.Calibrate(batch); got != first {
			t.Fatalf("calibration not deterministic: %v vs %v", got, first)
		}
	}
}

func TestNewCalibratorClampsOutOfRange(t *testing.T) {
	for _, p := range []float64{-1, 0, 101, 200} {
		c := NewCalibrator(p)
		if c.Percentile != 95 {
			t.Errorf("percentile %v: expected default 95, got %v", p, c.Percentile)
		}
	}
}
