package ml

import (
	"testing"

	"github.com/opensource-finance/harrier/internal/domain"
)

func TestLabelEncoderStableCodes(t *testing.T) {
	e := &LabelEncoder{}
	e.Fit([]string{"SGD", "USD", "CHF", "USD", "SGD"})

	if len(e.Classes) != 3 {
		t.Fatalf("expected 3 classes, got %d", len(e.Classes))
	}
	// Sorted order: CHF, SGD, USD
	if e.Encode("CHF") != 0 || e.Encode("SGD") != 1 || e.Encode("USD") != 2 {
		t.Errorf("unexpected codes: CHF=%d SGD=%d USD=%d", e.Encode("CHF"), e.Encode("SGD"), e.Encode("USD"))
	}
}

func TestLabelEncoderUnknownValue(t *testing.T) {
	e := &LabelEncoder{}
	e.Fit([]string{"a", "b"})

	if got := e.Encode("zzz"); got != 2 {
		t.Errorf("expected unknown code 2, got %d", got)
	}
}

func TestStandardScaler(t *testing.T) {
	s := &StandardScaler{}
	rows := [][]float64{
		{1, 10},
		{3, 10},
	}
	s.Fit(rows)

	if s.Mean[0] != 2 {
		t.Errorf("expected mean 2, got %v", s.Mean[0])
	}
	// Constant column keeps unit deviation.
	if s.Std[1] != 1 {
		t.Errorf("expected std 1 for constant column, got %v", s.Std[1])
	}

	row := []float64{3, 10}
	s.TransformRow(row)
	if row[0] != 1 {
		t.Errorf("expected standardized 1, got %v", row[0])
	}
	if row[1] != 0 {
		t.Errorf("expected centered 0, got %v", row[1])
	}
}

func TestFeatureRowWidth(t *testing.T) {
	b := NewFeatureBuilder()
	b.Fit([]domain.Transaction{{ID: "TX-1"}})

	tx := domain.Transaction{ID: "TX-1"}
	row := b.Row(&tx)

	if len(row) != featureWidth() {
		t.Errorf("row width %d does not match feature width %d", len(row), featureWidth())
	}
	if len(FeatureNames()) != featureWidth() {
		t.Errorf("feature names %d does not match width %d", len(FeatureNames()), featureWidth())
	}
}

func TestDatetimeFeatures(t *testing.T) {
	// 2025-06-14 is a Saturday; 11:00 is inside business hours.
	v := domain.NewValue("2025-06-14 11:30:00")
	feats := datetimeFeatures(v)

	if feats[0] != 2025 || feats[1] != 6 || feats[2] != 14 || feats[3] != 11 {
		t.Errorf("unexpected calendar components: %v", feats)
	}
	if feats[4] != 5 {
		t.Errorf("expected Saturday as day 5, got %v", feats[4])
	}
	if feats[5] != 1 {
		t.Errorf("expected weekend flag, got %v", feats[5])
	}
	if feats[6] != 1 {
		t.Errorf("expected business hours flag, got %v", feats[6])
	}
}

func TestBusinessHoursBoundaries(t *testing.T) {
	tests := []struct {
		ts   string
		want float64
	}{
		{"2025-06-16 08:59:00", 0},
		{"2025-06-16 09:00:00", 1},
		{"2025-06-16 16:59:00", 1},
		{"2025-06-16 17:00:00", 0},
		{"2025-06-16 17:30:00", 0},
	}

	for _, tt := range tests {
		feats := datetimeFeatures(domain.NewValue(tt.ts))
		if feats[6] != tt.want {
			t.Errorf("%s: expected is_business_hours %v, got %v", tt.ts, tt.want, feats[6])
		}
	}
}

func TestDatetimeFeaturesUnparseable(t *testing.T) {
	feats := datetimeFeatures(domain.NewValue("not a date"))
	for i, f := range feats {
		if f != 0 {
			t.Errorf("component %d not zero: %v", i, f)
		}
	}
}

func TestFeatureRowValues(t *testing.T) {
	batch := []domain.Transaction{
		{
			ID:            "TX-1",
			Amount:        domain.NewValue("1500.50"),
			Currency:      domain.NewValue("USD"),
			CustomerIsPEP: domain.NewValue("true"),
		},
		{
			ID:       "TX-2",
			Amount:   domain.NewValue("200"),
			Currency: domain.NewValue("SGD"),
		},
	}

	b := NewFeatureBuilder()
	b.Fit(batch)

	row := b.Row(&batch[0])

	if row[0] != 1500.50 {
		t.Errorf("expected amount 1500.50, got %v", row[0])
	}

	// First boolean column is customer_is_pep.
	pepIdx := len(numericColumns) + len(datetimeColumns)*len(datetimeDerived)
	if row[pepIdx] != 1 {
		t.Errorf("expected PEP flag 1, got %v", row[pepIdx])
	}

	// Currency codes differ between the two rows.
	curIdx := pepIdx + len(booleanColumns) + 2 // currency is third categorical
	other := b.Row(&batch[1])
	if row[curIdx] == other[curIdx] {
		t.Errorf("expected distinct currency codes, got %v and %v", row[curIdx], other[curIdx])
	}
}
