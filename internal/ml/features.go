// Package ml implements the advisory risk classifier: feature
// extraction from batch transactions and a gradient-boosted tree
// ensemble trained on rule-evaluation outcomes.
package ml

import (
	"math"
	"sort"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Feature column groups, in matrix order. The layout is fixed so a
// serialized model keeps working against rebuilt matrices.
var (
	numericColumns = []string{
		"amount",
		"fx_applied_rate",
		"fx_market_rate",
		"fx_spread_bps",
		"daily_cash_total_customer",
		"daily_cash_txn_count",
	}

	datetimeColumns = []string{
		"booking_datetime",
		"value_date",
	}

	datetimeDerived = []string{
		"year",
		"month",
		"day",
		"hour",
		"dayofweek",
		"is_weekend",
		"is_business_hours",
	}

	booleanColumns = []string{
		"customer_is_pep",
		"edd_required",
		"edd_performed",
		"sow_documented",
		"suitability_assessed",
		"cash_id_verified",
		"product_complex",
		"is_advised",
		"product_has_va_exposure",
		"va_disclosure_provided",
	}

	categoricalColumns = []string{
		"booking_jurisdiction",
		"regulator",
		"currency",
		"channel",
		"product_type",
		"originator_country",
		"beneficiary_country",
		"customer_type",
		"customer_risk_rating",
		"client_risk_profile",
		"purpose_code",
		"sanctions_screening",
	}
)

// LabelEncoder maps categorical string values to integer codes.
// Classes are sorted so encoding is stable across fits on the same
// data. Values unseen at fit time map to the code after the last
// known class.
type LabelEncoder struct {
	Classes []string       `json:"classes"`
	codes   map[string]int `json:"-"`
}

// Fit learns the class set from the observed values.
func (e *LabelEncoder) Fit(values []string) {
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		seen[v] = struct{}{}
	}

	e.Classes = make([]string, 0, len(seen))
	for v := range seen {
		e.Classes = append(e.Classes, v)
	}
	sort.Strings(e.Classes)
	e.buildIndex()
}

// Encode returns the code for a value, or the unknown code for values
// not seen at fit time.
func (e *LabelEncoder) Encode(value string) int {
	if e.codes == nil {
		e.buildIndex()
	}
	if code, ok := e.codes[value]; ok {
		return code
	}
	return len(e.Classes)
}

func (e *LabelEncoder) buildIndex() {
	e.codes = make(map[string]int, len(e.Classes))
	for i, class := range e.Classes {
		e.codes[class] = i
	}
}

// StandardScaler standardizes each column to zero mean and unit
// variance using statistics from the fit sample.
type StandardScaler struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

// Fit computes per-column mean and standard deviation. Constant
// columns get a unit deviation so transforming them yields zero.
func (s *StandardScaler) Fit(rows [][]float64) {
	if len(rows) == 0 {
		return
	}
	cols := len(rows[0])
	s.Mean = make([]float64, cols)
	s.Std = make([]float64, cols)

	for j := 0; j < cols; j++ {
		var sum float64
		for i := range rows {
			sum += rows[i][j]
		}
		mean := sum / float64(len(rows))

		var sq float64
		for i := range rows {
			d := rows[i][j] - mean
			sq += d * d
		}
		std := math.Sqrt(sq / float64(len(rows)))
		if std == 0 {
			std = 1
		}

		s.Mean[j] = mean
		s.Std[j] = std
	}
}

// Transform standardizes rows in place and returns them.
func (s *StandardScaler) Transform(rows [][]float64) [][]float64 {
	for i := range rows {
		s.TransformRow(rows[i])
	}
	return rows
}

// TransformRow standardizes one row in place.
func (s *StandardScaler) TransformRow(row []float64) []float64 {
	for j := range row {
		if j < len(s.Mean) {
			row[j] = (row[j] - s.Mean[j]) / s.Std[j]
		}
	}
	return row
}

// FeatureBuilder turns transactions into fixed-width numeric rows.
// Encoders are fitted over the full batch so every category present
// anywhere in the data gets a stable code.
type FeatureBuilder struct {
	Encoders map[string]*LabelEncoder `json:"encoders"`
}

// NewFeatureBuilder creates an unfitted builder.
func NewFeatureBuilder() *FeatureBuilder {
	return &FeatureBuilder{Encoders: make(map[string]*LabelEncoder)}
}

// FeatureNames returns the column names of the produced matrix, in
// order.
func FeatureNames() []string {
	names := make([]string, 0, featureWidth())
	names = append(names, numericColumns...)
	for _, col := range datetimeColumns {
		for _, d := range datetimeDerived {
			names = append(names, col+"_"+d)
		}
	}
	names = append(names, booleanColumns...)
	names = append(names, categoricalColumns...)
	return names
}

func featureWidth() int {
	return len(numericColumns) +
		len(datetimeColumns)*len(datetimeDerived) +
		len(booleanColumns) +
		len(categoricalColumns)
}

// Fit learns the categorical encoders from the batch.
func (b *FeatureBuilder) Fit(batch []domain.Transaction) {
	for _, col := range categoricalColumns {
		values := make([]string, len(batch))
		for i := range batch {
			values[i] = batch[i].Field(col).String()
		}
		enc := &LabelEncoder{}
		enc.Fit(values)
		b.Encoders[col] = enc
	}
}

// Rows builds the feature matrix for a batch.
func (b *FeatureBuilder) Rows(batch []domain.Transaction) [][]float64 {
	rows := make([][]float64, len(batch))
	for i := range batch {
		rows[i] = b.Row(&batch[i])
	}
	return rows
}

// Row builds one feature vector. Absent or malformed values become
// zero for numerics and datetime parts, false for booleans, and the
// encoder's code for the empty string for categoricals.
func (b *FeatureBuilder) Row(tx *domain.Transaction) []float64 {
	row := make([]float64, 0, featureWidth())

	for _, col := range numericColumns {
		f, _ := tx.Field(col).Float()
		row = append(row, f)
	}

	for _, col := range datetimeColumns {
		row = append(row, datetimeFeatures(tx.Field(col))...)
	}

	for _, col := range booleanColumns {
		if tx.Field(col).IsTrue() {
			row = append(row, 1)
		} else {
			row = append(row, 0)
		}
	}

	for _, col := range categoricalColumns {
		enc := b.Encoders[col]
		if enc == nil {
			row = append(row, 0)
			continue
		}
		row = append(row, float64(enc.Encode(tx.Field(col).String())))
	}

	return row
}

// datetimeFeatures expands a timestamp into calendar components. An
// unparseable timestamp yields all zeros.
func datetimeFeatures(v domain.Value) []float64 {
	t, ok := v.Time()
	if !ok {
		return make([]float64, len(datetimeDerived))
	}

	// Day of week with Monday as 0, Sunday as 6.
	dow := (int(t.Weekday()) + 6) % 7
	isWeekend := 0.0
	if dow >= 5 {
		isWeekend = 1
	}
	// Business hours are 09:00 inclusive to 17:00 exclusive.
	isBusinessHours := 0.0
	if t.Hour() >= 9 && t.Hour() < 17 {
		isBusinessHours = 1
	}

	return []float64{
		float64(t.Year()),
		float64(t.Month()),
		float64(t.Day()),
		float64(t.Hour()),
		float64(dow),
		isWeekend,
		isBusinessHours,
	}
}
