// Package domain defines the core interfaces and types for Harrier.
package domain

import (
	"strconv"
	"strings"
	"time"
)

// Value is an optionally-present raw field from a transaction batch.
// Absence is a typed state: consumers ask for a typed view and get an
// ok flag instead of guessing from empty strings.
type Value struct {
	Raw     string `json:"raw,omitempty"`
	Present bool   `json:"present"`
}

// NewValue wraps a raw cell. A blank cell counts as absent.
func NewValue(raw string) Value {
	raw = strings.TrimSpace(raw)
	return Value{Raw: raw, Present: raw != ""}
}

// String returns the raw text, or "" when absent.
func (v Value) String() string { return v.Raw }

// Lower returns the lower-cased raw text.
func (v Value) Lower() string { return strings.ToLower(v.Raw) }

// EqualFold reports whether the value is present and equals s case-insensitively.
func (v Value) EqualFold(s string) bool {
	return v.Present && strings.EqualFold(v.Raw, s)
}

// Float parses the value as a float. ok is false when absent or malformed.
func (v Value) Float() (float64, bool) {
	if !v.Present {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(v.Raw, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Bool interprets TRUE/FALSE/1/0 case-insensitively.
// ok is false when absent or unrecognized.
func (v Value) Bool() (bool, bool) {
	if !v.Present {
		return false, false
	}
	switch strings.ToUpper(v.Raw) {
	case "TRUE", "1":
		return true, true
	case "FALSE", "0":
		return false, true
	default:
		return false, false
	}
}

// IsTrue reports whether the value is an explicit true.
func (v Value) IsTrue() bool {
	b, ok := v.Bool()
	return ok && b
}

// IsFalse reports whether the value is an explicit false.
// Absence is not falsity: compliance rules that key off an explicit
// "FALSE" must not fire on a missing cell.
func (v Value) IsFalse() bool {
	b, ok := v.Bool()
	return ok && !b
}

// timestampLayouts covers the formats seen in batch exports.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"02/01/2006 15:04",
	"02/01/2006",
}

// Time parses the value as a timestamp. ok is false when absent or unparseable.
func (v Value) Time() (time.Time, bool) {
	if !v.Present {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, v.Raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Transaction is one immutable input record from the loaded batch.
// Attributes beyond the identifiers are optional: a consumer must
// tolerate absent or malformed values without failing the batch.
type Transaction struct {
	ID         string `json:"transaction_id"`
	CustomerID string `json:"customer_id"`

	// Monetary
	Amount   Value `json:"amount"`
	Currency Value `json:"currency"`

	// Jurisdictional
	Regulator           Value `json:"regulator"`
	BookingJurisdiction Value `json:"booking_jurisdiction"`

	// Customer attributes
	CustomerType       Value `json:"customer_type"`
	CustomerRiskRating Value `json:"customer_risk_rating"`
	ClientRiskProfile  Value `json:"client_risk_profile"`
	CustomerIsPEP      Value `json:"customer_is_pep"`

	// Control evidence
	EDDRequired         Value `json:"edd_required"`
	EDDPerformed        Value `json:"edd_performed"`
	SOWDocumented       Value `json:"sow_documented"`
	SuitabilityAssessed Value `json:"suitability_assessed"`
	SuitabilityResult   Value `json:"suitability_result"`
	CashIDVerified      Value `json:"cash_id_verified"`
	SanctionsScreening  Value `json:"sanctions_screening"`

	// Temporal
	BookingDatetime Value `json:"booking_datetime"`
	ValueDate       Value `json:"value_date"`

	// Remaining columns, keyed by header name. Consumed by the feature
	// pipeline and screening expressions; ignored by the rule evaluator.
	Extra map[string]Value `json:"extra,omitempty"`
}

// Field resolves a column by its batch header name, falling back to
// Extra for columns without a dedicated struct field.
func (t *Transaction) Field(name string) Value {
	switch name {
	case "transaction_id":
		return NewValue(t.ID)
	case "customer_id":
		return NewValue(t.CustomerID)
	case "amount":
		return t.Amount
	case "currency":
		return t.Currency
	case "regulator":
		return t.Regulator
	case "booking_jurisdiction":
		return t.BookingJurisdiction
	case "customer_type":
		return t.CustomerType
	case "customer_risk_rating":
		return t.CustomerRiskRating
	case "client_risk_profile":
		return t.ClientRiskProfile
	case "customer_is_pep":
		return t.CustomerIsPEP
	case "edd_required":
		return t.EDDRequired
	case "edd_performed":
		return t.EDDPerformed
	case "sow_documented":
		return t.SOWDocumented
	case "suitability_assessed":
		return t.SuitabilityAssessed
	case "suitability_result":
		return t.SuitabilityResult
	case "cash_id_verified":
		return t.CashIDVerified
	case "sanctions_screening":
		return t.SanctionsScreening
	case "booking_datetime":
		return t.BookingDatetime
	case "value_date":
		return t.ValueDate
	default:
		return t.Extra[name]
	}
}
