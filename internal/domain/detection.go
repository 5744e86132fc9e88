package domain

import (
	"encoding/json"
	"strings"
)

// RiskCategory is the final classification of a scored transaction.
type RiskCategory int

const (
	// RiskNone means the transaction is not alertable.
	RiskNone RiskCategory = iota
	RiskLow
	RiskMedium
	RiskHighPriority
)

// String returns the compliance-report label for the category.
// RiskNone renders blank, matching the batch export convention.
func (c RiskCategory) String() string {
	switch c {
	case RiskLow:
		return "LOW RISK"
	case RiskMedium:
		return "MEDIUM RISK"
	case RiskHighPriority:
		return "HIGH PRIORITY RISK"
	default:
		return ""
	}
}

// MarshalJSON renders the category as its report label.
func (c RiskCategory) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON parses a report label back into a category.
func (c *RiskCategory) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*c = ParseRiskCategory(s)
	return nil
}

// ParseRiskCategory maps a report label to a category. Unknown labels
// map to RiskNone.
func ParseRiskCategory(s string) RiskCategory {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LOW RISK":
		return RiskLow
	case "MEDIUM RISK":
		return RiskMedium
	case "HIGH PRIORITY RISK":
		return RiskHighPriority
	default:
		return RiskNone
	}
}

// DetectionResult is the per-transaction output of the rule evaluator.
// Produced once per scoring pass and never mutated afterwards.
type DetectionResult struct {
	TransactionID            string       `json:"transaction_id"`
	IsSuspicious             bool         `json:"is_suspicious"`
	RiskCategory             RiskCategory `json:"risk_category"`
	SuspiciousDetectionCount int          `json:"suspicious_detection_count"`
	HighRiskDetected         bool         `json:"high_risk_detected"`

	// Reasons lists every fired rule, high-risk reasons first, in the
	// evaluator's fixed rule order.
	Reasons []string `json:"reasons"`
}

// ReasonText joins the reasons for flat exports.
func (d *DetectionResult) ReasonText() string {
	if len(d.Reasons) == 0 {
		return "No suspicious indicators"
	}
	return strings.Join(d.Reasons, "; ")
}

// ScreeningHit is an advisory match from an operator-defined screening
// rule. Hits annotate flagged transactions; they never change the
// evaluator's verdict.
type ScreeningHit struct {
	RuleID string `json:"rule_id"`
	Reason string `json:"reason"`
}

// ScoredTransaction pairs a transaction with its detection result.
type ScoredTransaction struct {
	Transaction Transaction     `json:"transaction"`
	Detection   DetectionResult `json:"detection"`
	Screening   []ScreeningHit  `json:"screening,omitempty"`
}
