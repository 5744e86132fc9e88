package rules

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Customer type label for shell/domiciliary entities.
const customerTypeDomiciliary = "domiciliary_company"

// Regulator regimes with a dedicated suspicious-indicator check.
const (
	RegulatorMAS   = "MAS"
	RegulatorFINMA = "FINMA"
	RegulatorHKMA  = "HKMA/SFC"
)

// Evaluator scores one transaction against the fixed rule set. It is
// a pure function of (transaction, calibrated threshold): it never
// errors, and an absent or malformed field simply fails to match.
type Evaluator struct {
	// HighAmountThreshold is the batch-calibrated cutoff above which
	// an amount counts as unusually high.
	HighAmountThreshold float64
}

// NewEvaluator creates an evaluator bound to a calibrated threshold.
func NewEvaluator(highAmountThreshold float64) *Evaluator {
	return &Evaluator{HighAmountThreshold: highAmountThreshold}
}

// Evaluate produces the detection result for one transaction.
// High-risk reasons come first, then suspicious-indicator reasons,
// each group in its fixed rule order.
func (e *Evaluator) Evaluate(tx *domain.Transaction) domain.DetectionResult {
	highRisk, highReasons := e.checkHighRisk(tx)
	count, suspiciousReasons := e.checkSuspiciousIndicators(tx)

	category := classifyRisk(highRisk, count)

	reasons := make([]string, 0, len(highReasons)+len(suspiciousReasons))
	reasons = append(reasons, highReasons...)
	reasons = append(reasons, suspiciousReasons...)

	return domain.DetectionResult{
		TransactionID:            tx.ID,
		IsSuspicious:             category != domain.RiskNone,
		RiskCategory:             category,
		SuspiciousDetectionCount: count,
		HighRiskDetected:         highRisk,
		Reasons:                  reasons,
	}
}

// checkHighRisk evaluates the high-risk rule group. Any hit forces the
// transaction to HIGH PRIORITY regardless of the indicator count.
func (e *Evaluator) checkHighRisk(tx *domain.Transaction) (bool, []string) {
	var reasons []string
	highRisk := false

	// Rule 1: PEP
	if tx.CustomerIsPEP.IsTrue() {
		highRisk = true
		reasons = append(reasons, "Customer is a Politically Exposed Person (PEP)")
	}

	// Rule 2: domiciliary company without EDD
	if tx.CustomerType.EqualFold(customerTypeDomiciliary) && !tx.EDDPerformed.IsTrue() {
		highRisk = true
		reasons = append(reasons, "Domiciliary company without Enhanced Due Diligence (EDD)")
	}

	// Rule 3: EDD required but not performed
	if tx.EDDRequired.IsTrue() && !tx.EDDPerformed.IsTrue() {
		highRisk = true
		reasons = append(reasons, "EDD required but not performed")
	}

	// Rule 4: SOW explicitly not documented
	if tx.SOWDocumented.IsFalse() {
		highRisk = true
		reasons = append(reasons, "Source of Wealth (SOW) not documented")
	}

	// Rule 5: low risk profile with high amount
	if amt, ok := tx.Amount.Float(); ok {
		if tx.ClientRiskProfile.EqualFold("low") && e.HighAmountThreshold > 0 && amt > e.HighAmountThreshold {
			highRisk = true
			reasons = append(reasons, fmt.Sprintf("Low risk profile customer with unusually high amount (%s)", formatAmount(amt)))
		}
	}

	// Rule 6: suitability explicitly not assessed
	if tx.SuitabilityAssessed.IsFalse() {
		highRisk = true
		reasons = append(reasons, "Suitability not assessed")
	}

	// Rule 7: suitability assessed with mismatch
	if tx.SuitabilityAssessed.IsTrue() && tx.SuitabilityResult.EqualFold("mismatch") {
		highRisk = true
		reasons = append(reasons, "Suitability assessment shows mismatch")
	}

	// Rule 8: cash ID explicitly not verified
	if tx.CashIDVerified.IsFalse() {
		highRisk = true
		reasons = append(reasons, "Cash ID not verified")
	}

	return highRisk, reasons
}

// checkSuspiciousIndicators evaluates the suspicious-indicator group
// and returns the count of fired rules with their reasons.
func (e *Evaluator) checkSuspiciousIndicators(tx *domain.Transaction) (int, []string) {
	count := 0
	var reasons []string

	// Rule 1: regulator-specific control gap. Only the check matching
	// the transaction's regulator applies.
	switch tx.Regulator.String() {
	case RegulatorMAS:
		if tx.CustomerType.EqualFold(customerTypeDomiciliary) && !tx.EDDPerformed.IsTrue() {
			count++
			reasons = append(reasons, "MAS: Domiciliary company without EDD (AML violation)")
		}
	case RegulatorFINMA:
		rating := tx.CustomerRiskRating.Lower()
		if (rating == "high" || rating == "medium") && !tx.EDDPerformed.IsTrue() {
			count++
			reasons = append(reasons, "FINMA: High/Medium risk customer without EDD (AML violation)")
		}
	case RegulatorHKMA:
		if tx.SOWDocumented.IsFalse() {
			count++
			reasons = append(reasons, "HKMA/SFC: Missing SOW documentation (AML violation)")
		}
	}

	// Rule 2: unusually high amount for a low-risk-profile customer.
	// Fires independently of high-risk rule 5.
	if amt, ok := tx.Amount.Float(); ok && e.HighAmountThreshold > 0 {
		if tx.ClientRiskProfile.EqualFold("low") && amt > e.HighAmountThreshold {
			count++
			reasons = append(reasons, fmt.Sprintf("Unusually high amount (%s) for low risk profile customer", formatAmount(amt)))
		}
	}

	// Rule 3: domiciliary company, unconditional
	if tx.CustomerType.EqualFold(customerTypeDomiciliary) {
		count++
		reasons = append(reasons, "Customer type is domiciliary company")
	}

	// Rule 4: medium or high customer risk rating
	rating := tx.CustomerRiskRating.Lower()
	if rating == "medium" || rating == "high" {
		count++
		reasons = append(reasons, fmt.Sprintf("Customer risk rating is %s", titleCase(rating)))
	}

	// Rule 5: sanctions screening soft match
	if tx.SanctionsScreening.EqualFold("potential") {
		count++
		reasons = append(reasons, "Sanctions screening shows potential match")
	}

	return count, reasons
}

// classifyRisk maps the rule outcomes to a final category. High-risk
// hits take precedence; otherwise the indicator count is looked up in
// the fixed classification table.
func classifyRisk(highRiskDetected bool, suspiciousCount int) domain.RiskCategory {
	if highRiskDetected {
		return domain.RiskHighPriority
	}

	switch {
	case suspiciousCount <= 1:
		return domain.RiskNone
	case suspiciousCount == 2:
		return domain.RiskLow
	case suspiciousCount <= 4:
		return domain.RiskMedium
	default:
		return domain.RiskHighPriority
	}
}

// formatAmount renders an amount with thousands separators and two
// decimals, matching the reason strings in historical batch exports.
func formatAmount(amount float64) string {
	s := fmt.Sprintf("%.2f", amount)

	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}

	intPart, fracPart, _ := strings.Cut(s, ".")

	var b strings.Builder
	for i, digit := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(digit)
	}

	out := b.String() + "." + fracPart
	if neg {
		out = "-" + out
	}
	return out
}

// titleCase capitalizes the first letter of an ASCII word.
func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
