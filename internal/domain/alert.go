package domain

import "time"

// Resolution records that an analyst closed an alert.
type Resolution struct {
	Note       string    `json:"note"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// ResolvedAlert is a resolution joined with its transaction id, as
// returned by the alert store's resolved listing.
type ResolvedAlert struct {
	TransactionID string    `json:"transaction_id"`
	Note          string    `json:"note"`
	ResolvedAt    time.Time `json:"resolved_at"`
}

// AlertFilter narrows an alert query. All set fields are ANDed.
type AlertFilter struct {
	CustomerID          string
	CustomerIDs         []string
	Regulator           string
	BookingJurisdiction string
	TransactionID       string

	// Resolved filters by resolution state when non-nil.
	Resolved *bool
}

// AlertRecord is one flagged transaction annotated with its current
// resolution state, in the shape consumed by the API layer.
type AlertRecord struct {
	TransactionID            string         `json:"transaction_id"`
	Amount                   string         `json:"amount"`
	Currency                 string         `json:"currency"`
	Regulator                string         `json:"regulator"`
	BookingJurisdiction      string         `json:"booking_jurisdiction"`
	CustomerID               string         `json:"customer_id"`
	CustomerRiskRating       string         `json:"customer_risk_rating"`
	RiskCategory             RiskCategory   `json:"risk_category"`
	SuspiciousDetectionCount int            `json:"suspicious_detection_count"`
	Reasons                  []string       `json:"reasons"`
	BookingDatetime          string         `json:"booking_datetime"`
	Resolved                 bool           `json:"resolved"`
	Screening                []ScreeningHit `json:"screening,omitempty"`
}

// RiskSummary aggregates the currently flagged set.
type RiskSummary struct {
	TotalFlagged            int            `json:"total_flagged"`
	ByCategory              map[string]int `json:"by_category"`
	ByRegulator             map[string]int `json:"by_regulator"`
	SuspiciousIndicatorHist map[int]int    `json:"suspicious_indicator_hist"`
}
