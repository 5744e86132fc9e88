package domain

import "time"

// ReportSummary is the JSON summary artifact for one monthly snapshot.
type ReportSummary struct {
	Month        string         `json:"month"` // YYYY-MM, UTC
	GeneratedAt  time.Time      `json:"generated_at"`
	TotalFlagged int            `json:"total_flagged"`
	Resolved     int            `json:"resolved"`
	Unresolved   int            `json:"unresolved"`
	ByRegulator  map[string]int `json:"by_regulator"`
	ByCategory   map[string]int `json:"by_category"`
}

// ReportInfo is a summary plus download locations, for report listings.
type ReportInfo struct {
	ReportSummary
	CSVURL  string `json:"csv_url"`
	JSONURL string `json:"json_url"`
}

// Generation statuses returned by the report generator.
const (
	ReportStatusGenerated = "generated"
	ReportStatusExists    = "exists"
)

// GenerateResult is the outcome of a report generation request.
type GenerateResult struct {
	Status  string         `json:"status"`
	Month   string         `json:"month"`
	Summary *ReportSummary `json:"summary,omitempty"`
}
