// Package reports generates monthly compliance snapshots and runs the
// background maintenance scheduler.
package reports

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/opensource-finance/harrier/internal/alerts"
	"github.com/opensource-finance/harrier/internal/domain"
)

// monthPattern validates YYYY-MM report keys.
var monthPattern = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)

// csvHeader is the column layout of the flagged-alert artifact.
var csvHeader = []string{
	"transaction_id",
	"customer_id",
	"amount",
	"currency",
	"regulator",
	"booking_jurisdiction",
	"customer_risk_rating",
	"risk_category",
	"suspicious_detection_count",
	"reasons",
	"booking_datetime",
	"resolved",
}

// MonthKey renders a timestamp as its UTC report month.
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// ValidMonth reports whether s is a well-formed report month.
func ValidMonth(s string) bool {
	return monthPattern.MatchString(s)
}

// Generator writes monthly report artifact pairs: a CSV of flagged
// alerts and a JSON summary. Generation is serialized under one mutex
// and each artifact is written to a temp file then renamed, so a
// concurrent download never observes a partial file.
type Generator struct {
	mu     sync.Mutex
	dir    string
	store  *alerts.Store
	bus    domain.EventBus
	logger *slog.Logger
}

// NewGenerator creates a generator writing under dir. The directory is
// created on first use. bus may be nil.
func NewGenerator(dir string, store *alerts.Store, bus domain.EventBus, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{dir: dir, store: store, bus: bus, logger: logger}
}

func (g *Generator) csvPath(month string) string {
	return filepath.Join(g.dir, "report_"+month+".csv")
}

func (g *Generator) jsonPath(month string) string {
	return filepath.Join(g.dir, "report_"+month+".json")
}

// Exists reports whether both artifacts of the month's pair are
// present.
func (g *Generator) Exists(month string) bool {
	if _, err := os.Stat(g.csvPath(month)); err != nil {
		return false
	}
	if _, err := os.Stat(g.jsonPath(month)); err != nil {
		return false
	}
	return true
}

// Generate produces the artifact pair for a month. An existing
// complete pair is left untouched and reported with status "exists"
// unless force is set, in which case both artifacts are rewritten.
func (g *Generator) Generate(ctx context.Context, month string, force bool) (*domain.GenerateResult, error) {
	if !ValidMonth(month) {
		return nil, fmt.Errorf("invalid report month %q", month)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if !force && g.Exists(month) {
		summary, err := g.readSummary(month)
		if err != nil {
			return nil, err
		}
		return &domain.GenerateResult{
			Status:  domain.ReportStatusExists,
			Month:   month,
			Summary: summary,
		}, nil
	}

	if err := os.MkdirAll(g.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create reports dir: %w", err)
	}

	records := g.store.FlaggedWithResolution(ctx)
	summary := buildSummary(month, records)

	if err := g.writeCSV(month, records); err != nil {
		return nil, err
	}
	if err := g.writeJSON(month, summary); err != nil {
		return nil, err
	}

	g.logger.Info("generated monthly report",
		"month", month,
		"total_flagged", summary.TotalFlagged,
		"resolved", summary.Resolved,
		"forced", force)

	if g.bus != nil {
		if payload, err := json.Marshal(summary); err == nil {
			if err := g.bus.Publish(ctx, domain.TopicReportGenerated, payload); err != nil {
				g.logger.Error("failed to publish report event", "month", month, "error", err)
			}
		}
	}

	return &domain.GenerateResult{
		Status:  domain.ReportStatusGenerated,
		Month:   month,
		Summary: summary,
	}, nil
}

// List returns the artifact pairs currently on disk, newest month
// first.
func (g *Generator) List() ([]domain.ReportInfo, error) {
	entries, err := os.ReadDir(g.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read reports dir: %w", err)
	}

	var infos []domain.ReportInfo
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "report_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		month := strings.TrimSuffix(strings.TrimPrefix(name, "report_"), ".json")
		if !ValidMonth(month) || !g.Exists(month) {
			continue
		}

		summary, err := g.readSummary(month)
		if err != nil {
			g.logger.Error("skipping unreadable report summary", "month", month, "error", err)
			continue
		}

		infos = append(infos, domain.ReportInfo{
			ReportSummary: *summary,
			CSVURL:        "/api/reports/download?month=" + month + "&format=csv",
			JSONURL:       "/api/reports/download?month=" + month + "&format=json",
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Month > infos[j].Month })
	return infos, nil
}

// ReadSummary loads the JSON summary for a month.
func (g *Generator) ReadSummary(month string) (*domain.ReportSummary, error) {
	if !ValidMonth(month) {
		return nil, fmt.Errorf("invalid report month %q", month)
	}
	return g.readSummary(month)
}

func (g *Generator) readSummary(month string) (*domain.ReportSummary, error) {
	data, err := os.ReadFile(g.jsonPath(month))
	if err != nil {
		return nil, fmt.Errorf("failed to read report summary: %w", err)
	}
	var summary domain.ReportSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, fmt.Errorf("failed to parse report summary: %w", err)
	}
	return &summary, nil
}

// Open returns a reader for one artifact of a month's pair. format is
// "csv" or "json". The caller closes the file.
func (g *Generator) Open(month, format string) (*os.File, error) {
	if !ValidMonth(month) {
		return nil, fmt.Errorf("invalid report month %q", month)
	}

	var path string
	switch format {
	case "csv":
		path = g.csvPath(month)
	case "json":
		path = g.jsonPath(month)
	default:
		return nil, fmt.Errorf("unknown report format %q", format)
	}

	return os.Open(path)
}

// isArtifact reports whether name is a report artifact of this
// generator: report_YYYY-MM plus a .csv or .json extension.
func isArtifact(name string) bool {
	rest, ok := strings.CutPrefix(name, "report_")
	if !ok {
		return false
	}
	month := strings.TrimSuffix(strings.TrimSuffix(rest, ".csv"), ".json")
	return month != rest && ValidMonth(month)
}

// PurgeOlderThan removes report artifacts whose modification time is
// older than the retention window. Foreign files in the reports
// directory are never touched. Returns the number of files removed.
func (g *Generator) PurgeOlderThan(retention time.Duration) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	entries, err := os.ReadDir(g.dir)
	if err != nil {
		return 0
	}

	cutoff := time.Now().Add(-retention)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !isArtifact(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			path := filepath.Join(g.dir, entry.Name())
			if err := os.Remove(path); err != nil {
				g.logger.Error("failed to remove expired report", "path", path, "error", err)
				continue
			}
			removed++
		}
	}

	if removed > 0 {
		g.logger.Info("purged expired report artifacts", "count", removed)
	}
	return removed
}

func (g *Generator) writeCSV(month string, records []domain.AlertRecord) error {
	tmp, err := os.CreateTemp(g.dir, "report_*.csv.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp report: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(csvHeader); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write report header: %w", err)
	}
	for _, r := range records {
		row := []string{
			r.TransactionID,
			r.CustomerID,
			r.Amount,
			r.Currency,
			r.Regulator,
			r.BookingJurisdiction,
			r.CustomerRiskRating,
			r.RiskCategory.String(),
			strconv.Itoa(r.SuspiciousDetectionCount),
			strings.Join(r.Reasons, "; "),
			r.BookingDatetime,
			strconv.FormatBool(r.Resolved),
		}
		if err := w.Write(row); err != nil {
			tmp.Close()
			return fmt.Errorf("failed to write report row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to flush report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp report: %w", err)
	}

	return os.Rename(tmp.Name(), g.csvPath(month))
}

func (g *Generator) writeJSON(month string, summary *domain.ReportSummary) error {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize report summary: %w", err)
	}

	tmp, err := os.CreateTemp(g.dir, "report_*.json.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp summary: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write summary: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp summary: %w", err)
	}

	return os.Rename(tmp.Name(), g.jsonPath(month))
}

func buildSummary(month string, records []domain.AlertRecord) *domain.ReportSummary {
	summary := &domain.ReportSummary{
		Month:        month,
		GeneratedAt:  time.Now().UTC(),
		TotalFlagged: len(records),
		ByRegulator:  make(map[string]int),
		ByCategory:   make(map[string]int),
	}

	for _, r := range records {
		if r.Resolved {
			summary.Resolved++
		} else {
			summary.Unresolved++
		}

		regulator := r.Regulator
		if regulator == "" {
			regulator = "UNKNOWN"
		}
		summary.ByRegulator[regulator]++
		summary.ByCategory[r.RiskCategory.String()]++
	}

	return summary
}
