// Package ingest loads the transaction batch consumed by the scoring
// pipeline. The batch is read once at startup; a missing or corrupt
// source file is a fatal condition for the caller.
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/opensource-finance/harrier/internal/domain"
)

// namedColumns are the headers bound to dedicated Transaction fields.
// Everything else lands in Extra.
var namedColumns = map[string]bool{
	"transaction_id":       true,
	"customer_id":          true,
	"amount":               true,
	"currency":             true,
	"regulator":            true,
	"booking_jurisdiction": true,
	"customer_type":        true,
	"customer_risk_rating": true,
	"client_risk_profile":  true,
	"customer_is_pep":      true,
	"edd_required":         true,
	"edd_performed":        true,
	"sow_documented":       true,
	"suitability_assessed": true,
	"suitability_result":   true,
	"cash_id_verified":     true,
	"booking_datetime":     true,
	"value_date":           true,
	"sanctions_screening":  true,
}

// LoadBatch reads a transaction batch from a CSV file. Rows with
// missing or malformed cells are kept; only an unreadable file or a
// missing header is an error.
func LoadBatch(path string) ([]domain.Transaction, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open transaction batch: %w", err)
	}
	defer f.Close()

	return readBatch(f)
}

func readBatch(r io.Reader) ([]domain.Transaction, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // tolerate ragged rows

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read batch header: %w", err)
	}

	var batch []domain.Transaction
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read batch row %d: %w", len(batch)+2, err)
		}
		batch = append(batch, parseRow(header, record))
	}

	return batch, nil
}

func parseRow(header, record []string) domain.Transaction {
	tx := domain.Transaction{}

	for i, col := range header {
		var cell string
		if i < len(record) {
			cell = record[i]
		}
		val := domain.NewValue(cell)

		switch col {
		case "transaction_id":
			tx.ID = val.String()
		case "customer_id":
			tx.CustomerID = val.String()
		case "amount":
			tx.Amount = val
		case "currency":
			tx.Currency = val
		case "regulator":
			tx.Regulator = val
		case "booking_jurisdiction":
			tx.BookingJurisdiction = val
		case "customer_type":
			tx.CustomerType = val
		case "customer_risk_rating":
			tx.CustomerRiskRating = val
		case "client_risk_profile":
			tx.ClientRiskProfile = val
		case "customer_is_pep":
			tx.CustomerIsPEP = val
		case "edd_required":
			tx.EDDRequired = val
		case "edd_performed":
			tx.EDDPerformed = val
		case "sow_documented":
			tx.SOWDocumented = val
		case "suitability_assessed":
			tx.SuitabilityAssessed = val
		case "suitability_result":
			tx.SuitabilityResult = val
		case "cash_id_verified":
			tx.CashIDVerified = val
		case "sanctions_screening":
			tx.SanctionsScreening = val
		case "booking_datetime":
			tx.BookingDatetime = val
		case "value_date":
			tx.ValueDate = val
		default:
			if !namedColumns[col] {
				if tx.Extra == nil {
					tx.Extra = make(map[string]domain.Value)
				}
				tx.Extra[col] = val
			}
		}
	}

	return tx
}
