package repository

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"gitlab.com/yelinaung/finmail/internal/models"
)

// contentFields is the part of a record that the fingerprint covers.
// Identity, confirmation, audit trail and bookkeeping timestamps are excluded.
type contentFields struct {
	Subject      string           `json:"subject"`
	From         string           `json:"from"`
	EmailDate    string           `json:"email_date"`
	BodyPreview  string           `json:"body_preview"`
	DocumentType string           `json:"document_type"`
	Status       string           `json:"status"`
	Counterparty string           `json:"counterparty"`
	Description  string           `json:"description"`
	Amount       string           `json:"amount"`
	Currency     string           `json:"currency"`
	USDAmount    string           `json:"usd_amount"`
	Rate         string           `json:"rate"`
	IssueDate    string           `json:"issue_date"`
	DueDate      string           `json:"due_date"`
	StartDate    string           `json:"start_date"`
	Confidence   float64          `json:"confidence"`
	Method       string           `json:"method"`
	Anomalies    []models.Anomaly `json:"anomalies"`
}

// ContentHash fingerprints the extracted content of a record. Two records
// with equal fingerprints carry the same facts.
func ContentHash(r *models.FinancialRecord) string {
	c := contentFields{
		Subject:      r.Subject,
		From:         r.From,
		BodyPreview:  r.BodyPreview,
		DocumentType: string(r.DocumentType),
		Status:       string(r.Status),
		Counterparty: r.Counterparty,
		Description:  r.Description,
		Amount:       decimalString(r.OriginalAmount),
		Currency:     r.OriginalCurrency,
		USDAmount:    decimalString(r.USDAmount),
		Rate:         decimalString(r.ExchangeRate),
		IssueDate:    dateString(r.IssueDate),
		DueDate:      dateString(r.DueDate),
		StartDate:    dateString(r.StartDate),
		Confidence:   r.Confidence,
		Method:       string(r.AnalysisMethod),
		Anomalies:    r.Anomalies,
	}
	if !r.EmailDate.IsZero() {
		c.EmailDate = r.EmailDate.UTC().Truncate(time.Microsecond).Format(time.RFC3339Nano)
	}

	b, _ := json.Marshal(c)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func decimalString(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.String()
}

func dateString(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(models.DateLayout)
}

// mergeHistory keeps every existing entry and appends incoming entries not
// already present.
func mergeHistory(existing, incoming []models.Modification) []models.Modification {
	merged := append([]models.Modification(nil), existing...)
	for _, m := range incoming {
		dup := false
		for _, e := range merged {
			if sameModification(e, m) {
				dup = true
				break
			}
		}
		if !dup {
			merged = append(merged, m)
		}
	}
	if merged == nil {
		merged = []models.Modification{}
	}
	return merged
}

func sameModification(a, b models.Modification) bool {
	return a.Field == b.Field &&
		a.OldValue == b.OldValue &&
		a.NewValue == b.NewValue &&
		a.Reason == b.Reason &&
		a.Timestamp.Equal(b.Timestamp)
}

// stored is what a store knows about an existing row.
type stored struct {
	hash      string
	confirmed bool
	history   []models.Modification
}

// merge applies an incoming record onto an existing one. Content is last
// writer wins; confirmation is sticky and history is append-only.
func merge(existing stored, incoming *models.FinancialRecord) (hash string, outcome models.UpsertOutcome) {
	hash = ContentHash(incoming)
	history := mergeHistory(existing.history, incoming.ModificationHistory)
	confirmed := existing.confirmed || incoming.Confirmed

	outcome = models.UpsertUpdated
	if hash == existing.hash && confirmed == existing.confirmed && len(history) == len(existing.history) {
		outcome = models.UpsertUnchanged
	}

	incoming.Confirmed = confirmed
	incoming.ModificationHistory = history
	return hash, outcome
}
