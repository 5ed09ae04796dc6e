// Package models defines the domain entities for the financial mail pipeline.
package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ReferenceCurrency is the currency every record is normalized into.
const ReferenceCurrency = "USD"

// MaxBodyPreviewLength is the number of body characters kept with a record.
const MaxBodyPreviewLength = 200

// LargeAmountThreshold flags unusually large single documents.
var LargeAmountThreshold = decimal.NewFromInt(1_000_000)

// SupportedCurrencies lists recognized ISO currency codes and their display symbols.
var SupportedCurrencies = map[string]string{
	"USD": "$",
	"EUR": "€",
	"GBP": "£",
	"JPY": "¥",
	"CNY": "¥",
	"CAD": "C$",
	"AUD": "A$",
	"NZD": "NZ$",
	"CHF": "CHF",
	"HKD": "HK$",
	"SGD": "S$",
	"INR": "₹",
	"KRW": "₩",
	"BRL": "R$",
	"MXN": "MX$",
	"RUB": "₽",
	"SEK": "kr",
	"NOK": "kr",
	"DKK": "kr",
	"MYR": "RM",
	"THB": "฿",
	"IDR": "Rp",
	"PHP": "₱",
	"VND": "₫",
	"TWD": "NT$",
}

// IsSupportedCurrency reports whether code is a recognized ISO currency code.
func IsSupportedCurrency(code string) bool {
	_, ok := SupportedCurrencies[NormalizeCurrency(code)]
	return ok
}

// NormalizeCurrency upper-cases and trims a currency code.
func NormalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// DocumentType classifies a financial document.
type DocumentType string

// Document types.
const (
	DocumentInvoice   DocumentType = "invoice"
	DocumentOrder     DocumentType = "order"
	DocumentStatement DocumentType = "statement"
	DocumentReceipt   DocumentType = "receipt"
	DocumentPayment   DocumentType = "payment"
	DocumentUnknown   DocumentType = "unknown"
)

// DocumentTypes lists every valid document type.
var DocumentTypes = []DocumentType{
	DocumentInvoice, DocumentOrder, DocumentStatement, DocumentReceipt, DocumentPayment, DocumentUnknown,
}

// ParseDocumentType returns the document type named by s, or false.
func ParseDocumentType(s string) (DocumentType, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "other" {
		return DocumentUnknown, true
	}
	for _, dt := range DocumentTypes {
		if string(dt) == s {
			return dt, true
		}
	}
	return DocumentUnknown, false
}

// Status is the payment status of a document.
type Status string

// Payment statuses.
const (
	StatusPaymentReceived  Status = "payment_received"
	StatusPaymentDue       Status = "payment_due"
	StatusPaymentCompleted Status = "payment_completed"
	StatusOther            Status = "other"
)

// Statuses lists every valid status.
var Statuses = []Status{StatusPaymentReceived, StatusPaymentDue, StatusPaymentCompleted, StatusOther}

// ParseStatus returns the status named by s, or false.
func ParseStatus(s string) (Status, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "_")
	for _, st := range Statuses {
		if string(st) == s {
			return st, true
		}
	}
	return StatusOther, false
}

// AnalysisMethod records which extraction tier produced a record.
type AnalysisMethod string

// Analysis methods, from most to least capable.
const (
	MethodLLM    AnalysisMethod = "llm"
	MethodRule   AnalysisMethod = "rule"
	MethodSimple AnalysisMethod = "simple"
)

// AnomalyKind identifies a flagged concern on a record.
type AnomalyKind string

// Anomaly kinds.
const (
	AnomalyDateInconsistency   AnomalyKind = "date_inconsistency"
	AnomalyNonPositiveAmount   AnomalyKind = "non_positive_amount"
	AnomalyUnknownCurrency     AnomalyKind = "unknown_currency"
	AnomalyStatusInconsistency AnomalyKind = "status_inconsistency"
	AnomalyLargeAmount         AnomalyKind = "large_amount"
	AnomalyStaleRate           AnomalyKind = "stale_rate"
	AnomalyConversionMissing   AnomalyKind = "conversion_unavailable"
	AnomalyReported            AnomalyKind = "reported"
)

// Anomaly is one flagged concern.
type Anomaly struct {
	Kind   AnomalyKind `json:"kind"`
	Detail string      `json:"detail"`
}

// Modification is one entry of a record's audit trail.
type Modification struct {
	Field     string    `json:"field"`
	OldValue  string    `json:"old_value"`
	NewValue  string    `json:"new_value"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// RawMessage is a message as returned by the inbox. It is never mutated.
type RawMessage struct {
	ID      string    `json:"id"`
	Subject string    `json:"subject"`
	From    string    `json:"from"`
	Date    time.Time `json:"date"`
	Body    string    `json:"body"`
}

// Preview returns the leading part of the body kept alongside a record.
func (m RawMessage) Preview() string {
	runes := []rune(m.Body)
	if len(runes) <= MaxBodyPreviewLength {
		return m.Body
	}
	return string(runes[:MaxBodyPreviewLength]) + "..."
}

// FinancialRecord is the structured result of analysing one message.
type FinancialRecord struct {
	ID          int64     `json:"id,omitempty"`
	MessageID   string    `json:"message_id"`
	Subject     string    `json:"subject"`
	From        string    `json:"from"`
	EmailDate   time.Time `json:"email_date"`
	BodyPreview string    `json:"body_preview,omitempty"`

	DocumentType DocumentType `json:"document_type"`
	Status       Status       `json:"status"`
	Counterparty string       `json:"counterparty"`
	Description  string       `json:"description,omitempty"`

	OriginalAmount   *decimal.Decimal `json:"original_amount,omitempty"`
	OriginalCurrency string           `json:"original_currency,omitempty"`
	USDAmount        *decimal.Decimal `json:"usd_amount,omitempty"`
	ExchangeRate     *decimal.Decimal `json:"exchange_rate,omitempty"`

	IssueDate *time.Time `json:"issue_date,omitempty"`
	DueDate   *time.Time `json:"due_date,omitempty"`
	StartDate *time.Time `json:"start_date,omitempty"`

	Confidence     float64        `json:"confidence"`
	AnalysisMethod AnalysisMethod `json:"analysis_method"`
	Anomalies      []Anomaly      `json:"anomalies"`

	Confirmed           bool           `json:"confirmed"`
	ModificationHistory []Modification `json:"modification_history"`

	RawExtraction json.RawMessage `json:"raw_extraction,omitempty"`
	ProcessedAt   time.Time       `json:"processed_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// HasAmount returns true if both amount and currency were extracted.
func (r *FinancialRecord) HasAmount() bool {
	return r.OriginalAmount != nil && r.OriginalCurrency != ""
}

// HasConversion returns true if the record carries normalized USD fields.
func (r *FinancialRecord) HasConversion() bool {
	return r.USDAmount != nil && r.ExchangeRate != nil
}

// HasAnomaly reports whether an anomaly of the given kind is flagged.
func (r *FinancialRecord) HasAnomaly(kind AnomalyKind) bool {
	for _, a := range r.Anomalies {
		if a.Kind == kind {
			return true
		}
	}
	return false
}

// AddAnomaly appends an anomaly unless one of the same kind is already flagged.
func (r *FinancialRecord) AddAnomaly(kind AnomalyKind, detail string) {
	if r.HasAnomaly(kind) {
		return
	}
	r.Anomalies = append(r.Anomalies, Anomaly{Kind: kind, Detail: detail})
}

// ClearConversion drops the USD normalization.
func (r *FinancialRecord) ClearConversion() {
	r.USDAmount = nil
	r.ExchangeRate = nil
}

// Clone returns a deep copy so staged records can be edited without aliasing.
func (r *FinancialRecord) Clone() *FinancialRecord {
	c := *r
	c.OriginalAmount = cloneDecimal(r.OriginalAmount)
	c.USDAmount = cloneDecimal(r.USDAmount)
	c.ExchangeRate = cloneDecimal(r.ExchangeRate)
	c.IssueDate = cloneTime(r.IssueDate)
	c.DueDate = cloneTime(r.DueDate)
	c.StartDate = cloneTime(r.StartDate)
	c.Anomalies = append([]Anomaly(nil), r.Anomalies...)
	c.ModificationHistory = append([]Modification(nil), r.ModificationHistory...)
	c.RawExtraction = append(json.RawMessage(nil), r.RawExtraction...)
	return &c
}

func cloneDecimal(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// ExchangeRate is a cached conversion rate between two currencies.
type ExchangeRate struct {
	Base        string          `json:"base"`
	Target      string          `json:"target"`
	Rate        decimal.Decimal `json:"rate"`
	RateDate    time.Time       `json:"rate_date"`
	LastUpdated time.Time       `json:"last_updated"`
	Source      string          `json:"source"`
}

// RecordFilter selects records for queries and summaries. Nil fields match everything.
type RecordFilter struct {
	DocumentType *DocumentType
	Status       *Status
	Confirmed    *bool
	From         *time.Time
	To           *time.Time
	Limit        int
}

// Matches reports whether r satisfies the filter. The date range applies to EmailDate.
func (f RecordFilter) Matches(r *FinancialRecord) bool {
	if f.DocumentType != nil && r.DocumentType != *f.DocumentType {
		return false
	}
	if f.Status != nil && r.Status != *f.Status {
		return false
	}
	if f.Confirmed != nil && r.Confirmed != *f.Confirmed {
		return false
	}
	if f.From != nil && r.EmailDate.Before(*f.From) {
		return false
	}
	if f.To != nil && !r.EmailDate.Before(*f.To) {
		return false
	}
	return true
}

// Summary aggregates a filtered set of records.
type Summary struct {
	Count         int                              `json:"count"`
	TotalUSD      decimal.Decimal                  `json:"total_usd_amount"`
	ByType        map[DocumentType]int             `json:"by_type"`
	ByStatus      map[Status]int                   `json:"by_status"`
	USDByType     map[DocumentType]decimal.Decimal `json:"usd_by_type"`
	CurrencyCount int                              `json:"currency_count"`
}

// NewSummary returns an empty summary with initialized maps.
func NewSummary() Summary {
	return Summary{
		TotalUSD:  decimal.Zero,
		ByType:    make(map[DocumentType]int),
		ByStatus:  make(map[Status]int),
		USDByType: make(map[DocumentType]decimal.Decimal),
	}
}

// UpsertOutcome reports what an idempotent upsert did.
type UpsertOutcome string

// Upsert outcomes.
const (
	UpsertInserted  UpsertOutcome = "inserted"
	UpsertUpdated   UpsertOutcome = "updated"
	UpsertUnchanged UpsertOutcome = "unchanged"
)

// SessionState is a state of the confirmation workflow.
type SessionState string

// Session states.
const (
	StateIdle                 SessionState = "idle"
	StateSearching            SessionState = "searching"
	StateExtracting           SessionState = "extracting"
	StatePresenting           SessionState = "presenting"
	StateAwaitingConfirmation SessionState = "awaiting_confirmation"
	StatePersisting           SessionState = "persisting"
	StateError                SessionState = "error"
)

// SessionCounters tracks per-session totals.
type SessionCounters struct {
	Processed int `json:"processed"`
	Confirmed int `json:"confirmed"`
	Modified  int `json:"modified"`
	Rejected  int `json:"rejected"`
}

// PendingRecord is an extracted record staged for confirmation.
type PendingRecord struct {
	ID       string           `json:"id"`
	Record   *FinancialRecord `json:"record"`
	StagedAt time.Time        `json:"staged_at"`
	Modified bool             `json:"modified"`
}

// Session is the persisted state of one user's confirmation workflow.
type Session struct {
	ID           string           `json:"id"`
	Owner        string           `json:"owner"`
	State        SessionState     `json:"state"`
	Counters     SessionCounters  `json:"counters"`
	Pending      []*PendingRecord `json:"pending"`
	LastError    string           `json:"last_error,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	LastActivity time.Time        `json:"last_activity"`
	ExpiresAt    time.Time        `json:"expires_at"`
}

// FindPending returns the staged record with the given ID, or nil.
func (s *Session) FindPending(id string) *PendingRecord {
	for _, p := range s.Pending {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// RemovePending drops the staged record with the given ID.
func (s *Session) RemovePending(id string) {
	for i, p := range s.Pending {
		if p.ID == id {
			s.Pending = append(s.Pending[:i], s.Pending[i+1:]...)
			return
		}
	}
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	c := *s
	c.Pending = make([]*PendingRecord, len(s.Pending))
	for i, p := range s.Pending {
		cp := *p
		cp.Record = p.Record.Clone()
		c.Pending[i] = &cp
	}
	return &c
}
