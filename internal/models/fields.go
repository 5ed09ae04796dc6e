package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the canonical date format for record dates.
const DateLayout = "2006-01-02"

// Editable record fields.
const (
	FieldDocumentType     = "document_type"
	FieldStatus           = "status"
	FieldCounterparty     = "counterparty"
	FieldDescription      = "description"
	FieldOriginalAmount   = "original_amount"
	FieldOriginalCurrency = "original_currency"
	FieldIssueDate        = "issue_date"
	FieldDueDate          = "due_date"
	FieldStartDate        = "start_date"
)

// EditableFields lists the fields a user may change before confirmation.
var EditableFields = []string{
	FieldDocumentType,
	FieldStatus,
	FieldCounterparty,
	FieldDescription,
	FieldOriginalAmount,
	FieldOriginalCurrency,
	FieldIssueDate,
	FieldDueDate,
	FieldStartDate,
}

// AffectsConversion reports whether editing field invalidates the USD normalization.
func AffectsConversion(field string) bool {
	return field == FieldOriginalAmount || field == FieldOriginalCurrency
}

// FieldValue renders the current value of an editable field.
func (r *FinancialRecord) FieldValue(field string) (string, error) {
	switch field {
	case FieldDocumentType:
		return string(r.DocumentType), nil
	case FieldStatus:
		return string(r.Status), nil
	case FieldCounterparty:
		return r.Counterparty, nil
	case FieldDescription:
		return r.Description, nil
	case FieldOriginalAmount:
		if r.OriginalAmount == nil {
			return "", nil
		}
		return r.OriginalAmount.String(), nil
	case FieldOriginalCurrency:
		return r.OriginalCurrency, nil
	case FieldIssueDate:
		return formatDate(r.IssueDate), nil
	case FieldDueDate:
		return formatDate(r.DueDate), nil
	case FieldStartDate:
		return formatDate(r.StartDate), nil
	default:
		return "", fmt.Errorf("%w: unknown field %q", ErrValidation, field)
	}
}

// SetField validates value and assigns it to field, returning the previous value.
// An empty value clears optional fields. On error the record is left untouched.
func (r *FinancialRecord) SetField(field, value string) (string, error) {
	old, err := r.FieldValue(field)
	if err != nil {
		return "", err
	}
	value = strings.TrimSpace(value)

	switch field {
	case FieldDocumentType:
		dt, ok := ParseDocumentType(value)
		if !ok {
			return "", fmt.Errorf("%w: invalid document type %q", ErrValidation, value)
		}
		r.DocumentType = dt
	case FieldStatus:
		st, ok := ParseStatus(value)
		if !ok {
			return "", fmt.Errorf("%w: invalid status %q", ErrValidation, value)
		}
		r.Status = st
	case FieldCounterparty:
		r.Counterparty = value
	case FieldDescription:
		r.Description = value
	case FieldOriginalAmount:
		if value == "" {
			r.OriginalAmount = nil
			break
		}
		d, err := decimal.NewFromString(strings.ReplaceAll(value, ",", ""))
		if err != nil {
			return "", fmt.Errorf("%w: invalid amount %q", ErrValidation, value)
		}
		r.OriginalAmount = &d
	case FieldOriginalCurrency:
		if value == "" {
			r.OriginalCurrency = ""
			break
		}
		code := NormalizeCurrency(value)
		if !IsSupportedCurrency(code) {
			return "", fmt.Errorf("%w: unsupported currency %q", ErrValidation, value)
		}
		r.OriginalCurrency = code
	case FieldIssueDate, FieldDueDate, FieldStartDate:
		t, err := parseDateField(value)
		if err != nil {
			return "", err
		}
		switch field {
		case FieldIssueDate:
			r.IssueDate = t
		case FieldDueDate:
			r.DueDate = t
		default:
			r.StartDate = t
		}
	}

	return old, nil
}

func parseDateField(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(DateLayout, value)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid date %q, expected YYYY-MM-DD", ErrValidation, value)
	}
	return &t, nil
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(DateLayout)
}
