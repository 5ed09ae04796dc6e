package extractor

import (
	"context"
	"math"

	"gitlab.com/yelinaung/finmail/internal/models"
)

// Rule tier scoring.
const (
	ruleBaseConfidence  = 0.2
	rulePerFieldWeight  = 0.09
	ruleConfidenceScale = 100
)

// RuleTier extracts fields with keyword and pattern matching.
type RuleTier struct {
	floor float64
	cap   float64
}

// NewRuleTier returns a rule tier accepted at floor and never scoring above ceiling.
func NewRuleTier(floor, ceiling float64) *RuleTier {
	return &RuleTier{floor: floor, cap: ceiling}
}

// Method implements Tier.
func (t *RuleTier) Method() models.AnalysisMethod { return models.MethodRule }

// Floor implements Tier.
func (t *RuleTier) Floor() float64 { return t.floor }

// Attempt implements Tier. Confidence grows with the number of fields found:
// document type, status, counterparty, amount and dates.
func (t *RuleTier) Attempt(_ context.Context, in Input) (*models.FinancialRecord, error) {
	text := in.Subject + "\n" + in.Body
	rec := &models.FinancialRecord{}
	matched := 0

	if dt, ok := classifySubject(in.Subject); ok {
		rec.DocumentType = dt
		matched++
	} else if in.TypeHint != "" {
		rec.DocumentType = in.TypeHint
	} else {
		rec.DocumentType = models.DocumentUnknown
	}

	status, ok := detectStatus(text)
	rec.Status = status
	if ok {
		matched++
	}

	if rec.Counterparty = findCounterparty(in.Subject, in.Body, in.From); rec.Counterparty != "" {
		matched++
	}

	if m, ok := findAmount(text); ok {
		amount := m.amount
		rec.OriginalAmount = &amount
		rec.OriginalCurrency = m.currency
		matched++
	}

	if dates := findDates(text); dates.any() {
		rec.IssueDate = dates.issue
		rec.DueDate = dates.due
		rec.StartDate = dates.start
		matched++
	}

	score := ruleBaseConfidence + rulePerFieldWeight*float64(matched)
	rec.Confidence = math.Round(math.Min(score, t.cap)*ruleConfidenceScale) / ruleConfidenceScale
	return rec, nil
}
