package extractor

import (
	"context"
	"strings"

	"gitlab.com/yelinaung/finmail/internal/models"
)

const simpleConfidence = 0.3

// SimpleTier is the last resort: subject keywords and a dollar amount.
// Its floor is zero so it is always accepted.
type SimpleTier struct{}

// Method implements Tier.
func (SimpleTier) Method() models.AnalysisMethod { return models.MethodSimple }

// Floor implements Tier.
func (SimpleTier) Floor() float64 { return 0 }

// Attempt implements Tier.
func (SimpleTier) Attempt(_ context.Context, in Input) (*models.FinancialRecord, error) {
	rec := &models.FinancialRecord{
		DocumentType: models.DocumentUnknown,
		Status:       models.StatusOther,
	}
	matched := false

	subject := strings.ToLower(in.Subject)
	for _, dt := range []models.DocumentType{models.DocumentInvoice, models.DocumentOrder, models.DocumentStatement} {
		if strings.Contains(subject, string(dt)) {
			rec.DocumentType = dt
			matched = true
			break
		}
	}

	if m := simpleDollarRe.FindStringSubmatch(in.Body); m != nil {
		if amount, ok := parseNumber(m[1]); ok {
			rec.OriginalAmount = &amount
			rec.OriginalCurrency = "USD"
			matched = true
		}
	}

	if matched {
		rec.Confidence = simpleConfidence
	}
	return rec, nil
}
