package extractor

import (
	"fmt"

	"gitlab.com/yelinaung/finmail/internal/models"
)

// DetectAnomalies flags internal inconsistencies of a single record.
// Existing anomalies are kept; each kind is flagged at most once.
func DetectAnomalies(r *models.FinancialRecord) {
	if r.IssueDate != nil && r.DueDate != nil && r.DueDate.Before(*r.IssueDate) {
		r.AddAnomaly(models.AnomalyDateInconsistency,
			fmt.Sprintf("due date %s is before issue date %s",
				r.DueDate.Format(models.DateLayout), r.IssueDate.Format(models.DateLayout)))
	}

	if r.OriginalAmount != nil {
		if !r.OriginalAmount.IsPositive() {
			r.AddAnomaly(models.AnomalyNonPositiveAmount,
				fmt.Sprintf("amount %s is not positive", r.OriginalAmount.String()))
		} else if r.OriginalAmount.GreaterThanOrEqual(models.LargeAmountThreshold) {
			r.AddAnomaly(models.AnomalyLargeAmount,
				fmt.Sprintf("amount %s %s is unusually large", r.OriginalAmount.String(), r.OriginalCurrency))
		}
	}

	if r.OriginalCurrency != "" && !models.IsSupportedCurrency(r.OriginalCurrency) {
		r.AddAnomaly(models.AnomalyUnknownCurrency,
			fmt.Sprintf("currency %q is not recognized", r.OriginalCurrency))
	}

	if r.Status == models.StatusPaymentDue &&
		(r.DocumentType == models.DocumentReceipt || r.DocumentType == models.DocumentPayment) {
		r.AddAnomaly(models.AnomalyStatusInconsistency,
			fmt.Sprintf("%s marked as %s", r.DocumentType, r.Status))
	}
}

var detectedKinds = map[models.AnomalyKind]bool{
	models.AnomalyDateInconsistency:   true,
	models.AnomalyNonPositiveAmount:   true,
	models.AnomalyUnknownCurrency:     true,
	models.AnomalyStatusInconsistency: true,
	models.AnomalyLargeAmount:         true,
}

// RefreshAnomalies re-runs detection after a record was edited. Anomalies
// reported by the model or raised during conversion are left alone.
func RefreshAnomalies(r *models.FinancialRecord) {
	kept := r.Anomalies[:0]
	for _, a := range r.Anomalies {
		if !detectedKinds[a.Kind] {
			kept = append(kept, a)
		}
	}
	r.Anomalies = kept
	DetectAnomalies(r)
}
