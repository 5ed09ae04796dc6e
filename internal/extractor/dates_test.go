package extractor

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/yelinaung/finmail/internal/models"
)

func TestParseDate(t *testing.T) {
	t.Parallel()

	want := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for _, s := range []string{
		"2024-03-01",
		"2024-3-1",
		"2024/03/01",
		"01/03/2024",
		"Mar 1, 2024",
		"Mar. 1, 2024",
		"March 1st, 2024",
		"March 1 2024",
		"1 March 2024",
		"1 Mar 2024",
		"01-Mar-2024",
		"Fri, 01 Mar 2024 10:00:00 +0000",
	} {
		got, ok := ParseDate(s)
		if assert.True(t, ok, s) {
			assert.Equal(t, want, got, s)
		}
	}

	got, ok := ParseDate("03/15/2024")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), got)

	for _, s := range []string{"", "soon", "2024-13-45", "32/13/2024"} {
		_, ok := ParseDate(s)
		assert.False(t, ok, s)
	}
}

func TestFindDates(t *testing.T) {
	t.Parallel()

	t.Run("due label does not count as issue", func(t *testing.T) {
		t.Parallel()

		got := findDates("Due date: 2024-04-01")
		require.NotNil(t, got.due)
		assert.Nil(t, got.issue)
	})

	t.Run("unlabeled date becomes issue date", func(t *testing.T) {
		t.Parallel()

		got := findDates("Thanks for shopping on 5 Jan 2024 with us")
		require.NotNil(t, got.issue)
		assert.Equal(t, time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), *got.issue)
		assert.Nil(t, got.due)
	})

	t.Run("no dates", func(t *testing.T) {
		t.Parallel()
		assert.False(t, findDates("nothing here").any())
	})
}

func TestDetectAnomalies(t *testing.T) {
	t.Parallel()

	d := func(s string) *time.Time {
		v := date(s)
		return &v
	}
	amt := func(s string) *decimal.Decimal {
		v := decimal.RequireFromString(s)
		return &v
	}

	tests := []struct {
		name string
		rec  models.FinancialRecord
		want []models.AnomalyKind
	}{
		{
			name: "clean",
			rec: models.FinancialRecord{
				DocumentType: models.DocumentInvoice, Status: models.StatusPaymentDue,
				OriginalAmount: amt("10"), OriginalCurrency: "USD",
				IssueDate: d("2024-01-01"), DueDate: d("2024-02-01"),
			},
		},
		{
			name: "due before issue",
			rec:  models.FinancialRecord{IssueDate: d("2024-02-01"), DueDate: d("2024-01-01")},
			want: []models.AnomalyKind{models.AnomalyDateInconsistency},
		},
		{
			name: "zero amount and unknown currency",
			rec:  models.FinancialRecord{OriginalAmount: amt("0"), OriginalCurrency: "XYZ"},
			want: []models.AnomalyKind{models.AnomalyNonPositiveAmount, models.AnomalyUnknownCurrency},
		},
		{
			name: "large amount",
			rec:  models.FinancialRecord{OriginalAmount: amt("1000000"), OriginalCurrency: "USD"},
			want: []models.AnomalyKind{models.AnomalyLargeAmount},
		},
		{
			name: "receipt marked due",
			rec:  models.FinancialRecord{DocumentType: models.DocumentReceipt, Status: models.StatusPaymentDue},
			want: []models.AnomalyKind{models.AnomalyStatusInconsistency},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := tt.rec
			DetectAnomalies(&rec)
			kinds := make([]models.AnomalyKind, 0, len(rec.Anomalies))
			for _, a := range rec.Anomalies {
				kinds = append(kinds, a.Kind)
			}
			assert.ElementsMatch(t, tt.want, kinds)

			DetectAnomalies(&rec)
			assert.Len(t, rec.Anomalies, len(kinds))
		})
	}
}

func TestRefreshAnomalies(t *testing.T) {
	t.Parallel()

	issue := date("2024-02-01")
	due := date("2024-01-01")
	rec := &models.FinancialRecord{IssueDate: &issue, DueDate: &due}
	rec.AddAnomaly(models.AnomalyStaleRate, "rate from yesterday")
	DetectAnomalies(rec)
	require.True(t, rec.HasAnomaly(models.AnomalyDateInconsistency))

	fixed := date("2024-03-01")
	rec.DueDate = &fixed
	RefreshAnomalies(rec)

	assert.False(t, rec.HasAnomaly(models.AnomalyDateInconsistency))
	assert.True(t, rec.HasAnomaly(models.AnomalyStaleRate))
}
