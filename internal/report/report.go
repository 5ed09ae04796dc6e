// Package report renders record summaries as text, CSV and charts.
package report

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-analyze/charts"
	"github.com/shopspring/decimal"

	"gitlab.com/yelinaung/finmail/internal/models"
)

// ErrNothingToChart is returned when no record carries a USD amount.
var ErrNothingToChart = errors.New("no converted amounts to chart")

// FormatReport renders a summary as plain text.
func FormatReport(s models.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Records: %d\n", s.Count)
	fmt.Fprintf(&b, "Total: %s %s\n", models.ReferenceCurrency, s.TotalUSD.StringFixed(2))
	fmt.Fprintf(&b, "Currencies: %d\n", s.CurrencyCount)

	if len(s.ByType) > 0 {
		b.WriteString("By type:\n")
		for _, dt := range models.DocumentTypes {
			n, ok := s.ByType[dt]
			if !ok {
				continue
			}
			usd := s.USDByType[dt]
			fmt.Fprintf(&b, "- %s: %d (%s %s)\n", dt, n, models.ReferenceCurrency, usd.StringFixed(2))
		}
	}
	if len(s.ByStatus) > 0 {
		b.WriteString("By status:\n")
		for _, st := range models.Statuses {
			if n, ok := s.ByStatus[st]; ok {
				fmt.Fprintf(&b, "- %s: %d\n", st, n)
			}
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// RenderChart draws a pie chart of USD totals per document type and returns
// it as PNG bytes.
func RenderChart(s models.Summary, title string) ([]byte, error) {
	var (
		values []float64
		labels []string
	)
	for _, dt := range models.DocumentTypes {
		usd, ok := s.USDByType[dt]
		if !ok || !usd.IsPositive() {
			continue
		}
		labels = append(labels, string(dt))
		values = append(values, usd.InexactFloat64())
	}
	if len(values) == 0 {
		return nil, ErrNothingToChart
	}

	p, err := charts.PieRender(
		values,
		charts.TitleOptionFunc(charts.TitleOption{Text: title}),
		charts.LegendLabelsOptionFunc(labels),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create chart: %w", err)
	}

	buf, err := p.Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to render chart: %w", err)
	}
	return buf, nil
}

var csvHeader = []string{
	"Message ID", "Email Date", "Type", "Status", "Counterparty", "Description",
	"Amount", "Currency", "USD Amount", "Exchange Rate",
	"Issue Date", "Due Date", "Confidence", "Method", "Confirmed", "Anomalies",
}

// RecordsCSV writes records as CSV with a header row.
func RecordsCSV(recs []*models.FinancialRecord) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, r := range recs {
		if err := w.Write(csvRow(r)); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}

func csvRow(r *models.FinancialRecord) []string {
	kinds := make([]string, 0, len(r.Anomalies))
	for _, a := range r.Anomalies {
		kinds = append(kinds, string(a.Kind))
	}
	slices.Sort(kinds)

	return []string{
		r.MessageID,
		r.EmailDate.UTC().Format(time.DateTime),
		string(r.DocumentType),
		string(r.Status),
		r.Counterparty,
		r.Description,
		fixed(r.OriginalAmount, 2),
		r.OriginalCurrency,
		fixed(r.USDAmount, 2),
		fixed(r.ExchangeRate, 6),
		date(r.IssueDate),
		date(r.DueDate),
		strconv.FormatFloat(r.Confidence, 'f', 2, 64),
		string(r.AnalysisMethod),
		strconv.FormatBool(r.Confirmed),
		strings.Join(kinds, ";"),
	}
}

func fixed(d *decimal.Decimal, places int32) string {
	if d == nil {
		return ""
	}
	return d.StringFixed(places)
}

func date(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.DateOnly)
}

// Filename builds a dated file name such as "records_2024-03-05.csv".
func Filename(prefix, ext string, now time.Time) string {
	return fmt.Sprintf("%s_%s.%s", prefix, now.Format(time.DateOnly), strings.TrimPrefix(ext, "."))
}
