package extractor

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"gitlab.com/yelinaung/finmail/internal/models"
)

type mockAnalyzer struct {
	response string
	err      error
	delay    time.Duration
	prompt   string
}

func (m *mockAnalyzer) Analyze(ctx context.Context, prompt string) (string, error) {
	m.prompt = prompt
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return m.response, m.err
}

type panicTier struct{}

func (panicTier) Method() models.AnalysisMethod { return models.MethodLLM }
func (panicTier) Floor() float64 { return 0.7 }
func (panicTier) Attempt(context.Context, Input) (*models.FinancialRecord, error) {
	panic("boom")
}

func date(s string) time.Time {
	t, err := time.Parse(models.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

var invoiceInput = Input{
	Subject: "Invoice #4471 from Acme Corp",
	Body:    "Amount due: €250.00, due 2024-03-01",
	From:    "billing@acme.example",
}

func TestExtract_LLMTierAccepted(t *testing.T) {
	t.Parallel()

	analyzer := &mockAnalyzer{response: "```json\n" + `{
		"document_type": "invoice",
		"status": "payment_due",
		"counterparty": "Acme Corp",
		"amount": "250.00",
		"currency": "EUR",
		"due_date": "2024-03-01",
		"confidence": 0.92
	}` + "\n```"}
	e := New(Options{Analyzer: analyzer})

	res := e.Extract(context.Background(), invoiceInput)
	require.NoError(t, res.Err())
	rec := res.Record

	assert.Equal(t, models.MethodLLM, rec.AnalysisMethod)
	assert.Equal(t, models.DocumentInvoice, rec.DocumentType)
	assert.Equal(t, models.StatusPaymentDue, rec.Status)
	assert.Equal(t, "Acme Corp", rec.Counterparty)
	require.NotNil(t, rec.OriginalAmount)
	assert.Equal(t, "250.00", rec.OriginalAmount.StringFixed(2))
	assert.Equal(t, "EUR", rec.OriginalCurrency)
	require.NotNil(t, rec.DueDate)
	assert.Equal(t, date("2024-03-01"), *rec.DueDate)
	assert.InDelta(t, 0.92, rec.Confidence, 1e-9)
	assert.Equal(t, "Invoice from Acme Corp", rec.Description)
	assert.Empty(t, rec.Anomalies)
	assert.Contains(t, analyzer.prompt, "Invoice #4471 from Acme Corp")
}

func TestExtract_InvoiceWithoutAnalyzer(t *testing.T) {
	t.Parallel()

	res := New(Options{}).Extract(context.Background(), invoiceInput)
	rec := res.Record

	assert.Equal(t, models.MethodRule, rec.AnalysisMethod)
	assert.Equal(t, models.DocumentInvoice, rec.DocumentType)
	assert.Equal(t, models.StatusPaymentDue, rec.Status)
	assert.Equal(t, "Acme Corp", rec.Counterparty)
	require.NotNil(t, rec.OriginalAmount)
	assert.True(t, rec.OriginalAmount.Equal(decimal.RequireFromString("250.00")))
	assert.Equal(t, "EUR", rec.OriginalCurrency)
	require.NotNil(t, rec.DueDate)
	assert.Equal(t, date("2024-03-01"), *rec.DueDate)
	assert.InDelta(t, DefaultRuleCap, rec.Confidence, 1e-9)
	assert.Less(t, rec.Confidence, DefaultLLMFloor)
}

func TestExtract_FallsThroughTiers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		analyzer *mockAnalyzer
		input    Input
		want     []models.AnalysisMethod
	}{
		{
			name:     "malformed response",
			analyzer: &mockAnalyzer{response: "I think this is an invoice."},
			input:    invoiceInput,
			want:     []models.AnalysisMethod{models.MethodRule},
		},
		{
			name:     "truncated json",
			analyzer: &mockAnalyzer{response: `{"document_type": "invoice", "confidence": 0.9`},
			input:    invoiceInput,
			want:     []models.AnalysisMethod{models.MethodRule},
		},
		{
			name:     "collaborator down",
			analyzer: &mockAnalyzer{err: models.ErrCollaboratorUnavailable},
			input:    invoiceInput,
			want:     []models.AnalysisMethod{models.MethodRule},
		},
		{
			name:     "low confidence",
			analyzer: &mockAnalyzer{response: `{"document_type": "invoice", "status": "other", "confidence": 0.4}`},
			input:    invoiceInput,
			want:     []models.AnalysisMethod{models.MethodRule},
		},
		{
			name:     "confidence out of range",
			analyzer: &mockAnalyzer{response: `{"document_type": "invoice", "status": "other", "confidence": 7}`},
			input:    invoiceInput,
			want:     []models.AnalysisMethod{models.MethodRule},
		},
		{
			name:     "nothing recognizable",
			analyzer: &mockAnalyzer{response: "not json"},
			input:    Input{Subject: "hello", Body: "see you tomorrow"},
			want:     []models.AnalysisMethod{models.MethodSimple},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			res := New(Options{Analyzer: tt.analyzer}).Extract(context.Background(), tt.input)
			require.NotNil(t, res.Record)
			assert.Contains(t, tt.want, res.Record.AnalysisMethod)
			assert.Less(t, res.Record.Confidence, DefaultLLMFloor)
			assert.True(t, res.Degraded)
			assert.ErrorIs(t, res.Err(), models.ErrExtractionDegraded)
		})
	}
}

func TestExtract_LLMTimeout(t *testing.T) {
	t.Parallel()

	analyzer := &mockAnalyzer{response: `{"confidence": 0.99}`, delay: time.Second}
	e := New(Options{Analyzer: analyzer, LLMTimeout: 10 * time.Millisecond})

	res := e.Extract(context.Background(), invoiceInput)
	assert.Equal(t, models.MethodRule, res.Record.AnalysisMethod)
	require.NotEmpty(t, res.Attempts)
	assert.ErrorIs(t, res.Attempts[0], context.DeadlineExceeded)
}

func TestExtract_PanickingTierIsAbsorbed(t *testing.T) {
	t.Parallel()

	e := NewWithTiers(panicTier{}, SimpleTier{})
	res := e.Extract(context.Background(), Input{Subject: "Your order", Body: "Total $12.00"})

	assert.Equal(t, models.MethodSimple, res.Record.AnalysisMethod)
	assert.Equal(t, models.DocumentOrder, res.Record.DocumentType)
	assert.InDelta(t, 0.3, res.Record.Confidence, 1e-9)
	require.Len(t, res.Attempts, 1)
	assert.Contains(t, res.Attempts[0].Error(), "panicked")
}

func TestExtract_NoTiersYieldsUnknown(t *testing.T) {
	t.Parallel()

	res := NewWithTiers().Extract(context.Background(), Input{Subject: "x"})
	assert.Equal(t, models.DocumentUnknown, res.Record.DocumentType)
	assert.Equal(t, models.StatusOther, res.Record.Status)
	assert.Equal(t, models.MethodSimple, res.Record.AnalysisMethod)
	assert.Zero(t, res.Record.Confidence)
}

func TestExtract_DateInconsistency(t *testing.T) {
	t.Parallel()

	analyzer := &mockAnalyzer{response: `{
		"document_type": "invoice",
		"status": "payment_due",
		"counterparty": "Globex",
		"amount": 80,
		"currency": "usd",
		"issue_date": "2024-03-10",
		"due_date": "2024-03-01",
		"confidence": 0.88,
		"anomalies": ["due date precedes issue date"]
	}`}

	res := New(Options{Analyzer: analyzer}).Extract(context.Background(), Input{Subject: "Invoice 12"})
	rec := res.Record

	assert.Equal(t, models.MethodLLM, rec.AnalysisMethod)
	assert.True(t, rec.HasAnomaly(models.AnomalyDateInconsistency))
	assert.True(t, rec.HasAnomaly(models.AnomalyReported))
	require.NotNil(t, rec.IssueDate)
	require.NotNil(t, rec.DueDate)
	assert.Equal(t, date("2024-03-10"), *rec.IssueDate)
	assert.Equal(t, date("2024-03-01"), *rec.DueDate)
	assert.Equal(t, "USD", rec.OriginalCurrency)
}

func TestExtract_Properties(t *testing.T) {
	t.Parallel()

	methods := []models.AnalysisMethod{models.MethodLLM, models.MethodRule, models.MethodSimple}

	rapid.Check(t, func(rt *rapid.T) {
		in := Input{
			Subject: rapid.String().Draw(rt, "subject"),
			Body:    rapid.String().Draw(rt, "body"),
			From:    rapid.String().Draw(rt, "from"),
		}
		reply := rapid.String().Draw(rt, "reply")
		fail := rapid.Bool().Draw(rt, "fail")

		analyzer := &mockAnalyzer{response: reply}
		if fail {
			analyzer.err = errors.New("unavailable")
		}

		res := New(Options{Analyzer: analyzer}).Extract(context.Background(), in)
		rec := res.Record
		if rec == nil {
			rt.Fatal("nil record")
		}
		if rec.Confidence < 0 || rec.Confidence > 1 {
			rt.Fatalf("confidence %v out of range", rec.Confidence)
		}
		if !slices.Contains(methods, rec.AnalysisMethod) {
			rt.Fatalf("unexpected method %q", rec.AnalysisMethod)
		}
		if fail && rec.AnalysisMethod == models.MethodLLM {
			rt.Fatal("llm method reported although the analyzer failed")
		}
		if rec.AnalysisMethod != models.MethodLLM && rec.Confidence >= DefaultLLMFloor {
			rt.Fatalf("fallback confidence %v reaches the llm floor", rec.Confidence)
		}
		if _, ok := models.ParseDocumentType(string(rec.DocumentType)); !ok {
			rt.Fatalf("invalid document type %q", rec.DocumentType)
		}
	})
}
