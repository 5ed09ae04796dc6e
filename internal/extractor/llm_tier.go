package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"gitlab.com/yelinaung/finmail/internal/models"
)

var (
	errNoJSONObject      = errors.New("no JSON object in response")
	errMissingConfidence = errors.New("response has no confidence")
)

// LLMTier delegates extraction to an Analyzer and validates its reply.
type LLMTier struct {
	analyzer Analyzer
	floor    float64
	timeout  time.Duration
}

// NewLLMTier returns a tier that calls analyzer under timeout. A zero timeout
// leaves the caller's deadline in charge.
func NewLLMTier(analyzer Analyzer, floor float64, timeout time.Duration) *LLMTier {
	return &LLMTier{analyzer: analyzer, floor: floor, timeout: timeout}
}

// Method implements Tier.
func (t *LLMTier) Method() models.AnalysisMethod { return models.MethodLLM }

// Floor implements Tier.
func (t *LLMTier) Floor() float64 { return t.floor }

// Attempt implements Tier.
func (t *LLMTier) Attempt(ctx context.Context, in Input) (*models.FinancialRecord, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	text, err := t.analyzer.Analyze(ctx, BuildPrompt(in))
	if err != nil {
		return nil, fmt.Errorf("failed to analyze message: %w", err)
	}
	return ParseLLMResponse(text, in)
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type llmResponse struct {
	DocumentType string       `json:"document_type"`
	Status       string       `json:"status"`
	Counterparty string       `json:"counterparty"`
	Amount       flexString   `json:"amount"`
	Currency     string       `json:"currency"`
	IssueDate    string       `json:"issue_date"`
	DueDate      string       `json:"due_date"`
	StartDate    string       `json:"start_date"`
	Description  string       `json:"description"`
	Confidence   *json.Number `json:"confidence"`
	Anomalies    []string     `json:"anomalies"`
}

// cleanResponse strips markdown fences and returns the span from the first
// '{' to the last '}'.
func cleanResponse(text string) (string, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", errNoJSONObject
	}
	return text[start : end+1], nil
}

// ParseLLMResponse validates a model reply. Malformed JSON, a missing or
// out-of-range confidence is an error; unreadable optional fields are dropped.
func ParseLLMResponse(text string, in Input) (*models.FinancialRecord, error) {
	raw, err := cleanResponse(text)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var resp llmResponse
	if err := dec.Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to parse analysis response: %w", err)
	}

	if resp.Confidence == nil {
		return nil, errMissingConfidence
	}
	confidence, err := resp.Confidence.Float64()
	if err != nil || math.IsNaN(confidence) || confidence < 0 || confidence > 1 {
		return nil, fmt.Errorf("confidence %q is not within [0, 1]", resp.Confidence.String())
	}

	rec := &models.FinancialRecord{
		Counterparty:  strings.TrimSpace(resp.Counterparty),
		Description:   strings.TrimSpace(resp.Description),
		Confidence:    confidence,
		RawExtraction: json.RawMessage(raw),
	}

	dt, ok := models.ParseDocumentType(resp.DocumentType)
	if !ok || dt == models.DocumentUnknown {
		if inferred, found := classifySubject(in.Subject); found {
			dt = inferred
		} else if in.TypeHint != "" {
			dt = in.TypeHint
		}
	}
	rec.DocumentType = dt
	rec.Status, _ = models.ParseStatus(resp.Status)

	if rec.Counterparty == "" {
		rec.Counterparty = counterpartyFromSubject(in.Subject)
	}

	if amount := strings.TrimSpace(string(resp.Amount)); amount != "" {
		if d, ok := parseNumber(strings.TrimLeft(amount, "$€£¥ ")); ok {
			rec.OriginalAmount = &d
		}
	}
	rec.OriginalCurrency = NormalizeCurrencyToken(resp.Currency)
	if rec.OriginalAmount == nil {
		rec.OriginalCurrency = ""
	}

	rec.IssueDate = optionalDate(resp.IssueDate)
	rec.DueDate = optionalDate(resp.DueDate)
	rec.StartDate = optionalDate(resp.StartDate)

	for _, note := range resp.Anomalies {
		if note = strings.TrimSpace(note); note != "" {
			rec.Anomalies = append(rec.Anomalies, models.Anomaly{Kind: models.AnomalyReported, Detail: note})
		}
	}

	return rec, nil
}

func optionalDate(s string) *time.Time {
	if t, ok := ParseDate(s); ok {
		return &t
	}
	return nil
}
