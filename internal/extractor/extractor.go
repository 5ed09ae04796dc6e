// Package extractor turns raw financial e-mails into candidate records using an
// ordered list of extraction tiers.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"gitlab.com/yelinaung/finmail/internal/logger"
	"gitlab.com/yelinaung/finmail/internal/models"
)

// Default tier floors.
const (
	DefaultLLMFloor  = 0.7
	DefaultRuleFloor = 0.35
	DefaultRuleCap   = 0.65
)

// Input is the message content handed to every tier.
type Input struct {
	Subject  string
	Body     string
	From     string
	TypeHint models.DocumentType
}

// Analyzer is the inference collaborator. It receives a complete prompt and
// returns the model's raw text reply.
type Analyzer interface {
	Analyze(ctx context.Context, prompt string) (string, error)
}

// Tier is one extraction strategy. A tier returns a candidate or an error;
// the extractor accepts the candidate only when its confidence reaches Floor.
type Tier interface {
	Method() models.AnalysisMethod
	Floor() float64
	Attempt(ctx context.Context, in Input) (*models.FinancialRecord, error)
}

// Result is the outcome of one extraction.
type Result struct {
	Record *models.FinancialRecord
	// Degraded is set when a higher tier was skipped or rejected.
	Degraded bool
	// Attempts holds why each rejected tier fell through.
	Attempts []error
}

// Err returns models.ErrExtractionDegraded when a fallback tier produced the
// record. It is informational only.
func (r Result) Err() error {
	if !r.Degraded {
		return nil
	}
	return fmt.Errorf("%w: %w", models.ErrExtractionDegraded, errors.Join(r.Attempts...))
}

// Options configure the default tier list.
type Options struct {
	Analyzer   Analyzer
	LLMTimeout time.Duration
	LLMFloor   float64
	RuleFloor  float64
	RuleCap    float64
}

// Extractor runs tiers in order until one produces an acceptable candidate.
type Extractor struct {
	tiers []Tier
}

// New builds the LLM, rule and simple tiers. The LLM tier is omitted when no
// analyzer is configured.
func New(opts Options) *Extractor {
	if opts.LLMFloor == 0 {
		opts.LLMFloor = DefaultLLMFloor
	}
	if opts.RuleFloor == 0 {
		opts.RuleFloor = DefaultRuleFloor
	}
	if opts.RuleCap == 0 {
		opts.RuleCap = DefaultRuleCap
	}

	tiers := make([]Tier, 0, 3)
	if opts.Analyzer != nil {
		tiers = append(tiers, NewLLMTier(opts.Analyzer, opts.LLMFloor, opts.LLMTimeout))
	}
	tiers = append(tiers, NewRuleTier(opts.RuleFloor, opts.RuleCap), SimpleTier{})
	return NewWithTiers(tiers...)
}

// NewWithTiers builds an extractor over an explicit tier list.
func NewWithTiers(tiers ...Tier) *Extractor {
	return &Extractor{tiers: tiers}
}

// Extract never fails. When every tier is rejected the result is an unknown
// document with zero confidence attributed to the simple method.
func (e *Extractor) Extract(ctx context.Context, in Input) Result {
	var res Result

	for i, tier := range e.tiers {
		rec, err := attempt(ctx, tier, in)
		if err == nil && !(rec.Confidence >= tier.Floor()) {
			err = fmt.Errorf("confidence %.2f below floor %.2f", rec.Confidence, tier.Floor())
		}
		if err != nil {
			res.Attempts = append(res.Attempts, fmt.Errorf("%s tier: %w", tier.Method(), err))
			logger.Log.Debug().Err(err).
				Str("tier", string(tier.Method())).
				Str("subject", logger.SanitizeText(in.Subject)).
				Msg("Extraction tier rejected")
			continue
		}
		rec.AnalysisMethod = tier.Method()
		res.Record = rec
		res.Degraded = i > 0 || len(res.Attempts) > 0
		break
	}

	if res.Record == nil {
		res.Degraded = true
		res.Record = &models.FinancialRecord{
			DocumentType:   models.DocumentUnknown,
			Status:         models.StatusOther,
			AnalysisMethod: models.MethodSimple,
		}
	}

	finalize(res.Record)
	return res
}

// attempt runs one tier and converts a panic into an error.
func attempt(ctx context.Context, tier Tier, in Input) (rec *models.FinancialRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			rec = nil
			err = fmt.Errorf("tier panicked: %v", r)
		}
	}()
	rec, err = tier.Attempt(ctx, in)
	if err == nil && rec == nil {
		err = errors.New("tier returned no candidate")
	}
	return rec, err
}

func finalize(r *models.FinancialRecord) {
	r.DocumentType, _ = models.ParseDocumentType(string(r.DocumentType))
	r.Status, _ = models.ParseStatus(string(r.Status))
	if math.IsNaN(r.Confidence) {
		r.Confidence = 0
	}
	r.Confidence = math.Max(0, math.Min(1, r.Confidence))
	r.Counterparty = strings.TrimSpace(r.Counterparty)
	if strings.TrimSpace(r.Description) == "" {
		r.Description = describe(r.DocumentType, r.Counterparty)
	}
	if r.Anomalies == nil {
		r.Anomalies = []models.Anomaly{}
	}
	DetectAnomalies(r)
}

func describe(dt models.DocumentType, counterparty string) string {
	label := strings.ToUpper(string(dt[:1])) + string(dt[1:])
	if counterparty == "" {
		return label
	}
	return label + " from " + counterparty
}
