// Package pipeline exposes the two top-level operations: processing a batch
// of inbox messages and reporting over stored records.
package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"gitlab.com/yelinaung/finmail/internal/logger"
	"gitlab.com/yelinaung/finmail/internal/models"
	"gitlab.com/yelinaung/finmail/internal/session"
)

const instrumentationName = "gitlab.com/yelinaung/finmail/internal/pipeline"

// Runner drives one session run.
type Runner interface {
	Run(ctx context.Context, sessionID, owner, query string) (*session.RunReport, error)
}

// Summarizer aggregates stored records.
type Summarizer interface {
	Summarize(ctx context.Context, filter models.RecordFilter) (models.Summary, error)
}

// Notifier delivers a plain-text batch summary.
type Notifier interface {
	Notify(ctx context.Context, recipient, text string) error
}

// Result is the outcome of Process.
type Result struct {
	SessionID      string
	State          models.SessionState
	ProcessedCount int
	ConfirmedCount int
	PendingCount   int
	DegradedCount  int
	Records        []*models.FinancialRecord
	Pending        []*models.PendingRecord
	Failures       []session.Failure
}

// Orchestrator ties a session run to notification and telemetry.
type Orchestrator struct {
	runner    Runner
	records   Summarizer
	notifier  Notifier
	recipient string

	tracer    trace.Tracer
	processed metric.Int64Counter
	confirmed metric.Int64Counter
	pending   metric.Int64Counter
	failures  metric.Int64Counter
}

// New creates an Orchestrator. notifier may be nil.
func New(runner Runner, records Summarizer, notifier Notifier, recipient string) *Orchestrator {
	o := &Orchestrator{
		runner:    runner,
		records:   records,
		notifier:  notifier,
		recipient: recipient,
		tracer:    otel.Tracer(instrumentationName),
	}

	meter := otel.Meter(instrumentationName)
	o.processed, _ = meter.Int64Counter("finmail.pipeline.messages_processed",
		metric.WithDescription("Messages attempted by pipeline runs"))
	o.confirmed, _ = meter.Int64Counter("finmail.pipeline.records_confirmed",
		metric.WithDescription("Records persisted as confirmed during runs"))
	o.pending, _ = meter.Int64Counter("finmail.pipeline.records_staged",
		metric.WithDescription("Records staged for confirmation"))
	o.failures, _ = meter.Int64Counter("finmail.pipeline.failures",
		metric.WithDescription("Run failures by stage"))

	return o
}

// Process searches the inbox with criteria and runs the batch through the
// session. A result is returned whenever the run started, including on
// cancellation, so callers see partial progress.
func (o *Orchestrator) Process(ctx context.Context, sessionID, owner string, criteria Criteria) (*Result, error) {
	query := BuildQuery(criteria)
	ctx, span := o.tracer.Start(ctx, "pipeline.Process",
		trace.WithAttributes(attribute.String("session", logger.HashID(sessionID))))
	defer span.End()

	report, err := o.runner.Run(ctx, sessionID, owner, query)
	if report == nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "run did not start")
		return nil, err
	}

	res := &Result{
		SessionID:      report.SessionID,
		State:          report.State,
		ProcessedCount: report.Processed,
		ConfirmedCount: report.Confirmed,
		PendingCount:   len(report.Staged),
		DegradedCount:  report.Degraded,
		Records:        report.Records(),
		Pending:        report.Staged,
		Failures:       report.Failures,
	}
	o.record(ctx, res)

	span.SetAttributes(
		attribute.Int("processed", res.ProcessedCount),
		attribute.Int("confirmed", res.ConfirmedCount),
		attribute.Int("pending", res.PendingCount),
		attribute.Int("failures", len(res.Failures)),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "run interrupted")
		return res, err
	}

	o.notify(ctx, res)
	return res, nil
}

// Report summarizes stored records matching filter.
func (o *Orchestrator) Report(ctx context.Context, filter models.RecordFilter) (models.Summary, error) {
	ctx, span := o.tracer.Start(ctx, "pipeline.Report")
	defer span.End()

	summary, err := o.records.Summarize(ctx, filter)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "summarize failed")
		return models.Summary{}, fmt.Errorf("failed to summarize records: %w", err)
	}
	return summary, nil
}

func (o *Orchestrator) record(ctx context.Context, res *Result) {
	o.processed.Add(ctx, int64(res.ProcessedCount))
	o.confirmed.Add(ctx, int64(res.ConfirmedCount))
	o.pending.Add(ctx, int64(res.PendingCount))
	for _, f := range res.Failures {
		o.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", f.Stage)))
	}
}

// notify sends the batch summary. Failures are logged and otherwise ignored.
func (o *Orchestrator) notify(ctx context.Context, res *Result) {
	if o.notifier == nil || res.ProcessedCount == 0 && len(res.Failures) == 0 {
		return
	}
	if err := o.notifier.Notify(ctx, o.recipient, FormatSummary(res)); err != nil {
		logger.Log.Warn().Err(err).
			Str("session", logger.HashID(res.SessionID)).
			Msg("Failed to send batch notification")
	}
}

// FormatSummary renders a plain-text batch summary.
func FormatSummary(res *Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Processed %d message(s): %d confirmed, %d awaiting confirmation.",
		res.ProcessedCount, res.ConfirmedCount, res.PendingCount)

	total := decimal.Zero
	unconverted := 0
	for _, rec := range res.Records {
		if !rec.Confirmed {
			continue
		}
		if rec.USDAmount == nil {
			if rec.OriginalAmount != nil {
				unconverted++
			}
			continue
		}
		total = total.Add(*rec.USDAmount)
	}
	if res.ConfirmedCount > 0 {
		fmt.Fprintf(&b, "\nConfirmed total: %s %s", models.ReferenceCurrency, total.StringFixed(2))
		if unconverted > 0 {
			fmt.Fprintf(&b, " (%d without exchange rate)", unconverted)
		}
	}

	if len(res.Pending) > 0 {
		b.WriteString("\n" + FormatPending(res.Pending))
	}

	if len(res.Failures) > 0 {
		fmt.Fprintf(&b, "\n%d step(s) failed:", len(res.Failures))
		for _, f := range res.Failures {
			fmt.Fprintf(&b, "\n- %s", f.Stage)
			if f.Err != nil {
				fmt.Fprintf(&b, ": %v", f.Err)
			}
		}
	}
	return b.String()
}

// FormatPending renders one line per staged record, keyed by pending ID.
func FormatPending(pending []*models.PendingRecord) string {
	lines := make([]string, 0, len(pending))
	for _, p := range pending {
		line := fmt.Sprintf("- [%s] %s", p.ID, describe(p.Record))
		if p.Modified {
			line += " (modified)"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func describe(rec *models.FinancialRecord) string {
	parts := []string{string(rec.DocumentType)}
	if rec.Counterparty != "" {
		parts = append(parts, rec.Counterparty)
	}
	if rec.OriginalAmount != nil {
		parts = append(parts, rec.OriginalAmount.StringFixed(2)+" "+rec.OriginalCurrency)
	}
	if rec.DueDate != nil {
		parts = append(parts, "due "+rec.DueDate.Format(models.DateLayout))
	}
	parts = append(parts, fmt.Sprintf("confidence %.2f", rec.Confidence))
	return strings.Join(parts, ", ")
}
