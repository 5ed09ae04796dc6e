package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"gitlab.com/yelinaung/finmail/internal/exchange"
	"gitlab.com/yelinaung/finmail/internal/extractor"
	"gitlab.com/yelinaung/finmail/internal/logger"
	"gitlab.com/yelinaung/finmail/internal/models"
)

// Defaults applied when Config leaves a value unset.
const (
	DefaultAutoAcceptThreshold = 0.85
	DefaultWorkers             = 4
	DefaultIdleTimeout         = 24 * time.Hour
)

// Failure stages.
const (
	StageSearch  = "search"
	StagePersist = "persist"
	StagePresent = "present"
)

var errRunAborted = errors.New("run aborted after an earlier failure")

// Inbox is the mail search collaborator.
type Inbox interface {
	Search(ctx context.Context, query string) ([]models.RawMessage, error)
}

// Extractor turns one message into a candidate record. It never fails.
type Extractor interface {
	Extract(ctx context.Context, in extractor.Input) extractor.Result
}

// RecordWriter is the single write path for accepted records.
type RecordWriter interface {
	Upsert(ctx context.Context, rec *models.FinancialRecord) (models.UpsertOutcome, error)
}

// Config tunes the coordinator.
type Config struct {
	AutoAcceptThreshold float64
	Workers             int
	IdleTimeout         time.Duration
	ReferenceCurrency   string
}

// Failure is one step of a run that did not complete.
type Failure struct {
	Stage     string
	MessageID string
	Err       error
}

func (f Failure) Error() string {
	if f.MessageID == "" {
		return fmt.Sprintf("%s: %v", f.Stage, f.Err)
	}
	return fmt.Sprintf("%s %s: %v", f.Stage, logger.HashID(f.MessageID), f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

// RunReport describes the outcome of one Run.
type RunReport struct {
	SessionID string
	State     models.SessionState
	Processed int
	Confirmed int
	Degraded  int
	Persisted []*models.FinancialRecord
	Staged    []*models.PendingRecord
	Failures  []Failure
}

// Records returns persisted records followed by staged ones.
func (r *RunReport) Records() []*models.FinancialRecord {
	out := make([]*models.FinancialRecord, 0, len(r.Persisted)+len(r.Staged))
	out = append(out, r.Persisted...)
	for _, p := range r.Staged {
		out = append(out, p.Record)
	}
	return out
}

// Coordinator owns the session state machine. Collaborator calls are made
// without holding a session lock; the transition table guards against
// overlapping operations on one session.
type Coordinator struct {
	inbox     Inbox
	extractor Extractor
	converter exchange.Service
	records   RecordWriter
	store     Store
	cfg       Config

	now   func() time.Time
	newID func() string

	sessionLocks *keyedMutex
	recordLocks  *keyedMutex
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithIDGenerator overrides how session and pending IDs are minted.
func WithIDGenerator(newID func() string) Option {
	return func(c *Coordinator) { c.newID = newID }
}

// NewCoordinator wires the collaborators. converter may be nil, in which case
// every record with an amount is flagged as unconverted.
func NewCoordinator(
	inbox Inbox,
	ext Extractor,
	converter exchange.Service,
	records RecordWriter,
	store Store,
	cfg Config,
	opts ...Option,
) *Coordinator {
	if cfg.AutoAcceptThreshold <= 0 {
		cfg.AutoAcceptThreshold = DefaultAutoAcceptThreshold
	}
	if cfg.Workers < 1 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.ReferenceCurrency == "" {
		cfg.ReferenceCurrency = models.ReferenceCurrency
	}

	c := &Coordinator{
		inbox:        inbox,
		extractor:    ext,
		converter:    converter,
		records:      records,
		store:        store,
		cfg:          cfg,
		now:          time.Now,
		newID:        uuid.NewString,
		sessionLocks: newKeyedMutex(),
		recordLocks:  newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type candidate struct {
	record   *models.FinancialRecord
	degraded bool
}

// Run searches the inbox with query and processes the batch. An empty
// sessionID starts a new session. Collaborator outages are reported as
// Failures rather than errors; the returned error is reserved for a busy
// session, cancellation and session storage problems.
func (c *Coordinator) Run(ctx context.Context, sessionID, owner, query string) (*RunReport, error) {
	if sessionID == "" {
		sessionID = c.newID()
	}
	report := &RunReport{SessionID: sessionID}
	saveCtx := context.WithoutCancel(ctx)

	if err := c.begin(ctx, sessionID, owner); err != nil {
		return nil, err
	}

	log := logger.Log.With().Str("session", logger.HashID(sessionID)).Logger()
	log.Debug().Str("query", logger.SanitizeText(query)).Msg("Searching inbox")

	msgs, err := c.inbox.Search(ctx, query)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return c.abandon(saveCtx, report, 0, ctxErr)
		}
		report.Failures = append(report.Failures, Failure{
			Stage: StageSearch,
			Err:   fmt.Errorf("%w: %w", models.ErrCollaboratorUnavailable, err),
		})
		return c.fail(saveCtx, report, err, nil)
	}

	if len(msgs) == 0 {
		s, err := c.update(saveCtx, sessionID, func(s *models.Session) error {
			return transition(s, models.StateIdle)
		})
		if err != nil {
			return report, err
		}
		report.State = s.State
		log.Debug().Msg("No candidate messages")
		return report, nil
	}

	if _, err := c.update(saveCtx, sessionID, func(s *models.Session) error {
		return transition(s, models.StateExtracting)
	}); err != nil {
		return report, err
	}

	candidates, attempted, err := c.extractAll(ctx, msgs)
	if err != nil {
		return c.abandon(saveCtx, report, attempted, err)
	}
	report.Processed = len(msgs)

	var auto, review []*models.FinancialRecord
	for _, cand := range candidates {
		if cand.degraded {
			report.Degraded++
		}
		if cand.record.Confidence >= c.cfg.AutoAcceptThreshold {
			cand.record.Confirmed = true
			auto = append(auto, cand.record)
		} else {
			review = append(review, cand.record)
		}
	}

	if _, err := c.update(saveCtx, sessionID, func(s *models.Session) error {
		s.Counters.Processed += len(msgs)
		if len(auto) == 0 {
			return nil
		}
		return transition(s, models.StatePersisting)
	}); err != nil {
		return report, err
	}

	for i, rec := range auto {
		outcome, err := c.persist(ctx, rec)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				report.Confirmed = len(report.Persisted)
				return c.abandonPersisting(saveCtx, report, ctxErr)
			}
			report.Failures = append(report.Failures, Failure{Stage: StagePersist, MessageID: rec.MessageID, Err: err})
			for _, rest := range auto[i+1:] {
				report.Failures = append(report.Failures, Failure{Stage: StagePersist, MessageID: rest.MessageID, Err: errRunAborted})
			}
			for _, rest := range review {
				report.Failures = append(report.Failures, Failure{Stage: StagePresent, MessageID: rest.MessageID, Err: errRunAborted})
			}
			report.Confirmed = len(report.Persisted)
			return c.fail(saveCtx, report, err, func(s *models.Session) {
				s.Counters.Confirmed += len(report.Persisted)
			})
		}
		log.Debug().
			Str("message", logger.HashID(rec.MessageID)).
			Str("outcome", string(outcome)).
			Msg("Auto-accepted record persisted")
		report.Persisted = append(report.Persisted, rec)
	}
	report.Confirmed = len(report.Persisted)

	s, err := c.update(saveCtx, sessionID, func(s *models.Session) error {
		s.Counters.Confirmed += len(report.Persisted)
		if len(review) == 0 {
			return transition(s, models.StateIdle)
		}
		if s.State == models.StatePersisting {
			if err := transition(s, models.StateExtracting); err != nil {
				return err
			}
		}
		if err := transition(s, models.StatePresenting); err != nil {
			return err
		}
		report.Staged = c.stage(s, review)
		return transition(s, models.StateAwaitingConfirmation)
	})
	if err != nil {
		return report, err
	}
	report.State = s.State

	log.Info().
		Int("processed", report.Processed).
		Int("confirmed", report.Confirmed).
		Int("staged", len(report.Staged)).
		Int("degraded", report.Degraded).
		Msg("Session run completed")
	return report, nil
}

// stage appends review records as pending entries, skipping message
// identities that are already staged.
func (c *Coordinator) stage(s *models.Session, recs []*models.FinancialRecord) []*models.PendingRecord {
	now := c.now().UTC()
	var staged []*models.PendingRecord
	for _, rec := range recs {
		if pendingForMessage(s, rec.MessageID) != nil {
			continue
		}
		p := &models.PendingRecord{ID: c.newID(), Record: rec, StagedAt: now}
		s.Pending = append(s.Pending, p)
		staged = append(staged, &models.PendingRecord{ID: p.ID, Record: rec.Clone(), StagedAt: now})
	}
	return staged
}

func pendingForMessage(s *models.Session, messageID string) *models.PendingRecord {
	for _, p := range s.Pending {
		if p.Record.MessageID == messageID {
			return p
		}
	}
	return nil
}

// extractAll runs extraction and conversion with bounded parallelism. On
// cancellation every result is discarded and the number of messages that had
// started is returned with the error.
func (c *Coordinator) extractAll(ctx context.Context, msgs []models.RawMessage) ([]candidate, int, error) {
	results := make([]candidate, len(msgs))
	var attempted atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Workers)
	for i, msg := range msgs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			attempted.Add(1)
			cand, err := c.analyze(gctx, msg)
			if err != nil {
				return err
			}
			results[i] = cand
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, int(attempted.Load()), err
	}
	if err := ctx.Err(); err != nil {
		return nil, int(attempted.Load()), err
	}
	return results, len(msgs), nil
}

func (c *Coordinator) analyze(ctx context.Context, msg models.RawMessage) (candidate, error) {
	res := c.extractor.Extract(ctx, extractor.Input{
		Subject: msg.Subject,
		Body:    msg.Body,
		From:    msg.From,
	})
	if err := ctx.Err(); err != nil {
		return candidate{}, err
	}

	rec := res.Record
	rec.MessageID = msg.ID
	rec.Subject = msg.Subject
	rec.From = msg.From
	rec.EmailDate = msg.Date
	rec.BodyPreview = msg.Preview()

	if res.Degraded {
		logger.Log.Debug().Err(res.Err()).
			Str("message", logger.HashID(msg.ID)).
			Str("method", string(rec.AnalysisMethod)).
			Msg("Extraction used a fallback tier")
	}

	if err := c.convert(ctx, rec); err != nil {
		return candidate{}, err
	}
	return candidate{record: rec, degraded: res.Degraded}, nil
}

// convert fills the reference-currency fields. Only cancellation is returned
// as an error; an unavailable rate is recorded as an anomaly.
func (c *Coordinator) convert(ctx context.Context, rec *models.FinancialRecord) error {
	rec.ClearConversion()
	dropConversionAnomalies(rec)
	if !rec.HasAmount() {
		return nil
	}
	if c.converter == nil {
		rec.AddAnomaly(models.AnomalyConversionMissing, "no exchange rate source configured")
		return nil
	}

	res, err := c.converter.Convert(ctx, *rec.OriginalAmount, rec.OriginalCurrency, c.cfg.ReferenceCurrency)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		logger.Log.Warn().Err(err).
			Str("message", logger.HashID(rec.MessageID)).
			Str("currency", rec.OriginalCurrency).
			Msg("Conversion unavailable")
		rec.AddAnomaly(models.AnomalyConversionMissing,
			fmt.Sprintf("no %s to %s rate available", rec.OriginalCurrency, c.cfg.ReferenceCurrency))
		return nil
	}

	amount, rate := res.Amount, res.Rate
	rec.USDAmount = &amount
	rec.ExchangeRate = &rate
	if res.Stale {
		rec.AddAnomaly(models.AnomalyStaleRate,
			fmt.Sprintf("%s rate from %s dated %s may be stale", rec.OriginalCurrency, res.Source, res.RateDate.Format(models.DateLayout)))
	}
	return nil
}

func dropConversionAnomalies(rec *models.FinancialRecord) {
	kept := rec.Anomalies[:0]
	for _, a := range rec.Anomalies {
		if a.Kind != models.AnomalyStaleRate && a.Kind != models.AnomalyConversionMissing {
			kept = append(kept, a)
		}
	}
	rec.Anomalies = kept
}

// persist writes rec while holding the lock for its message identity. A
// failed write is retried once unless ctx is already done.
func (c *Coordinator) persist(ctx context.Context, rec *models.FinancialRecord) (models.UpsertOutcome, error) {
	unlock := c.recordLocks.Lock(rec.MessageID)
	defer unlock()

	outcome, err := c.records.Upsert(ctx, rec)
	if err != nil && ctx.Err() == nil {
		logger.Log.Warn().Err(err).
			Str("message", logger.HashID(rec.MessageID)).
			Msg("Record write failed, retrying")
		outcome, err = c.records.Upsert(ctx, rec)
	}
	if err != nil {
		return "", fmt.Errorf("failed to upsert record: %w", err)
	}
	return outcome, nil
}

// Confirm persists a staged record as confirmed. If the write fails the
// record stays staged and the session returns to awaiting confirmation.
func (c *Coordinator) Confirm(ctx context.Context, sessionID, pendingID string) (*models.FinancialRecord, models.UpsertOutcome, error) {
	var rec *models.FinancialRecord
	if _, err := c.update(ctx, sessionID, func(s *models.Session) error {
		p, err := awaitingPending(s, pendingID)
		if err != nil {
			return err
		}
		rec = p.Record.Clone()
		return transition(s, models.StatePersisting)
	}); err != nil {
		return nil, "", err
	}

	rec.Confirmed = true
	outcome, perr := c.persist(ctx, rec)

	_, err := c.update(context.WithoutCancel(ctx), sessionID, func(s *models.Session) error {
		if perr != nil {
			return transition(s, models.StateAwaitingConfirmation)
		}
		s.RemovePending(pendingID)
		s.Counters.Confirmed++
		if len(s.Pending) == 0 {
			return transition(s, models.StateIdle)
		}
		return transition(s, models.StateAwaitingConfirmation)
	})
	if perr != nil {
		return nil, "", perr
	}
	if err != nil {
		return rec, outcome, err
	}

	logger.Log.Info().
		Str("session", logger.HashID(sessionID)).
		Str("message", logger.HashID(rec.MessageID)).
		Str("outcome", string(outcome)).
		Msg("Record confirmed")
	return rec, outcome, nil
}

// Modify edits one field of a staged record and appends an audit entry.
// Invalid input returns ErrValidation and leaves the session untouched.
// Editing the amount or currency re-runs the conversion.
func (c *Coordinator) Modify(ctx context.Context, sessionID, pendingID, field, value, reason string) (*models.FinancialRecord, error) {
	var (
		edited  *models.FinancialRecord
		oldVal  string
		baseLen int
	)
	if err := c.view(ctx, sessionID, func(s *models.Session) error {
		p, err := awaitingPending(s, pendingID)
		if err != nil {
			return err
		}
		edited = p.Record.Clone()
		baseLen = len(p.Record.ModificationHistory)
		oldVal, err = edited.SetField(field, value)
		return err
	}); err != nil {
		return nil, err
	}

	newVal, err := edited.FieldValue(field)
	if err != nil {
		return nil, err
	}
	if newVal == oldVal {
		return edited, nil
	}

	if models.AffectsConversion(field) {
		if err := c.convert(ctx, edited); err != nil {
			return nil, err
		}
	}
	extractor.RefreshAnomalies(edited)
	edited.ModificationHistory = append(edited.ModificationHistory, models.Modification{
		Field:     field,
		OldValue:  oldVal,
		NewValue:  newVal,
		Reason:    reason,
		Timestamp: c.now().UTC(),
	})

	if _, err := c.update(context.WithoutCancel(ctx), sessionID, func(s *models.Session) error {
		p, err := awaitingPending(s, pendingID)
		if err != nil {
			return err
		}
		if len(p.Record.ModificationHistory) != baseLen {
			return fmt.Errorf("%w: pending record %s changed during edit", models.ErrSessionBusy, pendingID)
		}
		p.Record = edited
		if !p.Modified {
			p.Modified = true
			s.Counters.Modified++
		}
		if err := transition(s, models.StatePresenting); err != nil {
			return err
		}
		return transition(s, models.StateAwaitingConfirmation)
	}); err != nil {
		return nil, err
	}

	logger.Log.Info().
		Str("session", logger.HashID(sessionID)).
		Str("field", field).
		Msg("Pending record modified")
	return edited.Clone(), nil
}

// Reject discards a staged record without persisting it.
func (c *Coordinator) Reject(ctx context.Context, sessionID, pendingID string) error {
	_, err := c.update(ctx, sessionID, func(s *models.Session) error {
		if _, err := awaitingPending(s, pendingID); err != nil {
			return err
		}
		s.RemovePending(pendingID)
		s.Counters.Rejected++
		if len(s.Pending) == 0 {
			return transition(s, models.StateIdle)
		}
		return nil
	})
	return err
}

// Pending returns copies of the staged records of a session.
func (c *Coordinator) Pending(ctx context.Context, sessionID string) ([]*models.PendingRecord, error) {
	s, err := c.Snapshot(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.Pending, nil
}

// Snapshot returns a copy of the session.
func (c *Coordinator) Snapshot(ctx context.Context, sessionID string) (*models.Session, error) {
	var snap *models.Session
	err := c.view(ctx, sessionID, func(s *models.Session) error {
		snap = s.Clone()
		return nil
	})
	return snap, err
}

// Expired lists idle sessions whose inactivity window has passed. Sessions
// in any other state are never reported.
func (c *Coordinator) Expired(ctx context.Context, now time.Time) ([]*models.Session, error) {
	all, err := c.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	var out []*models.Session
	for _, s := range all {
		if expired(s, now) {
			out = append(out, s)
		}
	}
	return out, nil
}

// Reap deletes expired idle sessions and returns how many were removed.
func (c *Coordinator) Reap(ctx context.Context, now time.Time) (int, error) {
	candidates, err := c.Expired(ctx, now)
	if err != nil {
		return 0, err
	}

	reaped := 0
	for _, cand := range candidates {
		removed, err := c.reapOne(ctx, cand.ID, now)
		if err != nil {
			return reaped, err
		}
		if removed {
			reaped++
		}
	}
	if reaped > 0 {
		logger.Log.Info().Int("count", reaped).Msg("Reaped idle sessions")
	}
	return reaped, nil
}

func (c *Coordinator) reapOne(ctx context.Context, id string, now time.Time) (bool, error) {
	unlock := c.sessionLocks.Lock(id)
	defer unlock()

	s, err := c.store.Get(ctx, id)
	if errors.Is(err, models.ErrSessionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load session: %w", err)
	}
	if !expired(s, now) {
		return false, nil
	}
	if err := c.store.Delete(ctx, id); err != nil {
		return false, fmt.Errorf("failed to delete session: %w", err)
	}
	return true, nil
}

func expired(s *models.Session, now time.Time) bool {
	return s.State == models.StateIdle && !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// awaitingPending checks that s accepts a confirmation action and returns
// the staged record.
func awaitingPending(s *models.Session, pendingID string) (*models.PendingRecord, error) {
	switch {
	case s.State == models.StateAwaitingConfirmation:
	case inFlight(s.State):
		return nil, fmt.Errorf("%w: session is %s", models.ErrSessionBusy, s.State)
	default:
		return nil, fmt.Errorf("%w: session is %s, nothing awaits confirmation", models.ErrIllegalTransition, s.State)
	}
	p := s.FindPending(pendingID)
	if p == nil {
		return nil, fmt.Errorf("%w: %s", models.ErrPendingNotFound, pendingID)
	}
	return p, nil
}

// begin loads or creates the session and moves it to searching.
func (c *Coordinator) begin(ctx context.Context, id, owner string) error {
	unlock := c.sessionLocks.Lock(id)
	defer unlock()

	s, err := c.store.Get(ctx, id)
	switch {
	case errors.Is(err, models.ErrSessionNotFound):
		s = &models.Session{
			ID:        id,
			Owner:     owner,
			State:     models.StateIdle,
			CreatedAt: c.now().UTC(),
		}
	case err != nil:
		return fmt.Errorf("failed to load session: %w", err)
	case owner != "" && s.Owner != owner:
		return fmt.Errorf("%w: session %s belongs to another owner", models.ErrValidation, id)
	}

	if s.State == models.StateError {
		if err := transition(s, models.StateIdle); err != nil {
			return err
		}
	}
	if s.State != models.StateIdle {
		return fmt.Errorf("%w: session is %s", models.ErrSessionBusy, s.State)
	}
	if err := transition(s, models.StateSearching); err != nil {
		return err
	}
	s.LastError = ""
	return c.save(ctx, s)
}

// fail records cause on the session, passes through the error state and
// returns the session to idle.
func (c *Coordinator) fail(ctx context.Context, report *RunReport, cause error, apply func(*models.Session)) (*RunReport, error) {
	logger.Log.Error().Err(cause).
		Str("session", logger.HashID(report.SessionID)).
		Int("failures", len(report.Failures)).
		Msg("Session run failed")

	if _, err := c.update(ctx, report.SessionID, func(s *models.Session) error {
		if apply != nil {
			apply(s)
		}
		s.LastError = cause.Error()
		return transition(s, models.StateError)
	}); err != nil {
		return report, err
	}
	s, err := c.update(ctx, report.SessionID, func(s *models.Session) error {
		return transition(s, models.StateIdle)
	})
	if err != nil {
		return report, err
	}
	report.State = s.State
	return report, nil
}

// abandon handles cancellation before anything was persisted.
func (c *Coordinator) abandon(ctx context.Context, report *RunReport, attempted int, cause error) (*RunReport, error) {
	report.Processed = attempted
	s, err := c.update(ctx, report.SessionID, func(s *models.Session) error {
		s.Counters.Processed += attempted
		return transition(s, models.StateIdle)
	})
	if err == nil {
		report.State = s.State
	}
	return report, cause
}

// abandonPersisting handles cancellation while auto-accepted records were
// being written. Records already persisted are kept and counted.
func (c *Coordinator) abandonPersisting(ctx context.Context, report *RunReport, cause error) (*RunReport, error) {
	s, err := c.update(ctx, report.SessionID, func(s *models.Session) error {
		s.Counters.Confirmed += len(report.Persisted)
		return transition(s, models.StateIdle)
	})
	if err == nil {
		report.State = s.State
	}
	return report, cause
}

// update applies fn to the stored session under its lock and saves it.
func (c *Coordinator) update(ctx context.Context, id string, fn func(*models.Session) error) (*models.Session, error) {
	unlock := c.sessionLocks.Lock(id)
	defer unlock()

	s, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(s); err != nil {
		return nil, err
	}
	if err := c.save(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// view applies fn to the stored session under its lock without saving.
func (c *Coordinator) view(ctx context.Context, id string, fn func(*models.Session) error) error {
	unlock := c.sessionLocks.Lock(id)
	defer unlock()

	s, err := c.store.Get(ctx, id)
	if err != nil {
		return err
	}
	return fn(s)
}

func (c *Coordinator) save(ctx context.Context, s *models.Session) error {
	now := c.now().UTC()
	s.LastActivity = now
	s.ExpiresAt = now.Add(c.cfg.IdleTimeout)
	if err := c.store.Save(ctx, s); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}
