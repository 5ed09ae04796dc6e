package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"gitlab.com/yelinaung/finmail/internal/database"
	"gitlab.com/yelinaung/finmail/internal/logger"
	"gitlab.com/yelinaung/finmail/internal/models"
)

// RecordStore persists financial records keyed by message identity.
type RecordStore interface {
	Upsert(ctx context.Context, rec *models.FinancialRecord) (models.UpsertOutcome, error)
	Get(ctx context.Context, messageID string) (*models.FinancialRecord, error)
	Query(ctx context.Context, filter models.RecordFilter) ([]*models.FinancialRecord, error)
	Summarize(ctx context.Context, filter models.RecordFilter) (models.Summary, error)
}

var (
	_ RecordStore = (*RecordRepository)(nil)
	_ RecordStore = (*MemoryRecordStore)(nil)
)

const recordColumns = `id, message_id, subject, sender, email_date, body_preview,
	document_type, status, counterparty, description,
	original_amount, original_currency, usd_amount, exchange_rate,
	issue_date, due_date, start_date,
	confidence, analysis_method, anomalies, confirmed, modification_history,
	raw_extraction, processed_at, updated_at`

// RecordRepository handles financial record database operations.
type RecordRepository struct {
	db database.DB
}

// NewRecordRepository creates a new RecordRepository.
func NewRecordRepository(db database.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

// Upsert inserts rec or merges it into the row with the same message ID.
// rec is updated with the stored ID, confirmation and history. A conflicting
// concurrent write is retried once.
func (r *RecordRepository) Upsert(ctx context.Context, rec *models.FinancialRecord) (models.UpsertOutcome, error) {
	if strings.TrimSpace(rec.MessageID) == "" {
		return "", fmt.Errorf("%w: message id is required", models.ErrValidation)
	}

	outcome, err := r.upsertOnce(ctx, rec)
	if err != nil && isRetryable(err) {
		logger.Log.Warn().Err(err).
			Str("message_id", logger.HashID(rec.MessageID)).
			Msg("Record upsert conflicted, retrying")
		outcome, err = r.upsertOnce(ctx, rec)
	}
	if err != nil {
		if isRetryable(err) {
			return "", fmt.Errorf("%w: %w", models.ErrPersistenceConflict, err)
		}
		return "", fmt.Errorf("failed to upsert record: %w", err)
	}
	return outcome, nil
}

func (r *RecordRepository) upsertOnce(ctx context.Context, rec *models.FinancialRecord) (models.UpsertOutcome, error) {
	var outcome models.UpsertOutcome
	err := database.InTx(ctx, r.db, func(tx pgx.Tx) error {
		var existing stored
		var id int64
		err := tx.QueryRow(ctx, `
			SELECT id, content_hash, confirmed, modification_history
			FROM financial_records WHERE message_id = $1
			FOR UPDATE
		`, rec.MessageID).Scan(&id, &existing.hash, &existing.confirmed, &existing.history)

		if errors.Is(err, pgx.ErrNoRows) {
			outcome = models.UpsertInserted
			return r.insert(ctx, tx, rec)
		}
		if err != nil {
			return fmt.Errorf("failed to lock record: %w", err)
		}

		hash, out := merge(existing, rec)
		outcome = out
		rec.ID = id
		if out == models.UpsertUnchanged {
			return nil
		}
		return r.update(ctx, tx, rec, hash)
	})
	return outcome, err
}

func (r *RecordRepository) insert(ctx context.Context, tx pgx.Tx, rec *models.FinancialRecord) error {
	if rec.ProcessedAt.IsZero() {
		rec.ProcessedAt = time.Now().UTC()
	}
	if rec.ModificationHistory == nil {
		rec.ModificationHistory = []models.Modification{}
	}

	// ON CONFLICT DO NOTHING turns a lost insert race into a retryable conflict.
	err := tx.QueryRow(ctx, `
		INSERT INTO financial_records (
			message_id, subject, sender, email_date, body_preview,
			document_type, status, counterparty, description,
			original_amount, original_currency, usd_amount, exchange_rate,
			issue_date, due_date, start_date,
			confidence, analysis_method, anomalies, confirmed, modification_history,
			raw_extraction, content_hash, processed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22, $23, $24)
		ON CONFLICT (message_id) DO NOTHING
		RETURNING id, updated_at
	`, rec.MessageID, rec.Subject, rec.From, nullTime(rec.EmailDate), rec.BodyPreview,
		rec.DocumentType, rec.Status, rec.Counterparty, rec.Description,
		rec.OriginalAmount, nullString(rec.OriginalCurrency), rec.USDAmount, rec.ExchangeRate,
		rec.IssueDate, rec.DueDate, rec.StartDate,
		rec.Confidence, rec.AnalysisMethod, anomaliesOrEmpty(rec.Anomalies), rec.Confirmed, rec.ModificationHistory,
		rawOrNil(rec.RawExtraction), ContentHash(rec), rec.ProcessedAt,
	).Scan(&rec.ID, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: record %s inserted concurrently", models.ErrPersistenceConflict, logger.HashID(rec.MessageID))
	}
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}
	return nil
}

func (r *RecordRepository) update(ctx context.Context, tx pgx.Tx, rec *models.FinancialRecord, hash string) error {
	if rec.ProcessedAt.IsZero() {
		rec.ProcessedAt = time.Now().UTC()
	}
	err := tx.QueryRow(ctx, `
		UPDATE financial_records SET
			subject = $2, sender = $3, email_date = $4, body_preview = $5,
			document_type = $6, status = $7, counterparty = $8, description = $9,
			original_amount = $10, original_currency = $11, usd_amount = $12, exchange_rate = $13,
			issue_date = $14, due_date = $15, start_date = $16,
			confidence = $17, analysis_method = $18, anomalies = $19, confirmed = $20,
			modification_history = $21, raw_extraction = $22, content_hash = $23,
			processed_at = $24, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`, rec.ID, rec.Subject, rec.From, nullTime(rec.EmailDate), rec.BodyPreview,
		rec.DocumentType, rec.Status, rec.Counterparty, rec.Description,
		rec.OriginalAmount, nullString(rec.OriginalCurrency), rec.USDAmount, rec.ExchangeRate,
		rec.IssueDate, rec.DueDate, rec.StartDate,
		rec.Confidence, rec.AnalysisMethod, anomaliesOrEmpty(rec.Anomalies), rec.Confirmed,
		rec.ModificationHistory, rawOrNil(rec.RawExtraction), hash, rec.ProcessedAt,
	).Scan(&rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update record: %w", err)
	}
	return nil
}

// Get retrieves a record by message ID.
func (r *RecordRepository) Get(ctx context.Context, messageID string) (*models.FinancialRecord, error) {
	rows, err := r.db.Query(ctx, `SELECT `+recordColumns+` FROM financial_records WHERE message_id = $1`, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	defer rows.Close()

	recs, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%w: %s", models.ErrRecordNotFound, logger.HashID(messageID))
	}
	return recs[0], nil
}

// Query returns records matching filter, newest e-mail first.
func (r *RecordRepository) Query(ctx context.Context, filter models.RecordFilter) ([]*models.FinancialRecord, error) {
	where, args := filterClause(filter)
	sql := `SELECT ` + recordColumns + ` FROM financial_records` + where +
		` ORDER BY email_date DESC NULLS LAST, id DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// Summarize aggregates records matching filter. The limit is ignored.
func (r *RecordRepository) Summarize(ctx context.Context, filter models.RecordFilter) (models.Summary, error) {
	where, args := filterClause(filter)
	summary := models.NewSummary()

	rows, err := r.db.Query(ctx, `
		SELECT document_type, status, COUNT(*), COALESCE(SUM(usd_amount), 0)
		FROM financial_records`+where+`
		GROUP BY document_type, status
	`, args...)
	if err != nil {
		return summary, fmt.Errorf("failed to summarize records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			dt    models.DocumentType
			st    models.Status
			count int
			total decimal.Decimal
		)
		if err := rows.Scan(&dt, &st, &count, &total); err != nil {
			return summary, fmt.Errorf("failed to scan summary row: %w", err)
		}
		summary.Count += count
		summary.TotalUSD = summary.TotalUSD.Add(total)
		summary.ByType[dt] += count
		summary.ByStatus[st] += count
		summary.USDByType[dt] = summary.USDByType[dt].Add(total)
	}
	if err := rows.Err(); err != nil {
		return summary, fmt.Errorf("error iterating summary: %w", err)
	}

	err = r.db.QueryRow(ctx, `
		SELECT COUNT(DISTINCT original_currency) FROM financial_records`+where,
		args...,
	).Scan(&summary.CurrencyCount)
	if err != nil {
		return summary, fmt.Errorf("failed to count currencies: %w", err)
	}

	return summary, nil
}

func filterClause(f models.RecordFilter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.DocumentType != nil {
		add("document_type = $%d", *f.DocumentType)
	}
	if f.Status != nil {
		add("status = $%d", *f.Status)
	}
	if f.Confirmed != nil {
		add("confirmed = $%d", *f.Confirmed)
	}
	if f.From != nil {
		add("email_date >= $%d", *f.From)
	}
	if f.To != nil {
		add("email_date < $%d", *f.To)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanRecords(rows pgx.Rows) ([]*models.FinancialRecord, error) {
	var recs []*models.FinancialRecord
	for rows.Next() {
		var (
			rec       models.FinancialRecord
			emailDate *time.Time
			currency  *string
			raw       []byte
		)
		if err := rows.Scan(
			&rec.ID, &rec.MessageID, &rec.Subject, &rec.From, &emailDate, &rec.BodyPreview,
			&rec.DocumentType, &rec.Status, &rec.Counterparty, &rec.Description,
			&rec.OriginalAmount, &currency, &rec.USDAmount, &rec.ExchangeRate,
			&rec.IssueDate, &rec.DueDate, &rec.StartDate,
			&rec.Confidence, &rec.AnalysisMethod, &rec.Anomalies, &rec.Confirmed, &rec.ModificationHistory,
			&raw, &rec.ProcessedAt, &rec.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		if emailDate != nil {
			rec.EmailDate = *emailDate
		}
		if currency != nil {
			rec.OriginalCurrency = *currency
		}
		if len(raw) > 0 {
			rec.RawExtraction = raw
		}
		recs = append(recs, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}
	return recs, nil
}

// isRetryable reports whether err is a write conflict a second attempt can resolve.
func isRetryable(err error) bool {
	if errors.Is(err, models.ErrPersistenceConflict) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "23505":
			return true
		}
	}
	return false
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func anomaliesOrEmpty(a []models.Anomaly) []models.Anomaly {
	if a == nil {
		return []models.Anomaly{}
	}
	return a
}

func rawOrNil(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
