package database

import (
	"context"
	"fmt"
)

// migrations are applied in order; every statement is idempotent.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS financial_records (
		id BIGSERIAL PRIMARY KEY,
		message_id TEXT NOT NULL UNIQUE,
		subject TEXT NOT NULL DEFAULT '',
		sender TEXT NOT NULL DEFAULT '',
		email_date TIMESTAMPTZ,
		body_preview TEXT NOT NULL DEFAULT '',
		document_type TEXT NOT NULL DEFAULT 'unknown',
		status TEXT NOT NULL DEFAULT 'other',
		counterparty TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		original_amount NUMERIC(20, 4),
		original_currency TEXT,
		usd_amount NUMERIC(20, 2),
		exchange_rate NUMERIC(24, 10),
		issue_date DATE,
		due_date DATE,
		start_date DATE,
		confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
		analysis_method TEXT NOT NULL DEFAULT 'simple',
		anomalies JSONB NOT NULL DEFAULT '[]',
		confirmed BOOLEAN NOT NULL DEFAULT FALSE,
		modification_history JSONB NOT NULL DEFAULT '[]',
		raw_extraction JSONB,
		content_hash TEXT NOT NULL DEFAULT '',
		processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_financial_records_document_type ON financial_records(document_type)`,
	`CREATE INDEX IF NOT EXISTS idx_financial_records_status ON financial_records(status)`,
	`CREATE INDEX IF NOT EXISTS idx_financial_records_confirmed ON financial_records(confirmed)`,
	`CREATE INDEX IF NOT EXISTS idx_financial_records_email_date ON financial_records(email_date)`,
	`CREATE INDEX IF NOT EXISTS idx_financial_records_processed_at ON financial_records(processed_at)`,

	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		state TEXT NOT NULL,
		data JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_activity TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_sessions_owner ON sessions(owner)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_last_activity ON sessions(last_activity)`,
}

// Tables lists the tables created by RunMigrations.
var Tables = []string{"financial_records", "sessions"}

// RunMigrations creates the database schema.
func RunMigrations(ctx context.Context, db PGXDB) error {
	for i, migration := range migrations {
		if _, err := db.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	return nil
}
