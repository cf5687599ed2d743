// internal/store/postgres/schema.go
package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// Unique constraints the store maps to domain errors.
const (
	constraintQueuePosition = "candidacies_posting_position_key"
	constraintProfessional  = "candidacies_posting_professional_key"
)

// Schema creates the tables the engine reads and writes. Every statement is
// idempotent.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS professionals (
		id                TEXT PRIMARY KEY,
		name              TEXT NOT NULL,
		email             TEXT,
		phone             TEXT,
		whatsapp          TEXT,
		push_endpoint_arn TEXT,
		locale            TEXT NOT NULL DEFAULT 'en'
	)`,
	`CREATE TABLE IF NOT EXISTS clinics (
		id     TEXT PRIMARY KEY,
		name   TEXT NOT NULL,
		email  TEXT,
		phone  TEXT,
		locale TEXT NOT NULL DEFAULT 'en'
	)`,
	`CREATE TABLE IF NOT EXISTS postings (
		id                             TEXT PRIMARY KEY,
		clinic_id                      TEXT NOT NULL REFERENCES clinics(id),
		clinic_name                    TEXT NOT NULL DEFAULT '',
		location                       TEXT NOT NULL DEFAULT '',
		specialty                      TEXT NOT NULL DEFAULT '',
		shift_start                    TIMESTAMPTZ NOT NULL,
		shift_end                      TIMESTAMPTZ NOT NULL,
		compensation_cents             BIGINT NOT NULL DEFAULT 0,
		compensation_currency          TEXT NOT NULL DEFAULT '',
		compensation_terms             TEXT NOT NULL DEFAULT '',
		status                         TEXT NOT NULL,
		chosen_candidate_id            TEXT,
		chosen_at                      TIMESTAMPTZ,
		confirmation_timer_expires_at  TIMESTAMPTZ,
		confirmed_at                   TIMESTAMPTZ,
		version                        BIGINT NOT NULL DEFAULT 1,
		created_at                     TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at                     TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT postings_status_check CHECK (status IN ('DRAFT','OPEN','EM_SELECAO','CONFIRMADA','CANCELADA'))
	)`,
	`CREATE INDEX IF NOT EXISTS postings_expired_timer_idx
		ON postings (confirmation_timer_expires_at)
		WHERE status = 'EM_SELECAO'`,
	`CREATE TABLE IF NOT EXISTS candidacies (
		id               TEXT PRIMARY KEY,
		posting_id       TEXT NOT NULL REFERENCES postings(id),
		professional_id  TEXT NOT NULL,
		queue_position   INTEGER NOT NULL,
		status           TEXT NOT NULL,
		chosen_at        TIMESTAMPTZ,
		timer_started_at TIMESTAMPTZ,
		timer_ends_at    TIMESTAMPTZ,
		confirmed_at     TIMESTAMPTZ,
		lost_slot_reason TEXT NOT NULL DEFAULT '',
		version          BIGINT NOT NULL DEFAULT 1,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT ` + constraintQueuePosition + ` UNIQUE (posting_id, queue_position),
		CONSTRAINT ` + constraintProfessional + ` UNIQUE (posting_id, professional_id),
		CONSTRAINT candidacies_status_check CHECK (status IN ('WAITING','HOLDING','CONFIRMED','LOST_SLOT','REJECTED','EXPIRED'))
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS candidacies_one_holder_idx
		ON candidacies (posting_id)
		WHERE status = 'HOLDING'`,
}

// Migrate applies Schema in order.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range Schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}
	return nil
}
