// internal/store/postgres/postings.go
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	apperrors "substitution-engine/internal/common/errors"
	"substitution-engine/internal/common/logger"
	"substitution-engine/internal/handoff"
	"substitution-engine/internal/models"
)

const postingColumns = `id, clinic_id, clinic_name, location, specialty, shift_start, shift_end,
	compensation_cents, compensation_currency, compensation_terms, status,
	chosen_candidate_id, chosen_at, confirmation_timer_expires_at, confirmed_at,
	version, created_at, updated_at`

const (
	queryGetPosting = `SELECT ` + postingColumns + ` FROM postings WHERE id = $1`

	queryFindPostings = `SELECT ` + postingColumns + ` FROM postings
		WHERE (cardinality($1::text[]) = 0 OR status = ANY($1::text[]))
		  AND ($2::timestamptz IS NULL OR (confirmation_timer_expires_at IS NOT NULL AND confirmation_timer_expires_at <= $2::timestamptz))
		ORDER BY confirmation_timer_expires_at ASC NULLS LAST, id ASC
		LIMIT NULLIF($3, 0)`

	queryInsertPosting = `INSERT INTO postings (` + postingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

	// Conditional on version: zero rows means another actor moved the posting.
	queryUpdatePosting = `UPDATE postings SET
			status = $2,
			chosen_candidate_id = $3,
			chosen_at = $4,
			confirmation_timer_expires_at = $5,
			confirmed_at = $6,
			updated_at = $7,
			version = version + 1
		WHERE id = $1 AND version = $8
		RETURNING version`
)

// PostingStore persists postings in PostgreSQL.
type PostingStore struct {
	db     *sql.DB
	logger logger.Logger
}

var _ handoff.PostingStore = (*PostingStore)(nil)

func NewPostingStore(db *sql.DB, log logger.Logger) *PostingStore {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &PostingStore{db: db, logger: log}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPosting(row rowScanner) (*models.Posting, error) {
	var (
		p               models.Posting
		status          string
		chosenCandidate sql.NullString
		chosenAt        sql.NullTime
		timerExpiresAt  sql.NullTime
		confirmedAt     sql.NullTime
	)
	err := row.Scan(
		&p.ID, &p.ClinicID, &p.ClinicName, &p.Location, &p.Specialty, &p.ShiftStart, &p.ShiftEnd,
		&p.Compensation.AmountCents, &p.Compensation.Currency, &p.Compensation.Terms, &status,
		&chosenCandidate, &chosenAt, &timerExpiresAt, &confirmedAt,
		&p.Version, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Status = models.PostingStatus(status)
	if !p.Status.Valid() {
		return nil, fmt.Errorf("posting %s has unknown status %q", p.ID, status)
	}
	p.ChosenCandidateID = nullString(chosenCandidate)
	p.ChosenAt = nullTime(chosenAt)
	p.ConfirmationTimerExpiresAt = nullTime(timerExpiresAt)
	p.ConfirmedAt = nullTime(confirmedAt)
	return &p, nil
}

func (s *PostingStore) GetPosting(ctx context.Context, id string) (*models.Posting, error) {
	p, err := scanPosting(s.db.QueryRowContext(ctx, queryGetPosting, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("posting", id)
	}
	if err != nil {
		return nil, apperrors.NewPersistenceError("get posting", err)
	}
	return p, nil
}

func (s *PostingStore) FindPostings(ctx context.Context, filter handoff.PostingFilter) ([]models.Posting, error) {
	statuses := make([]string, 0, len(filter.Statuses))
	for _, st := range filter.Statuses {
		statuses = append(statuses, string(st))
	}
	var expiredAt sql.NullTime
	if filter.TimerExpiredAt != nil {
		expiredAt = sql.NullTime{Time: filter.TimerExpiredAt.UTC(), Valid: true}
	}

	rows, err := s.db.QueryContext(ctx, queryFindPostings, pq.Array(statuses), expiredAt, filter.Limit)
	if err != nil {
		return nil, apperrors.NewPersistenceError("find postings", err)
	}
	defer rows.Close()

	var out []models.Posting
	for rows.Next() {
		p, err := scanPosting(rows)
		if err != nil {
			return nil, apperrors.NewPersistenceError("scan posting", err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewPersistenceError("find postings", err)
	}
	return out, nil
}

func (s *PostingStore) CreatePosting(ctx context.Context, p *models.Posting) error {
	if p.Version == 0 {
		p.Version = 1
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = now
	}

	_, err := s.db.ExecContext(ctx, queryInsertPosting,
		p.ID, p.ClinicID, p.ClinicName, p.Location, p.Specialty, p.ShiftStart, p.ShiftEnd,
		p.Compensation.AmountCents, p.Compensation.Currency, p.Compensation.Terms, string(p.Status),
		p.ChosenCandidateID, p.ChosenAt, p.ConfirmationTimerExpiresAt, p.ConfirmedAt,
		p.Version, p.CreatedAt, p.UpdatedAt,
	)
	if isUniqueViolation(err, "") {
		return handoff.ErrConflict
	}
	if err != nil {
		return apperrors.NewPersistenceError("create posting", err)
	}
	return nil
}

func (s *PostingStore) UpdatePosting(ctx context.Context, p *models.Posting, expectedVersion int64) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}

	var newVersion int64
	err := s.db.QueryRowContext(ctx, queryUpdatePosting,
		p.ID, string(p.Status), p.ChosenCandidateID, p.ChosenAt,
		p.ConfirmationTimerExpiresAt, p.ConfirmedAt, p.UpdatedAt, expectedVersion,
	).Scan(&newVersion)
	if errors.Is(err, sql.ErrNoRows) {
		s.logger.Debug("posting update lost version race", map[string]interface{}{
			"postingId":       p.ID,
			"expectedVersion": expectedVersion,
		})
		return handoff.ErrConflict
	}
	if err != nil {
		return apperrors.NewPersistenceError(fmt.Sprintf("update posting %s", p.ID), err)
	}
	p.Version = newVersion
	return nil
}

// ==========================
// Helpers
// ==========================

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}

// isUniqueViolation reports a 23505 error, optionally on a named constraint.
func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	if pqErr.Code != "23505" {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}
