// internal/store/postgres/candidacies.go
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

const candidacyColumns = `id, posting_id, professional_id, queue_position, status,
	chosen_at, timer_started_at, timer_ends_at, confirmed_at, lost_slot_reason,
	version, created_at, updated_at`

const (
	queryGetCandidacy = `SELECT ` + candidacyColumns + ` FROM candidacies WHERE id = $1`

	queryFindCandidacies = `SELECT ` + candidacyColumns + ` FROM candidacies
		WHERE ($1 = '' OR posting_id = $1)
		  AND ($2 = '' OR professional_id = $2)
		  AND (cardinality($3::text[]) = 0 OR status = ANY($3::text[]))
		ORDER BY queue_position ASC, created_at ASC, id ASC`

	queryInsertCandidacy = `INSERT INTO candidacies (` + candidacyColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	// Conditional on status: zero rows means another actor moved the candidacy.
	queryUpdateCandidacy = `UPDATE candidacies SET
			status = $2,
			chosen_at = $3,
			timer_started_at = $4,
			timer_ends_at = $5,
			confirmed_at = $6,
			lost_slot_reason = $7,
			updated_at = $8,
			version = version + 1
		WHERE id = $1 AND status = $9
		RETURNING version`
)

// CandidacyStore persists candidacies in PostgreSQL.
type CandidacyStore struct {
	db     *sql.DB
	logger logger.Logger
}

var _ handoff.CandidacyStore = (*CandidacyStore)(nil)

func NewCandidacyStore(db *sql.DB, log logger.Logger) *CandidacyStore {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &CandidacyStore{db: db, logger: log}
}

func scanCandidacy(row rowScanner) (*models.Candidacy, error) {
	var (
		c              models.Candidacy
		status         string
		chosenAt       sql.NullTime
		timerStartedAt sql.NullTime
		timerEndsAt    sql.NullTime
		confirmedAt    sql.NullTime
	)
	err := row.Scan(
		&c.ID, &c.PostingID, &c.ProfessionalID, &c.QueuePosition, &status,
		&chosenAt, &timerStartedAt, &timerEndsAt, &confirmedAt, &c.LostSlotReason,
		&c.Version, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Status = models.CandidacyStatus(status)
	if !c.Status.Valid() {
		return nil, fmt.Errorf("candidacy %s has unknown status %q", c.ID, status)
	}
	c.ChosenAt = nullTime(chosenAt)
	c.TimerStartedAt = nullTime(timerStartedAt)
	c.TimerEndsAt = nullTime(timerEndsAt)
	c.ConfirmedAt = nullTime(confirmedAt)
	return &c, nil
}

func (s *CandidacyStore) GetCandidacy(ctx context.Context, id string) (*models.Candidacy, error) {
	c, err := scanCandidacy(s.db.QueryRowContext(ctx, queryGetCandidacy, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("candidacy", id)
	}
	if err != nil {
		return nil, apperrors.NewPersistenceError("get candidacy", err)
	}
	return c, nil
}

func (s *CandidacyStore) FindCandidacies(ctx context.Context, filter handoff.CandidacyFilter) ([]models.Candidacy, error) {
	statuses := make([]string, 0, len(filter.Statuses))
	for _, st := range filter.Statuses {
		statuses = append(statuses, string(st))
	}

	rows, err := s.db.QueryContext(ctx, queryFindCandidacies, filter.PostingID, filter.ProfessionalID, pq.Array(statuses))
	if err != nil {
		return nil, apperrors.NewPersistenceError("find candidacies", err)
	}
	defer rows.Close()

	var out []models.Candidacy
	for rows.Next() {
		c, err := scanCandidacy(rows)
		if err != nil {
			return nil, apperrors.NewPersistenceError("scan candidacy", err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewPersistenceError("find candidacies", err)
	}
	return out, nil
}

func (s *CandidacyStore) CreateCandidacy(ctx context.Context, c *models.Candidacy) error {
	if c.Version == 0 {
		c.Version = 1
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}

	_, err := s.db.ExecContext(ctx, queryInsertCandidacy,
		c.ID, c.PostingID, c.ProfessionalID, c.QueuePosition, string(c.Status),
		c.ChosenAt, c.TimerStartedAt, c.TimerEndsAt, c.ConfirmedAt, c.LostSlotReason,
		c.Version, c.CreatedAt, c.UpdatedAt,
	)
	switch {
	case err == nil:
		return nil
	case isUniqueViolation(err, constraintProfessional):
		return apperrors.NewDuplicateCandidacyError(c.PostingID, c.ProfessionalID)
	case isUniqueViolation(err, ""):
		// queue position taken by a concurrent applicant
		return handoff.ErrConflict
	default:
		return apperrors.NewPersistenceError("create candidacy", err)
	}
}

func (s *CandidacyStore) UpdateCandidacy(ctx context.Context, c *models.Candidacy, expected models.CandidacyStatus) error {
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}

	var newVersion int64
	err := s.db.QueryRowContext(ctx, queryUpdateCandidacy,
		c.ID, string(c.Status), c.ChosenAt, c.TimerStartedAt, c.TimerEndsAt,
		c.ConfirmedAt, c.LostSlotReason, c.UpdatedAt, string(expected),
	).Scan(&newVersion)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		s.logger.Debug("candidacy update found unexpected status", map[string]interface{}{
			"candidacyId": c.ID,
			"expected":    string(expected),
		})
		return handoff.ErrConflict
	case isUniqueViolation(err, ""):
		// a second HOLDING row on the same posting
		return handoff.ErrConflict
	case err != nil:
		return apperrors.NewPersistenceError("update candidacy", err)
	}
	c.Version = newVersion
	return nil
}
