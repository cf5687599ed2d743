package handoff

import (
	"context"
	"errors"
	"time"

	"substitution-engine/internal/models"
)

// ErrConflict is returned by a store when a conditional update finds the
// record no longer in the expected state. Callers treat it as "another actor
// already handled this", never as a failure.
var ErrConflict = errors.New("conditional update conflict")

// PostingFilter selects postings. Zero values mean "no constraint".
type PostingFilter struct {
	Statuses []models.PostingStatus
	// TimerExpiredAt keeps only postings whose confirmation timer is set and
	// not after the given instant.
	TimerExpiredAt *time.Time
	Limit          int
}

// CandidacyFilter selects candidacies. Zero values mean "no constraint".
type CandidacyFilter struct {
	PostingID      string
	ProfessionalID string
	Statuses       []models.CandidacyStatus
}

// PostingStore is the record-store contract for postings.
//
// UpdatePosting writes every mutable field of p only if the stored version
// equals expectedVersion, then sets p.Version to the new version. It returns
// ErrConflict when no row matched.
type PostingStore interface {
	GetPosting(ctx context.Context, id string) (*models.Posting, error)
	FindPostings(ctx context.Context, filter PostingFilter) ([]models.Posting, error)
	CreatePosting(ctx context.Context, p *models.Posting) error
	UpdatePosting(ctx context.Context, p *models.Posting, expectedVersion int64) error
}

// CandidacyStore is the record-store contract for candidacies.
//
// UpdateCandidacy writes every mutable field of c only if the stored status
// equals expected. It returns ErrConflict when no row matched.
// CreateCandidacy returns ErrConflict when the queue position is taken.
type CandidacyStore interface {
	GetCandidacy(ctx context.Context, id string) (*models.Candidacy, error)
	FindCandidacies(ctx context.Context, filter CandidacyFilter) ([]models.Candidacy, error)
	CreateCandidacy(ctx context.Context, c *models.Candidacy) error
	UpdateCandidacy(ctx context.Context, c *models.Candidacy, expected models.CandidacyStatus) error
}

// Notifier is the notification gateway contract. Implementations must honour
// ctx deadlines; the engine logs and drops any returned error.
type Notifier interface {
	Notify(ctx context.Context, n models.Notification) error
}

// EventPublisher receives every committed transition. Best-effort.
type EventPublisher interface {
	Publish(ctx context.Context, event models.HandoffEvent) error
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, models.Notification) error { return nil }

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, models.HandoffEvent) error { return nil }
