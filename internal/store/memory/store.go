// Package memory is an in-process record store with the same conditional
// update semantics as the Postgres store. It backs tests and the
// single-process demo mode.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	apperrors "substitution-engine/internal/common/errors"
	"substitution-engine/internal/handoff"
	"substitution-engine/internal/models"
)

// Hooks let tests interleave other actors with a store call. Each hook runs
// before the write, outside the store lock. A non-nil error is returned as
// the call's result.
type Hooks struct {
	BeforeUpdatePosting   func(p *models.Posting, expectedVersion int64) error
	BeforeUpdateCandidacy func(c *models.Candidacy, expected models.CandidacyStatus) error
}

type Store struct {
	mu          sync.RWMutex
	postings    map[string]models.Posting
	candidacies map[string]models.Candidacy
	hooks       Hooks
}

var (
	_ handoff.PostingStore   = (*Store)(nil)
	_ handoff.CandidacyStore = (*Store)(nil)
)

func New() *Store {
	return &Store{
		postings:    make(map[string]models.Posting),
		candidacies: make(map[string]models.Candidacy),
	}
}

// SetHooks replaces the interleaving hooks.
func (s *Store) SetHooks(h Hooks) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = h
}

func (s *Store) currentHooks() Hooks {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hooks
}

// ==========================
// Postings
// ==========================

func (s *Store) GetPosting(ctx context.Context, id string) (*models.Posting, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.postings[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("posting", id)
	}
	out := clonePosting(p)
	return &out, nil
}

func (s *Store) FindPostings(ctx context.Context, filter handoff.PostingFilter) ([]models.Posting, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Posting
	for _, p := range s.postings {
		if len(filter.Statuses) > 0 && !containsPostingStatus(filter.Statuses, p.Status) {
			continue
		}
		if filter.TimerExpiredAt != nil && !p.TimerExpired(*filter.TimerExpiredAt) {
			continue
		}
		out = append(out, clonePosting(p))
	}

	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].ConfirmationTimerExpiresAt, out[j].ConfirmationTimerExpiresAt
		if ti != nil && tj != nil && !ti.Equal(*tj) {
			return ti.Before(*tj)
		}
		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) CreatePosting(ctx context.Context, p *models.Posting) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.postings[p.ID]; exists {
		return handoff.ErrConflict
	}
	if p.Version == 0 {
		p.Version = 1
	}
	s.postings[p.ID] = clonePosting(*p)
	return nil
}

func (s *Store) UpdatePosting(ctx context.Context, p *models.Posting, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if hook := s.currentHooks().BeforeUpdatePosting; hook != nil {
		if err := hook(p, expectedVersion); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.postings[p.ID]
	if !ok || stored.Version != expectedVersion {
		return handoff.ErrConflict
	}
	next := clonePosting(*p)
	next.Version = expectedVersion + 1
	next.CreatedAt = stored.CreatedAt
	s.postings[p.ID] = next
	p.Version = next.Version
	return nil
}

// ==========================
// Candidacies
// ==========================

func (s *Store) GetCandidacy(ctx context.Context, id string) (*models.Candidacy, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.candidacies[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("candidacy", id)
	}
	out := cloneCandidacy(c)
	return &out, nil
}

func (s *Store) FindCandidacies(ctx context.Context, filter handoff.CandidacyFilter) ([]models.Candidacy, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Candidacy
	for _, c := range s.candidacies {
		if filter.PostingID != "" && c.PostingID != filter.PostingID {
			continue
		}
		if filter.ProfessionalID != "" && c.ProfessionalID != filter.ProfessionalID {
			continue
		}
		if len(filter.Statuses) > 0 && !containsCandidacyStatus(filter.Statuses, c.Status) {
			continue
		}
		out = append(out, cloneCandidacy(c))
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].QueuePosition != out[j].QueuePosition {
			return out[i].QueuePosition < out[j].QueuePosition
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) CreateCandidacy(ctx context.Context, c *models.Candidacy) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.candidacies[c.ID]; exists {
		return handoff.ErrConflict
	}
	for _, existing := range s.candidacies {
		if existing.PostingID != c.PostingID {
			continue
		}
		if existing.ProfessionalID == c.ProfessionalID {
			return apperrors.NewDuplicateCandidacyError(c.PostingID, c.ProfessionalID)
		}
		if existing.QueuePosition == c.QueuePosition {
			return handoff.ErrConflict
		}
	}
	if c.Status == models.CandidacyHolding && s.holderOf(c.PostingID, c.ID) {
		return handoff.ErrConflict
	}
	if c.Version == 0 {
		c.Version = 1
	}
	s.candidacies[c.ID] = cloneCandidacy(*c)
	return nil
}

func (s *Store) UpdateCandidacy(ctx context.Context, c *models.Candidacy, expected models.CandidacyStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if hook := s.currentHooks().BeforeUpdateCandidacy; hook != nil {
		if err := hook(c, expected); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.candidacies[c.ID]
	if !ok || stored.Status != expected {
		return handoff.ErrConflict
	}
	if c.Status == models.CandidacyHolding && s.holderOf(stored.PostingID, c.ID) {
		return handoff.ErrConflict
	}
	next := cloneCandidacy(*c)
	next.Version = stored.Version + 1
	next.QueuePosition = stored.QueuePosition
	next.CreatedAt = stored.CreatedAt
	s.candidacies[c.ID] = next
	c.Version = next.Version
	return nil
}

// ==========================
// Helpers
// ==========================

// holderOf reports whether a candidacy other than exceptID holds postingID.
// Callers hold s.mu.
func (s *Store) holderOf(postingID, exceptID string) bool {
	for id, c := range s.candidacies {
		if id != exceptID && c.PostingID == postingID && c.Status == models.CandidacyHolding {
			return true
		}
	}
	return false
}

func containsPostingStatus(list []models.PostingStatus, s models.PostingStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsCandidacyStatus(list []models.CandidacyStatus, s models.CandidacyStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func clonePosting(p models.Posting) models.Posting {
	out := p
	if p.ChosenCandidateID != nil {
		id := *p.ChosenCandidateID
		out.ChosenCandidateID = &id
	}
	out.ChosenAt = cloneTime(p.ChosenAt)
	out.ConfirmationTimerExpiresAt = cloneTime(p.ConfirmationTimerExpiresAt)
	out.ConfirmedAt = cloneTime(p.ConfirmedAt)
	return out
}

func cloneCandidacy(c models.Candidacy) models.Candidacy {
	out := c
	out.ChosenAt = cloneTime(c.ChosenAt)
	out.TimerStartedAt = cloneTime(c.TimerStartedAt)
	out.TimerEndsAt = cloneTime(c.TimerEndsAt)
	out.ConfirmedAt = cloneTime(c.ConfirmedAt)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
