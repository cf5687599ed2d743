package handoff_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"substitution-engine/internal/common/logger"
	"substitution-engine/internal/handoff"
	"substitution-engine/internal/models"
	"substitution-engine/internal/store/memory"
)

var baseTime = time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []models.Notification
	err  error
}

func (r *recordingNotifier) Notify(_ context.Context, n models.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return r.err
}

func (r *recordingNotifier) ofType(notificationType string) []models.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Notification
	for _, n := range r.sent {
		if n.Type == notificationType {
			out = append(out, n)
		}
	}
	return out
}

type recordingEvents struct {
	mu     sync.Mutex
	events []models.HandoffEvent
}

func (r *recordingEvents) Publish(_ context.Context, ev models.HandoffEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingEvents) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

type fixture struct {
	t        *testing.T
	ctx      context.Context
	store    *memory.Store
	clock    *handoff.FixedClock
	notifier *recordingNotifier
	events   *recordingEvents
	engine   *handoff.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		t:        t,
		ctx:      context.Background(),
		store:    memory.New(),
		clock:    handoff.NewFixedClock(baseTime),
		notifier: &recordingNotifier{},
		events:   &recordingEvents{},
	}
	f.engine = handoff.NewEngine(handoff.Dependencies{
		Postings:    f.store,
		Candidacies: f.store,
		Notifier:    f.notifier,
		Events:      f.events,
		Clock:       f.clock,
		Logger:      logger.NewTestLogger(t),
	}, handoff.DefaultConfig())
	return f
}

func (f *fixture) createPosting(id string, status models.PostingStatus) {
	f.t.Helper()
	require.NoError(f.t, f.store.CreatePosting(f.ctx, &models.Posting{
		ID:         id,
		ClinicID:   "clinic-1",
		ClinicName: "Clinica Central",
		Location:   "Lisbon",
		Specialty:  "pediatrics",
		ShiftStart: baseTime.Add(6 * time.Hour),
		ShiftEnd:   baseTime.Add(14 * time.Hour),
		Status:     status,
		CreatedAt:  baseTime.Add(-24 * time.Hour),
		UpdatedAt:  baseTime.Add(-24 * time.Hour),
	}))
}

func (f *fixture) addCandidacy(postingID, id, professionalID string, position int, status models.CandidacyStatus) {
	f.t.Helper()
	require.NoError(f.t, f.store.CreateCandidacy(f.ctx, &models.Candidacy{
		ID:             id,
		PostingID:      postingID,
		ProfessionalID: professionalID,
		QueuePosition:  position,
		Status:         status,
		CreatedAt:      baseTime.Add(-time.Duration(10-position) * time.Minute),
		UpdatedAt:      baseTime.Add(-time.Duration(10-position) * time.Minute),
	}))
}

// inSelection seeds a posting held by holderID whose timer ends at timerEnds.
func (f *fixture) inSelection(postingID, holderID, professionalID string, position int, timerEnds time.Time) {
	f.t.Helper()
	chosenAt := timerEnds.Add(-time.Hour)
	require.NoError(f.t, f.store.CreatePosting(f.ctx, &models.Posting{
		ID:                         postingID,
		ClinicID:                   "clinic-1",
		ClinicName:                 "Clinica Central",
		Status:                     models.PostingInSelection,
		ChosenCandidateID:          &professionalID,
		ChosenAt:                   &chosenAt,
		ConfirmationTimerExpiresAt: &timerEnds,
		CreatedAt:                  baseTime.Add(-24 * time.Hour),
	}))
	require.NoError(f.t, f.store.CreateCandidacy(f.ctx, &models.Candidacy{
		ID:             holderID,
		PostingID:      postingID,
		ProfessionalID: professionalID,
		QueuePosition:  position,
		Status:         models.CandidacyHolding,
		ChosenAt:       &chosenAt,
		TimerStartedAt: &chosenAt,
		TimerEndsAt:    &timerEnds,
		CreatedAt:      baseTime.Add(-2 * time.Hour),
	}))
}

func (f *fixture) posting(id string) *models.Posting {
	f.t.Helper()
	p, err := f.store.GetPosting(f.ctx, id)
	require.NoError(f.t, err)
	return p
}

func (f *fixture) candidacy(id string) *models.Candidacy {
	f.t.Helper()
	c, err := f.store.GetCandidacy(f.ctx, id)
	require.NoError(f.t, err)
	return c
}

func (f *fixture) holders(postingID string) []models.Candidacy {
	f.t.Helper()
	found, err := f.store.FindCandidacies(f.ctx, handoff.CandidacyFilter{
		PostingID: postingID,
		Statuses:  []models.CandidacyStatus{models.CandidacyHolding},
	})
	require.NoError(f.t, err)
	return found
}
