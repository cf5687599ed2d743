package handoff_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "substitution-engine/internal/common/errors"
	"substitution-engine/internal/handoff"
	"substitution-engine/internal/models"
	"substitution-engine/internal/store/memory"
)

func TestResolveConfirmation_AcceptConfirmsAndClosesQueue(t *testing.T) {
	f := newFixture(t)
	f.inSelection("p-1", "c-a", "pro-a", 1, baseTime.Add(time.Hour))
	f.addCandidacy("p-1", "c-b", "pro-b", 2, models.CandidacyWaiting)
	f.addCandidacy("p-1", "c-c", "pro-c", 3, models.CandidacyWaiting)
	f.clock.Advance(20 * time.Minute)

	res, err := f.engine.ResolveConfirmation(f.ctx, "p-1", "c-a", true)
	require.NoError(t, err)
	assert.Equal(t, handoff.OutcomeConfirmed, res.Outcome)
	assert.Equal(t, models.PostingConfirmed, res.PostingStatus)
	assert.Equal(t, 2, res.ExpiredQueue)

	a := f.candidacy("c-a")
	assert.Equal(t, models.CandidacyConfirmed, a.Status)
	require.NotNil(t, a.ConfirmedAt)
	assert.True(t, a.ConfirmedAt.Equal(f.clock.Now()))

	p := f.posting("p-1")
	assert.Equal(t, models.PostingConfirmed, p.Status)
	assert.Nil(t, p.ConfirmationTimerExpiresAt)
	require.NotNil(t, p.ConfirmedAt)
	assert.Equal(t, "pro-a", *p.ChosenCandidateID)

	for _, id := range []string{"c-b", "c-c"} {
		c := f.candidacy(id)
		assert.Equal(t, models.CandidacyExpired, c.Status)
		assert.Equal(t, models.ReasonPostingFilled, c.LostSlotReason)
	}

	assert.Len(t, f.notifier.ofType(models.NotificationSlotConfirmed), 1)
	assert.Len(t, f.notifier.ofType(models.NotificationHolderConfirmed), 1)
	assert.Len(t, f.notifier.ofType(models.NotificationPostingFilled), 2)

	// the sweep has nothing left to do
	f.clock.Advance(3 * time.Hour)
	sweep, err := f.engine.RunExpiredTimerSweep(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, sweep.ProcessedCount)
}

func TestResolveConfirmation_DeclineCascadesImmediately(t *testing.T) {
	f := newFixture(t)
	f.inSelection("p-1", "c-a", "pro-a", 1, baseTime.Add(time.Hour))
	f.addCandidacy("p-1", "c-b", "pro-b", 2, models.CandidacyWaiting)
	f.clock.Advance(5 * time.Minute)
	now := f.clock.Now()

	res, err := f.engine.ResolveConfirmation(f.ctx, "p-1", "c-a", false)
	require.NoError(t, err)
	assert.Equal(t, handoff.OutcomeDeclined, res.Outcome)
	require.NotNil(t, res.NextHolder)
	assert.Equal(t, "c-b", res.NextHolder.ID)
	assert.False(t, res.Reopened)

	a := f.candidacy("c-a")
	assert.Equal(t, models.CandidacyRejected, a.Status)
	assert.Equal(t, models.ReasonDeclined, a.LostSlotReason)

	b := f.candidacy("c-b")
	assert.Equal(t, models.CandidacyHolding, b.Status)
	assert.True(t, b.TimerEndsAt.Equal(now.Add(time.Hour)))
	assert.Equal(t, "pro-b", *f.posting("p-1").ChosenCandidateID)
}

func TestResolveConfirmation_DeclineOnLastCandidateReopens(t *testing.T) {
	f := newFixture(t)
	f.inSelection("p-1", "c-a", "pro-a", 1, baseTime.Add(time.Hour))

	res, err := f.engine.ResolveConfirmation(f.ctx, "p-1", "c-a", false)
	require.NoError(t, err)
	assert.True(t, res.Reopened)
	assert.Nil(t, res.NextHolder)
	assert.Equal(t, models.PostingOpen, f.posting("p-1").Status)
}

func TestResolveConfirmation_StaleHandoff(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture)
	}{
		{
			name: "candidacy still waiting",
			setup: func(f *fixture) {
				f.addCandidacy("p-1", "c-x", "pro-x", 5, models.CandidacyWaiting)
			},
		},
		{
			name: "timer already lapsed",
			setup: func(f *fixture) {
				f.clock.Advance(time.Hour)
			},
		},
		{
			name: "holder already lost the slot",
			setup: func(f *fixture) {
				a := f.candidacy("c-a")
				a.Status = models.CandidacyLostSlot
				require.NoError(f.t, f.store.UpdateCandidacy(f.ctx, a, models.CandidacyHolding))
			},
		},
		{
			name: "posting no longer in selection",
			setup: func(f *fixture) {
				p := f.posting("p-1")
				p.Status = models.PostingCancelled
				require.NoError(f.t, f.store.UpdatePosting(f.ctx, p, p.Version))
			},
		},
	}

	for _, tt := range tests {
		for _, accept := range []bool{true, false} {
			t.Run(tt.name, func(t *testing.T) {
				f := newFixture(t)
				f.inSelection("p-1", "c-a", "pro-a", 1, baseTime.Add(time.Hour))
				tt.setup(f)

				target := "c-a"
				if tt.name == "candidacy still waiting" {
					target = "c-x"
				}
				before := *f.candidacy(target)
				postingBefore := *f.posting("p-1")

				_, err := f.engine.ResolveConfirmation(f.ctx, "p-1", target, accept)
				require.Error(t, err)
				assert.True(t, apperrors.IsStaleHandoff(err), "got %v", err)

				after := f.candidacy(target)
				assert.Equal(t, before.Status, after.Status)
				assert.Equal(t, before.Version, after.Version)
				assert.Equal(t, postingBefore.Version, f.posting("p-1").Version)
			})
		}
	}
}

func TestResolveConfirmation_NotFound(t *testing.T) {
	f := newFixture(t)
	f.inSelection("p-1", "c-a", "pro-a", 1, baseTime.Add(time.Hour))
	f.inSelection("p-2", "c-other", "pro-o", 1, baseTime.Add(time.Hour))

	_, err := f.engine.ResolveConfirmation(f.ctx, "missing", "c-a", true)
	assert.True(t, apperrors.IsNotFound(err))

	_, err = f.engine.ResolveConfirmation(f.ctx, "p-1", "missing", true)
	assert.True(t, apperrors.IsNotFound(err))

	_, err = f.engine.ResolveConfirmation(f.ctx, "p-1", "c-other", true)
	assert.True(t, apperrors.IsNotFound(err))
	assert.Equal(t, models.CandidacyHolding, f.candidacy("c-other").Status)
}

func TestResolveConfirmation_SweepWinsTheRace(t *testing.T) {
	f := newFixture(t)
	f.inSelection("p-1", "c-a", "pro-a", 1, baseTime.Add(time.Hour))
	f.addCandidacy("p-1", "c-b", "pro-b", 2, models.CandidacyWaiting)
	f.clock.Advance(59 * time.Minute)

	var (
		once        sync.Once
		sweepResult *handoff.SweepResult
		sweepErr    error
	)
	f.store.SetHooks(memory.Hooks{
		BeforeUpdateCandidacy: func(c *models.Candidacy, _ models.CandidacyStatus) error {
			if c.Status == models.CandidacyConfirmed {
				// the timer lapses and the sweep lands between the accept's
				// read and its write
				once.Do(func() {
					f.clock.Advance(2 * time.Minute)
					sweepResult, sweepErr = f.engine.RunExpiredTimerSweep(f.ctx)
				})
			}
			return nil
		},
	})

	_, err := f.engine.ResolveConfirmation(f.ctx, "p-1", "c-a", true)
	require.Error(t, err)
	assert.True(t, apperrors.IsStaleHandoff(err))

	require.NoError(t, sweepErr)
	assert.Equal(t, 1, sweepResult.ProcessedCount)
	assert.Equal(t, models.CandidacyLostSlot, f.candidacy("c-a").Status)
	assert.Equal(t, models.CandidacyHolding, f.candidacy("c-b").Status)
	assert.Equal(t, models.PostingInSelection, f.posting("p-1").Status)
}

func TestResolveConfirmation_AcceptWinsTheRace(t *testing.T) {
	f := newFixture(t)
	f.inSelection("p-1", "c-a", "pro-a", 1, baseTime.Add(time.Hour))
	f.addCandidacy("p-1", "c-b", "pro-b", 2, models.CandidacyWaiting)
	f.clock.Advance(time.Hour)

	var once sync.Once
	f.store.SetHooks(memory.Hooks{
		BeforeUpdateCandidacy: func(c *models.Candidacy, _ models.CandidacyStatus) error {
			if c.ID == "c-a" && c.Status == models.CandidacyLostSlot {
				// an accept validated just before expiry commits first
				once.Do(func() {
					a := f.candidacy("c-a")
					a.Status = models.CandidacyConfirmed
					require.NoError(t, f.store.UpdateCandidacy(f.ctx, a, models.CandidacyHolding))
				})
			}
			return nil
		},
	})

	first, err := f.engine.RunExpiredTimerSweep(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, first.ProcessedCount)
	assert.Equal(t, models.CandidacyConfirmed, f.candidacy("c-a").Status)
	assert.Equal(t, models.CandidacyWaiting, f.candidacy("c-b").Status)

	// the next sweep finishes the confirmation the accept left behind
	second, err := f.engine.RunExpiredTimerSweep(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Healed)
	assert.Equal(t, models.PostingConfirmed, f.posting("p-1").Status)
	assert.Equal(t, models.CandidacyExpired, f.candidacy("c-b").Status)
}

func TestResolveConfirmation_ConcurrentAnswersResolveOnce(t *testing.T) {
	f := newFixture(t)
	f.inSelection("p-1", "c-a", "pro-a", 1, baseTime.Add(time.Hour))
	f.addCandidacy("p-1", "c-b", "pro-b", 2, models.CandidacyWaiting)

	const callers = 6
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes = make(map[string]int)
		stale    int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(accept bool) {
			defer wg.Done()
			res, err := f.engine.ResolveConfirmation(f.ctx, "p-1", "c-a", accept)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				outcomes[res.Outcome]++
			case apperrors.IsStaleHandoff(err):
				stale++
			}
		}(i%2 == 0)
	}
	wg.Wait()

	// repeats of the winning answer may succeed; the other answer never does
	require.Len(t, outcomes, 1)
	a := f.candidacy("c-a")
	switch a.Status {
	case models.CandidacyConfirmed:
		assert.Positive(t, outcomes[handoff.OutcomeConfirmed])
		assert.Equal(t, models.PostingConfirmed, f.posting("p-1").Status)
		assert.Equal(t, callers, outcomes[handoff.OutcomeConfirmed]+stale)
	case models.CandidacyRejected:
		assert.Positive(t, outcomes[handoff.OutcomeDeclined])
		assert.Equal(t, "pro-b", *f.posting("p-1").ChosenCandidateID)
		assert.Equal(t, callers, outcomes[handoff.OutcomeDeclined]+stale)
	default:
		t.Fatalf("unexpected candidacy status %s", a.Status)
	}
	assert.LessOrEqual(t, len(f.holders("p-1")), 1)
}

func TestResolveConfirmation_RetryFinishesHalfAppliedAccept(t *testing.T) {
	f := newFixture(t)
	f.inSelection("p-1", "c-a", "pro-a", 1, baseTime.Add(time.Hour))
	f.addCandidacy("p-1", "c-b", "pro-b", 2, models.CandidacyWaiting)
	f.clock.Advance(10 * time.Minute)

	var once sync.Once
	f.store.SetHooks(memory.Hooks{
		BeforeUpdatePosting: func(*models.Posting, int64) error {
			var err error
			once.Do(func() { err = errors.New("connection reset") })
			return err
		},
	})

	_, err := f.engine.ResolveConfirmation(f.ctx, "p-1", "c-a", true)
	require.Error(t, err)
	assert.False(t, apperrors.IsStaleHandoff(err), "got %v", err)
	assert.Equal(t, models.CandidacyConfirmed, f.candidacy("c-a").Status)
	assert.Equal(t, models.PostingInSelection, f.posting("p-1").Status)

	res, err := f.engine.ResolveConfirmation(f.ctx, "p-1", "c-a", true)
	require.NoError(t, err)
	assert.Equal(t, handoff.OutcomeConfirmed, res.Outcome)
	assert.Equal(t, models.PostingConfirmed, res.PostingStatus)
	assert.Equal(t, 1, res.ExpiredQueue)

	p := f.posting("p-1")
	assert.Equal(t, models.PostingConfirmed, p.Status)
	assert.Equal(t, "pro-a", *p.ChosenCandidateID)
	assert.Equal(t, models.CandidacyExpired, f.candidacy("c-b").Status)
	assert.Len(t, f.notifier.ofType(models.NotificationSlotConfirmed), 1)

	// the opposite answer is still stale
	_, err = f.engine.ResolveConfirmation(f.ctx, "p-1", "c-a", false)
	assert.True(t, apperrors.IsStaleHandoff(err))
}

func TestResolveConfirmation_RetryFinishesHalfAppliedDecline(t *testing.T) {
	f := newFixture(t)
	f.inSelection("p-1", "c-a", "pro-a", 1, baseTime.Add(time.Hour))
	f.addCandidacy("p-1", "c-b", "pro-b", 2, models.CandidacyWaiting)
	f.clock.Advance(10 * time.Minute)
	now := f.clock.Now()

	var once sync.Once
	f.store.SetHooks(memory.Hooks{
		BeforeUpdatePosting: func(*models.Posting, int64) error {
			var err error
			once.Do(func() { err = errors.New("connection reset") })
			return err
		},
	})

	_, err := f.engine.ResolveConfirmation(f.ctx, "p-1", "c-a", false)
	require.Error(t, err)
	assert.False(t, apperrors.IsStaleHandoff(err), "got %v", err)
	assert.Equal(t, models.CandidacyRejected, f.candidacy("c-a").Status)
	assert.Equal(t, "pro-a", *f.posting("p-1").ChosenCandidateID)

	res, err := f.engine.ResolveConfirmation(f.ctx, "p-1", "c-a", false)
	require.NoError(t, err)
	assert.Equal(t, handoff.OutcomeDeclined, res.Outcome)
	require.NotNil(t, res.NextHolder)
	assert.Equal(t, "c-b", res.NextHolder.ID)

	b := f.candidacy("c-b")
	assert.Equal(t, models.CandidacyHolding, b.Status)
	assert.True(t, b.TimerEndsAt.Equal(now.Add(time.Hour)))
	assert.Equal(t, "pro-b", *f.posting("p-1").ChosenCandidateID)

	// once the cascade moved on, repeating the decline is stale
	_, err = f.engine.ResolveConfirmation(f.ctx, "p-1", "c-a", false)
	assert.True(t, apperrors.IsStaleHandoff(err))
}

func TestResolveConfirmation_RequiresIDs(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.ResolveConfirmation(f.ctx, "", "c-a", true)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidInput))
}
