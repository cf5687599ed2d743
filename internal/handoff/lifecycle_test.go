package handoff_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "substitution-engine/internal/common/errors"
	"substitution-engine/internal/models"
)

// A, B and C apply; A is selected and stays silent; the sweep hands the slot
// to B; B confirms; C never gets an offer.
func TestHandoff_EndToEnd(t *testing.T) {
	f := newFixture(t)
	f.createPosting("p-1", models.PostingDraft)

	published, err := f.engine.PublishPosting(f.ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, models.PostingOpen, published.Status)

	ids := map[string]string{}
	for _, pro := range []string{"pro-a", "pro-b", "pro-c"} {
		c, err := f.engine.Apply(f.ctx, "p-1", pro)
		require.NoError(t, err)
		ids[pro] = c.ID
		f.clock.Advance(time.Minute)
	}
	assert.Equal(t, 1, f.candidacy(ids["pro-a"]).QueuePosition)
	assert.Equal(t, 3, f.candidacy(ids["pro-c"]).QueuePosition)

	sel, err := f.engine.SelectInitialCandidate(f.ctx, "p-1")
	require.NoError(t, err)
	require.NotNil(t, sel.Holder)
	assert.Equal(t, ids["pro-a"], sel.Holder.ID)
	assert.Equal(t, models.PostingInSelection, sel.PostingStatus)

	f.clock.Advance(time.Hour + time.Second)
	sweptAt := f.clock.Now()
	result, err := f.engine.RunExpiredTimerSweep(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ProcessedCount)

	assert.Equal(t, models.CandidacyLostSlot, f.candidacy(ids["pro-a"]).Status)
	b := f.candidacy(ids["pro-b"])
	require.Equal(t, models.CandidacyHolding, b.Status)
	assert.True(t, b.TimerEndsAt.Equal(sweptAt.Add(time.Hour)))
	assert.Equal(t, models.CandidacyWaiting, f.candidacy(ids["pro-c"]).Status)

	f.clock.Advance(10 * time.Minute)
	res, err := f.engine.ResolveConfirmation(f.ctx, "p-1", ids["pro-b"], true)
	require.NoError(t, err)
	assert.Equal(t, models.PostingConfirmed, res.PostingStatus)

	p := f.posting("p-1")
	assert.Equal(t, models.PostingConfirmed, p.Status)
	assert.Nil(t, p.ConfirmationTimerExpiresAt)
	assert.Equal(t, models.CandidacyConfirmed, f.candidacy(ids["pro-b"]).Status)
	assert.Equal(t, models.CandidacyExpired, f.candidacy(ids["pro-c"]).Status)

	offered := f.notifier.ofType(models.NotificationSlotOffered)
	require.Len(t, offered, 2)
	assert.Equal(t, "pro-a", offered[0].RecipientID)
	assert.Equal(t, "pro-b", offered[1].RecipientID)

	// A's late answer is stale
	_, err = f.engine.ResolveConfirmation(f.ctx, "p-1", ids["pro-a"], true)
	assert.True(t, apperrors.IsStaleHandoff(err))
}

func TestApply(t *testing.T) {
	f := newFixture(t)
	f.createPosting("p-1", models.PostingOpen)
	f.createPosting("p-done", models.PostingConfirmed)

	first, err := f.engine.Apply(f.ctx, "p-1", "pro-a")
	require.NoError(t, err)
	assert.Equal(t, models.CandidacyWaiting, first.Status)
	assert.Equal(t, 1, first.QueuePosition)

	second, err := f.engine.Apply(f.ctx, "p-1", "pro-b")
	require.NoError(t, err)
	assert.Equal(t, 2, second.QueuePosition)

	_, err = f.engine.Apply(f.ctx, "p-1", "pro-a")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeDuplicateCandidacy))

	_, err = f.engine.Apply(f.ctx, "p-done", "pro-a")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeIllegalTransition))

	_, err = f.engine.Apply(f.ctx, "missing", "pro-a")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestApply_PositionsAreNeverReused(t *testing.T) {
	f := newFixture(t)
	f.createPosting("p-1", models.PostingOpen)
	f.addCandidacy("p-1", "c-1", "pro-1", 1, models.CandidacyRejected)
	f.addCandidacy("p-1", "c-4", "pro-4", 4, models.CandidacyExpired)

	c, err := f.engine.Apply(f.ctx, "p-1", "pro-new")
	require.NoError(t, err)
	assert.Equal(t, 5, c.QueuePosition)
}

func TestSelectInitialCandidate(t *testing.T) {
	t.Run("empty queue leaves the posting open", func(t *testing.T) {
		f := newFixture(t)
		f.createPosting("p-1", models.PostingOpen)

		sel, err := f.engine.SelectInitialCandidate(f.ctx, "p-1")
		require.NoError(t, err)
		assert.Nil(t, sel.Holder)
		assert.Equal(t, models.PostingOpen, f.posting("p-1").Status)
		assert.Empty(t, f.notifier.ofType(models.NotificationPostingReopened))
	})

	t.Run("posting already in selection", func(t *testing.T) {
		f := newFixture(t)
		f.inSelection("p-1", "c-a", "pro-a", 1, baseTime.Add(time.Hour))

		_, err := f.engine.SelectInitialCandidate(f.ctx, "p-1")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeIllegalTransition))
	})
}

func TestCancelPosting(t *testing.T) {
	f := newFixture(t)
	f.inSelection("p-1", "c-a", "pro-a", 1, baseTime.Add(time.Hour))
	f.addCandidacy("p-1", "c-b", "pro-b", 2, models.CandidacyWaiting)

	res, err := f.engine.CancelPosting(f.ctx, "p-1")
	require.NoError(t, err)
	assert.True(t, res.HolderReleased)
	assert.Equal(t, 1, res.ExpiredQueue)

	p := f.posting("p-1")
	assert.Equal(t, models.PostingCancelled, p.Status)
	assert.Nil(t, p.ChosenCandidateID)
	assert.Nil(t, p.ConfirmationTimerExpiresAt)

	a := f.candidacy("c-a")
	assert.Equal(t, models.CandidacyLostSlot, a.Status)
	assert.Equal(t, models.ReasonPostingCanceled, a.LostSlotReason)
	assert.Equal(t, models.CandidacyExpired, f.candidacy("c-b").Status)
	assert.Len(t, f.notifier.ofType(models.NotificationPostingCancelled), 2)

	_, err = f.engine.ResolveConfirmation(f.ctx, "p-1", "c-a", true)
	assert.True(t, apperrors.IsStaleHandoff(err))

	f.clock.Advance(2 * time.Hour)
	sweep, err := f.engine.RunExpiredTimerSweep(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, sweep.Examined)
}

func TestCancelPosting_ConfirmedIsFinal(t *testing.T) {
	f := newFixture(t)
	f.createPosting("p-1", models.PostingConfirmed)

	_, err := f.engine.CancelPosting(f.ctx, "p-1")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeIllegalTransition))
}

func TestPublishPosting_OnlyFromDraft(t *testing.T) {
	f := newFixture(t)
	f.inSelection("p-1", "c-a", "pro-a", 1, baseTime.Add(time.Hour))

	_, err := f.engine.PublishPosting(f.ctx, "p-1")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeIllegalTransition))
	assert.Equal(t, models.PostingInSelection, f.posting("p-1").Status)
}
