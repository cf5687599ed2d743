package handoff

import (
	"context"
	"errors"
	"time"

	apperrors "substitution-engine/internal/common/errors"
	"substitution-engine/internal/models"
)

type outcome string

const (
	outcomePromoted  outcome = "promoted"
	outcomeReopened  outcome = "reopened"
	outcomeConfirmed outcome = "healed_confirmation"
	outcomeConflict  outcome = "conflict"
	outcomeSkipped   outcome = "skipped"
	outcomeIdle      outcome = "idle"
)

const maxPostingRetries = 3

type advanceResult struct {
	outcome  outcome
	promoted *models.Candidacy
}

// advanceQueue hands the posting to the best WAITING candidate, or returns it
// to OPEN when nobody is left.
//
// The posting is written first, conditioned on its version. Only the actor
// that wins that write goes on to promote a candidate, so two actors that
// both saw the holder leave can never promote two different candidates.
// Losing the posting write means someone else moved the posting and owns the
// rest of the cascade.
func (e *Engine) advanceQueue(ctx context.Context, posting *models.Posting, now time.Time, source string) (advanceResult, error) {
	log := e.logger.WithFields(map[string]interface{}{"postingId": posting.ID, "source": source})
	tried := make(map[string]bool)

	for {
		waiting, err := e.findCandidacies(ctx, CandidacyFilter{
			PostingID: posting.ID,
			Statuses:  []models.CandidacyStatus{models.CandidacyWaiting},
		})
		if err != nil {
			return advanceResult{}, err
		}

		next, ok := NextInLine(waiting, tried)
		if !ok {
			return e.reopen(ctx, posting, now, source)
		}

		if err := models.ValidatePostingTransition(posting.Status, models.PostingInSelection); err != nil {
			return advanceResult{}, err
		}

		chosenAt := now
		timerEnds := now.Add(e.cfg.ConfirmationWindow)
		professionalID := next.ProfessionalID

		updated := *posting
		updated.Status = models.PostingInSelection
		updated.ChosenCandidateID = &professionalID
		updated.ChosenAt = &chosenAt
		updated.ConfirmationTimerExpiresAt = &timerEnds
		updated.UpdatedAt = now

		if err := e.updatePosting(ctx, &updated, posting.Version); err != nil {
			if errors.Is(err, ErrConflict) {
				log.Info("posting moved by another actor, leaving cascade to them", nil)
				return advanceResult{outcome: outcomeConflict}, nil
			}
			return advanceResult{}, err
		}
		*posting = updated

		promoted := next
		promoted.Status = models.CandidacyHolding
		promoted.ChosenAt = &chosenAt
		promoted.TimerStartedAt = &chosenAt
		promoted.TimerEndsAt = &timerEnds
		promoted.LostSlotReason = ""
		promoted.UpdatedAt = now

		err = e.updateCandidacy(ctx, &promoted, models.CandidacyWaiting)
		if errors.Is(err, ErrConflict) {
			log.Warn("candidate left the queue before promotion, trying the next one", map[string]interface{}{
				"candidacyId": next.ID,
			})
			tried[next.ID] = true

			fresh, err := e.getPosting(ctx, posting.ID)
			if err != nil {
				return advanceResult{}, err
			}
			if fresh.Version != posting.Version || fresh.Status.IsTerminal() {
				return advanceResult{outcome: outcomeConflict}, nil
			}
			*posting = *fresh
			continue
		}
		if err != nil {
			// The posting now names a holder that was never promoted. Once its
			// timer lapses the sweep finds no HOLDING candidacy and re-runs
			// this advance.
			return advanceResult{}, err
		}

		log.Info("candidate promoted to holder", map[string]interface{}{
			"candidacyId":    promoted.ID,
			"professionalId": promoted.ProfessionalID,
			"queuePosition":  promoted.QueuePosition,
			"timerEndsAt":    timerEnds,
		})

		e.publish(ctx, candidacyEvent(models.EventPromoted, source, posting, &promoted))
		e.notify(ctx, slotOffered(posting, &promoted))

		return advanceResult{outcome: outcomePromoted, promoted: &promoted}, nil
	}
}

// reopen returns an exhausted posting to OPEN with no holder and no timer.
func (e *Engine) reopen(ctx context.Context, posting *models.Posting, now time.Time, source string) (advanceResult, error) {
	if posting.Status == models.PostingOpen && !posting.HasHolder() {
		return advanceResult{outcome: outcomeIdle}, nil
	}
	if err := models.ValidatePostingTransition(posting.Status, models.PostingOpen); err != nil {
		return advanceResult{}, err
	}

	updated := *posting
	updated.Status = models.PostingOpen
	updated.ClearHolder()
	updated.UpdatedAt = now

	if err := e.updatePosting(ctx, &updated, posting.Version); err != nil {
		if errors.Is(err, ErrConflict) {
			return advanceResult{outcome: outcomeConflict}, nil
		}
		return advanceResult{}, err
	}
	*posting = updated

	e.logger.Info("queue exhausted, posting reopened", map[string]interface{}{
		"postingId": posting.ID,
		"source":    source,
	})

	e.publish(ctx, postingEvent(models.EventReopened, source, posting))
	e.notify(ctx, clinicReopened(posting))

	return advanceResult{outcome: outcomeReopened}, nil
}

// finalizeConfirmation moves the posting to CONFIRMADA for an already
// CONFIRMED candidacy. A posting that is already CONFIRMADA counts as done.
func (e *Engine) finalizeConfirmation(ctx context.Context, posting *models.Posting, confirmed *models.Candidacy, now time.Time, source string) (*models.Posting, error) {
	current := posting
	for attempt := 0; attempt < maxPostingRetries; attempt++ {
		if current.Status == models.PostingConfirmed {
			return current, nil
		}
		if err := models.ValidatePostingTransition(current.Status, models.PostingConfirmed); err != nil {
			return nil, apperrors.NewStaleHandoffError("posting is " + string(current.Status)).
				WithMetadata("postingId", current.ID)
		}

		confirmedAt := now
		professionalID := confirmed.ProfessionalID

		updated := *current
		updated.Status = models.PostingConfirmed
		updated.ChosenCandidateID = &professionalID
		updated.ConfirmationTimerExpiresAt = nil
		updated.ConfirmedAt = &confirmedAt
		updated.UpdatedAt = now

		err := e.updatePosting(ctx, &updated, current.Version)
		if err == nil {
			e.publish(ctx, candidacyEvent(models.EventConfirmed, source, &updated, confirmed))
			return &updated, nil
		}
		if !errors.Is(err, ErrConflict) {
			return nil, err
		}

		current, err = e.getPosting(ctx, posting.ID)
		if err != nil {
			return nil, err
		}
	}
	return nil, apperrors.NewPersistenceError("confirm posting", ErrConflict)
}

// closeQueue moves every WAITING candidacy of a finished posting to EXPIRED
// and tells each one why. Failures are logged; a left-over WAITING row on a
// terminal posting is never promoted.
func (e *Engine) closeQueue(ctx context.Context, posting *models.Posting, now time.Time, reason, notificationType, source string) int {
	waiting, err := e.findCandidacies(ctx, CandidacyFilter{
		PostingID: posting.ID,
		Statuses:  []models.CandidacyStatus{models.CandidacyWaiting},
	})
	if err != nil {
		e.logger.Warn("could not load waiting candidacies to close the queue", map[string]interface{}{
			"postingId": posting.ID,
			"error":     err.Error(),
		})
		return 0
	}

	closed := 0
	for i := range waiting {
		c := waiting[i]
		c.Status = models.CandidacyExpired
		c.LostSlotReason = reason
		c.UpdatedAt = now

		if err := e.updateCandidacy(ctx, &c, models.CandidacyWaiting); err != nil {
			if !errors.Is(err, ErrConflict) {
				e.logger.Warn("could not expire waiting candidacy", map[string]interface{}{
					"postingId":   posting.ID,
					"candidacyId": c.ID,
					"error":       err.Error(),
				})
			}
			continue
		}
		closed++
		e.publish(ctx, candidacyEvent(models.EventLostSlot, source, posting, &c))
		e.notify(ctx, queueClosed(posting, &c, notificationType))
	}
	return closed
}

// demote moves a holder out of HOLDING into a terminal status, clearing its
// timer fields. It returns ErrConflict if the holder already moved.
func (e *Engine) demote(ctx context.Context, holder *models.Candidacy, to models.CandidacyStatus, reason string, now time.Time) (*models.Candidacy, error) {
	demoted := *holder
	demoted.Status = to
	demoted.LostSlotReason = reason
	demoted.ChosenAt = nil
	demoted.TimerStartedAt = nil
	demoted.TimerEndsAt = nil
	demoted.UpdatedAt = now

	if err := e.updateCandidacy(ctx, &demoted, models.CandidacyHolding); err != nil {
		return nil, err
	}
	return &demoted, nil
}
