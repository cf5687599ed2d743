package handoff

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	apperrors "substitution-engine/internal/common/errors"
	"substitution-engine/internal/common/metrics"
	"substitution-engine/internal/models"
)

// Confirmation outcomes
const (
	OutcomeConfirmed = "confirmed"
	OutcomeDeclined  = "declined"
)

// Resolution describes a successful ResolveConfirmation call.
type Resolution struct {
	PostingID     string               `json:"postingId"`
	CandidacyID   string               `json:"candidacyId"`
	Outcome       string               `json:"outcome"`
	PostingStatus models.PostingStatus `json:"postingStatus"`
	NextHolder    *models.Candidacy    `json:"nextHolder,omitempty"`
	Reopened      bool                 `json:"reopened"`
	ExpiredQueue  int                  `json:"expiredQueue,omitempty"`
	ResolvedAt    time.Time            `json:"resolvedAt"`
}

// ResolveConfirmation records the holder's answer. It fails with a NotFound
// error when the posting or candidacy does not exist (or the candidacy belongs
// to another posting) and with a StaleHandoff error when the candidacy is no
// longer the live holder: not HOLDING, posting not EM_SELECAO, or the timer
// already lapsed. A rejected call changes nothing. Repeating an answer whose
// candidacy write landed but whose posting write failed finishes that answer.
//
// Accepting confirms the candidacy, then the posting, then expires the rest of
// the queue. Declining rejects the candidacy and cascades at once without
// waiting for the sweep.
func (e *Engine) ResolveConfirmation(ctx context.Context, postingID, candidacyID string, accept bool) (*Resolution, error) {
	ctx, span := tracer.Start(ctx, "handoff.ResolveConfirmation")
	defer span.End()
	span.SetAttributes(
		attribute.String("posting.id", postingID),
		attribute.String("candidacy.id", candidacyID),
		attribute.Bool("accept", accept),
	)

	res, err := e.resolveConfirmation(ctx, postingID, candidacyID, accept)
	if err != nil {
		code := apperrors.CodeOf(err)
		metrics.ConfirmationsTotal.WithLabelValues(confirmationFailureLabel(code)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, string(code))

		fields := map[string]interface{}{
			"postingId":   postingID,
			"candidacyId": candidacyID,
			"accept":      accept,
			"errorCode":   string(code),
			"error":       err.Error(),
		}
		if code == apperrors.ErrCodeStaleHandoff || code == apperrors.ErrCodeNotFound {
			e.logger.Info("confirmation rejected", fields)
		} else {
			e.logger.Error("confirmation failed", fields)
		}
		return nil, err
	}

	metrics.ConfirmationsTotal.WithLabelValues(res.Outcome).Inc()
	return res, nil
}

func confirmationFailureLabel(code apperrors.ErrorCode) string {
	switch code {
	case apperrors.ErrCodeStaleHandoff:
		return "stale"
	case apperrors.ErrCodeNotFound:
		return "not_found"
	case apperrors.ErrCodeInvalidInput:
		return "invalid"
	default:
		return "failed"
	}
}

func (e *Engine) resolveConfirmation(ctx context.Context, postingID, candidacyID string, accept bool) (*Resolution, error) {
	if postingID == "" || candidacyID == "" {
		return nil, apperrors.NewInvalidInputError("postingId and candidacyId are required")
	}
	now := e.clock.Now()

	posting, err := e.getPosting(ctx, postingID)
	if err != nil {
		return nil, err
	}
	candidacy, err := e.getCandidacy(ctx, candidacyID)
	if err != nil {
		return nil, err
	}
	if candidacy.PostingID != posting.ID {
		return nil, apperrors.NewNotFoundError("candidacy", candidacyID).
			WithMetadata("postingId", postingID)
	}

	if res, ok, err := e.resumeAnswer(ctx, posting, candidacy, accept, now); ok {
		return res, err
	}
	if err := checkLiveHolder(posting, candidacy, now); err != nil {
		return nil, err
	}

	if accept {
		return e.accept(ctx, posting, candidacy, now)
	}
	return e.decline(ctx, posting, candidacy, now)
}

// checkLiveHolder reports a StaleHandoff error unless candidacy is the
// current, unexpired holder of posting.
func checkLiveHolder(posting *models.Posting, candidacy *models.Candidacy, now time.Time) error {
	stale := func(details string) error {
		return apperrors.NewStaleHandoffError(details).
			WithMetadata("postingId", posting.ID).
			WithMetadata("candidacyId", candidacy.ID).
			WithMetadata("candidacyStatus", string(candidacy.Status)).
			WithMetadata("postingStatus", string(posting.Status))
	}

	switch {
	case candidacy.Status != models.CandidacyHolding:
		return stale("candidacy is " + string(candidacy.Status) + ", not the current holder")
	case posting.Status != models.PostingInSelection:
		return stale("posting is " + string(posting.Status) + ", not in selection")
	case posting.ConfirmationTimerExpiresAt == nil || posting.TimerExpired(now) || candidacy.TimerExpired(now):
		return stale("confirmation window has elapsed")
	case posting.ChosenCandidateID == nil || *posting.ChosenCandidateID != candidacy.ProfessionalID:
		return stale("posting is held by another candidate")
	}
	return nil
}

// resumeAnswer finishes a repeated answer whose candidacy write committed on
// an earlier call but whose posting write did not. ok is false when there is
// nothing to resume.
func (e *Engine) resumeAnswer(ctx context.Context, posting *models.Posting, candidacy *models.Candidacy, accept bool, now time.Time) (*Resolution, bool, error) {
	if posting.Status != models.PostingInSelection ||
		posting.ChosenCandidateID == nil || *posting.ChosenCandidateID != candidacy.ProfessionalID {
		return nil, false, nil
	}

	switch {
	case accept && candidacy.Status == models.CandidacyConfirmed:
		e.logger.Info("resuming confirmation left half-applied", map[string]interface{}{
			"postingId":   posting.ID,
			"candidacyId": candidacy.ID,
		})
		res, err := e.completeAccept(ctx, posting, candidacy, now)
		return res, true, err
	case !accept && candidacy.Status == models.CandidacyRejected:
		e.logger.Info("resuming decline left half-applied", map[string]interface{}{
			"postingId":   posting.ID,
			"candidacyId": candidacy.ID,
		})
		res, err := e.completeDecline(ctx, posting, candidacy, now)
		return res, true, err
	}
	return nil, false, nil
}

func (e *Engine) accept(ctx context.Context, posting *models.Posting, holder *models.Candidacy, now time.Time) (*Resolution, error) {
	confirmedAt := now
	confirmed := *holder
	confirmed.Status = models.CandidacyConfirmed
	confirmed.ConfirmedAt = &confirmedAt
	confirmed.UpdatedAt = now

	if err := e.updateCandidacy(ctx, &confirmed, models.CandidacyHolding); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, apperrors.NewStaleHandoffError("slot was reassigned before the confirmation landed").
				WithMetadata("postingId", posting.ID).
				WithMetadata("candidacyId", holder.ID)
		}
		return nil, err
	}

	// From here the confirmation stands. If the posting write fails a
	// repeated accept or the sweep completes it.
	return e.completeAccept(ctx, posting, &confirmed, now)
}

func (e *Engine) completeAccept(ctx context.Context, posting *models.Posting, confirmed *models.Candidacy, now time.Time) (*Resolution, error) {
	finalized, err := e.finalizeConfirmation(ctx, posting, confirmed, now, SourceConfirmation)
	if err != nil {
		return nil, err
	}

	e.logger.Info("holder confirmed the slot", map[string]interface{}{
		"postingId":      finalized.ID,
		"candidacyId":    confirmed.ID,
		"professionalId": confirmed.ProfessionalID,
	})

	e.notify(ctx, slotConfirmed(finalized, confirmed))
	e.notify(ctx, clinicHolderConfirmed(finalized, confirmed))
	expired := e.closeQueue(ctx, finalized, now, models.ReasonPostingFilled, models.NotificationPostingFilled, SourceConfirmation)

	return &Resolution{
		PostingID:     finalized.ID,
		CandidacyID:   confirmed.ID,
		Outcome:       OutcomeConfirmed,
		PostingStatus: finalized.Status,
		ExpiredQueue:  expired,
		ResolvedAt:    now,
	}, nil
}

func (e *Engine) decline(ctx context.Context, posting *models.Posting, holder *models.Candidacy, now time.Time) (*Resolution, error) {
	rejected, err := e.demote(ctx, holder, models.CandidacyRejected, models.ReasonDeclined, now)
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, apperrors.NewStaleHandoffError("slot was reassigned before the decline landed").
				WithMetadata("postingId", posting.ID).
				WithMetadata("candidacyId", holder.ID)
		}
		return nil, err
	}

	e.logger.Info("holder declined the slot", map[string]interface{}{
		"postingId":      posting.ID,
		"candidacyId":    rejected.ID,
		"professionalId": rejected.ProfessionalID,
	})
	e.publish(ctx, candidacyEvent(models.EventDeclined, SourceConfirmation, posting, rejected))
	return e.completeDecline(ctx, posting, rejected, now)
}

func (e *Engine) completeDecline(ctx context.Context, posting *models.Posting, rejected *models.Candidacy, now time.Time) (*Resolution, error) {
	adv, err := e.advanceQueue(ctx, posting, now, SourceConfirmation)
	if err != nil {
		// The decline itself committed; a repeated decline or the sweep
		// re-runs the advance.
		e.logger.Error("cascade after decline failed", map[string]interface{}{
			"postingId": posting.ID,
			"error":     err.Error(),
		})
		return nil, err
	}

	return &Resolution{
		PostingID:     posting.ID,
		CandidacyID:   rejected.ID,
		Outcome:       OutcomeDeclined,
		PostingStatus: posting.Status,
		NextHolder:    adv.promoted,
		Reopened:      adv.outcome == outcomeReopened,
		ResolvedAt:    now,
	}, nil
}
