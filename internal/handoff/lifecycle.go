package handoff

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	apperrors "substitution-engine/internal/common/errors"
	"substitution-engine/internal/models"
)

// Selection is the result of SelectInitialCandidate.
type Selection struct {
	PostingID     string               `json:"postingId"`
	PostingStatus models.PostingStatus `json:"postingStatus"`
	Holder        *models.Candidacy    `json:"holder,omitempty"`
}

// Cancellation is the result of CancelPosting.
type Cancellation struct {
	PostingID      string `json:"postingId"`
	HolderReleased bool   `json:"holderReleased"`
	ExpiredQueue   int    `json:"expiredQueue"`
}

// PublishPosting moves a DRAFT posting to OPEN so candidates can apply and a
// holder can be selected.
func (e *Engine) PublishPosting(ctx context.Context, postingID string) (*models.Posting, error) {
	ctx, span := tracer.Start(ctx, "handoff.PublishPosting")
	defer span.End()
	span.SetAttributes(attribute.String("posting.id", postingID))

	posting, err := e.getPosting(ctx, postingID)
	if err != nil {
		return nil, err
	}
	if posting.Status == models.PostingOpen {
		return posting, nil
	}
	if err := models.ValidatePostingTransition(posting.Status, models.PostingOpen); err != nil {
		return nil, err
	}
	if posting.Status != models.PostingDraft {
		return nil, apperrors.NewIllegalTransitionError("posting", string(posting.Status), string(models.PostingOpen))
	}

	now := e.clock.Now()
	updated := *posting
	updated.Status = models.PostingOpen
	updated.UpdatedAt = now
	if err := e.updatePosting(ctx, &updated, posting.Version); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, apperrors.NewStaleHandoffError("posting changed while publishing").
				WithMetadata("postingId", postingID)
		}
		return nil, err
	}

	e.publish(ctx, postingEvent(models.EventPublished, SourcePublication, &updated))
	return &updated, nil
}

// Apply enqueues a professional on a posting at the next queue position.
// A professional may hold at most one candidacy per posting.
func (e *Engine) Apply(ctx context.Context, postingID, professionalID string) (*models.Candidacy, error) {
	ctx, span := tracer.Start(ctx, "handoff.Apply")
	defer span.End()
	span.SetAttributes(
		attribute.String("posting.id", postingID),
		attribute.String("professional.id", professionalID),
	)

	if strings.TrimSpace(postingID) == "" || strings.TrimSpace(professionalID) == "" {
		return nil, apperrors.NewInvalidInputError("postingId and professionalId are required")
	}

	posting, err := e.getPosting(ctx, postingID)
	if err != nil {
		return nil, err
	}
	if posting.Status.IsTerminal() {
		return nil, apperrors.NewIllegalTransitionError("posting", string(posting.Status), "apply").
			WithMetadata("postingId", postingID)
	}

	var lastErr error
	for attempt := 0; attempt < maxPostingRetries; attempt++ {
		existing, err := e.findCandidacies(ctx, CandidacyFilter{PostingID: postingID})
		if err != nil {
			return nil, err
		}
		for _, c := range existing {
			if c.ProfessionalID == professionalID {
				return nil, apperrors.NewDuplicateCandidacyError(postingID, professionalID)
			}
		}

		now := e.clock.Now()
		candidacy := &models.Candidacy{
			ID:             uuid.NewString(),
			PostingID:      postingID,
			ProfessionalID: professionalID,
			QueuePosition:  NextQueuePosition(existing),
			Status:         models.CandidacyWaiting,
			CreatedAt:      now,
			UpdatedAt:      now,
		}

		lastErr = e.createCandidacy(ctx, candidacy)
		if lastErr == nil {
			e.logger.Info("candidacy enqueued", map[string]interface{}{
				"postingId":      postingID,
				"candidacyId":    candidacy.ID,
				"professionalId": professionalID,
				"queuePosition":  candidacy.QueuePosition,
			})
			e.publish(ctx, candidacyEvent(models.EventApplied, SourceApplication, posting, candidacy))
			return candidacy, nil
		}
		if !errors.Is(lastErr, ErrConflict) {
			return nil, lastErr
		}
	}
	return nil, apperrors.NewPersistenceError("create candidacy", lastErr)
}

// SelectInitialCandidate starts the handoff on an OPEN posting by promoting
// the best WAITING candidate. With an empty queue the posting stays OPEN.
func (e *Engine) SelectInitialCandidate(ctx context.Context, postingID string) (*Selection, error) {
	ctx, span := tracer.Start(ctx, "handoff.SelectInitialCandidate")
	defer span.End()
	span.SetAttributes(attribute.String("posting.id", postingID))

	posting, err := e.getPosting(ctx, postingID)
	if err != nil {
		return nil, err
	}
	if posting.Status != models.PostingOpen {
		return nil, apperrors.NewIllegalTransitionError("posting", string(posting.Status), string(models.PostingInSelection))
	}

	adv, err := e.advanceQueue(ctx, posting, e.clock.Now(), SourceSelection)
	if err != nil {
		return nil, err
	}
	if adv.outcome == outcomeConflict {
		return nil, apperrors.NewStaleHandoffError("posting changed while selecting a candidate").
			WithMetadata("postingId", postingID)
	}

	return &Selection{
		PostingID:     posting.ID,
		PostingStatus: posting.Status,
		Holder:        adv.promoted,
	}, nil
}

// CancelPosting withdraws a posting. The holder, if any, loses the slot and
// every waiting candidate is expired. Confirmed postings cannot be cancelled.
func (e *Engine) CancelPosting(ctx context.Context, postingID string) (*Cancellation, error) {
	ctx, span := tracer.Start(ctx, "handoff.CancelPosting")
	defer span.End()
	span.SetAttributes(attribute.String("posting.id", postingID))

	posting, err := e.getPosting(ctx, postingID)
	if err != nil {
		return nil, err
	}

	now := e.clock.Now()
	var cancelled *models.Posting
	for attempt := 0; attempt < maxPostingRetries && cancelled == nil; attempt++ {
		if posting.Status == models.PostingCancelled {
			cancelled = posting
			break
		}
		if err := models.ValidatePostingTransition(posting.Status, models.PostingCancelled); err != nil {
			return nil, err
		}

		updated := *posting
		updated.Status = models.PostingCancelled
		updated.ClearHolder()
		updated.UpdatedAt = now

		err := e.updatePosting(ctx, &updated, posting.Version)
		switch {
		case err == nil:
			cancelled = &updated
		case errors.Is(err, ErrConflict):
			if posting, err = e.getPosting(ctx, postingID); err != nil {
				return nil, err
			}
		default:
			return nil, err
		}
	}
	if cancelled == nil {
		return nil, apperrors.NewPersistenceError("cancel posting", ErrConflict)
	}

	e.publish(ctx, postingEvent(models.EventCancelled, SourceCancellation, cancelled))

	result := &Cancellation{PostingID: postingID}
	// Queue first: a promotion racing this cancel either loses its candidate
	// to the expiry or lands before the holder pass below picks it up.
	result.ExpiredQueue = e.closeQueue(ctx, cancelled, now, models.ReasonPostingCanceled, models.NotificationPostingCancelled, SourceCancellation)
	result.HolderReleased = e.releaseHolders(ctx, cancelled)

	e.logger.Info("posting cancelled", map[string]interface{}{
		"postingId":      postingID,
		"holderReleased": result.HolderReleased,
		"expiredQueue":   result.ExpiredQueue,
	})
	return result, nil
}

// releaseHolders demotes any HOLDING candidacy of a cancelled posting.
func (e *Engine) releaseHolders(ctx context.Context, posting *models.Posting) bool {
	holders, err := e.findCandidacies(ctx, CandidacyFilter{
		PostingID: posting.ID,
		Statuses:  []models.CandidacyStatus{models.CandidacyHolding},
	})
	if err != nil {
		e.logger.Warn("could not load holder of cancelled posting", map[string]interface{}{
			"postingId": posting.ID,
			"error":     err.Error(),
		})
		return false
	}

	released := false
	now := e.clock.Now()
	for i := range holders {
		demoted, err := e.demote(ctx, &holders[i], models.CandidacyLostSlot, models.ReasonPostingCanceled, now)
		if err != nil {
			if !errors.Is(err, ErrConflict) {
				e.logger.Warn("could not release holder of cancelled posting", map[string]interface{}{
					"postingId":   posting.ID,
					"candidacyId": holders[i].ID,
					"error":       err.Error(),
				})
			}
			continue
		}
		released = true
		e.publish(ctx, candidacyEvent(models.EventLostSlot, SourceCancellation, posting, demoted))
		e.notify(ctx, queueClosed(posting, demoted, models.NotificationPostingCancelled))
	}
	return released
}
