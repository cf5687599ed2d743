package handoff

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	apperrors "substitution-engine/internal/common/errors"
	"substitution-engine/internal/common/metrics"
	"substitution-engine/internal/models"
)

// SweepResult summarises one RunExpiredTimerSweep call. ProcessedCount counts
// postings whose queue actually advanced, either to a new holder or back to
// OPEN. Postings another actor handled first are Skipped, not processed.
type SweepResult struct {
	ProcessedCount int           `json:"processedCount"`
	Examined       int           `json:"examined"`
	Promoted       int           `json:"promoted"`
	Reopened       int           `json:"reopened"`
	Healed         int           `json:"healed"`
	Skipped        int           `json:"skipped"`
	Failed         int           `json:"failed"`
	SweptAt        time.Time     `json:"sweptAt"`
	Duration       time.Duration `json:"duration"`
}

// RunExpiredTimerSweep finds every EM_SELECAO posting whose confirmation
// timer has lapsed and cascades it. Each posting is handled in isolation: a
// failure is logged and counted, then the sweep moves on. Running it twice
// back to back is safe; the second run finds nothing to do.
func (e *Engine) RunExpiredTimerSweep(ctx context.Context) (*SweepResult, error) {
	ctx, span := tracer.Start(ctx, "handoff.RunExpiredTimerSweep")
	defer span.End()

	started := time.Now()
	now := e.clock.Now()

	expired, err := e.findPostings(ctx, PostingFilter{
		Statuses:       []models.PostingStatus{models.PostingInSelection},
		TimerExpiredAt: &now,
		Limit:          e.cfg.SweepBatchSize,
	})
	if err != nil {
		metrics.SweepsTotal.WithLabelValues("failed").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "listing expired postings failed")
		e.logger.Error("sweep could not list expired postings", map[string]interface{}{
			"error": err.Error(),
		})
		return nil, err
	}

	result := &SweepResult{Examined: len(expired), SweptAt: now}

	for i := range expired {
		if ctx.Err() != nil {
			break
		}
		p := expired[i]

		out, err := e.cascadeSafely(ctx, &p, now)
		if err != nil {
			result.Failed++
			metrics.CascadesTotal.WithLabelValues("failed").Inc()
			e.logger.Error("cascade failed, posting left for the next sweep", map[string]interface{}{
				"postingId": p.ID,
				"errorCode": string(apperrors.CodeOf(err)),
				"error":     err.Error(),
			})
			continue
		}

		metrics.CascadesTotal.WithLabelValues(string(out)).Inc()
		switch out {
		case outcomePromoted:
			result.ProcessedCount++
			result.Promoted++
		case outcomeReopened:
			result.ProcessedCount++
			result.Reopened++
		case outcomeConfirmed:
			result.Healed++
		default:
			result.Skipped++
		}
	}

	result.Duration = time.Since(started)
	metrics.SweepDuration.Observe(result.Duration.Seconds())
	metrics.SweepsTotal.WithLabelValues("ok").Inc()

	span.SetAttributes(
		attribute.Int("sweep.examined", result.Examined),
		attribute.Int("sweep.processed", result.ProcessedCount),
		attribute.Int("sweep.failed", result.Failed),
	)

	e.logger.Info("expired timer sweep finished", map[string]interface{}{
		"examined":       result.Examined,
		"processedCount": result.ProcessedCount,
		"promoted":       result.Promoted,
		"reopened":       result.Reopened,
		"healed":         result.Healed,
		"skipped":        result.Skipped,
		"failed":         result.Failed,
		"durationMs":     result.Duration.Milliseconds(),
	})

	return result, ctx.Err()
}

func (e *Engine) cascadeSafely(ctx context.Context, p *models.Posting, now time.Time) (out outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.NewInternalError(fmt.Errorf("panic cascading posting %s: %v", p.ID, r))
		}
	}()
	return e.cascadeExpired(ctx, p, now)
}

// cascadeExpired handles one posting whose timer lapsed.
func (e *Engine) cascadeExpired(ctx context.Context, posting *models.Posting, now time.Time) (outcome, error) {
	if posting.Status != models.PostingInSelection || !posting.TimerExpired(now) {
		return outcomeSkipped, nil
	}
	log := e.logger.WithFields(map[string]interface{}{"postingId": posting.ID})

	current, err := e.findCandidacies(ctx, CandidacyFilter{
		PostingID: posting.ID,
		Statuses:  []models.CandidacyStatus{models.CandidacyHolding, models.CandidacyConfirmed},
	})
	if err != nil {
		return "", err
	}

	var holder, confirmed *models.Candidacy
	for i := range current {
		switch current[i].Status {
		case models.CandidacyHolding:
			holder = &current[i]
		case models.CandidacyConfirmed:
			confirmed = &current[i]
		}
	}

	if confirmed != nil {
		// The holder accepted but the posting write never landed.
		log.Warn("confirmed candidacy on an unconfirmed posting, finishing confirmation", map[string]interface{}{
			"candidacyId": confirmed.ID,
		})
		finalized, err := e.finalizeConfirmation(ctx, posting, confirmed, now, SourceSweep)
		if err != nil {
			return "", err
		}
		e.closeQueue(ctx, finalized, now, models.ReasonPostingFilled, models.NotificationPostingFilled, SourceSweep)
		return outcomeConfirmed, nil
	}

	if holder == nil {
		log.Warn("expired posting has no holder, re-running queue advance", nil)
		res, err := e.advanceQueue(ctx, posting, now, SourceSweep)
		return res.outcome, err
	}

	if holder.TimerEndsAt != nil && !holder.TimerExpired(now) {
		// Read of the posting predates a cascade that already promoted this holder.
		return outcomeSkipped, nil
	}

	demoted, err := e.demote(ctx, holder, models.CandidacyLostSlot, models.ReasonTimerExpired, now)
	if errors.Is(err, ErrConflict) {
		log.Info("holder already resolved by another actor", map[string]interface{}{
			"candidacyId": holder.ID,
		})
		return outcomeConflict, nil
	}
	if err != nil {
		return "", err
	}

	log.Info("holder lost the slot on timer expiry", map[string]interface{}{
		"candidacyId":    demoted.ID,
		"professionalId": demoted.ProfessionalID,
	})
	e.publish(ctx, candidacyEvent(models.EventLostSlot, SourceSweep, posting, demoted))
	e.notify(ctx, slotLost(posting, demoted))

	res, err := e.advanceQueue(ctx, posting, now, SourceSweep)
	return res.outcome, err
}
