// internal/workers/substitution/resolve-confirmation/handler.go
package resolveconfirmation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	apperrors "substitution-engine/internal/common/errors"
	"substitution-engine/internal/common/logger"
	"substitution-engine/internal/common/metrics"
	"substitution-engine/internal/common/validation"
	"substitution-engine/internal/handoff"
	"substitution-engine/pkg/registry"
)

const TaskType = "substitution-resolve-confirmation"

// Resolver applies a holder's answer.
type Resolver interface {
	ResolveConfirmation(ctx context.Context, postingID, candidacyID string, accept bool) (*handoff.Resolution, error)
}

// Handler serves the confirmation user task's answer. A stale answer is
// thrown as the STALE_HANDOFF BPMN error so the process can route it to a
// "slot no longer available" path instead of an incident.
type Handler struct {
	config       *Config
	resolver     Resolver
	activity     *registry.Activity
	errorHandler *apperrors.ErrorHandler
	logger       logger.Logger
}

func NewHandler(config *Config, resolver Resolver, activity *registry.Activity, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		resolver:     resolver,
		activity:     activity,
		errorHandler: apperrors.NewErrorHandler(log),
		logger:       log,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	input, err := h.parseInput(job.Variables)
	if err != nil {
		h.fail(ctx, client, job, err)
		return
	}

	output, err := h.execute(ctx, input)
	if err != nil {
		h.fail(ctx, client, job, err)
		return
	}

	h.completeJob(ctx, client, job, output)
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	res, err := h.resolver.ResolveConfirmation(ctx, input.PostingID, input.CandidacyID, input.Accept)
	if err != nil {
		return nil, err
	}

	out := &Output{
		Outcome:       res.Outcome,
		PostingStatus: string(res.PostingStatus),
		Reopened:      res.Reopened,
		ResolvedAt:    res.ResolvedAt.UTC().Format(time.RFC3339),
	}
	if res.NextHolder != nil {
		out.NextHolderID = res.NextHolder.ProfessionalID
	}
	return out, nil
}

func (h *Handler) parseInput(variables string) (*Input, error) {
	raw := map[string]interface{}{}
	if err := json.Unmarshal([]byte(variables), &raw); err != nil {
		return nil, apperrors.NewInvalidInputError(fmt.Sprintf("parse input: %v", err))
	}
	if h.activity != nil {
		if result := validation.ValidateInput(raw, h.activity.InputSchema); !result.Valid {
			return nil, apperrors.NewInvalidInputError(fmt.Sprintf("%v", result.GetErrorMessages()))
		}
	}

	var input Input
	if err := json.Unmarshal([]byte(variables), &input); err != nil {
		return nil, apperrors.NewInvalidInputError(fmt.Sprintf("parse input: %v", err))
	}
	return &input, nil
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
}

func (h *Handler) fail(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(apperrors.CodeOf(err))).Inc()
	h.errorHandler.HandleJobError(ctx, client, job, err)
}
