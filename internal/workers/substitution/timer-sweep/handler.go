// internal/workers/substitution/timer-sweep/handler.go
package timersweep

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

const TaskType = "substitution-timer-sweep"

// Sweeper runs one expired-timer sweep.
type Sweeper interface {
	RunExpiredTimerSweep(ctx context.Context) (*handoff.SweepResult, error)
}

type Handler struct {
	config       *Config
	sweeper      Sweeper
	activity     *registry.Activity
	errorHandler *apperrors.ErrorHandler
	logger       logger.Logger
}

// NewHandler builds the worker. activity may be nil, which skips input
// schema validation.
func NewHandler(config *Config, sweeper Sweeper, activity *registry.Activity, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		sweeper:      sweeper,
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
	result, err := h.sweeper.RunExpiredTimerSweep(ctx)
	if err != nil && result == nil {
		return nil, err
	}
	if err != nil {
		// interrupted mid-batch: the next tick picks up the rest
		h.logger.Warn("sweep interrupted", map[string]interface{}{
			"requestId":      input.RequestID,
			"processedCount": result.ProcessedCount,
			"error":          err.Error(),
		})
	}

	return &Output{
		ProcessedCount: result.ProcessedCount,
		Promoted:       result.Promoted,
		Reopened:       result.Reopened,
		Failed:         result.Failed,
		SweptAt:        result.SweptAt.UTC().Format(time.RFC3339),
	}, nil
}

func (h *Handler) parseInput(variables string) (*Input, error) {
	raw := map[string]interface{}{}
	if variables != "" {
		if err := json.Unmarshal([]byte(variables), &raw); err != nil {
			return nil, apperrors.NewInvalidInputError(fmt.Sprintf("parse input: %v", err))
		}
	}
	if h.activity != nil {
		if result := validation.ValidateInput(raw, h.activity.InputSchema); !result.Valid {
			return nil, apperrors.NewInvalidInputError(fmt.Sprintf("%v", result.GetErrorMessages()))
		}
	}

	input := &Input{}
	if id, ok := raw["requestId"].(string); ok {
		input.RequestID = id
	}
	return input, nil
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
