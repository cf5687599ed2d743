// internal/common/camunda/worker.go
package camunda

import (
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"

	"substitution-engine/internal/common/config"
	"substitution-engine/internal/common/logger"
	"substitution-engine/internal/common/metrics"
)

// JobHandler is implemented by every task worker.
type JobHandler interface {
	Handle(client worker.JobClient, job entities.Job)
}

// Workers tracks the job workers opened by StartWorker.
type Workers struct {
	client zbc.Client
	open   []worker.JobWorker
	logger logger.Logger
}

func NewWorkers(client zbc.Client, log logger.Logger) *Workers {
	return &Workers{client: client, logger: log}
}

// StartWorker opens a job worker for taskType unless it is disabled.
func (w *Workers) StartWorker(taskType string, wcfg config.WorkerConfig, handler JobHandler) {
	if !wcfg.Enabled {
		w.logger.Info("worker disabled", map[string]interface{}{"taskType": taskType})
		return
	}

	jobWorker := w.client.NewJobWorker().
		JobType(taskType).
		Handler(instrument(taskType, handler)).
		MaxJobsActive(wcfg.MaxJobsActive).
		Timeout(config.GetDuration(wcfg.Timeout)).
		Open()
	w.open = append(w.open, jobWorker)

	w.logger.Info("worker started", map[string]interface{}{
		"taskType":      taskType,
		"maxJobsActive": wcfg.MaxJobsActive,
		"timeout_ms":    wcfg.Timeout,
	})
}

// Close stops polling and waits for in-flight jobs.
func (w *Workers) Close() {
	for _, jw := range w.open {
		jw.Close()
		jw.AwaitClose()
	}
	w.open = nil
}

func instrument(taskType string, handler JobHandler) worker.JobHandler {
	return func(client worker.JobClient, job entities.Job) {
		start := time.Now()
		handler.Handle(client, job)
		metrics.WorkerJobDuration.WithLabelValues(taskType).Observe(time.Since(start).Seconds())
	}
}
