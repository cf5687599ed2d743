// cmd/substitution-engine/serve.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"time"

	"github.com/spf13/cobra"

	"substitution-engine/internal/api"
	"substitution-engine/internal/common/camunda"
	"substitution-engine/internal/common/config"
	"substitution-engine/internal/scheduler"
	resolveconfirmation "substitution-engine/internal/workers/substitution/resolve-confirmation"
	timersweep "substitution-engine/internal/workers/substitution/timer-sweep"
	"substitution-engine/pkg/registry"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the sweep scheduler and the Zeebe job workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return fmt.Errorf("config load failed: %w", err)
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg, appOptions{withSideEffects: true})
	if err != nil {
		return err
	}
	defer a.close()
	log := a.log

	log.Info("Starting substitution engine...", map[string]interface{}{
		"store":              cfg.Substitution.Store,
		"confirmationWindow": cfg.Substitution.Window().String(),
	})

	// --- Zeebe job workers ---
	var workers *camunda.Workers
	if cfg.Camunda.Enabled {
		workers, err = startWorkers(ctx, a)
		if err != nil {
			return err
		}
		defer workers.Close()
	}

	// --- Sweep scheduler ---
	var sched *scheduler.Scheduler
	if cfg.Substitution.SweepEnabled {
		sched, err = scheduler.New(a.engine, cfg.Substitution.SweepSchedule, config.GetDuration(cfg.Substitution.SweepTimeout), log)
		if err != nil {
			return err
		}
		sched.Start()
	} else {
		log.Info("sweep scheduler disabled; sweeps run only on request", nil)
	}

	// --- HTTP ---
	mux := http.NewServeMux()
	mux.Handle("/debug/pprof/", http.DefaultServeMux)
	mux.Handle("/", api.NewRouter(api.NewHandler(a.engine, a.obs, log), a.checkers, log))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  config.GetDuration(cfg.HTTP.ReadTimeout),
		WriteTimeout: config.GetDuration(cfg.HTTP.WriteTimeout),
	}
	serverErr := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", map[string]interface{}{"addr": server.Addr})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// --- Graceful Shutdown ---
	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received, stopping...", nil)
	case err := <-serverErr:
		if err != nil {
			log.Error("HTTP server failed", map[string]interface{}{"error": err.Error()})
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.GetDuration(cfg.HTTP.ShutdownTimeout))
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP shutdown failed", map[string]interface{}{"error": err.Error()})
	}
	if sched != nil {
		if err := sched.Stop(shutdownCtx); err != nil {
			log.Error("sweep scheduler did not stop in time", map[string]interface{}{"error": err.Error()})
		}
	}

	log.Info("Substitution engine stopped", nil)
	return nil
}

func startWorkers(ctx context.Context, a *app) (*camunda.Workers, error) {
	cfg := a.cfg

	var client *camunda.Client
	err := retryWithBackoff(ctx, func() error {
		var err error
		client, err = camunda.NewClient(ctx, &camunda.ClientConfig{
			GatewayAddress:         cfg.Camunda.BrokerAddress,
			UsePlaintextConnection: true,
			ConnectionTimeout:      config.GetDuration(cfg.Camunda.RequestTimeout),
		})
		return err
	}, 10, 2*time.Second, a.log, "Zeebe client initialization")
	if err != nil {
		return nil, err
	}
	a.register(client, client.Close)
	a.log.Info("Zeebe client connected successfully", nil)

	activities, err := registry.Default()
	if err != nil {
		return nil, fmt.Errorf("load activity registry: %w", err)
	}
	if err := activities.Validate(); err != nil {
		return nil, fmt.Errorf("activity registry: %w", err)
	}
	sweepActivity, _ := activities.ByTaskType(timersweep.TaskType)
	confirmActivity, _ := activities.ByTaskType(resolveconfirmation.TaskType)

	workers := camunda.NewWorkers(client.GetClient(), a.log)
	workers.StartWorker(timersweep.TaskType,
		config.GetWorkerConfig(cfg, timersweep.TaskType),
		timersweep.NewHandler(timersweep.LoadConfig(), a.engine, sweepActivity, a.log))
	workers.StartWorker(resolveconfirmation.TaskType,
		config.GetWorkerConfig(cfg, resolveconfirmation.TaskType),
		resolveconfirmation.NewHandler(resolveconfirmation.LoadConfig(), a.engine, confirmActivity, a.log))

	return workers, nil
}
