// cmd/substitution-engine/app.go
package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"substitution-engine/internal/api"
	awsclient "substitution-engine/internal/common/aws"
	"substitution-engine/internal/common/config"
	"substitution-engine/internal/common/database"
	"substitution-engine/internal/common/logger"
	"substitution-engine/internal/common/messaging"
	"substitution-engine/internal/common/observability"
	"substitution-engine/internal/events"
	"substitution-engine/internal/handoff"
	"substitution-engine/internal/notification"
	"substitution-engine/internal/store/memory"
	"substitution-engine/internal/store/postgres"
)

// app holds the engine and every connection it was built from.
type app struct {
	cfg      *config.Config
	zapLog   *zap.Logger
	log      logger.Logger
	obs      *observability.Observability
	engine   *handoff.Engine
	pg       *database.PostgresClient
	checkers []api.Checker
	closers  []func() error
}

type appOptions struct {
	// notifications and events are skipped for schema-only commands
	withSideEffects bool
}

func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	log := logger.NewZapAdapter(zapLog).WithFields(map[string]interface{}{
		"service":     cfg.App.Name,
		"environment": cfg.App.Environment,
	})

	a := &app{
		cfg:    cfg,
		zapLog: zapLog,
		log:    log,
		obs:    observability.New(cfg.App.Name, log),
	}
	if err := a.build(ctx, opts); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// connectPostgres opens a pool and pings it, retrying with backoff. A pool
// whose ping fails is closed before the next attempt.
func connectPostgres(ctx context.Context, open func() (*database.PostgresClient, error), attempts int, delay time.Duration, log logger.Logger) (*database.PostgresClient, error) {
	var pg *database.PostgresClient
	err := retryWithBackoff(ctx, func() error {
		candidate, err := open()
		if err != nil {
			return err
		}
		if err := candidate.Ping(ctx); err != nil {
			candidate.Close()
			return err
		}
		pg = candidate
		return nil
	}, attempts, delay, log, "PostgreSQL connection")
	if err != nil {
		return nil, err
	}
	return pg, nil
}

func (a *app) build(ctx context.Context, opts appOptions) error {
	deps := handoff.Dependencies{Logger: a.log}
	var contacts notification.ContactSource

	switch a.cfg.Substitution.Store {
	case config.StoreMemory:
		store := memory.New()
		deps.Postings, deps.Candidacies = store, store
		a.log.Warn("using in-memory store; state is lost on exit", nil)
	default:
		pg, err := connectPostgres(ctx, func() (*database.PostgresClient, error) {
			return database.NewPostgres(a.cfg.Database.Postgres)
		}, 15, 2*time.Second, a.log)
		if err != nil {
			return err
		}
		a.pg = pg
		a.register(a.pg, a.pg.Close)
		a.log.Info("PostgreSQL connected successfully", nil)

		if a.cfg.Database.Postgres.AutoMigrate {
			if err := postgres.Migrate(ctx, a.pg.DB); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
		}
		deps.Postings = postgres.NewPostingStore(a.pg.DB, a.log)
		deps.Candidacies = postgres.NewCandidacyStore(a.pg.DB, a.log)
		contacts = postgres.NewContactStore(a.pg.DB)
	}

	if opts.withSideEffects {
		notifier, err := a.buildNotifier(ctx, contacts)
		if err != nil {
			return err
		}
		if notifier != nil {
			deps.Notifier = notifier
		}

		publisher, err := a.buildEvents(ctx)
		if err != nil {
			return err
		}
		if publisher.Len() > 0 {
			deps.Events = publisher
		}
	}

	a.engine = handoff.NewEngine(deps, handoff.Config{
		ConfirmationWindow: a.cfg.Substitution.Window(),
		StoreTimeout:       config.GetDuration(a.cfg.Substitution.StoreTimeout),
		NotifyTimeout:      config.GetDuration(a.cfg.Notifications.Timeout),
		SweepBatchSize:     a.cfg.Substitution.BatchSize,
	})
	return nil
}

func (a *app) buildNotifier(ctx context.Context, contacts notification.ContactSource) (*notification.Gateway, error) {
	n := a.cfg.Notifications
	if !n.Email.Enabled && !n.SMS.Enabled && !n.WhatsApp.Enabled && !n.Push.Enabled {
		a.log.Info("notifications disabled", nil)
		return nil, nil
	}
	if contacts == nil {
		a.log.Warn("notifications need the postgres store for contact lookup; disabled", nil)
		return nil, nil
	}

	var (
		directory *notification.Directory
		deduper   *notification.Deduper
	)
	if a.cfg.Database.Redis.Enabled {
		rdb := database.NewRedis(a.cfg.Database.Redis)
		a.register(rdb, rdb.Close)
		if err := rdb.Ping(ctx); err != nil {
			// directory and deduper fall through while redis is down
			a.log.Warn("redis unavailable at startup", map[string]interface{}{"error": err.Error()})
		}
		directory = notification.NewDirectory(contacts, rdb.Client, config.GetDuration(n.ContactCacheTTL), a.log)
		deduper = notification.NewDeduper(rdb.Client, config.GetDuration(n.DedupeTTL))
	} else {
		directory = notification.NewDirectory(contacts, nil, 0, a.log)
	}

	awsCfg, err := awsclient.LoadConfig(ctx, a.cfg.Integrations.AWS.Region)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return notification.NewGateway(notification.Config{
		EmailEnabled:     n.Email.Enabled,
		FromEmail:        n.Email.FromEmail,
		SMSEnabled:       n.SMS.Enabled,
		SenderID:         n.SMS.SenderID,
		WhatsAppEnabled:  n.WhatsApp.Enabled,
		WhatsAppTopicARN: n.WhatsApp.TopicARN,
		PushEnabled:      n.Push.Enabled,
		RatePerSecond:    n.RateLimitPerSecond,
		Burst:            n.Burst,
	}, directory, deduper, awsclient.NewSESClient(awsCfg), awsclient.NewSNSClient(awsCfg), a.log), nil
}

func (a *app) buildEvents(ctx context.Context) (*events.Fanout, error) {
	var sinks []events.Sink

	if a.cfg.Messaging.NATS.Enabled {
		var nc *messaging.NATSClient
		err := retryWithBackoff(ctx, func() error {
			var err error
			nc, err = messaging.NewNATS(a.cfg.Messaging, a.log)
			return err
		}, 5, time.Second, a.log, "NATS connection")
		if err != nil {
			return nil, err
		}
		a.register(nc, nc.Close)
		sinks = append(sinks, events.NewNATSSink(nc.Conn, a.cfg.Messaging.NATS.SubjectPrefix))
	}

	if a.cfg.Database.Elasticsearch.Enabled {
		es, err := database.NewElasticsearch(a.cfg.Database.Elasticsearch)
		if err != nil {
			return nil, err
		}
		a.checkers = append(a.checkers, es)
		sinks = append(sinks, events.NewElasticsearchSink(es.Client, a.cfg.Database.Elasticsearch.EventsIndex))
	}

	return events.NewFanout(a.log, sinks...), nil
}

// register adds a readiness check and a closer, run in reverse order.
func (a *app) register(c api.Checker, closer func() error) {
	a.checkers = append(a.checkers, c)
	a.closers = append(a.closers, closer)
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("close failed", map[string]interface{}{"error": err.Error()})
		}
	}
	a.closers = nil
	if a.obs != nil {
		a.obs.Shutdown()
	}
	_ = a.zapLog.Sync()
}
