// Package handoff implements the urgent substitution queue: the timer-driven
// cascade that moves the exclusive right to confirm a posting down its ranked
// candidate queue, and the confirmation handler that races against it.
//
// All state lives in the record store. Every status change is a conditional
// write (candidacies by expected status, postings by expected version), so the
// sweep and interactive confirmations can run concurrently from any number of
// processes without locks.
package handoff

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	apperrors "substitution-engine/internal/common/errors"
	"substitution-engine/internal/common/logger"
	"substitution-engine/internal/models"
)

const (
	DefaultConfirmationWindow = time.Hour
	DefaultStoreTimeout       = 5 * time.Second
	DefaultNotifyTimeout      = 10 * time.Second
	DefaultSweepBatchSize     = 500
)

// Event sources
const (
	SourceSweep        = "sweep"
	SourceConfirmation = "confirmation"
	SourceSelection    = "selection"
	SourceApplication  = "application"
	SourceCancellation = "cancellation"
	SourcePublication  = "publication"
)

var tracer = otel.Tracer("substitution-engine/handoff")

type Config struct {
	ConfirmationWindow time.Duration
	StoreTimeout       time.Duration
	NotifyTimeout      time.Duration
	SweepBatchSize     int
}

func DefaultConfig() Config {
	return Config{
		ConfirmationWindow: DefaultConfirmationWindow,
		StoreTimeout:       DefaultStoreTimeout,
		NotifyTimeout:      DefaultNotifyTimeout,
		SweepBatchSize:     DefaultSweepBatchSize,
	}
}

type Dependencies struct {
	Postings    PostingStore
	Candidacies CandidacyStore
	Notifier    Notifier
	Events      EventPublisher
	Clock       Clock
	Logger      logger.Logger
}

// Engine owns every transition out of WAITING and out of HOLDING.
type Engine struct {
	postings    PostingStore
	candidacies CandidacyStore
	notifier    Notifier
	events      EventPublisher
	clock       Clock
	cfg         Config
	logger      logger.Logger
}

func NewEngine(deps Dependencies, cfg Config) *Engine {
	defaults := DefaultConfig()
	if cfg.ConfirmationWindow <= 0 {
		cfg.ConfirmationWindow = defaults.ConfirmationWindow
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = defaults.StoreTimeout
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = defaults.NotifyTimeout
	}
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = defaults.SweepBatchSize
	}

	e := &Engine{
		postings:    deps.Postings,
		candidacies: deps.Candidacies,
		notifier:    deps.Notifier,
		events:      deps.Events,
		clock:       deps.Clock,
		cfg:         cfg,
		logger:      deps.Logger,
	}
	if e.notifier == nil {
		e.notifier = nopNotifier{}
	}
	if e.events == nil {
		e.events = nopPublisher{}
	}
	if e.clock == nil {
		e.clock = SystemClock{}
	}
	if e.logger == nil {
		e.logger = logger.NewNoOpLogger()
	}
	e.logger = e.logger.WithFields(map[string]interface{}{"component": "handoff-engine"})
	return e
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// ==========================
// Store access with bounded timeouts
// ==========================

func (e *Engine) storeErr(op string, err error) error {
	if err == nil || errors.Is(err, ErrConflict) {
		return err
	}
	var stdErr *apperrors.StandardError
	if errors.As(err, &stdErr) {
		return err
	}
	return apperrors.NewPersistenceError(op, err)
}

func (e *Engine) getPosting(ctx context.Context, id string) (*models.Posting, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.StoreTimeout)
	defer cancel()
	p, err := e.postings.GetPosting(ctx, id)
	return p, e.storeErr("get posting", err)
}

func (e *Engine) getCandidacy(ctx context.Context, id string) (*models.Candidacy, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.StoreTimeout)
	defer cancel()
	c, err := e.candidacies.GetCandidacy(ctx, id)
	return c, e.storeErr("get candidacy", err)
}

func (e *Engine) findPostings(ctx context.Context, filter PostingFilter) ([]models.Posting, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.StoreTimeout)
	defer cancel()
	items, err := e.postings.FindPostings(ctx, filter)
	return items, e.storeErr("find postings", err)
}

func (e *Engine) findCandidacies(ctx context.Context, filter CandidacyFilter) ([]models.Candidacy, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.StoreTimeout)
	defer cancel()
	items, err := e.candidacies.FindCandidacies(ctx, filter)
	return items, e.storeErr("find candidacies", err)
}

func (e *Engine) updatePosting(ctx context.Context, p *models.Posting, expectedVersion int64) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.StoreTimeout)
	defer cancel()
	return e.storeErr("update posting", e.postings.UpdatePosting(ctx, p, expectedVersion))
}

func (e *Engine) updateCandidacy(ctx context.Context, c *models.Candidacy, expected models.CandidacyStatus) error {
	if err := models.ValidateCandidacyTransition(expected, c.Status); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.StoreTimeout)
	defer cancel()
	return e.storeErr("update candidacy", e.candidacies.UpdateCandidacy(ctx, c, expected))
}

func (e *Engine) createCandidacy(ctx context.Context, c *models.Candidacy) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.StoreTimeout)
	defer cancel()
	return e.storeErr("create candidacy", e.candidacies.CreateCandidacy(ctx, c))
}

// ==========================
// Side effects after commit
// ==========================

// notify sends n with its own bounded deadline. A caller that gives up right
// after a commit does not cancel the message about that commit.
func (e *Engine) notify(ctx context.Context, n models.Notification) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = e.clock.Now()
	}

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.NotifyTimeout)
	defer cancel()

	if err := e.notifier.Notify(sendCtx, n); err != nil {
		e.logger.Warn("notification not delivered", map[string]interface{}{
			"notificationId": n.ID,
			"type":           n.Type,
			"recipientId":    n.RecipientID,
			"postingId":      n.PostingID,
			"error":          err.Error(),
		})
	}
}

func (e *Engine) publish(ctx context.Context, event models.HandoffEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = e.clock.Now()
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.NotifyTimeout)
	defer cancel()

	if err := e.events.Publish(pubCtx, event); err != nil {
		e.logger.Warn("handoff event not published", map[string]interface{}{
			"eventId":   event.ID,
			"type":      event.Type,
			"postingId": event.PostingID,
			"error":     err.Error(),
		})
	}
}
