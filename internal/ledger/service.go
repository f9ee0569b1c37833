package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/barstock/internal/observability"
	"github.com/odyssey-erp/barstock/internal/platform/db"
	"github.com/odyssey-erp/barstock/internal/shared"
)

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort rejects replayed request keys.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// CachePort is the versioned read cache used for listings and markers.
type CachePort interface {
	Key(ctx context.Context, parts ...string) (string, error)
	FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error
	Bump(ctx context.Context) error
	SetString(ctx context.Context, key, value string) error
	GetString(ctx context.Context, key string) (string, error)
}

// MetricsPort receives transaction outcomes and data-quality signals.
type MetricsPort interface {
	TxOutcome(operation, outcome string)
	Conflict(operation string)
	NegativeClosing(productID string)
	SetNeedsOnBarEOD(needed bool)
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	// MaxAttempts bounds the optimistic-concurrency retries per operation.
	MaxAttempts int
	// Location decides which calendar day "today" is.
	Location *time.Location
	Logger   *slog.Logger
}

// Service coordinates the godown ledger, the shop snapshots, the on-bar
// engine and the end-of-day rollovers.
type Service struct {
	repo        Repository
	audit       AuditPort
	idempotency IdempotencyPort
	cache       CachePort
	metrics     MetricsPort
	logger      *slog.Logger
	retry       db.RetryPolicy
	loc         *time.Location
	now         func() time.Time
	newID       func() string
}

// NewService builds Service. audit, idem, cache and metrics are optional.
func NewService(repo Repository, audit AuditPort, idem IdempotencyPort, cache CachePort, metrics MetricsPort, cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	retry := db.DefaultRetryPolicy
	if cfg.MaxAttempts > 0 {
		retry.MaxAttempts = cfg.MaxAttempts
	}
	return &Service{
		repo:        repo,
		audit:       audit,
		idempotency: idem,
		cache:       cache,
		metrics:     metrics,
		logger:      logger.With(slog.String("component", "ledger")),
		retry:       retry,
		loc:         loc,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       func() string { return uuid.NewString() },
	}
}

// Today returns the current business day.
func (s *Service) Today() string {
	return DayOf(s.now(), s.loc)
}

// inTx runs fn as one read-validate-write transaction and re-runs it while
// the store reports conflicts. fn must not keep state between attempts.
func (s *Service) inTx(ctx context.Context, op string, fn func(context.Context, TxRepository) error) error {
	policy := s.retry
	policy.OnConflict = func(attempt int, err error) {
		if s.metrics != nil {
			s.metrics.Conflict(op)
		}
		s.logger.DebugContext(ctx, "transaction conflict, retrying",
			slog.String("operation", op),
			slog.Int("attempt", attempt),
			slog.Any("error", err),
		)
	}
	err := db.Retry(ctx, policy, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, fn)
	})
	switch {
	case err == nil:
		s.observe(op, observability.OutcomeCommitted)
		s.invalidate(ctx)
		return nil
	case errors.Is(err, db.ErrRetriesExhausted):
		s.observe(op, observability.OutcomeExhausted)
		s.logger.WarnContext(ctx, "transaction retries exhausted", slog.String("operation", op), slog.Any("error", err))
		return fmt.Errorf("%w: %s gave up after %d attempts", ErrConcurrencyConflict, op, policy.MaxAttempts)
	case isRuleViolation(err):
		s.observe(op, observability.OutcomeRejected)
		return err
	default:
		s.observe(op, observability.OutcomeFailed)
		return err
	}
}

func (s *Service) observe(op, outcome string) {
	if s.metrics != nil {
		s.metrics.TxOutcome(op, outcome)
	}
}

var ruleViolations = []error{
	ErrInsufficientStock, ErrInsufficientVolume, ErrMissingPrice, ErrMissingPegPrice,
	ErrRefillExceedsSold, ErrCapacityExceeded, ErrNotFound, ErrInvalidQuantity,
	ErrInvalidPrice, ErrInvalidDate, ErrInvalidVolume, ErrCategoryMismatch,
	ErrSnapshotFinalized,
}

func isRuleViolation(err error) bool {
	for _, target := range ruleViolations {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.WarnContext(ctx, "cache invalidation failed", slog.Any("error", err))
	}
}

// claim reserves an idempotency key. The returned release undoes the claim
// when the guarded operation fails.
func (s *Service) claim(ctx context.Context, key, module string) (func(), error) {
	if key == "" || s.idempotency == nil {
		return func() {}, nil
	}
	scoped := module + ":" + key
	if err := s.idempotency.CheckAndInsert(ctx, scoped, module); err != nil {
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRequest, key)
		}
		return nil, err
	}
	return func() {
		if err := s.idempotency.Delete(context.WithoutCancel(ctx), scoped); err != nil {
			s.logger.WarnContext(ctx, "release idempotency key", slog.String("key", scoped), slog.Any("error", err))
		}
	}, nil
}

func (s *Service) record(ctx context.Context, log shared.AuditLog) {
	if s.audit == nil {
		return
	}
	if log.At.IsZero() {
		log.At = s.now()
	}
	if err := s.audit.Record(ctx, log); err != nil {
		s.logger.WarnContext(ctx, "audit record failed", slog.String("action", log.Action), slog.Any("error", err))
	}
}

// cached serves a listing through the read cache, falling back to loader.
func cached[T any](ctx context.Context, s *Service, loader func(context.Context) (T, error), parts ...string) (T, error) {
	var out T
	load := func(ctx context.Context) (any, error) { return loader(ctx) }
	if s.cache == nil {
		return loader(ctx)
	}
	key, err := s.cache.Key(ctx, parts...)
	if err != nil {
		s.logger.WarnContext(ctx, "cache key unavailable", slog.Any("error", err))
		return loader(ctx)
	}
	if err := s.cache.FetchJSON(ctx, key, &out, load); err != nil {
		return out, err
	}
	return out, nil
}
