package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/barstock/internal/jobs"
	"github.com/odyssey-erp/barstock/internal/ledger"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// RolloverService is the slice of the ledger service used by rollover jobs.
type RolloverService interface {
	RunShopEOD(ctx context.Context, day, actorID string) (ledger.ShopEODResult, error)
	RunOnBarEOD(ctx context.Context, day, actorID string) (ledger.OnBarEODResult, error)
	EODStatus(ctx context.Context, day string) (ledger.EODStatus, error)
}

// RolloverJob runs end-of-day rollovers enqueued by the API or the CLI.
type RolloverJob struct {
	Service RolloverService
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewRolloverJob wires dependencies for the rollover handlers.
func NewRolloverJob(service RolloverService, logger *slog.Logger, metrics *jobmetrics.Metrics) *RolloverJob {
	return &RolloverJob{Service: service, Logger: logger, Metrics: metrics}
}

// Handlers lists the task handlers served by the job.
func (j *RolloverJob) Handlers() []TaskHandler {
	return []TaskHandler{
		{Type: TaskShopEOD, Handler: j.HandleShopEOD},
		{Type: TaskOnBarEOD, Handler: j.HandleOnBarEOD},
		{Type: TaskEODCheck, Handler: j.HandleEODCheck},
	}
}

// HandleShopEOD processes TaskShopEOD tasks.
func (j *RolloverJob) HandleShopEOD(ctx context.Context, t *asynq.Task) (resultErr error) {
	payload, err := j.decode(t)
	if err != nil {
		return err
	}
	tracker := j.metrics().Track(TaskShopEOD)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.String("date", payload.Date), slog.String("task", TaskShopEOD))
	result, err := j.Service.RunShopEOD(ctx, payload.Date, payload.ActorID)
	if err != nil {
		logger.Error("shop rollover", slog.Any("error", err))
		return skipBusinessError(err)
	}
	j.metrics().AddRolledItems("shop", len(result.Updated))
	logger.Info("shop rollover complete", slog.String("business_date", result.Date), slog.Int("products", len(result.Updated)))
	return nil
}

// HandleOnBarEOD processes TaskOnBarEOD tasks.
func (j *RolloverJob) HandleOnBarEOD(ctx context.Context, t *asynq.Task) (resultErr error) {
	payload, err := j.decode(t)
	if err != nil {
		return err
	}
	tracker := j.metrics().Track(TaskOnBarEOD)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.String("date", payload.Date), slog.String("task", TaskOnBarEOD))
	result, err := j.Service.RunOnBarEOD(ctx, payload.Date, payload.ActorID)
	if err != nil {
		logger.Error("on-bar rollover", slog.Any("error", err))
		return skipBusinessError(err)
	}
	j.metrics().AddRolledItems("onbar", result.Reset)
	logger.Info("on-bar rollover complete", slog.String("business_date", result.Date), slog.Int("items", result.Reset))
	return nil
}

// HandleEODCheck logs the advisory rollover state. It never rolls over.
func (j *RolloverJob) HandleEODCheck(ctx context.Context, t *asynq.Task) (resultErr error) {
	payload, err := j.decode(t)
	if err != nil {
		return err
	}
	tracker := j.metrics().Track(TaskEODCheck)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	status, err := j.Service.EODStatus(ctx, payload.Date)
	if err != nil {
		j.logger().Error("eod status", slog.Any("error", err))
		return err
	}
	logger := j.logger().With(slog.String("business_date", status.Date))
	if status.NeedsOnBarEOD {
		j.metrics().PendingEOD()
		logger.Warn("on-bar end of day pending")
	}
	if !status.ShopEODDone {
		logger.Info("shop end of day not yet run", slog.String("last_shop_eod", status.LastShopEOD))
	}
	return nil
}

func (j *RolloverJob) decode(t *asynq.Task) (RolloverPayload, error) {
	if j == nil || j.Service == nil {
		return RolloverPayload{}, errors.New("rollover: handler not configured")
	}
	var payload RolloverPayload
	if len(t.Payload()) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return payload, asynq.SkipRetry
	}
	return payload, nil
}

func (j *RolloverJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func (j *RolloverJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

// skipBusinessError stops asynq from retrying failures a rerun cannot fix.
func skipBusinessError(err error) error {
	switch {
	case errors.Is(err, ledger.ErrSnapshotFinalized), errors.Is(err, ledger.ErrInvalidDate):
		return errors.Join(err, asynq.SkipRetry)
	default:
		return err
	}
}
