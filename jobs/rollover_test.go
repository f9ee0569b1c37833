package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-erp/barstock/internal/jobs"
	"github.com/odyssey-erp/barstock/internal/ledger"
)

type rolloverStub struct {
	shopCalls  []RolloverPayload
	onbarCalls []RolloverPayload
	status     ledger.EODStatus
	err        error
}

func (s *rolloverStub) RunShopEOD(_ context.Context, day, actorID string) (ledger.ShopEODResult, error) {
	s.shopCalls = append(s.shopCalls, RolloverPayload{Date: day, ActorID: actorID})
	if s.err != nil {
		return ledger.ShopEODResult{}, s.err
	}
	return ledger.ShopEODResult{Date: day, Updated: []ledger.BaselineUpdate{{}, {}}}, nil
}

func (s *rolloverStub) RunOnBarEOD(_ context.Context, day, actorID string) (ledger.OnBarEODResult, error) {
	s.onbarCalls = append(s.onbarCalls, RolloverPayload{Date: day, ActorID: actorID})
	if s.err != nil {
		return ledger.OnBarEODResult{}, s.err
	}
	return ledger.OnBarEODResult{Date: day, Reset: 3}, nil
}

func (s *rolloverStub) EODStatus(_ context.Context, day string) (ledger.EODStatus, error) {
	if s.err != nil {
		return ledger.EODStatus{}, s.err
	}
	status := s.status
	status.Date = day
	return status, nil
}

func newTestJob(stub *rolloverStub) *RolloverJob {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRolloverJob(stub, logger, jobmetrics.NewMetrics(prometheus.NewRegistry()))
}

func rolloverTask(t *testing.T, taskType string, payload RolloverPayload) *asynq.Task {
	t.Helper()
	task, err := NewRolloverTask(taskType, payload)
	require.NoError(t, err)
	return task
}

func TestNewRolloverTaskRejectsUnknownType(t *testing.T) {
	_, err := NewRolloverTask("mail:send", RolloverPayload{})
	require.Error(t, err)

	task, err := NewEODCheckTask()
	require.NoError(t, err)
	require.Equal(t, TaskEODCheck, task.Type())
	var payload RolloverPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Equal(t, "scheduler", payload.ActorID)
}

func TestRolloverTaskType(t *testing.T) {
	typ, err := RolloverTaskType(ledger.RolloverShop)
	require.NoError(t, err)
	require.Equal(t, TaskShopEOD, typ)

	typ, err = RolloverTaskType(ledger.RolloverOnBar)
	require.NoError(t, err)
	require.Equal(t, TaskOnBarEOD, typ)

	_, err = RolloverTaskType("cellar")
	require.Error(t, err)
}

func TestHandleShopAndOnBarEOD(t *testing.T) {
	stub := &rolloverStub{}
	job := newTestJob(stub)
	ctx := context.Background()

	require.NoError(t, job.HandleShopEOD(ctx, rolloverTask(t, TaskShopEOD, RolloverPayload{Date: "2024-03-10", ActorID: "cli"})))
	require.NoError(t, job.HandleOnBarEOD(ctx, rolloverTask(t, TaskOnBarEOD, RolloverPayload{Date: "2024-03-10"})))

	require.Equal(t, []RolloverPayload{{Date: "2024-03-10", ActorID: "cli"}}, stub.shopCalls)
	require.Equal(t, []RolloverPayload{{Date: "2024-03-10"}}, stub.onbarCalls)
}

func TestHandleRolloverErrors(t *testing.T) {
	ctx := context.Background()

	finalized := &rolloverStub{err: ledger.ErrSnapshotFinalized}
	err := newTestJob(finalized).HandleShopEOD(ctx, rolloverTask(t, TaskShopEOD, RolloverPayload{}))
	require.ErrorIs(t, err, ledger.ErrSnapshotFinalized)
	require.ErrorIs(t, err, asynq.SkipRetry)

	transient := &rolloverStub{err: ledger.ErrConcurrencyConflict}
	err = newTestJob(transient).HandleOnBarEOD(ctx, rolloverTask(t, TaskOnBarEOD, RolloverPayload{}))
	require.ErrorIs(t, err, ledger.ErrConcurrencyConflict)
	require.False(t, errors.Is(err, asynq.SkipRetry))

	bad := asynq.NewTask(TaskShopEOD, []byte("{"))
	require.ErrorIs(t, newTestJob(&rolloverStub{}).HandleShopEOD(ctx, bad), asynq.SkipRetry)

	var unconfigured *RolloverJob
	require.Error(t, unconfigured.HandleShopEOD(ctx, bad))
}

func TestHandleEODCheckOnlyReports(t *testing.T) {
	stub := &rolloverStub{status: ledger.EODStatus{NeedsOnBarEOD: true}}
	job := newTestJob(stub)

	require.NoError(t, job.HandleEODCheck(context.Background(), rolloverTask(t, TaskEODCheck, RolloverPayload{Date: "2024-03-10"})))
	require.Empty(t, stub.shopCalls)
	require.Empty(t, stub.onbarCalls)
}

func TestWorkerRegistersRolloverHandlers(t *testing.T) {
	job := newTestJob(&rolloverStub{})
	check, err := NewEODCheckTask()
	require.NoError(t, err)

	worker, err := NewWorker(WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: "127.0.0.1:0"},
		Handlers:  job.Handlers(),
		Cron:      []CronRegistration{{Spec: "55 23 * * *", Task: check}},
	})
	require.NoError(t, err)
	require.NotNil(t, worker.scheduler)

	var nilWorker *Worker
	require.Error(t, nilWorker.Run(context.Background()))
}

func TestHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(nil, slog.Default()).MountRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"queue":"default","pending":0}`, rec.Body.String())
}

type prunerStub struct {
	olderThan time.Duration
}

func (p *prunerStub) Cleanup(_ context.Context, olderThan time.Duration) error {
	p.olderThan = olderThan
	return nil
}

func TestCleanupJob(t *testing.T) {
	pruner := &prunerStub{}
	job := &CleanupJob{Store: pruner, Metrics: jobmetrics.NewMetrics(prometheus.NewRegistry())}

	task, err := NewIdempotencyCleanupTask(48 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 48*time.Hour, pruner.olderThan)

	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, []byte(`{}`))))
	require.Equal(t, 24*time.Hour, pruner.olderThan)

	var unconfigured *CleanupJob
	require.Error(t, unconfigured.Handle(context.Background(), task))
}
