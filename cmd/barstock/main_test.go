package main

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/barstock/internal/app"
	"github.com/odyssey-erp/barstock/internal/ledger"
	_ "github.com/odyssey-erp/barstock/internal/testing/guard"
	"github.com/odyssey-erp/barstock/jobs"
)

func TestRolloverQueueRequiresSharedStore(t *testing.T) {
	queue, closeQueue, err := newRolloverQueue(&app.Config{StoreDriver: "memory", RedisAddr: "127.0.0.1:6379"}, true)
	require.NoError(t, err)
	require.Nil(t, queue)
	closeQueue()

	queue, closeQueue, err = newRolloverQueue(&app.Config{StoreDriver: "postgres", RedisAddr: "127.0.0.1:6379"}, false)
	require.NoError(t, err)
	require.Nil(t, queue)
	closeQueue()

	queue, closeQueue, err = newRolloverQueue(&app.Config{StoreDriver: "postgres", RedisAddr: "127.0.0.1:6379"}, true)
	require.NoError(t, err)
	require.IsType(t, &jobs.Client{}, queue)
	closeQueue()
}

func TestMemoryDriverRefusesAsyncRollover(t *testing.T) {
	queue, closeQueue, err := newRolloverQueue(&app.Config{StoreDriver: "memory"}, true)
	require.NoError(t, err)
	defer closeQueue()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := ledger.NewService(ledger.NewMemoryRepository(), nil, nil, nil, nil, ledger.ServiceConfig{Logger: logger})
	r := chi.NewRouter()
	ledger.NewHandler(logger, svc, queue).MountRoutes(r)

	for _, path := range []string{"/eod/shop", "/eod/onbar"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(`{"async":true}`)))
		require.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/eod/onbar", bytes.NewBufferString(`{}`)))
	require.Equal(t, http.StatusOK, rec.Code)
}
