package app

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/barstock/internal/observability"
	"github.com/odyssey-erp/barstock/internal/shared"
	"github.com/odyssey-erp/barstock/internal/testing/guard"
)

func TestGuardEnablesTestMode(t *testing.T) {
	t.Setenv(guard.TestModeEnv, "1")
	RefreshTestMode()
	require.True(t, InTestMode())

	t.Setenv(guard.TestModeEnv, "0")
	RefreshTestMode()
	require.False(t, InTestMode())
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("SHOP_TIMEZONE", "Asia/Kolkata")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, 5, cfg.LedgerTxMaxAttempts)
	require.Equal(t, 5*time.Minute, cfg.CacheTTL)
	require.Equal(t, "Asia/Kolkata", cfg.Location().String())
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	t.Setenv("STORE_DRIVER", "sqlite")
	_, err := LoadConfig()
	require.Error(t, err)

	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("LEDGER_TX_MAX_ATTEMPTS", "0")
	_, err = LoadConfig()
	require.Error(t, err)

	t.Setenv("LEDGER_TX_MAX_ATTEMPTS", "3")
	t.Setenv("SHOP_TIMEZONE", "Mars/Olympus")
	_, err = LoadConfig()
	require.Error(t, err)
}

func TestLoggerFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&Config{AppEnv: "test", LogFormat: "json", LogLevel: "warn"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "shown", entry["msg"])
	require.Equal(t, "test", entry["env"])
}

func TestRouterHealthMetricsAndActor(t *testing.T) {
	metrics := observability.NewMetrics()
	ready := errors.New("db down")
	var readyErr error
	router := NewRouter(RouterParams{
		Config:  &Config{AppEnv: "test", RateLimitPerMin: 1000},
		Metrics: metrics,
		Ready:   func(*http.Request) error { return readyErr },
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	readyErr = ready
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "barstock_http_requests_total")
}

func TestMiddlewareStackCarriesActor(t *testing.T) {
	var seen string
	var handler http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = shared.ActorFromContext(r.Context())
	})
	stack := MiddlewareStack(MiddlewareConfig{Config: &Config{}})
	for i := len(stack) - 1; i >= 0; i-- {
		handler = stack[i](handler)
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(shared.ActorHeader, "bartender-7")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	require.Equal(t, "bartender-7", seen)
}
