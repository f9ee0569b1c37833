package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, metrics *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func serveRoute(t *testing.T, handler http.Handler, method, pattern string) *httptest.ResponseRecorder {
	t.Helper()
	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, pattern)
	req := httptest.NewRequest(method, pattern, nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rr := serveRoute(t, handler, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusTeapot, rr.Code)

	body := scrape(t, metrics)
	require.Contains(t, body, `barstock_http_requests_total{area="ops",code="418",method="GET",route="/healthz"} 1`)
	require.Contains(t, body, `barstock_http_request_duration_seconds_bucket{area="ops",route="/healthz"`)
	require.Contains(t, body, `barstock_http_in_flight_requests 0`)
}

func TestMetricsCountLedgerRejections(t *testing.T) {
	metrics := NewMetrics()
	status := http.StatusConflict
	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))

	serveRoute(t, handler, http.MethodPost, "/api/v1/transfers/shop")
	serveRoute(t, handler, http.MethodPost, "/api/v1/transfers/shop")
	status = http.StatusUnprocessableEntity
	serveRoute(t, handler, http.MethodPost, "/api/v1/onbar/{itemID}/pegs")
	serveRoute(t, handler, http.MethodGet, "/api/v1/snapshots/")

	body := scrape(t, metrics)
	require.Contains(t, body, `barstock_http_ledger_rejections_total{area="transfers",code="409"} 2`)
	require.Contains(t, body, `barstock_http_ledger_rejections_total{area="onbar",code="422"} 1`)
	require.NotContains(t, body, `barstock_http_ledger_rejections_total{area="snapshots"`)
	require.Contains(t, body, `barstock_http_requests_total{area="snapshots",code="422",method="GET",route="/api/v1/snapshots/"} 1`)
}

func TestRouteArea(t *testing.T) {
	cases := map[string]string{
		"/api/v1/godown/{productID}/receipts": AreaGodown,
		"/api/v1/products/{id}/price":         AreaProducts,
		"/api/v1/eod/status":                  AreaEOD,
		"/api/v1/onbar/":                      AreaOnBar,
		"/api/v1/cellar":                      AreaUnknown,
		"/onbar/{itemID}/refill":              AreaOnBar,
		"/jobs/health":                        AreaOps,
		"/metrics":                            AreaOps,
		"unknown":                             AreaUnknown,
	}
	for pattern, want := range cases {
		require.Equal(t, want, RouteArea(pattern), pattern)
	}
}

func TestNilMetricsHandlerIsUnavailable(t *testing.T) {
	var metrics *Metrics
	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestLedgerMetricsExposed(t *testing.T) {
	metrics := NewMetrics()
	ledger, err := NewLedgerMetrics(metrics.Registerer())
	require.NoError(t, err)

	ledger.TxOutcome("transfer_shop", OutcomeCommitted)
	ledger.Conflict("transfer_shop")
	ledger.Conflict("transfer_shop")
	ledger.NegativeClosing("kingfisher-650ml")
	ledger.SetNeedsOnBarEOD(true)

	body := scrape(t, metrics)
	require.Contains(t, body, `barstock_ledger_transactions_total{operation="transfer_shop",outcome="committed"} 1`)
	require.Contains(t, body, `barstock_ledger_conflicts_total{operation="transfer_shop"} 2`)
	require.Contains(t, body, `barstock_ledger_negative_closing_total{product_id="kingfisher-650ml"} 1`)
	require.Contains(t, body, `barstock_ledger_needs_onbar_eod 1`)

	again, err := NewLedgerMetrics(metrics.Registerer())
	require.NoError(t, err)
	require.NotNil(t, again)
}

func TestNilLedgerMetricsIsNoop(t *testing.T) {
	var ledger *LedgerMetrics
	ledger.TxOutcome("x", OutcomeFailed)
	ledger.Conflict("x")
	ledger.NegativeClosing("x")
	ledger.SetNeedsOnBarEOD(false)
}
