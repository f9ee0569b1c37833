package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Ledger areas used to group HTTP routes. Anything outside the API is "ops".
const (
	AreaProducts  = "products"
	AreaGodown    = "godown"
	AreaSnapshots = "snapshots"
	AreaTransfers = "transfers"
	AreaOnBar     = "onbar"
	AreaEOD       = "eod"
	AreaOps       = "ops"
	AreaUnknown   = "unknown"
)

var ledgerAreas = map[string]string{
	"products":  AreaProducts,
	"godown":    AreaGodown,
	"snapshots": AreaSnapshots,
	"transfers": AreaTransfers,
	"onbar":     AreaOnBar,
	"eod":       AreaEOD,
}

// Metrics collects the Prometheus metrics of the HTTP server. Requests are
// labelled by ledger area so stock movements and pours can be told apart
// from health checks and scrapes.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	rejections      *prometheus.CounterVec
	inFlight        prometheus.Gauge
}

// NewMetrics initialises the registry and the request metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "barstock_http_requests_total",
		Help: "HTTP requests by ledger area, route, method and status code.",
	}, []string{"area", "route", "method", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "barstock_http_request_duration_seconds",
		Help:    "HTTP request duration per ledger area and route.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"area", "route"})
	rejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "barstock_http_ledger_rejections_total",
		Help: "Ledger writes refused with 409 or 422, by area and status code.",
	}, []string{"area", "code"})
	inFlight := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "barstock_http_in_flight_requests",
		Help: "Requests currently being served.",
	})
	registry.MustRegister(requests, duration, rejections, inFlight)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		rejections:      rejections,
		inFlight:        inFlight,
	}
}

// Handler serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.inFlight.Inc()
		defer m.inFlight.Dec()

		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)

		route := routePattern(r)
		area := RouteArea(route)
		code := strconv.Itoa(recorder.status)
		m.requestsTotal.WithLabelValues(area, route, r.Method, code).Inc()
		m.requestDuration.WithLabelValues(area, route).Observe(time.Since(start).Seconds())
		if r.Method != http.MethodGet && (recorder.status == http.StatusConflict || recorder.status == http.StatusUnprocessableEntity) {
			m.rejections.WithLabelValues(area, code).Inc()
		}
	})
}

// Registerer exposes the registry for additional collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// RouteArea maps a chi route pattern such as "/api/v1/onbar/{itemID}/pegs"
// to its ledger area.
func RouteArea(pattern string) string {
	if pattern == "" || pattern == "unknown" {
		return AreaUnknown
	}
	rest, api := strings.CutPrefix(pattern, "/api/v1")
	segment, _, _ := strings.Cut(strings.TrimPrefix(rest, "/"), "/")
	if area, ok := ledgerAreas[segment]; ok {
		return area
	}
	if api {
		return AreaUnknown
	}
	return AreaOps
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
