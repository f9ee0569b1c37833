package observability

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Ledger transaction outcomes.
const (
	OutcomeCommitted = "committed"
	OutcomeRejected  = "rejected"
	OutcomeExhausted = "exhausted"
	OutcomeFailed    = "failed"
)

// LedgerMetrics counts stock transactions, optimistic-concurrency retries and
// data-quality warnings raised by the ledger.
type LedgerMetrics struct {
	transactions    *prometheus.CounterVec
	conflicts       *prometheus.CounterVec
	negativeClosing *prometheus.CounterVec
	needsOnBarEOD   prometheus.Gauge
}

// NewLedgerMetrics registers the ledger collectors on registerer.
func NewLedgerMetrics(registerer prometheus.Registerer) (*LedgerMetrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	transactions, err := register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "barstock_ledger_transactions_total",
		Help: "Ledger transactions by operation and outcome.",
	}, []string{"operation", "outcome"}))
	if err != nil {
		return nil, err
	}
	conflicts, err := register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "barstock_ledger_conflicts_total",
		Help: "Concurrent-update conflicts that triggered a retry.",
	}, []string{"operation"}))
	if err != nil {
		return nil, err
	}
	negative, err := register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "barstock_ledger_negative_closing_total",
		Help: "Shop sales records that left a negative closing stock.",
	}, []string{"product_id"}))
	if err != nil {
		return nil, err
	}
	needs, err := register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "barstock_ledger_needs_onbar_eod",
		Help: "1 when on-bar items carry unarchived sales for the day.",
	}))
	if err != nil {
		return nil, err
	}
	return &LedgerMetrics{
		transactions:    transactions,
		conflicts:       conflicts,
		negativeClosing: negative,
		needsOnBarEOD:   needs,
	}, nil
}

// register reuses an identical collector registered earlier.
func register[T prometheus.Collector](registerer prometheus.Registerer, c T) (T, error) {
	if err := registerer.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// TxOutcome counts one finished ledger transaction.
func (m *LedgerMetrics) TxOutcome(operation, outcome string) {
	if m == nil {
		return
	}
	m.transactions.WithLabelValues(operation, outcome).Inc()
}

// Conflict counts one retried conflict.
func (m *LedgerMetrics) Conflict(operation string) {
	if m == nil {
		return
	}
	m.conflicts.WithLabelValues(operation).Inc()
}

// NegativeClosing counts a sales record that drove closing stock below zero.
func (m *LedgerMetrics) NegativeClosing(productID string) {
	if m == nil {
		return
	}
	m.negativeClosing.WithLabelValues(productID).Inc()
}

// SetNeedsOnBarEOD publishes the advisory rollover flag.
func (m *LedgerMetrics) SetNeedsOnBarEOD(needed bool) {
	if m == nil {
		return
	}
	if needed {
		m.needsOnBarEOD.Set(1)
		return
	}
	m.needsOnBarEOD.Set(0)
}
