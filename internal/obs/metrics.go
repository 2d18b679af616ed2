package obs

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// LedgerMetrics groups the collectors the ledgers report to. A nil
// *LedgerMetrics is valid and records nothing, which keeps tests free of
// registry wiring.
type LedgerMetrics struct {
	SalesCreated     *prometheus.CounterVec
	SaleItemsSkipped prometheus.Counter
	SalesCancelled   *prometheus.CounterVec
	StockMovements   *prometheus.CounterVec
	StockClamped     prometheus.Counter
	PromotionsUsed   *prometheus.CounterVec
	CashSessions     *prometheus.CounterVec
	CashTransactions *prometheus.CounterVec
	ReceiptJobs      *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
}

// NewLedgerMetrics builds and registers every collector on reg.
func NewLedgerMetrics(namespace string, reg prometheus.Registerer) (*LedgerMetrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &LedgerMetrics{
		SalesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sales_created_total",
			Help:      "Sale creation attempts by result.",
		}, []string{"result"}),
		SaleItemsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sale_items_skipped_total",
			Help:      "Line items skipped with a warning during sale creation.",
		}),
		SalesCancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sales_cancelled_total",
			Help:      "Sale cancellation attempts by result.",
		}, []string{"result"}),
		StockMovements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_movements_total",
			Help:      "Inventory movements written, by direction.",
		}, []string{"direction"}),
		StockClamped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_clamped_total",
			Help:      "Stock decrements clamped at zero.",
		}),
		PromotionsUsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promotions_applied_total",
			Help:      "Promotion applications committed with a sale, by kind.",
		}, []string{"kind"}),
		CashSessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cash_session_events_total",
			Help:      "Cash session lifecycle events.",
		}, []string{"event"}),
		CashTransactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cash_transactions_total",
			Help:      "Cash transactions recorded, by direction and kind.",
		}, []string{"direction", "kind"}),
		ReceiptJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receipt_jobs_total",
			Help:      "Receipt snapshot jobs by stage and result.",
		}, []string{"stage", "result"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		}, []string{"method", "route"}),
	}

	collectors := []prometheus.Collector{
		m.SalesCreated, m.SaleItemsSkipped, m.SalesCancelled, m.StockMovements, m.StockClamped,
		m.PromotionsUsed, m.CashSessions, m.CashTransactions, m.ReceiptJobs, m.HTTPRequests, m.HTTPDuration,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register ledger metric: %w", err)
		}
	}
	return m, nil
}

// Handler exposes the gatherer in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *LedgerMetrics) SaleCreated(result string, skipped int) {
	if m == nil {
		return
	}
	m.SalesCreated.WithLabelValues(result).Inc()
	if skipped > 0 {
		m.SaleItemsSkipped.Add(float64(skipped))
	}
}

func (m *LedgerMetrics) SaleCancelled(result string) {
	if m == nil {
		return
	}
	m.SalesCancelled.WithLabelValues(result).Inc()
}

func (m *LedgerMetrics) StockMoved(direction string, clamped bool) {
	if m == nil {
		return
	}
	m.StockMovements.WithLabelValues(direction).Inc()
	if clamped {
		m.StockClamped.Inc()
	}
}

func (m *LedgerMetrics) PromotionApplied(kind string) {
	if m == nil {
		return
	}
	m.PromotionsUsed.WithLabelValues(kind).Inc()
}

func (m *LedgerMetrics) CashSessionEvent(event string) {
	if m == nil {
		return
	}
	m.CashSessions.WithLabelValues(event).Inc()
}

func (m *LedgerMetrics) CashTransaction(direction, kind string) {
	if m == nil {
		return
	}
	m.CashTransactions.WithLabelValues(direction, kind).Inc()
}

func (m *LedgerMetrics) ReceiptJob(stage, result string) {
	if m == nil {
		return
	}
	m.ReceiptJobs.WithLabelValues(stage, result).Inc()
}

func (m *LedgerMetrics) ObserveRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(float64(d) / float64(time.Millisecond))
}
