// Package metrics provides Prometheus instrumentation for the engine loops
// and the HTTP surface.
package metrics

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alejandrodnm/polysignal/internal/domain"
)

// Metrics implements ports.Notifier by updating gauges and counters per cycle.
type Metrics struct {
	gatherer prometheus.Gatherer

	Capital          *prometheus.GaugeVec
	Equity           *prometheus.GaugeVec
	OpenPositions    *prometheus.GaugeVec
	RealizedPnL      *prometheus.GaugeVec
	WinRate          *prometheus.GaugeVec
	ReconcileGap     *prometheus.GaugeVec
	PendingExpiries  *prometheus.GaugeVec
	CrisisLevel      prometheus.Gauge
	PositionsOpened  *prometheus.CounterVec
	PositionsClosed  *prometheus.CounterVec
	PriceFailures    *prometheus.CounterVec
	CycleDuration    *prometheus.HistogramVec
	WebSocketClients prometheus.Gauge

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New registers every collector on reg. Pass prometheus.NewRegistry() in tests.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gatherer: reg,

		Capital: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "polysignal_capital_usdc",
			Help: "Free capital per partition",
		}, []string{"partition"}),
		Equity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "polysignal_equity_usdc",
			Help: "Capital plus open positions marked at last price",
		}, []string{"partition"}),
		OpenPositions: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "polysignal_open_positions",
			Help: "Number of OPEN positions",
		}, []string{"partition"}),
		RealizedPnL: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "polysignal_realized_pnl_usdc",
			Help: "Realized profit since the last reset",
		}, []string{"partition"}),
		WinRate: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "polysignal_win_rate",
			Help: "Winning / decided trades",
		}, []string{"partition"}),
		ReconcileGap: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "polysignal_reconciliation_gap_usdc",
			Help: "(capital + open cost) - (starting + realized)",
		}, []string{"partition"}),
		PendingExpiries: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "polysignal_pending_resolutions",
			Help: "Expired positions waiting for formal resolution",
		}, []string{"partition"}),
		CrisisLevel: f.NewGauge(prometheus.GaugeOpts{
			Name: "polysignal_crisis_level",
			Help: "Last crisis severity level, 0 when unknown",
		}),
		PositionsOpened: f.NewCounterVec(prometheus.CounterOpts{
			Name: "polysignal_positions_opened_total",
			Help: "Positions opened",
		}, []string{"partition", "side"}),
		PositionsClosed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "polysignal_positions_closed_total",
			Help: "Positions closed by reason",
		}, []string{"partition", "reason"}),
		PriceFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "polysignal_price_failures_total",
			Help: "Price updates skipped because every source failed",
		}, []string{"partition"}),
		CycleDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "polysignal_cycle_duration_seconds",
			Help:    "Engine cycle duration",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"partition"}),
		WebSocketClients: f.NewGauge(prometheus.GaugeOpts{
			Name: "polysignal_websocket_clients",
			Help: "Connected snapshot stream clients",
		}),

		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "polysignal_http_requests_total",
			Help: "Total HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "polysignal_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"method", "route"}),
	}
}

// NotifyCycle actualiza las métricas con el resultado del ciclo.
func (m *Metrics) NotifyCycle(_ context.Context, r domain.CycleReport) error {
	p := r.Partition
	s := r.Snapshot

	m.Capital.WithLabelValues(p).Set(s.Capital)
	m.Equity.WithLabelValues(p).Set(s.Stats.Equity)
	m.OpenPositions.WithLabelValues(p).Set(float64(len(s.Active)))
	m.RealizedPnL.WithLabelValues(p).Set(s.Stats.RealizedPnL)
	m.WinRate.WithLabelValues(p).Set(s.Stats.WinRate)
	m.ReconcileGap.WithLabelValues(p).Set(s.Stats.ReconciliationGap)
	m.PendingExpiries.WithLabelValues(p).Set(float64(r.Pending))
	m.CycleDuration.WithLabelValues(p).Observe(r.Duration.Seconds())

	if r.Crisis.Known {
		m.CrisisLevel.Set(float64(r.Crisis.Level))
	} else {
		m.CrisisLevel.Set(0)
	}
	if r.PriceFailures > 0 {
		m.PriceFailures.WithLabelValues(p).Add(float64(r.PriceFailures))
	}
	for _, pos := range r.Opened {
		m.PositionsOpened.WithLabelValues(p, string(pos.Side)).Inc()
	}
	for _, pos := range r.Closed {
		m.PositionsClosed.WithLabelValues(p, string(pos.CloseReason)).Inc()
	}
	return nil
}

// Handler returns the Prometheus metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Middleware records request metrics. The chi route pattern is used as the
// label to keep cardinality bounded.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if pattern := rc.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer
// (needed by the websocket upgrade).
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}
