package monitor

import (
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds the engine's prometheus collectors on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	signals         *prometheus.CounterVec
	filterRejects   *prometheus.CounterVec
	orders          *prometheus.CounterVec
	positionsOpened *prometheus.CounterVec
	positionsClosed *prometheus.CounterVec
	realizedPnL     prometheus.Gauge
	riskAlerts      *prometheus.CounterVec
	ticks           prometheus.Counter
	processing      prometheus.Histogram

	// SignalLatency keeps a sliding window for the JSON snapshot.
	SignalLatency *LatencyHistogram

	started time.Time
}

// NewMetrics registers every collector on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signal_engine_signals_total",
			Help: "Signals processed by the filter pipeline",
		}, []string{"action", "result"}),
		filterRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signal_engine_filter_rejections_total",
			Help: "Rejected signals split by the first failing stage",
		}, []string{"stage"}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signal_engine_orders_total",
			Help: "Entry orders sent to the venue",
		}, []string{"result"}),
		positionsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signal_engine_positions_opened_total",
			Help: "Positions opened",
		}, []string{"side"}),
		positionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signal_engine_positions_closed_total",
			Help: "Positions closed split by exit reason and result",
		}, []string{"reason", "result"}),
		realizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signal_engine_realized_pnl_usdt",
			Help: "Realized PnL since start",
		}),
		riskAlerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signal_engine_risk_alerts_total",
			Help: "Risk alerts published on the bus",
		}, []string{"type"}),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signal_engine_price_ticks_total",
			Help: "Price ticks received",
		}),
		processing: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signal_engine_signal_processing_seconds",
			Help:    "Filter pipeline latency",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
		SignalLatency: NewLatencyHistogram(1000),
		started:       time.Now(),
	}
	m.Registry.MustRegister(
		m.signals, m.filterRejects, m.orders,
		m.positionsOpened, m.positionsClosed, m.realizedPnL,
		m.riskAlerts, m.ticks, m.processing,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Gauges registers callback gauges for state owned elsewhere.
func (m *Metrics) Gauges(active, pending func() int, dropped func() uint64) {
	m.Registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "signal_engine_open_positions",
			Help: "Open positions",
		}, func() float64 { return float64(active()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "signal_engine_pending_orders",
			Help: "Resting entry orders",
		}, func() float64 { return float64(pending()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "signal_engine_bus_dropped_total",
			Help: "Events dropped because a subscriber was full",
		}, func() float64 { return float64(dropped()) }),
	)
}

// LatencyHistogram tracks latency samples with sliding window.
// Stats are recomputed lazily.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// Stats returns min, max, avg, p50, p95, p99.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false

	return h.cachedStats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// Snapshot is the JSON view served by the stats API.
type Snapshot struct {
	SignalLatency  LatencyStats `json:"signalLatencyMs"`
	GoroutineCount int          `json:"goroutineCount"`
	HeapAlloc      uint64       `json:"heapAllocBytes"`
	HeapSys        uint64       `json:"heapSysBytes"`
	Uptime         string       `json:"uptime"`
	Timestamp      time.Time    `json:"timestamp"`
}

func (m *Metrics) Snapshot() Snapshot {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	now := time.Now()
	return Snapshot{
		SignalLatency:  m.SignalLatency.Stats(),
		GoroutineCount: runtime.NumGoroutine(),
		HeapAlloc:      mem.HeapAlloc,
		HeapSys:        mem.HeapSys,
		Uptime:         now.Sub(m.started).Truncate(time.Second).String(),
		Timestamp:      now,
	}
}
