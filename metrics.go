package fibersched

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks runtime statistics for a Host: fiber pick-to-run latency,
// per-nice-level ready queue depth, and fiber resume throughput. All
// optional; a Scheduler or Reactor with a nil *Metrics simply skips
// recording. Every method is thread-safe.
type Metrics struct {
	// Latency tracks scheduler pick-to-run latency: the time between a
	// fiber's awakened() call and the moment PickNext hands it the baton.
	Latency LatencyMetrics

	// Queue tracks per-nice-level ready queue depth.
	Queue QueueMetrics

	// Resumes tracks fiber resumes per second.
	Resumes TPSCounter
}

// NewMetrics constructs a Metrics ready for use, with Resumes configured for
// a 10-second rolling window at 100ms granularity.
func NewMetrics() *Metrics {
	return &Metrics{
		Resumes: *NewTPSCounter(10*time.Second, 100*time.Millisecond),
	}
}

// sampleSize is the maximum number of latency samples LatencyMetrics retains.
const sampleSize = 1000

// LatencyMetrics tracks a rolling window of latency samples with cached
// percentiles.
type LatencyMetrics struct {
	mu          sync.RWMutex
	sampleIdx   int
	sampleCount int
	samples     [sampleSize]time.Duration

	P50, P90, P95, P99, Max time.Duration
	Mean, Sum               time.Duration
}

// Record records a single latency sample.
func (l *LatencyMetrics) Record(duration time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sampleCount >= sampleSize {
		l.Sum -= l.samples[l.sampleIdx]
	}
	l.samples[l.sampleIdx] = duration
	l.Sum += duration
	l.sampleIdx = (l.sampleIdx + 1) % sampleSize
	if l.sampleCount < sampleSize {
		l.sampleCount++
	}
}

// Sample recomputes cached percentiles from the current window and returns
// the sample count used. Call periodically (e.g. once a second); sorting is
// O(n²) and not meant for the hot path.
func (l *LatencyMetrics) Sample() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	count := l.sampleCount
	if count == 0 {
		return 0
	}

	sorted := make([]time.Duration, count)
	copy(sorted, l.samples[:count])
	for i := 0; i < count; i++ {
		for j := i + 1; j < count; j++ {
			if sorted[j] < sorted[i] {
				sorted[i], sorted[j] = sorted[j], sorted[i]
			}
		}
	}

	l.P50 = sorted[percentileIndex(count, 50)]
	l.P90 = sorted[percentileIndex(count, 90)]
	l.P95 = sorted[percentileIndex(count, 95)]
	l.P99 = sorted[percentileIndex(count, 99)]
	l.Max = sorted[count-1]
	l.Mean = l.Sum / time.Duration(count)

	return count
}

func percentileIndex(n, p int) int {
	idx := (p * n) / 100
	if idx >= n {
		return n - 1
	}
	return idx
}

// QueueMetrics tracks ready-queue depth per nice level plus the dispatcher
// slot, each with a current value, an observed maximum, and an exponential
// moving average (alpha=0.1, warm-started to the first observation).
type QueueMetrics struct {
	mu sync.RWMutex

	current map[int]int
	max     map[int]int
	avg     map[int]float64

	DispatchCurrent int
	DispatchMax     int
	DispatchAvg     float64
	dispatchWarm    bool
}

// UpdateNiceLevel records a new depth observation for the given nice level.
func (q *QueueMetrics) UpdateNiceLevel(nice, depth int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current == nil {
		q.current = make(map[int]int)
		q.max = make(map[int]int)
		q.avg = make(map[int]float64)
	}
	q.current[nice] = depth
	if depth > q.max[nice] {
		q.max[nice] = depth
	}
	if _, ok := q.avg[nice]; !ok {
		q.avg[nice] = float64(depth)
	} else {
		q.avg[nice] = 0.9*q.avg[nice] + 0.1*float64(depth)
	}
}

// UpdateDispatch records a new depth observation for the dispatcher slot
// (which holds at most one fiber, but is tracked the same way for symmetry
// with per-nice-level accounting).
func (q *QueueMetrics) UpdateDispatch(depth int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.DispatchCurrent = depth
	if depth > q.DispatchMax {
		q.DispatchMax = depth
	}
	if !q.dispatchWarm {
		q.DispatchAvg = float64(depth)
		q.dispatchWarm = true
	} else {
		q.DispatchAvg = 0.9*q.DispatchAvg + 0.1*float64(depth)
	}
}

// NiceLevelDepth returns the last recorded depth for nice, or 0 if unseen.
func (q *QueueMetrics) NiceLevelDepth(nice int) int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.current[nice]
}

// TPSCounter tracks events-per-second over a rolling window of fixed-size
// buckets, used here for fiber resume throughput.
type TPSCounter struct {
	lastRotation atomic.Value
	buckets      []int64
	bucketSize   time.Duration
	windowSize   time.Duration
	totalCount   atomic.Int64
	mu           sync.Mutex
}

// NewTPSCounter creates a counter over windowSize, subdivided into buckets
// of bucketSize.
func NewTPSCounter(windowSize, bucketSize time.Duration) *TPSCounter {
	bucketCount := int(windowSize / bucketSize)
	if bucketCount < 1 {
		bucketCount = 1
	}
	c := &TPSCounter{
		buckets:    make([]int64, bucketCount),
		bucketSize: bucketSize,
		windowSize: windowSize,
	}
	c.lastRotation.Store(time.Now())
	return c
}

// Increment records one event.
func (t *TPSCounter) Increment() {
	t.totalCount.Add(1)
	t.rotate()
	t.mu.Lock()
	t.buckets[len(t.buckets)-1]++
	t.mu.Unlock()
}

func (t *TPSCounter) rotate() {
	now := time.Now()
	last := t.lastRotation.Load().(time.Time)
	elapsed := now.Sub(last)
	advance := int(elapsed / t.bucketSize)

	if advance >= len(t.buckets) {
		t.mu.Lock()
		for i := range t.buckets {
			t.buckets[i] = 0
		}
		t.mu.Unlock()
		t.lastRotation.Store(now)
		return
	}

	if advance > 0 {
		t.mu.Lock()
		copy(t.buckets, t.buckets[advance:])
		for i := len(t.buckets) - advance; i < len(t.buckets); i++ {
			t.buckets[i] = 0
		}
		t.mu.Unlock()
		t.lastRotation.Store(last.Add(time.Duration(advance) * t.bucketSize))
	}
}

// TPS returns the current rate in events per second.
func (t *TPSCounter) TPS() float64 {
	t.rotate()
	t.mu.Lock()
	defer t.mu.Unlock()
	var sum int64
	for _, c := range t.buckets {
		sum += c
	}
	if sum == 0 {
		return 0
	}
	return float64(sum) / t.windowSize.Seconds()
}

// PrometheusCollector adapts a Metrics onto prometheus.Collector, exposing
// resume throughput and per-nice-level queue depth as gauges alongside the
// latency percentiles as a summary-shaped gauge vec.
type PrometheusCollector struct {
	m *Metrics

	resumeRate    *prometheus.Desc
	queueDepth    *prometheus.Desc
	dispatchDepth *prometheus.Desc
	latency       *prometheus.Desc
}

// NewPrometheusCollector wraps m for registration with a prometheus.Registry.
func NewPrometheusCollector(m *Metrics) *PrometheusCollector {
	return &PrometheusCollector{
		m:             m,
		resumeRate:    prometheus.NewDesc("fibersched_fiber_resumes_per_second", "Fiber resume rate over a rolling window.", nil, nil),
		queueDepth:    prometheus.NewDesc("fibersched_ready_queue_depth", "Ready queue depth by nice level.", []string{"nice_level"}, nil),
		dispatchDepth: prometheus.NewDesc("fibersched_dispatch_queue_depth", "Dispatcher slot depth (0 or 1).", nil, nil),
		latency:       prometheus.NewDesc("fibersched_pick_latency_seconds", "Fiber pick-to-run latency percentile.", []string{"quantile"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.resumeRate
	ch <- c.queueDepth
	ch <- c.dispatchDepth
	ch <- c.latency
}

// Collect implements prometheus.Collector.
func (c *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	if c.m == nil {
		return
	}
	ch <- prometheus.MustNewConstMetric(c.resumeRate, prometheus.GaugeValue, c.m.Resumes.TPS())

	c.m.Queue.mu.RLock()
	for nice, depth := range c.m.Queue.current {
		ch <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, float64(depth), niceLevelLabel(nice))
	}
	dispatchDepth := c.m.Queue.DispatchCurrent
	c.m.Queue.mu.RUnlock()
	ch <- prometheus.MustNewConstMetric(c.dispatchDepth, prometheus.GaugeValue, float64(dispatchDepth))

	c.m.Latency.mu.RLock()
	p50, p90, p99 := c.m.Latency.P50, c.m.Latency.P90, c.m.Latency.P99
	c.m.Latency.mu.RUnlock()
	ch <- prometheus.MustNewConstMetric(c.latency, prometheus.GaugeValue, p50.Seconds(), "0.5")
	ch <- prometheus.MustNewConstMetric(c.latency, prometheus.GaugeValue, p90.Seconds(), "0.9")
	ch <- prometheus.MustNewConstMetric(c.latency, prometheus.GaugeValue, p99.Seconds(), "0.99")
}

func niceLevelLabel(nice int) string {
	const digits = "0123456789"
	if nice >= 0 && nice < 10 {
		return string(digits[nice])
	}
	return "n"
}
