package fibersched

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestLatencyMetrics_SamplePercentiles(t *testing.T) {
	var l LatencyMetrics
	for i := 1; i <= 100; i++ {
		l.Record(time.Duration(i) * time.Millisecond)
	}
	if n := l.Sample(); n != 100 {
		t.Fatalf("expected 100 samples, got %d", n)
	}
	if l.Max != 100*time.Millisecond {
		t.Fatalf("expected max 100ms, got %v", l.Max)
	}
	if l.P50 < 40*time.Millisecond || l.P50 > 60*time.Millisecond {
		t.Fatalf("expected p50 near 50ms, got %v", l.P50)
	}
	if l.P99 < l.P95 || l.P95 < l.P90 || l.P90 < l.P50 {
		t.Fatalf("expected percentiles to be non-decreasing, got p50=%v p90=%v p95=%v p99=%v", l.P50, l.P90, l.P95, l.P99)
	}
}

func TestLatencyMetrics_Sample_EmptyReturnsZero(t *testing.T) {
	var l LatencyMetrics
	if n := l.Sample(); n != 0 {
		t.Fatalf("expected 0 samples, got %d", n)
	}
}

func TestLatencyMetrics_Record_EvictsOldestPastSampleSize(t *testing.T) {
	var l LatencyMetrics
	for i := 0; i < sampleSize+10; i++ {
		l.Record(time.Millisecond)
	}
	l.Sample()
	if l.Sum != time.Duration(sampleSize)*time.Millisecond {
		t.Fatalf("expected sum bounded to window, got %v", l.Sum)
	}
}

func TestQueueMetrics_UpdateNiceLevel_TracksMaxAndAvg(t *testing.T) {
	var q QueueMetrics
	q.UpdateNiceLevel(0, 5)
	q.UpdateNiceLevel(0, 2)
	q.UpdateNiceLevel(0, 8)

	if got := q.NiceLevelDepth(0); got != 8 {
		t.Fatalf("expected current depth 8, got %d", got)
	}
	if q.max[0] != 8 {
		t.Fatalf("expected max 8, got %d", q.max[0])
	}
	if q.avg[0] == 5 {
		t.Fatal("expected avg to move away from the warm-start value after later observations")
	}
}

func TestQueueMetrics_NiceLevelDepth_UnseenIsZero(t *testing.T) {
	var q QueueMetrics
	if got := q.NiceLevelDepth(3); got != 0 {
		t.Fatalf("expected 0 for unseen nice level, got %d", got)
	}
}

func TestQueueMetrics_UpdateDispatch_TracksMaxAndAvg(t *testing.T) {
	var q QueueMetrics
	q.UpdateDispatch(1)
	q.UpdateDispatch(0)
	q.UpdateDispatch(1)

	if q.DispatchMax != 1 {
		t.Fatalf("expected dispatch max 1, got %d", q.DispatchMax)
	}
	if q.DispatchCurrent != 1 {
		t.Fatalf("expected dispatch current 1, got %d", q.DispatchCurrent)
	}
}

func TestTPSCounter_IncrementAndTPS(t *testing.T) {
	c := NewTPSCounter(time.Second, 100*time.Millisecond)
	for i := 0; i < 10; i++ {
		c.Increment()
	}
	if tps := c.TPS(); tps <= 0 {
		t.Fatalf("expected positive tps, got %v", tps)
	}
}

func TestTPSCounter_TPS_ZeroWhenIdle(t *testing.T) {
	c := NewTPSCounter(time.Second, 100*time.Millisecond)
	if tps := c.TPS(); tps != 0 {
		t.Fatalf("expected 0 tps with no events, got %v", tps)
	}
}

func TestTPSCounter_BucketCountFloorsAtOne(t *testing.T) {
	c := NewTPSCounter(time.Millisecond, time.Second)
	if len(c.buckets) != 1 {
		t.Fatalf("expected bucket count floored to 1, got %d", len(c.buckets))
	}
}

func TestNewMetrics_ResumesConfigured(t *testing.T) {
	m := NewMetrics()
	m.Resumes.Increment()
	if tps := m.Resumes.TPS(); tps <= 0 {
		t.Fatalf("expected positive tps after increment, got %v", tps)
	}
}

func TestPercentileIndex_ClampsAtLastElement(t *testing.T) {
	if idx := percentileIndex(1, 99); idx != 0 {
		t.Fatalf("expected index 0 for a single-element window, got %d", idx)
	}
	if idx := percentileIndex(10, 100); idx != 9 {
		t.Fatalf("expected clamped index 9, got %d", idx)
	}
}

func TestPrometheusCollector_CollectAndDescribe(t *testing.T) {
	m := NewMetrics()
	m.Resumes.Increment()
	m.Queue.UpdateNiceLevel(0, 3)
	m.Queue.UpdateDispatch(1)
	m.Latency.Record(5 * time.Millisecond)
	m.Latency.Sample()

	c := NewPrometheusCollector(m)

	// Describe/Collect are exercised via the prometheus.Collector interface
	// contract: both channels must accept exactly the descriptors/metrics
	// declared without blocking or panicking.
	descCh := make(chan *prometheus.Desc, 8)
	metricCh := make(chan prometheus.Metric, 8)
	go func() {
		c.Describe(descCh)
		close(descCh)
	}()
	var descCount int
	for range descCh {
		descCount++
	}
	if descCount != 4 {
		t.Fatalf("expected 4 descriptors, got %d", descCount)
	}

	go func() {
		c.Collect(metricCh)
		close(metricCh)
	}()
	var metricCount int
	for range metricCh {
		metricCount++
	}
	if metricCount == 0 {
		t.Fatal("expected at least one collected metric")
	}
}

func TestNiceLevelLabel(t *testing.T) {
	if got := niceLevelLabel(3); got != "3" {
		t.Fatalf("expected %q, got %q", "3", got)
	}
	if got := niceLevelLabel(42); got != "n" {
		t.Fatalf("expected fallback %q, got %q", "n", got)
	}
}
