// Package profiler - Stage timings and runtime metrics for a pipeline run.
package profiler

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nvr-ai/go-annotator/logger"
)

// MetricsCollector defines the interface for collecting custom metrics.
type MetricsCollector interface {
	CollectMetrics() map[string]float64
}

// RuntimeProfiler records how long each stage takes and samples process memory.
//
// All methods are safe for concurrent use. A profiler that was never started still
// records operations and metrics; Start only adds periodic sampling and reporting.
type RuntimeProfiler struct {
	reportInterval time.Duration
	sampleInterval time.Duration
	maxSamples     int

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.RWMutex
	startTime time.Time
	running   bool
	log       *zerolog.Logger

	memStats   runtime.MemStats
	peakHeap   uint64
	collectors []MetricsCollector

	metrics    map[string]*metricTracker
	operations map[string]*timeTracker
}

type metricTracker struct {
	values   []float64
	sum      float64
	min      float64
	max      float64
	count    int64
	lastTime time.Time
}

func (t *metricTracker) add(value float64, limit int) {
	if t.count == 0 || value < t.min {
		t.min = value
	}
	if t.count == 0 || value > t.max {
		t.max = value
	}
	t.values = append(t.values, value)
	t.sum += value
	if len(t.values) > limit {
		t.sum -= t.values[0]
		t.values = t.values[1:]
	}
	t.count++
	t.lastTime = time.Now()
}

type timeTracker struct {
	durations []time.Duration
	window    time.Duration
	total     time.Duration
	min       time.Duration
	max       time.Duration
	count     int64
}

func (t *timeTracker) add(d time.Duration, limit int) {
	if t.count == 0 || d < t.min {
		t.min = d
	}
	if t.count == 0 || d > t.max {
		t.max = d
	}
	t.durations = append(t.durations, d)
	t.window += d
	if len(t.durations) > limit {
		t.window -= t.durations[0]
		t.durations = t.durations[1:]
	}
	t.total += d
	t.count++
}

// ProfilingOptions configures the runtime profiler.
type ProfilingOptions struct {
	// ReportInterval specifies how often to emit status reports (default: 2s)
	ReportInterval time.Duration
	// SampleInterval specifies how often to collect samples (default: 100ms)
	SampleInterval time.Duration
	// MaxSamples specifies the rolling window kept per metric (default: 600)
	MaxSamples int
}

// NewRuntimeProfiler creates a new runtime profiler with the specified options.
func NewRuntimeProfiler(opts ProfilingOptions) *RuntimeProfiler {
	if opts.ReportInterval == 0 {
		opts.ReportInterval = 2 * time.Second
	}
	if opts.SampleInterval == 0 {
		opts.SampleInterval = 100 * time.Millisecond
	}
	if opts.MaxSamples == 0 {
		opts.MaxSamples = 600
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &RuntimeProfiler{
		reportInterval: opts.ReportInterval,
		sampleInterval: opts.SampleInterval,
		maxSamples:     opts.MaxSamples,
		ctx:            ctx,
		cancel:         cancel,
		startTime:      time.Now(),
		log:            logger.WithComponent("profiler"),
		metrics:        make(map[string]*metricTracker),
		operations:     make(map[string]*timeTracker),
	}
}

// Start begins background sampling and periodic reports. Calling it twice is a no-op.
func (rp *RuntimeProfiler) Start() {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	if rp.running {
		return
	}
	rp.running = true
	rp.startTime = time.Now()

	rp.wg.Add(2)
	go rp.sampleLoop()
	go rp.reportLoop()
}

// Stop halts the background goroutines and waits for them.
func (rp *RuntimeProfiler) Stop() {
	rp.mu.Lock()
	if !rp.running {
		rp.mu.Unlock()
		return
	}
	rp.running = false
	rp.mu.Unlock()

	rp.cancel()
	rp.wg.Wait()
}

// AddMetricsCollector registers a collector polled on every sample.
func (rp *RuntimeProfiler) AddMetricsCollector(collector MetricsCollector) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	rp.collectors = append(rp.collectors, collector)
}

// RecordMetric records a custom metric value.
func (rp *RuntimeProfiler) RecordMetric(name string, value float64) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	rp.recordMetricLocked(name, value)
}

func (rp *RuntimeProfiler) recordMetricLocked(name string, value float64) {
	t, ok := rp.metrics[name]
	if !ok {
		t = &metricTracker{}
		rp.metrics[name] = t
	}
	t.add(value, rp.maxSamples)
}

// StartOperation begins timing an operation.
//
// Returns:
//   - A function to call when the operation completes.
func (rp *RuntimeProfiler) StartOperation(name string) func() {
	start := time.Now()
	return func() {
		rp.RecordOperation(name, time.Since(start))
	}
}

// RecordOperation records one completed operation.
func (rp *RuntimeProfiler) RecordOperation(name string, d time.Duration) {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	t, ok := rp.operations[name]
	if !ok {
		t = &timeTracker{}
		rp.operations[name] = t
	}
	t.add(d, rp.maxSamples)
}

func (rp *RuntimeProfiler) sampleLoop() {
	defer rp.wg.Done()

	ticker := time.NewTicker(rp.sampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rp.ctx.Done():
			return
		case <-ticker.C:
			rp.sample()
		}
	}
}

func (rp *RuntimeProfiler) sample() {
	rp.mu.Lock()
	collectors := append([]MetricsCollector(nil), rp.collectors...)
	runtime.ReadMemStats(&rp.memStats)
	if rp.memStats.HeapAlloc > rp.peakHeap {
		rp.peakHeap = rp.memStats.HeapAlloc
	}
	rp.recordMetricLocked("goroutines", float64(runtime.NumGoroutine()))
	rp.mu.Unlock()

	// Collectors may take their own locks.
	for _, c := range collectors {
		values := c.CollectMetrics()
		rp.mu.Lock()
		for name, v := range values {
			rp.recordMetricLocked(name, v)
		}
		rp.mu.Unlock()
	}
}

func (rp *RuntimeProfiler) reportLoop() {
	defer rp.wg.Done()

	ticker := time.NewTicker(rp.reportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rp.ctx.Done():
			return
		case <-ticker.C:
			rp.Report(zerolog.DebugLevel)
		}
	}
}

// OperationStats summarizes one timed operation.
type OperationStats struct {
	Name  string
	Count int64
	Total time.Duration
	Avg   time.Duration
	Min   time.Duration
	Max   time.Duration
}

// MetricStats summarizes one custom metric over its rolling window.
type MetricStats struct {
	Name    string
	Avg     float64
	Min     float64
	Max     float64
	Samples int
}

// Snapshot is a point-in-time copy of everything the profiler holds.
type Snapshot struct {
	Uptime     time.Duration
	HeapAlloc  uint64
	PeakHeap   uint64
	NumGC      uint32
	Operations []OperationStats
	Metrics    []MetricStats
}

// Operation returns the stats for a named operation.
func (s Snapshot) Operation(name string) (OperationStats, bool) {
	for _, op := range s.Operations {
		if op.Name == name {
			return op, true
		}
	}
	return OperationStats{}, false
}

// Snapshot returns the current statistics, sorted by name.
func (rp *RuntimeProfiler) Snapshot() Snapshot {
	rp.mu.RLock()
	defer rp.mu.RUnlock()

	s := Snapshot{
		Uptime:    time.Since(rp.startTime),
		HeapAlloc: rp.memStats.HeapAlloc,
		PeakHeap:  rp.peakHeap,
		NumGC:     rp.memStats.NumGC,
	}

	for name, t := range rp.operations {
		op := OperationStats{Name: name, Count: t.count, Total: t.total, Min: t.min, Max: t.max}
		if n := len(t.durations); n > 0 {
			op.Avg = t.window / time.Duration(n)
		}
		s.Operations = append(s.Operations, op)
	}
	sort.Slice(s.Operations, func(i, j int) bool { return s.Operations[i].Name < s.Operations[j].Name })

	for name, t := range rp.metrics {
		if len(t.values) == 0 {
			continue
		}
		s.Metrics = append(s.Metrics, MetricStats{
			Name:    name,
			Avg:     t.sum / float64(len(t.values)),
			Min:     t.min,
			Max:     t.max,
			Samples: len(t.values),
		})
	}
	sort.Slice(s.Metrics, func(i, j int) bool { return s.Metrics[i].Name < s.Metrics[j].Name })

	return s
}

// Report logs the current snapshot at the given level, one line per operation.
func (rp *RuntimeProfiler) Report(level zerolog.Level) {
	s := rp.Snapshot()

	rp.log.WithLevel(level).
		Dur("uptime", s.Uptime.Truncate(time.Millisecond)).
		Str("heap", formatBytes(s.HeapAlloc)).
		Str("peak_heap", formatBytes(s.PeakHeap)).
		Uint32("gc_cycles", s.NumGC).
		Msg("profile")

	for _, op := range s.Operations {
		rp.log.WithLevel(level).
			Str("operation", op.Name).
			Int64("count", op.Count).
			Dur("avg", op.Avg.Truncate(time.Microsecond)).
			Dur("min", op.Min.Truncate(time.Microsecond)).
			Dur("max", op.Max.Truncate(time.Microsecond)).
			Msg("operation timing")
	}
	for _, m := range s.Metrics {
		rp.log.WithLevel(level).
			Str("metric", m.Name).
			Float64("avg", m.Avg).
			Float64("min", m.Min).
			Float64("max", m.Max).
			Int("samples", m.Samples).
			Msg("metric")
	}
}
