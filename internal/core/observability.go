package core

import (
	"context"
	"expvar"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"cliniccore/pkg/domain"
)

// MetricsRecorder observes store operations. Implementations must be safe
// for concurrent use.
type MetricsRecorder interface {
	// Observe records the outcome and latency of a store operation.
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
	// LoadFallback records a collection discarded during load.
	LoadFallback(entity domain.EntityType)
	// CollectionSize reports the record count of a collection.
	CollectionSize(entity domain.EntityType, n int)
}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}
func (noopMetrics) LoadFallback(domain.EntityType)                       {}
func (noopMetrics) CollectionSize(domain.EntityType, int)                {}

// MultiRecorder fans every observation out to each recorder in order.
type MultiRecorder []MetricsRecorder

func (m MultiRecorder) Observe(ctx context.Context, operation string, success bool, duration time.Duration) {
	for _, r := range m {
		r.Observe(ctx, operation, success, duration)
	}
}

func (m MultiRecorder) LoadFallback(entity domain.EntityType) {
	for _, r := range m {
		r.LoadFallback(entity)
	}
}

func (m MultiRecorder) CollectionSize(entity domain.EntityType, n int) {
	for _, r := range m {
		r.CollectionSize(entity, n)
	}
}

var expvarSeq uint64

// ExpvarMetricsRecorder publishes aggregate timing and result counters via expvar.
// It maintains totals in milliseconds per operation, success/error counters,
// load fallbacks and collection sizes.
type ExpvarMetricsRecorder struct {
	name      string
	mu        sync.Mutex
	durations map[string]float64
	results   map[string]map[string]int64
	fallbacks map[domain.EntityType]int64
	records   map[domain.EntityType]int
}

// ExpvarMetricsSnapshot captures a read-only view of the recorded metrics.
type ExpvarMetricsSnapshot struct {
	DurationsMS map[string]float64          `json:"durations_ms_total"`
	Results     map[string]map[string]int64 `json:"results_total"`
	Fallbacks   map[domain.EntityType]int64 `json:"load_fallbacks_total"`
	Records     map[domain.EntityType]int   `json:"records"`
	RecordedAt  time.Time                   `json:"recorded_at"`
}

// NewExpvarMetricsRecorder constructs an expvar-backed recorder and publishes it
// under the supplied name. When name is empty, a unique identifier is generated.
// expvar names are process global; publishing a name twice panics.
func NewExpvarMetricsRecorder(name string) *ExpvarMetricsRecorder {
	if name == "" {
		id := atomic.AddUint64(&expvarSeq, 1)
		name = fmt.Sprintf("clinic_store_metrics_%d", id)
	}
	rec := &ExpvarMetricsRecorder{
		name:      name,
		durations: make(map[string]float64),
		results:   make(map[string]map[string]int64),
		fallbacks: make(map[domain.EntityType]int64),
		records:   make(map[domain.EntityType]int),
	}
	expvar.Publish(name, expvar.Func(func() any {
		return rec.Snapshot()
	}))
	return rec
}

// Name returns the expvar export name associated with the recorder.
func (r *ExpvarMetricsRecorder) Name() string {
	return r.name
}

// Snapshot returns an immutable copy of the aggregated metrics.
func (r *ExpvarMetricsRecorder) Snapshot() ExpvarMetricsSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	durations := make(map[string]float64, len(r.durations))
	for op, total := range r.durations {
		durations[op] = total
	}
	results := make(map[string]map[string]int64, len(r.results))
	for op, statusCounts := range r.results {
		cpy := make(map[string]int64, len(statusCounts))
		for status, count := range statusCounts {
			cpy[status] = count
		}
		results[op] = cpy
	}
	fallbacks := make(map[domain.EntityType]int64, len(r.fallbacks))
	for e, n := range r.fallbacks {
		fallbacks[e] = n
	}
	records := make(map[domain.EntityType]int, len(r.records))
	for e, n := range r.records {
		records[e] = n
	}
	return ExpvarMetricsSnapshot{
		DurationsMS: durations,
		Results:     results,
		Fallbacks:   fallbacks,
		Records:     records,
		RecordedAt:  time.Now().UTC(),
	}
}

// Observe records a store operation outcome.
func (r *ExpvarMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	ms := float64(duration) / float64(time.Millisecond)
	status := statusLabel(success)

	r.mu.Lock()
	r.durations[operation] += ms
	if _, ok := r.results[operation]; !ok {
		r.results[operation] = make(map[string]int64, 2)
	}
	r.results[operation][status]++
	r.mu.Unlock()
}

// LoadFallback counts a discarded collection.
func (r *ExpvarMetricsRecorder) LoadFallback(entity domain.EntityType) {
	r.mu.Lock()
	r.fallbacks[entity]++
	r.mu.Unlock()
}

// CollectionSize stores the latest record count for entity.
func (r *ExpvarMetricsRecorder) CollectionSize(entity domain.EntityType, n int) {
	r.mu.Lock()
	r.records[entity] = n
	r.mu.Unlock()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// observe reports a finished operation to the recorder and the log.
func (s *Store) observe(ctx context.Context, operation string, started time.Time, err error) {
	elapsed := time.Since(started)
	s.metrics.Observe(ctx, operation, err == nil, elapsed)
	if err != nil {
		s.log.Error().Err(err).Str("operation", operation).Dur("duration", elapsed).Msg("store operation failed")
		return
	}
	s.log.Debug().Str("operation", operation).Dur("duration", elapsed).Msg("store operation")
}

func (s *Store) reportSizes() {
	for entity, n := range s.sizes() {
		s.metrics.CollectionSize(entity, n)
	}
}
