// Package metrics collects the samples produced during a load run.
//
// It holds three kinds of metrics:
//   - Trends: named, append-only sample sets with derived statistics
//     (create_time, poll_time, e2e_time, instant_rps)
//   - The request engine: per-operation HDR latency histograms and the
//     request failure rate (http_req_duration, http_req_failed)
//   - The windowed throughput counter feeding instant_rps
//
// # Thread Safety
//
// Every type in this package is safe for concurrent use by all virtual users.
package metrics

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Well-known metric names.
const (
	MetricCreateTime      = "create_time"
	MetricPollTime        = "poll_time"
	MetricE2ETime         = "e2e_time"
	MetricInstantRPS      = "instant_rps"
	MetricHTTPReqFailed   = "http_req_failed"
	MetricHTTPReqDuration = "http_req_duration"
	MetricIterations      = "iterations"
)

// Sample is a single recorded value. Samples are never modified once recorded.
type Sample struct {
	Metric string            `json:"metric"`
	Value  float64           `json:"value"`
	Time   time.Time         `json:"time"`
	Tags   map[string]string `json:"tags,omitempty"`
}

// Summary contains derived statistics for one trend.
//
// All statistic fields are nil when the trend has no samples, so an empty
// metric never reads as a zero latency.
type Summary struct {
	Count int      `json:"count" yaml:"count"`
	Empty bool     `json:"empty,omitempty" yaml:"empty,omitempty"`
	Min   *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max   *float64 `json:"max,omitempty" yaml:"max,omitempty"`
	Avg   *float64 `json:"avg,omitempty" yaml:"avg,omitempty"`
	Med   *float64 `json:"med,omitempty" yaml:"med,omitempty"`
	P90   *float64 `json:"p(90),omitempty" yaml:"p(90),omitempty"`
	P95   *float64 `json:"p(95),omitempty" yaml:"p(95),omitempty"`
	P99   *float64 `json:"p(99),omitempty" yaml:"p(99),omitempty"`
}

// Stat returns a statistic by its threshold name ("avg", "min", "max",
// "med", "count", "p(N)"). ok is false for unknown names and for empty trends.
func (s Summary) Stat(name string) (value float64, ok bool) {
	if name == "count" {
		return float64(s.Count), true
	}
	var p *float64
	switch name {
	case "min":
		p = s.Min
	case "max":
		p = s.Max
	case "avg":
		p = s.Avg
	case "med", "p(50)":
		p = s.Med
	case "p(90)":
		p = s.P90
	case "p(95)":
		p = s.P95
	case "p(99)":
		p = s.P99
	default:
		return 0, false
	}
	if p == nil {
		return 0, false
	}
	return *p, true
}

// trend owns the samples of one metric name.
type trend struct {
	mu      sync.Mutex
	samples []Sample
}

// TrendSink accumulates trend samples per metric name.
//
// Trends are created lazily on the first sample for a name and live for
// the lifetime of the sink.
type TrendSink struct {
	mu     sync.RWMutex
	trends map[string]*trend
	now    func() time.Time
}

// NewTrendSink creates an empty sink.
func NewTrendSink() *TrendSink {
	return &TrendSink{
		trends: make(map[string]*trend),
		now:    time.Now,
	}
}

// Record appends a sample to the named trend. It never fails.
func (s *TrendSink) Record(metric string, value float64, tags map[string]string) {
	var copied map[string]string
	if len(tags) > 0 {
		copied = make(map[string]string, len(tags))
		for k, v := range tags {
			copied[k] = v
		}
	}

	t := s.trend(metric)
	t.mu.Lock()
	t.samples = append(t.samples, Sample{
		Metric: metric,
		Value:  value,
		Time:   s.now(),
		Tags:   copied,
	})
	t.mu.Unlock()
}

// RecordDuration records d in milliseconds.
func (s *TrendSink) RecordDuration(metric string, d time.Duration, tags map[string]string) {
	s.Record(metric, float64(d)/float64(time.Millisecond), tags)
}

func (s *TrendSink) trend(metric string) *trend {
	s.mu.RLock()
	t, ok := s.trends[metric]
	s.mu.RUnlock()
	if ok {
		return t
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok = s.trends[metric]; !ok {
		t = &trend{}
		s.trends[metric] = t
	}
	return t
}

// Samples returns a copy of the samples recorded for metric, in recording order.
func (s *TrendSink) Samples(metric string) []Sample {
	s.mu.RLock()
	t, ok := s.trends[metric]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Sample, len(t.samples))
	copy(out, t.samples)
	return out
}

// Count returns the number of samples recorded for metric.
func (s *TrendSink) Count(metric string) int {
	s.mu.RLock()
	t, ok := s.trends[metric]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.samples)
}

// Names returns the metric names that have at least one sample, sorted.
func (s *TrendSink) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.trends))
	for name := range s.trends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Summarize computes statistics over every sample recorded so far for metric.
func (s *TrendSink) Summarize(metric string) Summary {
	samples := s.Samples(metric)
	values := make([]float64, len(samples))
	for i, smp := range samples {
		values[i] = smp.Value
	}
	return Summarize(values)
}

// SummarizeWhere computes statistics over the samples whose tag key equals value.
func (s *TrendSink) SummarizeWhere(metric, key, value string) Summary {
	var values []float64
	for _, smp := range s.Samples(metric) {
		if smp.Tags[key] == value {
			values = append(values, smp.Value)
		}
	}
	return Summarize(values)
}

// TagValues returns the distinct values of a tag key on metric, sorted.
func (s *TrendSink) TagValues(metric, key string) []string {
	seen := make(map[string]struct{})
	for _, smp := range s.Samples(metric) {
		if v, ok := smp.Tags[key]; ok {
			seen[v] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Quantile returns the nearest-rank percentile p (0..1] over every sample of
// metric. ok is false when the trend is empty.
func (s *TrendSink) Quantile(metric string, p float64) (float64, bool) {
	samples := s.Samples(metric)
	if len(samples) == 0 {
		return 0, false
	}
	values := make([]float64, len(samples))
	for i, smp := range samples {
		values[i] = smp.Value
	}
	sort.Float64s(values)
	return Percentile(values, p), true
}

// Summarize computes statistics over values. The input slice is not modified.
func Summarize(values []float64) Summary {
	if len(values) == 0 {
		return Summary{Empty: true}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var total float64
	for _, v := range sorted {
		total += v
	}

	return Summary{
		Count: len(sorted),
		Min:   ptr(sorted[0]),
		Max:   ptr(sorted[len(sorted)-1]),
		Avg:   ptr(total / float64(len(sorted))),
		Med:   ptr(Percentile(sorted, 0.50)),
		P90:   ptr(Percentile(sorted, 0.90)),
		P95:   ptr(Percentile(sorted, 0.95)),
		P99:   ptr(Percentile(sorted, 0.99)),
	}
}

// Percentile returns the nearest-rank percentile p (0..1] of an ascending slice.
func Percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	// epsilon keeps 0.95*100 from rounding up to the next rank
	rank := int(math.Ceil(p*float64(len(sorted))-1e-9)) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}

func ptr(v float64) *float64 {
	return &v
}
