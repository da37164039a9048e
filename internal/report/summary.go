// Package report turns the metrics collected during a run into the end-of-run
// summary and persists it.
//
// The summary keeps the shape of a k6 end-of-test summary: every metric is
// an entry with a type and a map of aggregate values, and tagged subsets are
// listed as submetrics named "metric{tag:value}".
package report

import (
	"fmt"
	"slices"
	"time"

	"github.com/samber/lo"

	"github.com/wesleyorama2/flowload/internal/metrics"
)

// Metric types.
const (
	TypeTrend   = "trend"
	TypeRate    = "rate"
	TypeCounter = "counter"
)

// Trends that always appear in the summary, even without samples.
var coreTrends = []string{
	metrics.MetricCreateTime,
	metrics.MetricPollTime,
	metrics.MetricE2ETime,
	metrics.MetricInstantRPS,
}

// Submetric tags expanded for e2e_time.
var e2eTags = []string{"final", "timed_out"}

// Metric is one entry of the summary.
type Metric struct {
	Type     string             `json:"type" yaml:"type"`
	Contains string             `json:"contains,omitempty" yaml:"contains,omitempty"`
	Values   map[string]float64 `json:"values" yaml:"values"`

	// Empty marks a metric without samples. Its statistics are omitted.
	Empty bool `json:"empty,omitempty" yaml:"empty,omitempty"`

	// Thresholds maps each expression declared on the metric to its outcome.
	Thresholds map[string]ThresholdOutcome `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
}

// ThresholdOutcome is the per-metric view of one threshold.
type ThresholdOutcome struct {
	OK bool `json:"ok" yaml:"ok"`
}

// ThresholdResult contains the result of a threshold evaluation.
type ThresholdResult struct {
	Metric     string `json:"metric" yaml:"metric"`
	Expression string `json:"expression" yaml:"expression"`
	Passed     bool   `json:"passed" yaml:"passed"`
	Value      string `json:"value" yaml:"value"`
	Message    string `json:"message,omitempty" yaml:"message,omitempty"`
}

// RunInfo describes the run a summary belongs to.
type RunInfo struct {
	ID         string
	Name       string
	StartTime  time.Time
	EndTime    time.Time
	PeakVUs    int
	Spawned    int64
	ForcedStop bool
}

// Summary is the complete end-of-run report.
type Summary struct {
	RunID      string    `json:"runId" yaml:"runId"`
	Name       string    `json:"name" yaml:"name"`
	StartTime  time.Time `json:"startTime" yaml:"startTime"`
	EndTime    time.Time `json:"endTime" yaml:"endTime"`
	DurationMs float64   `json:"durationMs" yaml:"durationMs"`

	PeakVUs    int   `json:"peakVUs" yaml:"peakVUs"`
	SpawnedVUs int64 `json:"spawnedVUs" yaml:"spawnedVUs"`
	ForcedStop bool  `json:"forcedStop,omitempty" yaml:"forcedStop,omitempty"`

	Metrics map[string]*Metric `json:"metrics" yaml:"metrics"`

	Passed     bool              `json:"passed" yaml:"passed"`
	Thresholds []ThresholdResult `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
}

// Build aggregates every metric into a Summary. It never fails: metrics
// without samples are reported as empty. requests may be nil.
func Build(info RunInfo, trends *metrics.TrendSink, requests *metrics.Engine) *Summary {
	duration := info.EndTime.Sub(info.StartTime)
	s := &Summary{
		RunID:      info.ID,
		Name:       info.Name,
		StartTime:  info.StartTime,
		EndTime:    info.EndTime,
		DurationMs: float64(duration) / float64(time.Millisecond),
		PeakVUs:    info.PeakVUs,
		SpawnedVUs: info.Spawned,
		ForcedStop: info.ForcedStop,
		Metrics:    make(map[string]*Metric),
		Passed:     true,
	}

	for _, name := range lo.Union(coreTrends, trends.Names()) {
		contains := "time"
		if name == metrics.MetricInstantRPS {
			contains = "default"
		}
		s.Metrics[name] = trendMetric(trends.Summarize(name), contains)
	}

	for _, key := range e2eTags {
		for _, value := range trends.TagValues(metrics.MetricE2ETime, key) {
			name := SubmetricName(metrics.MetricE2ETime, key, value)
			s.Metrics[name] = trendMetric(trends.SummarizeWhere(metrics.MetricE2ETime, key, value), "time")
		}
	}

	if requests != nil {
		addRequestMetrics(s, requests, duration)
	}

	return s
}

func addRequestMetrics(s *Summary, requests *metrics.Engine, duration time.Duration) {
	failed := requests.FailedRate()
	s.Metrics[metrics.MetricHTTPReqFailed] = &Metric{
		Type: TypeRate,
		Values: map[string]float64{
			"rate":   failed.Rate,
			"passes": float64(failed.Passes),
			"fails":  float64(failed.Fails),
		},
		Empty: failed.Count == 0,
	}

	s.Metrics[metrics.MetricHTTPReqDuration] = latencyMetric(requests.Latency())
	for op, stats := range requests.OperationLatency() {
		s.Metrics[SubmetricName(metrics.MetricHTTPReqDuration, "op", op)] = latencyMetric(stats)
	}

	s.Metrics["http_reqs"] = counterMetric(requests.TotalRequests(), duration)
	s.Metrics[metrics.MetricIterations] = counterMetric(requests.Iterations(), duration)
}

// SubmetricName names a tagged subset of a metric, e.g. "e2e_time{final:COMPLETED}".
func SubmetricName(metric, key, value string) string {
	return fmt.Sprintf("%s{%s:%s}", metric, key, value)
}

func trendMetric(sum metrics.Summary, contains string) *Metric {
	m := &Metric{
		Type:     TypeTrend,
		Contains: contains,
		Values:   map[string]float64{"count": float64(sum.Count)},
		Empty:    sum.Empty,
	}
	if sum.Empty {
		return m
	}
	for _, stat := range trendStats {
		if v, ok := sum.Stat(stat); ok {
			m.Values[stat] = v
		}
	}
	return m
}

func latencyMetric(stats metrics.LatencyStats) *Metric {
	m := &Metric{
		Type:     TypeTrend,
		Contains: "time",
		Values:   map[string]float64{"count": float64(stats.Count)},
		Empty:    stats.Count == 0,
	}
	if m.Empty {
		return m
	}
	for _, stat := range trendStats {
		if v, ok := stats.Stat(stat); ok {
			m.Values[stat] = v
		}
	}
	return m
}

func counterMetric(count int64, duration time.Duration) *Metric {
	m := &Metric{
		Type:   TypeCounter,
		Values: map[string]float64{"count": float64(count)},
	}
	if duration > 0 {
		m.Values["rate"] = float64(count) / duration.Seconds()
	}
	return m
}

var trendStats = []string{"avg", "min", "med", "max", "p(90)", "p(95)", "p(99)"}

// MetricNames returns the summary's metric names, sorted.
func (s *Summary) MetricNames() []string {
	names := lo.Keys(s.Metrics)
	slices.Sort(names)
	return names
}

// Failed returns the thresholds that did not pass.
func (s *Summary) Failed() []ThresholdResult {
	return lo.Filter(s.Thresholds, func(r ThresholdResult, _ int) bool { return !r.Passed })
}

// ApplyThresholds records threshold results on the summary and on each
// metric they were declared for, and updates the verdict.
func (s *Summary) ApplyThresholds(results []ThresholdResult) {
	s.Thresholds = results
	s.Passed = true
	for _, r := range results {
		if !r.Passed {
			s.Passed = false
		}
		m, ok := s.Metrics[r.Metric]
		if !ok {
			continue
		}
		if m.Thresholds == nil {
			m.Thresholds = make(map[string]ThresholdOutcome)
		}
		m.Thresholds[r.Expression] = ThresholdOutcome{OK: r.Passed}
	}
}
