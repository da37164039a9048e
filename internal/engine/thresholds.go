package engine

import (
	"fmt"
	"slices"

	"github.com/samber/lo"

	"github.com/wesleyorama2/flowload/internal/config"
	"github.com/wesleyorama2/flowload/internal/metrics"
	"github.com/wesleyorama2/flowload/internal/report"
)

// QuantileFunc returns an arbitrary percentile p (0..1] of a metric. It backs
// p(N) thresholds whose percentile is not part of the summary.
type QuantileFunc func(metric string, p float64) (float64, bool)

// EvaluateThresholds evaluates every expression against the summary.
//
// Results are ordered by metric name, then declaration order. A threshold
// whose statistic is undefined (unknown metric, or a metric without samples)
// fails.
func EvaluateThresholds(thresholds map[string][]string, summary *report.Summary, quantile QuantileFunc) []report.ThresholdResult {
	names := lo.Keys(thresholds)
	slices.Sort(names)

	var results []report.ThresholdResult
	for _, name := range names {
		for _, expr := range thresholds[name] {
			results = append(results, evaluateThreshold(name, expr, summary, quantile))
		}
	}
	return results
}

func evaluateThreshold(name, expr string, summary *report.Summary, quantile QuantileFunc) report.ThresholdResult {
	result := report.ThresholdResult{
		Metric:     name,
		Expression: expr,
	}

	th, err := config.ParseThreshold(expr)
	if err != nil {
		result.Message = fmt.Sprintf("failed to parse expression: %v", err)
		return result
	}

	m, ok := summary.Metrics[name]
	if !ok {
		result.Message = fmt.Sprintf("unknown metric: %s", name)
		return result
	}

	actual, ok := statValue(name, m, th, quantile)
	if !ok {
		if m.Empty {
			result.Message = fmt.Sprintf("%s has no samples", name)
		} else {
			result.Message = fmt.Sprintf("%s does not provide %s", name, th.Stat)
		}
		return result
	}

	result.Value = formatStat(m, actual)
	result.Passed = compareValues(actual, th.Op, th.Value)
	if !result.Passed {
		result.Message = fmt.Sprintf("%s is %s, threshold: %s %g", th.Stat, result.Value, th.Op, th.Value)
	}
	return result
}

func statValue(name string, m *report.Metric, th config.Threshold, quantile QuantileFunc) (float64, bool) {
	if m.Empty && th.Stat != "count" {
		return 0, false
	}
	if v, ok := m.Values[th.Stat]; ok {
		return v, true
	}
	if th.IsPercentile() && quantile != nil && m.Type == report.TypeTrend {
		return quantile(name, th.Percentile)
	}
	return 0, false
}

func formatStat(m *report.Metric, v float64) string {
	if m.Type == report.TypeRate {
		return fmt.Sprintf("%.4f", v)
	}
	return fmt.Sprintf("%.2f", v)
}

// compareValues compares two values using the given operator.
func compareValues(actual float64, op string, threshold float64) bool {
	switch op {
	case "<":
		return actual < threshold
	case "<=":
		return actual <= threshold
	case ">":
		return actual > threshold
	case ">=":
		return actual >= threshold
	case "==", "=":
		return actual == threshold
	case "!=", "<>":
		return actual != threshold
	default:
		return false
	}
}

// sinkQuantiles answers p(N) for trend metrics and http_req_duration.
func sinkQuantiles(trends *metrics.TrendSink, requests *metrics.Engine) QuantileFunc {
	return func(metric string, p float64) (float64, bool) {
		if metric == metrics.MetricHTTPReqDuration {
			return requests.LatencyQuantile(p * 100)
		}
		return trends.Quantile(metric, p)
	}
}
