package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// thresholdPattern matches expressions like "p(95) < 500", "rate<0.1" or
// "avg <= 200ms".
var thresholdPattern = regexp.MustCompile(`^(\w+(?:\(\d+(?:\.\d+)?\))?)\s*([<>=!]+)\s*(.+)$`)

var shortPercentile = regexp.MustCompile(`^p\d+$`)

var validOperators = map[string]bool{
	"<": true, "<=": true, ">": true, ">=": true,
	"==": true, "=": true, "!=": true, "<>": true,
}

// Threshold is one parsed pass/fail expression.
type Threshold struct {
	// Expression is the source text, reported back unchanged
	Expression string

	// Stat is the aggregate to read: rate, count, avg, min, max, med or p(N)
	Stat string

	// Percentile is N/100 when Stat is p(N)
	Percentile float64

	// Op is the comparison operator
	Op string

	// Value is the right-hand side; duration literals are in milliseconds
	Value float64
}

// IsPercentile reports whether the threshold reads a p(N) statistic.
func (t Threshold) IsPercentile() bool {
	return strings.HasPrefix(t.Stat, "p(")
}

// ParseThreshold parses a threshold expression.
func ParseThreshold(expr string) (Threshold, error) {
	expr = strings.TrimSpace(expr)

	matches := thresholdPattern.FindStringSubmatch(expr)
	if len(matches) != 4 {
		return Threshold{}, fmt.Errorf("invalid expression format: %s", expr)
	}

	t := Threshold{
		Expression: expr,
		Stat:       matches[1],
		Op:         matches[2],
	}

	// accept the short "p95" form as well
	if shortPercentile.MatchString(t.Stat) {
		t.Stat = "p(" + t.Stat[1:] + ")"
	}

	if !validOperators[t.Op] {
		return Threshold{}, fmt.Errorf("invalid operator %q in %s", t.Op, expr)
	}

	switch {
	case strings.HasPrefix(t.Stat, "p("):
		n, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimPrefix(t.Stat, "p("), ")"), 64)
		if err != nil || n <= 0 || n > 100 {
			return Threshold{}, fmt.Errorf("invalid percentile %s in %s", t.Stat, expr)
		}
		t.Percentile = n / 100
	case t.Stat == "rate", t.Stat == "count", t.Stat == "avg",
		t.Stat == "min", t.Stat == "max", t.Stat == "med":
	default:
		return Threshold{}, fmt.Errorf("unknown statistic %q in %s", t.Stat, expr)
	}

	value, err := parseThresholdValue(strings.TrimSpace(matches[3]))
	if err != nil {
		return Threshold{}, fmt.Errorf("invalid value in %s: %w", expr, err)
	}
	t.Value = value

	return t, nil
}

// parseThresholdValue accepts plain numbers or Go durations, which are
// converted to milliseconds to match the trend units.
func parseThresholdValue(s string) (float64, error) {
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%q is neither a number nor a duration", s)
	}
	return float64(d) / float64(time.Millisecond), nil
}
