package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/flowload/internal/metrics"
)

// WriteError is returned when an artifact cannot be persisted.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write report %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Point is one instant_rps window.
type Point struct {
	Time  time.Time `json:"time" yaml:"time"`
	Value float64   `json:"value" yaml:"value"`
}

// Series is the throughput-only artifact.
type Series struct {
	Metric  string  `json:"metric" yaml:"metric"`
	Points  []Point `json:"points" yaml:"points"`
	Summary *Metric `json:"summary" yaml:"summary"`
}

// ThroughputSeries extracts the instant_rps series from the sink.
func ThroughputSeries(trends *metrics.TrendSink) *Series {
	samples := trends.Samples(metrics.MetricInstantRPS)
	points := make([]Point, len(samples))
	for i, smp := range samples {
		points[i] = Point{Time: smp.Time, Value: smp.Value}
	}
	return &Series{
		Metric:  metrics.MetricInstantRPS,
		Points:  points,
		Summary: trendMetric(trends.Summarize(metrics.MetricInstantRPS), "default"),
	}
}

// WriteArtifacts writes the full summary to summaryPath and the throughput
// series to seriesPath. An empty path skips that artifact. Both writes are
// attempted; failures are returned joined, each as a *WriteError.
func WriteArtifacts(summary *Summary, series *Series, summaryPath, seriesPath string) error {
	var errs []error
	if summaryPath != "" {
		if err := WriteFile(summaryPath, summary); err != nil {
			errs = append(errs, err)
		}
	}
	if seriesPath != "" {
		if err := WriteFile(seriesPath, series); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WriteFile encodes v as YAML when path ends in .yaml or .yml and as
// indented JSON otherwise. Missing parent directories are created.
func WriteFile(path string, v interface{}) error {
	data, err := Encode(path, v)
	if err != nil {
		return &WriteError{Path: path, Err: err}
	}
	return writeRaw(path, data)
}

func writeRaw(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &WriteError{Path: path, Err: err}
		}
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return &WriteError{Path: path, Err: err}
	}
	return nil
}

// Encode marshals v in the format implied by path.
func Encode(path string, v interface{}) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Marshal(v)
	default:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	}
}
