// Package config provides configuration parsing and validation for a load run.
package config

import (
	"encoding/json"
	"time"

	"gopkg.in/yaml.v3"
)

// Throughput counter modes.
const (
	// ThroughputOpportunistic checks the window at the start of every iteration.
	ThroughputOpportunistic = "opportunistic"
	// ThroughputTimer closes windows from a dedicated ticker goroutine.
	ThroughputTimer = "timer"
)

// Config is the root configuration for a load run.
//
// Example YAML:
//
//	name: "template service ramp"
//	target:
//	  url: "http://localhost:60013/graphql"
//	  timeout: 10s
//	stages:
//	  - duration: 30s
//	    target: 500
//	  - duration: 30s
//	    target: 0
//	thresholds:
//	  http_req_failed: ["rate<0.1"]
//	  e2e_time: ["p(95)<60000"]
type Config struct {
	// Name of the run (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Target is the GraphQL endpoint under test
	Target TargetConfig `json:"target" yaml:"target"`

	// Stages is the ramp schedule
	Stages []StageConfig `json:"stages" yaml:"stages"`

	// GracefulStop is how long in-flight iterations may run after the
	// schedule ends
	GracefulStop Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// Workflow tunes the create-then-poll loop
	Workflow WorkflowConfig `json:"workflow" yaml:"workflow"`

	// Throughput configures the instant_rps counter
	Throughput ThroughputConfig `json:"throughput" yaml:"throughput"`

	// Thresholds maps metric names to pass/fail expressions
	Thresholds map[string][]string `json:"thresholds" yaml:"thresholds"`

	// Output configures the report artifacts
	Output OutputConfig `json:"output" yaml:"output"`

	// Telemetry configures the live metrics endpoint
	Telemetry TelemetryConfig `json:"telemetry,omitempty" yaml:"telemetry,omitempty"`

	// Log configures structured logging
	Log LogConfig `json:"log,omitempty" yaml:"log,omitempty"`
}

// TargetConfig describes the endpoint under test.
type TargetConfig struct {
	// URL of the GraphQL endpoint
	URL string `json:"url" yaml:"url"`

	// Timeout is the per-request timeout
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// Headers are added to every request
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// MaxRPS caps the total request rate across all VUs (0 = unlimited)
	MaxRPS float64 `json:"maxRPS,omitempty" yaml:"maxRPS,omitempty"`

	// MaxConnsPerHost limits connections per host (0 = unlimited)
	MaxConnsPerHost int `json:"maxConnsPerHost,omitempty" yaml:"maxConnsPerHost,omitempty"`

	// MaxIdleConnsPerHost limits idle connections per host
	MaxIdleConnsPerHost int `json:"maxIdleConnsPerHost,omitempty" yaml:"maxIdleConnsPerHost,omitempty"`

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`
}

// StageConfig defines a single stage of the ramp schedule.
type StageConfig struct {
	// Duration of this stage (e.g., "30s", "2m")
	Duration Duration `json:"duration" yaml:"duration"`

	// Target VU count at the end of the stage
	Target int `json:"target" yaml:"target"`

	// Name is an optional name for this stage (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// WorkflowConfig tunes the poll loop.
type WorkflowConfig struct {
	// PollInterval is the sleep before each status query
	PollInterval Duration `json:"pollInterval,omitempty" yaml:"pollInterval,omitempty"`

	// PollDeadline bounds polling, measured from the iteration start
	PollDeadline Duration `json:"pollDeadline,omitempty" yaml:"pollDeadline,omitempty"`
}

// ThroughputConfig configures the instant_rps counter.
type ThroughputConfig struct {
	// Mode is "opportunistic" or "timer"
	Mode string `json:"mode,omitempty" yaml:"mode,omitempty"`

	// Resolution is how often the timer mode checks the window
	Resolution Duration `json:"resolution,omitempty" yaml:"resolution,omitempty"`
}

// OutputConfig names the report artifacts. Empty paths disable an artifact.
type OutputConfig struct {
	// Summary is the full report (.json or .yaml)
	Summary string `json:"summary,omitempty" yaml:"summary,omitempty"`

	// Metrics is the instant_rps series
	Metrics string `json:"metrics,omitempty" yaml:"metrics,omitempty"`

	// HTML is a standalone HTML report
	HTML string `json:"html,omitempty" yaml:"html,omitempty"`

	// History is a bbolt file that accumulates one record per run
	History string `json:"history,omitempty" yaml:"history,omitempty"`
}

// TelemetryConfig configures the Prometheus endpoint.
type TelemetryConfig struct {
	// Addr to listen on (e.g. ":9090"); empty disables the endpoint
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is debug, info, warn or error
	Level string `json:"level,omitempty" yaml:"level,omitempty"`

	// Format is console or json
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
}

// TotalDuration is the sum of all stage durations.
func (c *Config) TotalDuration() time.Duration {
	var total time.Duration
	for _, stage := range c.Stages {
		total += time.Duration(stage.Duration)
	}
	return total
}

// Duration is a time.Duration that can be unmarshaled from JSON/YAML strings.
type Duration time.Duration

// GetDuration returns the duration or a default if zero.
func (d Duration) GetDuration(defaultValue time.Duration) time.Duration {
	if d == 0 {
		return defaultValue
	}
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		// bare numbers are seconds
		var seconds float64
		if numErr := json.Unmarshal(b, &seconds); numErr != nil {
			return err
		}
		*d = Duration(seconds * float64(time.Second))
		return nil
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}
