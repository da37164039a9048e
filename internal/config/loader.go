package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults reproducing the reference load profile.
const (
	DefaultURL            = "http://go_init_manager:60013/graphql"
	DefaultTimeout        = 10 * time.Second
	DefaultPollInterval   = 50 * time.Millisecond
	DefaultPollDeadline   = 30 * time.Second
	DefaultGracefulStop   = 45 * time.Second
	DefaultResolution     = 50 * time.Millisecond
	DefaultSummaryPath    = "k6_summary.json"
	DefaultMetricsPath    = "k6_metrics.json"
	DefaultMaxIdlePerHost = 1000
)

// DefaultStages is the reference ramp: 0->500->1500->3000->4000->0.
func DefaultStages() []StageConfig {
	return []StageConfig{
		{Duration: Duration(30 * time.Second), Target: 500},
		{Duration: Duration(time.Minute), Target: 1500},
		{Duration: Duration(2 * time.Minute), Target: 3000},
		{Duration: Duration(time.Minute), Target: 4000},
		{Duration: Duration(30 * time.Second), Target: 0},
	}
}

// DefaultThresholds are applied when the config declares none.
func DefaultThresholds() map[string][]string {
	return map[string][]string{
		"http_req_failed": {"rate<0.1"},
		"e2e_time":        {"p(95)<60000"},
		"instant_rps":     {"p(99)>0"},
	}
}

// Default returns a complete configuration for the reference profile.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// LoadConfig loads a configuration from a file and applies defaults.
//
// The file format is determined by extension:
//   - .yaml, .yml -> YAML
//   - .json -> JSON
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := ParseConfig(data, path)
	if err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	return cfg, nil
}

// ParseConfig parses configuration data without applying defaults.
//
// The format is determined by the file extension in path, or defaults to YAML
// if the path is empty or has an unknown extension.
func ParseConfig(data []byte, path string) (*Config, error) {
	var cfg Config

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config (unknown format %s): %w", ext, err)
		}
	}

	return &cfg, nil
}

// ApplyDefaults fills every unset field. A nil stage list or threshold map
// takes the reference values; an explicitly empty one is kept as is.
func ApplyDefaults(cfg *Config) {
	if cfg.Name == "" {
		cfg.Name = "flowload"
	}
	if cfg.Target.URL == "" {
		cfg.Target.URL = DefaultURL
	}
	if cfg.Target.Timeout == 0 {
		cfg.Target.Timeout = Duration(DefaultTimeout)
	}
	if cfg.Target.MaxIdleConnsPerHost == 0 {
		cfg.Target.MaxIdleConnsPerHost = DefaultMaxIdlePerHost
	}
	if cfg.Stages == nil {
		cfg.Stages = DefaultStages()
	}
	if cfg.GracefulStop == 0 {
		cfg.GracefulStop = Duration(DefaultGracefulStop)
	}
	if cfg.Workflow.PollInterval == 0 {
		cfg.Workflow.PollInterval = Duration(DefaultPollInterval)
	}
	if cfg.Workflow.PollDeadline == 0 {
		cfg.Workflow.PollDeadline = Duration(DefaultPollDeadline)
	}
	if cfg.Throughput.Mode == "" {
		cfg.Throughput.Mode = ThroughputOpportunistic
	}
	if cfg.Throughput.Resolution == 0 {
		cfg.Throughput.Resolution = Duration(DefaultResolution)
	}
	if cfg.Thresholds == nil {
		cfg.Thresholds = DefaultThresholds()
	}
	if cfg.Output.Summary == "" {
		cfg.Output.Summary = DefaultSummaryPath
	}
	if cfg.Output.Metrics == "" {
		cfg.Output.Metrics = DefaultMetricsPath
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
}

// Environment variables read by ApplyEnv.
const (
	EnvAPIURL        = "API_URL"
	EnvURL           = "FLOWLOAD_URL"
	EnvStages        = "FLOWLOAD_STAGES"
	EnvTimeout       = "FLOWLOAD_TIMEOUT"
	EnvMaxRPS        = "FLOWLOAD_MAX_RPS"
	EnvGracefulStop  = "FLOWLOAD_GRACEFUL_STOP"
	EnvSummary       = "FLOWLOAD_SUMMARY"
	EnvMetrics       = "FLOWLOAD_METRICS"
	EnvHTML          = "FLOWLOAD_HTML"
	EnvHistory       = "FLOWLOAD_HISTORY"
	EnvTelemetryAddr = "FLOWLOAD_TELEMETRY_ADDR"
	EnvLogLevel      = "FLOWLOAD_LOG_LEVEL"
)

// ApplyEnv overlays environment variables on cfg. lookup is usually
// os.LookupEnv. FLOWLOAD_URL wins over API_URL when both are set.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvAPIURL); ok {
		cfg.Target.URL = v
	}
	if v, ok := get(EnvURL); ok {
		cfg.Target.URL = v
	}
	if v, ok := get(EnvStages); ok {
		stages, err := ParseStages(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvStages, err)
		}
		cfg.Stages = stages
	}
	if v, ok := get(EnvTimeout); ok {
		d, err := ParseDurationString(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvTimeout, err)
		}
		cfg.Target.Timeout = Duration(d)
	}
	if v, ok := get(EnvGracefulStop); ok {
		d, err := ParseDurationString(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvGracefulStop, err)
		}
		cfg.GracefulStop = Duration(d)
	}
	if v, ok := get(EnvMaxRPS); ok {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvMaxRPS, err)
		}
		cfg.Target.MaxRPS = rps
	}
	if v, ok := get(EnvSummary); ok {
		cfg.Output.Summary = v
	}
	if v, ok := get(EnvMetrics); ok {
		cfg.Output.Metrics = v
	}
	if v, ok := get(EnvHTML); ok {
		cfg.Output.HTML = v
	}
	if v, ok := get(EnvHistory); ok {
		cfg.Output.History = v
	}
	if v, ok := get(EnvTelemetryAddr); ok {
		cfg.Telemetry.Addr = v
	}
	if v, ok := get(EnvLogLevel); ok {
		cfg.Log.Level = v
	}
	return nil
}

// ParseStages parses the compact "duration:target,..." form, e.g.
// "30s:500,1m:1500,30s:0".
func ParseStages(stagesStr string) ([]StageConfig, error) {
	var stages []StageConfig

	parts := strings.Split(stagesStr, ",")
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		colonIdx := strings.LastIndex(part, ":")
		if colonIdx == -1 {
			return nil, fmt.Errorf("stage %d: expected 'duration:target' format, got '%s'", i+1, part)
		}

		durationStr := part[:colonIdx]
		targetStr := part[colonIdx+1:]

		d, err := ParseDurationString(durationStr)
		if err != nil {
			return nil, fmt.Errorf("stage %d: invalid duration '%s': %w", i+1, durationStr, err)
		}

		target, err := strconv.Atoi(targetStr)
		if err != nil {
			return nil, fmt.Errorf("stage %d: invalid target '%s': %w", i+1, targetStr, err)
		}

		stages = append(stages, StageConfig{
			Duration: Duration(d),
			Target:   target,
			Name:     fmt.Sprintf("stage-%d", i+1),
		})
	}

	if len(stages) == 0 {
		return nil, fmt.Errorf("at least one stage is required")
	}

	return stages, nil
}

// ParseDurationString parses a duration string with support for common formats.
//
// Supported formats:
//   - Standard Go duration: "30s", "2m", "1h30m", "500ms"
//   - Seconds as integer: "30" (treated as 30 seconds)
func ParseDurationString(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(s)
	if err == nil {
		return d, nil
	}

	if seconds, err := strconv.Atoi(s); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}

	return 0, fmt.Errorf("invalid duration format: %s", s)
}
