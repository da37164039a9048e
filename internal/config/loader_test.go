package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseDurationString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{name: "seconds", input: "30s", expected: 30 * time.Second},
		{name: "minutes", input: "2m", expected: 2 * time.Minute},
		{name: "milliseconds", input: "50ms", expected: 50 * time.Millisecond},
		{name: "integer as seconds", input: "45", expected: 45 * time.Second},
		{name: "empty string", input: "", expected: 0},
		{name: "invalid format", input: "soon", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDurationString(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseDurationString() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.expected {
				t.Errorf("ParseDurationString() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestParseConfig_YAML(t *testing.T) {
	yamlConfig := `
name: "ramp"
target:
  url: "http://localhost:60013/graphql"
  timeout: 5s
  headers:
    X-Run: "nightly"
stages:
  - duration: 10s
    target: 20
  - duration: 5s
    target: 0
workflow:
  pollInterval: 100ms
throughput:
  mode: timer
thresholds:
  e2e_time: ["p(95)<1000"]
`
	cfg, err := ParseConfig([]byte(yamlConfig), "run.yaml")
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}

	if cfg.Name != "ramp" {
		t.Errorf("Name = %q, want ramp", cfg.Name)
	}
	if cfg.Target.Timeout != Duration(5*time.Second) {
		t.Errorf("Timeout = %v, want 5s", cfg.Target.Timeout)
	}
	if cfg.Target.Headers["X-Run"] != "nightly" {
		t.Errorf("Headers = %v", cfg.Target.Headers)
	}
	if len(cfg.Stages) != 2 || cfg.Stages[0].Target != 20 {
		t.Errorf("Stages = %+v", cfg.Stages)
	}
	if cfg.TotalDuration() != 15*time.Second {
		t.Errorf("TotalDuration() = %v, want 15s", cfg.TotalDuration())
	}
	if cfg.Workflow.PollInterval != Duration(100*time.Millisecond) {
		t.Errorf("PollInterval = %v", cfg.Workflow.PollInterval)
	}
	if cfg.Throughput.Mode != ThroughputTimer {
		t.Errorf("Throughput.Mode = %q", cfg.Throughput.Mode)
	}
	if cfg.Workflow.PollDeadline != 0 {
		t.Error("ParseConfig() should not apply defaults")
	}
}

func TestParseConfig_JSON(t *testing.T) {
	jsonConfig := `{
		"target": {"url": "http://api:8080/graphql", "maxRPS": 250},
		"stages": [{"duration": "1m", "target": 100}, {"duration": 30, "target": 0}],
		"gracefulStop": "10s"
	}`

	cfg, err := ParseConfig([]byte(jsonConfig), "run.json")
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}

	if cfg.Target.MaxRPS != 250 {
		t.Errorf("MaxRPS = %v, want 250", cfg.Target.MaxRPS)
	}
	if cfg.Stages[1].Duration != Duration(30*time.Second) {
		t.Errorf("numeric duration = %v, want 30s", cfg.Stages[1].Duration)
	}
	if cfg.GracefulStop != Duration(10*time.Second) {
		t.Errorf("GracefulStop = %v, want 10s", cfg.GracefulStop)
	}
}

func TestParseConfig_Invalid(t *testing.T) {
	if _, err := ParseConfig([]byte("stages: [[["), "bad.yaml"); err == nil {
		t.Error("expected error for malformed YAML")
	}
	if _, err := ParseConfig([]byte("{"), "bad.json"); err == nil {
		t.Error("expected error for malformed JSON")
	}
	if _, err := ParseConfig([]byte(`target: {timeout: "later"}`), "bad.yaml"); err == nil {
		t.Error("expected error for bad duration")
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flowload.yml")
	content := "target:\n  url: http://localhost:1/graphql\nstages:\n  - duration: 1s\n    target: 2\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Workflow.PollDeadline != Duration(DefaultPollDeadline) {
		t.Errorf("PollDeadline = %v, want default", cfg.Workflow.PollDeadline)
	}
	if len(cfg.Stages) != 1 {
		t.Errorf("explicit stages were replaced: %+v", cfg.Stages)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}

	if _, err := LoadConfig(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Target.URL != DefaultURL {
		t.Errorf("URL = %q", cfg.Target.URL)
	}
	if cfg.TotalDuration() != 5*time.Minute {
		t.Errorf("TotalDuration() = %v, want 5m", cfg.TotalDuration())
	}
	wantTargets := []int{500, 1500, 3000, 4000, 0}
	for i, stage := range cfg.Stages {
		if stage.Target != wantTargets[i] {
			t.Errorf("stage %d target = %d, want %d", i, stage.Target, wantTargets[i])
		}
	}
	if got := cfg.Thresholds["http_req_failed"]; len(got) != 1 || got[0] != "rate<0.1" {
		t.Errorf("http_req_failed thresholds = %v", got)
	}
	if cfg.Output.Summary != "k6_summary.json" || cfg.Output.Metrics != "k6_metrics.json" {
		t.Errorf("Output = %+v", cfg.Output)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config is invalid: %v", err)
	}
}

func TestApplyDefaults_KeepsExplicitEmptyThresholds(t *testing.T) {
	cfg := &Config{Thresholds: map[string][]string{}}
	ApplyDefaults(cfg)
	if len(cfg.Thresholds) != 0 {
		t.Errorf("Thresholds = %v, want empty", cfg.Thresholds)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvAPIURL:   "http://from-api-url/graphql",
		EnvStages:   "1s:5, 2s:0",
		EnvTimeout:  "3s",
		EnvMaxRPS:   "12.5",
		EnvSummary:  "out/summary.yaml",
		EnvLogLevel: "debug",
	}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	cfg := Default()
	if err := ApplyEnv(cfg, lookup); err != nil {
		t.Fatalf("ApplyEnv() error = %v", err)
	}

	if cfg.Target.URL != "http://from-api-url/graphql" {
		t.Errorf("URL = %q", cfg.Target.URL)
	}
	if len(cfg.Stages) != 2 || cfg.Stages[0].Target != 5 || cfg.Stages[1].Duration != Duration(2*time.Second) {
		t.Errorf("Stages = %+v", cfg.Stages)
	}
	if cfg.Target.Timeout != Duration(3*time.Second) {
		t.Errorf("Timeout = %v", cfg.Target.Timeout)
	}
	if cfg.Target.MaxRPS != 12.5 {
		t.Errorf("MaxRPS = %v", cfg.Target.MaxRPS)
	}
	if cfg.Output.Summary != "out/summary.yaml" {
		t.Errorf("Summary = %q", cfg.Output.Summary)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}

	env[EnvURL] = "http://explicit/graphql"
	if err := ApplyEnv(cfg, lookup); err != nil {
		t.Fatal(err)
	}
	if cfg.Target.URL != "http://explicit/graphql" {
		t.Errorf("FLOWLOAD_URL should win over API_URL, got %q", cfg.Target.URL)
	}
}

func TestApplyEnv_Errors(t *testing.T) {
	for _, key := range []string{EnvStages, EnvTimeout, EnvMaxRPS, EnvGracefulStop} {
		t.Run(key, func(t *testing.T) {
			lookup := func(k string) (string, bool) {
				if k == key {
					return "garbage", true
				}
				return "", false
			}
			err := ApplyEnv(Default(), lookup)
			if err == nil || !strings.Contains(err.Error(), key) {
				t.Errorf("ApplyEnv() error = %v, want mention of %s", err, key)
			}
		})
	}
}

func TestParseStages(t *testing.T) {
	stages, err := ParseStages("30s:500,1m:1500,30s:0")
	if err != nil {
		t.Fatalf("ParseStages() error = %v", err)
	}
	if len(stages) != 3 {
		t.Fatalf("len = %d, want 3", len(stages))
	}
	if stages[1].Duration != Duration(time.Minute) || stages[1].Target != 1500 {
		t.Errorf("stage 2 = %+v", stages[1])
	}
	if stages[2].Name != "stage-3" {
		t.Errorf("Name = %q", stages[2].Name)
	}

	for _, bad := range []string{"", "30s", "30s:many", "later:5"} {
		if _, err := ParseStages(bad); err == nil {
			t.Errorf("ParseStages(%q) should fail", bad)
		}
	}
}
