package engine

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/flowload/internal/config"
	"github.com/wesleyorama2/flowload/internal/mockserver"
	"github.com/wesleyorama2/flowload/internal/report"
)

func shortConfig(t *testing.T, url string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		Name:   "e2e",
		Target: config.TargetConfig{URL: url},
		Stages: []config.StageConfig{
			{Duration: 0, Target: 5},
			{Duration: config.Duration(time.Second), Target: 5},
		},
		GracefulStop: config.Duration(2 * time.Second),
		Output: config.OutputConfig{
			Summary: filepath.Join(dir, "k6_summary.json"),
			Metrics: filepath.Join(dir, "k6_metrics.json"),
			History: filepath.Join(dir, "history.db"),
		},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func sumPoints(s *report.Series) float64 {
	var total float64
	for _, p := range s.Points {
		total += p.Value
	}
	return total
}

func TestEngine_RunAgainstMockBackend(t *testing.T) {
	backend := mockserver.New(mockserver.Config{PollsToComplete: 1}, nil)
	srv := httptest.NewServer(backend)
	defer srv.Close()

	cfg := shortConfig(t, srv.URL)
	eng, err := NewEngine(cfg, Options{})
	require.NoError(t, err)

	result, err := eng.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, result.WriteErr)

	s := result.Summary
	e2e := s.Metrics["e2e_time"]
	require.False(t, e2e.Empty)

	// 5 VUs for 1s with iterations of roughly one poll interval
	count := e2e.Values["count"]
	assert.Greater(t, count, 20.0)
	assert.Less(t, count, 150.0)
	assert.Equal(t, count, s.Metrics["e2e_time{final:COMPLETED}"].Values["count"])
	assert.Equal(t, 0.0, s.Metrics["http_req_failed"].Values["rate"])

	assert.True(t, result.Passed, "thresholds: %+v", s.Failed())
	assert.Equal(t, 5, s.PeakVUs)
	assert.False(t, s.ForcedStop)

	// every request lands in exactly one throughput window
	assert.Equal(t, s.Metrics["http_reqs"].Values["count"], sumPoints(result.Series))
	assert.Equal(t, float64(backend.Creates()+backend.Polls()), s.Metrics["http_reqs"].Values["count"])

	for _, path := range []string{cfg.Output.Summary, cfg.Output.Metrics, cfg.Output.History} {
		_, err := os.Stat(path)
		assert.NoError(t, err, path)
	}

	store, err := report.OpenHistory(cfg.Output.History)
	require.NoError(t, err)
	defer store.Close()
	records, err := store.List(0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, s.RunID, records[0].ID)
}

func TestEngine_FailingBackendFailsThresholds(t *testing.T) {
	backend := mockserver.New(mockserver.Config{CreateFailureRatio: 1}, nil)
	srv := httptest.NewServer(backend)
	defer srv.Close()

	cfg := shortConfig(t, srv.URL)
	cfg.Stages = []config.StageConfig{{Duration: 0, Target: 2}, {Duration: config.Duration(300 * time.Millisecond), Target: 2}}
	cfg.Output = config.OutputConfig{}

	eng, err := NewEngine(cfg, Options{})
	require.NoError(t, err)
	result, err := eng.Run(context.Background())
	require.NoError(t, err)

	s := result.Summary
	assert.False(t, result.Passed)
	assert.Equal(t, 1.0, s.Metrics["http_req_failed"].Values["rate"])
	assert.True(t, s.Metrics["e2e_time"].Empty)
	assert.True(t, s.Metrics["poll_time"].Empty)
	assert.False(t, s.Metrics["create_time"].Empty, "create_time is recorded for failed creates")
	assert.Zero(t, backend.Polls())

	failed := s.Failed()
	metricsFailed := make(map[string]bool)
	for _, f := range failed {
		metricsFailed[f.Metric] = true
	}
	assert.True(t, metricsFailed["http_req_failed"])
	assert.True(t, metricsFailed["e2e_time"])
}

func TestEngine_TimerMode(t *testing.T) {
	srv := httptest.NewServer(mockserver.New(mockserver.Config{PollsToComplete: 2}, nil))
	defer srv.Close()

	cfg := shortConfig(t, srv.URL)
	cfg.Stages = []config.StageConfig{{Duration: 0, Target: 3}, {Duration: config.Duration(2200 * time.Millisecond), Target: 3}}
	cfg.Throughput.Mode = config.ThroughputTimer
	cfg.Throughput.Resolution = config.Duration(10 * time.Millisecond)
	cfg.Output = config.OutputConfig{}

	eng, err := NewEngine(cfg, Options{})
	require.NoError(t, err)
	result, err := eng.Run(context.Background())
	require.NoError(t, err)

	// two full windows plus the flushed remainder
	assert.GreaterOrEqual(t, len(result.Series.Points), 2)
	assert.Equal(t, result.Summary.Metrics["http_reqs"].Values["count"], sumPoints(result.Series))
}

func TestEngine_Progress(t *testing.T) {
	srv := httptest.NewServer(mockserver.New(mockserver.Config{PollsToComplete: 1}, nil))
	defer srv.Close()

	cfg := shortConfig(t, srv.URL)
	cfg.Stages = []config.StageConfig{{Duration: 0, Target: 1}, {Duration: config.Duration(300 * time.Millisecond), Target: 1}}
	cfg.Output = config.OutputConfig{}

	var calls atomic.Int32
	var sawVU atomic.Bool
	eng, err := NewEngine(cfg, Options{
		ProgressInterval: 20 * time.Millisecond,
		OnProgress: func(p Progress) {
			calls.Add(1)
			if p.ActiveVUs == 1 && p.Total == 300*time.Millisecond {
				sawVU.Store(true)
			}
		},
	})
	require.NoError(t, err)

	_, err = eng.Run(context.Background())
	require.NoError(t, err)
	assert.Greater(t, calls.Load(), int32(3))
	assert.True(t, sawVU.Load())
	assert.False(t, eng.IsRunning())
}

func TestEngine_StopEndsRunEarly(t *testing.T) {
	srv := httptest.NewServer(mockserver.New(mockserver.DefaultConfig(), nil))
	defer srv.Close()

	cfg := shortConfig(t, srv.URL)
	cfg.Stages = []config.StageConfig{{Duration: config.Duration(time.Hour), Target: 2}}
	cfg.Output = config.OutputConfig{}

	eng, err := NewEngine(cfg, Options{})
	require.NoError(t, err)

	go func() {
		time.Sleep(200 * time.Millisecond)
		eng.Stop()
	}()

	start := time.Now()
	result, err := eng.Run(context.Background())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.NotNil(t, result.Summary)
}

func TestEngine_ArtifactFailureDoesNotChangeVerdict(t *testing.T) {
	srv := httptest.NewServer(mockserver.New(mockserver.Config{PollsToComplete: 1}, nil))
	defer srv.Close()

	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	cfg := shortConfig(t, srv.URL)
	cfg.Stages = []config.StageConfig{{Duration: 0, Target: 1}, {Duration: config.Duration(200 * time.Millisecond), Target: 1}}
	cfg.Thresholds = map[string][]string{"http_req_failed": {"rate<0.1"}}
	cfg.Output = config.OutputConfig{Summary: filepath.Join(blocker, "summary.json")}

	eng, err := NewEngine(cfg, Options{})
	require.NoError(t, err)
	result, err := eng.Run(context.Background())
	require.NoError(t, err)

	var werr *report.WriteError
	assert.ErrorAs(t, result.WriteErr, &werr)
	assert.True(t, result.Passed)
}

func TestNewEngine_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Stages = []config.StageConfig{}

	_, err := NewEngine(cfg, Options{})
	require.Error(t, err)
	var verrs *config.ValidationErrors
	assert.ErrorAs(t, err, &verrs)
}
