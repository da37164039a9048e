// Package engine provides the main orchestrator for a load run.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wesleyorama2/flowload/internal/config"
	"github.com/wesleyorama2/flowload/internal/executor"
	"github.com/wesleyorama2/flowload/internal/graphql"
	"github.com/wesleyorama2/flowload/internal/metrics"
	"github.com/wesleyorama2/flowload/internal/report"
	"github.com/wesleyorama2/flowload/internal/telemetry"
	"github.com/wesleyorama2/flowload/internal/vu"
	"github.com/wesleyorama2/flowload/internal/workflow"
)

// DefaultProgressInterval is how often Options.OnProgress is called.
const DefaultProgressInterval = time.Second

// Options tune an Engine beyond what the configuration file describes.
type Options struct {
	Logger *zap.Logger

	// Backend replaces the GraphQL client built from the target config.
	Backend workflow.Backend

	// OnProgress receives a live snapshot every ProgressInterval.
	OnProgress       func(Progress)
	ProgressInterval time.Duration
}

// Progress is a live view of a running load test.
type Progress struct {
	Elapsed     time.Duration `json:"elapsed"`
	Total       time.Duration `json:"total"`
	Percent     float64       `json:"percent"`
	Phase       metrics.Phase `json:"phase"`
	ActiveVUs   int           `json:"activeVUs"`
	TargetVUs   int           `json:"targetVUs"`
	Requests    int64         `json:"requests"`
	Failed      int64         `json:"failed"`
	FailureRate float64       `json:"failureRate"`
	Iterations  int64         `json:"iterations"`
	InstantRPS  float64       `json:"instantRps"`
}

// Result contains the outcome of a run.
type Result struct {
	Summary *report.Summary
	Series  *report.Series

	// Passed is true when every threshold passed.
	Passed bool

	// WriteErr holds artifact persistence failures. It never affects Passed.
	WriteErr error
}

// Engine is the main orchestrator for a load run.
//
// It coordinates:
//   - The ramping executor and its virtual users
//   - The shared throughput counter (opportunistic or timer driven)
//   - The optional telemetry endpoint and live progress
//   - Summary building, threshold evaluation and artifact persistence
//
// Example usage:
//
//	cfg, _ := config.LoadConfig("flowload.yaml")
//	engine, _ := NewEngine(cfg, Options{Logger: logger})
//	result, _ := engine.Run(context.Background())
//	fmt.Printf("passed: %v\n", result.Passed)
type Engine struct {
	config *config.Config
	opts   Options
	logger *zap.Logger

	mu      sync.RWMutex
	running bool
	ramp    *executor.RampingVUs
}

// NewEngine validates cfg and creates an engine. cfg must already carry
// defaults (see config.ApplyDefaults).
func NewEngine(cfg *config.Config, opts Options) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = DefaultProgressInterval
	}
	return &Engine{
		config: cfg,
		opts:   opts,
		logger: opts.Logger,
	}, nil
}

// Run executes the ramp schedule and returns the results.
//
// The run lasts for the sum of stage durations plus up to GracefulStop for
// in-flight iterations. Cancelling ctx ends the schedule early; the graceful
// stop still applies. The returned error covers setup failures only: the
// outcome of the load test itself is in Result.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, fmt.Errorf("engine is already running")
	}
	e.running = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	cfg := e.config
	runID := uuid.NewString()
	logger := e.logger.With(zap.String("run", runID))

	backend := e.opts.Backend
	if backend == nil {
		client, err := graphql.NewClient(graphql.Config{
			URL:                 cfg.Target.URL,
			Timeout:             time.Duration(cfg.Target.Timeout),
			Headers:             cfg.Target.Headers,
			MaxRPS:              cfg.Target.MaxRPS,
			MaxIdleConnsPerHost: cfg.Target.MaxIdleConnsPerHost,
			MaxConnsPerHost:     cfg.Target.MaxConnsPerHost,
			InsecureSkipVerify:  cfg.Target.InsecureSkipVerify,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create client: %w", err)
		}
		defer client.CloseIdleConnections()
		backend = client
	}

	start := time.Now()
	trends := metrics.NewTrendSink()
	requests := metrics.NewEngine()
	throughput := metrics.NewThroughputCounter(trends, start)
	timerMode := cfg.Throughput.Mode == config.ThroughputTimer

	wf, err := workflow.NewExecutor(workflow.Config{
		Backend:         backend,
		Trends:          trends,
		Requests:        requests,
		Throughput:      throughput,
		TickOnIteration: !timerMode,
		PollInterval:    time.Duration(cfg.Workflow.PollInterval),
		PollDeadline:    time.Duration(cfg.Workflow.PollDeadline),
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}

	scheduler := vu.NewVUScheduler(func(ctx context.Context) { wf.RunIteration(ctx) }, logger)
	ramp, err := executor.NewRampingVUs(executor.Config{
		Stages:       toStages(cfg.Stages),
		GracefulStop: time.Duration(cfg.GracefulStop),
	}, scheduler, requests, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create executor: %w", err)
	}

	e.mu.Lock()
	e.ramp = ramp
	e.mu.Unlock()

	logger.Info("load run starting",
		zap.String("name", cfg.Name),
		zap.String("target", cfg.Target.URL),
		zap.Duration("duration", cfg.TotalDuration()),
		zap.String("throughputMode", cfg.Throughput.Mode))

	// helpers run until the ramp is done
	auxCtx, stopAux := context.WithCancel(ctx)
	defer stopAux()

	g, gctx := errgroup.WithContext(auxCtx)
	g.Go(func() error {
		defer stopAux()
		return ramp.Run(ctx)
	})

	if timerMode {
		g.Go(func() error {
			throughput.Run(gctx, time.Duration(cfg.Throughput.Resolution))
			return nil
		})
	}

	if cfg.Telemetry.Addr != "" {
		reg := telemetry.NewRegistry(telemetry.Sources{Requests: requests, Throughput: throughput, Trends: trends})
		g.Go(func() error {
			// a bind failure does not end the run
			if err := telemetry.Serve(gctx, cfg.Telemetry.Addr, reg, logger); err != nil {
				logger.Error("telemetry endpoint failed", zap.Error(err))
			}
			return nil
		})
	}

	if e.opts.OnProgress != nil {
		g.Go(func() error {
			e.reportProgress(gctx, ramp, requests, throughput)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	end := time.Now()
	throughput.Flush(end)

	stats := ramp.GetStats()
	summary := report.Build(report.RunInfo{
		ID:         runID,
		Name:       cfg.Name,
		StartTime:  start,
		EndTime:    end,
		PeakVUs:    stats.PeakVUs,
		Spawned:    stats.Spawned,
		ForcedStop: stats.ForcedStop,
	}, trends, requests)
	summary.ApplyThresholds(EvaluateThresholds(cfg.Thresholds, summary, sinkQuantiles(trends, requests)))

	result := &Result{
		Summary: summary,
		Series:  report.ThroughputSeries(trends),
		Passed:  summary.Passed,
	}

	logger.Info("load run finished",
		zap.Duration("elapsed", end.Sub(start)),
		zap.Int64("requests", requests.TotalRequests()),
		zap.Int64("iterations", requests.Iterations()),
		zap.Bool("passed", result.Passed))

	result.WriteErr = e.persist(result, logger)
	return result, nil
}

// persist writes every configured artifact. Failures are logged and
// returned but never change the verdict.
func (e *Engine) persist(result *Result, logger *zap.Logger) error {
	out := e.config.Output
	var errs []error

	if err := report.WriteArtifacts(result.Summary, result.Series, out.Summary, out.Metrics); err != nil {
		errs = append(errs, err)
	}
	if out.HTML != "" {
		if err := report.GenerateHTML(result.Summary, result.Series, out.HTML); err != nil {
			errs = append(errs, err)
		}
	}
	if out.History != "" {
		if err := saveHistory(out.History, result.Summary); err != nil {
			errs = append(errs, &report.WriteError{Path: out.History, Err: err})
		}
	}

	for _, err := range errs {
		logger.Error("failed to persist report", zap.Error(err))
	}
	return errors.Join(errs...)
}

func saveHistory(path string, summary *report.Summary) error {
	store, err := report.OpenHistory(path)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.Save(report.RecordFromSummary(summary))
}

func (e *Engine) reportProgress(ctx context.Context, ramp *executor.RampingVUs, requests *metrics.Engine, throughput *metrics.ThroughputCounter) {
	ticker := time.NewTicker(e.opts.ProgressInterval)
	defer ticker.Stop()

	total := e.config.TotalDuration()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := ramp.GetStats()
			snap := requests.Snapshot()
			e.opts.OnProgress(Progress{
				Elapsed:     stats.Elapsed,
				Total:       total,
				Percent:     ramp.GetProgress() * 100,
				Phase:       snap.Phase,
				ActiveVUs:   stats.ActiveVUs,
				TargetVUs:   stats.TargetVUs,
				Requests:    snap.TotalRequests,
				Failed:      snap.FailedRequests,
				FailureRate: snap.FailureRate,
				Iterations:  snap.Iterations,
				InstantRPS:  throughput.Last(),
			})
		}
	}
}

// Stop ends the ramp schedule early. In-flight iterations still get the
// graceful stop period.
func (e *Engine) Stop() {
	e.mu.RLock()
	ramp := e.ramp
	e.mu.RUnlock()
	if ramp != nil {
		ramp.Stop()
	}
}

// IsRunning returns true if the engine is currently running.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// GetConfig returns the run configuration.
func (e *Engine) GetConfig() *config.Config {
	return e.config
}

func toStages(stages []config.StageConfig) []executor.Stage {
	out := make([]executor.Stage, len(stages))
	for i, s := range stages {
		out[i] = executor.Stage{
			Duration: time.Duration(s.Duration),
			Target:   s.Target,
			Name:     s.Name,
		}
	}
	return out
}
