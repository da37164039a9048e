package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/flowload/internal/metrics"
	"github.com/wesleyorama2/flowload/internal/vu"
)

// Defaults for Config.
const (
	DefaultGracefulStop       = 45 * time.Second
	DefaultControllerInterval = 100 * time.Millisecond
)

// Config contains configuration for a ramping executor.
type Config struct {
	Stages []Stage `json:"stages" yaml:"stages"`

	// GracefulStop is how long in-flight iterations may run after the
	// schedule ends before they are cancelled.
	GracefulStop time.Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// ControllerInterval is how often live concurrency is re-adjusted.
	ControllerInterval time.Duration `json:"controllerInterval,omitempty" yaml:"controllerInterval,omitempty"`
}

// Validate validates the executor configuration.
func (c *Config) Validate() error {
	if len(c.Stages) == 0 {
		return &ValidationError{Field: "stages", Message: "at least one stage is required"}
	}
	for i, stage := range c.Stages {
		if stage.Duration < 0 {
			return &ValidationError{Field: fmt.Sprintf("stages[%d].duration", i), Message: "duration must be >= 0"}
		}
		if stage.Target < 0 {
			return &ValidationError{Field: fmt.Sprintf("stages[%d].target", i), Message: "target must be >= 0"}
		}
	}
	if c.GracefulStop < 0 {
		return &ValidationError{Field: "gracefulStop", Message: "gracefulStop must be >= 0"}
	}
	return nil
}

// TotalDuration is the length of the ramp schedule.
func (c *Config) TotalDuration() time.Duration {
	return TotalDuration(c.Stages)
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "validation error on field '" + e.Field + "': " + e.Message
}

// Stats contains real-time executor statistics.
type Stats struct {
	StartTime     time.Time     `json:"startTime"`
	Elapsed       time.Duration `json:"elapsed"`
	TotalDuration time.Duration `json:"totalDuration"`

	ActiveVUs int   `json:"activeVUs"`
	TargetVUs int   `json:"targetVUs"`
	PeakVUs   int   `json:"peakVUs"`
	Spawned   int64 `json:"spawned"`

	CurrentStage     int    `json:"currentStage"`
	CurrentStageName string `json:"currentStageName"`
	TotalStages      int    `json:"totalStages"`

	// ForcedStop is set when iterations were still running after GracefulStop.
	ForcedStop bool `json:"forcedStop"`
}

// RampingVUs ramps VU count up and down according to stages.
//
// Live concurrency is interpolated between stages and re-adjusted every
// ControllerInterval. Ramping down retires the newest VUs, which leave at
// their next iteration boundary; in-flight iterations are never cancelled
// by the ramp.
//
// When the schedule ends every VU is asked to retire and given GracefulStop
// to finish its current iteration. Only then is the iteration context
// cancelled.
//
// Example stages:
//
//	stages:
//	  - duration: 30s
//	    target: 10     # Ramp from 0 to 10 VUs over 30s
//	  - duration: 2m
//	    target: 10     # Stay at 10 VUs for 2 minutes
//	  - duration: 30s
//	    target: 0      # Ramp down to 0 VUs over 30s
type RampingVUs struct {
	config    Config
	scheduler *vu.VUScheduler
	metrics   *metrics.Engine
	logger    *zap.Logger

	mu        sync.RWMutex
	startTime time.Time

	targetVUs    atomic.Int32
	peakVUs      atomic.Int32
	currentStage atomic.Int32
	running      atomic.Bool
	forcedStop   atomic.Bool

	cancelMu   sync.Mutex
	cancelFunc context.CancelFunc
}

// NewRampingVUs creates a new ramping VUs executor.
func NewRampingVUs(config Config, scheduler *vu.VUScheduler, metricsEngine *metrics.Engine, logger *zap.Logger) (*RampingVUs, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if scheduler == nil {
		return nil, fmt.Errorf("executor: scheduler is required")
	}
	if config.GracefulStop == 0 {
		config.GracefulStop = DefaultGracefulStop
	}
	if config.ControllerInterval <= 0 {
		config.ControllerInterval = DefaultControllerInterval
	}
	if metricsEngine == nil {
		metricsEngine = metrics.NewEngine()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RampingVUs{
		config:    config,
		scheduler: scheduler,
		metrics:   metricsEngine,
		logger:    logger,
	}, nil
}

// Run starts the executor and blocks until the schedule is over and every
// VU has stopped (or GracefulStop expired).
func (e *RampingVUs) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return fmt.Errorf("executor: already running")
	}
	defer e.running.Store(false)

	start := time.Now()
	e.mu.Lock()
	e.startTime = start
	e.mu.Unlock()

	totalDuration := e.config.TotalDuration()

	runCtx, cancel := context.WithTimeout(ctx, totalDuration)
	e.cancelMu.Lock()
	e.cancelFunc = cancel
	e.cancelMu.Unlock()
	defer cancel()

	// iterations outlive the schedule, and ctx, so that ramp-down and the
	// end of the run never cut one short before GracefulStop
	iterCtx, cancelIterations := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelIterations()

	e.logger.Info("ramp schedule started",
		zap.Int("stages", len(e.config.Stages)),
		zap.Duration("duration", totalDuration))

	e.vuController(runCtx, iterCtx, start)

	e.gracefulShutdown(cancelIterations)

	e.metrics.SetActiveVUs(0)
	e.metrics.SetPhase(metrics.PhaseDone)
	e.logger.Info("ramp schedule finished",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int64("spawned", e.scheduler.TotalSpawned()),
		zap.Bool("forcedStop", e.forcedStop.Load()))

	return nil
}

// vuController adjusts VU count according to stages until runCtx is done.
func (e *RampingVUs) vuController(runCtx, iterCtx context.Context, start time.Time) {
	ticker := time.NewTicker(e.config.ControllerInterval)
	defer ticker.Stop()

	e.adjust(iterCtx, time.Since(start))
	for {
		select {
		case <-runCtx.Done():
			return
		case <-ticker.C:
			e.adjust(iterCtx, time.Since(start))
		}
	}
}

func (e *RampingVUs) adjust(iterCtx context.Context, elapsed time.Duration) {
	stageIdx, target := locate(e.config.Stages, elapsed)
	e.currentStage.Store(int32(stageIdx))
	e.targetVUs.Store(int32(target))

	live := e.scheduler.ScaleTo(iterCtx, target)
	if int32(live) > e.peakVUs.Load() {
		e.peakVUs.Store(int32(live))
	}

	e.metrics.SetTargetVUs(target)
	e.metrics.SetActiveVUs(live)
	e.updatePhase(stageIdx)
}

// updatePhase updates the metrics phase based on current stage.
func (e *RampingVUs) updatePhase(stageIdx int) {
	if stageIdx >= len(e.config.Stages) {
		return
	}

	stage := e.config.Stages[stageIdx]
	prevTarget := 0
	if stageIdx > 0 {
		prevTarget = e.config.Stages[stageIdx-1].Target
	}

	switch {
	case stage.Target == prevTarget:
		e.metrics.SetPhase(metrics.PhaseSteady)
	case stage.Target > prevTarget:
		e.metrics.SetPhase(metrics.PhaseRampUp)
	default:
		e.metrics.SetPhase(metrics.PhaseRampDown)
	}
}

// gracefulShutdown retires every VU and waits up to GracefulStop for
// in-flight iterations before cancelling them.
func (e *RampingVUs) gracefulShutdown(cancelIterations context.CancelFunc) {
	e.targetVUs.Store(0)
	e.scheduler.StopAllVUs()

	if e.scheduler.WaitForAllVUs(e.config.GracefulStop) {
		return
	}

	e.forcedStop.Store(true)
	cancelIterations()
	e.scheduler.Wait()
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *RampingVUs) GetProgress() float64 {
	e.mu.RLock()
	start := e.startTime
	e.mu.RUnlock()

	if start.IsZero() {
		return 0.0
	}
	if !e.running.Load() {
		return 1.0
	}

	totalDuration := e.config.TotalDuration()
	if totalDuration == 0 {
		return 1.0
	}

	progress := float64(time.Since(start)) / float64(totalDuration)
	if progress > 1.0 {
		progress = 1.0
	}
	return progress
}

// GetActiveVUs returns the current live concurrency.
func (e *RampingVUs) GetActiveVUs() int {
	return e.scheduler.GetLiveVUCount()
}

// GetStats returns executor statistics.
func (e *RampingVUs) GetStats() *Stats {
	e.mu.RLock()
	start := e.startTime
	e.mu.RUnlock()

	var elapsed time.Duration
	if !start.IsZero() {
		elapsed = time.Since(start)
	}

	stageIdx := int(e.currentStage.Load())
	stageName := ""
	if stageIdx < len(e.config.Stages) {
		stageName = e.config.Stages[stageIdx].Name
	}

	return &Stats{
		StartTime:        start,
		Elapsed:          elapsed,
		TotalDuration:    e.config.TotalDuration(),
		ActiveVUs:        e.scheduler.GetLiveVUCount(),
		TargetVUs:        int(e.targetVUs.Load()),
		PeakVUs:          int(e.peakVUs.Load()),
		Spawned:          e.scheduler.TotalSpawned(),
		CurrentStage:     stageIdx,
		CurrentStageName: stageName,
		TotalStages:      len(e.config.Stages),
		ForcedStop:       e.forcedStop.Load(),
	}
}

// Stop ends the schedule early. Run still performs its graceful shutdown.
func (e *RampingVUs) Stop() {
	e.cancelMu.Lock()
	defer e.cancelMu.Unlock()
	if e.cancelFunc != nil {
		e.cancelFunc()
	}
}
