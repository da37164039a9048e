package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Phase represents a phase of the load run.
type Phase string

const (
	PhaseInit     Phase = "init"
	PhaseRampUp   Phase = "ramp-up"
	PhaseSteady   Phase = "steady"
	PhaseRampDown Phase = "ramp-down"
	PhaseDone     Phase = "done"
)

// Engine tracks every network call made by the virtual users.
//
// Key features:
//   - HDR histogram per operation for http_req_duration percentiles
//   - Lock-free counters for the http_req_failed rate
//   - Active and target VU gauges used by live progress and telemetry
//
// # Thread Safety
//
// Engine is safe for concurrent use. Counters use atomic operations and
// histograms are guarded by a mutex, since HDR RecordValue is not
// thread-safe.
type Engine struct {
	latencyHist *hdrhistogram.Histogram
	opHists     map[string]*hdrhistogram.Histogram
	histMu      sync.Mutex

	totalRequests  atomic.Int64
	failedRequests atomic.Int64
	iterations     atomic.Int64

	activeVUs atomic.Int32
	targetVUs atomic.Int32

	phase        Phase
	phaseMu      sync.RWMutex
	phaseHistory []PhaseChange

	startTime time.Time
	config    EngineConfig
}

// EngineConfig contains configuration for the request engine.
type EngineConfig struct {
	// HistogramMin is the minimum recordable value in microseconds (default: 1)
	HistogramMin int64

	// HistogramMax is the maximum recordable value in microseconds (default: 1 hour)
	HistogramMax int64

	// HistogramSigFigs is the number of significant figures (default: 3)
	HistogramSigFigs int
}

// DefaultEngineConfig returns the default configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		HistogramMin:     1,
		HistogramMax:     3600000000,
		HistogramSigFigs: 3,
	}
}

// PhaseChange records when a phase transition occurred.
type PhaseChange struct {
	Phase     Phase     `json:"phase"`
	Timestamp time.Time `json:"timestamp"`
	Requests  int64     `json:"requests"`
}

// NewEngine creates a request engine with default configuration.
func NewEngine() *Engine {
	return NewEngineWithConfig(DefaultEngineConfig())
}

// NewEngineWithConfig creates a request engine with custom configuration.
func NewEngineWithConfig(config EngineConfig) *Engine {
	return &Engine{
		latencyHist: hdrhistogram.New(config.HistogramMin, config.HistogramMax, config.HistogramSigFigs),
		opHists:     make(map[string]*hdrhistogram.Histogram),
		phase:       PhaseInit,
		startTime:   time.Now(),
		config:      config,
	}
}

// RecordRequest records one network call for operation op.
func (e *Engine) RecordRequest(op string, duration time.Duration, ok bool) {
	micros := duration.Microseconds()
	if micros < e.config.HistogramMin {
		micros = e.config.HistogramMin
	}
	if micros > e.config.HistogramMax {
		micros = e.config.HistogramMax
	}

	e.histMu.Lock()
	_ = e.latencyHist.RecordValue(micros)
	if op != "" {
		hist, exists := e.opHists[op]
		if !exists {
			hist = hdrhistogram.New(e.config.HistogramMin, e.config.HistogramMax, e.config.HistogramSigFigs)
			e.opHists[op] = hist
		}
		_ = hist.RecordValue(micros)
	}
	e.histMu.Unlock()

	e.totalRequests.Add(1)
	if !ok {
		e.failedRequests.Add(1)
	}
}

// RecordIteration counts one finished iteration.
func (e *Engine) RecordIteration() {
	e.iterations.Add(1)
}

// SetPhase updates the current run phase.
func (e *Engine) SetPhase(phase Phase) {
	e.phaseMu.Lock()
	defer e.phaseMu.Unlock()

	if e.phase == phase {
		return
	}
	e.phase = phase
	e.phaseHistory = append(e.phaseHistory, PhaseChange{
		Phase:     phase,
		Timestamp: time.Now(),
		Requests:  e.totalRequests.Load(),
	})
}

// Phase returns the current run phase.
func (e *Engine) Phase() Phase {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()
	return e.phase
}

// PhaseHistory returns a copy of the recorded phase changes.
func (e *Engine) PhaseHistory() []PhaseChange {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()
	out := make([]PhaseChange, len(e.phaseHistory))
	copy(out, e.phaseHistory)
	return out
}

// SetActiveVUs updates the live VU gauge.
func (e *Engine) SetActiveVUs(n int) { e.activeVUs.Store(int32(n)) }

// ActiveVUs returns the live VU gauge.
func (e *Engine) ActiveVUs() int { return int(e.activeVUs.Load()) }

// SetTargetVUs updates the scheduled VU gauge.
func (e *Engine) SetTargetVUs(n int) { e.targetVUs.Store(int32(n)) }

// TargetVUs returns the scheduled VU gauge.
func (e *Engine) TargetVUs() int { return int(e.targetVUs.Load()) }

// TotalRequests returns the number of recorded network calls.
func (e *Engine) TotalRequests() int64 { return e.totalRequests.Load() }

// FailedRequests returns the number of failed network calls.
func (e *Engine) FailedRequests() int64 { return e.failedRequests.Load() }

// Iterations returns the number of finished iterations.
func (e *Engine) Iterations() int64 { return e.iterations.Load() }

// FailureRate returns the fraction of failed calls (0 when nothing was sent).
func (e *Engine) FailureRate() float64 {
	total := e.totalRequests.Load()
	if total == 0 {
		return 0
	}
	return float64(e.failedRequests.Load()) / float64(total)
}

// Rate is the aggregate of a pass/fail metric.
type Rate struct {
	Rate   float64 `json:"rate" yaml:"rate"`
	Passes int64   `json:"passes" yaml:"passes"`
	Fails  int64   `json:"fails" yaml:"fails"`
	Count  int64   `json:"count" yaml:"count"`
}

// FailedRate returns http_req_failed as a rate metric. Passes are failed
// requests, matching how the rate is read ("rate<0.1").
func (e *Engine) FailedRate() Rate {
	total := e.totalRequests.Load()
	failed := e.failedRequests.Load()
	r := Rate{Passes: failed, Fails: total - failed, Count: total}
	if total > 0 {
		r.Rate = float64(failed) / float64(total)
	}
	return r
}

// LatencyStats contains HDR latency statistics in milliseconds.
type LatencyStats struct {
	Count int64   `json:"count" yaml:"count"`
	Min   float64 `json:"min" yaml:"min"`
	Max   float64 `json:"max" yaml:"max"`
	Avg   float64 `json:"avg" yaml:"avg"`
	Med   float64 `json:"med" yaml:"med"`
	P90   float64 `json:"p(90)" yaml:"p(90)"`
	P95   float64 `json:"p(95)" yaml:"p(95)"`
	P99   float64 `json:"p(99)" yaml:"p(99)"`
}

// Stat returns a statistic by threshold name.
func (l LatencyStats) Stat(name string) (float64, bool) {
	if l.Count == 0 && name != "count" {
		return 0, false
	}
	switch name {
	case "count":
		return float64(l.Count), true
	case "min":
		return l.Min, true
	case "max":
		return l.Max, true
	case "avg":
		return l.Avg, true
	case "med", "p(50)":
		return l.Med, true
	case "p(90)":
		return l.P90, true
	case "p(95)":
		return l.P95, true
	case "p(99)":
		return l.P99, true
	}
	return 0, false
}

func statsFromHist(h *hdrhistogram.Histogram) LatencyStats {
	if h.TotalCount() == 0 {
		return LatencyStats{}
	}
	ms := func(micros int64) float64 { return float64(micros) / 1000.0 }
	return LatencyStats{
		Count: h.TotalCount(),
		Min:   ms(h.Min()),
		Max:   ms(h.Max()),
		Avg:   h.Mean() / 1000.0,
		Med:   ms(h.ValueAtQuantile(50)),
		P90:   ms(h.ValueAtQuantile(90)),
		P95:   ms(h.ValueAtQuantile(95)),
		P99:   ms(h.ValueAtQuantile(99)),
	}
}

// Latency returns http_req_duration over all operations.
func (e *Engine) Latency() LatencyStats {
	e.histMu.Lock()
	defer e.histMu.Unlock()
	return statsFromHist(e.latencyHist)
}

// LatencyQuantile returns an arbitrary http_req_duration percentile
// (0..100) in milliseconds. ok is false when nothing was recorded.
func (e *Engine) LatencyQuantile(p float64) (float64, bool) {
	e.histMu.Lock()
	defer e.histMu.Unlock()
	if e.latencyHist.TotalCount() == 0 {
		return 0, false
	}
	return float64(e.latencyHist.ValueAtQuantile(p)) / 1000.0, true
}

// OperationLatency returns http_req_duration per operation name.
func (e *Engine) OperationLatency() map[string]LatencyStats {
	e.histMu.Lock()
	defer e.histMu.Unlock()

	out := make(map[string]LatencyStats, len(e.opHists))
	for name, h := range e.opHists {
		out[name] = statsFromHist(h)
	}
	return out
}

// Snapshot is a point-in-time view used by live progress.
type Snapshot struct {
	TotalRequests  int64         `json:"totalRequests"`
	FailedRequests int64         `json:"failedRequests"`
	FailureRate    float64       `json:"failureRate"`
	Iterations     int64         `json:"iterations"`
	ActiveVUs      int           `json:"activeVUs"`
	TargetVUs      int           `json:"targetVUs"`
	Phase          Phase         `json:"phase"`
	Elapsed        time.Duration `json:"elapsed"`
}

// Snapshot returns the current counters.
func (e *Engine) Snapshot() Snapshot {
	return Snapshot{
		TotalRequests:  e.totalRequests.Load(),
		FailedRequests: e.failedRequests.Load(),
		FailureRate:    e.FailureRate(),
		Iterations:     e.iterations.Load(),
		ActiveVUs:      e.ActiveVUs(),
		TargetVUs:      e.TargetVUs(),
		Phase:          e.Phase(),
		Elapsed:        time.Since(e.startTime),
	}
}
