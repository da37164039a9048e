package metrics

import (
	"sync"
	"testing"
	"time"
)

func TestNewEngine(t *testing.T) {
	engine := NewEngine()
	if engine == nil {
		t.Fatal("NewEngine() returned nil")
	}

	snapshot := engine.Snapshot()
	if snapshot.TotalRequests != 0 {
		t.Errorf("Initial TotalRequests = %d, want 0", snapshot.TotalRequests)
	}
	if snapshot.Phase != PhaseInit {
		t.Errorf("Initial phase = %v, want %v", snapshot.Phase, PhaseInit)
	}
	if engine.FailureRate() != 0 {
		t.Errorf("FailureRate() = %v, want 0 with no requests", engine.FailureRate())
	}
}

func TestEngine_RecordRequest(t *testing.T) {
	engine := NewEngine()

	engine.RecordRequest("createTemplate", 10*time.Millisecond, true)
	engine.RecordRequest("getTemplate", 20*time.Millisecond, true)
	engine.RecordRequest("getTemplate", 30*time.Millisecond, false)

	if engine.TotalRequests() != 3 {
		t.Errorf("TotalRequests = %d, want 3", engine.TotalRequests())
	}
	if engine.FailedRequests() != 1 {
		t.Errorf("FailedRequests = %d, want 1", engine.FailedRequests())
	}

	rate := engine.FailedRate()
	if rate.Count != 3 || rate.Passes != 1 || rate.Fails != 2 {
		t.Errorf("FailedRate = %+v, want count=3 passes=1 fails=2", rate)
	}
	if rate.Rate < 0.333 || rate.Rate > 0.334 {
		t.Errorf("FailedRate.Rate = %v, want ~0.333", rate.Rate)
	}

	ops := engine.OperationLatency()
	if len(ops) != 2 {
		t.Fatalf("OperationLatency has %d entries, want 2", len(ops))
	}
	if ops["getTemplate"].Count != 2 {
		t.Errorf("getTemplate count = %d, want 2", ops["getTemplate"].Count)
	}
}

func TestEngine_LatencyPercentiles(t *testing.T) {
	engine := NewEngine()

	for i := 1; i <= 10; i++ {
		engine.RecordRequest("", time.Duration(i*10)*time.Millisecond, true)
	}

	lat := engine.Latency()

	// HDR binning keeps values within 0.1% at 3 significant figures
	if lat.Med < 49 || lat.Med > 51 {
		t.Errorf("Med = %v, want ~50ms", lat.Med)
	}
	if lat.P99 < 99 || lat.P99 > 101 {
		t.Errorf("P99 = %v, want ~100ms", lat.P99)
	}
	if lat.Min > lat.Max {
		t.Errorf("Min %v > Max %v", lat.Min, lat.Max)
	}
	if v, ok := lat.Stat("p(95)"); !ok || v < lat.Med {
		t.Errorf("Stat(p(95)) = %v, %v", v, ok)
	}
}

func TestEngine_EmptyLatencyHasNoStats(t *testing.T) {
	engine := NewEngine()

	if _, ok := engine.Latency().Stat("p(95)"); ok {
		t.Error("empty histogram should not report p(95)")
	}
	if v, ok := engine.Latency().Stat("count"); !ok || v != 0 {
		t.Errorf("count = %v, %v; want 0, true", v, ok)
	}
}

func TestEngine_Phases(t *testing.T) {
	engine := NewEngine()

	engine.SetPhase(PhaseRampUp)
	engine.SetPhase(PhaseRampUp)
	engine.SetPhase(PhaseSteady)
	engine.SetPhase(PhaseDone)

	history := engine.PhaseHistory()
	if len(history) != 3 {
		t.Fatalf("PhaseHistory has %d entries, want 3", len(history))
	}
	if engine.Phase() != PhaseDone {
		t.Errorf("Phase() = %v, want %v", engine.Phase(), PhaseDone)
	}
}

func TestEngine_ConcurrentRecording(t *testing.T) {
	engine := NewEngine()

	var wg sync.WaitGroup
	for w := 0; w < 20; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				engine.RecordRequest("getTemplate", time.Millisecond, i%5 != 0)
				engine.RecordIteration()
			}
		}(w)
	}
	wg.Wait()

	if engine.TotalRequests() != 5000 {
		t.Errorf("TotalRequests = %d, want 5000", engine.TotalRequests())
	}
	if engine.FailedRequests() != 1000 {
		t.Errorf("FailedRequests = %d, want 1000", engine.FailedRequests())
	}
	if engine.Iterations() != 5000 {
		t.Errorf("Iterations = %d, want 5000", engine.Iterations())
	}
}

func TestEngine_VUGauges(t *testing.T) {
	engine := NewEngine()
	engine.SetActiveVUs(7)
	engine.SetTargetVUs(9)

	snap := engine.Snapshot()
	if snap.ActiveVUs != 7 || snap.TargetVUs != 9 {
		t.Errorf("Snapshot VUs = %d/%d, want 7/9", snap.ActiveVUs, snap.TargetVUs)
	}
}

func TestEngine_LatencyQuantile(t *testing.T) {
	engine := NewEngine()
	if _, ok := engine.LatencyQuantile(75); ok {
		t.Error("empty histogram should not report a quantile")
	}

	for i := 1; i <= 100; i++ {
		engine.RecordRequest("getTemplate", time.Duration(i)*time.Millisecond, true)
	}
	v, ok := engine.LatencyQuantile(75)
	if !ok || v < 74 || v > 76 {
		t.Errorf("LatencyQuantile(75) = %v, %v; want ~75ms", v, ok)
	}
}
