package vu_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wesleyorama2/flowload/internal/vu"
)

func TestVUScheduler_SpawnVU(t *testing.T) {
	var n atomic.Int64
	s := vu.NewVUScheduler(countingIteration(&n, time.Millisecond), nil)

	ctx, cancel := context.WithCancel(context.Background())
	v := s.SpawnVU(ctx)
	if v.ID != 1 {
		t.Errorf("first VU ID = %d, want 1", v.ID)
	}
	if live := s.GetLiveVUs(); len(live) != 1 || live[0] != v {
		t.Errorf("GetLiveVUs() = %v, want only the spawned VU", live)
	}

	time.Sleep(10 * time.Millisecond)
	cancel()
	s.Wait()

	if n.Load() == 0 {
		t.Error("spawned VU never ran an iteration")
	}
	if s.GetRunningVUCount() != 0 {
		t.Errorf("GetRunningVUCount() = %d after cancel, want 0", s.GetRunningVUCount())
	}
	if len(s.GetLiveVUs()) != 0 {
		t.Error("terminated VU still listed as live")
	}
}

func TestVUScheduler_ScaleTo(t *testing.T) {
	var n atomic.Int64
	s := vu.NewVUScheduler(countingIteration(&n, 5*time.Millisecond), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if got := s.ScaleTo(ctx, 8); got != 8 {
		t.Fatalf("ScaleTo(8) = %d, want 8", got)
	}
	if got := s.ScaleTo(ctx, 8); got != 8 {
		t.Errorf("ScaleTo(8) again = %d, want 8", got)
	}
	if s.TotalSpawned() != 8 {
		t.Errorf("TotalSpawned() = %d, want 8", s.TotalSpawned())
	}

	if got := s.ScaleTo(ctx, 3); got != 3 {
		t.Fatalf("ScaleTo(3) = %d, want 3", got)
	}

	live := s.GetLiveVUs()
	for i, v := range live {
		if v.ID != i+1 {
			t.Errorf("live VU %d has ID %d; oldest VUs should be kept", i, v.ID)
		}
	}

	if got := s.ScaleTo(ctx, -1); got != 0 {
		t.Errorf("ScaleTo(-1) = %d, want 0", got)
	}
	if !s.WaitForAllVUs(time.Second) {
		t.Error("retired VUs did not exit")
	}
}

func TestVUScheduler_WaitForAllVUs_Timeout(t *testing.T) {
	release := make(chan struct{})
	var started atomic.Int32
	s := vu.NewVUScheduler(func(ctx context.Context) {
		started.Add(1)
		<-release
	}, nil)

	s.ScaleTo(context.Background(), 2)
	for started.Load() < 2 {
		time.Sleep(time.Millisecond)
	}
	s.StopAllVUs()

	if s.WaitForAllVUs(20 * time.Millisecond) {
		t.Error("WaitForAllVUs() = true while iterations are blocked")
	}
	if s.GetLiveVUCount() != 0 {
		t.Errorf("GetLiveVUCount() = %d after StopAllVUs, want 0", s.GetLiveVUCount())
	}
	if s.GetRunningVUCount() != 2 {
		t.Errorf("GetRunningVUCount() = %d, want 2 retiring", s.GetRunningVUCount())
	}

	close(release)
	if !s.WaitForAllVUs(time.Second) {
		t.Error("VUs did not exit after release")
	}
}

func TestVirtualUser_IterationsNeverOverlap(t *testing.T) {
	var inFlight atomic.Int32
	var overlap atomic.Bool

	v := vu.NewVirtualUser(1, func(ctx context.Context) {
		if inFlight.Add(1) > 1 {
			overlap.Store(true)
		}
		time.Sleep(time.Millisecond)
		inFlight.Add(-1)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	v.Run(ctx)

	if overlap.Load() {
		t.Error("a VU ran overlapping iterations")
	}
}

func TestVUScheduler_ConcurrentScale(t *testing.T) {
	s := vu.NewVUScheduler(func(ctx context.Context) { time.Sleep(time.Millisecond) }, nil)
	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.GetLiveVUCount()
			s.GetLiveVUs()
		}(i)
	}
	s.ScaleTo(ctx, 20)
	wg.Wait()

	cancel()
	s.Wait()
	if s.GetRunningVUCount() != 0 {
		t.Errorf("GetRunningVUCount() = %d, want 0", s.GetRunningVUCount())
	}
}
