package vu

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// VUScheduler manages the lifecycle of Virtual Users.
//
// It provides:
//   - VU pool management (spawning, retiring and reaping VUs)
//   - Graceful shutdown coordination
//
// Executors use it to control live concurrency. Every VU it spawns runs the
// same IterationFunc.
type VUScheduler struct {
	iterate IterationFunc
	logger  *zap.Logger

	// Registered VUs, removed once terminated
	vus   map[int]*VirtualUser
	vusMu sync.RWMutex

	nextVUID atomic.Int32
	spawned  atomic.Int64

	wg sync.WaitGroup
}

// NewVUScheduler creates a new VU scheduler.
func NewVUScheduler(iterate IterationFunc, logger *zap.Logger) *VUScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VUScheduler{
		iterate: iterate,
		logger:  logger,
		vus:     make(map[int]*VirtualUser),
	}
}

// SpawnVU creates a new Virtual User and starts it on ctx.
//
// ctx governs in-flight iterations; it should outlive the ramp schedule so
// that retiring VUs can finish their current iteration.
func (s *VUScheduler) SpawnVU(ctx context.Context) *VirtualUser {
	id := int(s.nextVUID.Add(1))
	vu := NewVirtualUser(id, s.iterate)

	s.vusMu.Lock()
	s.vus[id] = vu
	s.vusMu.Unlock()
	s.spawned.Add(1)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.remove(id)
		vu.Run(ctx)
	}()

	return vu
}

func (s *VUScheduler) remove(id int) {
	s.vusMu.Lock()
	delete(s.vus, id)
	s.vusMu.Unlock()
}

// GetLiveVUs returns the VUs that are not retiring, ordered by ID.
func (s *VUScheduler) GetLiveVUs() []*VirtualUser {
	s.vusMu.RLock()
	result := make([]*VirtualUser, 0, len(s.vus))
	for _, vu := range s.vus {
		if vu.IsLive() {
			result = append(result, vu)
		}
	}
	s.vusMu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// GetLiveVUCount returns the number of VUs that are not retiring.
func (s *VUScheduler) GetLiveVUCount() int {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()

	count := 0
	for _, vu := range s.vus {
		if vu.IsLive() {
			count++
		}
	}
	return count
}

// GetRunningVUCount returns the number of VUs whose goroutine has not
// exited, retiring ones included.
func (s *VUScheduler) GetRunningVUCount() int {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()
	return len(s.vus)
}

// TotalSpawned returns the number of VUs spawned so far.
func (s *VUScheduler) TotalSpawned() int64 {
	return s.spawned.Load()
}

// ScaleTo spawns or retires VUs until live concurrency equals target.
//
// Newest VUs are retired first. Returns the live count after adjustment.
func (s *VUScheduler) ScaleTo(ctx context.Context, target int) int {
	if target < 0 {
		target = 0
	}
	live := s.GetLiveVUs()

	switch {
	case target > len(live):
		for i := len(live); i < target; i++ {
			s.SpawnVU(ctx)
		}
	case target < len(live):
		for i := len(live) - 1; i >= target; i-- {
			live[i].RequestStop()
		}
	}

	return s.GetLiveVUCount()
}

// StopAllVUs asks every VU to retire at its next iteration boundary.
func (s *VUScheduler) StopAllVUs() {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()

	for _, vu := range s.vus {
		vu.RequestStop()
	}
}

// WaitForAllVUs waits for all VU goroutines to exit.
//
// Returns true if they did so within timeout.
func (s *VUScheduler) WaitForAllVUs(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return true
	case <-timer.C:
		s.logger.Warn("VUs still running after graceful stop",
			zap.Int("remaining", s.GetRunningVUCount()),
			zap.Duration("timeout", timeout))
		return false
	}
}

// Wait blocks until every VU goroutine has exited.
func (s *VUScheduler) Wait() {
	s.wg.Wait()
}
