// Package vu manages virtual users: independent goroutines that run
// workflow iterations back-to-back until they are retired.
package vu

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// State represents the lifecycle state of a Virtual User.
//
//	Spawned -> Running <-> Idle -> Retiring -> Terminated
//
// Retiring may be entered from any live state, but a running iteration is
// never interrupted: the VU leaves only at the next iteration boundary.
type State int32

const (
	// StateSpawned indicates the VU is registered but has not started.
	StateSpawned State = iota
	// StateRunning indicates the VU is inside an iteration.
	StateRunning
	// StateIdle indicates the VU is between iterations.
	StateIdle
	// StateRetiring indicates the VU will exit at the next iteration boundary.
	StateRetiring
	// StateTerminated indicates the VU goroutine has exited.
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateSpawned:
		return "spawned"
	case StateRunning:
		return "running"
	case StateIdle:
		return "idle"
	case StateRetiring:
		return "retiring"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// IterationFunc runs one iteration. Errors are the iteration's own business;
// a VU keeps going regardless of the outcome.
type IterationFunc func(ctx context.Context)

// VirtualUser represents a single simulated client executing iterations
// strictly sequentially.
type VirtualUser struct {
	// Unique identifier for this VU
	ID int

	iterate IterationFunc

	// Lifecycle state (atomic for lock-free reads)
	state atomic.Int32

	// Stop signal
	stopCh   chan struct{}
	stopOnce sync.Once

	// Done signal (closed when VU fully stops)
	doneCh   chan struct{}
	doneOnce sync.Once

	iteration atomic.Int64
}

// NewVirtualUser creates a new Virtual User.
func NewVirtualUser(id int, iterate IterationFunc) *VirtualUser {
	return &VirtualUser{
		ID:      id,
		iterate: iterate,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// GetState returns the current VU state.
func (vu *VirtualUser) GetState() State {
	return State(vu.state.Load())
}

// IsLive reports whether the VU counts toward live concurrency.
func (vu *VirtualUser) IsLive() bool {
	s := vu.GetState()
	return s != StateRetiring && s != StateTerminated
}

// GetIteration returns the number of iterations started.
func (vu *VirtualUser) GetIteration() int64 {
	return vu.iteration.Load()
}

// RunIteration executes a single iteration.
//
// Returns an error without running anything if the VU is retiring or
// terminated.
func (vu *VirtualUser) RunIteration(ctx context.Context) error {
	if !vu.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) &&
		!vu.state.CompareAndSwap(int32(StateSpawned), int32(StateRunning)) {
		return fmt.Errorf("VU %d is %s", vu.ID, vu.GetState())
	}

	vu.iteration.Add(1)
	vu.iterate(ctx)

	// a stop requested mid-iteration already moved us to Retiring
	vu.state.CompareAndSwap(int32(StateRunning), int32(StateIdle))
	return nil
}

// Run executes iterations back-to-back until the VU is retired or ctx is
// done. The current iteration always runs to completion (it sees ctx, so
// cancelling ctx is the only way to cut one short).
func (vu *VirtualUser) Run(ctx context.Context) {
	defer vu.MarkStopped()

	for {
		select {
		case <-ctx.Done():
			return
		case <-vu.stopCh:
			return
		default:
		}

		if err := vu.RunIteration(ctx); err != nil {
			return
		}
	}
}

// RequestStop signals the VU to retire after completing the current iteration.
func (vu *VirtualUser) RequestStop() {
	for {
		current := vu.state.Load()
		if State(current) == StateRetiring || State(current) == StateTerminated {
			return
		}
		if vu.state.CompareAndSwap(current, int32(StateRetiring)) {
			vu.stopOnce.Do(func() { close(vu.stopCh) })
			return
		}
	}
}

// WaitForStop waits for the VU to stop with a timeout.
//
// Returns true if the VU stopped within the timeout, false otherwise.
func (vu *VirtualUser) WaitForStop(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-vu.doneCh:
		return true
	case <-timer.C:
		return false
	}
}

// Done returns a channel closed when the VU has terminated.
func (vu *VirtualUser) Done() <-chan struct{} {
	return vu.doneCh
}

// MarkStopped marks the VU as fully stopped.
func (vu *VirtualUser) MarkStopped() {
	vu.state.Store(int32(StateTerminated))
	vu.doneOnce.Do(func() { close(vu.doneCh) })
}
