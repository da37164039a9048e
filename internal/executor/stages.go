// Package executor drives live concurrency through a sequence of ramp stages.
package executor

import "time"

// Stage defines one step of the ramp schedule.
type Stage struct {
	// Duration of this stage
	Duration time.Duration `json:"duration" yaml:"duration"`

	// Target VU count reached at the end of the stage
	Target int `json:"target" yaml:"target"`

	// Optional name for this stage (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// TotalDuration returns the sum of stage durations.
func TotalDuration(stages []Stage) time.Duration {
	var total time.Duration
	for _, stage := range stages {
		total += stage.Duration
	}
	return total
}

// TargetAt maps elapsed run time to the target concurrency.
//
// Within a stage the target moves linearly from the previous stage's target
// (0 before the first stage) to the stage's own target, rounded to the
// nearest VU. A stage whose target equals the previous one is a flat hold.
// Zero-length stages step instantly. Past the last stage the final target
// holds.
func TargetAt(stages []Stage, elapsed time.Duration) int {
	_, target := locate(stages, elapsed)
	return target
}

// StageAt returns the index of the stage active at elapsed, or len(stages)
// once the schedule is over.
func StageAt(stages []Stage, elapsed time.Duration) int {
	idx, _ := locate(stages, elapsed)
	return idx
}

func locate(stages []Stage, elapsed time.Duration) (int, int) {
	if elapsed < 0 {
		elapsed = 0
	}

	var stageStart time.Duration
	prevTarget := 0

	for i, stage := range stages {
		stageEnd := stageStart + stage.Duration

		if elapsed < stageEnd {
			// progress within this stage (0.0 to 1.0)
			progress := float64(elapsed-stageStart) / float64(stage.Duration)
			target := float64(prevTarget) + float64(stage.Target-prevTarget)*progress
			return i, int(target + 0.5)
		}

		prevTarget = stage.Target
		stageStart = stageEnd
	}

	return len(stages), prevTarget
}
