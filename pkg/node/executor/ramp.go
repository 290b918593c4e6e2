package executor

import (
	"context"
	"time"
)

// rampSteps is the fixed duty sequence ON/RAMP walks through before settling
// back at zero, each held for rampDwell.
var rampSteps = []int{0, 25, 50, 75, 100, 0}

const rampDwell = 500 * time.Millisecond

// runRamp drives setDuty through rampSteps, sleeping rampDwell between each. It
// returns early if ctx is cancelled mid-sequence.
func runRamp(ctx context.Context, setDuty func(int) error) error {
	for _, step := range rampSteps {
		if err := setDuty(step); err != nil {
			return err
		}
		select {
		case <-time.After(rampDwell):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
