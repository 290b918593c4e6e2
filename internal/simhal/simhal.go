// Package simhal is a software stand-in for pkg/node/hal.HAL, used by
// `cmd/node run --sim-hal` and by the simulated fleet in pkg/node/sim so the
// mesh and power-manager control loops can be exercised without real
// hardware attached.
package simhal

import (
	"math/rand"
	"sync"
)

// SimHAL models a resistive load whose current draw scales with commanded
// duty, plus a little jitter, so the Power Manager's balancing algorithm has
// something realistic to react to.
type SimHAL struct {
	mu    sync.Mutex
	duty  int
	volts float64
	ampsAtFullDuty float64
	rng   *rand.Rand
}

// New constructs a SimHAL. nominalVolts and ampsAtFullDuty describe the
// simulated load: current scales linearly with duty up to ampsAtFullDuty at
// 100% duty.
func New(nominalVolts, ampsAtFullDuty float64, seed int64) *SimHAL {
	return &SimHAL{
		volts:          nominalVolts,
		ampsAtFullDuty: ampsAtFullDuty,
		rng:            rand.New(rand.NewSource(seed)),
	}
}

// SetDuty records the commanded duty percent.
func (s *SimHAL) SetDuty(percent int) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	s.mu.Lock()
	s.duty = percent
	s.mu.Unlock()
	return nil
}

// ReadVoltageCurrent reports the simulated draw for the current duty, with
// +/-2% jitter on both channels.
func (s *SimHAL) ReadVoltageCurrent() (volts, milliamps float64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	jitter := func(v float64) float64 {
		return v * (1 + (s.rng.Float64()-0.5)*0.04)
	}

	volts = jitter(s.volts)
	milliamps = jitter(s.ampsAtFullDuty * 1000 * float64(s.duty) / 100)
	return volts, milliamps, true
}
