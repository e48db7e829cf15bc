// Package scheduler converts variable frame deltas into fixed simulation ticks.
package scheduler

import "time"

// FixedStep accumulates wall time and releases it in whole ticks. It is not
// safe for concurrent use.
type FixedStep struct {
	tick    time.Duration
	acc     time.Duration
	maxDebt time.Duration
	stopped bool
}

// NewFixedStep builds a scheduler ticking hz times per second. Frame deltas
// are capped at maxTicks worth of debt; zero disables the cap.
func NewFixedStep(hz float64, maxTicks int) *FixedStep {
	if hz <= 0 {
		hz = 30
	}
	tick := time.Duration(float64(time.Second) / hz)
	return &FixedStep{tick: tick, maxDebt: time.Duration(maxTicks) * tick}
}

func (s *FixedStep) Tick() time.Duration { return s.tick }

// Advance adds dt to the accumulator and calls step once per whole tick. It
// returns the number of ticks run and the leftover fraction in [0,1).
func (s *FixedStep) Advance(dt time.Duration, step func()) (int, float64) {
	if s.stopped {
		return 0, 0
	}
	if dt > 0 {
		s.acc += dt
	}
	if s.maxDebt > 0 && s.acc > s.maxDebt {
		s.acc = s.maxDebt
	}
	n := 0
	for s.acc >= s.tick && !s.stopped {
		step()
		s.acc -= s.tick
		n++
	}
	return n, s.Alpha()
}

// Alpha is the current interpolation fraction.
func (s *FixedStep) Alpha() float64 {
	if s.tick <= 0 {
		return 0
	}
	return float64(s.acc) / float64(s.tick)
}

// Reset drops any accumulated time.
func (s *FixedStep) Reset() { s.acc = 0 }

// Stop makes every later Advance a no-op. A tick already running finishes.
func (s *FixedStep) Stop() { s.stopped = true }

func (s *FixedStep) Stopped() bool { return s.stopped }
