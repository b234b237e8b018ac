// Package clocksync implements the 2-D Kalman filter that fuses NTP-style
// four-timestamp exchanges into an estimate of {offset, drift} between the
// local monotonic clock and a remote clock, with uncertainty, and exposes
// bidirectional time mapping once converged.
//
// The component is a single mutex-guarded struct:
// webrtcStreamer guards all of its mutable connection state behind one
// sync.Mutex rather than field-level locks, taking the lock for the
// duration of a state mutation and releasing it before any external
// notification. Synchronizer.Process follows the same discipline.
package clocksync

import (
	"math"
	"sync"
)

// Default tuning constants for the process and measurement noise model.
const (
	DefaultQOffset = 100.0   // µs² per second of drift-integration uncertainty
	DefaultQDrift  = 1.0     // (µs/s)² per second
	DefaultR0      = 10000.0 // µs², baseline measurement noise at rtt=0

	convergenceMinMeasurements = 5
	convergenceMaxSigmaOffset  = 1000.0 // µs
)

// state is the filter's estimate: offset and drift, with the 2x2 covariance
// matrix stored as its three independent entries (it's symmetric).
type state struct {
	offset float64
	drift  float64
	pOO    float64
	pOD    float64
	pDD    float64

	lastUpdate       int64
	measurementCount int
}

// Synchronizer holds one clock-sync filter instance for one peer
// relationship. Zero value is not usable; construct with New.
type Synchronizer struct {
	mu sync.Mutex
	s  state

	qOffset float64
	qDrift  float64
	r0      float64

	converged bool

	// OnConverged fires exactly once, the moment IsConverged transitions
	// from false to true. Invoked synchronously from Process after the
	// lock is released, so it may call back into the Synchronizer (e.g.
	// Snapshot).
	OnConverged func()
}

// Option configures a Synchronizer at construction.
type Option func(*Synchronizer)

// WithNoise overrides the default process/measurement noise tuning.
func WithNoise(qOffset, qDrift, r0 float64) Option {
	return func(s *Synchronizer) {
		s.qOffset = qOffset
		s.qDrift = qDrift
		s.r0 = r0
	}
}

// New constructs a Synchronizer in its reset state.
func New(opts ...Option) *Synchronizer {
	s := &Synchronizer{
		qOffset: DefaultQOffset,
		qDrift:  DefaultQDrift,
		r0:      DefaultR0,
	}
	s.reset()
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Synchronizer) reset() {
	s.s = state{
		offset: 0,
		drift:  0,
		pOO:    1e12,
		pOD:    0,
		pDD:    1e6,
	}
	s.converged = false
}

// Reset clears the filter back to its initial uncertainty and drops the
// convergence flag. The next convergence transition will fire OnConverged
// again.
func (s *Synchronizer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}

// Process ingests one four-timestamp exchange: t1 (client transmit), t2
// (server receive), t3 (server transmit), t4 (client receive), all in
// microseconds. t1/t4 are client-clock, t2/t3 are server-clock.
func (s *Synchronizer) Process(t1, t2, t3, t4 int64) {
	s.mu.Lock()
	var fired bool
	func() {
		measuredOffset := float64((t2-t1)+(t3-t4)) / 2
		rtt := float64((t4 - t1) - (t3 - t2))

		if s.s.measurementCount == 0 {
			s.s.offset = measuredOffset
			s.s.lastUpdate = t4
			s.s.measurementCount = 1
			return
		}

		dt := float64(t4-s.s.lastUpdate) / 1e6
		if dt <= 0 {
			return
		}

		// Predict.
		predictedOffset := s.s.offset + s.s.drift*dt
		predictedDrift := s.s.drift

		// F = [[1, dt], [0, 1]]; P' = F P Fᵀ + Q·dt
		pOO := s.s.pOO + 2*dt*s.s.pOD + dt*dt*s.s.pDD + s.qOffset*dt
		pOD := s.s.pOD + dt*s.s.pDD
		pDD := s.s.pDD + s.qDrift*dt

		// Update.
		r := s.r0 + rtt*rtt/4
		if r < 1 {
			r = 1
		}
		innovation := measuredOffset - predictedOffset
		sInnov := pOO + r
		if sInnov <= 0 {
			sInnov = 1
		}
		kOffset := pOO / sInnov
		kDrift := pOD / sInnov

		s.s.offset = predictedOffset + kOffset*innovation
		s.s.drift = predictedDrift + kDrift*innovation

		s.s.pOO = clampPositive((1-kOffset)*pOO, 1e-6)
		s.s.pOD = (1 - kOffset) * pOD
		s.s.pDD = clampPositive(pDD-kDrift*pOD, 1e-6)

		s.s.lastUpdate = t4
		s.s.measurementCount++

		if !s.converged && s.s.measurementCount >= convergenceMinMeasurements &&
			math.Sqrt(s.s.pOO) < convergenceMaxSigmaOffset {
			s.converged = true
			fired = true
		}
	}()
	cb := s.OnConverged
	s.mu.Unlock()

	if fired && cb != nil {
		cb()
	}
}

func clampPositive(v, min float64) float64 {
	if v < min {
		return min
	}
	return v
}

// IsConverged reports whether the filter has seen enough measurements with
// low enough offset uncertainty to trust its estimate.
func (s *Synchronizer) IsConverged() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.converged
}

// Estimate is a snapshot of the filter's current state, safe to read after
// the lock is released.
type Estimate struct {
	OffsetUs         float64
	DriftUsPerSec    float64
	SigmaOffsetUs    float64
	MeasurementCount int
	Converged        bool
}

// Snapshot returns the current filter estimate.
func (s *Synchronizer) Snapshot() Estimate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Estimate{
		OffsetUs:         s.s.offset,
		DriftUsPerSec:    s.s.drift,
		SigmaOffsetUs:    math.Sqrt(s.s.pOO),
		MeasurementCount: s.s.measurementCount,
		Converged:        s.converged,
	}
}

// ClientToServer maps a client-clock microsecond timestamp to the
// corresponding server-clock timestamp using the current offset and drift
// extrapolated from the last update.
func (s *Synchronizer) ClientToServer(t int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	drifted := s.s.offset + s.s.drift*float64(t-s.s.lastUpdate)/1e6
	return t + int64(math.Round(drifted))
}

// ServerToClient maps a server-clock microsecond timestamp back to the
// client clock. This is the approximate inverse (no drift extrapolation),
// per the component's documented approximation.
func (s *Synchronizer) ServerToClient(t int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return t - int64(math.Round(s.s.offset))
}
