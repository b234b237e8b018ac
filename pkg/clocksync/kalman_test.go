package clocksync

import (
	"math"
	"math/rand"
	"testing"
)

func TestResetClearsState(t *testing.T) {
	s := New()
	s.Process(0, 1_000_000, 1_000_100, 200)
	if s.Snapshot().MeasurementCount == 0 {
		t.Fatal("expected a measurement to be recorded")
	}
	s.Reset()
	snap := s.Snapshot()
	if snap.MeasurementCount != 0 || snap.Converged {
		t.Fatalf("expected reset state, got %+v", snap)
	}
}

// TestMonotoneTrust verifies that as more consistent measurements accrue,
// the offset uncertainty (sigma) is non-increasing.
func TestMonotoneTrustInSteadyState(t *testing.T) {
	s := New()
	const trueOffset = 1_000_000.0
	prevSigma := math.MaxFloat64
	clientT := int64(0)
	for i := 0; i < 50; i++ {
		t1 := clientT
		t2 := t1 + int64(trueOffset) + 50
		t3 := t2 + 100
		t4 := t1 + 200
		s.Process(t1, t2, t3, t4)
		snap := s.Snapshot()
		if snap.SigmaOffsetUs > prevSigma+1e-6 {
			t.Fatalf("iter %d: sigma increased from %v to %v", i, prevSigma, snap.SigmaOffsetUs)
		}
		prevSigma = snap.SigmaOffsetUs
		clientT += 1_000_000 // 1s apart
	}
}

// TestConvergesUnderSimulatedNoise reproduces scenario S3: 200 measurements
// against a true offset of 1,000,000µs with drift 15µs/s and Gaussian RTT
// jitter of sigma 500µs, and checks the filter converges and its estimate
// lands close to truth.
func TestConvergesUnderSimulatedNoise(t *testing.T) {
	const (
		trueOffset0 = 1_000_000.0
		trueDrift   = 15.0 // µs per second
		noiseSigma  = 500.0
		n           = 200
	)
	rng := rand.New(rand.NewSource(42))
	s := New()

	clientT := int64(0)
	convergedAt := -1
	s.OnConverged = func() {
		if convergedAt == -1 {
			convergedAt = s.Snapshot().MeasurementCount
		}
	}

	for i := 0; i < n; i++ {
		elapsedSec := float64(clientT) / 1e6
		trueOffsetNow := trueOffset0 + trueDrift*elapsedSec

		oneWayNoise := rng.NormFloat64() * noiseSigma
		t1 := clientT
		t2 := t1 + int64(trueOffsetNow) + 50 + int64(oneWayNoise)
		t3 := t2 + 100
		t4 := t1 + 200 - int64(oneWayNoise)
		s.Process(t1, t2, t3, t4)

		clientT += 1_000_000
	}

	final := s.Snapshot()
	if !final.Converged {
		t.Fatalf("expected convergence after %d measurements, got %+v", n, final)
	}
	if convergedAt == -1 {
		t.Fatal("OnConverged never fired")
	}
	if convergedAt < convergenceMinMeasurements {
		t.Fatalf("converged before minimum measurement count: %d", convergedAt)
	}

	finalElapsed := float64(clientT-1_000_000) / 1e6
	expectedOffset := trueOffset0 + trueDrift*finalElapsed
	if diff := math.Abs(final.OffsetUs - expectedOffset); diff > 2000 {
		t.Fatalf("offset estimate %v too far from truth %v (diff %v)", final.OffsetUs, expectedOffset, diff)
	}
}

func TestOnConvergedFiresOnlyOnce(t *testing.T) {
	s := New()
	fireCount := 0
	s.OnConverged = func() { fireCount++ }

	clientT := int64(0)
	for i := 0; i < 20; i++ {
		t1 := clientT
		t2 := t1 + 1_000_000 + 50
		t3 := t2 + 100
		t4 := t1 + 200
		s.Process(t1, t2, t3, t4)
		clientT += 1_000_000
	}
	if fireCount != 1 {
		t.Fatalf("expected OnConverged to fire exactly once, fired %d times", fireCount)
	}
}

func TestTimeMappingRoundTripApproximate(t *testing.T) {
	s := New()
	clientT := int64(0)
	for i := 0; i < 10; i++ {
		t1 := clientT
		t2 := t1 + 1_000_000 + 50
		t3 := t2 + 100
		t4 := t1 + 200
		s.Process(t1, t2, t3, t4)
		clientT += 1_000_000
	}

	now := clientT
	serverT := s.ClientToServer(now)
	back := s.ServerToClient(serverT)
	if diff := math.Abs(float64(back - now)); diff > 1000 {
		t.Fatalf("round trip drifted by %v us, want <1000", diff)
	}
}

func TestFirstMeasurementSeedsOffsetDirectly(t *testing.T) {
	s := New()
	s.Process(0, 500_000, 500_100, 200)
	snap := s.Snapshot()
	if snap.MeasurementCount != 1 {
		t.Fatalf("expected count 1, got %d", snap.MeasurementCount)
	}
	wantOffset := float64((500_000 - 0) + (500_100 - 200)) / 2
	if snap.OffsetUs != wantOffset {
		t.Fatalf("first-measurement offset = %v, want %v", snap.OffsetUs, wantOffset)
	}
}

func TestOutOfOrderMeasurementIsSkipped(t *testing.T) {
	s := New()
	s.Process(0, 1_000_000, 1_000_100, 200)
	before := s.Snapshot()
	// t4 <= last_update: dt <= 0, must be skipped.
	s.Process(0, 1_000_000, 1_000_100, 200)
	after := s.Snapshot()
	if after.MeasurementCount != before.MeasurementCount {
		t.Fatalf("expected out-of-order measurement to be skipped, count went from %d to %d",
			before.MeasurementCount, after.MeasurementCount)
	}
}
