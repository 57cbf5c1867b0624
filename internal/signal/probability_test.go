package signal

import (
	"math"
	"testing"
)

func TestFairProbUpAtOpen(t *testing.T) {
	t.Parallel()
	got := FairProbUp(100000, 100000, 5, BTCVolPerMinute(), 0)
	if math.Abs(got-0.5) > 0.01 {
		t.Errorf("FairProbUp at open = %v, want ~0.5", got)
	}
}

func TestFairProbUpPositiveMove(t *testing.T) {
	t.Parallel()
	got := FairProbUp(100500, 100000, 3, BTCVolPerMinute(), 0)
	if got <= 0.5 {
		t.Errorf("FairProbUp after up-move = %v, want > 0.5", got)
	}
}

func TestFairProbUpNegativeMove(t *testing.T) {
	t.Parallel()
	got := FairProbUp(99500, 100000, 3, BTCVolPerMinute(), 0)
	if got >= 0.5 {
		t.Errorf("FairProbUp after down-move = %v, want < 0.5", got)
	}
}

func TestFairProbUpAtResolutionUp(t *testing.T) {
	t.Parallel()
	if got := FairProbUp(100500, 100000, 0, BTCVolPerMinute(), 0); got != 1.0 {
		t.Errorf("FairProbUp at t<=0 with current>ref = %v, want 1.0", got)
	}
}

func TestFairProbUpAtResolutionDown(t *testing.T) {
	t.Parallel()
	if got := FairProbUp(99500, 100000, 0, BTCVolPerMinute(), 0); got != 0.0 {
		t.Errorf("FairProbUp at t<=0 with current<ref = %v, want 0.0", got)
	}
}

func TestFairProbUpZeroVol(t *testing.T) {
	t.Parallel()
	if got := FairProbUp(100000, 100000, 5, 0, 0); got != 0.5 {
		t.Errorf("FairProbUp with zero vol = %v, want 0.5", got)
	}
}

func TestFairProbUpZeroRef(t *testing.T) {
	t.Parallel()
	if got := FairProbUp(100000, 0, 5, BTCVolPerMinute(), 0); got != 0.5 {
		t.Errorf("FairProbUp with zero ref = %v, want 0.5", got)
	}
}

func TestFairProbUpClamped(t *testing.T) {
	t.Parallel()
	got := FairProbUp(200000, 100000, 5, BTCVolPerMinute(), 0)
	if got > 0.99 || got < 0.01 {
		t.Errorf("FairProbUp extreme move = %v, want within [0.01,0.99]", got)
	}
}

func TestCalibrationRoundTrip(t *testing.T) {
	t.Parallel()
	// Calibrate ref from (current, p, t, sigma), then recompute fair_prob_up
	// from (current, ref, t, sigma) — should recover p.
	current := 100500.0
	p := 0.62
	tMin := 3.0
	vol := BTCVolPerMinute()

	ref := ImpliedReferencePrice(current, p, tMin, vol)
	got := FairProbUp(current, ref, tMin, vol, 0)

	if math.Abs(got-p) > 1e-6 {
		t.Errorf("round-trip FairProbUp = %v, want %v", got, p)
	}
}

func TestKellyFractionPositiveEdge(t *testing.T) {
	t.Parallel()
	frac := KellyFraction(0.65, 1.5, 0.25)
	if frac <= 0 || frac >= 0.50 {
		t.Errorf("KellyFraction = %v, want in (0, 0.50)", frac)
	}
}

func TestKellyFractionNoEdge(t *testing.T) {
	t.Parallel()
	if frac := KellyFraction(0.40, 1.0, 0.25); frac != 0 {
		t.Errorf("KellyFraction no edge = %v, want 0", frac)
	}
}

func TestPayoutOdds(t *testing.T) {
	t.Parallel()
	if got := PayoutOdds(0.40); math.Abs(got-1.5) > 0.001 {
		t.Errorf("PayoutOdds(0.40) = %v, want 1.5", got)
	}
	if got := PayoutOdds(0.50); math.Abs(got-1.0) > 0.001 {
		t.Errorf("PayoutOdds(0.50) = %v, want 1.0", got)
	}
	if got := PayoutOdds(0); got != 0 {
		t.Errorf("PayoutOdds(0) = %v, want 0", got)
	}
}

// BTCVolPerMinute mirrors types.BTC.VolPerMinute() without importing the
// types package, keeping this test file focused on the signal math.
func BTCVolPerMinute() float64 {
	return 0.55 / math.Sqrt(525600)
}
