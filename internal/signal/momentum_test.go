package signal

import (
	"testing"
	"time"
)

func TestMomentumDetectorEntrySignal(t *testing.T) {
	t.Parallel()
	d := NewMomentumDetector()
	base := fixedNow()

	// Feed a steadily rising mid so v5/v15/v30 are all positive.
	var sig MomentumSignal
	for i := 0; i <= 30; i++ {
		mid := 0.50 + float64(i)*0.002
		sig = d.Observe("m1", mid, 0.60, base.Add(time.Duration(i)*time.Second))
	}

	if sig.Divergence <= 0 {
		t.Errorf("Divergence = %v, want > 0 (fair above current mid)", sig.Divergence)
	}
	if sig.Momentum <= 0 {
		t.Errorf("Momentum = %v, want > 0 (rising mid)", sig.Momentum)
	}
}

func TestMomentumDirectionNeutralOnDisagreement(t *testing.T) {
	t.Parallel()
	m := MomentumSignal{Momentum: 0.01, Divergence: -0.03}
	if got := m.Direction(); got != BiasNeutral {
		t.Errorf("Direction() = %v, want Neutral on sign disagreement", got)
	}
}

func TestMomentumIsEntrySignalThresholds(t *testing.T) {
	t.Parallel()
	below := MomentumSignal{Momentum: 0.001, Divergence: 0.03}
	if below.IsEntrySignal() {
		t.Error("expected no entry signal: momentum below 0.003 threshold")
	}

	ok := MomentumSignal{Momentum: 0.01, Divergence: 0.05}
	if !ok.IsEntrySignal() {
		t.Error("expected entry signal with matching signs and both thresholds cleared")
	}

	exhausted := MomentumSignal{Momentum: 0.01, Divergence: 0.05, Exhausted: true}
	if exhausted.IsEntrySignal() {
		t.Error("expected no entry signal when exhausted")
	}
}
