package signal

import "testing"

func TestComputeBiasActionableUp(t *testing.T) {
	t.Parallel()
	in := BiasInputs{
		Momentum:           0.8,
		EMA5:               101,
		EMA20:              100,
		OrderFlowImbalance: 0.5,
		FundingRateBps:     1,
		NetLiquidations:    0,
	}
	sig := ComputeBias(in, 0.35, fixedNow())
	if sig.Direction != BiasUp {
		t.Errorf("Direction = %v, want Up", sig.Direction)
	}
	if !sig.IsActionable(0.35) {
		t.Errorf("expected actionable signal, confidence=%v", sig.Confidence)
	}
}

func TestComputeBiasNeutralBelowFloor(t *testing.T) {
	t.Parallel()
	in := BiasInputs{Momentum: 0.01}
	sig := ComputeBias(in, 0.35, fixedNow())
	if sig.Direction != BiasNeutral {
		t.Errorf("Direction = %v, want Neutral (weak signal)", sig.Direction)
	}
}

func TestFundingInvertsAtExtremes(t *testing.T) {
	t.Parallel()
	// Funding alone, above the 5bp extreme threshold, should flip sign.
	in := BiasInputs{FundingRateBps: 10}
	sig := ComputeBias(in, 0.0, fixedNow())
	if sig.FundingScore >= 0 {
		t.Errorf("FundingScore = %v, want negative (contrarian at extreme)", sig.FundingScore)
	}
}

func TestFavoredSide(t *testing.T) {
	t.Parallel()
	up := BiasSignal{Direction: BiasUp}
	if side, ok := up.FavoredSide(); !ok || side != "YES" {
		t.Errorf("FavoredSide(Up) = (%v, %v), want (YES, true)", side, ok)
	}
	neutral := BiasSignal{Direction: BiasNeutral}
	if _, ok := neutral.FavoredSide(); ok {
		t.Error("FavoredSide(Neutral) should report false")
	}
}
