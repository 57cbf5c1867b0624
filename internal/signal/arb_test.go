package signal

import "testing"

type fakeDepth struct {
	ask   float64
	hasAsk bool
	depth float64
}

func (f fakeDepth) BestAskPrice() (float64, bool) { return f.ask, f.hasAsk }
func (f fakeDepth) DepthWithinOfTopAsk(band float64) float64 { return f.depth }

func TestScanArbFiresOnEdge(t *testing.T) {
	t.Parallel()
	yes := fakeDepth{ask: 0.45, hasAsk: true, depth: 50}
	no := fakeDepth{ask: 0.47, hasAsk: true, depth: 50}

	sig := ScanArb(yes, no, RegimeMedium, 0.10, fixedNow())
	if sig == nil {
		t.Fatal("expected arb signal, got nil")
	}
	if diff := sig.Combined - 0.92; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Combined = %v, want 0.92", sig.Combined)
	}
	wantEdge := 0.08
	if diff := sig.Edge - wantEdge; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Edge = %v, want %v", sig.Edge, wantEdge)
	}
	if sig.ExecutableSize > 50 {
		t.Errorf("ExecutableSize = %v, want <= 50 (depth cap)", sig.ExecutableSize)
	}
}

func TestScanArbNoSignalBelowMinEdge(t *testing.T) {
	t.Parallel()
	yes := fakeDepth{ask: 0.50, hasAsk: true, depth: 50}
	no := fakeDepth{ask: 0.495, hasAsk: true, depth: 50}

	sig := ScanArb(yes, no, RegimeMedium, 0.01, fixedNow())
	if sig != nil {
		t.Errorf("expected nil (edge %v below regime min), got %+v", 1-0.995, sig)
	}
}

func TestScanArbNoSignalWhenBookEmpty(t *testing.T) {
	t.Parallel()
	yes := fakeDepth{hasAsk: false}
	no := fakeDepth{ask: 0.47, hasAsk: true, depth: 50}

	if sig := ScanArb(yes, no, RegimeMedium, 0.0, fixedNow()); sig != nil {
		t.Errorf("expected nil when YES book empty, got %+v", sig)
	}
}

func TestScanArbRequiresMinExpectedProfit(t *testing.T) {
	t.Parallel()
	yes := fakeDepth{ask: 0.45, hasAsk: true, depth: 1}
	no := fakeDepth{ask: 0.47, hasAsk: true, depth: 1}

	sig := ScanArb(yes, no, RegimeMedium, 100.0, fixedNow())
	if sig != nil {
		t.Errorf("expected nil (tiny depth can't clear min profit), got %+v", sig)
	}
}
