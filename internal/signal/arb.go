package signal

import "time"

// ArbSignal describes a detected YES+NO combined-price arbitrage
// opportunity: buying both asks costs less than the guaranteed $1 payout.
type ArbSignal struct {
	YesAsk          float64
	NoAsk           float64
	Combined        float64
	Edge            float64 // 1 - combined
	ExecutableSize  float64
	ExpectedProfit  float64
	Timestamp       time.Time
}

// IsProfitable reports whether the signal clears both the regime's minimum
// edge and a separate minimum-expected-profit floor.
func (s ArbSignal) IsProfitable(minEdge, minProfit float64) bool {
	return s.Edge >= minEdge && s.ExpectedProfit >= minProfit
}

// DepthSource abstracts the two order-book sides the arbitrage scanner
// reads from, so it can operate on either the live book or a test double.
type DepthSource interface {
	BestAskPrice() (float64, bool)
	DepthWithinOfTopAsk(band float64) float64
}

// ScanArb runs an O(1)-per-update arbitrage scan: read the best ask on
// each side, compute the combined price and edge,
// and — if the edge clears the regime's minimum — size the executable
// quantity from 2-cent-banded depth, discounted by the regime's fill
// probability penalty. Returns nil if no book-implied edge exists, or if
// the regime floor isn't cleared.
func ScanArb(yes, no DepthSource, regime Regime, minExpectedProfit float64, now time.Time) *ArbSignal {
	yesAsk, yesOK := yes.BestAskPrice()
	noAsk, noOK := no.BestAskPrice()
	if !yesOK || !noOK {
		return nil
	}

	combined := yesAsk + noAsk
	edge := 1.0 - combined
	if edge < regime.ArbMinEdge() {
		return nil
	}

	const band = 0.02 // "depth within 2 cents of top"
	yesDepth := yes.DepthWithinOfTopAsk(band)
	noDepth := no.DepthWithinOfTopAsk(band)
	executable := yesDepth
	if noDepth < executable {
		executable = noDepth
	}

	expectedFill := executable * regime.FillProbabilityPenalty()
	expectedProfit := expectedFill * edge
	if expectedProfit < minExpectedProfit {
		return nil
	}

	return &ArbSignal{
		YesAsk:         yesAsk,
		NoAsk:          noAsk,
		Combined:       combined,
		Edge:           edge,
		ExecutableSize: expectedFill,
		ExpectedProfit: expectedProfit,
		Timestamp:      now,
	}
}
