package types

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func decFromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestTickSizeDecimals(t *testing.T) {
	t.Parallel()

	tests := []struct {
		tick TickSize
		want int
	}{
		{Tick01, 1},
		{Tick001, 2},
		{Tick0001, 3},
		{Tick00001, 4},
		{TickSize("unknown"), 2}, // default
	}

	for _, tt := range tests {
		if got := tt.tick.Decimals(); got != tt.want {
			t.Errorf("TickSize(%q).Decimals() = %d, want %d", tt.tick, got, tt.want)
		}
	}
}

func TestAssetVolPerMinute(t *testing.T) {
	t.Parallel()

	// BTC annual vol 0.55 / sqrt(525600) should be a small positive number.
	v := BTC.VolPerMinute()
	if v <= 0 || v > 0.01 {
		t.Errorf("BTC.VolPerMinute() = %v, want small positive value", v)
	}
}

func TestMarketPhaseBoundaries5m(t *testing.T) {
	t.Parallel()

	open := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := MarketInfo{
		Duration:      FiveMin,
		IntervalStart: open,
		CloseTime:     open.Add(300 * time.Second),
	}

	tests := []struct {
		offset time.Duration
		want   LifecyclePhase
	}{
		{0, AlphaWindow},
		{4 * time.Second, AlphaWindow},
		{5 * time.Second, EarlyArbs},
		{29 * time.Second, EarlyArbs},
		{30 * time.Second, PrimeZone},
		{119 * time.Second, PrimeZone},
		{120 * time.Second, MaturePhase},
		{239 * time.Second, MaturePhase},
		{240 * time.Second, PreResolution},
		{269 * time.Second, PreResolution},
		{270 * time.Second, Lockout},
		{299 * time.Second, Lockout},
	}

	for _, tt := range tests {
		got := m.Phase(open.Add(tt.offset))
		if got != tt.want {
			t.Errorf("Phase(+%v) = %v, want %v", tt.offset, got, tt.want)
		}
	}
}

func TestMarketPhaseResolvedAfterClose(t *testing.T) {
	t.Parallel()

	open := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := MarketInfo{
		Duration:      FiveMin,
		IntervalStart: open,
		CloseTime:     open.Add(300 * time.Second),
	}

	if got := m.Phase(open.Add(301 * time.Second)); got != Resolved {
		t.Errorf("Phase after close = %v, want Resolved", got)
	}
}

func TestExitKindEscalationNeverReverses(t *testing.T) {
	t.Parallel()

	if !ExitNone.Escalates(ExitTP) {
		t.Error("none -> tp should escalate")
	}
	if !ExitTP.Escalates(ExitSL) {
		t.Error("tp -> sl should escalate")
	}
	if !ExitSL.Escalates(ExitForce) {
		t.Error("sl -> force should escalate")
	}
	if ExitSL.Escalates(ExitTP) {
		t.Error("sl -> tp should not escalate")
	}
	if ExitForce.Escalates(ExitSL) {
		t.Error("force -> sl should not escalate")
	}
	if ExitTP.Escalates(ExitTP) {
		t.Error("tp -> tp should not count as escalation")
	}
}

func TestStraddleGuaranteedProfit(t *testing.T) {
	t.Parallel()

	s := StraddlePosition{
		YesSize:     decFromFloat(10),
		NoSize:      decFromFloat(10),
		YesAvgPrice: decFromFloat(0.45),
		NoAvgPrice:  decFromFloat(0.47),
	}
	profit := s.GuaranteedProfit()
	want := decFromFloat(10 * (1 - 0.92))
	if !profit.Sub(want).Abs().LessThan(decFromFloat(0.0001)) {
		t.Errorf("GuaranteedProfit() = %v, want ~%v", profit, want)
	}
}

func TestOrderBookDepthWithin(t *testing.T) {
	t.Parallel()

	book := OrderBookSnapshot{
		Asks: []PriceLevel{
			{Price: 0.45, Size: 50},
			{Price: 0.46, Size: 20},
			{Price: 0.50, Size: 100},
		},
	}
	got := book.DepthWithin(Sell, 0.02)
	want := 70.0
	if got != want {
		t.Errorf("DepthWithin() = %v, want %v", got, want)
	}
}
