package position

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"updown-mm/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func TestRecordFillOpensAndClosesPosition(t *testing.T) {
	m := NewManager(dec(100), testLogger())

	m.RecordFill(types.Fill{
		MarketID: "m1", TokenID: "yes1", Side: types.Buy,
		Price: dec(0.50), Size: dec(10), Timestamp: time.Now(),
	}, types.Yes, "arb")

	snap := m.Snapshot()
	if len(snap.Positions) != 1 {
		t.Fatalf("expected 1 open position, got %d", len(snap.Positions))
	}
	if !snap.Capital.Equal(dec(95)) {
		t.Errorf("capital after buy = %v, want 95", snap.Capital)
	}

	m.RecordFill(types.Fill{
		MarketID: "m1", TokenID: "yes1", Side: types.Sell,
		Price: dec(0.60), Size: dec(10), Timestamp: time.Now(),
	}, types.Yes, "arb")

	snap = m.Snapshot()
	if len(snap.Positions) != 0 {
		t.Fatalf("expected position closed, got %d remaining", len(snap.Positions))
	}
	if !snap.TotalPnL.Equal(dec(1)) {
		t.Errorf("realized pnl = %v, want 1 (10 * (0.60-0.50))", snap.TotalPnL)
	}
	if snap.ConsecutiveLosses != 0 {
		t.Errorf("consecLosses after win = %d, want 0", snap.ConsecutiveLosses)
	}
}

func TestRecordFillLossIncrementsStreak(t *testing.T) {
	m := NewManager(dec(100), testLogger())
	m.RecordFill(types.Fill{MarketID: "m1", Side: types.Buy, Price: dec(0.50), Size: dec(10), Timestamp: time.Now()}, types.Yes, "lag")
	m.RecordFill(types.Fill{MarketID: "m1", Side: types.Sell, Price: dec(0.40), Size: dec(10), Timestamp: time.Now()}, types.Yes, "lag")

	snap := m.Snapshot()
	if snap.ConsecutiveLosses != 1 {
		t.Errorf("consecLosses = %d, want 1", snap.ConsecutiveLosses)
	}
}

func TestRecordResolutionPurgesAndCredits(t *testing.T) {
	m := NewManager(dec(100), testLogger())
	m.RecordFill(types.Fill{MarketID: "m1", Side: types.Buy, Price: dec(0.50), Size: dec(10), Timestamp: time.Now()}, types.Yes, "lag")
	m.RecordFill(types.Fill{MarketID: "m1", Side: types.Buy, Price: dec(0.50), Size: dec(10), Timestamp: time.Now()}, types.No, "lag")

	m.RecordResolution("m1", types.Yes)

	snap := m.Snapshot()
	if len(snap.Positions) != 0 {
		t.Fatalf("expected all positions purged after resolution, got %d", len(snap.Positions))
	}
	// Yes side redeems for $1/share (10), No side is written off (its 5 cost basis is not recovered).
	// capital started at 100, spent 10 (5+5 cost) = 90, then +10 payout = 100.
	if snap.Capital.LessThan(dec(90)) {
		t.Errorf("capital after resolution = %v, want >= 90", snap.Capital)
	}
}

func TestStraddleGuaranteedProfitSurvivesEitherResolution(t *testing.T) {
	m := NewManager(dec(100), testLogger())
	m.RecordStraddle(types.StraddlePosition{
		MarketID: "m1", YesSize: dec(10), NoSize: dec(10),
		YesAvgPrice: dec(0.45), NoAvgPrice: dec(0.47), OpenedAt: time.Now(),
	})

	before := m.Snapshot().Capital
	realized := m.RecordResolution("m1", types.Yes)
	after := m.Snapshot().Capital

	// Cost 10*0.45 + 10*0.47 = 9.2 was debited when the straddle was booked;
	// resolution credits the 10 payout, so capital rises by 10 and the
	// realized P&L is 10 - 9.2 = 0.8.
	gain := after.Sub(before)
	if !gain.Equal(dec(10)) {
		t.Errorf("capital gain on resolution = %v, want 10 (payout credited)", gain)
	}
	if !realized.Equal(dec(0.8)) {
		t.Errorf("realized P&L on Yes resolution = %v, want 0.8", realized)
	}

	// The same straddle resolved to No realizes the same 0.8.
	m2 := NewManager(dec(100), testLogger())
	m2.RecordStraddle(types.StraddlePosition{
		MarketID: "m1", YesSize: dec(10), NoSize: dec(10),
		YesAvgPrice: dec(0.45), NoAvgPrice: dec(0.47), OpenedAt: time.Now(),
	})
	if realizedNo := m2.RecordResolution("m1", types.No); !realizedNo.Equal(dec(0.8)) {
		t.Errorf("realized P&L on No resolution = %v, want 0.8", realizedNo)
	}
}

func TestNetYesInventory(t *testing.T) {
	m := NewManager(dec(1000), testLogger())
	m.RecordFill(types.Fill{MarketID: "m1", Side: types.Buy, Price: dec(0.5), Size: dec(10), Timestamp: time.Now()}, types.Yes, "mm")
	m.RecordFill(types.Fill{MarketID: "m1", Side: types.Buy, Price: dec(0.5), Size: dec(4), Timestamp: time.Now()}, types.No, "mm")

	net := m.NetYesInventory("m1")
	if !net.Equal(dec(6)) {
		t.Errorf("NetYesInventory = %v, want 6", net)
	}
}

func TestCapitalTierFraction(t *testing.T) {
	cases := []struct {
		capital float64
		want    float64
	}{
		{10, 1.00},
		{400, 0.50},
		{4000, 0.25},
		{50000, 0.10},
	}
	for _, c := range cases {
		if got := CapitalTierFraction(c.capital); got != c.want {
			t.Errorf("CapitalTierFraction(%v) = %v, want %v", c.capital, got, c.want)
		}
	}
}
