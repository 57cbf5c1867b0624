package strategy

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"updown-mm/internal/config"
	"updown-mm/internal/position"
	"updown-mm/internal/risk"
	"updown-mm/internal/signal"
	"updown-mm/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMarketTypeKey(t *testing.T) {
	if got := MarketTypeKey(types.BTC, types.FiveMin); got != "btc-5m" {
		t.Errorf("expected btc-5m, got %s", got)
	}
	if got := MarketTypeKey(types.ETH, types.FifteenMin); got != "eth-15m" {
		t.Errorf("expected eth-15m, got %s", got)
	}
}

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	cfg := config.StrategyConfig{
		CapitalAllocation: map[string]float64{"btc-5m": 0.5},
	}
	positions := position.NewManager(decimal.NewFromFloat(1000), testLogger())
	riskMgr := risk.NewManager(config.RiskConfig{MaxExposurePct: 1, MaxDailyLossPct: 1}, testLogger())
	volTracker := signal.NewRealizedVolTracker(nil)
	return NewOrchestrator(cfg, riskMgr, positions, volTracker, nil, nil, nil, nil, nil, testLogger())
}

func TestShouldEvaluateThrottles(t *testing.T) {
	o := newTestOrchestrator(t)
	now := time.Now()
	if !o.ShouldEvaluate(types.BTC, now) {
		t.Error("expected first evaluation to proceed")
	}
	if o.ShouldEvaluate(types.BTC, now.Add(50*time.Millisecond)) {
		t.Error("expected evaluation within throttle window to be skipped")
	}
	if !o.ShouldEvaluate(types.BTC, now.Add(250*time.Millisecond)) {
		t.Error("expected evaluation after throttle window to proceed")
	}
}

func TestBudgetRemainingRespectsAllocationTable(t *testing.T) {
	o := newTestOrchestrator(t)
	if r := o.budgetRemaining("btc-5m"); r != 500 {
		t.Errorf("expected 500 budget for btc-5m, got %f", r)
	}
	if r := o.budgetRemaining("eth-5m"); r != 0 {
		t.Errorf("expected 0 budget for unlisted market type, got %f", r)
	}

	o.debit("btc-5m", 100)
	if r := o.budgetRemaining("btc-5m"); r != 400 {
		t.Errorf("expected 400 remaining after debit, got %f", r)
	}

	o.ResetBudgets()
	if r := o.budgetRemaining("btc-5m"); r != 500 {
		t.Errorf("expected budget restored after reset, got %f", r)
	}
}
