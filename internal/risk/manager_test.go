package risk

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"updown-mm/internal/config"
	"updown-mm/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxExposurePct:      0.5,
		MaxDailyLossPct:     0.30,
		LossStreakThreshold: 3,
		LossStreakSizeMult:  0.5,
		PauseDurationSecs:   60,
	}
}

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func TestPreflightRejectsWhenKillSwitchActive(t *testing.T) {
	m := NewManager(testRiskConfig(), testLogger())
	m.killSwitch = true

	p := types.Portfolio{Capital: dec(100), StartingCapital: dec(100)}
	if err := m.PreflightCheck(p, dec(10)); err == nil {
		t.Error("expected veto while kill switch active")
	}
}

func TestPreflightAcceptsSmallOrder(t *testing.T) {
	m := NewManager(testRiskConfig(), testLogger())
	p := types.Portfolio{Capital: dec(10), StartingCapital: dec(10)}

	if err := m.PreflightCheck(p, dec(1)); err != nil {
		t.Errorf("expected $1 order on $10/0.5 max_exposure_pct to pass, got %v", err)
	}
}

func TestPreflightRejectsOverExposure(t *testing.T) {
	m := NewManager(testRiskConfig(), testLogger())
	p := types.Portfolio{Capital: dec(10), StartingCapital: dec(10)}

	if err := m.PreflightCheck(p, dec(10)); err == nil {
		t.Error("expected veto: $10 order on $10 capital with 0.5 max_exposure_pct")
	}
}

func TestWatchdogLatchesKillSwitchOnExposure(t *testing.T) {
	m := NewManager(testRiskConfig(), testLogger())
	p := types.Portfolio{
		Capital:         dec(40),
		StartingCapital: dec(100),
		Positions: []types.Position{
			{Size: dec(100), AvgEntryPrice: dec(0.80)}, // cost basis 80, exceeds 0.5*100=50
		},
	}

	action := m.Watchdog(p, time.Now())
	if action != ActionKillSwitch {
		t.Errorf("Watchdog action = %v, want KillSwitch", action)
	}
	if !m.IsKillSwitchActive() {
		t.Error("expected kill switch latched")
	}
}

func TestWatchdogPausesOnDailyLoss(t *testing.T) {
	m := NewManager(testRiskConfig(), testLogger())
	p := types.Portfolio{
		Capital:         dec(60),
		StartingCapital: dec(100),
		DailyPnL:        dec(-40), // exceeds -0.30*100 = -30
	}

	action := m.Watchdog(p, time.Now())
	if action != ActionPause {
		t.Errorf("Watchdog action = %v, want Pause", action)
	}
	if !m.IsPaused(time.Now()) {
		t.Error("expected paused")
	}
}

func TestWatchdogReducesSizeOnLossStreak(t *testing.T) {
	m := NewManager(testRiskConfig(), testLogger())
	p := types.Portfolio{
		Capital:           dec(90),
		StartingCapital:   dec(100),
		ConsecutiveLosses: 3,
	}

	action := m.Watchdog(p, time.Now())
	if action != ActionReduceSize {
		t.Errorf("Watchdog action = %v, want ReduceSize", action)
	}
	if m.SizeMultiplier() != 0.5 {
		t.Errorf("SizeMultiplier = %v, want 0.5", m.SizeMultiplier())
	}
}

func TestWatchdogResetsSizeMultiplierWhenStreakEnds(t *testing.T) {
	m := NewManager(testRiskConfig(), testLogger())
	p := types.Portfolio{Capital: dec(90), StartingCapital: dec(100), ConsecutiveLosses: 5}
	m.Watchdog(p, time.Now())
	if m.SizeMultiplier() != 0.5 {
		t.Fatalf("setup: expected reduced size, got %v", m.SizeMultiplier())
	}

	p.ConsecutiveLosses = 0
	m.Watchdog(p, time.Now())
	if m.SizeMultiplier() != 1.0 {
		t.Errorf("SizeMultiplier after streak ends = %v, want 1.0", m.SizeMultiplier())
	}
}

func TestResetClearsKillSwitch(t *testing.T) {
	m := NewManager(testRiskConfig(), testLogger())
	m.killSwitch = true
	m.Reset()
	if m.IsKillSwitchActive() {
		t.Error("expected kill switch cleared after Reset")
	}
}
