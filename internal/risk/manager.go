// Package risk implements the Risk Manager: pre-flight order checks plus a
// periodic watchdog that can latch a kill switch, pause new entries, or
// reduce strategy size in response to exposure, drawdown, and losing
// streaks.
package risk

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"updown-mm/internal/config"
	"updown-mm/pkg/types"
)

// Action is the outcome of the periodic watchdog check, published to the
// orchestrator so strategies can scale down or stop entirely.
type Action int

const (
	ActionContinue Action = iota
	ActionReduceSize
	ActionPause
	ActionKillSwitch
)

func (a Action) String() string {
	switch a {
	case ActionReduceSize:
		return "ReduceSize"
	case ActionPause:
		return "Pause"
	case ActionKillSwitch:
		return "KillSwitch"
	default:
		return "Continue"
	}
}

// Manager enforces portfolio-level risk limits. Pre-flight checks gate
// individual orders; the watchdog runs on a fixed cadence and evaluates
// whole-portfolio state.
type Manager struct {
	cfg    config.RiskConfig
	logger *slog.Logger

	mu             sync.RWMutex
	killSwitch     bool // latched; only a manual Reset clears it
	pauseUntil     time.Time
	sizeMultiplier float64
}

// NewManager creates a Risk Manager with no action in effect.
func NewManager(cfg config.RiskConfig, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:            cfg,
		logger:         logger.With("component", "risk"),
		sizeMultiplier: 1.0,
	}
}

// SizeMultiplier is the factor strategies must scale their order size by;
// 1.0 under normal conditions, less under a losing streak.
func (m *Manager) SizeMultiplier() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sizeMultiplier
}

// IsKillSwitchActive reports whether the kill switch is latched.
func (m *Manager) IsKillSwitchActive() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.killSwitch
}

// IsPaused reports whether new entries are currently paused.
func (m *Manager) IsPaused(now time.Time) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return now.Before(m.pauseUntil)
}

// Reset manually clears a latched kill switch. The spec requires this to
// be an explicit operator action, never automatic.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.killSwitch = false
	m.logger.Warn("kill switch manually reset")
}

// PreflightCheck validates a single order against the current Portfolio
// snapshot before it is sent to the Order Builder. Returns a descriptive
// error (a risk veto, not a fatal condition) if any check fails.
func (m *Manager) PreflightCheck(p types.Portfolio, orderNotional decimal.Decimal) error {
	if m.IsKillSwitchActive() {
		return fmt.Errorf("risk: kill switch active")
	}

	maxCapitalBase := p.StartingCapital
	if p.Capital.GreaterThan(maxCapitalBase) {
		maxCapitalBase = p.Capital
	}
	maxExposure := maxCapitalBase.Mul(decimal.NewFromFloat(m.cfg.MaxExposurePct))
	exposure := p.TotalExposure().Add(orderNotional)
	if exposure.GreaterThan(maxExposure) {
		return fmt.Errorf("risk: exposure %s + order %s exceeds max %s", p.TotalExposure(), orderNotional, maxExposure)
	}

	maxLoss := p.StartingCapital.Mul(decimal.NewFromFloat(m.cfg.MaxDailyLossPct)).Neg()
	if p.DailyPnL.LessThan(maxLoss) {
		return fmt.Errorf("risk: daily pnl %s below max loss %s", p.DailyPnL, maxLoss)
	}

	if orderNotional.GreaterThan(p.Capital) {
		return fmt.Errorf("risk: order notional %s exceeds available capital %s", orderNotional, p.Capital)
	}

	return nil
}

// Watchdog evaluates whole-portfolio state on a fixed cadence and updates
// the latched kill switch, pause window, and size multiplier accordingly.
// Call this once every 500ms from the engine.
func (m *Manager) Watchdog(p types.Portfolio, now time.Time) Action {
	m.mu.Lock()
	defer m.mu.Unlock()

	maxCapitalBase := p.StartingCapital
	if p.Capital.GreaterThan(maxCapitalBase) {
		maxCapitalBase = p.Capital
	}
	maxExposure := maxCapitalBase.Mul(decimal.NewFromFloat(m.cfg.MaxExposurePct))
	if maxExposure.IsPositive() {
		ratio, _ := p.TotalExposure().Div(maxExposure).Float64()
		if ratio > 1.0 {
			m.killSwitch = true
			m.logger.Error("KILL SWITCH: exposure ratio exceeded", "ratio", ratio)
			return ActionKillSwitch
		}
	}

	maxLoss := p.StartingCapital.Mul(decimal.NewFromFloat(m.cfg.MaxDailyLossPct)).Neg()
	if p.DailyPnL.LessThan(maxLoss) {
		m.pauseUntil = now.Add(time.Duration(m.cfg.PauseDurationSecs) * time.Second)
		m.logger.Warn("PAUSE: daily loss limit breached", "daily_pnl", p.DailyPnL, "until", m.pauseUntil)
		return ActionPause
	}

	if p.ConsecutiveLosses >= m.cfg.LossStreakThreshold {
		m.sizeMultiplier = m.cfg.LossStreakSizeMult
		m.logger.Warn("REDUCE SIZE: loss streak threshold reached", "streak", p.ConsecutiveLosses, "multiplier", m.sizeMultiplier)
		return ActionReduceSize
	}

	m.sizeMultiplier = 1.0
	return ActionContinue
}
