// Package position implements the Position Manager: the single authoritative
// ledger of open positions, straddles, capital, and realized/unrealized P&L.
// All mutation is serialized through Manager's methods; readers observe a
// consistent snapshot taken under a read lock.
package position

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"updown-mm/internal/signal"
	"updown-mm/pkg/types"
)

var centAbs = decimal.NewFromFloat(0.01)

// capitalTier maps available capital to the fraction of it a single
// strategy leg may commit in one entry.
func capitalTier(capital float64) float64 {
	switch {
	case capital < 50:
		return 1.00
	case capital < 500:
		return 0.50
	case capital < 5000:
		return 0.25
	default:
		return 0.10
	}
}

// CapitalTierFraction exposes capitalTier for strategy engines sizing a
// new entry against available capital.
func CapitalTierFraction(capital float64) float64 {
	return capitalTier(capital)
}

// Manager owns the process-wide Portfolio.
type Manager struct {
	mu     sync.RWMutex
	logger *slog.Logger

	capital         decimal.Decimal
	startingCapital decimal.Decimal
	positions       map[string]*types.Position         // keyed by market|side|strategy
	straddles       map[string]*types.StraddlePosition // keyed by market|seq
	dailyPnL        decimal.Decimal
	totalPnL        decimal.Decimal
	consecLosses    int
	tradeCount      int64
	winCount        int64
	straddleSeq     int64

	balanceSyncCycle int
}

const balanceSyncCycles = 3 // re-derive capital from on-chain balance every N SyncCapitalFromBalance calls

// NewManager creates a Position Manager seeded with starting capital.
func NewManager(startingCapital decimal.Decimal, logger *slog.Logger) *Manager {
	return &Manager{
		logger:          logger.With("component", "position"),
		capital:         startingCapital,
		startingCapital: startingCapital,
		positions:       make(map[string]*types.Position),
		straddles:       make(map[string]*types.StraddlePosition),
	}
}

// Snapshot returns a consistent copy of portfolio state for strategy
// evaluation and telemetry.
func (m *Manager) Snapshot() types.Portfolio {
	m.mu.RLock()
	defer m.mu.RUnlock()

	positions := make([]types.Position, 0, len(m.positions))
	for _, p := range m.positions {
		positions = append(positions, *p)
	}
	straddles := make([]types.StraddlePosition, 0, len(m.straddles))
	for _, s := range m.straddles {
		straddles = append(straddles, *s)
	}
	return types.Portfolio{
		Capital:           m.capital,
		StartingCapital:   m.startingCapital,
		Positions:         positions,
		Straddles:         straddles,
		DailyPnL:          m.dailyPnL,
		TotalPnL:          m.totalPnL,
		ConsecutiveLosses: m.consecLosses,
		TotalTrades:       m.tradeCount,
		WinningTrades:     m.winCount,
	}
}

// AvailableCapital returns free collateral not committed to open positions.
func (m *Manager) AvailableCapital() decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.capital
}

// NetYesInventory returns (yes_size - no_size) across open positions for a
// market, used by the market maker's inventory-skew term.
func (m *Manager) NetYesInventory(marketID string) decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()

	net := decimal.Zero
	for _, p := range m.positions {
		if p.MarketID != marketID {
			continue
		}
		if p.Side == types.Yes {
			net = net.Add(p.Size)
		} else {
			net = net.Sub(p.Size)
		}
	}
	return net
}

// RecordFill updates or opens a Position from a fill. A closing SELL
// (offsetting an existing position for the same market+side+strategy)
// realizes P&L and updates the loss-streak counter.
func (m *Manager) RecordFill(fill types.Fill, side types.Side, strategyTag string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := positionKey(fill.MarketID, side, strategyTag)
	cost := fill.Price.Mul(fill.Size)

	switch fill.Side {
	case types.Buy:
		m.capital = m.capital.Sub(cost).Sub(fill.Fee)
		pos, ok := m.positions[key]
		if !ok {
			m.positions[key] = &types.Position{
				MarketID:      fill.MarketID,
				TokenID:       fill.TokenID,
				Side:          side,
				StrategyTag:   strategyTag,
				Size:          fill.Size,
				AvgEntryPrice: fill.Price,
				OpenedAt:      fill.Timestamp,
			}
			return
		}
		newSize := pos.Size.Add(fill.Size)
		newCost := pos.CostBasis().Add(cost)
		if !newSize.IsZero() {
			pos.AvgEntryPrice = newCost.Div(newSize)
		}
		pos.Size = newSize

	case types.Sell:
		pos, ok := m.positions[key]
		if !ok {
			m.logger.Warn("sell fill for unknown position", "market", fill.MarketID, "side", side, "strategy", strategyTag)
			return
		}
		sellSize := fill.Size
		if sellSize.GreaterThan(pos.Size) {
			sellSize = pos.Size
		}
		proceeds := fill.Price.Mul(sellSize).Sub(fill.Fee)
		realized := fill.Price.Sub(pos.AvgEntryPrice).Mul(sellSize).Sub(fill.Fee)

		m.capital = m.capital.Add(proceeds)
		m.dailyPnL = m.dailyPnL.Add(realized)
		m.totalPnL = m.totalPnL.Add(realized)
		m.tradeCount++

		if realized.IsPositive() {
			m.consecLosses = 0
			m.winCount++
		} else if realized.IsNegative() {
			m.consecLosses++
		}

		pos.Size = pos.Size.Sub(sellSize)
		if pos.Size.LessThanOrEqual(decimal.Zero) {
			delete(m.positions, key)
		}
	}
}

// RecordStraddle books a newly opened straddle pair and debits its cost.
func (m *Manager) RecordStraddle(s types.StraddlePosition) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.straddleSeq++
	key := fmt.Sprintf("%s|%d", s.MarketID, m.straddleSeq)
	cost := s.YesSize.Mul(s.YesAvgPrice).Add(s.NoSize.Mul(s.NoAvgPrice))
	m.capital = m.capital.Sub(cost)
	m.straddles[key] = &s
}

// RecordResolution credits payouts for every position and straddle in the
// resolved market, records P&L, and purges them from the Portfolio.
// Winning shares are credited at $1 each; directional positions on the
// losing side are written off entirely. The credit is a ledger entry only:
// the engine submits no on-chain redemption for winning tokens.
func (m *Manager) RecordResolution(marketID string, winningSide types.Side) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()

	marketRealized := decimal.Zero

	for key, pos := range m.positions {
		if pos.MarketID != marketID {
			continue
		}
		payout := decimal.Zero
		if pos.Side == winningSide {
			payout = pos.Size // each winning share redeems for $1
		}
		realized := payout.Sub(pos.CostBasis())
		m.capital = m.capital.Add(payout)
		m.dailyPnL = m.dailyPnL.Add(realized)
		m.totalPnL = m.totalPnL.Add(realized)
		marketRealized = marketRealized.Add(realized)
		if realized.IsPositive() {
			m.consecLosses = 0
			m.winCount++
		} else if realized.IsNegative() {
			m.consecLosses++
		}
		m.tradeCount++
		delete(m.positions, key)
	}

	for key, s := range m.straddles {
		if s.MarketID != marketID {
			continue
		}
		var payout decimal.Decimal
		if winningSide == types.Yes {
			payout = s.YesSize
		} else {
			payout = s.NoSize
		}
		cost := s.YesSize.Mul(s.YesAvgPrice).Add(s.NoSize.Mul(s.NoAvgPrice))
		realized := payout.Sub(cost)
		m.capital = m.capital.Add(payout)
		m.dailyPnL = m.dailyPnL.Add(realized)
		m.totalPnL = m.totalPnL.Add(realized)
		marketRealized = marketRealized.Add(realized)
		delete(m.straddles, key)
	}

	return marketRealized
}

// SyncCapitalFromBalance reconciles the ledger's capital with the
// gateway-reported on-chain collateral balance whenever the drift from
// (capital + exposure) exceeds one cent. The engine calls it from its 15s
// balance-sync ticker; it only acts on every balanceSyncCycles-th call, so
// capital is reconciled every 45s.
func (m *Manager) SyncCapitalFromBalance(onChainBalance decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.balanceSyncCycle++
	if m.balanceSyncCycle < balanceSyncCycles {
		return
	}
	m.balanceSyncCycle = 0

	exposure := decimal.Zero
	for _, p := range m.positions {
		exposure = exposure.Add(p.CostBasis())
	}
	for _, s := range m.straddles {
		exposure = exposure.Add(s.YesSize.Mul(s.YesAvgPrice)).Add(s.NoSize.Mul(s.NoAvgPrice))
	}

	drift := m.capital.Add(exposure).Sub(onChainBalance).Abs()
	if drift.GreaterThan(centAbs) {
		m.logger.Warn("capital drift detected, resyncing from balance",
			"ledger_capital", m.capital.String(), "on_chain", onChainBalance.String(), "drift", drift.String())
		m.capital = onChainBalance.Sub(exposure)
	}
}

// ResetDailyPnL clears the daily P&L counter. The engine does not call it,
// so daily P&L accumulates over the process lifetime.
func (m *Manager) ResetDailyPnL() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dailyPnL = decimal.Zero
}

// KellySize computes the dollar size for a new directional entry, using
// fractional-Kelly scaled by the capital tier for the current available
// capital.
func (m *Manager) KellySize(winProb, payoutOdds, fractional float64) decimal.Decimal {
	m.mu.RLock()
	capital := m.capital
	m.mu.RUnlock()

	capF, _ := capital.Float64()
	kelly := signal.KellyFraction(winProb, payoutOdds, fractional)
	tier := capitalTier(capF)
	if kelly > tier {
		kelly = tier
	}
	return capital.Mul(decimal.NewFromFloat(kelly))
}

func positionKey(marketID string, side types.Side, strategyTag string) string {
	return fmt.Sprintf("%s|%s|%s", marketID, side, strategyTag)
}

// OpenPositionsFor returns a snapshot of every open directional position in
// a market, for the exit controller's per-tick sweep.
func (m *Manager) OpenPositionsFor(marketID string) []types.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]types.Position, 0)
	for _, p := range m.positions {
		if p.MarketID == marketID {
			out = append(out, *p)
		}
	}
	return out
}

// SetRestingExit persists the exit controller's updated resting-exit state
// back onto the position it evaluated.
func (m *Manager) SetRestingExit(marketID string, side types.Side, strategyTag string, exit *types.RestingExit) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pos, ok := m.positions[positionKey(marketID, side, strategyTag)]; ok {
		pos.RestingExit = exit
	}
}
