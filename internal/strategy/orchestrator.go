// Package strategy implements the five trading engines — Pure Arbitrage,
// Straddle+Bias, Lag Exploit, Momentum Capture, and Market Maker — and the
// Orchestrator that dispatches each market-evaluation tick across them in
// priority order under a shared capital-allocation and throttling budget.
package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"updown-mm/internal/config"
	"updown-mm/internal/position"
	"updown-mm/internal/risk"
	"updown-mm/internal/signal"
	"updown-mm/pkg/types"
)

const (
	marketTypeStopThreshold = 0.50 // dollars; below this a market type stops taking new entries
	evalThrottle            = 200 * time.Millisecond
)

// MarketTypeKey formats the capital-allocation table's lookup key for a
// market, e.g. "btc-5m".
func MarketTypeKey(asset types.Asset, dur types.Duration) string {
	return fmt.Sprintf("%s-%s", asset.SlugPrefix(), durationKey(dur))
}

func durationKey(d types.Duration) string {
	if d == types.FiveMin {
		return "5m"
	}
	return "15m"
}

// stepKind names one of the five engines in a regime's priority order.
type stepKind string

const (
	stepArb      stepKind = "arb"
	stepStraddle stepKind = "straddle"
	stepLag      stepKind = "lag"
	stepMomentum stepKind = "momentum"
	stepMaker    stepKind = "mm"
)

// priorityOrder returns the engine dispatch order for a volatility regime.
// Dead markets favor the passive maker since directional edges are rare;
// Medium conditions favor the Lag Exploit engine since that's where the
// reference feed outruns the book most often; Extreme conditions restrict
// dispatch to the two regime-independent strategies entirely.
func priorityOrder(regime signal.Regime) []stepKind {
	switch regime {
	case signal.RegimeDead:
		return []stepKind{stepMaker, stepArb, stepStraddle}
	case signal.RegimeLow:
		return []stepKind{stepStraddle, stepMaker, stepArb, stepLag}
	case signal.RegimeMedium:
		return []stepKind{stepLag, stepStraddle, stepMaker, stepMomentum, stepArb}
	case signal.RegimeHigh:
		return []stepKind{stepArb, stepLag, stepStraddle, stepMomentum}
	default: // Extreme
		return []stepKind{stepArb, stepStraddle}
	}
}

// Orchestrator runs the realized-vol regime classifier and dispatches each
// market's evaluation tick to the five strategy engines in the order
// priorityOrder selects for the current regime. A taking engine (arb,
// straddle, lag, momentum) that trades wins the tick and ends the dispatch
// loop; the maker's passive quote refresh never claims the tick exclusively
// since refreshing a resting quote doesn't consume the same one-shot
// capital budget a taking engine's fill does.
type Orchestrator struct {
	cfg        config.StrategyConfig
	risk       *risk.Manager
	positions  *position.Manager
	volTracker *signal.RealizedVolTracker

	arb      *ArbEngine
	straddle *StraddleBiasEngine
	lag      *LagEngine
	momentum *MomentumEngine
	maker    *MakerEngine

	logger *slog.Logger

	mu          sync.Mutex
	lastEval    map[types.Asset]time.Time
	budgetSpent map[string]float64 // market-type key -> dollars committed this session
}

// NewOrchestrator wires the five engines together under one dispatcher.
func NewOrchestrator(
	cfg config.StrategyConfig,
	riskMgr *risk.Manager,
	positions *position.Manager,
	volTracker *signal.RealizedVolTracker,
	arb *ArbEngine,
	straddle *StraddleBiasEngine,
	lag *LagEngine,
	momentum *MomentumEngine,
	maker *MakerEngine,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:         cfg,
		risk:        riskMgr,
		positions:   positions,
		volTracker:  volTracker,
		arb:         arb,
		straddle:    straddle,
		lag:         lag,
		momentum:    momentum,
		maker:       maker,
		logger:      logger.With("component", "orchestrator"),
		lastEval:    make(map[types.Asset]time.Time),
		budgetSpent: make(map[string]float64),
	}
}

// ShouldEvaluate enforces the per-asset evaluation throttle: an asset's
// markets are only re-evaluated once every 200ms, no matter how many
// price ticks arrive in between.
func (o *Orchestrator) ShouldEvaluate(asset types.Asset, now time.Time) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if last, ok := o.lastEval[asset]; ok && now.Sub(last) < evalThrottle {
		return false
	}
	o.lastEval[asset] = now
	return true
}

// budgetRemaining returns the dollars still available to typeKey before its
// capital-allocation share of current available capital is exhausted.
// Market types absent from the allocation table get no budget at all —
// the table is expected to cover every tradeable asset/duration pair.
func (o *Orchestrator) budgetRemaining(typeKey string) float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	frac, ok := o.cfg.CapitalAllocation[typeKey]
	if !ok {
		return 0
	}
	capital, _ := o.positions.AvailableCapital().Float64()
	return capital*frac - o.budgetSpent[typeKey]
}

func (o *Orchestrator) debit(typeKey string, notional float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.budgetSpent[typeKey] += notional
}

// ResetBudgets clears every market type's committed-capital counter. Call
// once per UTC day boundary alongside the Position Manager's daily P&L
// reset, so allocation shares are re-measured against the day's capital.
func (o *Orchestrator) ResetBudgets() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.budgetSpent = make(map[string]float64)
}

// EvaluateMarket runs one evaluation tick for a single market. currentPrice
// and momentumAdj come from the reference feed and momentum detector for
// the market's underlying asset; tickMove is the reference price's short-
// horizon velocity, used by the lag engine's move-direction gate; biasInputs
// feeds the straddle engine's directional tilt. Engines are dispatched in
// the order priorityOrder selects for the market's current volatility
// regime; the first taking engine to trade ends the loop.
func (o *Orchestrator) EvaluateMarket(ctx context.Context, market types.MarketInfo, yesBook, noBook BookSource, currentPrice, momentumAdj, tickMove float64, biasInputs signal.BiasInputs, now time.Time) error {
	if o.risk.IsKillSwitchActive() || o.risk.IsPaused(now) {
		return nil
	}

	typeKey := MarketTypeKey(market.Asset, market.Duration)
	if o.budgetRemaining(typeKey) < marketTypeStopThreshold {
		return nil
	}

	regime := o.volTracker.Regime(market.Asset.SlugPrefix())
	phase := market.Phase(now)
	fairUp := signal.FairProbUp(currentPrice, market.ReferencePrice, market.SecondsRemaining(now)/60.0, market.Asset.VolPerMinute(), momentumAdj)

	for _, step := range priorityOrder(regime) {
		switch step {
		case stepArb:
			// Arbitrage is phase- and regime-independent: a combined YES+NO
			// ask below $1 is a structural mispricing, not a directional
			// bet, so it runs even during lockout/pre-resolution windows
			// that bar new directional entries.
			s, err := o.arb.Evaluate(ctx, market, yesBook, noBook, regime, now)
			if err != nil {
				o.logger.Warn("arb evaluation error", "market", market.ID, "error", err)
				continue
			}
			if s != nil {
				o.debit(typeKey, straddleCost(*s))
				return nil
			}

		case stepStraddle:
			if !phase.AllowsDirectionalEntry() {
				continue
			}
			s, err := o.straddle.Evaluate(ctx, market, yesBook, noBook, biasInputs, o.cfg.MomentumMinSignal, now)
			if err != nil {
				o.logger.Warn("straddle evaluation error", "market", market.ID, "error", err)
				continue
			}
			if s != nil {
				o.debit(typeKey, straddleCost(*s))
				return nil
			}

		case stepLag:
			if !phase.AllowsDirectionalEntry() {
				continue
			}
			if _, enabled := regime.LagMinEdge(); !enabled {
				continue
			}
			pos, err := o.lag.Evaluate(ctx, market, yesBook, noBook, currentPrice, momentumAdj, tickMove, regime, now)
			if err != nil {
				o.logger.Warn("lag evaluation error", "market", market.ID, "error", err)
				continue
			}
			if pos != nil {
				notional, _ := pos.CostBasis().Float64()
				o.debit(typeKey, notional)
				return nil
			}

		case stepMomentum:
			if !phase.AllowsDirectionalEntry() {
				continue
			}
			if regime == signal.RegimeExtreme {
				continue
			}
			pos, err := o.momentum.Evaluate(ctx, market, yesBook, noBook, fairUp, regime, now)
			if err != nil {
				o.logger.Warn("momentum evaluation error", "market", market.ID, "error", err)
				continue
			}
			if pos != nil {
				notional, _ := pos.CostBasis().Float64()
				o.debit(typeKey, notional)
				return nil
			}

		case stepMaker:
			// The maker's passive quote refresh is excluded only on
			// lockout/resolution, not on the broader directional-entry
			// gate — resting quotes aren't a new directional bet, and
			// refreshing them doesn't end the dispatch loop for this tick.
			if phase == types.Lockout || phase == types.Resolved {
				continue
			}
			if err := o.maker.Quote(ctx, market, fairUp, regime, now); err != nil {
				o.logger.Warn("maker quote error", "market", market.ID, "error", err)
			}
		}
	}

	return nil
}

func straddleCost(s types.StraddlePosition) float64 {
	cost := s.YesSize.Mul(s.YesAvgPrice).Add(s.NoSize.Mul(s.NoAvgPrice))
	f, _ := cost.Float64()
	return f
}
