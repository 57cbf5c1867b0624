// Package engine is the central orchestrator of the market-making bot.
//
// It wires together every collaborator in the system — the Reference Feed,
// the Book Feed and its discovery duty, the Order Gateway and Order
// Builder, the Fill Tracker, the Exit Controller, the Position Manager,
// the Risk Manager, and the five strategy engines behind the Orchestrator
// — and drives each on the cadence described by its own duty: some are
// event-driven (the two WebSocket readers, the fill consumer), the rest
// run on fixed tickers (discovery, book refresh, risk watchdog, balance
// sync, resolution tracking, telemetry), with the per-asset evaluation
// loop additionally throttled by the Orchestrator itself.
//
// Lifecycle: New() → Start() → [runs until Stop()].
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"updown-mm/internal/config"
	"updown-mm/internal/exit"
	"updown-mm/internal/feed"
	"updown-mm/internal/fill"
	"updown-mm/internal/gateway"
	"updown-mm/internal/market"
	"updown-mm/internal/order"
	"updown-mm/internal/position"
	"updown-mm/internal/risk"
	"updown-mm/internal/signal"
	"updown-mm/internal/store"
	"updown-mm/internal/strategy"
	"updown-mm/pkg/types"
)

const (
	evaluationInterval   = 50 * time.Millisecond
	riskWatchdogInterval = 500 * time.Millisecond
	balanceSyncInterval  = 15 * time.Second
	resolutionInterval   = 5 * time.Second
	bookRefreshInterval  = 2 * time.Second
	fillSweepInterval    = 1 * time.Second
	telemetryInterval    = 30 * time.Second
)

// tradedDurations are the two market lengths this bot trades; every asset
// is scanned for both.
var tradedDurations = []types.Duration{types.FiveMin, types.FifteenMin}

// trackedMarket is one market the engine has onboarded from discovery: it
// stays in this map until IsExpired, sixty seconds after close, even
// though it stops accepting new directional entries (and is recorded as
// resolved) at CloseTime.
type trackedMarket struct {
	info     types.MarketInfo
	resolved bool
}

// Engine wires every collaborator together and drives them on their
// respective schedules.
type Engine struct {
	cfg    config.Config
	logger *slog.Logger

	auth        *gateway.Auth
	client      *gateway.Client
	builder     *order.Builder
	reference   *feed.Reference
	bookFeed    *feed.WSBookFeed
	discovery   *feed.Discovery
	fillTracker *fill.Tracker
	exitCtrl    *exit.Controller
	riskMgr     *risk.Manager
	volTracker  *signal.RealizedVolTracker
	auditStore  *store.Store

	assets []types.Asset

	// positions, the five strategy engines, and the orchestrator all
	// depend on the Position Manager's starting capital, which is only
	// known once Start queries the gateway balance — so they're built
	// there rather than in New.
	positions    *position.Manager
	maker        *strategy.MakerEngine
	orchestrator *strategy.Orchestrator

	mu      sync.RWMutex
	markets map[string]*trackedMarket

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs an Engine and every collaborator that doesn't require a
// network round-trip or starting capital to build.
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	auth, err := gateway.NewAuth(cfg)
	if err != nil {
		return nil, fmt.Errorf("engine: create auth: %w", err)
	}
	client := gateway.NewClient(cfg, auth, logger)
	builder := order.NewBuilder(auth.PrivateKey(), auth.FunderAddress(), auth.ChainID().Int64(), auth.SignatureType())

	assets := make([]types.Asset, 0, len(cfg.Reference.Assets))
	for _, a := range cfg.Reference.Assets {
		assets = append(assets, types.Asset(a))
	}

	reference := feed.NewReference(cfg.Reference.WSURL, cfg.Reference.FundingBaseURL, assets, cfg.Reference.LiquidationWindow, logger)
	bookFeed := feed.NewWSBookFeed(cfg.API.WSBookURL, logger)
	discovery := feed.NewDiscovery(cfg.API.DiscoveryBaseURL, cfg.Scanner, assets, tradedDurations, logger)

	auditStore, err := store.Open(cfg.Store.DataDir)
	if err != nil {
		return nil, fmt.Errorf("engine: open audit store: %w", err)
	}

	riskMgr := risk.NewManager(cfg.Risk, logger)
	constantATR := make(map[string]float64, len(assets))
	for _, a := range assets {
		constantATR[a.SlugPrefix()] = a.VolPerMinute()
	}
	volTracker := signal.NewRealizedVolTracker(constantATR)
	fillTracker := fill.NewTracker(client, logger)
	exitCtrl := exit.NewController(cfg.Exit, client, builder, fillTracker, logger)

	return &Engine{
		cfg:         cfg,
		logger:      logger,
		auth:        auth,
		client:      client,
		builder:     builder,
		reference:   reference,
		bookFeed:    bookFeed,
		discovery:   discovery,
		fillTracker: fillTracker,
		exitCtrl:    exitCtrl,
		riskMgr:     riskMgr,
		volTracker:  volTracker,
		auditStore:  auditStore,
		assets:      assets,
		markets:     make(map[string]*trackedMarket),
	}, nil
}

// Start derives L2 trading credentials if needed, seeds the Position
// Manager from the gateway's reported collateral balance, builds the five
// strategy engines and the Orchestrator, and launches every collaborator's
// goroutine.
func (e *Engine) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	if !e.auth.HasL2Credentials() {
		if _, err := e.client.DeriveAPIKey(ctx); err != nil {
			cancel()
			return fmt.Errorf("engine: derive api key: %w", err)
		}
	}

	balance, err := e.client.Balance(ctx)
	if err != nil {
		cancel()
		return fmt.Errorf("engine: fetch starting balance: %w", err)
	}
	e.positions = position.NewManager(balance, e.logger)

	arb := strategy.NewArbEngine(e.cfg.Strategy, e.client, e.builder, e.positions, e.logger)
	straddle := strategy.NewStraddleBiasEngine(e.cfg.Strategy, e.client, e.builder, e.positions, e.logger)
	lag := strategy.NewLagEngine(e.cfg.Strategy, e.client, e.builder, e.positions, e.logger)
	momentum := strategy.NewMomentumEngine(e.cfg.Strategy, e.client, e.builder, e.positions, e.logger)
	e.maker = strategy.NewMakerEngine(e.cfg.Strategy, e.client, e.builder, e.positions, e.fillTracker, e.logger)
	e.orchestrator = strategy.NewOrchestrator(e.cfg.Strategy, e.riskMgr, e.positions, e.volTracker, arb, straddle, lag, momentum, e.maker, e.logger)

	e.logger.Info("engine starting", "starting_capital", balance.String(), "assets", e.assets, "dry_run", e.cfg.DryRun)

	loops := []func(context.Context){
		e.referenceLoop,
		e.bookFeedLoop,
		e.discoveryLoop,
		e.reconcileLoop,
		e.evaluationLoop,
		e.fillConsumeLoop,
		e.fillSweepLoop,
		e.riskWatchdogLoop,
		e.balanceSyncLoop,
		e.resolutionLoop,
		e.bookRefreshLoop,
		e.telemetryLoop,
	}
	for _, loop := range loops {
		e.wg.Add(1)
		go func(fn func(context.Context)) {
			defer e.wg.Done()
			fn(ctx)
		}(loop)
	}

	return nil
}

// Stop cancels every goroutine and blocks until they've returned.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	if e.auditStore != nil {
		e.auditStore.Close()
	}
}

// ---------------------------------------------------------------------
// Event-driven collaborators
// ---------------------------------------------------------------------

func (e *Engine) referenceLoop(ctx context.Context) {
	if err := e.reference.Run(ctx, e.cfg.Reference.FundingPollInterval); err != nil && ctx.Err() == nil {
		e.logger.Error("reference feed stopped", "error", err)
	}
}

func (e *Engine) bookFeedLoop(ctx context.Context) {
	if err := e.bookFeed.Run(ctx); err != nil && ctx.Err() == nil {
		e.logger.Error("book feed stopped", "error", err)
	}
}

func (e *Engine) discoveryLoop(ctx context.Context) {
	e.discovery.Run(ctx)
}

// reconcileLoop onboards newly discovered markets as they arrive. It never
// removes a market — that's the resolution loop's job, since a market
// must keep being tracked for sixty seconds after close even once
// discovery stops returning it.
func (e *Engine) reconcileLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case allocs, ok := <-e.discovery.Results():
			if !ok {
				return
			}
			e.reconcile(ctx, allocs)
		}
	}
}

func (e *Engine) reconcile(ctx context.Context, allocs []types.MarketAllocation) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, alloc := range allocs {
		m := alloc.Market
		if tm, ok := e.markets[m.ID]; ok {
			tm.info = m
			continue
		}
		e.markets[m.ID] = &trackedMarket{info: m}
		if err := e.bookFeed.Subscribe(ctx, []string{m.YesTokenID, m.NoTokenID}); err != nil {
			e.logger.Warn("book feed subscribe failed", "market", m.ID, "error", err)
		}
		e.logger.Info("market onboarded", "market", m.ID, "asset", m.Asset, "duration", m.Duration, "score", alloc.Score)
	}
}

func (e *Engine) fillConsumeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-e.fillTracker.Fills():
			if !ok {
				return
			}
			// The maker engine's resting quotes and every strategy's resting
			// exit orders resolve asynchronously through the Fill Tracker —
			// only a taking entry's own order records its fill synchronously
			// right after AwaitMarketFill.
			e.positions.RecordFill(f, f.MarketSide, f.StrategyTag)
			if f.StrategyTag == "maker" {
				e.maker.OnFill(f.MarketID, f)
			}
			if err := e.auditStore.AppendFill(f, f.StrategyTag); err != nil {
				e.logger.Error("append fill record", "error", err)
			}
		}
	}
}

// ---------------------------------------------------------------------
// Ticker-driven collaborators
// ---------------------------------------------------------------------

func (e *Engine) runTicker(ctx context.Context, interval time.Duration, fn func(now time.Time)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			fn(now)
		}
	}
}

func (e *Engine) fillSweepLoop(ctx context.Context) {
	e.runTicker(ctx, fillSweepInterval, func(now time.Time) {
		e.fillTracker.Sweep(ctx)
	})
}

func (e *Engine) riskWatchdogLoop(ctx context.Context) {
	e.runTicker(ctx, riskWatchdogInterval, func(now time.Time) {
		action := e.riskMgr.Watchdog(e.positions.Snapshot(), now)
		if action == risk.ActionKillSwitch {
			if _, err := e.client.CancelAll(ctx); err != nil {
				e.logger.Error("kill switch: cancel all failed", "error", err)
			}
		}
	})
}

func (e *Engine) balanceSyncLoop(ctx context.Context) {
	e.runTicker(ctx, balanceSyncInterval, func(now time.Time) {
		balance, err := e.client.Balance(ctx)
		if err != nil {
			e.logger.Warn("balance sync: fetch failed", "error", err)
			return
		}
		e.positions.SyncCapitalFromBalance(balance)
	})
}

// resolutionLoop credits every market past its close time by comparing
// the underlying's reference price to the market's recorded opening
// price — there's no separate on-chain oracle to query, since the
// reference feed comparison this engine already uses to price the
// market is the same one that settles it. Markets are dropped from
// tracking sixty seconds after close, independent of when they resolved.
func (e *Engine) resolutionLoop(ctx context.Context) {
	e.runTicker(ctx, resolutionInterval, func(now time.Time) {
		e.sweepResolutions(now)
	})
}

func (e *Engine) sweepResolutions(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for id, tm := range e.markets {
		if !tm.resolved && now.After(tm.info.CloseTime) {
			if price, ok := e.reference.CurrentPrice(tm.info.Asset); ok {
				winningSide := types.No
				if price > tm.info.ReferencePrice {
					winningSide = types.Yes
				}
				realized := e.positions.RecordResolution(id, winningSide)
				if err := e.auditStore.AppendResolution(id, winningSide, realized); err != nil {
					e.logger.Error("append resolution record", "market", id, "error", err)
				}
				tm.resolved = true
				e.logger.Info("market resolved", "market", id, "winning_side", winningSide, "realized_pnl", realized.String())
			}
		}
		if market.IsExpired(tm.info.CloseTime.Unix(), now.Unix()) {
			delete(e.markets, id)
		}
	}
}

// bookRefreshLoop pushes a REST snapshot of every tracked token's book
// into the WS-maintained mirror, so a silently desynced WS connection
// self-heals even without a reconnect.
func (e *Engine) bookRefreshLoop(ctx context.Context) {
	e.runTicker(ctx, bookRefreshInterval, func(now time.Time) {
		for _, m := range e.trackedMarketInfos() {
			for _, tokenID := range []string{m.YesTokenID, m.NoTokenID} {
				snap, err := e.client.GetOrderBook(ctx, tokenID)
				if err != nil {
					e.logger.Debug("book refresh failed", "token", tokenID, "error", err)
					continue
				}
				e.bookFeed.ApplySnapshot(tokenID, *snap)
			}
		}
	})
}

func (e *Engine) telemetryLoop(ctx context.Context) {
	e.runTicker(ctx, telemetryInterval, func(now time.Time) {
		snap := e.positions.Snapshot()
		e.mu.RLock()
		tracked := len(e.markets)
		e.mu.RUnlock()
		e.logger.Info("telemetry",
			"capital", snap.Capital.String(),
			"total_pnl", snap.TotalPnL.String(),
			"daily_pnl", snap.DailyPnL.String(),
			"open_positions", len(snap.Positions),
			"open_straddles", len(snap.Straddles),
			"tracked_markets", tracked,
			"trades", snap.TotalTrades,
			"win_rate", winRate(snap),
			"kill_switch", e.riskMgr.IsKillSwitchActive(),
			"open_orders", e.fillTracker.Open(),
		)
	})
}

func winRate(p types.Portfolio) float64 {
	if p.TotalTrades == 0 {
		return 0
	}
	return float64(p.WinningTrades) / float64(p.TotalTrades)
}

// ---------------------------------------------------------------------
// Evaluation loop: strategy dispatch + exit management
// ---------------------------------------------------------------------

func (e *Engine) evaluationLoop(ctx context.Context) {
	e.runTicker(ctx, evaluationInterval, func(now time.Time) {
		e.evaluateAll(ctx, now)
	})
}

func (e *Engine) evaluateAll(ctx context.Context, now time.Time) {
	for _, m := range e.trackedMarketInfos() {
		if m.Phase(now) == types.Resolved {
			continue
		}

		yesBook, _ := e.bookFeed.Book(m.YesTokenID)
		noBook, _ := e.bookFeed.Book(m.NoTokenID)

		if price, ok := e.reference.CurrentPrice(m.Asset); ok {
			e.volTracker.OnPrice(m.Asset.SlugPrefix(), price, now)
			if e.orchestrator.ShouldEvaluate(m.Asset, now) {
				momentumAdj := e.momentumAdjFor(m.Asset, now)
				tickMove := e.tickMoveFor(m.Asset, now)
				biasInputs := e.biasInputsFor(m, yesBook, now)
				if err := e.orchestrator.EvaluateMarket(ctx, m, yesBook, noBook, price, momentumAdj, tickMove, biasInputs, now); err != nil {
					e.logger.Warn("evaluate market failed", "market", m.ID, "error", err)
				}
			}
		}

		e.sweepExits(ctx, m, now)
	}
}

// sweepExits runs the Exit Controller over every open directional position
// in a market. The maker's resting quotes are excluded — those are
// continuously replaced by MakerEngine.Quote itself, not escalated by a
// TP/SL ladder.
func (e *Engine) sweepExits(ctx context.Context, m types.MarketInfo, now time.Time) {
	for _, pos := range e.positions.OpenPositionsFor(m.ID) {
		if pos.StrategyTag == "maker" {
			continue
		}
		book, _ := e.bookFeed.Book(pos.TokenID)
		snap := book.Snapshot()
		var mark float64
		if bid, ok := snap.BestBid(); ok {
			mark = bid.Price
		} else if ask, ok := snap.BestAsk(); ok {
			mark = ask.Price
		} else {
			continue
		}

		remaining := m.SecondsRemaining(now)
		held := now.Sub(pos.OpenedAt).Seconds()
		updated, err := e.exitCtrl.Evaluate(ctx, pos, m, mark, remaining, held, m.FeeRateBps)
		if err != nil {
			e.logger.Warn("exit evaluation failed", "market", m.ID, "error", err)
			continue
		}
		e.positions.SetRestingExit(m.ID, pos.Side, pos.StrategyTag, updated)
	}
}

func (e *Engine) trackedMarketInfos() []types.MarketInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]types.MarketInfo, 0, len(e.markets))
	for _, tm := range e.markets {
		out = append(out, tm.info)
	}
	return out
}

// ---------------------------------------------------------------------
// Signal derivation
// ---------------------------------------------------------------------

// momentumHorizon is the horizon used to turn a recent velocity reading
// into the z-score nudge FairProbUp adds to its primary estimate.
const momentumHorizon = 30 * time.Second

// momentumAdjWeight damps the raw velocity-derived z-score so momentum
// only nudges the fair-probability estimate, never dominates it.
const momentumAdjWeight = 0.5

// momentumAdjFor approximates a z-score shift from the underlying's
// recent velocity: a fast move over the last 30s, relative to the asset's
// own per-minute volatility, is treated as weak evidence the move
// continues through resolution.
func (e *Engine) momentumAdjFor(asset types.Asset, now time.Time) float64 {
	st, ok := e.reference.State(asset)
	if !ok {
		return 0
	}
	vel, ok := st.VelocityOver(momentumHorizon, now)
	if !ok {
		return 0
	}
	residual := asset.VolPerMinute() * math.Sqrt(momentumHorizon.Minutes())
	if residual == 0 {
		return 0
	}
	return clampFloat(vel/residual, -1, 1) * momentumAdjWeight
}

// tickMoveHorizon is the short lookback the Lag Exploit engine checks to
// confirm the reference price has moved since the prior tick, not just
// since the start of the current move.
const tickMoveHorizon = 3 * time.Second

// tickMoveFor returns the reference price's fractional velocity over the
// last tickMoveHorizon, or 0 if too little history has accumulated yet.
func (e *Engine) tickMoveFor(asset types.Asset, now time.Time) float64 {
	st, ok := e.reference.State(asset)
	if !ok {
		return 0
	}
	vel, ok := st.VelocityOver(tickMoveHorizon, now)
	if !ok {
		return 0
	}
	return vel
}

// biasInputsFor builds the straddle engine's directional-bias inputs from
// the reference feed's price history and the YES book's top-of-book
// imbalance. The reference feed doesn't track true exponential moving
// averages, so EMA5/EMA20 are approximated from the 5m/20m velocity
// readings by inverting them back to "price N minutes ago" — the same
// information an EMA of that lookback would trend toward.
func (e *Engine) biasInputsFor(m types.MarketInfo, yesBook *feed.Book, now time.Time) signal.BiasInputs {
	st, ok := e.reference.State(m.Asset)
	if !ok {
		return signal.BiasInputs{}
	}
	latest, ok := st.Latest()
	if !ok {
		return signal.BiasInputs{}
	}

	ema5, ema20 := latest.Price, latest.Price
	if vel5, ok := st.VelocityOver(5*time.Minute, now); ok && 1+vel5 != 0 {
		ema5 = latest.Price / (1 + vel5)
	}
	if vel20, ok := st.VelocityOver(20*time.Minute, now); ok && 1+vel20 != 0 {
		ema20 = latest.Price / (1 + vel20)
	}

	var flow float64
	if yesBook != nil {
		snap := yesBook.Snapshot()
		bid, bidOK := snap.BestBid()
		ask, askOK := snap.BestAsk()
		if bidOK && askOK {
			total := bid.Size + ask.Size
			if total > 0 {
				flow = (bid.Size - ask.Size) / total
			}
		}
	}

	return signal.BiasInputs{
		Momentum:           e.momentumAdjFor(m.Asset, now),
		EMA5:               ema5,
		EMA20:              ema20,
		OrderFlowImbalance: flow,
		FundingRateBps:     st.FundingBps(),
		NetLiquidations:    st.NetLiquidationsUSD(),
	}
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
