package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"updown-mm/internal/config"
	"updown-mm/internal/position"
	"updown-mm/internal/signal"
	"updown-mm/pkg/types"
)

// MakerEngine is the Market Maker strategy: it posts two-sided resting
// quotes on a market's YES token around an Avellaneda-Stoikov reservation
// price, skewed by current YES inventory and widened by the realized-vol
// regime and recent fill toxicity.
type MakerEngine struct {
	cfg       config.StrategyConfig
	gateway   Gateway
	builder   Builder
	positions *position.Manager
	tracker   FillTracker
	logger    *slog.Logger

	mu    sync.Mutex
	flow  map[string]*FlowTracker // per market ID
	quote map[string][2]string    // market ID -> [bidOrderID, askOrderID]
}

// NewMakerEngine constructs the Market Maker engine. tracker registers
// each resting quote for asynchronous fill detection, since GTC orders
// don't resolve synchronously the way the taking strategies' FOK orders do.
func NewMakerEngine(cfg config.StrategyConfig, gateway Gateway, builder Builder, positions *position.Manager, tracker FillTracker, logger *slog.Logger) *MakerEngine {
	return &MakerEngine{
		cfg:       cfg,
		gateway:   gateway,
		builder:   builder,
		positions: positions,
		tracker:   tracker,
		flow:      make(map[string]*FlowTracker),
		quote:     make(map[string][2]string),
		logger:    logger.With("strategy", "maker"),
	}
}

func (e *MakerEngine) flowTracker(marketID string) *FlowTracker {
	e.mu.Lock()
	defer e.mu.Unlock()
	ft, ok := e.flow[marketID]
	if !ok {
		ft = NewFlowTracker(60*time.Second, 0.6, 120*time.Second, 3.0)
		e.flow[marketID] = ft
	}
	return ft
}

// OnFill feeds a fill into the market's toxicity tracker, so the next
// quote update can widen the spread if flow is turning adverse.
func (e *MakerEngine) OnFill(marketID string, fill types.Fill) {
	e.flowTracker(marketID).AddFill(fill)
}

// reservationPrice applies the Avellaneda-Stoikov inventory-skew term to
// the fair mid: a net-long YES position pulls both quotes down, net-short
// pulls them up, so the book nudges the maker back toward flat.
func reservationPrice(fairMid, netYesShares, gamma, sigma, t float64) float64 {
	return fairMid - netYesShares*gamma*sigma*sigma*t
}

// optimalSpread is the Avellaneda-Stoikov closed-form spread: gamma*sigma^2*T
// plus the order-arrival-rate term (2/gamma)*ln(1+gamma/k).
func optimalSpread(gamma, sigma, k, t float64) float64 {
	if gamma <= 0 || k <= 0 {
		return 0
	}
	return gamma*sigma*sigma*t + (2/gamma)*math.Log(1+gamma/k)
}

func roundToTick(price float64, tick types.TickSize) decimal.Decimal {
	d := decimal.NewFromFloat(price)
	return d.Round(int32(tick.Decimals()))
}

const (
	makerMinSpread        = 0.01 // below this, a quote isn't worth posting
	makerMinRemainingSecs = 30.0 // too close to close to safely post a fresh quote
)

func clampPrice(p decimal.Decimal) decimal.Decimal {
	lo := decimal.NewFromFloat(0.01)
	hi := decimal.NewFromFloat(0.99)
	if p.LessThan(lo) {
		return lo
	}
	if p.GreaterThan(hi) {
		return hi
	}
	return p
}

// Quote computes and reconciles two-sided resting quotes for one market.
// fairMid is the current fair-value probability the book should center on
// (typically signal.FairProbUp's output). Returns nil (no error, no quote
// change) if the regime says to pull quotes entirely (MMHalfSpread == 0).
func (e *MakerEngine) Quote(ctx context.Context, market types.MarketInfo, fairMid float64, regime signal.Regime, now time.Time) error {
	if !e.cfg.EnableMaker {
		return nil
	}
	if market.SecondsRemaining(now) <= makerMinRemainingSecs {
		return e.pullQuotes(ctx, market)
	}

	halfSpread := regime.MMHalfSpread()
	if halfSpread <= 0 {
		return e.pullQuotes(ctx, market)
	}

	netYes := e.positions.NetYesInventory(market.ID)
	netYesF, _ := netYes.Float64()

	reservation := reservationPrice(fairMid, netYesF, e.cfg.Gamma, e.cfg.Sigma, e.cfg.T)
	spread := optimalSpread(e.cfg.Gamma, e.cfg.Sigma, e.cfg.K, e.cfg.T)
	effectiveHalf := math.Max(halfSpread, spread/2)
	effectiveHalf *= e.flowTracker(market.ID).GetSpreadMultiplier()

	bidPrice := clampPrice(roundToTick(reservation-effectiveHalf, market.TickSize))
	askPrice := clampPrice(roundToTick(reservation+effectiveHalf, market.TickSize))
	if !bidPrice.LessThan(askPrice) {
		// Degenerate quote (widened past crossing); pull instead of crossing.
		return e.pullQuotes(ctx, market)
	}
	if askPrice.Sub(bidPrice).LessThan(decimal.NewFromFloat(makerMinSpread)) {
		return e.pullQuotes(ctx, market)
	}

	available, _ := e.positions.AvailableCapital().Float64()
	sizeFactor := 1 - 0.5*math.Min(math.Abs(netYesF)/100.0, 1.0)
	baseNotional := available * e.cfg.MMBaseSizePct * regime.MMSizeMultiplier() * sizeFactor
	if baseNotional <= 0 {
		return e.pullQuotes(ctx, market)
	}

	bidSize := decimal.NewFromFloat(baseNotional).Div(bidPrice).Truncate(2)
	askSize := decimal.NewFromFloat(baseNotional).Div(askPrice).Truncate(2)
	if bidSize.IsZero() || askSize.IsZero() {
		return e.pullQuotes(ctx, market)
	}

	if _, err := e.gateway.CancelMarketOrders(ctx, market.ID); err != nil {
		return fmt.Errorf("maker: cancel resting quotes: %w", err)
	}

	bidPayload, err := e.builder.Build(types.OrderIntent{
		TokenID:     market.YesTokenID,
		MarketID:    market.ID,
		MarketSide:  types.Yes,
		OrderSide:   types.Buy,
		Price:       bidPrice,
		Size:        bidSize,
		OrderType:   types.GTC,
		PostOnly:    true,
		StrategyTag: "maker",
	}, market.FeeRateBps)
	if err != nil {
		return fmt.Errorf("maker: build bid: %w", err)
	}
	askPayload, err := e.builder.Build(types.OrderIntent{
		TokenID:     market.YesTokenID,
		MarketID:    market.ID,
		MarketSide:  types.Yes,
		OrderSide:   types.Sell,
		Price:       askPrice,
		Size:        askSize,
		OrderType:   types.GTC,
		PostOnly:    true,
		StrategyTag: "maker",
	}, market.FeeRateBps)
	if err != nil {
		return fmt.Errorf("maker: build ask: %w", err)
	}

	results, err := e.gateway.Submit(ctx, []types.OrderPayload{bidPayload, askPayload})
	if err != nil {
		return fmt.Errorf("maker: submit quotes: %w", err)
	}

	e.mu.Lock()
	var ids [2]string
	for i, r := range results {
		if i > 1 {
			break
		}
		ids[i] = r.OrderID
	}
	e.quote[market.ID] = ids
	e.mu.Unlock()

	if len(results) > 0 {
		e.tracker.Track(results[0].OrderID, market.ID, market.YesTokenID, "maker", types.Yes, types.Buy)
	}
	if len(results) > 1 {
		e.tracker.Track(results[1].OrderID, market.ID, market.YesTokenID, "maker", types.Yes, types.Sell)
	}

	e.logger.Debug("maker: quoted", "market", market.ID, "bid", bidPrice, "ask", askPrice, "reservation", reservation)
	return nil
}

func (e *MakerEngine) pullQuotes(ctx context.Context, market types.MarketInfo) error {
	e.mu.Lock()
	_, hadQuote := e.quote[market.ID]
	delete(e.quote, market.ID)
	e.mu.Unlock()

	if !hadQuote {
		return nil
	}
	if _, err := e.gateway.CancelMarketOrders(ctx, market.ID); err != nil {
		return fmt.Errorf("maker: pull quotes: %w", err)
	}
	return nil
}
