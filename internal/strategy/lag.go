package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"updown-mm/internal/config"
	"updown-mm/internal/position"
	"updown-mm/internal/signal"
	"updown-mm/pkg/types"
)

// LagEngine is the Lag Exploit strategy: the reference feed's underlying
// price updates faster than the order book re-prices, so the engine
// recomputes fair probability on every tick and buys whichever token's ask
// lags furthest behind fair value, sized by fractional Kelly.
type LagEngine struct {
	cfg       config.StrategyConfig
	gateway   Gateway
	builder   Builder
	positions *position.Manager
	logger    *slog.Logger
}

// NewLagEngine constructs the Lag Exploit engine.
func NewLagEngine(cfg config.StrategyConfig, gateway Gateway, builder Builder, positions *position.Manager, logger *slog.Logger) *LagEngine {
	return &LagEngine{cfg: cfg, gateway: gateway, builder: builder, positions: positions, logger: logger.With("strategy", "lag")}
}

const (
	lagPriceFloor        = 0.20
	lagPriceCeiling      = 0.80
	lagMaxHalfSpreadFrac = 0.10 // half-spread must be under 10% of the ask
	lagMinTickMove       = 0.00005
	lagMaxFailedSells    = 5
	lagMinRemainingSecs  = 120.0 // no new lag entry this close to resolution
	lagMinOrderCost      = 1.0 // below this, the fill isn't worth the taker fee
)

// failedSellAttempts reports the exit-escalation count of the market's open
// lag position on side, if one exists. A resting exit that actually fills
// removes the position from the ledger via RecordFill, so a still-open
// position's RestingExit.Attempt count only grows when the Exit Controller
// keeps failing to get out — the "failed sell attempts" the engine throttles
// entries on.
func (e *LagEngine) failedSellAttempts(marketID string, side types.Side) int {
	for _, pos := range e.positions.OpenPositionsFor(marketID) {
		if pos.StrategyTag != "lag" || pos.Side != side {
			continue
		}
		if pos.RestingExit != nil {
			return pos.RestingExit.Attempt
		}
	}
	return 0
}

// walkBookForNotional spends up to notional dollars against ascending ask
// levels starting from the first (best) level, stopping early if the book runs out of
// depth. Returns the token size bought and the dollars actually spent.
func walkBookForNotional(asks []types.PriceLevel, notional float64) (size, spent float64) {
	remaining := notional
	for _, lvl := range asks {
		if remaining <= 0 {
			break
		}
		levelCost := lvl.Price * lvl.Size
		if levelCost <= remaining {
			size += lvl.Size
			spent += levelCost
			remaining -= levelCost
			continue
		}
		take := remaining / lvl.Price
		size += take
		spent += remaining
		remaining = 0
	}
	return size, spent
}

// Evaluate recomputes fair value for one market from the reference feed's
// current underlying price and compares it to the book's resting asks.
// momentumAdj biases the z-score per the momentum detector's reading for
// the same asset; tickMove is the reference price's short-horizon velocity,
// used to confirm the move that created the lag hasn't already reversed.
// Returns the opened Position, or nil if no edge cleared the regime's
// minimum or an entry gate rejected the tick.
func (e *LagEngine) Evaluate(ctx context.Context, market types.MarketInfo, yesBook, noBook BookSource, currentPrice, momentumAdj, tickMove float64, regime signal.Regime, now time.Time) (*types.Position, error) {
	if !e.cfg.EnableLag {
		return nil, nil
	}
	minEdge, enabled := regime.LagMinEdge()
	if !enabled {
		return nil, nil
	}

	if market.SecondsRemaining(now) <= lagMinRemainingSecs {
		return nil, nil
	}
	minutesRemaining := market.SecondsRemaining(now) / 60.0

	fairUp := signal.FairProbUp(currentPrice, market.ReferencePrice, minutesRemaining, market.Asset.VolPerMinute(), momentumAdj)

	yesBookSnap := yesBook.Snapshot()
	noBookSnap := noBook.Snapshot()
	yesLvl, yesOK := yesBookSnap.BestAsk()
	noLvl, noOK := noBookSnap.BestAsk()
	if !yesOK || !noOK {
		return nil, nil
	}

	yesMispricing, noMispricing := signal.Mispricing(fairUp, yesLvl.Price, noLvl.Price)

	var side types.Side
	var tokenID string
	var price float64
	var winProb float64
	var asks []types.PriceLevel
	switch {
	case yesMispricing >= minEdge && yesMispricing >= noMispricing:
		side, tokenID, price, winProb, asks = types.Yes, market.YesTokenID, yesLvl.Price, fairUp, yesBookSnap.Asks
	case noMispricing >= minEdge:
		side, tokenID, price, winProb, asks = types.No, market.NoTokenID, noLvl.Price, 1-fairUp, noBookSnap.Asks
	default:
		return nil, nil
	}

	if price < lagPriceFloor || price > lagPriceCeiling {
		return nil, nil
	}

	bestBid, bidOK := func() (types.PriceLevel, bool) {
		if side == types.Yes {
			return yesBookSnap.BestBid()
		}
		return noBookSnap.BestBid()
	}()
	if !bidOK || price <= 0 {
		return nil, nil
	}
	halfSpread := (price - bestBid.Price) / 2
	if halfSpread/price >= lagMaxHalfSpreadFrac {
		return nil, nil
	}

	if math.Abs(tickMove) < lagMinTickMove {
		return nil, nil
	}
	// The reference price must have moved toward the side we're about to
	// buy: an up-move supports a YES lag entry, a down-move a NO entry.
	if (side == types.Yes) != (tickMove > 0) {
		return nil, nil
	}

	if e.failedSellAttempts(market.ID, side) >= lagMaxFailedSells {
		return nil, nil
	}

	odds := signal.PayoutOdds(price)
	notional := e.positions.KellySize(winProb, odds, e.cfg.LagKellyFraction)

	capital := e.positions.AvailableCapital()
	capF, _ := capital.Float64()
	cap := decimal.NewFromFloat(capF * regime.PositionSizeCap())
	if notional.GreaterThan(cap) {
		notional = cap
	}
	notionalF, _ := notional.Float64()
	if notionalF <= 0 {
		return nil, nil
	}

	sizeF, spentF := walkBookForNotional(asks, notionalF)
	if spentF < lagMinOrderCost {
		return nil, nil
	}
	size := decimal.NewFromFloat(sizeF).Truncate(2)
	if size.IsZero() {
		return nil, nil
	}

	payload, err := e.builder.Build(types.OrderIntent{
		TokenID:     tokenID,
		MarketID:    market.ID,
		MarketSide:  side,
		OrderSide:   types.Buy,
		Price:       decimal.NewFromFloat(price),
		Size:        size,
		OrderType:   types.FAK,
		StrategyTag: "lag",
	}, market.FeeRateBps)
	if err != nil {
		return nil, fmt.Errorf("lag: build order: %w", err)
	}
	results, err := e.gateway.Submit(ctx, []types.OrderPayload{payload})
	if err != nil {
		return nil, fmt.Errorf("lag: submit order: %w", err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("lag: empty submit response")
	}
	result, confirmed := e.gateway.AwaitMarketFill(ctx, results[0].OrderID)
	if !confirmed || result.FilledSize.IsZero() {
		e.logger.Debug("lag: order did not confirm a fill", "market", market.ID, "side", side)
		return nil, nil
	}

	fill := types.Fill{
		OrderID:   result.OrderID,
		TokenID:   tokenID,
		MarketID:  market.ID,
		Side:      types.Buy,
		Price:     result.AvgFillPrice,
		Size:      result.FilledSize,
		Timestamp: now,
	}
	e.positions.RecordFill(fill, side, "lag")
	e.logger.Info("lag: entered position", "market", market.ID, "side", side, "size", result.FilledSize, "price", result.AvgFillPrice, "edge", winProb)

	pos := types.Position{
		MarketID:      market.ID,
		TokenID:       tokenID,
		Side:          side,
		Size:          result.FilledSize,
		AvgEntryPrice: result.AvgFillPrice,
		StrategyTag:   "lag",
		OpenedAt:      now,
	}
	return &pos, nil
}
