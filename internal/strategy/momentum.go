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

// MomentumEngine is the Momentum Capture strategy: it tracks YES-mid
// velocity and acceleration against the fair-value estimate and buys into
// confirmed, non-exhausted moves in the direction of agreement between
// momentum and divergence.
type MomentumEngine struct {
	cfg       config.StrategyConfig
	gateway   Gateway
	builder   Builder
	positions  *position.Manager
	detector   *signal.MomentumDetector
	compressor *signal.CompressionDetector
	logger     *slog.Logger
}

// NewMomentumEngine constructs the Momentum Capture engine with its own
// per-asset momentum detector.
func NewMomentumEngine(cfg config.StrategyConfig, gateway Gateway, builder Builder, positions *position.Manager, logger *slog.Logger) *MomentumEngine {
	return &MomentumEngine{
		cfg:        cfg,
		gateway:    gateway,
		builder:    builder,
		positions:  positions,
		detector:   signal.NewMomentumDetector(),
		compressor: signal.NewCompressionDetector(),
		logger:     logger.With("strategy", "momentum"),
	}
}

// Evaluate feeds the current YES-mid/fair-value pair into the momentum
// detector and, on a qualifying entry signal, buys the token aligned with
// the move. Returns nil if no trade was taken.
func (e *MomentumEngine) Evaluate(ctx context.Context, market types.MarketInfo, yesBook, noBook BookSource, fair float64, regime signal.Regime, now time.Time) (*types.Position, error) {
	if !e.cfg.EnableMomentum {
		return nil, nil
	}

	yesSnap := yesBook.Snapshot()
	yesBid, bidOK := yesSnap.BestBid()
	yesAskLvl, askOK := yesSnap.BestAsk()
	if !bidOK || !askOK {
		return nil, nil
	}
	mid := (yesBid.Price + yesAskLvl.Price) / 2

	sig := e.detector.Observe(market.ID, mid, fair, now)
	if !sig.IsEntrySignal() {
		return nil, nil
	}
	if absF(sig.Momentum) < e.cfg.MomentumMinSignal {
		return nil, nil
	}

	// A move while the band is still compressing is more likely noise than
	// a confirmed breakout; wait for the compression detector to clear.
	if comp := e.compressor.Observe(market.ID, mid, now); comp.State == signal.CompressionCompress {
		return nil, nil
	}

	direction := sig.Direction()
	if direction == signal.BiasNeutral {
		return nil, nil
	}

	var side types.Side
	var tokenID string
	var price float64
	switch direction {
	case signal.BiasUp:
		side, tokenID, price = types.Yes, market.YesTokenID, yesAskLvl.Price
	case signal.BiasDown:
		noLvl, ok := noBook.Snapshot().BestAsk()
		if !ok {
			return nil, nil
		}
		side, tokenID, price = types.No, market.NoTokenID, noLvl.Price
	}

	available, _ := e.positions.AvailableCapital().Float64()
	// Size scales with both the magnitude of the fair-value divergence and
	// the strength of the confirming momentum reading, each capped so a
	// single outsized reading can't dominate the allocation.
	divergenceMult := math.Min(math.Abs(sig.Divergence)/0.05, 2.0)
	momentumMult := math.Min(math.Abs(sig.Momentum)/0.005, 1.5)
	notional := available * 0.10 * divergenceMult * momentumMult
	if cap := available * regime.PositionSizeCap(); notional > cap {
		notional = cap
	}
	if notional <= 0 || price <= 0 {
		return nil, nil
	}
	size := decimal.NewFromFloat(notional / price).Truncate(2)
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
		StrategyTag: "momentum",
	}, market.FeeRateBps)
	if err != nil {
		return nil, fmt.Errorf("momentum: build order: %w", err)
	}
	results, err := e.gateway.Submit(ctx, []types.OrderPayload{payload})
	if err != nil {
		return nil, fmt.Errorf("momentum: submit order: %w", err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("momentum: empty submit response")
	}
	result, confirmed := e.gateway.AwaitMarketFill(ctx, results[0].OrderID)
	if !confirmed || result.FilledSize.IsZero() {
		e.logger.Debug("momentum: order did not confirm a fill", "market", market.ID, "side", side)
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
	e.positions.RecordFill(fill, side, "momentum")
	e.logger.Info("momentum: entered position", "market", market.ID, "side", side, "size", result.FilledSize, "momentum", sig.Momentum, "divergence", sig.Divergence)

	pos := types.Position{
		MarketID:      market.ID,
		TokenID:       tokenID,
		Side:          side,
		Size:          result.FilledSize,
		AvgEntryPrice: result.AvgFillPrice,
		StrategyTag:   "momentum",
		OpenedAt:      now,
	}
	return &pos, nil
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
