package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"updown-mm/internal/config"
	"updown-mm/internal/position"
	"updown-mm/internal/signal"
	"updown-mm/pkg/types"
)

// bookDepthSource adapts a BookSource to signal.DepthSource.
type bookDepthSource struct{ book BookSource }

func (d bookDepthSource) BestAskPrice() (float64, bool) {
	lvl, ok := d.book.Snapshot().BestAsk()
	return lvl.Price, ok
}

func (d bookDepthSource) DepthWithinOfTopAsk(band float64) float64 {
	return d.book.Snapshot().DepthWithin(types.Sell, band)
}

// ArbEngine is the Pure Arbitrage strategy: whenever a market's YES ask and
// NO ask sum to less than $1 by more than the current regime's minimum
// edge, it buys both legs simultaneously with FAK orders, locking a
// matched straddle at a guaranteed profit.
type ArbEngine struct {
	cfg       config.StrategyConfig
	gateway   Gateway
	builder   Builder
	positions *position.Manager
	logger    *slog.Logger
}

// NewArbEngine constructs the Pure Arbitrage engine.
func NewArbEngine(cfg config.StrategyConfig, gateway Gateway, builder Builder, positions *position.Manager, logger *slog.Logger) *ArbEngine {
	return &ArbEngine{cfg: cfg, gateway: gateway, builder: builder, positions: positions, logger: logger.With("strategy", "arb")}
}

// Evaluate scans one market's YES/NO books for a combined-price edge and,
// if profitable and capital allows, fires both legs. Returns nil if no
// trade was taken.
func (e *ArbEngine) Evaluate(ctx context.Context, market types.MarketInfo, yesBook, noBook BookSource, regime signal.Regime, now time.Time) (*types.StraddlePosition, error) {
	if !e.cfg.EnableArb {
		return nil, nil
	}

	sig := signal.ScanArb(bookDepthSource{yesBook}, bookDepthSource{noBook}, regime, e.cfg.ArbMinExpectedProfit, now)
	if sig == nil || !sig.IsProfitable(regime.ArbMinEdge(), e.cfg.ArbMinExpectedProfit) {
		return nil, nil
	}

	available, _ := e.positions.AvailableCapital().Float64()
	maxNotional := available * position.CapitalTierFraction(available)
	size := sig.ExecutableSize
	if cost := size * sig.Combined; cost > maxNotional && sig.Combined > 0 {
		size = maxNotional / sig.Combined
	}
	if size <= 0 {
		return nil, nil
	}
	sizeDec := decimal.NewFromFloat(size).Truncate(2)
	if sizeDec.IsZero() {
		return nil, nil
	}

	yesPayload, err := e.builder.Build(types.OrderIntent{
		TokenID:     market.YesTokenID,
		MarketID:    market.ID,
		MarketSide:  types.Yes,
		OrderSide:   types.Buy,
		Price:       decimal.NewFromFloat(sig.YesAsk),
		Size:        sizeDec,
		OrderType:   types.FAK,
		StrategyTag: "arb",
	}, market.FeeRateBps)
	if err != nil {
		return nil, fmt.Errorf("arb: build yes leg: %w", err)
	}
	noPayload, err := e.builder.Build(types.OrderIntent{
		TokenID:     market.NoTokenID,
		MarketID:    market.ID,
		MarketSide:  types.No,
		OrderSide:   types.Buy,
		Price:       decimal.NewFromFloat(sig.NoAsk),
		Size:        sizeDec,
		OrderType:   types.FAK,
		StrategyTag: "arb",
	}, market.FeeRateBps)
	if err != nil {
		return nil, fmt.Errorf("arb: build no leg: %w", err)
	}

	results, err := e.gateway.Submit(ctx, []types.OrderPayload{yesPayload, noPayload})
	if err != nil {
		return nil, fmt.Errorf("arb: submit both legs: %w", err)
	}
	if len(results) != 2 {
		return nil, fmt.Errorf("arb: expected 2 results, got %d", len(results))
	}

	yesResult, yesConfirmed := e.gateway.AwaitMarketFill(ctx, results[0].OrderID)
	noResult, noConfirmed := e.gateway.AwaitMarketFill(ctx, results[1].OrderID)
	if !yesConfirmed || !noConfirmed || yesResult.FilledSize.IsZero() || noResult.FilledSize.IsZero() {
		e.logger.Warn("arb: one or both legs did not confirm a fill, position may be unmatched",
			"market", market.ID, "yes_filled", yesResult.FilledSize, "no_filled", noResult.FilledSize)
	}

	straddle := types.StraddlePosition{
		MarketID:    market.ID,
		YesSize:     yesResult.FilledSize,
		NoSize:      noResult.FilledSize,
		YesAvgPrice: yesResult.AvgFillPrice,
		NoAvgPrice:  noResult.AvgFillPrice,
		OpenedAt:    now,
	}
	e.positions.RecordStraddle(straddle)
	e.logger.Info("arb: matched straddle booked", "market", market.ID, "combined", sig.Combined, "edge", sig.Edge, "size", sizeDec)

	return &straddle, nil
}
