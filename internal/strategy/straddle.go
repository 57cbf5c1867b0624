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

const straddleConfidenceScaleFloor = 0.3

// StraddleBiasEngine buys a balanced YES+NO straddle whenever the combined
// ask is cheap enough to guarantee a worst-case profit at resolution, then
// — if the bias detector is confident of a direction — tilts the straddle
// by buying extra of the favored side, trading some of the guaranteed
// profit for directional edge.
type StraddleBiasEngine struct {
	cfg       config.StrategyConfig
	gateway   Gateway
	builder   Builder
	positions *position.Manager
	logger    *slog.Logger
}

// NewStraddleBiasEngine constructs the Straddle+Bias engine.
func NewStraddleBiasEngine(cfg config.StrategyConfig, gateway Gateway, builder Builder, positions *position.Manager, logger *slog.Logger) *StraddleBiasEngine {
	return &StraddleBiasEngine{cfg: cfg, gateway: gateway, builder: builder, positions: positions, logger: logger.With("strategy", "straddle")}
}

// Evaluate checks one market's combined ask against the straddle threshold
// and, if cheap enough, buys the base straddle plus an optional bias tilt.
// Returns nil if no trade was taken.
func (e *StraddleBiasEngine) Evaluate(ctx context.Context, market types.MarketInfo, yesBook, noBook BookSource, biasInputs signal.BiasInputs, confidenceFloor float64, now time.Time) (*types.StraddlePosition, error) {
	if !e.cfg.EnableStraddle {
		return nil, nil
	}

	yesAsk, ok := yesBook.Snapshot().BestAsk()
	if !ok {
		return nil, nil
	}
	noAsk, ok := noBook.Snapshot().BestAsk()
	if !ok {
		return nil, nil
	}
	combined := yesAsk.Price + noAsk.Price
	if combined >= e.cfg.StraddleMaxCombined {
		return nil, nil
	}

	available, _ := e.positions.AvailableCapital().Float64()
	baseNotional := available * e.cfg.StraddleMaxCapitalPct
	baseSize := decimal.NewFromFloat(baseNotional / combined).Truncate(2)
	if baseSize.IsZero() {
		return nil, nil
	}

	yesFilled, yesPrice, err := e.buyLeg(ctx, market, types.Yes, market.YesTokenID, yesAsk.Price, baseSize)
	if err != nil {
		return nil, fmt.Errorf("straddle: yes leg: %w", err)
	}
	noFilled, noPrice, err := e.buyLeg(ctx, market, types.No, market.NoTokenID, noAsk.Price, baseSize)
	if err != nil {
		return nil, fmt.Errorf("straddle: no leg: %w", err)
	}

	bias := signal.ComputeBias(biasInputs, confidenceFloor, now)
	if bias.IsActionable(confidenceFloor) {
		// Guaranteed profit from the base straddle booked above: each share
		// pays $1 at resolution against a combined cost of `combined`.
		guaranteedProfit := (1 - combined) * baseSize.InexactFloat64()
		confidenceScale := (bias.Confidence - confidenceFloor) / (1 - confidenceFloor)
		confidenceScale = math.Max(straddleConfidenceScaleFloor, math.Min(1.0, confidenceScale))

		if favored, ok := bias.FavoredSide(); ok {
			switch favored {
			case "YES":
				depthNotional := yesBook.Snapshot().DepthWithin(types.Sell, 0.01) * yesAsk.Price
				tiltNotional := math.Min(available*e.cfg.BiasMaxCapitalPct, math.Min(3*guaranteedProfit, depthNotional))
				tiltNotional *= confidenceScale
				tiltSize := decimal.NewFromFloat(tiltNotional / yesAsk.Price).Truncate(2)
				if !tiltSize.IsZero() {
					filled, price, err := e.buyLeg(ctx, market, types.Yes, market.YesTokenID, yesAsk.Price, tiltSize)
					if err != nil {
						e.logger.Warn("straddle: bias tilt leg failed", "error", err)
					} else if !filled.IsZero() {
						yesPrice = blendPrice(yesFilled, yesPrice, filled, price)
						yesFilled = yesFilled.Add(filled)
					}
				}
			case "NO":
				depthNotional := noBook.Snapshot().DepthWithin(types.Sell, 0.01) * noAsk.Price
				tiltNotional := math.Min(available*e.cfg.BiasMaxCapitalPct, math.Min(3*guaranteedProfit, depthNotional))
				tiltNotional *= confidenceScale
				tiltSize := decimal.NewFromFloat(tiltNotional / noAsk.Price).Truncate(2)
				if !tiltSize.IsZero() {
					filled, price, err := e.buyLeg(ctx, market, types.No, market.NoTokenID, noAsk.Price, tiltSize)
					if err != nil {
						e.logger.Warn("straddle: bias tilt leg failed", "error", err)
					} else if !filled.IsZero() {
						noPrice = blendPrice(noFilled, noPrice, filled, price)
						noFilled = noFilled.Add(filled)
					}
				}
			}
		}
	}

	straddle := types.StraddlePosition{
		MarketID:    market.ID,
		YesSize:     yesFilled,
		NoSize:      noFilled,
		YesAvgPrice: yesPrice,
		NoAvgPrice:  noPrice,
		OpenedAt:    now,
	}
	e.positions.RecordStraddle(straddle)
	e.logger.Info("straddle: booked", "market", market.ID, "yes_size", yesFilled, "no_size", noFilled, "bias", bias.Direction)

	return &straddle, nil
}

// buyLeg builds, submits, and awaits confirmation of a single FOK buy leg.
func (e *StraddleBiasEngine) buyLeg(ctx context.Context, market types.MarketInfo, side types.Side, tokenID string, price float64, size decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	payload, err := e.builder.Build(types.OrderIntent{
		TokenID:     tokenID,
		MarketID:    market.ID,
		MarketSide:  side,
		OrderSide:   types.Buy,
		Price:       decimal.NewFromFloat(price),
		Size:        size,
		OrderType:   types.FOK,
		StrategyTag: "straddle",
	}, market.FeeRateBps)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	results, err := e.gateway.Submit(ctx, []types.OrderPayload{payload})
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	if len(results) == 0 {
		return decimal.Zero, decimal.Zero, fmt.Errorf("empty submit response")
	}
	result, _ := e.gateway.AwaitMarketFill(ctx, results[0].OrderID)
	return result.FilledSize, result.AvgFillPrice, nil
}

// blendPrice computes the size-weighted average of two fills.
func blendPrice(size1, price1, size2, price2 decimal.Decimal) decimal.Decimal {
	totalSize := size1.Add(size2)
	if totalSize.IsZero() {
		return price1
	}
	totalCost := size1.Mul(price1).Add(size2.Mul(price2))
	return totalCost.Div(totalSize)
}
