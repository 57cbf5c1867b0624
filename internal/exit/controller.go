// Package exit implements the Exit Controller: per-position take-profit,
// stop-loss, and forced-exit management with a monotonic escalation rule —
// once a resting exit order has escalated to a more urgent kind, the
// controller never retreats to a less urgent one.
package exit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"updown-mm/internal/config"
	"updown-mm/pkg/types"
)

// Gateway is the subset of the Order Gateway Client the controller needs.
type Gateway interface {
	CancelMarketOrders(ctx context.Context, marketID string) (*types.CancelResponse, error)
	Submit(ctx context.Context, orders []types.OrderPayload) ([]types.OrderResult, error)
}

// Builder is the subset of the Order Builder the controller needs.
type Builder interface {
	Build(intent types.OrderIntent, feeRateBps int) (types.OrderPayload, error)
}

// FillTracker registers a resting exit order for asynchronous fill
// detection. Like the maker's resting quotes, an exit order posted as a GTC
// limit (tp/sl) or submitted as a market order (force) doesn't resolve
// synchronously, so the Fill Tracker's sweep is the only thing that will
// ever observe the fill and let the Position Manager close out the ledger.
type FillTracker interface {
	Track(orderID, marketID, tokenID, strategyTag string, marketSide types.Side, side types.OrderSide)
}

// Controller evaluates every open directional position each tick and
// escalates its resting exit order as the position ages or moves against
// it. Straddle positions are excluded — they resolve via RecordResolution
// rather than an active exit, since either outcome is already profitable.
type Controller struct {
	cfg     config.ExitConfig
	gateway Gateway
	builder Builder
	tracker FillTracker
	logger  *slog.Logger
}

// NewController creates an Exit Controller. tracker registers every
// submitted exit order so its eventual fill is detected the same way the
// maker's resting quotes are, closing the position out of the ledger.
func NewController(cfg config.ExitConfig, gateway Gateway, builder Builder, tracker FillTracker, logger *slog.Logger) *Controller {
	return &Controller{cfg: cfg, gateway: gateway, builder: builder, tracker: tracker, logger: logger.With("component", "exit")}
}

// desiredExit computes which exit kind a position currently warrants,
// given its entry price, current mark, and the market's remaining life:
//   - force:  remaining life has dropped below the force-exit threshold,
//     or the position has been held past the max-hold cap
//   - sl:     pct change has fallen to/below -stop_loss_pct, or remaining
//     life has dropped below pre_resolve_exit_secs while still up more
//     than 2% (lock in a gain rather than ride it to expiry)
//   - tp:     otherwise, a standing limit sell at the take-profit target
func (c *Controller) desiredExit(entryPrice, currentMark float64, remainingSecs float64, heldSecs float64) types.ExitKind {
	if remainingSecs < float64(c.cfg.ForceExitRemaining) || heldSecs >= float64(c.cfg.MaxHoldSecs) {
		return types.ExitForce
	}

	pctChange := 0.0
	if entryPrice != 0 {
		pctChange = (currentMark - entryPrice) / entryPrice
	}

	if pctChange <= -c.cfg.StopLossPct {
		return types.ExitSL
	}
	if remainingSecs < float64(c.cfg.PreResolveExitSecs) && pctChange > 0.02 {
		return types.ExitSL // lock in gains ahead of resolution risk
	}
	return types.ExitTP
}

// takeProfitPrice computes the standing TP limit price: entry scaled up by
// take_profit_pct, rounded to the cent, capped at 0.99 so the order always
// remains inside valid price bounds.
func (c *Controller) takeProfitPrice(entryPrice float64) decimal.Decimal {
	target := entryPrice * (1 + c.cfg.TakeProfitPct)
	price := decimal.NewFromFloat(target).Round(2)
	cap99 := decimal.NewFromFloat(0.99)
	if price.GreaterThan(cap99) {
		price = cap99
	}
	return price
}

// Evaluate runs one exit-control tick for a single open position. market
// supplies remaining life; currentMark is the position token's current
// mid/best price. It returns the position's RestingExit as it should be
// after this tick — the caller (engine) persists this back onto the
// Position Manager's record.
func (c *Controller) Evaluate(ctx context.Context, pos types.Position, market types.MarketInfo, currentMark float64, now_remainingSecs, heldSecs float64, feeRateBps int) (*types.RestingExit, error) {
	entryPrice, _ := pos.AvgEntryPrice.Float64()
	desired := c.desiredExit(entryPrice, currentMark, now_remainingSecs, heldSecs)

	current := types.ExitNone
	attempt := 0
	if pos.RestingExit != nil {
		current = pos.RestingExit.Kind
		attempt = pos.RestingExit.Attempt
	}

	if !current.Escalates(desired) && current != types.ExitNone {
		// Already at or past the desired urgency; leave the resting order
		// alone — never de-escalate.
		return pos.RestingExit, nil
	}
	if current == desired {
		return pos.RestingExit, nil
	}

	if pos.RestingExit != nil {
		if _, err := c.gateway.CancelMarketOrders(ctx, pos.MarketID); err != nil {
			return pos.RestingExit, fmt.Errorf("cancel resting exit: %w", err)
		}
	}

	var price decimal.Decimal
	orderType := types.GTC
	switch desired {
	case types.ExitForce:
		// Sell at the 0.01 minimum price so the order crosses any resting bid.
		orderType = types.FOK
		price = decimal.NewFromFloat(0.01)
	case types.ExitSL:
		// Half the current mark, never below the 0.01 minimum price.
		price = decimal.NewFromFloat(currentMark * 0.5).Round(2)
		if minPrice := decimal.NewFromFloat(0.01); price.LessThan(minPrice) {
			price = minPrice
		}
	case types.ExitTP:
		price = c.takeProfitPrice(entryPrice)
	}

	intent := types.OrderIntent{
		TokenID:     pos.TokenID,
		MarketID:    pos.MarketID,
		MarketSide:  pos.Side,
		OrderSide:   types.Sell,
		Price:       price,
		Size:        pos.Size,
		OrderType:   orderType,
		StrategyTag: pos.StrategyTag,
	}

	payload, err := c.builder.Build(intent, feeRateBps)
	if err != nil {
		return pos.RestingExit, fmt.Errorf("build exit order: %w", err)
	}

	results, err := c.gateway.Submit(ctx, []types.OrderPayload{payload})
	if err != nil {
		return pos.RestingExit, fmt.Errorf("submit exit order: %w", err)
	}
	if len(results) == 0 {
		return pos.RestingExit, fmt.Errorf("submit exit order: empty response")
	}

	c.tracker.Track(results[0].OrderID, pos.MarketID, pos.TokenID, pos.StrategyTag, pos.Side, types.Sell)
	c.logger.Info("exit escalated", "market", pos.MarketID, "from", current, "to", desired, "price", price)

	return &types.RestingExit{
		OrderID: results[0].OrderID,
		Price:   price,
		Kind:    desired,
		Attempt: attempt + 1,
	}, nil
}
