package strategy

import (
	"context"
	"time"

	"updown-mm/pkg/types"
)

// Gateway is the subset of the Order Gateway Client every strategy engine
// needs to place and confirm orders.
type Gateway interface {
	Submit(ctx context.Context, orders []types.OrderPayload) ([]types.OrderResult, error)
	AwaitMarketFill(ctx context.Context, orderID string) (types.OrderResult, bool)
	CancelMarketOrders(ctx context.Context, marketID string) (*types.CancelResponse, error)
}

// Builder is the subset of the Order Builder every strategy engine needs.
type Builder interface {
	Build(intent types.OrderIntent, feeRateBps int) (types.OrderPayload, error)
}

// BookSource is the subset of a token's live book mirror a strategy engine
// reads from to quote or scan.
type BookSource interface {
	Snapshot() types.OrderBookSnapshot
	IsStale(maxAge time.Duration) bool
}

// FillTracker is the subset of the Fill Tracker the maker engine needs to
// register its resting (GTC) quotes for asynchronous fill detection — the
// only strategy that doesn't resolve its orders synchronously via
// Gateway.AwaitMarketFill.
type FillTracker interface {
	Track(orderID, marketID, tokenID, strategyTag string, marketSide types.Side, side types.OrderSide)
}
