// Package fill implements the Fill Tracker: a concurrent map of in-flight
// orders to their last-known gateway status, swept periodically to detect
// fills and drop completed entries.
package fill

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"updown-mm/pkg/types"
)

// StatusFetcher is the subset of the Order Gateway Client the tracker needs,
// kept narrow so tests can substitute a fake.
type StatusFetcher interface {
	Status(ctx context.Context, orderID string) (types.OrderResult, error)
}

// entry is one tracked order's last-known state plus bookkeeping for the
// sweep: which strategy/market it belongs to and the size already
// reported as filled, so a partial-fill sequence only emits the delta.
type entry struct {
	orderID       string
	marketID      string
	tokenID       string
	strategyTag   string
	marketSide    types.Side
	side          types.OrderSide
	lastStatus    types.OrderResult
	reportedSize  decimal.Decimal
}

// Tracker maintains a concurrent order-id -> status map, polling the
// gateway on a fixed cadence and publishing newly observed fills.
type Tracker struct {
	mu      sync.Mutex
	entries map[string]*entry
	fetcher StatusFetcher
	logger  *slog.Logger
	fillCh  chan types.Fill
}

// NewTracker creates a Fill Tracker against the given gateway client.
func NewTracker(fetcher StatusFetcher, logger *slog.Logger) *Tracker {
	return &Tracker{
		entries: make(map[string]*entry),
		fetcher: fetcher,
		logger:  logger.With("component", "fill_tracker"),
		fillCh:  make(chan types.Fill, 256),
	}
}

// Fills returns the channel of newly observed fills for the Position Manager.
func (t *Tracker) Fills() <-chan types.Fill { return t.fillCh }

// Track begins watching an order submitted by the Order Gateway Client.
// marketSide is the Yes/No outcome token the order trades, and side is its
// Buy/Sell direction; both are carried forward onto the Fill this order
// eventually produces so the Position Manager can attribute it without the
// caller needing a separate orderID lookup.
func (t *Tracker) Track(orderID, marketID, tokenID, strategyTag string, marketSide types.Side, side types.OrderSide) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[orderID] = &entry{
		orderID:     orderID,
		marketID:    marketID,
		tokenID:     tokenID,
		strategyTag: strategyTag,
		marketSide:  marketSide,
		side:        side,
	}
}

// Open reports the number of orders still being tracked.
func (t *Tracker) Open() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Sweep polls the gateway for every tracked order's status, emits a Fill
// event for any newly observed fill quantity, and drops terminal orders.
// Call on a fixed cadence from the engine.
func (t *Tracker) Sweep(ctx context.Context) {
	t.mu.Lock()
	ids := make([]string, 0, len(t.entries))
	for id := range t.entries {
		ids = append(ids, id)
	}
	t.mu.Unlock()

	for _, id := range ids {
		result, err := t.fetcher.Status(ctx, id)
		if err != nil {
			t.logger.Debug("status poll failed", "order_id", id, "error", err)
			continue
		}
		t.observe(id, result)
	}
}

func (t *Tracker) observe(orderID string, result types.OrderResult) {
	t.mu.Lock()
	e, ok := t.entries[orderID]
	if !ok {
		t.mu.Unlock()
		return
	}
	e.lastStatus = result

	delta := result.FilledSize.Sub(e.reportedSize)
	if delta.IsPositive() {
		e.reportedSize = result.FilledSize
	}
	terminal := result.IsTerminal()
	if terminal {
		delete(t.entries, orderID)
	}
	t.mu.Unlock()

	if delta.IsPositive() {
		select {
		case t.fillCh <- types.Fill{
			OrderID:     orderID,
			TokenID:     e.tokenID,
			MarketID:    e.marketID,
			Side:        e.side,
			MarketSide:  e.marketSide,
			StrategyTag: e.strategyTag,
			Price:       result.AvgFillPrice,
			Size:        delta,
			Timestamp:   time.Now(),
		}:
		default:
			t.logger.Warn("fill channel full, dropping event", "order_id", orderID)
		}
	}
}
