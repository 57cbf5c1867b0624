// Package types defines the shared data structures used across all packages.
//
// This is the common vocabulary for the bot — assets, markets, order book
// snapshots, order intents, and the wire-level request/response shapes used
// by the Book Feed, Reference Feed, and Order Gateway collaborators. It has
// no dependencies on internal packages, so it can be imported by any layer.
package types

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Assets, durations, sides
// ————————————————————————————————————————————————————————————————————————

// Asset enumerates the underlyings traded.
type Asset string

const (
	BTC Asset = "BTC"
	ETH Asset = "ETH"
	SOL Asset = "SOL"
	XRP Asset = "XRP"
)

// AnnualVolatility is the asset's constant annualized volatility, used to
// derive per-minute volatility for the fair-probability model.
func (a Asset) AnnualVolatility() float64 {
	switch a {
	case BTC:
		return 0.55
	case ETH:
		return 0.70
	case SOL:
		return 0.95
	case XRP:
		return 0.85
	default:
		return 0.70
	}
}

// minutesPerYear is used to derive per-minute volatility from the annual figure.
const minutesPerYear = 525_600.0

// VolPerMinute is annual volatility divided by sqrt(minutes-per-year).
func (a Asset) VolPerMinute() float64 {
	return a.AnnualVolatility() / math.Sqrt(minutesPerYear)
}

// SlugPrefix is the wire-visible asset prefix, e.g. "btc".
func (a Asset) SlugPrefix() string {
	switch a {
	case BTC:
		return "btc"
	case ETH:
		return "eth"
	case SOL:
		return "sol"
	case XRP:
		return "xrp"
	default:
		return "unknown"
	}
}

// Duration enumerates the supported market lengths.
type Duration string

const (
	FiveMin     Duration = "5m"
	FifteenMin  Duration = "15m"
)

// Seconds is the interval length in seconds.
func (d Duration) Seconds() int64 {
	switch d {
	case FiveMin:
		return 300
	case FifteenMin:
		return 900
	default:
		return 300
	}
}

// Side identifies which outcome token: YES or NO.
type Side string

const (
	Yes Side = "YES"
	No  Side = "NO"
)

// Opposite returns the other outcome token side.
func (s Side) Opposite() Side {
	if s == Yes {
		return No
	}
	return Yes
}

// OrderSide is the direction of an order: BUY or SELL.
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// OrderType enumerates the supported order lifecycle policies.
type OrderType string

const (
	GTC OrderType = "GTC" // good-til-cancelled
	GTD OrderType = "GTD" // good-til-date
	FOK OrderType = "FOK" // fill-or-kill
	FAK OrderType = "FAK" // fill-and-kill (partial OK, remainder cancelled)
)

// IsMarketOrder reports whether this order type is executed immediately
// against resting liquidity rather than resting on the book (FOK and FAK
// both behave this way for tick-rounding purposes).
func (t OrderType) IsMarketOrder() bool {
	return t == FOK || t == FAK
}

// SignatureType identifies the signing scheme for the on-chain exchange contract.
type SignatureType int

const (
	SigEOA        SignatureType = 0 // externally-owned account
	SigProxy      SignatureType = 1 // derived proxy wallet
	SigGnosisSafe SignatureType = 2 // Gnosis Safe multisig
)

// TickSize is the minimum price increment accepted by the exchange.
type TickSize string

const (
	Tick01    TickSize = "0.1"
	Tick001   TickSize = "0.01"
	Tick0001  TickSize = "0.001"
	Tick00001 TickSize = "0.0001"
)

// Decimals returns the number of decimal places for a tick size.
func (t TickSize) Decimals() int {
	switch t {
	case Tick01:
		return 1
	case Tick001:
		return 2
	case Tick0001:
		return 3
	case Tick00001:
		return 4
	default:
		return 2
	}
}

// LifecyclePhase classifies a market's remaining life.
type LifecyclePhase string

const (
	AlphaWindow   LifecyclePhase = "AlphaWindow"
	EarlyArbs     LifecyclePhase = "EarlyArbs"
	PrimeZone     LifecyclePhase = "PrimeZone"
	MaturePhase   LifecyclePhase = "MaturePhase"
	PreResolution LifecyclePhase = "PreResolution"
	Lockout       LifecyclePhase = "Lockout"
	Resolved      LifecyclePhase = "Resolved"
)

// AllowsDirectionalEntry reports whether a strategy may open a new
// directional position in this phase.
func (p LifecyclePhase) AllowsDirectionalEntry() bool {
	switch p {
	case Lockout, Resolved, PreResolution:
		return false
	default:
		return true
	}
}

// ————————————————————————————————————————————————————————————————————————
// Market metadata
// ————————————————————————————————————————————————————————————————————————

// MarketInfo is the internal representation of one binary up/down market.
type MarketInfo struct {
	ID          string // wire-visible market identity
	ConditionID string // on-chain condition identifier
	Slug        string
	Asset       Asset
	Duration    Duration

	YesTokenID string
	NoTokenID  string

	ReferencePrice float64   // underlying price at market open
	IntervalStart  time.Time // open time
	CloseTime      time.Time

	TickSize     TickSize
	MinOrderSize float64
	NegRisk      bool

	Active          bool
	Closed          bool
	AcceptingOrders bool

	BestBid float64
	BestAsk float64
	Spread  float64

	FeeRateBps int  // per-token fee rate, fetched once per new market
	RiskClass  bool // per-token risk-class flag, fetched once per new market
}

// SecondsRemaining returns the seconds left until CloseTime, as of now.
func (m MarketInfo) SecondsRemaining(now time.Time) float64 {
	return m.CloseTime.Sub(now).Seconds()
}

// Phase derives the lifecycle phase from elapsed time since IntervalStart.
func (m MarketInfo) Phase(now time.Time) LifecyclePhase {
	if now.After(m.CloseTime) {
		return Resolved
	}
	elapsed := now.Sub(m.IntervalStart).Seconds()
	var bounds [5]float64
	switch m.Duration {
	case FiveMin:
		bounds = [5]float64{5, 30, 120, 240, 270}
	default: // FifteenMin
		bounds = [5]float64{15, 90, 600, 780, 870}
	}
	switch {
	case elapsed < bounds[0]:
		return AlphaWindow
	case elapsed < bounds[1]:
		return EarlyArbs
	case elapsed < bounds[2]:
		return PrimeZone
	case elapsed < bounds[3]:
		return MaturePhase
	case elapsed < bounds[4]:
		return PreResolution
	default:
		return Lockout
	}
}

// MarketAllocation is emitted by the Book Feed discovery duty to tell the
// engine which markets to track and how they rank relative to one another.
type MarketAllocation struct {
	Market MarketInfo
	Score  float64
}

// ————————————————————————————————————————————————————————————————————————
// Order book
// ————————————————————————————————————————————————————————————————————————

// PriceLevel is a single bid or ask level in the order book.
type PriceLevel struct {
	Price float64
	Size  float64
}

// OrderBookSnapshot is a point-in-time view of one token's order book.
// Bids descend in price, Asks ascend; a zero-size update removes the
// level; crossing is only transient.
type OrderBookSnapshot struct {
	AssetID   string
	Bids      []PriceLevel
	Asks      []PriceLevel
	Hash      string
	Timestamp time.Time
}

// BestBid returns the top bid level, or false if the book side is empty.
func (b OrderBookSnapshot) BestBid() (PriceLevel, bool) {
	if len(b.Bids) == 0 {
		return PriceLevel{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the top ask level, or false if the book side is empty.
func (b OrderBookSnapshot) BestAsk() (PriceLevel, bool) {
	if len(b.Asks) == 0 {
		return PriceLevel{}, false
	}
	return b.Asks[0], true
}

// DepthWithin sums resting size on one side within priceBand of the top of
// book. side is Buy to sum bid depth, Sell to sum ask depth.
func (b OrderBookSnapshot) DepthWithin(side OrderSide, priceBand float64) float64 {
	var levels []PriceLevel
	var top float64
	if side == Buy {
		levels = b.Bids
		if best, ok := b.BestBid(); ok {
			top = best.Price
		} else {
			return 0
		}
	} else {
		levels = b.Asks
		if best, ok := b.BestAsk(); ok {
			top = best.Price
		} else {
			return 0
		}
	}
	var total float64
	for _, lvl := range levels {
		diff := lvl.Price - top
		if diff < 0 {
			diff = -diff
		}
		if diff <= priceBand {
			total += lvl.Size
		}
	}
	return total
}

// ————————————————————————————————————————————————————————————————————————
// Orders
// ————————————————————————————————————————————————————————————————————————

// OrderIntent is a strategy's request to trade, prior to risk checks,
// tick-rounding, and signing.
type OrderIntent struct {
	TokenID     string
	MarketID    string
	MarketSide  Side // YES or NO
	OrderSide   OrderSide
	Price       decimal.Decimal
	Size        decimal.Decimal
	OrderType   OrderType
	PostOnly    bool
	Expiration  int64 // unix seconds, 0 = none
	StrategyTag string
}

// Notional is Price × Size, the dollar value of the intent.
func (o OrderIntent) Notional() decimal.Decimal {
	return o.Price.Mul(o.Size)
}

// SignedOrder is the on-chain typed-data order format the Order Gateway
// expects. MakerAmount/TakerAmount are decimal-string micro-units (×1e6).
type SignedOrder struct {
	Salt          uint64
	Maker         string
	Signer        string
	Taker         string
	TokenID       string
	MakerAmount   string
	TakerAmount   string
	OrderSide     OrderSide
	Expiration    string
	Nonce         string
	FeeRateBps    string
	SignatureType SignatureType
	Signature     string
}

// OrderPayload is the request body for a gateway order submission.
type OrderPayload struct {
	Order     SignedOrder
	Owner     string
	OrderType OrderType
	PostOnly  bool
}

// OrderStatus is the lifecycle state of a submitted order.
type OrderStatus string

const (
	StatusPending         OrderStatus = "Pending"
	StatusOpen            OrderStatus = "Open"
	StatusPartiallyFilled OrderStatus = "PartiallyFilled"
	StatusFilled          OrderStatus = "Filled"
	StatusCancelled       OrderStatus = "Cancelled"
	StatusRejected        OrderStatus = "Rejected"
)

// OrderResult is the gateway's reply to a submission or status query.
type OrderResult struct {
	OrderID       string
	Status        OrderStatus
	FilledSize    decimal.Decimal
	AvgFillPrice  decimal.Decimal
	RemainingSize decimal.Decimal
	Timestamp     time.Time
	ErrorMsg      string
}

// IsTerminal reports whether the order will not receive further fills.
func (r OrderResult) IsTerminal() bool {
	switch r.Status {
	case StatusFilled, StatusCancelled, StatusRejected:
		return true
	default:
		return false
	}
}

// Fill is a single execution reported by the Order Gateway.
type Fill struct {
	OrderID   string
	TokenID   string
	MarketID  string
	Side      OrderSide
	MarketSide Side   // Yes/No token this fill traded, carried from the tracked order
	StrategyTag string // originating strategy, carried from the tracked order
	Price     decimal.Decimal
	Size      decimal.Decimal
	Fee       decimal.Decimal
	Timestamp time.Time
}

// CancelResponse is the gateway's reply to a cancel request.
type CancelResponse struct {
	Cancelled []string
}

// ————————————————————————————————————————————————————————————————————————
// Positions and portfolio
// ————————————————————————————————————————————————————————————————————————

// RestingExit describes the sell order currently protecting an open
// Position, if any.
type RestingExit struct {
	OrderID string
	Price   decimal.Decimal
	Kind    ExitKind
	Attempt int
}

// ExitKind is the escalation label for a resting exit order. Escalation is
// monotonic: none -> tp -> sl -> force, never backwards.
type ExitKind string

const (
	ExitNone  ExitKind = ""
	ExitTP    ExitKind = "tp"
	ExitSL    ExitKind = "sl"
	ExitForce ExitKind = "force"
)

// rank orders ExitKind by escalation level for the "never de-escalate" rule.
func (k ExitKind) rank() int {
	switch k {
	case ExitForce:
		return 3
	case ExitSL:
		return 2
	case ExitTP:
		return 1
	default:
		return 0
	}
}

// Escalates reports whether moving from k to next is a valid (non-reversing)
// transition.
func (k ExitKind) Escalates(next ExitKind) bool {
	return next.rank() > k.rank()
}

// Position is a held quantity of one outcome token under one strategy tag.
type Position struct {
	MarketID      string
	TokenID       string
	Side          Side
	Size          decimal.Decimal
	AvgEntryPrice decimal.Decimal
	StrategyTag   string
	OpenedAt      time.Time
	RestingExit   *RestingExit
}

// CostBasis is AvgEntryPrice × Size.
func (p Position) CostBasis() decimal.Decimal {
	return p.AvgEntryPrice.Mul(p.Size)
}

// StraddlePosition is a balanced YES+NO pair acquired at combined price < 1.
type StraddlePosition struct {
	MarketID    string
	YesSize     decimal.Decimal
	NoSize      decimal.Decimal
	YesAvgPrice decimal.Decimal
	NoAvgPrice  decimal.Decimal
	OpenedAt    time.Time
}

// GuaranteedProfit is min(yes_size, no_size) × (1 − combined entry price).
func (s StraddlePosition) GuaranteedProfit() decimal.Decimal {
	matched := decimal.Min(s.YesSize, s.NoSize)
	combined := s.YesAvgPrice.Add(s.NoAvgPrice)
	one := decimal.NewFromInt(1)
	return matched.Mul(one.Sub(combined))
}

// Imbalance is the absolute excess of one side over the other.
func (s StraddlePosition) Imbalance() decimal.Decimal {
	diff := s.YesSize.Sub(s.NoSize)
	if diff.IsNegative() {
		return diff.Neg()
	}
	return diff
}

// ExcessSide reports which side carries the unmatched excess, if any.
func (s StraddlePosition) ExcessSide() (Side, bool) {
	switch {
	case s.YesSize.GreaterThan(s.NoSize):
		return Yes, true
	case s.NoSize.GreaterThan(s.YesSize):
		return No, true
	default:
		return "", false
	}
}

// Portfolio is the process-wide singleton ledger owned exclusively by the
// Position Manager.
type Portfolio struct {
	Capital           decimal.Decimal
	StartingCapital   decimal.Decimal
	Positions         []Position
	Straddles         []StraddlePosition
	DailyPnL          decimal.Decimal
	TotalPnL          decimal.Decimal
	ConsecutiveLosses int
	TotalTrades       int64
	WinningTrades     int64
}

// TotalExposure sums the cost basis of every open position and straddle.
func (p Portfolio) TotalExposure() decimal.Decimal {
	total := decimal.Zero
	for _, pos := range p.Positions {
		total = total.Add(pos.CostBasis())
	}
	for _, s := range p.Straddles {
		total = total.Add(s.YesSize.Mul(s.YesAvgPrice)).Add(s.NoSize.Mul(s.NoAvgPrice))
	}
	return total
}
