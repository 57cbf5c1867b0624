package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"

	"updown-mm/pkg/types"
)

const (
	refPingInterval = 50 * time.Second
	refReadTimeout  = 90 * time.Second
	refMaxBackoff   = 30 * time.Second
	refWriteTimeout = 10 * time.Second
	priceHistoryCap = 64 // enough history for 30s-velocity windows at sub-second ticks
)

// PriceSample is one observation of the underlying's reference price.
type PriceSample struct {
	Price float64
	At    time.Time
}

// assetState tracks the rolling price history and latest funding/liquidation
// readings for one underlying.
type assetState struct {
	mu          sync.RWMutex
	history     []PriceSample
	fundingBps  float64
	liqWindow   time.Duration
	liquidations []liquidationEvent
}

type liquidationEvent struct {
	NotionalUSD float64 // positive = long liquidated (sell pressure), negative = short liquidated
	At          time.Time
}

func newAssetState(liqWindow time.Duration) *assetState {
	return &assetState{liqWindow: liqWindow}
}

func (a *assetState) addSample(s PriceSample) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = append(a.history, s)
	if len(a.history) > priceHistoryCap {
		a.history = a.history[len(a.history)-priceHistoryCap:]
	}
}

func (a *assetState) setFunding(bps float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fundingBps = bps
}

func (a *assetState) addLiquidation(e liquidationEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.liquidations = append(a.liquidations, e)
	cutoff := time.Now().Add(-a.liqWindow)
	kept := a.liquidations[:0]
	for _, l := range a.liquidations {
		if l.At.After(cutoff) {
			kept = append(kept, l)
		}
	}
	a.liquidations = kept
}

// Latest returns the most recent price sample, or false if none yet.
func (a *assetState) Latest() (PriceSample, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if len(a.history) == 0 {
		return PriceSample{}, false
	}
	return a.history[len(a.history)-1], true
}

// VelocityOver returns (current - price_at(now-horizon)) / price_at(now-horizon),
// using the most recent sample at or before the horizon boundary. Returns false
// if history doesn't reach back far enough.
func (a *assetState) VelocityOver(horizon time.Duration, now time.Time) (float64, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if len(a.history) == 0 {
		return 0, false
	}
	cutoff := now.Add(-horizon)
	cur := a.history[len(a.history)-1].Price

	var ref float64
	found := false
	for i := len(a.history) - 1; i >= 0; i-- {
		if a.history[i].At.Before(cutoff) || a.history[i].At.Equal(cutoff) {
			ref = a.history[i].Price
			found = true
			break
		}
	}
	if !found || ref == 0 {
		return 0, false
	}
	return (cur - ref) / ref, true
}

// FundingBps returns the most recently polled funding rate, in basis points.
func (a *assetState) FundingBps() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.fundingBps
}

// NetLiquidationsUSD sums signed liquidation notional within the window.
func (a *assetState) NetLiquidationsUSD() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var net float64
	for _, l := range a.liquidations {
		net += l.NotionalUSD
	}
	return net
}

// wireTrade is one trade tick from the reference exchange's public stream.
type wireTrade struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	Price     string `json:"p"`
	TradeTime int64  `json:"T"`
}

// wireLiquidation is a forced-liquidation order report.
type wireLiquidation struct {
	EventType string `json:"e"`
	Order     struct {
		Symbol      string `json:"s"`
		Side        string `json:"S"`
		Price       string `json:"p"`
		Quantity    string `json:"q"`
		TradeTime   int64  `json:"T"`
	} `json:"o"`
}

// Reference maintains a streamed spot-price history, polled funding rates,
// and a rolling liquidation-pressure window per tracked asset. It is the
// sole input to the fair-probability model's pct_move and momentum/bias
// detectors.
type Reference struct {
	wsURL      string
	httpClient *resty.Client
	assets     map[types.Asset]*assetState
	logger     *slog.Logger

	connMu sync.Mutex
	conn   *websocket.Conn
}

// NewReference creates a Reference Feed Client for the given assets.
func NewReference(wsURL, fundingBaseURL string, assets []types.Asset, liqWindow time.Duration, logger *slog.Logger) *Reference {
	states := make(map[types.Asset]*assetState, len(assets))
	for _, a := range assets {
		states[a] = newAssetState(liqWindow)
	}
	return &Reference{
		wsURL: wsURL,
		httpClient: resty.New().
			SetBaseURL(fundingBaseURL).
			SetTimeout(10 * time.Second).
			SetRetryCount(2),
		assets: states,
		logger: logger.With("component", "reference_feed"),
	}
}

// State returns the rolling price/funding/liquidation state for an asset.
func (r *Reference) State(a types.Asset) (*assetState, bool) {
	s, ok := r.assets[a]
	return s, ok
}

// CurrentPrice returns the latest streamed price for an asset.
func (r *Reference) CurrentPrice(a types.Asset) (float64, bool) {
	s, ok := r.assets[a]
	if !ok {
		return 0, false
	}
	sample, ok := s.Latest()
	return sample.Price, ok
}

// Run starts the price stream, the funding poller, and blocks until ctx is
// cancelled. Both duties run concurrently; a failure in one does not stop
// the other.
func (r *Reference) Run(ctx context.Context, fundingInterval time.Duration) error {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.runStream(ctx)
	}()
	go func() {
		defer wg.Done()
		r.runFundingPoll(ctx, fundingInterval)
	}()
	wg.Wait()
	return ctx.Err()
}

func (r *Reference) runStream(ctx context.Context) {
	backoff := time.Second
	for {
		err := r.connectAndRead(ctx)
		if ctx.Err() != nil {
			return
		}
		r.logger.Warn("reference stream disconnected, reconnecting", "error", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > refMaxBackoff {
			backoff = refMaxBackoff
		}
	}
}

func (r *Reference) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, r.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	r.connMu.Lock()
	r.conn = conn
	r.connMu.Unlock()
	defer func() {
		r.connMu.Lock()
		conn.Close()
		r.conn = nil
		r.connMu.Unlock()
	}()

	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go r.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(refReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		r.dispatch(msg)
	}
}

func (r *Reference) dispatch(data []byte) {
	var envelope struct {
		EventType string `json:"e"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return
	}

	switch envelope.EventType {
	case "trade", "aggTrade":
		var t wireTrade
		if err := json.Unmarshal(data, &t); err != nil {
			return
		}
		asset, ok := assetFromSymbol(t.Symbol)
		if !ok {
			return
		}
		state, ok := r.assets[asset]
		if !ok {
			return
		}
		price, err := strconv.ParseFloat(t.Price, 64)
		if err != nil {
			return
		}
		state.addSample(PriceSample{Price: price, At: time.UnixMilli(t.TradeTime)})

	case "forceOrder":
		var l wireLiquidation
		if err := json.Unmarshal(data, &l); err != nil {
			return
		}
		asset, ok := assetFromSymbol(l.Order.Symbol)
		if !ok {
			return
		}
		state, ok := r.assets[asset]
		if !ok {
			return
		}
		price, _ := strconv.ParseFloat(l.Order.Price, 64)
		qty, _ := strconv.ParseFloat(l.Order.Quantity, 64)
		notional := price * qty
		if l.Order.Side == "BUY" {
			// a forced BUY liquidates a short position: buy-side pressure
			notional = -notional
		}
		state.addLiquidation(liquidationEvent{NotionalUSD: notional, At: time.UnixMilli(l.Order.TradeTime)})
	}
}

func (r *Reference) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(refPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.connMu.Lock()
			conn := r.conn
			r.connMu.Unlock()
			if conn == nil {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(refWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				r.logger.Warn("reference feed ping failed", "error", err)
				return
			}
		}
	}
}

// fundingResponse is the REST funding-rate response shape.
type fundingResponse struct {
	Symbol      string `json:"symbol"`
	FundingRate string `json:"lastFundingRate"`
}

func (r *Reference) runFundingPoll(ctx context.Context, interval time.Duration) {
	r.pollFunding(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.pollFunding(ctx)
		}
	}
}

func (r *Reference) pollFunding(ctx context.Context) {
	for asset, state := range r.assets {
		var resp fundingResponse
		res, err := r.httpClient.R().
			SetContext(ctx).
			SetQueryParam("symbol", string(asset)+"USDT").
			SetResult(&resp).
			Get("/fundingRate")
		if err != nil || res.StatusCode() != 200 {
			r.logger.Debug("funding poll failed", "asset", asset, "error", err)
			continue
		}
		rate, err := strconv.ParseFloat(resp.FundingRate, 64)
		if err != nil {
			continue
		}
		state.setFunding(rate * 10_000) // fraction -> bps
	}
}

func assetFromSymbol(symbol string) (types.Asset, bool) {
	switch {
	case len(symbol) >= 3 && symbol[:3] == "BTC":
		return types.BTC, true
	case len(symbol) >= 3 && symbol[:3] == "ETH":
		return types.ETH, true
	case len(symbol) >= 3 && symbol[:3] == "SOL":
		return types.SOL, true
	case len(symbol) >= 3 && symbol[:3] == "XRP":
		return types.XRP, true
	default:
		return "", false
	}
}
