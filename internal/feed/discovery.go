// Package feed implements the Reference Feed Client (external spot/funding
// price) and Book Feed Client (exchange discovery, order book mirroring and
// streaming) that together keep the engine's market and price state current.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/go-resty/resty/v2"

	"updown-mm/internal/config"
	"updown-mm/internal/market"
	"updown-mm/pkg/types"
)

// GatewayMarket is the JSON shape of one market as returned by the
// exchange's discovery endpoint when queried by slug.
type GatewayMarket struct {
	ID                    string  `json:"id"`
	ConditionID           string  `json:"condition_id"`
	Slug                  string  `json:"slug"`
	Active                bool    `json:"active"`
	Closed                bool    `json:"closed"`
	AcceptingOrders       bool    `json:"accepting_orders"`
	EndDateISO            string  `json:"end_date_iso"`
	Liquidity             float64 `json:"liquidity"`
	Volume24hr            float64 `json:"volume_24hr"`
	ClobTokenIds          []string `json:"clob_token_ids"`
	NegRisk               bool    `json:"neg_risk"`
	Spread                float64 `json:"spread"`
	BestBid               float64 `json:"best_bid"`
	BestAsk               float64 `json:"best_ask"`
	OrderPriceMinTickSize float64 `json:"order_price_min_tick_size"`
	OrderMinSize          float64 `json:"order_min_size"`
	FeeRateBps            int     `json:"fee_rate_bps"`
	RiskClass             bool    `json:"is_neg_risk_approved"`
}

// Discovery periodically resolves candidate up/down market slugs against
// the exchange and ranks the active set by opportunity quality:
//
//	score = spread * sqrt(volume24h) * min(liquidity/10000, 1)
type Discovery struct {
	http     *resty.Client
	cfg      config.ScannerConfig
	assets   []types.Asset
	durations []types.Duration
	logger   *slog.Logger
	resultCh chan []types.MarketAllocation
}

// NewDiscovery creates a Book Feed discovery client pointed at the
// exchange's discovery endpoint.
func NewDiscovery(baseURL string, cfg config.ScannerConfig, assets []types.Asset, durations []types.Duration, logger *slog.Logger) *Discovery {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second)

	return &Discovery{
		http:      client,
		cfg:       cfg,
		assets:    assets,
		durations: durations,
		logger:    logger.With("component", "discovery"),
		resultCh:  make(chan []types.MarketAllocation, 1),
	}
}

// Results returns the channel the engine reads ranked market allocations from.
func (d *Discovery) Results() <-chan []types.MarketAllocation { return d.resultCh }

// Run polls on cfg.PollInterval, enumerating two past, the current, and two
// future intervals for every tracked asset/duration pair. Blocks until ctx
// is cancelled.
func (d *Discovery) Run(ctx context.Context) {
	d.poll(ctx)

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.poll(ctx)
		}
	}
}

func (d *Discovery) poll(ctx context.Context) {
	now := time.Now().Unix()
	var candidates []types.MarketAllocation

	for _, asset := range d.assets {
		for _, dur := range d.durations {
			for _, intervalStart := range market.EnumerateIntervals(dur, now, 2, 2) {
				slug := market.Slug(asset, dur, intervalStart)
				gm, err := d.fetchBySlug(ctx, slug)
				if err != nil {
					d.logger.Debug("slug not yet resolvable", "slug", slug, "error", err)
					continue
				}
				info := d.convert(gm, asset, dur, intervalStart)
				if !d.passesFilters(gm, info) {
					continue
				}
				score := market.Score(info.Spread, gm.Volume24hr, gm.Liquidity)
				candidates = append(candidates, types.MarketAllocation{Market: info, Score: score})
			}
		}
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })

	select {
	case d.resultCh <- candidates:
	default:
		select {
		case <-d.resultCh:
		default:
		}
		d.resultCh <- candidates
	}
}

func (d *Discovery) fetchBySlug(ctx context.Context, slug string) (GatewayMarket, error) {
	var gm GatewayMarket
	resp, err := d.http.R().
		SetContext(ctx).
		SetQueryParam("slug", slug).
		SetResult(&gm).
		Get("/markets")
	if err != nil {
		return GatewayMarket{}, fmt.Errorf("fetch %s: %w", slug, err)
	}
	if resp.StatusCode() != 200 {
		return GatewayMarket{}, fmt.Errorf("fetch %s: status %d", slug, resp.StatusCode())
	}
	return gm, nil
}

func (d *Discovery) passesFilters(gm GatewayMarket, m types.MarketInfo) bool {
	if !m.Active || m.Closed || !m.AcceptingOrders {
		return false
	}
	if gm.Liquidity < d.cfg.MinLiquidity {
		return false
	}
	if gm.Volume24hr < d.cfg.MinVolume24h {
		return false
	}
	if m.Spread < d.cfg.MinSpread {
		return false
	}
	for _, excluded := range d.cfg.ExcludeSlugs {
		if m.Slug == excluded {
			return false
		}
	}
	return m.YesTokenID != "" && m.NoTokenID != ""
}

func (d *Discovery) convert(gm GatewayMarket, asset types.Asset, dur types.Duration, intervalStart int64) types.MarketInfo {
	var yesToken, noToken string
	if len(gm.ClobTokenIds) >= 2 {
		yesToken, noToken = gm.ClobTokenIds[0], gm.ClobTokenIds[1]
	}

	var tick types.TickSize
	switch gm.OrderPriceMinTickSize {
	case 0.1:
		tick = types.Tick01
	case 0.001:
		tick = types.Tick0001
	case 0.0001:
		tick = types.Tick00001
	default:
		tick = types.Tick001
	}

	return types.MarketInfo{
		ID:              gm.ID,
		ConditionID:      gm.ConditionID,
		Slug:            gm.Slug,
		Asset:           asset,
		Duration:        dur,
		YesTokenID:      yesToken,
		NoTokenID:       noToken,
		IntervalStart:   time.Unix(intervalStart, 0).UTC(),
		CloseTime:       time.Unix(intervalStart+dur.Seconds(), 0).UTC(),
		TickSize:        tick,
		MinOrderSize:    gm.OrderMinSize,
		NegRisk:         gm.NegRisk,
		Active:          gm.Active,
		Closed:          gm.Closed,
		AcceptingOrders: gm.AcceptingOrders,
		BestBid:         gm.BestBid,
		BestAsk:         gm.BestAsk,
		Spread:          gm.Spread,
		FeeRateBps:      gm.FeeRateBps,
		RiskClass:       gm.RiskClass,
	}
}
