package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"updown-mm/internal/config"
	"updown-mm/pkg/types"
)

const (
	batchLimit        = 15
	fillPollAttempts  = 5
	fillPollInterval  = 500 * time.Millisecond
)

// Client is the Order Gateway's REST client: submission, cancellation,
// status, balance, fee-rate, and risk-class queries, all rate-limited,
// retried on 5xx, and authenticated per request.
type Client struct {
	http   *resty.Client
	auth   *Auth
	rl     *RateLimiter
	dryRun bool
	logger *slog.Logger
}

// NewClient creates a gateway REST client.
func NewClient(cfg config.Config, auth *Auth, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.API.GatewayBaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:   httpClient,
		auth:   auth,
		rl:     NewRateLimiter(),
		dryRun: cfg.DryRun,
		logger: logger.With("component", "gateway"),
	}
}

// authHeaders prefers the cheap HMAC L2 path and falls back to a one-off
// L1 signature if no API key is configured yet (e.g. before DeriveAPIKey
// has run, or if the key was revoked mid-session).
func (c *Client) authHeaders(method, path, body string) (map[string]string, error) {
	if c.auth.HasL2Credentials() {
		headers, err := c.auth.L2Headers(method, path, body)
		if err == nil {
			return headers, nil
		}
		c.logger.Warn("L2 auth failed, falling back to L1", "error", err)
	}
	return c.auth.L1Headers(0)
}

// GetOrderBook fetches the order book for a single token.
func (c *Client) GetOrderBook(ctx context.Context, tokenID string) (*types.OrderBookSnapshot, error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return nil, err
	}
	var result types.OrderBookSnapshot
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		SetResult(&result).
		Get("/book")
	if err != nil {
		return nil, fmt.Errorf("get book: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get book: status %d: %s", resp.StatusCode(), resp.String())
	}
	return &result, nil
}

// Submit posts up to batchLimit already-signed orders. In dry-run mode it fakes
// acceptance without any network call, matching the teacher's safe
// default for local iteration.
func (c *Client) Submit(ctx context.Context, orders []types.OrderPayload) ([]types.OrderResult, error) {
	if len(orders) == 0 {
		return nil, nil
	}
	if len(orders) > batchLimit {
		return nil, fmt.Errorf("batch limit is %d orders, got %d", batchLimit, len(orders))
	}
	if c.dryRun {
		c.logger.Info("DRY-RUN: would submit orders", "count", len(orders))
		results := make([]types.OrderResult, len(orders))
		for i := range orders {
			results[i] = types.OrderResult{OrderID: fmt.Sprintf("dry-run-%d", i), Status: types.StatusOpen, Timestamp: time.Now()}
		}
		return results, nil
	}
	if err := c.rl.Order.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(orders)
	if err != nil {
		return nil, fmt.Errorf("marshal orders: %w", err)
	}
	headers, err := c.authHeaders("POST", "/orders", string(body))
	if err != nil {
		return nil, fmt.Errorf("auth headers: %w", err)
	}

	var results []types.OrderResult
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(orders).
		SetResult(&results).
		Post("/orders")
	if err != nil {
		return nil, fmt.Errorf("submit orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("submit orders: status %d: %s", resp.StatusCode(), resp.String())
	}
	return results, nil
}

// AwaitMarketFill polls order status after a market BUY, since the gateway
// confirms a market order's fill asynchronously. If the order is still not
// terminal after fillPollAttempts polls, it returns the last observed result
// and false. No fallback to the signed size is applied, and the order is not
// registered with the Fill Tracker, so a fill that lands after the polling
// window is not observed.
func (c *Client) AwaitMarketFill(ctx context.Context, orderID string) (types.OrderResult, bool) {
	var last types.OrderResult
	for i := 0; i < fillPollAttempts; i++ {
		result, err := c.Status(ctx, orderID)
		if err == nil {
			last = result
			if result.IsTerminal() {
				return result, true
			}
		}
		select {
		case <-ctx.Done():
			return last, false
		case <-time.After(fillPollInterval):
		}
	}
	return last, false
}

// Status fetches the current lifecycle state of a single order.
func (c *Client) Status(ctx context.Context, orderID string) (types.OrderResult, error) {
	headers, err := c.authHeaders("GET", "/order/"+orderID, "")
	if err != nil {
		return types.OrderResult{}, fmt.Errorf("auth headers: %w", err)
	}
	var result types.OrderResult
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Get("/order/" + orderID)
	if err != nil {
		return types.OrderResult{}, fmt.Errorf("get order status: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.OrderResult{}, fmt.Errorf("get order status: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result, nil
}

// Cancel cancels orders by ID.
func (c *Client) Cancel(ctx context.Context, orderIDs []string) (*types.CancelResponse, error) {
	if len(orderIDs) == 0 {
		return &types.CancelResponse{}, nil
	}
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel orders", "count", len(orderIDs))
		return &types.CancelResponse{Cancelled: orderIDs}, nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return nil, err
	}

	body, _ := json.Marshal(map[string][]string{"orderIDs": orderIDs})
	headers, err := c.authHeaders("DELETE", "/orders", string(body))
	if err != nil {
		return nil, fmt.Errorf("auth headers: %w", err)
	}

	var result types.CancelResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		SetResult(&result).
		Delete("/orders")
	if err != nil {
		return nil, fmt.Errorf("cancel orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("cancel orders: status %d: %s", resp.StatusCode(), resp.String())
	}
	c.logger.Info("orders cancelled", "count", len(result.Cancelled))
	return &result, nil
}

// CancelAll cancels every resting order across all markets — the Risk
// Manager's kill-switch response calls this.
func (c *Client) CancelAll(ctx context.Context) (*types.CancelResponse, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel all orders")
		return &types.CancelResponse{}, nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return nil, err
	}
	headers, err := c.authHeaders("DELETE", "/cancel-all", "")
	if err != nil {
		return nil, fmt.Errorf("auth headers: %w", err)
	}
	var result types.CancelResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Delete("/cancel-all")
	if err != nil {
		return nil, fmt.Errorf("cancel all: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("cancel all: status %d: %s", resp.StatusCode(), resp.String())
	}
	c.logger.Warn("all orders cancelled", "count", len(result.Cancelled))
	return &result, nil
}

// CancelMarketOrders cancels all resting orders for a single market,
// called by the Exit Controller before replacing a resting exit order.
func (c *Client) CancelMarketOrders(ctx context.Context, marketID string) (*types.CancelResponse, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel market orders", "market", marketID)
		return &types.CancelResponse{}, nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return nil, err
	}
	body := fmt.Sprintf(`{"market":"%s"}`, marketID)
	headers, err := c.authHeaders("DELETE", "/cancel-market-orders", body)
	if err != nil {
		return nil, fmt.Errorf("auth headers: %w", err)
	}
	var result types.CancelResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		SetResult(&result).
		Delete("/cancel-market-orders")
	if err != nil {
		return nil, fmt.Errorf("cancel market orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("cancel market orders: status %d: %s", resp.StatusCode(), resp.String())
	}
	return &result, nil
}

// Balance fetches the wallet's free collateral balance.
func (c *Client) Balance(ctx context.Context) (decimal.Decimal, error) {
	headers, err := c.authHeaders("GET", "/balance", "")
	if err != nil {
		return decimal.Zero, fmt.Errorf("auth headers: %w", err)
	}
	var result struct {
		Balance string `json:"balance"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Get("/balance")
	if err != nil {
		return decimal.Zero, fmt.Errorf("get balance: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return decimal.Zero, fmt.Errorf("get balance: status %d: %s", resp.StatusCode(), resp.String())
	}
	bal, err := decimal.NewFromString(result.Balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse balance: %w", err)
	}
	return bal, nil
}

// TokenMetadata reports the per-token fee rate and risk class. Nothing in
// the engine calls it: MarketInfo's FeeRateBps and RiskClass are filled from
// the discovery response instead.
func (c *Client) TokenMetadata(ctx context.Context, tokenID string) (feeRateBps int, riskClass bool, err error) {
	var result struct {
		FeeRateBps int  `json:"fee_rate_bps"`
		RiskClass  bool `json:"is_neg_risk_approved"`
	}
	resp, reqErr := c.http.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		SetResult(&result).
		Get("/fee-rate")
	if reqErr != nil {
		return 0, false, fmt.Errorf("get token metadata: %w", reqErr)
	}
	if resp.StatusCode() != http.StatusOK {
		return 0, false, fmt.Errorf("get token metadata: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result.FeeRateBps, result.RiskClass, nil
}

// DeriveAPIKey performs the one-off L1-authenticated handshake that
// derives L2 HMAC credentials, after which Submit/Cancel/Status all use
// the cheap hot-path signature.
func (c *Client) DeriveAPIKey(ctx context.Context) (*Credentials, error) {
	headers, err := c.auth.L1Headers(0)
	if err != nil {
		return nil, fmt.Errorf("l1 headers: %w", err)
	}
	var result Credentials
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Get("/auth/derive-api-key")
	if err != nil {
		return nil, fmt.Errorf("derive api key: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("derive api key: status %d: %s", resp.StatusCode(), resp.String())
	}
	c.auth.SetCredentials(result)
	c.logger.Info("gateway API key derived", "api_key", result.ApiKey)
	return &result, nil
}

// Address returns the signer's EOA address, used by the Order Builder.
func (c *Client) Address() string { return c.auth.Address().Hex() }
