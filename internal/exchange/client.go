// Package exchange implements the Polymarket CLOB REST and WebSocket clients.
//
// The REST client (Client) talks to the Polymarket CLOB API for order management:
//   - GetOrderBook:       GET  /book                    — fetch L2 book for a token
//   - SubmitOrder:        POST /order                   — place a single signed FOK/GTD order
//   - CancelAll:          DELETE /cancel-all             — cancel every open order across markets
//   - CancelMarketOrders: DELETE /cancel-market-orders   — safety-net cancel for one market
//   - DeriveAPIKey:       GET  /auth/derive-api-key      — bootstrap L2 creds from L1 wallet
//
// Book, order and cancel requests are rate-limited via per-category
// TokenBuckets. Order and cancel requests carry L2 HMAC headers, book reads
// are unauthenticated, and DeriveAPIKey uses L1 (EIP-712) headers and takes
// no rate-limit token. Only GetOrderBook retries on
// transport error or 5xx — it's idempotent. Mutating calls (above all
// SubmitOrder) never retry: a retried IOC/FAK order risks double-execution.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"polytaker/internal/config"
	"polytaker/pkg/types"
)

// Client is the Polymarket CLOB REST API client.
// It wraps two resty HTTP clients sharing the same base URL/timeout: one
// retrying (bookHTTP, for the idempotent /book GET only) and one that
// never retries (http, for every mutating call — order submit and both
// cancel endpoints). Splitting them at the client level, rather than
// trying to override retry per-request, makes it structurally impossible
// for a mutating call to pick up the retry policy by accident.
type Client struct {
	http     *resty.Client // no retry — order/cancel/auth calls
	bookHTTP *resty.Client // retries on transport error or 5xx — /book is a pure read
	auth     *Auth         // L1/L2 auth provider for request signing
	rl       *RateLimiter  // per-endpoint-category rate limiting
	dryRun   bool          // when true, mutating methods return fake success without HTTP calls
	logger   *slog.Logger
}

// NewClient creates a REST client with rate limiting. Only bookHTTP
// carries a retry policy. Mutating calls — above all SubmitOrder's POST
// /order — must never retry on transport error or 5xx, since a retried
// IOC/FAK submission risks double-execution if the first attempt actually
// reached the matching engine.
func NewClient(cfg config.Config, auth *Auth, logger *slog.Logger) *Client {
	base := func() *resty.Client {
		return resty.New().
			SetBaseURL(cfg.API.CLOBBaseURL).
			SetTimeout(10 * time.Second).
			SetHeader("Content-Type", "application/json")
	}

	bookHTTP := base().
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})

	return &Client{
		http:     base(),
		bookHTTP: bookHTTP,
		auth:     auth,
		rl:       NewRateLimiter(),
		dryRun:   cfg.DryRun,
		logger:   logger,
	}
}

// GetOrderBook fetches the order book for a single token. Safe to retry —
// it's a read with no side effects — so this goes through bookHTTP,
// unlike every mutating call below which uses the non-retrying http client.
func (c *Client) GetOrderBook(ctx context.Context, tokenID string) (*types.BookResponse, error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return nil, err
	}

	var result types.BookResponse
	resp, err := c.bookHTTP.R().
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

// SubmitOutcome is the terminal, wire-level outcome of a single-order
// submission — ambiguous results (network error, timeout) are distinguished
// from unambiguous ones (acked, rejected) so the submitter never retries
// an order that may have already reached the matching engine.
type SubmitOutcome int

const (
	// SubmitAcked means the exchange accepted and processed the order
	// (it may still have filled zero, partially, or fully — the fill
	// tracker determines that from subsequent user-channel events).
	SubmitAcked SubmitOutcome = iota
	// SubmitRejected means the exchange unambiguously refused the order
	// before processing it (bad signature, insufficient balance, etc).
	// Safe to release the in-flight slot without waiting for a fill event.
	SubmitRejected
	// SubmitAmbiguous means the request may or may not have reached the
	// exchange (timeout, connection reset). The in-flight slot must stay
	// held until a user-channel event resolves it, or the inflight
	// timeout forces a release.
	SubmitAmbiguous
)

// SubmitResult carries the outcome plus whatever the exchange returned.
type SubmitResult struct {
	Outcome  SubmitOutcome
	Response *types.OrderResponse
	Err      error
}

// SubmitOrder signs and places a single FOK/GTD order. It never retries —
// IOC-style orders are not safe to resubmit blindly, since a successful
// but slow-to-acknowledge submission followed by a retry could double the
// intended exposure.
func (c *Client) SubmitOrder(ctx context.Context, order types.FakOrder, feeRateBps int) SubmitResult {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would submit order",
			"token_id", order.TokenID, "side", order.Side,
			"price", order.LimitPrice.String(), "size", order.Size.String(),
			"order_type", order.OrderType)
		return SubmitResult{
			Outcome:  SubmitAcked,
			Response: &types.OrderResponse{Success: true, OrderID: "dry-run-" + order.ClientNonce, Status: "matched"},
		}
	}

	signed, err := c.auth.BuildSignedOrder(order, feeRateBps)
	if err != nil {
		return SubmitResult{Outcome: SubmitRejected, Err: fmt.Errorf("build signed order: %w", err)}
	}

	payload := types.OrderPayload{
		Order:     *signed,
		Owner:     c.auth.creds.ApiKey,
		OrderType: order.OrderType,
	}

	if err := c.rl.Order.Wait(ctx); err != nil {
		return SubmitResult{Outcome: SubmitRejected, Err: fmt.Errorf("rate limit wait: %w", err)}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return SubmitResult{Outcome: SubmitRejected, Err: fmt.Errorf("marshal order: %w", err)}
	}
	headers, err := c.auth.L2Headers("POST", "/order", string(body))
	if err != nil {
		return SubmitResult{Outcome: SubmitRejected, Err: fmt.Errorf("l2 headers: %w", err)}
	}

	var result types.OrderResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		SetResult(&result).
		Post("/order")
	if err != nil {
		// Network error / timeout: the exchange may or may not have
		// received the order. Do not assume either way.
		return SubmitResult{Outcome: SubmitAmbiguous, Err: fmt.Errorf("post order: %w", err)}
	}
	if resp.StatusCode() >= 500 {
		return SubmitResult{Outcome: SubmitAmbiguous, Err: fmt.Errorf("post order: status %d: %s", resp.StatusCode(), resp.String())}
	}
	if resp.StatusCode() != http.StatusOK || !result.Success {
		return SubmitResult{Outcome: SubmitRejected, Response: &result, Err: fmt.Errorf("post order rejected: status %d: %s", resp.StatusCode(), result.ErrorMsg)}
	}

	return SubmitResult{Outcome: SubmitAcked, Response: &result}
}

// CancelAll cancels every open order across all markets. The engine does
// not call it: its shutdown safety net is CancelMarketOrders, scoped to the
// configured market.
func (c *Client) CancelAll(ctx context.Context) (*types.CancelResponse, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel all orders")
		return &types.CancelResponse{}, nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return nil, err
	}

	headers, err := c.auth.L2Headers("DELETE", "/cancel-all", "")
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
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

	c.logger.Warn("all orders cancelled", "count", len(result.Canceled))
	return &result, nil
}

// CancelMarketOrders cancels all orders for the configured market.
func (c *Client) CancelMarketOrders(ctx context.Context, conditionID string) (*types.CancelResponse, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel market orders", "market", conditionID)
		return &types.CancelResponse{}, nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return nil, err
	}

	body := fmt.Sprintf(`{"market":"%s"}`, conditionID)
	headers, err := c.auth.L2Headers("DELETE", "/cancel-market-orders", body)
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
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

// DeriveAPIKey derives L2 API credentials via L1 authentication.
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
	c.logger.Info("API key derived", "api_key", result.ApiKey)
	return &result, nil
}
