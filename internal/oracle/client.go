// Package oracle consumes the external fair-value signal for the
// configured market, in either poll or push mode, and exposes the latest
// valid OracleSignal to the decision loop.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"polytaker/internal/config"
	"polytaker/pkg/types"
)

// ErrMalformedSignal is returned when yes_probability + no_probability
// drifts from 1 by more than epsilon_sum, or confidence is negative.
var ErrMalformedSignal = errors.New("malformed oracle signal")

const signalQueueSize = 32

// Client polls or streams the oracle and tracks the latest valid signal.
// Poll mode issues a GET on PollInterval cadence with a per-request
// timeout of half the interval. Push mode holds a WebSocket connection
// open and treats every received frame as one signal object.
type Client struct {
	cfg    config.OracleConfig
	http   *resty.Client
	logger *slog.Logger

	mu           sync.RWMutex
	latest       types.OracleSignal
	latestAt     time.Time
	haveSignal   bool
	signalCh     chan types.OracleSignal // bounded, drop-oldest on overflow
}

// NewClient creates an oracle client for the given config.
func NewClient(cfg config.Config, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetTimeout(cfg.Oracle.PollInterval / 2).
		SetRetryCount(0) // a failed poll just waits for the next tick; no retry budget for a hot-path signal

	return &Client{
		cfg:      cfg.Oracle,
		http:     httpClient,
		logger:   logger.With("component", "oracle"),
		signalCh: make(chan types.OracleSignal, signalQueueSize),
	}
}

// Signals returns the drop-oldest signal queue. The decision loop doesn't
// need to drain this — Latest() is what it consults — but nothing
// discards a parsed signal silently without first offering it here.
func (c *Client) Signals() <-chan types.OracleSignal {
	return c.signalCh
}

// Latest returns the most recently accepted signal and its receipt time.
func (c *Client) Latest() (types.OracleSignal, time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latest, c.latestAt, c.haveSignal
}

// Run starts the poll or push loop. Blocks until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	switch c.cfg.Mode {
	case "push":
		return c.runPush(ctx)
	default:
		return c.runPoll(ctx)
	}
}

func (c *Client) runPoll(ctx context.Context) error {
	c.poll(ctx)

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.poll(ctx)
		}
	}
}

func (c *Client) poll(ctx context.Context) {
	var sig types.OracleSignal
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&sig).
		Get(c.cfg.URL)
	if err != nil {
		c.logger.Warn("oracle poll failed", "error", err)
		return
	}
	if resp.StatusCode() != 200 {
		c.logger.Warn("oracle poll non-200", "status", resp.StatusCode())
		return
	}
	c.accept(sig)
}

func (c *Client) runPush(ctx context.Context) error {
	const (
		initBackoff = 100 * time.Millisecond
		maxBackoff  = 30 * time.Second
	)
	backoff := initBackoff

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
		if err != nil {
			c.logger.Warn("oracle ws dial failed", "error", err, "backoff", backoff)
			if !sleepOrDone(ctx, backoff) {
				return ctx.Err()
			}
			backoff = minDuration(backoff*2, maxBackoff)
			continue
		}
		backoff = initBackoff

		err = c.readPushLoop(ctx, conn)
		conn.Close()
		if errors.Is(err, context.Canceled) {
			return err
		}
		c.logger.Warn("oracle ws connection lost, reconnecting", "error", err)
		if !sleepOrDone(ctx, backoff) {
			return ctx.Err()
		}
	}
}

func (c *Client) readPushLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		var sig types.OracleSignal
		if err := json.Unmarshal(data, &sig); err != nil {
			c.logger.Warn("oracle push frame unparseable", "error", err)
			continue
		}
		c.accept(sig)
	}
}

// accept validates and, if valid, records the signal as latest and offers
// it on the queue (dropping the oldest queued entry on overflow — the
// queue exists so no parsed signal is silently discarded, but only the
// latest is materially consulted by the decision loop).
func (c *Client) accept(sig types.OracleSignal) {
	if err := validate(sig, c.cfg.EpsilonSum, c.cfg.MaxSkew); err != nil {
		c.logger.Warn("oracle signal rejected", "error", err, "match_id", sig.MatchID)
		return
	}

	c.mu.Lock()
	c.latest = sig
	c.latestAt = time.Now()
	c.haveSignal = true
	c.mu.Unlock()

	select {
	case c.signalCh <- sig:
	default:
		select {
		case <-c.signalCh:
		default:
		}
		select {
		case c.signalCh <- sig:
		default:
		}
	}
}

func validate(sig types.OracleSignal, epsilonSum float64, maxSkew time.Duration) error {
	if sig.Confidence.IsNegative() {
		return fmt.Errorf("%w: negative confidence %s", ErrMalformedSignal, sig.Confidence)
	}
	sum := sig.YesProbability.Add(sig.NoProbability)
	dev := sum.Sub(decimal.NewFromInt(1)).Abs()
	eps := decimal.NewFromFloat(epsilonSum)
	if dev.GreaterThan(eps) {
		return fmt.Errorf("%w: yes+no=%s deviates from 1 by %s > epsilon %s",
			ErrMalformedSignal, sum, dev, eps)
	}
	if sig.TsMs > 0 {
		published := time.UnixMilli(sig.TsMs)
		if skew := time.Since(published); skew.Abs() > maxSkew {
			return fmt.Errorf("%w: ts_ms=%d skewed from wall clock by %s > max_skew %s",
				ErrMalformedSignal, sig.TsMs, skew, maxSkew)
		}
	}
	return nil
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
