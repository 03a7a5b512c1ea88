// filltracker.go consumes the user WebSocket channel and turns trade/order
// lifecycle events into Fill updates for the Position Gate, releasing the
// single-flight in-flight slot once an order's outcome is terminal.
package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"polytaker/pkg/types"
)

// Gate is the subset of risk.Gate the fill tracker needs. Declared locally
// to avoid an import cycle (risk does not depend on exchange).
type Gate interface {
	ApplyFill(fill types.Fill)
	ReleaseInflight()
}

// FillTracker reads trade and order events off a user-channel WSFeed and
// applies them to the Position Gate. It holds no book state of its own —
// a trade event becomes an ApplyFill call (plus ReleaseInflight when its
// status is terminal), a CANCELLED or EXPIRED order event becomes a
// ReleaseInflight call, and other order events change nothing.
type FillTracker struct {
	feed     *WSFeed
	gate     Gate
	onUpdate func() // called after every gate mutation, so the caller can persist
	logger   *slog.Logger
}

// NewFillTracker creates a fill tracker bound to the given user feed and gate.
// onUpdate may be nil; when set, it's called after every fill or release so
// the caller can persist the position (e.g. store.SavePosition).
func NewFillTracker(feed *WSFeed, gate Gate, onUpdate func(), logger *slog.Logger) *FillTracker {
	return &FillTracker{feed: feed, gate: gate, onUpdate: onUpdate, logger: logger.With("component", "fill_tracker")}
}

// Run consumes trade and order events until ctx is cancelled.
func (t *FillTracker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt := <-t.feed.TradeEvents():
			t.handleTrade(evt)
		case evt := <-t.feed.OrderEvents():
			t.handleOrder(evt)
		case <-t.feed.Reconnected():
			t.logger.Info("user feed reconnected")
		}
	}
}

func (t *FillTracker) handleTrade(evt types.WSTradeEvent) {
	fill, err := tradeToFill(evt)
	if err != nil {
		t.logger.Error("unparseable trade event", "error", err, "id", evt.ID)
		return
	}

	t.logger.Info("trade event",
		"id", evt.ID, "side", fill.Side, "token", fill.Token,
		"price", fill.FilledPrice.String(), "size", fill.FilledSize.String(),
		"status", fill.Status)

	t.gate.ApplyFill(fill)

	if fill.Status.Terminal() {
		t.gate.ReleaseInflight()
	}
	t.notify()
}

func (t *FillTracker) handleOrder(evt types.WSOrderEvent) {
	status := types.FillStatus(evt.Status)
	t.logger.Info("order event", "id", evt.ID, "status", evt.Status, "size_matched", evt.SizeMatched)

	switch status {
	case types.FillCancelled, types.FillExpired:
		t.gate.ReleaseInflight()
		t.notify()
	}
}

func (t *FillTracker) notify() {
	if t.onUpdate != nil {
		t.onUpdate()
	}
}

func tradeToFill(evt types.WSTradeEvent) (types.Fill, error) {
	price, err := decimal.NewFromString(evt.Price)
	if err != nil {
		return types.Fill{}, fmt.Errorf("parse price %q: %w", evt.Price, err)
	}
	size, err := decimal.NewFromString(evt.Size)
	if err != nil {
		return types.Fill{}, fmt.Errorf("parse size %q: %w", evt.Size, err)
	}

	var outcome types.Outcome
	switch evt.Outcome {
	case "Yes", "YES":
		outcome = types.YES
	case "No", "NO":
		outcome = types.NO
	default:
		return types.Fill{}, fmt.Errorf("unknown outcome %q", evt.Outcome)
	}

	ts, _ := parseUnixMillisOrSeconds(evt.Timestamp)

	return types.Fill{
		OrderID:     evt.ID,
		Side:        types.Side(evt.Side),
		Token:       outcome,
		FilledPrice: price,
		FilledSize:  size,
		Status:      types.FillStatus(evt.Status),
		Timestamp:   ts,
	}, nil
}

func parseUnixMillisOrSeconds(s string) (time.Time, error) {
	if s == "" {
		return time.Now(), nil
	}
	var secs int64
	if _, err := fmt.Sscanf(s, "%d", &secs); err != nil {
		return time.Time{}, err
	}
	if secs > 1e12 { // looks like milliseconds
		return time.UnixMilli(secs), nil
	}
	return time.Unix(secs, 0), nil
}
