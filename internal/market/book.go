// Package market provides local order book maintenance and market metadata
// lookup for the single configured market.
//
// Book mirrors the CLOB order book for both outcome tokens (YES and NO) of
// one market. It is updated from two sources:
//   - REST snapshot via ApplyBookResponse (initial bootstrap, pre-WS)
//   - WebSocket events via ApplyBookEvent (full snapshot) and
//     ApplyPriceChange (incremental delta)
//
// The Book is concurrency-safe (RWMutex protected) and enforces the strict
// ordering/no-duplicate/positive-depth invariants required for sizing and
// edge computation.
package market

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"polytaker/pkg/types"
)

// ErrCrossedBook is returned when an applied delta leaves best_bid >=
// best_ask for a token. The caller must mark the book not-ready and force
// a resubscribe — this is never a valid resting state.
var ErrCrossedBook = errors.New("crossed book")

// ErrBufferOverflow is returned when more price_change events arrive for
// an asset than fit in the pre-snapshot buffer. The caller must force a
// resubscribe to get a fresh "book" event.
var ErrBufferOverflow = errors.New("pending event buffer overflow")

const maxPendingEvents = 128

// OrderBookSide is an ordered, duplicate-free sequence of price levels,
// best-first: decreasing for bids, increasing for asks. A level with zero
// depth is never stored.
type OrderBookSide struct {
	levels []types.PriceLevel
	isBid  bool
}

func newSide(isBid bool) *OrderBookSide {
	return &OrderBookSide{isBid: isBid}
}

// better reports whether price a ranks ahead of price b on this side.
func (s *OrderBookSide) better(a, b decimal.Decimal) bool {
	if s.isBid {
		return a.GreaterThan(b)
	}
	return a.LessThan(b)
}

// replace rebuilds the side from a raw wire snapshot, collapsing any
// duplicate prices (keeping the last occurrence) and dropping zero-depth
// levels, then sorting to satisfy the ordering invariant.
func (s *OrderBookSide) replace(raws []types.RawPriceLevel) error {
	byPrice := make(map[string]types.PriceLevel, len(raws))
	order := make([]string, 0, len(raws))
	for _, r := range raws {
		price, err := decimal.NewFromString(r.Price)
		if err != nil {
			return fmt.Errorf("parse price %q: %w", r.Price, err)
		}
		depth, err := decimal.NewFromString(r.Size)
		if err != nil {
			return fmt.Errorf("parse size %q: %w", r.Size, err)
		}
		key := price.String()
		if _, exists := byPrice[key]; !exists {
			order = append(order, key)
		}
		if depth.IsZero() {
			delete(byPrice, key)
			continue
		}
		byPrice[key] = types.PriceLevel{Price: price, Depth: depth}
	}

	levels := make([]types.PriceLevel, 0, len(byPrice))
	for _, key := range order {
		if lvl, ok := byPrice[key]; ok {
			levels = append(levels, lvl)
			delete(byPrice, key)
		}
	}

	// insertion sort is fine — book depth is small (tens of levels)
	for i := 1; i < len(levels); i++ {
		for j := i; j > 0 && s.better(levels[j].Price, levels[j-1].Price); j-- {
			levels[j], levels[j-1] = levels[j-1], levels[j]
		}
	}

	s.levels = levels
	return nil
}

// applyDelta sets the depth at price, removing the level if depth is zero.
// Applying a zero-depth delta to a price not currently in the book is a
// no-op (idempotence law).
func (s *OrderBookSide) applyDelta(price, depth decimal.Decimal) {
	idx := -1
	for i, lvl := range s.levels {
		if lvl.Price.Equal(price) {
			idx = i
			break
		}
	}

	if depth.IsZero() {
		if idx >= 0 {
			s.levels = append(s.levels[:idx], s.levels[idx+1:]...)
		}
		return
	}

	if idx >= 0 {
		s.levels[idx].Depth = depth
		return
	}

	// Insert maintaining sort order.
	insertAt := len(s.levels)
	for i, lvl := range s.levels {
		if s.better(price, lvl.Price) {
			insertAt = i
			break
		}
	}
	s.levels = append(s.levels, types.PriceLevel{})
	copy(s.levels[insertAt+1:], s.levels[insertAt:])
	s.levels[insertAt] = types.PriceLevel{Price: price, Depth: depth}
}

// Best returns the top-of-book level, if any.
func (s *OrderBookSide) Best() (types.PriceLevel, bool) {
	if len(s.levels) == 0 {
		return types.PriceLevel{}, false
	}
	return s.levels[0], true
}

// DepthAtOrBetterThan sums depth at prices at-or-better than limit: for
// bids, price >= limit; for asks, price <= limit. This is the
// depth_liquidity computation the decision loop sizes against.
func (s *OrderBookSide) DepthAtOrBetterThan(limit decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, lvl := range s.levels {
		if s.isBid {
			if lvl.Price.GreaterThanOrEqual(limit) {
				total = total.Add(lvl.Depth)
			}
		} else {
			if lvl.Price.LessThanOrEqual(limit) {
				total = total.Add(lvl.Depth)
			}
		}
	}
	return total
}

// Levels returns a copy of the current levels, best-first.
func (s *OrderBookSide) Levels() []types.PriceLevel {
	out := make([]types.PriceLevel, len(s.levels))
	copy(out, s.levels)
	return out
}

// TokenBook is the maintained bid/ask book for a single outcome token.
type TokenBook struct {
	AssetID   string
	Bids      *OrderBookSide
	Asks      *OrderBookSide
	Ready     bool
	Hash      string
	UpdatedAt time.Time
}

func newTokenBook(assetID string) *TokenBook {
	return &TokenBook{
		AssetID: assetID,
		Bids:    newSide(true),
		Asks:    newSide(false),
	}
}

func (tb *TokenBook) applySnapshot(bids, asks []types.RawPriceLevel, hash string) error {
	if err := tb.Bids.replace(bids); err != nil {
		return fmt.Errorf("replace bids: %w", err)
	}
	if err := tb.Asks.replace(asks); err != nil {
		return fmt.Errorf("replace asks: %w", err)
	}
	if tb.crossed() {
		tb.Ready = false
		return ErrCrossedBook
	}
	tb.Ready = true
	tb.Hash = hash
	tb.UpdatedAt = time.Now()
	return nil
}

func (tb *TokenBook) applyDelta(side string, price, depth decimal.Decimal, hash string) error {
	if !tb.Ready {
		return fmt.Errorf("token book %s not ready", tb.AssetID)
	}
	switch types.Side(side) {
	case types.BUY:
		tb.Bids.applyDelta(price, depth)
	case types.SELL:
		tb.Asks.applyDelta(price, depth)
	default:
		return fmt.Errorf("unknown price_change side %q", side)
	}
	if tb.crossed() {
		tb.Ready = false
		return ErrCrossedBook
	}
	tb.Hash = hash
	tb.UpdatedAt = time.Now()
	return nil
}

func (tb *TokenBook) crossed() bool {
	bid, okb := tb.Bids.Best()
	ask, oka := tb.Asks.Best()
	if !okb || !oka {
		return false
	}
	return bid.Price.GreaterThanOrEqual(ask.Price)
}

// BestBidAsk returns the current top-of-book for this token.
func (tb *TokenBook) BestBidAsk() (bid, ask decimal.Decimal, ok bool) {
	if !tb.Ready {
		return decimal.Zero, decimal.Zero, false
	}
	b, okb := tb.Bids.Best()
	a, oka := tb.Asks.Best()
	if !okb || !oka {
		return decimal.Zero, decimal.Zero, false
	}
	return b.Price, a.Price, true
}

func (tb *TokenBook) reset() {
	tb.Bids = newSide(true)
	tb.Asks = newSide(false)
	tb.Ready = false
	tb.Hash = ""
}

// Book maintains local mirrors of the order book for both outcome tokens
// of one market.
type Book struct {
	mu       sync.RWMutex
	marketID string
	yesToken string
	noToken  string
	yes      *TokenBook
	no       *TokenBook
	pending  map[string][]types.WSPriceChange // buffered deltas before first snapshot, keyed by asset ID
	updated  time.Time
}

// NewBook creates a new local order book for a market.
func NewBook(marketID, yesToken, noToken string) *Book {
	return &Book{
		marketID: marketID,
		yesToken: yesToken,
		noToken:  noToken,
		yes:      newTokenBook(yesToken),
		no:       newTokenBook(noToken),
		pending:  make(map[string][]types.WSPriceChange),
	}
}

func (b *Book) tokenBook(assetID string) *TokenBook {
	switch assetID {
	case b.yesToken:
		return b.yes
	case b.noToken:
		return b.no
	default:
		return nil
	}
}

// Reset discards all local book state. Called on WebSocket reconnect — a
// fresh snapshot must arrive before decisions resume.
func (b *Book) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.yes.reset()
	b.no.reset()
	b.pending = make(map[string][]types.WSPriceChange)
	b.updated = time.Time{}
}

// ApplyBookEvent replaces the book for one token with a full snapshot and
// replays any deltas buffered for that token before the snapshot arrived.
func (b *Book) ApplyBookEvent(event types.WSBookEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	tb := b.tokenBook(event.AssetID)
	if tb == nil {
		return nil // not one of our two subscribed tokens
	}
	if err := tb.applySnapshot(event.Buys, event.Sells, event.Hash); err != nil {
		return err
	}

	for _, pc := range b.pending[event.AssetID] {
		price, err := decimal.NewFromString(pc.Price)
		if err != nil {
			continue
		}
		depth, err := decimal.NewFromString(pc.Size)
		if err != nil {
			continue
		}
		if err := tb.applyDelta(pc.Side, price, depth, pc.Hash); err != nil {
			delete(b.pending, event.AssetID)
			return err
		}
	}
	delete(b.pending, event.AssetID)

	b.updated = time.Now()
	return nil
}

// ApplyBookResponse applies a REST API book response (pre-WS bootstrap).
func (b *Book) ApplyBookResponse(resp *types.BookResponse) error {
	return b.ApplyBookEvent(types.WSBookEvent{
		AssetID: resp.AssetID,
		Buys:    resp.Bids,
		Sells:   resp.Asks,
		Hash:    resp.Hash,
	})
}

// ApplyPriceChange applies an incremental price_change event. Deltas for a
// token that hasn't received its first snapshot yet are buffered
// (bounded); overflow returns ErrBufferOverflow so the caller can force a
// resubscribe.
func (b *Book) ApplyPriceChange(event types.WSPriceChangeEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, pc := range event.PriceChanges {
		tb := b.tokenBook(pc.AssetID)
		if tb == nil {
			continue
		}

		if !tb.Ready {
			buf := b.pending[pc.AssetID]
			if len(buf) >= maxPendingEvents {
				return ErrBufferOverflow
			}
			b.pending[pc.AssetID] = append(buf, pc)
			continue
		}

		price, err := decimal.NewFromString(pc.Price)
		if err != nil {
			continue
		}
		depth, err := decimal.NewFromString(pc.Size)
		if err != nil {
			continue
		}
		if err := tb.applyDelta(pc.Side, price, depth, pc.Hash); err != nil {
			return err
		}
	}

	b.updated = time.Now()
	return nil
}

// YesBook returns the YES token's maintained book.
func (b *Book) YesBook() *TokenBook {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.yes
}

// NoBook returns the NO token's maintained book.
func (b *Book) NoBook() *TokenBook {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.no
}

// tokenBookForOutcome returns the internal TokenBook for outcome. Caller
// must hold b.mu (read or write) — the pointer it returns is never safe
// to read after the lock is released, since market_dispatch mutates the
// same TokenBook's levels slice under b.mu.Lock concurrently with any
// reader.
func (b *Book) tokenBookForOutcome(outcome types.Outcome) *TokenBook {
	if outcome == types.YES {
		return b.yes
	}
	return b.no
}

// BestBidAskFor returns the best bid/ask for the given outcome token,
// copied out under the read lock.
func (b *Book) BestBidAskFor(outcome types.Outcome) (bid, ask decimal.Decimal, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.tokenBookForOutcome(outcome).BestBidAsk()
}

// AskDepthAtOrBetterThan sums ask depth at-or-better than limit for the
// given outcome's book — the liquidity a BUY at limit would take. Summed
// under the read lock so the caller never touches the live levels slice.
func (b *Book) AskDepthAtOrBetterThan(outcome types.Outcome, limit decimal.Decimal) decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.tokenBookForOutcome(outcome).Asks.DepthAtOrBetterThan(limit)
}

// BidDepthAtOrBetterThan sums bid depth at-or-better than limit for the
// given outcome's book — the liquidity a SELL at limit would take. Summed
// under the read lock so the caller never touches the live levels slice.
func (b *Book) BidDepthAtOrBetterThan(outcome types.Outcome, limit decimal.Decimal) decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.tokenBookForOutcome(outcome).Bids.DepthAtOrBetterThan(limit)
}

// Ready reports whether the YES token's book has a snapshot and both
// sides are non-empty — the precondition the decision loop checks before
// evaluating.
func (b *Book) Ready() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, _, ok := b.yes.BestBidAsk()
	return ok
}

// MidPrice returns the mid price for the YES token: (bestBid + bestAsk) / 2.
func (b *Book) MidPrice() (decimal.Decimal, bool) {
	bid, ask, ok := b.BestBidAsk()
	if !ok {
		return decimal.Zero, false
	}
	return bid.Add(ask).Div(decimal.NewFromInt(2)), true
}

// BestBidAsk returns the best bid and ask for the YES token.
func (b *Book) BestBidAsk() (bid, ask decimal.Decimal, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.yes.BestBidAsk()
}

// IsStale returns true if the book hasn't been updated within maxAge.
func (b *Book) IsStale(maxAge time.Duration) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.updated.IsZero() {
		return true
	}
	return time.Since(b.updated) > maxAge
}

// LastUpdated returns the timestamp of the last book update.
func (b *Book) LastUpdated() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updated
}
