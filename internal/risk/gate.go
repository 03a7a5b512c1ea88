// Package risk implements the Position Gate: the single source of truth
// for exposure, in-flight order count, and realized PnL that the decision
// loop consults before sizing an order and the fill tracker updates after
// every terminal order/trade event.
package risk

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"polytaker/internal/config"
	"polytaker/pkg/types"
)

// Position is the process-wide holdings and exposure state. Persisted to
// disk so a restart resumes with the correct book of record.
type Position struct {
	YesTokens      decimal.Decimal `json:"yes_tokens"`
	NoTokens       decimal.Decimal `json:"no_tokens"`
	YesAvgEntry    decimal.Decimal `json:"yes_avg_entry"`
	NoAvgEntry     decimal.Decimal `json:"no_avg_entry"`
	CashDeployed   decimal.Decimal `json:"cash_deployed"`
	RealizedPnL    decimal.Decimal `json:"realized_pnl"`
	InFlightOrders int32           `json:"in_flight_orders"`
	LastUpdated    time.Time       `json:"last_updated"`
}

// Gate is the Position Gate. cash_deployed ≤ max_exposure and
// in_flight_orders ∈ {0, 1} hold at every observable instant.
type Gate struct {
	maxExposure decimal.Decimal

	mu          sync.Mutex // guards everything below except inFlight
	yesQty      decimal.Decimal
	noQty       decimal.Decimal
	yesAvgEntry decimal.Decimal
	noAvgEntry  decimal.Decimal
	cash        decimal.Decimal
	pnl         decimal.Decimal

	inFlight int32 // accessed only via atomic CAS/store; the single-flight slot
}

// NewGate creates a Position Gate with the configured exposure cap.
func NewGate(cfg config.RiskConfig) *Gate {
	return &Gate{
		maxExposure: decimal.NewFromFloat(cfg.MaxExposureQuote),
		yesQty:      decimal.Zero,
		noQty:       decimal.Zero,
		yesAvgEntry: decimal.Zero,
		noAvgEntry:  decimal.Zero,
		cash:        decimal.Zero,
		pnl:         decimal.Zero,
	}
}

// Restore seeds the gate from a persisted Position (used on startup).
func (g *Gate) Restore(pos Position) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.yesQty = pos.YesTokens
	g.noQty = pos.NoTokens
	g.yesAvgEntry = pos.YesAvgEntry
	g.noAvgEntry = pos.NoAvgEntry
	g.cash = pos.CashDeployed
	g.pnl = pos.RealizedPnL
}

// CanBuy reports whether deploying notional more cash stays within the
// exposure cap.
func (g *Gate) CanBuy(notional decimal.Decimal) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cash.Add(notional).LessThanOrEqual(g.maxExposure)
}

// CanSell is always permitted from the gate's perspective: a SELL fill
// only ever reduces cash_deployed, so it can never breach the exposure cap.
// Held inventory is not checked, here or in the decision loop.
func (g *Gate) CanSell(notional decimal.Decimal) bool {
	return true
}

// RemainingRoom returns the quote-currency headroom before the exposure
// cap for a BUY of the given token. A SELL is not bounded by the cap, so
// for SELL it returns the full max exposure; held quantity is not consulted.
func (g *Gate) RemainingRoom(side types.Side, token types.Outcome) decimal.Decimal {
	g.mu.Lock()
	defer g.mu.Unlock()
	if side == types.SELL {
		return g.maxExposure
	}
	room := g.maxExposure.Sub(g.cash)
	if room.IsNegative() {
		return decimal.Zero
	}
	return room
}

// ClaimInflight is a CAS from 0 to 1: the decision loop's single-flight
// commitment. Only the decision loop calls this.
func (g *Gate) ClaimInflight() bool {
	return atomic.CompareAndSwapInt32(&g.inFlight, 0, 1)
}

// ReleaseInflight sets the in-flight slot back to 0. Idempotent — calling
// it when already released is a no-op.
func (g *Gate) ReleaseInflight() {
	atomic.StoreInt32(&g.inFlight, 0)
}

// InFlight reports the current in-flight slot value (0 or 1).
func (g *Gate) InFlight() bool {
	return atomic.LoadInt32(&g.inFlight) == 1
}

// ApplyFill updates balances and realized_pnl for a CONFIRMED fill.
// MATCHED is provisional and CANCELLED/EXPIRED carry no size, so only
// CONFIRMED moves balances. A CONFIRMED fill increases (BUY) or decreases
// (SELL) the held quantity by exactly filled_size, and cash_deployed
// changes by exactly filled_price × filled_size in either direction, except
// that neither goes below zero: a SELL larger than the holding leaves the
// quantity at zero (no short position is recorded, and PnL is realized on
// the held part only), and a SELL worth more than cash_deployed leaves
// cash_deployed at zero.
func (g *Gate) ApplyFill(fill types.Fill) {
	if fill.Status != types.FillConfirmed {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	notional := fill.FilledPrice.Mul(fill.FilledSize)
	qty, avgEntry := &g.yesQty, &g.yesAvgEntry
	if fill.Token == types.NO {
		qty, avgEntry = &g.noQty, &g.noAvgEntry
	}

	switch fill.Side {
	case types.BUY:
		totalCost := avgEntry.Mul(*qty).Add(notional)
		*qty = qty.Add(fill.FilledSize)
		if qty.IsPositive() {
			*avgEntry = totalCost.Div(*qty)
		}
		g.cash = g.cash.Add(notional)
	case types.SELL:
		sellQty := fill.FilledSize
		if sellQty.GreaterThan(*qty) {
			sellQty = *qty
		}
		g.pnl = g.pnl.Add(fill.FilledPrice.Sub(*avgEntry).Mul(sellQty))
		*qty = qty.Sub(fill.FilledSize)
		if !qty.IsPositive() {
			*qty = decimal.Zero
			*avgEntry = decimal.Zero
		}
		g.cash = g.cash.Sub(notional)
		if g.cash.IsNegative() {
			g.cash = decimal.Zero
		}
	}
}

// Snapshot returns a copy of the current position for persistence.
func (g *Gate) Snapshot() Position {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Position{
		YesTokens:      g.yesQty,
		NoTokens:       g.noQty,
		YesAvgEntry:    g.yesAvgEntry,
		NoAvgEntry:     g.noAvgEntry,
		CashDeployed:   g.cash,
		RealizedPnL:    g.pnl,
		InFlightOrders: atomic.LoadInt32(&g.inFlight),
		LastUpdated:    time.Now(),
	}
}
