// Package decision implements the single-threaded decision loop: the
// component that fuses the latest order book snapshot and the latest
// oracle signal into a take/no-take decision, sizes and price-caps the
// resulting order, and owns the single-flight commitment to the Position
// Gate. Grounded on the teacher's strategy.Maker event loop shape
// (ticker-driven re-evaluation, serial state machine) with the
// Avellaneda-Stoikov quoting math replaced by edge/limit/size arithmetic.
package decision

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"polytaker/internal/config"
	"polytaker/internal/exchange"
	"polytaker/internal/market"
	"polytaker/internal/risk"
	"polytaker/pkg/types"
)

// State is one of the five decision-loop states.
type State string

const (
	StateIdle         State = "IDLE"
	StateEvaluating   State = "EVALUATING"
	StateSubmitting   State = "SUBMITTING"
	StateAwaitingFill State = "AWAITING_FILL"
	StateCooldown     State = "COOLDOWN"
)

// evalInterval is the safety-net re-evaluation cadence — book and signal
// updates arrive on their own schedules, but a periodic tick guarantees
// cooldown expiry and ambiguous-submit timeouts are always checked even
// during a lull in external events.
const evalInterval = 50 * time.Millisecond

// Loop is the decision loop for one market. Single-threaded by
// construction: Run must only ever be invoked from one goroutine, since
// it is the sole writer of the Position Gate's in-flight slot.
type Loop struct {
	cfg       config.DecisionConfig
	signalTTL time.Duration
	meta      types.MarketMeta
	book      *market.Book
	signal    signalSource
	gate      *risk.Gate
	client    *exchange.Client
	logger    *slog.Logger

	feeRateBps int

	state            State
	cooldownUntil    time.Time
	inflightDeadline time.Time

	notifyCh chan struct{}
}

// signalSource is the subset of oracle.Client the decision loop depends
// on — declared locally so this package doesn't import oracle's WS/HTTP
// machinery, only the signal it reads.
type signalSource interface {
	Latest() (types.OracleSignal, time.Time, bool)
}

// NewLoop creates a decision loop for one market. signalTTL comes from
// the oracle config, not the decision config — a signal older than this
// is never acted on regardless of edge.
func NewLoop(cfg config.DecisionConfig, signalTTL time.Duration, meta types.MarketMeta, book *market.Book, oracleClient signalSource, gate *risk.Gate, client *exchange.Client, feeRateBps int, logger *slog.Logger) *Loop {
	return &Loop{
		cfg:        cfg,
		signalTTL:  signalTTL,
		meta:       meta,
		book:       book,
		signal:     oracleClient,
		gate:       gate,
		client:     client,
		feeRateBps: feeRateBps,
		logger:     logger.With("component", "decision"),
		state:      StateIdle,
		notifyCh:   make(chan struct{}, 1),
	}
}

// Notify wakes the loop for an immediate re-evaluation. Non-blocking —
// if a notification is already pending, this is a no-op (latest-value
// semantics: the loop always re-reads fresh book/signal/gate state on
// waking, so a coalesced notification loses nothing).
func (l *Loop) Notify() {
	select {
	case l.notifyCh <- struct{}{}:
	default:
	}
}

// State returns the current state (for logging/tests only).
func (l *Loop) State() State {
	return l.state
}

// Run is the main loop. Blocks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(evalInterval)
	defer ticker.Stop()

	l.logger.Info("decision loop started", "market", l.meta.ConditionID)

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("decision loop stopped")
			return
		case <-l.notifyCh:
			l.evaluate()
		case <-ticker.C:
			l.evaluate()
		}
	}
}

func (l *Loop) evaluate() {
	now := time.Now()

	if l.state == StateAwaitingFill {
		if l.gate.InFlight() && !l.inflightDeadline.IsZero() && now.After(l.inflightDeadline) {
			l.logger.Warn("inflight timeout elapsed, force-releasing slot")
			l.gate.ReleaseInflight()
		}
		if !l.gate.InFlight() {
			l.state = StateCooldown
			l.cooldownUntil = now.Add(l.cfg.CooldownAfterFill)
		}
		return
	}

	if l.state == StateCooldown {
		if now.Before(l.cooldownUntil) {
			return
		}
		l.state = StateIdle
	}

	if !l.book.Ready() {
		l.state = StateIdle
		return
	}
	signal, receivedAt, ok := l.oracleOrNil()
	if !ok || now.Sub(receivedAt) > l.signalTTL {
		l.state = StateIdle
		return
	}
	if l.gate.InFlight() {
		l.state = StateAwaitingFill
		return
	}

	l.state = StateEvaluating

	cand := l.bestCandidate(signal)
	if cand == nil {
		l.state = StateIdle
		return
	}

	order := l.buildOrder(*cand)
	if order.Size.IsZero() {
		l.state = StateIdle
		return
	}

	if !l.gate.ClaimInflight() {
		l.state = StateIdle
		return
	}

	l.state = StateSubmitting
	result := l.client.SubmitOrder(context.Background(), order, l.feeRateBps)

	switch result.Outcome {
	case exchange.SubmitAcked:
		l.logger.Info("order submitted", "token", order.Token, "side", order.Side,
			"price", order.LimitPrice.String(), "size", order.Size.String(), "order_id", orderID(result))
		l.state = StateAwaitingFill
		l.inflightDeadline = now.Add(l.cfg.InflightTimeout)
	case exchange.SubmitRejected:
		l.logger.Warn("order rejected", "error", result.Err)
		l.gate.ReleaseInflight()
		l.state = StateCooldown
		l.cooldownUntil = now.Add(l.cfg.CooldownAfterFill)
	case exchange.SubmitAmbiguous:
		l.logger.Warn("ambiguous submit outcome, awaiting user-channel reconciliation", "error", result.Err)
		l.state = StateAwaitingFill
		l.inflightDeadline = now.Add(l.cfg.InflightTimeout)
	}
}

func orderID(r exchange.SubmitResult) string {
	if r.Response == nil {
		return ""
	}
	return r.Response.OrderID
}

func (l *Loop) oracleOrNil() (types.OracleSignal, time.Time, bool) {
	return l.signal.Latest()
}

// candidate is one evaluated opportunity: a side/token pair with its edge.
type candidate struct {
	token   types.Outcome
	tokenID string
	side    types.Side
	edge    decimal.Decimal
}

// bestCandidate evaluates BUY and SELL opportunities on both outcome
// tokens and returns the one with the largest edge clearing
// edge_threshold, tie-broken toward BUY, or nil if none qualify.
func (l *Loop) bestCandidate(signal types.OracleSignal) *candidate {
	threshold := decimal.NewFromFloat(l.cfg.EdgeThreshold)

	var best *candidate
	consider := func(c *candidate) {
		if c == nil {
			return
		}
		if best == nil {
			best = c
			return
		}
		if c.edge.GreaterThan(best.edge) {
			best = c
			return
		}
		if c.edge.Equal(best.edge) && c.side == types.BUY && best.side != types.BUY {
			best = c
		}
	}

	consider(l.evaluateOutcome(types.YES, l.meta.YesTokenID, signal.YesProbability, threshold))
	consider(l.evaluateOutcome(types.NO, l.meta.NoTokenID, signal.NoProbability, threshold))
	return best
}

func (l *Loop) evaluateOutcome(outcome types.Outcome, tokenID string, pOracle, threshold decimal.Decimal) *candidate {
	bid, ask, ok := l.book.BestBidAskFor(outcome)
	if !ok {
		return nil
	}

	buyEdge := pOracle.Sub(ask)
	sellEdge := bid.Sub(pOracle)

	buyOK := buyEdge.GreaterThanOrEqual(threshold)
	sellOK := sellEdge.GreaterThanOrEqual(threshold)

	switch {
	case buyOK && sellOK:
		if sellEdge.GreaterThan(buyEdge) {
			return &candidate{token: outcome, tokenID: tokenID, side: types.SELL, edge: sellEdge}
		}
		return &candidate{token: outcome, tokenID: tokenID, side: types.BUY, edge: buyEdge}
	case buyOK:
		return &candidate{token: outcome, tokenID: tokenID, side: types.BUY, edge: buyEdge}
	case sellOK:
		return &candidate{token: outcome, tokenID: tokenID, side: types.SELL, edge: sellEdge}
	default:
		return nil
	}
}

// evaluatedOrder carries the priced, sized candidate ready for submission.
type evaluatedOrder struct {
	candidate
	limit decimal.Decimal
	size  decimal.Decimal
}

// buildOrder prices and sizes the winning candidate and constructs the
// immutable FakOrder.
func (l *Loop) buildOrder(cand candidate) types.FakOrder {
	priced := l.priceAndSize(cand)
	salt, err := exchange.NewSalt()
	if err != nil {
		l.logger.Error("salt generation failed", "error", err)
		salt = big.NewInt(0)
	}
	return types.FakOrder{
		Token:       priced.token,
		TokenID:     priced.tokenID,
		Side:        priced.side,
		LimitPrice:  priced.limit,
		Size:        priced.size,
		ClientNonce: newNonce(),
		Salt:        salt,
		TickSize:    l.meta.TickSize,
		OrderType:   types.OrderType(l.cfg.OrderType),
		BuiltAt:     time.Now(),
	}
}

// priceAndSize computes the tick-rounded limit price and the clamped
// order size for the winning candidate, per §4.4: limit never crosses
// p_oracle, size is the minimum of liquidity-scaled depth, the quote
// notional ceiling, and the Position Gate's remaining room.
func (l *Loop) priceAndSize(cand candidate) evaluatedOrder {
	bid, ask, _ := l.book.BestBidAskFor(cand.token)
	tick := l.meta.TickSize.Value()
	pOracle := cand.edgeBasePrice(bid, ask)

	offset := decimal.NewFromFloat(l.cfg.PriceOffset)
	minValid := tick
	maxValid := decimal.NewFromInt(1).Sub(tick)

	var limit decimal.Decimal
	var depth decimal.Decimal
	if cand.side == types.BUY {
		raw := pOracle.Sub(offset)
		if raw.GreaterThan(maxValid) {
			raw = maxValid
		}
		limit = roundDownToTick(raw, l.meta.TickSize)
		depth = l.book.AskDepthAtOrBetterThan(cand.token, limit)
	} else {
		raw := pOracle.Add(offset)
		if raw.LessThan(minValid) {
			raw = minValid
		}
		limit = roundUpToTick(raw, l.meta.TickSize)
		depth = l.book.BidDepthAtOrBetterThan(cand.token, limit)
	}

	liquiditySize := depth.Mul(decimal.NewFromFloat(l.cfg.LiquidityTakePct))
	maxQuoteSize := decimal.Zero
	if limit.IsPositive() {
		maxQuoteSize = decimal.NewFromFloat(l.cfg.MaxOrderSizeQuote).Div(limit)
	}
	room := l.gate.RemainingRoom(cand.side, cand.token)
	roomSize := decimal.Zero
	if limit.IsPositive() {
		roomSize = room.Div(limit)
	}

	size := decimalMin(liquiditySize, maxQuoteSize, roomSize)
	size = size.Truncate(2) // base-unit lot

	if size.Mul(limit).LessThan(decimal.NewFromFloat(l.cfg.MinOrderSizeQuote)) {
		size = decimal.Zero
	}

	return evaluatedOrder{candidate: cand, limit: limit, size: size}
}

// edgeBasePrice returns the oracle reference price used for this
// candidate. It is already carried on the candidate as the oracle
// probability that generated the edge, but since candidate doesn't
// store it directly, it's recomputed here from the edge and touch price.
func (c candidate) edgeBasePrice(bid, ask decimal.Decimal) decimal.Decimal {
	if c.side == types.BUY {
		return ask.Add(c.edge)
	}
	return bid.Sub(c.edge)
}

func roundDownToTick(v decimal.Decimal, tick types.TickSize) decimal.Decimal {
	return v.Truncate(int32(tick.Decimals()))
}

func roundUpToTick(v decimal.Decimal, tick types.TickSize) decimal.Decimal {
	decimals := int32(tick.Decimals())
	truncated := v.Truncate(decimals)
	if truncated.Equal(v) {
		return truncated
	}
	step := decimal.New(1, -decimals)
	return truncated.Add(step)
}

func decimalMin(vals ...decimal.Decimal) decimal.Decimal {
	min := vals[0]
	for _, v := range vals[1:] {
		if v.LessThan(min) {
			min = v
		}
	}
	return min
}

func newNonce() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("nonce-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
