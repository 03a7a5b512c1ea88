package decision

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"polytaker/internal/config"
	"polytaker/internal/exchange"
	"polytaker/internal/market"
	"polytaker/internal/risk"
	"polytaker/pkg/types"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testMeta() types.MarketMeta {
	return types.MarketMeta{
		ConditionID: "cond1",
		YesTokenID:  "yes1",
		NoTokenID:   "no1",
		TickSize:    types.Tick001,
	}
}

func testDecisionConfig() config.DecisionConfig {
	return config.DecisionConfig{
		EdgeThreshold:     0.02,
		PriceOffset:       0.005,
		LiquidityTakePct:  0.5,
		MinOrderSizeQuote: 1,
		MaxOrderSizeQuote: 50,
		OrderType:         "FOK",
		CooldownAfterFill: 10 * time.Millisecond,
		InflightTimeout:   time.Second,
	}
}

// fakeOracle is a fixed-value signalSource for decision-loop tests.
type fakeOracle struct {
	sig types.OracleSignal
	at  time.Time
	ok  bool
}

func (f fakeOracle) Latest() (types.OracleSignal, time.Time, bool) {
	return f.sig, f.at, f.ok
}

func bookWithYesTouch(bidPrice, bidSize, askPrice, askSize string) *market.Book {
	b := market.NewBook("cond1", "yes1", "no1")
	_ = b.ApplyBookEvent(types.WSBookEvent{
		AssetID: "yes1",
		Hash:    "h1",
		Buys:    []types.RawPriceLevel{{Price: bidPrice, Size: bidSize}},
		Sells:   []types.RawPriceLevel{{Price: askPrice, Size: askSize}},
	})
	return b
}

func dryRunClient(t *testing.T) *exchange.Client {
	t.Helper()
	return exchange.NewClient(
		config.Config{DryRun: true, API: config.APIConfig{CLOBBaseURL: "http://localhost"}},
		&exchange.Auth{},
		testLogger(),
	)
}

const testSignalTTL = 2 * time.Second

func newTestLoop(t *testing.T, book *market.Book, oracleSig fakeOracle, gate *risk.Gate) *Loop {
	t.Helper()
	return NewLoop(testDecisionConfig(), testSignalTTL, testMeta(), book, oracleSig, gate, dryRunClient(t), 0, testLogger())
}

// Scenario 1: no-edge.
func TestEvaluateOutcomeNoEdge(t *testing.T) {
	t.Parallel()
	book := bookWithYesTouch("0.49", "100", "0.50", "100")
	l := newTestLoop(t, book, fakeOracle{}, risk.NewGate(config.RiskConfig{MaxExposureQuote: 1000}))

	cand := l.evaluateOutcome(types.YES, "yes1", dec("0.50"), dec("0.02"))
	if cand != nil {
		t.Fatalf("expected no candidate, got %+v", cand)
	}
}

// Scenario 2: buy edge. pOracle 0.65 minus the 0.005 offset is 0.645,
// which is off-tick for a 0.01 market; invariant 4 requires the limit to
// be tick-rounded, so roundDownToTick takes it to 0.64 (rounding down on a
// BUY never crosses the oracle reference). size = min(depth*0.5=100,
// max_order_size_quote/limit=50/0.64=78.125, room/limit) truncated to a
// 2-decimal lot = 78.12.
func TestPriceAndSizeBuyEdgeScenario(t *testing.T) {
	t.Parallel()
	book := bookWithYesTouch("0.60", "150", "0.62", "200")
	gate := risk.NewGate(config.RiskConfig{MaxExposureQuote: 1000})
	l := newTestLoop(t, book, fakeOracle{}, gate)

	cand := l.evaluateOutcome(types.YES, "yes1", dec("0.65"), dec("0.02"))
	if cand == nil {
		t.Fatal("expected a BUY candidate")
	}
	if cand.side != types.BUY {
		t.Fatalf("side = %v, want BUY", cand.side)
	}

	priced := l.priceAndSize(*cand)
	if !priced.limit.Equal(dec("0.64")) {
		t.Errorf("limit = %v, want 0.64", priced.limit)
	}
	if !priced.size.Equal(dec("78.12")) {
		t.Errorf("size = %v, want 78.12", priced.size)
	}
}

// Scenario 3: sell edge. pOracle 0.40 plus the 0.005 offset is 0.405,
// off-tick for a 0.01 market; roundUpToTick takes it to 0.41 (rounding up
// on a SELL never crosses the oracle reference either). size clamps to
// bid depth * 0.5 = 40, well under the (loosened) quote ceiling.
func TestPriceAndSizeSellEdgeScenario(t *testing.T) {
	t.Parallel()
	book := bookWithYesTouch("0.45", "80", "0.90", "10")
	gate := risk.NewGate(config.RiskConfig{MaxExposureQuote: 1000})
	cfg := testDecisionConfig()
	cfg.MaxOrderSizeQuote = 1000 // don't let the quote ceiling bind in this scenario
	l := NewLoop(cfg, testSignalTTL, testMeta(), book, fakeOracle{}, gate, dryRunClient(t), 0, testLogger())

	cand := l.evaluateOutcome(types.YES, "yes1", dec("0.40"), dec("0.02"))
	if cand == nil {
		t.Fatal("expected a SELL candidate")
	}
	if cand.side != types.SELL {
		t.Fatalf("side = %v, want SELL", cand.side)
	}

	priced := l.priceAndSize(*cand)
	if !priced.limit.Equal(dec("0.41")) {
		t.Errorf("limit = %v, want 0.41", priced.limit)
	}
	if !priced.size.Equal(dec("40")) {
		t.Errorf("size = %v, want 40", priced.size)
	}
}

// TestBestCandidateTieBreaksBuy sets up equal-magnitude edges where the
// YES token only qualifies on its SELL side and the NO token only
// qualifies on its BUY side; bestCandidate must prefer the BUY.
func TestBestCandidateTieBreaksBuy(t *testing.T) {
	t.Parallel()
	book := market.NewBook("cond1", "yes1", "no1")
	_ = book.ApplyBookEvent(types.WSBookEvent{
		AssetID: "yes1",
		Buys:    []types.RawPriceLevel{{Price: "0.45", Size: "10"}},
		Sells:   []types.RawPriceLevel{{Price: "0.60", Size: "10"}},
	})
	_ = book.ApplyBookEvent(types.WSBookEvent{
		AssetID: "no1",
		Buys:    []types.RawPriceLevel{{Price: "0.10", Size: "10"}},
		Sells:   []types.RawPriceLevel{{Price: "0.30", Size: "10"}},
	})
	gate := risk.NewGate(config.RiskConfig{MaxExposureQuote: 1000})
	l := newTestLoop(t, book, fakeOracle{}, gate)

	signal := types.OracleSignal{YesProbability: dec("0.40"), NoProbability: dec("0.35")}
	best := l.bestCandidate(signal)
	if best == nil {
		t.Fatal("expected a candidate")
	}
	if best.side != types.BUY || best.token != types.NO {
		t.Fatalf("expected tie-break to prefer BUY NO, got side=%v token=%v", best.side, best.token)
	}
}

// Scenario 4: stale signal.
func TestEvaluateSkipsOnStaleSignal(t *testing.T) {
	t.Parallel()
	book := bookWithYesTouch("0.60", "150", "0.62", "200")
	gate := risk.NewGate(config.RiskConfig{MaxExposureQuote: 1000})
	stale := fakeOracle{
		sig: types.OracleSignal{YesProbability: dec("0.65"), NoProbability: dec("0.35")},
		at:  time.Now().Add(-10 * time.Second),
		ok:  true,
	}
	l := newTestLoop(t, book, stale, gate) // testSignalTTL is 2s; the signal is 10s old

	l.evaluate()

	if gate.InFlight() {
		t.Fatal("expected no claim when the signal is older than signal_ttl")
	}
	if l.State() != StateIdle {
		t.Fatalf("state = %v, want IDLE", l.State())
	}
}

// Scenario 5: in-flight skip.
func TestEvaluateSkipsWhileInFlight(t *testing.T) {
	t.Parallel()
	book := bookWithYesTouch("0.60", "150", "0.62", "200")
	gate := risk.NewGate(config.RiskConfig{MaxExposureQuote: 1000})
	if !gate.ClaimInflight() {
		t.Fatal("setup: claim should succeed")
	}
	sig := fakeOracle{
		sig: types.OracleSignal{YesProbability: dec("0.65"), NoProbability: dec("0.35")},
		at:  time.Now(),
		ok:  true,
	}
	l := newTestLoop(t, book, sig, gate)

	l.evaluate()
	if l.State() != StateAwaitingFill {
		t.Fatalf("state = %v, want AWAITING_FILL while a slot is already claimed", l.State())
	}
}

// Scenario 2 end-to-end: a qualifying edge claims the in-flight slot and
// submits via the (dry-run) client.
func TestEvaluateSubmitsAndClaimsInflight(t *testing.T) {
	t.Parallel()
	book := bookWithYesTouch("0.60", "150", "0.62", "200")
	gate := risk.NewGate(config.RiskConfig{MaxExposureQuote: 1000})
	sig := fakeOracle{
		sig: types.OracleSignal{YesProbability: dec("0.65"), NoProbability: dec("0.35")},
		at:  time.Now(),
		ok:  true,
	}
	l := newTestLoop(t, book, sig, gate)

	l.evaluate()

	if !gate.InFlight() {
		t.Fatal("expected the in-flight slot to be claimed after a dry-run ack")
	}
	if l.State() != StateAwaitingFill {
		t.Fatalf("state = %v, want AWAITING_FILL", l.State())
	}
}

// Scenario 6 (book-maintainer side, exercised here at the gate/precondition
// level): an unready book blocks evaluation outright.
func TestEvaluateSkipsWhenBookNotReady(t *testing.T) {
	t.Parallel()
	book := market.NewBook("cond1", "yes1", "no1") // no snapshot applied: not ready
	gate := risk.NewGate(config.RiskConfig{MaxExposureQuote: 1000})
	sig := fakeOracle{
		sig: types.OracleSignal{YesProbability: dec("0.65"), NoProbability: dec("0.35")},
		at:  time.Now(),
		ok:  true,
	}
	l := newTestLoop(t, book, sig, gate)

	l.evaluate()

	if gate.InFlight() {
		t.Fatal("expected no claim while the book is not ready")
	}
	if l.State() != StateIdle {
		t.Fatalf("state = %v, want IDLE", l.State())
	}
}

func TestEvaluateSkipsWhenNoSignalYet(t *testing.T) {
	t.Parallel()
	book := bookWithYesTouch("0.60", "150", "0.62", "200")
	gate := risk.NewGate(config.RiskConfig{MaxExposureQuote: 1000})
	l := newTestLoop(t, book, fakeOracle{ok: false}, gate)

	l.evaluate()

	if gate.InFlight() {
		t.Fatal("expected no claim with no signal received yet")
	}
}

func TestAwaitingFillTransitionsToCooldownAfterRelease(t *testing.T) {
	t.Parallel()
	book := bookWithYesTouch("0.60", "150", "0.62", "200")
	gate := risk.NewGate(config.RiskConfig{MaxExposureQuote: 1000})
	sig := fakeOracle{
		sig: types.OracleSignal{YesProbability: dec("0.65"), NoProbability: dec("0.35")},
		at:  time.Now(),
		ok:  true,
	}
	l := newTestLoop(t, book, sig, gate)

	l.evaluate()
	if l.State() != StateAwaitingFill {
		t.Fatalf("state = %v, want AWAITING_FILL", l.State())
	}

	gate.ReleaseInflight() // simulate fill tracker observing a terminal status
	l.evaluate()
	if l.State() != StateCooldown {
		t.Fatalf("state = %v, want COOLDOWN after release", l.State())
	}

	time.Sleep(l.cfg.CooldownAfterFill + 5*time.Millisecond)
	l.evaluate()
	if l.State() == StateCooldown {
		t.Fatal("expected cooldown to expire and re-evaluate")
	}
}

func TestInflightTimeoutForceReleases(t *testing.T) {
	t.Parallel()
	book := bookWithYesTouch("0.60", "150", "0.62", "200")
	gate := risk.NewGate(config.RiskConfig{MaxExposureQuote: 1000})
	sig := fakeOracle{
		sig: types.OracleSignal{YesProbability: dec("0.65"), NoProbability: dec("0.35")},
		at:  time.Now(),
		ok:  true,
	}
	l := newTestLoop(t, book, sig, gate)
	l.cfg.InflightTimeout = time.Millisecond

	l.evaluate()
	if l.State() != StateAwaitingFill {
		t.Fatalf("state = %v, want AWAITING_FILL", l.State())
	}

	time.Sleep(5 * time.Millisecond)
	l.evaluate()
	if gate.InFlight() {
		t.Fatal("expected inflight timeout to force-release the slot")
	}
}

func TestRoundUpAndDownToTick(t *testing.T) {
	t.Parallel()
	if got := roundDownToTick(dec("0.6457"), types.Tick001); !got.Equal(dec("0.64")) {
		t.Errorf("roundDownToTick = %v, want 0.64", got)
	}
	if got := roundUpToTick(dec("0.6401"), types.Tick001); !got.Equal(dec("0.65")) {
		t.Errorf("roundUpToTick = %v, want 0.65", got)
	}
	if got := roundUpToTick(dec("0.64"), types.Tick001); !got.Equal(dec("0.64")) {
		t.Errorf("roundUpToTick on an exact tick should be a no-op, got %v", got)
	}
}
