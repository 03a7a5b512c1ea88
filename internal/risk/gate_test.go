package risk

import (
	"testing"

	"github.com/shopspring/decimal"

	"polytaker/internal/config"
	"polytaker/pkg/types"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestGate(maxExposure string) *Gate {
	return NewGate(config.RiskConfig{MaxExposureQuote: mustFloat(maxExposure)})
}

func mustFloat(s string) float64 {
	f, _ := dec(s).Float64()
	return f
}

func confirmedFill(side types.Side, token types.Outcome, price, size string) types.Fill {
	return types.Fill{
		Side:        side,
		Token:       token,
		FilledPrice: dec(price),
		FilledSize:  dec(size),
		Status:      types.FillConfirmed,
	}
}

func TestApplyFillBuyYes(t *testing.T) {
	t.Parallel()
	g := newTestGate("1000")

	g.ApplyFill(confirmedFill(types.BUY, types.YES, "0.50", "10"))

	pos := g.Snapshot()
	if !pos.YesTokens.Equal(dec("10")) {
		t.Errorf("YesTokens = %v, want 10", pos.YesTokens)
	}
	if !pos.YesAvgEntry.Equal(dec("0.50")) {
		t.Errorf("YesAvgEntry = %v, want 0.50", pos.YesAvgEntry)
	}
	if !pos.CashDeployed.Equal(dec("5")) {
		t.Errorf("CashDeployed = %v, want 5", pos.CashDeployed)
	}
}

func TestApplyFillBuyYesMultipleWeightedAvg(t *testing.T) {
	t.Parallel()
	g := newTestGate("1000")

	g.ApplyFill(confirmedFill(types.BUY, types.YES, "0.50", "10"))
	g.ApplyFill(confirmedFill(types.BUY, types.YES, "0.60", "10"))

	pos := g.Snapshot()
	if !pos.YesTokens.Equal(dec("20")) {
		t.Errorf("YesTokens = %v, want 20", pos.YesTokens)
	}
	// avg = (0.50*10 + 0.60*10) / 20 = 0.55
	if !pos.YesAvgEntry.Equal(dec("0.55")) {
		t.Errorf("YesAvgEntry = %v, want 0.55", pos.YesAvgEntry)
	}
}

func TestApplyFillSellYesRealizesPnL(t *testing.T) {
	t.Parallel()
	g := newTestGate("1000")

	g.ApplyFill(confirmedFill(types.BUY, types.YES, "0.50", "10"))
	g.ApplyFill(confirmedFill(types.SELL, types.YES, "0.60", "5"))

	pos := g.Snapshot()
	if !pos.YesTokens.Equal(dec("5")) {
		t.Errorf("YesTokens = %v, want 5", pos.YesTokens)
	}
	// realized = (0.60 - 0.50) * 5 = 0.50
	if !pos.RealizedPnL.Equal(dec("0.5")) {
		t.Errorf("RealizedPnL = %v, want 0.5", pos.RealizedPnL)
	}
}

func TestApplyFillSellAllYesResetsAvgEntry(t *testing.T) {
	t.Parallel()
	g := newTestGate("1000")

	g.ApplyFill(confirmedFill(types.BUY, types.YES, "0.40", "10"))
	g.ApplyFill(confirmedFill(types.SELL, types.YES, "0.50", "10"))

	pos := g.Snapshot()
	if !pos.YesTokens.IsZero() {
		t.Errorf("YesTokens = %v, want 0", pos.YesTokens)
	}
	if !pos.YesAvgEntry.IsZero() {
		t.Errorf("YesAvgEntry = %v, want 0 after full close", pos.YesAvgEntry)
	}
	if !pos.RealizedPnL.Equal(dec("1.0")) {
		t.Errorf("RealizedPnL = %v, want 1.0", pos.RealizedPnL)
	}
	if !pos.CashDeployed.IsZero() {
		t.Errorf("CashDeployed = %v, want 0 after full close", pos.CashDeployed)
	}
}

func TestApplyFillIgnoresNonConfirmed(t *testing.T) {
	t.Parallel()
	g := newTestGate("1000")

	g.ApplyFill(types.Fill{Side: types.BUY, Token: types.YES, FilledPrice: dec("0.5"), FilledSize: dec("10"), Status: types.FillMatched})

	pos := g.Snapshot()
	if !pos.YesTokens.IsZero() {
		t.Errorf("MATCHED fill should not move balances, got YesTokens = %v", pos.YesTokens)
	}
}

func TestCanBuyRespectsExposureCap(t *testing.T) {
	t.Parallel()
	g := newTestGate("100")

	if !g.CanBuy(dec("100")) {
		t.Error("CanBuy(100) should be true at exactly the cap")
	}
	if g.CanBuy(dec("100.01")) {
		t.Error("CanBuy(100.01) should be false beyond the cap")
	}

	g.ApplyFill(confirmedFill(types.BUY, types.YES, "0.50", "100")) // cash_deployed = 50
	if !g.CanBuy(dec("50")) {
		t.Error("CanBuy(50) should be true with 50 remaining room")
	}
	if g.CanBuy(dec("50.01")) {
		t.Error("CanBuy(50.01) should be false: exceeds remaining room")
	}
}

func TestRemainingRoomBuyVsSell(t *testing.T) {
	t.Parallel()
	g := newTestGate("100")
	g.ApplyFill(confirmedFill(types.BUY, types.YES, "0.50", "100")) // cash_deployed = 50

	if !g.RemainingRoom(types.BUY, types.YES).Equal(dec("50")) {
		t.Errorf("RemainingRoom(BUY) = %v, want 50", g.RemainingRoom(types.BUY, types.YES))
	}
	if !g.RemainingRoom(types.SELL, types.YES).Equal(dec("100")) {
		t.Errorf("RemainingRoom(SELL) = %v, want 100 (uncapped)", g.RemainingRoom(types.SELL, types.YES))
	}
}

func TestClaimAndReleaseInflightSingleFlight(t *testing.T) {
	t.Parallel()
	g := newTestGate("1000")

	if g.InFlight() {
		t.Fatal("new gate should not be in-flight")
	}
	if !g.ClaimInflight() {
		t.Fatal("first claim should succeed")
	}
	if g.ClaimInflight() {
		t.Fatal("second claim should fail while in-flight")
	}
	if !g.InFlight() {
		t.Fatal("InFlight() should report true after claim")
	}

	g.ReleaseInflight()
	if g.InFlight() {
		t.Fatal("InFlight() should report false after release")
	}
	g.ReleaseInflight() // idempotent
	if !g.ClaimInflight() {
		t.Fatal("claim should succeed again after release")
	}
}

func TestRestoreSeedsPosition(t *testing.T) {
	t.Parallel()
	g := newTestGate("1000")

	g.Restore(Position{
		YesTokens:    dec("42"),
		YesAvgEntry:  dec("0.55"),
		CashDeployed: dec("23.1"),
		RealizedPnL:  dec("3"),
	})

	pos := g.Snapshot()
	if !pos.YesTokens.Equal(dec("42")) {
		t.Errorf("YesTokens = %v, want 42", pos.YesTokens)
	}
	if !pos.CashDeployed.Equal(dec("23.1")) {
		t.Errorf("CashDeployed = %v, want 23.1", pos.CashDeployed)
	}
}
