package exchange

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"

	"polytaker/pkg/types"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestPriceToAmounts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		price    string
		size     string
		side     types.Side
		tickSize types.TickSize
		wantMkr  int64 // expected makerAmount (6 decimal USDC)
		wantTkr  int64 // expected takerAmount (6 decimal USDC)
	}{
		{
			name:     "BUY at 0.50, size 100",
			price:    "0.50",
			size:     "100.0",
			side:     types.BUY,
			tickSize: types.Tick001,
			wantMkr:  50_000_000,  // 100 * 0.50 = 50 USDC
			wantTkr:  100_000_000, // 100 tokens
		},
		{
			name:     "SELL at 0.50, size 100",
			price:    "0.50",
			size:     "100.0",
			side:     types.SELL,
			tickSize: types.Tick001,
			wantMkr:  100_000_000, // 100 tokens
			wantTkr:  50_000_000,  // 100 * 0.50 = 50 USDC
		},
		{
			name:     "BUY at 0.75, size 10",
			price:    "0.75",
			size:     "10.0",
			side:     types.BUY,
			tickSize: types.Tick001,
			wantMkr:  7_500_000,  // 10 * 0.75 = 7.5 USDC
			wantTkr:  10_000_000, // 10 tokens
		},
		{
			name:     "BUY small size truncated",
			price:    "0.55",
			size:     "1.999", // truncated to 1.99
			side:     types.BUY,
			tickSize: types.Tick001,
			wantMkr:  1_094_500, // truncate(1.99 * 0.55, 4) = 1.0945 -> 1094500
			wantTkr:  1_990_000, // 1.99 tokens
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			mkr, tkr := PriceToAmounts(dec(tt.price), dec(tt.size), tt.side, tt.tickSize)

			if mkr.Cmp(big.NewInt(tt.wantMkr)) != 0 {
				t.Errorf("makerAmount = %s, want %d", mkr.String(), tt.wantMkr)
			}
			if tkr.Cmp(big.NewInt(tt.wantTkr)) != 0 {
				t.Errorf("takerAmount = %s, want %d", tkr.String(), tt.wantTkr)
			}
		})
	}
}

func TestPriceToAmountsSellMirrorsBuy(t *testing.T) {
	t.Parallel()

	// For the same price/size, BUY's maker == SELL's taker (USDC)
	// and BUY's taker == SELL's maker (tokens)
	buyMkr, buyTkr := PriceToAmounts(dec("0.60"), dec("50.0"), types.BUY, types.Tick001)
	sellMkr, sellTkr := PriceToAmounts(dec("0.60"), dec("50.0"), types.SELL, types.Tick001)

	if buyMkr.Cmp(sellTkr) != 0 {
		t.Errorf("BUY maker (%s) != SELL taker (%s)", buyMkr, sellTkr)
	}
	if buyTkr.Cmp(sellMkr) != 0 {
		t.Errorf("BUY taker (%s) != SELL maker (%s)", buyTkr, sellMkr)
	}
}

func TestNewSaltUniqueAndInRange(t *testing.T) {
	t.Parallel()

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		salt, err := NewSalt()
		if err != nil {
			t.Fatalf("NewSalt() error: %v", err)
		}
		if salt.Sign() < 0 {
			t.Fatalf("NewSalt() returned negative value: %s", salt.String())
		}
		if salt.Cmp(saltMax) > 0 {
			t.Fatalf("NewSalt() returned value above 2^256-1: %s", salt.String())
		}
		s := salt.String()
		if seen[s] {
			t.Fatalf("NewSalt() returned duplicate value across 50 draws: %s", s)
		}
		seen[s] = true
	}
}

func TestBuildSignedOrderExpiration(t *testing.T) {
	t.Parallel()

	privHex := "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
	auth, err := NewAuth(testConfig(privHex))
	if err != nil {
		t.Fatalf("NewAuth() error: %v", err)
	}

	salt, _ := NewSalt()
	base := types.FakOrder{
		Token:      types.YES,
		TokenID:    "123",
		Side:       types.BUY,
		LimitPrice: dec("0.50"),
		Size:       dec("10"),
		Salt:       salt,
		TickSize:   types.Tick001,
	}

	fok := base
	fok.OrderType = types.OrderTypeFOK
	signedFOK, err := auth.BuildSignedOrder(fok, 0)
	if err != nil {
		t.Fatalf("BuildSignedOrder(FOK) error: %v", err)
	}
	if signedFOK.Expiration != "0" {
		t.Errorf("FOK expiration = %q, want \"0\"", signedFOK.Expiration)
	}

	gtd := base
	gtd.OrderType = types.OrderTypeGTD
	signedGTD, err := auth.BuildSignedOrder(gtd, 0)
	if err != nil {
		t.Fatalf("BuildSignedOrder(GTD) error: %v", err)
	}
	if signedGTD.Expiration == "0" {
		t.Errorf("GTD expiration should not be \"0\"")
	}
	if signedGTD.Signature == "" {
		t.Errorf("GTD order missing signature")
	}
}
