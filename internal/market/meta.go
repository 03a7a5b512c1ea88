package market

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"polytaker/internal/config"
	"polytaker/pkg/types"
)

// GammaMarket is the JSON shape returned by the Gamma API for a single market.
type GammaMarket struct {
	ID                    string `json:"id"`
	Question              string `json:"question"`
	ConditionID           string `json:"conditionId"`
	Slug                  string `json:"slug"`
	Active                bool   `json:"active"`
	Closed                bool   `json:"closed"`
	AcceptingOrders       bool   `json:"acceptingOrders"`
	EnableOrderBook       bool   `json:"enableOrderBook"`
	ClobTokenIds          string `json:"clobTokenIds"`
	NegRisk               bool   `json:"negRisk"`
	OrderPriceMinTickSize float64 `json:"orderPriceMinTickSize"`
	OrderMinSize          float64 `json:"orderMinSize"`
}

// MetaClient fetches the single configured market's metadata from the Gamma
// API at startup. Unlike a multi-market scanner, it runs once: the engine is
// wired to one condition ID for its lifetime, so there is nothing to poll.
type MetaClient struct {
	http *resty.Client
}

// NewMetaClient creates a Gamma API metadata client.
func NewMetaClient(cfg config.Config) *MetaClient {
	client := resty.New().
		SetBaseURL(cfg.API.GammaBaseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second)
	return &MetaClient{http: client}
}

// FetchMarketMeta looks up the configured market by condition ID and
// resolves its YES/NO token IDs and tick size. If the config carries a
// tick size override, the Gamma lookup's tick size is ignored.
func (m *MetaClient) FetchMarketMeta(ctx context.Context, cfg config.MarketConfig) (*types.MarketMeta, error) {
	var page []GammaMarket
	resp, err := m.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"condition_ids": cfg.ConditionID,
		}).
		SetResult(&page).
		Get("/markets")
	if err != nil {
		return nil, fmt.Errorf("fetch market %s: %w", cfg.ConditionID, err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("fetch market %s: status %d", cfg.ConditionID, resp.StatusCode())
	}
	if len(page) == 0 {
		return nil, fmt.Errorf("market %s not found", cfg.ConditionID)
	}

	gm := page[0]
	if !gm.Active || gm.Closed || !gm.AcceptingOrders || !gm.EnableOrderBook {
		return nil, fmt.Errorf("market %s is not tradeable (active=%v closed=%v accepting=%v orderbook=%v)",
			cfg.ConditionID, gm.Active, gm.Closed, gm.AcceptingOrders, gm.EnableOrderBook)
	}

	var tokenIDs []string
	if gm.ClobTokenIds != "" {
		if err := json.Unmarshal([]byte(gm.ClobTokenIds), &tokenIDs); err != nil {
			return nil, fmt.Errorf("parse clobTokenIds: %w", err)
		}
	}
	if len(tokenIDs) < 2 {
		return nil, fmt.Errorf("market %s missing YES/NO token ids", cfg.ConditionID)
	}

	yesToken, noToken := tokenIDs[0], tokenIDs[1]
	if cfg.YesTokenID != "" {
		yesToken = cfg.YesTokenID
	}
	if cfg.NoTokenID != "" {
		noToken = cfg.NoTokenID
	}

	tickSize := tickSizeFromOverride(cfg.TickSizeOverride)
	if tickSize == "" {
		tickSize = tickSizeFromFloat(gm.OrderPriceMinTickSize)
	}

	return &types.MarketMeta{
		ConditionID:  gm.ConditionID,
		Slug:         gm.Slug,
		YesTokenID:   yesToken,
		NoTokenID:    noToken,
		TickSize:     tickSize,
		MinOrderSize: decimal.NewFromFloat(gm.OrderMinSize),
		NegRisk:      gm.NegRisk,
	}, nil
}

func tickSizeFromOverride(s string) types.TickSize {
	switch s {
	case string(types.Tick01), string(types.Tick001), string(types.Tick0001), string(types.Tick00001):
		return types.TickSize(s)
	default:
		return ""
	}
}

func tickSizeFromFloat(v float64) types.TickSize {
	switch {
	case v == 0.1:
		return types.Tick01
	case v == 0.001:
		return types.Tick0001
	case v == 0.0001:
		return types.Tick00001
	default:
		return types.Tick001
	}
}
