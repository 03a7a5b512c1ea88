// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the bot — order types, market
// metadata, order book levels, oracle signals, and WebSocket event payloads.
// It has no dependencies on internal packages, so it can be imported by any
// layer. Every rational quantity (price, size, pnl) is a decimal.Decimal —
// floats accumulate rounding error across the fill-reconciliation path that
// the tick-rounding and exposure invariants can't tolerate.
package types

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// Outcome identifies which of the two binary outcome tokens an order,
// book side, or position leg refers to.
type Outcome string

const (
	YES Outcome = "YES"
	NO  Outcome = "NO"
)

// Opposite returns the other outcome token.
func (o Outcome) Opposite() Outcome {
	if o == YES {
		return NO
	}
	return YES
}

// OrderType enumerates the order lifecycles this engine is allowed to use.
// The engine never rests orders, so GTC is deliberately absent.
type OrderType string

const (
	OrderTypeFOK OrderType = "FOK" // fill-or-kill: full fill or nothing, expiration=0
	OrderTypeGTD OrderType = "GTD" // good-til-date, ~1s expiration: true FAK (partial fills allowed)
)

// SignatureType identifies the signing scheme for the CTF exchange contract.
type SignatureType int

const (
	SigEOA        SignatureType = 0 // externally-owned account (standard wallet) — conservative default
	SigProxy      SignatureType = 1 // Polymarket proxy / Magic wallet
	SigGnosisSafe SignatureType = 2 // Gnosis Safe multisig
)

// TickSize represents the price granularity for a market. Polymarket supports
// four tick sizes; each market has a fixed tick size that determines the
// minimum price increment and USDC amount rounding precision.
type TickSize string

const (
	Tick01    TickSize = "0.1"    // 1 decimal  — coarse markets
	Tick001   TickSize = "0.01"   // 2 decimals — standard markets (most common)
	Tick0001  TickSize = "0.001"  // 3 decimals — fine-grained markets
	Tick00001 TickSize = "0.0001" // 4 decimals — ultra-precise markets
)

// Decimals returns the number of decimal places for a tick size.
func (t TickSize) Decimals() int {
	switch t {
	case Tick01:
		return 1
	case Tick001:
		return 2
	case Tick0001:
		return 3
	case Tick00001:
		return 4
	default:
		return 2
	}
}

// AmountDecimals returns the rounding precision for USDC amounts.
func (t TickSize) AmountDecimals() int {
	switch t {
	case Tick01:
		return 3
	case Tick001:
		return 4
	case Tick0001:
		return 5
	case Tick00001:
		return 6
	default:
		return 4
	}
}

// Value returns the tick size as a Decimal (e.g. "0.01" -> 0.01).
func (t TickSize) Value() decimal.Decimal {
	d, err := decimal.NewFromString(string(t))
	if err != nil {
		return decimal.New(1, -2) // 0.01 default
	}
	return d
}

// ————————————————————————————————————————————————————————————————————————
// Market metadata
// ————————————————————————————————————————————————————————————————————————

// MarketMeta is the target market's static metadata: tick size, minimum
// order size, and neg-risk flag. Resolved once at startup from the Gamma
// API (see market.FetchMarketMeta) rather than discovered by scanning —
// this engine trades exactly one market, configured by condition/token ID.
type MarketMeta struct {
	ConditionID  string
	Slug         string
	YesTokenID   string
	NoTokenID    string
	TickSize     TickSize
	MinOrderSize decimal.Decimal
	NegRisk      bool
}

// ————————————————————————————————————————————————————————————————————————
// Order book
// ————————————————————————————————————————————————————————————————————————

// PriceLevel is a single (price, depth) pair. Depth is the quantity resting
// at that price in base (outcome-token) units.
type PriceLevel struct {
	Price decimal.Decimal
	Depth decimal.Decimal
}

// RawPriceLevel is the wire representation of a PriceLevel — the CLOB API
// sends price/size as strings to preserve decimal precision.
type RawPriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// BookResponse is the REST response from GET /book for a single token.
// Used only to bootstrap the book before the WebSocket "book" snapshot
// arrives, or to resync after a crossed-book resubscribe.
type BookResponse struct {
	Market       string          `json:"market"`
	AssetID      string          `json:"asset_id"`
	Bids         []RawPriceLevel `json:"bids"`
	Asks         []RawPriceLevel `json:"asks"`
	Hash         string          `json:"hash"`
	Timestamp    string          `json:"timestamp"`
	MinOrderSize string          `json:"min_order_size"`
	TickSize     string          `json:"tick_size"`
	NegRisk      bool            `json:"neg_risk"`
}

// ————————————————————————————————————————————————————————————————————————
// Oracle
// ————————————————————————————————————————————————————————————————————————

// OracleSignal is a fair-value estimate for the target market, published
// by an external oracle service. YesProbability + NoProbability must sum
// to 1 within a configured epsilon or the signal is rejected as malformed.
type OracleSignal struct {
	YesProbability decimal.Decimal `json:"yes_probability"`
	NoProbability  decimal.Decimal `json:"no_probability"`
	Confidence     decimal.Decimal `json:"confidence"`
	MatchID        string          `json:"match_id"`
	TsMs           int64           `json:"timestamp_ms"`
}

// ————————————————————————————————————————————————————————————————————————
// Orders
// ————————————————————————————————————————————————————————————————————————

// FakOrder is the immutable, fully-built order the decision loop hands to
// the submitter. Once constructed it is never mutated — Salt and
// ClientNonce are assigned exactly once at build time.
type FakOrder struct {
	Token       Outcome
	TokenID     string
	Side        Side
	LimitPrice  decimal.Decimal
	Size        decimal.Decimal
	ClientNonce string
	Salt        *big.Int
	TickSize    TickSize
	OrderType   OrderType
	BuiltAt     time.Time
}

// SignedOrder is the on-chain order format the CLOB API expects.
// MakerAmount and TakerAmount are in 6-decimal USDC units (1e6 = $1).
//
// For BUY:  maker gives MakerAmount USDC, receives TakerAmount tokens
// For SELL: maker gives MakerAmount tokens, receives TakerAmount USDC
type SignedOrder struct {
	Salt          string        `json:"salt"`
	Maker         string        `json:"maker"`       // funder/proxy wallet address
	Signer        string        `json:"signer"`      // EOA that signs the order
	Taker         string        `json:"taker"`       // zero address = open order
	TokenID       string        `json:"tokenId"`     // CTF token ID
	MakerAmount   *big.Int      `json:"makerAmount"` // what maker gives (scaled to 1e6)
	TakerAmount   *big.Int      `json:"takerAmount"` // what maker receives (scaled to 1e6)
	Side          Side          `json:"side"`
	Expiration    string        `json:"expiration"`    // unix timestamp as string; "0" = no expiry (FOK)
	Nonce         string        `json:"nonce"`         // replay protection, always "0"
	FeeRateBps    string        `json:"feeRateBps"`    // fee in basis points as string
	SignatureType SignatureType `json:"signatureType"` // 0 = EOA
	Signature     string        `json:"signature"`     // EIP-712 signature hex
}

// OrderPayload is the REST API request body for POST /order.
type OrderPayload struct {
	Order     SignedOrder `json:"order"`
	Owner     string      `json:"owner"` // API key of the order owner
	OrderType OrderType   `json:"orderType"`
}

// OrderResponse is the REST API response to a single order POST.
type OrderResponse struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg"`
	OrderID  string `json:"orderID"`
	Status   string `json:"status"` // e.g. "live", "matched"
}

// OpenOrder represents a live resting order on the CLOB. No code path in
// this engine fetches open orders, so the type is currently unused — the
// engine never intends to leave an order resting.
type OpenOrder struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Market       string `json:"market"`
	AssetID      string `json:"asset_id"`
	Side         string `json:"side"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
	Price        string `json:"price"`
}

// CancelResponse is returned by DELETE /orders, /cancel-all, /cancel-market-orders.
type CancelResponse struct {
	Canceled []string `json:"canceled"`
}

// ————————————————————————————————————————————————————————————————————————
// Fills
// ————————————————————————————————————————————————————————————————————————

// FillStatus mirrors the order/trade lifecycle statuses the user channel
// reports.
type FillStatus string

const (
	FillMatched   FillStatus = "MATCHED"
	FillConfirmed FillStatus = "CONFIRMED"
	FillCancelled FillStatus = "CANCELLED"
	FillExpired   FillStatus = "EXPIRED"
)

// Terminal reports whether this status ends the order's lifecycle —
// terminal statuses release the in-flight slot in the Position Gate.
func (s FillStatus) Terminal() bool {
	switch s {
	case FillConfirmed, FillCancelled, FillExpired:
		return true
	default:
		return false
	}
}

// Fill records a single execution or terminal lifecycle event for an order
// this engine submitted.
type Fill struct {
	OrderID     string
	Side        Side
	Token       Outcome
	FilledPrice decimal.Decimal
	FilledSize  decimal.Decimal
	Status      FillStatus
	Timestamp   time.Time
}

// ————————————————————————————————————————————————————————————————————————
// WebSocket events
// ————————————————————————————————————————————————————————————————————————
// These structs map 1:1 to the JSON messages sent over the Polymarket
// WebSocket. Market channel events: "book" (full snapshot), "price_change"
// (delta), "last_trade_price" (informational tick). User channel events:
// "trade" (fill), "order" (placement/cancel lifecycle).

// WSBookEvent is a full order book snapshot from the market WS channel.
// Replaces the entire local book for the given asset.
type WSBookEvent struct {
	EventType string          `json:"event_type"` // always "book"
	AssetID   string          `json:"asset_id"`
	Market    string          `json:"market"` // condition ID
	Timestamp string          `json:"timestamp"`
	Hash      string          `json:"hash"`
	Buys      []RawPriceLevel `json:"buys"`
	Sells     []RawPriceLevel `json:"sells"`
}

// WSPriceChange is a single price level update within a price_change event.
type WSPriceChange struct {
	AssetID string `json:"asset_id"`
	Price   string `json:"price"`
	Size    string `json:"size"` // new depth at that level (0 = removed)
	Side    string `json:"side"` // "BUY" or "SELL"
	Hash    string `json:"hash"`
}

// WSPriceChangeEvent is an incremental order book update from the market WS.
// Contains one or more level changes applied atomically.
type WSPriceChangeEvent struct {
	EventType    string          `json:"event_type"` // always "price_change"
	Market       string          `json:"market"`
	Timestamp    string          `json:"timestamp"`
	PriceChanges []WSPriceChange `json:"price_changes"`
}

// WSLastTradePrice is an informational trade tick. It never mutates the
// book; the market feed queues it on LastTradeEvents, which the engine
// does not read.
type WSLastTradePrice struct {
	EventType string `json:"event_type"` // always "last_trade_price"
	AssetID   string `json:"asset_id"`
	Price     string `json:"price"`
	Side      string `json:"side"`
	Timestamp string `json:"timestamp"`
}

// WSTradeEvent is a fill notification from the user WS channel.
// Received when one of our orders gets matched against a maker.
type WSTradeEvent struct {
	EventType string `json:"event_type"` // always "trade"
	ID        string `json:"id"`         // trade ID
	Market    string `json:"market"`     // condition ID
	AssetID   string `json:"asset_id"`   // token ID that was traded
	Side      string `json:"side"`       // our side: "BUY" or "SELL"
	Size      string `json:"size"`       // filled quantity
	Price     string `json:"price"`      // fill price
	Outcome   string `json:"outcome"`    // "Yes" or "No"
	Status    string `json:"status"`     // "MATCHED" or "CONFIRMED"
	Timestamp string `json:"timestamp"`
}

// WSOrderEvent is an order lifecycle notification from the user WS channel.
// Received on order placement, match, cancellation, or expiry.
type WSOrderEvent struct {
	EventType    string `json:"event_type"` // always "order"
	ID           string `json:"id"`         // order ID
	Market       string `json:"market"`     // condition ID
	AssetID      string `json:"asset_id"`   // token ID
	Side         string `json:"side"`       // "BUY" or "SELL"
	Price        string `json:"price"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"` // cumulative filled
	Outcome      string `json:"outcome"`      // "Yes" or "No"
	Owner        string `json:"owner"`        // API key
	Timestamp    string `json:"timestamp"`
	Status       string `json:"status"` // "LIVE", "MATCHED", "CANCELLED", "EXPIRED"
}

// WSSubscribeMsg is the initial subscription message sent when connecting
// to a WebSocket channel. For user channels, Auth must be provided.
type WSSubscribeMsg struct {
	Auth     *WSAuth  `json:"auth,omitempty"`
	Type     string   `json:"type"` // "market" or "user"
	Markets  []string `json:"markets,omitempty"`
	AssetIDs []string `json:"assets_ids,omitempty"`
}

// WSAuth contains the L2 API credentials for authenticating the user WS channel.
type WSAuth struct {
	ApiKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// WSUpdateMsg is sent to dynamically subscribe or unsubscribe from channels
// after the initial connection is established.
type WSUpdateMsg struct {
	AssetIDs  []string `json:"assets_ids,omitempty"`
	Markets   []string `json:"markets,omitempty"`
	Operation string   `json:"operation"` // "subscribe" or "unsubscribe"
}
