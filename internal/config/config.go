// Package config defines all configuration for the taker bot.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via POLY_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	DryRun   bool           `mapstructure:"dry_run"`
	Wallet   WalletConfig   `mapstructure:"wallet"`
	API      APIConfig      `mapstructure:"api"`
	Market   MarketConfig   `mapstructure:"market"`
	Oracle   OracleConfig   `mapstructure:"oracle"`
	Decision DecisionConfig `mapstructure:"decision"`
	Risk     RiskConfig     `mapstructure:"risk"`
	Store    StoreConfig    `mapstructure:"store"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// WalletConfig holds the Ethereum wallet used for signing orders.
// PrivateKey signs L1 (EIP-712) auth and derives L2 API keys.
// FunderAddress is the on-chain address that funds orders (may differ from signer if using a proxy).
type WalletConfig struct {
	PrivateKey    string `mapstructure:"private_key"`
	SignatureType int    `mapstructure:"signature_type"`
	FunderAddress string `mapstructure:"funder_address"`
	ChainID       int    `mapstructure:"chain_id"`
}

// APIConfig holds Polymarket API endpoints and optional pre-derived L2 credentials.
// If ApiKey/Secret/Passphrase are empty, the bot derives them via L1 auth on startup.
type APIConfig struct {
	CLOBBaseURL  string `mapstructure:"clob_base_url"`
	GammaBaseURL string `mapstructure:"gamma_base_url"`
	WSMarketURL  string `mapstructure:"ws_market_url"`
	WSUserURL    string `mapstructure:"ws_user_url"`
	ApiKey       string `mapstructure:"api_key"`
	Secret       string `mapstructure:"secret"`
	Passphrase   string `mapstructure:"passphrase"`
}

// MarketConfig identifies the single market this engine trades and its
// static trading parameters. Unlike the scanner-driven multi-market design,
// the condition/token IDs are configured directly — tick size and min
// order size are resolved once at startup via market.FetchMarketMeta;
// only the tick size can be overridden here (TickSizeOverride).
type MarketConfig struct {
	ConditionID     string `mapstructure:"condition_id"`
	YesTokenID      string `mapstructure:"yes_token_id"`
	NoTokenID       string `mapstructure:"no_token_id"`
	TickSizeOverride string `mapstructure:"tick_size_override"`
}

// OracleConfig controls how the fair-value signal is obtained.
//
//   - Mode: "poll" (resty GET on an interval) or "push" (WebSocket feed).
//   - PollInterval: time between polls in poll mode.
//   - SignalTTL: a signal older than this, measured from receipt time, is
//     considered stale and the decision loop will not act on it.
//   - EpsilonSum: max allowed deviation of YesProbability+NoProbability from 1.
//   - MaxSkew: max allowed difference between a signal's embedded ts_ms
//     and wall-clock receipt time; a signal outside this bound is rejected
//     as malformed even if it arrives promptly — this catches a stale or
//     clock-skewed upstream publisher that SignalTTL (keyed off receipt
//     time) cannot see.
type OracleConfig struct {
	URL          string        `mapstructure:"url"`
	Mode         string        `mapstructure:"mode"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	SignalTTL    time.Duration `mapstructure:"signal_ttl"`
	EpsilonSum   float64       `mapstructure:"epsilon_sum"`
	MaxSkew      time.Duration `mapstructure:"max_skew"`
}

// DecisionConfig tunes the edge-detection and order-sizing logic.
//
//   - EdgeThreshold: minimum |oracle_probability - book_price| to act on.
//   - PriceOffset: rational slippage allowance added to the limit price
//     beyond the oracle fair value, in the taker's favor direction (e.g.
//     0.005) — not necessarily a whole multiple of the market's tick size.
//   - LiquidityTakePct: fraction of visible depth at or better than the
//     limit price (summed across levels) to size into.
//   - MinOrderSizeQuote / MaxOrderSizeQuote: USD notional floor/ceiling.
//   - OrderType: "FOK" or "GTD" (GTD used as true FAK, partial fills ok).
//   - CooldownAfterFill: quiet period after a terminal order outcome
//     before the loop evaluates again.
//   - InflightTimeout: force-release the in-flight slot if no terminal
//     status arrives within this window (network partition guard).
type DecisionConfig struct {
	EdgeThreshold     float64       `mapstructure:"edge_threshold"`
	PriceOffset       float64       `mapstructure:"price_offset"`
	LiquidityTakePct  float64       `mapstructure:"liquidity_take_pct"`
	MinOrderSizeQuote float64       `mapstructure:"min_order_size_quote"`
	MaxOrderSizeQuote float64       `mapstructure:"max_order_size_quote"`
	OrderType         string        `mapstructure:"order_type"`
	FeeRateBps        int           `mapstructure:"fee_rate_bps"`
	CooldownAfterFill time.Duration `mapstructure:"cooldown_after_fill"`
	InflightTimeout   time.Duration `mapstructure:"inflight_timeout"`
}

// RiskConfig sets the Position Gate's hard exposure limit.
//
//   - MaxExposureQuote: max USD cash deployed into the position at once.
type RiskConfig struct {
	MaxExposureQuote float64 `mapstructure:"max_exposure_quote"`
}

// StoreConfig sets where position data is persisted (a single position.json file).
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: POLY_PRIVATE_KEY, POLY_API_KEY, POLY_API_SECRET, POLY_PASSPHRASE.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("POLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive fields from env
	if key := os.Getenv("POLY_PRIVATE_KEY"); key != "" {
		cfg.Wallet.PrivateKey = key
	}
	if key := os.Getenv("POLY_API_KEY"); key != "" {
		cfg.API.ApiKey = key
	}
	if secret := os.Getenv("POLY_API_SECRET"); secret != "" {
		cfg.API.Secret = secret
	}
	if pass := os.Getenv("POLY_PASSPHRASE"); pass != "" {
		cfg.API.Passphrase = pass
	}
	if os.Getenv("POLY_DRY_RUN") == "true" || os.Getenv("POLY_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Wallet.PrivateKey == "" {
		return fmt.Errorf("wallet.private_key is required (set POLY_PRIVATE_KEY)")
	}
	if c.Wallet.ChainID == 0 {
		return fmt.Errorf("wallet.chain_id is required (137 for mainnet)")
	}
	switch c.Wallet.SignatureType {
	case 0, 1, 2:
	default:
		return fmt.Errorf("wallet.signature_type must be one of: 0 (EOA), 1 (POLY_PROXY), 2 (GNOSIS_SAFE)")
	}
	if c.Wallet.SignatureType != 0 && c.Wallet.FunderAddress == "" {
		return fmt.Errorf("wallet.funder_address is required when wallet.signature_type is 1 or 2")
	}
	if c.API.CLOBBaseURL == "" {
		return fmt.Errorf("api.clob_base_url is required")
	}
	if c.Market.ConditionID == "" {
		return fmt.Errorf("market.condition_id is required")
	}
	if c.Market.YesTokenID == "" || c.Market.NoTokenID == "" {
		return fmt.Errorf("market.yes_token_id and market.no_token_id are required")
	}
	if c.Oracle.URL == "" {
		return fmt.Errorf("oracle.url is required")
	}
	switch c.Oracle.Mode {
	case "poll", "push":
	default:
		return fmt.Errorf("oracle.mode must be 'poll' or 'push'")
	}
	if c.Oracle.SignalTTL <= 0 {
		return fmt.Errorf("oracle.signal_ttl must be > 0")
	}
	if c.Oracle.MaxSkew <= 0 {
		return fmt.Errorf("oracle.max_skew must be > 0")
	}
	if c.Decision.EdgeThreshold <= 0 {
		return fmt.Errorf("decision.edge_threshold must be > 0")
	}
	if c.Decision.LiquidityTakePct <= 0 || c.Decision.LiquidityTakePct > 1 {
		return fmt.Errorf("decision.liquidity_take_pct must be in (0, 1]")
	}
	if c.Decision.MinOrderSizeQuote <= 0 {
		return fmt.Errorf("decision.min_order_size_quote must be > 0")
	}
	if c.Decision.MaxOrderSizeQuote < c.Decision.MinOrderSizeQuote {
		return fmt.Errorf("decision.max_order_size_quote must be >= min_order_size_quote")
	}
	switch c.Decision.OrderType {
	case "FOK", "GTD":
	default:
		return fmt.Errorf("decision.order_type must be 'FOK' or 'GTD'")
	}
	if c.Risk.MaxExposureQuote <= 0 {
		return fmt.Errorf("risk.max_exposure_quote must be > 0")
	}
	return nil
}
