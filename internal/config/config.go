// Package config defines all configuration for the trading engine.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via env vars.
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
	DryRun    bool            `mapstructure:"dry_run"`
	Wallet    WalletConfig    `mapstructure:"wallet"`
	API       APIConfig       `mapstructure:"api"`
	Reference ReferenceConfig `mapstructure:"reference"`
	Signal    SignalConfig    `mapstructure:"signal"`
	Strategy  StrategyConfig  `mapstructure:"strategy"`
	Exit      ExitConfig      `mapstructure:"exit"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Scanner   ScannerConfig   `mapstructure:"scanner"`
	Store     StoreConfig     `mapstructure:"store"`
	Logging   LoggingConfig   `mapstructure:"logging"`
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

// APIConfig holds Order Gateway endpoints and optional pre-derived L2 credentials.
// If ApiKey/Secret/Passphrase are empty, the bot derives them via L1 auth on startup.
type APIConfig struct {
	GatewayBaseURL   string `mapstructure:"gateway_base_url"`
	DiscoveryBaseURL string `mapstructure:"discovery_base_url"`
	WSBookURL        string `mapstructure:"ws_book_url"`
	WSUserURL        string `mapstructure:"ws_user_url"`
	ApiKey           string `mapstructure:"api_key"`
	Secret           string `mapstructure:"secret"`
	Passphrase       string `mapstructure:"passphrase"`
}

// ReferenceConfig points at the underlying spot/futures reference feed.
type ReferenceConfig struct {
	WSURL               string        `mapstructure:"ws_url"`
	FundingBaseURL      string        `mapstructure:"funding_base_url"`
	Assets              []string      `mapstructure:"assets"`
	FundingPollInterval time.Duration `mapstructure:"funding_poll_interval"`
	LiquidationWindow   time.Duration `mapstructure:"liquidation_window"`
}

// SignalConfig tunes the fair-probability model and its detectors.
type SignalConfig struct {
	RealizedVolMinSamples int     `mapstructure:"realized_vol_min_samples"`
	RealizedVolBlendPct   float64 `mapstructure:"realized_vol_blend_pct"` // fraction realized vs. constant
	MomentumMinSignal     float64 `mapstructure:"momentum_min_signal"`
	BiasMinConfidence     float64 `mapstructure:"bias_min_confidence"`
}

// StrategyConfig holds per-strategy enable flags, constants, and the
// market-type capital-allocation table.
type StrategyConfig struct {
	EnableArb      bool `mapstructure:"enable_arb"`
	EnableStraddle bool `mapstructure:"enable_straddle"`
	EnableLag      bool `mapstructure:"enable_lag"`
	EnableMaker    bool `mapstructure:"enable_maker"`
	EnableMomentum bool `mapstructure:"enable_momentum"`

	StraddleMaxCombined   float64 `mapstructure:"straddle_max_combined"`
	StraddleMaxCapitalPct float64 `mapstructure:"straddle_max_capital_pct"`
	BiasMaxCapitalPct     float64 `mapstructure:"bias_max_capital_pct"`
	ArbMinEdge            float64 `mapstructure:"arb_min_edge"`
	ArbMinExpectedProfit  float64 `mapstructure:"arb_min_expected_profit"`
	LagMinEdge            float64 `mapstructure:"lag_min_edge"`
	LagKellyFraction      float64 `mapstructure:"lag_kelly_fraction"`
	MMBaseSizePct         float64 `mapstructure:"mm_base_size_pct"`
	MomentumMinSignal     float64 `mapstructure:"momentum_min_signal"`

	// Gamma/Sigma/K/T parameterize the Avellaneda-Stoikov reservation price
	// and spread used by the market-maker engine.
	Gamma float64 `mapstructure:"gamma"`
	Sigma float64 `mapstructure:"sigma"`
	K     float64 `mapstructure:"k"`
	T     float64 `mapstructure:"t"`

	// CapitalAllocation maps a market-type key (e.g. "BTC-5m") to the
	// fraction of available capital it's entitled to. Must sum to 1.0
	// within 1%.
	CapitalAllocation map[string]float64 `mapstructure:"capital_allocation"`
}

// ExitConfig holds the Exit Controller's price-escalation constants.
type ExitConfig struct {
	TakeProfitPct       float64 `mapstructure:"take_profit_pct"`
	StopLossPct         float64 `mapstructure:"stop_loss_pct"`
	MaxHoldSecs         int     `mapstructure:"max_hold_secs"`
	PreResolveExitSecs  int     `mapstructure:"pre_resolve_exit_secs"`
	ForceExitRemaining  int     `mapstructure:"force_exit_remaining_secs"`
}

// RiskConfig sets the portfolio-level limits the Risk Manager enforces.
type RiskConfig struct {
	MaxExposurePct      float64 `mapstructure:"max_exposure_pct"`
	MaxDailyLossPct     float64 `mapstructure:"max_daily_loss_pct"`
	LossStreakThreshold int     `mapstructure:"loss_streak_threshold"`
	LossStreakSizeMult  float64 `mapstructure:"loss_streak_size_mult"`
	PauseDurationSecs   int     `mapstructure:"pause_duration_secs"`
	MaxSessionLossPct   float64 `mapstructure:"max_session_loss_pct"`
}

// ScannerConfig controls how the bot discovers and filters tradeable markets.
// The scanner polls the discovery endpoint and ranks markets by opportunity
// score: score = spread * sqrt(volume24h) * min(liquidity/10000, 1).
type ScannerConfig struct {
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	MinLiquidity   float64       `mapstructure:"min_liquidity"`
	MinVolume24h   float64       `mapstructure:"min_volume_24h"`
	MinSpread      float64       `mapstructure:"min_spread"`
	MaxEndDateDays int           `mapstructure:"max_end_date_days"`
	ExcludeSlugs   []string      `mapstructure:"exclude_slugs"`
}

// StoreConfig sets where the fill/resolution audit log is written.
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("BOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("BOT_PRIVATE_KEY"); key != "" {
		cfg.Wallet.PrivateKey = key
	}
	if key := os.Getenv("BOT_API_KEY"); key != "" {
		cfg.API.ApiKey = key
	}
	if secret := os.Getenv("BOT_API_SECRET"); secret != "" {
		cfg.API.Secret = secret
	}
	if pass := os.Getenv("BOT_PASSPHRASE"); pass != "" {
		cfg.API.Passphrase = pass
	}
	if os.Getenv("BOT_DRY_RUN") == "true" || os.Getenv("BOT_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges. A failure here is
// fatal and aborts startup.
func (c *Config) Validate() error {
	if c.Wallet.PrivateKey == "" && !c.DryRun {
		return fmt.Errorf("wallet.private_key is required outside dry-run (set BOT_PRIVATE_KEY)")
	}
	switch c.Wallet.SignatureType {
	case 0, 1, 2:
	default:
		return fmt.Errorf("wallet.signature_type must be one of: 0 (EOA), 1 (proxy), 2 (Gnosis Safe)")
	}
	if c.Wallet.SignatureType != 0 && c.Wallet.FunderAddress == "" {
		return fmt.Errorf("wallet.funder_address is required when wallet.signature_type is 1 or 2")
	}
	if c.API.GatewayBaseURL == "" {
		return fmt.Errorf("api.gateway_base_url is required")
	}
	if c.Risk.MaxExposurePct <= 0 || c.Risk.MaxExposurePct > 1 {
		return fmt.Errorf("risk.max_exposure_pct must be in (0, 1]")
	}

	var allocSum float64
	for _, frac := range c.Strategy.CapitalAllocation {
		allocSum += frac
	}
	if len(c.Strategy.CapitalAllocation) > 0 {
		if allocSum < 0.99 || allocSum > 1.01 {
			return fmt.Errorf("strategy.capital_allocation fractions must sum to 1.0 within 1%%, got %.4f", allocSum)
		}
	}

	return nil
}
