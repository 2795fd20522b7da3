package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the daemon configuration: HTTP surfaces plus the instrument and
// venue blocks the engine is assembled from.
type Config struct {
	RPCAddress     string `toml:"RPCAddress"`
	MetricsAddress string `toml:"MetricsAddress"`
	LogLevel       string `toml:"LogLevel"`
	Environment    string `toml:"Environment"`

	Instrument Instrument `toml:"instrument"`
	Venue      Venue      `toml:"venue"`
}

// Instrument describes one leveraged position: its asset triple, fee, the
// leverage band, and the seeding amounts applied on first start. Ratios are
// decimal strings ("2.0"); amounts are integer strings in base units.
type Instrument struct {
	CollateralAsset string `toml:"CollateralAsset"`
	DebtAsset       string `toml:"DebtAsset"`
	ShareAsset      string `toml:"ShareAsset"`

	FeeRateBps     uint64 `toml:"FeeRateBps"`
	TargetLeverage string `toml:"TargetLeverage"`
	MinLeverage    string `toml:"MinLeverage"`
	MaxLeverage    string `toml:"MaxLeverage"`
	MaxDrift       string `toml:"MaxDrift"`
	MaxIncentive   string `toml:"MaxIncentive"`
	MaxShareSupply string `toml:"MaxShareSupply"`

	InitialCollateral string `toml:"InitialCollateral"`
	InitialDebt       string `toml:"InitialDebt"`
	InitialShares     string `toml:"InitialShares"`
	InitialFunding    string `toml:"InitialFunding"`
}

// Venue describes the in-process market the engine trades against: account
// addresses, the swap pair, the money market, and the oracle rate.
type Venue struct {
	EngineAddress       string `toml:"EngineAddress"`
	OwnerAddress        string `toml:"OwnerAddress"`
	FeeRecipientAddress string `toml:"FeeRecipientAddress"`
	MarketAddress       string `toml:"MarketAddress"`
	PairAddress         string `toml:"PairAddress"`

	SwapFeeBps       uint64 `toml:"SwapFeeBps"`
	CollateralFactor string `toml:"CollateralFactor"`
	CollateralPrice  string `toml:"CollateralPrice"`

	PairCollateralReserve string `toml:"PairCollateralReserve"`
	PairDebtReserve       string `toml:"PairDebtReserve"`
	MarketLiquidity       string `toml:"MarketLiquidity"`

	RateLimitPerSecond float64 `toml:"RateLimitPerSecond"`
	RateLimitBurst     int     `toml:"RateLimitBurst"`
}

// Load reads and validates the configuration at path.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.RPCAddress == "" {
		c.RPCAddress = ":8080"
	}
	if c.MetricsAddress == "" {
		c.MetricsAddress = ":9091"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Environment == "" {
		c.Environment = "dev"
	}
	if c.Venue.RateLimitPerSecond <= 0 {
		c.Venue.RateLimitPerSecond = 50
	}
	if c.Venue.RateLimitBurst <= 0 {
		c.Venue.RateLimitBurst = 100
	}
}
