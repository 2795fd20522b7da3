package config

import "fmt"

const maxBps = 10_000

// Validate checks invariants the engine cannot recover from at runtime.
func (c *Config) Validate() error {
	inst := c.Instrument
	if inst.CollateralAsset == "" || inst.DebtAsset == "" || inst.ShareAsset == "" {
		return fmt.Errorf("instrument: collateral, debt, and share assets are required")
	}
	if inst.CollateralAsset == inst.DebtAsset {
		return fmt.Errorf("instrument: collateral and debt asset must differ")
	}
	if inst.ShareAsset == inst.CollateralAsset || inst.ShareAsset == inst.DebtAsset {
		return fmt.Errorf("instrument: share asset must differ from the underlying pair")
	}
	if inst.FeeRateBps >= maxBps {
		return fmt.Errorf("instrument: FeeRateBps %d >= %d", inst.FeeRateBps, maxBps)
	}

	target, err := ParseRatio(inst.TargetLeverage)
	if err != nil {
		return fmt.Errorf("instrument.TargetLeverage: %w", err)
	}
	if target.Sign() <= 0 {
		return fmt.Errorf("instrument.TargetLeverage must be positive")
	}
	minRatio, err := ParseRatio(inst.MinLeverage)
	if err != nil {
		return fmt.Errorf("instrument.MinLeverage: %w", err)
	}
	maxRatio, err := ParseRatio(inst.MaxLeverage)
	if err != nil {
		return fmt.Errorf("instrument.MaxLeverage: %w", err)
	}
	if minRatio.Sign() > 0 && minRatio.Cmp(target) > 0 {
		return fmt.Errorf("instrument: MinLeverage above TargetLeverage")
	}
	if maxRatio.Sign() > 0 && maxRatio.Cmp(target) < 0 {
		return fmt.Errorf("instrument: MaxLeverage below TargetLeverage")
	}
	maxIncentive, err := ParseRatio(inst.MaxIncentive)
	if err != nil {
		return fmt.Errorf("instrument.MaxIncentive: %w", err)
	}
	if maxIncentive.Sign() > 0 && maxIncentive.Cmp(wadOne()) >= 0 {
		return fmt.Errorf("instrument: MaxIncentive must be below 1.0")
	}
	if _, err := ParseRatio(inst.MaxDrift); err != nil {
		return fmt.Errorf("instrument.MaxDrift: %w", err)
	}
	if _, err := ParseAmount(inst.MaxShareSupply); err != nil {
		return fmt.Errorf("instrument.MaxShareSupply: %w", err)
	}
	for field, raw := range map[string]string{
		"instrument.InitialCollateral": inst.InitialCollateral,
		"instrument.InitialDebt":       inst.InitialDebt,
		"instrument.InitialShares":     inst.InitialShares,
		"instrument.InitialFunding":    inst.InitialFunding,
	} {
		if _, err := ParseAmount(raw); err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
	}

	venue := c.Venue
	if venue.SwapFeeBps >= maxBps {
		return fmt.Errorf("venue: SwapFeeBps %d >= %d", venue.SwapFeeBps, maxBps)
	}
	if _, _, _, _, _, err := venue.Addresses(); err != nil {
		return err
	}
	price, err := ParseRatio(venue.CollateralPrice)
	if err != nil {
		return fmt.Errorf("venue.CollateralPrice: %w", err)
	}
	if price.Sign() <= 0 {
		return fmt.Errorf("venue.CollateralPrice must be positive")
	}
	factor, err := ParseRatio(venue.CollateralFactor)
	if err != nil {
		return fmt.Errorf("venue.CollateralFactor: %w", err)
	}
	if factor.Cmp(wadOne()) > 0 {
		return fmt.Errorf("venue.CollateralFactor must not exceed 1.0")
	}
	for field, raw := range map[string]string{
		"venue.PairCollateralReserve": venue.PairCollateralReserve,
		"venue.PairDebtReserve":       venue.PairDebtReserve,
		"venue.MarketLiquidity":       venue.MarketLiquidity,
	} {
		if _, err := ParseAmount(raw); err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
	}
	return nil
}
