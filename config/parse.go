package config

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"levfolio/bank"
	"levfolio/ledger"
)

func wadOne() *big.Int { return ledger.Wad() }

// ParseAmount parses an integer base-unit amount. The empty string reads as
// zero.
func ParseAmount(raw string) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return big.NewInt(0), nil
	}
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return value, nil
}

// ParseRatio parses a decimal ratio ("2.0", "0.003") into wad fixed point.
// The empty string reads as zero, which downstream consumers treat as unset.
func ParseRatio(raw string) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return big.NewInt(0), nil
	}
	ratio, ok := new(big.Rat).SetString(raw)
	if !ok || ratio.Sign() < 0 {
		return nil, fmt.Errorf("invalid ratio %q", raw)
	}
	scaled := new(big.Int).Mul(ratio.Num(), ledger.Wad())
	return scaled.Quo(scaled, ratio.Denom()), nil
}

func parseAddress(field, raw string) (common.Address, error) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%s: invalid address %q", field, raw)
	}
	return common.HexToAddress(raw), nil
}

// Position converts the instrument block into a fresh, unseeded ledger
// position.
func (i Instrument) Position() (*ledger.Position, error) {
	target, err := ParseRatio(i.TargetLeverage)
	if err != nil {
		return nil, fmt.Errorf("instrument.TargetLeverage: %w", err)
	}
	minRatio, err := ParseRatio(i.MinLeverage)
	if err != nil {
		return nil, fmt.Errorf("instrument.MinLeverage: %w", err)
	}
	maxRatio, err := ParseRatio(i.MaxLeverage)
	if err != nil {
		return nil, fmt.Errorf("instrument.MaxLeverage: %w", err)
	}
	maxDrift, err := ParseRatio(i.MaxDrift)
	if err != nil {
		return nil, fmt.Errorf("instrument.MaxDrift: %w", err)
	}
	maxIncentive, err := ParseRatio(i.MaxIncentive)
	if err != nil {
		return nil, fmt.Errorf("instrument.MaxIncentive: %w", err)
	}
	maxSupply, err := ParseAmount(i.MaxShareSupply)
	if err != nil {
		return nil, fmt.Errorf("instrument.MaxShareSupply: %w", err)
	}
	return &ledger.Position{
		CollateralAsset:     bank.Asset(i.CollateralAsset),
		DebtAsset:           bank.Asset(i.DebtAsset),
		ShareAsset:          bank.Asset(i.ShareAsset),
		FeeRateBps:          i.FeeRateBps,
		TargetLeverageRatio: target,
		MinLeverageRatio:    minRatio,
		MaxLeverageRatio:    maxRatio,
		MaxDriftRatio:       maxDrift,
		MaxIncentiveRatio:   maxIncentive,
		MaxShareSupply:      maxSupply,
	}, nil
}

// Addresses resolves the venue's account addresses.
func (v Venue) Addresses() (engine, owner, feeRecipient, market, pair common.Address, err error) {
	if engine, err = parseAddress("venue.EngineAddress", v.EngineAddress); err != nil {
		return
	}
	if owner, err = parseAddress("venue.OwnerAddress", v.OwnerAddress); err != nil {
		return
	}
	if feeRecipient, err = parseAddress("venue.FeeRecipientAddress", v.FeeRecipientAddress); err != nil {
		return
	}
	if market, err = parseAddress("venue.MarketAddress", v.MarketAddress); err != nil {
		return
	}
	pair, err = parseAddress("venue.PairAddress", v.PairAddress)
	return
}
