package ledger

import (
	"errors"
	"math/big"

	"levfolio/bank"
	"levfolio/oracle"
)

var (
	// ErrUninitialized is returned for share/underlying queries before the
	// position has been seeded.
	ErrUninitialized = errors.New("position ledger: not initialized")
	// ErrInsolvent signals that collateral value no longer covers the debt;
	// the leverage ratio is undefined and the operation must abort.
	ErrInsolvent = errors.New("position ledger: collateral value does not cover debt")
)

// Position is the owned accounting state of one leveraged instrument: the
// (collateral, debt, shares) triple plus the leverage-band policy. All ratio
// fields are wad-scaled (1e18 = 1.0); fee is in basis points.
type Position struct {
	CollateralAsset bank.Asset
	DebtAsset       bank.Asset
	ShareAsset      bank.Asset

	TotalCollateral *big.Int
	TotalDebt       *big.Int
	TotalShares     *big.Int

	FeeRateBps uint64

	TargetLeverageRatio *big.Int
	// MinLeverageRatio and MaxLeverageRatio bound the band. When both are
	// unset the band collapses to the target (single-sided rebalancing).
	MinLeverageRatio *big.Int
	MaxLeverageRatio *big.Int
	// MaxDriftRatio scales the rebalance incentive: incentive grows linearly
	// with drift outside the band and saturates at MaxIncentiveRatio once
	// drift reaches MaxDriftRatio.
	MaxDriftRatio     *big.Int
	MaxIncentiveRatio *big.Int

	MaxShareSupply *big.Int

	Initialized bool
}

// Clone returns a deep copy, used to restore the position when an operation
// aborts.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := &Position{
		CollateralAsset: p.CollateralAsset,
		DebtAsset:       p.DebtAsset,
		ShareAsset:      p.ShareAsset,
		FeeRateBps:      p.FeeRateBps,
		Initialized:     p.Initialized,
	}
	clone.TotalCollateral = cloneBig(p.TotalCollateral)
	clone.TotalDebt = cloneBig(p.TotalDebt)
	clone.TotalShares = cloneBig(p.TotalShares)
	clone.TargetLeverageRatio = cloneBig(p.TargetLeverageRatio)
	clone.MinLeverageRatio = cloneBig(p.MinLeverageRatio)
	clone.MaxLeverageRatio = cloneBig(p.MaxLeverageRatio)
	clone.MaxDriftRatio = cloneBig(p.MaxDriftRatio)
	clone.MaxIncentiveRatio = cloneBig(p.MaxIncentiveRatio)
	clone.MaxShareSupply = cloneBig(p.MaxShareSupply)
	return clone
}

// Restore copies the snapshot's fields back into the receiver.
func (p *Position) Restore(snapshot *Position) {
	if p == nil || snapshot == nil {
		return
	}
	*p = *snapshot.Clone()
}

// Band returns the effective (min, max) leverage band. An unset band reads
// as the target on both sides.
func (p *Position) Band() (*big.Int, *big.Int) {
	min := p.MinLeverageRatio
	max := p.MaxLeverageRatio
	if min == nil || min.Sign() == 0 {
		min = p.TargetLeverageRatio
	}
	if max == nil || max.Sign() == 0 {
		max = p.TargetLeverageRatio
	}
	return new(big.Int).Set(min), new(big.Int).Set(max)
}

// SharesToUnderlying converts a share amount into its proportional claim on
// the (collateral, debt) pair. Division floors, so the sum over all holders
// never exceeds the totals.
func (p *Position) SharesToUnderlying(shares *big.Int) (*big.Int, *big.Int, error) {
	if !p.Initialized {
		return nil, nil, ErrUninitialized
	}
	if shares == nil || shares.Sign() == 0 || p.TotalShares.Sign() == 0 {
		return big.NewInt(0), big.NewInt(0), nil
	}
	collateral := mulDiv(shares, p.TotalCollateral, p.TotalShares)
	debt := mulDiv(shares, p.TotalDebt, p.TotalShares)
	return collateral, debt, nil
}

// CollateralPerShare returns the wad-scaled collateral units backing one
// share.
func (p *Position) CollateralPerShare() (*big.Int, error) {
	if !p.Initialized {
		return nil, ErrUninitialized
	}
	if p.TotalShares.Sign() == 0 {
		return big.NewInt(0), nil
	}
	return mulDiv(p.TotalCollateral, wad, p.TotalShares), nil
}

// DebtPerShare returns the wad-scaled debt units owed per share.
func (p *Position) DebtPerShare() (*big.Int, error) {
	if !p.Initialized {
		return nil, ErrUninitialized
	}
	if p.TotalShares.Sign() == 0 {
		return big.NewInt(0), nil
	}
	return mulDiv(p.TotalDebt, wad, p.TotalShares), nil
}

// CollateralValue prices the full collateral holding in debt-asset terms.
func (p *Position) CollateralValue(o oracle.Oracle) (*big.Int, error) {
	if !p.Initialized {
		return nil, ErrUninitialized
	}
	return o.Value(p.CollateralAsset, p.DebtAsset, p.TotalCollateral)
}

// Equity returns collateral value minus debt in debt-asset terms, failing
// ErrInsolvent when the result is not strictly positive.
func (p *Position) Equity(o oracle.Oracle) (*big.Int, error) {
	collateralValue, err := p.CollateralValue(o)
	if err != nil {
		return nil, err
	}
	equity := new(big.Int).Sub(collateralValue, p.TotalDebt)
	if equity.Sign() <= 0 {
		return nil, ErrInsolvent
	}
	return equity, nil
}

// LeverageRatio computes collateralValue / (collateralValue - debt),
// wad-scaled and rounded up: the ratio gates safety checks, so rounding is
// conservative.
func (p *Position) LeverageRatio(o oracle.Oracle) (*big.Int, error) {
	collateralValue, err := p.CollateralValue(o)
	if err != nil {
		return nil, err
	}
	equity := new(big.Int).Sub(collateralValue, p.TotalDebt)
	if equity.Sign() <= 0 {
		return nil, ErrInsolvent
	}
	return ceilDiv(new(big.Int).Mul(collateralValue, wad), equity), nil
}

// Price values the underlying claim of a share amount in debt-asset terms.
func (p *Position) Price(o oracle.Oracle, shares *big.Int) (*big.Int, error) {
	collateral, debt, err := p.SharesToUnderlying(shares)
	if err != nil {
		return nil, err
	}
	collateralValue, err := o.Value(p.CollateralAsset, p.DebtAsset, collateral)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Sub(collateralValue, debt), nil
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
