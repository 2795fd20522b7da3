package engine

import (
	"math/big"
)

// SharesToUnderlying converts shares into their (collateral, debt) claim.
func (e *Engine) SharesToUnderlying(shares *big.Int) (*big.Int, *big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pos.SharesToUnderlying(shares)
}

// CollateralPerShare returns the wad-scaled collateral backing one share.
func (e *Engine) CollateralPerShare() (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pos.CollateralPerShare()
}

// DebtPerShare returns the wad-scaled debt owed per share.
func (e *Engine) DebtPerShare() (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pos.DebtPerShare()
}

// Price values a share amount in debt-asset terms.
func (e *Engine) Price(shares *big.Int) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pos.Price(e.oracle, shares)
}

// LeverageRatio returns the current wad-scaled leverage ratio.
func (e *Engine) LeverageRatio() (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pos.LeverageRatio(e.oracle)
}

// MintQuote is the read-only sizing for a prospective mint: what the minter
// must fund, the fee on top, and the underlying amounts involved.
type MintQuote struct {
	Shares     *big.Int
	AmountIn   *big.Int
	FeeAmount  *big.Int
	Collateral *big.Int
	Debt       *big.Int
}

// BurnQuote is the read-only sizing for a prospective burn.
type BurnQuote struct {
	Shares     *big.Int
	AmountOut  *big.Int
	FeeAmount  *big.Int
	Collateral *big.Int
	Debt       *big.Int
}

// PreviewMintViaDebt computes the debt-asset funding a mint of the given
// share amount would require, without mutating state. Callers use it to
// size their pre-funding and retry after economic-bound failures.
func (e *Engine) PreviewMintViaDebt(shares *big.Int) (*MintQuote, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.quoteMintViaDebt(shares)
}

// PreviewMintViaCollateral is the collateral-funded counterpart of
// PreviewMintViaDebt.
func (e *Engine) PreviewMintViaCollateral(shares *big.Int) (*MintQuote, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.quoteMintViaCollateral(shares)
}

// PreviewBurnViaDebt computes the debt-asset payout for burning the given
// share amount, without mutating state.
func (e *Engine) PreviewBurnViaDebt(shares *big.Int) (*BurnQuote, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.quoteBurnViaDebt(shares)
}

// PreviewBurnViaCollateral is the collateral-payout counterpart of
// PreviewBurnViaDebt.
func (e *Engine) PreviewBurnViaCollateral(shares *big.Int) (*BurnQuote, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.quoteBurnViaCollateral(shares)
}
