package engine

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"levfolio/core/events"
	"levfolio/market"
)

// MintViaDebt mints shares funded in the debt asset. The caller pre-funds
// the engine with the debt asset; the flash-borrowed collateral is supplied
// to the lending market, the market borrow covers part of the gateway
// repayment, and the caller's funding covers the rest. Excess funding goes
// back to refundRecipient.
func (e *Engine) MintViaDebt(caller common.Address, shares *big.Int, recipient, refundRecipient common.Address) error {
	return e.run("mint_via_debt", func() error {
		quote, err := e.quoteMintViaDebt(shares)
		if err != nil {
			return err
		}

		need := new(big.Int).Add(quote.AmountIn, quote.FeeAmount)
		prefund := e.book.BalanceOf(e.pos.DebtAsset, e.addr)
		if prefund.Cmp(need) < 0 {
			return ErrAmountInTooLow
		}

		op := &Operation{
			Kind:             OpMint,
			Sender:           caller,
			Recipient:        recipient,
			RefundRecipient:  refundRecipient,
			TokenIn:          e.pos.DebtAsset,
			TokenOut:         e.pos.ShareAsset,
			AmountIn:         quote.AmountIn,
			AmountOut:        new(big.Int).Set(shares),
			FeeAmount:        quote.FeeAmount,
			RefundAmount:     new(big.Int).Sub(prefund, need),
			BorrowAmount:     new(big.Int).Set(quote.Collateral),
			RepayAmount:      new(big.Int).Add(quote.AmountIn, quote.Debt),
			CollateralAmount: quote.Collateral,
			DebtAmount:       quote.Debt,
			Shares:           new(big.Int).Set(shares),
		}
		return e.flashSwap(op, e.pos.CollateralAsset)
	})
}

// MintViaCollateral mints shares funded in the collateral asset. The flash
// swap covers the collateral the market borrow can buy; the caller funds the
// remainder.
func (e *Engine) MintViaCollateral(caller common.Address, shares *big.Int, recipient, refundRecipient common.Address) error {
	return e.run("mint_via_collateral", func() error {
		quote, err := e.quoteMintViaCollateral(shares)
		if err != nil {
			return err
		}

		need := new(big.Int).Add(quote.AmountIn, quote.FeeAmount)
		prefund := e.book.BalanceOf(e.pos.CollateralAsset, e.addr)
		if prefund.Cmp(need) < 0 {
			return ErrAmountInTooLow
		}

		borrowed := new(big.Int).Sub(quote.Collateral, quote.AmountIn)
		op := &Operation{
			Kind:             OpMint,
			Sender:           caller,
			Recipient:        recipient,
			RefundRecipient:  refundRecipient,
			TokenIn:          e.pos.CollateralAsset,
			TokenOut:         e.pos.ShareAsset,
			AmountIn:         quote.AmountIn,
			AmountOut:        new(big.Int).Set(shares),
			FeeAmount:        quote.FeeAmount,
			RefundAmount:     new(big.Int).Sub(prefund, need),
			BorrowAmount:     borrowed,
			RepayAmount:      quote.Debt,
			CollateralAmount: quote.Collateral,
			DebtAmount:       quote.Debt,
			Shares:           new(big.Int).Set(shares),
		}
		if op.BorrowAmount.Sign() == 0 {
			// Nothing to flash-borrow: settle inline.
			e.inFlight = op
			return e.completeOperation(op)
		}
		return e.flashSwap(op, e.pos.CollateralAsset)
	})
}

// quoteMintViaDebt prices a debt-funded mint against the current ledger and
// gateway state.
func (e *Engine) quoteMintViaDebt(shares *big.Int) (*MintQuote, error) {
	if !e.pos.Initialized {
		return nil, ErrUninitialized
	}
	if !positive(shares) {
		return nil, ErrAmountOutTooLow
	}
	if err := e.checkSupplyCap(shares); err != nil {
		return nil, err
	}
	collateral, debt, err := e.pos.SharesToUnderlying(shares)
	if err != nil {
		return nil, err
	}
	if collateral.Sign() == 0 {
		return nil, ErrAmountOutTooLow
	}
	repayAmount, err := e.gateway.QuoteAmountIn(e.pos.DebtAsset, collateral)
	if err != nil {
		return nil, err
	}
	if repayAmount.Cmp(debt) < 0 {
		return nil, ErrAmountInTooLow
	}
	amountIn := new(big.Int).Sub(repayAmount, debt)
	return &MintQuote{
		Shares:     new(big.Int).Set(shares),
		AmountIn:   amountIn,
		FeeAmount:  bpsShare(amountIn, e.pos.FeeRateBps),
		Collateral: collateral,
		Debt:       debt,
	}, nil
}

// quoteMintViaCollateral prices a collateral-funded mint: the caller covers
// the gap between the required collateral and what the market borrow buys
// from the gateway.
func (e *Engine) quoteMintViaCollateral(shares *big.Int) (*MintQuote, error) {
	if !e.pos.Initialized {
		return nil, ErrUninitialized
	}
	if !positive(shares) {
		return nil, ErrAmountOutTooLow
	}
	if err := e.checkSupplyCap(shares); err != nil {
		return nil, err
	}
	collateral, debt, err := e.pos.SharesToUnderlying(shares)
	if err != nil {
		return nil, err
	}
	if collateral.Sign() == 0 {
		return nil, ErrAmountOutTooLow
	}
	bought := big.NewInt(0)
	if debt.Sign() > 0 {
		bought, err = e.gateway.QuoteAmountOut(e.pos.DebtAsset, debt)
		if err != nil {
			return nil, err
		}
		// A borrow too small to buy any collateral cannot settle the swap.
		if bought.Sign() == 0 {
			return nil, ErrAmountOutTooLow
		}
	}
	if bought.Cmp(collateral) > 0 {
		return nil, ErrAmountInTooLow
	}
	amountIn := new(big.Int).Sub(collateral, bought)
	return &MintQuote{
		Shares:     new(big.Int).Set(shares),
		AmountIn:   amountIn,
		FeeAmount:  bpsShare(amountIn, e.pos.FeeRateBps),
		Collateral: collateral,
		Debt:       debt,
	}, nil
}

func (e *Engine) checkSupplyCap(shares *big.Int) error {
	if e.pos.MaxShareSupply == nil || e.pos.MaxShareSupply.Sign() == 0 {
		return nil
	}
	projected := new(big.Int).Add(e.pos.TotalShares, shares)
	if projected.Cmp(e.pos.MaxShareSupply) > 0 {
		return ErrAmountOutTooHigh
	}
	return nil
}

// completeMint settles a mint operation: it runs inside the flash-swap
// callback holding the borrowed collateral (plus the caller's pre-funding on
// the engine account).
func (e *Engine) completeMint(op *Operation) error {
	if code := e.market.Supply(e.addr, op.CollateralAmount); code != market.CodeNoError {
		return market.Check("supply", code)
	}
	if op.DebtAmount.Sign() > 0 {
		if code := e.market.Borrow(e.addr, op.DebtAmount); code != market.CodeNoError {
			return market.Check("borrow", code)
		}
	}
	// Repay the gateway in the funding-opposite asset: debt-funded mints
	// owe debt, collateral-funded mints owe the market borrow.
	repayAsset := e.pos.DebtAsset
	if err := e.transferChecked(repayAsset, e.addr, e.gateway.Address(), op.RepayAmount); err != nil {
		return err
	}
	if err := e.transferChecked(op.TokenIn, e.addr, e.feeRecipient, op.FeeAmount); err != nil {
		return err
	}
	if err := e.transferChecked(op.TokenIn, e.addr, op.RefundRecipient, op.RefundAmount); err != nil {
		return err
	}
	if err := e.book.Mint(e.pos.ShareAsset, op.Recipient, op.Shares); err != nil {
		return err
	}

	e.pos.TotalCollateral.Add(e.pos.TotalCollateral, op.CollateralAmount)
	e.pos.TotalDebt.Add(e.pos.TotalDebt, op.DebtAmount)
	e.pos.TotalShares.Add(e.pos.TotalShares, op.Shares)

	e.emitter.Emit(events.SharesMinted{
		Sender:       op.Sender,
		Recipient:    op.Recipient,
		Shares:       op.Shares,
		AmountIn:     op.AmountIn,
		FeeAmount:    op.FeeAmount,
		RefundAmount: op.RefundAmount,
		Collateral:   op.CollateralAmount,
		Debt:         op.DebtAmount,
	})
	return nil
}
