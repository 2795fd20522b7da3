package engine

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"levfolio/core/events"
	"levfolio/market"
)

// BurnViaDebt burns every share currently escrowed on the engine account and
// pays the proceeds out in the debt asset. Shares follow the
// transfer-then-call convention: the caller moves them to the engine before
// invoking Burn.
func (e *Engine) BurnViaDebt(caller, recipient common.Address, minAmountOut *big.Int) error {
	return e.run("burn_via_debt", func() error {
		shares := e.book.BalanceOf(e.pos.ShareAsset, e.addr)
		quote, err := e.quoteBurnViaDebt(shares)
		if err != nil {
			return err
		}
		if minAmountOut != nil && quote.AmountOut.Cmp(minAmountOut) < 0 {
			return ErrSlippageTooHigh
		}

		gross := new(big.Int).Add(quote.AmountOut, quote.FeeAmount)
		gross.Add(gross, quote.Debt)
		op := &Operation{
			Kind:             OpBurn,
			Sender:           caller,
			Recipient:        recipient,
			RefundRecipient:  caller,
			TokenIn:          e.pos.ShareAsset,
			TokenOut:         e.pos.DebtAsset,
			AmountIn:         new(big.Int).Set(shares),
			AmountOut:        quote.AmountOut,
			FeeAmount:        quote.FeeAmount,
			RefundAmount:     big.NewInt(0),
			BorrowAmount:     gross,
			RepayAmount:      quote.Collateral,
			CollateralAmount: quote.Collateral,
			DebtAmount:       quote.Debt,
			Shares:           new(big.Int).Set(shares),
		}
		return e.flashSwap(op, e.pos.DebtAsset)
	})
}

// BurnViaCollateral burns the escrowed shares and pays the proceeds out in
// the collateral asset.
func (e *Engine) BurnViaCollateral(caller, recipient common.Address, minAmountOut *big.Int) error {
	return e.run("burn_via_collateral", func() error {
		shares := e.book.BalanceOf(e.pos.ShareAsset, e.addr)
		quote, err := e.quoteBurnViaCollateral(shares)
		if err != nil {
			return err
		}
		if minAmountOut != nil && quote.AmountOut.Cmp(minAmountOut) < 0 {
			return ErrSlippageTooHigh
		}

		repayCollateral := new(big.Int).Sub(quote.Collateral, quote.AmountOut)
		repayCollateral.Sub(repayCollateral, quote.FeeAmount)
		op := &Operation{
			Kind:             OpBurn,
			Sender:           caller,
			Recipient:        recipient,
			RefundRecipient:  caller,
			TokenIn:          e.pos.ShareAsset,
			TokenOut:         e.pos.CollateralAsset,
			AmountIn:         new(big.Int).Set(shares),
			AmountOut:        quote.AmountOut,
			FeeAmount:        quote.FeeAmount,
			RefundAmount:     big.NewInt(0),
			BorrowAmount:     quote.Debt,
			RepayAmount:      repayCollateral,
			CollateralAmount: quote.Collateral,
			DebtAmount:       quote.Debt,
			Shares:           new(big.Int).Set(shares),
		}
		if op.BorrowAmount.Sign() == 0 {
			// Debt-free position: nothing to flash-borrow, settle inline.
			e.inFlight = op
			return e.completeOperation(op)
		}
		return e.flashSwap(op, e.pos.DebtAsset)
	})
}

// quoteBurnViaDebt prices a debt-payout burn of the given share amount.
func (e *Engine) quoteBurnViaDebt(shares *big.Int) (*BurnQuote, error) {
	if !e.pos.Initialized {
		return nil, ErrUninitialized
	}
	if !positive(shares) {
		return nil, ErrAmountInTooLow
	}
	collateral, debt, err := e.pos.SharesToUnderlying(shares)
	if err != nil {
		return nil, err
	}
	if collateral.Sign() == 0 {
		return nil, ErrAmountOutTooLow
	}
	grossOut, err := e.gateway.QuoteAmountOut(e.pos.CollateralAsset, collateral)
	if err != nil {
		return nil, err
	}
	if grossOut.Cmp(debt) < 0 {
		return nil, ErrAmountOutTooLow
	}
	amountOut := new(big.Int).Sub(grossOut, debt)
	fee := bpsShare(amountOut, e.pos.FeeRateBps)
	amountOut.Sub(amountOut, fee)
	return &BurnQuote{
		Shares:     new(big.Int).Set(shares),
		AmountOut:  amountOut,
		FeeAmount:  fee,
		Collateral: collateral,
		Debt:       debt,
	}, nil
}

// quoteBurnViaCollateral prices a collateral-payout burn.
func (e *Engine) quoteBurnViaCollateral(shares *big.Int) (*BurnQuote, error) {
	if !e.pos.Initialized {
		return nil, ErrUninitialized
	}
	if !positive(shares) {
		return nil, ErrAmountInTooLow
	}
	collateral, debt, err := e.pos.SharesToUnderlying(shares)
	if err != nil {
		return nil, err
	}
	if collateral.Sign() == 0 {
		return nil, ErrAmountOutTooLow
	}
	repayCollateral := big.NewInt(0)
	if debt.Sign() > 0 {
		repayCollateral, err = e.gateway.QuoteAmountIn(e.pos.CollateralAsset, debt)
		if err != nil {
			return nil, err
		}
	}
	if repayCollateral.Cmp(collateral) > 0 {
		return nil, ErrAmountOutTooLow
	}
	amountOut := new(big.Int).Sub(collateral, repayCollateral)
	fee := bpsShare(amountOut, e.pos.FeeRateBps)
	amountOut.Sub(amountOut, fee)
	return &BurnQuote{
		Shares:     new(big.Int).Set(shares),
		AmountOut:  amountOut,
		FeeAmount:  fee,
		Collateral: collateral,
		Debt:       debt,
	}, nil
}

// completeBurn settles a burn operation inside the flash-swap callback,
// holding the borrowed debt asset.
func (e *Engine) completeBurn(op *Operation) error {
	if op.DebtAmount.Sign() > 0 {
		if code := e.market.Repay(e.addr, op.DebtAmount); code != market.CodeNoError {
			return market.Check("repay", code)
		}
	}
	if code := e.market.Redeem(e.addr, op.CollateralAmount); code != market.CodeNoError {
		return market.Check("redeem", code)
	}
	// Repay the gateway in collateral; payout and fee leave in TokenOut.
	if err := e.transferChecked(e.pos.CollateralAsset, e.addr, e.gateway.Address(), op.RepayAmount); err != nil {
		return err
	}
	if err := e.transferChecked(op.TokenOut, e.addr, e.feeRecipient, op.FeeAmount); err != nil {
		return err
	}
	if err := e.transferChecked(op.TokenOut, e.addr, op.Recipient, op.AmountOut); err != nil {
		return err
	}
	if err := e.book.Burn(e.pos.ShareAsset, e.addr, op.Shares); err != nil {
		return err
	}

	e.pos.TotalCollateral.Sub(e.pos.TotalCollateral, op.CollateralAmount)
	e.pos.TotalDebt.Sub(e.pos.TotalDebt, op.DebtAmount)
	e.pos.TotalShares.Sub(e.pos.TotalShares, op.Shares)

	e.emitter.Emit(events.SharesBurned{
		Sender:     op.Sender,
		Recipient:  op.Recipient,
		Shares:     op.Shares,
		AmountOut:  op.AmountOut,
		FeeAmount:  op.FeeAmount,
		Collateral: op.CollateralAmount,
		Debt:       op.DebtAmount,
	})
	return nil
}
