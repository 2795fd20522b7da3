package engine

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"levfolio/core/events"
	"levfolio/market"
)

// LeverageUp corrects a position whose leverage has drifted below the band's
// lower bound. The rebalancer pre-funds the engine with the collateral asset
// and is paid back in the debt asset at a premium over oracle fair value.
// The step is damped to half the distance to target so a correction
// never overshoots.
func (e *Engine) LeverageUp(caller common.Address, minIncentive *big.Int) error {
	return e.run("leverage_up", func() error {
		if !e.pos.Initialized {
			return ErrUninitialized
		}
		current, err := e.pos.LeverageRatio(e.oracle)
		if err != nil {
			return err
		}
		lower, _ := e.pos.Band()
		if current.Cmp(lower) >= 0 {
			return ErrBalanced
		}
		before, err := e.snapshotRebalance(current)
		if err != nil {
			return err
		}

		amountIn := e.book.BalanceOf(e.pos.CollateralAsset, e.addr)
		if !positive(amountIn) {
			return ErrAmountInTooLow
		}
		equity, err := e.pos.Equity(e.oracle)
		if err != nil {
			return err
		}
		step := new(big.Int).Sub(e.pos.TargetLeverageRatio, current)
		step.Rsh(step, 1)
		maxInValue := wadMul(step, equity)
		maxIn, err := e.oracle.Value(e.pos.DebtAsset, e.pos.CollateralAsset, maxInValue)
		if err != nil {
			return err
		}
		if amountIn.Cmp(maxIn) > 0 {
			return ErrAmountInTooHigh
		}

		fair, err := e.oracle.Value(e.pos.CollateralAsset, e.pos.DebtAsset, amountIn)
		if err != nil {
			return err
		}
		if !positive(fair) {
			return ErrAmountInTooLow
		}
		// The premium scales with how far leverage escaped the band, not
		// with the full distance to target.
		drift := new(big.Int).Sub(lower, current)
		gross, incentive := e.applyIncentive(fair, drift)
		fee := bpsShare(incentive, e.pos.FeeRateBps)
		net := new(big.Int).Sub(incentive, fee)
		if minIncentive != nil && net.Cmp(minIncentive) < 0 {
			return ErrSlippageTooHigh
		}

		op := &Operation{
			Kind:             OpLeverageUp,
			Sender:           caller,
			Recipient:        caller,
			RefundRecipient:  caller,
			TokenIn:          e.pos.CollateralAsset,
			TokenOut:         e.pos.DebtAsset,
			AmountIn:         new(big.Int).Set(amountIn),
			AmountOut:        new(big.Int).Sub(gross, fee),
			FeeAmount:        fee,
			RefundAmount:     big.NewInt(0),
			BorrowAmount:     big.NewInt(0),
			RepayAmount:      big.NewInt(0),
			CollateralAmount: new(big.Int).Set(amountIn),
			DebtAmount:       gross,
			Shares:           big.NewInt(0),
		}
		e.inFlight = op
		if err := e.completeOperation(op); err != nil {
			return err
		}
		return e.finishRebalance("up", op, incentive, before, e.pos.TargetLeverageRatio, +1)
	})
}

// LeverageDown corrects a position above the band's upper bound. The
// rebalancer pre-funds the debt asset and is paid in collateral at a premium
// over fair value.
func (e *Engine) LeverageDown(caller common.Address, minIncentive *big.Int) error {
	return e.run("leverage_down", func() error {
		if !e.pos.Initialized {
			return ErrUninitialized
		}
		current, err := e.pos.LeverageRatio(e.oracle)
		if err != nil {
			return err
		}
		_, upper := e.pos.Band()
		if current.Cmp(upper) <= 0 {
			return ErrBalanced
		}
		before, err := e.snapshotRebalance(current)
		if err != nil {
			return err
		}

		amountIn := e.book.BalanceOf(e.pos.DebtAsset, e.addr)
		if !positive(amountIn) {
			return ErrAmountInTooLow
		}
		equity, err := e.pos.Equity(e.oracle)
		if err != nil {
			return err
		}
		step := new(big.Int).Sub(current, e.pos.TargetLeverageRatio)
		step.Rsh(step, 1)
		maxIn := wadMul(step, equity)
		if amountIn.Cmp(maxIn) > 0 || amountIn.Cmp(e.pos.TotalDebt) > 0 {
			return ErrAmountInTooHigh
		}

		fair, err := e.oracle.Value(e.pos.DebtAsset, e.pos.CollateralAsset, amountIn)
		if err != nil {
			return err
		}
		if !positive(fair) {
			return ErrAmountInTooLow
		}
		drift := new(big.Int).Sub(current, upper)
		gross, incentive := e.applyIncentive(fair, drift)
		if gross.Cmp(e.pos.TotalCollateral) > 0 {
			return ErrAmountInTooHigh
		}
		fee := bpsShare(incentive, e.pos.FeeRateBps)
		net := new(big.Int).Sub(incentive, fee)
		if minIncentive != nil && net.Cmp(minIncentive) < 0 {
			return ErrSlippageTooHigh
		}

		op := &Operation{
			Kind:             OpLeverageDown,
			Sender:           caller,
			Recipient:        caller,
			RefundRecipient:  caller,
			TokenIn:          e.pos.DebtAsset,
			TokenOut:         e.pos.CollateralAsset,
			AmountIn:         new(big.Int).Set(amountIn),
			AmountOut:        new(big.Int).Sub(gross, fee),
			FeeAmount:        fee,
			RefundAmount:     big.NewInt(0),
			BorrowAmount:     big.NewInt(0),
			RepayAmount:      new(big.Int).Set(amountIn),
			CollateralAmount: gross,
			DebtAmount:       new(big.Int).Set(amountIn),
			Shares:           big.NewInt(0),
		}
		e.inFlight = op
		if err := e.completeOperation(op); err != nil {
			return err
		}
		return e.finishRebalance("down", op, incentive, before, e.pos.TargetLeverageRatio, -1)
	})
}

// applyIncentive grosses the fair value up by the incentive ratio for the
// given band-edge drift and returns (gross, incentive).
func (e *Engine) applyIncentive(fair, drift *big.Int) (*big.Int, *big.Int) {
	r := e.incentiveRatio(drift)
	denom := new(big.Int).Sub(wad, r)
	gross := new(big.Int).Mul(fair, wad)
	gross.Quo(gross, denom)
	return gross, new(big.Int).Sub(gross, fair)
}

// incentiveRatio maps the drift past the band edge (wad) onto the premium
// ratio: linear in drift up to MaxDriftRatio, saturating at
// MaxIncentiveRatio. A zero MaxDriftRatio pays the full cap for any drift.
func (e *Engine) incentiveRatio(drift *big.Int) *big.Int {
	ratioCap := e.pos.MaxIncentiveRatio
	if ratioCap == nil || ratioCap.Sign() == 0 {
		return big.NewInt(0)
	}
	maxDrift := e.pos.MaxDriftRatio
	if maxDrift == nil || maxDrift.Sign() == 0 {
		return new(big.Int).Set(ratioCap)
	}
	r := new(big.Int).Mul(drift, ratioCap)
	r.Quo(r, maxDrift)
	if r.Cmp(ratioCap) > 0 {
		r.Set(ratioCap)
	}
	return r
}

type rebalanceSnapshot struct {
	leverage   *big.Int
	collateral *big.Int
	debt       *big.Int
	price      *big.Int
}

func (e *Engine) snapshotRebalance(leverage *big.Int) (*rebalanceSnapshot, error) {
	price, err := e.pos.Price(e.oracle, e.pos.TotalShares)
	if err != nil {
		return nil, err
	}
	return &rebalanceSnapshot{
		leverage:   leverage,
		collateral: new(big.Int).Set(e.pos.TotalCollateral),
		debt:       new(big.Int).Set(e.pos.TotalDebt),
		price:      price,
	}, nil
}

// finishRebalance enforces the no-overshoot invariant and emits the
// Rebalanced event. dir is +1 for leverage-up, -1 for leverage-down.
func (e *Engine) finishRebalance(direction string, op *Operation, incentive *big.Int, before *rebalanceSnapshot, target *big.Int, dir int) error {
	after, err := e.pos.LeverageRatio(e.oracle)
	if err != nil {
		return err
	}
	if dir > 0 && after.Cmp(target) > 0 {
		return ErrAmountInTooHigh
	}
	if dir < 0 && after.Cmp(target) < 0 {
		return ErrAmountInTooHigh
	}
	priceAfter, err := e.pos.Price(e.oracle, e.pos.TotalShares)
	if err != nil {
		return err
	}
	e.emitter.Emit(events.Rebalanced{
		Rebalancer:       op.Sender,
		Direction:        direction,
		LeverageBefore:   before.leverage,
		LeverageAfter:    after,
		CollateralBefore: before.collateral,
		CollateralAfter:  new(big.Int).Set(e.pos.TotalCollateral),
		DebtBefore:       before.debt,
		DebtAfter:        new(big.Int).Set(e.pos.TotalDebt),
		PriceBefore:      before.price,
		PriceAfter:       priceAfter,
		AmountIn:         op.AmountIn,
		AmountOut:        op.AmountOut,
		Incentive:        incentive,
		FeeAmount:        op.FeeAmount,
	})
	return nil
}

// completeRebalance settles a leverage correction against the lending
// market and pays the rebalancer.
func (e *Engine) completeRebalance(op *Operation) error {
	switch op.Kind {
	case OpLeverageUp:
		if code := e.market.Supply(e.addr, op.CollateralAmount); code != market.CodeNoError {
			return market.Check("supply", code)
		}
		if code := e.market.Borrow(e.addr, op.DebtAmount); code != market.CodeNoError {
			return market.Check("borrow", code)
		}
		e.pos.TotalCollateral.Add(e.pos.TotalCollateral, op.CollateralAmount)
		e.pos.TotalDebt.Add(e.pos.TotalDebt, op.DebtAmount)
	case OpLeverageDown:
		if code := e.market.Repay(e.addr, op.DebtAmount); code != market.CodeNoError {
			return market.Check("repay", code)
		}
		if code := e.market.Redeem(e.addr, op.CollateralAmount); code != market.CodeNoError {
			return market.Check("redeem", code)
		}
		e.pos.TotalCollateral.Sub(e.pos.TotalCollateral, op.CollateralAmount)
		e.pos.TotalDebt.Sub(e.pos.TotalDebt, op.DebtAmount)
	default:
		return ErrInvalidFlashSwapType
	}
	if err := e.transferChecked(op.TokenOut, e.addr, e.feeRecipient, op.FeeAmount); err != nil {
		return err
	}
	return e.transferChecked(op.TokenOut, e.addr, op.Recipient, op.AmountOut)
}
