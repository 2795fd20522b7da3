package engine

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"levfolio/core/events"
	"levfolio/market"
)

// OnSwapCallback is the gateway's flash-swap re-entry point. It runs on the
// same goroutine as the operation that triggered the swap, while run() still
// holds the engine lock, so it must not lock again.
func (e *Engine) OnSwapCallback(caller, sender common.Address, amount0, amount1 *big.Int, data []byte) error {
	if caller != e.gateway.Address() || sender != e.addr || e.inFlight == nil {
		return ErrUnauthorized
	}
	decoded, err := DecodeOperation(data)
	if err != nil {
		return err
	}
	// The transported payload only identifies the operation. Settlement
	// consumes the tracked in-flight copy, so tampered amounts in the
	// payload never reach a commit handler.
	op := e.inFlight
	if decoded.Kind != op.Kind {
		return ErrInvalidFlashSwapType
	}

	borrowed := amount0
	borrowAsset := e.gateway.Token0()
	if amount1 != nil && amount1.Sign() > 0 {
		borrowed = amount1
		borrowAsset = e.gateway.Token1()
	}

	var wantAsset = e.pos.CollateralAsset
	switch op.Kind {
	case OpInitialize, OpMint:
		wantAsset = e.pos.CollateralAsset
	case OpBurn, OpLeverageUp, OpLeverageDown:
		wantAsset = e.pos.DebtAsset
	default:
		return ErrInvalidFlashSwapType
	}
	if borrowAsset != wantAsset || borrowed == nil || borrowed.Cmp(op.BorrowAmount) != 0 {
		return ErrInvalidFlashSwapAmount
	}
	return e.completeOperation(op)
}

// completeOperation dispatches the settlement half of an operation. It runs
// either inside the flash-swap callback or inline when no borrow was needed.
func (e *Engine) completeOperation(op *Operation) error {
	switch op.Kind {
	case OpInitialize:
		return e.completeInitialize(op)
	case OpMint:
		return e.completeMint(op)
	case OpBurn:
		return e.completeBurn(op)
	case OpLeverageUp, OpLeverageDown:
		return e.completeRebalance(op)
	default:
		return ErrInvalidFlashSwapType
	}
}

// completeInitialize settles the seeding flash swap: the engine holds the
// borrowed collateral plus the owner's debt-asset pre-funding.
func (e *Engine) completeInitialize(op *Operation) error {
	if code := e.market.Supply(e.addr, op.CollateralAmount); code != market.CodeNoError {
		return market.Check("supply", code)
	}
	if op.DebtAmount.Sign() > 0 {
		if code := e.market.Borrow(e.addr, op.DebtAmount); code != market.CodeNoError {
			return market.Check("borrow", code)
		}
	}
	if err := e.transferChecked(e.pos.DebtAsset, e.addr, e.gateway.Address(), op.RepayAmount); err != nil {
		return err
	}
	if err := e.transferChecked(e.pos.DebtAsset, e.addr, op.RefundRecipient, op.RefundAmount); err != nil {
		return err
	}
	if err := e.book.Mint(e.pos.ShareAsset, op.Recipient, op.Shares); err != nil {
		return err
	}

	e.pos.TotalCollateral = new(big.Int).Set(op.CollateralAmount)
	e.pos.TotalDebt = new(big.Int).Set(op.DebtAmount)
	e.pos.TotalShares = new(big.Int).Set(op.Shares)
	e.pos.Initialized = true

	e.emitter.Emit(events.Initialized{
		Initializer:     op.Sender,
		TotalCollateral: op.CollateralAmount,
		TotalDebt:       op.DebtAmount,
		TotalShares:     op.Shares,
	})
	return nil
}
