package gateway

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"levfolio/bank"
)

var (
	// ErrSwapAmountTooLarge is returned when a requested output meets or
	// exceeds the pool reserve.
	ErrSwapAmountTooLarge = errors.New("gateway: swap amount exceeds reserve")
	// ErrInsufficientInputAmount is returned when the funds paid in by the
	// end of the swap do not satisfy the fee-adjusted invariant.
	ErrInsufficientInputAmount = errors.New("gateway: insufficient input amount")
	// ErrInvalidSwap is returned for zero or malformed swap requests.
	ErrInvalidSwap = errors.New("gateway: invalid swap request")
	// ErrUnknownRecipient is returned when the swap recipient expects a
	// callback but none is registered for its address.
	ErrUnknownRecipient = errors.New("gateway: no callback registered for recipient")
)

// Callback receives control synchronously in the middle of a flash swap.
// caller is the gateway that delivered the funds and sender is the identity
// that initiated the swap; both must be verified by the receiver before it
// acts on the payload.
type Callback interface {
	OnSwapCallback(caller, sender common.Address, amount0, amount1 *big.Int, data []byte) error
}

// Gateway lends an asset immediately against a promise to repay before the
// call returns. A swap with attached data invokes the recipient's callback
// between the optimistic transfer and the invariant check; if repayment
// falls short the whole call fails.
type Gateway interface {
	Address() common.Address
	Token0() bank.Asset
	Token1() bank.Asset
	// Swap sends amount0Out/amount1Out to the recipient, invokes its
	// callback when data is non-empty, then enforces repayment. initiator
	// is reported to the callback as the swap's originator.
	Swap(initiator common.Address, amount0Out, amount1Out *big.Int, to common.Address, data []byte) error
	// QuoteAmountIn returns the amount of tokenIn needed to take amountOut
	// of the opposite token out of the pool.
	QuoteAmountIn(tokenIn bank.Asset, amountOut *big.Int) (*big.Int, error)
	// QuoteAmountOut returns the amount of the opposite token received for
	// paying amountIn of tokenIn into the pool.
	QuoteAmountOut(tokenIn bank.Asset, amountIn *big.Int) (*big.Int, error)
}
