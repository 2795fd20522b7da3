package engine

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"levfolio/bank"
)

// Kind tags the operation a flash swap settles.
type Kind string

const (
	OpInitialize   Kind = "initialize"
	OpMint         Kind = "mint"
	OpBurn         Kind = "burn"
	OpLeverageUp   Kind = "leverage_up"
	OpLeverageDown Kind = "leverage_down"
)

// Operation is the ephemeral settlement plan for one atomic call. It is
// built before the flash swap is requested, travels as the swap's data
// payload, and is consumed exactly once by the completion handler matching
// its kind.
//
// TokenIn/AmountIn describe what the caller puts in, TokenOut/AmountOut what
// the caller receives. BorrowAmount is the flash-delivered amount and
// RepayAmount what the gateway is owed.
type Operation struct {
	Kind            Kind           `json:"kind"`
	Sender          common.Address `json:"sender"`
	Recipient       common.Address `json:"recipient"`
	RefundRecipient common.Address `json:"refundRecipient"`

	TokenIn  bank.Asset `json:"tokenIn"`
	TokenOut bank.Asset `json:"tokenOut"`

	AmountIn     *big.Int `json:"amountIn"`
	AmountOut    *big.Int `json:"amountOut"`
	FeeAmount    *big.Int `json:"feeAmount"`
	RefundAmount *big.Int `json:"refundAmount"`

	BorrowAmount *big.Int `json:"borrowAmount"`
	RepayAmount  *big.Int `json:"repayAmount"`

	CollateralAmount *big.Int `json:"collateralAmount"`
	DebtAmount       *big.Int `json:"debtAmount"`
	Shares           *big.Int `json:"shares"`
}

// Encode renders the operation into a flash swap data payload.
func (op *Operation) Encode() ([]byte, error) {
	data, err := json.Marshal(op)
	if err != nil {
		return nil, fmt.Errorf("leverage engine: encode operation: %w", err)
	}
	return data, nil
}

// DecodeOperation parses a flash swap data payload.
func DecodeOperation(data []byte) (*Operation, error) {
	var op Operation
	if err := json.Unmarshal(data, &op); err != nil {
		return nil, fmt.Errorf("leverage engine: decode operation: %w", err)
	}
	return &op, nil
}
