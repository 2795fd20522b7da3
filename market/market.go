package market

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"levfolio/bank"
)

// Code is the numeric response returned by lending-market primitives. Zero
// means success; every other value identifies the failure cause and is
// preserved for diagnosis.
type Code uint32

const (
	CodeNoError Code = iota
	CodeInvalidAmount
	CodeInsufficientBalance
	CodeInsufficientLiquidity
	CodeInsufficientCollateral
	CodeMarketNotEntered
	CodeMarketNotListed
	CodePriceError
)

func (c Code) String() string {
	switch c {
	case CodeNoError:
		return "no error"
	case CodeInvalidAmount:
		return "invalid amount"
	case CodeInsufficientBalance:
		return "insufficient balance"
	case CodeInsufficientLiquidity:
		return "insufficient liquidity"
	case CodeInsufficientCollateral:
		return "insufficient collateral"
	case CodeMarketNotEntered:
		return "market not entered"
	case CodeMarketNotListed:
		return "market not listed"
	case CodePriceError:
		return "price error"
	default:
		return fmt.Sprintf("code %d", uint32(c))
	}
}

// Error wraps a nonzero response code together with the operation that
// produced it.
type Error struct {
	Op   string
	Code Code
}

func (e *Error) Error() string {
	return fmt.Sprintf("lending market: %s failed: %s (%d)", e.Op, e.Code, uint32(e.Code))
}

// Check converts a response code into an error, returning nil on success.
func Check(op string, code Code) error {
	if code == CodeNoError {
		return nil
	}
	return &Error{Op: op, Code: code}
}

// Market is the lending-market adapter consumed by the leverage engine:
// collateral supply/redeem and debt borrow/repay primitives against a single
// collateral/debt pair, each reporting a response code.
type Market interface {
	Supply(account common.Address, amount *big.Int) Code
	Borrow(account common.Address, amount *big.Int) Code
	Repay(account common.Address, amount *big.Int) Code
	Redeem(account common.Address, amount *big.Int) Code
	BalanceOfUnderlying(account common.Address) *big.Int
	BorrowBalanceCurrent(account common.Address) *big.Int
	EnterMarkets(account common.Address, assets []bank.Asset) []Code
}
