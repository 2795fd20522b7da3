package engine

import "errors"

var (
	// ErrUninitialized is returned when an operation other than Initialize
	// runs against an unseeded position.
	ErrUninitialized = errors.New("leverage engine: position not initialized")
	// ErrAlreadyInitialized is returned when Initialize runs twice.
	ErrAlreadyInitialized = errors.New("leverage engine: position already initialized")
	// ErrUnauthorized is returned for privileged calls from the wrong
	// identity and for callback deliveries that fail the gateway or
	// initiator checks.
	ErrUnauthorized = errors.New("leverage engine: unauthorized")
	// ErrInvalidAmount is returned for nil or non-positive argument amounts.
	ErrInvalidAmount = errors.New("leverage engine: amount must be positive")

	// ErrAmountInTooLow is returned when the caller's pre-funded balance
	// cannot cover the operation's input requirement.
	ErrAmountInTooLow = errors.New("leverage engine: amount in too low")
	// ErrAmountInTooHigh is returned when a rebalance input exceeds the
	// damped step cap.
	ErrAmountInTooHigh = errors.New("leverage engine: amount in too high")
	// ErrAmountOutTooLow is returned when an operation would produce a
	// zero or negative output.
	ErrAmountOutTooLow = errors.New("leverage engine: amount out too low")
	// ErrAmountOutTooHigh is returned when a mint would push the share
	// supply past its cap.
	ErrAmountOutTooHigh = errors.New("leverage engine: amount out too high")
	// ErrSlippageTooHigh is returned when the computed output falls below
	// the caller's minimum.
	ErrSlippageTooHigh = errors.New("leverage engine: slippage too high")
	// ErrBalanced is returned when a rebalance is requested while the
	// leverage ratio already sits inside the band.
	ErrBalanced = errors.New("leverage engine: no need to rebalance")

	// ErrInvalidFlashSwapType is returned when a callback payload carries
	// an unrecognized operation kind.
	ErrInvalidFlashSwapType = errors.New("leverage engine: invalid flash swap type")
	// ErrInvalidFlashSwapAmount is returned when the delivered flash
	// amounts disagree with the operation's borrow amount.
	ErrInvalidFlashSwapAmount = errors.New("leverage engine: invalid flash swap amount")
)
