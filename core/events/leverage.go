package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

const (
	TypeInitialized  = "leverage.initialized"
	TypeSharesMinted = "leverage.minted"
	TypeSharesBurned = "leverage.burned"
	TypeRebalanced   = "leverage.rebalanced"
)

// Initialized is emitted exactly once when a position is seeded.
type Initialized struct {
	Initializer     common.Address
	TotalCollateral *big.Int
	TotalDebt       *big.Int
	TotalShares     *big.Int
}

func (Initialized) EventType() string { return TypeInitialized }

func (e Initialized) Render() Record {
	return Record{
		Type: TypeInitialized,
		Attributes: map[string]string{
			"initializer":     e.Initializer.Hex(),
			"totalCollateral": formatAmount(e.TotalCollateral),
			"totalDebt":       formatAmount(e.TotalDebt),
			"totalShares":     formatAmount(e.TotalShares),
		},
	}
}

// SharesMinted is emitted after a successful mint.
type SharesMinted struct {
	Sender       common.Address
	Recipient    common.Address
	Shares       *big.Int
	AmountIn     *big.Int
	FeeAmount    *big.Int
	RefundAmount *big.Int
	Collateral   *big.Int
	Debt         *big.Int
}

func (SharesMinted) EventType() string { return TypeSharesMinted }

func (e SharesMinted) Render() Record {
	return Record{
		Type: TypeSharesMinted,
		Attributes: map[string]string{
			"sender":     e.Sender.Hex(),
			"recipient":  e.Recipient.Hex(),
			"shares":     formatAmount(e.Shares),
			"amountIn":   formatAmount(e.AmountIn),
			"fee":        formatAmount(e.FeeAmount),
			"refund":     formatAmount(e.RefundAmount),
			"collateral": formatAmount(e.Collateral),
			"debt":       formatAmount(e.Debt),
		},
	}
}

// SharesBurned is emitted after a successful burn.
type SharesBurned struct {
	Sender     common.Address
	Recipient  common.Address
	Shares     *big.Int
	AmountOut  *big.Int
	FeeAmount  *big.Int
	Collateral *big.Int
	Debt       *big.Int
}

func (SharesBurned) EventType() string { return TypeSharesBurned }

func (e SharesBurned) Render() Record {
	return Record{
		Type: TypeSharesBurned,
		Attributes: map[string]string{
			"sender":     e.Sender.Hex(),
			"recipient":  e.Recipient.Hex(),
			"shares":     formatAmount(e.Shares),
			"amountOut":  formatAmount(e.AmountOut),
			"fee":        formatAmount(e.FeeAmount),
			"collateral": formatAmount(e.Collateral),
			"debt":       formatAmount(e.Debt),
		},
	}
}

// Rebalanced carries the before/after snapshot for a leverage correction so
// downstream consumers can verify the ratio moved toward target without
// overshoot and that price-per-share held steady.
type Rebalanced struct {
	Rebalancer       common.Address
	Direction        string
	LeverageBefore   *big.Int
	LeverageAfter    *big.Int
	CollateralBefore *big.Int
	CollateralAfter  *big.Int
	DebtBefore       *big.Int
	DebtAfter        *big.Int
	PriceBefore      *big.Int
	PriceAfter       *big.Int
	AmountIn         *big.Int
	AmountOut        *big.Int
	Incentive        *big.Int
	FeeAmount        *big.Int
}

func (Rebalanced) EventType() string { return TypeRebalanced }

func (e Rebalanced) Render() Record {
	return Record{
		Type: TypeRebalanced,
		Attributes: map[string]string{
			"rebalancer":       e.Rebalancer.Hex(),
			"direction":        e.Direction,
			"leverageBefore":   formatAmount(e.LeverageBefore),
			"leverageAfter":    formatAmount(e.LeverageAfter),
			"collateralBefore": formatAmount(e.CollateralBefore),
			"collateralAfter":  formatAmount(e.CollateralAfter),
			"debtBefore":       formatAmount(e.DebtBefore),
			"debtAfter":        formatAmount(e.DebtAfter),
			"priceBefore":      formatAmount(e.PriceBefore),
			"priceAfter":       formatAmount(e.PriceAfter),
			"amountIn":         formatAmount(e.AmountIn),
			"amountOut":        formatAmount(e.AmountOut),
			"incentive":        formatAmount(e.Incentive),
			"fee":              formatAmount(e.FeeAmount),
		},
	}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
