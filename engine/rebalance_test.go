package engine

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"levfolio/core/events"
	"levfolio/market"
)

// newRebalanceVenue builds a position directly against the money market so
// tests can dial in an exact leverage ratio. Collateral is priced at 2 debt
// units; the venue's band is [1.7, 2.3] around a 2.0 target with a 1%
// incentive cap saturating at 0.3 drift.
func newRebalanceVenue(t *testing.T, collateral, debt int64) *venue {
	t.Helper()
	v := newVenue(t, big.NewRat(2, 1), 1_000_000, 2_000_000)

	require.NoError(t, v.book.Mint(collateralAsset, engineAddr, big.NewInt(collateral)))
	require.Equal(t, market.CodeNoError, v.market.Supply(engineAddr, big.NewInt(collateral)))
	if debt > 0 {
		require.Equal(t, market.CodeNoError, v.market.Borrow(engineAddr, big.NewInt(debt)))
		// Park the borrow proceeds away from the engine account.
		require.NoError(t, v.book.Transfer(debtAsset, engineAddr, ownerAddr, big.NewInt(debt)))
	}

	v.pos.TotalCollateral = big.NewInt(collateral)
	v.pos.TotalDebt = big.NewInt(debt)
	v.pos.TotalShares = big.NewInt(100_000)
	v.pos.Initialized = true
	return v
}

func TestLeverageDownMovesTowardTarget(t *testing.T) {
	// 130_000 collateral at price 2 against 160_000 debt: equity 100_000,
	// leverage 2.6, above the 2.3 upper bound.
	v := newRebalanceVenue(t, 130_000, 160_000)
	v.emitter.events = nil

	before, err := v.engine.LeverageRatio()
	require.NoError(t, err)
	require.Equal(t, wadRatio(26, 10), before)

	require.NoError(t, v.book.Mint(debtAsset, bobAddr, big.NewInt(20_000)))
	require.NoError(t, v.book.Transfer(debtAsset, bobAddr, engineAddr, big.NewInt(20_000)))

	// Fair value of 20_000 debt is 10_000 collateral; a saturated 1%
	// premium grosses that to 10_101, a 101 incentive taxed 10.
	require.NoError(t, v.engine.LeverageDown(bobAddr, big.NewInt(91)))

	pos := v.engine.Position()
	require.Equal(t, big.NewInt(140_000), pos.TotalDebt)
	require.Equal(t, big.NewInt(119_899), pos.TotalCollateral)
	require.Equal(t, big.NewInt(140_000), v.market.BorrowBalanceCurrent(engineAddr))
	require.Equal(t, big.NewInt(119_899), v.market.BalanceOfUnderlying(engineAddr))
	require.Equal(t, big.NewInt(10_091), v.book.BalanceOf(collateralAsset, bobAddr))
	require.Equal(t, big.NewInt(10), v.book.BalanceOf(collateralAsset, feeAddr))

	after, err := v.engine.LeverageRatio()
	require.NoError(t, err)
	require.Negative(t, after.Cmp(before), "rebalance must reduce leverage")
	require.Positive(t, after.Cmp(v.pos.TargetLeverageRatio), "damped step must not cross the target")

	require.Len(t, v.emitter.events, 1)
	ev, ok := v.emitter.events[0].(events.Rebalanced)
	require.True(t, ok, "event type %T", v.emitter.events[0])
	require.Equal(t, "down", ev.Direction)
	require.Equal(t, big.NewInt(101), ev.Incentive)
	require.Equal(t, before, ev.LeverageBefore)
	require.Equal(t, after, ev.LeverageAfter)
}

func TestLeverageDownSlippage(t *testing.T) {
	v := newRebalanceVenue(t, 130_000, 160_000)

	require.NoError(t, v.book.Mint(debtAsset, engineAddr, big.NewInt(20_000)))

	err := v.engine.LeverageDown(bobAddr, big.NewInt(92))
	require.ErrorIs(t, err, ErrSlippageTooHigh)

	pos := v.engine.Position()
	require.Equal(t, big.NewInt(130_000), pos.TotalCollateral, "failed rebalance must not move the position")
	require.Equal(t, big.NewInt(160_000), pos.TotalDebt)
	require.Equal(t, big.NewInt(20_000), v.book.BalanceOf(debtAsset, engineAddr), "pre-funding survives the revert")
}

func TestLeverageDownStepCap(t *testing.T) {
	v := newRebalanceVenue(t, 130_000, 160_000)

	// Half the 0.6 drift over 100_000 equity caps the input at 30_000.
	require.NoError(t, v.book.Mint(debtAsset, engineAddr, big.NewInt(30_001)))
	err := v.engine.LeverageDown(bobAddr, nil)
	require.ErrorIs(t, err, ErrAmountInTooHigh)
}

func TestLeverageUpMovesTowardTarget(t *testing.T) {
	// 70_000 collateral at price 2 against 40_000 debt: equity 100_000,
	// leverage 1.4, below the 1.7 lower bound.
	v := newRebalanceVenue(t, 70_000, 40_000)
	v.emitter.events = nil

	before, err := v.engine.LeverageRatio()
	require.NoError(t, err)
	require.Equal(t, wadRatio(14, 10), before)

	require.NoError(t, v.book.Mint(collateralAsset, bobAddr, big.NewInt(10_000)))
	require.NoError(t, v.book.Transfer(collateralAsset, bobAddr, engineAddr, big.NewInt(10_000)))

	// Fair value of 10_000 collateral is 20_000 debt; grossed up 1% to
	// 20_202, a 202 incentive taxed 20.
	require.NoError(t, v.engine.LeverageUp(bobAddr, big.NewInt(182)))

	pos := v.engine.Position()
	require.Equal(t, big.NewInt(80_000), pos.TotalCollateral)
	require.Equal(t, big.NewInt(60_202), pos.TotalDebt)
	require.Equal(t, big.NewInt(20_182), v.book.BalanceOf(debtAsset, bobAddr))
	require.Equal(t, big.NewInt(20), v.book.BalanceOf(debtAsset, feeAddr))

	after, err := v.engine.LeverageRatio()
	require.NoError(t, err)
	require.Positive(t, after.Cmp(before), "rebalance must raise leverage")
	require.LessOrEqual(t, after.Cmp(v.pos.TargetLeverageRatio), 0, "damped step must not cross the target")

	require.Len(t, v.emitter.events, 1)
	ev, ok := v.emitter.events[0].(events.Rebalanced)
	require.True(t, ok, "event type %T", v.emitter.events[0])
	require.Equal(t, "up", ev.Direction)
	require.Equal(t, big.NewInt(202), ev.Incentive)
}

func TestLeverageUpPartialDriftIncentive(t *testing.T) {
	// 80_000 collateral at price 2 against 60_000 debt: equity 100_000,
	// leverage 1.6, only 0.1 below the 1.7 lower bound. The premium scales
	// with the escape from the band, 0.1/0.3 of the 1% cap, not with the
	// 0.4 distance to target.
	v := newRebalanceVenue(t, 80_000, 60_000)
	v.emitter.events = nil

	require.NoError(t, v.book.Mint(collateralAsset, bobAddr, big.NewInt(5_000)))
	require.NoError(t, v.book.Transfer(collateralAsset, bobAddr, engineAddr, big.NewInt(5_000)))

	// Fair value of 5_000 collateral is 10_000 debt; a 0.333% premium
	// grosses that to 10_033, a 33 incentive taxed 3.
	require.NoError(t, v.engine.LeverageUp(bobAddr, big.NewInt(30)))

	pos := v.engine.Position()
	require.Equal(t, big.NewInt(85_000), pos.TotalCollateral)
	require.Equal(t, big.NewInt(70_033), pos.TotalDebt)
	require.Equal(t, big.NewInt(10_030), v.book.BalanceOf(debtAsset, bobAddr))
	require.Equal(t, big.NewInt(3), v.book.BalanceOf(debtAsset, feeAddr))

	require.Len(t, v.emitter.events, 1)
	ev, ok := v.emitter.events[0].(events.Rebalanced)
	require.True(t, ok, "event type %T", v.emitter.events[0])
	require.Equal(t, big.NewInt(33), ev.Incentive)
}

func TestLeverageDownPartialDriftIncentive(t *testing.T) {
	// 120_000 collateral at price 2 against 140_000 debt: equity 100_000,
	// leverage 2.4, only 0.1 above the 2.3 upper bound.
	v := newRebalanceVenue(t, 120_000, 140_000)
	v.emitter.events = nil

	require.NoError(t, v.book.Mint(debtAsset, bobAddr, big.NewInt(10_000)))
	require.NoError(t, v.book.Transfer(debtAsset, bobAddr, engineAddr, big.NewInt(10_000)))

	// Fair value of 10_000 debt is 5_000 collateral; the 0.333% premium
	// grosses that to 5_016, a 16 incentive taxed 1.
	require.NoError(t, v.engine.LeverageDown(bobAddr, big.NewInt(15)))

	pos := v.engine.Position()
	require.Equal(t, big.NewInt(114_984), pos.TotalCollateral)
	require.Equal(t, big.NewInt(130_000), pos.TotalDebt)
	require.Equal(t, big.NewInt(5_015), v.book.BalanceOf(collateralAsset, bobAddr))
	require.Equal(t, big.NewInt(1), v.book.BalanceOf(collateralAsset, feeAddr))

	require.Len(t, v.emitter.events, 1)
	ev, ok := v.emitter.events[0].(events.Rebalanced)
	require.True(t, ok, "event type %T", v.emitter.events[0])
	require.Equal(t, big.NewInt(16), ev.Incentive)
}

func TestLeverageUpStepCap(t *testing.T) {
	v := newRebalanceVenue(t, 70_000, 40_000)

	// The 30_000 debt-value cap converts to 15_000 collateral units.
	require.NoError(t, v.book.Mint(collateralAsset, engineAddr, big.NewInt(15_001)))
	err := v.engine.LeverageUp(bobAddr, nil)
	require.ErrorIs(t, err, ErrAmountInTooHigh)
}

func TestRebalanceBalancedInsideBand(t *testing.T) {
	// 100_000 collateral at price 2 against 100_000 debt: leverage exactly
	// 2.0, squarely inside [1.7, 2.3].
	v := newRebalanceVenue(t, 100_000, 100_000)

	require.ErrorIs(t, v.engine.LeverageUp(bobAddr, nil), ErrBalanced)
	require.ErrorIs(t, v.engine.LeverageDown(bobAddr, nil), ErrBalanced)
}

func TestRebalanceRequiresFunding(t *testing.T) {
	v := newRebalanceVenue(t, 70_000, 40_000)
	require.ErrorIs(t, v.engine.LeverageUp(bobAddr, nil), ErrAmountInTooLow)
}

func TestRebalanceRequiresInitialization(t *testing.T) {
	v := newVenue(t, big.NewRat(2, 1), 1_000_000, 2_000_000)
	require.ErrorIs(t, v.engine.LeverageUp(bobAddr, nil), ErrUninitialized)
	require.ErrorIs(t, v.engine.LeverageDown(bobAddr, nil), ErrUninitialized)
}
