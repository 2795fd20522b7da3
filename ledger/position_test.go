package ledger

import (
	"errors"
	"math/big"
	"testing"

	"levfolio/oracle"
)

func wadTimes(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), wad)
}

func testPosition() *Position {
	return &Position{
		CollateralAsset:     "BTC",
		DebtAsset:           "USD",
		ShareAsset:          "LBTC",
		TotalCollateral:     big.NewInt(100),
		TotalDebt:           big.NewInt(150),
		TotalShares:         big.NewInt(100),
		FeeRateBps:          10,
		TargetLeverageRatio: wadTimes(2),
		MaxShareSupply:      big.NewInt(1_000_000),
		Initialized:         true,
	}
}

func testOracle() *oracle.Router {
	router := oracle.NewRouter("USD")
	router.SetRate("BTC", big.NewRat(400, 1))
	return router
}

func TestSharesToUnderlying(t *testing.T) {
	pos := testPosition()
	collateral, debt, err := pos.SharesToUnderlying(big.NewInt(5))
	if err != nil {
		t.Fatalf("shares to underlying: %v", err)
	}
	if collateral.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("expected 5 collateral, got %s", collateral)
	}
	// 5 * 150 / 100 floors to 7.
	if debt.Cmp(big.NewInt(7)) != 0 {
		t.Fatalf("expected 7 debt, got %s", debt)
	}
}

func TestSharesToUnderlyingFullSupplyExact(t *testing.T) {
	pos := testPosition()
	collateral, debt, err := pos.SharesToUnderlying(pos.TotalShares)
	if err != nil {
		t.Fatalf("shares to underlying: %v", err)
	}
	if collateral.Cmp(pos.TotalCollateral) != 0 || debt.Cmp(pos.TotalDebt) != 0 {
		t.Fatalf("expected exact totals, got (%s, %s)", collateral, debt)
	}
}

func TestSharesToUnderlyingUninitialized(t *testing.T) {
	pos := testPosition()
	pos.Initialized = false
	if _, _, err := pos.SharesToUnderlying(big.NewInt(1)); !errors.Is(err, ErrUninitialized) {
		t.Fatalf("expected ErrUninitialized, got %v", err)
	}
}

func TestLeverageRatioRoundsUp(t *testing.T) {
	pos := testPosition()
	pos.TotalCollateral = big.NewInt(1)
	pos.TotalDebt = big.NewInt(133)
	// CV=400, equity=267, ratio=400/267 which is not exact in wad.
	ratio, err := pos.LeverageRatio(testOracle())
	if err != nil {
		t.Fatalf("leverage ratio: %v", err)
	}
	floor := mulDiv(big.NewInt(400), wad, big.NewInt(267))
	if ratio.Cmp(floor) != 1 {
		t.Fatalf("expected ceil-rounded ratio above %s, got %s", floor, ratio)
	}
}

func TestLeverageRatioInsolvent(t *testing.T) {
	pos := testPosition()
	pos.TotalDebt = big.NewInt(40_000) // equals collateral value
	if _, err := pos.LeverageRatio(testOracle()); !errors.Is(err, ErrInsolvent) {
		t.Fatalf("expected ErrInsolvent, got %v", err)
	}
	pos.TotalDebt = big.NewInt(50_000)
	if _, err := pos.LeverageRatio(testOracle()); !errors.Is(err, ErrInsolvent) {
		t.Fatalf("expected ErrInsolvent for negative equity, got %v", err)
	}
}

func TestPrice(t *testing.T) {
	pos := testPosition()
	price, err := pos.Price(testOracle(), big.NewInt(1))
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	// 1 share backs 1 BTC (400 USD) and 1 USD debt (150/100 floors to 1).
	if price.Cmp(big.NewInt(399)) != 0 {
		t.Fatalf("expected price 399, got %s", price)
	}
}

func TestBandDefaultsToTarget(t *testing.T) {
	pos := testPosition()
	min, max := pos.Band()
	if min.Cmp(pos.TargetLeverageRatio) != 0 || max.Cmp(pos.TargetLeverageRatio) != 0 {
		t.Fatalf("expected band collapsed to target, got (%s, %s)", min, max)
	}

	pos.MinLeverageRatio = wadTimes(1)
	pos.MaxLeverageRatio = wadTimes(3)
	min, max = pos.Band()
	if min.Cmp(wadTimes(1)) != 0 || max.Cmp(wadTimes(3)) != 0 {
		t.Fatalf("expected configured band, got (%s, %s)", min, max)
	}
}

func TestCloneIsDeep(t *testing.T) {
	pos := testPosition()
	clone := pos.Clone()
	clone.TotalCollateral.SetInt64(999)
	clone.Initialized = false
	if pos.TotalCollateral.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("clone mutated original collateral: %s", pos.TotalCollateral)
	}
	if !pos.Initialized {
		t.Fatal("clone mutated original flag")
	}
}

func TestRestore(t *testing.T) {
	pos := testPosition()
	snapshot := pos.Clone()
	pos.TotalDebt.SetInt64(0)
	pos.TotalShares.SetInt64(1)
	pos.Restore(snapshot)
	if pos.TotalDebt.Cmp(big.NewInt(150)) != 0 || pos.TotalShares.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected restored totals, got debt=%s shares=%s", pos.TotalDebt, pos.TotalShares)
	}
}

func TestPerShareViews(t *testing.T) {
	pos := testPosition()
	cps, err := pos.CollateralPerShare()
	if err != nil {
		t.Fatalf("collateral per share: %v", err)
	}
	if cps.Cmp(wad) != 0 {
		t.Fatalf("expected 1.0 collateral per share, got %s", cps)
	}
	dps, err := pos.DebtPerShare()
	if err != nil {
		t.Fatalf("debt per share: %v", err)
	}
	want := new(big.Int).Quo(new(big.Int).Mul(big.NewInt(150), wad), big.NewInt(100))
	if dps.Cmp(want) != 0 {
		t.Fatalf("expected 1.5 debt per share, got %s", dps)
	}
}
