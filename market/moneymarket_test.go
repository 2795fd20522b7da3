package market

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"levfolio/bank"
	"levfolio/oracle"
)

const (
	collateralAsset bank.Asset = "BTC"
	debtAsset       bank.Asset = "USD"
)

func addr(b byte) common.Address {
	var a common.Address
	a[19] = b
	return a
}

func newTestMarket(t *testing.T) (*MoneyMarket, *bank.Book, common.Address) {
	t.Helper()
	book := bank.NewBook()
	router := oracle.NewRouter(debtAsset)
	router.SetRate(collateralAsset, big.NewRat(400, 1))

	marketAddr := addr(0xA0)
	factor := new(big.Int).Mul(big.NewInt(75), new(big.Int).Quo(wad, big.NewInt(100)))
	mm := NewMoneyMarket(book, router, marketAddr, collateralAsset, debtAsset, factor)

	// Seed pooled debt liquidity.
	if err := book.Mint(debtAsset, marketAddr, big.NewInt(1_000_000)); err != nil {
		t.Fatalf("seed liquidity: %v", err)
	}
	return mm, book, marketAddr
}

func TestSupplyBorrowRepayRedeem(t *testing.T) {
	mm, book, _ := newTestMarket(t)
	borrower := addr(0x01)
	if err := book.Mint(collateralAsset, borrower, big.NewInt(10)); err != nil {
		t.Fatalf("mint collateral: %v", err)
	}

	codes := mm.EnterMarkets(borrower, []bank.Asset{collateralAsset, debtAsset})
	for i, code := range codes {
		if code != CodeNoError {
			t.Fatalf("enter markets slot %d: %s", i, code)
		}
	}

	if code := mm.Supply(borrower, big.NewInt(10)); code != CodeNoError {
		t.Fatalf("supply: %s", code)
	}
	if got := mm.BalanceOfUnderlying(borrower); got.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("expected underlying 10, got %s", got)
	}

	// 10 BTC at 400 with 75% factor allows up to 3000 USD.
	if code := mm.Borrow(borrower, big.NewInt(3000)); code != CodeNoError {
		t.Fatalf("borrow: %s", code)
	}
	if got := mm.BorrowBalanceCurrent(borrower); got.Cmp(big.NewInt(3000)) != 0 {
		t.Fatalf("expected borrow balance 3000, got %s", got)
	}

	if code := mm.Repay(borrower, big.NewInt(3000)); code != CodeNoError {
		t.Fatalf("repay: %s", code)
	}
	if code := mm.Redeem(borrower, big.NewInt(10)); code != CodeNoError {
		t.Fatalf("redeem: %s", code)
	}
	if got := book.BalanceOf(collateralAsset, borrower); got.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("expected collateral returned, got %s", got)
	}
}

func TestBorrowRequiresEnteredMarket(t *testing.T) {
	mm, book, _ := newTestMarket(t)
	borrower := addr(0x01)
	if err := book.Mint(collateralAsset, borrower, big.NewInt(10)); err != nil {
		t.Fatalf("mint collateral: %v", err)
	}
	if code := mm.Supply(borrower, big.NewInt(10)); code != CodeNoError {
		t.Fatalf("supply: %s", code)
	}
	if code := mm.Borrow(borrower, big.NewInt(1)); code != CodeMarketNotEntered {
		t.Fatalf("expected CodeMarketNotEntered, got %s", code)
	}
}

func TestBorrowBeyondCollateralFactor(t *testing.T) {
	mm, book, _ := newTestMarket(t)
	borrower := addr(0x01)
	if err := book.Mint(collateralAsset, borrower, big.NewInt(10)); err != nil {
		t.Fatalf("mint collateral: %v", err)
	}
	mm.EnterMarkets(borrower, []bank.Asset{collateralAsset})
	if code := mm.Supply(borrower, big.NewInt(10)); code != CodeNoError {
		t.Fatalf("supply: %s", code)
	}
	if code := mm.Borrow(borrower, big.NewInt(3001)); code != CodeInsufficientCollateral {
		t.Fatalf("expected CodeInsufficientCollateral, got %s", code)
	}
}

func TestRedeemBlockedWhileBorrowed(t *testing.T) {
	mm, book, _ := newTestMarket(t)
	borrower := addr(0x01)
	if err := book.Mint(collateralAsset, borrower, big.NewInt(10)); err != nil {
		t.Fatalf("mint collateral: %v", err)
	}
	mm.EnterMarkets(borrower, []bank.Asset{collateralAsset})
	if code := mm.Supply(borrower, big.NewInt(10)); code != CodeNoError {
		t.Fatalf("supply: %s", code)
	}
	if code := mm.Borrow(borrower, big.NewInt(3000)); code != CodeNoError {
		t.Fatalf("borrow: %s", code)
	}
	if code := mm.Redeem(borrower, big.NewInt(1)); code != CodeInsufficientCollateral {
		t.Fatalf("expected CodeInsufficientCollateral, got %s", code)
	}
}

func TestEnterMarketsUnknownAsset(t *testing.T) {
	mm, _, _ := newTestMarket(t)
	codes := mm.EnterMarkets(addr(0x01), []bank.Asset{"DOGE"})
	if codes[0] != CodeMarketNotListed {
		t.Fatalf("expected CodeMarketNotListed, got %s", codes[0])
	}
}

func TestCheckWrapsCodes(t *testing.T) {
	if err := Check("supply", CodeNoError); err != nil {
		t.Fatalf("expected nil for success code, got %v", err)
	}
	err := Check("borrow", CodeInsufficientLiquidity)
	var mErr *Error
	if !errors.As(err, &mErr) || mErr.Code != CodeInsufficientLiquidity {
		t.Fatalf("expected typed market error, got %v", err)
	}
}
