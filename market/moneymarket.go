package market

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"levfolio/bank"
	"levfolio/oracle"
)

var wad = big.NewInt(1_000_000_000_000_000_000)

// MoneyMarket is an in-process money market for one collateral/debt pair.
// Supplied collateral and outstanding borrows are recorded as receipt assets
// on the shared balance book, which keeps every market mutation inside the
// same journal the engine reverts on failure.
//
// The market redeems supply receipts 1:1; interest accrual belongs to the
// external venue this adapter stands in for and is outside its contract.
type MoneyMarket struct {
	mu sync.RWMutex

	book       *bank.Book
	oracle     oracle.Oracle
	addr       common.Address
	collateral bank.Asset
	debt       bank.Asset

	supplyReceipt bank.Asset
	borrowRecord  bank.Asset

	// collateralFactor is the wad-scaled fraction of collateral value that
	// may be borrowed against.
	collateralFactor *big.Int

	entered map[common.Address]bool
}

// NewMoneyMarket constructs a market holding its liquidity at addr on the
// given book. collateralFactor is wad-scaled (e.g. 0.75e18).
func NewMoneyMarket(book *bank.Book, o oracle.Oracle, addr common.Address, collateral, debt bank.Asset, collateralFactor *big.Int) *MoneyMarket {
	factor := new(big.Int).Set(wad)
	if collateralFactor != nil && collateralFactor.Sign() > 0 {
		factor = new(big.Int).Set(collateralFactor)
	}
	return &MoneyMarket{
		book:             book,
		oracle:           o,
		addr:             addr,
		collateral:       collateral,
		debt:             debt,
		supplyReceipt:    bank.Asset("market/supply/" + string(collateral)),
		borrowRecord:     bank.Asset("market/borrow/" + string(debt)),
		collateralFactor: factor,
		entered:          make(map[common.Address]bool),
	}
}

// Address returns the account holding the market's pooled liquidity.
func (m *MoneyMarket) Address() common.Address { return m.addr }

// EnterMarkets opts the account into the given markets. Unknown assets report
// CodeMarketNotListed in the matching slot.
func (m *MoneyMarket) EnterMarkets(account common.Address, assets []bank.Asset) []Code {
	m.mu.Lock()
	defer m.mu.Unlock()
	codes := make([]Code, len(assets))
	for i, asset := range assets {
		if asset != m.collateral && asset != m.debt {
			codes[i] = CodeMarketNotListed
			continue
		}
		m.entered[account] = true
		codes[i] = CodeNoError
	}
	return codes
}

// Supply locks the account's collateral in the market.
func (m *MoneyMarket) Supply(account common.Address, amount *big.Int) Code {
	if amount == nil || amount.Sign() <= 0 {
		return CodeInvalidAmount
	}
	if err := m.book.Transfer(m.collateral, account, m.addr, amount); err != nil {
		return CodeInsufficientBalance
	}
	if err := m.book.Mint(m.supplyReceipt, account, amount); err != nil {
		return CodeInvalidAmount
	}
	return CodeNoError
}

// Redeem releases previously supplied collateral, provided the account stays
// healthy afterwards.
func (m *MoneyMarket) Redeem(account common.Address, amount *big.Int) Code {
	if amount == nil || amount.Sign() <= 0 {
		return CodeInvalidAmount
	}
	supplied := m.book.BalanceOf(m.supplyReceipt, account)
	if supplied.Cmp(amount) < 0 {
		return CodeInsufficientBalance
	}
	remaining := new(big.Int).Sub(supplied, amount)
	healthy, code := m.positionHealthy(remaining, m.book.BalanceOf(m.borrowRecord, account))
	if code != CodeNoError {
		return code
	}
	if !healthy {
		return CodeInsufficientCollateral
	}
	if err := m.book.Burn(m.supplyReceipt, account, amount); err != nil {
		return CodeInsufficientBalance
	}
	if err := m.book.Transfer(m.collateral, m.addr, account, amount); err != nil {
		return CodeInsufficientLiquidity
	}
	return CodeNoError
}

// Borrow draws debt liquidity against the account's supplied collateral.
func (m *MoneyMarket) Borrow(account common.Address, amount *big.Int) Code {
	if amount == nil || amount.Sign() <= 0 {
		return CodeInvalidAmount
	}
	m.mu.RLock()
	entered := m.entered[account]
	m.mu.RUnlock()
	if !entered {
		return CodeMarketNotEntered
	}
	projected := new(big.Int).Add(m.book.BalanceOf(m.borrowRecord, account), amount)
	healthy, code := m.positionHealthy(m.book.BalanceOf(m.supplyReceipt, account), projected)
	if code != CodeNoError {
		return code
	}
	if !healthy {
		return CodeInsufficientCollateral
	}
	if err := m.book.Transfer(m.debt, m.addr, account, amount); err != nil {
		return CodeInsufficientLiquidity
	}
	if err := m.book.Mint(m.borrowRecord, account, amount); err != nil {
		return CodeInvalidAmount
	}
	return CodeNoError
}

// Repay returns borrowed debt liquidity to the market.
func (m *MoneyMarket) Repay(account common.Address, amount *big.Int) Code {
	if amount == nil || amount.Sign() <= 0 {
		return CodeInvalidAmount
	}
	if m.book.BalanceOf(m.borrowRecord, account).Cmp(amount) < 0 {
		return CodeInvalidAmount
	}
	if err := m.book.Transfer(m.debt, account, m.addr, amount); err != nil {
		return CodeInsufficientBalance
	}
	if err := m.book.Burn(m.borrowRecord, account, amount); err != nil {
		return CodeInvalidAmount
	}
	return CodeNoError
}

// BalanceOfUnderlying reports the collateral redeemable by the account.
func (m *MoneyMarket) BalanceOfUnderlying(account common.Address) *big.Int {
	return m.book.BalanceOf(m.supplyReceipt, account)
}

// BorrowBalanceCurrent reports the account's outstanding debt.
func (m *MoneyMarket) BorrowBalanceCurrent(account common.Address) *big.Int {
	return m.book.BalanceOf(m.borrowRecord, account)
}

func (m *MoneyMarket) positionHealthy(collateral, debt *big.Int) (bool, Code) {
	if debt == nil || debt.Sign() == 0 {
		return true, CodeNoError
	}
	if collateral == nil || collateral.Sign() == 0 {
		return false, CodeNoError
	}
	collateralValue, err := m.oracle.Value(m.collateral, m.debt, collateral)
	if err != nil {
		return false, CodePriceError
	}
	// debt <= collateralValue * collateralFactor
	capacity := new(big.Int).Mul(collateralValue, m.collateralFactor)
	capacity.Quo(capacity, wad)
	return debt.Cmp(capacity) <= 0, CodeNoError
}
