package bank

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	errInvalidAmount = errors.New("bank: amount must be non-negative")
	// ErrInsufficientBalance is returned when a transfer or burn exceeds the
	// holder's balance.
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
)

// Asset identifies a fungible asset tracked by the book. Assets are plain
// symbols; the book does not interpret them.
type Asset string

// Book is the multi-asset balance ledger shared by the engine, the lending
// market and the flash-liquidity pair. Every balance movement performed
// during an operation flows through one Book so a failed operation can be
// unwound at a single point.
//
// Snapshot/RevertToSnapshot follow the journal pattern: each write appends
// the previous value, and reverting replays the journal tail in reverse.
type Book struct {
	mu       sync.RWMutex
	balances map[Asset]map[common.Address]*big.Int
	journal  []journalEntry
}

type journalEntry struct {
	asset Asset
	addr  common.Address
	prev  *big.Int
}

// NewBook constructs an empty balance book.
func NewBook() *Book {
	return &Book{balances: make(map[Asset]map[common.Address]*big.Int)}
}

// BalanceOf returns a copy of the holder's balance for the given asset.
func (b *Book) BalanceOf(asset Asset, addr common.Address) *big.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	holders, ok := b.balances[asset]
	if !ok {
		return big.NewInt(0)
	}
	bal, ok := holders[addr]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(bal)
}

// Mint credits the holder with freshly issued units of the asset.
func (b *Book) Mint(asset Asset, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return errInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.set(asset, to, new(big.Int).Add(b.balance(asset, to), amount))
	return nil
}

// Burn destroys units of the asset held by the holder.
func (b *Book) Burn(asset Asset, from common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return errInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	bal := b.balance(asset, from)
	if bal.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	b.set(asset, from, new(big.Int).Sub(bal, amount))
	return nil
}

// Transfer moves units of the asset between holders. Zero-amount transfers
// succeed without touching the journal.
func (b *Book) Transfer(asset Asset, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return errInvalidAmount
	}
	if amount.Sign() == 0 || from == to {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	fromBal := b.balance(asset, from)
	if fromBal.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	b.set(asset, from, new(big.Int).Sub(fromBal, amount))
	b.set(asset, to, new(big.Int).Add(b.balance(asset, to), amount))
	return nil
}

// Snapshot marks the current journal position. The returned revision is only
// valid until a revert to an earlier revision.
func (b *Book) Snapshot() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.journal)
}

// RevertToSnapshot restores every balance written since the revision was
// taken.
func (b *Book) RevertToSnapshot(rev int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if rev < 0 || rev > len(b.journal) {
		return
	}
	for i := len(b.journal) - 1; i >= rev; i-- {
		entry := b.journal[i]
		holders := b.balances[entry.asset]
		if holders == nil {
			continue
		}
		if entry.prev == nil {
			delete(holders, entry.addr)
			continue
		}
		holders[entry.addr] = entry.prev
	}
	b.journal = b.journal[:rev]
}

// balance returns the live balance entry without copying. Callers must hold
// the lock and must not mutate the result.
func (b *Book) balance(asset Asset, addr common.Address) *big.Int {
	holders, ok := b.balances[asset]
	if !ok {
		return big.NewInt(0)
	}
	bal, ok := holders[addr]
	if !ok {
		return big.NewInt(0)
	}
	return bal
}

func (b *Book) set(asset Asset, addr common.Address, value *big.Int) {
	holders, ok := b.balances[asset]
	if !ok {
		holders = make(map[common.Address]*big.Int)
		b.balances[asset] = holders
	}
	var prev *big.Int
	if existing, ok := holders[addr]; ok {
		prev = existing
	}
	b.journal = append(b.journal, journalEntry{asset: asset, addr: addr, prev: prev})
	holders[addr] = value
}
