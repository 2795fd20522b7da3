package gateway

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"levfolio/bank"
)

var basisPoints = big.NewInt(10_000)

// DefaultFeeBps is the swap fee applied by pairs unless overridden.
const DefaultFeeBps = 30

// Pair is a constant-product two-asset pool. Its funds live at the pair
// address on the shared book, so a reverted operation also restores the
// pool; the reserves the invariant is checked against are cached at the end
// of each swap, letting input paid in before a swap count as that swap's
// amountIn.
type Pair struct {
	mu sync.RWMutex

	book   *bank.Book
	addr   common.Address
	token0 bank.Asset
	token1 bank.Asset
	feeBps uint64

	reserve0 *big.Int
	reserve1 *big.Int

	callbacks map[common.Address]Callback
}

// NewPair constructs a pair holding its funds at addr. feeBps of zero
// selects DefaultFeeBps. Reserves seeded after construction become visible
// on the next Sync.
func NewPair(book *bank.Book, addr common.Address, token0, token1 bank.Asset, feeBps uint64) *Pair {
	if feeBps == 0 {
		feeBps = DefaultFeeBps
	}
	return &Pair{
		book:      book,
		addr:      addr,
		token0:    token0,
		token1:    token1,
		feeBps:    feeBps,
		reserve0:  book.BalanceOf(token0, addr),
		reserve1:  book.BalanceOf(token1, addr),
		callbacks: make(map[common.Address]Callback),
	}
}

// Register associates a callback implementation with the address it acts as.
// Swaps carrying data for an unregistered recipient fail.
func (p *Pair) Register(addr common.Address, cb Callback) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.callbacks[addr] = cb
}

// Address implements Gateway.
func (p *Pair) Address() common.Address { return p.addr }

// Token0 implements Gateway.
func (p *Pair) Token0() bank.Asset { return p.token0 }

// Token1 implements Gateway.
func (p *Pair) Token1() bank.Asset { return p.token1 }

// Reserves returns the cached pool reserves of token0 and token1 as of the
// last swap or Sync.
func (p *Pair) Reserves() (*big.Int, *big.Int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return new(big.Int).Set(p.reserve0), new(big.Int).Set(p.reserve1)
}

// Sync resets the cached reserves to the pair's live book balances. Call it
// after seeding or donating funds to the pool outside a swap.
func (p *Pair) Sync() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reserve0 = p.book.BalanceOf(p.token0, p.addr)
	p.reserve1 = p.book.BalanceOf(p.token1, p.addr)
}

// Swap implements Gateway. The transfer out happens before the callback; the
// fee-adjusted constant-product check happens after it. Any failure reverts
// every balance the swap and its callback touched.
func (p *Pair) Swap(initiator common.Address, amount0Out, amount1Out *big.Int, to common.Address, data []byte) error {
	out0 := normalize(amount0Out)
	out1 := normalize(amount1Out)
	if out0.Sign() < 0 || out1.Sign() < 0 || (out0.Sign() == 0 && out1.Sign() == 0) {
		return ErrInvalidSwap
	}

	reserve0, reserve1 := p.Reserves()
	if out0.Cmp(reserve0) >= 0 || out1.Cmp(reserve1) >= 0 {
		return ErrSwapAmountTooLarge
	}

	rev := p.book.Snapshot()
	fail := func(err error) error {
		p.book.RevertToSnapshot(rev)
		return err
	}

	if out0.Sign() > 0 {
		if err := p.book.Transfer(p.token0, p.addr, to, out0); err != nil {
			return fail(err)
		}
	}
	if out1.Sign() > 0 {
		if err := p.book.Transfer(p.token1, p.addr, to, out1); err != nil {
			return fail(err)
		}
	}

	if len(data) > 0 {
		p.mu.RLock()
		cb, ok := p.callbacks[to]
		p.mu.RUnlock()
		if !ok {
			return fail(ErrUnknownRecipient)
		}
		if err := cb.OnSwapCallback(p.addr, initiator, out0, out1, data); err != nil {
			return fail(fmt.Errorf("gateway: swap callback: %w", err))
		}
	}

	balance0 := p.book.BalanceOf(p.token0, p.addr)
	balance1 := p.book.BalanceOf(p.token1, p.addr)

	in0 := amountIn(balance0, reserve0, out0)
	in1 := amountIn(balance1, reserve1, out1)
	if in0.Sign() == 0 && in1.Sign() == 0 {
		return fail(ErrInsufficientInputAmount)
	}

	// balanceAdjusted = balance*10000 - amountIn*feeBps
	fee := new(big.Int).SetUint64(p.feeBps)
	adj0 := new(big.Int).Mul(balance0, basisPoints)
	adj0.Sub(adj0, new(big.Int).Mul(in0, fee))
	adj1 := new(big.Int).Mul(balance1, basisPoints)
	adj1.Sub(adj1, new(big.Int).Mul(in1, fee))

	before := new(big.Int).Mul(reserve0, reserve1)
	before.Mul(before, new(big.Int).Mul(basisPoints, basisPoints))
	after := new(big.Int).Mul(adj0, adj1)
	if after.Cmp(before) < 0 {
		return fail(ErrInsufficientInputAmount)
	}

	p.mu.Lock()
	p.reserve0 = balance0
	p.reserve1 = balance1
	p.mu.Unlock()
	return nil
}

// QuoteAmountOut implements Gateway.
func (p *Pair) QuoteAmountOut(tokenIn bank.Asset, amountIn *big.Int) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, ErrInvalidSwap
	}
	reserveIn, reserveOut, err := p.orient(tokenIn)
	if err != nil {
		return nil, err
	}
	if reserveIn.Sign() == 0 || reserveOut.Sign() == 0 {
		return nil, ErrSwapAmountTooLarge
	}
	feeKeep := new(big.Int).Sub(basisPoints, new(big.Int).SetUint64(p.feeBps))
	inWithFee := new(big.Int).Mul(amountIn, feeKeep)
	numerator := new(big.Int).Mul(inWithFee, reserveOut)
	denominator := new(big.Int).Mul(reserveIn, basisPoints)
	denominator.Add(denominator, inWithFee)
	return numerator.Quo(numerator, denominator), nil
}

// QuoteAmountIn implements Gateway.
func (p *Pair) QuoteAmountIn(tokenIn bank.Asset, amountOut *big.Int) (*big.Int, error) {
	if amountOut == nil || amountOut.Sign() <= 0 {
		return nil, ErrInvalidSwap
	}
	reserveIn, reserveOut, err := p.orient(tokenIn)
	if err != nil {
		return nil, err
	}
	if amountOut.Cmp(reserveOut) >= 0 {
		return nil, ErrSwapAmountTooLarge
	}
	feeKeep := new(big.Int).Sub(basisPoints, new(big.Int).SetUint64(p.feeBps))
	numerator := new(big.Int).Mul(reserveIn, amountOut)
	numerator.Mul(numerator, basisPoints)
	denominator := new(big.Int).Sub(reserveOut, amountOut)
	denominator.Mul(denominator, feeKeep)
	quotient := numerator.Quo(numerator, denominator)
	return quotient.Add(quotient, big.NewInt(1)), nil
}

func (p *Pair) orient(tokenIn bank.Asset) (reserveIn, reserveOut *big.Int, err error) {
	reserve0, reserve1 := p.Reserves()
	switch tokenIn {
	case p.token0:
		return reserve0, reserve1, nil
	case p.token1:
		return reserve1, reserve0, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown token %s", ErrInvalidSwap, tokenIn)
	}
}

func amountIn(balance, reserve, out *big.Int) *big.Int {
	// balance - (reserve - out), floored at zero
	floor := new(big.Int).Sub(reserve, out)
	in := new(big.Int).Sub(balance, floor)
	if in.Sign() < 0 {
		return big.NewInt(0)
	}
	return in
}

func normalize(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}
