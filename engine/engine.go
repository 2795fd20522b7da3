package engine

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"levfolio/bank"
	"levfolio/core/events"
	"levfolio/gateway"
	"levfolio/ledger"
	"levfolio/market"
	"levfolio/observability"
	"levfolio/oracle"
)

var (
	wad         = big.NewInt(1_000_000_000_000_000_000)
	basisPoints = big.NewInt(10_000)
)

// Engine orchestrates the leveraged position: it owns the Position, drives
// the flash-swap protocols for Initialize/Mint/Burn, and runs the
// incentivized rebalancing trades. Operations are serialized; the only
// reentry is the gateway's synchronous callback during a flash swap, bounded
// to one level.
type Engine struct {
	mu sync.Mutex

	addr         common.Address
	owner        common.Address
	feeRecipient common.Address

	book    *bank.Book
	market  market.Market
	gateway gateway.Gateway
	oracle  oracle.Oracle

	pos *ledger.Position

	emitter  events.Emitter
	metrics  *observability.EngineMetrics
	inFlight *Operation
}

// NewEngine constructs an engine bound to the position and its external
// collaborators. addr is the engine's own account (escrow and market
// identity), owner the only identity allowed to Initialize.
func NewEngine(addr, owner, feeRecipient common.Address, pos *ledger.Position, book *bank.Book, mkt market.Market, gw gateway.Gateway, o oracle.Oracle) *Engine {
	return &Engine{
		addr:         addr,
		owner:        owner,
		feeRecipient: feeRecipient,
		book:         book,
		market:       mkt,
		gateway:      gw,
		oracle:       o,
		pos:          pos,
		emitter:      events.NoopEmitter{},
	}
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op
// implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetMetrics wires the prometheus instrumentation. Nil disables it.
func (e *Engine) SetMetrics(m *observability.EngineMetrics) { e.metrics = m }

// Address returns the engine's own account.
func (e *Engine) Address() common.Address { return e.addr }

// Position returns a copy of the current position state.
func (e *Engine) Position() *ledger.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pos.Clone()
}

// run executes one state-changing operation inside an all-or-nothing
// boundary: any error reverts the balance book and restores the position.
func (e *Engine) run(name string, fn func() error) error {
	start := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	rev := e.book.Snapshot()
	snapshot := e.pos.Clone()
	err := fn()
	e.inFlight = nil
	if err != nil {
		e.book.RevertToSnapshot(rev)
		e.pos.Restore(snapshot)
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	e.metrics.ObserveOperation(name, outcome, time.Since(start).Seconds())
	if err == nil {
		e.metrics.SetShareSupply(e.pos.TotalShares)
		if ratio, ratioErr := e.pos.LeverageRatio(e.oracle); ratioErr == nil {
			e.metrics.SetLeverageRatio(ratio)
		}
	}
	return err
}

// Initialize seeds the position. The caller must have pre-funded the engine
// with enough of the debt asset to cover the flash-swap repayment shortfall;
// any excess is refunded. Privileged and single-use.
func (e *Engine) Initialize(caller common.Address, collateralAmount, debtAmount, shares *big.Int) error {
	return e.run("initialize", func() error {
		if e.pos.Initialized {
			return ErrAlreadyInitialized
		}
		if caller != e.owner {
			return ErrUnauthorized
		}
		if !positive(collateralAmount) || !positive(shares) {
			return ErrInvalidAmount
		}
		if debtAmount == nil || debtAmount.Sign() < 0 {
			return ErrInvalidAmount
		}

		repayAmount, err := e.gateway.QuoteAmountIn(e.pos.DebtAsset, collateralAmount)
		if err != nil {
			return err
		}
		prefund := e.book.BalanceOf(e.pos.DebtAsset, e.addr)
		available := new(big.Int).Add(prefund, debtAmount)
		if available.Cmp(repayAmount) < 0 {
			return ErrAmountInTooLow
		}
		amountIn := new(big.Int).Sub(repayAmount, debtAmount)
		if amountIn.Sign() < 0 {
			amountIn = big.NewInt(0)
		}

		op := &Operation{
			Kind:             OpInitialize,
			Sender:           caller,
			Recipient:        caller,
			RefundRecipient:  caller,
			TokenIn:          e.pos.DebtAsset,
			TokenOut:         e.pos.ShareAsset,
			AmountIn:         amountIn,
			AmountOut:        new(big.Int).Set(shares),
			FeeAmount:        big.NewInt(0),
			RefundAmount:     new(big.Int).Sub(available, repayAmount),
			BorrowAmount:     new(big.Int).Set(collateralAmount),
			RepayAmount:      repayAmount,
			CollateralAmount: new(big.Int).Set(collateralAmount),
			DebtAmount:       new(big.Int).Set(debtAmount),
			Shares:           new(big.Int).Set(shares),
		}
		return e.flashSwap(op, e.pos.CollateralAsset)
	})
}

// flashSwap requests the operation's borrow amount from the gateway in the
// given asset. The gateway re-enters through OnSwapCallback before this call
// returns.
func (e *Engine) flashSwap(op *Operation, borrowAsset bank.Asset) error {
	data, err := op.Encode()
	if err != nil {
		return err
	}
	e.inFlight = op

	var out0, out1 *big.Int
	switch borrowAsset {
	case e.gateway.Token0():
		out0, out1 = op.BorrowAmount, big.NewInt(0)
	case e.gateway.Token1():
		out0, out1 = big.NewInt(0), op.BorrowAmount
	default:
		return fmt.Errorf("leverage engine: asset %s not traded by gateway", borrowAsset)
	}
	return e.gateway.Swap(e.addr, out0, out1, e.addr, data)
}

// transferChecked moves funds and maps book failures onto the engine's
// funding error.
func (e *Engine) transferChecked(asset bank.Asset, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if err := e.book.Transfer(asset, from, to, amount); err != nil {
		return fmt.Errorf("%w: %s", ErrAmountInTooLow, err)
	}
	return nil
}

func positive(v *big.Int) bool {
	return v != nil && v.Sign() > 0
}

// bpsShare returns amount*bps/10000, floored.
func bpsShare(amount *big.Int, bps uint64) *big.Int {
	if amount == nil || amount.Sign() <= 0 || bps == 0 {
		return big.NewInt(0)
	}
	share := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return share.Quo(share, basisPoints)
}

func wadMul(a, b *big.Int) *big.Int {
	product := new(big.Int).Mul(a, b)
	return product.Quo(product, wad)
}
