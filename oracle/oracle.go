package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"levfolio/bank"
)

// ErrNotConfigured indicates that no price feed is registered for the
// requested asset. The wrapping error names the asset.
var ErrNotConfigured = errors.New("oracle: price feed not configured")

var wad = big.NewInt(1_000_000_000_000_000_000)

// Oracle resolves asset prices and translates amounts between assets. Rates
// are reported wad-scaled (1e18 = 1.0).
type Oracle interface {
	// Price returns the asset's rate against the router's reference quote
	// asset.
	Price(asset bank.Asset) (*big.Int, error)
	// PriceIn returns the base asset's rate expressed in the quote asset.
	PriceIn(base, quote bank.Asset) (*big.Int, error)
	// Value converts an amount of the base asset into quote-asset units.
	Value(base, quote bank.Asset, amount *big.Int) (*big.Int, error)
}

// Router resolves prices from a table of configured rates, each expressed
// against a single reference quote asset. Cross rates are derived.
type Router struct {
	mu    sync.RWMutex
	quote bank.Asset
	rates map[bank.Asset]*big.Rat
}

// NewRouter constructs a router whose rates are quoted in the given
// reference asset. The reference asset itself always prices at 1.
func NewRouter(quote bank.Asset) *Router {
	return &Router{
		quote: quote,
		rates: map[bank.Asset]*big.Rat{quote: big.NewRat(1, 1)},
	}
}

// SetRate registers or replaces the rate for an asset against the reference
// quote asset.
func (r *Router) SetRate(asset bank.Asset, rate *big.Rat) {
	if rate == nil || rate.Sign() <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rates[asset] = new(big.Rat).Set(rate)
}

// Price implements Oracle.
func (r *Router) Price(asset bank.Asset) (*big.Int, error) {
	rate, err := r.rate(asset)
	if err != nil {
		return nil, err
	}
	return ratToWad(rate), nil
}

// PriceIn implements Oracle.
func (r *Router) PriceIn(base, quote bank.Asset) (*big.Int, error) {
	cross, err := r.crossRate(base, quote)
	if err != nil {
		return nil, err
	}
	return ratToWad(cross), nil
}

// Value implements Oracle.
func (r *Router) Value(base, quote bank.Asset, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() == 0 {
		return big.NewInt(0), nil
	}
	cross, err := r.crossRate(base, quote)
	if err != nil {
		return nil, err
	}
	value := new(big.Rat).Mul(cross, new(big.Rat).SetInt(amount))
	return new(big.Int).Quo(value.Num(), value.Denom()), nil
}

func (r *Router) rate(asset bank.Asset) (*big.Rat, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rate, ok := r.rates[asset]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotConfigured, asset)
	}
	return new(big.Rat).Set(rate), nil
}

func (r *Router) crossRate(base, quote bank.Asset) (*big.Rat, error) {
	baseRate, err := r.rate(base)
	if err != nil {
		return nil, err
	}
	quoteRate, err := r.rate(quote)
	if err != nil {
		return nil, err
	}
	if quoteRate.Sign() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotConfigured, quote)
	}
	return new(big.Rat).Quo(baseRate, quoteRate), nil
}

func ratToWad(r *big.Rat) *big.Int {
	scaled := new(big.Rat).Mul(r, new(big.Rat).SetInt(wad))
	return new(big.Int).Quo(scaled.Num(), scaled.Denom())
}
