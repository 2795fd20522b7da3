package ledger

import "math/big"

var wad = big.NewInt(1_000_000_000_000_000_000)

// Wad returns the 1e18 fixed-point unit used for ratios.
func Wad() *big.Int { return new(big.Int).Set(wad) }

func mulDiv(a, b, denom *big.Int) *big.Int {
	product := new(big.Int).Mul(a, b)
	return product.Quo(product, denom)
}

func ceilDiv(num, denom *big.Int) *big.Int {
	quotient, remainder := new(big.Int).QuoRem(num, denom, new(big.Int))
	if remainder.Sign() != 0 {
		quotient.Add(quotient, big.NewInt(1))
	}
	return quotient
}
