package lx

import (
	"math/big"

	"github.com/shopspring/decimal"
)

var (
	one        = decimal.NewFromInt(1)
	two        = decimal.NewFromInt(2)
	maxUint128 = decimal.NewFromBigInt(new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1)), 0)
)

// quo divides a by b, truncating to Precision places.
func quo(a, b decimal.Decimal) (decimal.Decimal, error) {
	if b.IsZero() {
		return decimal.Zero, ErrDivisionByZero
	}
	q, _ := a.QuoRem(b, Precision)
	return q, nil
}

// checked returns ErrOverflow when d leaves the unsigned 128-bit range.
func checked(d decimal.Decimal) (decimal.Decimal, error) {
	if d.Abs().GreaterThan(maxUint128) {
		return decimal.Zero, ErrOverflow
	}
	return d, nil
}

// floorAmount floors d to a whole settlement unit.
func floorAmount(d decimal.Decimal) (decimal.Decimal, error) {
	return checked(d.Floor())
}

// satSub subtracts b from a, stopping at zero.
func satSub(a, b decimal.Decimal) decimal.Decimal {
	if b.GreaterThanOrEqual(a) {
		return decimal.Zero
	}
	return a.Sub(b)
}

func powInt(base decimal.Decimal, exp uint32) decimal.Decimal {
	result := one
	for i := uint32(0); i < exp; i++ {
		result = result.Mul(base)
	}
	return result.Truncate(Precision)
}

func satSubUint(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

// quoCeil divides a by b, rounding up at Precision places.
func quoCeil(a, b decimal.Decimal) (decimal.Decimal, error) {
	if b.IsZero() {
		return decimal.Zero, ErrDivisionByZero
	}
	q, r := a.QuoRem(b, Precision)
	if !r.IsZero() {
		q = q.Add(decimal.New(1, -Precision))
	}
	return q, nil
}
