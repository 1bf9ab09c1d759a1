package state

import (
	"math"

	"github.com/holiman/uint256"
)

// FactorScale is the fixed-point scale of vote weight factors: a factor of
// FactorScale multiplies by exactly 1.
const FactorScale uint64 = 1_000_000_000

// MaxDecimalShift bounds |decimal shift| so that 10^shift fits in a uint64.
const MaxDecimalShift = 19

var pow10 = func() [MaxDecimalShift + 1]uint64 {
	var p [MaxDecimalShift + 1]uint64
	p[0] = 1
	for i := 1; i <= MaxDecimalShift; i++ {
		p[i] = p[i-1] * 10
	}
	return p
}()

func checkedAdd(a, b uint64) (uint64, error) {
	if a > math.MaxUint64-b {
		return 0, ErrArithmeticOverflow
	}
	return a + b, nil
}

func checkedSub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrArithmeticOverflow
	}
	return a - b, nil
}

func checkedMul(a, b uint64) (uint64, error) {
	return ratio([]uint64{a, b}, nil)
}

// mulDiv returns floor(a*b/denom) without intermediate overflow.
func mulDiv(a, b, denom uint64) (uint64, error) {
	return ratio([]uint64{a, b}, []uint64{denom})
}

// ratio returns floor(prod(nums)/prod(dens)) computed in 256 bits. The result
// must fit in a uint64.
func ratio(nums, dens []uint64) (uint64, error) {
	num := uint256.NewInt(1)
	for _, n := range nums {
		if _, overflow := num.MulOverflow(num, uint256.NewInt(n)); overflow {
			return 0, ErrArithmeticOverflow
		}
	}
	den := uint256.NewInt(1)
	for _, d := range dens {
		if d == 0 {
			return 0, ErrArithmeticOverflow
		}
		if _, overflow := den.MulOverflow(den, uint256.NewInt(d)); overflow {
			return 0, ErrArithmeticOverflow
		}
	}
	q := new(uint256.Int).Div(num, den)
	if !q.IsUint64() {
		return 0, ErrArithmeticOverflow
	}
	return q.Uint64(), nil
}
