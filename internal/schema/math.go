package schema

import "math/bits"

const maxInt64 = int64(^uint64(0) >> 1)

// MulNotional returns price*qty and reports overflow.
func MulNotional(price Price, qty Quantity) (Notional, bool) {
	p := int64(price)
	q := int64(qty)
	if p == 0 || q == 0 {
		return 0, false
	}
	if absInt64(p) > maxInt64/absInt64(q) {
		return 0, true
	}
	return Notional(p * q), false
}

// MulDiv returns v*num/den truncated toward zero, computed with a 128-bit
// intermediate. It saturates when the quotient does not fit in int64.
func MulDiv(v, num, den int64) int64 {
	if den == 0 || v == 0 || num == 0 {
		return 0
	}
	neg := (v < 0) != (num < 0) != (den < 0)
	hi, lo := bits.Mul64(uint64(absInt64(v)), uint64(absInt64(num)))
	d := uint64(absInt64(den))
	if hi >= d {
		if neg {
			return -maxInt64
		}
		return maxInt64
	}
	quo, _ := bits.Div64(hi, lo, d)
	if quo > uint64(maxInt64) {
		quo = uint64(maxInt64)
	}
	if neg {
		return -int64(quo)
	}
	return int64(quo)
}

// AbsQuantity returns |q|.
func AbsQuantity(q Quantity) Quantity {
	if q < 0 {
		return -q
	}
	return q
}

// AbsNotional returns |n|.
func AbsNotional(n Notional) Notional {
	if n < 0 {
		return -n
	}
	return n
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
