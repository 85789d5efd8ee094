package escrow

import "math/bits"

// mulDiv computes floor(a*b/den) without overflowing the intermediate
// product. den must be non-zero and the quotient must fit in uint64, which
// holds for every call site here (b <= den or b <= a's bound).
func mulDiv(a, b, den uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	quo, _ := bits.Div64(hi, lo, den)
	return quo
}

// FeeForTotal computes the absolute platform fee fixed at escrow creation:
// floor(totalAmount * feeBps / 10000).
func FeeForTotal(totalAmount uint64, feeBps uint32) uint64 {
	return mulDiv(totalAmount, uint64(feeBps), BpsDenominator)
}

// feeForRelease apportions the fixed platform fee to a partial release:
// floor(amount * platformFee / totalAmount).
func feeForRelease(amount, platformFee, totalAmount uint64) uint64 {
	if totalAmount == 0 {
		return 0
	}
	return mulDiv(amount, platformFee, totalAmount)
}
