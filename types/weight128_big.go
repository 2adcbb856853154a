package types

import "math/big"

func (w Weight128) big() *big.Int {
	return w.BigInt()
}

// BigInt returns the 128-bit weight as an arbitrary-precision integer, for
// callers (e.g. forkchoice's reorg-threshold arithmetic) that need exact
// comparisons beyond what Cmp/GreaterOrEqualScaled expose directly.
func (w Weight128) BigInt() *big.Int {
	v := new(big.Int).SetUint64(w.Hi)
	v.Lsh(v, 64)
	v.Or(v, new(big.Int).SetUint64(w.Lo))
	return v
}

func bigFromUint64(v uint64) *big.Int {
	return new(big.Int).SetUint64(v)
}

// String renders the 128-bit weight in decimal, for logs and CLI status.
func (w Weight128) String() string {
	return w.big().String()
}
