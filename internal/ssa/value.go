// Package ssa supplies the analyses and IR-runtime operations that
// github.com/llir/llvm's ir package does not provide on its own: dominance,
// loop forests, scalar evolution, dependence testing, and a use-def/RAUW
// layer. The optimization passes in internal/passes consume these facades
// the same way the rest of github.com/llir/llvm is consumed directly.
package ssa

import (
	"math/big"

	"github.com/llir/llvm/ir/constant"
)

var (
	bigZero = big.NewInt(0)
	bigOne  = big.NewInt(1)
)

// IsZero reports whether c is the integer constant zero.
func IsZero(c *constant.Int) bool {
	return c.X.Sign() == 0
}

// IsOne reports whether c is the integer constant one.
func IsOne(c *constant.Int) bool {
	return c.X.Cmp(bigOne) == 0
}

// IsPowerOfTwo reports whether c holds a strictly positive power of two.
// Negative and zero values are never strength-reduction candidates.
func IsPowerOfTwo(c *constant.Int) bool {
	if c.X.Sign() <= 0 {
		return false
	}
	t := new(big.Int).Sub(c.X, bigOne)
	return new(big.Int).And(c.X, t).Sign() == 0
}

// ExactLog2 returns k such that c == 2^k. The caller must have already
// checked IsPowerOfTwo(c).
func ExactLog2(c *constant.Int) uint64 {
	return uint64(c.X.BitLen() - 1)
}

// FitsShiftAmount reports whether c is a power of two whose exact log2 is a
// legal shift amount for a value of the given bit width, guarding the
// multiply- and divide-by-power-of-two rewrites against degenerate
// shift-by-width UB.
func FitsShiftAmount(c *constant.Int, bits uint64) bool {
	return IsPowerOfTwo(c) && ExactLog2(c) < bits
}

// wrapToWidth reduces x into the signed two's-complement range of the given
// bit width, the same normalization an LLVM APInt performs after arithmetic.
func wrapToWidth(x *big.Int, bits uint64) *big.Int {
	mod := new(big.Int).Lsh(bigOne, uint(bits))
	r := new(big.Int).Mod(x, mod)
	if r.Sign() < 0 {
		r.Add(r, mod)
	}
	half := new(big.Int).Lsh(bigOne, uint(bits-1))
	if r.Cmp(half) >= 0 {
		r.Sub(r, mod)
	}
	return r
}

// AddOne returns c+1, wrapped to c's bit width.
func AddOne(c *constant.Int) *constant.Int {
	return &constant.Int{Typ: c.Typ, X: wrapToWidth(new(big.Int).Add(c.X, bigOne), c.Typ.BitSize)}
}

// SubOne returns c-1, wrapped to c's bit width.
func SubOne(c *constant.Int) *constant.Int {
	return &constant.Int{Typ: c.Typ, X: wrapToWidth(new(big.Int).Sub(c.X, bigOne), c.Typ.BitSize)}
}
