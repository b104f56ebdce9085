package ssa

import (
	"math/big"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
)

// DependenceInfo answers the single dependence question Loop Fusion needs:
// whether any access in L2's body references an element a later merged trip
// of L1 touches. In the fused loop trip i runs L1's body and then L2's body,
// so an L2 access to element i+k with k greater than the L1 access's offset
// reads or clobbers state the fused loop has not produced yet.
type DependenceInfo struct{}

// NewDependenceInfo constructs a DependenceInfo facade.
func NewDependenceInfo() *DependenceInfo { return &DependenceInfo{} }

// affineAddr is an address of the form base + stride*i + offset, where base
// is an opaque pointer value, stride/offset are compile-time constants, and
// i is the loop's canonical induction variable.
type affineAddr struct {
	base   value.Value
	stride *constant.Int
	offset *big.Int
}

// NoNegativeDistance reports whether every store/load pair across l1's and
// l2's bodies that can be proven to touch the same array depends with
// non-negative distance once both loops share l1's induction variable: the
// element an L2 access names at trip i must already have been visited by
// the aliasing L1 access at trip i or earlier. Any pair whose addresses
// cannot be proven affine, or whose bases cannot be proven distinct, is
// treated conservatively: the fusion is disqualified rather than risked.
func (di *DependenceInfo) NoNegativeDistance(l1, l2 *Loop) bool {
	return di.Depends(l1, l2)
}

// Depends is NoNegativeDistance's underlying implementation: the pairwise
// dependence walk, run in both directions (l1 stores against l2 loads, and
// l1 loads against l2 stores).
func (di *DependenceInfo) Depends(l1, l2 *Loop) bool {
	iv1 := l1.CanonicalInductionVariable()
	iv2 := l2.CanonicalInductionVariable()
	if iv1 == nil || iv2 == nil {
		return false
	}

	return pairsNonNegative(storeAddrs(l1), loadAddrs(l2), iv1, iv2) &&
		pairsNonNegative(loadAddrs(l1), storeAddrs(l2), iv1, iv2)
}

// pairsNonNegative checks every access in l1 against every access in l2.
// For an element both sides touch, the l1 access visits it at trip
// elem-offset1 and the l2 access at trip elem-offset2; the dependence
// distance (target trip minus source trip) is offset1-offset2. A negative
// distance means the l2 access at some trip references an element the l1
// access only reaches on a later trip, which fusing would reorder.
func pairsNonNegative(accs1, accs2 []value.Value, iv1, iv2 *ir.InstPhi) bool {
	for _, a1 := range accs1 {
		addr1, ok := affineAddress(a1, iv1)
		if !ok {
			return false
		}
		for _, a2 := range accs2 {
			addr2, ok := affineAddress(a2, iv2)
			if !ok {
				return false
			}
			if addr1.base != addr2.base {
				_, g1 := addr1.base.(*ir.Global)
				_, g2 := addr2.base.(*ir.Global)
				if g1 && g2 {
					continue // distinct globals are provably disjoint arrays: no dependence possible
				}
				return false // bases that may alias: be conservative
			}
			if addr1.stride.X.Cmp(addr2.stride.X) != 0 {
				return false // distance cannot be computed: be conservative
			}
			d := new(big.Int).Sub(addr1.offset, addr2.offset)
			if addr1.stride.X.Sign() != 0 {
				d.Quo(d, addr1.stride.X)
			}
			if d.Sign() < 0 {
				return false
			}
		}
	}
	return true
}

func storeAddrs(l *Loop) []value.Value {
	var res []value.Value
	for _, b := range l.Blocks() {
		for _, inst := range b.Insts {
			if st, ok := inst.(*ir.InstStore); ok {
				res = append(res, st.Dst)
			}
		}
	}
	return res
}

func loadAddrs(l *Loop) []value.Value {
	var res []value.Value
	for _, b := range l.Blocks() {
		for _, inst := range b.Insts {
			if ld, ok := inst.(*ir.InstLoad); ok {
				res = append(res, ld.Src)
			}
		}
	}
	return res
}

// affineAddress decomposes a getelementptr address into base + stride*iv +
// offset. Only single-index GEPs are recognized, which is what the array
// accesses produced by internal/codegen's fixture builder (and any loop
// Loop Fusion could legally apply to) look like.
func affineAddress(addr value.Value, iv *ir.InstPhi) (affineAddr, bool) {
	gep, ok := addr.(*ir.InstGetElementPtr)
	if !ok || len(gep.Indices) == 0 {
		return affineAddr{}, false
	}
	idx := gep.Indices[len(gep.Indices)-1]
	stride, offset, ok := affineTermOf(idx, iv)
	if !ok {
		return affineAddr{}, false
	}
	return affineAddr{base: gep.Src, stride: stride, offset: offset}, true
}

// affineTermOf decomposes idx into stride*iv + offset. Only the shapes a
// canonical-IV array traversal produces are recognized: the bare IV, an Add
// of the IV and a constant, a Mul of the IV and a constant, or a bare
// constant (stride zero: the same element every iteration).
func affineTermOf(idx value.Value, iv *ir.InstPhi) (stride *constant.Int, offset *big.Int, ok bool) {
	if idx == value.Value(iv) {
		return unitStride(iv), new(big.Int), true
	}
	switch inst := idx.(type) {
	case *constant.Int:
		return zeroStride(iv), new(big.Int).Set(inst.X), true
	case *ir.InstAdd:
		if inst.X == value.Value(iv) {
			if c, ok := inst.Y.(*constant.Int); ok {
				return unitStride(iv), new(big.Int).Set(c.X), true
			}
		}
		if inst.Y == value.Value(iv) {
			if c, ok := inst.X.(*constant.Int); ok {
				return unitStride(iv), new(big.Int).Set(c.X), true
			}
		}
	case *ir.InstMul:
		if inst.X == value.Value(iv) {
			if c, ok := inst.Y.(*constant.Int); ok {
				return c, new(big.Int), true
			}
		}
		if inst.Y == value.Value(iv) {
			if c, ok := inst.X.(*constant.Int); ok {
				return c, new(big.Int), true
			}
		}
	}
	return nil, nil, false
}

func unitStride(iv *ir.InstPhi) *constant.Int {
	t := iv.Type().(*types.IntType)
	return constant.NewInt(t, 1)
}

func zeroStride(iv *ir.InstPhi) *constant.Int {
	t := iv.Type().(*types.IntType)
	return constant.NewInt(t, 0)
}
