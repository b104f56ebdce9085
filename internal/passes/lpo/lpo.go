// Package lpo implements the Local Peephole Optimizer: per-block algebraic
// simplification, strength reduction, and local dead-code elimination over
// binary integer operators.
package lpo

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"github.com/dshills/ssaopt/internal/ssa"
)

// Pass is the Local Peephole Optimizer.
type Pass struct {
	Diag ssa.Diagnostics
}

// New constructs a Pass. A nil diag runs silently.
func New(diag ssa.Diagnostics) *Pass {
	if diag == nil {
		diag = ssa.Discard
	}
	return &Pass{Diag: diag}
}

// Run visits every function, every block, every instruction of m and
// rewrites binary operators per the algebraic-identity / strength-reduction
// rules below, then runs local DCE on every block. It returns
// All when nothing changed and None otherwise.
func (p *Pass) Run(m *ir.Module) ssa.PreservedAnalyses {
	changed := false
	for _, fn := range m.Funcs {
		if p.runOnFunction(fn) {
			changed = true
		}
	}
	if changed {
		return ssa.None()
	}
	return ssa.All()
}

func (p *Pass) runOnFunction(fn *ir.Func) bool {
	changed := false
	for _, blk := range fn.Blocks {
		if p.runOnBlock(fn, blk) {
			changed = true
		}
	}
	return changed
}

func (p *Pass) runOnBlock(fn *ir.Func, blk *ir.Block) bool {
	changed := false
	// Snapshot the instruction list: rewrites append new instructions after
	// the one being rewritten, which must not be revisited by this loop.
	for _, inst := range append([]ir.Instruction(nil), blk.Insts...) {
		if p.rewriteInstruction(fn, blk, inst) {
			changed = true
		}
	}
	if localDCE(fn, blk) {
		changed = true
	}
	return changed
}

func (p *Pass) rewriteInstruction(fn *ir.Func, blk *ir.Block, inst ir.Instruction) bool {
	switch in := inst.(type) {
	case *ir.InstMul:
		return p.rewriteMul(fn, blk, in)
	case *ir.InstAdd:
		return p.rewriteAdd(fn, blk, in)
	case *ir.InstSub:
		return p.rewriteSub(fn, blk, in)
	case *ir.InstUDiv:
		return p.rewriteDiv(fn, blk, in, in.X, in.Y, true)
	case *ir.InstSDiv:
		return p.rewriteDiv(fn, blk, in, in.X, in.Y, false)
	}
	return false
}

// splitConstCommutative classifies x, y for a commutative binary op (Mul,
// Add): whichever operand is a ConstantInt is the constant c, the other is
// x. When both are constant, the first operand in source order wins and no
// folding happens here.
func splitConstCommutative(x, y value.Value) (nonConst value.Value, c *constant.Int, ok bool) {
	if cx, isConst := x.(*constant.Int); isConst {
		return y, cx, true
	}
	if cy, isConst := y.(*constant.Int); isConst {
		return x, cy, true
	}
	return nil, nil, false
}

func intType(v value.Value) (*types.IntType, bool) {
	t, ok := v.Type().(*types.IntType)
	return t, ok
}

func shiftConst(typ *types.IntType, k uint64) *constant.Int {
	return constant.NewInt(typ, int64(k))
}

func (p *Pass) replaceAndErase(fn *ir.Func, blk *ir.Block, inst ir.Instruction, with value.Value, msg string) {
	ssa.ReplaceAllUsesWith(fn, inst.(value.Value), with)
	ssa.EraseFromParent(blk, inst)
	p.Diag.Printf("%s", msg)
}

func (p *Pass) rewriteMul(fn *ir.Func, blk *ir.Block, mul *ir.InstMul) bool {
	x, c, ok := splitConstCommutative(mul.X, mul.Y)
	if !ok {
		return false
	}
	typ, ok := intType(mul)
	if !ok {
		return false
	}
	bits := typ.BitSize

	if ssa.IsOne(c) {
		p.replaceAndErase(fn, blk, mul, x, "Algebraic Identity")
		return true
	}

	if ssa.FitsShiftAmount(c, bits) {
		shl := ir.NewShl(x, shiftConst(typ, ssa.ExactLog2(c)))
		ssa.InsertAfter(blk, mul, shl)
		p.replaceAndErase(fn, blk, mul, shl, "Strength Reduction")
		return true
	}

	if cp1 := ssa.AddOne(c); ssa.FitsShiftAmount(cp1, bits) {
		shl := ir.NewShl(x, shiftConst(typ, ssa.ExactLog2(cp1)))
		sub := ir.NewSub(shl, x)
		ssa.InsertAfter(blk, mul, shl)
		ssa.InsertAfter(blk, shl, sub)
		p.replaceAndErase(fn, blk, mul, sub, "Multi-Instruction Optimization")
		return true
	}

	if cm1 := ssa.SubOne(c); ssa.FitsShiftAmount(cm1, bits) {
		shl := ir.NewShl(x, shiftConst(typ, ssa.ExactLog2(cm1)))
		add := ir.NewAdd(shl, x)
		ssa.InsertAfter(blk, mul, shl)
		ssa.InsertAfter(blk, shl, add)
		p.replaceAndErase(fn, blk, mul, add, "Multi-Instruction Optimization")
		return true
	}

	return false
}

func (p *Pass) rewriteAdd(fn *ir.Func, blk *ir.Block, add *ir.InstAdd) bool {
	x, c, ok := splitConstCommutative(add.X, add.Y)
	if !ok {
		return false
	}
	if ssa.IsZero(c) {
		p.replaceAndErase(fn, blk, add, x, "Algebraic Identity")
		return true
	}
	// Cross-instruction cancellation: Sub(Add(x, c), c) -> x.
	changed := false
	for _, use := range ssa.Uses(fn, value.Value(add)) {
		sub, ok := use.Inst.(*ir.InstSub)
		if !ok || sub.X != value.Value(add) {
			continue
		}
		subC, ok := sub.Y.(*constant.Int)
		if !ok || subC.X.Cmp(c.X) != 0 {
			continue
		}
		ssa.ReplaceAllUsesWith(fn, value.Value(sub), x)
		ssa.EraseFromParent(use.Block, sub)
		p.Diag.Printf("Multi-Instruction Optimization")
		changed = true
	}
	return changed
}

func (p *Pass) rewriteSub(fn *ir.Func, blk *ir.Block, sub *ir.InstSub) bool {
	c, ok := sub.Y.(*constant.Int)
	if !ok {
		return false
	}
	changed := false
	// Cross-instruction cancellation: Add(Sub(x, c), c) -> x.
	for _, use := range ssa.Uses(fn, value.Value(sub)) {
		add, ok := use.Inst.(*ir.InstAdd)
		if !ok {
			continue
		}
		var addC *constant.Int
		var matches bool
		if add.X == value.Value(sub) {
			addC, matches = add.Y.(*constant.Int)
		} else if add.Y == value.Value(sub) {
			addC, matches = add.X.(*constant.Int)
		}
		if !matches || addC.X.Cmp(c.X) != 0 {
			continue
		}
		ssa.ReplaceAllUsesWith(fn, value.Value(add), sub.X)
		ssa.EraseFromParent(use.Block, add)
		p.Diag.Printf("Multi-Instruction Optimization")
		changed = true
	}
	return changed
}

// rewriteDiv rewrites `x udiv c` to `x lshr log2(c)` when c is the divisor
// and a power of two. A power-of-two dividend never qualifies. SDiv is left
// alone: lshr only matches sdiv when the dividend is provably non-negative,
// and no range analysis exists here to prove that.
func (p *Pass) rewriteDiv(fn *ir.Func, blk *ir.Block, inst ir.Instruction, x, y value.Value, isUnsigned bool) bool {
	if !isUnsigned {
		return false
	}
	c, ok := y.(*constant.Int)
	if !ok {
		return false
	}
	instVal, ok := inst.(value.Value)
	if !ok {
		return false
	}
	typ, ok := intType(instVal)
	if !ok {
		return false
	}
	bits := typ.BitSize
	if !ssa.FitsShiftAmount(c, bits) {
		return false
	}
	lshr := ir.NewLShr(x, shiftConst(typ, ssa.ExactLog2(c)))
	ssa.InsertAfter(blk, inst, lshr)
	p.replaceAndErase(fn, blk, inst, lshr, "Strength Reduction")
	return true
}

// localDCE erases every binary operator in blk whose use-list is empty,
// walking in order and repeating the walk until one erases nothing, so an
// operator whose only users were erased later in the same walk goes too;
// erasure never invalidates the next iteration since ir.Instruction
// identity, not index, drives the walk.
func localDCE(fn *ir.Func, blk *ir.Block) bool {
	changed := false
	for erased := true; erased; {
		erased = false
		for _, inst := range append([]ir.Instruction(nil), blk.Insts...) {
			if !isBinaryOperator(inst) {
				continue
			}
			v, ok := inst.(value.Value)
			if !ok {
				continue
			}
			if ssa.IsUsed(fn, v) {
				continue
			}
			ssa.EraseFromParent(blk, inst)
			erased = true
			changed = true
		}
	}
	return changed
}

func isBinaryOperator(inst ir.Instruction) bool {
	switch inst.(type) {
	case *ir.InstAdd, *ir.InstSub, *ir.InstMul, *ir.InstUDiv, *ir.InstSDiv,
		*ir.InstURem, *ir.InstSRem, *ir.InstShl, *ir.InstLShr, *ir.InstAShr,
		*ir.InstAnd, *ir.InstOr, *ir.InstXor:
		return true
	default:
		return false
	}
}
