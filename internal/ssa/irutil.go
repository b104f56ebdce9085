package ssa

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/value"
)

// ReplaceAllUsesWith rewrites every operand of every instruction and
// terminator in fn that currently holds old to hold new instead. This is the
// use-def maintenance github.com/llir/llvm leaves to its caller.
func ReplaceAllUsesWith(fn *ir.Func, old, new value.Value) {
	for _, blk := range fn.Blocks {
		for _, inst := range blk.Insts {
			for _, operand := range inst.Operands() {
				if *operand == old {
					*operand = new
				}
			}
		}
		if blk.Term != nil {
			for _, operand := range blk.Term.Operands() {
				if *operand == old {
					*operand = new
				}
			}
		}
	}
}

// Use identifies one occurrence of a value as an operand. Inst is nil when
// the use is in the block's terminator rather than a regular instruction.
type Use struct {
	Block *ir.Block
	Inst  ir.Instruction
}

// Uses returns every use of v within fn.
func Uses(fn *ir.Func, v value.Value) []Use {
	var uses []Use
	for _, blk := range fn.Blocks {
		for _, inst := range blk.Insts {
			if usesValue(inst.Operands(), v) {
				uses = append(uses, Use{Block: blk, Inst: inst})
			}
		}
		if blk.Term != nil && usesValue(blk.Term.Operands(), v) {
			uses = append(uses, Use{Block: blk})
		}
	}
	return uses
}

// IsUsed reports whether any instruction or terminator in fn references v.
func IsUsed(fn *ir.Func, v value.Value) bool {
	for _, blk := range fn.Blocks {
		for _, inst := range blk.Insts {
			if usesValue(inst.Operands(), v) {
				return true
			}
		}
		if blk.Term != nil && usesValue(blk.Term.Operands(), v) {
			return true
		}
	}
	return false
}

func usesValue(operands []*value.Value, v value.Value) bool {
	for _, operand := range operands {
		if *operand == v {
			return true
		}
	}
	return false
}

// HasSideEffects reports whether inst has an observable effect beyond
// producing its result, the property LICM checks before hoisting an
// instruction.
func HasSideEffects(inst ir.Instruction) bool {
	switch inst.(type) {
	case *ir.InstStore, *ir.InstCall:
		return true
	default:
		return false
	}
}

func indexOf(blk *ir.Block, inst ir.Instruction) int {
	for i, in := range blk.Insts {
		if in == inst {
			return i
		}
	}
	return -1
}

// EraseFromParent removes inst from blk's instruction list. It reports
// whether inst was found.
func EraseFromParent(blk *ir.Block, inst ir.Instruction) bool {
	idx := indexOf(blk, inst)
	if idx < 0 {
		return false
	}
	blk.Insts = append(blk.Insts[:idx], blk.Insts[idx+1:]...)
	return true
}

// RemoveFromParent detaches inst from blk without discarding it; LICM pairs
// it with InsertAtEnd when hoisting.
func RemoveFromParent(blk *ir.Block, inst ir.Instruction) bool {
	return EraseFromParent(blk, inst)
}

// InsertBefore inserts inst immediately before before within blk.
func InsertBefore(blk *ir.Block, before ir.Instruction, inst ir.Instruction) {
	idx := indexOf(blk, before)
	if idx < 0 {
		blk.Insts = append(blk.Insts, inst)
		return
	}
	blk.Insts = append(blk.Insts, nil)
	copy(blk.Insts[idx+1:], blk.Insts[idx:])
	blk.Insts[idx] = inst
}

// InsertAfter inserts inst immediately after after within blk.
func InsertAfter(blk *ir.Block, after ir.Instruction, inst ir.Instruction) {
	idx := indexOf(blk, after)
	if idx < 0 {
		blk.Insts = append(blk.Insts, inst)
		return
	}
	blk.Insts = append(blk.Insts, nil)
	copy(blk.Insts[idx+2:], blk.Insts[idx+1:])
	blk.Insts[idx+1] = inst
}

// InsertAtEnd appends inst to blk, ahead of the terminator (blk.Term is a
// separate field, so this is always safe).
func InsertAtEnd(blk *ir.Block, inst ir.Instruction) {
	blk.Insts = append(blk.Insts, inst)
}

// ReplaceSuccessor rewrites blk's terminator so that every successor edge
// currently targeting old instead targets new. Reports whether any edge was
// rewritten. Loop Fusion's CFG surgery is built from this primitive.
func ReplaceSuccessor(blk *ir.Block, old, new *ir.Block) bool {
	switch t := blk.Term.(type) {
	case *ir.TermBr:
		if t.Target == old {
			t.Target = new
			return true
		}
	case *ir.TermCondBr:
		changed := false
		if t.TargetTrue == old {
			t.TargetTrue = new
			changed = true
		}
		if t.TargetFalse == old {
			t.TargetFalse = new
			changed = true
		}
		return changed
	}
	return false
}
