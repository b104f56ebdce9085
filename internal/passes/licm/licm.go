// Package licm implements Loop-Invariant Code Motion: identifies
// loop-invariant instructions inside a natural loop and hoists the safe
// ones into the loop's pre-header.
package licm

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/value"

	"github.com/dshills/ssaopt/internal/ssa"
)

// Pass is Loop-Invariant Code Motion.
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

// Run inspects a single loop and hoists every instruction that is both
// loop-invariant and safe to hoist into the loop's pre-header. The loop
// must be in simplified form; otherwise the pass is a no-op and reports
// every analysis preserved.
func (p *Pass) Run(fn *ir.Func, l *ssa.Loop, dt *ssa.DominatorTree) ssa.PreservedAnalyses {
	if !l.IsSimplifyForm() {
		p.Diag.Printf("loop not in simplified form, skipping")
		return ssa.All()
	}

	preheader := l.Preheader()

	exitBBs := map[*ir.Block]bool{}
	for _, b := range l.ExitingBlocks() {
		exitBBs[b] = true
	}

	memo := map[ir.Instruction]bool{}
	var toHoist []ir.Instruction

	// Reverse-post-order traversal guarantees an instruction's operands are
	// classified (or recognized as defined outside the loop) before the
	// instruction itself is visited.
	for _, blk := range dt.ReversePostOrder() {
		if !l.Contains(blk) {
			continue
		}
		for _, inst := range blk.Insts {
			if !isInstructionLoopInvariant(inst, l, memo) {
				continue
			}
			if ssa.HasSideEffects(inst) {
				continue // stores and calls stay put no matter how invariant their operands are
			}
			if dominatesAllExits(blk, exitBBs, dt) || isLoopDead(fn, inst, l) {
				toHoist = append(toHoist, inst)
			}
		}
	}

	if len(toHoist) == 0 {
		return ssa.All()
	}

	for _, inst := range toHoist {
		blk := ownerBlock(l, inst)
		if blk == nil {
			continue
		}
		ssa.RemoveFromParent(blk, inst)
		ssa.InsertAtEnd(preheader, inst)
		p.Diag.Printf("hoisted %s to pre-header", instName(inst))
	}

	return ssa.All()
}

func ownerBlock(l *ssa.Loop, inst ir.Instruction) *ir.Block {
	for _, b := range l.Blocks() {
		for _, in := range b.Insts {
			if in == inst {
				return b
			}
		}
	}
	return nil
}

func instName(inst ir.Instruction) string {
	if v, ok := inst.(value.Value); ok {
		return v.Ident()
	}
	return "<instruction>"
}

// isValueLoopInvariant reports whether v is loop-invariant: a constant, a
// function argument, an instruction defined outside l, or an in-loop
// instruction that is itself loop-invariant (mutually recursive with
// isInstructionLoopInvariant).
func isValueLoopInvariant(v value.Value, l *ssa.Loop, memo map[ir.Instruction]bool) bool {
	switch val := v.(type) {
	case constant.Constant:
		return true
	case *ir.Param:
		return true
	case ir.Instruction:
		blk := ownerBlock(l, val)
		if blk == nil {
			return true // defined outside the loop
		}
		if _, isPhi := val.(*ir.InstPhi); isPhi {
			return false
		}
		return isInstructionLoopInvariant(val, l, memo)
	default:
		return false
	}
}

// isInstructionLoopInvariant reports whether inst is loop-invariant: never
// true for a φ-node, true otherwise iff every operand is loop-invariant.
// Results are memoized per loop invocation.
func isInstructionLoopInvariant(inst ir.Instruction, l *ssa.Loop, memo map[ir.Instruction]bool) bool {
	if v, ok := memo[inst]; ok {
		return v
	}
	if _, isPhi := inst.(*ir.InstPhi); isPhi {
		memo[inst] = false
		return false
	}
	memo[inst] = false // break cycles conservatively while classifying operands
	for _, operand := range inst.Operands() {
		if !isValueLoopInvariant(*operand, l, memo) {
			memo[inst] = false
			return false
		}
	}
	memo[inst] = true
	return true
}

// dominatesAllExits reports whether blk dominates every block in exitBBs:
// safety predicate (a): the instruction executes on every loop-exiting path.
func dominatesAllExits(blk *ir.Block, exitBBs map[*ir.Block]bool, dt *ssa.DominatorTree) bool {
	for exit := range exitBBs {
		if !dt.Dominates(blk, exit) {
			return false
		}
	}
	return true
}

// isLoopDead reports whether every use of inst lies inside l, the second
// safety predicate: the value escapes nowhere, so moving it changes nothing
// observable.
func isLoopDead(fn *ir.Func, inst ir.Instruction, l *ssa.Loop) bool {
	v, ok := inst.(value.Value)
	if !ok {
		return false
	}
	for _, use := range ssa.Uses(fn, v) {
		if !l.Contains(use.Block) {
			return false
		}
	}
	return true
}
