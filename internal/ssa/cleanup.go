package ssa

import "github.com/llir/llvm/ir"

// RemoveUnreachableBlocks drops every block of fn not reachable from the
// entry block. Best-effort and idempotent, safe to call after CFG surgery
// that may have orphaned blocks (e.g. the header and latch a fusion leaves
// behind).
func RemoveUnreachableBlocks(fn *ir.Func) bool {
	if len(fn.Blocks) == 0 {
		return false
	}
	reachable := map[*ir.Block]bool{}
	markReachable(fn.Blocks[0], reachable)

	kept := make([]*ir.Block, 0, len(fn.Blocks))
	changed := false
	for _, blk := range fn.Blocks {
		if reachable[blk] {
			kept = append(kept, blk)
		} else {
			changed = true
		}
	}
	fn.Blocks = kept
	return changed
}

func markReachable(blk *ir.Block, reachable map[*ir.Block]bool) {
	if reachable[blk] {
		return
	}
	reachable[blk] = true
	if blk.Term == nil {
		return
	}
	for _, succ := range blk.Term.Succs() {
		markReachable(succ, reachable)
	}
}
