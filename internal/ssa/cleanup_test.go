package ssa

import (
	"testing"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/types"
)

func TestRemoveUnreachableBlocksDropsOrphans(t *testing.T) {
	m := ir.NewModule()
	fn := m.NewFunc("f", types.Void)

	entry := fn.NewBlock("entry")
	live := fn.NewBlock("live")
	dead := fn.NewBlock("dead")

	entry.NewBr(live)
	live.NewRet(nil)
	dead.NewRet(nil) // never branched to: orphaned by construction

	changed := RemoveUnreachableBlocks(fn)
	if !changed {
		t.Fatal("expected RemoveUnreachableBlocks to report a change")
	}
	if len(fn.Blocks) != 2 {
		t.Fatalf("expected 2 reachable blocks, got %d", len(fn.Blocks))
	}
	for _, b := range fn.Blocks {
		if b == dead {
			t.Error("dead block should have been removed")
		}
	}
}

func TestRemoveUnreachableBlocksIsIdempotent(t *testing.T) {
	m := ir.NewModule()
	fn := m.NewFunc("f", types.Void)
	entry := fn.NewBlock("entry")
	entry.NewRet(nil)

	RemoveUnreachableBlocks(fn)
	if changed := RemoveUnreachableBlocks(fn); changed {
		t.Error("a second call with nothing new to remove should report no change")
	}
}
