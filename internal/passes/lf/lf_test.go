package lf

import (
	"testing"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"github.com/dshills/ssaopt/internal/ssa"
)

// buildFusionFixture builds two adjacent counted loops:
//
//	for (i = 0; i < n; i++) A[i] = i;
//	for (j = 0; j < n; j++) use(B[j + offset]);
//
// sameArray controls whether the second loop reads from A (aliasing) or an
// independent array B; offset controls the second loop's read index relative
// to j, letting a single builder produce both the legal-fusion case and the
// negative-distance case. Each loop carries a dedicated latch block so the
// body-to-latch edges the fusion rewrite routes actually exist.
func buildFusionFixture(sameArray bool, offset int64) *ir.Func {
	m := ir.NewModule()
	arrA := m.NewGlobalDef("A", constant.NewZeroInitializer(types.NewArray(64, types.I32)))
	arrB := arrA
	if !sameArray {
		arrB = m.NewGlobalDef("B", constant.NewZeroInitializer(types.NewArray(64, types.I32)))
	}

	fn := m.NewFunc("fused", types.Void, ir.NewParam("n", types.I32))
	n := fn.Params[0]

	entry := fn.NewBlock("entry")
	pre1 := fn.NewBlock("l1.pre")
	h1 := fn.NewBlock("l1.header")
	body1 := fn.NewBlock("l1.body")
	latch1 := fn.NewBlock("l1.latch")
	pre2 := fn.NewBlock("l2.pre")
	h2 := fn.NewBlock("l2.header")
	body2 := fn.NewBlock("l2.body")
	latch2 := fn.NewBlock("l2.latch")
	exit := fn.NewBlock("exit")

	entry.NewBr(pre1)
	pre1.NewBr(h1)

	i := ir.NewPhi(ir.NewIncoming(constant.NewInt(types.I32, 0), pre1))
	h1.Insts = append(h1.Insts, i)
	cmp1 := h1.NewICmp(enum.IPredSLT, i, n)
	h1.NewCondBr(cmp1, body1, pre2)

	gepA := body1.NewGetElementPtr(types.I32, arrA, i)
	body1.NewStore(i, gepA)
	body1.NewBr(latch1)
	next1 := latch1.NewAdd(i, constant.NewInt(types.I32, 1))
	latch1.NewBr(h1)
	i.Incs = append(i.Incs, ir.NewIncoming(next1, latch1))

	pre2.NewBr(h2)

	j := ir.NewPhi(ir.NewIncoming(constant.NewInt(types.I32, 0), pre2))
	h2.Insts = append(h2.Insts, j)
	cmp2 := h2.NewICmp(enum.IPredSLT, j, n)
	h2.NewCondBr(cmp2, body2, exit)

	var loadIdx value.Value = j
	if offset != 0 {
		loadIdx = body2.NewAdd(j, constant.NewInt(types.I32, offset))
	}
	gepB := body2.NewGetElementPtr(types.I32, arrB, loadIdx)
	body2.NewLoad(types.I32, gepB)
	body2.NewBr(latch2)
	next2 := latch2.NewAdd(j, constant.NewInt(types.I32, 1))
	latch2.NewBr(h2)
	j.Incs = append(j.Incs, ir.NewIncoming(next2, latch2))

	exit.NewRet(nil)

	return fn
}

func analyze(fn *ir.Func) (*ssa.LoopForest, *ssa.DominatorTree, *ssa.PostDominatorTree, *ssa.ScalarEvolution, *ssa.DependenceInfo) {
	cfg := ssa.BuildCFG(fn)
	dt := ssa.BuildDominatorTree(fn, cfg)
	pdt := ssa.BuildPostDominatorTree(fn, cfg)
	forest := ssa.DetectLoops(fn, cfg, dt)
	return forest, dt, pdt, ssa.NewScalarEvolution(), ssa.NewDependenceInfo()
}

func TestFuseAdjacentIndependentLoops(t *testing.T) {
	fn := buildFusionFixture(false, 0)
	forest, dt, pdt, se, di := analyze(fn)

	if len(forest.TopLevel()) != 2 {
		t.Fatalf("expected 2 top-level loops before fusion, got %d", len(forest.TopLevel()))
	}

	pa := New(nil).Run(fn, forest, dt, pdt, se, di)

	if pa.IsAll() {
		t.Error("expected a successful fusion to not preserve all analyses")
	}
	if len(forest.TopLevel()) != 1 {
		t.Fatalf("expected 1 top-level loop after fusion, got %d", len(forest.TopLevel()))
	}
	fused := forest.TopLevel()[0]
	if iv := fused.CanonicalInductionVariable(); iv == nil {
		t.Error("the fused loop should still expose a canonical induction variable")
	}
	// Both bodies plus the first loop's header and latch survive; the second
	// loop's header and latch are discarded.
	if got := len(fused.Blocks()); got != 4 {
		t.Errorf("fused loop has %d blocks, want 4 (header, two bodies, latch)", got)
	}
}

func TestFusionBlockedByNegativeDistance(t *testing.T) {
	fn := buildFusionFixture(true, 1)
	forest, dt, pdt, se, di := analyze(fn)

	pa := New(nil).Run(fn, forest, dt, pdt, se, di)

	if !pa.IsAll() {
		t.Error("fusion should not have occurred: the second loop reads A[i+1] before the fused loop stores it")
	}
	if len(forest.TopLevel()) != 2 {
		t.Fatalf("expected loops to remain unfused, got %d top-level loops", len(forest.TopLevel()))
	}
}

func TestFusionAllowedByBackwardReference(t *testing.T) {
	fn := buildFusionFixture(true, -1)
	forest, dt, pdt, se, di := analyze(fn)

	New(nil).Run(fn, forest, dt, pdt, se, di)

	if len(forest.TopLevel()) != 1 {
		t.Fatalf("a read of A[i-1] only depends on already-completed fused trips and should not block fusion, got %d top-level loops", len(forest.TopLevel()))
	}
}

func TestFusionAllowedByZeroDistance(t *testing.T) {
	fn := buildFusionFixture(true, 0)
	forest, dt, pdt, se, di := analyze(fn)

	New(nil).Run(fn, forest, dt, pdt, se, di)

	if len(forest.TopLevel()) != 1 {
		t.Fatalf("same-iteration aliasing access should not block fusion, got %d top-level loops", len(forest.TopLevel()))
	}
}

func TestRunIsNoOpWithFewerThanTwoLoops(t *testing.T) {
	m := ir.NewModule()
	fn := m.NewFunc("single", types.Void, ir.NewParam("n", types.I32))
	n := fn.Params[0]

	entry := fn.NewBlock("entry")
	pre := fn.NewBlock("pre")
	header := fn.NewBlock("header")
	body := fn.NewBlock("body")
	exit := fn.NewBlock("exit")

	entry.NewBr(pre)
	pre.NewBr(header)

	iv := ir.NewPhi(ir.NewIncoming(constant.NewInt(types.I32, 0), pre))
	header.Insts = append(header.Insts, iv)
	cmp := header.NewICmp(enum.IPredSLT, iv, n)
	header.NewCondBr(cmp, body, exit)
	next := body.NewAdd(iv, constant.NewInt(types.I32, 1))
	body.NewBr(header)
	iv.Incs = append(iv.Incs, ir.NewIncoming(next, body))

	exit.NewRet(nil)

	forest, dt, pdt, se, di := analyze(fn)
	pa := New(nil).Run(fn, forest, dt, pdt, se, di)

	if !pa.IsAll() {
		t.Error("a single loop has nothing to fuse with; analyses should be preserved")
	}
}
