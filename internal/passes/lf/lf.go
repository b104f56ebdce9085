// Package lf implements Loop Fusion: detects pairs of top-level loops that
// are control-flow-equivalent, adjacent, share a trip count, and are free of
// negative-distance dependences, then splices them into a single loop.
package lf

import (
	"github.com/llir/llvm/ir"

	"github.com/dshills/ssaopt/internal/ssa"
)

// Pass is Loop Fusion.
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

// Run repeatedly attempts to fuse pairs of top-level loops of fn until a
// fixed point: no eligible pair remains, or fewer than two eligible loops
// remain. Each successful fusion strictly decreases the top-level loop
// count, guaranteeing termination.
func (p *Pass) Run(fn *ir.Func, lf *ssa.LoopForest, dt *ssa.DominatorTree, pdt *ssa.PostDominatorTree, se *ssa.ScalarEvolution, di *ssa.DependenceInfo) ssa.PreservedAnalyses {
	changed := false
	for {
		candidates := eligibleLoops(lf)
		if len(candidates) < 2 {
			break
		}
		fusedThisRound := false
		for i := 0; i < len(candidates) && !fusedThisRound; i++ {
			for j := 0; j < len(candidates) && !fusedThisRound; j++ {
				if i == j {
					continue
				}
				l1, l2 := candidates[i], candidates[j]
				if p.tryFuse(fn, lf, dt, pdt, se, di, l1, l2) {
					changed = true
					fusedThisRound = true
				}
			}
		}
		if !fusedThisRound {
			break
		}
	}
	// Any successful fusion invalidates dominance, loop, scalar-evolution,
	// and dependence info.
	if changed {
		return ssa.None()
	}
	return ssa.All()
}

// isOkForFusion is the eligibility filter: a loop must have a pre-header,
// header, latch, exiting block, and exit block, i.e. be in simplified form.
func isOkForFusion(l *ssa.Loop) bool {
	return l.IsSimplifyForm()
}

func eligibleLoops(lf *ssa.LoopForest) []*ssa.Loop {
	var res []*ssa.Loop
	for _, l := range lf.TopLevel() {
		if isOkForFusion(l) {
			res = append(res, l)
		}
	}
	return res
}

// controlFlowEquivalent reports whether l1 and l2 execute the same number of
// times on every path: same entry, or l1's entry dominates l2's while l2's
// post-dominates l1's.
func controlFlowEquivalent(l1, l2 *ssa.Loop, dt *ssa.DominatorTree, pdt *ssa.PostDominatorTree) bool {
	e1, e2 := l1.Entry(), l2.Entry()
	if e1 == e2 {
		return true
	}
	return dt.Dominates(e1, e2) && pdt.Dominates(e2, e1)
}

// adjacent reports whether control falls from l1 straight into l2's entry:
// through l1's guard when guarded, through l1's exit block otherwise.
func adjacent(l1, l2 *ssa.Loop) bool {
	bb2 := l2.Entry()
	if l1.IsGuarded() {
		guard := l1.Guard()
		cbr, ok := guard.Term.(*ir.TermCondBr)
		if !ok {
			return false
		}
		return cbr.TargetTrue == bb2 || cbr.TargetFalse == bb2
	}
	return l1.ExitBlock() == bb2
}

// sameTripCount reports whether both loops' symbolic trip counts are
// provably equal.
func sameTripCount(l1, l2 *ssa.Loop, se *ssa.ScalarEvolution) bool {
	ec1 := se.GetExitCount(l1, l1.ExitingBlock())
	ec2 := se.GetExitCount(l2, l2.ExitingBlock())
	if ec1 == nil || ec2 == nil {
		return false
	}
	tc1 := se.GetTripCountFromExitCount(ec1)
	tc2 := se.GetTripCountFromExitCount(ec2)
	return tc1.Equal(tc2)
}

// tryFuse evaluates the full legality chain for the ordered pair (l1, l2)
// and, if every predicate holds, performs the fusion rewrite. It reports
// whether a fusion occurred.
func (p *Pass) tryFuse(fn *ir.Func, lf *ssa.LoopForest, dt *ssa.DominatorTree, pdt *ssa.PostDominatorTree, se *ssa.ScalarEvolution, di *ssa.DependenceInfo, l1, l2 *ssa.Loop) bool {
	if !controlFlowEquivalent(l1, l2, dt, pdt) {
		return false
	}
	if !adjacent(l1, l2) {
		return false
	}
	if !sameTripCount(l1, l2, se) {
		return false
	}
	if !di.NoNegativeDistance(l1, l2) {
		p.Diag.Printf("Loop fusion blocked: possible negative-distance dependence")
		return false
	}

	iv1 := l1.CanonicalInductionVariable()
	iv2 := l2.CanonicalInductionVariable()
	if iv1 == nil || iv2 == nil {
		p.Diag.Printf("Loop fusion blocked: missing canonical induction variable")
		return false
	}

	h1, h2 := l1.Header, l2.Header
	b1, b2 := l1.Body(), l2.Body()
	lt1, lt2 := l1.Latch(), l2.Latch()
	ph2 := l2.Entry()
	x2 := l2.ExitBlock()
	if b1 == nil || b2 == nil || lt1 == nil || lt2 == nil || ph2 == nil || x2 == nil {
		p.Diag.Printf("Loop fusion blocked: malformed loop shape")
		return false
	}
	// The rewrite below routes body-to-latch edges; a loop whose body block
	// doubles as its latch has no such edge to route.
	if b1 == lt1 || b2 == lt2 {
		p.Diag.Printf("Loop fusion blocked: body and latch are the same block")
		return false
	}

	cfg := ssa.BuildCFG(fn)
	lt1Preds := append([]*ir.Block(nil), cfg.Preds(lt1)...)
	lt2Preds := append([]*ir.Block(nil), cfg.Preds(lt2)...)

	// Step 1: fold IV2 into IV1.
	ssa.ReplaceAllUsesWith(fn, iv2, iv1)
	ssa.EraseFromParent(h2, iv2)

	// Step 2: H1 now exits the fused loop where L1 used to exit.
	ssa.ReplaceSuccessor(h1, ph2, x2)

	// Step 3: after L1's body, fall into L2's body.
	for _, pred := range lt1Preds {
		ssa.ReplaceSuccessor(pred, lt1, b2)
	}

	// Step 4: after L2's body, go back through L1's latch to iterate.
	for _, pred := range lt2Preds {
		ssa.ReplaceSuccessor(pred, lt2, lt1)
	}

	// Step 5: H2 no longer guards its body; leave H2 and Lt2 unreachable.
	ssa.ReplaceSuccessor(h2, b2, lt2)

	// Step 6 & 7: fold L2's blocks into L1 and drop L2 from the forest.
	for _, blk := range l2.Blocks() {
		if blk == h2 || blk == lt2 {
			continue
		}
		lf.AddBasicBlockToLoop(blk, l1)
	}
	lf.Erase(l2)

	// Step 8: best-effort, idempotent unreachable-block cleanup.
	ssa.RemoveUnreachableBlocks(fn)

	p.Diag.Printf("Loop fused")
	return true
}
