package ssa

import (
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/value"
)

// SCEV is a minimal symbolic scalar-evolution expression. Loop Fusion only
// ever needs to compare two loops' trip counts for equality, so this facade
// represents just enough shape for that comparison; it is not a general
// symbolic-algebra engine.
type SCEV interface {
	// Equal reports whether two SCEVs denote a provably identical value.
	Equal(other SCEV) bool
	String() string
}

// scevTripCount represents ceil((bound - start) / step): the number of
// backedge-taken iterations of a canonical counted loop.
type scevTripCount struct {
	start, bound value.Value
	step         *constant.Int
}

func (t scevTripCount) Equal(o SCEV) bool {
	ot, ok := o.(scevTripCount)
	if !ok {
		return false
	}
	return sameValue(t.start, ot.start) && sameValue(t.bound, ot.bound) && t.step.X.Cmp(ot.step.X) == 0
}

func (t scevTripCount) String() string {
	return fmt.Sprintf("trip-count(start=%s, bound=%s, step=%s)", t.start.Ident(), t.bound.Ident(), t.step.Ident())
}

func sameValue(a, b value.Value) bool {
	if a == b {
		return true
	}
	ca, oka := a.(*constant.Int)
	cb, okb := b.(*constant.Int)
	if oka && okb {
		return ca.X.Cmp(cb.X) == 0
	}
	return false
}

// ScalarEvolution computes trip-count expressions for canonical counted
// loops.
type ScalarEvolution struct{}

// NewScalarEvolution constructs a ScalarEvolution facade. It holds no
// per-function state: every query takes the loop it concerns.
func NewScalarEvolution() *ScalarEvolution { return &ScalarEvolution{} }

// GetExitCount returns the SCEV for the number of times exitingBB's
// induction-variable comparison evaluates true before the loop exits, or nil
// when the loop's induction variable or exit comparison isn't recognized.
func (se *ScalarEvolution) GetExitCount(l *Loop, exitingBB *ir.Block) SCEV {
	iv := l.CanonicalInductionVariable()
	if iv == nil || exitingBB == nil {
		return nil
	}
	cbr, ok := exitingBB.Term.(*ir.TermCondBr)
	if !ok {
		return nil
	}
	cmp, ok := cbr.Cond.(*ir.InstICmp)
	if !ok {
		return nil
	}
	var bound value.Value
	switch {
	case cmp.X == value.Value(iv):
		bound = cmp.Y
	case cmp.Y == value.Value(iv):
		bound = cmp.X
	default:
		return nil
	}
	start := preheaderIncoming(iv, l)
	step := ivStep(iv, l)
	if start == nil || step == nil {
		return nil
	}
	return scevTripCount{start: start, bound: bound, step: step}
}

// GetTripCountFromExitCount converts an exit-count SCEV into a trip-count
// SCEV. In this model the exit count already denotes the trip count, so the
// conversion is the identity; it stays a named step so callers state which
// quantity they are comparing.
func (se *ScalarEvolution) GetTripCountFromExitCount(e SCEV) SCEV { return e }
