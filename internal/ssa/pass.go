package ssa

// Analysis identifies one of the analyses consumed by a pass. A pass
// reports which of these its transformation leaves intact via
// PreservedAnalyses.
type Analysis uint8

const (
	AnalysisDominatorTree Analysis = 1 << iota
	AnalysisPostDominatorTree
	AnalysisLoopInfo
	AnalysisScalarEvolution
	AnalysisDependenceInfo
)

// PreservedAnalyses is the tri-state result a pass returns from its entry
// point: every analysis preserved, none of them, or an explicit subset.
// Passes that mutate the CFG or loop structure return None; LICM, which
// moves instructions into the pre-header without changing any edge,
// returns All.
type PreservedAnalyses struct {
	all, none bool
	set       Analysis
}

// All reports that every analysis remains valid after the pass ran.
func All() PreservedAnalyses { return PreservedAnalyses{all: true} }

// None reports that no analysis can be assumed valid after the pass ran.
func None() PreservedAnalyses { return PreservedAnalyses{none: true} }

// Preserve reports that exactly the analyses named in set remain valid.
func Preserve(set Analysis) PreservedAnalyses { return PreservedAnalyses{set: set} }

// Preserves reports whether a is among the analyses this result preserves.
func (p PreservedAnalyses) Preserves(a Analysis) bool {
	switch {
	case p.all:
		return true
	case p.none:
		return false
	default:
		return p.set&a != 0
	}
}

// IsAll reports whether every analysis was preserved.
func (p PreservedAnalyses) IsAll() bool { return p.all }

// IsNone reports whether no analysis was preserved.
func (p PreservedAnalyses) IsNone() bool { return p.none }
