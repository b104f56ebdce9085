package ssa

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/value"
)

// Loop is a natural loop: a header dominating every block in the loop body,
// reached from at least one back edge. It mirrors the small surface of
// LLVM's Loop class that LICM and Loop Fusion actually use: getLoopPreheader,
// isLoopSimplifyForm, getExitingBlock/getExitBlock, and (LoopFusion-specific)
// getGuard/getEntryBlock/getBody.
type Loop struct {
	Header   *ir.Block
	fn       *ir.Func
	cfg      *CFG
	blocks   map[*ir.Block]bool
	latches  []*ir.Block
	parent   *Loop
	children []*Loop
}

// Contains reports whether b belongs to the loop.
func (l *Loop) Contains(b *ir.Block) bool { return l.blocks[b] }

// Blocks returns the loop's blocks (including the header) in the order they
// appear in the owning function.
func (l *Loop) Blocks() []*ir.Block {
	var res []*ir.Block
	for _, b := range l.fn.Blocks {
		if l.blocks[b] {
			res = append(res, b)
		}
	}
	return res
}

// Parent returns the immediately enclosing loop, or nil for a top-level loop.
func (l *Loop) Parent() *Loop { return l.parent }

// Preheader returns the loop's unique predecessor block outside the loop,
// or nil if the header has zero or more than one such predecessor.
func (l *Loop) Preheader() *ir.Block {
	var pre *ir.Block
	for _, p := range l.cfg.Preds(l.Header) {
		if !l.blocks[p] {
			if pre != nil && pre != p {
				return nil
			}
			pre = p
		}
	}
	return pre
}

// Latch returns the loop's unique latch (the block whose back edge targets
// the header), or nil when the loop has more than one back edge.
func (l *Loop) Latch() *ir.Block {
	if len(l.latches) != 1 {
		return nil
	}
	return l.latches[0]
}

// ExitingBlocks returns every in-loop block with a successor outside the
// loop, in function order.
func (l *Loop) ExitingBlocks() []*ir.Block {
	var res []*ir.Block
	for _, b := range l.fn.Blocks {
		if !l.blocks[b] {
			continue
		}
		for _, s := range l.cfg.Succs(b) {
			if !l.blocks[s] {
				res = append(res, b)
				break
			}
		}
	}
	return res
}

// ExitingBlock returns the loop's unique exiting block, or nil if the loop
// has zero or more than one.
func (l *Loop) ExitingBlock() *ir.Block {
	ex := l.ExitingBlocks()
	if len(ex) != 1 {
		return nil
	}
	return ex[0]
}

// ExitBlock returns the unique block outside the loop that the unique
// exiting block branches to, or nil if either is not unique.
func (l *Loop) ExitBlock() *ir.Block {
	exiting := l.ExitingBlock()
	if exiting == nil {
		return nil
	}
	var exit *ir.Block
	for _, s := range l.cfg.Succs(exiting) {
		if !l.blocks[s] {
			if exit != nil && exit != s {
				return nil
			}
			exit = s
		}
	}
	return exit
}

// IsSimplifyForm reports whether the loop has a preheader, a unique latch,
// and a unique exiting/exit block pair, the normalized shape LICM and Loop
// Fusion both require before transforming a loop.
func (l *Loop) IsSimplifyForm() bool {
	return l.Preheader() != nil && l.Latch() != nil && l.ExitingBlock() != nil && l.ExitBlock() != nil
}

// Guard returns the loop's guard block: the preheader's unique predecessor,
// when that predecessor ends in a conditional branch that can skip the loop
// entirely: one arm enters the preheader, the other bypasses the loop to
// its exit block. A conditional predecessor whose other arm leads elsewhere
// (another loop's header, say) is not a guard. Returns nil for unguarded
// loops.
func (l *Loop) Guard() *ir.Block {
	pre := l.Preheader()
	if pre == nil {
		return nil
	}
	preds := l.cfg.Preds(pre)
	if len(preds) != 1 {
		return nil
	}
	g := preds[0]
	cbr, ok := g.Term.(*ir.TermCondBr)
	if !ok {
		return nil
	}
	targetTrue, _ := cbr.TargetTrue.(*ir.Block)
	targetFalse, _ := cbr.TargetFalse.(*ir.Block)
	var other *ir.Block
	switch {
	case targetTrue == pre:
		other = targetFalse
	case targetFalse == pre:
		other = targetTrue
	default:
		return nil
	}
	if other != l.ExitBlock() {
		return nil
	}
	return g
}

// IsGuarded reports whether the loop has a guard block.
func (l *Loop) IsGuarded() bool { return l.Guard() != nil }

// Entry returns the loop's guard block if guarded, otherwise its preheader,
// the block Loop Fusion compares for control-flow equivalence.
func (l *Loop) Entry() *ir.Block {
	if g := l.Guard(); g != nil {
		return g
	}
	return l.Preheader()
}

// Body returns the header's in-loop successor, the block Loop Fusion splices
// the fused body into.
func (l *Loop) Body() *ir.Block {
	if l.Header.Term == nil {
		return nil
	}
	for _, s := range l.Header.Term.Succs() {
		if l.blocks[s] {
			return s
		}
	}
	return nil
}

// CanonicalInductionVariable returns the header phi recognized as the loop's
// canonical induction variable: a two-incoming phi whose latch-edge value is
// itself plus a constant step.
func (l *Loop) CanonicalInductionVariable() *ir.InstPhi {
	for _, inst := range l.Header.Insts {
		phi, ok := inst.(*ir.InstPhi)
		if !ok {
			break // phis only ever appear at the start of a block
		}
		if preheaderIncoming(phi, l) != nil && ivStep(phi, l) != nil {
			return phi
		}
	}
	return nil
}

func preheaderIncoming(phi *ir.InstPhi, l *Loop) value.Value {
	pre := l.Preheader()
	if pre == nil {
		return nil
	}
	for _, inc := range phi.Incs {
		if inc.Pred == pre {
			return inc.X
		}
	}
	return nil
}

func ivStep(phi *ir.InstPhi, l *Loop) *constant.Int {
	latch := l.Latch()
	if latch == nil {
		return nil
	}
	for _, inc := range phi.Incs {
		if inc.Pred != latch {
			continue
		}
		add, ok := inc.X.(*ir.InstAdd)
		if !ok {
			return nil
		}
		if add.X == value.Value(phi) {
			if c, ok := add.Y.(*constant.Int); ok {
				return c
			}
		}
		if add.Y == value.Value(phi) {
			if c, ok := add.X.(*constant.Int); ok {
				return c
			}
		}
	}
	return nil
}

// LoopForest is the nesting forest of every natural loop in a function,
// mirroring LLVM's LoopInfo: iterate top-level loops, erase a loop, or
// reassign a block to a different loop.
type LoopForest struct {
	fn       *ir.Func
	loops    []*Loop
	top      []*Loop
	byHeader map[*ir.Block]*Loop
}

// TopLevel returns the forest's outermost loops, in header order.
func (f *LoopForest) TopLevel() []*Loop {
	return append([]*Loop(nil), f.top...)
}

// All returns every loop in the forest, in header order.
func (f *LoopForest) All() []*Loop {
	return append([]*Loop(nil), f.loops...)
}

// LoopFor returns the innermost loop containing b, or nil.
func (f *LoopForest) LoopFor(b *ir.Block) *Loop {
	var innermost *Loop
	for _, l := range f.loops {
		if l.blocks[b] {
			if innermost == nil || len(l.blocks) < len(innermost.blocks) {
				innermost = l
			}
		}
	}
	return innermost
}

// Erase removes l from the forest, reparenting its children to l's parent.
// Loop Fusion calls this after folding one loop into another.
func (f *LoopForest) Erase(l *Loop) {
	for _, c := range l.children {
		c.parent = l.parent
	}
	if l.parent != nil {
		l.parent.children = append(l.parent.children, l.children...)
	}
	f.loops = removeLoop(f.loops, l)
	f.top = removeLoop(f.top, l)
	if l.parent == nil {
		f.top = append(f.top, l.children...)
	}
	delete(f.byHeader, l.Header)
}

// AddBasicBlockToLoop adds b to l and every enclosing ancestor of l.
func (f *LoopForest) AddBasicBlockToLoop(b *ir.Block, l *Loop) {
	for p := l; p != nil; p = p.parent {
		p.blocks[b] = true
	}
}

func removeLoop(loops []*Loop, target *Loop) []*Loop {
	var res []*Loop
	for _, l := range loops {
		if l != target {
			res = append(res, l)
		}
	}
	return res
}

// DetectLoops builds the natural-loop forest of fn: for every back edge
// u -> h where h dominates u, h is a loop header and the loop body is every
// block that can reach u without first passing through h.
func DetectLoops(fn *ir.Func, cfg *CFG, dt *DominatorTree) *LoopForest {
	headers := map[*ir.Block]bool{}
	backEdges := map[*ir.Block][]*ir.Block{}
	for _, blk := range fn.Blocks {
		for _, pred := range cfg.Preds(blk) {
			if dt.Dominates(blk, pred) {
				headers[blk] = true
				backEdges[blk] = append(backEdges[blk], pred)
			}
		}
	}

	var headerOrder []*ir.Block
	for _, blk := range fn.Blocks {
		if headers[blk] {
			headerOrder = append(headerOrder, blk)
		}
	}

	loops := make(map[*ir.Block]*Loop, len(headerOrder))
	for _, h := range headerOrder {
		body := map[*ir.Block]bool{h: true}
		var stack []*ir.Block
		for _, latch := range backEdges[h] {
			if !body[latch] {
				body[latch] = true
				stack = append(stack, latch)
			}
		}
		for len(stack) > 0 {
			b := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			for _, p := range cfg.Preds(b) {
				if !body[p] {
					body[p] = true
					stack = append(stack, p)
				}
			}
		}
		loops[h] = &Loop{
			Header:  h,
			fn:      fn,
			cfg:     cfg,
			blocks:  body,
			latches: append([]*ir.Block(nil), backEdges[h]...),
		}
	}

	var all []*Loop
	for _, h := range headerOrder {
		all = append(all, loops[h])
	}
	for _, l := range all {
		var parent *Loop
		for _, cand := range all {
			if cand == l {
				continue
			}
			if cand.blocks[l.Header] && (parent == nil || len(cand.blocks) < len(parent.blocks)) {
				parent = cand
			}
		}
		l.parent = parent
		if parent != nil {
			parent.children = append(parent.children, l)
		}
	}

	var top []*Loop
	for _, l := range all {
		if l.parent == nil {
			top = append(top, l)
		}
	}

	return &LoopForest{fn: fn, loops: all, top: top, byHeader: loops}
}
