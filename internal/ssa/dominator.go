package ssa

import "github.com/llir/llvm/ir"

// CFG is a function's control-flow graph. github.com/llir/llvm exposes
// successors through a block's terminator but never tracks predecessors, so
// every analysis in this package that needs them builds a CFG once and
// reuses it.
type CFG struct {
	fn    *ir.Func
	preds map[*ir.Block][]*ir.Block
	succs map[*ir.Block][]*ir.Block
}

// BuildCFG computes the predecessor/successor edges of fn.
func BuildCFG(fn *ir.Func) *CFG {
	c := &CFG{fn: fn, preds: make(map[*ir.Block][]*ir.Block), succs: make(map[*ir.Block][]*ir.Block)}
	for _, blk := range fn.Blocks {
		if blk.Term == nil {
			continue
		}
		for _, succ := range blk.Term.Succs() {
			c.succs[blk] = append(c.succs[blk], succ)
			c.preds[succ] = append(c.preds[succ], blk)
		}
	}
	return c
}

// Preds returns blk's predecessors in fn, in the order they were discovered.
func (c *CFG) Preds(blk *ir.Block) []*ir.Block { return c.preds[blk] }

// Succs returns blk's successors in fn.
func (c *CFG) Succs(blk *ir.Block) []*ir.Block { return c.succs[blk] }

// DominatorTree answers dominance queries over a function's CFG, computed
// with the iterative Cooper-Harvey-Kennedy algorithm.
type DominatorTree struct {
	idom map[*ir.Block]*ir.Block
	idx  map[*ir.Block]int
	rpo  []*ir.Block
}

// BuildDominatorTree computes the dominator tree of fn, rooted at its entry
// block (the first block of fn.Blocks, per github.com/llir/llvm's
// convention).
func BuildDominatorTree(fn *ir.Func, cfg *CFG) *DominatorTree {
	entry := fn.Blocks[0]
	idom, idx, rpo := computeIdom(entry, cfg.Succs)
	return &DominatorTree{idom: idom, idx: idx, rpo: rpo}
}

// Dominates reports whether a dominates b (every a == b also dominates).
func (dt *DominatorTree) Dominates(a, b *ir.Block) bool {
	return dominates(dt.idom, a, b)
}

// ReversePostOrder returns the blocks reachable from fn's entry in reverse
// post-order of the depth-first CFG walk the dominator computation made, the
// order LICM walks a loop's blocks in.
func (dt *DominatorTree) ReversePostOrder() []*ir.Block {
	return append([]*ir.Block(nil), dt.rpo...)
}

// PostDominatorTree answers post-dominance queries: a post-dominates b when
// every path from b to a function exit passes through a.
type PostDominatorTree struct {
	idom map[*ir.Block]*ir.Block
	idx  map[*ir.Block]int
}

// BuildPostDominatorTree computes the post-dominator tree of fn by running
// the same iterative algorithm over the reversed CFG, rooted at a virtual
// exit node connected to every block with no successors.
func BuildPostDominatorTree(fn *ir.Func, cfg *CFG) *PostDominatorTree {
	virtual := &ir.Block{}
	var exits []*ir.Block
	for _, b := range fn.Blocks {
		if len(cfg.Succs(b)) == 0 {
			exits = append(exits, b)
		}
	}
	revSuccs := func(b *ir.Block) []*ir.Block {
		if b == virtual {
			return exits
		}
		return cfg.Preds(b)
	}
	idom, idx, _ := computeIdom(virtual, revSuccs)
	return &PostDominatorTree{idom: idom, idx: idx}
}

// Dominates reports whether a post-dominates b.
func (pdt *PostDominatorTree) Dominates(a, b *ir.Block) bool {
	return dominates(pdt.idom, a, b)
}

func dominates(idom map[*ir.Block]*ir.Block, a, b *ir.Block) bool {
	if a == b {
		return true
	}
	cur, ok := idom[b]
	if !ok {
		return false
	}
	for {
		if cur == a {
			return true
		}
		parent := idom[cur]
		if parent == cur {
			return false
		}
		cur = parent
	}
}

// computeIdom runs the Cooper-Harvey-Kennedy iterative dominator algorithm
// over the graph reachable from entry via succsOf, returning the immediate
// dominator of every reachable node plus its reverse post-order index.
func computeIdom(entry *ir.Block, succsOf func(*ir.Block) []*ir.Block) (idom map[*ir.Block]*ir.Block, idx map[*ir.Block]int, rpo []*ir.Block) {
	visited := map[*ir.Block]bool{}
	predsOf := map[*ir.Block][]*ir.Block{}
	var order []*ir.Block
	var visit func(b *ir.Block)
	visit = func(b *ir.Block) {
		if visited[b] {
			return
		}
		visited[b] = true
		for _, s := range succsOf(b) {
			predsOf[s] = append(predsOf[s], b)
			visit(s)
		}
		order = append(order, b)
	}
	visit(entry)
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	rpo = order

	idx = make(map[*ir.Block]int, len(rpo))
	for i, b := range rpo {
		idx[b] = i
	}

	idom = make(map[*ir.Block]*ir.Block, len(rpo))
	idom[entry] = entry
	changed := true
	for changed {
		changed = false
		for _, b := range rpo {
			if b == entry {
				continue
			}
			var nd *ir.Block
			for _, p := range predsOf[b] {
				if idom[p] == nil {
					continue
				}
				if nd == nil {
					nd = p
					continue
				}
				nd = intersect(idom, idx, nd, p)
			}
			if idom[b] != nd {
				idom[b] = nd
				changed = true
			}
		}
	}
	return idom, idx, rpo
}

func intersect(idom map[*ir.Block]*ir.Block, idx map[*ir.Block]int, b1, b2 *ir.Block) *ir.Block {
	f1, f2 := b1, b2
	for f1 != f2 {
		for idx[f1] > idx[f2] {
			f1 = idom[f1]
		}
		for idx[f2] > idx[f1] {
			f2 = idom[f2]
		}
	}
	return f1
}
