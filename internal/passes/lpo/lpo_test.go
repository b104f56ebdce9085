package lpo

import (
	"bytes"
	"strings"
	"testing"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"github.com/dshills/ssaopt/internal/ssa"
)

// buildUnaryFunc builds a module with a single function of one i32 parameter
// and one block, letting build populate that block.
func buildUnaryFunc(name string, build func(entry *ir.Block, x *ir.Param)) *ir.Module {
	m := ir.NewModule()
	fn := m.NewFunc(name, types.I32, ir.NewParam("x", types.I32))
	entry := fn.NewBlock("entry")
	build(entry, fn.Params[0])
	return m
}

func run(t *testing.T, m *ir.Module) ir.Instruction {
	t.Helper()
	New(nil).Run(m)
	entry := m.Funcs[0].Blocks[0]
	if len(entry.Insts) == 0 {
		return nil
	}
	return entry.Insts[len(entry.Insts)-1]
}

func TestMulByOneIsIdentity(t *testing.T) {
	m := buildUnaryFunc("f", func(entry *ir.Block, x *ir.Param) {
		mul := entry.NewMul(x, constant.NewInt(types.I32, 1))
		entry.NewRet(mul)
	})
	New(nil).Run(m)
	entry := m.Funcs[0].Blocks[0]
	if len(entry.Insts) != 0 {
		t.Fatalf("expected the mul to be erased entirely, got %d instructions", len(entry.Insts))
	}
	ret := entry.Term.(*ir.TermRet)
	if ret.X != value.Value(entry.Parent.Params[0]) {
		t.Error("ret should now use the parameter directly")
	}
}

func TestMulByPowerOfTwoBecomesShl(t *testing.T) {
	m := buildUnaryFunc("f", func(entry *ir.Block, x *ir.Param) {
		mul := entry.NewMul(x, constant.NewInt(types.I32, 8))
		entry.NewRet(mul)
	})
	last := run(t, m)
	shl, ok := last.(*ir.InstShl)
	if !ok {
		t.Fatalf("expected the surviving instruction to be a shl, got %T", last)
	}
	if shl.Y.(*constant.Int).X.Int64() != 3 {
		t.Errorf("shift amount = %v, want 3", shl.Y)
	}
	ret := m.Funcs[0].Blocks[0].Term.(*ir.TermRet)
	if ret.X != value.Value(shl) {
		t.Error("return should use the shl result")
	}
}

func TestMulByFifteenBecomesShlSub(t *testing.T) {
	m := buildUnaryFunc("f", func(entry *ir.Block, x *ir.Param) {
		mul := entry.NewMul(x, constant.NewInt(types.I32, 15))
		entry.NewRet(mul)
	})
	New(nil).Run(m)
	entry := m.Funcs[0].Blocks[0]
	if len(entry.Insts) != 2 {
		t.Fatalf("expected shl+sub to survive, got %d instructions", len(entry.Insts))
	}
	shl, ok := entry.Insts[0].(*ir.InstShl)
	if !ok {
		t.Fatalf("first surviving instruction should be a shl, got %T", entry.Insts[0])
	}
	if shl.Y.(*constant.Int).X.Int64() != 4 {
		t.Errorf("shift amount = %v, want 4", shl.Y)
	}
	sub, ok := entry.Insts[1].(*ir.InstSub)
	if !ok {
		t.Fatalf("second surviving instruction should be a sub, got %T", entry.Insts[1])
	}
	if sub.X != value.Value(shl) {
		t.Error("sub should subtract from the shl result")
	}
}

func TestMulBySeventeenBecomesShlAdd(t *testing.T) {
	m := buildUnaryFunc("f", func(entry *ir.Block, x *ir.Param) {
		mul := entry.NewMul(x, constant.NewInt(types.I32, 17))
		entry.NewRet(mul)
	})
	New(nil).Run(m)
	entry := m.Funcs[0].Blocks[0]
	if len(entry.Insts) != 2 {
		t.Fatalf("expected shl+add to survive, got %d instructions", len(entry.Insts))
	}
	if _, ok := entry.Insts[0].(*ir.InstShl); !ok {
		t.Fatalf("first surviving instruction should be a shl, got %T", entry.Insts[0])
	}
	if _, ok := entry.Insts[1].(*ir.InstAdd); !ok {
		t.Fatalf("second surviving instruction should be an add, got %T", entry.Insts[1])
	}
}

func TestMulByThreeBecomesShlSub(t *testing.T) {
	m := buildUnaryFunc("f", func(entry *ir.Block, x *ir.Param) {
		mul := entry.NewMul(x, constant.NewInt(types.I32, 3))
		entry.NewRet(mul)
	})
	New(nil).Run(m)
	entry := m.Funcs[0].Blocks[0]
	if len(entry.Insts) != 2 {
		t.Fatalf("expected shl+sub to survive, got %d instructions", len(entry.Insts))
	}
	shl, ok := entry.Insts[0].(*ir.InstShl)
	if !ok {
		t.Fatalf("first surviving instruction should be a shl, got %T", entry.Insts[0])
	}
	if shl.Y.(*constant.Int).X.Int64() != 2 {
		t.Errorf("shift amount = %v, want 2", shl.Y)
	}
	if _, ok := entry.Insts[1].(*ir.InstSub); !ok {
		t.Fatalf("second surviving instruction should be a sub, got %T", entry.Insts[1])
	}
}

func TestMulByTenIsUnchanged(t *testing.T) {
	m := buildUnaryFunc("f", func(entry *ir.Block, x *ir.Param) {
		mul := entry.NewMul(x, constant.NewInt(types.I32, 10))
		entry.NewRet(mul)
	})
	pa := New(nil).Run(m)
	if !pa.IsAll() {
		t.Error("multiplying by 10 should not be rewritten: neither 10 nor its neighbors are powers of two")
	}
	if _, ok := m.Funcs[0].Blocks[0].Insts[0].(*ir.InstMul); !ok {
		t.Error("the mul should survive untouched")
	}
}

func TestUDivByPowerOfTwoBecomesLShr(t *testing.T) {
	m := buildUnaryFunc("f", func(entry *ir.Block, x *ir.Param) {
		div := entry.NewUDiv(x, constant.NewInt(types.I32, 16))
		entry.NewRet(div)
	})
	last := run(t, m)
	lshr, ok := last.(*ir.InstLShr)
	if !ok {
		t.Fatalf("expected lshr, got %T", last)
	}
	if lshr.Y.(*constant.Int).X.Int64() != 4 {
		t.Errorf("shift amount = %v, want 4", lshr.Y)
	}
}

func TestUDivWithPowerOfTwoDividendIsUnchanged(t *testing.T) {
	m := buildUnaryFunc("f", func(entry *ir.Block, x *ir.Param) {
		div := entry.NewUDiv(constant.NewInt(types.I32, 16), x)
		entry.NewRet(div)
	})
	pa := New(nil).Run(m)
	if !pa.IsAll() {
		t.Error("a power-of-two dividend must not be rewritten")
	}
}

func TestSDivIsNeverRewritten(t *testing.T) {
	m := buildUnaryFunc("f", func(entry *ir.Block, x *ir.Param) {
		div := entry.NewSDiv(x, constant.NewInt(types.I32, -16))
		entry.NewRet(div)
	})
	pa := New(nil).Run(m)
	if !pa.IsAll() {
		t.Error("SDiv by a negative power of two must never be rewritten")
	}
}

func TestAddSubCancellation(t *testing.T) {
	m := buildUnaryFunc("f", func(entry *ir.Block, x *ir.Param) {
		add := entry.NewAdd(x, constant.NewInt(types.I32, 1))
		sub := entry.NewSub(add, constant.NewInt(types.I32, 1))
		entry.NewRet(sub)
	})
	New(nil).Run(m)
	ret := m.Funcs[0].Blocks[0].Term.(*ir.TermRet)
	if ret.X != value.Value(m.Funcs[0].Params[0]) {
		t.Error("add/sub of the same constant should cancel out to the original parameter")
	}
}

func TestSubAddCancellation(t *testing.T) {
	m := buildUnaryFunc("f", func(entry *ir.Block, x *ir.Param) {
		sub := entry.NewSub(x, constant.NewInt(types.I32, 5))
		add := entry.NewAdd(sub, constant.NewInt(types.I32, 5))
		entry.NewRet(add)
	})
	New(nil).Run(m)
	ret := m.Funcs[0].Blocks[0].Term.(*ir.TermRet)
	if ret.X != value.Value(m.Funcs[0].Params[0]) {
		t.Error("sub/add of the same constant should cancel out to the original parameter")
	}
}

func TestLocalDCERemovesDeadInstruction(t *testing.T) {
	m := buildUnaryFunc("f", func(entry *ir.Block, x *ir.Param) {
		entry.NewMul(x, constant.NewInt(types.I32, 3)) // dead: result never used
		entry.NewRet(x)
	})
	pa := New(nil).Run(m)
	if pa.IsAll() {
		t.Error("expected DCE to report a change")
	}
	entry := m.Funcs[0].Blocks[0]
	if len(entry.Insts) != 0 {
		t.Fatalf("expected the dead mul to be erased, got %d instructions", len(entry.Insts))
	}
}

func TestRunningTwiceIsIdempotent(t *testing.T) {
	m := buildUnaryFunc("f", func(entry *ir.Block, x *ir.Param) {
		mul := entry.NewMul(x, constant.NewInt(types.I32, 8))
		entry.NewRet(mul)
	})
	New(nil).Run(m)
	before := len(m.Funcs[0].Blocks[0].Insts)
	pa := New(nil).Run(m)
	if !pa.IsAll() {
		t.Error("second run should report no change")
	}
	if got := len(m.Funcs[0].Blocks[0].Insts); got != before {
		t.Errorf("second run changed instruction count: %d vs %d", got, before)
	}
}

func TestDiagnosticsAreObservable(t *testing.T) {
	var buf bytes.Buffer
	m := buildUnaryFunc("f", func(entry *ir.Block, x *ir.Param) {
		mul := entry.NewMul(x, constant.NewInt(types.I32, 8))
		entry.NewRet(mul)
	})
	New(ssa.NewDiagnostics(&buf)).Run(m)
	if !strings.Contains(buf.String(), "Strength Reduction") {
		t.Errorf("expected a Strength Reduction diagnostic line, got %q", buf.String())
	}
}
