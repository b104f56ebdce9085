package ssa

import (
	"testing"

	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
)

func i32(x int64) *constant.Int { return constant.NewInt(types.I32, x) }

func TestIsZeroIsOne(t *testing.T) {
	if !IsZero(i32(0)) {
		t.Error("0 should be zero")
	}
	if IsZero(i32(1)) {
		t.Error("1 should not be zero")
	}
	if !IsOne(i32(1)) {
		t.Error("1 should be one")
	}
	if IsOne(i32(0)) {
		t.Error("0 should not be one")
	}
}

func TestIsPowerOfTwo(t *testing.T) {
	cases := []struct {
		x    int64
		want bool
	}{
		{1, true}, {2, true}, {4, true}, {8, true}, {16, true},
		{0, false}, {-2, false}, {3, false}, {6, false}, {-8, false},
	}
	for _, c := range cases {
		if got := IsPowerOfTwo(i32(c.x)); got != c.want {
			t.Errorf("IsPowerOfTwo(%d) = %v, want %v", c.x, got, c.want)
		}
	}
}

func TestExactLog2(t *testing.T) {
	cases := []struct {
		x    int64
		want uint64
	}{
		{1, 0}, {2, 1}, {4, 2}, {8, 3}, {1024, 10},
	}
	for _, c := range cases {
		if got := ExactLog2(i32(c.x)); got != c.want {
			t.Errorf("ExactLog2(%d) = %d, want %d", c.x, got, c.want)
		}
	}
}

func TestFitsShiftAmount(t *testing.T) {
	if !FitsShiftAmount(i32(8), 32) {
		t.Error("8 should be a legal i32 shift amount")
	}
	tooWide := constant.NewInt(types.I32, 0)
	tooWide.X.SetInt64(1)
	tooWide.X.Lsh(tooWide.X, 32) // 2^32: a power of two, but log2 == the bit width itself
	if FitsShiftAmount(tooWide, 32) {
		t.Error("2^32 should not fit as a shift amount for an i32")
	}
}

func TestAddOneSubOne(t *testing.T) {
	five := i32(5)
	if got := AddOne(five); got.X.Int64() != 6 {
		t.Errorf("AddOne(5) = %d, want 6", got.X.Int64())
	}
	if got := SubOne(five); got.X.Int64() != 4 {
		t.Errorf("SubOne(5) = %d, want 4", got.X.Int64())
	}
}

func TestAddOneWraps(t *testing.T) {
	maxI32 := constant.NewInt(types.I32, 0)
	maxI32.X.SetInt64(1)
	maxI32.X.Lsh(maxI32.X, 31)
	maxI32.X.Sub(maxI32.X, bigOne) // 2^31 - 1, the max signed i32
	got := AddOne(maxI32)
	if got.X.Int64() != -(1 << 31) {
		t.Errorf("AddOne(maxI32) = %d, want wraparound to min i32", got.X.Int64())
	}
}
