// Package codegen lowers the fixture language of internal/ast into
// github.com/llir/llvm IR, covering the integer arithmetic and counted-loop
// subset the optimizer passes in internal/passes need test fixtures for.
// This builder exists to hand pass tests realistic IR, not to compile a
// source language end to end.
package codegen

import (
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"github.com/dshills/ssaopt/internal/ast"
)

// Builder lowers one ast.Function at a time into a *ir.Func, using
// alloca/load/store for plain variables and a genuine header phi for the
// canonical counted for-loop shape. A phi-based for is what the optimizer
// passes need: LICM and Loop Fusion both require a recognizable canonical
// induction variable (ssa.Loop.CanonicalInductionVariable), which an
// alloca-backed counter never produces without running mem2reg first.
type Builder struct {
	Module *ir.Module

	fn     *ir.Func
	cur    *ir.Block
	vars   map[string]value.Value // name -> alloca
	params map[string]value.Value // name -> *ir.Param
}

// NewBuilder creates a Builder backed by a fresh, named module.
func NewBuilder(moduleName string) *Builder {
	m := ir.NewModule()
	m.SourceFilename = moduleName
	return &Builder{Module: m}
}

// DeclareArray declares a zero-initialized global array of elemType with
// length elements, the shape every array-store/array-load fixture in
// internal/passes needs (e.g. `arr[i] = a`).
func (b *Builder) DeclareArray(name string, length int64, elemType types.Type) value.Value {
	return b.Module.NewGlobalDef(name, constant.NewZeroInitializer(types.NewArray(uint64(length), elemType)))
}

// DefineFunction starts a new function named name with the given parameters
// and return type, and positions the builder at its entry block. Subsequent
// Build* calls emit into fn until the next DefineFunction call.
func (b *Builder) DefineFunction(name string, params []ast.Parameter, returns string) (*ir.Func, error) {
	retType, err := convertType(returns)
	if err != nil {
		return nil, err
	}
	irParams := make([]*ir.Param, len(params))
	for i, p := range params {
		pt, err := convertType(p.Type)
		if err != nil {
			return nil, fmt.Errorf("param %s: %w", p.Name, err)
		}
		irParams[i] = ir.NewParam(p.Name, pt)
	}
	fn := b.Module.NewFunc(name, retType, irParams...)

	b.fn = fn
	b.vars = make(map[string]value.Value)
	b.params = make(map[string]value.Value, len(params))
	for _, p := range fn.Params {
		b.params[p.Name()] = p
	}
	b.cur = fn.NewBlock("entry")
	return fn, nil
}

// BuildBody lowers a function body's statements into the current block,
// reporting whether the block it leaves the builder positioned on is
// terminated (a return already emitted on every path).
func (b *Builder) BuildBody(stmts []ast.Statement) (bool, error) {
	for i := range stmts {
		terminated, err := b.buildStatement(&stmts[i])
		if err != nil {
			return false, err
		}
		if terminated {
			return true, nil
		}
	}
	return false, nil
}

func convertType(name string) (types.Type, error) {
	switch name {
	case ast.TypeInt:
		return types.I32, nil
	case ast.TypeBool:
		return types.I1, nil
	case ast.TypeVoid, "":
		return types.Void, nil
	default:
		return nil, fmt.Errorf("unsupported type: %s", name)
	}
}

func (b *Builder) buildStatement(stmt *ast.Statement) (terminated bool, err error) {
	switch stmt.Type {
	case ast.StmtAssign:
		val, err := b.buildExpression(stmt.Value)
		if err != nil {
			return false, err
		}
		b.store(stmt.Target, val)
		return false, nil

	case ast.StmtReturn:
		if stmt.Value == nil {
			b.cur.NewRet(nil)
			return true, nil
		}
		val, err := b.buildExpression(stmt.Value)
		if err != nil {
			return false, err
		}
		b.cur.NewRet(val)
		return true, nil

	case ast.StmtExpr:
		_, err := b.buildExpression(stmt.Value)
		return false, err

	case ast.StmtIf:
		return b.buildIf(stmt)

	case ast.StmtFor, ast.StmtWhile:
		return b.buildCountedFor(stmt)

	default:
		return false, fmt.Errorf("unsupported statement type: %s", stmt.Type)
	}
}

// store writes val to name's alloca, creating the alloca on first
// assignment. Plain locals stay memory-backed; only induction variables
// get SSA form.
func (b *Builder) store(name string, val value.Value) {
	slot, ok := b.vars[name]
	if !ok {
		slot = b.cur.NewAlloca(val.Type())
		slot.(*ir.InstAlloca).SetName(name + ".addr")
		b.vars[name] = slot
	}
	b.cur.NewStore(val, slot)
}

func (b *Builder) load(name string) (value.Value, error) {
	if p, ok := b.params[name]; ok {
		return p, nil
	}
	slot, ok := b.vars[name]
	if !ok {
		return nil, fmt.Errorf("undefined variable: %s", name)
	}
	ptrType := slot.Type().(*types.PointerType)
	return b.cur.NewLoad(ptrType.ElemType, slot), nil
}

func (b *Builder) buildExpression(expr *ast.Expression) (value.Value, error) {
	switch expr.Type {
	case ast.ExprLiteral:
		return b.buildLiteral(expr.Value)
	case ast.ExprVariable:
		return b.load(expr.Name)
	case ast.ExprBinary:
		return b.buildBinary(expr)
	case ast.ExprUnary:
		return b.buildUnary(expr)
	default:
		return nil, fmt.Errorf("unsupported expression type: %s", expr.Type)
	}
}

func (b *Builder) buildLiteral(val interface{}) (value.Value, error) {
	switch v := val.(type) {
	case int:
		return constant.NewInt(types.I32, int64(v)), nil
	case int64:
		return constant.NewInt(types.I32, v), nil
	case float64:
		return constant.NewInt(types.I32, int64(v)), nil
	case bool:
		if v {
			return constant.NewInt(types.I1, 1), nil
		}
		return constant.NewInt(types.I1, 0), nil
	default:
		return nil, fmt.Errorf("unsupported literal type: %T", val)
	}
}

// buildBinary lowers the integer/boolean operator set. There is no float
// promotion path: the fixture language is integer-only, so this builder
// never produces a float operand in the first place.
func (b *Builder) buildBinary(expr *ast.Expression) (value.Value, error) {
	left, err := b.buildExpression(expr.Left)
	if err != nil {
		return nil, err
	}
	right, err := b.buildExpression(expr.Right)
	if err != nil {
		return nil, err
	}
	switch expr.Op {
	case ast.OpAdd:
		return b.cur.NewAdd(left, right), nil
	case ast.OpSub:
		return b.cur.NewSub(left, right), nil
	case ast.OpMul:
		return b.cur.NewMul(left, right), nil
	case ast.OpDiv:
		return b.cur.NewSDiv(left, right), nil
	case ast.OpUDiv:
		return b.cur.NewUDiv(left, right), nil
	case ast.OpMod:
		return b.cur.NewSRem(left, right), nil
	case ast.OpEq:
		return b.cur.NewICmp(enum.IPredEQ, left, right), nil
	case ast.OpNe:
		return b.cur.NewICmp(enum.IPredNE, left, right), nil
	case ast.OpLt:
		return b.cur.NewICmp(enum.IPredSLT, left, right), nil
	case ast.OpLe:
		return b.cur.NewICmp(enum.IPredSLE, left, right), nil
	case ast.OpGt:
		return b.cur.NewICmp(enum.IPredSGT, left, right), nil
	case ast.OpGe:
		return b.cur.NewICmp(enum.IPredSGE, left, right), nil
	case ast.OpAnd:
		return b.cur.NewAnd(left, right), nil
	case ast.OpOr:
		return b.cur.NewOr(left, right), nil
	default:
		return nil, fmt.Errorf("unsupported binary operator: %s", expr.Op)
	}
}

func (b *Builder) buildUnary(expr *ast.Expression) (value.Value, error) {
	operand, err := b.buildExpression(expr.Operand)
	if err != nil {
		return nil, err
	}
	switch expr.Op {
	case ast.OpNeg:
		return b.cur.NewSub(constant.NewInt(operand.Type().(*types.IntType), 0), operand), nil
	case ast.OpNot:
		return b.cur.NewXor(operand, constant.NewInt(types.I1, 1)), nil
	default:
		return nil, fmt.Errorf("unsupported unary operator: %s", expr.Op)
	}
}

// buildIf lowers a StmtIf into then/else/end blocks. A loop built inside
// either branch is entered from that branch's block through an unconditional
// branch, so this lowering does not produce the guard shape
// ssa.Loop.Guard recognizes.
func (b *Builder) buildIf(stmt *ast.Statement) (bool, error) {
	cond, err := b.buildExpression(stmt.Cond)
	if err != nil {
		return false, err
	}
	thenBlk := b.fn.NewBlock("if.then")
	elseBlk := b.fn.NewBlock("if.else")
	endBlk := b.fn.NewBlock("if.end")
	b.cur.NewCondBr(cond, thenBlk, elseBlk)

	b.cur = thenBlk
	thenTerm, err := b.BuildBody(stmt.Then)
	if err != nil {
		return false, err
	}
	if !thenTerm {
		b.cur.NewBr(endBlk)
	}

	b.cur = elseBlk
	elseTerm, err := b.BuildBody(stmt.Else)
	if err != nil {
		return false, err
	}
	if !elseTerm {
		b.cur.NewBr(endBlk)
	}

	if thenTerm && elseTerm {
		endBlk.NewUnreachable()
		b.cur = endBlk
		return true, nil
	}
	b.cur = endBlk
	return false, nil
}

// buildCountedFor lowers a canonical `for (target = init; target < bound;
// target = target + step) { body }` statement into the pre-header/header/
// body/latch/exit shape, with the header carrying a genuine phi for target.
// stmt.Init must be a StmtAssign of an integer start value, stmt.Cond a `<`
// comparison with the target on its left, and stmt.Post a StmtAssign of
// `target + step` for a literal constant step; any other shape is reported
// as an error rather than silently misgenerated. The bound expression is
// lowered into the header, so it is evaluated on every iteration.
func (b *Builder) buildCountedFor(stmt *ast.Statement) (bool, error) {
	if stmt.Init == nil || stmt.Init.Type != ast.StmtAssign {
		return false, fmt.Errorf("for-loop init must assign the induction variable")
	}
	ivName := stmt.Init.Target
	start, err := b.buildExpression(stmt.Init.Value)
	if err != nil {
		return false, err
	}
	if _, ok := start.Type().(*types.IntType); !ok {
		return false, fmt.Errorf("induction variable %s must be integer-typed", ivName)
	}

	if stmt.Cond == nil || stmt.Cond.Type != ast.ExprBinary || stmt.Cond.Op != ast.OpLt {
		return false, fmt.Errorf("for-loop condition must be `%s < bound`", ivName)
	}
	if stmt.Cond.Left == nil || stmt.Cond.Left.Name != ivName {
		return false, fmt.Errorf("for-loop condition must compare %s directly", ivName)
	}

	if stmt.Post == nil || stmt.Post.Type != ast.StmtAssign || stmt.Post.Target != ivName {
		return false, fmt.Errorf("for-loop post must reassign %s", ivName)
	}
	step, err := stepConstant(stmt.Post.Value, ivName)
	if err != nil {
		return false, err
	}

	pre := b.fn.NewBlock(ivName + ".pre")
	header := b.fn.NewBlock(ivName + ".header")
	body := b.fn.NewBlock(ivName + ".body")
	latch := b.fn.NewBlock(ivName + ".latch")
	exit := b.fn.NewBlock(ivName + ".exit")

	b.cur.NewBr(pre)
	pre.NewBr(header)

	phi := ir.NewPhi(ir.NewIncoming(start, pre))
	header.Insts = append(header.Insts, phi)
	delete(b.vars, ivName) // shadow any alloca: the induction variable is now the phi
	b.params[ivName] = value.Value(phi)

	b.cur = header
	bound, err := b.buildExpression(stmt.Cond.Right)
	if err != nil {
		return false, err
	}
	cmp := header.NewICmp(enum.IPredSLT, phi, bound)
	header.NewCondBr(cmp, body, exit)

	b.cur = body
	bodyTerm, err := b.BuildBody(stmt.Body)
	if err != nil {
		return false, err
	}
	if bodyTerm {
		return false, fmt.Errorf("for-loop body must not terminate the function")
	}
	// The back edge runs through a dedicated latch so the increment executes
	// once per iteration no matter how the body branches internally.
	b.cur.NewBr(latch)
	next := latch.NewAdd(phi, step)
	latch.NewBr(header)
	phi.Incs = append(phi.Incs, ir.NewIncoming(next, latch))

	delete(b.params, ivName)
	b.cur = exit
	return false, nil
}

func stepConstant(expr *ast.Expression, ivName string) (*constant.Int, error) {
	if expr == nil || expr.Type != ast.ExprBinary || expr.Op != ast.OpAdd {
		return nil, fmt.Errorf("for-loop post must be `%s + step`", ivName)
	}
	var other *ast.Expression
	switch {
	case expr.Left != nil && expr.Left.Name == ivName:
		other = expr.Right
	case expr.Right != nil && expr.Right.Name == ivName:
		other = expr.Left
	default:
		return nil, fmt.Errorf("for-loop post must reference %s", ivName)
	}
	if other == nil || other.Type != ast.ExprLiteral {
		return nil, fmt.Errorf("for-loop step must be a literal constant")
	}
	switch v := other.Value.(type) {
	case int:
		return constant.NewInt(types.I32, int64(v)), nil
	case int64:
		return constant.NewInt(types.I32, v), nil
	case float64:
		return constant.NewInt(types.I32, int64(v)), nil
	default:
		return nil, fmt.Errorf("unsupported step literal type: %T", v)
	}
}
