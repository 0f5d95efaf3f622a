package codegen

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"twine/internal/ast"
)

// ---------------------------------------------------------------------------
// Program — two-phase function handling
// ---------------------------------------------------------------------------

// VisitProgram lowers all top-level statements into main. Function
// declarations are handled in two phases: a signature pass registers every
// function first, then the body pass emits code, so a body may call any
// top-level function regardless of source order.
func (g *Generator) VisitProgram(n *ast.Program) {
	for _, stmt := range n.Statements {
		if fd, ok := stmt.(*ast.FunctionDeclaration); ok {
			g.declareFunction(fd)
		}
	}
	for _, stmt := range n.Statements {
		stmt.Accept(g)
	}
}

// declareFunction creates the IR symbol for a user function: internal
// linkage, all parameters double, opaque pointer return.
func (g *Generator) declareFunction(fd *ast.FunctionDeclaration) {
	if fd.Name == "main" {
		g.errorf("Function name main is reserved")
		return
	}
	if _, exists := g.funcs[fd.Name]; exists {
		g.errorf("Function %s is already defined", fd.Name)
		return
	}
	params := make([]*ir.Param, len(fd.Parameters))
	for i, name := range fd.Parameters {
		params[i] = ir.NewParam(name, types.Double)
	}
	f := g.module.NewFunc(fd.Name, types.I8Ptr, params...)
	f.Linkage = enum.LinkageInternal
	g.funcs[fd.Name] = f
}

// VisitFunctionDeclaration emits the body of a previously registered
// function. Lowering state is saved and restored around the body so nothing
// leaks between main and function scopes.
func (g *Generator) VisitFunctionDeclaration(n *ast.FunctionDeclaration) {
	f, ok := g.funcs[n.Name]
	if !ok {
		// Declarations nested below the top level miss the signature pass;
		// register them here (no forward references in that case).
		g.declareFunction(n)
		f, ok = g.funcs[n.Name]
		if !ok {
			return
		}
	}

	savedFn, savedEntry, savedBlock := g.fn, g.entry, g.block
	savedScopes, savedNames := g.scopes, g.names

	g.fn = f
	g.names = make(map[string]int)
	g.entry = f.NewBlock(g.uniqueName("entry"))
	g.block = g.entry
	g.scopes = nil
	g.pushScope()

	// Parameters are stored into fresh entry-block slots immediately.
	// Their names are claimed up front: locals and labels share one
	// namespace with the parameters themselves.
	for _, param := range f.Params {
		g.names[param.Name()]++
		slot := g.entryAlloca(types.Double, param.Name()+".addr")
		g.block.NewStore(param, slot)
		g.scopes[len(g.scopes)-1][param.Name()] = slot
	}

	n.Body.Accept(g)

	if g.block.Term == nil {
		g.block.NewRet(constant.NewNull(types.I8Ptr))
	}
	g.terminateDeadBlocks(f)

	if err := verifyFunc(f); err != nil {
		g.removeFunc(f)
		delete(g.funcs, n.Name)
		g.errorf("Function %s failed verification: %s", n.Name, err)
	}

	g.popScope()
	g.fn, g.entry, g.block = savedFn, savedEntry, savedBlock
	g.scopes, g.names = savedScopes, savedNames
}

// removeFunc drops a function from the module after failed verification.
func (g *Generator) removeFunc(f *ir.Func) {
	for i, other := range g.module.Funcs {
		if other == f {
			g.module.Funcs = append(g.module.Funcs[:i], g.module.Funcs[i+1:]...)
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (g *Generator) VisitExpressionStatement(n *ast.ExpressionStatement) {
	g.eval(n.Expression)
}

func (g *Generator) VisitVariableDeclaration(n *ast.VariableDeclaration) {
	var v value.Value
	if n.Initializer != nil {
		v = g.eval(n.Initializer)
	} else {
		v = constant.NewFloat(types.Double, 0)
	}
	g.declareVariable(n.Name, v)
}

func (g *Generator) VisitBlock(n *ast.Block) {
	g.pushScope()
	for _, stmt := range n.Statements {
		stmt.Accept(g)
	}
	g.popScope()
}

func (g *Generator) VisitIf(n *ast.If) {
	cond := g.convertToBool(g.eval(n.Condition))

	thenBlock := g.newBlock("then")
	var elseBlock *ir.Block
	if n.Else != nil {
		elseBlock = g.newBlock("else")
	}
	mergeBlock := g.newBlock("merge")

	if elseBlock != nil {
		g.block.NewCondBr(cond, thenBlock, elseBlock)
	} else {
		g.block.NewCondBr(cond, thenBlock, mergeBlock)
	}

	g.block = thenBlock
	n.Then.Accept(g)
	if g.block.Term == nil {
		g.block.NewBr(mergeBlock)
	}

	if elseBlock != nil {
		g.block = elseBlock
		n.Else.Accept(g)
		if g.block.Term == nil {
			g.block.NewBr(mergeBlock)
		}
	}

	g.block = mergeBlock
}

func (g *Generator) VisitWhile(n *ast.While) {
	condBlock := g.newBlock("while.cond")
	bodyBlock := g.newBlock("while.body")
	endBlock := g.newBlock("while.end")

	g.block.NewBr(condBlock)

	g.block = condBlock
	cond := g.convertToBool(g.eval(n.Condition))
	g.block.NewCondBr(cond, bodyBlock, endBlock)

	g.block = bodyBlock
	n.Body.Accept(g)
	if g.block.Term == nil {
		g.block.NewBr(condBlock)
	}

	g.block = endBlock
}

func (g *Generator) VisitFor(n *ast.For) {
	if n.Init != nil {
		n.Init.Accept(g)
	}

	condBlock := g.newBlock("for.cond")
	bodyBlock := g.newBlock("for.body")
	updateBlock := g.newBlock("for.update")
	endBlock := g.newBlock("for.end")

	g.block.NewBr(condBlock)

	g.block = condBlock
	if n.Condition != nil {
		cond := g.convertToBool(g.eval(n.Condition))
		g.block.NewCondBr(cond, bodyBlock, endBlock)
	} else {
		// No condition: fall straight through to the body.
		g.block.NewBr(bodyBlock)
	}

	g.block = bodyBlock
	n.Body.Accept(g)
	if g.block.Term == nil {
		g.block.NewBr(updateBlock)
	}

	g.block = updateBlock
	if n.Update != nil {
		g.eval(n.Update) // value discarded
	}
	g.block.NewBr(condBlock)

	g.block = endBlock
}

func (g *Generator) VisitReturn(n *ast.Return) {
	retType := g.fn.Sig.RetType

	if n.Value == nil {
		switch {
		case types.IsPointer(retType):
			g.block.NewRet(constant.NewNull(types.I8Ptr))
		case retType.Equal(types.I32):
			g.block.NewRet(constant.NewInt(types.I32, 0))
		default:
			g.block.NewRet(nil)
		}
	} else {
		v := g.eval(n.Value)
		if types.IsPointer(retType) {
			if !isPointer(v) {
				v = g.boxDouble(g.convertToDouble(v))
			}
			g.block.NewRet(v)
		} else {
			// main returns i32: pointers collapse to 0, numbers convert.
			if isPointer(v) {
				g.block.NewRet(constant.NewInt(types.I32, 0))
			} else {
				g.block.NewRet(g.convertToInt(v))
			}
		}
	}

	// Anything lowered after a return lands in an unreachable block so the
	// emitted module stays well formed.
	g.block = g.newBlock("dead")
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

func (g *Generator) VisitNumberLiteral(n *ast.NumberLiteral) {
	g.push(constant.NewFloat(types.Double, n.Value))
}

func (g *Generator) VisitStringLiteral(n *ast.StringLiteral) {
	g.push(g.cstring(n.Value))
}

func (g *Generator) VisitBooleanLiteral(n *ast.BooleanLiteral) {
	if n.Value {
		g.push(constant.True)
	} else {
		g.push(constant.False)
	}
}

func (g *Generator) VisitNullLiteral(n *ast.NullLiteral) {
	g.push(constant.NewNull(types.I8Ptr))
}

func (g *Generator) VisitIdentifier(n *ast.Identifier) {
	slot := g.lookupSlot(n.Name)
	if slot == nil {
		g.errorf("Undefined variable: %s", n.Name)
		g.push(constant.NewFloat(types.Double, 0))
		return
	}
	g.push(g.block.NewLoad(slot.ElemType, slot))
}

func (g *Generator) VisitAssignment(n *ast.Assignment) {
	v := g.eval(n.Value)
	g.setVariable(n.Name, v)
	g.push(v)
}

func (g *Generator) VisitIndexAssignment(n *ast.IndexAssignment) {
	arr := g.eval(n.Array)
	idx := g.convertToDouble(g.eval(n.Index))
	v := g.eval(n.Value)

	if !isPointer(arr) {
		g.errorf("Cannot index into a non-array value")
		g.push(v)
		return
	}

	cells := g.asDoublePtr(arr)
	i := g.block.NewFPToSI(idx, types.I64)
	cell := g.block.NewGetElementPtr(types.Double, cells, i)
	g.block.NewStore(g.convertToDouble(v), cell)
	g.push(v)
}

func (g *Generator) VisitIndex(n *ast.Index) {
	arr := g.eval(n.Array)
	idx := g.convertToDouble(g.eval(n.Index))

	if !isPointer(arr) {
		g.errorf("Cannot index into a non-array value")
		g.push(constant.NewFloat(types.Double, 0))
		return
	}

	cells := g.asDoublePtr(arr)
	i := g.block.NewFPToSI(idx, types.I64)
	cell := g.block.NewGetElementPtr(types.Double, cells, i)
	g.push(g.block.NewLoad(types.Double, cell))
}

// VisitArrayLiteral lowers [e0, e1, …] to a heap allocation of n+1 f64
// cells: the count in cell zero, elements after it. The value exposed to
// user code points at element zero.
func (g *Generator) VisitArrayLiteral(n *ast.ArrayLiteral) {
	count := int64(len(n.Elements))
	raw := g.block.NewCall(g.runtimeFunc("malloc"), constant.NewInt(types.I64, (count+1)*8))
	cells := g.asDoublePtr(raw)

	countCell := g.block.NewGetElementPtr(types.Double, cells, constant.NewInt(types.I64, 0))
	g.block.NewStore(constant.NewFloat(types.Double, float64(count)), countCell)

	for i, elem := range n.Elements {
		v := g.convertToDouble(g.eval(elem))
		cell := g.block.NewGetElementPtr(types.Double, cells, constant.NewInt(types.I64, int64(i+1)))
		g.block.NewStore(v, cell)
	}

	base := g.block.NewGetElementPtr(types.Double, cells, constant.NewInt(types.I64, 1))
	g.push(g.block.NewBitCast(base, types.I8Ptr))
}

func (g *Generator) VisitBinary(n *ast.Binary) {
	left := g.eval(n.Left)
	right := g.eval(n.Right)

	switch n.Op {
	case "+":
		// A pointer on either side means string concatenation.
		if isPointer(left) || isPointer(right) {
			g.push(g.stringConcat(left, right))
			return
		}
		g.push(g.arith(left, right,
			func(x, y value.Value) value.Value { return g.block.NewFAdd(x, y) },
			func(x, y value.Value) value.Value { return g.block.NewAdd(x, y) }))
	case "-":
		g.push(g.arith(left, right,
			func(x, y value.Value) value.Value { return g.block.NewFSub(x, y) },
			func(x, y value.Value) value.Value { return g.block.NewSub(x, y) }))
	case "*":
		g.push(g.arith(left, right,
			func(x, y value.Value) value.Value { return g.block.NewFMul(x, y) },
			func(x, y value.Value) value.Value { return g.block.NewMul(x, y) }))
	case "/":
		// Division is always floating point.
		g.push(g.block.NewFDiv(g.convertToDouble(left), g.convertToDouble(right)))
	case "%":
		g.push(g.arith(left, right,
			func(x, y value.Value) value.Value { return g.block.NewFRem(x, y) },
			func(x, y value.Value) value.Value { return g.block.NewSRem(x, y) }))
	case "==":
		g.push(g.compare(left, right, enum.FPredOEQ, enum.IPredEQ))
	case "!=":
		g.push(g.compare(left, right, enum.FPredONE, enum.IPredNE))
	case "<":
		g.push(g.compare(left, right, enum.FPredOLT, enum.IPredSLT))
	case "<=":
		g.push(g.compare(left, right, enum.FPredOLE, enum.IPredSLE))
	case ">":
		g.push(g.compare(left, right, enum.FPredOGT, enum.IPredSGT))
	case ">=":
		g.push(g.compare(left, right, enum.FPredOGE, enum.IPredSGE))
	case "&&":
		g.push(g.block.NewAnd(g.convertToBool(left), g.convertToBool(right)))
	case "||":
		g.push(g.block.NewOr(g.convertToBool(left), g.convertToBool(right)))
	default:
		g.errorf("Unknown binary operator: %s", n.Op)
		g.push(constant.NewFloat(types.Double, 0))
	}
}

// arith applies the floating or integer variant of an arithmetic operator.
// Pointer operands are unboxed first; mixed or floating operands promote
// both sides to double.
func (g *Generator) arith(left, right value.Value, fop, iop func(x, y value.Value) value.Value) value.Value {
	if isPointer(left) {
		left = g.unboxToDouble(left)
	}
	if isPointer(right) {
		right = g.unboxToDouble(right)
	}
	if isDouble(left) || isDouble(right) || !left.Type().Equal(right.Type()) {
		return fop(g.convertToDouble(left), g.convertToDouble(right))
	}
	return iop(left, right)
}

// compare applies the ordered floating or signed integer comparison.
// Equality on two pointers compares the pointers themselves.
func (g *Generator) compare(left, right value.Value, fpred enum.FPred, ipred enum.IPred) value.Value {
	if isPointer(left) && isPointer(right) && (ipred == enum.IPredEQ || ipred == enum.IPredNE) {
		return g.block.NewICmp(ipred, left, right)
	}
	if isPointer(left) {
		left = g.unboxToDouble(left)
	}
	if isPointer(right) {
		right = g.unboxToDouble(right)
	}
	if isDouble(left) || isDouble(right) || !left.Type().Equal(right.Type()) {
		return g.block.NewFCmp(fpred, g.convertToDouble(left), g.convertToDouble(right))
	}
	return g.block.NewICmp(ipred, left, right)
}

func (g *Generator) VisitUnary(n *ast.Unary) {
	operand := g.eval(n.Operand)

	switch n.Op {
	case "-":
		if isPointer(operand) {
			operand = g.unboxToDouble(operand)
		}
		if isDouble(operand) {
			g.push(g.block.NewFNeg(operand))
		} else {
			it := operand.Type().(*types.IntType)
			g.push(g.block.NewSub(constant.NewInt(it, 0), operand))
		}
	case "!":
		b := g.convertToBool(operand)
		g.push(g.block.NewXor(b, constant.True))
	default:
		g.errorf("Unknown unary operator: %s", n.Op)
		g.push(constant.NewFloat(types.Double, 0))
	}
}

func (g *Generator) VisitCall(n *ast.Call) {
	if g.lowerBuiltin(n) {
		return
	}

	f, ok := g.funcs[n.Name]
	if !ok {
		g.errorf("Undefined function: %s", n.Name)
		g.push(constant.NewFloat(types.Double, 0))
		return
	}
	if len(n.Args) != len(f.Params) {
		g.errorf("Function %s expects %d argument(s), got %d", n.Name, len(f.Params), len(n.Args))
		g.push(constant.NewNull(types.I8Ptr))
		return
	}

	args := make([]value.Value, len(n.Args))
	for i, arg := range n.Args {
		args[i] = g.convertToDouble(g.eval(arg))
	}
	g.push(g.block.NewCall(f, args...))
}

// stringConcat converts non-pointer operands to strings and builds the
// concatenation with strlen + malloc + strcpy + strcat.
func (g *Generator) stringConcat(left, right value.Value) value.Value {
	left = g.convertToString(left)
	right = g.convertToString(right)

	leftLen := g.block.NewCall(g.runtimeFunc("strlen"), left)
	rightLen := g.block.NewCall(g.runtimeFunc("strlen"), right)
	total := g.block.NewAdd(g.block.NewAdd(leftLen, rightLen), constant.NewInt(types.I64, 1))

	result := g.block.NewCall(g.runtimeFunc("malloc"), total)
	g.block.NewCall(g.runtimeFunc("strcpy"), result, left)
	g.block.NewCall(g.runtimeFunc("strcat"), result, right)
	return result
}
