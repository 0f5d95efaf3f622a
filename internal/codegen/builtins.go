package codegen

import (
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"twine/internal/ast"
)

// ---------------------------------------------------------------------------
// Built-in operations
//
// The front end recognises a closed set of built-in names and expands each
// call inline into IR, composing primitive instructions and calls to the
// declared C runtime symbols. Every builtin leaves exactly one value on the
// stack.
// ---------------------------------------------------------------------------

// lowerBuiltin expands a call to a built-in function. It returns false when
// the name is not a builtin, in which case the caller lowers an ordinary
// function call.
func (g *Generator) lowerBuiltin(n *ast.Call) bool {
	switch n.Name {
	case "print":
		g.lowerPrint(n)
	case "input":
		g.lowerInput(n)
	case "str":
		g.lowerStr(n)
	case "num":
		g.lowerNum(n)
	case "int":
		g.lowerInt(n)
	case "abs":
		g.lowerMath1(n, "abs", "fabs")
	case "round":
		g.lowerRound(n)
	case "min":
		g.lowerMinMax(n, enum.FPredOLT)
	case "max":
		g.lowerMinMax(n, enum.FPredOGT)
	case "pow":
		g.lowerPow(n)
	case "sqrt":
		g.lowerMath1(n, "sqrt", "sqrt")
	case "random":
		g.lowerRandom(n)
	case "len":
		g.lowerLen(n)
	case "upper":
		g.lowerCaseFold(n, "upper")
	case "lower":
		g.lowerCaseFold(n, "lower")
	case "includes":
		g.lowerIncludes(n)
	case "replace":
		g.lowerReplace(n)
	case "append":
		g.lowerAppend(n)
	default:
		return false
	}
	return true
}

// badArity records an arity error and pushes a placeholder so lowering can
// continue and report further errors.
func (g *Generator) badArity(message string) {
	g.errorf("%s", message)
	g.push(constant.NewFloat(types.Double, 0))
}

// ---------------------------------------------------------------------------
// print / input
// ---------------------------------------------------------------------------

// lowerPrint prints each argument on its own line, dispatching on the
// value's IR type. Pointer values go through the runtime discriminator
// since a function result may be either a string or a boxed number.
func (g *Generator) lowerPrint(n *ast.Call) {
	printf := g.runtimeFunc("printf")

	if len(n.Args) == 0 {
		g.block.NewCall(printf, g.cstring("\n"))
		g.push(constant.NewInt(types.I32, 0))
		return
	}

	for _, arg := range n.Args {
		v := g.eval(arg)
		switch {
		case isPointer(v):
			g.printPointer(v)
		case isDouble(v):
			g.block.NewCall(printf, g.cstring("%f\n"), v)
		case isInt(v):
			g.block.NewCall(printf, g.cstring("%d\n"), g.convertToInt(v))
		}
	}
	g.push(constant.NewInt(types.I32, 0))
}

// printPointer emits the first-byte discriminator: printable means string
// (%s), anything else means boxed double (%f).
func (g *Generator) printPointer(v value.Value) {
	printf := g.runtimeFunc("printf")
	isStr := g.firstBytePrintable(v)

	strBlock := g.newBlock("print.str")
	numBlock := g.newBlock("print.num")
	doneBlock := g.newBlock("print.done")
	g.block.NewCondBr(isStr, strBlock, numBlock)

	strBlock.NewCall(printf, g.cstring("%s\n"), v)
	strBlock.NewBr(doneBlock)

	boxed := numBlock.NewBitCast(v, types.NewPointer(types.Double))
	d := numBlock.NewLoad(types.Double, boxed)
	numBlock.NewCall(printf, g.cstring("%f\n"), d)
	numBlock.NewBr(doneBlock)

	g.block = doneBlock
}

// lowerInput reads one line from stdin into a 1024-byte stack buffer with
// fgets and strips a trailing newline.
func (g *Generator) lowerInput(n *ast.Call) {
	if len(n.Args) != 0 {
		g.errorf("input() takes no arguments")
	}

	bufType := types.NewArray(1024, types.I8)
	buf := g.entryAlloca(bufType, "input.buffer")
	zero := constant.NewInt(types.I32, 0)
	bufPtr := g.block.NewGetElementPtr(bufType, buf, zero, zero)

	stdinVal := g.block.NewLoad(types.I8Ptr, g.stdinGlobal())
	g.block.NewCall(g.runtimeFunc("fgets"), bufPtr, constant.NewInt(types.I32, 1024), stdinVal)

	// If the terminal byte is '\n', overwrite it with NUL.
	length := g.block.NewCall(g.runtimeFunc("strlen"), bufPtr)
	lastIdx := g.block.NewSub(length, constant.NewInt(types.I64, 1))
	lastPtr := g.block.NewGetElementPtr(types.I8, bufPtr, lastIdx)
	lastChar := g.block.NewLoad(types.I8, lastPtr)
	isNewline := g.block.NewICmp(enum.IPredEQ, lastChar, constant.NewInt(types.I8, '\n'))

	trimBlock := g.newBlock("input.trim")
	doneBlock := g.newBlock("input.done")
	g.block.NewCondBr(isNewline, trimBlock, doneBlock)

	trimBlock.NewStore(constant.NewInt(types.I8, 0), lastPtr)
	trimBlock.NewBr(doneBlock)

	g.block = doneBlock
	g.push(bufPtr)
}

// ---------------------------------------------------------------------------
// Conversions
// ---------------------------------------------------------------------------

func (g *Generator) lowerStr(n *ast.Call) {
	if len(n.Args) != 1 {
		g.badArity("str() expects exactly 1 argument")
		return
	}
	v := g.convertToDouble(g.eval(n.Args[0]))
	g.push(g.formatDouble(v))
}

func (g *Generator) lowerNum(n *ast.Call) {
	if len(n.Args) != 1 {
		g.badArity("num() expects exactly 1 argument")
		return
	}
	v := g.eval(n.Args[0])
	if !isPointer(v) {
		g.errorf("num() expects a string argument")
		g.push(constant.NewFloat(types.Double, 0))
		return
	}
	g.push(g.block.NewCall(g.runtimeFunc("atof"), v))
}

func (g *Generator) lowerInt(n *ast.Call) {
	if len(n.Args) != 1 {
		g.badArity("int() expects exactly 1 argument")
		return
	}
	v := g.eval(n.Args[0])
	if !isPointer(v) {
		g.errorf("int() expects a string argument")
		g.push(constant.NewFloat(types.Double, 0))
		return
	}
	i := g.block.NewCall(g.runtimeFunc("atoi"), v)
	g.push(g.block.NewSIToFP(i, types.Double))
}

// ---------------------------------------------------------------------------
// Math
// ---------------------------------------------------------------------------

// lowerMath1 expands a one-argument builtin into a call to the named C
// math function.
func (g *Generator) lowerMath1(n *ast.Call, builtin, runtimeName string) {
	if len(n.Args) != 1 {
		g.badArity(builtin + "() expects exactly 1 argument")
		return
	}
	v := g.convertToDouble(g.eval(n.Args[0]))
	g.push(g.block.NewCall(g.runtimeFunc(runtimeName), v))
}

// lowerRound handles both forms: round(x) and round(x, d) which rounds to
// d decimal places via round(x·10^d)/10^d.
func (g *Generator) lowerRound(n *ast.Call) {
	if len(n.Args) < 1 || len(n.Args) > 2 {
		g.badArity("round() expects 1 or 2 arguments")
		return
	}
	v := g.convertToDouble(g.eval(n.Args[0]))
	if len(n.Args) == 1 {
		g.push(g.block.NewCall(g.runtimeFunc("round"), v))
		return
	}

	places := g.convertToDouble(g.eval(n.Args[1]))
	scale := g.block.NewCall(g.runtimeFunc("pow"), constant.NewFloat(types.Double, 10), places)
	scaled := g.block.NewFMul(v, scale)
	rounded := g.block.NewCall(g.runtimeFunc("round"), scaled)
	g.push(g.block.NewFDiv(rounded, scale))
}

// lowerMinMax folds the arguments left to right with select on an ordered
// comparison.
func (g *Generator) lowerMinMax(n *ast.Call, pred enum.FPred) {
	name := "min"
	if pred == enum.FPredOGT {
		name = "max"
	}
	if len(n.Args) < 2 {
		g.badArity(name + "() expects at least 2 arguments")
		return
	}

	acc := g.convertToDouble(g.eval(n.Args[0]))
	for _, arg := range n.Args[1:] {
		next := g.convertToDouble(g.eval(arg))
		cmp := g.block.NewFCmp(pred, next, acc)
		acc = g.block.NewSelect(cmp, next, acc)
	}
	g.push(acc)
}

func (g *Generator) lowerPow(n *ast.Call) {
	if len(n.Args) != 2 {
		g.badArity("pow() expects exactly 2 arguments")
		return
	}
	base := g.convertToDouble(g.eval(n.Args[0]))
	exp := g.convertToDouble(g.eval(n.Args[1]))
	g.push(g.block.NewCall(g.runtimeFunc("pow"), base, exp))
}

// lowerRandom expands to a lazily seeded 64-bit linear congruential
// generator. The seed mixes time(NULL) with the address of a stack slot;
// each call advances state = state*1664525 + 1013904223 and yields the
// upper 32 bits divided by 2^32, giving a double in [0, 1).
func (g *Generator) lowerRandom(n *ast.Call) {
	if len(n.Args) != 0 {
		g.errorf("random() takes no arguments")
	}

	state, seeded := g.rngGlobals()

	flag := g.block.NewLoad(types.I1, seeded)
	seedBlock := g.newBlock("random.seed")
	nextBlock := g.newBlock("random.next")
	g.block.NewCondBr(flag, nextBlock, seedBlock)

	// Seed once: time(NULL) xor a stack address (weak entropy, by intent).
	probe := g.entryAlloca(types.I64, "rng.probe")
	now := seedBlock.NewCall(g.runtimeFunc("time"), constant.NewNull(types.I8Ptr))
	addr := seedBlock.NewPtrToInt(probe, types.I64)
	seedBlock.NewStore(seedBlock.NewXor(now, addr), state)
	seedBlock.NewStore(constant.True, seeded)
	seedBlock.NewBr(nextBlock)

	g.block = nextBlock
	cur := g.block.NewLoad(types.I64, state)
	mul := g.block.NewMul(cur, constant.NewInt(types.I64, 1664525))
	next := g.block.NewAdd(mul, constant.NewInt(types.I64, 1013904223))
	g.block.NewStore(next, state)

	hi := g.block.NewLShr(next, constant.NewInt(types.I64, 32))
	hi32 := g.block.NewTrunc(hi, types.I32)
	f := g.block.NewUIToFP(hi32, types.Double)
	g.push(g.block.NewFDiv(f, constant.NewFloat(types.Double, 4294967296)))
}

// ---------------------------------------------------------------------------
// Strings and arrays
// ---------------------------------------------------------------------------

// lowerLen dispatches at runtime: a printable first byte means string
// (strlen), anything else means array (count cell at offset -1).
func (g *Generator) lowerLen(n *ast.Call) {
	if len(n.Args) != 1 {
		g.badArity("len() expects exactly 1 argument")
		return
	}
	v := g.eval(n.Args[0])
	if !isPointer(v) {
		g.errorf("len() expects a string or array argument")
		g.push(constant.NewFloat(types.Double, 0))
		return
	}

	isStr := g.firstBytePrintable(v)
	strBlock := g.newBlock("len.str")
	arrBlock := g.newBlock("len.array")
	doneBlock := g.newBlock("len.done")
	result := g.entryAlloca(types.Double, "len.result")
	g.block.NewCondBr(isStr, strBlock, arrBlock)

	chars := strBlock.NewCall(g.runtimeFunc("strlen"), v)
	strBlock.NewStore(strBlock.NewUIToFP(chars, types.Double), result)
	strBlock.NewBr(doneBlock)

	cells := arrBlock.NewBitCast(v, types.NewPointer(types.Double))
	countCell := arrBlock.NewGetElementPtr(types.Double, cells, constant.NewInt(types.I64, -1))
	arrBlock.NewStore(arrBlock.NewLoad(types.Double, countCell), result)
	arrBlock.NewBr(doneBlock)

	g.block = doneBlock
	g.push(doneBlock.NewLoad(types.Double, result))
}

// lowerCaseFold expands upper()/lower(): allocate length+1 bytes and copy
// with an ASCII case fold.
func (g *Generator) lowerCaseFold(n *ast.Call, name string) {
	if len(n.Args) != 1 {
		g.badArity(name + "() expects exactly 1 argument")
		return
	}
	src := g.eval(n.Args[0])
	if !isPointer(src) {
		g.errorf("%s() expects a string argument", name)
		g.push(constant.NewFloat(types.Double, 0))
		return
	}

	length := g.block.NewCall(g.runtimeFunc("strlen"), src)
	size := g.block.NewAdd(length, constant.NewInt(types.I64, 1))
	buf := g.block.NewCall(g.runtimeFunc("malloc"), size)

	idx := g.entryAlloca(types.I64, name+".idx")
	g.block.NewStore(constant.NewInt(types.I64, 0), idx)

	condBlock := g.newBlock(name + ".cond")
	bodyBlock := g.newBlock(name + ".body")
	endBlock := g.newBlock(name + ".end")
	g.block.NewBr(condBlock)

	i := condBlock.NewLoad(types.I64, idx)
	more := condBlock.NewICmp(enum.IPredULT, i, length)
	condBlock.NewCondBr(more, bodyBlock, endBlock)

	// Fold one byte. upper: a..z -> A..Z; lower: A..Z -> a..z.
	var lo, hi int64 = 'a', 'z'
	var delta int64 = -32
	if name == "lower" {
		lo, hi = 'A', 'Z'
		delta = 32
	}
	ch := bodyBlock.NewLoad(types.I8, bodyBlock.NewGetElementPtr(types.I8, src, i))
	ge := bodyBlock.NewICmp(enum.IPredUGE, ch, constant.NewInt(types.I8, lo))
	le := bodyBlock.NewICmp(enum.IPredULE, ch, constant.NewInt(types.I8, hi))
	inRange := bodyBlock.NewAnd(ge, le)
	folded := bodyBlock.NewAdd(ch, constant.NewInt(types.I8, delta))
	out := bodyBlock.NewSelect(inRange, folded, ch)
	bodyBlock.NewStore(out, bodyBlock.NewGetElementPtr(types.I8, buf, i))
	bodyBlock.NewStore(bodyBlock.NewAdd(i, constant.NewInt(types.I64, 1)), idx)
	bodyBlock.NewBr(condBlock)

	endBlock.NewStore(constant.NewInt(types.I8, 0), endBlock.NewGetElementPtr(types.I8, buf, length))
	g.block = endBlock
	g.push(buf)
}

// lowerIncludes tests membership: strstr for string/string, a linear scan
// over the f64 cells for array/number. The result is 1.0 or 0.0.
func (g *Generator) lowerIncludes(n *ast.Call) {
	if len(n.Args) != 2 {
		g.badArity("includes() expects exactly 2 arguments")
		return
	}
	haystack := g.eval(n.Args[0])
	needle := g.eval(n.Args[1])
	if !isPointer(haystack) {
		g.errorf("includes() expects a string or array as its first argument")
		g.push(constant.NewFloat(types.Double, 0))
		return
	}

	if isPointer(needle) {
		hit := g.block.NewCall(g.runtimeFunc("strstr"), haystack, needle)
		isNull := g.block.NewICmp(enum.IPredEQ, hit, constant.NewNull(types.I8Ptr))
		g.push(g.block.NewSelect(isNull,
			constant.NewFloat(types.Double, 0), constant.NewFloat(types.Double, 1)))
		return
	}

	target := g.convertToDouble(needle)
	cells := g.asDoublePtr(haystack)
	countCell := g.block.NewGetElementPtr(types.Double, cells, constant.NewInt(types.I64, -1))
	count := g.block.NewFPToSI(g.block.NewLoad(types.Double, countCell), types.I64)

	result := g.entryAlloca(types.Double, "includes.result")
	g.block.NewStore(constant.NewFloat(types.Double, 0), result)
	idx := g.entryAlloca(types.I64, "includes.idx")
	g.block.NewStore(constant.NewInt(types.I64, 0), idx)

	condBlock := g.newBlock("includes.cond")
	bodyBlock := g.newBlock("includes.body")
	hitBlock := g.newBlock("includes.hit")
	nextBlock := g.newBlock("includes.next")
	endBlock := g.newBlock("includes.end")
	g.block.NewBr(condBlock)

	i := condBlock.NewLoad(types.I64, idx)
	more := condBlock.NewICmp(enum.IPredSLT, i, count)
	condBlock.NewCondBr(more, bodyBlock, endBlock)

	elem := bodyBlock.NewLoad(types.Double, bodyBlock.NewGetElementPtr(types.Double, cells, i))
	eq := bodyBlock.NewFCmp(enum.FPredOEQ, elem, target)
	bodyBlock.NewCondBr(eq, hitBlock, nextBlock)

	hitBlock.NewStore(constant.NewFloat(types.Double, 1), result)
	hitBlock.NewBr(endBlock)

	nextBlock.NewStore(nextBlock.NewAdd(i, constant.NewInt(types.I64, 1)), idx)
	nextBlock.NewBr(condBlock)

	g.block = endBlock
	g.push(endBlock.NewLoad(types.Double, result))
}

// lowerReplace replaces the first strstr hit only. Without a hit the result
// is a fresh copy of the haystack; with a hit the exact result length is
// allocated and built as prefix + replacement + suffix.
func (g *Generator) lowerReplace(n *ast.Call) {
	if len(n.Args) != 3 {
		g.badArity("replace() expects exactly 3 arguments")
		return
	}
	s := g.eval(n.Args[0])
	needle := g.eval(n.Args[1])
	repl := g.eval(n.Args[2])
	if !isPointer(s) || !isPointer(needle) || !isPointer(repl) {
		g.errorf("replace() expects string arguments")
		g.push(constant.NewFloat(types.Double, 0))
		return
	}

	pos := g.block.NewCall(g.runtimeFunc("strstr"), s, needle)
	isNull := g.block.NewICmp(enum.IPredEQ, pos, constant.NewNull(types.I8Ptr))

	copyBlock := g.newBlock("replace.copy")
	buildBlock := g.newBlock("replace.build")
	doneBlock := g.newBlock("replace.done")
	result := g.entryAlloca(types.I8Ptr, "replace.result")
	g.block.NewCondBr(isNull, copyBlock, buildBlock)

	// No hit: return a copy of the haystack.
	srcLen := copyBlock.NewCall(g.runtimeFunc("strlen"), s)
	copySize := copyBlock.NewAdd(srcLen, constant.NewInt(types.I64, 1))
	dup := copyBlock.NewCall(g.runtimeFunc("malloc"), copySize)
	copyBlock.NewCall(g.runtimeFunc("strcpy"), dup, s)
	copyBlock.NewStore(dup, result)
	copyBlock.NewBr(doneBlock)

	// Hit: allocate the exact result length, then prefix + repl + suffix.
	sLen := buildBlock.NewCall(g.runtimeFunc("strlen"), s)
	needleLen := buildBlock.NewCall(g.runtimeFunc("strlen"), needle)
	replLen := buildBlock.NewCall(g.runtimeFunc("strlen"), repl)
	kept := buildBlock.NewSub(sLen, needleLen)
	total := buildBlock.NewAdd(buildBlock.NewAdd(kept, replLen), constant.NewInt(types.I64, 1))
	buf := buildBlock.NewCall(g.runtimeFunc("malloc"), total)

	prefixLen := buildBlock.NewSub(
		buildBlock.NewPtrToInt(pos, types.I64),
		buildBlock.NewPtrToInt(s, types.I64))
	buildBlock.NewCall(g.runtimeFunc("strncpy"), buf, s, prefixLen)
	buildBlock.NewStore(constant.NewInt(types.I8, 0),
		buildBlock.NewGetElementPtr(types.I8, buf, prefixLen))
	buildBlock.NewCall(g.runtimeFunc("strcat"), buf, repl)
	suffix := buildBlock.NewGetElementPtr(types.I8, pos, needleLen)
	buildBlock.NewCall(g.runtimeFunc("strcat"), buf, suffix)
	buildBlock.NewStore(buf, result)
	buildBlock.NewBr(doneBlock)

	g.block = doneBlock
	g.push(doneBlock.NewLoad(types.I8Ptr, result))
}

// lowerAppend allocates a fresh array of length+1, copies the cells, and
// writes the new element at the tail. The original array is untouched.
func (g *Generator) lowerAppend(n *ast.Call) {
	if len(n.Args) != 2 {
		g.badArity("append() expects exactly 2 arguments")
		return
	}
	arr := g.eval(n.Args[0])
	elem := g.eval(n.Args[1])
	if !isPointer(arr) {
		g.errorf("append() expects an array as its first argument")
		g.push(constant.NewFloat(types.Double, 0))
		return
	}

	oldCells := g.asDoublePtr(arr)
	countCell := g.block.NewGetElementPtr(types.Double, oldCells, constant.NewInt(types.I64, -1))
	count := g.block.NewLoad(types.Double, countCell)
	n64 := g.block.NewFPToSI(count, types.I64)

	// n elements, the count cell, and the new tail element.
	cellCount := g.block.NewAdd(n64, constant.NewInt(types.I64, 2))
	bytes := g.block.NewMul(cellCount, constant.NewInt(types.I64, 8))
	raw := g.block.NewCall(g.runtimeFunc("malloc"), bytes)
	newCells := g.block.NewBitCast(raw, types.NewPointer(types.Double))

	newCount := g.block.NewFAdd(count, constant.NewFloat(types.Double, 1))
	g.block.NewStore(newCount, g.block.NewGetElementPtr(types.Double, newCells, constant.NewInt(types.I64, 0)))

	idx := g.entryAlloca(types.I64, "append.idx")
	g.block.NewStore(constant.NewInt(types.I64, 0), idx)

	condBlock := g.newBlock("append.cond")
	bodyBlock := g.newBlock("append.body")
	endBlock := g.newBlock("append.end")
	g.block.NewBr(condBlock)

	i := condBlock.NewLoad(types.I64, idx)
	more := condBlock.NewICmp(enum.IPredSLT, i, n64)
	condBlock.NewCondBr(more, bodyBlock, endBlock)

	old := bodyBlock.NewLoad(types.Double, bodyBlock.NewGetElementPtr(types.Double, oldCells, i))
	dst := bodyBlock.NewGetElementPtr(types.Double, newCells,
		bodyBlock.NewAdd(i, constant.NewInt(types.I64, 1)))
	bodyBlock.NewStore(old, dst)
	bodyBlock.NewStore(bodyBlock.NewAdd(i, constant.NewInt(types.I64, 1)), idx)
	bodyBlock.NewBr(condBlock)

	g.block = endBlock
	tail := g.block.NewGetElementPtr(types.Double, newCells,
		g.block.NewAdd(n64, constant.NewInt(types.I64, 1)))
	g.block.NewStore(g.convertToDouble(elem), tail)

	base := g.block.NewGetElementPtr(types.Double, newCells, constant.NewInt(types.I64, 1))
	g.push(g.block.NewBitCast(base, types.I8Ptr))
}
