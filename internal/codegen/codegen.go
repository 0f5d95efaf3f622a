package codegen

import (
	"fmt"
	"os"
	"strings"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
	"github.com/pkg/errors"

	"twine/internal/ast"
)

// ---------------------------------------------------------------------------
// Generator — lowers an AST Program into a typed LLVM IR module
//
// Every value flowing through the lowerer has one of three static types:
// double (number), i1 (boolean), or i8* (pointer — strings, arrays, and
// boxed numbers). Variables live in stack slots allocated in the entry
// block of the enclosing function; assigning a value of a different IR type
// allocates a fresh slot and rebinds the name.
// ---------------------------------------------------------------------------

// Generator holds all lowering state for a single module.
type Generator struct {
	module *ir.Module
	main   *ir.Func

	fn    *ir.Func  // function currently being lowered
	entry *ir.Block // entry block of fn; all allocas land here
	block *ir.Block // current insertion block

	// Symbol table: a stack of scope frames, innermost last. Each frame
	// maps names to stack slots.
	scopes []map[string]*ir.InstAlloca

	// Expression results are communicated through this value stack: each
	// expression visit pushes exactly one value.
	stack []value.Value

	// User-defined functions, populated by the signature pass.
	funcs map[string]*ir.Func

	// Lazily created module-level entities.
	runtime    map[string]*ir.Func
	strings    map[string]constant.Constant
	nextString int
	stdin      *ir.Global
	rngState   *ir.Global
	rngSeeded  *ir.Global

	// Per-function name uniquifier for blocks and named slots.
	names map[string]int

	errs []error
}

// NewGenerator creates a Generator for a module with the given name.
func NewGenerator(moduleName string) *Generator {
	m := ir.NewModule()
	m.SourceFilename = moduleName
	return &Generator{
		module:  m,
		funcs:   make(map[string]*ir.Func),
		runtime: make(map[string]*ir.Func),
		strings: make(map[string]constant.Constant),
	}
}

// Generate lowers the program into the module and verifies the result.
// All top-level statements land in main; function declarations are emitted
// in two phases so bodies may reference functions declared later.
func (g *Generator) Generate(prog *ast.Program) error {
	g.main = g.module.NewFunc("main", types.I32)
	g.fn = g.main
	g.names = make(map[string]int)
	g.entry = g.main.NewBlock(g.uniqueName("entry"))
	g.block = g.entry
	g.pushScope()

	prog.Accept(g)

	g.popScope()
	if g.block.Term == nil {
		g.block.NewRet(constant.NewInt(types.I32, 0))
	}
	g.terminateDeadBlocks(g.main)

	if len(g.errs) > 0 {
		msgs := make([]string, len(g.errs))
		for i, e := range g.errs {
			msgs[i] = e.Error()
		}
		return errors.Errorf("lowering failed:\n  %s", strings.Join(msgs, "\n  "))
	}

	if err := verifyModule(g.module); err != nil {
		fmt.Fprintf(os.Stderr, "Module verification failed: %s\n", err)
		return err
	}
	return nil
}

// IR returns the textual LLVM IR for the lowered module.
func (g *Generator) IR() string {
	return g.module.String()
}

// WriteIRToFile writes the textual IR to the given path.
func (g *Generator) WriteIRToFile(path string) error {
	if err := os.WriteFile(path, []byte(g.IR()), 0644); err != nil {
		return errors.Wrapf(err, "cannot write IR file %s", path)
	}
	return nil
}

// Module exposes the underlying IR module (used by tests and the verifier).
func (g *Generator) Module() *ir.Module {
	return g.module
}

// ---------------------------------------------------------------------------
// Error collection
// ---------------------------------------------------------------------------

// errorf records a fatal lowering error. Lowering continues so later errors
// are also reported, but Generate will fail.
func (g *Generator) errorf(format string, args ...interface{}) {
	g.errs = append(g.errs, fmt.Errorf(format, args...))
}

// ---------------------------------------------------------------------------
// Value stack
// ---------------------------------------------------------------------------

func (g *Generator) push(v value.Value) {
	g.stack = append(g.stack, v)
}

func (g *Generator) pop() value.Value {
	if len(g.stack) == 0 {
		// Keeps lowering alive after an error left the stack empty.
		return constant.NewFloat(types.Double, 0)
	}
	v := g.stack[len(g.stack)-1]
	g.stack = g.stack[:len(g.stack)-1]
	return v
}

// eval lowers an expression and returns its single result value.
func (g *Generator) eval(e ast.Expr) value.Value {
	e.Accept(g)
	return g.pop()
}

// ---------------------------------------------------------------------------
// Scopes and slots
// ---------------------------------------------------------------------------

func (g *Generator) pushScope() {
	g.scopes = append(g.scopes, make(map[string]*ir.InstAlloca))
}

func (g *Generator) popScope() {
	if len(g.scopes) > 0 {
		g.scopes = g.scopes[:len(g.scopes)-1]
	}
}

// entryAlloca materialises a stack slot in the entry block of the current
// function, regardless of where lowering currently is.
func (g *Generator) entryAlloca(typ types.Type, name string) *ir.InstAlloca {
	slot := g.entry.NewAlloca(typ)
	slot.SetName(g.uniqueName(name))
	return slot
}

// lookupSlot walks the scope stack innermost to outermost.
func (g *Generator) lookupSlot(name string) *ir.InstAlloca {
	for i := len(g.scopes) - 1; i >= 0; i-- {
		if slot, ok := g.scopes[i][name]; ok {
			return slot
		}
	}
	return nil
}

// declareVariable binds a fresh slot for name in the current scope and
// stores the value into it.
func (g *Generator) declareVariable(name string, v value.Value) {
	slot := g.entryAlloca(v.Type(), name)
	g.block.NewStore(v, slot)
	g.scopes[len(g.scopes)-1][name] = slot
}

// setVariable implements the assignment retyping rule: a value whose IR
// type matches the slot is stored in place; otherwise a fresh entry-block
// slot of the new type is allocated and the name rebound. Assigning to an
// unknown name declares it in the current scope.
func (g *Generator) setVariable(name string, v value.Value) {
	for i := len(g.scopes) - 1; i >= 0; i-- {
		slot, ok := g.scopes[i][name]
		if !ok {
			continue
		}
		if v.Type().Equal(slot.ElemType) {
			g.block.NewStore(v, slot)
			return
		}
		newSlot := g.entryAlloca(v.Type(), name+".retyped")
		g.block.NewStore(v, newSlot)
		g.scopes[i][name] = newSlot
		return
	}
	g.declareVariable(name, v)
}

// ---------------------------------------------------------------------------
// Blocks and names
// ---------------------------------------------------------------------------

// uniqueName returns base unchanged on first use within the current
// function and base.N afterwards. llir does not uniquify local names, so
// the lowerer has to.
func (g *Generator) uniqueName(base string) string {
	n := g.names[base]
	g.names[base] = n + 1
	if n == 0 {
		return base
	}
	return fmt.Sprintf("%s.%d", base, n)
}

// newBlock appends a basic block with a unique name to the current function.
func (g *Generator) newBlock(name string) *ir.Block {
	return g.fn.NewBlock(g.uniqueName(name))
}

// terminateDeadBlocks gives a terminator to any block left open (the
// unreachable continuation blocks created after return statements).
func (g *Generator) terminateDeadBlocks(f *ir.Func) {
	for _, b := range f.Blocks {
		if b.Term != nil {
			continue
		}
		if f.Sig.RetType.Equal(types.I32) {
			b.NewRet(constant.NewInt(types.I32, 0))
		} else if types.IsPointer(f.Sig.RetType) {
			b.NewRet(constant.NewNull(types.I8Ptr))
		} else {
			b.NewRet(nil)
		}
	}
}

// ---------------------------------------------------------------------------
// Type predicates and coercions
// ---------------------------------------------------------------------------

func isPointer(v value.Value) bool {
	return types.IsPointer(v.Type())
}

func isDouble(v value.Value) bool {
	return v.Type().Equal(types.Double)
}

func isInt(v value.Value) bool {
	_, ok := v.Type().(*types.IntType)
	return ok
}

// convertToDouble coerces integer temporaries to double; pointer values are
// unboxed through the runtime discriminator.
func (g *Generator) convertToDouble(v value.Value) value.Value {
	switch {
	case isDouble(v):
		return v
	case isInt(v):
		return g.block.NewSIToFP(v, types.Double)
	case isPointer(v):
		return g.unboxToDouble(v)
	}
	return v
}

// convertToInt coerces a double to a signed 32-bit integer.
func (g *Generator) convertToInt(v value.Value) value.Value {
	if it, ok := v.Type().(*types.IntType); ok {
		if it.BitSize == 32 {
			return v
		}
		if it.BitSize < 32 {
			return g.block.NewZExt(v, types.I32)
		}
		return g.block.NewTrunc(v, types.I32)
	}
	if isDouble(v) {
		return g.block.NewFPToSI(v, types.I32)
	}
	return v
}

// convertToBool coerces a value to i1: integers compare against zero,
// doubles against 0.0 (ordered), pointers against null.
func (g *Generator) convertToBool(v value.Value) value.Value {
	if it, ok := v.Type().(*types.IntType); ok {
		if it.BitSize == 1 {
			return v
		}
		return g.block.NewICmp(enum.IPredNE, v, constant.NewInt(it, 0))
	}
	if isDouble(v) {
		return g.block.NewFCmp(enum.FPredONE, v, constant.NewFloat(types.Double, 0))
	}
	if isPointer(v) {
		return g.block.NewICmp(enum.IPredNE, v, constant.NewNull(types.I8Ptr))
	}
	return v
}

// convertToString passes pointers through and formats anything numeric via
// snprintf("%g", …) into a 32-byte stack buffer.
func (g *Generator) convertToString(v value.Value) value.Value {
	if isPointer(v) {
		return v
	}
	return g.formatDouble(g.convertToDouble(v))
}

// formatDouble renders a double with %g into a fresh 32-byte stack buffer
// and returns the buffer pointer.
func (g *Generator) formatDouble(v value.Value) value.Value {
	bufType := types.NewArray(32, types.I8)
	buf := g.entryAlloca(bufType, "str.buffer")
	zero := constant.NewInt(types.I32, 0)
	bufPtr := g.block.NewGetElementPtr(bufType, buf, zero, zero)
	g.block.NewCall(g.runtimeFunc("snprintf"),
		bufPtr, constant.NewInt(types.I64, 32), g.cstring("%g"), v)
	return bufPtr
}

// boxDouble wraps a double in a fresh 8-byte heap allocation so it can
// travel through a pointer-typed function return.
func (g *Generator) boxDouble(v value.Value) value.Value {
	raw := g.block.NewCall(g.runtimeFunc("malloc"), constant.NewInt(types.I64, 8))
	slot := g.block.NewBitCast(raw, types.NewPointer(types.Double))
	g.block.NewStore(v, slot)
	return raw
}

// unboxToDouble turns a pointer value into a double at runtime: if the
// first byte is ASCII-printable the value is treated as a string and parsed
// with atof, otherwise it is a boxed double and the eight bytes are loaded.
// NUL is deliberately not treated as printable — boxed integral doubles
// begin with a zero byte.
func (g *Generator) unboxToDouble(v value.Value) value.Value {
	isStr := g.firstBytePrintable(v)

	strBlock := g.newBlock("unbox.str")
	numBlock := g.newBlock("unbox.num")
	doneBlock := g.newBlock("unbox.done")
	result := g.entryAlloca(types.Double, "unbox.result")
	g.block.NewCondBr(isStr, strBlock, numBlock)

	strBlock.NewStore(strBlock.NewCall(g.runtimeFunc("atof"), v), result)
	strBlock.NewBr(doneBlock)

	boxed := numBlock.NewBitCast(v, types.NewPointer(types.Double))
	numBlock.NewStore(numBlock.NewLoad(types.Double, boxed), result)
	numBlock.NewBr(doneBlock)

	g.block = doneBlock
	return doneBlock.NewLoad(types.Double, result)
}

// firstBytePrintable emits the runtime type discriminator: an i1 that is
// true when the first byte behind ptr falls in the ASCII-printable range
// 32..126.
func (g *Generator) firstBytePrintable(ptr value.Value) value.Value {
	first := g.block.NewLoad(types.I8, ptr)
	ge := g.block.NewICmp(enum.IPredUGE, first, constant.NewInt(types.I8, 32))
	le := g.block.NewICmp(enum.IPredULE, first, constant.NewInt(types.I8, 126))
	return g.block.NewAnd(ge, le)
}

// asDoublePtr reinterprets an i8* array handle as a pointer to its f64
// cells.
func (g *Generator) asDoublePtr(v value.Value) value.Value {
	return g.block.NewBitCast(v, types.NewPointer(types.Double))
}
