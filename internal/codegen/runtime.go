package codegen

import (
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
)

// ---------------------------------------------------------------------------
// Runtime symbols — C library functions declared as external in the emitted
// module and resolved at link time. Declarations are created lazily on first
// use and cached by name, so the module only lists the symbols the program
// actually touches.
// ---------------------------------------------------------------------------

// runtimeFunc returns the external declaration for the named C runtime
// function, creating it on first use.
func (g *Generator) runtimeFunc(name string) *ir.Func {
	if f, ok := g.runtime[name]; ok {
		return f
	}

	var f *ir.Func
	switch name {
	case "printf":
		// int printf(const char *format, ...)
		f = g.module.NewFunc("printf", types.I32, ir.NewParam("format", types.I8Ptr))
		f.Sig.Variadic = true
	case "scanf":
		// int scanf(const char *format, ...)
		f = g.module.NewFunc("scanf", types.I32, ir.NewParam("format", types.I8Ptr))
		f.Sig.Variadic = true
	case "fgets":
		// char *fgets(char *str, int n, FILE *stream)
		f = g.module.NewFunc("fgets", types.I8Ptr,
			ir.NewParam("str", types.I8Ptr),
			ir.NewParam("n", types.I32),
			ir.NewParam("stream", types.I8Ptr))
	case "snprintf":
		// int snprintf(char *str, size_t size, const char *format, ...)
		f = g.module.NewFunc("snprintf", types.I32,
			ir.NewParam("str", types.I8Ptr),
			ir.NewParam("size", types.I64),
			ir.NewParam("format", types.I8Ptr))
		f.Sig.Variadic = true
	case "atof":
		// double atof(const char *str)
		f = g.module.NewFunc("atof", types.Double, ir.NewParam("str", types.I8Ptr))
	case "atoi":
		// int atoi(const char *str)
		f = g.module.NewFunc("atoi", types.I32, ir.NewParam("str", types.I8Ptr))
	case "fabs":
		f = g.module.NewFunc("fabs", types.Double, ir.NewParam("x", types.Double))
	case "round":
		f = g.module.NewFunc("round", types.Double, ir.NewParam("x", types.Double))
	case "pow":
		f = g.module.NewFunc("pow", types.Double,
			ir.NewParam("base", types.Double),
			ir.NewParam("exponent", types.Double))
	case "sqrt":
		f = g.module.NewFunc("sqrt", types.Double, ir.NewParam("x", types.Double))
	case "rand":
		// int rand(void)
		f = g.module.NewFunc("rand", types.I32)
	case "srand":
		// void srand(unsigned int seed)
		f = g.module.NewFunc("srand", types.Void, ir.NewParam("seed", types.I32))
	case "time":
		// time_t time(time_t *tloc)
		f = g.module.NewFunc("time", types.I64, ir.NewParam("tloc", types.I8Ptr))
	case "strlen":
		// size_t strlen(const char *s)
		f = g.module.NewFunc("strlen", types.I64, ir.NewParam("s", types.I8Ptr))
	case "malloc":
		// void *malloc(size_t size)
		f = g.module.NewFunc("malloc", types.I8Ptr, ir.NewParam("size", types.I64))
	case "strcpy":
		f = g.module.NewFunc("strcpy", types.I8Ptr,
			ir.NewParam("dest", types.I8Ptr),
			ir.NewParam("src", types.I8Ptr))
	case "strcat":
		f = g.module.NewFunc("strcat", types.I8Ptr,
			ir.NewParam("dest", types.I8Ptr),
			ir.NewParam("src", types.I8Ptr))
	case "strstr":
		f = g.module.NewFunc("strstr", types.I8Ptr,
			ir.NewParam("haystack", types.I8Ptr),
			ir.NewParam("needle", types.I8Ptr))
	case "strncpy":
		f = g.module.NewFunc("strncpy", types.I8Ptr,
			ir.NewParam("dest", types.I8Ptr),
			ir.NewParam("src", types.I8Ptr),
			ir.NewParam("n", types.I64))
	default:
		panic(fmt.Sprintf("codegen: unknown runtime function %q", name))
	}

	g.runtime[name] = f
	return f
}

// stdinGlobal returns the external declaration of the platform's stdin
// stream (the libc FILE* global on Unix-like systems).
func (g *Generator) stdinGlobal() *ir.Global {
	if g.stdin == nil {
		g.stdin = g.module.NewGlobal("stdin", types.I8Ptr)
	}
	return g.stdin
}

// rngGlobals returns the random-number generator state: a 64-bit seed and a
// one-bit "seeded" flag, both module-internal and mutable.
func (g *Generator) rngGlobals() (state, seeded *ir.Global) {
	if g.rngState == nil {
		g.rngState = g.module.NewGlobalDef("rng.state", constant.NewInt(types.I64, 0))
		g.rngState.Linkage = enum.LinkageInternal
		g.rngSeeded = g.module.NewGlobalDef("rng.seeded", constant.False)
		g.rngSeeded.Linkage = enum.LinkageInternal
	}
	return g.rngState, g.rngSeeded
}

// cstring returns an i8* pointing at a private global constant holding the
// given NUL-terminated bytes. Constants are deduplicated by content.
func (g *Generator) cstring(s string) constant.Constant {
	if ptr, ok := g.strings[s]; ok {
		return ptr
	}

	name := ".str"
	if g.nextString > 0 {
		name = fmt.Sprintf(".str.%d", g.nextString)
	}
	g.nextString++

	data := constant.NewCharArrayFromString(s + "\x00")
	glob := g.module.NewGlobalDef(name, data)
	glob.Linkage = enum.LinkagePrivate
	glob.Immutable = true

	zero := constant.NewInt(types.I32, 0)
	ptr := constant.NewGetElementPtr(glob.ContentType, glob, zero, zero)
	g.strings[s] = ptr
	return ptr
}
