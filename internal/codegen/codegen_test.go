package codegen

import (
	"strings"
	"testing"

	"twine/internal/ast"
	"twine/internal/lexer"
	"twine/internal/parser"
)

// helper: parse source, failing the test on any front-end error.
func mustParse(t *testing.T, src string) *ast.Program {
	t.Helper()
	tokens, lexErrs := lexer.Lex(src)
	if len(lexErrs) > 0 {
		t.Fatalf("lex errors: %v", lexErrs)
	}
	prog, parseErrs := parser.Parse(tokens)
	if len(parseErrs) > 0 {
		t.Fatalf("parse errors: %v", parseErrs)
	}
	return prog
}

// helper: lower source and return the textual IR, failing on any error.
func lowerIR(t *testing.T, src string) string {
	t.Helper()
	prog := mustParse(t, src)
	gen := NewGenerator("test")
	if err := gen.Generate(prog); err != nil {
		t.Fatalf("lowering failed: %s", err)
	}
	return gen.IR()
}

// helper: lower source expecting Generate to fail; returns the error text.
func lowerExpectingError(t *testing.T, src string) string {
	t.Helper()
	prog := mustParse(t, src)
	gen := NewGenerator("test")
	err := gen.Generate(prog)
	if err == nil {
		t.Fatalf("expected lowering to fail for %q", src)
	}
	return err.Error()
}

func wantContains(t *testing.T, ir string, wants ...string) {
	t.Helper()
	for _, want := range wants {
		if !strings.Contains(ir, want) {
			t.Errorf("IR does not contain %q\n--- IR ---\n%s", want, ir)
		}
	}
}

// ---------------------------------------------------------------------------
// Basics
// ---------------------------------------------------------------------------

func TestEmptyProgram(t *testing.T) {
	ir := lowerIR(t, "")
	wantContains(t, ir, "define i32 @main()", "ret i32 0")
}

func TestNumericArithmetic(t *testing.T) {
	ir := lowerIR(t, "let x = 2 + 3 * 4; print(x);")
	wantContains(t, ir, "fadd double", "fmul double", "alloca double", "@printf")
}

func TestDivisionIsAlwaysFloating(t *testing.T) {
	ir := lowerIR(t, "let x = 7 / 2; print(x);")
	wantContains(t, ir, "fdiv double")
	if strings.Contains(ir, "sdiv") {
		t.Error("integer division must not be emitted")
	}
}

func TestModulo(t *testing.T) {
	ir := lowerIR(t, "let x = 7 % 3;")
	wantContains(t, ir, "frem double")
}

func TestComparisonsAreOrdered(t *testing.T) {
	ir := lowerIR(t, "let a = 1 < 2; let b = 1 >= 2; let c = 1 == 2;")
	wantContains(t, ir, "fcmp olt double", "fcmp oge double", "fcmp oeq double", "alloca i1")
}

func TestUnaryOperators(t *testing.T) {
	ir := lowerIR(t, "let a = -5; let b = !true;")
	wantContains(t, ir, "fneg double", "xor i1")
}

func TestLogicalOperatorsEvaluateBothSides(t *testing.T) {
	ir := lowerIR(t, "let x = 1 && 0; let y = 0 || 1;")
	wantContains(t, ir, "and i1", "or i1", "fcmp one double")
}

// ---------------------------------------------------------------------------
// Variables, scopes, retyping
// ---------------------------------------------------------------------------

func TestVariableDefaultsToZero(t *testing.T) {
	ir := lowerIR(t, "let x; print(x);")
	wantContains(t, ir, "alloca double", "store double")
}

func TestAssignmentRetypesSlot(t *testing.T) {
	// x starts as a number and becomes a string: a second slot of pointer
	// type must appear, allocated in the entry block.
	ir := lowerIR(t, `let x = 1; x = "hello"; print(x);`)
	wantContains(t, ir, "alloca double", "alloca i8*", "x.retyped")
}

func TestSameTypeAssignmentReusesSlot(t *testing.T) {
	ir := lowerIR(t, "let x = 1; x = 2;")
	if strings.Contains(ir, "x.retyped") {
		t.Error("same-type assignment must store in place, not retype")
	}
}

func TestUndefinedVariableFails(t *testing.T) {
	msg := lowerExpectingError(t, "print(missing);")
	if !strings.Contains(msg, "Undefined variable: missing") {
		t.Errorf("unexpected error: %s", msg)
	}
}

func TestBlockScoping(t *testing.T) {
	// The inner declaration shadows; the outer x is still a double after
	// the block, so no retype of the outer slot happens.
	ir := lowerIR(t, "let x = 1; { let x = \"inner\"; print(x); } print(x);")
	wantContains(t, ir, "alloca double", "alloca i8*")
}

// ---------------------------------------------------------------------------
// Control flow
// ---------------------------------------------------------------------------

func TestIfElseBlocks(t *testing.T) {
	ir := lowerIR(t, "if (1 < 2) { print(1); } else { print(2); }")
	wantContains(t, ir, "then:", "else:", "merge:", "br i1")
}

func TestIfWithoutElse(t *testing.T) {
	ir := lowerIR(t, "if (1 < 2) { print(1); }")
	wantContains(t, ir, "then:", "merge:")
	if strings.Contains(ir, "\nelse:") {
		t.Error("no else block expected")
	}
}

func TestWhileLoopBlocks(t *testing.T) {
	ir := lowerIR(t, "let i = 0; while (i < 3) { i = i + 1; }")
	wantContains(t, ir, "while.cond:", "while.body:", "while.end:", "br label %while.cond")
}

func TestForLoopBlocks(t *testing.T) {
	ir := lowerIR(t, "for (let i = 0; i < 3; i = i + 1) { print(i); }")
	wantContains(t, ir, "for.cond:", "for.body:", "for.update:", "for.end:")
}

func TestForLoopWithoutCondition(t *testing.T) {
	// An absent condition falls straight through to the body.
	ir := lowerIR(t, "for (;;) { print(1); }")
	wantContains(t, ir, "for.cond:", "br label %for.body")
}

func TestNestedLoopsGetUniqueBlockNames(t *testing.T) {
	ir := lowerIR(t, `
		while (1) { while (2) { print(1); } }
	`)
	wantContains(t, ir, "while.cond:", "while.cond.1:")
}

// ---------------------------------------------------------------------------
// Functions
// ---------------------------------------------------------------------------

func TestFunctionSignature(t *testing.T) {
	ir := lowerIR(t, "function add(a, b) { return a + b; }")
	// Internal linkage, all-double parameters, pointer return.
	wantContains(t, ir, "define internal i8* @add(double %a, double %b)")
}

func TestFunctionReturnBoxesNumbers(t *testing.T) {
	ir := lowerIR(t, "function one() { return 1; }")
	wantContains(t, ir, "@malloc(i64 8)", "store double", "ret i8*")
}

func TestFunctionFallthroughReturnsNull(t *testing.T) {
	ir := lowerIR(t, "function noop() { print(1); }")
	wantContains(t, ir, "ret i8* null")
}

func TestCallBeforeDeclaration(t *testing.T) {
	// The signature pass registers every top-level function first, so a
	// call may precede the declaration in source order.
	ir := lowerIR(t, "print(f()); function f() { return 42; }")
	wantContains(t, ir, "call i8* @f()")
}

func TestMutualRecursion(t *testing.T) {
	ir := lowerIR(t, `
		function even(n) { if (n == 0) { return 1; } return odd(n - 1); }
		function odd(n) { if (n == 0) { return 0; } return even(n - 1); }
		print(even(4));
	`)
	wantContains(t, ir, "@even(double", "@odd(double")
}

func TestRecursiveFactorial(t *testing.T) {
	ir := lowerIR(t, `
		function fact(n) {
			if (n < 2) { return 1; }
			return n * num(str(fact(n - 1)));
		}
		print(fact(5));
	`)
	wantContains(t, ir, "define internal i8* @fact(double %n)",
		"call i8* @fact(double", "@atof", "@snprintf")
}

func TestUndefinedFunctionFails(t *testing.T) {
	msg := lowerExpectingError(t, "nosuch(1);")
	if !strings.Contains(msg, "Undefined function: nosuch") {
		t.Errorf("unexpected error: %s", msg)
	}
}

func TestWrongArgumentCountFails(t *testing.T) {
	msg := lowerExpectingError(t, "function f(a) { return a; } f(1, 2);")
	if !strings.Contains(msg, "expects 1 argument(s), got 2") {
		t.Errorf("unexpected error: %s", msg)
	}
}

func TestReturnInMainConvertsToI32(t *testing.T) {
	ir := lowerIR(t, "return 7;")
	wantContains(t, ir, "fptosi double", "ret i32")
}

func TestStatementsAfterReturnStayWellFormed(t *testing.T) {
	// Code after a return lands in an unreachable block; the module must
	// still verify.
	ir := lowerIR(t, "function f() { return 1; print(2); }")
	wantContains(t, ir, "dead:")
}

// ---------------------------------------------------------------------------
// Strings
// ---------------------------------------------------------------------------

func TestStringLiteralGlobal(t *testing.T) {
	ir := lowerIR(t, `print("hello");`)
	wantContains(t, ir, `c"hello\00"`, "private", "@printf")
}

func TestStringConstantsDeduplicated(t *testing.T) {
	ir := lowerIR(t, `let a = "dup"; let b = "dup";`)
	if strings.Count(ir, `c"dup\00"`) != 1 {
		t.Errorf("expected one global for the duplicated literal:\n%s", ir)
	}
}

func TestStringConcatenation(t *testing.T) {
	ir := lowerIR(t, `print("hello" + " " + "world");`)
	wantContains(t, ir, "@strlen", "@malloc", "@strcpy", "@strcat")
}

func TestConcatenationWithNumberFormatsIt(t *testing.T) {
	ir := lowerIR(t, `print("n = " + 42);`)
	wantContains(t, ir, "@snprintf", `c"%g\00"`)
}

func TestPrintDispatchesOnPointerAtRuntime(t *testing.T) {
	// A function result may be a string or a boxed number, so print emits
	// the first-byte discriminator.
	ir := lowerIR(t, "function f() { return 1; } print(f());")
	wantContains(t, ir, "print.str:", "print.num:", "print.done:",
		`c"%s\0A\00"`, `c"%f\0A\00"`)
}

func TestPrintEmptyLine(t *testing.T) {
	ir := lowerIR(t, "print();")
	wantContains(t, ir, `c"\0A\00"`)
}

func TestPrintBooleanUsesIntFormat(t *testing.T) {
	ir := lowerIR(t, "print(true);")
	wantContains(t, ir, `c"%d\0A\00"`, "zext i1")
}

// ---------------------------------------------------------------------------
// Arrays
// ---------------------------------------------------------------------------

func TestArrayLiteralLayout(t *testing.T) {
	// Three elements need four cells: the count plus the payload.
	ir := lowerIR(t, "let a = [10, 20, 30];")
	wantContains(t, ir, "@malloc(i64 32)", "bitcast i8*", "getelementptr double")
}

func TestArrayIndexReadAndWrite(t *testing.T) {
	ir := lowerIR(t, "let a = [1, 2]; print(a[1]); a[0] = 9;")
	wantContains(t, ir, "fptosi double", "load double", "store double")
}

func TestAppendCopiesIntoFreshBuffer(t *testing.T) {
	ir := lowerIR(t, "let a = [1, 2, 3]; let b = append(a, 4);")
	wantContains(t, ir, "append.cond:", "append.body:", "append.end:",
		"fadd double", "@malloc")
}

func TestLenUsesRuntimeDiscriminator(t *testing.T) {
	ir := lowerIR(t, "let a = [1]; print(len(a));")
	wantContains(t, ir, "len.str:", "len.array:", "len.done:",
		"@strlen", "getelementptr double", "i64 -1")
}

// ---------------------------------------------------------------------------
// Builtins
// ---------------------------------------------------------------------------

func TestInputReadsLineAndTrimsNewline(t *testing.T) {
	ir := lowerIR(t, "let s = input();")
	wantContains(t, ir, "[1024 x i8]", "@fgets", "@stdin", "input.trim:", "input.done:")
}

func TestStrNumInt(t *testing.T) {
	ir := lowerIR(t, `let s = str(3.5); let n = num(s); let i = int(s);`)
	wantContains(t, ir, "@snprintf", "[32 x i8]", "@atof", "@atoi", "sitofp i32")
}

func TestMathBuiltins(t *testing.T) {
	ir := lowerIR(t, "let a = abs(-1); let b = sqrt(2); let c = pow(2, 10);")
	wantContains(t, ir, "@fabs", "@sqrt", "@pow")
}

func TestRoundOneAndTwoArguments(t *testing.T) {
	ir := lowerIR(t, "let a = round(2.6); let b = round(2.617, 2);")
	wantContains(t, ir, "@round", "@pow", "fmul double", "fdiv double")
}

func TestMinMaxFoldWithSelect(t *testing.T) {
	ir := lowerIR(t, "let a = min(3, 1, 2); let b = max(3, 1, 2);")
	wantContains(t, ir, "fcmp olt double", "fcmp ogt double", "select i1")
}

func TestRandomLCG(t *testing.T) {
	ir := lowerIR(t, "let r = random();")
	wantContains(t, ir, "@rng.state", "@rng.seeded", "1664525", "1013904223",
		"@time", "ptrtoint", "lshr", "uitofp", "random.seed:", "random.next:")
}

func TestUpperLower(t *testing.T) {
	ir := lowerIR(t, `let u = upper("abc"); let l = lower("ABC");`)
	wantContains(t, ir, "upper.cond:", "upper.body:", "lower.cond:", "select i1", "@malloc")
}

func TestIncludesStringUsesStrstr(t *testing.T) {
	ir := lowerIR(t, `let x = includes("haystack", "hay");`)
	wantContains(t, ir, "@strstr", "select i1")
}

func TestIncludesArrayScans(t *testing.T) {
	ir := lowerIR(t, "let a = [1, 2, 3]; let x = includes(a, 2);")
	wantContains(t, ir, "includes.cond:", "includes.hit:", "includes.end:", "fcmp oeq double")
}

func TestReplaceBuildsExactLength(t *testing.T) {
	ir := lowerIR(t, `let s = replace("aXc", "X", "b");`)
	wantContains(t, ir, "@strstr", "@strncpy", "@strcat",
		"replace.copy:", "replace.build:", "replace.done:")
}

func TestBuiltinArityErrors(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"let x = str(1, 2);", "str() expects exactly 1 argument"},
		{"let x = num();", "num() expects exactly 1 argument"},
		{"let x = abs();", "abs() expects exactly 1 argument"},
		{"let x = round();", "round() expects 1 or 2 arguments"},
		{"let x = min(1);", "min() expects at least 2 arguments"},
		{"let x = pow(2);", "pow() expects exactly 2 arguments"},
		{"let x = len();", "len() expects exactly 1 argument"},
		{`let x = replace("a", "b");`, "replace() expects exactly 3 arguments"},
		{"let x = append([1]);", "append() expects exactly 2 arguments"},
	}
	for _, tt := range tests {
		msg := lowerExpectingError(t, tt.src)
		if !strings.Contains(msg, tt.want) {
			t.Errorf("%s: got %q, want it to mention %q", tt.src, msg, tt.want)
		}
	}
}

func TestNumRejectsNonString(t *testing.T) {
	msg := lowerExpectingError(t, "let x = num(5);")
	if !strings.Contains(msg, "num() expects a string argument") {
		t.Errorf("unexpected error: %s", msg)
	}
}

// ---------------------------------------------------------------------------
// Runtime declarations
// ---------------------------------------------------------------------------

func TestOnlyUsedRuntimeSymbolsDeclared(t *testing.T) {
	ir := lowerIR(t, "let x = 1 + 2;")
	for _, sym := range []string{"@printf", "@fgets", "@strstr", "@malloc"} {
		if strings.Contains(ir, sym) {
			t.Errorf("unused runtime symbol %s should not be declared", sym)
		}
	}
}

func TestRuntimeDeclarationsDeduplicated(t *testing.T) {
	ir := lowerIR(t, "print(1); print(2); print(3);")
	if got := strings.Count(ir, "declare i32 @printf"); got != 1 {
		t.Errorf("printf declared %d times, want 1", got)
	}
}

// ---------------------------------------------------------------------------
// Determinism
// ---------------------------------------------------------------------------

func TestLoweringIsDeterministic(t *testing.T) {
	src := `
		function fact(n) {
			if (n < 2) { return 1; }
			return n * num(str(fact(n - 1)));
		}
		let a = [1, 2, 3];
		let s = "x" + 1;
		for (let i = 0; i < len(a); i = i + 1) { print(a[i]); }
		print(fact(5));
		print(upper(s));
	`
	first := lowerIR(t, src)
	second := lowerIR(t, src)
	if first != second {
		t.Error("lowering the same program twice produced different IR")
	}
}
