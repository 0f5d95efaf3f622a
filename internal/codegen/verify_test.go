package codegen

import (
	"strings"
	"testing"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
)

func TestVerifyRejectsMissingTerminator(t *testing.T) {
	m := ir.NewModule()
	f := m.NewFunc("broken", types.Void)
	f.NewBlock("entry") // no terminator

	err := verifyFunc(f)
	if err == nil || !strings.Contains(err.Error(), "no terminator") {
		t.Errorf("expected a missing-terminator error, got %v", err)
	}
}

func TestVerifyRejectsCallArityMismatch(t *testing.T) {
	m := ir.NewModule()
	callee := m.NewFunc("callee", types.Void, ir.NewParam("x", types.Double))
	f := m.NewFunc("caller", types.Void)
	b := f.NewBlock("entry")
	b.NewCall(callee) // missing argument
	b.NewRet(nil)

	err := verifyFunc(f)
	if err == nil || !strings.Contains(err.Error(), "argument") {
		t.Errorf("expected a call-arity error, got %v", err)
	}
}

func TestVerifyRejectsStoreTypeMismatch(t *testing.T) {
	m := ir.NewModule()
	f := m.NewFunc("f", types.Void)
	b := f.NewBlock("entry")
	slot := b.NewAlloca(types.Double)
	// ir.NewStore refuses mismatched operands itself, so the store is built
	// well-typed and its source is swapped afterwards.
	store := b.NewStore(constant.NewFloat(types.Double, 1), slot)
	store.Src = constant.NewInt(types.I32, 1)
	b.NewRet(nil)

	err := verifyFunc(f)
	if err == nil || !strings.Contains(err.Error(), "store") {
		t.Errorf("expected a store-type error, got %v", err)
	}
}

func TestVerifyRejectsReturnTypeMismatch(t *testing.T) {
	m := ir.NewModule()
	f := m.NewFunc("f", types.I32)
	b := f.NewBlock("entry")
	b.NewRet(constant.NewFloat(types.Double, 1))

	err := verifyFunc(f)
	if err == nil || !strings.Contains(err.Error(), "ret") {
		t.Errorf("expected a return-type error, got %v", err)
	}
}

func TestVerifyAcceptsLoweredModules(t *testing.T) {
	// Every module the lowerer emits must pass its own verifier; exercise a
	// program that touches most of the instruction surface.
	src := `
		function fib(n) {
			if (n < 2) { return n; }
			return num(str(fib(n - 1))) + num(str(fib(n - 2)));
		}
		let a = [1, 2, 3];
		a[0] = len(a);
		let s = upper("mixed" + 1);
		for (let i = 0; i < 3; i = i + 1) { print(a[i]); }
		print(fib(10));
		print(s);
	`
	prog := mustParse(t, src)
	gen := NewGenerator("verify-test")
	if err := gen.Generate(prog); err != nil {
		t.Fatalf("lowering failed: %s", err)
	}
	if err := verifyModule(gen.Module()); err != nil {
		t.Errorf("verifier rejected a lowered module: %s", err)
	}
}
