package codegen

import (
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/types"
)

// ---------------------------------------------------------------------------
// Module verification
//
// A structural check over the built module before it is handed to the
// backend: every block terminated, call arities consistent with their
// callees, stores and returns type-correct. The heavyweight semantic
// verification is left to opt, which the driver runs over the emitted text
// anyway; this pass catches the mistakes a lowering bug would introduce.
// ---------------------------------------------------------------------------

// verifyModule verifies every defined function in the module.
func verifyModule(m *ir.Module) error {
	for _, f := range m.Funcs {
		if len(f.Blocks) == 0 {
			continue // external declaration
		}
		if err := verifyFunc(f); err != nil {
			return err
		}
	}
	return nil
}

// verifyFunc checks a single function definition.
func verifyFunc(f *ir.Func) error {
	if len(f.Blocks) == 0 {
		return fmt.Errorf("function %s has no body", f.Name())
	}

	for _, b := range f.Blocks {
		if b.Term == nil {
			return fmt.Errorf("function %s: block %q has no terminator", f.Name(), b.Name())
		}

		for _, inst := range b.Insts {
			switch inst := inst.(type) {
			case *ir.InstCall:
				if err := verifyCall(f, inst); err != nil {
					return err
				}
			case *ir.InstStore:
				if err := verifyStore(f, inst); err != nil {
					return err
				}
			}
		}

		if ret, ok := b.Term.(*ir.TermRet); ok {
			if err := verifyRet(f, ret); err != nil {
				return err
			}
		}
	}
	return nil
}

func verifyCall(f *ir.Func, call *ir.InstCall) error {
	callee, ok := call.Callee.(*ir.Func)
	if !ok {
		return nil
	}
	sig := callee.Sig
	if sig.Variadic {
		if len(call.Args) < len(sig.Params) {
			return fmt.Errorf("function %s: call to %s has %d argument(s), needs at least %d",
				f.Name(), callee.Name(), len(call.Args), len(sig.Params))
		}
	} else if len(call.Args) != len(sig.Params) {
		return fmt.Errorf("function %s: call to %s has %d argument(s), wants %d",
			f.Name(), callee.Name(), len(call.Args), len(sig.Params))
	}
	for i, param := range sig.Params {
		if !call.Args[i].Type().Equal(param) {
			return fmt.Errorf("function %s: call to %s argument %d has type %s, wants %s",
				f.Name(), callee.Name(), i, call.Args[i].Type(), param)
		}
	}
	return nil
}

func verifyStore(f *ir.Func, store *ir.InstStore) error {
	ptr, ok := store.Dst.Type().(*types.PointerType)
	if !ok {
		return fmt.Errorf("function %s: store destination is not a pointer", f.Name())
	}
	if !store.Src.Type().Equal(ptr.ElemType) {
		return fmt.Errorf("function %s: store of %s into slot of %s",
			f.Name(), store.Src.Type(), ptr.ElemType)
	}
	return nil
}

func verifyRet(f *ir.Func, ret *ir.TermRet) error {
	retType := f.Sig.RetType
	if ret.X == nil {
		if !retType.Equal(types.Void) {
			return fmt.Errorf("function %s: ret void in function returning %s", f.Name(), retType)
		}
		return nil
	}
	if !ret.X.Type().Equal(retType) {
		return fmt.Errorf("function %s: ret of %s in function returning %s",
			f.Name(), ret.X.Type(), retType)
	}
	return nil
}
