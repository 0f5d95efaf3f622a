package codegen

import (
	"fmt"

	"github.com/pkg/errors"

	"twine/internal/ast"
)

// ---------------------------------------------------------------------------
// Options controls the behaviour of the compilation pipeline.
// ---------------------------------------------------------------------------

// Options configures the codegen pipeline.
type Options struct {
	// BaseName is the path prefix for intermediate artefacts (.ll, .s, .o).
	BaseName string

	// Output is the path of the final executable.
	Output string

	// EmitIR stops the pipeline after writing the textual IR.
	EmitIR bool

	// EmitAsm stops after writing the assembly file.
	EmitAsm bool

	// EmitObj stops after writing the object file.
	EmitObj bool

	// Verbose enables pipeline progress messages and keeps intermediates.
	Verbose bool
}

// Result is returned by Compile with paths to all produced artefacts.
type Result struct {
	IRFile  string
	AsmFile string
	ObjFile string
	ExeFile string // empty unless the pipeline ran to the link step
}

// ---------------------------------------------------------------------------
// Compile — the public entry point for the full pipeline
//
// AST → typed IR (lower + verify) → opt (advisory) → llc → linker
// ---------------------------------------------------------------------------

// Compile lowers the program and drives the external backend per the
// options. Intermediate files are removed on success unless an emit flag or
// verbose mode asks to keep them.
func Compile(prog *ast.Program, opts *Options) (*Result, error) {
	if opts == nil {
		opts = &Options{BaseName: "output", Output: "output"}
	}

	gen := NewGenerator(opts.BaseName)
	if opts.Verbose {
		fmt.Println("Generating LLVM IR...")
	}
	if err := gen.Generate(prog); err != nil {
		return nil, err
	}

	tc := NewToolchain(opts.BaseName, opts.Output)
	tc.Verbose = opts.Verbose
	result := &Result{IRFile: tc.IRFile}

	if opts.Verbose {
		fmt.Printf("Writing LLVM IR to: %s\n", tc.IRFile)
	}
	if err := gen.WriteIRToFile(tc.IRFile); err != nil {
		return nil, err
	}
	if opts.EmitIR {
		return result, nil
	}

	if missing := DetectToolchain(); len(missing) > 0 {
		return result, errors.Errorf("missing toolchain components: %v", missing)
	}

	irFile := tc.Optimize()

	if opts.Verbose {
		fmt.Println("Generating assembly...")
	}
	if err := tc.EmitAsm(irFile); err != nil {
		return result, err
	}
	result.AsmFile = tc.AsmFile
	if opts.EmitAsm {
		return result, nil
	}

	if opts.Verbose {
		fmt.Println("Generating object file...")
	}
	if err := tc.EmitObj(irFile); err != nil {
		return result, err
	}
	result.ObjFile = tc.ObjFile
	if opts.EmitObj {
		return result, nil
	}

	if opts.Verbose {
		fmt.Println("Linking executable...")
	}
	if err := tc.Link(); err != nil {
		return result, err
	}
	result.ExeFile = tc.ExeFile

	if !opts.Verbose {
		tc.Cleanup()
	}
	return result, nil
}
