package codegen

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/pkg/errors"
)

// ---------------------------------------------------------------------------
// Toolchain — external backend invocation
//
// The emitted IR is handed to the LLVM toolchain for optimisation and code
// generation, then to a C-compatible linker: opt -O2 (advisory), llc for
// assembly and object emission, and gcc/g++ (falling back to ld) for the
// final link against the system C and math libraries.
// ---------------------------------------------------------------------------

// Toolchain tracks the intermediate artefacts of one compilation.
type Toolchain struct {
	IRFile  string // textual IR as emitted by the lowerer
	OptFile string // optimised IR (only if opt succeeded)
	AsmFile string
	ObjFile string
	ExeFile string
	Verbose bool
}

// NewToolchain derives the artefact paths from the base name.
func NewToolchain(baseName, exeFile string) *Toolchain {
	return &Toolchain{
		IRFile:  baseName + ".ll",
		OptFile: baseName + "_opt.ll",
		AsmFile: baseName + ".s",
		ObjFile: baseName + ".o",
		ExeFile: exeFile,
	}
}

// Optimize runs opt -O2 over the IR. The step is advisory: when opt is
// missing or fails, the unoptimised IR is used and compilation continues.
// The returned path is the IR file the rest of the pipeline should consume.
func (tc *Toolchain) Optimize() string {
	if err := tc.runCmd("opt", "-O2", "-S", tc.IRFile, "-o", tc.OptFile); err != nil {
		if tc.Verbose {
			fmt.Println("Optimization skipped (opt not available or failed)")
		}
		tc.OptFile = ""
		return tc.IRFile
	}
	return tc.OptFile
}

// EmitAsm generates assembly from the given IR file with llc.
func (tc *Toolchain) EmitAsm(irFile string) error {
	if err := tc.runCmd("llc", "-filetype=asm", irFile, "-o", tc.AsmFile); err != nil {
		return errors.Wrap(err, "assembly generation failed")
	}
	return nil
}

// EmitObj generates an object file from the given IR file with llc.
func (tc *Toolchain) EmitObj(irFile string) error {
	if err := tc.runCmd("llc", "-filetype=obj", irFile, "-o", tc.ObjFile); err != nil {
		return errors.Wrap(err, "object file generation failed")
	}
	return nil
}

// Link produces the final executable, trying gcc, then g++, then ld with
// platform-specific flags. The math library is always linked.
func (tc *Toolchain) Link() error {
	if err := tc.runCmd("gcc", tc.ObjFile, "-o", tc.ExeFile, "-lm"); err == nil {
		return nil
	}
	if err := tc.runCmd("g++", tc.ObjFile, "-o", tc.ExeFile, "-lm"); err == nil {
		return nil
	}

	args := []string{tc.ObjFile, "-o", tc.ExeFile, "-lm"}
	if runtime.GOOS == "linux" {
		args = append(args, "/lib64/ld-linux-x86-64.so.2", "-lc",
			"-dynamic-linker", "/lib64/ld-linux-x86-64.so.2")
	}
	if err := tc.runCmd("ld", args...); err != nil {
		return errors.Wrap(err, "linking failed")
	}
	return nil
}

// Cleanup removes the intermediate files, leaving only the executable.
func (tc *Toolchain) Cleanup() {
	for _, path := range []string{tc.IRFile, tc.OptFile, tc.AsmFile, tc.ObjFile} {
		if path != "" {
			os.Remove(path)
		}
	}
}

// runCmd executes an external tool, capturing stderr for diagnostics.
func (tc *Toolchain) runCmd(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	if tc.Verbose {
		fmt.Printf("Running: %s\n", strings.Join(cmd.Args, " "))
	}

	var stderr strings.Builder
	cmd.Stderr = &stderr
	cmd.Stdout = os.Stdout

	if err := cmd.Run(); err != nil {
		return errors.Wrapf(err, "%s failed\n%s", name, stderr.String())
	}
	return nil
}

// DetectToolchain reports which required external tools are missing. The
// optimiser is not listed: its absence only skips the advisory opt pass.
func DetectToolchain() []string {
	var missing []string
	if _, err := exec.LookPath("llc"); err != nil {
		missing = append(missing, "llc (LLVM code generator)")
	}
	hasLinker := false
	for _, l := range []string{"gcc", "g++", "ld"} {
		if _, err := exec.LookPath(l); err == nil {
			hasLinker = true
			break
		}
	}
	if !hasLinker {
		missing = append(missing, "gcc, g++, or ld (linker)")
	}
	return missing
}
