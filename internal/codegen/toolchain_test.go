package codegen

import (
	"os"
	"path/filepath"
	"testing"
)

func TestToolchainArtefactPaths(t *testing.T) {
	tc := NewToolchain("demo", "demo")
	if tc.IRFile != "demo.ll" {
		t.Errorf("IRFile: got %q, want %q", tc.IRFile, "demo.ll")
	}
	if tc.OptFile != "demo_opt.ll" {
		t.Errorf("OptFile: got %q, want %q", tc.OptFile, "demo_opt.ll")
	}
	if tc.AsmFile != "demo.s" {
		t.Errorf("AsmFile: got %q, want %q", tc.AsmFile, "demo.s")
	}
	if tc.ObjFile != "demo.o" {
		t.Errorf("ObjFile: got %q, want %q", tc.ObjFile, "demo.o")
	}
	if tc.ExeFile != "demo" {
		t.Errorf("ExeFile: got %q, want %q", tc.ExeFile, "demo")
	}
}

func TestToolchainCleanupRemovesIntermediates(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "prog")
	tc := NewToolchain(base, filepath.Join(dir, "prog"))

	for _, path := range []string{tc.IRFile, tc.OptFile, tc.AsmFile, tc.ObjFile} {
		if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	tc.Cleanup()

	for _, path := range []string{tc.IRFile, tc.OptFile, tc.AsmFile, tc.ObjFile} {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Errorf("%s still exists after cleanup", path)
		}
	}
}

func TestRunCmdReportsMissingTool(t *testing.T) {
	tc := NewToolchain("x", "x")
	if err := tc.runCmd("definitely-not-a-real-tool-1f2e3d"); err == nil {
		t.Error("expected an error for a missing tool")
	}
}

func TestOptimizeFallsBackToUnoptimisedIR(t *testing.T) {
	// Point the toolchain at a nonexistent IR file: even if opt is
	// installed it must fail, and the original path comes back.
	dir := t.TempDir()
	tc := NewToolchain(filepath.Join(dir, "missing"), "out")
	got := tc.Optimize()
	if got != filepath.Join(dir, "missing.ll") {
		t.Errorf("expected fallback to the unoptimised IR file, got %q", got)
	}
}
