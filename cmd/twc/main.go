package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"twine/internal/codegen"
	"twine/internal/lexer"
	"twine/internal/parser"
)

const version = "1.0.0"

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) < 2 {
		printUsage()
		return 1
	}

	var inputFile, outputFile string
	emitIR, emitAsm, emitObj, verbose := false, false, false, false

	args := os.Args[1:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--help" || arg == "-h":
			printUsage()
			return 0
		case arg == "--version" || arg == "-v":
			fmt.Printf("Twine Compiler v%s\n", version)
			return 0
		case arg == "-o" && i+1 < len(args):
			i++
			outputFile = args[i]
		case arg == "--emit-ir":
			emitIR = true
		case arg == "--emit-asm":
			emitAsm = true
		case arg == "--emit-obj":
			emitObj = true
		case arg == "--verbose":
			verbose = true
		case !strings.HasPrefix(arg, "-"):
			inputFile = arg
		default:
			fmt.Fprintf(os.Stderr, "Unknown option: %s\n", arg)
			printUsage()
			return 1
		}
	}

	if inputFile == "" {
		fmt.Fprintln(os.Stderr, "Error: No input file specified")
		printUsage()
		return 1
	}
	if !strings.HasSuffix(inputFile, ".tw") {
		fmt.Fprintln(os.Stderr, "Error: Input file must have .tw extension")
		return 1
	}

	if verbose {
		fmt.Printf("Reading source file: %s\n", inputFile)
	}
	source, err := os.ReadFile(inputFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Could not open file: %s\n", inputFile)
		return 1
	}

	if verbose {
		fmt.Println("Performing lexical analysis...")
	}
	tokens, lexErrors := lexer.Lex(string(source))
	if verbose {
		fmt.Printf("Found %d tokens\n", len(tokens))
	}

	if verbose {
		fmt.Println("Parsing...")
	}
	prog, parseErrors := parser.Parse(tokens)
	if prog == nil || len(parseErrors) > 0 {
		fmt.Fprintln(os.Stderr, "Parsing failed")
		return 1
	}
	if len(lexErrors) > 0 {
		fmt.Fprintln(os.Stderr, "Lexing failed")
		return 1
	}

	baseName := getBaseName(inputFile)
	if outputFile == "" {
		outputFile = defaultExecutable(baseName)
	}

	opts := &codegen.Options{
		BaseName: baseName,
		Output:   outputFile,
		EmitIR:   emitIR,
		EmitAsm:  emitAsm,
		EmitObj:  emitObj,
		Verbose:  verbose,
	}

	result, err := codegen.Compile(prog, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return 1
	}

	switch {
	case emitIR:
		fmt.Printf("LLVM IR written to: %s\n", result.IRFile)
	case emitAsm:
		fmt.Printf("Assembly written to: %s\n", result.AsmFile)
	case emitObj:
		fmt.Printf("Object file written to: %s\n", result.ObjFile)
	default:
		fmt.Println("Compilation successful!")
		fmt.Printf("Executable: %s\n", result.ExeFile)
	}
	return 0
}

// getBaseName strips the directory and extension from a path.
func getBaseName(path string) string {
	name := filepath.Base(path)
	if ext := filepath.Ext(name); ext != "" {
		name = name[:len(name)-len(ext)]
	}
	return name
}

// defaultExecutable returns the default output name for the platform.
func defaultExecutable(baseName string) string {
	if runtime.GOOS == "windows" {
		return baseName + ".exe"
	}
	return baseName
}

func printUsage() {
	fmt.Printf("Usage: %s <input.tw> [options]\n", filepath.Base(os.Args[0]))
	fmt.Println("Options:")
	fmt.Println("  -o <output>    Specify output executable name")
	fmt.Println("  --emit-ir      Output LLVM IR only")
	fmt.Println("  --emit-asm     Output assembly only")
	fmt.Println("  --emit-obj     Output object file only")
	fmt.Println("  --verbose      Enable verbose output")
	fmt.Println("  --version      Show version information")
	fmt.Println("  --help         Show this help message")
}
