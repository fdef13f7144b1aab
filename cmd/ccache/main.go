package main

import (
	"os"
	"path/filepath"
	"strings"
)

// ownBinaryNames are the names this tool recognizes as itself rather
// than a masqueraded compiler (spec.md §0: "Binary name: ccache").
var ownBinaryNames = map[string]bool{
	"ccache":   true,
	"ccachego": true,
}

func main() {
	os.Exit(run(os.Args))
}

// run implements spec.md §0's two-way dispatch (compiler masquerade or
// administrative CLI), which takes one of three paths:
//
//  1. Compiler masquerade: argv[0]'s base name is not one of our own
//     binary names (we were installed as/symlinked to cc, gcc, g++,
//     clang, clang++, nvcc, cl, ...).
//  2. "ccache <compiler> ..." form: argv[0] is one of our own names and
//     argv[1] is not a recognized admin flag, so it is treated as the
//     real compiler name to shift off argv and mask.
//  3. Otherwise: the administrative CLI (cobra root command) handles
//     argv[1:].
func run(argv []string) int {
	if len(argv) == 0 {
		return 1
	}
	base := filepath.Base(argv[0])
	base = strings.TrimSuffix(base, filepath.Ext(base))

	if !ownBinaryNames[base] {
		return runMasquerade(argv[0], argv[1:])
	}

	if len(argv) > 1 && !looksLikeAdminFlag(argv[1]) {
		return runMasquerade(argv[1], argv[2:])
	}

	rootCmd.SetArgs(argv[1:])
	if err := rootCmd.Execute(); err != nil {
		return 1
	}
	return 0
}

// looksLikeAdminFlag reports whether arg is meant for the administrative
// CLI rather than being the name of a masqueraded compiler: either any
// argument with a leading "-" (whether cobra knows the flag is not checked
// here) or one of the built-in cobra commands (help, completion).
func looksLikeAdminFlag(arg string) bool {
	if strings.HasPrefix(arg, "-") {
		return true
	}
	switch arg {
	case "help", "completion":
		return true
	}
	return false
}
