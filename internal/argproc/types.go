// Package argproc implements the arg processor (component B): it turns a
// compiler invocation's argv into a CompilationRequest plus the
// preprocessor/compiler/extra-hash argument triple the engine needs.
package argproc

import "github.com/ccachego/ccache/internal/ccstats"

// CompilerType drives argv[0]-based quirks (spec.md §4.2).
type CompilerType string

const (
	CompilerGCC   CompilerType = "gcc"
	CompilerClang CompilerType = "clang"
	CompilerNVCC  CompilerType = "nvcc"
	CompilerMSVC  CompilerType = "msvc"
	CompilerOther CompilerType = "other"
)

// Sloppiness is a set of relaxation tags (spec.md §4.4, §8).
type Sloppiness struct {
	FileStatMatches      bool
	FileStatMatchesCtime bool
	IncludeFileMtime     bool
	IncludeFileCtime     bool
	PCHDefines           bool
	TimeMacros           bool
}

// ParseSloppiness parses the comma-separated `sloppiness` config value.
func ParseSloppiness(csv string) Sloppiness {
	var s Sloppiness
	for _, tag := range splitComma(csv) {
		switch tag {
		case "file_stat_matches":
			s.FileStatMatches = true
		case "file_stat_matches_ctime":
			s.FileStatMatchesCtime = true
		case "include_file_mtime":
			s.IncludeFileMtime = true
		case "include_file_ctime":
			s.IncludeFileCtime = true
		case "pch_defines":
			s.PCHDefines = true
		case "time_macros":
			s.TimeMacros = true
		}
	}
	return s
}

func splitComma(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

// CompilationRequest is the arg processor's success output (spec.md §3).
type CompilationRequest struct {
	CompilerPath string
	CompilerType CompilerType
	SourcePath   string
	OutputObj    string
	OutputDep    string // optional, empty if not requested
	OutputDwo    string // optional
	OutputDiag   string // optional

	ActualLanguage string // e.g. "c", "c++", "c-header"

	PreprocessorArgs []string
	CompilerArgs     []string
	ExtraArgsToHash  []string

	GeneratingPCH  bool
	UsingPCH       string // path to consumed PCH, empty if none
	DepfileTarget  string // optional -MT/-MQ override

	Sloppiness       Sloppiness
	SeenSplitDwarf   bool
	ExpectOutputObj  bool
	NormalizeRules   []string // base-dir rewrite rules applied, for diagnostics

	DirectModeDisabled bool // set when a TooHardDirect option was seen
}

// Config is the subset of the global Config model (component L) the arg
// processor consults.
type Config struct {
	BaseDir           string
	Cwd               string
	CPPExtension      string
	Sloppiness        Sloppiness
	HashDir           bool
	IgnoreOptions     map[string]bool
	MSVCDepPrefix     string
	ResponseFileWindows bool
}

// Result is the arg processor's full outcome: either ok with a
// CompilationRequest, or a statistics reason recorded via ccstats.
type Result struct {
	Request CompilationRequest
	Reason  ccstats.Counter // set (non-empty) iff the invocation is uncacheable
}
