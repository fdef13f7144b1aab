// Package optclass implements the option classifier (component A): a
// static, sorted table of compiler option predicates, queried by the arg
// processor to decide how each argv token participates in caching.
//
// The table-driven predicate idiom mirrors rclone's backend option
// declarations (e.g. backend/hasher.Options, backend/*/​*.go's
// `[]fs.Option{...}` tables): a flat slice of metadata records, looked up
// by name, rather than a bespoke type per option.
package optclass

import (
	"sort"
	"strings"
)

// Flag is a bitmask of behaviors a compiler option can have.
type Flag uint16

const (
	// TooHard aborts caching entirely for this invocation.
	TooHard Flag = 1 << iota
	// TooHardDirect disables direct mode only; preprocessor mode still runs.
	TooHardDirect
	// TakesArg: the next argv element is this option's value.
	TakesArg
	// TakesConcatArg: the value may be glued (-Ifoo) or separate (-I foo).
	TakesConcatArg
	// TakesPath: the value is a path subject to base-dir rewriting.
	TakesPath
	// AffectsCPP: the option changes preprocessor output and must be
	// included in preprocessor_args.
	AffectsCPP
)

// Option describes one classified compiler flag.
type Option struct {
	Name  string
	Flags Flag
}

// table is the GCC/Clang-style option table. It MUST remain strictly
// lexicographically sorted by Name: Lookup depends on binary search, and
// verifySorted() is exercised as a test (spec.md §8 invariant 1), the Go
// equivalent of the source's startup compopt_verify_sortedness self-test.
var table = []Option{
	{"--sysroot", TakesArg | TakesPath | AffectsCPP},
	{"--sysroot=", TakesConcatArg | TakesPath | AffectsCPP},
	{"-B", TakesArg | TakesPath | TakesConcatArg | AffectsCPP},
	{"-D", TakesArg | TakesConcatArg | AffectsCPP},
	{"-E", TooHard},
	{"-F", TakesArg | TakesPath | TakesConcatArg | AffectsCPP},
	{"-I", TakesArg | TakesPath | TakesConcatArg | AffectsCPP},
	{"-M", TooHard},
	{"-MD", AffectsCPP},
	{"-MF", TakesArg | TakesPath},
	{"-MM", TooHard},
	{"-MMD", AffectsCPP},
	{"-MQ", TakesArg},
	{"-MT", TakesArg},
	{"-U", TakesArg | TakesConcatArg | AffectsCPP},
	{"-Wa,", TakesConcatArg},
	{"-Xarch_device", 0},
	{"-Xarch_host", 0},
	{"-Xpreprocessor", TakesArg | TooHardDirect},
	{"-c", 0},
	{"-fbuild-session-file=", TakesPath | AffectsCPP},
	{"-fmodule-map-file=", TakesPath | AffectsCPP},
	{"-fmodules-cache-path=", TakesPath | AffectsCPP},
	{"-fplugin=", TakesPath | TooHard},
	{"-frecord-gcc-switches", AffectsCPP},
	{"-g", 0},
	{"-gsplit-dwarf", 0},
	{"-idirafter", TakesArg | TakesPath | AffectsCPP},
	{"-iframework", TakesArg | TakesPath | AffectsCPP},
	{"-imacros", TakesArg | TakesPath | AffectsCPP},
	{"-include", TakesArg | TakesPath | AffectsCPP},
	{"-iprefix", TakesArg | TakesPath | AffectsCPP},
	{"-iquote", TakesArg | TakesPath | AffectsCPP},
	{"-isysroot", TakesArg | TakesPath | AffectsCPP},
	{"-isystem", TakesArg | TakesPath | AffectsCPP},
	{"-ivfsoverlay", TakesArg | TakesPath | AffectsCPP},
	{"-iwithprefix", TakesArg | TakesPath | AffectsCPP},
	{"-iwithprefixbefore", TakesArg | TakesPath | AffectsCPP},
	{"-o", TakesArg},
	{"-save-temps", TooHard},
	{"-specs", TakesArg | TooHard},
	{"-x", TakesArg},
}

func init() {
	if !sort.SliceIsSorted(table, func(i, j int) bool { return table[i].Name < table[j].Name }) {
		panic("optclass: table is not sorted")
	}
}

// verifySorted re-checks sortedness for the self-test (spec.md §8
// invariant 1) rather than relying solely on init's panic; VerifySorted
// exports it.
func verifySorted() bool {
	return sort.SliceIsSorted(table, func(i, j int) bool { return table[i].Name < table[j].Name })
}

// VerifySorted reports whether the classifier table is strictly sorted.
func VerifySorted() bool { return verifySorted() }

// lookupExact returns the table row whose Name exactly matches name, or
// nil if none does.
func lookupExact(name string) *Option {
	i := sort.Search(len(table), func(i int) bool { return table[i].Name >= name })
	if i < len(table) && table[i].Name == name {
		return &table[i]
	}
	return nil
}

// lookupPrefix finds the longest table entry whose Name is a prefix of
// arg and which is marked TakesConcatArg (e.g. "-I" matching "-Ifoo", or
// "-Wa," matching "-Wa,--noexecstack"). Entries whose Name ends in "="
// (e.g. "--sysroot=", "-fplugin=") are matched the same way.
func lookupPrefix(arg string) (*Option, string, bool) {
	var best *Option
	var bestValue string
	for i := range table {
		opt := &table[i]
		if opt.Flags&TakesConcatArg == 0 && !strings.HasSuffix(opt.Name, "=") {
			continue
		}
		if strings.HasPrefix(arg, opt.Name) && len(arg) > len(opt.Name) {
			if best == nil || len(opt.Name) > len(best.Name) {
				best = opt
				bestValue = arg[len(opt.Name):]
			}
		}
	}
	return best, bestValue, best != nil
}

// Classify looks up arg (the raw argv token, e.g. "-I", "-Ifoo",
// "-Wa,--noexecstack") and returns its Option plus, for a glued
// concat-arg, the value portion and ok=true. For a non-concat exact
// match it returns ok=false with an empty value (the caller must consume
// the next argv element itself per TakesArg).
func Classify(arg string) (opt *Option, value string, matchedConcat bool) {
	if o := lookupExact(arg); o != nil {
		return o, "", false
	}
	if o, v, ok := lookupPrefix(arg); ok {
		return o, v, true
	}
	return nil, "", false
}

// Is reports whether opt (possibly nil) carries all of the given flags.
func Is(opt *Option, flags Flag) bool {
	return opt != nil && opt.Flags&flags == flags
}
