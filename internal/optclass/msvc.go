package optclass

import "sort"

// msvcTable is the `/`-prefixed MSVC-style option table (spec.md §4.1:
// "A separate compiler-specific table exists for MSVC-style /-prefixed
// options."). Also strictly sorted.
var msvcTable = []Option{
	{"/D", TakesConcatArg | AffectsCPP},
	{"/FI", TakesArg | TakesPath | AffectsCPP},
	{"/Fo", TakesArg | TakesPath},
	{"/I", TakesConcatArg | TakesPath | AffectsCPP},
	{"/MP", TooHard},
	{"/U", TakesConcatArg | AffectsCPP},
	{"/Yc", TakesConcatArg},
	{"/Yu", TakesConcatArg},
	{"/Z7", 0},
	{"/ZI", 0},
	{"/Zi", 0},
	{"/showIncludes", AffectsCPP},
}

func init() {
	if !sort.SliceIsSorted(msvcTable, func(i, j int) bool { return msvcTable[i].Name < msvcTable[j].Name }) {
		panic("optclass: msvcTable is not sorted")
	}
}

// ClassifyMSVC is Classify's counterpart for `/`-prefixed options.
func ClassifyMSVC(arg string) (opt *Option, value string, matchedConcat bool) {
	i := sort.Search(len(msvcTable), func(i int) bool { return msvcTable[i].Name >= arg })
	if i < len(msvcTable) && msvcTable[i].Name == arg {
		return &msvcTable[i], "", false
	}
	var best *Option
	var bestValue string
	for i := range msvcTable {
		o := &msvcTable[i]
		if o.Flags&TakesConcatArg == 0 {
			continue
		}
		if len(arg) > len(o.Name) && arg[:len(o.Name)] == o.Name {
			if best == nil || len(o.Name) > len(best.Name) {
				best = o
				bestValue = arg[len(o.Name):]
			}
		}
	}
	return best, bestValue, best != nil
}

// VerifySortedMSVC reports whether msvcTable is strictly sorted.
func VerifySortedMSVC() bool {
	return sort.SliceIsSorted(msvcTable, func(i, j int) bool { return msvcTable[i].Name < msvcTable[j].Name })
}
