package argproc

import (
	"path/filepath"
	"strings"

	"github.com/ccachego/ccache/internal/ccerrors"
	"github.com/ccachego/ccache/internal/ccstats"
	"github.com/ccachego/ccache/internal/optclass"
)

// sourceExtensions maps a recognized source extension to its default
// language, used when -x is absent.
var sourceExtensions = map[string]string{
	".c":   "c",
	".cc":  "c++",
	".cpp": "c++",
	".cxx": "c++",
	".m":   "objective-c",
	".mm":  "objective-c++",
}

// isHeaderLanguage reports whether lang (the language the caller selected
// via -x) ends in "-header", the condition for generating a PCH
// (spec.md §3 invariant).
func isHeaderLanguage(lang string) bool {
	return strings.HasSuffix(lang, "-header")
}

// GuessCompilerType guesses the compiler type from argv[0] by filename
// token matching, the way spec.md §4.2 describes ("auto-guessed from
// argv[0] via filename token matching, with symlink+hardlink resolution
// on POSIX"). Symlink resolution itself is an OS/filesystem concern
// performed by the caller (cmd/ccache) before this function runs; this
// function only tokenizes the final resolved name.
func GuessCompilerType(resolvedArgv0 string) CompilerType {
	base := filepath.Base(resolvedArgv0)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	switch {
	case strings.Contains(base, "nvcc"):
		return CompilerNVCC
	case strings.Contains(base, "clang"):
		return CompilerClang
	case strings.Contains(base, "cl") && (base == "cl" || strings.HasPrefix(base, "cl_") || strings.HasPrefix(base, "cl-")):
		return CompilerMSVC
	case strings.Contains(base, "gcc"), strings.Contains(base, "g++"), strings.Contains(base, "cc"), strings.Contains(base, "c++"):
		return CompilerGCC
	default:
		return CompilerOther
	}
}

// Process parses argv (argv[0] excluded — it has already been resolved
// into CompilerType by the caller) into a CompilationRequest, or returns
// an *ccerrors.Error classifying why the invocation cannot be cached.
func Process(compilerPath string, compilerType CompilerType, argv []string, cfg Config) (*CompilationRequest, error) {
	p := &processor{
		cfg:          cfg,
		compilerType: compilerType,
	}
	req := &CompilationRequest{
		CompilerPath: compilerPath,
		CompilerType: compilerType,
		Sloppiness:   cfg.Sloppiness,
	}

	if err := p.scan(argv, req); err != nil {
		return nil, err
	}

	if req.SourcePath == "" {
		return nil, ccerrors.New(ccerrors.KindUncacheableReason, string(ccstats.BadCompilerArguments))
	}
	if req.ActualLanguage == "" {
		ext := strings.ToLower(filepath.Ext(req.SourcePath))
		lang, ok := sourceExtensions[ext]
		if !ok {
			return nil, ccerrors.New(ccerrors.KindUnsupportedCompilerOpt, string(ccstats.UnsupportedCompilerOption))
		}
		req.ActualLanguage = lang
	}
	if req.OutputObj == "" {
		req.OutputObj = strings.TrimSuffix(req.SourcePath, filepath.Ext(req.SourcePath)) + ".o"
	}
	if req.GeneratingPCH && !isHeaderLanguage(req.ActualLanguage) {
		return nil, ccerrors.New(ccerrors.KindInternalError, "generating_pch requires a -header language")
	}
	req.ExpectOutputObj = !req.GeneratingPCH

	// Invariant (spec.md §8): preprocessor_args ∩ extra_args_to_hash = ∅
	// by construction: neither scan nor routeClassified ever appends the
	// same argv token to both preprocessorArgs and extraArgsToHash.
	req.PreprocessorArgs = p.preprocessorArgs
	req.CompilerArgs = p.compilerArgs
	req.ExtraArgsToHash = p.extraArgsToHash
	req.DirectModeDisabled = p.directModeDisabled
	req.NormalizeRules = p.normalizeRules

	return req, nil
}

// processor holds the mutable scan state; kept separate from
// CompilationRequest so the exported type stays a plain data record.
type processor struct {
	cfg          Config
	compilerType CompilerType

	preprocessorArgs   []string
	compilerArgs       []string
	extraArgsToHash    []string
	directModeDisabled bool
	normalizeRules     []string

	xArchHost   bool
	xArchDevice bool
}

// extraArgsToHashOptions lists option names that never affect preprocessor
// output but must still be mixed into the direct-mode hash (spec.md §4.2).
var extraArgsToHashOptions = map[string]bool{
	"-Werror": true,
}

// extraArgsToHashPrefixes lists option *prefixes* handled the same way
// (e.g. "-Xlinker foo", "-Wa,...").
var extraArgsToHashPrefixes = []string{"-Xlinker", "-Wa,"}

func (p *processor) scan(argv []string, req *CompilationRequest) error {
	var sawSource bool
	var langOverride string
	var langOverrideSet bool

	for i := 0; i < len(argv); i++ {
		arg := argv[i]

		switch {
		case arg == "-o":
			if i+1 >= len(argv) {
				return ccerrors.New(ccerrors.KindBadCompilerArguments, string(ccstats.BadCompilerArguments))
			}
			i++
			if argv[i] == "-" {
				return ccerrors.New(ccerrors.KindUncacheableReason, string(ccstats.OutputToStdout))
			}
			req.OutputObj = argv[i]
			continue

		case arg == "-c":
			p.compilerArgs = append(p.compilerArgs, arg)
			continue

		case arg == "-x":
			if i+1 >= len(argv) {
				return ccerrors.New(ccerrors.KindBadCompilerArguments, string(ccstats.BadCompilerArguments))
			}
			i++
			lang := argv[i]
			if p.compilerType == CompilerNVCC && isUpperTail(lang) {
				// "-xCODE" (uppercase tail): Intel -x codegen option, not
				// a language selector (spec.md §4.2).
				p.compilerArgs = append(p.compilerArgs, arg, lang)
				continue
			}
			if !sawSource {
				langOverride = lang
				langOverrideSet = true
			}
			p.compilerArgs = append(p.compilerArgs, arg, lang)
			continue

		case strings.HasPrefix(arg, "-x") && isUpperTail(arg[2:]):
			// Glued "-xCODE" (uppercase tail): Intel -x codegen option,
			// not a language selector (spec.md §4.2).
			p.compilerArgs = append(p.compilerArgs, arg)
			continue

		case arg == "-MF" || strings.HasPrefix(arg, "-MF"):
			var depPath string
			if arg == "-MF" {
				if i+1 >= len(argv) {
					return ccerrors.New(ccerrors.KindBadCompilerArguments, string(ccstats.BadCompilerArguments))
				}
				i++
				depPath = argv[i]
			} else {
				depPath = stripGlued(normalizeGluedEquals(arg, "-MF"), "-MF")
			}
			req.OutputDep = depPath
			p.extraArgsToHash = append(p.extraArgsToHash, "-MF"+depPath)
			continue

		case arg == "-MT" || strings.HasPrefix(arg, "-MT"):
			var target string
			if arg == "-MT" {
				if i+1 >= len(argv) {
					return ccerrors.New(ccerrors.KindBadCompilerArguments, string(ccstats.BadCompilerArguments))
				}
				i++
				target = argv[i]
			} else {
				target = stripGlued(arg, "-MT")
			}
			req.DepfileTarget = target
			p.extraArgsToHash = append(p.extraArgsToHash, "-MT"+target)
			continue

		case arg == "-MQ" || strings.HasPrefix(arg, "-MQ"):
			var target string
			if arg == "-MQ" {
				if i+1 >= len(argv) {
					return ccerrors.New(ccerrors.KindBadCompilerArguments, string(ccstats.BadCompilerArguments))
				}
				i++
				target = argv[i]
			} else {
				target = stripGlued(arg, "-MQ")
			}
			req.DepfileTarget = target
			p.extraArgsToHash = append(p.extraArgsToHash, "-MQ"+target)
			continue

		case arg == "-MD" || arg == "-MMD":
			p.extraArgsToHash = append(p.extraArgsToHash, arg)
			p.compilerArgs = append(p.compilerArgs, arg)
			continue

		case arg == "-Xarch_host":
			if p.xArchDevice {
				return ccerrors.New(ccerrors.KindUnsupportedCompilerOpt, string(ccstats.UnsupportedCompilerOption))
			}
			p.xArchHost = true
			p.compilerArgs = append(p.compilerArgs, arg)
			continue

		case arg == "-Xarch_device":
			if p.xArchHost {
				return ccerrors.New(ccerrors.KindUnsupportedCompilerOpt, string(ccstats.UnsupportedCompilerOption))
			}
			p.xArchDevice = true
			p.compilerArgs = append(p.compilerArgs, arg)
			continue

		case arg == "-E" || arg == "-M" || arg == "-MM":
			return ccerrors.New(ccerrors.KindUncacheableReason, string(ccstats.CalledForPreprocessing))

		case isExtraArgOnly(arg):
			p.extraArgsToHash = append(p.extraArgsToHash, arg)
			p.compilerArgs = append(p.compilerArgs, arg)
			continue

		case strings.HasPrefix(arg, "-") || strings.HasPrefix(arg, "/"):
			if err := p.routeClassified(argv, &i, req); err != nil {
				return err
			}
			continue

		default:
			// A bare argument: either the source file or a positional
			// value already consumed by TakesArg handling above.
			if sawSource {
				return ccerrors.New(ccerrors.KindUncacheableReason, string(ccstats.MultipleSourceFiles))
			}
			req.SourcePath = arg
			sawSource = true
			p.compilerArgs = append(p.compilerArgs, arg)
			continue
		}
	}

	if langOverrideSet {
		req.ActualLanguage = langOverride
	}
	return nil
}

func isExtraArgOnly(arg string) bool {
	if extraArgsToHashOptions[arg] {
		return true
	}
	for _, prefix := range extraArgsToHashPrefixes {
		if strings.HasPrefix(arg, prefix) {
			return true
		}
	}
	return false
}

// isUpperTail reports whether s's final character run after "-x" forms an
// all-uppercase token (the Intel -xCODE convention, spec.md §4.2).
func isUpperTail(s string) bool {
	if s == "" {
		return false
	}
	return strings.ToUpper(s) == s && strings.ToLower(s) != s
}

func normalizeGluedEquals(arg, opt string) string {
	// "-MF=foo" normalizes to "-MFfoo" (spec.md §4.2).
	rest := strings.TrimPrefix(arg, opt)
	if strings.HasPrefix(rest, "=") {
		return opt + strings.TrimPrefix(rest, "=")
	}
	return arg
}

func stripGlued(arg, opt string) string {
	return strings.TrimPrefix(strings.TrimPrefix(arg, opt), "=")
}

// routeClassified handles a GCC/Clang/MSVC-style option by consulting the
// optclass table(s), rewriting path-valued options, and routing the
// argument (and its value, if any): AffectsCPP options go into
// preprocessorArgs and compilerArgs, unknown options into compilerArgs and
// extraArgsToHash, and all other options into compilerArgs only. No branch
// appends to both preprocessorArgs and extraArgsToHash, which is how the
// disjointness invariant (spec.md §8 invariant 2) holds.
//
// i is the scan loop's cursor into argv; when the matched option takes a
// separate-form argument (e.g. "-I /usr/include", as opposed to the glued
// "-I/usr/include"), *i is advanced past the consumed value so the scan
// loop does not also see it as a bare positional argument.
func (p *processor) routeClassified(argv []string, i *int, req *CompilationRequest) error {
	arg := argv[*i]
	var opt *optclass.Option
	var value string
	var matchedConcat bool
	if p.compilerType == CompilerMSVC || strings.HasPrefix(arg, "/") {
		opt, value, matchedConcat = optclass.ClassifyMSVC(arg)
	} else {
		opt, value, matchedConcat = optclass.Classify(arg)
	}

	if opt == nil {
		// Unknown option: too-hard-by-default would be overly strict for
		// arbitrary forwarded flags (e.g. -Wall); only options the table
		// explicitly marks are rejected. Unknown options are passed
		// through to the compiler and, conservatively, hashed.
		p.compilerArgs = append(p.compilerArgs, arg)
		p.extraArgsToHash = append(p.extraArgsToHash, arg)
		return nil
	}

	if optclass.Is(opt, optclass.TooHard) {
		return ccerrors.New(ccerrors.KindUnsupportedCompilerOpt, string(ccstats.UnsupportedCompilerOption))
	}
	if optclass.Is(opt, optclass.TooHardDirect) {
		p.directModeDisabled = true
	}

	separate := !matchedConcat && optclass.Is(opt, optclass.TakesArg)
	if separate {
		if *i+1 >= len(argv) {
			return ccerrors.New(ccerrors.KindBadCompilerArguments, string(ccstats.BadCompilerArguments))
		}
		*i++
		value = argv[*i]
	}

	full := arg
	if optclass.Is(opt, optclass.TakesPath) {
		rewritten := RewriteBaseDir(value, p.cfg.BaseDir, p.cfg.Cwd)
		if matchedConcat {
			full = opt.Name + rewritten
		}
		p.normalizeRules = append(p.normalizeRules, opt.Name+": "+value+" -> "+rewritten)
		value = rewritten
	}

	if optclass.Is(opt, optclass.AffectsCPP) {
		p.preprocessorArgs = append(p.preprocessorArgs, full)
		if separate {
			p.preprocessorArgs = append(p.preprocessorArgs, value)
		}
	}
	p.compilerArgs = append(p.compilerArgs, full)
	if separate {
		p.compilerArgs = append(p.compilerArgs, value)
	}
	return nil
}
