package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ccachego/ccache/internal/argproc"
	"github.com/ccachego/ccache/internal/compilerexec"
)

// selfExePath resolves our own binary's canonical path once, used to
// reject any PATH candidate that is actually a copy/symlink of this tool
// (spec.md §6: "a candidate is rejected if it canonicalizes to our
// exclude_path or is itself a copy of this tool").
func selfExePath() string {
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	real, err := filepath.EvalSymlinks(exe)
	if err != nil {
		return exe
	}
	return real
}

// resolveCompiler finds the real compiler behind name: if name already
// contains a path separator it is used directly, otherwise each $PATH
// directory is searched in order, skipping any candidate that
// canonicalizes to this tool's own binary.
func resolveCompiler(name string) (string, error) {
	self := selfExePath()

	if strings.ContainsRune(name, os.PathSeparator) {
		return canonicalizeIfNotSelf(name, self)
	}

	pathEnv := os.Getenv("PATH")
	for _, dir := range filepath.SplitList(pathEnv) {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err != nil || info.IsDir() {
			continue
		}
		if resolved, err := canonicalizeIfNotSelf(candidate, self); err == nil {
			return resolved, nil
		}
	}
	return "", fmt.Errorf("ccache: could not find %q on PATH (excluding this tool's own binary)", name)
}

// canonicalizeIfNotSelf returns candidate's real path, or an error if it
// resolves to our own binary.
func canonicalizeIfNotSelf(candidate, self string) (string, error) {
	real, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		real = candidate
	}
	if self != "" && real == self {
		return "", fmt.Errorf("candidate %q is this tool's own binary", candidate)
	}
	return real, nil
}

// runMasquerade implements the compiler-masquerade invocation path:
// resolve the compiler, classify argv via argproc, and hand the result
// to the compile engine (component J), falling back to a plain exec of
// the original argv on any uncacheable/classification failure per
// spec.md §7's "the build never worsens" fallback rule.
func runMasquerade(compilerName string, rest []string) int {
	cfg, err := loadConfig()
	if err != nil {
		log.WithError(err).Error("failed to load config; falling back to plain exec")
		return execOriginal(compilerName, rest)
	}

	compilerPath, err := resolveCompiler(compilerName)
	if err != nil {
		log.WithError(err).Error("could not resolve compiler")
		return execOriginal(compilerName, rest)
	}

	compilerType := cfg.CompilerType
	var guessedType argproc.CompilerType
	if compilerType != "" {
		guessedType = argproc.CompilerType(compilerType)
	} else {
		guessedType = argproc.GuessCompilerType(compilerPath)
	}

	cwd, err := os.Getwd()
	if err != nil {
		log.WithError(err).Error("could not get working directory")
		return execOriginal(compilerName, rest)
	}

	req, err := argproc.Process(compilerPath, guessedType, rest, argproc.Config{
		BaseDir:             cfg.BaseDir,
		Cwd:                 cwd,
		CPPExtension:        cfg.CPPExtension,
		Sloppiness:          cfg.ParseSloppiness(),
		HashDir:             cfg.HashDir,
		IgnoreOptions:       ignoreOptionsSet(cfg.IgnoreOptions),
		MSVCDepPrefix:       cfg.MSVCDepPrefix,
		ResponseFileWindows: cfg.ResponseFileFormat == "windows",
	})
	if err != nil {
		log.WithField("reason", err.Error()).Debug("uncacheable invocation; falling back to plain exec")
		return execOriginal(compilerPath, rest)
	}

	eng, err := newEngine(cfg)
	if err != nil {
		log.WithError(err).Error("failed to construct cache engine")
		return execOriginal(compilerPath, rest)
	}
	if eng.Remote != nil {
		defer eng.Remote.Stop()
	}
	if eng.Inode != nil {
		defer eng.Inode.Close()
	}

	outcome, err := eng.Invoke(context.Background(), compilerPath, guessedType, req, cwd)
	if err != nil {
		log.WithError(err).Error("cache engine failed; falling back to plain exec")
		return execOriginal(compilerPath, rest)
	}

	os.Stdout.Write(outcome.Stdout)
	os.Stderr.Write(outcome.Stderr)
	return outcome.ExitStatus
}

func ignoreOptionsSet(csv string) map[string]bool {
	out := map[string]bool{}
	for _, tok := range strings.Split(csv, ",") {
		tok = strings.TrimSpace(tok)
		if tok != "" {
			out[tok] = true
		}
	}
	return out
}

// execOriginal runs the compiler directly with no cache interaction
// whatsoever (classification failure, config failure, engine
// construction failure) so a problem in this tool never breaks a build.
func execOriginal(compilerPath string, rest []string) int {
	argv := append([]string{compilerPath}, rest...)
	cwd, _ := os.Getwd()
	res, err := compilerexec.Run(context.Background(), compilerexec.Request{Argv: argv, Dir: cwd})
	if err != nil {
		log.WithError(err).Error("failed to exec original compiler invocation")
		return 1
	}
	os.Stdout.Write(res.Stdout)
	os.Stderr.Write(res.Stderr)
	return res.ExitStatus
}
