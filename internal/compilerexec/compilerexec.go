// Package compilerexec implements component K: spawning the real
// compiler (or preprocessor) child process and capturing its output
// (spec.md §4.9 "Compiler invocation").
package compilerexec

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
)

// Result is the outcome of one compiler invocation.
type Result struct {
	ExitStatus int
	Stdout     []byte
	Stderr     []byte
	// DiagnosticsColorFailed is set when a gcc invocation was retried
	// without -fdiagnostics-color (spec.md §4.9).
	DiagnosticsColorFailed bool
}

// Request describes one invocation.
type Request struct {
	Argv         []string
	Dir          string
	CaptureStdout bool
	// PreprocessorStderr, if non-nil, is prepended to the compiler's own
	// stderr (spec.md §4.9: "stderr from a preceding preprocessor run, if
	// any, is prepended to compiler stderr").
	PreprocessorStderr []byte
	// IsGCC gates the -fdiagnostics-color retry quirk, which is
	// documented as gcc-specific.
	IsGCC bool
}

// Run executes req.Argv, capturing output to memory (the real tool
// redirects to unique temp files in temporary_dir; buffering here is
// equivalent for a Go implementation and avoids a cleanup-on-panic
// hazard from leaked temp files).
func Run(ctx context.Context, req Request) (Result, error) {
	res, err := run(ctx, req.Argv, req.Dir, req.CaptureStdout)
	if err != nil {
		return res, err
	}

	if req.IsGCC && res.ExitStatus != 0 && bytes.Contains(res.Stderr, []byte("fdiagnostics-color")) {
		retryArgv := removeDiagnosticsColor(req.Argv)
		res, err = run(ctx, retryArgv, req.Dir, req.CaptureStdout)
		if err != nil {
			return res, err
		}
		res.DiagnosticsColorFailed = true
	}

	if len(req.PreprocessorStderr) > 0 {
		res.Stderr = append(append([]byte{}, req.PreprocessorStderr...), res.Stderr...)
	}
	return res, nil
}

func run(ctx context.Context, argv []string, dir string, captureStdout bool) (Result, error) {
	if len(argv) == 0 {
		return Result{}, errors.New("compilerexec: empty argv")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	configurePlatform(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stderr = &stderr
	if captureStdout {
		cmd.Stdout = &stdout
	} else {
		devNull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
		if err != nil {
			return Result{}, errors.Wrap(err, "open null device")
		}
		defer devNull.Close()
		cmd.Stdout = devNull
	}

	err := cmd.Run()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		res.ExitStatus = 0
	case errors.As(err, &exitErr):
		res.ExitStatus = exitErr.ExitCode()
	default:
		return res, errors.Wrapf(err, "spawn %q", argv[0])
	}
	return res, nil
}

func removeDiagnosticsColor(argv []string) []string {
	out := make([]string, 0, len(argv))
	for _, a := range argv {
		if a == "-fdiagnostics-color" || strings.HasPrefix(a, "-fdiagnostics-color=") {
			continue
		}
		out = append(out, a)
	}
	return out
}
