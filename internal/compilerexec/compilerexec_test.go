package compilerexec

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCapturesStdoutAndExitStatus(t *testing.T) {
	res, err := Run(context.Background(), Request{
		Argv:          []string{"sh", "-c", "echo hello; exit 0"},
		CaptureStdout: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitStatus)
	assert.Contains(t, string(res.Stdout), "hello")
}

func TestRunReportsNonZeroExit(t *testing.T) {
	res, err := Run(context.Background(), Request{
		Argv: []string{"sh", "-c", "exit 7"},
	})
	require.NoError(t, err)
	assert.Equal(t, 7, res.ExitStatus)
}

func TestRunPrependsPreprocessorStderr(t *testing.T) {
	res, err := Run(context.Background(), Request{
		Argv:               []string{"sh", "-c", "echo late >&2"},
		PreprocessorStderr: []byte("early\n"),
	})
	require.NoError(t, err)
	assert.Equal(t, "early\nlate\n", string(res.Stderr))
}

func TestRemoveDiagnosticsColorStripsFlag(t *testing.T) {
	got := removeDiagnosticsColor([]string{"gcc", "-fdiagnostics-color", "-c", "a.c"})
	assert.Equal(t, []string{"gcc", "-c", "a.c"}, got)

	got = removeDiagnosticsColor([]string{"gcc", "-fdiagnostics-color=always", "-c"})
	assert.Equal(t, []string{"gcc", "-c"}, got)
}

func TestRunRetriesOnDiagnosticsColorFailure(t *testing.T) {
	// A shell script standing in for gcc: fails mentioning
	// fdiagnostics-color only when that flag is present in argv.
	script := `
if echo "$@" | grep -q fdiagnostics-color; then
  echo "error: fdiagnostics-color not recognized" >&2
  exit 1
fi
exit 0
`
	res, err := Run(context.Background(), Request{
		Argv:  []string{"sh", "-c", script, "--", "-fdiagnostics-color", "-c", "a.c"},
		IsGCC: true,
	})
	require.NoError(t, err)
	assert.True(t, res.DiagnosticsColorFailed)
	assert.Equal(t, 0, res.ExitStatus)
}
