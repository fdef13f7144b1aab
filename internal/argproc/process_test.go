package argproc

import (
	"testing"

	"github.com/ccachego/ccache/internal/ccerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessSimpleCompile(t *testing.T) {
	req, err := Process("/usr/bin/gcc", CompilerGCC, []string{"-c", "hello.c", "-o", "hello.o"}, Config{})
	require.NoError(t, err)
	assert.Equal(t, "hello.c", req.SourcePath)
	assert.Equal(t, "hello.o", req.OutputObj)
	assert.Equal(t, "c", req.ActualLanguage)
	assert.True(t, req.ExpectOutputObj)
}

func TestProcessMultipleSourceFiles(t *testing.T) {
	_, err := Process("/usr/bin/gcc", CompilerGCC, []string{"-c", "a.c", "b.c"}, Config{})
	require.Error(t, err)
	e, ok := ccerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, ccerrors.KindUncacheableReason, e.Kind)
}

func TestProcessOutputToStdoutRejected(t *testing.T) {
	_, err := Process("/usr/bin/gcc", CompilerGCC, []string{"-c", "a.c", "-o", "-"}, Config{})
	require.Error(t, err)
	e, _ := ccerrors.As(err)
	assert.Equal(t, "output_to_stdout", e.Reason)
}

func TestProcessDashECalledForPreprocessing(t *testing.T) {
	_, err := Process("/usr/bin/gcc", CompilerGCC, []string{"-E", "a.c"}, Config{})
	require.Error(t, err)
	e, _ := ccerrors.As(err)
	assert.Equal(t, "called_for_preprocessing", e.Reason)
}

func TestProcessPreprocessorArgsDisjointFromExtraArgs(t *testing.T) {
	req, err := Process("/usr/bin/gcc", CompilerGCC, []string{
		"-Ifoo", "-Werror", "-Xlinker", "--as-needed", "-c", "a.c",
	}, Config{})
	require.NoError(t, err)

	inPreprocessor := map[string]bool{}
	for _, a := range req.PreprocessorArgs {
		inPreprocessor[a] = true
	}
	for _, a := range req.ExtraArgsToHash {
		assert.False(t, inPreprocessor[a], "arg %q must not be in both preprocessor_args and extra_args_to_hash", a)
	}
	assert.Contains(t, req.ExtraArgsToHash, "-Werror")
	assert.Contains(t, req.ExtraArgsToHash, "-Xlinker")
}

func TestBaseDirRewriting(t *testing.T) {
	req, err := Process("/usr/bin/gcc", CompilerGCC, []string{
		"--sysroot=/tmp/proj/build/foo", "-c", "a.c",
	}, Config{BaseDir: "/", Cwd: "/tmp/proj/build"})
	require.NoError(t, err)
	assert.Contains(t, req.PreprocessorArgs, "--sysroot=foo")
}

func TestProcessSeparateFormIncludePath(t *testing.T) {
	req, err := Process("/usr/bin/gcc", CompilerGCC, []string{
		"-I", "/usr/include", "-c", "a.c",
	}, Config{})
	require.NoError(t, err)
	assert.Equal(t, "a.c", req.SourcePath)
	assert.Contains(t, req.PreprocessorArgs, "-I")
	assert.Contains(t, req.PreprocessorArgs, "/usr/include")
	assert.Contains(t, req.CompilerArgs, "-I")
	assert.Contains(t, req.CompilerArgs, "/usr/include")
}

func TestProcessSeparateFormMacroDefine(t *testing.T) {
	req, err := Process("/usr/bin/gcc", CompilerGCC, []string{
		"-D", "FOO=1", "-c", "a.c",
	}, Config{})
	require.NoError(t, err)
	assert.Contains(t, req.CompilerArgs, "-D")
	assert.Contains(t, req.CompilerArgs, "FOO=1")
}

func TestXarchMixConflict(t *testing.T) {
	_, err := Process("/usr/bin/gcc", CompilerGCC, []string{
		"-Xarch_host", "-Xarch_device", "-c", "a.c",
	}, Config{})
	require.Error(t, err)
	e, _ := ccerrors.As(err)
	assert.Equal(t, ccerrors.KindUnsupportedCompilerOpt, e.Kind)
}

func TestMFSpacedAndGluedEquivalence(t *testing.T) {
	reqSpaced, err := Process("/usr/bin/gcc", CompilerGCC, []string{"-MF", "a.d", "-c", "a.c"}, Config{})
	require.NoError(t, err)
	reqGlued, err := Process("/usr/bin/gcc", CompilerGCC, []string{"-MF=a.d", "-c", "a.c"}, Config{})
	require.NoError(t, err)
	assert.Equal(t, reqSpaced.OutputDep, reqGlued.OutputDep)
}
