package resultentry

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeExtractRoundTrip(t *testing.T) {
	r := &Result{Parts: []Part{
		{Type: FileTypeObject, Payload: []byte("obj-bytes")},
		{Type: FileTypeStderrOutput, Payload: []byte("")},
		{Type: FileTypeDependency, Payload: []byte("a.o: a.c a.h\n")},
	}}
	require.NoError(t, r.Validate(true))

	var buf bytes.Buffer
	require.NoError(t, r.Serialize(&buf))

	got, err := Extract(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, r.Parts, got.Parts)
}

func TestValidateRejectsDuplicateType(t *testing.T) {
	r := &Result{Parts: []Part{
		{Type: FileTypeObject, Payload: []byte("a")},
		{Type: FileTypeObject, Payload: []byte("b")},
	}}
	assert.Error(t, r.Validate(false))
}

func TestValidateRequiresObjectWhenExpected(t *testing.T) {
	r := &Result{Parts: []Part{{Type: FileTypeStderrOutput, Payload: []byte("x")}}}
	assert.Error(t, r.Validate(true))
	assert.NoError(t, r.Validate(false))
}

func TestExtractRejectsTruncated(t *testing.T) {
	_, err := Extract([]byte{0x00, 0x00})
	assert.Error(t, err)
}

func TestMaterializeWritesNamedFiles(t *testing.T) {
	dir := t.TempDir()
	r := &Result{Parts: []Part{
		{Type: FileTypeObject, Payload: []byte("obj")},
		{Type: FileTypeDependency, Payload: []byte("dep")},
	}}
	objPath := filepath.Join(dir, "a.o")
	depPath := filepath.Join(dir, "a.d")
	require.NoError(t, Materialize(r, FileNames{
		FileTypeObject:     objPath,
		FileTypeDependency: depPath,
	}))

	b, err := os.ReadFile(objPath)
	require.NoError(t, err)
	assert.Equal(t, "obj", string(b))
}
