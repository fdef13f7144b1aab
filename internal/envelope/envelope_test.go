package envelope

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTripNone(t *testing.T) {
	hdr := Envelope{
		EntryType:     EntryTypeResult,
		Compression:   CompressionNone,
		SelfContained: true,
		CreationTime:  1234,
		CCacheVersion: "5.0-student",
		Namespace:     "",
	}
	payload := []byte("hello result entry payload")

	var buf bytes.Buffer
	warn, err := Write(&buf, hdr, 0, payload)
	require.NoError(t, err)
	assert.Empty(t, warn)

	got, gotPayload, err := Read(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, payload, gotPayload)
	assert.Equal(t, hdr.EntryType, got.EntryType)
	assert.Equal(t, hdr.CCacheVersion, got.CCacheVersion)
	assert.True(t, got.SelfContained)
}

func TestWriteReadRoundTripZstd(t *testing.T) {
	hdr := Envelope{EntryType: EntryTypeManifest, Compression: CompressionZstd}
	payload := bytes.Repeat([]byte("abcabcabcabc"), 100)

	var buf bytes.Buffer
	_, err := Write(&buf, hdr, 19, payload)
	require.NoError(t, err)

	_, gotPayload, err := Read(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, payload, gotPayload)
	assert.Less(t, buf.Len(), len(payload), "compressed envelope should be smaller than the repetitive payload")
}

func TestCompressionLevelClampedHigh(t *testing.T) {
	hdr := Envelope{Compression: CompressionZstd}
	var buf bytes.Buffer
	warn, err := Write(&buf, hdr, 99, []byte("x"))
	require.NoError(t, err)
	assert.Contains(t, warn, "clamped")
}

func TestChecksumDetectsBitFlip(t *testing.T) {
	hdr := Envelope{Compression: CompressionNone}
	var buf bytes.Buffer
	_, err := Write(&buf, hdr, 0, []byte("integrity matters"))
	require.NoError(t, err)

	corrupted := buf.Bytes()
	// Flip a bit inside the payload region (after the fixed header+strings).
	corrupted[len(corrupted)-9] ^= 0x01

	_, _, err = Read(corrupted)
	assert.ErrorIs(t, err, ErrBadInputFile)
}

func TestReadRejectsBadMagic(t *testing.T) {
	_, _, err := Read([]byte("not-an-envelope-at-all"))
	assert.ErrorIs(t, err, ErrBadInputFile)
}

func TestReadRejectsVersionMismatch(t *testing.T) {
	hdr := Envelope{Compression: CompressionNone}
	var buf bytes.Buffer
	_, err := Write(&buf, hdr, 0, []byte("v"))
	require.NoError(t, err)

	data := buf.Bytes()
	data[4] = FormatVersion + 1
	_, _, err = Read(data)
	assert.ErrorIs(t, err, ErrBadInputFile)
}
