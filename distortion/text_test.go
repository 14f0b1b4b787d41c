package distortion

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistortTextHappyPath(t *testing.T) {
	var out bytes.Buffer
	err := DistortText(bytes.NewReader([]byte("hello world\n")), &out, 5)
	require.NoError(t, err)
	assert.Equal(t, "hello world\n", out.String())
}

func TestDistortTextFiltersShortWords(t *testing.T) {
	var out bytes.Buffer
	err := DistortText(bytes.NewReader([]byte("a bb ccc dddd eeeee\n")), &out, 4)
	require.NoError(t, err)
	// Every separator is written unconditionally regardless of whether the
	// word it follows was kept, matching enigmalib.c's distort_file_text:
	// "a", "bb" and "ccc" are each dropped but their trailing space survives.
	assert.Equal(t, "   dddd eeeee\n", out.String())
}

func TestDistortTextRejectsZeroFactor(t *testing.T) {
	var out bytes.Buffer
	err := DistortText(bytes.NewReader([]byte("x")), &out, 0)
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	kind, err := Classify("report.txt")
	require.NoError(t, err)
	assert.Equal(t, "Text", kind.String())

	kind, err = Classify("song.wav")
	require.NoError(t, err)
	assert.Equal(t, "Media", kind.String())

	_, err = Classify("archive.zip")
	assert.ErrorIs(t, err, ErrUnknownKind)
}
