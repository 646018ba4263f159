package recording

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/internal/frame"
)

func TestClipFileName(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	assert.Equal(t, "detection_20260314_092653.mp4", ClipFileName(ts))
}

func TestFFmpegWriterCreatesOutputDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir() + "/clips/nested"
	w, err := NewFFmpegWriter(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, w.OutputDir)
	assert.DirExists(t, dir)
}

func TestFFmpegWriterRejectsEmptySequence(t *testing.T) {
	t.Parallel()

	w, err := NewFFmpegWriter(t.TempDir())
	require.NoError(t, err)

	_, err = w.Write(nil, 10, time.Now(), true)
	assert.ErrorIs(t, err, ErrEmptyClip)
}

func TestFFmpegWriterRejectsBadFrameRate(t *testing.T) {
	t.Parallel()

	w, err := NewFFmpegWriter(t.TempDir())
	require.NoError(t, err)

	frames := []*frame.Frame{frame.NewRGB(8, 8, time.Now())}
	_, err = w.Write(frames, 0, time.Now(), true)
	assert.Error(t, err)
}

func TestFFmpegWriterRejectsGrayInColorSequence(t *testing.T) {
	t.Parallel()

	w, err := NewFFmpegWriter(t.TempDir())
	require.NoError(t, err)

	frames := []*frame.Frame{
		frame.NewRGB(8, 8, time.Now()),
		frame.NewGray(8, 8, time.Now()),
	}
	_, err = w.Write(frames, 10, time.Now(), true)
	assert.Error(t, err)
}
