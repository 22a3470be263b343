package video

import (
	"context"
	"image"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func testFrame(index, width, height int) Frame {
	shade := float64(20 * (index % 10))
	return Frame{
		Mat:   gocv.NewMatWithSizeFromScalar(gocv.NewScalar(shade, 255-shade, 128, 0), height, width, gocv.MatTypeCV8UC3),
		Index: index,
	}
}

// writeClip writes n frames to an MJPG container and returns its path.
func writeClip(t *testing.T, dir string, n int, info StreamInfo) string {
	t.Helper()
	path := filepath.Join(dir, "clip.avi")
	w, err := OpenWriter(path, DefaultCodec, info)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		f := testFrame(i, info.Width, info.Height)
		require.NoError(t, w.Write(f))
		f.Close()
	}
	require.NoError(t, w.Close())
	assert.Equal(t, n, w.Written())
	return path
}

// TestWriterCaptureRoundTrip writes a clip and reads it back with the same metadata.
func TestWriterCaptureRoundTrip(t *testing.T) {
	info := StreamInfo{FPS: 12, Width: 64, Height: 48}
	path := writeClip(t, t.TempDir(), 10, info)

	src, err := OpenCapture(path)
	require.NoError(t, err)
	defer src.Close()

	assert.Equal(t, 64, src.Info().Width)
	assert.Equal(t, 48, src.Info().Height)
	assert.InDelta(t, 12.0, src.Info().FPS, 0.01)

	ctx := context.Background()
	count := 0
	for {
		f, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		assert.Equal(t, count, f.Index)
		assert.Equal(t, image.Point{X: 64, Y: 48}, f.Size())
		f.Close()
		count++
	}
	assert.Equal(t, 10, count)

	// Not restartable.
	_, err = src.Next(ctx)
	assert.True(t, errors.Is(err, io.EOF))
}

// TestWriterResizesMismatchedFrames checks frames of another size are scaled to the sink size.
func TestWriterResizesMismatchedFrames(t *testing.T) {
	info := StreamInfo{FPS: 10, Width: 64, Height: 48}
	path := filepath.Join(t.TempDir(), "out.avi")

	w, err := OpenWriter(path, "", info)
	require.NoError(t, err)
	f := testFrame(0, 100, 30)
	defer f.Close()
	require.NoError(t, w.Write(f))
	require.NoError(t, w.Close())
	require.NoError(t, w.Close(), "close is idempotent")

	err = w.Write(f)
	assert.True(t, errors.Is(err, ErrSinkWrite))

	src, err := OpenCapture(path)
	require.NoError(t, err)
	defer src.Close()
	got, err := src.Next(context.Background())
	require.NoError(t, err)
	defer got.Close()
	assert.Equal(t, image.Point{X: 64, Y: 48}, got.Size())
}

func TestOpenWriterInvalid(t *testing.T) {
	_, err := OpenWriter(filepath.Join(t.TempDir(), "x.avi"), DefaultCodec, StreamInfo{FPS: 0, Width: 10, Height: 10})
	assert.True(t, errors.Is(err, ErrSinkWrite))
}

// TestOpenCaptureFailures checks missing and unreadable inputs are open errors.
func TestOpenCaptureFailures(t *testing.T) {
	dir := t.TempDir()

	_, err := OpenCapture(filepath.Join(dir, "missing.mp4"))
	assert.True(t, errors.Is(err, ErrSourceOpen))

	junk := filepath.Join(dir, "junk.mp4")
	require.NoError(t, os.WriteFile(junk, []byte("definitely not a video"), 0o644))
	_, err = OpenCapture(junk)
	assert.True(t, errors.Is(err, ErrSourceOpen))
}

// TestSequence reads numbered frames in numeric order and stops at a corrupt one.
func TestSequence(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []int{10, 2, 1} {
		f := testFrame(n, 32, 24)
		require.True(t, gocv.IMWrite(filepath.Join(dir, "frame-"+strconv.Itoa(n)+".png"), f.Mat))
		f.Close()
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "frame-11.jpg"), []byte("corrupt"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cover.png"), []byte("skip"), 0o644))

	files, err := ListImageFiles(dir)
	require.NoError(t, err)
	require.Len(t, files, 4)
	assert.Equal(t, []int{1, 2, 10, 11}, []int{files[0].Frame, files[1].Frame, files[2].Frame, files[3].Frame})

	src, err := Open(dir, 5)
	require.NoError(t, err)
	defer src.Close()
	assert.Equal(t, StreamInfo{FPS: 5, Width: 32, Height: 24}, src.Info())

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		f, err := src.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, f.Index)
		f.Close()
	}
	_, err = src.Next(ctx)
	assert.True(t, errors.Is(err, ErrFrameDecode))
	_, err = src.Next(ctx)
	assert.True(t, errors.Is(err, io.EOF))
}

func TestOpenSequenceEmpty(t *testing.T) {
	_, err := OpenSequence(t.TempDir(), 25)
	assert.True(t, errors.Is(err, ErrSourceOpen))
}

// TestSourceHonoursContext checks a cancelled context stops reading.
func TestSourceHonoursContext(t *testing.T) {
	dir := t.TempDir()
	f := testFrame(0, 16, 16)
	require.True(t, gocv.IMWrite(filepath.Join(dir, "frame-0.png"), f.Mat))
	f.Close()

	src, err := OpenSequence(dir, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultFPS, src.Info().FPS)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOutputPath(t *testing.T) {
	dir := t.TempDir()
	seq := filepath.Join(dir, "frames")
	require.NoError(t, os.Mkdir(seq, 0o755))

	tests := []struct {
		input, dir, ext, want string
	}{
		{"/videos/clip.mp4", "", "", "/videos/clip_output.avi"},
		{"/videos/my.clip.mkv", "", ".avi", "/videos/my.clip_output.avi"},
		{"/videos/clip.mp4", "/out", ".mp4", "/out/clip_output.mp4"},
		{"relative/clip", "", "", "relative/clip_output.avi"},
		{seq, "", "", filepath.Join(dir, "frames_output.avi")},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, OutputPath(tt.input, tt.dir, tt.ext), tt.input)
	}
}
