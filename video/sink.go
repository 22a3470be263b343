package video

import (
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-annotator/logger"
)

// ErrSinkWrite is returned when a frame cannot be appended or the container cannot be finalized.
var ErrSinkWrite = errors.New("sink write failed")

const (
	// DefaultCodec is the FourCC used for output containers.
	DefaultCodec = "MJPG"
	// DefaultExt is the output container extension.
	DefaultExt = ".avi"
)

// Sink appends frames to an output container in call order.
type Sink interface {
	Write(f Frame) error
	// Close finalizes the container. It is safe to call more than once.
	Close() error
	// Written is the number of frames appended so far.
	Written() int
}

// Writer is a Sink backed by gocv.VideoWriter.
type Writer struct {
	path    string
	w       *gocv.VideoWriter
	size    image.Point
	written int
	resized int
	closed  bool
}

// OpenWriter creates the output container with the source's frame rate and size.
//
// Arguments:
//   - path: Output file; its directory is created if needed.
//   - codec: FourCC, DefaultCodec when empty.
//   - info: Stream metadata of the source.
//
// Returns:
//   - The writer, or ErrSinkWrite (wrapped) if the container cannot be created.
func OpenWriter(path, codec string, info StreamInfo) (*Writer, error) {
	if codec == "" {
		codec = DefaultCodec
	}
	if info.Width <= 0 || info.Height <= 0 || info.FPS <= 0 {
		return nil, errors.Wrapf(ErrSinkWrite, "invalid stream info %+v", info)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrapf(ErrSinkWrite, "create output directory: %v", err)
	}

	w, err := gocv.VideoWriterFile(path, codec, info.FPS, info.Width, info.Height, true)
	if err != nil {
		return nil, errors.Wrapf(ErrSinkWrite, "open %s: %v", path, err)
	}
	if !w.IsOpened() {
		w.Close()
		return nil, errors.Wrapf(ErrSinkWrite, "open %s: codec %s unavailable", path, codec)
	}

	logger.WithComponent("video").Info().
		Str("path", path).
		Str("codec", codec).
		Float64("fps", info.FPS).
		Int("width", info.Width).
		Int("height", info.Height).
		Msg("sink opened")

	return &Writer{path: path, w: w, size: info.Size()}, nil
}

// Path is the output file.
func (w *Writer) Path() string { return w.path }

// Written implements Sink.
func (w *Writer) Written() int { return w.written }

// Write implements Sink. Frames of a different size are resized to the sink size first.
func (w *Writer) Write(f Frame) error {
	if w.closed {
		return errors.Wrapf(ErrSinkWrite, "frame %d: sink closed", f.Index)
	}
	if f.Mat.Empty() {
		return errors.Wrapf(ErrSinkWrite, "frame %d: empty", f.Index)
	}

	img := f.Mat
	if f.Size() != w.size {
		resized := gocv.NewMat()
		defer resized.Close()
		gocv.Resize(f.Mat, &resized, w.size, 0, 0, gocv.InterpolationLinear)
		img = resized
		w.resized++
	}

	if err := w.w.Write(img); err != nil {
		return errors.Wrapf(ErrSinkWrite, "frame %d: %v", f.Index, err)
	}
	w.written++
	return nil
}

// Close implements Sink.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	logger.WithComponent("video").Info().
		Str("path", w.path).
		Int("frames", w.written).
		Int("resized", w.resized).
		Msg("sink finalized")

	if err := w.w.Close(); err != nil {
		return errors.Wrapf(ErrSinkWrite, "finalize %s: %v", w.path, err)
	}
	return nil
}

// OutputPath names the annotated output for an input: <dir>/<basename>_output<ext>.
//
// Arguments:
//   - input: Input container or image directory.
//   - dir: Output directory; the input's own directory when empty.
//   - ext: Container extension including the dot; DefaultExt when empty.
func OutputPath(input, dir, ext string) string {
	if ext == "" {
		ext = DefaultExt
	}
	clean := filepath.Clean(input)
	base := filepath.Base(clean)
	if st, err := os.Stat(clean); err != nil || !st.IsDir() {
		base = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if dir == "" {
		dir = filepath.Dir(clean)
	}
	return filepath.Join(dir, base+"_output"+ext)
}
