package video

import (
	"context"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-annotator/logger"
)

var (
	// ErrSourceOpen is returned when the input cannot be opened or reports no usable metadata.
	ErrSourceOpen = errors.New("source open failed")
	// ErrFrameDecode is returned when a frame cannot be decoded. Callers treat it as the
	// end of the stream.
	ErrFrameDecode = errors.New("frame decode failed")
)

// DefaultFPS is used when a container does not report a frame rate.
const DefaultFPS = 25.0

// Source is a finite, non-restartable sequence of frames.
type Source interface {
	// Next returns the next frame, io.EOF once the input is exhausted or ErrFrameDecode if
	// a frame is corrupt. After either error Next keeps returning io.EOF.
	Next(ctx context.Context) (Frame, error)
	// Info is the metadata read at open time. It never changes.
	Info() StreamInfo
	Close() error
}

// Open picks a Sequence for directories and a Capture for everything else.
//
// Arguments:
//   - path: Video container or image directory.
//   - fps: Frame rate for image directories; ignored for containers.
func Open(path string, fps float64) (Source, error) {
	if st, err := os.Stat(path); err == nil && st.IsDir() {
		return OpenSequence(path, fps)
	}
	return OpenCapture(path)
}

// Capture reads frames from a video container through gocv.VideoCapture.
type Capture struct {
	path string
	cap  *gocv.VideoCapture
	info StreamInfo
	next int
	done bool
	log  *zerolog.Logger
}

// OpenCapture opens a video container.
//
// Returns:
//   - The source, or ErrSourceOpen (wrapped) if the container cannot be read.
func OpenCapture(path string) (*Capture, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrapf(ErrSourceOpen, "%s: %v", path, err)
	}

	vc, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, errors.Wrapf(ErrSourceOpen, "%s: %v", path, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, errors.Wrapf(ErrSourceOpen, "%s: not a readable container", path)
	}

	log := logger.WithComponent("video")
	info := StreamInfo{
		FPS:    vc.Get(gocv.VideoCaptureFPS),
		Width:  int(vc.Get(gocv.VideoCaptureFrameWidth)),
		Height: int(vc.Get(gocv.VideoCaptureFrameHeight)),
	}
	if info.Width <= 0 || info.Height <= 0 {
		vc.Close()
		return nil, errors.Wrapf(ErrSourceOpen, "%s: invalid frame size %dx%d", path, info.Width, info.Height)
	}
	if info.FPS <= 0 {
		log.Warn().Str("path", path).Float64("fps", DefaultFPS).Msg("container has no frame rate, using default")
		info.FPS = DefaultFPS
	}

	log.Info().
		Str("path", path).
		Float64("fps", info.FPS).
		Int("width", info.Width).
		Int("height", info.Height).
		Msg("source opened")

	return &Capture{path: path, cap: vc, info: info, log: log}, nil
}

// Info implements Source.
func (c *Capture) Info() StreamInfo { return c.info }

// Next implements Source.
func (c *Capture) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if c.done {
		return Frame{}, io.EOF
	}

	mat := gocv.NewMat()
	if ok := c.cap.Read(&mat); !ok {
		mat.Close()
		c.done = true
		return Frame{}, io.EOF
	}
	if mat.Empty() {
		mat.Close()
		c.done = true
		return Frame{}, errors.Wrapf(ErrFrameDecode, "%s frame %d", c.path, c.next)
	}

	if mat.Cols() != c.info.Width || mat.Rows() != c.info.Height {
		c.log.Warn().
			Int("frame", c.next).
			Int("width", mat.Cols()).
			Int("height", mat.Rows()).
			Msg("frame size differs from stream metadata")
	}

	f := Frame{Mat: mat, Index: c.next}
	c.next++
	return f, nil
}

// Close releases the capture.
func (c *Capture) Close() error {
	c.done = true
	if c.cap == nil {
		return nil
	}
	err := c.cap.Close()
	c.cap = nil
	return err
}
