package video

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-annotator/logger"
)

// ImageFile is one frame file of an image sequence.
type ImageFile struct {
	// Path is the path to the image file.
	Path string
	// Frame is the number parsed from the file name.
	Frame int
}

// ListImageFiles finds every frame-<n>.<jpg|jpeg|png|bmp> file in dir, ordered by n.
//
// Arguments:
//   - dir: Directory path containing image files.
//
// Returns:
//   - The frame files.
//   - An error if the directory cannot be read.
func ListImageFiles(dir string) ([]ImageFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []ImageFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		ext := strings.ToLower(filepath.Ext(name))
		switch ext {
		case ".jpg", ".jpeg", ".png", ".bmp":
		default:
			continue
		}

		stem := strings.TrimSuffix(name, filepath.Ext(name))
		if !strings.HasPrefix(stem, "frame-") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(stem, "frame-"))
		if err != nil {
			continue
		}
		files = append(files, ImageFile{Path: filepath.Join(dir, name), Frame: n})
	}

	sort.SliceStable(files, func(i, j int) bool {
		return files[i].Frame < files[j].Frame
	})

	return files, nil
}

// Sequence reads a directory of numbered frame images, decoding each lazily.
type Sequence struct {
	dir   string
	files []ImageFile
	info  StreamInfo
	next  int
	done  bool
}

// OpenSequence lists the frames in dir and reads the first one for its size.
//
// Arguments:
//   - dir: Directory of frame-<n> images.
//   - fps: Frame rate to report; DefaultFPS when not positive.
//
// Returns:
//   - The source, or ErrSourceOpen (wrapped) if there are no readable frames.
func OpenSequence(dir string, fps float64) (*Sequence, error) {
	files, err := ListImageFiles(dir)
	if err != nil {
		return nil, errors.Wrapf(ErrSourceOpen, "%s: %v", dir, err)
	}
	if len(files) == 0 {
		return nil, errors.Wrapf(ErrSourceOpen, "%s: no frame-<n> images", dir)
	}

	first := gocv.IMRead(files[0].Path, gocv.IMReadColor)
	defer first.Close()
	if first.Empty() {
		return nil, errors.Wrapf(ErrSourceOpen, "%s: cannot decode %s", dir, files[0].Path)
	}

	if fps <= 0 {
		fps = DefaultFPS
	}
	info := StreamInfo{FPS: fps, Width: first.Cols(), Height: first.Rows()}

	logger.WithComponent("video").Info().
		Str("path", dir).
		Int("frames", len(files)).
		Float64("fps", info.FPS).
		Int("width", info.Width).
		Int("height", info.Height).
		Msg("image sequence opened")

	return &Sequence{dir: dir, files: files, info: info}, nil
}

// Info implements Source.
func (s *Sequence) Info() StreamInfo { return s.info }

// Len is the number of frames in the sequence.
func (s *Sequence) Len() int { return len(s.files) }

// Next implements Source.
func (s *Sequence) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if s.done || s.next >= len(s.files) {
		s.done = true
		return Frame{}, io.EOF
	}

	file := s.files[s.next]
	mat := gocv.IMRead(file.Path, gocv.IMReadColor)
	if mat.Empty() {
		mat.Close()
		s.done = true
		return Frame{}, errors.Wrapf(ErrFrameDecode, "%s", file.Path)
	}

	f := Frame{Mat: mat, Index: s.next}
	s.next++
	return f, nil
}

// Close implements Source.
func (s *Sequence) Close() error {
	s.done = true
	return nil
}
