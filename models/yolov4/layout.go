// Package yolov4 - Darknet YOLO output layout.
//
// Darknet region/yolo layers as exposed by the OpenCV DNN module are already one row per
// candidate: [cx, cy, w, h, objectness, class scores...], with the box normalized to the
// network input.
package yolov4

import (
	"github.com/pkg/errors"
)

const (
	// ObjectnessIndex is the column holding the objectness score.
	ObjectnessIndex = 4
	// ScoreOffset is the first class score column.
	ScoreOffset = 5
)

// Rows reads the row count and width of a darknet output blob.
//
// Leading unit dimensions (batch) are folded away, so [N, C] and [1, N, C] are both
// accepted.
//
// Arguments:
//   - shape: Blob dimensions.
//   - size: Number of values in the blob.
//
// Returns:
//   - Row and column counts.
//   - An error if the shape does not describe a 2D row table of the given size.
func Rows(shape []int, size int) (int, int, error) {
	dims := shape
	for len(dims) > 2 && dims[0] == 1 {
		dims = dims[1:]
	}
	if len(dims) != 2 {
		return 0, 0, errors.Errorf("darknet output shape %v is not a row table", shape)
	}
	rows, cols := dims[0], dims[1]
	if rows < 0 || cols <= ScoreOffset {
		return 0, 0, errors.Errorf("darknet output shape %v has too few columns", shape)
	}
	if rows*cols != size {
		return 0, 0, errors.Errorf("darknet output shape %v does not match %d values", shape, size)
	}
	return rows, cols, nil
}
