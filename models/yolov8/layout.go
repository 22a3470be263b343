// Package yolov8 - Ultralytics YOLOv8 output layout.
package yolov8

import (
	"image"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

const (
	// ScoreOffset is the first class score column once the output is transposed. There is
	// no objectness column.
	ScoreOffset = 4
	// MaskCoefficients is the number of columns a segmentation head appends after the
	// class scores.
	MaskCoefficients = 32
)

// Columns returns the row width of a [1, 4+C, N] or [4+C, N] output shape.
func Columns(shape []int) (int, error) {
	dims := shape
	if len(dims) == 3 && dims[0] == 1 {
		dims = dims[1:]
	}
	if len(dims) != 2 || dims[0] <= ScoreOffset {
		return 0, errors.Errorf("yolov8 output shape %v is not [1, 4+C, N]", shape)
	}
	return dims[0], nil
}

// Rows converts a [1, 4+C, N] (or [4+C, N]) output into N rows of 4+C columns with the
// box normalized to the network input.
//
// The exported graph emits one column per candidate and box values in input pixels. The
// source slice is not modified.
//
// Arguments:
//   - shape: Output dimensions.
//   - data: Output values.
//   - input: Network input size used to normalize cx, w (by X) and cy, h (by Y).
//
// Returns:
//   - Row count, column count and the row-major values.
func Rows(shape []int, data []float32, input image.Point) (int, int, []float32, error) {
	dims := shape
	if len(dims) == 3 && dims[0] == 1 {
		dims = dims[1:]
	}
	if len(dims) != 2 {
		return 0, 0, nil, errors.Errorf("yolov8 output shape %v is not [1, 4+C, N]", shape)
	}
	cols, rows := dims[0], dims[1]
	if cols <= ScoreOffset || rows < 0 {
		return 0, 0, nil, errors.Errorf("yolov8 output shape %v has too few channels", shape)
	}
	if cols*rows != len(data) {
		return 0, 0, nil, errors.Errorf("yolov8 output shape %v does not match %d values", shape, len(data))
	}
	if input.X <= 0 || input.Y <= 0 {
		return 0, 0, nil, errors.Errorf("invalid input size %v", input)
	}
	if rows == 0 {
		return 0, cols, nil, nil
	}

	backing := make([]float32, len(data))
	copy(backing, data)

	t := tensor.New(tensor.WithShape(cols, rows), tensor.WithBacking(backing))
	if err := t.T(); err != nil {
		return 0, 0, nil, errors.Wrap(err, "transpose yolov8 output")
	}
	if err := t.Transpose(); err != nil {
		return 0, 0, nil, errors.Wrap(err, "materialize yolov8 transpose")
	}
	out, ok := t.Data().([]float32)
	if !ok {
		return 0, 0, nil, errors.New("yolov8 output is not float32")
	}

	sx, sy := 1/float32(input.X), 1/float32(input.Y)
	for i := 0; i < rows; i++ {
		r := out[i*cols : i*cols+4]
		r[0] *= sx
		r[1] *= sy
		r[2] *= sx
		r[3] *= sy
	}

	return rows, cols, out, nil
}
