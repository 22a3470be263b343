// Package models - Model artifact descriptors, variant lookup and label sets.
//
// Everything in this package is resolved once at startup into an immutable
// Descriptor; nothing here scans the filesystem while frames are flowing.
package models

import (
	"image"
	"os"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-annotator/models/yolov4"
	"github.com/nvr-ai/go-annotator/models/yolov8"
)

var (
	// ErrModelNotFound is returned when no usable weights/config pair can be located.
	ErrModelNotFound = errors.New("model not found")
	// ErrUnsupportedVariant is returned for task/size combinations without a box-producing head.
	ErrUnsupportedVariant = errors.New("unsupported model variant")
)

// Format is the serialization format of the model weights.
type Format string

const (
	// FormatDarknet is a .weights/.cfg pair loaded through the OpenCV DNN module.
	FormatDarknet Format = "darknet"
	// FormatONNX is a single .onnx graph executed by onnxruntime.
	FormatONNX Format = "onnx"
)

// ONNXInputSize is the input resolution of stock YOLOv8 exports. A graph with fixed
// spatial input dimensions overrides it at load.
var ONNXInputSize = image.Point{X: 640, Y: 640}

// Layout describes how a model arranges its raw detection output.
type Layout string

const (
	// LayoutYOLOv4 is one row per candidate: [cx, cy, w, h, objectness, class scores...],
	// with box values already normalized to the network input.
	LayoutYOLOv4 Layout = "yolov4"
	// LayoutYOLOv8 is [1, 4+classes(+extra), candidates] with box values in input pixels.
	LayoutYOLOv8 Layout = "yolov8"
)

// Descriptor is the fully resolved, immutable description of the model to load.
type Descriptor struct {
	// Name is a display identifier such as "yolov4" or "yolov8n".
	Name string `json:"name" yaml:"name"`
	// Format selects the loader.
	Format Format `json:"format" yaml:"format"`
	// Layout selects the output decoder.
	Layout Layout `json:"layout" yaml:"layout"`
	// Task is the YOLOv8 head the graph was exported with; empty means detect.
	Task Task `json:"task" yaml:"task"`
	// Weights is the path to the .weights or .onnx file.
	Weights string `json:"weights" yaml:"weights"`
	// Config is the path to the darknet .cfg file. Unused for ONNX.
	Config string `json:"config" yaml:"config"`
	// Labels is the class label file. Empty selects the built-in COCO labels.
	Labels string `json:"labels" yaml:"labels"`
	// InputSize is the fixed network input resolution.
	InputSize image.Point `json:"input_size" yaml:"input_size"`
	// InputNames and OutputNames override the tensor names found in an ONNX graph.
	InputNames  []string `json:"input_names" yaml:"input_names"`
	OutputNames []string `json:"output_names" yaml:"output_names"`
}

// ScoreOffset returns the column at which per-class scores begin for the layout.
func (d Descriptor) ScoreOffset() int {
	if d.Layout == LayoutYOLOv8 {
		return yolov8.ScoreOffset
	}
	return yolov4.ScoreOffset
}

// ExtraColumns is the number of columns after the class scores, such as the mask
// coefficients of a segmentation head.
func (d Descriptor) ExtraColumns() int {
	if d.Layout == LayoutYOLOv8 && d.Task == TaskSegment {
		return yolov8.MaskCoefficients
	}
	return 0
}

// ObjectnessIndex returns the objectness column for layouts that have one, or -1.
func (d Descriptor) ObjectnessIndex() int {
	if d.Layout == LayoutYOLOv4 {
		return yolov4.ObjectnessIndex
	}
	return -1
}

// Validate checks that the descriptor is complete and that every referenced file exists.
//
// Returns:
//   - ErrModelNotFound (wrapped) when an artifact is missing.
//   - A plain validation error for malformed descriptors.
func (d Descriptor) Validate() error {
	switch d.Format {
	case FormatDarknet:
		if d.Config == "" {
			return errors.Wrapf(ErrModelNotFound, "darknet model %q has no config file", d.Name)
		}
	case FormatONNX:
	default:
		return errors.Errorf("unknown model format %q", d.Format)
	}

	switch d.Layout {
	case LayoutYOLOv4, LayoutYOLOv8:
	default:
		return errors.Errorf("unknown output layout %q", d.Layout)
	}

	if d.InputSize.X <= 0 || d.InputSize.Y <= 0 {
		return errors.Errorf("invalid input size %v", d.InputSize)
	}

	paths := []string{d.Weights}
	if d.Format == FormatDarknet {
		paths = append(paths, d.Config)
	}
	if d.Labels != "" {
		paths = append(paths, d.Labels)
	}
	for _, p := range paths {
		if p == "" {
			return errors.Wrapf(ErrModelNotFound, "model %q has an empty artifact path", d.Name)
		}
		if _, err := os.Stat(p); err != nil {
			return errors.Wrapf(ErrModelNotFound, "model %q: %v", d.Name, err)
		}
	}

	return nil
}
