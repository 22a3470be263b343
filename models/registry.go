package models

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Task is the kind of head a YOLOv8 model was exported with.
type Task string

const (
	// TaskDetect is plain box detection.
	TaskDetect Task = "detect"
	// TaskSegment is instance segmentation; boxes are decoded and masks ignored.
	TaskSegment Task = "segment"
	// TaskPose is keypoint estimation.
	TaskPose Task = "pose"
	// TaskClassify is whole-image classification.
	TaskClassify Task = "classify"
)

// Size is the width/depth multiplier of a YOLOv8 model.
type Size string

const (
	SizeNano   Size = "n"
	SizeSmall  Size = "s"
	SizeMedium Size = "m"
	SizeLarge  Size = "l"
	SizeXLarge Size = "x"
)

// Variant is a task x size selection.
type Variant struct {
	Task Task `json:"task" yaml:"task"`
	Size Size `json:"size" yaml:"size"`
}

type taskSpec struct {
	suffix string
	// boxes is false for heads whose output cannot be read as detection rows.
	boxes bool
}

var tasks = map[Task]taskSpec{
	TaskDetect:   {suffix: "", boxes: true},
	TaskSegment:  {suffix: "-seg", boxes: true},
	TaskPose:     {suffix: "-pose", boxes: false},
	TaskClassify: {suffix: "-cls", boxes: false},
}

var sizes = map[Size]string{
	SizeNano:   "Nano",
	SizeSmall:  "Small",
	SizeMedium: "Medium",
	SizeLarge:  "Large",
	SizeXLarge: "Extra Large",
}

// Stem returns the artifact base name for the variant, e.g. "yolov8n-seg".
func (v Variant) Stem() (string, error) {
	t, ok := tasks[v.Task]
	if !ok {
		return "", errors.Wrapf(ErrUnsupportedVariant, "unknown task %q", v.Task)
	}
	if _, ok := sizes[v.Size]; !ok {
		return "", errors.Wrapf(ErrUnsupportedVariant, "unknown size %q", v.Size)
	}
	return "yolov8" + string(v.Size) + t.suffix, nil
}

// Resolve maps a variant to a descriptor for the ONNX export stored in dir.
//
// Arguments:
//   - v: The requested variant.
//   - dir: Directory holding <stem>.onnx files.
//
// Returns:
//   - A validated Descriptor.
//   - ErrUnsupportedVariant for unknown or box-less variants, ErrModelNotFound if the file is absent.
func (v Variant) Resolve(dir string) (Descriptor, error) {
	stem, err := v.Stem()
	if err != nil {
		return Descriptor{}, err
	}
	if !tasks[v.Task].boxes {
		return Descriptor{}, errors.Wrapf(ErrUnsupportedVariant, "%s has no box output", stem)
	}

	d := Descriptor{
		Name:      stem,
		Format:    FormatONNX,
		Layout:    LayoutYOLOv8,
		Task:      v.Task,
		Weights:   filepath.Join(dir, stem+".onnx"),
		InputSize: ONNXInputSize,
	}
	if err := d.Validate(); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}

// VariantInfo is one row of the variant table.
type VariantInfo struct {
	Variant   Variant
	Stem      string
	SizeName  string
	Supported bool
}

// Variants lists every known task x size combination in a stable order.
func Variants() []VariantInfo {
	taskOrder := []Task{TaskDetect, TaskSegment, TaskPose, TaskClassify}
	sizeOrder := []Size{SizeNano, SizeSmall, SizeMedium, SizeLarge, SizeXLarge}

	out := make([]VariantInfo, 0, len(taskOrder)*len(sizeOrder))
	for _, t := range taskOrder {
		for _, s := range sizeOrder {
			v := Variant{Task: t, Size: s}
			stem, _ := v.Stem()
			out = append(out, VariantInfo{
				Variant:   v,
				Stem:      stem,
				SizeName:  sizes[s],
				Supported: tasks[t].boxes,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Supported && !out[j].Supported })
	return out
}

// ParseVariant reads "task/size" (e.g. "detect/n", "segment/x"). A bare size means detect.
func ParseVariant(s string) (Variant, error) {
	task, size, found := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "/")
	if !found {
		task, size = string(TaskDetect), task
	}
	v := Variant{Task: Task(task), Size: Size(size)}
	if _, err := v.Stem(); err != nil {
		return Variant{}, err
	}
	return v, nil
}
