package models

import (
	"bufio"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// Labels is the ordered class label list. A class id is a zero-based index into it.
type Labels []string

// Name returns the label for a class id, or "" when the id is out of range.
func (l Labels) Name(id int) string {
	if id < 0 || id >= len(l) {
		return ""
	}
	return l[id]
}

// COCOLabels are the 80 COCO classes in the order darknet and ultralytics models emit them.
var COCOLabels = Labels{
	"person", "bicycle", "car", "motorbike", "aeroplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat", "dog", "horse",
	"sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack", "umbrella", "handbag", "tie",
	"suitcase", "frisbee", "skis", "snowboard", "sports ball", "kite", "baseball bat", "baseball glove",
	"skateboard", "surfboard", "tennis racket", "bottle", "wine glass", "cup", "fork", "knife", "spoon",
	"bowl", "banana", "apple", "sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut",
	"cake", "chair", "sofa", "pottedplant", "bed", "diningtable", "toilet", "tvmonitor", "laptop", "mouse",
	"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink", "refrigerator", "book",
	"clock", "vase", "scissors", "teddy bear", "hair drier", "toothbrush",
}

// LoadLabels reads a label file with one class name per line.
//
// Lines are trimmed of surrounding whitespace. Interior blank lines are kept so that
// class ids stay aligned with the file; trailing blank lines are dropped.
//
// Arguments:
//   - path: The label file, or "" for the built-in COCO labels.
//
// Returns:
//   - The labels, or ErrModelNotFound (wrapped) if the file is missing.
func LoadLabels(path string) (Labels, error) {
	if path == "" {
		return COCOLabels, nil
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrModelNotFound, "label file %s", path)
		}
		return nil, errors.Wrapf(err, "open label file %s", path)
	}
	defer f.Close()

	var labels Labels
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		labels = append(labels, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "read label file %s", path)
	}

	for len(labels) > 0 && labels[len(labels)-1] == "" {
		labels = labels[:len(labels)-1]
	}
	if len(labels) == 0 {
		return nil, errors.Errorf("label file %s is empty", path)
	}

	return labels, nil
}
