package postprocess

import (
	"sort"

	flatbush "github.com/bmharper/flatbush-go"
	"github.com/chewxy/math32"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-annotator/images"
)

// NMSConfig defines parameters for Non-Maximum Suppression.
type NMSConfig struct {
	// ConfidenceThreshold is re-checked here; candidates at or below it are never kept.
	ConfidenceThreshold float32 `json:"confidence_threshold" yaml:"confidence_threshold"`
	// IoUThreshold is the overlap at or above which the weaker box is suppressed.
	IoUThreshold float32 `json:"iou_threshold" yaml:"iou_threshold"`
	// ClassAware suppresses only within the same class. When false, any overlapping
	// box is suppressed regardless of class.
	ClassAware bool `json:"class_aware" yaml:"class_aware"`
}

// DefaultNMSConfig returns per-class suppression with the default thresholds.
func DefaultNMSConfig() NMSConfig {
	return NMSConfig{
		ConfidenceThreshold: DefaultConfidenceThreshold,
		IoUThreshold:        DefaultIoUThreshold,
		ClassAware:          true,
	}
}

// Validate checks the thresholds.
func (c NMSConfig) Validate() error {
	if c.IoUThreshold <= 0 || c.IoUThreshold > 1 {
		return errors.Errorf("iou threshold %v outside (0,1]", c.IoUThreshold)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold >= 1 {
		return errors.Errorf("confidence threshold %v outside [0,1)", c.ConfidenceThreshold)
	}
	return nil
}

// Suppress performs greedy Non-Maximum Suppression.
//
// Candidates are ranked by descending confidence with decode order breaking ties. The best
// remaining candidate is kept and every later candidate overlapping it by at least
// IoUThreshold is dropped. Overlap candidates come from a flatbush index so only boxes
// that actually intersect are compared.
//
// Arguments:
//   - detections: Candidates in decode order.
//   - config: NMS configuration.
//
// Returns:
//   - Indices into detections of the kept boxes, in selection order.
func Suppress(detections []Detection, config NMSConfig) []int {
	order := make([]int, 0, len(detections))
	for i, d := range detections {
		if math32.IsNaN(d.Confidence) || d.Confidence <= config.ConfidenceThreshold || d.Box.Empty() {
			continue
		}
		order = append(order, i)
	}
	if len(order) == 0 {
		return nil
	}

	sort.SliceStable(order, func(a, b int) bool {
		return detections[order[a]].Confidence > detections[order[b]].Confidence
	})

	// rank[i] is the position of detection i in order, or -1 if it was filtered.
	rank := make([]int, len(detections))
	for i := range rank {
		rank[i] = -1
	}
	for pos, i := range order {
		rank[i] = pos
	}

	fb := flatbush.NewFlatbush[int32]()
	fb.Reserve(len(detections))
	for _, d := range detections {
		fb.Add(int32(d.Box.X1), int32(d.Box.Y1), int32(d.Box.X2), int32(d.Box.Y2))
	}
	fb.Finish()

	suppressed := make([]bool, len(detections))
	kept := make([]int, 0, len(order))
	for _, i := range order {
		if suppressed[i] {
			continue
		}
		kept = append(kept, i)

		anchor := detections[i]
		for _, j := range fb.Search(int32(anchor.Box.X1), int32(anchor.Box.Y1), int32(anchor.Box.X2), int32(anchor.Box.Y2)) {
			// Only weaker, still-live candidates can be suppressed.
			if rank[j] <= rank[i] || suppressed[j] {
				continue
			}
			if config.ClassAware && detections[j].Class != anchor.Class {
				continue
			}
			if images.CalculateIoU(anchor.Box, detections[j].Box) >= config.IoUThreshold {
				suppressed[j] = true
			}
		}
	}

	return kept
}

// Apply runs Suppress and returns the kept detections in selection order.
func Apply(detections []Detection, config NMSConfig) []Detection {
	return Select(detections, Suppress(detections, config))
}
