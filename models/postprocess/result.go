// Package postprocess - Turns raw network rows into final, de-duplicated detections.
package postprocess

import (
	"fmt"

	"github.com/nvr-ai/go-annotator/images"
)

// Detection is a single decoded object in frame pixel coordinates.
type Detection struct {
	// The predicted class index.
	Class int
	// The confidence of the predicted class, in (threshold, 1].
	Confidence float32
	// The bounding box, clamped to the frame.
	Box images.Rect
}

func (d Detection) String() string {
	return fmt.Sprintf("class=%d conf=%.3f box=%v", d.Class, d.Confidence, d.Box)
}

// Select returns the detections at the given indices, in index order.
func Select(detections []Detection, indices []int) []Detection {
	out := make([]Detection, 0, len(indices))
	for _, i := range indices {
		out = append(out, detections[i])
	}
	return out
}
