// Package images - Pixel-space geometry shared by decoding, suppression and drawing.
package images

import (
	"fmt"
	"image"

	"github.com/chewxy/math32"
)

// Rect is a lightweight bounding box in pixel coordinates.
type Rect struct {
	// X2,Y2 are exclusive (like image.Rectangle).
	X1, Y1, X2, Y2 int
}

// FromCenter builds a Rect from a centre-based box, rounding each edge to the nearest pixel.
//
// Arguments:
//   - cx, cy: Box centre in pixels.
//   - w, h: Box width and height in pixels.
//
// Returns:
//   - The top-left anchored Rect. Width and height are rounded independently of the
//     corner so a box keeps its size wherever it sits.
func FromCenter(cx, cy, w, h float32) Rect {
	x := int(math32.Round(cx - w/2))
	y := int(math32.Round(cy - h/2))
	return Rect{
		X1: x,
		Y1: y,
		X2: x + int(math32.Round(w)),
		Y2: y + int(math32.Round(h)),
	}
}

// Width of the rect in pixels.
func (r Rect) Width() int { return r.X2 - r.X1 }

// Height of the rect in pixels.
func (r Rect) Height() int { return r.Y2 - r.Y1 }

// Area in pixels, zero for degenerate rects.
func (r Rect) Area() int {
	if r.Empty() {
		return 0
	}
	return r.Width() * r.Height()
}

// Empty reports whether the rect encloses no pixels.
func (r Rect) Empty() bool {
	return r.X2 <= r.X1 || r.Y2 <= r.Y1
}

// Clamp restricts the rect to [0,width) x [0,height).
func (r Rect) Clamp(width, height int) Rect {
	return Rect{
		X1: min(max(r.X1, 0), width),
		Y1: min(max(r.Y1, 0), height),
		X2: min(max(r.X2, 0), width),
		Y2: min(max(r.Y2, 0), height),
	}
}

// Rectangle converts to the standard library rectangle used by gocv drawing calls.
func (r Rect) Rectangle() image.Rectangle {
	return image.Rect(r.X1, r.Y1, r.X2, r.Y2)
}

func (r Rect) String() string {
	return fmt.Sprintf("(%d,%d %dx%d)", r.X1, r.Y1, r.Width(), r.Height())
}

// CalculateIoU returns the Intersection over Union of two rects, in [0, 1].
//
// Rects that only touch along an edge, or that are degenerate, have an IoU of 0.
func CalculateIoU(r, o Rect) float32 {
	ix1 := max(r.X1, o.X1)
	iy1 := max(r.Y1, o.Y1)
	ix2 := min(r.X2, o.X2)
	iy2 := min(r.Y2, o.Y2)

	interW := ix2 - ix1
	interH := iy2 - iy1
	if interW <= 0 || interH <= 0 {
		return 0.0
	}
	interArea := interW * interH

	unionArea := r.Area() + o.Area() - interArea
	if unionArea <= 0 {
		return 0.0
	}

	return float32(interArea) / float32(unionArea)
}
