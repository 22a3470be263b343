// Package annotate - Draws labelled detection boxes onto frames.
package annotate

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-annotator/models"
	"github.com/nvr-ai/go-annotator/models/postprocess"
)

// Style is the fixed drawing style.
type Style struct {
	Color     color.RGBA `json:"color" yaml:"color"`
	Thickness int        `json:"thickness" yaml:"thickness"`
	FontScale float64    `json:"font_scale" yaml:"font_scale"`
	// ShowConfidence appends the score to the class name.
	ShowConfidence bool `json:"show_confidence" yaml:"show_confidence"`
}

// DefaultStyle is green boxes, two pixels wide, with a small simplex label.
func DefaultStyle() Style {
	return Style{
		Color:     color.RGBA{R: 0, G: 255, B: 0, A: 0},
		Thickness: 2,
		FontScale: 0.5,
	}
}

// labelOffset is how far above the box the text baseline sits.
const labelOffset = 10

// Annotator draws detections with one style and label set.
type Annotator struct {
	style  Style
	labels models.Labels
}

// New returns an Annotator. Class ids passed to Draw must index into labels.
func New(labels models.Labels, style Style) *Annotator {
	if style.Thickness <= 0 {
		style.Thickness = 1
	}
	if style.FontScale <= 0 {
		style.FontScale = DefaultStyle().FontScale
	}
	return &Annotator{style: style, labels: labels}
}

// Label is the text drawn for a detection.
func (a *Annotator) Label(d postprocess.Detection) string {
	name := a.labels.Name(d.Class)
	if a.style.ShowConfidence {
		return fmt.Sprintf("%s %.2f", name, d.Confidence)
	}
	return name
}

// LabelOrigin places the text baseline above the box, or just inside it when the box
// touches the top of the frame.
func (a *Annotator) LabelOrigin(box image.Rectangle) image.Point {
	y := box.Min.Y - labelOffset
	if y < labelOffset {
		y = box.Min.Y + 2*labelOffset
	}
	return image.Point{X: box.Min.X, Y: y}
}

// Draw renders every detection onto the frame in place.
func (a *Annotator) Draw(frame *gocv.Mat, detections []postprocess.Detection) {
	for _, d := range detections {
		box := d.Box.Rectangle()
		gocv.Rectangle(frame, box, a.style.Color, a.style.Thickness)
		gocv.PutText(frame, a.Label(d), a.LabelOrigin(box), gocv.FontHersheySimplex, a.style.FontScale, a.style.Color, a.style.Thickness)
	}
}
