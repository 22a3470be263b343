package annotate

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-annotator/images"
	"github.com/nvr-ai/go-annotator/models"
	"github.com/nvr-ai/go-annotator/models/postprocess"
)

func TestLabel(t *testing.T) {
	labels := models.Labels{"person", "car"}
	d := postprocess.Detection{Class: 1, Confidence: 0.876}

	assert.Equal(t, "car", New(labels, DefaultStyle()).Label(d))

	style := DefaultStyle()
	style.ShowConfidence = true
	assert.Equal(t, "car 0.88", New(labels, style).Label(d))
}

// TestLabelOrigin checks the label moves inside boxes at the top edge.
func TestLabelOrigin(t *testing.T) {
	a := New(models.COCOLabels, DefaultStyle())

	assert.Equal(t, image.Point{X: 40, Y: 90}, a.LabelOrigin(image.Rect(40, 100, 80, 140)))
	assert.Equal(t, image.Point{X: 0, Y: 25}, a.LabelOrigin(image.Rect(0, 5, 80, 140)))
}

// TestDrawMutatesFrame checks boxes are drawn in place and nothing is drawn without detections.
func TestDrawMutatesFrame(t *testing.T) {
	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 120, 160, gocv.MatTypeCV8UC3)
	defer frame.Close()
	a := New(models.COCOLabels, DefaultStyle())

	before := images.Checksum(frame)
	a.Draw(&frame, nil)
	assert.Equal(t, before, images.Checksum(frame))

	a.Draw(&frame, []postprocess.Detection{{Class: 0, Confidence: 0.9, Box: images.Rect{X1: 20, Y1: 30, X2: 100, Y2: 90}}})
	assert.NotEqual(t, before, images.Checksum(frame))

	// The box outline is green in BGR.
	px := frame.GetVecbAt(30, 60)
	assert.Equal(t, uint8(0), px[0])
	assert.Equal(t, uint8(255), px[1])
	assert.Equal(t, uint8(0), px[2])
	assert.Equal(t, image.Point{X: 160, Y: 120}, images.Size(frame))
}
