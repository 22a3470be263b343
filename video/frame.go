// Package video - Frame sources and sinks over OpenCV containers.
package video

import (
	"image"

	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-annotator/images"
)

// Frame is one decoded BGR image and its zero-based position in the stream.
//
// The Mat is owned by whoever holds the Frame and must be released with Close.
type Frame struct {
	Mat   gocv.Mat
	Index int
}

// Size returns the frame dimensions.
func (f Frame) Size() image.Point {
	return images.Size(f.Mat)
}

// Close releases the pixel buffer.
func (f Frame) Close() error {
	return f.Mat.Close()
}

// StreamInfo is the stream metadata read when a source is opened.
type StreamInfo struct {
	FPS    float64 `json:"fps" yaml:"fps"`
	Width  int     `json:"width" yaml:"width"`
	Height int     `json:"height" yaml:"height"`
}

// Size returns the frame dimensions as a point.
func (i StreamInfo) Size() image.Point {
	return image.Point{X: i.Width, Y: i.Height}
}
