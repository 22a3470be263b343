package inference

import (
	"image"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// ChannelOrder is the colour order a network expects.
type ChannelOrder string

const (
	// ChannelsRGB swaps OpenCV's native BGR.
	ChannelsRGB ChannelOrder = "rgb"
	// ChannelsBGR keeps frames as decoded.
	ChannelsBGR ChannelOrder = "bgr"
)

// DefaultScale maps 8-bit pixels into [0,1].
const DefaultScale = 1.0 / 255.0

// Preprocessor converts a frame into the model's input tensor. Implementations hold no
// per-frame state.
type Preprocessor interface {
	Preprocess(frame gocv.Mat) (Tensor, error)
}

// PreprocessConfig describes the tensor a model expects.
type PreprocessConfig struct {
	Size     image.Point
	Scale    float64
	Channels ChannelOrder
}

// Validate checks the config.
func (c PreprocessConfig) Validate() error {
	if c.Size.X <= 0 || c.Size.Y <= 0 {
		return errors.Errorf("invalid input size %v", c.Size)
	}
	if c.Scale <= 0 {
		return errors.Errorf("scale must be positive, got %v", c.Scale)
	}
	switch c.Channels {
	case ChannelsRGB, ChannelsBGR:
	default:
		return errors.Errorf("unknown channel order %q", c.Channels)
	}
	return nil
}

// BlobPreprocessor builds the tensor with OpenCV's blobFromImage: a plain resize with
// no crop or padding, scaling and an optional R/B swap.
type BlobPreprocessor struct {
	config PreprocessConfig
}

// NewBlobPreprocessor returns a BlobPreprocessor for the config.
func NewBlobPreprocessor(config PreprocessConfig) (*BlobPreprocessor, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &BlobPreprocessor{config: config}, nil
}

// Preprocess implements Preprocessor.
func (p *BlobPreprocessor) Preprocess(frame gocv.Mat) (Tensor, error) {
	if frame.Empty() {
		return Tensor{}, errors.New("empty frame")
	}

	blob := gocv.BlobFromImage(
		frame,
		p.config.Scale,
		p.config.Size,
		gocv.NewScalar(0, 0, 0, 0),
		p.config.Channels == ChannelsRGB,
		false,
	)
	defer blob.Close()

	data, err := blob.DataPtrFloat32()
	if err != nil {
		return Tensor{}, errors.Wrap(err, "blob data")
	}

	t := NewTensor(1, 3, p.config.Size.Y, p.config.Size.X)
	if len(data) != len(t.Data) {
		return Tensor{}, errors.Errorf("blob has %d values, expected %d", len(data), len(t.Data))
	}
	copy(t.Data, data)
	return t, nil
}

// ResizePreprocessor resizes in Go with a bilinear filter and lays the result out as CHW.
type ResizePreprocessor struct {
	config PreprocessConfig
}

// NewResizePreprocessor returns a ResizePreprocessor for the config.
func NewResizePreprocessor(config PreprocessConfig) (*ResizePreprocessor, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &ResizePreprocessor{config: config}, nil
}

// Preprocess implements Preprocessor.
func (p *ResizePreprocessor) Preprocess(frame gocv.Mat) (Tensor, error) {
	if frame.Empty() {
		return Tensor{}, errors.New("empty frame")
	}
	img, err := frame.ToImage()
	if err != nil {
		return Tensor{}, errors.Wrap(err, "frame to image")
	}
	return ImageToTensor(img, p.config), nil
}

// ImageToTensor resizes img to the configured size and writes it as a [1,3,H,W] tensor.
//
// Arguments:
//   - img: Source image in any colour model.
//   - config: Target size, scale and channel order.
//
// Returns:
//   - The input tensor.
func ImageToTensor(img image.Image, config PreprocessConfig) Tensor {
	w, h := config.Size.X, config.Size.Y
	if b := img.Bounds(); b.Dx() != w || b.Dy() != h {
		img = resize.Resize(uint(w), uint(h), img, resize.Bilinear)
	}

	t := NewTensor(1, 3, h, w)
	plane := w * h
	first := t.Data[0:plane]
	second := t.Data[plane : 2*plane]
	third := t.Data[2*plane : 3*plane]

	scale := float32(config.Scale)
	bounds := img.Bounds()
	i := 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			rf := float32(r>>8) * scale
			gf := float32(g>>8) * scale
			bf := float32(b>>8) * scale
			if config.Channels == ChannelsRGB {
				first[i], second[i], third[i] = rf, gf, bf
			} else {
				first[i], second[i], third[i] = bf, gf, rf
			}
			i++
		}
	}
	return t
}

// NewPreprocessor returns the preprocessor named by mode ("blob" or "resize").
func NewPreprocessor(mode string, config PreprocessConfig) (Preprocessor, error) {
	switch mode {
	case "", "blob":
		return NewBlobPreprocessor(config)
	case "resize":
		return NewResizePreprocessor(config)
	default:
		return nil, errors.Errorf("unknown preprocess mode %q", mode)
	}
}
