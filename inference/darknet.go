package inference

import (
	"context"
	"image"
	"sync"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-annotator/logger"
	"github.com/nvr-ai/go-annotator/models"
	"github.com/nvr-ai/go-annotator/models/yolov4"
)

// Darknet is a darknet .weights/.cfg network executed by the OpenCV DNN module.
type Darknet struct {
	mu          sync.Mutex
	net         gocv.Net
	outputNames []string
	inputSize   image.Point
	width       int
}

// NewDarknet reads the network and resolves its unconnected output layers.
//
// Arguments:
//   - desc: A darknet descriptor with Weights and Config set.
//
// Returns:
//   - The loaded network, or ErrModelLoad (wrapped) if OpenCV cannot use it.
func NewDarknet(desc models.Descriptor) (*Darknet, error) {
	if desc.Layout != models.LayoutYOLOv4 {
		return nil, errors.Wrapf(ErrModelLoad, "darknet model %q cannot produce layout %q", desc.Name, desc.Layout)
	}

	net := gocv.ReadNet(desc.Weights, desc.Config)
	if net.Empty() {
		net.Close()
		return nil, errors.Wrapf(ErrModelLoad, "read darknet model %s", desc.Weights)
	}

	if err := net.SetPreferableBackend(gocv.NetBackendOpenCV); err != nil {
		net.Close()
		return nil, errors.Wrapf(ErrModelLoad, "set backend: %v", err)
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		net.Close()
		return nil, errors.Wrapf(ErrModelLoad, "set target: %v", err)
	}

	var names []string
	for _, id := range net.GetUnconnectedOutLayers() {
		layer := net.GetLayer(id)
		name := layer.GetName()
		layer.Close()
		if name == "_input" {
			continue
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		net.Close()
		return nil, errors.Wrapf(ErrModelLoad, "darknet model %s has no output layers", desc.Weights)
	}

	d := &Darknet{net: net, outputNames: names, inputSize: desc.InputSize}
	if err := d.warmUp(); err != nil {
		net.Close()
		return nil, err
	}

	logger.WithComponent("inference").Info().
		Str("model", desc.Name).
		Strs("outputs", names).
		Int("input_width", desc.InputSize.X).
		Int("input_height", desc.InputSize.Y).
		Int("output_width", d.width).
		Msg("darknet model loaded")

	return d, nil
}

// warmUp runs one forward pass on a blank input to learn the row width of the yolo layers.
// All output layers must agree on it.
func (d *Darknet) warmUp() error {
	if d.inputSize.X <= 0 || d.inputSize.Y <= 0 {
		return errors.Wrapf(ErrModelLoad, "invalid input size %v", d.inputSize)
	}
	outputs, err := d.Infer(context.Background(), NewTensor(1, 3, d.inputSize.Y, d.inputSize.X))
	if err != nil {
		return errors.Wrapf(ErrModelLoad, "warm-up pass: %v", err)
	}
	for _, out := range outputs {
		if d.width != 0 && out.Cols != d.width {
			return errors.Wrapf(ErrModelLoad, "output %s has %d columns, %s has %d",
				out.Name, out.Cols, outputs[0].Name, d.width)
		}
		d.width = out.Cols
	}
	return nil
}

// OutputNames implements Model.
func (d *Darknet) OutputNames() []string { return d.outputNames }

// InputSize implements Model.
func (d *Darknet) InputSize() image.Point { return d.inputSize }

// OutputWidth implements Model.
func (d *Darknet) OutputWidth() int { return d.width }

// Infer implements Model.
func (d *Darknet) Infer(ctx context.Context, input Tensor) ([]RawOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := input.Validate(); err != nil {
		return nil, err
	}

	blob := gocv.NewMatWithSizes(input.Shape, gocv.MatTypeCV32F)
	defer blob.Close()
	dst, err := blob.DataPtrFloat32()
	if err != nil {
		return nil, errors.Wrap(err, "input blob")
	}
	copy(dst, input.Data)

	d.mu.Lock()
	defer d.mu.Unlock()

	d.net.SetInput(blob, "")
	mats := d.net.ForwardLayers(d.outputNames)
	defer func() {
		for _, m := range mats {
			m.Close()
		}
	}()

	outputs := make([]RawOutput, 0, len(mats))
	for i, m := range mats {
		data, err := m.DataPtrFloat32()
		if err != nil {
			return nil, errors.Wrapf(err, "output %s", d.outputNames[i])
		}
		rows, cols, err := yolov4.Rows(m.Size(), len(data))
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, RawOutput{
			Name: d.outputNames[i],
			Rows: rows,
			Cols: cols,
			Data: append([]float32(nil), data...),
		})
	}

	return outputs, nil
}

// Close releases the network.
func (d *Darknet) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}
