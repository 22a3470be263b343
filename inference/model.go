// Package inference - Model handles that turn an input tensor into raw detection rows.
package inference

import (
	"context"
	"image"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-annotator/models"
)

// ErrModelLoad is returned when model artifacts exist but cannot be turned into a runnable network.
var ErrModelLoad = errors.New("model load failed")

// Model is a loaded detection network.
//
// Implementations are safe for concurrent use; calls to Infer are serialized internally.
type Model interface {
	// Infer runs one forward pass and returns every output layer as candidate rows.
	Infer(ctx context.Context, input Tensor) ([]RawOutput, error)
	// OutputNames is the ordered list of output layers, resolved once at load.
	OutputNames() []string
	// InputSize is the fixed network input resolution.
	InputSize() image.Point
	// OutputWidth is the number of columns in every candidate row, known once loaded.
	OutputWidth() int
	Close() error
}

// Options tune how a model is loaded.
type Options struct {
	// SharedLibPath overrides the onnxruntime library location.
	SharedLibPath string `json:"shared_lib_path" yaml:"shared_lib_path"`
	// Threads caps intra-op parallelism for onnxruntime. Zero lets the runtime decide.
	Threads int `json:"threads" yaml:"threads"`
	// Provider selects the onnxruntime execution provider; cpu when empty.
	Provider string `json:"provider" yaml:"provider"`
	// Device is the provider's device id or type, e.g. "0" for CUDA or "GPU" for OpenVINO.
	Device string `json:"device" yaml:"device"`
}

// Load validates the descriptor and opens the matching backend.
//
// Arguments:
//   - desc: The resolved model descriptor.
//   - opts: Backend options.
//
// Returns:
//   - The loaded model.
//   - models.ErrModelNotFound if an artifact is missing, ErrModelLoad if it cannot be parsed.
func Load(desc models.Descriptor, opts Options) (Model, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	switch desc.Format {
	case models.FormatDarknet:
		return NewDarknet(desc)
	case models.FormatONNX:
		return NewSession(desc, opts)
	default:
		return nil, errors.Wrapf(ErrModelLoad, "unsupported format %q", desc.Format)
	}
}
