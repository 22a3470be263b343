package inference

import (
	"context"
	"image"
	"os"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/nvr-ai/go-annotator/logger"
	"github.com/nvr-ai/go-annotator/models"
	"github.com/nvr-ai/go-annotator/models/yolov4"
	"github.com/nvr-ai/go-annotator/models/yolov8"
)

var (
	envMu   sync.Mutex
	envInit bool
)

// SharedLibPath returns the onnxruntime library to load for the current platform.
//
// ONNXRUNTIME_SHARED_LIBRARY_PATH wins when set.
func SharedLibPath() string {
	if p := os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH"); p != "" {
		return p
	}
	switch runtime.GOOS {
	case "windows":
		return "./third_party/onnxruntime.dll"
	case "darwin":
		return "./third_party/libonnxruntime.dylib"
	default:
		if runtime.GOARCH == "arm64" {
			return "./third_party/onnxruntime_arm64.so"
		}
		return "./third_party/onnxruntime.so"
	}
}

// initEnvironment loads the shared library once per process.
func initEnvironment(libPath string) error {
	envMu.Lock()
	defer envMu.Unlock()
	if envInit {
		return nil
	}

	if _, err := os.Stat(libPath); err != nil {
		return errors.Wrapf(ErrModelLoad, "onnxruntime library not found at %s", libPath)
	}
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return errors.Wrapf(ErrModelLoad, "initialize onnxruntime: %v", err)
	}
	envInit = true
	return nil
}

// Session is an ONNX graph executed by onnxruntime with preallocated tensors.
type Session struct {
	mu          sync.Mutex
	session     *ort.AdvancedSession
	input       *ort.Tensor[float32]
	outputs     []*ort.Tensor[float32]
	outputNames []string
	inputSize   image.Point
	layout      models.Layout
	width       int
}

// NewSession creates an onnxruntime session for the descriptor.
//
// Input and output names come from the graph unless the descriptor overrides them.
// Output shapes are read from the graph once; dynamic batch dimensions are pinned to 1.
//
// Arguments:
//   - desc: An ONNX descriptor.
//   - opts: Runtime options.
//
// Returns:
//   - The session, or ErrModelLoad (wrapped) if the graph cannot be loaded.
func NewSession(desc models.Descriptor, opts Options) (*Session, error) {
	libPath := opts.SharedLibPath
	if libPath == "" {
		libPath = SharedLibPath()
	}
	if err := initEnvironment(libPath); err != nil {
		return nil, err
	}

	inputInfo, outputInfo, err := ort.GetInputOutputInfo(desc.Weights)
	if err != nil {
		return nil, errors.Wrapf(ErrModelLoad, "read graph %s: %v", desc.Weights, err)
	}
	if len(inputInfo) == 0 || len(outputInfo) == 0 {
		return nil, errors.Wrapf(ErrModelLoad, "graph %s has no inputs or outputs", desc.Weights)
	}

	inputNames := desc.InputNames
	if len(inputNames) == 0 {
		inputNames = []string{inputInfo[0].Name}
	}
	outputNames := desc.OutputNames
	switch {
	case len(outputNames) > 0:
	case desc.Layout == models.LayoutYOLOv8:
		// Segmentation exports add a mask prototype output after the boxes.
		outputNames = []string{outputInfo[0].Name}
	default:
		for _, info := range outputInfo {
			outputNames = append(outputNames, info.Name)
		}
	}

	inputSize := graphInputSize(inputInfo, inputNames[0], desc.InputSize)
	if inputSize.X <= 0 || inputSize.Y <= 0 {
		return nil, errors.Wrapf(ErrModelLoad, "graph %s has no usable input size", desc.Weights)
	}
	s := &Session{outputNames: outputNames, inputSize: inputSize, layout: desc.Layout}

	s.input, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(inputSize.Y), int64(inputSize.X)))
	if err != nil {
		return nil, errors.Wrapf(ErrModelLoad, "allocate input: %v", err)
	}

	values := make([]ort.ArbitraryTensor, 0, len(outputNames))
	for _, name := range outputNames {
		shape, err := outputShape(outputInfo, name)
		if err != nil {
			s.Close()
			return nil, err
		}
		width, err := rowWidth(desc.Layout, shape)
		if err != nil {
			s.Close()
			return nil, errors.Wrapf(ErrModelLoad, "output %s: %v", name, err)
		}
		if s.width != 0 && width != s.width {
			s.Close()
			return nil, errors.Wrapf(ErrModelLoad, "output %s has %d columns, expected %d", name, width, s.width)
		}
		s.width = width
		t, err := ort.NewEmptyTensor[float32](shape)
		if err != nil {
			s.Close()
			return nil, errors.Wrapf(ErrModelLoad, "allocate output %s: %v", name, err)
		}
		s.outputs = append(s.outputs, t)
		values = append(values, t)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		s.Close()
		return nil, errors.Wrapf(ErrModelLoad, "session options: %v", err)
	}
	defer options.Destroy()

	if opts.Threads > 0 {
		if err := options.SetIntraOpNumThreads(opts.Threads); err != nil {
			s.Close()
			return nil, errors.Wrapf(ErrModelLoad, "intra-op threads: %v", err)
		}
	}
	if err := options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableExtended); err != nil {
		s.Close()
		return nil, errors.Wrapf(ErrModelLoad, "optimization level: %v", err)
	}
	if err := appendProvider(options, opts); err != nil {
		s.Close()
		return nil, err
	}

	s.session, err = ort.NewAdvancedSession(
		desc.Weights,
		inputNames,
		outputNames,
		[]ort.ArbitraryTensor{s.input},
		values,
		options,
	)
	if err != nil {
		s.Close()
		return nil, errors.Wrapf(ErrModelLoad, "create session for %s: %v", desc.Weights, err)
	}

	logger.WithComponent("inference").Info().
		Str("model", desc.Name).
		Strs("inputs", inputNames).
		Strs("outputs", outputNames).
		Int("input_width", inputSize.X).
		Int("input_height", inputSize.Y).
		Int("output_width", s.width).
		Str("provider", opts.Provider).
		Msg("onnx model loaded")

	return s, nil
}

func outputShape(infos []ort.InputOutputInfo, name string) (ort.Shape, error) {
	for _, info := range infos {
		if info.Name != name {
			continue
		}
		shape := make(ort.Shape, len(info.Dimensions))
		for i, d := range info.Dimensions {
			switch {
			case d > 0:
				shape[i] = d
			case i == 0:
				shape[i] = 1
			default:
				return nil, errors.Wrapf(ErrModelLoad, "output %s has dynamic shape %v", name, info.Dimensions)
			}
		}
		return shape, nil
	}
	return nil, errors.Wrapf(ErrModelLoad, "graph has no output named %s", name)
}

// graphInputSize reads W and H from an NCHW input, keeping the fallback for dynamic dims.
func graphInputSize(infos []ort.InputOutputInfo, name string, fallback image.Point) image.Point {
	for _, info := range infos {
		if info.Name != name || len(info.Dimensions) != 4 {
			continue
		}
		h, w := info.Dimensions[2], info.Dimensions[3]
		if h > 0 && w > 0 {
			return image.Point{X: int(w), Y: int(h)}
		}
	}
	return fallback
}

// rowWidth is the candidate row width an output of the given shape decodes to.
func rowWidth(layout models.Layout, shape ort.Shape) (int, error) {
	dims := make([]int, len(shape))
	size := 1
	for i, d := range shape {
		dims[i] = int(d)
		size *= int(d)
	}
	if layout == models.LayoutYOLOv8 {
		return yolov8.Columns(dims)
	}
	_, cols, err := yolov4.Rows(dims, size)
	return cols, err
}

// OutputWidth implements Model.
func (s *Session) OutputWidth() int { return s.width }

// OutputNames implements Model.
func (s *Session) OutputNames() []string { return s.outputNames }

// InputSize implements Model.
func (s *Session) InputSize() image.Point { return s.inputSize }

// Infer implements Model.
func (s *Session) Infer(ctx context.Context, input Tensor) ([]RawOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := input.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dst := s.input.GetData()
	if len(dst) != len(input.Data) {
		return nil, errors.Errorf("input has %d values, session expects %d", len(input.Data), len(dst))
	}
	copy(dst, input.Data)

	if err := s.session.Run(); err != nil {
		return nil, errors.Wrap(err, "onnxruntime run")
	}

	outputs := make([]RawOutput, 0, len(s.outputs))
	for i, t := range s.outputs {
		shape := make([]int, len(t.GetShape()))
		for j, d := range t.GetShape() {
			shape[j] = int(d)
		}
		data := t.GetData()

		out := RawOutput{Name: s.outputNames[i]}
		var err error
		switch s.layout {
		case models.LayoutYOLOv8:
			out.Rows, out.Cols, out.Data, err = yolov8.Rows(shape, data, s.inputSize)
		default:
			out.Rows, out.Cols, err = yolov4.Rows(shape, len(data))
			out.Data = append([]float32(nil), data...)
		}
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, out)
	}

	return outputs, nil
}

// Close releases the session and its tensors.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.session != nil {
		err = s.session.Destroy()
		s.session = nil
	}
	if s.input != nil {
		s.input.Destroy()
		s.input = nil
	}
	for _, t := range s.outputs {
		t.Destroy()
	}
	s.outputs = nil
	return err
}
