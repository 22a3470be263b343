// Package config - Run configuration for the annotator.
package config

import (
	"image"
	"image/color"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/nvr-ai/go-annotator/annotate"
	"github.com/nvr-ai/go-annotator/inference"
	"github.com/nvr-ai/go-annotator/models/postprocess"
	"github.com/nvr-ai/go-annotator/video"
)

// Config represents the annotator configuration.
type Config struct {
	Detection DetectionConfig `json:"detection" yaml:"detection"`
	Network   NetworkConfig   `json:"network" yaml:"network"`
	Model     ModelConfig     `json:"model" yaml:"model"`
	Source    SourceConfig    `json:"source" yaml:"source"`
	Output    OutputConfig    `json:"output" yaml:"output"`
	Pipeline  PipelineConfig  `json:"pipeline" yaml:"pipeline"`
	Annotate  AnnotateConfig  `json:"annotate" yaml:"annotate"`
	Log       LogConfig       `json:"log" yaml:"log"`
}

// DetectionConfig holds the decoder and suppression thresholds.
type DetectionConfig struct {
	ConfidenceThreshold float32 `json:"confidence_threshold" yaml:"confidence_threshold"`
	IoUThreshold        float32 `json:"iou_threshold" yaml:"iou_threshold"`
	// ClassAware limits suppression to boxes of the same class.
	ClassAware bool `json:"class_aware" yaml:"class_aware"`
	// Objectness multiplies class scores by the objectness column where the layout has one.
	Objectness bool `json:"objectness" yaml:"objectness"`
}

// NetworkConfig describes the network input.
type NetworkConfig struct {
	InputWidth  int     `json:"input_width" yaml:"input_width"`
	InputHeight int     `json:"input_height" yaml:"input_height"`
	Scale       float64 `json:"scale" yaml:"scale"`
	// Channels is rgb or bgr.
	Channels string `json:"channels" yaml:"channels"`
	// Preprocess is blob or resize.
	Preprocess string `json:"preprocess" yaml:"preprocess"`
}

// ModelConfig selects the model. Weights wins over Variant, which wins over discovery in Dir.
type ModelConfig struct {
	Dir     string `json:"dir" yaml:"dir"`
	Weights string `json:"weights" yaml:"weights"`
	Cfg     string `json:"cfg" yaml:"cfg"`
	Labels  string `json:"labels" yaml:"labels"`
	// Variant is a task/size pair such as "detect/n".
	Variant string `json:"variant" yaml:"variant"`

	ONNXLibrary string `json:"onnx_library" yaml:"onnx_library"`
	Threads     int    `json:"threads" yaml:"threads"`
	// Provider is the onnxruntime execution provider: cpu, cuda, coreml or openvino.
	Provider string `json:"provider" yaml:"provider"`
	Device   string `json:"device" yaml:"device"`
}

// SourceConfig applies to image directories.
type SourceConfig struct {
	FPS float64 `json:"fps" yaml:"fps"`
}

// OutputConfig controls where and how annotated video is written.
type OutputConfig struct {
	// Dir defaults to the input's directory.
	Dir   string `json:"dir" yaml:"dir"`
	Codec string `json:"codec" yaml:"codec"`
	Ext   string `json:"ext" yaml:"ext"`
}

// PipelineConfig controls concurrency. One worker runs the sequential driver.
type PipelineConfig struct {
	Workers   int  `json:"workers" yaml:"workers"`
	QueueSize int  `json:"queue_size" yaml:"queue_size"`
	Profile   bool `json:"profile" yaml:"profile"`
}

// AnnotateConfig is the drawing style. Color is R, G, B.
type AnnotateConfig struct {
	Color          []int   `json:"color" yaml:"color"`
	Thickness      int     `json:"thickness" yaml:"thickness"`
	FontScale      float64 `json:"font_scale" yaml:"font_scale"`
	ShowConfidence bool    `json:"show_confidence" yaml:"show_confidence"`
}

// LogConfig configures the global logger.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Pretty bool   `json:"pretty" yaml:"pretty"`
}

// Default returns the built-in configuration.
func Default() Config {
	style := annotate.DefaultStyle()
	return Config{
		Detection: DetectionConfig{
			ConfidenceThreshold: postprocess.DefaultConfidenceThreshold,
			IoUThreshold:        postprocess.DefaultIoUThreshold,
			ClassAware:          true,
		},
		Network: NetworkConfig{
			InputWidth:  416,
			InputHeight: 416,
			Scale:       inference.DefaultScale,
			Channels:    string(inference.ChannelsRGB),
			Preprocess:  "blob",
		},
		Model: ModelConfig{
			Dir:      "models",
			Provider: string(inference.ProviderCPU),
		},
		Source: SourceConfig{
			FPS: video.DefaultFPS,
		},
		Output: OutputConfig{
			Codec: video.DefaultCodec,
			Ext:   video.DefaultExt,
		},
		Pipeline: PipelineConfig{
			Workers:   1,
			QueueSize: 4,
		},
		Annotate: AnnotateConfig{
			Color:     []int{int(style.Color.R), int(style.Color.G), int(style.Color.B)},
			Thickness: style.Thickness,
			FontScale: style.FontScale,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML file over the defaults. Keys missing from the file keep their default.
//
// Arguments:
//   - path: The YAML file. Empty returns the defaults.
//
// Returns:
//   - The validated configuration.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "read config")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "marshal config")
	}
	return errors.Wrap(os.WriteFile(path, data, 0o644), "write config")
}

// Validate checks ranges and enumerations.
func (c Config) Validate() error {
	if err := c.NMS().Validate(); err != nil {
		return errors.Wrap(err, "detection")
	}
	if c.Detection.ConfidenceThreshold <= 0 {
		return errors.Errorf("detection: confidence threshold %v outside (0,1)", c.Detection.ConfidenceThreshold)
	}
	if c.Detection.IoUThreshold >= 1 {
		return errors.Errorf("detection: iou threshold %v outside (0,1)", c.Detection.IoUThreshold)
	}
	if err := c.PreprocessConfig().Validate(); err != nil {
		return errors.Wrap(err, "network")
	}
	switch c.Network.Preprocess {
	case "", "blob", "resize":
	default:
		return errors.Errorf("network: unknown preprocess mode %q", c.Network.Preprocess)
	}
	if c.Pipeline.Workers < 1 {
		return errors.Errorf("pipeline: workers must be at least 1, got %d", c.Pipeline.Workers)
	}
	if c.Pipeline.QueueSize < 0 {
		return errors.Errorf("pipeline: negative queue size %d", c.Pipeline.QueueSize)
	}
	if n := len(c.Annotate.Color); n != 0 && n != 3 {
		return errors.Errorf("annotate: color needs 3 components, got %d", n)
	}
	for _, v := range c.Annotate.Color {
		if v < 0 || v > 255 {
			return errors.Errorf("annotate: color component %d outside [0,255]", v)
		}
	}
	if c.Model.Threads < 0 {
		return errors.Errorf("model: negative thread count %d", c.Model.Threads)
	}
	if _, err := inference.ParseProvider(c.Model.Provider); err != nil {
		return errors.Wrap(err, "model")
	}
	return nil
}

// InputSize is the network input resolution.
func (c Config) InputSize() image.Point {
	return image.Point{X: c.Network.InputWidth, Y: c.Network.InputHeight}
}

// PreprocessConfig maps the network section onto the preprocessor.
func (c Config) PreprocessConfig() inference.PreprocessConfig {
	return inference.PreprocessConfig{
		Size:     c.InputSize(),
		Scale:    c.Network.Scale,
		Channels: inference.ChannelOrder(c.Network.Channels),
	}
}

// NMS maps the detection section onto the suppressor.
func (c Config) NMS() postprocess.NMSConfig {
	return postprocess.NMSConfig{
		ConfidenceThreshold: c.Detection.ConfidenceThreshold,
		IoUThreshold:        c.Detection.IoUThreshold,
		ClassAware:          c.Detection.ClassAware,
	}
}

// InferenceOptions maps the model section onto backend options.
func (c Config) InferenceOptions() inference.Options {
	return inference.Options{
		SharedLibPath: c.Model.ONNXLibrary,
		Threads:       c.Model.Threads,
		Provider:      c.Model.Provider,
		Device:        c.Model.Device,
	}
}

// Style maps the annotate section onto the drawing style.
func (c Config) Style() annotate.Style {
	style := annotate.DefaultStyle()
	if len(c.Annotate.Color) == 3 {
		rgb := c.Annotate.Color
		style.Color = color.RGBA{R: uint8(rgb[0]), G: uint8(rgb[1]), B: uint8(rgb[2])}
	}
	if c.Annotate.Thickness > 0 {
		style.Thickness = c.Annotate.Thickness
	}
	if c.Annotate.FontScale > 0 {
		style.FontScale = c.Annotate.FontScale
	}
	style.ShowConfidence = c.Annotate.ShowConfidence
	return style
}
