// Package cmd - Command line interface for the annotator.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/nvr-ai/go-annotator/config"
	"github.com/nvr-ai/go-annotator/logger"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "annotator [input]",
		Short: "Annotate a video with object detections",
		Long: `annotator runs a YOLO object detector over every frame of a video file or a
directory of frame-<n> images and writes a copy with labelled boxes drawn on it.

The model is chosen, in order of preference, from explicit --weights/--cfg paths,
a --variant from the YOLOv8 table, or the newest yolov<N>.weights/.cfg pair found
in --model-dir.

Every flag can also be set through the environment as ANNOTATOR_<FLAG>, with
dashes replaced by underscores.`,
		Example: `  # Newest darknet model in ./models
  annotator traffic.mp4

  # A YOLOv8 ONNX export, four workers
  annotator --variant detect/s --workers 4 traffic.mp4

  # Image directory at 10 fps, written to ./out
  annotator --fps 10 --output-dir out frames/`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runAnnotate,
	}
)

// flagKeys maps flag names to viper keys.
var flagKeys = map[string]string{
	"confidence":      "detection.confidence_threshold",
	"iou":             "detection.iou_threshold",
	"class-aware":     "detection.class_aware",
	"objectness":      "detection.objectness",
	"input-width":     "network.input_width",
	"input-height":    "network.input_height",
	"channels":        "network.channels",
	"preprocess":      "network.preprocess",
	"model-dir":       "model.dir",
	"weights":         "model.weights",
	"cfg":             "model.cfg",
	"labels":          "model.labels",
	"variant":         "model.variant",
	"onnx-library":    "model.onnx_library",
	"threads":         "model.threads",
	"provider":        "model.provider",
	"device":          "model.device",
	"fps":             "source.fps",
	"output-dir":      "output.dir",
	"codec":           "output.codec",
	"workers":         "pipeline.workers",
	"queue-size":      "pipeline.queue_size",
	"profile":         "pipeline.profile",
	"show-confidence": "annotate.show_confidence",
	"log-level":       "log.level",
	"log-pretty":      "log.pretty",
}

func init() {
	d := config.Default()
	f := rootCmd.PersistentFlags()

	f.StringVar(&cfgFile, "config", "", "YAML config file")
	f.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
	f.Bool("log-pretty", d.Log.Pretty, "human readable logs")

	rf := rootCmd.Flags()
	rf.Float32("confidence", d.Detection.ConfidenceThreshold, "confidence threshold, exclusive")
	rf.Float32("iou", d.Detection.IoUThreshold, "overlap at which the weaker box is suppressed")
	rf.Bool("class-aware", d.Detection.ClassAware, "suppress only within the same class")
	rf.Bool("objectness", d.Detection.Objectness, "multiply class scores by objectness")
	rf.Int("input-width", d.Network.InputWidth, "network input width for darknet models")
	rf.Int("input-height", d.Network.InputHeight, "network input height for darknet models")
	rf.String("channels", d.Network.Channels, "channel order the network expects (rgb, bgr)")
	rf.String("preprocess", d.Network.Preprocess, "preprocessing (blob, resize)")
	rf.String("model-dir", d.Model.Dir, "directory searched for model files")
	rf.String("weights", d.Model.Weights, "model weights (.weights or .onnx)")
	rf.String("cfg", d.Model.Cfg, "darknet .cfg for --weights")
	rf.String("labels", d.Model.Labels, "class label file, one per line (default COCO)")
	rf.String("variant", d.Model.Variant, "YOLOv8 variant as task/size, e.g. detect/n")
	rf.String("onnx-library", d.Model.ONNXLibrary, "onnxruntime shared library")
	rf.Int("threads", d.Model.Threads, "onnxruntime intra-op threads (0 = runtime default)")
	rf.String("provider", d.Model.Provider, "onnxruntime execution provider (cpu, cuda, coreml, openvino)")
	rf.String("device", d.Model.Device, "execution provider device id or type")
	rf.Float64("fps", d.Source.FPS, "frame rate for image directories")
	rf.String("output-dir", d.Output.Dir, "output directory (default: next to the input)")
	rf.String("codec", d.Output.Codec, "output FourCC")
	rf.Int("workers", d.Pipeline.Workers, "frames processed in parallel")
	rf.Int("queue-size", d.Pipeline.QueueSize, "frames buffered between stages")
	rf.Bool("profile", d.Pipeline.Profile, "log stage timings periodically")
	rf.Bool("show-confidence", d.Annotate.ShowConfidence, "draw the score after the label")

	for name, key := range flagKeys {
		flag := lookupFlag(name)
		if flag == nil {
			panic(fmt.Sprintf("flag %q bound to %s is not registered", name, key))
		}
		if err := viper.BindPFlag(key, flag); err != nil {
			panic(errors.Wrapf(err, "bind flag %q", name))
		}
	}

	viper.SetEnvPrefix("annotator")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
}

func lookupFlag(name string) *pflag.Flag {
	if flag := rootCmd.PersistentFlags().Lookup(name); flag != nil {
		return flag
	}
	return rootCmd.Flags().Lookup(name)
}

// loadConfig reads the config file and lays set flags and ANNOTATOR_* variables over it.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return cfg, err
	}

	// IsSet is true only for flags given on the command line and variables in the environment.
	for _, key := range flagKeys {
		if !viper.IsSet(key) {
			continue
		}
		if err := override(&cfg, key); err != nil {
			return cfg, err
		}
	}

	logger.Init(cfg.Log.Level, cfg.Log.Pretty)
	return cfg, cfg.Validate()
}

// override copies one viper key into the matching config field.
func override(cfg *config.Config, key string) error {
	switch key {
	case "detection.confidence_threshold":
		cfg.Detection.ConfidenceThreshold = float32(viper.GetFloat64(key))
	case "detection.iou_threshold":
		cfg.Detection.IoUThreshold = float32(viper.GetFloat64(key))
	case "detection.class_aware":
		cfg.Detection.ClassAware = viper.GetBool(key)
	case "detection.objectness":
		cfg.Detection.Objectness = viper.GetBool(key)
	case "network.input_width":
		cfg.Network.InputWidth = viper.GetInt(key)
	case "network.input_height":
		cfg.Network.InputHeight = viper.GetInt(key)
	case "network.channels":
		cfg.Network.Channels = viper.GetString(key)
	case "network.preprocess":
		cfg.Network.Preprocess = viper.GetString(key)
	case "model.dir":
		cfg.Model.Dir = viper.GetString(key)
	case "model.weights":
		cfg.Model.Weights = viper.GetString(key)
	case "model.cfg":
		cfg.Model.Cfg = viper.GetString(key)
	case "model.labels":
		cfg.Model.Labels = viper.GetString(key)
	case "model.variant":
		cfg.Model.Variant = viper.GetString(key)
	case "model.onnx_library":
		cfg.Model.ONNXLibrary = viper.GetString(key)
	case "model.threads":
		cfg.Model.Threads = viper.GetInt(key)
	case "model.provider":
		cfg.Model.Provider = viper.GetString(key)
	case "model.device":
		cfg.Model.Device = viper.GetString(key)
	case "source.fps":
		cfg.Source.FPS = viper.GetFloat64(key)
	case "output.dir":
		cfg.Output.Dir = viper.GetString(key)
	case "output.codec":
		cfg.Output.Codec = viper.GetString(key)
	case "pipeline.workers":
		cfg.Pipeline.Workers = viper.GetInt(key)
	case "pipeline.queue_size":
		cfg.Pipeline.QueueSize = viper.GetInt(key)
	case "pipeline.profile":
		cfg.Pipeline.Profile = viper.GetBool(key)
	case "annotate.show_confidence":
		cfg.Annotate.ShowConfidence = viper.GetBool(key)
	case "log.level":
		cfg.Log.Level = viper.GetString(key)
	case "log.pretty":
		cfg.Log.Pretty = viper.GetBool(key)
	default:
		return errors.Errorf("unknown config key %q", key)
	}
	return nil
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
