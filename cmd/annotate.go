package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/nvr-ai/go-annotator/config"
	"github.com/nvr-ai/go-annotator/logger"
	"github.com/nvr-ai/go-annotator/models"
	"github.com/nvr-ai/go-annotator/pipeline"
)

func runAnnotate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}

	desc, err := resolveModel(cfg)
	if err != nil {
		return err
	}

	logger.WithComponent("cli").Info().
		Str("input", args[0]).
		Str("model", desc.Name).
		Str("format", string(desc.Format)).
		Str("weights", desc.Weights).
		Int("workers", cfg.Pipeline.Workers).
		Msg("starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := pipeline.Run(ctx, pipeline.Request{Input: args[0], Model: desc}, cfg)
	if report != nil {
		fmt.Fprintln(cmd.OutOrStdout(), report.Message())
	}
	return err
}

// resolveModel picks explicit weights first, then a variant, then the newest darknet pair.
func resolveModel(cfg config.Config) (models.Descriptor, error) {
	m := cfg.Model

	switch {
	case m.Weights != "":
		return explicitModel(cfg)

	case m.Variant != "":
		v, err := models.ParseVariant(m.Variant)
		if err != nil {
			return models.Descriptor{}, err
		}
		d, err := v.Resolve(m.Dir)
		if err != nil {
			return models.Descriptor{}, err
		}
		d.Labels = m.Labels
		return d, nil

	default:
		return models.Discover(m.Dir, m.Labels, cfg.InputSize())
	}
}

func explicitModel(cfg config.Config) (models.Descriptor, error) {
	m := cfg.Model
	name := strings.TrimSuffix(filepath.Base(m.Weights), filepath.Ext(m.Weights))

	d := models.Descriptor{
		Name:      name,
		Weights:   m.Weights,
		Labels:    m.Labels,
		InputSize: cfg.InputSize(),
	}
	if strings.EqualFold(filepath.Ext(m.Weights), ".onnx") {
		// The network input flags only apply to darknet; graphs with fixed dims override this.
		d.Format = models.FormatONNX
		d.Layout = models.LayoutYOLOv8
		d.InputSize = models.ONNXInputSize
		d.Task = models.TaskDetect
		if strings.HasSuffix(name, "-seg") {
			d.Task = models.TaskSegment
		}
	} else {
		d.Format = models.FormatDarknet
		d.Layout = models.LayoutYOLOv4
		d.Config = m.Cfg
		if d.Config == "" {
			d.Config = strings.TrimSuffix(m.Weights, filepath.Ext(m.Weights)) + ".cfg"
		}
	}

	if err := d.Validate(); err != nil {
		return models.Descriptor{}, err
	}
	return d, nil
}
