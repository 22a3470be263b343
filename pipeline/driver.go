// Package pipeline - Drives frames from a source through detection to an annotated sink.
package pipeline

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/nvr-ai/go-annotator/annotate"
	"github.com/nvr-ai/go-annotator/config"
	"github.com/nvr-ai/go-annotator/inference"
	"github.com/nvr-ai/go-annotator/logger"
	"github.com/nvr-ai/go-annotator/models"
	"github.com/nvr-ai/go-annotator/models/postprocess"
	"github.com/nvr-ai/go-annotator/profiler"
	"github.com/nvr-ai/go-annotator/video"
)

// Request is one input to annotate with one resolved model.
type Request struct {
	Input string
	Model models.Descriptor
	// Output overrides the path derived from Input.
	Output string
}

// Dependencies open the external resources of a run. Nil fields use the real implementations.
type Dependencies struct {
	LoadLabels func(path string) (models.Labels, error)
	LoadModel  func(desc models.Descriptor, opts inference.Options) (inference.Model, error)
	OpenSource func(path string, fps float64) (video.Source, error)
	OpenSink   func(path, codec string, info video.StreamInfo) (video.Sink, error)
}

func (d Dependencies) withDefaults() Dependencies {
	if d.LoadLabels == nil {
		d.LoadLabels = models.LoadLabels
	}
	if d.LoadModel == nil {
		d.LoadModel = inference.Load
	}
	if d.OpenSource == nil {
		d.OpenSource = video.Open
	}
	if d.OpenSink == nil {
		d.OpenSink = func(path, codec string, info video.StreamInfo) (video.Sink, error) {
			w, err := video.OpenWriter(path, codec, info)
			if err != nil {
				return nil, err
			}
			return w, nil
		}
	}
	return d
}

// Driver runs requests with a fixed configuration.
type Driver struct {
	cfg  config.Config
	deps Dependencies
	log  *zerolog.Logger
}

// New returns a Driver.
func New(cfg config.Config, deps Dependencies) *Driver {
	return &Driver{cfg: cfg, deps: deps.withDefaults(), log: logger.WithComponent("pipeline")}
}

// Run annotates one input with the default dependencies.
func Run(ctx context.Context, req Request, cfg config.Config) (*Report, error) {
	return New(cfg, Dependencies{}).Run(ctx, req)
}

// run holds the resources of one request.
type run struct {
	*Driver
	req    Request
	report *Report
	prof   *profiler.RuntimeProfiler

	model  inference.Model
	source video.Source
	sink   video.Sink
	proc   *processor
}

// Run moves through Opening, Streaming, Draining and Closed.
//
// Draining is entered whatever happened before it, so a sink that was opened is always
// finalized. The returned report is never nil once the configuration is valid.
//
// Arguments:
//   - ctx: Cancels streaming. The sink is still finalized.
//   - req: The input and model.
//
// Returns:
//   - The run report.
//   - The first fatal error, also stored in the report.
func (d *Driver) Run(ctx context.Context, req Request) (*Report, error) {
	if err := d.cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config")
	}

	r := &run{
		Driver: d,
		req:    req,
		report: &Report{State: StateOpening, Input: req.Input, Model: req.Model.Name},
		prof:   profiler.NewRuntimeProfiler(profiler.ProfilingOptions{}),
	}
	if d.cfg.Pipeline.Profile {
		r.prof.Start()
	}

	err := r.open()
	if err == nil {
		r.transition(StateStreaming)
		if d.cfg.Pipeline.Workers > 1 {
			err = r.streamConcurrent(ctx)
		} else {
			err = r.stream(ctx)
		}
	}
	if err != nil {
		r.report.Err = err
		r.report.FailedIn = r.report.State
	}

	r.transition(StateDraining)
	if err := r.drain(); err != nil && r.report.Err == nil {
		r.report.Err = err
		r.report.FailedIn = StateDraining
	}

	r.close()
	r.prof.Stop()
	r.report.Timings = r.prof.Snapshot()
	r.transition(StateClosed)

	level := zerolog.DebugLevel
	if d.cfg.Pipeline.Profile {
		level = zerolog.InfoLevel
	}
	r.prof.Report(level)

	event := d.log.Info()
	if r.report.Err != nil {
		event = d.log.Error().Err(r.report.Err).Str("failed_in", r.report.FailedIn.String())
	}
	event.
		Str("input", req.Input).
		Str("output", r.report.Output).
		Int("frames_read", r.report.FramesRead).
		Int("frames_written", r.report.FramesWritten).
		Int("candidates", r.report.Candidates).
		Int("kept", r.report.Kept).
		Int("discarded", r.report.Discarded).
		Msg(r.report.Message())

	return r.report, r.report.Err
}

func (r *run) transition(s State) {
	r.log.Debug().Str("from", r.report.State.String()).Str("to", s.String()).Msg("state")
	r.report.State = s
}

// open acquires labels, model, source and sink in that order. The sink is last so that no
// output file exists unless everything before it succeeded.
func (r *run) open() error {
	labels, err := r.deps.LoadLabels(r.req.Model.Labels)
	if err != nil {
		return err
	}
	if len(labels) == 0 {
		return errors.Wrapf(models.ErrModelNotFound, "label file %s is empty", r.req.Model.Labels)
	}

	decConfig := postprocess.ConfigFor(
		r.req.Model, len(labels), r.cfg.Detection.ConfidenceThreshold, r.cfg.Detection.Objectness)
	decoder, err := postprocess.NewDecoder(decConfig)
	if err != nil {
		return err
	}

	done := r.prof.StartOperation("load")
	r.model, err = r.deps.LoadModel(r.req.Model, r.cfg.InferenceOptions())
	done()
	if err != nil {
		return err
	}
	if err := decConfig.CheckWidth(r.model.OutputWidth()); err != nil {
		return errors.Wrapf(inference.ErrModelLoad, "%s with labels %q: %v", r.req.Model.Name, r.req.Model.Labels, err)
	}

	preConfig := r.cfg.PreprocessConfig()
	preConfig.Size = r.model.InputSize()
	pre, err := inference.NewPreprocessor(r.cfg.Network.Preprocess, preConfig)
	if err != nil {
		return err
	}

	r.source, err = r.deps.OpenSource(r.req.Input, r.cfg.Source.FPS)
	if err != nil {
		return err
	}
	r.report.Stream = r.source.Info()

	r.report.Output = r.req.Output
	if r.report.Output == "" {
		r.report.Output = video.OutputPath(r.req.Input, r.cfg.Output.Dir, r.cfg.Output.Ext)
	}
	r.sink, err = r.deps.OpenSink(r.report.Output, r.cfg.Output.Codec, r.report.Stream)
	if err != nil {
		return err
	}
	r.report.OutputCreated = true

	r.proc = &processor{
		pre:       pre,
		model:     r.model,
		decoder:   decoder,
		nms:       r.cfg.NMS(),
		annotator: annotate.New(labels, r.cfg.Style()),
		prof:      r.prof,
	}
	return nil
}

// stream is the sequential loop: one frame is fully handled before the next is read.
func (r *run) stream(ctx context.Context) error {
	for {
		f, err := r.source.Next(ctx)
		if err != nil {
			return r.endOfStream(err)
		}
		r.report.FramesRead++

		res, err := r.proc.process(ctx, f)
		if err != nil {
			f.Close()
			return err
		}
		r.account(f.Index, res)

		err = r.write(f)
		f.Close()
		if err != nil {
			return err
		}
	}
}

// endOfStream maps the error that stopped the source to the run result.
func (r *run) endOfStream(err error) error {
	switch {
	case errors.Is(err, io.EOF):
		return nil
	case errors.Is(err, video.ErrFrameDecode):
		r.log.Warn().Err(err).Int("frames_read", r.report.FramesRead).Msg("corrupt frame, ending stream")
		return nil
	default:
		return err
	}
}

func (r *run) account(index int, res frameResult) {
	r.report.DecodeStats.Add(res.stats)
	r.report.Kept += res.kept
	r.log.Debug().
		Int("frame", index).
		Int("candidates", res.stats.Candidates).
		Int("kept", res.kept).
		Msg("frame annotated")
}

func (r *run) write(f video.Frame) error {
	done := r.prof.StartOperation("write")
	err := r.sink.Write(f)
	done()
	if err != nil {
		return err
	}
	r.report.FramesWritten++
	return nil
}

func (r *run) drain() error {
	if r.sink == nil {
		return nil
	}
	done := r.prof.StartOperation("finalize")
	defer done()
	return r.sink.Close()
}

func (r *run) close() {
	if r.source != nil {
		if err := r.source.Close(); err != nil {
			r.log.Warn().Err(err).Msg("close source")
		}
	}
	if r.model != nil {
		if err := r.model.Close(); err != nil {
			r.log.Warn().Err(err).Msg("close model")
		}
	}
}

// processor runs the per-frame stages. It holds no per-frame state and is shared by workers.
type processor struct {
	pre       inference.Preprocessor
	model     inference.Model
	decoder   *postprocess.Decoder
	nms       postprocess.NMSConfig
	annotator *annotate.Annotator
	prof      *profiler.RuntimeProfiler
}

type frameResult struct {
	stats postprocess.DecodeStats
	kept  int
}

// process detects objects in f and draws them onto its pixels.
func (p *processor) process(ctx context.Context, f video.Frame) (frameResult, error) {
	var res frameResult

	done := p.prof.StartOperation("preprocess")
	input, err := p.pre.Preprocess(f.Mat)
	done()
	if err != nil {
		return res, errors.Wrapf(err, "frame %d: preprocess", f.Index)
	}

	done = p.prof.StartOperation("inference")
	outputs, err := p.model.Infer(ctx, input)
	done()
	if err != nil {
		return res, errors.Wrapf(err, "frame %d: inference", f.Index)
	}

	size := f.Size()
	done = p.prof.StartOperation("decode")
	candidates, stats, err := p.decoder.Decode(outputs, size.X, size.Y)
	done()
	if err != nil {
		return res, errors.Wrapf(err, "frame %d: decode", f.Index)
	}

	done = p.prof.StartOperation("suppress")
	kept := postprocess.Apply(candidates, p.nms)
	done()

	done = p.prof.StartOperation("annotate")
	p.annotator.Draw(&f.Mat, kept)
	done()

	p.prof.RecordMetric("candidates", float64(stats.Candidates))
	p.prof.RecordMetric("detections", float64(len(kept)))

	res.stats = stats
	res.kept = len(kept)
	return res, nil
}
