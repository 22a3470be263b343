package pipeline

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-annotator/inference"
	"github.com/nvr-ai/go-annotator/models"
	"github.com/nvr-ai/go-annotator/models/postprocess"
	"github.com/nvr-ai/go-annotator/profiler"
	"github.com/nvr-ai/go-annotator/video"
)

// Report summarizes a run.
type Report struct {
	// State is the last state reached; StateClosed once Run returns.
	State State
	// FailedIn is the state that was active when Err occurred.
	FailedIn State

	Input  string
	Output string
	// OutputCreated is true once the sink container exists on disk.
	OutputCreated bool

	Model  string
	Stream video.StreamInfo

	FramesRead    int
	FramesWritten int

	postprocess.DecodeStats
	Kept int

	Timings profiler.Snapshot
	Err     error
}

// Failed reports whether the run stopped on a fatal error.
func (r *Report) Failed() bool { return r.Err != nil }

// Resource names the component behind Err.
func (r *Report) Resource() string {
	switch {
	case r.Err == nil:
		return ""
	case errors.Is(r.Err, models.ErrModelNotFound), errors.Is(r.Err, models.ErrUnsupportedVariant):
		return "model files"
	case errors.Is(r.Err, inference.ErrModelLoad):
		return "model"
	case errors.Is(r.Err, video.ErrSourceOpen):
		return "input " + r.Input
	case errors.Is(r.Err, video.ErrSinkWrite):
		return "output " + r.Output
	default:
		return "pipeline"
	}
}

// Message is the line shown to the user at the end of a run.
func (r *Report) Message() string {
	if r.Err == nil {
		return fmt.Sprintf("annotated %d frames (%d detections) to %s", r.FramesWritten, r.Kept, r.Output)
	}

	switch {
	case r.OutputCreated && r.FramesWritten > 0:
		return fmt.Sprintf("failed while %s (%s): %v; partial output with %d frames at %s",
			r.FailedIn, r.Resource(), r.Err, r.FramesWritten, r.Output)
	case r.OutputCreated:
		return fmt.Sprintf("failed while %s (%s): %v; output %s contains no frames",
			r.FailedIn, r.Resource(), r.Err, r.Output)
	default:
		return fmt.Sprintf("failed while %s (%s): %v; no output was produced",
			r.FailedIn, r.Resource(), r.Err)
	}
}
