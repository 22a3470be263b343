package pipeline

import (
	"context"
	"image"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-annotator/config"
	"github.com/nvr-ai/go-annotator/images"
	"github.com/nvr-ai/go-annotator/inference"
	"github.com/nvr-ai/go-annotator/models"
	"github.com/nvr-ai/go-annotator/video"
)

var testInfo = video.StreamInfo{FPS: 12, Width: 64, Height: 48}

var testDescriptor = models.Descriptor{
	Name:      "fake-yolov4",
	Format:    models.FormatDarknet,
	Layout:    models.LayoutYOLOv4,
	InputSize: image.Point{X: 32, Y: 32},
}

// fakeModel emits three rows per frame: a strong box, a weaker duplicate of it and a row
// below the confidence threshold.
type fakeModel struct {
	calls  atomic.Int64
	failAt int64
	jitter bool
	closed atomic.Bool
}

func (m *fakeModel) Infer(ctx context.Context, input inference.Tensor) ([]inference.RawOutput, error) {
	n := m.calls.Add(1) - 1
	if m.failAt > 0 && n == m.failAt {
		return nil, errors.New("device lost")
	}
	if err := input.Validate(); err != nil {
		return nil, err
	}
	if m.jitter {
		time.Sleep(time.Duration((n*7)%5) * time.Millisecond)
	}
	return []inference.RawOutput{{
		Name: "yolo",
		Rows: 3,
		Cols: 7,
		Data: []float32{
			0.50, 0.5, 0.25, 0.25, 1, 0.9, 0.1,
			0.52, 0.5, 0.25, 0.25, 1, 0.8, 0.1,
			0.20, 0.2, 0.10, 0.10, 1, 0.3, 0.2,
		},
	}}, nil
}

func (m *fakeModel) OutputNames() []string  { return []string{"yolo"} }
func (m *fakeModel) InputSize() image.Point { return testDescriptor.InputSize }
func (m *fakeModel) OutputWidth() int       { return 7 }
func (m *fakeModel) Close() error {
	m.closed.Store(true)
	return nil
}

type fakeSource struct {
	n        int
	decodeAt int
	reads    atomic.Int64
	next     int
	closed   bool
}

func (s *fakeSource) Next(ctx context.Context) (video.Frame, error) {
	if err := ctx.Err(); err != nil {
		return video.Frame{}, err
	}
	if s.next >= s.n {
		return video.Frame{}, io.EOF
	}
	if s.decodeAt > 0 && s.next == s.decodeAt {
		s.next = s.n
		return video.Frame{}, errors.Wrap(video.ErrFrameDecode, "fake")
	}
	s.reads.Add(1)
	f := video.Frame{
		Mat:   gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), testInfo.Height, testInfo.Width, gocv.MatTypeCV8UC3),
		Index: s.next,
	}
	s.next++
	return f, nil
}

func (s *fakeSource) Info() video.StreamInfo { return testInfo }
func (s *fakeSource) Close() error {
	s.closed = true
	return nil
}

type fakeSink struct {
	mu        sync.Mutex
	failAt    int
	source    *fakeSource
	indices   []int
	checksums []string
	maxLive   int64
	closed    int
}

func (s *fakeSink) Write(f video.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAt >= 0 && f.Index == s.failAt {
		return errors.Wrapf(video.ErrSinkWrite, "frame %d: disk full", f.Index)
	}
	if s.source != nil {
		if live := s.source.reads.Load() - int64(len(s.indices)); live > s.maxLive {
			s.maxLive = live
		}
	}
	s.indices = append(s.indices, f.Index)
	s.checksums = append(s.checksums, images.Checksum(f.Mat))
	return nil
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *fakeSink) Written() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.indices)
}

type harness struct {
	model  *fakeModel
	source *fakeSource
	sink   *fakeSink
	deps   Dependencies
}

func newHarness(frames int) *harness {
	h := &harness{
		model:  &fakeModel{},
		source: &fakeSource{n: frames},
		sink:   &fakeSink{failAt: -1},
	}
	h.sink.source = h.source
	h.deps = Dependencies{
		LoadLabels: func(string) (models.Labels, error) { return models.Labels{"person", "car"}, nil },
		LoadModel: func(models.Descriptor, inference.Options) (inference.Model, error) {
			return h.model, nil
		},
		OpenSource: func(string, float64) (video.Source, error) { return h.source, nil },
		OpenSink: func(string, string, video.StreamInfo) (video.Sink, error) {
			return h.sink, nil
		},
	}
	return h
}

func (h *harness) run(t *testing.T, ctx context.Context, cfg config.Config) (*Report, error) {
	t.Helper()
	return New(cfg, h.deps).Run(ctx, Request{
		Input:  "clip.mp4",
		Model:  testDescriptor,
		Output: filepath.Join(t.TempDir(), "clip_output.avi"),
	})
}

func blankChecksum() string {
	m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), testInfo.Height, testInfo.Width, gocv.MatTypeCV8UC3)
	defer m.Close()
	return images.Checksum(m)
}

// TestRunEndToEnd writes ten annotated frames through the real MJPG writer and reads them back.
func TestRunEndToEnd(t *testing.T) {
	h := newHarness(10)
	h.deps.OpenSink = nil

	out := filepath.Join(t.TempDir(), "clip_output.avi")
	report, err := New(config.Default(), h.deps).Run(context.Background(), Request{
		Input:  "clip.mp4",
		Model:  testDescriptor,
		Output: out,
	})
	require.NoError(t, err)

	assert.Equal(t, StateClosed, report.State)
	assert.Equal(t, 10, report.FramesRead)
	assert.Equal(t, 10, report.FramesWritten)
	assert.Equal(t, 30, report.Rows)
	assert.Equal(t, 10, report.BelowThreshold)
	assert.Equal(t, 20, report.Candidates)
	assert.Equal(t, 10, report.Kept)
	assert.True(t, report.OutputCreated)
	assert.Equal(t, out, report.Output)
	assert.Contains(t, report.Message(), "annotated 10 frames")
	assert.True(t, h.source.closed)
	assert.True(t, h.model.closed.Load())

	for _, stage := range []string{"preprocess", "inference", "decode", "suppress", "annotate", "write"} {
		op, ok := report.Timings.Operation(stage)
		require.True(t, ok, stage)
		assert.Equal(t, int64(10), op.Count, stage)
	}

	src, err := video.OpenCapture(out)
	require.NoError(t, err)
	defer src.Close()
	assert.InDelta(t, testInfo.FPS, src.Info().FPS, 0.01)
	assert.Equal(t, testInfo.Size(), src.Info().Size())

	assert.Equal(t, 10, countFrames(t, src))
}

func countFrames(t *testing.T, src video.Source) int {
	t.Helper()
	count := 0
	for {
		f, err := src.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return count
		}
		require.NoError(t, err)
		f.Close()
		count++
	}
}

func TestRunAnnotatesFrames(t *testing.T) {
	h := newHarness(3)
	_, err := h.run(t, context.Background(), config.Default())
	require.NoError(t, err)

	blank := blankChecksum()
	require.Len(t, h.sink.checksums, 3)
	for _, sum := range h.sink.checksums {
		assert.NotEqual(t, blank, sum)
	}
}

// TestRunSinkFailure checks a write failure stops the run but still finalizes the sink.
func TestRunSinkFailure(t *testing.T) {
	h := newHarness(10)
	h.sink.failAt = 4

	report, err := h.run(t, context.Background(), config.Default())
	require.Error(t, err)
	assert.True(t, errors.Is(err, video.ErrSinkWrite))

	assert.Equal(t, StateClosed, report.State)
	assert.Equal(t, StateStreaming, report.FailedIn)
	assert.Equal(t, 4, report.FramesWritten)
	assert.Equal(t, []int{0, 1, 2, 3}, h.sink.indices)
	assert.Equal(t, 1, h.sink.closed)
	assert.True(t, h.source.closed)
	assert.True(t, h.model.closed.Load())
	assert.Contains(t, report.Message(), "partial output with 4 frames")
}

// rejectingWriter is a real container writer that refuses one frame.
type rejectingWriter struct {
	*video.Writer
	failAt int
}

func (w *rejectingWriter) Write(f video.Frame) error {
	if f.Index == w.failAt {
		return errors.Wrapf(video.ErrSinkWrite, "frame %d: disk full", f.Index)
	}
	return w.Writer.Write(f)
}

// TestRunSinkFailureFinalizesContainer checks the frames written before a write failure
// end up in a readable container.
func TestRunSinkFailureFinalizesContainer(t *testing.T) {
	h := newHarness(10)
	h.deps.OpenSink = func(path, codec string, info video.StreamInfo) (video.Sink, error) {
		w, err := video.OpenWriter(path, codec, info)
		if err != nil {
			return nil, err
		}
		return &rejectingWriter{Writer: w, failAt: 4}, nil
	}

	out := filepath.Join(t.TempDir(), "clip_output.avi")
	report, err := New(config.Default(), h.deps).Run(context.Background(), Request{
		Input:  "clip.mp4",
		Model:  testDescriptor,
		Output: out,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, video.ErrSinkWrite))
	assert.Equal(t, StateStreaming, report.FailedIn)
	assert.Equal(t, 4, report.FramesWritten)
	assert.True(t, report.OutputCreated)

	src, err := video.OpenCapture(out)
	require.NoError(t, err)
	defer src.Close()
	assert.Equal(t, 4, countFrames(t, src))
}

// TestRunLabelMismatch checks a label file that does not fit the model's score columns
// fails while opening, before any output exists.
func TestRunLabelMismatch(t *testing.T) {
	for _, labels := range []models.Labels{{"person"}, {"person", "car", "bus"}} {
		h := newHarness(5)
		h.deps.LoadLabels = func(string) (models.Labels, error) { return labels, nil }
		h.deps.OpenSource = func(string, float64) (video.Source, error) {
			t.Fatal("source opened after label mismatch")
			return nil, nil
		}

		report, err := h.run(t, context.Background(), config.Default())
		require.Error(t, err)
		assert.True(t, errors.Is(err, inference.ErrModelLoad), "%d labels", len(labels))
		assert.Equal(t, StateOpening, report.FailedIn)
		assert.False(t, report.OutputCreated)
		assert.Equal(t, 0, report.FramesRead)
		assert.True(t, h.model.closed.Load(), "model released")
		assert.Equal(t, "model", report.Resource())
	}
}

// TestRunModelNotFound checks nothing is written when the model files are missing.
func TestRunModelNotFound(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "clip_output.avi")

	h := newHarness(5)
	h.deps.LoadLabels = nil
	h.deps.LoadModel = nil
	h.deps.OpenSink = nil
	h.deps.OpenSource = func(string, float64) (video.Source, error) {
		t.Fatal("source opened after model failure")
		return nil, nil
	}

	desc := testDescriptor
	desc.Weights = filepath.Join(dir, "yolov4.weights")
	desc.Config = filepath.Join(dir, "yolov4.cfg")

	report, err := New(config.Default(), h.deps).Run(context.Background(), Request{
		Input:  filepath.Join(dir, "clip.mp4"),
		Model:  desc,
		Output: out,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrModelNotFound))
	assert.Equal(t, StateOpening, report.FailedIn)
	assert.Equal(t, StateClosed, report.State)
	assert.False(t, report.OutputCreated)
	assert.Equal(t, 0, report.FramesRead)
	assert.Contains(t, report.Message(), "no output was produced")

	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunSourceOpenFailure(t *testing.T) {
	h := newHarness(5)
	h.deps.OpenSource = nil
	h.deps.OpenSink = func(string, string, video.StreamInfo) (video.Sink, error) {
		t.Fatal("sink opened after source failure")
		return nil, nil
	}

	report, err := New(config.Default(), h.deps).Run(context.Background(), Request{
		Input: filepath.Join(t.TempDir(), "missing.mp4"),
		Model: testDescriptor,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, video.ErrSourceOpen))
	assert.True(t, h.model.closed.Load(), "model released")
	assert.Contains(t, report.Resource(), "missing.mp4")
}

// TestRunDecodeErrorEndsStream checks a corrupt frame ends the stream without failing the run.
func TestRunDecodeErrorEndsStream(t *testing.T) {
	h := newHarness(10)
	h.source.decodeAt = 3

	report, err := h.run(t, context.Background(), config.Default())
	require.NoError(t, err)
	assert.Equal(t, 3, report.FramesWritten)
	assert.Equal(t, 1, h.sink.closed)
}

func TestRunInferenceError(t *testing.T) {
	h := newHarness(10)
	h.model.failAt = 2

	report, err := h.run(t, context.Background(), config.Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "frame 2: inference")
	assert.Equal(t, 2, report.FramesWritten)
	assert.Equal(t, 1, h.sink.closed)
}

func TestRunCancelled(t *testing.T) {
	h := newHarness(10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := h.run(t, ctx, config.Default())
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 0, report.FramesWritten)
	assert.Equal(t, 1, h.sink.closed, "sink finalized after cancel")
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Pipeline.Workers = 0

	report, err := newHarness(1).run(t, context.Background(), cfg)
	assert.Error(t, err)
	assert.Nil(t, report)
}

func concurrentConfig(workers, queue int) config.Config {
	cfg := config.Default()
	cfg.Pipeline.Workers = workers
	cfg.Pipeline.QueueSize = queue
	return cfg
}

// TestRunConcurrentPreservesOrder checks frames finishing out of order are written in
// index order and the number of frames in flight stays bounded.
func TestRunConcurrentPreservesOrder(t *testing.T) {
	h := newHarness(25)
	h.model.jitter = true

	report, err := h.run(t, context.Background(), concurrentConfig(4, 2))
	require.NoError(t, err)

	want := make([]int, 25)
	for i := range want {
		want[i] = i
	}
	assert.Equal(t, want, h.sink.indices)
	assert.Equal(t, 25, report.FramesRead)
	assert.Equal(t, 25, report.FramesWritten)
	assert.Equal(t, 25, report.Kept)
	assert.LessOrEqual(t, h.sink.maxLive, int64(4+2))
	assert.Equal(t, 1, h.sink.closed)
}

func TestRunConcurrentSinkFailure(t *testing.T) {
	h := newHarness(20)
	h.model.jitter = true
	h.sink.failAt = 5

	report, err := h.run(t, context.Background(), concurrentConfig(3, 1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, video.ErrSinkWrite))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, h.sink.indices)
	assert.Equal(t, 5, report.FramesWritten)
	assert.Equal(t, 1, h.sink.closed)
}

func TestRunConcurrentDecodeError(t *testing.T) {
	h := newHarness(12)
	h.source.decodeAt = 7

	report, err := h.run(t, context.Background(), concurrentConfig(2, 2))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6}, h.sink.indices)
	assert.Equal(t, 7, report.FramesWritten)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "opening", StateOpening.String())
	assert.Equal(t, "streaming", StateStreaming.String())
	assert.Equal(t, "draining", StateDraining.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown", State(9).String())
}

func TestReportMessage(t *testing.T) {
	ok := &Report{FramesWritten: 3, Kept: 5, Output: "out.avi"}
	assert.Equal(t, "annotated 3 frames (5 detections) to out.avi", ok.Message())
	assert.False(t, ok.Failed())

	empty := &Report{
		FailedIn:      StateStreaming,
		Output:        "out.avi",
		OutputCreated: true,
		Err:           errors.Wrap(video.ErrSinkWrite, "frame 0"),
	}
	assert.True(t, empty.Failed())
	assert.Equal(t, "output out.avi", empty.Resource())
	assert.Contains(t, empty.Message(), "contains no frames")

	load := &Report{FailedIn: StateOpening, Err: errors.Wrap(inference.ErrModelLoad, "bad cfg")}
	assert.Equal(t, "model", load.Resource())
	assert.Contains(t, load.Message(), "failed while opening (model)")
}
