package postprocess

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-annotator/images"
	"github.com/nvr-ai/go-annotator/inference"
	"github.com/nvr-ai/go-annotator/models"
)

// ErrInvalidGeometry marks a candidate whose box has no area once clamped to the frame.
// It never leaves the decoder; such candidates are counted and dropped.
var ErrInvalidGeometry = errors.New("invalid detection geometry")

// ErrClassMismatch is returned when the model's score columns and the label set differ in size.
var ErrClassMismatch = errors.New("class count mismatch")

var errBelowThreshold = errors.New("below confidence threshold")

const (
	// DefaultConfidenceThreshold is the minimum class score a candidate must exceed.
	DefaultConfidenceThreshold float32 = 0.5
	// DefaultIoUThreshold is the overlap at which a weaker box is suppressed.
	DefaultIoUThreshold float32 = 0.4
)

// DecoderConfig describes how to read a candidate row.
type DecoderConfig struct {
	// ScoreOffset is the column where per-class scores begin.
	ScoreOffset int `json:"score_offset" yaml:"score_offset"`
	// NumClasses is the number of score columns. Every one of them takes part in the argmax.
	NumClasses int `json:"num_classes" yaml:"num_classes"`
	// ExtraColumns follow the scores and are not read, e.g. segmentation mask coefficients.
	ExtraColumns int `json:"extra_columns" yaml:"extra_columns"`
	// ObjectnessIndex, when >= 0, multiplies the class score by that column.
	ObjectnessIndex int `json:"objectness_index" yaml:"objectness_index"`
	// ConfidenceThreshold is exclusive: a score equal to it is discarded.
	ConfidenceThreshold float32 `json:"confidence_threshold" yaml:"confidence_threshold"`
}

// Validate checks the config against itself.
func (c DecoderConfig) Validate() error {
	if c.ScoreOffset < 4 {
		return errors.Errorf("score offset %d overlaps the box columns", c.ScoreOffset)
	}
	if c.NumClasses <= 0 {
		return errors.Errorf("num classes must be positive, got %d", c.NumClasses)
	}
	if c.ExtraColumns < 0 {
		return errors.Errorf("extra columns must not be negative, got %d", c.ExtraColumns)
	}
	if c.ObjectnessIndex >= c.ScoreOffset {
		return errors.Errorf("objectness index %d is inside the score columns", c.ObjectnessIndex)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold >= 1 {
		return errors.Errorf("confidence threshold %v outside [0,1)", c.ConfidenceThreshold)
	}
	return nil
}

// Width is the exact row width the config decodes.
func (c DecoderConfig) Width() int {
	return c.ScoreOffset + c.NumClasses + c.ExtraColumns
}

// CheckWidth reports ErrClassMismatch unless a model's rows have exactly one score column
// per class label.
func (c DecoderConfig) CheckWidth(cols int) error {
	if cols == c.Width() {
		return nil
	}
	return errors.Wrapf(ErrClassMismatch, "model rows have %d columns (%d class scores), labels have %d classes",
		cols, cols-c.ScoreOffset-c.ExtraColumns, c.NumClasses)
}

// ConfigFor returns the decoder configuration matching a model's output layout.
//
// Arguments:
//   - desc: The model descriptor.
//   - numClasses: Number of class labels.
//   - threshold: Confidence threshold.
//   - objectness: Multiply by the objectness column when the layout has one.
func ConfigFor(desc models.Descriptor, numClasses int, threshold float32, objectness bool) DecoderConfig {
	c := DecoderConfig{
		ScoreOffset:         desc.ScoreOffset(),
		NumClasses:          numClasses,
		ExtraColumns:        desc.ExtraColumns(),
		ObjectnessIndex:     -1,
		ConfidenceThreshold: threshold,
	}
	if objectness {
		c.ObjectnessIndex = desc.ObjectnessIndex()
	}
	return c
}

// DecodeStats counts what happened to the rows of one frame.
type DecodeStats struct {
	Rows           int
	BelowThreshold int
	Discarded      int
	Candidates     int
}

// Add accumulates another frame's stats.
func (s *DecodeStats) Add(o DecodeStats) {
	s.Rows += o.Rows
	s.BelowThreshold += o.BelowThreshold
	s.Discarded += o.Discarded
	s.Candidates += o.Candidates
}

// Decoder turns raw output rows into frame-space candidates.
type Decoder struct {
	config DecoderConfig
}

// NewDecoder validates the config and returns a decoder.
func NewDecoder(config DecoderConfig) (*Decoder, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "decoder config")
	}
	return &Decoder{config: config}, nil
}

// Config returns the decoder configuration.
func (d *Decoder) Config() DecoderConfig {
	return d.config
}

// Decode converts every row of every output into candidates for a frame of the given size.
//
// Outputs are walked in order and rows in row order, so the result is in decode order.
//
// Arguments:
//   - outputs: Row-per-candidate outputs with boxes normalized to the network input.
//   - width, height: Frame size in pixels.
//
// Returns:
//   - The surviving candidates.
//   - Per-frame counters.
//   - An error if an output is malformed or its width does not match the configured classes.
func (d *Decoder) Decode(outputs []inference.RawOutput, width, height int) ([]Detection, DecodeStats, error) {
	var stats DecodeStats
	if width <= 0 || height <= 0 {
		return nil, stats, errors.Errorf("invalid frame size %dx%d", width, height)
	}

	var detections []Detection
	for _, out := range outputs {
		if err := out.Validate(); err != nil {
			return nil, stats, err
		}
		if out.Rows == 0 {
			continue
		}
		if err := d.config.CheckWidth(out.Cols); err != nil {
			return nil, stats, errors.Wrapf(err, "output %q", out.Name)
		}

		for i := 0; i < out.Rows; i++ {
			stats.Rows++
			det, err := d.decodeRow(out.Row(i), width, height)
			switch {
			case err == nil:
				detections = append(detections, det)
			case errors.Is(err, errBelowThreshold):
				stats.BelowThreshold++
			case errors.Is(err, ErrInvalidGeometry):
				stats.Discarded++
			default:
				return nil, stats, err
			}
		}
	}

	stats.Candidates = len(detections)
	return detections, stats, nil
}

func (d *Decoder) decodeRow(row []float32, width, height int) (Detection, error) {
	scores := row[d.config.ScoreOffset : d.config.ScoreOffset+d.config.NumClasses]

	class := 0
	best := scores[0]
	for j := 1; j < len(scores); j++ {
		if scores[j] > best {
			best = scores[j]
			class = j
		}
	}

	confidence := best
	if d.config.ObjectnessIndex >= 0 {
		confidence *= row[d.config.ObjectnessIndex]
	}
	if math32.IsNaN(confidence) || math32.IsInf(confidence, 0) || confidence <= d.config.ConfidenceThreshold {
		return Detection{}, errBelowThreshold
	}
	confidence = math32.Min(confidence, 1)

	fw, fh := float32(width), float32(height)
	cx, cy, w, h := row[0]*fw, row[1]*fh, row[2]*fw, row[3]*fh
	if math32.IsNaN(cx+cy+w+h) || math32.IsInf(cx+cy+w+h, 0) {
		return Detection{}, ErrInvalidGeometry
	}

	box := images.FromCenter(cx, cy, w, h).Clamp(width, height)
	if box.Empty() {
		return Detection{}, ErrInvalidGeometry
	}

	return Detection{Class: class, Confidence: confidence, Box: box}, nil
}
