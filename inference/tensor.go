package inference

import (
	"github.com/pkg/errors"
)

// Tensor is a dense float32 network input in NCHW order.
type Tensor struct {
	Shape []int
	Data  []float32
}

// NewTensor allocates a zeroed tensor of the given shape.
func NewTensor(shape ...int) Tensor {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return Tensor{Shape: append([]int(nil), shape...), Data: make([]float32, n)}
}

// Validate checks that the backing slice matches the shape.
func (t Tensor) Validate() error {
	if len(t.Shape) == 0 {
		return errors.New("tensor has no shape")
	}
	n := 1
	for _, d := range t.Shape {
		if d <= 0 {
			return errors.Errorf("tensor shape %v has a non-positive dimension", t.Shape)
		}
		n *= d
	}
	if n != len(t.Data) {
		return errors.Errorf("tensor shape %v needs %d values, has %d", t.Shape, n, len(t.Data))
	}
	return nil
}

// RawOutput is one output layer flattened to row-per-candidate form.
//
// Box columns are in coordinates normalized to the network input ([0,1]).
type RawOutput struct {
	// Name is the output layer the rows came from.
	Name string
	Rows int
	Cols int
	Data []float32
}

// Row returns the i'th candidate row. The slice aliases Data.
func (o RawOutput) Row(i int) []float32 {
	return o.Data[i*o.Cols : (i+1)*o.Cols]
}

// Validate checks that Data holds exactly Rows*Cols values.
func (o RawOutput) Validate() error {
	if o.Rows < 0 || o.Cols < 0 {
		return errors.Errorf("output %q has negative dimensions %dx%d", o.Name, o.Rows, o.Cols)
	}
	if o.Rows*o.Cols != len(o.Data) {
		return errors.Errorf("output %q: %dx%d needs %d values, has %d", o.Name, o.Rows, o.Cols, o.Rows*o.Cols, len(o.Data))
	}
	return nil
}
