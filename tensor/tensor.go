// Package tensor provides dense float64 arrays for audio signals, shaped
// (channels, samples) or (batch, channels, samples). Masks broadcast over
// the channel dimension.
package tensor

import "fmt"

// Array is a dense n-dimensional tensor of float64 values.
type Array struct {
	data  []float64
	shape []int
}

// New creates an array from data with the given shape. The backing slice is
// taken over, not copied. It panics if the shape does not match len(data).
func New(data []float64, shape ...int) *Array {
	if numel(shape) != len(data) {
		panic(fmt.Sprintf("tensor: shape %v does not match %d values", shape, len(data)))
	}
	return &Array{data: data, shape: append([]int(nil), shape...)}
}

// Zeros creates a zero-filled array of the given shape.
func Zeros(shape ...int) *Array {
	return &Array{data: make([]float64, numel(shape)), shape: append([]int(nil), shape...)}
}

// Full creates an array of the given shape filled with v.
func Full(v float64, shape ...int) *Array {
	a := Zeros(shape...)
	for i := range a.data {
		a.data[i] = v
	}
	return a
}

// Shape returns a copy of the array's dimensions.
func (a *Array) Shape() []int {
	return append([]int(nil), a.shape...)
}

// Dim returns the size of dimension i.
func (a *Array) Dim(i int) int {
	return a.shape[i]
}

// Numel returns the total number of elements.
func (a *Array) Numel() int {
	return len(a.data)
}

// Data returns the backing slice. Mutations are visible to every holder of
// the array.
func (a *Array) Data() []float64 {
	return a.data
}

// Clone returns a deep copy.
func (a *Array) Clone() *Array {
	data := make([]float64, len(a.data))
	copy(data, a.data)
	return &Array{data: data, shape: append([]int(nil), a.shape...)}
}

// CopyFrom overwrites the array's values in place with those of src. This is
// the mutation primitive used by sampling callbacks that share a buffer with
// a running solver loop. It panics on shape mismatch: the working buffer
// shape is invariant across steps.
func (a *Array) CopyFrom(src *Array) {
	if !sameShape(a.shape, src.shape) {
		panic(fmt.Sprintf("tensor: cannot copy shape %v into shape %v", src.shape, a.shape))
	}
	copy(a.data, src.data)
}

func numel(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
