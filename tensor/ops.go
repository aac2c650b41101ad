package tensor

import (
	"fmt"

	"github.com/x448/float16"
	"gonum.org/v1/gonum/floats"
)

// Add returns a + b element-wise. b may broadcast against a (each dimension
// equal or 1).
func Add(a, b *Array) *Array {
	if sameShape(a.shape, b.shape) {
		out := Zeros(a.shape...)
		floats.AddTo(out.data, a.data, b.data)
		return out
	}
	return broadcastBinary(a, b, func(x, y float64) float64 { return x + y })
}

// Sub returns a - b element-wise.
func Sub(a, b *Array) *Array {
	if sameShape(a.shape, b.shape) {
		out := Zeros(a.shape...)
		floats.SubTo(out.data, a.data, b.data)
		return out
	}
	return broadcastBinary(a, b, func(x, y float64) float64 { return x - y })
}

// Mul returns a * b element-wise.
func Mul(a, b *Array) *Array {
	if sameShape(a.shape, b.shape) {
		out := Zeros(a.shape...)
		floats.MulTo(out.data, a.data, b.data)
		return out
	}
	return broadcastBinary(a, b, func(x, y float64) float64 { return x * y })
}

// AddScalar returns a + c.
func AddScalar(a *Array, c float64) *Array {
	out := a.Clone()
	floats.AddConst(c, out.data)
	return out
}

// MulScalar returns a * c.
func MulScalar(a *Array, c float64) *Array {
	out := Zeros(a.shape...)
	floats.ScaleTo(out.data, c, a.data)
	return out
}

// Blend mixes two arrays with a mask: a*mask + b*(1-mask). The mask may
// broadcast against a and b, which must share a shape. Mask value 1 selects
// a, 0 selects b.
func Blend(a, b, mask *Array) *Array {
	if !sameShape(a.shape, b.shape) {
		panic(fmt.Sprintf("tensor: blend shapes %v and %v differ", a.shape, b.shape))
	}
	out := Zeros(a.shape...)
	idx := newBroadcastIndex(a.shape, mask.shape)
	for i := range out.data {
		m := mask.data[idx.at(i)]
		out.data[i] = a.data[i]*m + b.data[i]*(1-m)
	}
	return out
}

// ToFloat16 returns a with every value rounded through IEEE half precision.
// Storage stays float64; this emulates the reduced-precision compute the
// denoising model runs under.
func ToFloat16(a *Array) *Array {
	out := Zeros(a.shape...)
	for i, v := range a.data {
		out.data[i] = float64(float16.Fromfloat32(float32(v)).Float32())
	}
	return out
}

// EqualApprox reports whether a and b have the same shape and element-wise
// equal values within tol.
func EqualApprox(a, b *Array, tol float64) bool {
	return sameShape(a.shape, b.shape) && floats.EqualApprox(a.data, b.data, tol)
}

func broadcastBinary(a, b *Array, f func(x, y float64) float64) *Array {
	out := Zeros(a.shape...)
	idx := newBroadcastIndex(a.shape, b.shape)
	for i := range out.data {
		out.data[i] = f(a.data[i], b.data[idx.at(i)])
	}
	return out
}

// broadcastIndex maps flat indices of the full shape onto flat indices of a
// broadcast (same rank, dims equal or 1) shape.
type broadcastIndex struct {
	shape   []int
	strides []int
}

func newBroadcastIndex(full, small []int) broadcastIndex {
	if len(full) != len(small) {
		panic(fmt.Sprintf("tensor: shapes %v and %v do not broadcast", full, small))
	}
	strides := make([]int, len(small))
	stride := 1
	for i := len(small) - 1; i >= 0; i-- {
		switch small[i] {
		case full[i]:
			strides[i] = stride
		case 1:
			strides[i] = 0
		default:
			panic(fmt.Sprintf("tensor: shapes %v and %v do not broadcast", full, small))
		}
		stride *= small[i]
	}
	return broadcastIndex{shape: full, strides: strides}
}

func (b broadcastIndex) at(flat int) int {
	j := 0
	for i := len(b.shape) - 1; i >= 0; i-- {
		j += (flat % b.shape[i]) * b.strides[i]
		flat /= b.shape[i]
	}
	return j
}
