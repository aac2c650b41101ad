package diffusion

import "github.com/wavegen/wavegen/tensor"

// Model is the denoising network in velocity parameterization: given a noisy
// signal and a timestep in [0, 1] (1 = pure noise, 0 = clean), it predicts
// the velocity blend of signal and noise directions. Implementations close
// over whatever conditioning they need; the engine treats them as opaque.
//
// The engine evaluates models under reduced-precision compute: inputs are
// rounded through half precision before the call.
type Model interface {
	Predict(x *tensor.Array, t float64) (*tensor.Array, error)
}

// ModelFunc adapts a plain function to the Model interface.
type ModelFunc func(x *tensor.Array, t float64) (*tensor.Array, error)

func (f ModelFunc) Predict(x *tensor.Array, t float64) (*tensor.Array, error) {
	return f(x, t)
}
