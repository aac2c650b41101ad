package diffusion

import (
	"math"

	"github.com/wavegen/wavegen/kdiffusion"
	"github.com/wavegen/wavegen/tensor"
)

// VDenoiser adapts a velocity-parameterized Model to the denoiser contract
// the solvers expect: (noisy signal, noise level) -> denoised estimate. The
// data scale is fixed at 1.
type VDenoiser struct {
	Model Model
}

var _ kdiffusion.Denoiser = (*VDenoiser)(nil)

// Denoise scales the input into the model's unit-variance regime, queries
// the velocity at the matching timestep and recombines skip and output
// branches into a denoised estimate.
func (d *VDenoiser) Denoise(x *tensor.Array, sigma float64) (*tensor.Array, error) {
	cIn := 1 / math.Sqrt(sigma*sigma+1)
	cSkip := 1 / (sigma*sigma + 1)
	cOut := -sigma / math.Sqrt(sigma*sigma+1)
	t := math.Atan(sigma) / math.Pi * 2

	// Model evaluation happens at half precision.
	v, err := d.Model.Predict(tensor.ToFloat16(tensor.MulScalar(x, cIn)), t)
	if err != nil {
		return nil, err
	}
	return tensor.Add(tensor.MulScalar(v, cOut), tensor.MulScalar(x, cSkip)), nil
}
