package kdiffusion

import (
	"math"

	"golang.org/x/exp/rand"

	"github.com/wavegen/wavegen/tensor"
)

// SampleDPMPP2SAncestral runs the ancestral two-stage DPM++ sampler. Each
// step takes a second order update to the ancestral "down" level and then
// injects fresh noise at the "up" level drawn from src.
func SampleDPMPP2SAncestral(d Denoiser, x *tensor.Array, sigmas []float64, src rand.Source, cb Callback) (*tensor.Array, error) {
	for i := 0; i < len(sigmas)-1; i++ {
		sigma := sigmas[i]
		denoised, err := d.Denoise(x, sigma)
		if err != nil {
			return nil, err
		}
		down, up := ancestralStep(sigma, sigmas[i+1], 1)
		if cb != nil {
			cb(StepInfo{I: i, X: x, Sigma: sigma, SigmaHat: sigma, Denoised: denoised})
		}
		if down == 0 {
			// Denoising to zero noise: a single Euler step suffices.
			dir := toD(x, sigma, denoised)
			x = tensor.Add(x, tensor.MulScalar(dir, down-sigma))
		} else {
			t := -math.Log(sigma)
			tNext := -math.Log(down)
			r := 0.5
			h := tNext - t
			s := t + r*h
			sigmaS := math.Exp(-s)
			x2 := tensor.Sub(tensor.MulScalar(x, sigmaS/sigma), tensor.MulScalar(denoised, math.Expm1(-r*h)))
			denoised2, err := d.Denoise(x2, sigmaS)
			if err != nil {
				return nil, err
			}
			x = tensor.Sub(tensor.MulScalar(x, down/sigma), tensor.MulScalar(denoised2, math.Expm1(-h)))
		}
		if sigmas[i+1] > 0 {
			x = tensor.Add(x, tensor.MulScalar(tensor.RandnLike(src, x), up))
		}
	}
	return x, nil
}
