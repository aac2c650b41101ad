package kdiffusion

import (
	"math"

	"golang.org/x/exp/rand"

	"github.com/wavegen/wavegen/tensor"
)

// SampleDPMPP2MSDE runs the multistep DPM++(2M) SDE sampler with midpoint
// correction. Noise draws come from src each step.
func SampleDPMPP2MSDE(d Denoiser, x *tensor.Array, sigmas []float64, src rand.Source, cb Callback) (*tensor.Array, error) {
	const eta = 1.0

	var oldDenoised *tensor.Array
	var hLast float64
	for i := 0; i < len(sigmas)-1; i++ {
		sigma := sigmas[i]
		denoised, err := d.Denoise(x, sigma)
		if err != nil {
			return nil, err
		}
		if cb != nil {
			cb(StepInfo{I: i, X: x, Sigma: sigma, SigmaHat: sigma, Denoised: denoised})
		}
		if sigmas[i+1] == 0 {
			x = denoised
		} else {
			t := -math.Log(sigma)
			s := -math.Log(sigmas[i+1])
			h := s - t
			etaH := eta * h

			x = tensor.Add(
				tensor.MulScalar(x, sigmas[i+1]/sigma*math.Exp(-etaH)),
				tensor.MulScalar(denoised, -math.Expm1(-h-etaH)),
			)
			if oldDenoised != nil {
				r := hLast / h
				x = tensor.Add(x, tensor.MulScalar(
					tensor.Sub(denoised, oldDenoised),
					0.5*-math.Expm1(-h-etaH)/r,
				))
			}
			x = tensor.Add(x, tensor.MulScalar(
				tensor.RandnLike(src, x),
				sigmas[i+1]*math.Sqrt(-math.Expm1(-2*etaH)),
			))
			hLast = h
		}
		oldDenoised = denoised
	}
	return x, nil
}
