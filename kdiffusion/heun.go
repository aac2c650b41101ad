package kdiffusion

import "github.com/wavegen/wavegen/tensor"

// SampleHeun integrates the probability-flow ODE with Heun's second order
// method, falling back to a plain Euler step when the next noise level is
// zero.
func SampleHeun(d Denoiser, x *tensor.Array, sigmas []float64, cb Callback) (*tensor.Array, error) {
	for i := 0; i < len(sigmas)-1; i++ {
		sigma := sigmas[i]
		denoised, err := d.Denoise(x, sigma)
		if err != nil {
			return nil, err
		}
		dir := toD(x, sigma, denoised)
		if cb != nil {
			cb(StepInfo{I: i, X: x, Sigma: sigma, SigmaHat: sigma, Denoised: denoised})
		}
		dt := sigmas[i+1] - sigma
		if sigmas[i+1] == 0 {
			x = tensor.Add(x, tensor.MulScalar(dir, dt))
			continue
		}
		x2 := tensor.Add(x, tensor.MulScalar(dir, dt))
		denoised2, err := d.Denoise(x2, sigmas[i+1])
		if err != nil {
			return nil, err
		}
		dir2 := toD(x2, sigmas[i+1], denoised2)
		dPrime := tensor.MulScalar(tensor.Add(dir, dir2), 0.5)
		x = tensor.Add(x, tensor.MulScalar(dPrime, dt))
	}
	return x, nil
}
