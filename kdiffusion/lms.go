package kdiffusion

import (
	"github.com/wavegen/wavegen/tensor"
	"gonum.org/v1/gonum/integrate/quad"
)

// DefaultLMSOrder is the multistep order used when the caller does not pick
// one.
const DefaultLMSOrder = 4

// SampleLMS integrates with an Adams-Bashforth style linear multistep
// method. The first steps run at reduced order until enough derivative
// history has accumulated.
func SampleLMS(d Denoiser, x *tensor.Array, sigmas []float64, order int, cb Callback) (*tensor.Array, error) {
	if order < 1 {
		order = DefaultLMSOrder
	}
	var ds []*tensor.Array
	for i := 0; i < len(sigmas)-1; i++ {
		sigma := sigmas[i]
		denoised, err := d.Denoise(x, sigma)
		if err != nil {
			return nil, err
		}
		ds = append(ds, toD(x, sigma, denoised))
		if len(ds) > order {
			ds = ds[1:]
		}
		if cb != nil {
			cb(StepInfo{I: i, X: x, Sigma: sigma, SigmaHat: sigma, Denoised: denoised})
		}
		curOrder := min(i+1, order)
		for j := 0; j < curOrder; j++ {
			coeff := linearMultistepCoeff(curOrder, sigmas, i, j)
			x = tensor.Add(x, tensor.MulScalar(ds[len(ds)-1-j], coeff))
		}
	}
	return x, nil
}

// linearMultistepCoeff integrates the j-th Lagrange basis polynomial over
// the current sigma interval. The integrand is a polynomial of degree
// order-1, so a fixed Gauss-Legendre rule evaluates it exactly.
func linearMultistepCoeff(order int, t []float64, i, j int) float64 {
	fn := func(tau float64) float64 {
		prod := 1.0
		for k := 0; k < order; k++ {
			if j == k {
				continue
			}
			prod *= (tau - t[i-k]) / (t[i-j] - t[i-k])
		}
		return prod
	}
	// Sigmas decrease, so flip the bounds and negate: quad.Fixed requires
	// min <= max.
	return -quad.Fixed(fn, t[i+1], t[i], 8, quad.Legendre{}, 0)
}
