// Package kdiffusion implements the stepping algorithms the sampling engine
// dispatches onto: Heun, linear multistep, DPM-2, DPM++(2S) ancestral,
// DPM-fast, DPM-adaptive and DPM++(2M) SDE.
//
// Every solver works against the Denoiser contract and advances a working
// buffer along a decreasing noise-level schedule. A Callback registered by
// the caller is invoked once per step and may overwrite the buffer in place;
// the mutation is observed by the remainder of that step and by all
// subsequent steps, because the solver shares the buffer rather than copying
// it.
package kdiffusion

import (
	"math"

	"github.com/wavegen/wavegen/tensor"
)

// Denoiser exposes a model as "predict the clean signal given the noisy
// signal and its noise level".
type Denoiser interface {
	Denoise(x *tensor.Array, sigma float64) (*tensor.Array, error)
}

// StepInfo is the per-step record passed to callbacks. X is the live working
// buffer, not a copy.
type StepInfo struct {
	I        int
	X        *tensor.Array
	Sigma    float64
	SigmaHat float64
	Denoised *tensor.Array
}

// Callback observes one solver step. Its return value is ignored; mutating
// X in place is the supported way to intervene mid-run.
type Callback func(StepInfo)

// toD converts a denoised estimate to an ODE derivative.
func toD(x *tensor.Array, sigma float64, denoised *tensor.Array) *tensor.Array {
	return tensor.MulScalar(tensor.Sub(x, denoised), 1/sigma)
}

// ancestralStep splits the transition sigmaFrom -> sigmaTo into a
// deterministic part (down) and a fresh-noise part (up).
func ancestralStep(sigmaFrom, sigmaTo, eta float64) (down, up float64) {
	if sigmaTo == 0 {
		return 0, 0
	}
	up = math.Min(sigmaTo, eta*math.Sqrt(sigmaTo*sigmaTo*(sigmaFrom*sigmaFrom-sigmaTo*sigmaTo)/(sigmaFrom*sigmaFrom)))
	down = math.Sqrt(sigmaTo*sigmaTo - up*up)
	return down, up
}
