// ddim.go - DDIM Sampling-Loop fuer v-Diffusion
//
// Dieses Modul enthaelt:
// - DDIMConfig fuer Steps, Eta und Noise-Quelle
// - SampleDDIM: deterministischer/stochastischer Reverse-Prozess
package diffusion

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"

	"github.com/wavegen/wavegen/tensor"
)

// DDIMConfig configures the self-contained DDIM loop.
type DDIMConfig struct {
	// Steps is the number of denoising steps, at least 1.
	Steps int
	// Eta scales the per-step stochastic noise contribution. 0 gives a
	// fully deterministic trajectory.
	Eta float64
	// Src supplies fresh noise when Eta > 0. A nil source is seeded from
	// the wall clock, so runs are not reproducible without one.
	Src rand.Source
	// Progress, when set, is reported once per completed step. It must not
	// influence the result.
	Progress func(step, total int)
}

// SampleDDIM draws a sample from the model given starting noise x. The
// timestep schedule is Steps evenly spaced points from 1 down to, but
// excluding, 0. The returned signal is the clean prediction of the final
// step; x itself is not modified.
func SampleDDIM(model Model, x *tensor.Array, cfg DDIMConfig) (*tensor.Array, error) {
	steps := cfg.Steps
	if steps < 1 {
		return nil, fmt.Errorf("ddim: step count %d, need at least 1", steps)
	}

	alphas := make([]float64, steps)
	sigmas := make([]float64, steps)
	for i := range steps {
		t := 1 - float64(i)/float64(steps)
		alphas[i], sigmas[i] = AlphasSigmas(t)
	}

	var pred *tensor.Array
	for i := range steps {
		t := 1 - float64(i)/float64(steps)

		// Model evaluation happens at half precision.
		v, err := model.Predict(tensor.ToFloat16(x), t)
		if err != nil {
			return nil, err
		}

		// Predict the denoised signal and the noise.
		pred = tensor.Sub(tensor.MulScalar(x, alphas[i]), tensor.MulScalar(v, sigmas[i]))
		eps := tensor.Add(tensor.MulScalar(x, sigmas[i]), tensor.MulScalar(v, alphas[i]))

		if i < steps-1 {
			// Eta > 0 trades part of the predicted noise for a fresh draw.
			ddimSigma := cfg.Eta * math.Sqrt(sigmas[i+1]*sigmas[i+1]/(sigmas[i]*sigmas[i])) *
				math.Sqrt(1-alphas[i]*alphas[i]/(alphas[i+1]*alphas[i+1]))
			adjustedSigma := math.Sqrt(sigmas[i+1]*sigmas[i+1] - ddimSigma*ddimSigma)

			x = tensor.Add(tensor.MulScalar(pred, alphas[i+1]), tensor.MulScalar(eps, adjustedSigma))

			if cfg.Eta > 0 {
				x = tensor.Add(x, tensor.MulScalar(tensor.RandnLike(cfg.Src, x), ddimSigma))
			}
		}

		if cfg.Progress != nil {
			cfg.Progress(i+1, steps)
		}
	}

	return pred, nil
}
