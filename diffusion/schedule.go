// Package diffusion is the sampling engine: it drives a v-parameterized
// denoising model from pure noise (or a noised reference signal) to a clean
// signal, either with the built-in DDIM loop or by dispatching onto the
// kdiffusion solver family. Inpainting is handled by composing a per-step
// handler that remixes the shared working buffer under a shrinking binary
// mask.
package diffusion

import "math"

// AlphasSigmas returns the scaling factors for the clean signal (alpha) and
// for the noise (sigma) at timestep t in [0, 1]. The cosine schedule keeps
// alpha^2 + sigma^2 == 1.
func AlphasSigmas(t float64) (alpha, sigma float64) {
	return math.Cos(t * math.Pi / 2), math.Sin(t * math.Pi / 2)
}

// TFromAlphaSigma returns the timestep for a pair of scaling factors. It is
// the exact inverse of AlphasSigmas on (0, 1). alpha == sigma == 0 is a
// degenerate input the caller must avoid.
func TFromAlphaSigma(alpha, sigma float64) float64 {
	return math.Atan2(sigma, alpha) / math.Pi * 2
}
