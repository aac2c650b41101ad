package diffusion

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Sigmas builds the polyexponential noise-level schedule for the solver
// path: steps values from sigmaMax down to sigmaMin with curvature rho
// (higher rho concentrates levels near sigmaMin), plus a terminal zero.
func Sigmas(steps int, sigmaMin, sigmaMax, rho float64) []float64 {
	ramp := make([]float64, steps)
	if steps == 1 {
		ramp[0] = 1
	} else {
		floats.Span(ramp, 1, 0)
	}

	sigmas := make([]float64, steps+1)
	logMin, logMax := math.Log(sigmaMin), math.Log(sigmaMax)
	for i, r := range ramp {
		sigmas[i] = math.Exp(math.Pow(r, rho)*(logMax-logMin) + logMin)
	}
	sigmas[steps] = 0
	return sigmas
}
