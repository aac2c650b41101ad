package diffusion

import (
	"math"
	"testing"
)

func TestAlphasSigmasIdentity(t *testing.T) {
	for _, tt := range []float64{0, 0.1, 0.25, 0.5, 0.75, 0.9, 1} {
		alpha, sigma := AlphasSigmas(tt)
		if got := alpha*alpha + sigma*sigma; math.Abs(got-1) > 1e-12 {
			t.Errorf("alpha^2+sigma^2 at t=%v = %v, want 1", tt, got)
		}
	}
}

func TestAlphasSigmasEndpoints(t *testing.T) {
	alpha, sigma := AlphasSigmas(0)
	if alpha != 1 || sigma != 0 {
		t.Errorf("AlphasSigmas(0) = (%v, %v), want (1, 0)", alpha, sigma)
	}

	alpha, sigma = AlphasSigmas(1)
	if math.Abs(alpha) > 1e-15 || math.Abs(sigma-1) > 1e-15 {
		t.Errorf("AlphasSigmas(1) = (%v, %v), want (0, 1)", alpha, sigma)
	}
}

func TestTFromAlphaSigmaRoundTrip(t *testing.T) {
	for _, tt := range []float64{0.01, 0.2, 0.5, 0.8, 0.99} {
		alpha, sigma := AlphasSigmas(tt)
		if got := TFromAlphaSigma(alpha, sigma); math.Abs(got-tt) > 1e-12 {
			t.Errorf("TFromAlphaSigma(AlphasSigmas(%v)) = %v", tt, got)
		}
	}
}

func TestSigmasSchedule(t *testing.T) {
	sigmas := Sigmas(10, 0.5, 50, 1)

	if len(sigmas) != 11 {
		t.Fatalf("len(Sigmas) = %d, want 11", len(sigmas))
	}
	if math.Abs(sigmas[0]-50) > 1e-9 {
		t.Errorf("sigmas[0] = %v, want 50", sigmas[0])
	}
	if math.Abs(sigmas[9]-0.5) > 1e-9 {
		t.Errorf("sigmas[9] = %v, want 0.5", sigmas[9])
	}
	if sigmas[10] != 0 {
		t.Errorf("sigmas[10] = %v, want 0", sigmas[10])
	}

	for i := 0; i < len(sigmas)-1; i++ {
		if sigmas[i+1] >= sigmas[i] {
			t.Errorf("schedule not strictly decreasing at %d: %v >= %v", i, sigmas[i+1], sigmas[i])
		}
	}
}

func TestSigmasRho(t *testing.T) {
	// rho > 1 pushes interior levels toward sigmaMin.
	flat := Sigmas(10, 0.5, 50, 1)
	curved := Sigmas(10, 0.5, 50, 3)

	for i := 1; i < 9; i++ {
		if curved[i] >= flat[i] {
			t.Errorf("rho=3 level %d = %v, want below rho=1 level %v", i, curved[i], flat[i])
		}
	}
}

func TestSigmasSingleStep(t *testing.T) {
	sigmas := Sigmas(1, 0.5, 50, 1)
	if len(sigmas) != 2 || math.Abs(sigmas[0]-50) > 1e-9 || sigmas[1] != 0 {
		t.Errorf("Sigmas(1, ...) = %v, want [50 0]", sigmas)
	}
}
