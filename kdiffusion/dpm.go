// dpm.go - DPM-Solver Familie
//
// Dieses Modul enthaelt:
// - SampleDPM2: Second-Order Step mit Log-Mittelwert Zwischenpunkt
// - SampleDPMFast: Segmentweise DPM-Solver-1/2/3 Schritte
// - SampleDPMAdaptive: Adaptive Schrittweite mit PID-Controller
//
// Fast und Adaptive arbeiten direkt auf (sigmaMin, sigmaMax) statt auf einer
// vorberechneten Schedule; diese Asymmetrie ist Teil des Solver-Kontrakts.
package kdiffusion

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/wavegen/wavegen/tensor"
)

// SampleDPM2 integrates with a second order midpoint step evaluated at the
// log-space mean of adjacent noise levels.
func SampleDPM2(d Denoiser, x *tensor.Array, sigmas []float64, cb Callback) (*tensor.Array, error) {
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
		if sigmas[i+1] == 0 {
			x = tensor.Add(x, tensor.MulScalar(dir, sigmas[i+1]-sigma))
			continue
		}
		sigmaMid := math.Exp((math.Log(sigma) + math.Log(sigmas[i+1])) / 2)
		dt1 := sigmaMid - sigma
		dt2 := sigmas[i+1] - sigma
		x2 := tensor.Add(x, tensor.MulScalar(dir, dt1))
		denoised2, err := d.Denoise(x2, sigmaMid)
		if err != nil {
			return nil, err
		}
		dir2 := toD(x2, sigmaMid, denoised2)
		x = tensor.Add(x, tensor.MulScalar(dir2, dt2))
	}
	return x, nil
}

// dpmSolver carries the shared state of the DPM-Solver step functions. It
// works in t = -log(sigma) coordinates.
type dpmSolver struct {
	d  Denoiser
	cb Callback
}

func (s *dpmSolver) sigma(t float64) float64 { return math.Exp(-t) }

func (s *dpmSolver) eps(x *tensor.Array, t float64) (eps, denoised *tensor.Array, err error) {
	sigma := s.sigma(t)
	denoised, err = s.d.Denoise(x, sigma)
	if err != nil {
		return nil, nil, err
	}
	return tensor.MulScalar(tensor.Sub(x, denoised), 1/sigma), denoised, nil
}

func (s *dpmSolver) step1(x, eps *tensor.Array, t, tNext float64) *tensor.Array {
	h := tNext - t
	return tensor.Sub(x, tensor.MulScalar(eps, s.sigma(tNext)*math.Expm1(h)))
}

func (s *dpmSolver) step2(x, eps *tensor.Array, t, tNext, r1 float64) (*tensor.Array, error) {
	h := tNext - t
	s1 := t + r1*h
	u1 := tensor.Sub(x, tensor.MulScalar(eps, s.sigma(s1)*math.Expm1(r1*h)))
	epsR1, _, err := s.eps(u1, s1)
	if err != nil {
		return nil, err
	}
	x2 := tensor.Sub(x, tensor.MulScalar(eps, s.sigma(tNext)*math.Expm1(h)))
	return tensor.Sub(x2, tensor.MulScalar(tensor.Sub(epsR1, eps), s.sigma(tNext)/(2*r1)*math.Expm1(h))), nil
}

func (s *dpmSolver) step3(x, eps *tensor.Array, t, tNext float64) (*tensor.Array, error) {
	const r1, r2 = 1.0 / 3, 2.0 / 3
	h := tNext - t
	s1 := t + r1*h
	s2 := t + r2*h
	u1 := tensor.Sub(x, tensor.MulScalar(eps, s.sigma(s1)*math.Expm1(r1*h)))
	epsR1, _, err := s.eps(u1, s1)
	if err != nil {
		return nil, err
	}
	u2 := tensor.Sub(x, tensor.MulScalar(eps, s.sigma(s2)*math.Expm1(r2*h)))
	u2 = tensor.Sub(u2, tensor.MulScalar(tensor.Sub(epsR1, eps), s.sigma(s2)*(r2/r1)*(math.Expm1(r2*h)/(r2*h)-1)))
	epsR2, _, err := s.eps(u2, s2)
	if err != nil {
		return nil, err
	}
	x3 := tensor.Sub(x, tensor.MulScalar(eps, s.sigma(tNext)*math.Expm1(h)))
	return tensor.Sub(x3, tensor.MulScalar(tensor.Sub(epsR2, eps), s.sigma(tNext)/r2*(math.Expm1(h)/h-1))), nil
}

// SampleDPMFast spends exactly n denoiser evaluations on fixed segments of
// third (then lower) order steps between sigmaMax and sigmaMin. Unlike the
// schedule-based solvers it takes the noise range directly.
func SampleDPMFast(d Denoiser, x *tensor.Array, sigmaMin, sigmaMax float64, n int, cb Callback) (*tensor.Array, error) {
	if n < 1 {
		return nil, fmt.Errorf("dpm-fast: step count %d, need at least 1", n)
	}
	if sigmaMin <= 0 || sigmaMax <= sigmaMin {
		return nil, fmt.Errorf("dpm-fast: invalid sigma range [%v, %v]", sigmaMin, sigmaMax)
	}

	s := &dpmSolver{d: d, cb: cb}
	tStart := -math.Log(sigmaMax)
	tEnd := -math.Log(sigmaMin)

	m := n/3 + 1
	ts := make([]float64, m+1)
	if m == 1 {
		ts[0], ts[1] = tStart, tEnd
	} else {
		floats.Span(ts, tStart, tEnd)
	}

	var orders []int
	if n%3 == 0 {
		for range m - 2 {
			orders = append(orders, 3)
		}
		orders = append(orders, 2, 1)
	} else {
		for range m - 1 {
			orders = append(orders, 3)
		}
		orders = append(orders, n%3)
	}

	for i, order := range orders {
		t, tNext := ts[i], ts[i+1]
		eps, denoised, err := s.eps(x, t)
		if err != nil {
			return nil, err
		}
		if cb != nil {
			cb(StepInfo{I: i, X: x, Sigma: s.sigma(t), SigmaHat: s.sigma(t), Denoised: denoised})
		}
		switch order {
		case 1:
			x = s.step1(x, eps, t, tNext)
		case 2:
			x, err = s.step2(x, eps, t, tNext, 0.5)
		default:
			x, err = s.step3(x, eps, t, tNext)
		}
		if err != nil {
			return nil, err
		}
	}
	return x, nil
}

// maxAdaptiveSteps bounds the adaptive loop so a stalled step size
// controller fails loudly instead of spinning.
const maxAdaptiveSteps = 1000

// SampleDPMAdaptive integrates with embedded second/third order steps and a
// PID step-size controller. It takes the noise range plus tolerances instead
// of a precomputed schedule.
func SampleDPMAdaptive(d Denoiser, x *tensor.Array, sigmaMin, sigmaMax, rtol, atol float64, cb Callback) (*tensor.Array, error) {
	if sigmaMin <= 0 || sigmaMax <= sigmaMin {
		return nil, fmt.Errorf("dpm-adaptive: invalid sigma range [%v, %v]", sigmaMin, sigmaMax)
	}

	s := &dpmSolver{d: d, cb: cb}
	tEnd := -math.Log(sigmaMin)
	pid := newPIDController(0.05, 0, 1, 0, 3, 0.81)

	xPrev := x
	for i, cur := 0, -math.Log(sigmaMax); cur < tEnd-1e-5; i++ {
		if i >= maxAdaptiveSteps {
			return nil, errors.New("dpm-adaptive: step size controller failed to converge")
		}
		t := math.Min(tEnd, cur+pid.h)
		eps, denoised, err := s.eps(x, cur)
		if err != nil {
			return nil, err
		}
		if cb != nil {
			cb(StepInfo{I: i, X: x, Sigma: s.sigma(cur), SigmaHat: s.sigma(cur), Denoised: denoised})
		}
		xLow, err := s.step2(x, eps, cur, t, 1.0/3)
		if err != nil {
			return nil, err
		}
		xHigh, err := s.step3(x, eps, cur, t)
		if err != nil {
			return nil, err
		}
		if pid.proposeStep(stepError(xLow, xHigh, xPrev, rtol, atol)) {
			xPrev = xLow
			x = xHigh
			cur = t
		}
	}
	return x, nil
}

// stepError is the RMS of the low/high order difference scaled by the
// mixed absolute/relative tolerance.
func stepError(low, high, prev *tensor.Array, rtol, atol float64) float64 {
	ld, hd, pd := low.Data(), high.Data(), prev.Data()
	var sum float64
	for i := range ld {
		delta := math.Max(atol, rtol*math.Max(math.Abs(ld[i]), math.Abs(pd[i])))
		r := (ld[i] - hd[i]) / delta
		sum += r * r
	}
	return math.Sqrt(sum / float64(len(ld)))
}

type pidController struct {
	h            float64
	b1, b2, b3   float64
	acceptSafety float64
	eps          float64
	errs         []float64
}

func newPIDController(h, pcoeff, icoeff, dcoeff, order, acceptSafety float64) *pidController {
	return &pidController{
		h:            h,
		b1:           (pcoeff + icoeff + dcoeff) / order,
		b2:           -(pcoeff + 2*dcoeff) / order,
		b3:           dcoeff / order,
		acceptSafety: acceptSafety,
		eps:          1e-8,
	}
}

func (p *pidController) limiter(x float64) float64 {
	return 1 + math.Atan(x-1)
}

func (p *pidController) proposeStep(err float64) bool {
	inv := 1 / (err + p.eps)
	if p.errs == nil {
		p.errs = []float64{inv, inv, inv}
	}
	p.errs[0] = inv
	factor := p.limiter(math.Pow(p.errs[0], p.b1) * math.Pow(p.errs[1], p.b2) * math.Pow(p.errs[2], p.b3))
	accept := factor >= p.acceptSafety
	if accept {
		p.errs[2] = p.errs[1]
		p.errs[1] = p.errs[0]
	}
	p.h *= factor
	return accept
}
