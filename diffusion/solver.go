package diffusion

import (
	"errors"
	"fmt"

	"golang.org/x/exp/rand"

	"github.com/wavegen/wavegen/kdiffusion"
	"github.com/wavegen/wavegen/tensor"
)

// ErrUnknownSolver reports a solver selector outside the supported set.
var ErrUnknownSolver = errors.New("unknown solver")

// Solver selects a stepping algorithm. The variants carry exactly the
// parameters their algorithm needs: most run on the precomputed sigma
// schedule, while DPMFast and DPMAdaptive take the noise range directly.
// The set is sealed so the dispatch in SampleSolver stays exhaustive.
type Solver interface {
	fmt.Stringer
	isSolver()
}

type (
	// Heun is the single-step second order solver.
	Heun struct{}
	// LMS is the linear multistep solver. Order 0 means the default.
	LMS struct{ Order int }
	// DPMPP2SAncestral is the ancestral two-stage DPM++ solver.
	DPMPP2SAncestral struct{}
	// DPM2 is the second order DPM solver.
	DPM2 struct{}
	// DPMFast spends a fixed evaluation budget on the sigma range.
	DPMFast struct{}
	// DPMAdaptive chooses its own step sizes within the tolerances.
	DPMAdaptive struct{ RTol, ATol float64 }
	// DPMPP2MSDE is the multistep DPM++(2M) SDE solver.
	DPMPP2MSDE struct{}
)

func (Heun) isSolver()             {}
func (LMS) isSolver()              {}
func (DPMPP2SAncestral) isSolver() {}
func (DPM2) isSolver()             {}
func (DPMFast) isSolver()          {}
func (DPMAdaptive) isSolver()      {}
func (DPMPP2MSDE) isSolver()       {}

func (Heun) String() string             { return "heun" }
func (LMS) String() string              { return "lms" }
func (DPMPP2SAncestral) String() string { return "dpmpp-2s-ancestral" }
func (DPM2) String() string             { return "dpm-2" }
func (DPMFast) String() string          { return "dpm-fast" }
func (DPMAdaptive) String() string      { return "dpm-adaptive" }
func (DPMPP2MSDE) String() string       { return "dpmpp-2m-sde" }

// ParseSolver maps a selector string to its Solver variant.
func ParseSolver(name string) (Solver, error) {
	switch name {
	case "heun":
		return Heun{}, nil
	case "lms":
		return LMS{}, nil
	case "dpmpp-2s-ancestral":
		return DPMPP2SAncestral{}, nil
	case "dpm-2":
		return DPM2{}, nil
	case "dpm-fast":
		return DPMFast{}, nil
	case "dpm-adaptive":
		return DPMAdaptive{RTol: 0.01, ATol: 0.01}, nil
	case "dpmpp-2m-sde":
		return DPMPP2MSDE{}, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownSolver, name)
	}
}

// SolverConfig configures a run of the solver path. Init and Mask select
// the operating mode: neither set samples from scratch, Init alone varies
// the reference, Init plus Mask inpaints.
type SolverConfig struct {
	Solver Solver
	Steps  int

	// Noise range of the schedule. Zero values take the defaults
	// (0.5, 50, 1).
	SigmaMin, SigmaMax, Rho float64

	// Init is the reference signal for variation and inpainting.
	Init *tensor.Array
	// Mask is the soft inpainting mask; requires Init.
	Mask *tensor.Array

	// Callback, when set, observes every solver step after any inpainting
	// remix has been applied.
	Callback kdiffusion.Callback
	// Src supplies all noise drawn during the run (ancestral and SDE
	// solvers, inpainting renoising). Nil is seeded from the wall clock.
	Src rand.Source
	// Progress, when set, is reported once per step and must not influence
	// numerical results.
	Progress func(step, total int)
}

// SampleSolver draws a sample by dispatching onto the configured stepping
// algorithm. noise must be a standard normal draw of the output shape; it
// is scaled by the first schedule entry internally.
func SampleSolver(model Model, noise *tensor.Array, cfg SolverConfig) (*tensor.Array, error) {
	if cfg.Steps < 1 {
		return nil, fmt.Errorf("solver: step count %d, need at least 1", cfg.Steps)
	}
	if cfg.Solver == nil {
		cfg.Solver = DPMPP2MSDE{}
	}
	if cfg.SigmaMin == 0 {
		cfg.SigmaMin = 0.5
	}
	if cfg.SigmaMax == 0 {
		cfg.SigmaMax = 50
	}
	if cfg.Rho == 0 {
		cfg.Rho = 1
	}

	denoiser := &VDenoiser{Model: model}
	sigmas := Sigmas(cfg.Steps, cfg.SigmaMin, cfg.SigmaMax, cfg.Rho)
	scaled := tensor.MulScalar(noise, sigmas[0])

	// Pick the initial state by operating mode and compose the per-step
	// callback chain: inpainting remix first, then the caller's callback,
	// then progress reporting.
	var x *tensor.Array
	handlers := []Handler{}
	switch {
	case cfg.Init != nil && cfg.Mask != nil:
		bmask0 := BinaryMask(0, cfg.Steps, cfg.Mask)
		x = tensor.Blend(tensor.Add(cfg.Init, scaled), scaled, bmask0)
		handlers = append(handlers, NewInpaintHandler(cfg.Init, cfg.Mask, cfg.Steps, cfg.Src))
	case cfg.Init != nil:
		x = tensor.Add(cfg.Init, scaled)
	default:
		x = scaled
	}
	if cfg.Callback != nil {
		handlers = append(handlers, CallbackHandler(cfg.Callback))
	}
	if cfg.Progress != nil {
		total := cfg.Steps
		progress := cfg.Progress
		handlers = append(handlers, CallbackHandler(func(info kdiffusion.StepInfo) {
			progress(info.I+1, total)
		}))
	}
	var cb kdiffusion.Callback
	if len(handlers) > 0 {
		cb = Compose(handlers...)
	}

	switch s := cfg.Solver.(type) {
	case Heun:
		return kdiffusion.SampleHeun(denoiser, x, sigmas, cb)
	case LMS:
		return kdiffusion.SampleLMS(denoiser, x, sigmas, s.Order, cb)
	case DPMPP2SAncestral:
		return kdiffusion.SampleDPMPP2SAncestral(denoiser, x, sigmas, cfg.Src, cb)
	case DPM2:
		return kdiffusion.SampleDPM2(denoiser, x, sigmas, cb)
	case DPMFast:
		// Takes the noise range plus a step budget, not the schedule.
		return kdiffusion.SampleDPMFast(denoiser, x, cfg.SigmaMin, cfg.SigmaMax, cfg.Steps, cb)
	case DPMAdaptive:
		// Takes the noise range plus tolerances, not the schedule.
		rtol, atol := s.RTol, s.ATol
		if rtol == 0 {
			rtol = 0.01
		}
		if atol == 0 {
			atol = 0.01
		}
		return kdiffusion.SampleDPMAdaptive(denoiser, x, cfg.SigmaMin, cfg.SigmaMax, rtol, atol, cb)
	case DPMPP2MSDE:
		return kdiffusion.SampleDPMPP2MSDE(denoiser, x, sigmas, cfg.Src, cb)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownSolver, cfg.Solver)
	}
}
