package diffusion

import (
	"golang.org/x/exp/rand"

	"github.com/wavegen/wavegen/kdiffusion"
	"github.com/wavegen/wavegen/tensor"
)

// Handler observes solver steps. OnStep may overwrite the step's working
// buffer in place; the solver resumes with the mutated buffer because both
// share it by reference.
type Handler interface {
	OnStep(kdiffusion.StepInfo)
}

// CallbackHandler adapts a plain solver callback to the Handler interface.
type CallbackHandler kdiffusion.Callback

func (f CallbackHandler) OnStep(info kdiffusion.StepInfo) { f(info) }

// Compose chains handlers into a single solver callback, invoked in order
// on every step.
func Compose(handlers ...Handler) kdiffusion.Callback {
	return func(info kdiffusion.StepInfo) {
		for _, h := range handlers {
			if h != nil {
				h.OnStep(info)
			}
		}
	}
}

// InpaintHandler forces masked regions of the working buffer back to a
// freshly noised copy of the reference signal on every step. The solver
// exposes no other way to intervene mid-step, so the handler mutates the
// shared buffer in place.
type InpaintHandler struct {
	// Reference is the signal whose masked regions are kept.
	Reference *tensor.Array
	// Mask is the soft inpainting mask, broadcastable over channels.
	Mask *tensor.Array
	// Steps is the schedule length used for mask thresholding.
	Steps int
	// Src supplies the fresh noise mixed into the reference each step.
	Src rand.Source
}

// NewInpaintHandler builds a handler for one sampling run.
func NewInpaintHandler(reference, mask *tensor.Array, steps int, src rand.Source) *InpaintHandler {
	return &InpaintHandler{Reference: reference, Mask: mask, Steps: steps, Src: src}
}

// OnStep noises the reference to the step's noise level, computes the
// step's binary mask and overwrites the working buffer with
// noised*mask + x*(1-mask).
func (h *InpaintHandler) OnStep(info kdiffusion.StepInfo) {
	noised := tensor.Add(h.Reference, tensor.MulScalar(tensor.RandnLike(h.Src, h.Reference), info.Sigma))
	bmask := BinaryMask(info.I, h.Steps, h.Mask)
	info.X.CopyFrom(tensor.Blend(noised, info.X, bmask))
}
