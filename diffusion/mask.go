package diffusion

import "github.com/wavegen/wavegen/tensor"

// BinaryMask thresholds a soft inpainting mask for step i of steps. The
// threshold (i+1)/steps rises from 1/steps to 1, so positions with low soft
// values lock to the reference first and the kept region only ever grows:
// soft mask inpainting is shrinking hard mask inpainting. A resulting value
// of 1 marks a keep-reference position for this step.
func BinaryMask(i, steps int, soft *tensor.Array) *tensor.Array {
	threshold := float64(i+1) / float64(steps)
	out := tensor.Zeros(soft.Shape()...)
	dst, src := out.Data(), soft.Data()
	for j, v := range src {
		if v <= threshold {
			dst[j] = 1
		}
	}
	return out
}
