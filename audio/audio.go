// Package audio holds the signal transforms around the sampling engine:
// fixed-length windowing, channel-count normalization and phase
// augmentation.
package audio

import (
	"math"
	"time"

	"golang.org/x/exp/rand"

	"github.com/wavegen/wavegen/tensor"
)

// PadCrop cuts or zero-pads a (channels, samples) signal to exactly
// nSamples per channel. When src is non-nil and the signal is longer than
// the window, the crop offset is drawn uniformly; otherwise it starts at 0.
func PadCrop(signal *tensor.Array, nSamples int, src rand.Source) *tensor.Array {
	channels, samples := signal.Dim(0), signal.Dim(1)

	start := 0
	if src != nil && samples > nSamples {
		start = int(rand.New(src).Int63n(int64(samples-nSamples) + 1))
	}

	out := tensor.Zeros(channels, nSamples)
	copyWindow(out, signal, start, nSamples)
	return out
}

// Chunk is a fixed-length window of a longer signal together with its
// position metadata, used to condition generation on timing.
type Chunk struct {
	Signal *tensor.Array

	// TStart and TEnd locate the window in the padded source on [0, 1].
	TStart, TEnd float64

	// SecondsStart is the window offset in whole seconds, SecondsTotal
	// the source duration rounded up to whole seconds.
	SecondsStart float64
	SecondsTotal int

	// PaddingMask is 1 where the window holds source audio and 0 where
	// it was zero-padded, shape (nSamples).
	PaddingMask *tensor.Array
}

// PadCropNormalized windows a (channels, samples) signal like PadCrop and
// additionally reports normalized timing and a padding mask.
func PadCropNormalized(signal *tensor.Array, nSamples, sampleRate int, src rand.Source) Chunk {
	channels, samples := signal.Dim(0), signal.Dim(1)

	maxOffset := samples - nSamples
	if maxOffset < 0 {
		maxOffset = 0
	}
	offset := 0
	if src != nil && maxOffset > 0 {
		offset = int(rand.New(src).Int63n(int64(maxOffset) + 1))
	}

	out := tensor.Zeros(channels, nSamples)
	copyWindow(out, signal, offset, nSamples)

	mask := tensor.Zeros(nSamples)
	valid := min(samples, nSamples)
	for i := 0; i < valid; i++ {
		mask.Data()[i] = 1
	}

	return Chunk{
		Signal:       out,
		TStart:       float64(offset) / float64(maxOffset+nSamples),
		TEnd:         float64(offset+nSamples) / float64(maxOffset+nSamples),
		SecondsStart: math.Floor(float64(offset) / float64(sampleRate)),
		SecondsTotal: int(math.Ceil(float64(samples) / float64(sampleRate))),
		PaddingMask:  mask,
	}
}

// Mono averages the channels of a (channels, samples) signal into
// (1, samples). One-dimensional signals pass through unchanged.
func Mono(signal *tensor.Array) *tensor.Array {
	if len(signal.Shape()) < 2 || signal.Dim(0) == 1 {
		return signal
	}
	channels, samples := signal.Dim(0), signal.Dim(1)
	out := tensor.Zeros(1, samples)
	data, src := out.Data(), signal.Data()
	for c := 0; c < channels; c++ {
		for i := 0; i < samples; i++ {
			data[i] += src[c*samples+i]
		}
	}
	for i := range data {
		data[i] /= float64(channels)
	}
	return out
}

// Stereo coerces a signal to exactly two channels: mono input is
// duplicated, wider input keeps its first two channels.
func Stereo(signal *tensor.Array) *tensor.Array {
	shape := signal.Shape()
	switch {
	case len(shape) == 1:
		samples := shape[0]
		out := tensor.Zeros(2, samples)
		copy(out.Data()[:samples], signal.Data())
		copy(out.Data()[samples:], signal.Data())
		return out
	case shape[0] == 1:
		samples := shape[1]
		out := tensor.Zeros(2, samples)
		copy(out.Data()[:samples], signal.Data())
		copy(out.Data()[samples:], signal.Data())
		return out
	case shape[0] > 2:
		samples := shape[1]
		out := tensor.Zeros(2, samples)
		copy(out.Data(), signal.Data()[:2*samples])
		return out
	default:
		return signal
	}
}

// PhaseFlipper inverts the signal with probability p, as a cheap data
// augmentation for phase-invariant models. A nil src is seeded from the
// wall clock.
func PhaseFlipper(signal *tensor.Array, p float64, src rand.Source) *tensor.Array {
	if src == nil {
		src = rand.NewSource(uint64(time.Now().UnixNano()))
	}
	if rand.New(src).Float64() < p {
		return tensor.MulScalar(signal, -1)
	}
	return signal
}

func copyWindow(dst, src *tensor.Array, start, nSamples int) {
	channels, samples := src.Dim(0), src.Dim(1)
	valid := min(samples-start, nSamples)
	for c := 0; c < channels; c++ {
		copy(dst.Data()[c*nSamples:c*nSamples+valid], src.Data()[c*samples+start:c*samples+start+valid])
	}
}
