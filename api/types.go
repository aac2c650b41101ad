// Package api defines the request and response types of the wavegen HTTP
// surface and the base64 float32 signal codec they carry.
package api

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"github.com/wavegen/wavegen/tensor"
)

// StatusError is an error with an HTTP status code and message.
type StatusError struct {
	StatusCode   int
	Status       string
	ErrorMessage string `json:"error"`
}

func (e StatusError) Error() string {
	switch {
	case e.Status != "" && e.ErrorMessage != "":
		return fmt.Sprintf("%s: %s", e.Status, e.ErrorMessage)
	case e.Status != "":
		return e.Status
	case e.ErrorMessage != "":
		return e.ErrorMessage
	default:
		// this should not happen
		return "something went wrong, please see the server logs for details"
	}
}

// GenerateRequest describes one sampling run. Init and Mask, when set,
// switch the run from plain sampling to variation or inpainting.
type GenerateRequest struct {
	// Model names a registered diffusion model.
	Model string `json:"model"`

	// Solver selects the stepping algorithm, empty for the default.
	Solver string `json:"solver,omitempty"`

	// Steps is the denoising step count (evaluation budget for the
	// range-based solvers).
	Steps int `json:"steps,omitempty"`

	// Eta adds stochasticity to the ddim sampler.
	Eta float64 `json:"eta,omitempty"`

	SigmaMin float64 `json:"sigma_min,omitempty"`
	SigmaMax float64 `json:"sigma_max,omitempty"`
	Rho      float64 `json:"rho,omitempty"`

	// Seed fixes the noise source; 0 draws a fresh seed.
	Seed uint64 `json:"seed,omitempty"`

	Channels int `json:"channels,omitempty"`
	Samples  int `json:"samples,omitempty"`

	// Init is a base64 float32 little-endian reference signal.
	Init string `json:"init,omitempty"`
	// Mask is a base64 float32 little-endian soft mask; requires Init.
	Mask string `json:"mask,omitempty"`

	// Stream, when true, sends one progress response per step before
	// the final signal.
	Stream *bool `json:"stream,omitempty"`
}

// GenerateResponse is one message of a generation stream. Intermediate
// messages carry progress only; the final message has Done set and the
// encoded signal.
type GenerateResponse struct {
	Model string `json:"model"`

	Step  int `json:"step,omitempty"`
	Total int `json:"total,omitempty"`

	Done bool `json:"done"`

	// Signal is the base64 float32 little-endian sample data, shaped
	// (Channels, Samples).
	Signal   string `json:"signal,omitempty"`
	Channels int    `json:"channels,omitempty"`
	Samples  int    `json:"samples,omitempty"`
}

// EncodeSignal packs an array as base64 float32 little-endian.
func EncodeSignal(a *tensor.Array) string {
	var buf bytes.Buffer
	f32s := make([]float32, a.Numel())
	for i, v := range a.Data() {
		f32s[i] = float32(v)
	}
	binary.Write(&buf, binary.LittleEndian, f32s)
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

// DecodeSignal unpacks a base64 float32 little-endian payload into an
// array of the given shape.
func DecodeSignal(s string, shape ...int) (*tensor.Array, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("signal payload length %d is not a multiple of 4", len(raw))
	}

	f32s := make([]float32, len(raw)/4)
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, f32s); err != nil {
		return nil, err
	}

	numel := 1
	for _, dim := range shape {
		numel *= dim
	}
	if numel != len(f32s) {
		return nil, fmt.Errorf("signal payload has %d values, shape %v wants %d", len(f32s), shape, numel)
	}

	data := make([]float64, len(f32s))
	for i, v := range f32s {
		data[i] = float64(v)
	}
	return tensor.New(data, shape...), nil
}
