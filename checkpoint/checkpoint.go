// Package checkpoint loads model weights from safetensors and torch pickle
// files into named tensor arrays.
package checkpoint

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"slices"

	"github.com/d4l3k/go-bfloat16"
	"github.com/nlpodyssey/gopickle/pytorch"
	"github.com/nlpodyssey/gopickle/types"
	ptensor "github.com/pdevine/tensor"
	"github.com/pdevine/tensor/native"
	"github.com/x448/float16"
	"golang.org/x/exp/maps"

	"github.com/wavegen/wavegen/tensor"
)

type safetensorMetadata struct {
	Type    string   `json:"dtype"`
	Shape   []uint64 `json:"shape"`
	Offsets []int64  `json:"data_offsets"`
}

// LoadSafetensors reads every tensor of a safetensors file into float64
// arrays keyed by name. Supported on-disk types are F32, F16 and BF16.
func LoadSafetensors(fsys fs.FS, path string) (map[string]*tensor.Array, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var n int64
	if err := binary.Read(f, binary.LittleEndian, &n); err != nil {
		return nil, err
	}

	b := bytes.NewBuffer(make([]byte, 0, n))
	if _, err := io.CopyN(b, f, n); err != nil {
		return nil, err
	}

	var headers map[string]safetensorMetadata
	if err := json.NewDecoder(b).Decode(&headers); err != nil {
		return nil, err
	}

	payload, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}

	keys := maps.Keys(headers)
	slices.Sort(keys)

	weights := make(map[string]*tensor.Array, len(keys))
	for _, key := range keys {
		value := headers[key]
		if value.Type == "" {
			// metadata entry
			continue
		}
		if len(value.Offsets) != 2 || value.Offsets[0] < 0 || value.Offsets[1] > int64(len(payload)) {
			return nil, fmt.Errorf("tensor %q: bad data offsets", key)
		}

		raw := payload[value.Offsets[0]:value.Offsets[1]]
		f32s, err := decode(value.Type, raw)
		if err != nil {
			return nil, fmt.Errorf("tensor %q: %w", key, err)
		}

		shape := make([]int, len(value.Shape))
		numel := 1
		for i, dim := range value.Shape {
			shape[i] = int(dim)
			numel *= int(dim)
		}
		if numel != len(f32s) {
			return nil, fmt.Errorf("tensor %q: %d values for shape %v", key, len(f32s), shape)
		}

		data := make([]float64, len(f32s))
		for i, v := range f32s {
			data[i] = float64(v)
		}
		weights[key] = tensor.New(data, shape...)
	}

	return weights, nil
}

func decode(dtype string, raw []byte) ([]float32, error) {
	switch dtype {
	case "F32":
		f32s := make([]float32, len(raw)/4)
		if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, f32s); err != nil {
			return nil, err
		}
		return f32s, nil
	case "F16":
		u16s := make([]uint16, len(raw)/2)
		if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, u16s); err != nil {
			return nil, err
		}

		f32s := make([]float32, len(u16s))
		for i := range u16s {
			f32s[i] = float16.Frombits(u16s[i]).Float32()
		}
		return f32s, nil
	case "BF16":
		return bfloat16.DecodeFloat32(raw), nil
	default:
		return nil, fmt.Errorf("unknown data type: %s", dtype)
	}
}

// LoadTorch reads a torch pickle checkpoint into float64 arrays keyed by
// tensor name. A top-level "state_dict" entry is unwrapped.
func LoadTorch(path string) (map[string]*tensor.Array, error) {
	pt, err := pytorch.Load(path)
	if err != nil {
		return nil, err
	}

	dict, err := asDict(pt)
	if err != nil {
		return nil, err
	}
	if sd, ok := dictGet(dict, "state_dict"); ok {
		if dict, err = asDict(sd); err != nil {
			return nil, err
		}
	}

	weights := make(map[string]*tensor.Array)
	for _, k := range dictKeys(dict) {
		v, _ := dictGet(dict, k)
		t, ok := v.(*pytorch.Tensor)
		if !ok {
			continue
		}

		arr, err := fromTorch(t)
		if err != nil {
			return nil, fmt.Errorf("tensor %q: %w", k, err)
		}
		weights[k] = arr
	}

	return weights, nil
}

// dictLike smooths over gopickle's two mapping types.
type dictLike interface{}

func asDict(v any) (dictLike, error) {
	switch v.(type) {
	case *types.Dict, *types.OrderedDict:
		return v, nil
	default:
		return nil, fmt.Errorf("unexpected checkpoint layout: %T", v)
	}
}

func dictKeys(d dictLike) []string {
	var keys []string
	switch d := d.(type) {
	case *types.Dict:
		for _, k := range d.Keys() {
			if s, ok := k.(string); ok {
				keys = append(keys, s)
			}
		}
	case *types.OrderedDict:
		for k := range d.Map {
			if s, ok := k.(string); ok {
				keys = append(keys, s)
			}
		}
		slices.Sort(keys)
	}
	return keys
}

func dictGet(d dictLike, key string) (any, bool) {
	switch d := d.(type) {
	case *types.Dict:
		return d.Get(key)
	case *types.OrderedDict:
		return d.Get(key)
	}
	return nil, false
}

func fromTorch(t *pytorch.Tensor) (*tensor.Array, error) {
	numel := 1
	shape := make([]int, len(t.Size))
	for i, dim := range t.Size {
		shape[i] = dim
		numel *= dim
	}

	data := make([]float64, numel)
	switch storage := t.Source.(type) {
	case *pytorch.FloatStorage:
		for i := 0; i < numel; i++ {
			data[i] = float64(storage.Data[t.StorageOffset+i])
		}
	case *pytorch.DoubleStorage:
		copy(data, storage.Data[t.StorageOffset:t.StorageOffset+numel])
	case *pytorch.HalfStorage:
		for i := 0; i < numel; i++ {
			data[i] = float64(storage.Data[t.StorageOffset+i])
		}
	default:
		return nil, fmt.Errorf("unsupported storage type: %T", t.Source)
	}

	return tensor.New(data, shape...), nil
}

// Transpose swaps the two axes of a weight matrix, used when a checkpoint
// stores projections in the opposite orientation than the runtime expects.
func Transpose(data []float32, shape []uint64) ([]float32, error) {
	if len(shape) != 2 {
		return nil, fmt.Errorf("transpose: want 2 dimensions, got %d", len(shape))
	}

	n := ptensor.New(ptensor.WithShape(int(shape[0]), int(shape[1])), ptensor.WithBacking(data))
	if err := n.T(1, 0); err != nil {
		return nil, err
	}

	// T only records the permutation; Transpose moves the data.
	if err := n.Transpose(); err != nil {
		return nil, err
	}

	ts, err := native.SelectF32(n, 1)
	if err != nil {
		return nil, err
	}

	var f32s []float32
	for _, t := range ts {
		f32s = append(f32s, t...)
	}

	return f32s, nil
}
