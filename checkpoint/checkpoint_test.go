package checkpoint

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"testing"
	"testing/fstest"

	"github.com/google/go-cmp/cmp"
	"github.com/x448/float16"
)

func safetensorsFile(t *testing.T, headers map[string]safetensorMetadata, payload []byte) []byte {
	t.Helper()

	hdr, err := json.Marshal(headers)
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, int64(len(hdr)))
	buf.Write(hdr)
	buf.Write(payload)
	return buf.Bytes()
}

func TestLoadSafetensorsF32(t *testing.T) {
	var payload bytes.Buffer
	binary.Write(&payload, binary.LittleEndian, []float32{1, 2, 3, 4, 5, 6})

	fsys := fstest.MapFS{
		"model.safetensors": &fstest.MapFile{Data: safetensorsFile(t, map[string]safetensorMetadata{
			"net.weight": {Type: "F32", Shape: []uint64{2, 3}, Offsets: []int64{0, 24}},
		}, payload.Bytes())},
	}

	weights, err := LoadSafetensors(fsys, "model.safetensors")
	if err != nil {
		t.Fatal(err)
	}

	w, ok := weights["net.weight"]
	if !ok {
		t.Fatal("net.weight missing")
	}
	if w.Dim(0) != 2 || w.Dim(1) != 3 {
		t.Fatalf("shape = %v, want [2 3]", w.Shape())
	}
	if diff := cmp.Diff([]float64{1, 2, 3, 4, 5, 6}, w.Data()); diff != "" {
		t.Errorf("weight values mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadSafetensorsF16(t *testing.T) {
	var payload bytes.Buffer
	for _, v := range []float32{0.5, -1.25} {
		binary.Write(&payload, binary.LittleEndian, float16.Fromfloat32(v).Bits())
	}

	fsys := fstest.MapFS{
		"model.safetensors": &fstest.MapFile{Data: safetensorsFile(t, map[string]safetensorMetadata{
			"b": {Type: "F16", Shape: []uint64{2}, Offsets: []int64{0, 4}},
		}, payload.Bytes())},
	}

	weights, err := LoadSafetensors(fsys, "model.safetensors")
	if err != nil {
		t.Fatal(err)
	}

	b := weights["b"]
	if b == nil || b.Data()[0] != 0.5 || b.Data()[1] != -1.25 {
		t.Errorf("decoded = %v, want [0.5 -1.25]", b)
	}
}

func TestLoadSafetensorsUnknownType(t *testing.T) {
	fsys := fstest.MapFS{
		"model.safetensors": &fstest.MapFile{Data: safetensorsFile(t, map[string]safetensorMetadata{
			"q": {Type: "I8", Shape: []uint64{4}, Offsets: []int64{0, 4}},
		}, make([]byte, 4))},
	}

	if _, err := LoadSafetensors(fsys, "model.safetensors"); err == nil {
		t.Error("unknown dtype did not fail")
	}
}

func TestLoadSafetensorsBadShape(t *testing.T) {
	var payload bytes.Buffer
	binary.Write(&payload, binary.LittleEndian, []float32{1, 2})

	fsys := fstest.MapFS{
		"model.safetensors": &fstest.MapFile{Data: safetensorsFile(t, map[string]safetensorMetadata{
			"w": {Type: "F32", Shape: []uint64{3}, Offsets: []int64{0, 8}},
		}, payload.Bytes())},
	}

	if _, err := LoadSafetensors(fsys, "model.safetensors"); err == nil {
		t.Error("shape/value mismatch did not fail")
	}
}

func TestTranspose(t *testing.T) {
	got, err := Transpose([]float32{1, 2, 3, 4, 5, 6}, []uint64{2, 3})
	if err != nil {
		t.Fatal(err)
	}

	want := []float32{1, 4, 2, 5, 3, 6}
	for i, v := range want {
		if got[i] != v {
			t.Errorf("transposed[%d] = %v, want %v", i, got[i], v)
		}
	}
}

func TestTransposeBadRank(t *testing.T) {
	if _, err := Transpose([]float32{1, 2}, []uint64{2}); err == nil {
		t.Error("rank 1 did not fail")
	}
}
