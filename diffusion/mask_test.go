package diffusion

import (
	"testing"

	"github.com/wavegen/wavegen/tensor"
)

func TestBinaryMaskThreshold(t *testing.T) {
	soft := tensor.New([]float64{0, 0.3, 0.6, 1}, 1, 4)
	steps := 10

	// Step 0: threshold 0.1, only soft == 0 locks to the reference.
	got := BinaryMask(0, steps, soft)
	want := []float64{1, 0, 0, 0}
	for i, v := range want {
		if got.Data()[i] != v {
			t.Errorf("BinaryMask(0)[%d] = %v, want %v", i, got.Data()[i], v)
		}
	}

	// Step 5: threshold 0.6, soft values up to 0.6 included.
	got = BinaryMask(5, steps, soft)
	want = []float64{1, 1, 1, 0}
	for i, v := range want {
		if got.Data()[i] != v {
			t.Errorf("BinaryMask(5)[%d] = %v, want %v", i, got.Data()[i], v)
		}
	}
}

func TestBinaryMaskFinalStepAllOnes(t *testing.T) {
	soft := tensor.New([]float64{0, 0.5, 0.99, 1}, 1, 4)
	got := BinaryMask(9, 10, soft)

	for i, v := range got.Data() {
		if v != 1 {
			t.Errorf("final step mask[%d] = %v, want 1", i, v)
		}
	}
}

func TestBinaryMaskMonotonic(t *testing.T) {
	soft := tensor.New([]float64{0.1, 0.4, 0.7, 0.95}, 1, 4)
	steps := 20

	prev := BinaryMask(0, steps, soft)
	for i := 1; i < steps; i++ {
		cur := BinaryMask(i, steps, soft)
		for j := range cur.Data() {
			if cur.Data()[j] < prev.Data()[j] {
				t.Fatalf("keep region shrank at step %d position %d", i, j)
			}
		}
		prev = cur
	}
}
