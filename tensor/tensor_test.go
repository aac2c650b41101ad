package tensor

import (
	"math"
	"testing"

	"golang.org/x/exp/rand"
)

func TestNewShapeMismatch(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("New() with mismatched shape did not panic")
		}
	}()
	New([]float64{1, 2, 3}, 2, 2)
}

func TestCloneIsIndependent(t *testing.T) {
	a := New([]float64{1, 2, 3, 4}, 2, 2)
	b := a.Clone()
	b.Data()[0] = 99

	if a.Data()[0] != 1 {
		t.Errorf("Clone() shares backing data: a[0] = %v", a.Data()[0])
	}
}

func TestCopyFrom(t *testing.T) {
	a := Zeros(2, 2)
	src := New([]float64{1, 2, 3, 4}, 2, 2)
	a.CopyFrom(src)

	if !EqualApprox(a, src, 0) {
		t.Errorf("CopyFrom() = %v, want %v", a.Data(), src.Data())
	}
}

func TestCopyFromShapeMismatch(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("CopyFrom() with mismatched shape did not panic")
		}
	}()
	Zeros(2, 2).CopyFrom(Zeros(4))
}

func TestAddBroadcast(t *testing.T) {
	a := New([]float64{1, 2, 3, 4, 5, 6}, 2, 3)
	b := New([]float64{10, 20, 30}, 1, 3)
	got := Add(a, b)

	want := []float64{11, 22, 33, 14, 25, 36}
	for i, v := range want {
		if got.Data()[i] != v {
			t.Errorf("Add()[%d] = %v, want %v", i, got.Data()[i], v)
		}
	}
}

func TestBlend(t *testing.T) {
	a := Full(1, 2, 4)
	b := Full(5, 2, 4)
	mask := New([]float64{1, 1, 0, 0}, 1, 4)
	got := Blend(a, b, mask)

	want := []float64{1, 1, 5, 5, 1, 1, 5, 5}
	for i, v := range want {
		if got.Data()[i] != v {
			t.Errorf("Blend()[%d] = %v, want %v", i, got.Data()[i], v)
		}
	}
}

func TestBlendSoftMask(t *testing.T) {
	a := Full(1, 1, 2)
	b := Full(3, 1, 2)
	mask := New([]float64{0.5, 0.25}, 1, 2)
	got := Blend(a, b, mask)

	want := []float64{2, 2.5}
	for i, v := range want {
		if math.Abs(got.Data()[i]-v) > 1e-12 {
			t.Errorf("Blend()[%d] = %v, want %v", i, got.Data()[i], v)
		}
	}
}

func TestToFloat16Rounds(t *testing.T) {
	a := New([]float64{1, 1.0 / 3, 0.1}, 3)
	got := ToFloat16(a)

	if got.Data()[0] != 1 {
		t.Errorf("ToFloat16(1) = %v, want 1", got.Data()[0])
	}
	// Half precision carries ~3 decimal digits.
	if got.Data()[1] == a.Data()[1] {
		t.Error("ToFloat16(1/3) kept full precision")
	}
	if math.Abs(got.Data()[1]-1.0/3) > 1e-3 {
		t.Errorf("ToFloat16(1/3) = %v, too far off", got.Data()[1])
	}
}

func TestRandomNormalDeterministic(t *testing.T) {
	a := RandomNormal(rand.NewSource(42), 2, 8)
	b := RandomNormal(rand.NewSource(42), 2, 8)

	if !EqualApprox(a, b, 0) {
		t.Error("RandomNormal() with equal seeds differs")
	}

	c := RandomNormal(rand.NewSource(43), 2, 8)
	if EqualApprox(a, c, 1e-9) {
		t.Error("RandomNormal() with different seeds is identical")
	}
}
