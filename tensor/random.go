package tensor

import (
	"time"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// RandomNormal creates an array of the given shape with independent standard
// normal draws from src. A nil src is seeded from the wall clock.
func RandomNormal(src rand.Source, shape ...int) *Array {
	if src == nil {
		src = rand.NewSource(uint64(time.Now().UnixNano()))
	}
	dist := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	a := Zeros(shape...)
	for i := range a.data {
		a.data[i] = dist.Rand()
	}
	return a
}

// RandnLike creates standard normal noise with the same shape as a.
func RandnLike(src rand.Source, a *Array) *Array {
	return RandomNormal(src, a.shape...)
}
