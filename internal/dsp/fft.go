package dsp

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// FFT wraps a gonum complex FFT plan with reusable buffers. It is not safe
// for concurrent use.
type FFT struct {
	n    int
	plan *fourier.CmplxFFT
	out  []complex128
}

// NewFFT returns an n-point transform.
func NewFFT(n int) *FFT {
	return &FFT{
		n:    n,
		plan: fourier.NewCmplxFFT(n),
		out:  make([]complex128, n),
	}
}

// Len returns the transform size.
func (f *FFT) Len() int { return f.n }

// Forward computes the unnormalized forward transform of src. The returned
// slice is owned by f and overwritten by the next call.
func (f *FFT) Forward(src []complex128) []complex128 {
	return f.plan.Coefficients(f.out, src)
}

// Inverse computes the unnormalized inverse transform of src. The returned
// slice is owned by f and overwritten by the next call.
func (f *FFT) Inverse(src []complex128) []complex128 {
	return f.plan.Sequence(f.out, src)
}

// Bin maps a signed subcarrier index onto an FFT bin.
func Bin(k, n int) int {
	k %= n
	if k < 0 {
		k += n
	}
	return k
}

// FFTShift returns a copy of data rotated so that bin zero sits in the
// middle.
func FFTShift[T any](data []T) []T {
	half := len(data) / 2
	out := make([]T, 0, len(data))
	out = append(out, data[half:]...)
	return append(out, data[:half]...)
}

// PowerDB converts a linear power ratio to decibels. Non-positive values map
// to zero.
func PowerDB(v float64) float64 {
	if v <= 0 {
		return 0
	}
	return 10 * math.Log10(v)
}
