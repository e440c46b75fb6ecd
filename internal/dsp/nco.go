package dsp

import "math"

// NCO is a numerically controlled oscillator used to remove a carrier
// frequency offset. Frequency is expressed in radians per sample.
type NCO struct {
	phase float64
	step  float64
}

// SetStep sets the oscillator frequency in radians per sample.
func (o *NCO) SetStep(step float64) { o.step = step }

// Step returns the oscillator frequency in radians per sample.
func (o *NCO) Step() float64 { return o.step }

// Reset zeroes the phase accumulator.
func (o *NCO) Reset() { o.phase = 0 }

// Advance moves the phase forward by n samples without mixing.
func (o *NCO) Advance(n int) {
	o.phase = math.Remainder(o.phase+o.step*float64(n), 2*math.Pi)
}

// Mix writes src rotated by the conjugate oscillator into dst and advances
// the phase by len(src) samples.
func (o *NCO) Mix(dst []complex128, src []complex64) {
	for i, v := range src {
		s, c := math.Sincos(o.phase + o.step*float64(i))
		dst[i] = complex128(v) * complex(c, -s)
	}
	o.Advance(len(src))
}
