package dsp

import "math"

const (
	// DecimatorTaps is the length of the anti-alias filter.
	DecimatorTaps = 32
	// DecimationFactor is the ratio between input and output rate.
	DecimationFactor = 2
)

// Decimator is a fixed-point (Q15) FIR low-pass filter followed by a
// decimation by two. The delay line and output phase persist between calls,
// so the output does not depend on how the input stream is split.
type Decimator struct {
	taps  [DecimatorTaps]int32
	line  [2 * DecimatorTaps]CInt16
	pos   int
	phase int
}

// NewDecimator returns a decimator with a Hamming windowed-sinc filter whose
// cutoff sits at half the output Nyquist band.
func NewDecimator() *Decimator {
	return NewDecimatorTaps(Quantize(LowPass(DecimatorTaps, 0.25)))
}

// NewDecimatorTaps builds a decimator from explicit Q15 taps. Missing taps
// are zero, extra taps are ignored.
func NewDecimatorTaps(taps []int16) *Decimator {
	d := &Decimator{}
	for i := 0; i < DecimatorTaps && i < len(taps); i++ {
		d.taps[i] = int32(taps[i])
	}
	return d
}

// Reset clears the delay line and output phase.
func (d *Decimator) Reset() {
	d.line = [2 * DecimatorTaps]CInt16{}
	d.pos = 0
	d.phase = 0
}

// OutputLen returns how many samples Process will produce for n inputs
// given the current phase.
func (d *Decimator) OutputLen(n int) int {
	return (n + d.phase) / DecimationFactor
}

// Process filters src and writes one output for every second input sample to
// dst, returning the number of outputs written. dst must hold at least
// OutputLen(len(src)) samples.
func (d *Decimator) Process(dst []complex64, src []CInt16) int {
	out := 0
	for _, x := range src {
		d.line[d.pos] = x
		d.line[d.pos+DecimatorTaps] = x
		d.phase++
		if d.phase == DecimationFactor {
			d.phase = 0
			window := d.line[d.pos+1 : d.pos+1+DecimatorTaps]
			var accI, accQ int64
			for i, s := range window {
				h := int64(d.taps[DecimatorTaps-1-i])
				accI += h * int64(s.I)
				accQ += h * int64(s.Q)
			}
			dst[out] = CInt16{I: saturate(accI), Q: saturate(accQ)}.Complex64()
			out++
		}
		d.pos++
		if d.pos == DecimatorTaps {
			d.pos = 0
		}
	}
	return out
}

func saturate(acc int64) int16 {
	v := (acc + 1<<14) >> 15
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
