package dsp

import "math"

// Hamming returns a Hamming window of length n.
// If n is zero or negative, an empty slice is returned.
func Hamming(n int) []float64 {
	if n <= 0 {
		return []float64{}
	}
	if n == 1 {
		return []float64{1}
	}
	win := make([]float64, n)
	for i := 0; i < n; i++ {
		win[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return win
}

// LowPass designs a Hamming-windowed sinc low-pass filter with n taps.
// cutoff is the -6 dB point as a fraction of the sample rate (0 < cutoff < 0.5).
// The taps are normalized to unity DC gain.
func LowPass(n int, cutoff float64) []float64 {
	if n <= 0 || cutoff <= 0 || cutoff >= 0.5 {
		return []float64{}
	}
	win := Hamming(n)
	taps := make([]float64, n)
	mid := float64(n-1) / 2
	sum := 0.0
	for i := range taps {
		x := float64(i) - mid
		v := 2 * cutoff
		if x != 0 {
			v = math.Sin(2*math.Pi*cutoff*x) / (math.Pi * x)
		}
		taps[i] = v * win[i]
		sum += taps[i]
	}
	for i := range taps {
		taps[i] /= sum
	}
	return taps
}

// Quantize converts float taps to Q15 fixed point with rounding.
func Quantize(taps []float64) []int16 {
	out := make([]int16, len(taps))
	for i, v := range taps {
		q := math.Round(v * 32768)
		if q > math.MaxInt16 {
			q = math.MaxInt16
		} else if q < math.MinInt16 {
			q = math.MinInt16
		}
		out[i] = int16(q)
	}
	return out
}
