// Package gain measures the in-band signal to noise ratio of the digital
// sidebands and drives the receiver gain search that runs before decoding.
package gain

import (
	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"

	"github.com/rjboer/gonrsc5/internal/dsp"
)

const (
	// SpectrumBins is the estimator transform size.
	SpectrumBins = 64
	// DefaultAverage is the number of transforms averaged per estimate.
	DefaultAverage = 256
)

// Sideband bins at the decimated rate: the signal bins sit inside the
// primary sidebands, the noise bins just outside them.
var (
	signalBins = [2]int{13, 15}
	noiseBins  = [2]int{20, 23}
)

// Estimator accumulates windowed power spectra of decimated samples and
// reports an SNR once every Average transforms.
type Estimator struct {
	average int
	win     []float64
	buf     []complex128
	fill    int
	count   int
	power   [SpectrumBins]float64
	last    [SpectrumBins]float64
}

// NewEstimator returns an estimator averaging the given number of
// transforms; values below one use DefaultAverage.
func NewEstimator(average int) *Estimator {
	if average < 1 {
		average = DefaultAverage
	}
	return &Estimator{
		average: average,
		win:     window.Hann(SpectrumBins),
		buf:     make([]complex128, SpectrumBins),
	}
}

// Reset drops any partial accumulation.
func (e *Estimator) Reset() {
	e.fill = 0
	e.count = 0
	e.power = [SpectrumBins]float64{}
}

// Push consumes samples until an estimate completes. It returns the number
// of samples consumed and, when ok is true, the new SNR estimate.
func (e *Estimator) Push(samples []complex64) (consumed int, snr float64, ok bool) {
	for consumed < len(samples) {
		n := copy64(e.buf[e.fill:], samples[consumed:], e.win[e.fill:])
		e.fill += n
		consumed += n
		if e.fill < SpectrumBins {
			break
		}
		e.fill = 0
		for i, v := range fft.FFT(e.buf) {
			e.power[i] += real(v)*real(v) + imag(v)*imag(v)
		}
		e.count++
		if e.count == e.average {
			e.last = e.power
			snr = ratio(&e.power)
			e.count = 0
			e.power = [SpectrumBins]float64{}
			return consumed, snr, true
		}
	}
	return consumed, 0, false
}

// Spectrum returns the last averaged power spectrum with DC centered.
func (e *Estimator) Spectrum() []float64 {
	return dsp.FFTShift(e.last[:])
}

func copy64(dst []complex128, src []complex64, win []float64) int {
	n := min(len(dst), len(src))
	for i := 0; i < n; i++ {
		dst[i] = complex128(src[i]) * complex(win[i], 0)
	}
	return n
}

func bandMean(power *[SpectrumBins]float64, lo, hi, sign int) float64 {
	sum := 0.0
	for k := lo; k <= hi; k++ {
		sum += power[dsp.Bin(sign*k, SpectrumBins)]
	}
	return sum / float64(hi-lo+1)
}

func ratio(power *[SpectrumBins]float64) float64 {
	sigLo := bandMean(power, signalBins[0], signalBins[1], -1)
	sigHi := bandMean(power, signalBins[0], signalBins[1], 1)
	noiseLo := bandMean(power, noiseBins[0], noiseBins[1], -1)
	noiseHi := bandMean(power, noiseBins[0], noiseBins[1], 1)
	if noiseLo == 0 || noiseHi == 0 {
		return 0
	}
	return (sigLo/noiseLo + sigHi/noiseHi) / 2
}
