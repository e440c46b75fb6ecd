// Package acquire finds OFDM symbol timing and carrier frequency offset in
// the decimated sample stream. Timing and the fractional part of the offset
// come from cyclic prefix correlation; the integer subcarrier offset comes
// from the coherence of the reference subcarriers, with the sideband energy
// deciding between offsets one reference spacing apart.
package acquire

import (
	"math"
	"math/cmplx"

	"github.com/rjboer/gonrsc5/internal/dsp"
	"github.com/rjboer/gonrsc5/internal/l1"
	"github.com/rjboer/gonrsc5/internal/logging"
)

// DefaultMaxBinOffset accepts carrier offsets up to about 17 kHz.
const DefaultMaxBinOffset = 48

// maxAlias is the largest offset that still keeps both sidebands inside the
// transform.
const maxAlias = l1.FFTSize/2 - l1.OuterSubcarrier - 1

// Config holds the acquisition policy. Zero values select defaults.
type Config struct {
	// Threshold on the normalized cyclic prefix correlation.
	Threshold float64
	// Confirm is the number of consecutive windows that must agree on timing.
	Confirm int
	// Window is the number of symbols correlated per attempt.
	Window int
	// MaxBinOffset bounds the accepted integer frequency offset, in
	// subcarriers.
	MaxBinOffset int
	// RefThreshold on reference subcarrier coherence.
	RefThreshold float64
	// TimingTolerance in samples between confirming windows.
	TimingTolerance int
}

func (c *Config) setDefaults() {
	if c.Threshold <= 0 {
		c.Threshold = 0.3
	}
	if c.Confirm <= 0 {
		c.Confirm = 2
	}
	if c.Window <= 1 {
		c.Window = 16
	}
	if c.MaxBinOffset <= 0 {
		c.MaxBinOffset = DefaultMaxBinOffset
	}
	if c.RefThreshold <= 0 {
		c.RefThreshold = 0.5
	}
	if c.TimingTolerance <= 0 {
		c.TimingTolerance = 8
	}
}

// Lock describes an acquired signal relative to the buffer passed to
// Process.
type Lock struct {
	// Offset is the start of the first whole symbol.
	Offset int
	// Frequency is the carrier offset in subcarrier spacings.
	Frequency float64
	// Metric is the cyclic prefix correlation that triggered the lock.
	Metric float64
	// Coherence is the reference subcarrier coherence at the chosen offset.
	Coherence float64
}

// Hz returns the frequency offset in Hz.
func (l Lock) Hz() float64 { return l.Frequency * l1.SubcarrierSpacing }

// Acquirer runs the search. It holds no reference to the sample buffer
// between calls.
type Acquirer struct {
	cfg    Config
	logger logging.Logger
	state  l1.LockState
	hits   int
	timing int

	prod    []complex128
	energy  []float64
	fft     *dsp.FFT
	nco     dsp.NCO
	mixed   []complex128
	spectra [][]complex128
	power   []float64
}

// New returns an acquirer in the Unlocked state.
func New(cfg Config, logger logging.Logger) *Acquirer {
	cfg.setDefaults()
	if logger == nil {
		logger = logging.Default()
	}
	a := &Acquirer{
		cfg:     cfg,
		logger:  logger.With(logging.Field{Key: "component", Value: "acquire"}),
		prod:    make([]complex128, l1.SymbolLen+l1.CPLen),
		energy:  make([]float64, l1.SymbolLen+l1.CPLen),
		fft:     dsp.NewFFT(l1.FFTSize),
		mixed:   make([]complex128, l1.FFTSize),
		spectra: make([][]complex128, cfg.Window),
		power:   make([]float64, l1.FFTSize),
	}
	for i := range a.spectra {
		a.spectra[i] = make([]complex128, l1.FFTSize)
	}
	return a
}

// Need is the number of samples Process requires for one attempt.
func (a *Acquirer) Need() int { return (a.cfg.Window + 1) * l1.SymbolLen }

// State is Unlocked or Acquiring.
func (a *Acquirer) State() l1.LockState { return a.state }

// Reset returns to Unlocked and forgets partial confirmations.
func (a *Acquirer) Reset() {
	a.state = l1.Unlocked
	a.hits = 0
}

// Process runs one acquisition attempt over buf. It returns how many
// samples the caller may discard and, on success, the lock parameters. With
// fewer than Need samples nothing is consumed.
func (a *Acquirer) Process(buf []complex64) (int, *Lock) {
	if len(buf) < a.Need() {
		return 0, nil
	}
	advance := a.cfg.Window * l1.SymbolLen
	timing, metric, corr := a.correlate(buf)
	if metric < a.cfg.Threshold {
		if a.state != l1.Unlocked {
			a.logger.Debug("acquisition lost candidate", logging.Field{Key: "metric", Value: metric})
		}
		a.Reset()
		return advance, nil
	}

	if a.hits > 0 && circularDistance(timing, a.timing, l1.SymbolLen) <= a.cfg.TimingTolerance {
		a.hits++
	} else {
		a.hits = 1
	}
	a.timing = timing
	if a.state != l1.Acquiring {
		a.logger.Debug("acquisition candidate",
			logging.Field{Key: "timing", Value: timing},
			logging.Field{Key: "metric", Value: metric},
		)
	}
	a.state = l1.Acquiring
	if a.hits < a.cfg.Confirm {
		return advance, nil
	}

	frac := -cmplx.Phase(corr) / (2 * math.Pi)
	offset, coherence, ok := a.integerSearch(buf, timing, frac)
	if !ok {
		a.logger.Debug("carrier offset outside search range", logging.Field{Key: "bins", Value: offset})
		a.hits = 0
		return advance, nil
	}
	if coherence < a.cfg.RefThreshold {
		a.logger.Debug("reference coherence too low", logging.Field{Key: "coherence", Value: coherence})
		a.hits = 0
		return advance, nil
	}
	a.Reset()
	return timing, &Lock{
		Offset:    timing,
		Frequency: frac + float64(offset),
		Metric:    metric,
		Coherence: coherence,
	}
}

// correlate folds the lag-N products of Window symbols onto one symbol
// period and slides a CP-long sum over it.
func (a *Acquirer) correlate(buf []complex64) (int, float64, complex128) {
	for j := range a.prod {
		a.prod[j] = 0
		a.energy[j] = 0
	}
	for m := 0; m < a.cfg.Window; m++ {
		base := m * l1.SymbolLen
		for j := range a.prod {
			x := complex128(buf[base+j])
			y := complex128(buf[base+j+l1.FFTSize])
			a.prod[j] += x * cmplx.Conj(y)
			a.energy[j] += (sqAbs(x) + sqAbs(y)) / 2
		}
	}

	var p complex128
	var e float64
	for i := 0; i < l1.CPLen; i++ {
		p += a.prod[i]
		e += a.energy[i]
	}
	best, bestMetric, bestCorr := 0, 0.0, complex128(0)
	for tau := 0; tau < l1.SymbolLen; tau++ {
		if e > minEnergy {
			if m := cmplx.Abs(p) / e; m > bestMetric {
				best, bestMetric, bestCorr = tau, m, p
			}
		}
		p += a.prod[tau+l1.CPLen] - a.prod[tau]
		e += a.energy[tau+l1.CPLen] - a.energy[tau]
	}
	return best, bestMetric, bestCorr
}

// integerSearch returns the integer subcarrier offset and its reference
// coherence. The reference comb repeats every RefSpacing bins, so the
// coherence only fixes the offset modulo RefSpacing; of those candidates the
// one whose sidebands hold the most energy wins. ok is false when that
// offset lies beyond MaxBinOffset.
func (a *Acquirer) integerSearch(buf []complex64, timing int, frac float64) (int, float64, bool) {
	a.nco.SetStep(2 * math.Pi * frac / l1.FFTSize)
	for i := range a.power {
		a.power[i] = 0
	}
	for m := range a.spectra {
		start := timing + l1.WindowSkip + m*l1.SymbolLen
		a.nco.Reset()
		a.nco.Advance(start)
		a.nco.Mix(a.mixed, buf[start:start+l1.FFTSize])
		copy(a.spectra[m], a.fft.Forward(a.mixed))
		for i, v := range a.spectra[m] {
			a.power[i] += sqAbs(v)
		}
	}

	best, bestSum := 0, -1.0
	for o := -a.cfg.MaxBinOffset; o <= a.cfg.MaxBinOffset; o++ {
		if sum, _ := a.refScore(o); sum > bestSum {
			best, bestSum = o, sum
		}
	}

	o := best
	for o-l1.RefSpacing >= -maxAlias {
		o -= l1.RefSpacing
	}
	bestEnergy := -1.0
	for ; o <= maxAlias; o += l1.RefSpacing {
		if e := a.bandEnergy(o); e > bestEnergy {
			best, bestEnergy = o, e
		}
	}
	if best < -a.cfg.MaxBinOffset || best > a.cfg.MaxBinOffset {
		return best, 0, false
	}
	_, coherence := a.refScore(best)
	return best, coherence, true
}

// refScore sums the coherent differential products of the reference
// subcarriers shifted by o, and returns that sum with its ratio to the
// incoherent sum.
func (a *Acquirer) refScore(o int) (float64, float64) {
	sum, total := 0.0, 0.0
	for m := 1; m < len(a.spectra); m++ {
		var acc complex128
		for _, k := range l1.RefSubcarriers {
			bin := dsp.Bin(k+o, l1.FFTSize)
			z := a.spectra[m][bin] * cmplx.Conj(a.spectra[m-1][bin])
			acc += z
			total += cmplx.Abs(z)
		}
		sum += cmplx.Abs(acc)
	}
	if total == 0 {
		return sum, 0
	}
	return sum, sum / total
}

// bandEnergy is the power of both sidebands shifted by o.
func (a *Acquirer) bandEnergy(o int) float64 {
	var e float64
	for k := l1.InnerSubcarrier; k <= l1.OuterSubcarrier; k++ {
		e += a.power[dsp.Bin(k+o, l1.FFTSize)] + a.power[dsp.Bin(-k+o, l1.FFTSize)]
	}
	return e
}

// minEnergy keeps rounding residue of the sliding sums out of the metric.
const minEnergy = 1e-9

func sqAbs(v complex128) float64 { return real(v)*real(v) + imag(v)*imag(v) }

func circularDistance(a, b, n int) int {
	d := a - b
	if d < 0 {
		d = -d
	}
	if n-d < d {
		return n - d
	}
	return d
}
