// Package demod keeps an acquired signal synchronized and turns it into
// soft-decision OFDM symbols. Carrier and timing are tracked from the
// reference subcarriers; data subcarriers are demodulated differentially
// against the previous symbol.
package demod

import (
	"math"
	"math/cmplx"

	"github.com/rjboer/gonrsc5/internal/dsp"
	"github.com/rjboer/gonrsc5/internal/l1"
	"github.com/rjboer/gonrsc5/internal/logging"
)

// Config holds tracking thresholds and loop gains. Zero values select
// defaults.
type Config struct {
	// DegradeThreshold on reference coherence moves Stable to Degraded.
	DegradeThreshold float64
	// LossThreshold on reference coherence counts towards loss of lock.
	LossThreshold float64
	// LossSymbols consecutive symbols below LossThreshold drop the lock.
	LossSymbols int
	// RecoverSymbols consecutive good symbols return Degraded to Stable.
	RecoverSymbols int
	// FrequencyGain is the fine frequency loop gain.
	FrequencyGain float64
	// TimingGain smooths the per-symbol timing drift estimate.
	TimingGain float64
	// BlockMisses is the number of failed sync checks tolerated before
	// block alignment is dropped.
	BlockMisses int
}

func (c *Config) setDefaults() {
	if c.DegradeThreshold <= 0 {
		c.DegradeThreshold = 0.6
	}
	if c.LossThreshold <= 0 {
		c.LossThreshold = 0.3
	}
	if c.LossSymbols <= 0 {
		c.LossSymbols = 8
	}
	if c.RecoverSymbols <= 0 {
		c.RecoverSymbols = 4
	}
	if c.FrequencyGain <= 0 {
		c.FrequencyGain = 0.05
	}
	if c.TimingGain <= 0 {
		c.TimingGain = 0.1
	}
	if c.BlockMisses <= 0 {
		c.BlockMisses = 2
	}
}

const syncMask = 1<<l1.SyncDiffLen - 1

// Synchronizer consumes one symbol period per call once started.
type Synchronizer struct {
	cfg    Config
	logger logging.Logger

	active   bool
	nco      dsp.NCO
	fft      *dsp.FFT
	mixed    []complex128
	prev     []complex128
	cur      []complex128
	havePrev bool

	track     l1.TrackState
	good, bad int

	drift     float64
	timingAcc float64
	lastShift int

	hist    uint32
	diffs   int
	aligned bool
	index   int
	misses  int

	sym l1.Symbol
}

// New returns an idle synchronizer.
func New(cfg Config, logger logging.Logger) *Synchronizer {
	cfg.setDefaults()
	if logger == nil {
		logger = logging.Default()
	}
	return &Synchronizer{
		cfg:    cfg,
		logger: logger.With(logging.Field{Key: "component", Value: "sync"}),
		fft:    dsp.NewFFT(l1.FFTSize),
		mixed:  make([]complex128, l1.FFTSize),
		prev:   make([]complex128, l1.FFTSize),
		cur:    make([]complex128, l1.FFTSize),
		sym:    l1.Symbol{Soft: make([]float32, l1.BitsPerSymbol)},
	}
}

// Start begins tracking at the first sample of the next buffer with the
// given carrier offset in subcarrier spacings.
func (s *Synchronizer) Start(freq float64) {
	s.active = true
	s.nco.Reset()
	s.nco.SetStep(2 * math.Pi * freq / l1.FFTSize)
	s.havePrev = false
	s.track = l1.TrackStable
	s.good, s.bad = 0, 0
	s.drift, s.timingAcc, s.lastShift = 0, 0, 0
	s.hist, s.diffs = 0, 0
	s.aligned, s.index, s.misses = false, -1, 0
	s.logger.Info("tracking started", logging.Field{Key: "offset_hz", Value: freq * l1.SubcarrierSpacing})
}

// Stop returns to idle.
func (s *Synchronizer) Stop() { s.active = false }

// Active reports whether Start has been called since the last loss.
func (s *Synchronizer) Active() bool { return s.active }

// Track returns the tracking sub-state.
func (s *Synchronizer) Track() l1.TrackState { return s.track }

// Aligned reports whether block boundaries are known.
func (s *Synchronizer) Aligned() bool { return s.aligned }

// Frequency is the current carrier offset estimate in Hz.
func (s *Synchronizer) Frequency() float64 {
	return s.nco.Step() * l1.FFTSize / (2 * math.Pi) * l1.SubcarrierSpacing
}

// Need is the number of samples Process requires.
func (s *Synchronizer) Need() int { return l1.SymbolLen + 1 }

// Process demodulates the symbol starting at buf[0]. It returns the number
// of samples consumed, the symbol (nil for the first symbol after Start,
// which only primes the differential reference) and whether lock was lost.
// The returned symbol is reused by the next call.
func (s *Synchronizer) Process(buf []complex64) (int, *l1.Symbol, bool) {
	if !s.active || len(buf) < s.Need() {
		return 0, nil, false
	}
	s.nco.Advance(l1.WindowSkip)
	s.nco.Mix(s.mixed, buf[l1.WindowSkip:l1.WindowSkip+l1.FFTSize])
	copy(s.cur, s.fft.Forward(s.mixed))

	consumed := l1.SymbolLen
	var out *l1.Symbol
	if s.havePrev {
		out = s.demodulate()
		consumed += s.lastShift
	}
	s.prev, s.cur = s.cur, s.prev
	s.havePrev = true
	s.nco.Advance(consumed - l1.WindowSkip - l1.FFTSize)

	if s.track == l1.TrackLost {
		s.active = false
		s.logger.Warn("lock lost")
		return consumed, nil, true
	}
	return consumed, out, false
}

// product is the differential product of subcarrier k, with the phase ramp
// of a window shift between the two symbols removed.
func (s *Synchronizer) product(k, shift int) complex128 {
	bin := dsp.Bin(k, l1.FFTSize)
	z := s.cur[bin] * cmplx.Conj(s.prev[bin])
	if shift != 0 {
		z *= cmplx.Rect(1, -2*math.Pi*float64(k*shift)/l1.FFTSize)
	}
	return z
}

func (s *Synchronizer) demodulate() *l1.Symbol {
	shift := s.lastShift
	var refs [l1.NumRefs]complex128
	var sum complex128
	var mag float64
	for i, k := range l1.RefSubcarriers {
		refs[i] = s.product(k, shift)
		sum += refs[i]
		mag += cmplx.Abs(refs[i])
	}

	var refBit uint8
	if real(sum) < 0 {
		refBit = 1
		sum = -sum
	}
	quality := 0.0
	if mag > 0 {
		quality = cmplx.Abs(sum) / mag
	}
	phase := cmplx.Phase(sum)

	var slope complex128
	for i := 1; i < l1.NumRefs; i++ {
		if i == l1.RefsPerSideband {
			continue
		}
		slope += refs[i] * cmplx.Conj(refs[i-1])
	}
	measured := cmplx.Phase(slope) * l1.FFTSize / (2 * math.Pi * l1.RefSpacing)

	state := s.updateTrack(quality)
	if state == l1.TrackStable {
		s.nco.SetStep(s.nco.Step() + s.cfg.FrequencyGain*phase/l1.SymbolLen)
		s.drift += s.cfg.TimingGain * (measured - s.drift)
	}
	s.lastShift = 0
	s.timingAcc += s.drift
	if s.timingAcc >= 1 {
		s.lastShift = -1
		s.timingAcc--
	} else if s.timingAcc <= -1 {
		s.lastShift = 1
		s.timingAcc++
	}

	soft := s.sym.Soft
	if mag == 0 {
		for i := range soft {
			soft[i] = 0
		}
	} else {
		rot := cmplx.Rect(float64(l1.NumRefs)/mag, -phase)
		for d, k := range l1.DataSubcarriers {
			z := s.product(k, shift) * rot
			soft[2*d] = float32(real(z))
			soft[2*d+1] = float32(imag(z))
		}
	}

	s.sym.Index = s.align(refBit)
	s.sym.RefBit = refBit
	s.sym.Quality = quality
	return &s.sym
}

// updateTrack advances the tracking state machine with one quality sample.
func (s *Synchronizer) updateTrack(q float64) l1.TrackState {
	switch s.track {
	case l1.TrackStable:
		if q < s.cfg.DegradeThreshold {
			s.track = l1.TrackDegraded
			s.good, s.bad = 0, 0
			if q < s.cfg.LossThreshold {
				s.bad = 1
			}
			s.logger.Info("tracking degraded", logging.Field{Key: "quality", Value: q})
		}
	case l1.TrackDegraded:
		switch {
		case q < s.cfg.LossThreshold:
			s.good = 0
			s.bad++
			if s.bad >= s.cfg.LossSymbols {
				s.track = l1.TrackLost
			}
		case q >= s.cfg.DegradeThreshold:
			s.bad = 0
			s.good++
			if s.good >= s.cfg.RecoverSymbols {
				s.track = l1.TrackStable
				s.logger.Info("tracking recovered", logging.Field{Key: "quality", Value: q})
			}
		default:
			s.good, s.bad = 0, 0
		}
	}
	return s.track
}

// align tracks block boundaries from the differential reference bits and
// returns the block position of the current symbol, or -1.
func (s *Synchronizer) align(bit uint8) int {
	s.hist = s.hist<<1 | uint32(bit)
	s.diffs++
	if s.aligned {
		s.index = (s.index + 1) % l1.SymbolsPerBlock
		if s.index == l1.SyncDiffLen {
			if s.hist&syncMask == l1.SyncDiff {
				s.misses = 0
			} else {
				s.misses++
				if s.misses >= s.cfg.BlockMisses {
					s.aligned = false
					s.index = -1
					s.logger.Info("block alignment lost")
					return -1
				}
			}
		}
		return s.index
	}
	if s.diffs >= l1.SyncDiffLen && s.hist&syncMask == l1.SyncDiff {
		s.aligned = true
		s.index = l1.SyncDiffLen
		s.misses = 0
		s.logger.Debug("block aligned")
		return s.index
	}
	return -1
}
