// Package transmit is a reference transmitter for the digital sidebands. It
// produces raw-rate complex samples that the receiver chain can acquire and
// decode, and backs the mock SDR source and the synth command.
package transmit

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/rjboer/gonrsc5/internal/dsp"
	"github.com/rjboer/gonrsc5/internal/l1"
)

const (
	txFFTSize = dsp.DecimationFactor * l1.FFTSize
	txCPLen   = dsp.DecimationFactor * l1.CPLen
	// SymbolSamples is the symbol length at the raw input rate.
	SymbolSamples = txFFTSize + txCPLen
	// BlockSamples is the block length at the raw input rate.
	BlockSamples = l1.SymbolsPerBlock * SymbolSamples
	// FrameSamples is the frame length at the raw input rate.
	FrameSamples = l1.BlocksPerFrame * BlockSamples
)

// Config controls the modulated signal.
type Config struct {
	// Amplitude is the RMS level as a fraction of full scale.
	Amplitude float64
	// FrequencyOffset shifts the whole signal, in Hz.
	FrequencyOffset float64
	// Noise is the standard deviation of added Gaussian noise per
	// component, as a fraction of full scale.
	Noise float64
	Seed  int64
}

// Modulator turns coded blocks into OFDM samples. Successive blocks are
// phase continuous so the output forms one stream.
type Modulator struct {
	cfg    Config
	fft    *dsp.FFT
	freq   []complex128
	data   []complex128
	scale  float64
	sample int64
	rng    *rand.Rand
}

// NewModulator returns a modulator; zero Amplitude defaults to 0.1.
func NewModulator(cfg Config) *Modulator {
	if cfg.Amplitude <= 0 {
		cfg.Amplitude = 0.1
	}
	m := &Modulator{
		cfg:   cfg,
		fft:   dsp.NewFFT(txFFTSize),
		freq:  make([]complex128, txFFTSize),
		data:  make([]complex128, l1.NumData),
		scale: cfg.Amplitude * 32768 / math.Sqrt(float64(l1.NumData+l1.NumRefs)),
		rng:   rand.New(rand.NewSource(cfg.Seed)),
	}
	for i := range m.data {
		m.data[i] = 1
	}
	return m
}

// SetNoise changes the noise level for subsequent blocks.
func (m *Modulator) SetNoise(noise float64) { m.cfg.Noise = noise }

// SetAmplitude changes the signal level for subsequent blocks.
func (m *Modulator) SetAmplitude(a float64) {
	m.cfg.Amplitude = a
	m.scale = a * 32768 / math.Sqrt(float64(l1.NumData+l1.NumRefs))
}

// Block modulates the BlockBits coded bits of block bc and appends the
// samples to dst.
func (m *Modulator) Block(dst []dsp.CInt16, bc int, bits []uint8) ([]dsp.CInt16, error) {
	if len(bits) != l1.BlockBits {
		return dst, fmt.Errorf("block bits %d, want %d", len(bits), l1.BlockBits)
	}
	word := l1.NewSCWord(bc)
	for s := 0; s < l1.SymbolsPerBlock; s++ {
		dst = m.symbol(dst, word.Bit(s), bits[s*l1.BitsPerSymbol:(s+1)*l1.BitsPerSymbol])
	}
	return dst, nil
}

// Frame modulates a whole frame of coded blocks.
func (m *Modulator) Frame(dst []dsp.CInt16, blocks [l1.BlocksPerFrame][]uint8) ([]dsp.CInt16, error) {
	var err error
	for bc, bits := range blocks {
		if dst, err = m.Block(dst, bc, bits); err != nil {
			return dst, err
		}
	}
	return dst, nil
}

// Silence appends n zero samples, advancing the carrier phase.
func (m *Modulator) Silence(dst []dsp.CInt16, n int) []dsp.CInt16 {
	m.sample += int64(n)
	for i := 0; i < n; i++ {
		dst = append(dst, m.noise(0))
	}
	return dst
}

func (m *Modulator) symbol(dst []dsp.CInt16, refBit uint8, bits []uint8) []dsp.CInt16 {
	for i := range m.freq {
		m.freq[i] = 0
	}
	ref := complex(1-2*float64(refBit), 0)
	for _, k := range l1.RefSubcarriers {
		m.freq[dsp.Bin(k, txFFTSize)] = ref
	}
	for d, k := range l1.DataSubcarriers {
		a := float64(bits[2*d])
		b := float64(bits[2*d+1])
		m.data[d] *= complex((1-2*a)/math.Sqrt2, (1-2*b)/math.Sqrt2)
		m.freq[dsp.Bin(k, txFFTSize)] = m.data[d]
	}
	body := m.fft.Inverse(m.freq)

	step := 2 * math.Pi * m.cfg.FrequencyOffset / l1.InputRate
	for i := 0; i < SymbolSamples; i++ {
		v := body[(i-txCPLen+txFFTSize)%txFFTSize] * complex(m.scale, 0)
		if step != 0 {
			s, c := math.Sincos(step * float64(m.sample))
			v *= complex(c, s)
		}
		m.sample++
		dst = append(dst, m.noise(v))
	}
	return dst
}

func (m *Modulator) noise(v complex128) dsp.CInt16 {
	re, im := real(v), imag(v)
	if m.cfg.Noise > 0 {
		re += m.rng.NormFloat64() * m.cfg.Noise * 32768
		im += m.rng.NormFloat64() * m.cfg.Noise * 32768
	}
	return dsp.CInt16{I: clip(re), Q: clip(im)}
}

func clip(v float64) int16 {
	v = math.Round(v)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
