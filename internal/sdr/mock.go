package sdr

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rjboer/gonrsc5/internal/dsp"
	"github.com/rjboer/gonrsc5/internal/l1"
	"github.com/rjboer/gonrsc5/internal/transmit"
)

// MockConfig shapes the synthetic station.
type MockConfig struct {
	// FrequencyOffset mistunes the signal, in Hz.
	FrequencyOffset float64
	// Noise is the front-end noise level as a fraction of full scale.
	Noise float64
	Seed  int64
	// Programs is the number of audio programs carried per frame.
	Programs int
	// Blocks limits the stream length; zero streams until cancelled.
	Blocks int
	// Realtime paces delivery at the nominal sample rate.
	Realtime bool
}

// MockSDR synthesizes a station with the reference transmitter. The signal
// level follows the tuner gain while the noise stays fixed, so SNR rises
// with gain until the samples start to clip.
type MockSDR struct {
	mu    sync.RWMutex
	cfg   MockConfig
	mod   *transmit.Modulator
	gain  int
	flush bool
	ready bool
}

func NewMock() *MockSDR { return &MockSDR{} }

func (m *MockSDR) Init(_ context.Context, cfg Config) error {
	mc := cfg.Mock
	if mc.Noise == 0 {
		mc.Noise = 0.002
	}
	if mc.Programs <= 0 {
		mc.Programs = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = mc
	m.mod = transmit.NewModulator(transmit.Config{
		Amplitude:       mockAmplitude(m.gain),
		FrequencyOffset: mc.FrequencyOffset,
		Noise:           mc.Noise,
		Seed:            mc.Seed,
	})
	m.ready = true
	return nil
}

func (m *MockSDR) Close() error { return nil }

func (m *MockSDR) Format() Format { return CS16 }

func (m *MockSDR) Gains() []int { return append([]int(nil), tunerGains[tunerR820T]...) }

// SetGain changes the simulated tuner gain, in tenths of a dB.
func (m *MockSDR) SetGain(gain int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gain = gain
	if m.mod != nil {
		m.mod.SetAmplitude(mockAmplitude(gain))
	}
	return nil
}

// Gain returns the current simulated gain.
func (m *MockSDR) Gain() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gain
}

// ResetBuffer restarts delivery at the next block boundary.
func (m *MockSDR) ResetBuffer() error {
	m.mu.Lock()
	m.flush = true
	m.mu.Unlock()
	return nil
}

// mockAmplitude puts a 20 dB gain at an RMS level of 0.1 full scale.
func mockAmplitude(gain int) float64 {
	return 0.01 * math.Pow(10, float64(gain)/200)
}

func (m *MockSDR) Stream(ctx context.Context, fn Handler) error {
	m.mu.RLock()
	ready, cfg, mod := m.ready, m.cfg, m.mod
	m.mu.RUnlock()
	if !ready {
		return ErrNotInitialized
	}

	var (
		samples []dsp.CInt16
		out     []byte
		bits    [l1.BlocksPerFrame][]uint8
		err     error
	)
	start := time.Now()
	for b := 0; cfg.Blocks == 0 || b < cfg.Blocks; b++ {
		if err := ctx.Err(); err != nil {
			return nil
		}
		bc := b % l1.BlocksPerFrame
		if bc == 0 {
			if bits, err = mockFrame(b/l1.BlocksPerFrame, cfg.Programs); err != nil {
				return err
			}
		}
		m.mu.Lock()
		samples, err = mod.Block(samples[:0], bc, bits[bc])
		m.flush = false
		m.mu.Unlock()
		if err != nil {
			return fmt.Errorf("modulate block: %w", err)
		}

		out = dsp.AppendCS16(out[:0], samples)
		for off := 0; off < len(out); off += defaultBufferSize {
			if err := fn(out[off:min(off+defaultBufferSize, len(out))]); err != nil {
				return err
			}
			m.mu.RLock()
			flush := m.flush
			m.mu.RUnlock()
			if flush {
				break
			}
		}

		if cfg.Realtime {
			due := start.Add(time.Duration(float64(b+1) * transmit.BlockSamples / l1.InputRate * float64(time.Second)))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Until(due)):
			}
		}
	}
	return nil
}

// mockFrame builds the coded blocks of frame n: one audio record per
// program, an AAS record and a station name in every PIDS slot.
func mockFrame(n, programs int) ([l1.BlocksPerFrame][]uint8, error) {
	records := make([]transmit.Record, 0, programs+1)
	for p := 0; p < programs; p++ {
		records = append(records, transmit.Record{
			Type:    l1.RecordAudio,
			Program: uint8(p),
			Data:    []byte(fmt.Sprintf("mock program %d frame %d", p, n)),
		})
	}
	records = append(records, transmit.Record{Type: l1.RecordAAS, Data: []byte(fmt.Sprintf("aas %d", n))})
	payload, err := transmit.PackP1(records)
	if err != nil {
		return [l1.BlocksPerFrame][]uint8{}, fmt.Errorf("pack frame %d: %w", n, err)
	}
	pids := make([][]byte, l1.BlocksPerFrame)
	for i := range pids {
		pids[i] = []byte("MOCK-FM")
	}
	return transmit.FrameBits(payload, pids)
}
