//go:build rtlsdr

package sdr

import (
	"context"
	"fmt"
	"sort"
	"sync"

	rtl "github.com/jpoirier/gortlsdr"
)

// RTLSDR drives a local RTL2832U dongle through librtlsdr. Reads are
// synchronous so gain changes from inside the handler take effect on the
// next buffer.
type RTLSDR struct {
	mu    sync.Mutex
	dev   *rtl.Context
	gains []int
	size  int
}

func NewRTLSDR() *RTLSDR { return &RTLSDR{} }

func (r *RTLSDR) Init(_ context.Context, cfg Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n := rtl.GetDeviceCount(); n <= cfg.DeviceIndex {
		return fmt.Errorf("rtl-sdr device %d not found (%d present)", cfg.DeviceIndex, n)
	}
	dev, err := rtl.Open(cfg.DeviceIndex)
	if err != nil {
		return fmt.Errorf("open rtl-sdr %d: %w", cfg.DeviceIndex, err)
	}
	steps := []struct {
		name string
		fn   func() error
	}{
		{"sample rate", func() error { return dev.SetSampleRate(int(cfg.SampleRate)) }},
		{"frequency correction", func() error {
			if cfg.PPM == 0 {
				return nil
			}
			return dev.SetFreqCorrection(cfg.PPM)
		}},
		{"centre frequency", func() error { return dev.SetCenterFreq(int(cfg.Frequency)) }},
		{"manual gain mode", func() error { return dev.SetTunerGainMode(true) }},
		{"buffer reset", dev.ResetBuffer},
	}
	for _, s := range steps {
		if err := s.fn(); err != nil {
			dev.Close()
			return fmt.Errorf("rtl-sdr %s: %w", s.name, err)
		}
	}
	gains, err := dev.GetTunerGains()
	if err != nil {
		dev.Close()
		return fmt.Errorf("rtl-sdr tuner gains: %w", err)
	}
	sort.Ints(gains)
	r.dev = dev
	r.gains = gains
	r.size = bufferSize(cfg)
	return nil
}

func (r *RTLSDR) Format() Format { return CU8 }

func (r *RTLSDR) Gains() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.gains...)
}

func (r *RTLSDR) SetGain(gain int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dev == nil {
		return ErrNotInitialized
	}
	return r.dev.SetTunerGain(gain)
}

func (r *RTLSDR) ResetBuffer() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dev == nil {
		return ErrNotInitialized
	}
	return r.dev.ResetBuffer()
}

func (r *RTLSDR) Stream(ctx context.Context, fn Handler) error {
	r.mu.Lock()
	dev, size := r.dev, r.size
	r.mu.Unlock()
	if dev == nil {
		return ErrNotInitialized
	}
	buf := make([]byte, size)
	for ctx.Err() == nil {
		n, err := dev.ReadSync(buf, size)
		if err != nil {
			return fmt.Errorf("rtl-sdr read: %w", err)
		}
		if err := fn(buf[:n]); err != nil {
			return err
		}
	}
	return nil
}

func (r *RTLSDR) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dev == nil {
		return nil
	}
	err := r.dev.Close()
	r.dev = nil
	return err
}
