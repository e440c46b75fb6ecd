package sdr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/bemasher/rtltcp"
	"github.com/cenkalti/backoff"
)

// Tuner identifiers reported by rtl_tcp.
const (
	tunerE4000  = 1
	tunerFC0012 = 2
	tunerFC0013 = 3
	tunerFC2580 = 4
	tunerR820T  = 5
	tunerR828D  = 6
)

// tunerGains are the librtlsdr gain steps per tuner, in tenths of a dB.
// rtl_tcp only reports the tuner type, so the table is kept here.
var tunerGains = map[uint32][]int{
	tunerE4000:  {-10, 15, 40, 65, 90, 115, 140, 165, 190, 215, 240, 290, 340, 420},
	tunerFC0012: {-99, -40, 71, 179, 192},
	tunerFC0013: {-99, -73, -65, -63, -60, -58, -54, 58, 61, 63, 65, 67, 68, 70, 71, 179, 181, 182, 184, 186, 188, 191, 197},
	tunerFC2580: {0},
	tunerR820T:  {0, 9, 14, 27, 37, 77, 87, 125, 144, 157, 166, 197, 207, 229, 254, 280, 297, 328, 338, 364, 372, 386, 402, 421, 434, 439, 445, 480, 496},
	tunerR828D:  {0, 9, 14, 27, 37, 77, 87, 125, 144, 157, 166, 197, 207, 229, 254, 280, 297, 328, 338, 364, 372, 386, 402, 421, 434, 439, 445, 480, 496},
}

const (
	defaultRTLTCPAddress = "127.0.0.1:1234"
	dialAttempts         = 5
	// flushBytes are dropped after ResetBuffer since rtl_tcp cannot clear
	// the samples already in flight.
	flushBytes = 1 << 17
)

// RTLTCP streams from an rtl_tcp server.
type RTLTCP struct {
	mu      sync.Mutex
	dev     *rtltcp.SDR
	gains   []int
	size    int
	discard int
}

func NewRTLTCP() *RTLTCP { return &RTLTCP{} }

func (r *RTLTCP) Init(ctx context.Context, cfg Config) error {
	address := cfg.Address
	if address == "" {
		address = defaultRTLTCPAddress
	}
	addr, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return fmt.Errorf("resolve rtl_tcp address %q: %w", address, err)
	}

	dev := &rtltcp.SDR{}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), dialAttempts), ctx)
	if err := backoff.Retry(func() error { return dev.Connect(addr) }, policy); err != nil {
		return fmt.Errorf("connect rtl_tcp %s: %w", addr, err)
	}

	steps := []struct {
		name string
		fn   func() error
	}{
		{"sample rate", func() error { return dev.SetSampleRate(uint32(cfg.SampleRate)) }},
		{"frequency correction", func() error {
			if cfg.PPM == 0 {
				return nil
			}
			return dev.SetFreqCorrection(uint32(int32(cfg.PPM)))
		}},
		{"centre frequency", func() error { return dev.SetCenterFreq(uint32(cfg.Frequency)) }},
		{"manual gain mode", func() error { return dev.SetGainMode(true) }},
	}
	for _, s := range steps {
		if err := s.fn(); err != nil {
			dev.Close()
			return fmt.Errorf("rtl_tcp %s: %w", s.name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.dev = dev
	r.gains = tunerGains[uint32(dev.Info.Tuner)]
	r.size = bufferSize(cfg)
	return nil
}

func (r *RTLTCP) Format() Format { return CU8 }

func (r *RTLTCP) Gains() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.gains...)
}

func (r *RTLTCP) SetGain(gain int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dev == nil {
		return ErrNotInitialized
	}
	return r.dev.SetGain(uint32(gain))
}

// ResetBuffer discards the next flushBytes of the stream.
func (r *RTLTCP) ResetBuffer() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dev == nil {
		return ErrNotInitialized
	}
	r.discard = flushBytes
	return nil
}

func (r *RTLTCP) Stream(ctx context.Context, fn Handler) error {
	r.mu.Lock()
	dev, size := r.dev, r.size
	r.mu.Unlock()
	if dev == nil {
		return ErrNotInitialized
	}
	stop := context.AfterFunc(ctx, func() { dev.SetReadDeadline(time.Now()) })
	defer stop()

	buf := make([]byte, size)
	for {
		n, err := io.ReadFull(dev, buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return fmt.Errorf("rtl_tcp read: %w", err)
		}
		data := r.skipFlushed(buf[:n])
		if len(data) == 0 {
			continue
		}
		if err := fn(data); err != nil {
			return err
		}
	}
}

func (r *RTLTCP) skipFlushed(b []byte) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := min(r.discard, len(b))
	r.discard -= n
	return b[n:]
}

func (r *RTLTCP) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dev == nil {
		return nil
	}
	err := r.dev.Close()
	r.dev = nil
	return err
}
