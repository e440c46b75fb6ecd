package sdr

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Format is the byte layout of the IQ buffers a source delivers.
type Format int

const (
	// CU8 is interleaved unsigned 8-bit I/Q, as produced by rtl-sdr.
	CU8 Format = iota
	// CS16 is interleaved little-endian signed 16-bit I/Q.
	CS16
)

func (f Format) String() string {
	switch f {
	case CU8:
		return "cu8"
	case CS16:
		return "cs16"
	default:
		return "unknown"
	}
}

// ParseFormat converts a name to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cu8", "":
		return CU8, nil
	case "cs16":
		return CS16, nil
	default:
		return CU8, fmt.Errorf("unsupported sample format %q", s)
	}
}

// Config carries parameters required to initialize an SDR backend.
type Config struct {
	Frequency   float64 // centre frequency in Hz
	SampleRate  float64
	PPM         int
	DeviceIndex int
	Address     string // rtl_tcp host:port
	Path        string // capture file, "-" for stdin
	FileFormat  string
	BufferSize  int // bytes per delivered buffer
	SSH         SSHConfig
	Mock        MockConfig
}

// Handler receives one raw buffer. The buffer is only valid for the
// duration of the call. Returning an error stops the stream.
type Handler func(buf []byte) error

// Source captures the radio operations required by the receiver.
type Source interface {
	Init(ctx context.Context, cfg Config) error
	// Format is the layout of buffers passed to the Stream handler.
	Format() Format
	// Gains lists the supported tuner gains in tenths of a dB, in
	// ascending order. Sources without gain control return nil.
	Gains() []int
	SetGain(gain int) error
	// ResetBuffer drops samples captured before the call.
	ResetBuffer() error
	// Stream delivers buffers to fn until ctx is done, the source ends or
	// an error occurs. A source that runs out of samples returns nil.
	Stream(ctx context.Context, fn Handler) error
	Close() error
}

var (
	// ErrUnsupported is returned for operations a backend cannot perform.
	ErrUnsupported = errors.New("operation not supported by source")
	// ErrNotInitialized is returned when Stream runs before Init.
	ErrNotInitialized = errors.New("source not initialized")
)

// Backends lists the names accepted by New.
var Backends = []string{"rtlsdr", "rtltcp", "file", "ssh", "mock"}

// New returns an uninitialized source for the named backend.
func New(backend string) (Source, error) {
	switch strings.ToLower(backend) {
	case "rtlsdr", "":
		return NewRTLSDR(), nil
	case "rtltcp":
		return NewRTLTCP(), nil
	case "file":
		return NewFile(), nil
	case "ssh":
		return NewSSH(), nil
	case "mock":
		return NewMock(), nil
	default:
		return nil, fmt.Errorf("unknown sdr backend %q (want one of %s)", backend, strings.Join(Backends, ", "))
	}
}

const defaultBufferSize = 1 << 16

func bufferSize(cfg Config) int {
	if cfg.BufferSize < 4 {
		return defaultBufferSize
	}
	return cfg.BufferSize &^ 3
}
