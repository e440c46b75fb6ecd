// Package input owns the receiver pipeline for one sample stream. Raw IQ
// buffers are decimated into a working buffer which feeds either the gain
// search estimator or the acquisition, synchronization, frame and decode
// chain, all synchronously inside the caller's delivery callback.
package input

import (
	"fmt"
	"io"
	"math"
	"sync/atomic"

	"github.com/rjboer/gonrsc5/internal/acquire"
	"github.com/rjboer/gonrsc5/internal/decode"
	"github.com/rjboer/gonrsc5/internal/demod"
	"github.com/rjboer/gonrsc5/internal/dsp"
	"github.com/rjboer/gonrsc5/internal/frame"
	"github.com/rjboer/gonrsc5/internal/gain"
	"github.com/rjboer/gonrsc5/internal/l1"
	"github.com/rjboer/gonrsc5/internal/logging"
)

const (
	// BufferSize is the capacity of the decimated working buffer.
	BufferSize = 1 << 17
	// chunkSize bounds the raw samples converted per step.
	chunkSize = 1 << 14
	// DefaultMaxDecodeFailures is about one frame of failed PIDS blocks.
	DefaultMaxDecodeFailures = l1.BlocksPerFrame
)

// Config groups the tuning of every stage. Zero values select defaults.
type Config struct {
	Acquire acquire.Config
	Sync    demod.Config
	// SNRAverage is the number of 64-point transforms per SNR estimate.
	SNRAverage int
	// MaxDecodeFailures consecutive CRC failures while locked drop the lock.
	MaxDecodeFailures int
}

// Stats are observational counters, safe to read concurrently.
type Stats struct {
	Samples    atomic.Uint64
	Skipped    atomic.Uint64
	Symbols    atomic.Uint64
	Locks      atomic.Uint64
	LockLosses atomic.Uint64
	Estimates  atomic.Uint64

	Frame  frame.Stats
	Decode decode.Stats

	state atomic.Int32
	snr   atomic.Uint64
}

// State is the last published lock state.
func (s *Stats) State() l1.LockState { return l1.LockState(s.state.Load()) }

// SNR is the last gain search estimate as a linear power ratio.
func (s *Stats) SNR() float64 { return math.Float64frombits(s.snr.Load()) }

// SNRCallback receives every SNR estimate while the gain search runs and
// returns whether the search continues.
type SNRCallback func(snr float64) bool

// Input is the orchestrator. It is not safe for concurrent use; Stats may be
// read from any goroutine.
type Input struct {
	logger logging.Logger

	decim  *dsp.Decimator
	raw    []dsp.CInt16
	carry  [4]byte
	carryN int

	buf   []complex64
	avail int
	used  int
	skip  int

	dump    io.Writer
	dumpBuf []byte

	maxFailures int

	snrCB SNRCallback
	est   *gain.Estimator
	acq   *acquire.Acquirer
	sync  *demod.Synchronizer
	asm   *frame.Assembler
	dec   *decode.Decoder

	stats Stats
}

// New builds the pipeline dispatching decoded data to sink.
func New(sink decode.Sink, cfg Config, logger logging.Logger) *Input {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.MaxDecodeFailures <= 0 {
		cfg.MaxDecodeFailures = DefaultMaxDecodeFailures
	}
	in := &Input{
		logger:      logger.With(logging.Field{Key: "component", Value: "input"}),
		decim:       dsp.NewDecimator(),
		raw:         make([]dsp.CInt16, chunkSize),
		buf:         make([]complex64, BufferSize),
		maxFailures: cfg.MaxDecodeFailures,
		est:         gain.NewEstimator(cfg.SNRAverage),
		acq:         acquire.New(cfg.Acquire, logger),
		sync:        demod.New(cfg.Sync, logger),
	}
	in.dec = decode.New(sink, &in.stats.Decode, logger)
	in.asm = frame.NewAssembler(in.dec, &in.stats.Frame, logger)
	return in
}

// Stats returns the counters.
func (in *Input) Stats() *Stats { return &in.stats }

// SetSkip discards the next n decimated samples before any processing.
func (in *Input) SetSkip(n int) {
	if n < 0 {
		n = 0
	}
	in.skip = n
}

// SetSNRCallback starts a gain search phase: until cb returns false, samples
// only feed the SNR estimator. A nil cb ends the phase.
func (in *Input) SetSNRCallback(cb SNRCallback) {
	in.snrCB = cb
	in.est.Reset()
}

// Searching reports whether the gain search phase is active.
func (in *Input) Searching() bool { return in.snrCB != nil }

// SetDump copies every raw buffer to w before processing. Buffers pushed as
// CInt16 are written as CS16.
func (in *Input) SetDump(w io.Writer) { in.dump = w }

// LockState reports the combined acquisition and tracking state.
func (in *Input) LockState() l1.LockState {
	if in.sync.Active() {
		return l1.Locked
	}
	return in.acq.State()
}

// Track returns the tracking sub-state while locked.
func (in *Input) Track() l1.TrackState { return in.sync.Track() }

// Frequency returns the tracked carrier offset in Hz, zero when unlocked.
func (in *Input) Frequency() float64 {
	if !in.sync.Active() {
		return 0
	}
	return in.sync.Frequency()
}

// Spectrum returns the estimator's last averaged power spectrum.
func (in *Input) Spectrum() []float64 { return in.est.Spectrum() }

// PushCU8 processes interleaved unsigned 8-bit IQ bytes.
func (in *Input) PushCU8(b []byte) error {
	if err := in.writeDump(b); err != nil {
		return err
	}
	in.pushBytes(b, 2, dsp.CU8ToCInt16)
	return nil
}

// PushCS16 processes interleaved little-endian signed 16-bit IQ bytes.
func (in *Input) PushCS16(b []byte) error {
	if err := in.writeDump(b); err != nil {
		return err
	}
	in.pushBytes(b, 4, dsp.CS16ToCInt16)
	return nil
}

// Push processes raw-rate samples.
func (in *Input) Push(samples []dsp.CInt16) error {
	if in.dump != nil {
		in.dumpBuf = dsp.AppendCS16(in.dumpBuf[:0], samples)
		if err := in.writeDump(in.dumpBuf); err != nil {
			return err
		}
	}
	in.push(samples)
	return nil
}

func (in *Input) writeDump(b []byte) error {
	if in.dump == nil {
		return nil
	}
	if _, err := in.dump.Write(b); err != nil {
		return fmt.Errorf("write raw dump: %w", err)
	}
	return nil
}

// pushBytes converts b in chunks, carrying a partial sample across calls.
func (in *Input) pushBytes(b []byte, width int, conv func([]dsp.CInt16, []byte) int) {
	if in.carryN > 0 {
		n := copy(in.carry[in.carryN:width], b)
		in.carryN += n
		b = b[n:]
		if in.carryN < width {
			return
		}
		in.carryN = 0
		conv(in.raw[:1], in.carry[:width])
		if !in.push(in.raw[:1]) {
			return
		}
	}
	for len(b) >= width {
		n := conv(in.raw, b)
		b = b[n*width:]
		if !in.push(in.raw[:n]) {
			return
		}
	}
	in.carryN = copy(in.carry[:], b)
}

// push decimates samples into the working buffer and runs the pipeline.
// It returns false when the rest of the caller's buffer must be dropped.
func (in *Input) push(samples []dsp.CInt16) bool {
	in.stats.Samples.Add(uint64(len(samples)))
	for len(samples) > 0 {
		in.compact()
		room := len(in.buf) - in.avail
		n := min(len(samples), room*dsp.DecimationFactor)
		in.avail += in.decim.Process(in.buf[in.avail:], samples[:n])
		samples = samples[n:]
		if !in.run() {
			return false
		}
	}
	return true
}

func (in *Input) compact() {
	if in.used == 0 {
		return
	}
	in.avail = copy(in.buf, in.buf[in.used:in.avail])
	in.used = 0
}

// reset empties the working buffer after a gain change so no samples taken
// at the old gain reach the estimator.
func (in *Input) reset() {
	in.avail, in.used = 0, 0
	in.carryN = 0
	in.decim.Reset()
	in.est.Reset()
}

func (in *Input) run() bool {
	if in.skip > 0 {
		n := min(in.skip, in.avail-in.used)
		in.used += n
		in.skip -= n
		in.stats.Skipped.Add(uint64(n))
		if in.skip > 0 {
			return true
		}
	}
	if in.snrCB != nil {
		return in.estimate()
	}
	in.demodulate()
	return true
}

func (in *Input) estimate() bool {
	n, snr, ok := in.est.Push(in.buf[in.used:in.avail])
	in.used += n
	if !ok {
		return true
	}
	in.stats.Estimates.Add(1)
	in.stats.snr.Store(math.Float64bits(snr))
	if !in.snrCB(snr) {
		in.snrCB = nil
		in.logger.Debug("gain search finished")
	}
	in.reset()
	return false
}

func (in *Input) demodulate() {
	for {
		pending := in.buf[in.used:in.avail]
		if in.sync.Active() {
			n, sym, lost := in.sync.Process(pending)
			if n == 0 {
				return
			}
			in.used += n
			if lost {
				in.lockLost()
				continue
			}
			if sym != nil {
				in.stats.Symbols.Add(1)
				in.asm.Push(sym)
				if in.dec.Failures() >= in.maxFailures {
					in.logger.Warn("dropping lock after decode failures",
						logging.Field{Key: "failures", Value: in.dec.Failures()},
					)
					in.sync.Stop()
					in.lockLost()
				}
			}
			continue
		}

		n, lock := in.acq.Process(pending)
		if n == 0 && lock == nil {
			return
		}
		in.used += n
		if lock != nil {
			in.stats.Locks.Add(1)
			in.logger.Info("acquired",
				logging.Field{Key: "offset_hz", Value: lock.Hz()},
				logging.Field{Key: "coherence", Value: lock.Coherence},
			)
			in.sync.Start(lock.Frequency)
		}
		in.stats.state.Store(int32(in.LockState()))
	}
}

func (in *Input) lockLost() {
	in.stats.LockLosses.Add(1)
	in.asm.Reset()
	in.acq.Reset()
	in.dec.ResetFailures()
	in.stats.state.Store(int32(in.LockState()))
}
