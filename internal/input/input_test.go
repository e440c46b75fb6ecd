package input

import (
	"bytes"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rjboer/gonrsc5/internal/acquire"
	"github.com/rjboer/gonrsc5/internal/decode"
	"github.com/rjboer/gonrsc5/internal/dsp"
	"github.com/rjboer/gonrsc5/internal/l1"
	"github.com/rjboer/gonrsc5/internal/logging"
	"github.com/rjboer/gonrsc5/internal/transmit"
)

type pdu struct {
	program int
	data    string
}

type collector struct {
	pdus      []pdu
	ancillary int
}

func (c *collector) PushPDU(program int, data []byte) {
	c.pdus = append(c.pdus, pdu{program: program, data: string(data)})
}

func (c *collector) PushAncillary(decode.AncillaryKind, []byte) { c.ancillary++ }

// signal modulates the given number of blocks and hands each block's samples
// to fn. Frame f carries one audio record "frame f" for program 0.
func signal(t *testing.T, blocks int, cfg transmit.Config, fn func([]dsp.CInt16)) {
	t.Helper()
	mod := transmit.NewModulator(cfg)
	buf := make([]dsp.CInt16, 0, transmit.BlockSamples)
	var bits [l1.BlocksPerFrame][]uint8
	for b := 0; b < blocks; b++ {
		bc := b % l1.BlocksPerFrame
		if bc == 0 {
			payload, err := transmit.PackP1([]transmit.Record{{
				Type: l1.RecordAudio,
				Data: []byte(fmt.Sprintf("frame %d", b/l1.BlocksPerFrame)),
			}})
			require.NoError(t, err)
			bits, err = transmit.FrameBits(payload, [][]byte{[]byte("TEST")})
			require.NoError(t, err)
		}
		var err error
		buf, err = mod.Block(buf[:0], bc, bits[bc])
		require.NoError(t, err)
		fn(buf)
	}
}

// blocksIn returns how many whole blocks fit in the given duration.
func blocksIn(seconds float64) int {
	return int(seconds * l1.InputRate / transmit.BlockSamples)
}

func TestCleanSignalDecodes(t *testing.T) {
	var sink collector
	in := New(&sink, Config{}, logging.Discard())

	lockedAt := -1
	block := 0
	signal(t, blocksIn(5), transmit.Config{Seed: 1}, func(s []dsp.CInt16) {
		require.NoError(t, in.Push(s))
		if lockedAt < 0 && in.LockState() == l1.Locked {
			lockedAt = block
		}
		block++
	})

	require.GreaterOrEqual(t, lockedAt, 0, "never locked")
	require.Less(t, lockedAt, blocksIn(0.5))
	require.Equal(t, l1.Locked, in.LockState())
	require.Equal(t, l1.Locked, in.Stats().State())
	require.EqualValues(t, 1, in.Stats().Locks.Load())
	require.Zero(t, in.Stats().LockLosses.Load())

	require.NotEmpty(t, sink.pdus)
	for _, p := range sink.pdus {
		require.Equal(t, 0, p.program)
		require.Contains(t, p.data, "frame ")
	}
	require.Zero(t, in.Stats().Frame.Errors.Load())
	require.Zero(t, in.Stats().Decode.P1Failed.Load())
	require.Positive(t, in.Stats().Decode.PIDSDecoded.Load())
	require.Positive(t, sink.ancillary)
}

func TestDeadFrontEndStaysUnlocked(t *testing.T) {
	var sink collector
	in := New(&sink, Config{}, logging.Discard())

	zeros := make([]dsp.CInt16, transmit.BlockSamples)
	for i := 0; i < blocksIn(1); i++ {
		require.NoError(t, in.Push(zeros))
		require.Equal(t, l1.Unlocked, in.LockState())
	}
	require.Zero(t, in.Stats().Locks.Load())

	signal(t, blocksIn(1), transmit.Config{Seed: 2}, func(s []dsp.CInt16) {
		require.NoError(t, in.Push(s))
	})
	require.Equal(t, l1.Locked, in.LockState())
	require.Zero(t, in.Stats().Frame.Errors.Load())
}

func TestReacquireAfterLoss(t *testing.T) {
	var sink collector
	in := New(&sink, Config{}, logging.Discard())
	push := func(s []dsp.CInt16) { require.NoError(t, in.Push(s)) }

	signal(t, blocksIn(3.5), transmit.Config{Seed: 5}, push)
	require.Equal(t, l1.Locked, in.LockState())
	require.EqualValues(t, 1, in.Stats().Locks.Load())
	before := len(sink.pdus)
	require.Positive(t, before)

	zeros := make([]dsp.CInt16, transmit.BlockSamples)
	for i := 0; i < blocksIn(1); i++ {
		push(zeros)
	}
	require.NotEqual(t, l1.Locked, in.LockState())
	require.EqualValues(t, 1, in.Stats().LockLosses.Load())

	signal(t, blocksIn(4.5), transmit.Config{Seed: 6}, push)
	require.Equal(t, l1.Locked, in.LockState())
	require.EqualValues(t, 2, in.Stats().Locks.Load())
	require.EqualValues(t, 1, in.Stats().LockLosses.Load())
	require.Greater(t, len(sink.pdus), before)
	require.Zero(t, in.Stats().Frame.Errors.Load())
}

func TestOffsetBeyondReferenceSpacing(t *testing.T) {
	for _, hz := range []float64{-6900, 7000, 40 * l1.SubcarrierSpacing} {
		var sink collector
		in := New(&sink, Config{}, logging.Discard())
		signal(t, blocksIn(5), transmit.Config{Seed: 8, FrequencyOffset: hz}, func(s []dsp.CInt16) {
			require.NoError(t, in.Push(s))
		})
		require.Equal(t, l1.Locked, in.LockState(), "offset %.0f", hz)
		require.InDelta(t, hz, in.Frequency(), l1.SubcarrierSpacing/4, "offset %.0f", hz)
		require.NotEmpty(t, sink.pdus, "offset %.0f", hz)
		require.Zero(t, in.Stats().Decode.P1Failed.Load(), "offset %.0f", hz)
	}
}

func TestOffsetOutsideSearchRangeNeverLocks(t *testing.T) {
	var sink collector
	in := New(&sink, Config{Acquire: acquire.Config{MaxBinOffset: 18}}, logging.Discard())
	signal(t, blocksIn(3), transmit.Config{Seed: 9, FrequencyOffset: -6900}, func(s []dsp.CInt16) {
		require.NoError(t, in.Push(s))
		require.NotEqual(t, l1.Locked, in.LockState())
	})
	require.Zero(t, in.Stats().Locks.Load())
	require.Empty(t, sink.pdus)
}

func TestDecodeFailuresDropLock(t *testing.T) {
	in := New(nil, Config{MaxDecodeFailures: 4}, logging.Discard())
	rng := rand.New(rand.NewSource(11))
	mod := transmit.NewModulator(transmit.Config{Seed: 10})
	bits := make([]uint8, l1.BlockBits)
	buf := make([]dsp.CInt16, 0, transmit.BlockSamples)
	for b := 0; b < blocksIn(4); b++ {
		for i := range bits {
			bits[i] = uint8(rng.Intn(2))
		}
		var err error
		buf, err = mod.Block(buf[:0], b%l1.BlocksPerFrame, bits)
		require.NoError(t, err)
		require.NoError(t, in.Push(buf))
	}
	require.Positive(t, in.Stats().Decode.PIDSFailed.Load())
	require.Zero(t, in.Stats().Decode.PIDSDecoded.Load())
	require.GreaterOrEqual(t, in.Stats().LockLosses.Load(), uint64(1))
	require.GreaterOrEqual(t, in.Stats().Locks.Load(), uint64(2))
}

func TestSplitIndependence(t *testing.T) {
	var raw []byte
	signal(t, 2*l1.BlocksPerFrame+4, transmit.Config{Seed: 3, FrequencyOffset: 900}, func(s []dsp.CInt16) {
		raw = dsp.AppendCU8(raw, s)
	})

	run := func(chunk int) *collector {
		var sink collector
		in := New(&sink, Config{}, logging.Discard())
		for off := 0; off < len(raw); off += chunk {
			require.NoError(t, in.PushCU8(raw[off:min(off+chunk, len(raw))]))
		}
		require.EqualValues(t, len(raw)/2, in.Stats().Samples.Load())
		return &sink
	}

	whole := run(len(raw))
	odd := run(7777)
	require.NotEmpty(t, whole.pdus)
	require.Equal(t, whole.pdus, odd.pdus)
	require.Equal(t, whole.ancillary, odd.ancillary)
}

func TestSkip(t *testing.T) {
	in := New(nil, Config{}, logging.Discard())
	in.SetSkip(1000)
	require.NoError(t, in.Push(make([]dsp.CInt16, 1500)))
	require.EqualValues(t, 750, in.Stats().Skipped.Load())
	require.NoError(t, in.Push(make([]dsp.CInt16, 1500)))
	require.EqualValues(t, 1000, in.Stats().Skipped.Load())
	require.NoError(t, in.Push(make([]dsp.CInt16, 1500)))
	require.EqualValues(t, 1000, in.Stats().Skipped.Load())
}

func TestGainSearchDropsRestOfBuffer(t *testing.T) {
	in := New(nil, Config{SNRAverage: 4}, logging.Discard())

	var estimates []float64
	in.SetSNRCallback(func(snr float64) bool {
		estimates = append(estimates, snr)
		return len(estimates) < 3
	})
	require.True(t, in.Searching())

	var raw []byte
	signal(t, 1, transmit.Config{Seed: 4}, func(s []dsp.CInt16) {
		raw = dsp.AppendCS16(raw, s)
	})

	// One estimate needs 4*64 decimated samples; the rest of each buffer is
	// dropped after it.
	require.NoError(t, in.PushCS16(raw))
	require.Len(t, estimates, 1)
	require.Positive(t, estimates[0])
	require.EqualValues(t, 1, in.Stats().Estimates.Load())
	require.Equal(t, estimates[0], in.Stats().SNR())

	require.NoError(t, in.PushCS16(raw))
	require.NoError(t, in.PushCS16(raw))
	require.Len(t, estimates, 3)
	require.False(t, in.Searching())

	require.NoError(t, in.PushCS16(raw))
	require.Len(t, estimates, 3)
	require.Len(t, in.Spectrum(), 64)
}

func TestDumpCopiesRawInput(t *testing.T) {
	var dump bytes.Buffer
	in := New(nil, Config{}, logging.Discard())
	in.SetDump(&dump)

	require.NoError(t, in.PushCU8([]byte{1, 2, 3}))
	require.NoError(t, in.Push([]dsp.CInt16{{I: 1, Q: -1}}))
	require.Equal(t, []byte{1, 2, 3, 1, 0, 0xff, 0xff}, dump.Bytes())
	require.EqualValues(t, 2, in.Stats().Samples.Load())
}
