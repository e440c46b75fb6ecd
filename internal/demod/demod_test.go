package demod

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rjboer/gonrsc5/internal/acquire"
	"github.com/rjboer/gonrsc5/internal/dsp"
	"github.com/rjboer/gonrsc5/internal/l1"
	"github.com/rjboer/gonrsc5/internal/logging"
	"github.com/rjboer/gonrsc5/internal/transmit"
)

type capture struct {
	samples []complex64
	bits    [][]uint8
}

func record(t *testing.T, blocks int, cfg transmit.Config) capture {
	t.Helper()
	rng := rand.New(rand.NewSource(11))
	m := transmit.NewModulator(cfg)
	var raw []dsp.CInt16
	var c capture
	for b := 0; b < blocks; b++ {
		bits := make([]uint8, l1.BlockBits)
		for i := range bits {
			bits[i] = uint8(rng.Intn(2))
		}
		var err error
		raw, err = m.Block(raw, b%l1.BlocksPerFrame, bits)
		require.NoError(t, err)
		c.bits = append(c.bits, bits)
	}
	d := dsp.NewDecimator()
	out := make([]complex64, d.OutputLen(len(raw)))
	c.samples = out[:d.Process(out, raw)]
	return c
}

func lock(t *testing.T, buf []complex64) (int, acquire.Lock) {
	t.Helper()
	a := acquire.New(acquire.Config{}, logging.Discard())
	pos := 0
	for {
		n, lk := a.Process(buf[pos:])
		require.NotZero(t, n, "no lock before end of capture")
		pos += n
		if lk != nil {
			return pos, *lk
		}
	}
}

type observed struct {
	start int
	index int
	ref   uint8
	q     float64
	soft  []float32
}

func run(s *Synchronizer, buf []complex64, pos int) ([]observed, int, bool) {
	var out []observed
	for {
		n, sym, lost := s.Process(buf[pos:])
		if n == 0 {
			return out, pos, false
		}
		if sym != nil {
			out = append(out, observed{
				start: pos,
				index: sym.Index,
				ref:   sym.RefBit,
				q:     sym.Quality,
				soft:  append([]float32(nil), sym.Soft...),
			})
		}
		pos += n
		if lost {
			return out, pos, true
		}
	}
}

func TestSynchronizerTracksCleanSignal(t *testing.T) {
	for _, offset := range []float64{0, 5.3} {
		c := record(t, 8, transmit.Config{FrequencyOffset: offset * l1.SubcarrierSpacing})
		pos, lk := lock(t, c.samples)
		s := New(Config{}, logging.Discard())
		s.Start(lk.Frequency)

		syms, _, lost := run(s, c.samples, pos)
		require.False(t, lost)
		require.Greater(t, len(syms), 150)
		require.Equal(t, l1.TrackStable, s.Track())
		require.True(t, s.Aligned())
		require.InDelta(t, offset*l1.SubcarrierSpacing, s.Frequency(), 20)

		firstAligned := -1
		for i, sym := range syms {
			require.Greater(t, sym.q, 0.9, "symbol %d", i)
			if sym.index >= 0 && firstAligned < 0 {
				firstAligned = i
			}
		}
		require.GreaterOrEqual(t, firstAligned, 0)
		require.Less(t, firstAligned, l1.SymbolsPerBlock+l1.SyncDiffLen+1)

		for i, sym := range syms[firstAligned:] {
			n := (sym.start + l1.SymbolLen/2) / l1.SymbolLen
			require.Equal(t, n%l1.SymbolsPerBlock, sym.index, "symbol %d", i)

			word := l1.NewSCWord((n / l1.SymbolsPerBlock) % l1.BlocksPerFrame)
			prevBit := l1.NewSCWord(((n - 1) / l1.SymbolsPerBlock) % l1.BlocksPerFrame).Bit((n - 1) % l1.SymbolsPerBlock)
			require.Equal(t, word.Bit(n%l1.SymbolsPerBlock)^prevBit, sym.ref)

			bits := c.bits[n/l1.SymbolsPerBlock][(n%l1.SymbolsPerBlock)*l1.BitsPerSymbol:]
			errs := 0
			for j, v := range sym.soft {
				if (v < 0) != (bits[j] == 1) {
					errs++
				}
			}
			require.Zero(t, errs, "symbol %d", n)
		}
	}
}

func TestSynchronizerLosesLockOnSilence(t *testing.T) {
	c := record(t, 3, transmit.Config{})
	pos, lk := lock(t, c.samples)
	buf := append(c.samples[:len(c.samples):len(c.samples)], make([]complex64, 40*l1.SymbolLen)...)

	cfg := Config{LossSymbols: 6}
	s := New(cfg, logging.Discard())
	s.Start(lk.Frequency)
	_, end, lost := run(s, buf, pos)
	require.True(t, lost)
	require.False(t, s.Active())
	silentSymbols := (end - len(c.samples)) / l1.SymbolLen
	require.LessOrEqual(t, silentSymbols, cfg.LossSymbols+2)

	n, sym, lost := s.Process(buf[end:])
	require.Zero(t, n)
	require.Nil(t, sym)
	require.False(t, lost)
}

func TestUpdateTrackTransitions(t *testing.T) {
	s := New(Config{DegradeThreshold: 0.6, LossThreshold: 0.3, LossSymbols: 3, RecoverSymbols: 2}, logging.Discard())
	s.Start(0)

	require.Equal(t, l1.TrackStable, s.updateTrack(0.95))
	require.Equal(t, l1.TrackDegraded, s.updateTrack(0.5))
	require.Equal(t, l1.TrackDegraded, s.updateTrack(0.7))
	require.Equal(t, l1.TrackStable, s.updateTrack(0.8))

	require.Equal(t, l1.TrackDegraded, s.updateTrack(0.1))
	require.Equal(t, l1.TrackDegraded, s.updateTrack(0.1))
	require.Equal(t, l1.TrackDegraded, s.updateTrack(0.45))
	require.Equal(t, l1.TrackDegraded, s.updateTrack(0.1))
	require.Equal(t, l1.TrackDegraded, s.updateTrack(0.1))
	require.Equal(t, l1.TrackLost, s.updateTrack(0.1))
}

func TestAlignFromReferenceBits(t *testing.T) {
	s := New(Config{}, logging.Discard())
	s.Start(0)
	prev := uint8(0)
	var got []int
	for f := 0; f < 2; f++ {
		for bc := 0; bc < l1.BlocksPerFrame; bc++ {
			w := l1.NewSCWord(bc)
			for i := 0; i < l1.SymbolsPerBlock; i++ {
				b := w.Bit(i)
				got = append(got, s.align(b^prev))
				prev = b
			}
		}
	}
	require.Equal(t, -1, got[l1.SyncDiffLen-1])
	for n := l1.SyncDiffLen; n < len(got); n++ {
		require.Equal(t, n%l1.SymbolsPerBlock, got[n], "symbol %d", n)
	}

	// a corrupted stream drops alignment after BlockMisses bad checks
	for i := 0; i < 4*l1.SymbolsPerBlock; i++ {
		s.align(0)
	}
	require.False(t, s.Aligned())
}
