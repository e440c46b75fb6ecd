package gain

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rjboer/gonrsc5/internal/logging"
)

type fakeControl struct {
	applied []int
	resets  int
	failOn  int
}

func (f *fakeControl) SetGain(g int) error {
	if f.failOn != 0 && g == f.failOn {
		return errors.New("usb gone")
	}
	f.applied = append(f.applied, g)
	return nil
}

func (f *fakeControl) ResetBuffer() error {
	f.resets++
	return nil
}

func newSearch(ctl Control, gains []int) *Search {
	return NewSearch(ctl, gains, SearchConfig{}, logging.Discard())
}

func TestSearchSingleGainCommitsImmediately(t *testing.T) {
	ctl := &fakeControl{}
	s := newSearch(ctl, []int{496})
	require.NoError(t, s.Start())
	require.True(t, s.Active())

	require.False(t, s.OnSNR(12.5))
	require.False(t, s.Active())
	require.Equal(t, []int{496}, ctl.applied)
	require.Equal(t, 1, ctl.resets)

	require.False(t, s.OnSNR(99))
	require.Equal(t, []int{496}, ctl.applied)
}

func TestSearchStopsEarlyAndCommitsPeak(t *testing.T) {
	ctl := &fakeControl{}
	gains := []int{0, 90, 140, 270, 370, 440, 496}
	s := newSearch(ctl, gains)
	require.NoError(t, s.Start())

	snrs := []float64{1, 2, 4, 3, 1.9}
	var cont []bool
	for _, v := range snrs {
		cont = append(cont, s.OnSNR(v))
	}
	require.Equal(t, []bool{true, true, true, true, false}, cont)
	require.Equal(t, []int{0, 90, 140, 270, 370, 140}, ctl.applied)
	g, ok := s.Gain()
	require.True(t, ok)
	require.Equal(t, 140, g)
	require.Equal(t, 4.0, s.BestSNR())
	require.False(t, s.Active())
}

func TestSearchRunsToEndOfTable(t *testing.T) {
	ctl := &fakeControl{}
	s := newSearch(ctl, []int{10, 20, 30})
	require.NoError(t, s.Start())
	require.True(t, s.OnSNR(1))
	require.True(t, s.OnSNR(2))
	require.False(t, s.OnSNR(3))
	// the last gain is the best, nothing is re-applied
	require.Equal(t, []int{10, 20, 30}, ctl.applied)
}

func TestSearchEqualSNRPrefersLaterGain(t *testing.T) {
	ctl := &fakeControl{}
	s := newSearch(ctl, []int{10, 20, 30})
	require.NoError(t, s.Start())
	s.OnSNR(5)
	s.OnSNR(5)
	s.OnSNR(1)
	g, _ := s.Gain()
	require.Equal(t, 20, g)
}

func TestSearchEmptyTable(t *testing.T) {
	ctl := &fakeControl{}
	s := newSearch(ctl, nil)
	require.NoError(t, s.Start())
	require.False(t, s.Active())
	require.False(t, s.OnSNR(3))
	require.Empty(t, ctl.applied)
	_, ok := s.Gain()
	require.False(t, ok)
}

func TestSearchSourceErrorAborts(t *testing.T) {
	ctl := &fakeControl{failOn: 20}
	s := newSearch(ctl, []int{10, 20, 30})
	require.NoError(t, s.Start())
	require.False(t, s.OnSNR(1))
	require.Error(t, s.Err())
	require.False(t, s.Active())
}

func tone(n int, bin float64, amp float64) []complex64 {
	out := make([]complex64, n)
	for i := range out {
		s, c := math.Sincos(2 * math.Pi * bin * float64(i) / SpectrumBins)
		out[i] = complex64(complex(amp*c, amp*s))
	}
	return out
}

func add(a, b []complex64) []complex64 {
	out := make([]complex64, len(a))
	for i := range a {
		out[i] = a[i] + b[i]
	}
	return out
}

func TestEstimatorZeroInputIsZero(t *testing.T) {
	e := NewEstimator(4)
	n, snr, ok := e.Push(make([]complex64, 4*SpectrumBins))
	require.True(t, ok)
	require.Equal(t, 4*SpectrumBins, n)
	require.Equal(t, 0.0, snr)
}

func TestEstimatorSignalAboveNoise(t *testing.T) {
	const frames = 8
	n := frames * SpectrumBins
	sig := add(tone(n, 14, 0.3), tone(n, -14, 0.3))
	noise := add(tone(n, 21.5, 0.01), tone(n, -21.5, 0.01))

	e := NewEstimator(frames)
	_, strong, ok := e.Push(add(sig, noise))
	require.True(t, ok)
	require.Greater(t, strong, 100.0)

	_, flat, ok := e.Push(add(add(tone(n, 14, 0.01), tone(n, -14, 0.01)), noise))
	require.True(t, ok)
	require.Less(t, flat, strong)
}

func TestEstimatorIncrementalPush(t *testing.T) {
	e := NewEstimator(2)
	samples := tone(2*SpectrumBins, 14, 0.5)
	n, _, ok := e.Push(samples[:100])
	require.False(t, ok)
	require.Equal(t, 100, n)
	n, _, ok = e.Push(samples[100:])
	require.True(t, ok)
	require.Equal(t, 2*SpectrumBins-100, n)
	require.Len(t, e.Spectrum(), SpectrumBins)
}

func TestEstimatorStopsAtEstimate(t *testing.T) {
	e := NewEstimator(1)
	n, _, ok := e.Push(make([]complex64, 3*SpectrumBins))
	require.True(t, ok)
	require.Equal(t, SpectrumBins, n)
}
