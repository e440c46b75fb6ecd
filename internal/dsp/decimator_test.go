package dsp

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func decimateAll(d *Decimator, in []CInt16, splits []int) []complex64 {
	var out []complex64
	rest := in
	for _, s := range splits {
		if s > len(rest) {
			s = len(rest)
		}
		buf := make([]complex64, d.OutputLen(s))
		n := d.Process(buf, rest[:s])
		out = append(out, buf[:n]...)
		rest = rest[s:]
	}
	buf := make([]complex64, d.OutputLen(len(rest)))
	n := d.Process(buf, rest)
	return append(out, buf[:n]...)
}

func TestDecimatorSplitIndependence(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 600).Draw(t, "n")
		in := make([]CInt16, n)
		for i := range in {
			in[i] = CInt16{
				I: rapid.Int16().Draw(t, "i"),
				Q: rapid.Int16().Draw(t, "q"),
			}
		}
		splits := rapid.SliceOfN(rapid.IntRange(0, 97), 0, 12).Draw(t, "splits")

		whole := decimateAll(NewDecimator(), in, nil)
		parts := decimateAll(NewDecimator(), in, splits)
		if len(whole) != n/2 {
			t.Fatalf("expected %d outputs, got %d", n/2, len(whole))
		}
		if len(parts) != len(whole) {
			t.Fatalf("length mismatch: %d vs %d", len(parts), len(whole))
		}
		for i := range whole {
			if whole[i] != parts[i] {
				t.Fatalf("output %d differs: %v vs %v", i, whole[i], parts[i])
			}
		}
	})
}

func TestDecimatorPassesInBandTone(t *testing.T) {
	d := NewDecimator()
	// 60 kHz at 1.488375 MS/s is well inside the pass band.
	step := 2 * math.Pi * 60e3 / 1488375
	in := make([]CInt16, 4096)
	for i := range in {
		s, c := math.Sincos(step * float64(i))
		in[i] = CInt16{I: int16(16000 * c), Q: int16(16000 * s)}
	}
	out := make([]complex64, d.OutputLen(len(in)))
	n := d.Process(out, in)
	require.Equal(t, 2048, n)
	for _, v := range out[100:n] {
		mag := math.Hypot(float64(real(v)), float64(imag(v)))
		require.InDelta(t, 16000.0/32768, mag, 0.02)
	}
}

func TestDecimatorRejectsNearNyquist(t *testing.T) {
	d := NewDecimator()
	step := 2 * math.Pi * 0.45
	in := make([]CInt16, 4096)
	for i := range in {
		s, c := math.Sincos(step * float64(i))
		in[i] = CInt16{I: int16(16000 * c), Q: int16(16000 * s)}
	}
	out := make([]complex64, d.OutputLen(len(in)))
	n := d.Process(out, in)
	for _, v := range out[100:n] {
		mag := math.Hypot(float64(real(v)), float64(imag(v)))
		require.Less(t, mag, 0.01)
	}
}

func TestDecimatorSaturates(t *testing.T) {
	taps := make([]int16, DecimatorTaps)
	for i := range taps {
		taps[i] = math.MaxInt16
	}
	d := NewDecimatorTaps(taps)
	in := make([]CInt16, 64)
	for i := range in {
		in[i] = CInt16{I: math.MaxInt16, Q: math.MinInt16}
	}
	out := make([]complex64, 32)
	d.Process(out, in)
	last := out[31]
	require.Equal(t, float32(math.MaxInt16)/32768, real(last))
	require.Equal(t, float32(-1), imag(last))
}

func TestConvertCU8AndCS16(t *testing.T) {
	samples := []CInt16{{I: -32768, Q: 32512}, {I: 0, Q: -256}}
	dst := make([]CInt16, 2)
	n := CU8ToCInt16(dst, AppendCU8(nil, samples))
	require.Equal(t, 2, n)
	require.Equal(t, samples, dst)

	wide := []CInt16{{I: 1234, Q: -4321}, {I: math.MinInt16, Q: math.MaxInt16}}
	n = CS16ToCInt16(dst, AppendCS16(nil, wide))
	require.Equal(t, 2, n)
	require.Equal(t, wide, dst)
}
