package fec

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func toSoft(bits []uint8) []float32 {
	soft := make([]float32, len(bits))
	for i, b := range bits {
		soft[i] = 1 - 2*float32(b)
	}
	return soft
}

func TestViterbiDecodesCleanStream(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		msg := rapid.SliceOfN(rapid.IntRange(0, 1), 1, 200).Draw(t, "msg")
		in := make([]uint8, len(msg)+TailBits)
		for i, b := range msg {
			in[i] = uint8(b)
		}
		out := make([]uint8, len(in))
		NewViterbi(len(in)).Decode(toSoft(Encode(in)), out)
		for i := range in {
			if in[i] != out[i] {
				t.Fatalf("bit %d: want %d got %d", i, in[i], out[i])
			}
		}
	})
}

func TestViterbiCorrectsSparseErrors(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	in := make([]uint8, 400+TailBits)
	for i := 0; i < 400; i++ {
		in[i] = uint8(rng.Intn(2))
	}
	soft := toSoft(Encode(in))
	// one flipped coded bit every 40 is well within the free distance
	for i := 5; i < len(soft); i += 40 {
		soft[i] = -soft[i]
	}
	out := make([]uint8, len(in))
	NewViterbi(0).Decode(soft, out)
	require.Equal(t, in, out)
}

func TestPunctureRoundTrip(t *testing.T) {
	mother := []uint8{1, 0, 1, 1, 0, 1, 0, 0, 1, 1, 1, 0}
	p := Puncture(mother)
	require.Equal(t, []uint8{1, 0, 1, 1, 0, 0, 0, 1, 1, 1}, p)
	require.Equal(t, len(p), PuncturedLen(4))
	require.Equal(t, 4, InputLen(len(p)))

	dst := make([]float32, len(mother))
	Depuncture(dst, toSoft(p))
	require.Equal(t, float32(0), dst[5])
	require.Equal(t, float32(0), dst[11])
	require.Equal(t, float32(-1), dst[0])
}

func TestInterleaverIsPermutation(t *testing.T) {
	il := NewInterleaver(12, 20)
	src := make([]uint8, il.Len())
	for i := range src {
		src[i] = uint8(i % 251)
	}
	mixed := make([]uint8, il.Len())
	il.Interleave(mixed, src)
	require.Equal(t, src[1], mixed[12])

	back := make([]float32, il.Len())
	soft := make([]float32, il.Len())
	for i, v := range mixed {
		soft[i] = float32(v)
	}
	il.Deinterleave(back, soft)
	for i := range src {
		require.Equal(t, float32(src[i]), back[i])
	}
}

func TestCRC16KnownVector(t *testing.T) {
	require.Equal(t, uint16(0x29B1), CRC16([]byte("123456789")))
	msg := AppendCRC16([]byte("station"))
	require.True(t, CheckCRC16(msg))
	msg[0] ^= 0x10
	require.False(t, CheckCRC16(msg))
	require.False(t, CheckCRC16([]byte{1}))
}

func TestCRC32(t *testing.T) {
	msg := AppendCRC32([]byte("123456789"))
	require.Equal(t, []byte{0xCB, 0xF4, 0x39, 0x26}, msg[9:])
	require.True(t, CheckCRC32(msg))
	msg[3] ^= 1
	require.False(t, CheckCRC32(msg))
}

func TestCodecRoundTrip(t *testing.T) {
	c, err := NewCodec(Layout{CodedBits: 240, MessageBytes: 10, Rows: 12})
	require.NoError(t, err)
	msg := AppendCRC16([]byte("WXYZ-FM1"))
	coded, err := c.Encode(msg)
	require.NoError(t, err)
	require.Len(t, coded, 240)

	soft := toSoft(coded)
	soft[17] = -soft[17]
	soft[150] = 0
	got := make([]byte, 10)
	c.Decode(soft, got)
	require.Equal(t, msg, got)
	require.True(t, CheckCRC16(got))

	_, err = c.Encode(msg[:3])
	require.Error(t, err)
}

func TestNewCodecRejectsBadLayouts(t *testing.T) {
	_, err := NewCodec(Layout{CodedBits: 240, MessageBytes: 40, Rows: 12})
	require.Error(t, err)
	_, err = NewCodec(Layout{CodedBits: 241, MessageBytes: 1, Rows: 1})
	require.Error(t, err)
	_, err = NewCodec(Layout{CodedBits: 240, MessageBytes: 1, Rows: 7})
	require.Error(t, err)
}
