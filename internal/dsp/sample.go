package dsp

import "encoding/binary"

// CInt16 is a complex sample with 16-bit signed components.
type CInt16 struct {
	I, Q int16
}

// Complex64 scales the sample to the unit range.
func (c CInt16) Complex64() complex64 {
	return complex(float32(c.I)/32768, float32(c.Q)/32768)
}

// CU8ToCInt16 converts interleaved unsigned 8-bit IQ pairs (rtl-sdr format)
// into dst and returns the number of samples written. A trailing odd byte is
// ignored.
func CU8ToCInt16(dst []CInt16, src []byte) int {
	n := len(src) / 2
	if n > len(dst) {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		dst[i] = CInt16{
			I: int16((int(src[2*i]) - 128) << 8),
			Q: int16((int(src[2*i+1]) - 128) << 8),
		}
	}
	return n
}

// CS16ToCInt16 converts interleaved little-endian signed 16-bit IQ pairs into
// dst and returns the number of samples written.
func CS16ToCInt16(dst []CInt16, src []byte) int {
	n := len(src) / 4
	if n > len(dst) {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		dst[i] = CInt16{
			I: int16(binary.LittleEndian.Uint16(src[4*i:])),
			Q: int16(binary.LittleEndian.Uint16(src[4*i+2:])),
		}
	}
	return n
}

// AppendCS16 encodes samples as little-endian signed 16-bit IQ pairs.
func AppendCS16(dst []byte, samples []CInt16) []byte {
	for _, s := range samples {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(s.I))
		dst = binary.LittleEndian.AppendUint16(dst, uint16(s.Q))
	}
	return dst
}

// AppendCU8 encodes samples as unsigned 8-bit IQ pairs, dropping the low byte.
func AppendCU8(dst []byte, samples []CInt16) []byte {
	for _, s := range samples {
		dst = append(dst, byte(int(s.I>>8)+128), byte(int(s.Q>>8)+128))
	}
	return dst
}
