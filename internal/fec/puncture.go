package fec

// PunctureMask keeps five of the six mother-code bits produced by every two
// input bits, giving rate 2/5.
var PunctureMask = [2 * MotherRate]bool{true, true, true, true, true, false}

func keptPerPeriod() int {
	n := 0
	for _, k := range PunctureMask {
		if k {
			n++
		}
	}
	return n
}

// PuncturedLen returns the number of transmitted bits for inputBits input
// bits. inputBits must be a multiple of two.
func PuncturedLen(inputBits int) int {
	return inputBits / 2 * keptPerPeriod()
}

// InputLen is the inverse of PuncturedLen.
func InputLen(codedBits int) int {
	return codedBits / keptPerPeriod() * 2
}

// Puncture drops the masked positions from a mother-code bit stream.
func Puncture(mother []uint8) []uint8 {
	out := make([]uint8, 0, len(mother))
	for i, b := range mother {
		if PunctureMask[i%len(PunctureMask)] {
			out = append(out, b)
		}
	}
	return out
}

// Depuncture expands src into dst, inserting erasures at punctured
// positions. dst holds the full mother-code length.
func Depuncture(dst, src []float32) {
	j := 0
	for i := range dst {
		if PunctureMask[i%len(PunctureMask)] {
			dst[i] = src[j]
			j++
		} else {
			dst[i] = 0
		}
	}
}
