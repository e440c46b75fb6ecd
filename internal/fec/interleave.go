package fec

// Interleaver is a row/column block interleaver: bits are written row by
// row into a rows x cols matrix and read out column by column.
type Interleaver struct {
	perm []int32
}

// NewInterleaver builds the permutation for a rows x cols matrix.
func NewInterleaver(rows, cols int) *Interleaver {
	perm := make([]int32, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			perm[r*cols+c] = int32(c*rows + r)
		}
	}
	return &Interleaver{perm: perm}
}

// Len is the block size.
func (il *Interleaver) Len() int { return len(il.perm) }

// Interleave writes src in transmission order to dst.
func (il *Interleaver) Interleave(dst, src []uint8) {
	for i, p := range il.perm {
		dst[p] = src[i]
	}
}

// Deinterleave restores the encoder order of received soft values.
func (il *Interleaver) Deinterleave(dst, src []float32) {
	for i, p := range il.perm {
		dst[i] = src[p]
	}
}
