package fec

import "fmt"

// Layout describes a logical channel codeword.
type Layout struct {
	CodedBits    int
	MessageBytes int
	Rows         int
}

// Codec encodes and decodes one logical channel codeword: message bits,
// zero padding and tail, mother code, puncturing and interleaving. Decode
// reuses internal buffers; a Codec is not safe for concurrent use.
type Codec struct {
	layout    Layout
	inputBits int
	il        *Interleaver
	vit       *Viterbi
	deint     []float32
	mother    []float32
	bits      []uint8
}

// NewCodec validates the layout and allocates decode scratch space.
func NewCodec(l Layout) (*Codec, error) {
	if l.Rows <= 0 || l.CodedBits%l.Rows != 0 {
		return nil, fmt.Errorf("coded bits %d not divisible into %d rows", l.CodedBits, l.Rows)
	}
	inputBits := InputLen(l.CodedBits)
	if PuncturedLen(inputBits) != l.CodedBits {
		return nil, fmt.Errorf("coded bits %d not a whole puncture period", l.CodedBits)
	}
	if l.MessageBytes*8+TailBits > inputBits {
		return nil, fmt.Errorf("message of %d bytes does not fit %d input bits", l.MessageBytes, inputBits)
	}
	return &Codec{
		layout:    l,
		inputBits: inputBits,
		il:        NewInterleaver(l.Rows, l.CodedBits/l.Rows),
		vit:       NewViterbi(inputBits),
		deint:     make([]float32, l.CodedBits),
		mother:    make([]float32, MotherRate*inputBits),
		bits:      make([]uint8, inputBits),
	}, nil
}

// MustCodec is NewCodec for static layouts.
func MustCodec(l Layout) *Codec {
	c, err := NewCodec(l)
	if err != nil {
		panic(err)
	}
	return c
}

// Layout returns the channel layout.
func (c *Codec) Layout() Layout { return c.layout }

// Encode produces the interleaved coded bits (one per byte) for msg, which
// must be exactly MessageBytes long.
func (c *Codec) Encode(msg []byte) ([]uint8, error) {
	if len(msg) != c.layout.MessageBytes {
		return nil, fmt.Errorf("message length %d, want %d", len(msg), c.layout.MessageBytes)
	}
	in := make([]uint8, c.inputBits)
	for i := 0; i < 8*len(msg); i++ {
		in[i] = (msg[i/8] >> (7 - i%8)) & 1
	}
	coded := Puncture(Encode(in))
	out := make([]uint8, len(coded))
	c.il.Interleave(out, coded)
	return out, nil
}

// Decode recovers the message bytes from CodedBits soft values into msg,
// which must hold MessageBytes bytes. Integrity is left to the caller.
func (c *Codec) Decode(soft []float32, msg []byte) {
	c.il.Deinterleave(c.deint, soft[:c.layout.CodedBits])
	Depuncture(c.mother, c.deint)
	c.vit.Decode(c.mother, c.bits)
	for i := range msg[:c.layout.MessageBytes] {
		var b byte
		for j := 0; j < 8; j++ {
			b = b<<1 | c.bits[8*i+j]
		}
		msg[i] = b
	}
}
