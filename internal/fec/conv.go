// Package fec implements the forward error correction used by the logical
// channels: a K=7 rate 1/3 convolutional code punctured to rate 2/5, block
// interleaving and CRC integrity checks.
package fec

import "math/bits"

const (
	// ConstraintLen of the mother code.
	ConstraintLen = 7
	// TailBits terminate the trellis in state zero.
	TailBits = ConstraintLen - 1
	// MotherRate is the number of coded bits per input bit.
	MotherRate = 3

	numStates = 1 << TailBits
)

// Polynomials are the generator polynomials in octal, bit 6 is the newest
// input bit.
var Polynomials = [MotherRate]uint8{0133, 0171, 0165}

// branchOut[reg] packs the three coded bits produced by a 7-bit register.
var branchOut = func() [2 * numStates]uint8 {
	var t [2 * numStates]uint8
	for reg := range t {
		var out uint8
		for j, g := range Polynomials {
			out |= uint8(bits.OnesCount8(uint8(reg)&g)&1) << j
		}
		t[reg] = out
	}
	return t
}()

// Encode runs the mother code over in (one bit per byte) starting from the
// zero state and returns MotherRate coded bits per input bit. Callers append
// TailBits zeros to terminate the trellis.
func Encode(in []uint8) []uint8 {
	out := make([]uint8, 0, MotherRate*len(in))
	state := 0
	for _, u := range in {
		reg := int(u&1)<<TailBits | state
		o := branchOut[reg]
		for j := 0; j < MotherRate; j++ {
			out = append(out, (o>>j)&1)
		}
		state = reg >> 1
	}
	return out
}

// Viterbi is a soft-decision decoder for the mother code. It keeps one
// decision word per trellis step and is reused across calls.
type Viterbi struct {
	decisions []uint64
	old, cur  [numStates]float32
}

// NewViterbi allocates a decoder for up to steps input bits.
func NewViterbi(steps int) *Viterbi {
	return &Viterbi{decisions: make([]uint64, steps)}
}

const unreachable = -1e30

// Decode recovers len(out) input bits from MotherRate*len(out) soft values
// (positive means 0, zero is an erasure) and traces back from state zero.
func (v *Viterbi) Decode(soft []float32, out []uint8) {
	steps := len(out)
	if steps > len(v.decisions) {
		v.decisions = make([]uint64, steps)
	}
	for s := range v.old {
		v.old[s] = unreachable
	}
	v.old[0] = 0

	for t := 0; t < steps; t++ {
		sym := soft[MotherRate*t : MotherRate*t+MotherRate]
		var dec uint64
		best := float32(unreachable)
		for ns := 0; ns < numStates; ns++ {
			u := ns >> (TailBits - 1)
			base := (ns & (numStates/2 - 1)) << 1
			var m [2]float32
			for b := 0; b < 2; b++ {
				reg := u<<TailBits | base | b
				m[b] = v.old[base|b] + branchMetric(branchOut[reg], sym)
			}
			if m[1] > m[0] {
				v.cur[ns] = m[1]
				dec |= 1 << ns
			} else {
				v.cur[ns] = m[0]
			}
			if v.cur[ns] > best {
				best = v.cur[ns]
			}
		}
		for s := range v.cur {
			v.old[s] = v.cur[s] - best
		}
		v.decisions[t] = dec
	}

	state := 0
	for t := steps - 1; t >= 0; t-- {
		out[t] = uint8(state >> (TailBits - 1))
		b := int(v.decisions[t]>>state) & 1
		state = (state&(numStates/2-1))<<1 | b
	}
}

func branchMetric(o uint8, sym []float32) float32 {
	var m float32
	for j, s := range sym {
		if (o>>j)&1 == 0 {
			m += s
		} else {
			m -= s
		}
	}
	return m
}
