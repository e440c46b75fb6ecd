package l1

import "errors"

// SCWord is the 32-bit system-control word carried one bit per symbol on
// the reference subcarriers of a block. Bit i belongs to symbol i.
type SCWord uint32

const (
	syncLen     = 11
	bcShift     = syncLen
	bcBits      = 4
	parityBit   = bcShift + bcBits
	reservedLow = parityBit + 1
)

// SyncPattern is the block sync sequence occupying bits 0..10.
var SyncPattern = [syncLen]uint8{1, 1, 1, 0, 0, 0, 1, 0, 1, 1, 0}

var (
	ErrSyncPattern = errors.New("sc word: bad sync pattern")
	ErrParity      = errors.New("sc word: block count parity mismatch")
	ErrReserved    = errors.New("sc word: reserved bits set")
)

// SyncDiffLen is the number of differential bits that identify the block
// boundary.
const SyncDiffLen = syncLen - 1

// SyncDiff is the differential form of the sync pattern (d1..d10), packed
// with d1 as the most significant of the low SyncDiffLen bits. The symbol
// carrying d10 is symbol SyncDiffLen of its block.
var SyncDiff = func() uint32 {
	var v uint32
	for i := 1; i < syncLen; i++ {
		v = v<<1 | uint32(SyncPattern[i]^SyncPattern[i-1])
	}
	return v
}()

// NewSCWord builds the control word for block count bc (0..15).
func NewSCWord(bc int) SCWord {
	var w SCWord
	for i, b := range SyncPattern {
		w |= SCWord(b) << i
	}
	var parity uint8
	for i := 0; i < bcBits; i++ {
		b := uint8(bc>>(bcBits-1-i)) & 1
		parity ^= b
		w |= SCWord(b) << (bcShift + i)
	}
	w |= SCWord(parity) << parityBit
	return w
}

// Bit returns bit i of the word.
func (w SCWord) Bit(i int) uint8 { return uint8(w>>i) & 1 }

// BlockCount extracts the 4-bit block count, most significant bit first.
func (w SCWord) BlockCount() int {
	bc := 0
	for i := 0; i < bcBits; i++ {
		bc = bc<<1 | int(w.Bit(bcShift+i))
	}
	return bc
}

// Validate checks the sync pattern, block count parity and reserved bits.
func (w SCWord) Validate() error {
	for i, b := range SyncPattern {
		if w.Bit(i) != b {
			return ErrSyncPattern
		}
	}
	var parity uint8
	for i := bcShift; i <= parityBit; i++ {
		parity ^= w.Bit(i)
	}
	if parity != 0 {
		return ErrParity
	}
	if w>>reservedLow != 0 {
		return ErrReserved
	}
	return nil
}

// SCWordFromDiff rebuilds a control word from the differential bits observed
// on the reference subcarriers. diff bit i holds b[i] xor b[i-1]; bit 0 is
// ignored because the first sync bit is fixed.
func SCWordFromDiff(diff uint32) SCWord {
	b := uint32(SyncPattern[0])
	w := SCWord(b)
	for i := 1; i < 32; i++ {
		b ^= (diff >> i) & 1
		w |= SCWord(b) << i
	}
	return w
}
