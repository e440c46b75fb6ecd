// Package frame groups position-tagged OFDM symbols into blocks and L1
// frames and checks frame integrity before anything reaches the decoders.
package frame

import (
	"fmt"
	"sync/atomic"

	"github.com/rjboer/gonrsc5/internal/l1"
	"github.com/rjboer/gonrsc5/internal/logging"
)

// Frame is a complete, positioned L1 frame.
type Frame struct {
	// SC holds the control word of each block, indexed by position.
	SC [l1.BlocksPerFrame]l1.SCWord
	// P1 holds the P1 soft values of all blocks in block order.
	P1 []float32
}

// Verify checks frame-level integrity: every control word must carry the
// sync pattern, a valid parity and clear reserved bits, and the block
// counts must run 0..15 in order.
func Verify(f *Frame) error {
	for i, w := range f.SC {
		if err := w.Validate(); err != nil {
			return fmt.Errorf("block %d: %w", i, err)
		}
		if bc := w.BlockCount(); bc != i {
			return fmt.Errorf("block %d: block count %d out of order", i, bc)
		}
	}
	if len(f.P1) != l1.P1CodedBits {
		return fmt.Errorf("p1 region has %d values, want %d", len(f.P1), l1.P1CodedBits)
	}
	return nil
}

// Handler receives assembled data. Slices are only valid for the duration
// of the call.
type Handler interface {
	// Block is called for every complete block with its control word and
	// all BlockBits soft values.
	Block(word l1.SCWord, soft []float32)
	// Frame is called for every frame that passed Verify.
	Frame(f *Frame)
}

// Stats are observational counters, safe to read concurrently.
type Stats struct {
	Blocks     atomic.Uint64
	Frames     atomic.Uint64
	Errors     atomic.Uint64
	Incomplete atomic.Uint64
}

// Assembler collects symbols into blocks and frames.
type Assembler struct {
	handler Handler
	logger  logging.Logger
	stats   *Stats

	block   []float32
	diff    uint32
	next    int
	inBlock bool

	frame   Frame
	started bool
	slot    int
}

// NewAssembler returns an assembler feeding h. stats may be nil.
func NewAssembler(h Handler, stats *Stats, logger logging.Logger) *Assembler {
	if stats == nil {
		stats = &Stats{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Assembler{
		handler: h,
		logger:  logger.With(logging.Field{Key: "component", Value: "frame"}),
		stats:   stats,
		block:   make([]float32, l1.BlockBits),
		frame:   Frame{P1: make([]float32, l1.P1CodedBits)},
	}
}

// Stats returns the counters.
func (a *Assembler) Stats() *Stats { return a.stats }

// Reset abandons any partial block and frame, for example after loss of
// lock.
func (a *Assembler) Reset() {
	a.abandon()
}

// Push adds one demodulated symbol.
func (a *Assembler) Push(sym *l1.Symbol) {
	if sym.Index < 0 {
		a.abandon()
		return
	}
	if sym.Index == 0 {
		a.inBlock = true
		a.next = 0
		a.diff = 0
	}
	if !a.inBlock || sym.Index != a.next {
		a.abandon()
		return
	}
	copy(a.block[sym.Index*l1.BitsPerSymbol:], sym.Soft)
	a.diff |= uint32(sym.RefBit) << sym.Index
	a.next++
	if a.next == l1.SymbolsPerBlock {
		a.inBlock = false
		a.finishBlock(l1.SCWordFromDiff(a.diff))
	}
}

func (a *Assembler) abandon() {
	a.inBlock = false
	if a.started {
		a.started = false
		a.stats.Incomplete.Add(1)
		a.logger.Debug("partial frame dropped", logging.Field{Key: "blocks", Value: a.slot})
	}
}

func (a *Assembler) finishBlock(word l1.SCWord) {
	a.stats.Blocks.Add(1)
	if a.handler != nil {
		a.handler.Block(word, a.block)
	}

	startsFrame := word.Validate() == nil && word.BlockCount() == 0
	if a.started && startsFrame && a.slot != 0 {
		a.frameError(fmt.Errorf("frame restarted after %d blocks", a.slot))
	}
	if !a.started {
		if !startsFrame {
			return
		}
		a.started = true
		a.slot = 0
	}

	a.frame.SC[a.slot] = word
	copy(a.frame.P1[a.slot*l1.P1BlockBits:], a.block[l1.PIDSCodedBits:])
	a.slot++
	if a.slot < l1.BlocksPerFrame {
		return
	}
	a.started = false
	if err := Verify(&a.frame); err != nil {
		a.frameError(err)
		return
	}
	a.stats.Frames.Add(1)
	if a.handler != nil {
		a.handler.Frame(&a.frame)
	}
}

func (a *Assembler) frameError(err error) {
	a.stats.Errors.Add(1)
	a.logger.Debug("frame integrity failure", logging.Field{Key: "error", Value: err})
	a.started = false
	a.slot = 0
}
