// Package decode recovers logical channel payloads from assembled L1 data
// and dispatches validated PDUs and ancillary payloads to a sink.
package decode

import (
	"encoding/binary"
	"errors"
	"sync/atomic"

	"github.com/rjboer/gonrsc5/internal/fec"
	"github.com/rjboer/gonrsc5/internal/frame"
	"github.com/rjboer/gonrsc5/internal/l1"
	"github.com/rjboer/gonrsc5/internal/logging"
)

// AncillaryKind tags non-audio payloads.
type AncillaryKind int

const (
	// PIDS is the per-block station information service.
	PIDS AncillaryKind = iota
	// AAS is advanced application data carried in P1.
	AAS
)

func (k AncillaryKind) String() string {
	switch k {
	case PIDS:
		return "pids"
	case AAS:
		return "aas"
	default:
		return "unknown"
	}
}

// Sink consumes decoded payloads. The decoder hands over ownership of data
// and keeps no reference to it.
type Sink interface {
	PushPDU(program int, data []byte)
	PushAncillary(kind AncillaryKind, data []byte)
}

// Stats are observational counters, safe to read concurrently.
type Stats struct {
	PIDSDecoded  atomic.Uint64
	PIDSFailed   atomic.Uint64
	P1Decoded    atomic.Uint64
	P1Failed     atomic.Uint64
	PDUs         atomic.Uint64
	Ancillary    atomic.Uint64
	RecordErrors atomic.Uint64
}

// ErrTruncatedRecord is returned when a record length runs past the payload.
var ErrTruncatedRecord = errors.New("truncated payload record")

// Decoder owns the channel codecs and their scratch buffers.
type Decoder struct {
	sink    Sink
	stats   *Stats
	logger  logging.Logger
	p1      *fec.Codec
	pids    *fec.Codec
	p1Msg   []byte
	pidsMsg []byte

	// failures counts CRC failures since the last passing codeword.
	failures int
}

var (
	p1Layout   = fec.Layout{CodedBits: l1.P1CodedBits, MessageBytes: l1.P1MessageBytes, Rows: l1.P1Rows}
	pidsLayout = fec.Layout{CodedBits: l1.PIDSCodedBits, MessageBytes: l1.PIDSMessageBytes, Rows: l1.PIDSRows}
)

// New returns a decoder dispatching to sink. stats may be nil.
func New(sink Sink, stats *Stats, logger logging.Logger) *Decoder {
	if stats == nil {
		stats = &Stats{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Decoder{
		sink:    sink,
		stats:   stats,
		logger:  logger.With(logging.Field{Key: "component", Value: "decode"}),
		p1:      fec.MustCodec(p1Layout),
		pids:    fec.MustCodec(pidsLayout),
		p1Msg:   make([]byte, l1.P1MessageBytes),
		pidsMsg: make([]byte, l1.PIDSMessageBytes),
	}
}

// Stats returns the counters.
func (d *Decoder) Stats() *Stats { return d.stats }

// Failures returns the number of consecutive PIDS and P1 CRC failures.
func (d *Decoder) Failures() int { return d.failures }

// ResetFailures clears the consecutive failure count.
func (d *Decoder) ResetFailures() { d.failures = 0 }

// Block decodes the PIDS channel at the head of every block.
func (d *Decoder) Block(_ l1.SCWord, soft []float32) {
	d.DecodePIDS(soft[:l1.PIDSCodedBits])
}

// Frame decodes the P1 channel of a verified frame.
func (d *Decoder) Frame(f *frame.Frame) {
	d.DecodeP1(f.P1)
}

// DecodePIDS decodes one PIDS codeword and reports whether it passed CRC.
func (d *Decoder) DecodePIDS(soft []float32) bool {
	d.pids.Decode(soft, d.pidsMsg)
	if !fec.CheckCRC16(d.pidsMsg) {
		d.stats.PIDSFailed.Add(1)
		d.failures++
		return false
	}
	d.failures = 0
	d.stats.PIDSDecoded.Add(1)
	d.ancillary(PIDS, d.pidsMsg[:l1.PIDSPayloadBytes])
	return true
}

// DecodeP1 decodes one P1 codeword, dispatches its records and reports
// whether it passed CRC.
func (d *Decoder) DecodeP1(soft []float32) bool {
	d.p1.Decode(soft, d.p1Msg)
	if !fec.CheckCRC32(d.p1Msg) {
		d.stats.P1Failed.Add(1)
		d.failures++
		d.logger.Debug("p1 crc mismatch")
		return false
	}
	d.failures = 0
	d.stats.P1Decoded.Add(1)
	err := ParseRecords(d.p1Msg[:l1.P1PayloadBytes], func(typ, program uint8, data []byte) {
		switch typ {
		case l1.RecordAudio:
			d.stats.PDUs.Add(1)
			if d.sink != nil {
				d.sink.PushPDU(int(program), clone(data))
			}
		case l1.RecordAAS:
			d.ancillary(AAS, data)
		default:
			d.stats.RecordErrors.Add(1)
		}
	})
	if err != nil {
		d.stats.RecordErrors.Add(1)
		d.logger.Debug("p1 payload parse failed", logging.Field{Key: "error", Value: err})
	}
	return true
}

func (d *Decoder) ancillary(kind AncillaryKind, data []byte) {
	d.stats.Ancillary.Add(1)
	if d.sink != nil {
		d.sink.PushAncillary(kind, clone(data))
	}
}

// ParseRecords walks the records of a P1 payload until an end record or the
// end of the payload.
func ParseRecords(payload []byte, fn func(typ, program uint8, data []byte)) error {
	for len(payload) >= l1.RecordHeaderLen {
		typ := payload[0]
		if typ == l1.RecordEnd {
			return nil
		}
		n := int(binary.BigEndian.Uint16(payload[2:4]))
		if l1.RecordHeaderLen+n > len(payload) {
			return ErrTruncatedRecord
		}
		fn(typ, payload[1], payload[l1.RecordHeaderLen:l1.RecordHeaderLen+n])
		payload = payload[l1.RecordHeaderLen+n:]
	}
	return nil
}

func clone(b []byte) []byte {
	return append(make([]byte, 0, len(b)), b...)
}
