package transmit

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/rjboer/gonrsc5/internal/fec"
	"github.com/rjboer/gonrsc5/internal/l1"
)

// Record is one P1 payload entry.
type Record struct {
	Type    uint8
	Program uint8
	Data    []byte
}

// ErrPayloadFull is returned when records do not fit a P1 payload.
var ErrPayloadFull = errors.New("records exceed P1 payload")

// PackP1 serializes records into a zero-padded P1 payload.
func PackP1(records []Record) ([]byte, error) {
	out := make([]byte, 0, l1.P1PayloadBytes)
	for _, r := range records {
		if r.Type == l1.RecordEnd {
			return nil, fmt.Errorf("record type %d is reserved", r.Type)
		}
		if len(r.Data) > 0xFFFF {
			return nil, fmt.Errorf("record of %d bytes too long", len(r.Data))
		}
		if len(out)+l1.RecordHeaderLen+len(r.Data) > l1.P1PayloadBytes {
			return nil, ErrPayloadFull
		}
		out = append(out, r.Type, r.Program)
		out = binary.BigEndian.AppendUint16(out, uint16(len(r.Data)))
		out = append(out, r.Data...)
	}
	return out[:l1.P1PayloadBytes], nil
}

var (
	p1Codec   = fec.MustCodec(fec.Layout{CodedBits: l1.P1CodedBits, MessageBytes: l1.P1MessageBytes, Rows: l1.P1Rows})
	pidsCodec = fec.MustCodec(fec.Layout{CodedBits: l1.PIDSCodedBits, MessageBytes: l1.PIDSMessageBytes, Rows: l1.PIDSRows})
)

// FrameBits encodes one L1 frame worth of logical channels into the coded
// bits of its sixteen blocks. pids may be shorter than BlocksPerFrame; each
// entry is zero-padded to PIDSPayloadBytes.
func FrameBits(p1 []byte, pids [][]byte) ([l1.BlocksPerFrame][]uint8, error) {
	var blocks [l1.BlocksPerFrame][]uint8
	if len(p1) != l1.P1PayloadBytes {
		return blocks, fmt.Errorf("p1 payload length %d, want %d", len(p1), l1.P1PayloadBytes)
	}
	msg := fec.AppendCRC32(append(make([]byte, 0, l1.P1MessageBytes), p1...))
	p1Bits, err := p1Codec.Encode(msg)
	if err != nil {
		return blocks, fmt.Errorf("encode p1: %w", err)
	}
	for b := range blocks {
		info := make([]byte, l1.PIDSPayloadBytes, l1.PIDSMessageBytes)
		if b < len(pids) {
			if len(pids[b]) > l1.PIDSPayloadBytes {
				return blocks, fmt.Errorf("pids block %d: %d bytes too long", b, len(pids[b]))
			}
			copy(info, pids[b])
		}
		pidsBits, err := pidsCodec.Encode(fec.AppendCRC16(info))
		if err != nil {
			return blocks, fmt.Errorf("encode pids: %w", err)
		}
		bits := make([]uint8, 0, l1.BlockBits)
		bits = append(bits, pidsBits...)
		bits = append(bits, p1Bits[b*l1.P1BlockBits:(b+1)*l1.P1BlockBits]...)
		blocks[b] = bits
	}
	return blocks, nil
}
