package l1

// Logical channel layout. PIDS occupies the first coded bits of every block
// and is decoded per block; P1 takes the rest of each block and is decoded
// once per frame.
const (
	PIDSCodedBits    = 240
	PIDSMessageBytes = 10
	PIDSPayloadBytes = PIDSMessageBytes - 2
	PIDSRows         = 12

	P1BlockBits    = BlockBits - PIDSCodedBits
	P1CodedBits    = P1BlockBits * BlocksPerFrame
	P1MessageBytes = 18239
	P1PayloadBytes = P1MessageBytes - 4
	P1Rows         = 480
)

// P1 payload record types.
const (
	RecordEnd   = 0
	RecordAudio = 1
	RecordAAS   = 2
)

// RecordHeaderLen is the size of the type, program and length fields.
const RecordHeaderLen = 4
