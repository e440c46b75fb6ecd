package l1

// LockState is the receiver-wide synchronization state.
type LockState int

const (
	Unlocked LockState = iota
	Acquiring
	Locked
)

func (s LockState) String() string {
	switch s {
	case Unlocked:
		return "unlocked"
	case Acquiring:
		return "acquiring"
	case Locked:
		return "locked"
	default:
		return "unknown"
	}
}

// TrackState is the tracking quality while locked.
type TrackState int

const (
	TrackStable TrackState = iota
	TrackDegraded
	TrackLost
)

func (s TrackState) String() string {
	switch s {
	case TrackStable:
		return "stable"
	case TrackDegraded:
		return "degraded"
	case TrackLost:
		return "lost"
	default:
		return "unknown"
	}
}

// Symbol is one demodulated OFDM symbol.
type Symbol struct {
	// Index is the position within the block, or -1 before block alignment.
	Index int
	// RefBit is the differential system-control bit.
	RefBit uint8
	// Quality is the reference coherence in [0, 1].
	Quality float64
	// Soft holds BitsPerSymbol soft decisions; positive means 0, negative
	// means 1 and zero is an erasure. It is reused between symbols.
	Soft []float32
}
