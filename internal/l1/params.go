// Package l1 holds the layer 1 waveform definition shared by the receiver
// and the reference transmitter: OFDM numerology, subcarrier maps, the
// block system-control word and the logical channel layout.
package l1

const (
	// InputRate is the complex sample rate delivered by the SDR.
	InputRate = 1488375.0
	// SampleRate is the rate after decimation by two.
	SampleRate = InputRate / 2

	FFTSize    = 2048
	CPLen      = 112
	SymbolLen  = FFTSize + CPLen
	WindowSkip = CPLen / 2

	// SubcarrierSpacing in Hz.
	SubcarrierSpacing = SampleRate / FFTSize

	InnerSubcarrier = 356
	OuterSubcarrier = 546
	RefSpacing      = 19
	RefsPerSideband = (OuterSubcarrier-InnerSubcarrier)/RefSpacing + 1

	NumRefs         = 2 * RefsPerSideband
	DataPerSide     = OuterSubcarrier - InnerSubcarrier + 1 - RefsPerSideband
	NumData         = 2 * DataPerSide
	BitsPerSymbol   = 2 * NumData
	SymbolsPerBlock = 32
	BlocksPerFrame  = 16
	SymbolsPerFrame = SymbolsPerBlock * BlocksPerFrame
	BlockBits       = SymbolsPerBlock * BitsPerSymbol
)

// RefSubcarriers lists the reference subcarrier indices in ascending
// frequency order.
var RefSubcarriers = buildRefs()

// DataSubcarriers lists the data subcarrier indices in the order their bit
// pairs appear in a symbol: lower sideband first, ascending frequency.
var DataSubcarriers = buildData()

func isRef(k int) bool {
	if k < 0 {
		k = -k
	}
	return k >= InnerSubcarrier && k <= OuterSubcarrier && (k-InnerSubcarrier)%RefSpacing == 0
}

func buildRefs() []int {
	refs := make([]int, 0, NumRefs)
	for k := -OuterSubcarrier; k <= OuterSubcarrier; k++ {
		if isRef(k) {
			refs = append(refs, k)
		}
	}
	return refs
}

func buildData() []int {
	data := make([]int, 0, NumData)
	for k := -OuterSubcarrier; k <= -InnerSubcarrier; k++ {
		if !isRef(k) {
			data = append(data, k)
		}
	}
	for k := InnerSubcarrier; k <= OuterSubcarrier; k++ {
		if !isRef(k) {
			data = append(data, k)
		}
	}
	return data
}
