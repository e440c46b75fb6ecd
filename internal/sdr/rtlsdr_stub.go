//go:build !rtlsdr

package sdr

import (
	"context"
	"errors"
)

// ErrNoRTLSDR is returned when the binary was built without librtlsdr.
var ErrNoRTLSDR = errors.New("rtl-sdr support not compiled in (build with -tags rtlsdr)")

// RTLSDR is unavailable in this build; use the rtltcp backend instead.
type RTLSDR struct{}

func NewRTLSDR() *RTLSDR { return &RTLSDR{} }

func (*RTLSDR) Init(context.Context, Config) error    { return ErrNoRTLSDR }
func (*RTLSDR) Format() Format                        { return CU8 }
func (*RTLSDR) Gains() []int                          { return nil }
func (*RTLSDR) SetGain(int) error                     { return ErrNoRTLSDR }
func (*RTLSDR) ResetBuffer() error                    { return ErrNoRTLSDR }
func (*RTLSDR) Stream(context.Context, Handler) error { return ErrNoRTLSDR }
func (*RTLSDR) Close() error                          { return nil }
