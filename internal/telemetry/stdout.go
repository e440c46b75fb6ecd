package telemetry

import (
	"github.com/rjboer/gonrsc5/internal/logging"
)

// Reporter captures periodic receiver status.
type Reporter interface {
	ReportStatus(s Status)
}

// StdoutReporter prints status updates through the logger.
type StdoutReporter struct {
	logger logging.Logger
}

// NewStdoutReporter builds a stdout reporter with the provided logger.
func NewStdoutReporter(logger logging.Logger) StdoutReporter {
	if logger == nil {
		logger = logging.Default()
	}
	return StdoutReporter{logger: logger}
}

func (r StdoutReporter) ReportStatus(s Status) {
	fields := []logging.Field{
		{Key: "subsystem", Value: "telemetry"},
		{Key: "lock_state", Value: s.LockState},
	}
	if s.Track != "" {
		fields = append(fields, logging.Field{Key: "track", Value: s.Track})
	}
	if s.FrequencyHz != 0 {
		fields = append(fields, logging.Field{Key: "offset_hz", Value: s.FrequencyHz})
	}
	if s.SNRDB != 0 {
		fields = append(fields, logging.Field{Key: "snr_db", Value: s.SNRDB})
	}
	fields = append(fields,
		logging.Field{Key: "frames", Value: s.Frames},
		logging.Field{Key: "frame_errors", Value: s.FrameErrors},
		logging.Field{Key: "pdus", Value: s.PDUs},
	)
	r.logger.Info("receiver status", fields...)
}

// MultiReporter fans out telemetry to multiple destinations.
type MultiReporter []Reporter

// ReportStatus forwards status to each configured reporter.
func (m MultiReporter) ReportStatus(s Status) {
	for _, r := range m {
		if r != nil {
			r.ReportStatus(s)
		}
	}
}

// UpdateSpectrum forwards the spectrum to reporters that keep one.
func (m MultiReporter) UpdateSpectrum(bins []float64) {
	for _, r := range m {
		if s, ok := r.(interface{ UpdateSpectrum([]float64) }); ok {
			s.UpdateSpectrum(bins)
		}
	}
}
