package telemetry

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rjboer/gonrsc5/internal/dsp"
	"github.com/rjboer/gonrsc5/internal/input"
)

const namespace = "nrsc5"

// RegisterInput exposes the pipeline counters of st on reg. gain, when not
// nil, reports the current tuner gain in dB.
func RegisterInput(reg prometheus.Registerer, st *input.Stats, gain func() float64) error {
	counter := func(name, help string, fn func() float64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, fn)
	}
	gauge := func(name, help string, fn func() float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help}, fn)
	}

	collectors := []prometheus.Collector{
		counter("input_samples_total", "Raw IQ samples received.", func() float64 { return float64(st.Samples.Load()) }),
		counter("input_skipped_samples_total", "Decimated samples discarded at startup.", func() float64 { return float64(st.Skipped.Load()) }),
		counter("symbols_total", "OFDM symbols demodulated.", func() float64 { return float64(st.Symbols.Load()) }),
		counter("locks_total", "Successful acquisitions.", func() float64 { return float64(st.Locks.Load()) }),
		counter("lock_losses_total", "Times tracking lost the signal.", func() float64 { return float64(st.LockLosses.Load()) }),
		counter("snr_estimates_total", "SNR estimates produced during gain search.", func() float64 { return float64(st.Estimates.Load()) }),
		counter("blocks_total", "L1 blocks assembled.", func() float64 { return float64(st.Frame.Blocks.Load()) }),
		counter("frames_total", "Complete L1 frames handed to the decoder.", func() float64 { return float64(st.Frame.Frames.Load()) }),
		counter("frame_errors_total", "Frames that failed integrity checks.", func() float64 { return float64(st.Frame.Errors.Load()) }),
		counter("pids_decoded_total", "PIDS codewords that passed CRC.", func() float64 { return float64(st.Decode.PIDSDecoded.Load()) }),
		counter("pids_failed_total", "PIDS codewords that failed CRC.", func() float64 { return float64(st.Decode.PIDSFailed.Load()) }),
		counter("p1_decoded_total", "P1 codewords that passed CRC.", func() float64 { return float64(st.Decode.P1Decoded.Load()) }),
		counter("p1_failed_total", "P1 codewords that failed CRC.", func() float64 { return float64(st.Decode.P1Failed.Load()) }),
		counter("pdus_total", "Audio PDUs dispatched.", func() float64 { return float64(st.Decode.PDUs.Load()) }),
		counter("record_errors_total", "Malformed or unknown P1 records.", func() float64 { return float64(st.Decode.RecordErrors.Load()) }),
		gauge("lock_state", "Lock state: 0 unlocked, 1 acquiring, 2 locked.", func() float64 { return float64(st.State()) }),
		gauge("snr_db", "Last gain search SNR estimate in dB.", func() float64 { return dsp.PowerDB(st.SNR()) }),
	}
	if gain != nil {
		collectors = append(collectors, gauge("tuner_gain_db", "Current tuner gain in dB.", gain))
	}

	var errs []error
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
