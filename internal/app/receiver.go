package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync/atomic"
	"time"

	"github.com/rjboer/gonrsc5/internal/decode"
	"github.com/rjboer/gonrsc5/internal/dsp"
	"github.com/rjboer/gonrsc5/internal/gain"
	"github.com/rjboer/gonrsc5/internal/input"
	"github.com/rjboer/gonrsc5/internal/l1"
	"github.com/rjboer/gonrsc5/internal/logging"
	"github.com/rjboer/gonrsc5/internal/sdr"
	"github.com/rjboer/gonrsc5/internal/telemetry"
)

// Config captures application level configuration.
type Config struct {
	Source   sdr.Config
	Pipeline input.Config
	Search   gain.SearchConfig
	// Gain is a manual tuner gain in tenths of a dB, used when FixedGain is
	// set. Otherwise the gain is searched when the source has a gain table.
	Gain      int
	FixedGain bool
	// Skip discards decimated samples before processing.
	Skip int
	// Dump receives a copy of every raw buffer.
	Dump           io.Writer
	StatusInterval time.Duration
}

// SpectrumSink receives the SNR estimator spectrum in dB while the gain
// search runs.
type SpectrumSink interface {
	UpdateSpectrum(bins []float64)
}

// Receiver wires an SDR source into the input pipeline.
type Receiver struct {
	src      sdr.Source
	sink     decode.Sink
	reporter telemetry.Reporter
	logger   logging.Logger
	cfg      Config

	in     *input.Input
	search *gain.Search
	gain   atomic.Int64

	lastReport time.Time
}

func NewReceiver(src sdr.Source, sink decode.Sink, reporter telemetry.Reporter, logger logging.Logger, cfg Config) *Receiver {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = time.Second
	}
	r := &Receiver{
		src:      src,
		sink:     sink,
		reporter: reporter,
		logger:   logger.With(logging.Field{Key: "component", Value: "receiver"}),
		cfg:      cfg,
	}
	r.gain.Store(-1)
	return r
}

// Init opens the source and prepares the pipeline and gain policy.
func (r *Receiver) Init(ctx context.Context) error {
	if err := r.src.Init(ctx, r.cfg.Source); err != nil {
		return fmt.Errorf("init SDR: %w", err)
	}

	r.in = input.New(r.sink, r.cfg.Pipeline, r.logger)
	r.in.SetSkip(r.cfg.Skip)
	if r.cfg.Dump != nil {
		r.in.SetDump(r.cfg.Dump)
	}

	ctl := gainControl{r}
	gains := r.src.Gains()
	switch {
	case r.cfg.FixedGain:
		if err := ctl.SetGain(r.cfg.Gain); err != nil {
			if !errors.Is(err, sdr.ErrUnsupported) {
				return fmt.Errorf("set gain: %w", err)
			}
			r.logger.Warn("source has no gain control, ignoring gain")
		}
	case len(gains) > 0:
		r.search = gain.NewSearch(ctl, gains, r.cfg.Search, r.logger)
		if err := r.search.Start(); err != nil {
			return fmt.Errorf("start gain search: %w", err)
		}
		r.in.SetSNRCallback(r.search.OnSNR)
		r.logger.Info("gain search started", logging.Field{Key: "steps", Value: len(gains)})
	}
	return nil
}

// Input exposes the pipeline, valid after Init.
func (r *Receiver) Input() *input.Input { return r.in }

// Gain returns the current tuner gain in dB, or NaN before any gain was
// applied.
func (r *Receiver) Gain() float64 {
	g := r.gain.Load()
	if g < 0 {
		return math.NaN()
	}
	return float64(g) / 10
}

// Run streams the source through the pipeline until the source ends, the
// context is canceled or an error occurs. A canceled context is not an
// error.
func (r *Receiver) Run(ctx context.Context) error {
	if r.in == nil {
		return errors.New("receiver not initialized")
	}
	push := r.in.PushCU8
	if r.src.Format() == sdr.CS16 {
		push = r.in.PushCS16
	}

	r.lastReport = time.Now()
	err := r.src.Stream(ctx, func(buf []byte) error {
		if err := push(buf); err != nil {
			return err
		}
		if r.search != nil {
			if err := r.search.Err(); err != nil {
				return err
			}
		}
		r.tick(time.Now())
		return nil
	})
	r.report()
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("stream: %w", err)
	}
	r.logger.Info("stream ended",
		logging.Field{Key: "samples", Value: r.in.Stats().Samples.Load()},
		logging.Field{Key: "frames", Value: r.in.Stats().Frame.Frames.Load()},
	)
	return nil
}

// Close releases the source.
func (r *Receiver) Close() error { return r.src.Close() }

func (r *Receiver) tick(now time.Time) {
	if now.Sub(r.lastReport) < r.cfg.StatusInterval {
		return
	}
	r.lastReport = now
	r.report()
}

// Status snapshots the pipeline. It must run on the streaming goroutine.
func (r *Receiver) Status() telemetry.Status {
	st := r.in.Stats()
	s := telemetry.Status{
		LockState:   r.in.LockState().String(),
		FrequencyHz: r.in.Frequency(),
		SNRDB:       dsp.PowerDB(st.SNR()),
		Frames:      st.Frame.Frames.Load(),
		FrameErrors: st.Frame.Errors.Load(),
		PDUs:        st.Decode.PDUs.Load(),
	}
	if g := r.Gain(); !math.IsNaN(g) {
		s.GainDB = g
	}
	if r.in.LockState() == l1.Locked {
		s.Track = r.in.Track().String()
	}
	return s
}

func (r *Receiver) report() {
	if r.reporter == nil {
		return
	}
	if sink, ok := r.reporter.(SpectrumSink); ok && r.in.Stats().Estimates.Load() > 0 {
		bins := r.in.Spectrum()
		db := make([]float64, len(bins))
		for i, p := range bins {
			db[i] = dsp.PowerDB(p)
		}
		sink.UpdateSpectrum(db)
	}
	r.reporter.ReportStatus(r.Status())
}

// gainControl remembers the applied gain for status reports.
type gainControl struct{ r *Receiver }

func (c gainControl) SetGain(g int) error {
	if err := c.r.src.SetGain(g); err != nil {
		return err
	}
	c.r.gain.Store(int64(g))
	return nil
}

func (c gainControl) ResetBuffer() error { return c.r.src.ResetBuffer() }
