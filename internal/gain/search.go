package gain

import (
	"fmt"

	"github.com/rjboer/gonrsc5/internal/dsp"
	"github.com/rjboer/gonrsc5/internal/logging"
)

// DefaultRatio stops the search once the SNR falls below this fraction of
// the best value seen.
const DefaultRatio = 0.5

// Control is the slice of the SDR source the search needs. Gains are in
// tenths of a dB, as reported by the tuner.
type Control interface {
	SetGain(gain int) error
	ResetBuffer() error
}

// SearchConfig tunes the search policy.
type SearchConfig struct {
	// Ratio in (0, 1); zero or less selects DefaultRatio.
	Ratio float64
}

// Search is a greedy gain search over an ordered gain table. It steps
// through the table while the SNR keeps up, then commits to the best gain.
type Search struct {
	ctl     Control
	gains   []int
	ratio   float64
	logger  logging.Logger
	index   int
	best    int
	bestSNR float64
	count   int
	err     error
}

// NewSearch prepares a search; call Start to apply the first gain.
func NewSearch(ctl Control, gains []int, cfg SearchConfig, logger logging.Logger) *Search {
	if cfg.Ratio <= 0 {
		cfg.Ratio = DefaultRatio
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Search{
		ctl:    ctl,
		gains:  append([]int(nil), gains...),
		ratio:  cfg.Ratio,
		logger: logger.With(logging.Field{Key: "component", Value: "gain"}),
	}
}

// Start applies the first gain of the table. An empty table leaves the
// search inactive.
func (s *Search) Start() error {
	s.index, s.best, s.bestSNR = 0, 0, 0
	s.count = len(s.gains)
	if s.count == 0 {
		return nil
	}
	return s.apply(0)
}

// Active reports whether the search is still stepping.
func (s *Search) Active() bool { return s.count > 0 }

// Err returns the source error that aborted the search, if any.
func (s *Search) Err() error { return s.err }

// Gain returns the current gain and whether the table is non-empty.
func (s *Search) Gain() (int, bool) {
	if len(s.gains) == 0 {
		return 0, false
	}
	return s.gains[s.index], true
}

// BestSNR is the highest SNR observed so far.
func (s *Search) BestSNR() float64 { return s.bestSNR }

// OnSNR consumes one SNR estimate and returns whether the search continues.
func (s *Search) OnSNR(snr float64) bool {
	if s.count == 0 {
		return false
	}
	s.logger.Info("gain search step",
		logging.Field{Key: "gain_db", Value: float64(s.gains[s.index]) / 10},
		logging.Field{Key: "snr_db", Value: dsp.PowerDB(snr)},
	)
	if snr >= s.bestSNR {
		s.best = s.index
		s.bestSNR = snr
	}
	if s.index+1 >= len(s.gains) || snr < s.bestSNR*s.ratio {
		s.count = 0
		if s.best != s.index {
			if err := s.apply(s.best); err != nil {
				return false
			}
		}
		s.index = s.best
		s.logger.Info("gain search committed",
			logging.Field{Key: "gain_db", Value: float64(s.gains[s.best]) / 10},
			logging.Field{Key: "snr_db", Value: dsp.PowerDB(s.bestSNR)},
		)
		return false
	}
	if err := s.apply(s.index + 1); err != nil {
		return false
	}
	return true
}

func (s *Search) apply(i int) error {
	if err := s.ctl.SetGain(s.gains[i]); err != nil {
		return s.fail(fmt.Errorf("set gain %d: %w", s.gains[i], err))
	}
	s.index = i
	if err := s.ctl.ResetBuffer(); err != nil {
		return s.fail(fmt.Errorf("reset buffer: %w", err))
	}
	return nil
}

func (s *Search) fail(err error) error {
	s.err = err
	s.count = 0
	s.logger.Error("gain search aborted", logging.Field{Key: "error", Value: err})
	return err
}
