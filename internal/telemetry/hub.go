package telemetry

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rjboer/gonrsc5/internal/logging"
)

// Config represents the runtime configuration exposed by the telemetry hub.
type Config struct {
	HistoryLimit     int `json:"historyLimit"`
	StatusIntervalMs int `json:"statusIntervalMs"`
}

const (
	minHistoryLimit   = 1
	maxHistoryLimit   = 10_000
	minStatusInterval = 100
	maxStatusInterval = 60_000
)

func defaultConfig() Config {
	return Config{
		HistoryLimit:     500,
		StatusIntervalMs: 1000,
	}
}

func validateConfig(cfg Config, base Config) (Config, error) {
	if base.HistoryLimit == 0 || base.StatusIntervalMs == 0 {
		base = defaultConfig()
	}

	if cfg.HistoryLimit == 0 {
		cfg.HistoryLimit = base.HistoryLimit
	}
	if cfg.StatusIntervalMs == 0 {
		cfg.StatusIntervalMs = base.StatusIntervalMs
	}

	if cfg.HistoryLimit < minHistoryLimit || cfg.HistoryLimit > maxHistoryLimit {
		return Config{}, fmt.Errorf("history limit must be between %d and %d", minHistoryLimit, maxHistoryLimit)
	}
	if cfg.StatusIntervalMs < minStatusInterval || cfg.StatusIntervalMs > maxStatusInterval {
		return Config{}, fmt.Errorf("status interval must be between %d and %d ms", minStatusInterval, maxStatusInterval)
	}
	return cfg, nil
}

// Status is a periodic snapshot of the receiver.
type Status struct {
	LockState   string  `json:"lockState"`
	Track       string  `json:"track,omitempty"`
	FrequencyHz float64 `json:"frequencyHz"`
	GainDB      float64 `json:"gainDb"`
	SNRDB       float64 `json:"snrDb"`
	Frames      uint64  `json:"frames"`
	FrameErrors uint64  `json:"frameErrors"`
	PDUs        uint64  `json:"pdus"`
}

// Event kinds.
const (
	KindStatus    = "status"
	KindPDU       = "pdu"
	KindAncillary = "ancillary"
)

// Event is one entry of the hub history.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	Program   int       `json:"program"`
	Size      int       `json:"size,omitempty"`
	Ancillary string    `json:"ancillary,omitempty"`
	Status    *Status   `json:"status,omitempty"`
}

// SpectrumSnapshot is the last SNR estimator spectrum in dB.
type SpectrumSnapshot struct {
	Timestamp time.Time `json:"timestamp"`
	Bins      []float64 `json:"bins"`
}

// Hub collects history and fan-outs telemetry updates to subscribers.
type Hub struct {
	mu           sync.RWMutex
	logger       logging.Logger
	history      []Event
	historyLimit int
	subscribers  map[chan Event]struct{}
	config       Config
	spectrum     SpectrumSnapshot
	status       Status
}

// NewHub builds a telemetry hub with the provided history limit.
func NewHub(historyLimit int, logger logging.Logger) *Hub {
	cfg := defaultConfig()
	if historyLimit > 0 {
		cfg.HistoryLimit = historyLimit
	}
	cfg, _ = validateConfig(cfg, defaultConfig())
	if logger == nil {
		logger = logging.Default()
	}
	return &Hub{
		logger:       logger.With(logging.Field{Key: "component", Value: "telemetry"}),
		historyLimit: cfg.HistoryLimit,
		subscribers:  make(map[chan Event]struct{}),
		config:       cfg,
	}
}

// Publish records an event and forwards it to subscribers without blocking.
func (h *Hub) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	h.mu.Lock()
	h.history = append(h.history, e)
	if len(h.history) > h.historyLimit {
		h.history = h.history[len(h.history)-h.historyLimit:]
	}
	for ch := range h.subscribers {
		select {
		case ch <- e:
		default:
		}
	}
	h.mu.Unlock()
}

// RecordPDU implements output.Recorder.
func (h *Hub) RecordPDU(program, size int) {
	h.Publish(Event{Kind: KindPDU, Program: program, Size: size})
}

// RecordAncillary implements output.Recorder.
func (h *Hub) RecordAncillary(kind string, size int) {
	h.Publish(Event{Kind: KindAncillary, Ancillary: kind, Size: size})
}

// ReportStatus implements Reporter.
func (h *Hub) ReportStatus(s Status) {
	h.mu.Lock()
	h.status = s
	h.mu.Unlock()
	h.Publish(Event{Kind: KindStatus, Status: &s})
}

// UpdateSpectrum stores the latest estimator spectrum.
func (h *Hub) UpdateSpectrum(bins []float64) {
	snap := SpectrumSnapshot{Timestamp: time.Now(), Bins: append([]float64(nil), bins...)}
	h.mu.Lock()
	h.spectrum = snap
	h.mu.Unlock()
}

// History returns a copy of stored events.
func (h *Hub) History() []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Event, len(h.history))
	copy(out, h.history)
	return out
}

// LastStatus returns the most recent status report.
func (h *Hub) LastStatus() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

// ConfigSnapshot returns the latest validated configuration.
func (h *Hub) ConfigSnapshot() Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config
}

// Subscribe registers a listener for live updates.
func (h *Hub) Subscribe() (chan Event, func()) {
	ch := make(chan Event, 64)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subscribers, ch)
			close(ch)
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

func (h *Hub) applyConfig(cfg Config) {
	h.config = cfg
	h.historyLimit = cfg.HistoryLimit
	if len(h.history) > h.historyLimit {
		h.history = h.history[len(h.history)-h.historyLimit:]
	}
}

func (h *Hub) handleHistory(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.History())
}

func (h *Hub) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.LastStatus())
}

func (h *Hub) handleSpectrum(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.mu.RLock()
	snap := h.spectrum
	h.mu.RUnlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snap)
}

func (h *Hub) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.ConfigSnapshot())
}

func (h *Hub) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var incoming Config
	if err := json.NewDecoder(r.Body).Decode(&incoming); err != nil {
		http.Error(w, fmt.Sprintf("invalid config payload: %v", err), http.StatusBadRequest)
		return
	}

	h.mu.RLock()
	current := h.config
	h.mu.RUnlock()

	cfg, err := validateConfig(incoming, current)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	h.applyConfig(cfg)
	h.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(cfg)
}

func (h *Hub) handleLive(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := h.Subscribe()
	defer cancel()

	// send existing history for immediate display
	for _, e := range h.History() {
		writeEvent(w, e)
	}
	flusher.Flush()

	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return
			}
			writeEvent(w, e)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, e Event) {
	payload, _ := json.Marshal(e)
	w.Write([]byte("data: "))
	w.Write(payload)
	w.Write([]byte("\n\n"))
}
