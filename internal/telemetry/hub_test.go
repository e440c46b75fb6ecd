package telemetry

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rjboer/gonrsc5/internal/input"
	"github.com/rjboer/gonrsc5/internal/logging"
)

func newTestHub() *Hub {
	return NewHub(10, logging.New(logging.Debug, logging.Text, io.Discard))
}

func TestHistoryIsBounded(t *testing.T) {
	hub := NewHub(3, logging.Discard())
	for i := 0; i < 5; i++ {
		hub.RecordPDU(i, 100+i)
	}
	hist := hub.History()
	if len(hist) != 3 {
		t.Fatalf("expected 3 events, got %d", len(hist))
	}
	if hist[0].Program != 2 || hist[2].Program != 4 {
		t.Fatalf("expected the newest events to survive, got programs %d..%d", hist[0].Program, hist[2].Program)
	}
	if hist[2].Kind != KindPDU || hist[2].Size != 104 {
		t.Fatalf("unexpected event %+v", hist[2])
	}
}

func TestSubscribeReceivesEvents(t *testing.T) {
	hub := newTestHub()
	ch, cancel := hub.Subscribe()
	defer cancel()

	hub.RecordAncillary("pids", 8)
	select {
	case e := <-ch:
		if e.Kind != KindAncillary || e.Ancillary != "pids" || e.Size != 8 {
			t.Fatalf("unexpected event %+v", e)
		}
		if e.Timestamp.IsZero() {
			t.Fatal("expected timestamp to be set")
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}

	cancel()
	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed after cancel")
	}
	// publishing after cancel must not panic
	hub.RecordPDU(0, 1)
}

func TestReportStatusUpdatesLastStatus(t *testing.T) {
	hub := newTestHub()
	hub.ReportStatus(Status{LockState: "locked", Frames: 7})

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rr := httptest.NewRecorder()
	hub.handleStatus(rr, req)

	var got Status
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.LockState != "locked" || got.Frames != 7 {
		t.Fatalf("unexpected status %+v", got)
	}
	hist := hub.History()
	if len(hist) != 1 || hist[0].Status == nil {
		t.Fatalf("expected one status event, got %+v", hist)
	}
}

func TestHandleSpectrumSnapshot(t *testing.T) {
	hub := newTestHub()
	bins := []float64{1, 2, 3, 4}
	hub.UpdateSpectrum(bins)
	bins[0] = 99

	req := httptest.NewRequest(http.MethodGet, "/api/spectrum", nil)
	rr := httptest.NewRecorder()
	hub.handleSpectrum(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp SpectrumSnapshot
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Bins) != 4 || resp.Bins[0] != 1 {
		t.Fatalf("unexpected bins %v", resp.Bins)
	}
}

func TestHandleSpectrumMethodNotAllowed(t *testing.T) {
	hub := newTestHub()
	req := httptest.NewRequest(http.MethodPost, "/api/spectrum", nil)
	rr := httptest.NewRecorder()

	hub.handleSpectrum(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestHandleSetConfig(t *testing.T) {
	hub := newTestHub()
	for i := 0; i < 8; i++ {
		hub.RecordPDU(0, i)
	}

	body := bytes.NewBufferString(`{"historyLimit":4}`)
	req := httptest.NewRequest(http.MethodPost, "/api/config/update", body)
	rr := httptest.NewRecorder()
	hub.handleSetConfig(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	cfg := hub.ConfigSnapshot()
	if cfg.HistoryLimit != 4 {
		t.Fatalf("expected history limit 4, got %d", cfg.HistoryLimit)
	}
	if cfg.StatusIntervalMs != 1000 {
		t.Fatalf("expected status interval to keep its value, got %d", cfg.StatusIntervalMs)
	}
	if n := len(hub.History()); n != 4 {
		t.Fatalf("expected history trimmed to 4, got %d", n)
	}
}

func TestHandleSetConfigRejectsInvalid(t *testing.T) {
	hub := newTestHub()
	cases := map[string]string{
		"bad json":      `{"historyLimit":`,
		"history":       `{"historyLimit":20000}`,
		"interval":      `{"statusIntervalMs":5}`,
		"negative hist": `{"historyLimit":-1}`,
	}
	for name, payload := range cases {
		req := httptest.NewRequest(http.MethodPost, "/api/config/update", strings.NewReader(payload))
		rr := httptest.NewRecorder()
		hub.handleSetConfig(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", name, rr.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/config/update", nil)
	rr := httptest.NewRecorder()
	hub.handleSetConfig(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestLiveStreamsHistoryAndUpdates(t *testing.T) {
	hub := newTestHub()
	hub.RecordPDU(1, 10)

	srv := httptest.NewServer(http.HandlerFunc(hub.handleLive))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	next := func() Event {
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				t.Fatalf("read stream: %v", err)
			}
			if data, ok := strings.CutPrefix(strings.TrimSpace(line), "data: "); ok {
				var e Event
				if err := json.Unmarshal([]byte(data), &e); err != nil {
					t.Fatalf("decode event: %v", err)
				}
				return e
			}
		}
	}

	if e := next(); e.Program != 1 {
		t.Fatalf("expected history event first, got %+v", e)
	}
	hub.RecordAncillary("aas", 3)
	if e := next(); e.Kind != KindAncillary || e.Ancillary != "aas" {
		t.Fatalf("expected live event, got %+v", e)
	}
}

func TestWebSocketStreamsEvents(t *testing.T) {
	hub := newTestHub()
	hub.RecordPDU(2, 20)

	srv := httptest.NewServer(http.HandlerFunc(hub.handleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var e Event
	if err := conn.ReadJSON(&e); err != nil {
		t.Fatalf("read history: %v", err)
	}
	if e.Program != 2 || e.Size != 20 {
		t.Fatalf("unexpected history event %+v", e)
	}

	hub.ReportStatus(Status{LockState: "acquiring"})
	if err := conn.ReadJSON(&e); err != nil {
		t.Fatalf("read live: %v", err)
	}
	if e.Kind != KindStatus || e.Status == nil || e.Status.LockState != "acquiring" {
		t.Fatalf("unexpected live event %+v", e)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	var st input.Stats
	st.Samples.Add(4096)
	st.Frame.Frames.Add(3)
	st.Decode.PDUs.Add(12)

	reg := prometheus.NewRegistry()
	if err := RegisterInput(reg, &st, func() float64 { return 19.7 }); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := RegisterInput(reg, &st, nil); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}

	want := map[string]float64{
		"nrsc5_input_samples_total": 4096,
		"nrsc5_frames_total":        3,
		"nrsc5_pdus_total":          12,
		"nrsc5_tuner_gain_db":       19.7,
		"nrsc5_lock_state":          0,
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		v, ok := want[mf.GetName()]
		if !ok {
			continue
		}
		m := mf.GetMetric()[0]
		got := m.GetCounter().GetValue() + m.GetGauge().GetValue()
		if got != v {
			t.Fatalf("%s: expected %v, got %v", mf.GetName(), v, got)
		}
		delete(want, mf.GetName())
	}
	if len(want) != 0 {
		t.Fatalf("metrics not exported: %v", want)
	}

	srv := httptest.NewServer(newMux(newTestHub(), reg))
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "nrsc5_pdus_total 12") {
		t.Fatalf("metrics body missing pdus counter:\n%s", body)
	}
	if !strings.Contains(string(body), "# HELP nrsc5_frame_errors_total Frames that failed integrity checks.") {
		t.Fatalf("metrics body missing frame error help:\n%s", body)
	}
}

// plainWriter is a ResponseWriter without http.Flusher.
type plainWriter struct {
	header http.Header
	code   int
	body   bytes.Buffer
}

func (w *plainWriter) Header() http.Header         { return w.header }
func (w *plainWriter) Write(b []byte) (int, error) { return w.body.Write(b) }
func (w *plainWriter) WriteHeader(code int)        { w.code = code }

func TestLiveRequiresFlusher(t *testing.T) {
	w := &plainWriter{header: http.Header{}}
	newTestHub().handleLive(w, httptest.NewRequest(http.MethodGet, "/api/live", nil))
	if w.code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", w.code)
	}
	if !strings.Contains(w.body.String(), "streaming unsupported") {
		t.Fatalf("unexpected body %q", w.body.String())
	}
}

func TestStdoutReporterLogsStatus(t *testing.T) {
	var buf bytes.Buffer
	r := MultiReporter{NewStdoutReporter(logging.New(logging.Info, logging.Text, &buf)), nil}
	r.ReportStatus(Status{LockState: "locked", Track: "stable", FrequencyHz: 120.5, PDUs: 9})

	out := buf.String()
	for _, want := range []string{"receiver status", "lock_state=locked", "track=stable", "pdus=9"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in %q", want, out)
		}
	}
}
