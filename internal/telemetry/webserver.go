package telemetry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rjboer/gonrsc5/internal/logging"
)

// WebServer exposes telemetry history, live updates and Prometheus metrics
// over HTTP.
type WebServer struct {
	srv    *http.Server
	hub    *Hub
	logger logging.Logger
}

// NewWebServer builds an HTTP server for hub. gatherer may be nil to omit
// the /metrics endpoint.
func NewWebServer(addr string, hub *Hub, gatherer prometheus.Gatherer, logger logging.Logger) *WebServer {
	if logger == nil {
		logger = logging.Default()
	}
	return &WebServer{
		hub:    hub,
		logger: logger,
		srv: &http.Server{
			Addr:              addr,
			Handler:           newMux(hub, gatherer),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

func newMux(hub *Hub, gatherer prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/history", hub.handleHistory)
	mux.HandleFunc("/api/status", hub.handleStatus)
	mux.HandleFunc("/api/live", hub.handleLive)
	mux.HandleFunc("/api/ws", hub.handleWS)
	mux.HandleFunc("/api/spectrum", hub.handleSpectrum)
	mux.HandleFunc("/api/config", hub.handleGetConfig)
	mux.HandleFunc("/api/config/update", hub.handleSetConfig)
	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Handler returns the server's request router.
func (w *WebServer) Handler() http.Handler { return w.srv.Handler }

// Start begins listening and shuts down when the context is canceled. It
// returns only a listen failure.
func (w *WebServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", w.srv.Addr)
	if err != nil {
		return err
	}
	w.logger.Info("web telemetry listening", logging.Field{Key: "addr", Value: ln.Addr().String()})

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := w.srv.Shutdown(shutdownCtx); err != nil {
			w.logger.Warn("web telemetry shutdown", logging.Field{Key: "error", Value: err})
		}
	}()

	if err := w.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		w.logger.Error("web telemetry server error", logging.Field{Key: "error", Value: err})
	}
	return nil
}
