package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/klauspost/compress/zstd"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	"github.com/rjboer/gonrsc5/internal/app"
	"github.com/rjboer/gonrsc5/internal/config"
	"github.com/rjboer/gonrsc5/internal/decode"
	"github.com/rjboer/gonrsc5/internal/logging"
	"github.com/rjboer/gonrsc5/internal/mdns"
	"github.com/rjboer/gonrsc5/internal/output"
	"github.com/rjboer/gonrsc5/internal/sdr"
	"github.com/rjboer/gonrsc5/internal/telemetry"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.LookupEnv, os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, lookup func(string) (string, bool), stdout, stderr io.Writer) int {
	path := config.ConfigPath(args, lookup)
	file, err := config.LoadFile(path)
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}
	cfg, err := config.Parse(args, lookup, file)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "parse config: %v\n", err)
		return 2
	}
	if cfg.Version {
		fmt.Fprintf(stdout, "nrsc5 %s\n", version)
		return 0
	}
	if cfg.SaveConfig {
		if err := config.Save(cfg.ConfigPath, cfg.File); err != nil {
			fmt.Fprintf(stderr, "save config: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "configuration written to %s\n", cfg.ConfigPath)
		return 0
	}

	logger := cfg.Logger(stderr)
	logging.SetDefault(logger)
	if err := receive(ctx, cfg, logger); err != nil {
		logger.Error("receiver failed", logging.Field{Key: "error", Value: err})
		return 1
	}
	return 0
}

func receive(ctx context.Context, cfg config.Config, logger logging.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var closers []func()
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	var sinks output.Multi
	if cfg.Output.HDC != "" {
		hdc, err := output.CreateHDCFile(cfg.Output.HDC, logger)
		if err != nil {
			return err
		}
		closers = append(closers, func() { hdc.Close() })
		sinks = append(sinks, output.ProgramFilter{Program: cfg.Program, Next: hdc})
	}
	if cfg.Output.AASDir != "" {
		aas, err := output.NewAASDir(cfg.Output.AASDir, logger)
		if err != nil {
			return err
		}
		sinks = append(sinks, aas)
	}
	if cfg.MQTT.Broker != "" {
		m, err := output.NewMQTT(cfg.MQTT, logger)
		if err != nil {
			return err
		}
		closers = append(closers, m.Close)
		sinks = append(sinks, m)
	}

	// Only use web telemetry when requested, stdout status otherwise
	var reporters telemetry.MultiReporter
	reg := prometheus.NewRegistry()
	if cfg.Web.Addr != "" {
		hub := telemetry.NewHub(cfg.Web.HistoryLimit, logger)
		reporters = append(reporters, hub)
		sinks = append(sinks, output.Reporter{Recorder: hub})
		srv := telemetry.NewWebServer(cfg.Web.Addr, hub, reg, logger)
		go func() {
			if err := srv.Start(ctx); err != nil {
				logger.Error("web telemetry unavailable", logging.Field{Key: "error", Value: err})
			}
		}()
		if cfg.Web.Announce {
			shutdown, err := announce(cfg.Web.Addr, cfg.Frequency, cfg.Program)
			if err != nil {
				logger.Warn("mdns announce failed", logging.Field{Key: "error", Value: err})
			} else {
				closers = append(closers, shutdown)
			}
		}
	} else {
		reporters = append(reporters, telemetry.NewStdoutReporter(logger))
	}

	var sink decode.Sink
	if len(sinks) > 0 {
		async := output.NewAsync(sinks, cfg.Output.Queue, logger)
		done := make(chan struct{})
		go func() {
			defer close(done)
			async.Run(context.Background())
		}()
		closers = append(closers, func() {
			async.Close()
			<-done
			if n := async.Dropped(); n > 0 {
				logger.Warn("payloads dropped", logging.Field{Key: "count", Value: n})
			}
		})
		sink = async
	}

	var dump io.Writer
	if cfg.Output.DumpIQ != "" {
		w, err := createDump(cfg.Output.DumpIQ)
		if err != nil {
			return err
		}
		closers = append(closers, func() {
			if err := w.Close(); err != nil {
				logger.Error("close iq dump", logging.Field{Key: "error", Value: err})
			}
		})
		dump = w
	}

	src, err := sdr.New(cfg.Backend)
	if err != nil {
		return err
	}
	g, fixed := cfg.FixedGain()
	rx := app.NewReceiver(src, sink, reporters, logger, app.Config{
		Source:         cfg.SourceConfig(),
		Pipeline:       cfg.PipelineConfig(),
		Search:         cfg.SearchConfig(),
		Gain:           g,
		FixedGain:      fixed,
		Skip:           cfg.Receiver.Skip,
		Dump:           dump,
		StatusInterval: cfg.Web.StatusInterval,
	})
	if err := rx.Init(ctx); err != nil {
		return err
	}
	closers = append(closers, func() { rx.Close() })

	if err := telemetry.RegisterInput(reg, rx.Input().Stats(), rx.Gain); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	logger.Info("receiver running",
		logging.Field{Key: "backend", Value: cfg.Backend},
		logging.Field{Key: "frequency_hz", Value: cfg.Frequency},
		logging.Field{Key: "program", Value: cfg.Program},
	)
	return rx.Run(ctx)
}

type dumpFile struct {
	io.Writer
	closers []io.Closer
}

func (d dumpFile) Close() error {
	var errs []error
	for _, c := range d.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// createDump opens the raw IQ copy, zstd compressed for .zst paths.
func createDump(path string) (io.WriteCloser, error) {
	fh, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create iq dump: %w", err)
	}
	if !strings.HasSuffix(strings.ToLower(path), ".zst") {
		return fh, nil
	}
	enc, err := zstd.NewWriter(fh)
	if err != nil {
		fh.Close()
		return nil, fmt.Errorf("create iq dump: %w", err)
	}
	return dumpFile{Writer: enc, closers: []io.Closer{enc, fh}}, nil
}

func announce(addr string, frequency float64, program int) (func(), error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port in %q", addr)
	}
	host, _ := os.Hostname()
	txt := []string{
		"frequency=" + strconv.FormatFloat(frequency, 'f', 0, 64),
		"program=" + strconv.Itoa(program),
		"version=" + version,
	}
	return mdns.Announce("nrsc5 "+host, port, txt)
}
