// Command nrsc5-synth writes a synthetic IQ capture of the mock station for
// replay with nrsc5 -r.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/spf13/pflag"

	"github.com/rjboer/gonrsc5/internal/dsp"
	"github.com/rjboer/gonrsc5/internal/l1"
	"github.com/rjboer/gonrsc5/internal/logging"
	"github.com/rjboer/gonrsc5/internal/sdr"
)

type options struct {
	output   string
	format   string
	frames   int
	offset   float64
	noise    float64
	seed     int64
	programs int
	gain     float64
}

func main() {
	logger := logging.New(logging.Info, logging.Text, os.Stderr)
	opts, err := parseOptions(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		logger.Error("invalid arguments", logging.Field{Key: "error", Value: err})
		os.Exit(2)
	}
	n, err := synthesize(context.Background(), opts)
	if err != nil {
		logger.Error("synthesis failed", logging.Field{Key: "error", Value: err})
		os.Exit(1)
	}
	logger.Info("capture written",
		logging.Field{Key: "path", Value: opts.output},
		logging.Field{Key: "bytes", Value: n},
	)
}

func parseOptions(args []string) (options, error) {
	var o options
	fs := pflag.NewFlagSet("nrsc5-synth", pflag.ContinueOnError)
	fs.StringVarP(&o.output, "output", "o", "", "Capture file (- for stdout, .zst compresses)")
	fs.StringVarP(&o.format, "format", "f", "", "Sample format (cu8|cs16), default from the file extension")
	fs.IntVarP(&o.frames, "frames", "n", 4, "Number of L1 frames")
	fs.Float64Var(&o.offset, "offset", 0, "Carrier offset in Hz")
	fs.Float64Var(&o.noise, "noise", 0.002, "Noise level as a fraction of full scale")
	fs.Int64Var(&o.seed, "seed", 1, "Noise seed")
	fs.IntVar(&o.programs, "programs", 1, "Audio programs per frame")
	fs.Float64VarP(&o.gain, "gain", "g", 20, "Simulated tuner gain in dB")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if o.output == "" {
		return options{}, errors.New("missing --output")
	}
	if o.frames <= 0 {
		return options{}, fmt.Errorf("frames must be positive, got %d", o.frames)
	}
	if o.format == "" {
		name := strings.TrimSuffix(strings.ToLower(o.output), ".zst")
		switch filepath.Ext(name) {
		case ".cs16", ".s16":
			o.format = "cs16"
		default:
			o.format = "cu8"
		}
	}
	if _, err := sdr.ParseFormat(o.format); err != nil {
		return options{}, err
	}
	return o, nil
}

// synthesize streams the mock source into the capture file and returns the
// number of sample bytes written.
func synthesize(ctx context.Context, o options) (int64, error) {
	format, err := sdr.ParseFormat(o.format)
	if err != nil {
		return 0, err
	}
	w, err := create(o.output)
	if err != nil {
		return 0, err
	}

	src := sdr.NewMock()
	if err := src.Init(ctx, sdr.Config{Mock: sdr.MockConfig{
		FrequencyOffset: o.offset,
		Noise:           o.noise,
		Seed:            o.seed,
		Programs:        o.programs,
		Blocks:          o.frames * l1.BlocksPerFrame,
	}}); err != nil {
		w.Close()
		return 0, err
	}
	if err := src.SetGain(int(o.gain * 10)); err != nil {
		w.Close()
		return 0, err
	}

	var (
		written int64
		samples []dsp.CInt16
		out     []byte
	)
	err = src.Stream(ctx, func(buf []byte) error {
		if format == sdr.CU8 {
			if cap(samples) < len(buf)/4 {
				samples = make([]dsp.CInt16, len(buf)/4)
			}
			n := dsp.CS16ToCInt16(samples[:len(buf)/4], buf)
			out = dsp.AppendCU8(out[:0], samples[:n])
			buf = out
		}
		n, err := w.Write(buf)
		written += int64(n)
		return err
	})
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	return written, err
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

type zstdFile struct {
	*zstd.Encoder
	fh *os.File
}

func (z zstdFile) Close() error {
	return errors.Join(z.Encoder.Close(), z.fh.Close())
}

func create(path string) (io.WriteCloser, error) {
	if path == "-" {
		return nopCloser{os.Stdout}, nil
	}
	fh, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(strings.ToLower(path), ".zst") {
		return fh, nil
	}
	enc, err := zstd.NewWriter(fh)
	if err != nil {
		fh.Close()
		return nil, err
	}
	return zstdFile{Encoder: enc, fh: fh}, nil
}
