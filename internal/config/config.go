// Package config loads receiver settings from a YAML file, NRSC5_*
// environment variables and command line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/rjboer/gonrsc5/internal/acquire"
	"github.com/rjboer/gonrsc5/internal/demod"
	"github.com/rjboer/gonrsc5/internal/gain"
	"github.com/rjboer/gonrsc5/internal/input"
	"github.com/rjboer/gonrsc5/internal/l1"
	"github.com/rjboer/gonrsc5/internal/logging"
	"github.com/rjboer/gonrsc5/internal/output"
	"github.com/rjboer/gonrsc5/internal/sdr"
)

// DefaultPath is the config file read when no --config is given.
const DefaultPath = "nrsc5.yaml"

// GainAuto selects the automatic gain search.
const GainAuto = "auto"

// File is the persistent part of the configuration.
type File struct {
	Backend     string            `yaml:"backend"`
	DeviceIndex int               `yaml:"device_index"`
	PPM         int               `yaml:"ppm"`
	Gain        string            `yaml:"gain"`
	Address     string            `yaml:"address,omitempty"`
	FileFormat  string            `yaml:"file_format,omitempty"`
	BufferSize  int               `yaml:"buffer_size"`
	SSH         SSH               `yaml:"ssh"`
	Mock        Mock              `yaml:"mock"`
	Receiver    Receiver          `yaml:"receiver"`
	Output      Output            `yaml:"output"`
	MQTT        output.MQTTConfig `yaml:"mqtt"`
	Web         Web               `yaml:"web"`
	Log         Log               `yaml:"log"`
}

type SSH struct {
	Host     string `yaml:"host,omitempty"`
	User     string `yaml:"user,omitempty"`
	Password string `yaml:"password,omitempty"`
	KeyPath  string `yaml:"key_path,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	Command  string `yaml:"command,omitempty"`
}

type Mock struct {
	FrequencyOffset float64 `yaml:"frequency_offset"`
	Noise           float64 `yaml:"noise"`
	Seed            int64   `yaml:"seed"`
	Programs        int     `yaml:"programs"`
	Blocks          int     `yaml:"blocks"`
	Realtime        bool    `yaml:"realtime"`
}

// Receiver holds the pipeline tuning knobs.
type Receiver struct {
	Skip              int     `yaml:"skip"`
	SNRAverage        int     `yaml:"snr_average"`
	SearchRatio       float64 `yaml:"search_ratio"`
	AcquireThreshold  float64 `yaml:"acquire_threshold"`
	RefThreshold      float64 `yaml:"ref_threshold"`
	MaxBinOffset      int     `yaml:"max_bin_offset"`
	DegradeThreshold  float64 `yaml:"degrade_threshold"`
	LossThreshold     float64 `yaml:"loss_threshold"`
	LossSymbols       int     `yaml:"loss_symbols"`
	MaxDecodeFailures int     `yaml:"max_decode_failures"`
}

type Output struct {
	HDC    string `yaml:"hdc,omitempty"`
	Format string `yaml:"format"`
	AASDir string `yaml:"aas_dir,omitempty"`
	DumpIQ string `yaml:"dump_iq,omitempty"`
	Queue  int    `yaml:"queue"`
}

type Web struct {
	Addr           string        `yaml:"addr,omitempty"`
	HistoryLimit   int           `yaml:"history_limit"`
	StatusInterval time.Duration `yaml:"status_interval"`
	Announce       bool          `yaml:"announce"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Quiet  bool   `yaml:"quiet"`
}

// Defaults returns the built-in configuration.
func Defaults() File {
	return File{
		Backend:    "rtlsdr",
		Gain:       GainAuto,
		BufferSize: 1 << 16,
		Mock: Mock{
			Noise:    0.002,
			Seed:     1,
			Programs: 1,
		},
		Receiver: Receiver{
			SNRAverage:        256,
			SearchRatio:       gain.DefaultRatio,
			AcquireThreshold:  0.3,
			RefThreshold:      0.5,
			MaxBinOffset:      acquire.DefaultMaxBinOffset,
			DegradeThreshold:  0.6,
			LossThreshold:     0.3,
			LossSymbols:       8,
			MaxDecodeFailures: input.DefaultMaxDecodeFailures,
		},
		Output: Output{
			Format: "hdc",
			Queue:  256,
		},
		MQTT: output.MQTTConfig{
			TopicPrefix: "nrsc5",
		},
		Web: Web{
			HistoryLimit:   500,
			StatusInterval: time.Second,
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
}

// Config is the resolved configuration of one run.
type Config struct {
	File

	// Frequency is the centre frequency in Hz, zero when replaying a file.
	Frequency float64
	Program   int
	// InputPath replays a capture instead of opening a radio.
	InputPath  string
	ConfigPath string
	SaveConfig bool
	Version    bool
}

// LoadFile reads a YAML config on top of Defaults. A missing file is not an
// error.
func LoadFile(path string) (File, error) {
	cfg := Defaults()
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return File{}, err
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return File{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg as YAML.
func Save(path string, cfg File) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// ConfigPath returns the config file named by --config/-c or NRSC5_CONFIG,
// falling back to DefaultPath. It ignores every other flag.
func ConfigPath(args []string, lookup func(string) (string, bool)) string {
	fs := pflag.NewFlagSet("nrsc5", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.SetOutput(io.Discard)
	fs.Usage = func() {}
	path := fs.StringP("config", "c", envString(lookup, "NRSC5_CONFIG", DefaultPath), "")
	_ = fs.Parse(args)
	return *path
}

// Parse resolves flags and positional arguments over defaults, which already
// carry the config file. Environment variables override the file, flags
// override both.
func Parse(args []string, lookup func(string) (string, bool), defaults File) (Config, error) {
	cfg := Config{File: applyEnv(defaults, lookup)}
	f := &cfg.File

	fs := pflag.NewFlagSet("nrsc5", pflag.ContinueOnError)
	fs.SortFlags = false
	fs.StringVarP(&cfg.ConfigPath, "config", "c", envString(lookup, "NRSC5_CONFIG", DefaultPath), "YAML configuration file")
	fs.BoolVar(&cfg.SaveConfig, "save-config", false, "Write the resolved configuration to --config and exit")
	fs.StringVarP(&cfg.InputPath, "input", "r", "", "Replay IQ samples from a file (- for stdin, .zst, .wav)")
	fs.StringVarP(&f.Backend, "backend", "b", f.Backend, "SDR backend ("+strings.Join(sdr.Backends, "|")+")")
	fs.IntVarP(&f.DeviceIndex, "device-index", "d", f.DeviceIndex, "RTL-SDR device index")
	fs.IntVarP(&f.PPM, "ppm", "p", f.PPM, "Frequency correction in ppm")
	fs.StringVarP(&f.Gain, "gain", "g", f.Gain, "Tuner gain in dB, or auto to search")
	fs.StringVar(&f.Address, "address", f.Address, "rtl_tcp server host:port")
	fs.StringVar(&f.FileFormat, "file-format", f.FileFormat, "Sample format of --input (cu8|cs16)")
	fs.IntVar(&f.BufferSize, "buffer-size", f.BufferSize, "Bytes per source buffer")
	fs.StringVar(&f.SSH.Host, "ssh-host", f.SSH.Host, "Remote host running rtl_sdr")
	fs.StringVar(&f.SSH.User, "ssh-user", f.SSH.User, "SSH user")
	fs.StringVar(&f.SSH.KeyPath, "ssh-key", f.SSH.KeyPath, "SSH private key")
	fs.IntVar(&f.SSH.Port, "ssh-port", f.SSH.Port, "SSH port")
	fs.Float64Var(&f.Mock.FrequencyOffset, "mock-offset", f.Mock.FrequencyOffset, "Mock carrier offset in Hz")
	fs.Float64Var(&f.Mock.Noise, "mock-noise", f.Mock.Noise, "Mock noise level as a fraction of full scale")
	fs.IntVar(&f.Mock.Blocks, "mock-blocks", f.Mock.Blocks, "Mock stream length in blocks (0 for endless)")
	fs.BoolVar(&f.Mock.Realtime, "mock-realtime", f.Mock.Realtime, "Pace the mock source at the nominal rate")
	fs.IntVar(&f.Receiver.Skip, "skip", f.Receiver.Skip, "Decimated samples to discard at start")
	fs.IntVar(&f.Receiver.SNRAverage, "snr-average", f.Receiver.SNRAverage, "Transforms averaged per SNR estimate")
	fs.Float64Var(&f.Receiver.SearchRatio, "search-ratio", f.Receiver.SearchRatio, "Stop the gain search below this fraction of the best SNR")
	fs.Float64Var(&f.Receiver.AcquireThreshold, "acquire-threshold", f.Receiver.AcquireThreshold, "Cyclic prefix correlation threshold")
	fs.Float64Var(&f.Receiver.RefThreshold, "ref-threshold", f.Receiver.RefThreshold, "Reference coherence required to lock")
	fs.Float64Var(&f.Receiver.LossThreshold, "loss-threshold", f.Receiver.LossThreshold, "Reference coherence below which lock decays")
	fs.StringVarP(&f.Output.HDC, "output", "o", f.Output.HDC, "Write audio PDUs of the program to a file (- for stdout)")
	fs.StringVarP(&f.Output.Format, "format", "f", f.Output.Format, "Output format (hdc)")
	fs.StringVar(&f.Output.AASDir, "dump-aas-files", f.Output.AASDir, "Write ancillary payloads to this directory")
	fs.StringVarP(&f.Output.DumpIQ, "write-iq", "w", f.Output.DumpIQ, "Copy raw IQ input to a file (.zst compresses)")
	fs.StringVar(&f.MQTT.Broker, "mqtt-broker", f.MQTT.Broker, "Publish payloads to this MQTT broker")
	fs.StringVar(&f.MQTT.TopicPrefix, "mqtt-topic", f.MQTT.TopicPrefix, "MQTT topic prefix")
	fs.StringVar(&f.Web.Addr, "web-addr", f.Web.Addr, "Web telemetry listen address (e.g. :8080)")
	fs.IntVar(&f.Web.HistoryLimit, "history-limit", f.Web.HistoryLimit, "Telemetry events kept in history")
	fs.BoolVar(&f.Web.Announce, "announce", f.Web.Announce, "Announce web telemetry over mDNS")
	fs.StringVarP(&f.Log.Level, "log-level", "l", f.Log.Level, "Log level (debug|info|warn|error or 1-4)")
	fs.StringVar(&f.Log.Format, "log-format", f.Log.Format, "Log format (text|json)")
	fs.BoolVarP(&f.Log.Quiet, "quiet", "q", f.Log.Quiet, "Only log errors")
	fs.BoolVarP(&cfg.Version, "version", "v", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if cfg.Version || cfg.SaveConfig {
		return cfg, cfg.validate()
	}

	pos := fs.Args()
	if cfg.InputPath != "" {
		if len(pos) != 1 {
			return Config{}, errors.New("usage: nrsc5 -r <file> [flags] program")
		}
		f.Backend = "file"
	} else {
		if len(pos) != 2 {
			return Config{}, errors.New("usage: nrsc5 [flags] frequency program")
		}
		freq, err := ParseFrequency(pos[0])
		if err != nil {
			return Config{}, err
		}
		cfg.Frequency = freq
		pos = pos[1:]
	}
	program, err := strconv.ParseUint(pos[0], 0, 8)
	if err != nil {
		return Config{}, fmt.Errorf("invalid program %q", pos[0])
	}
	cfg.Program = int(program)

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if _, err := sdr.New(c.Backend); err != nil {
		return err
	}
	if _, _, err := ParseGain(c.Gain); err != nil {
		return err
	}
	if _, err := ParseLogLevel(c.Log.Level); err != nil {
		return err
	}
	if _, err := logging.ParseFormat(c.Log.Format); err != nil {
		return err
	}
	if c.FileFormat != "" {
		if _, err := sdr.ParseFormat(c.FileFormat); err != nil {
			return err
		}
	}
	if !strings.EqualFold(c.Output.Format, "hdc") {
		return fmt.Errorf("unsupported output format %q", c.Output.Format)
	}
	if c.Receiver.SearchRatio <= 0 || c.Receiver.SearchRatio >= 1 {
		return fmt.Errorf("search ratio must be in (0, 1), got %v", c.Receiver.SearchRatio)
	}
	if c.Receiver.Skip < 0 {
		return fmt.Errorf("skip must not be negative")
	}
	return nil
}

// ParseFrequency reads a frequency in Hz or, below 10000, in MHz.
func ParseFrequency(s string) (float64, error) {
	d, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid frequency %q", s)
	}
	if d < 10000 {
		d *= 1e6
	}
	return math.Round(d), nil
}

// ParseGain converts a gain in dB to tenths of a dB. auto reports false.
func ParseGain(s string) (int, bool, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, GainAuto) {
		return 0, false, nil
	}
	db, err := strconv.ParseFloat(s, 64)
	if err != nil || db < 0 {
		return 0, false, fmt.Errorf("invalid gain %q", s)
	}
	return int(math.Round(db * 10)), true, nil
}

// ParseLogLevel accepts level names and the numeric levels 1 (debug) to 4
// (error).
func ParseLogLevel(s string) (logging.Level, error) {
	if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
		switch {
		case n <= 1:
			return logging.Debug, nil
		case n == 2:
			return logging.Info, nil
		case n == 3:
			return logging.Warn, nil
		default:
			return logging.Error, nil
		}
	}
	return logging.ParseLevel(s)
}

// Logger builds the process logger.
func (c Config) Logger(out io.Writer) logging.Logger {
	level, _ := ParseLogLevel(c.Log.Level)
	if c.Log.Quiet {
		level = logging.Error
	}
	format, _ := logging.ParseFormat(c.Log.Format)
	return logging.New(level, format, out)
}

// FixedGain returns the manual gain in tenths of a dB, if one is set.
func (c Config) FixedGain() (int, bool) {
	g, ok, _ := ParseGain(c.Gain)
	return g, ok
}

// SourceConfig maps the settings onto the SDR source parameters.
func (c Config) SourceConfig() sdr.Config {
	return sdr.Config{
		Frequency:   c.Frequency,
		SampleRate:  l1.InputRate,
		PPM:         c.PPM,
		DeviceIndex: c.DeviceIndex,
		Address:     c.Address,
		Path:        c.InputPath,
		FileFormat:  c.FileFormat,
		BufferSize:  c.BufferSize,
		SSH: sdr.SSHConfig{
			Host:     c.SSH.Host,
			User:     c.SSH.User,
			Password: c.SSH.Password,
			KeyPath:  c.SSH.KeyPath,
			Port:     c.SSH.Port,
			Command:  c.SSH.Command,
		},
		Mock: sdr.MockConfig{
			FrequencyOffset: c.Mock.FrequencyOffset,
			Noise:           c.Mock.Noise,
			Seed:            c.Mock.Seed,
			Programs:        c.Mock.Programs,
			Blocks:          c.Mock.Blocks,
			Realtime:        c.Mock.Realtime,
		},
	}
}

// PipelineConfig maps the receiver knobs onto the stage configs.
func (c Config) PipelineConfig() input.Config {
	r := c.Receiver
	return input.Config{
		Acquire: acquire.Config{
			Threshold:    r.AcquireThreshold,
			RefThreshold: r.RefThreshold,
			MaxBinOffset: r.MaxBinOffset,
		},
		Sync: demod.Config{
			DegradeThreshold: r.DegradeThreshold,
			LossThreshold:    r.LossThreshold,
			LossSymbols:      r.LossSymbols,
		},
		SNRAverage:        r.SNRAverage,
		MaxDecodeFailures: r.MaxDecodeFailures,
	}
}

// SearchConfig returns the gain search policy.
func (c Config) SearchConfig() gain.SearchConfig {
	return gain.SearchConfig{Ratio: c.Receiver.SearchRatio}
}

func applyEnv(f File, lookup func(string) (string, bool)) File {
	f.Backend = envString(lookup, "NRSC5_BACKEND", f.Backend)
	f.DeviceIndex = envInt(lookup, "NRSC5_DEVICE_INDEX", f.DeviceIndex)
	f.PPM = envInt(lookup, "NRSC5_PPM", f.PPM)
	f.Gain = envString(lookup, "NRSC5_GAIN", f.Gain)
	f.Address = envString(lookup, "NRSC5_ADDRESS", f.Address)
	f.SSH.Host = envString(lookup, "NRSC5_SSH_HOST", f.SSH.Host)
	f.SSH.User = envString(lookup, "NRSC5_SSH_USER", f.SSH.User)
	f.SSH.Password = envString(lookup, "NRSC5_SSH_PASSWORD", f.SSH.Password)
	f.SSH.KeyPath = envString(lookup, "NRSC5_SSH_KEY", f.SSH.KeyPath)
	f.Receiver.SNRAverage = envInt(lookup, "NRSC5_SNR_AVERAGE", f.Receiver.SNRAverage)
	f.Receiver.SearchRatio = envFloat(lookup, "NRSC5_SEARCH_RATIO", f.Receiver.SearchRatio)
	f.Receiver.AcquireThreshold = envFloat(lookup, "NRSC5_ACQUIRE_THRESHOLD", f.Receiver.AcquireThreshold)
	f.MQTT.Broker = envString(lookup, "NRSC5_MQTT_BROKER", f.MQTT.Broker)
	f.MQTT.Username = envString(lookup, "NRSC5_MQTT_USERNAME", f.MQTT.Username)
	f.MQTT.Password = envString(lookup, "NRSC5_MQTT_PASSWORD", f.MQTT.Password)
	f.Web.Addr = envString(lookup, "NRSC5_WEB_ADDR", f.Web.Addr)
	f.Web.HistoryLimit = envInt(lookup, "NRSC5_HISTORY_LIMIT", f.Web.HistoryLimit)
	f.Log.Level = envString(lookup, "NRSC5_LOG_LEVEL", f.Log.Level)
	f.Log.Format = envString(lookup, "NRSC5_LOG_FORMAT", f.Log.Format)
	return f
}

func envFloat(lookup func(string) (string, bool), key string, def float64) float64 {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return def
}

func envInt(lookup func(string) (string, bool), key string, def int) int {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func envString(lookup func(string) (string, bool), key, def string) string {
	if val, ok := lookup(key); ok {
		return val
	}
	return def
}
