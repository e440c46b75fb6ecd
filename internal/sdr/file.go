package sdr

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/klauspost/compress/zstd"
)

// File replays a capture. Raw CU8/CS16 files may be zstd compressed
// (".zst"); WAV files carry I and Q as the two channels of 8 or 16-bit PCM.
// A path of "-" reads raw samples from stdin.
type File struct {
	mu      sync.Mutex
	r       io.Reader
	wav     *wav.Decoder
	pcm     *audio.IntBuffer
	closers []func() error
	format  Format
	size    int
}

func NewFile() *File { return &File{} }

func (f *File) Init(_ context.Context, cfg Config) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.size = bufferSize(cfg)

	name := cfg.Path
	if name == "" {
		return errors.New("file source needs a path")
	}
	var src io.Reader
	if name == "-" {
		src = os.Stdin
	} else {
		fh, err := os.Open(name)
		if err != nil {
			return fmt.Errorf("open capture: %w", err)
		}
		f.closers = append(f.closers, fh.Close)
		src = fh

		if strings.EqualFold(filepath.Ext(name), ".wav") {
			return f.initWAV(fh)
		}
	}

	if strings.EqualFold(filepath.Ext(name), ".zst") {
		dec, err := zstd.NewReader(src)
		if err != nil {
			f.close()
			return fmt.Errorf("open zstd stream: %w", err)
		}
		f.closers = append(f.closers, func() error { dec.Close(); return nil })
		src = dec
		name = strings.TrimSuffix(name, filepath.Ext(name))
	}

	format, err := formatFor(name, cfg.FileFormat)
	if err != nil {
		f.close()
		return err
	}
	f.format = format
	f.r = src
	return nil
}

// formatFor uses the explicit format if given and otherwise the extension.
func formatFor(name, explicit string) (Format, error) {
	if explicit != "" {
		return ParseFormat(explicit)
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".cs16", ".s16":
		return CS16, nil
	default:
		return CU8, nil
	}
}

func (f *File) initWAV(fh *os.File) error {
	d := wav.NewDecoder(fh)
	if !d.IsValidFile() {
		f.close()
		return fmt.Errorf("%s: not a valid wav file", fh.Name())
	}
	if err := d.FwdToPCM(); err != nil {
		f.close()
		return fmt.Errorf("seek wav pcm data: %w", err)
	}
	if d.NumChans != 2 {
		f.close()
		return fmt.Errorf("wav has %d channels, want 2 (I and Q)", d.NumChans)
	}
	switch d.BitDepth {
	case 8:
		f.format = CU8
	case 16:
		f.format = CS16
	default:
		f.close()
		return fmt.Errorf("unsupported wav bit depth %d", d.BitDepth)
	}
	f.wav = d
	f.pcm = &audio.IntBuffer{Format: d.Format(), Data: make([]int, f.size/2)}
	return nil
}

func (f *File) Format() Format { return f.format }

func (f *File) Gains() []int { return nil }

func (f *File) SetGain(int) error { return ErrUnsupported }

func (f *File) ResetBuffer() error { return nil }

func (f *File) Stream(ctx context.Context, fn Handler) error {
	f.mu.Lock()
	r, d := f.r, f.wav
	f.mu.Unlock()
	switch {
	case d != nil:
		return f.streamWAV(ctx, fn)
	case r == nil:
		return ErrNotInitialized
	}

	buf := make([]byte, f.size)
	for ctx.Err() == nil {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if herr := fn(buf[:n]); herr != nil {
				return herr
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read capture: %w", err)
		}
	}
	return nil
}

func (f *File) streamWAV(ctx context.Context, fn Handler) error {
	var out []byte
	for ctx.Err() == nil {
		n, err := f.wav.PCMBuffer(f.pcm)
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read wav pcm: %w", err)
		}
		if n == 0 {
			return nil
		}
		out = out[:0]
		for _, v := range f.pcm.Data[:n] {
			if f.format == CU8 {
				out = append(out, byte(v))
			} else {
				out = binary.LittleEndian.AppendUint16(out, uint16(int16(v)))
			}
		}
		if err := fn(out); err != nil {
			return err
		}
	}
	return nil
}

func (f *File) close() error {
	var errs []error
	for i := len(f.closers) - 1; i >= 0; i-- {
		errs = append(errs, f.closers[i]())
	}
	f.closers = nil
	f.r, f.wav = nil, nil
	return errors.Join(errs...)
}

func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.close()
}
