package output

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rjboer/gonrsc5/internal/decode"
	"github.com/rjboer/gonrsc5/internal/logging"
)

// HDCFile writes the raw audio PDUs it receives back to back. Ancillary
// data is ignored. The first write error stops further writes and is kept
// for Err.
type HDCFile struct {
	mu     sync.Mutex
	w      io.Writer
	c      io.Closer
	logger logging.Logger
	err    error
}

// NewHDCFile writes to w.
func NewHDCFile(w io.Writer, logger logging.Logger) *HDCFile {
	if logger == nil {
		logger = logging.Default()
	}
	return &HDCFile{w: w, logger: logger.With(logging.Field{Key: "component", Value: "hdc"})}
}

// CreateHDCFile creates path, or writes to stdout for "-".
func CreateHDCFile(path string, logger logging.Logger) (*HDCFile, error) {
	if path == "-" {
		return NewHDCFile(os.Stdout, logger), nil
	}
	fh, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create hdc output: %w", err)
	}
	h := NewHDCFile(fh, logger)
	h.c = fh
	return h, nil
}

func (h *HDCFile) PushPDU(_ int, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return
	}
	if _, err := h.w.Write(data); err != nil {
		h.err = fmt.Errorf("write hdc output: %w", err)
		h.logger.Error("hdc output failed", logging.Field{Key: "error", Value: err})
	}
}

func (h *HDCFile) PushAncillary(decode.AncillaryKind, []byte) {}

// Err returns the first write error.
func (h *HDCFile) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *HDCFile) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.c == nil {
		return nil
	}
	err := h.c.Close()
	h.c = nil
	return err
}

// AASDir stores every AAS payload as a numbered file in a directory.
type AASDir struct {
	mu     sync.Mutex
	dir    string
	seq    int
	logger logging.Logger
}

// NewAASDir creates dir if needed.
func NewAASDir(dir string, logger logging.Logger) (*AASDir, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create aas directory: %w", err)
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AASDir{dir: dir, logger: logger.With(logging.Field{Key: "component", Value: "aas"})}, nil
}

func (a *AASDir) PushPDU(int, []byte) {}

func (a *AASDir) PushAncillary(kind decode.AncillaryKind, data []byte) {
	if kind != decode.AAS {
		return
	}
	a.mu.Lock()
	a.seq++
	name := filepath.Join(a.dir, fmt.Sprintf("aas_%06d.bin", a.seq))
	a.mu.Unlock()
	if err := os.WriteFile(name, data, 0o644); err != nil {
		a.logger.Warn("write aas file failed", logging.Field{Key: "error", Value: err})
	}
}
