package sdr

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, cfg Config) (Format, []byte) {
	t.Helper()
	src := NewFile()
	require.NoError(t, src.Init(context.Background(), cfg))
	defer src.Close()
	var got []byte
	require.NoError(t, src.Stream(context.Background(), func(b []byte) error {
		got = append(got, b...)
		return nil
	}))
	return src.Format(), got
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i * 7)
	}
	return b
}

func TestFileRaw(t *testing.T) {
	dir := t.TempDir()
	data := pattern(10001)
	path := filepath.Join(dir, "capture.cs16")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	format, got := readAll(t, Config{Path: path, BufferSize: 4096})
	require.Equal(t, CS16, format)
	require.Equal(t, data, got)

	format, _ = readAll(t, Config{Path: path, FileFormat: "cu8"})
	require.Equal(t, CU8, format)
}

func TestFileZstd(t *testing.T) {
	data := pattern(50000)
	var compressed bytes.Buffer
	enc, err := zstd.NewWriter(&compressed)
	require.NoError(t, err)
	_, err = enc.Write(data)
	require.NoError(t, err)
	require.NoError(t, enc.Close())

	path := filepath.Join(t.TempDir(), "capture.cu8.zst")
	require.NoError(t, os.WriteFile(path, compressed.Bytes(), 0o644))

	format, got := readAll(t, Config{Path: path})
	require.Equal(t, CU8, format)
	require.Equal(t, data, got)
}

func TestFileWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.wav")
	fh, err := os.Create(path)
	require.NoError(t, err)
	enc := wav.NewEncoder(fh, 1488375, 16, 2, 1)
	samples := []int{1, -1, 300, -300, 32767, -32768}
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 2, SampleRate: 1488375},
		Data:           samples,
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, fh.Close())

	format, got := readAll(t, Config{Path: path})
	require.Equal(t, CS16, format)
	require.Equal(t, []byte{1, 0, 0xff, 0xff, 0x2c, 0x01, 0xd4, 0xfe, 0xff, 0x7f, 0x00, 0x80}, got)
}

func TestFileErrors(t *testing.T) {
	src := NewFile()
	require.Error(t, src.Init(context.Background(), Config{}))
	require.Error(t, src.Init(context.Background(), Config{Path: filepath.Join(t.TempDir(), "missing")}))
	require.ErrorIs(t, src.SetGain(100), ErrUnsupported)
	require.Empty(t, src.Gains())
	require.ErrorIs(t, NewFile().Stream(context.Background(), nil), ErrNotInitialized)

	path := filepath.Join(t.TempDir(), "x.cu8")
	require.NoError(t, os.WriteFile(path, []byte{1, 2}, 0o644))
	require.Error(t, src.Init(context.Background(), Config{Path: path, FileFormat: "f32"}))
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("CS16")
	require.NoError(t, err)
	require.Equal(t, CS16, f)
	require.Equal(t, "cu8", CU8.String())
}
