package wiidisc

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/wiidisc/wiidisc/wuzc"
)

func TestOpenDiscReaderRawFile(t *testing.T) {
	content := bytes.Repeat([]byte{0x42}, 0x1000)
	path := filepath.Join(t.TempDir(), "disc.iso")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write raw disc: %v", err)
	}

	r, err := OpenDiscReader(path)
	if err != nil {
		t.Fatalf("OpenDiscReader: %v", err)
	}
	defer r.Close()

	if r.Size() != int64(len(content)) {
		t.Fatalf("Size() = %d, want %d", r.Size(), len(content))
	}
	got := make([]byte, len(content))
	if _, err := io.ReadFull(r, got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("raw content mismatch")
	}
}

func TestOpenDiscReaderCompressedFile(t *testing.T) {
	content := bytes.Repeat([]byte{0x37}, 4*0x8000)
	path := filepath.Join(t.TempDir(), "disc.wuzc")

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	w, err := wuzc.NewWriter(f, 0x8000, uint64(len(content)))
	if err != nil {
		t.Fatalf("wuzc.NewWriter: %v", err)
	}
	if _, err := w.Write(content); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}

	r, err := OpenDiscReader(path)
	if err != nil {
		t.Fatalf("OpenDiscReader: %v", err)
	}
	defer r.Close()

	if r.Size() != int64(len(content)) {
		t.Fatalf("Size() = %d, want %d", r.Size(), len(content))
	}
	got := make([]byte, len(content))
	if _, err := io.ReadFull(r, got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("decompressed content mismatch")
	}

	// ReaderAt path, exercised independently of the sequential Reader offset.
	mid := make([]byte, 16)
	if _, err := r.ReadAt(mid, 0x8000+8); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	for _, b := range mid {
		if b != 0x37 {
			t.Fatalf("ReadAt mismatch: got %v", mid)
		}
	}
}

func TestOpenDiscReaderMissingFile(t *testing.T) {
	if _, err := OpenDiscReader(filepath.Join(t.TempDir(), "does-not-exist.iso")); err == nil {
		t.Fatalf("expected error opening missing file")
	}
}
