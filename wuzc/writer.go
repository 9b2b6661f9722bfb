package wuzc

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"hash"
	"io"
	"unsafe"

	"github.com/wiidisc/wiidisc/internal/wiierr"
)

type writer struct {
	w          io.WriteSeeker
	b          *bytes.Buffer
	h          hash.Hash
	err        error
	seen       map[string]uint32
	off        int64
	limit      int64
	sectorSize int64
	unique     uint32
	sector     int
	table      []uint32
}

// NewWriter returns an io.WriteCloser that deduplicates and writes to ws in
// sectorSize chunks. The caller must write exactly uncompressedSize bytes
// before calling Close.
func NewWriter(ws io.WriteSeeker, sectorSize uint32, uncompressedSize uint64) (io.WriteCloser, error) {
	w := &writer{
		w:    ws,
		b:    new(bytes.Buffer),
		h:    sha1.New(),
		seen: make(map[string]uint32),
	}

	if _, err := w.w.Seek(0, io.SeekStart); err != nil {
		return nil, wiierr.NewIOError(err)
	}

	h := header{
		Magic:            [2]uint32{magic0, magic1},
		SectorSize:       sectorSize,
		UncompressedSize: uncompressedSize,
	}
	const headerSize = int64(unsafe.Sizeof(h))

	if err := binary.Write(w.w, binary.LittleEndian, &h); err != nil {
		return nil, wiierr.NewIOError(err)
	}

	w.limit = int64(h.UncompressedSize)
	w.sectorSize = int64(h.SectorSize)

	tableSize := (w.limit + w.sectorSize - 1) / w.sectorSize
	w.table = make([]uint32, tableSize)

	off := sectorTableEnd(headerSize, tableSize, w.sectorSize)
	if _, err := w.w.Seek(off, io.SeekStart); err != nil {
		return nil, wiierr.NewIOError(err)
	}

	return w, nil
}

func (w *writer) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}

	n, _ := w.b.Write(p)
	w.off += int64(n)

	for int64(w.b.Len()) >= w.sectorSize {
		w.h.Reset()
		w.h.Write(w.b.Bytes()[0:w.sectorSize])
		key := string(w.h.Sum(nil))

		idx, ok := w.seen[key]
		if !ok {
			idx = w.unique
			w.unique++
			w.seen[key] = idx
		}
		w.table[w.sector] = idx
		w.sector++

		var dst io.Writer = io.Discard
		if !ok {
			dst = w.w
		}
		if _, err := io.CopyN(dst, w.b, w.sectorSize); err != nil {
			w.err = wiierr.NewIOError(err)
			return n, w.err
		}
	}

	return n, nil
}

func (w *writer) Close() error {
	if w.err != nil {
		return w.err
	}
	if w.off == w.limit && w.b.Len() != 0 {
		// Zero-pad a trailing partial sector so it is stored like any other.
		w.b.Write(make([]byte, w.sectorSize-int64(w.b.Len())))
		if _, err := w.Write(nil); err != nil {
			return err
		}
	}
	if w.b.Len() != 0 || w.off != w.limit {
		return wiierr.NewBuilderErrorMsg("not enough data written")
	}

	var h header
	const headerSize = int64(unsafe.Sizeof(h))
	if _, err := w.w.Seek(headerSize, io.SeekStart); err != nil {
		return wiierr.NewIOError(err)
	}
	if err := binary.Write(w.w, binary.LittleEndian, &w.table); err != nil {
		return wiierr.NewIOError(err)
	}
	return nil
}
