package wuzc

import (
	"encoding/binary"
	"io"
	"unsafe"

	"go4.org/readerutil"

	"github.com/wiidisc/wiidisc/internal/wiierr"
)

// Reader is what OpenDiscReader expects from a decompressed container: a
// seekable, randomly-addressable byte stream of known total size.
type Reader interface {
	io.Reader
	io.ReaderAt
	io.Seeker
	Size() int64
}

type reader struct {
	r          io.ReaderAt
	base       int64
	off        int64
	limit      int64
	sectorSize int64
	table      []uint32
}

// NewReader returns a Reader that decompresses on demand from ra.
func NewReader(ra io.ReaderAt) (Reader, error) {
	r := new(reader)
	r.r = ra

	var h header
	const headerSize = int64(unsafe.Sizeof(h))

	sr := io.NewSectionReader(r.r, 0, headerSize)
	if err := binary.Read(sr, binary.LittleEndian, &h); err != nil {
		return nil, wiierr.NewIOError(err)
	}
	if h.Magic[0] != magic0 || h.Magic[1] != magic1 {
		return nil, wiierr.NewMalformedError("bad magic")
	}
	if h.SectorSize < 0x100 || h.SectorSize >= 0x10000000 {
		return nil, wiierr.NewMalformedErrorf("bad sector size %#x", h.SectorSize)
	}

	r.limit = int64(h.UncompressedSize)
	r.sectorSize = int64(h.SectorSize)

	tableSize := (r.limit + r.sectorSize - 1) / r.sectorSize

	sr = io.NewSectionReader(r.r, headerSize, tableSize<<2)
	r.table = make([]uint32, tableSize)
	if err := binary.Read(sr, binary.LittleEndian, &r.table); err != nil {
		return nil, wiierr.NewIOError(err)
	}

	r.base = sectorTableEnd(headerSize, tableSize, r.sectorSize)

	return r, nil
}

func (r *reader) Size() int64 { return r.limit }

func (r *reader) newSizeReaderAt(l, off int64) readerutil.SizeReaderAt {
	var parts []readerutil.SizeReaderAt
	for l > 0 {
		sectorOffset := off % r.sectorSize
		sectorIndex := off / r.sectorSize
		limit := r.sectorSize - sectorOffset
		if limit > l {
			limit = l
		}
		parts = append(parts, io.NewSectionReader(r.r, r.base+int64(r.table[sectorIndex])*r.sectorSize+sectorOffset, limit))
		l -= parts[len(parts)-1].Size()
		off += parts[len(parts)-1].Size()
	}
	return readerutil.NewMultiReaderAt(parts...)
}

func (r *reader) Read(p []byte) (int, error) {
	if r.off >= r.limit {
		return 0, io.EOF
	}
	if max := r.limit - r.off; int64(len(p)) > max {
		p = p[0:max]
	}
	n, err := r.newSizeReaderAt(int64(len(p)), r.off).ReadAt(p, 0)
	r.off += int64(n)
	return n, err
}

func (r *reader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= r.limit {
		return 0, io.EOF
	}
	if max := r.limit - off; int64(len(p)) > max {
		p = p[0:max]
		n, err := r.newSizeReaderAt(int64(len(p)), off).ReadAt(p, 0)
		if err == nil {
			err = io.EOF
		}
		return n, err
	}
	return r.newSizeReaderAt(int64(len(p)), off).ReadAt(p, 0)
}

func (r *reader) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += r.off
	case io.SeekEnd:
		offset += r.limit
	default:
		return 0, wiierr.NewUnsupportedError("invalid seek whence")
	}
	if offset < 0 {
		return 0, wiierr.NewUnsupportedError("seek to negative offset")
	}
	r.off = offset
	return offset, nil
}
