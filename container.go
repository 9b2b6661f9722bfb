package wiidisc

import (
	"io"
	"os"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/wiidisc/wiidisc/wuzc"
)

// Reader is a random-access source suitable for parsing with ParseDisc: a
// seekable byte stream of known total size, addressable at any offset.
type Reader interface {
	io.Reader
	io.ReaderAt
	io.Seeker
	Size() int64
}

// ReadCloser is a Reader that owns an underlying resource.
type ReadCloser interface {
	Reader
	io.Closer
}

type fileReader struct {
	*os.File
	size int64
}

func (f *fileReader) Size() int64 { return f.size }

type wrappedReadCloser struct {
	Reader
	closers []io.Closer
}

func (w *wrappedReadCloser) Close() error {
	var result *multierror.Error
	for _, c := range w.closers {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// OpenDiscReader opens name, trying it first as a wuzc-compressed
// container and falling back to a raw disc image if the magic doesn't
// match. Either way the result is ready to hand to ParseDisc.
func OpenDiscReader(name string) (ReadCloser, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, newIOError(err)
	}

	if strings.HasSuffix(name, wuzc.Extension) {
		r, err := wuzc.NewReader(f)
		if err != nil {
			f.Close()
			return nil, newIOError(err)
		}
		return &wrappedReadCloser{Reader: r, closers: []io.Closer{f}}, nil
	}

	if r, err := wuzc.NewReader(f); err == nil {
		return &wrappedReadCloser{Reader: r, closers: []io.Closer{f}}, nil
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, newIOError(err)
	}
	return &wrappedReadCloser{Reader: &fileReader{File: f, size: info.Size()}, closers: []io.Closer{f}}, nil
}
