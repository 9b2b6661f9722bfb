package wiidisc

import "io"

// window is a bounded view onto an inner seekable container that adds a
// constant base offset to every position and denies negative seeks. It lets
// a partition reader or builder treat a partition as a zero-based stream
// while ultimately addressing the underlying disc file. It does not cache.
type window struct {
	inner io.ReadWriteSeeker
	base  int64
	pos   int64
}

// newWindow seeks inner to base and returns a window whose logical position
// 0 corresponds to that offset.
func newWindow(inner io.ReadWriteSeeker, base int64) (*window, error) {
	if _, err := inner.Seek(base, io.SeekStart); err != nil {
		return nil, newIOError(err)
	}
	return &window{inner: inner, base: base}, nil
}

func (w *window) Read(p []byte) (int, error) {
	n, err := w.inner.Read(p)
	w.pos += int64(n)
	return n, err
}

func (w *window) Write(p []byte) (int, error) {
	n, err := w.inner.Write(p)
	w.pos += int64(n)
	return n, err
}

func (w *window) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = w.pos + offset
	case io.SeekEnd:
		return 0, newUnsupportedError("seek from end on a partition window")
	default:
		return 0, newUnsupportedError("invalid whence")
	}
	if target < 0 {
		return 0, newUnsupportedError("negative seek")
	}
	if _, err := w.inner.Seek(w.base+target, io.SeekStart); err != nil {
		return 0, newIOError(err)
	}
	w.pos = target
	return w.pos, nil
}

func (w *window) streamPosition() int64 { return w.pos }
