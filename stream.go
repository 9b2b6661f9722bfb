package wiidisc

import "io"

// h3Capacity is the number of groups a partition's H3 table can describe.
const h3Capacity = H3TableSize / 20

// EncryptedStream presents a partition's encrypted, hash-tree-protected data
// area as a flat, seekable byte stream. It decrypts one group (0x200000
// bytes, 64 blocks) into memory at a time, serves reads and writes against
// that cache, and re-hashes and re-encrypts a dirty group back to the
// underlying container only when the cache window moves, on Flush, or when
// the stream is closed. raw must already be positioned relative to the partition's data
// area; callers typically supply a window over the partition's data offset.
type EncryptedStream struct {
	raw      io.ReadSeeker
	key      [16]byte
	readOnly bool
	verify   bool

	capGroups     int64 // groups representable before the stream refuses to grow further
	existingGroups int64 // groups with real ciphertext already on raw

	h3 []byte // H3TableSize bytes, updated as groups are re-hashed

	cache       []byte
	cacheGroup  int64
	cacheLoaded bool
	dirty       bool

	pos    int64
	length int64
}

// NewEncryptedStream builds a stream over an already-positioned raw
// container. length is the current logical size in bytes; capGroups bounds
// how many groups a read-write stream may grow into (pass -1 for the
// largest size an H3 table can describe). h3 must be H3TableSize bytes, or
// nil to start from an all-zero table. When verify is set, every group read
// from existing ciphertext is checked against the H3 table (and its own
// embedded H1/H2) before being handed back.
func NewEncryptedStream(raw io.ReadSeeker, key [16]byte, readOnly bool, length int64, capGroups int64, h3 []byte, verify bool) (*EncryptedStream, error) {
	if !readOnly {
		if _, ok := raw.(io.Writer); !ok {
			return nil, newUnsupportedError("read-write stream needs a writable container")
		}
	}
	if h3 == nil {
		h3 = make([]byte, H3TableSize)
	} else if len(h3) != H3TableSize {
		return nil, newMalformedError("H3 table must be H3TableSize bytes")
	}
	if capGroups < 0 {
		capGroups = h3Capacity
	}
	existing := length / GroupDataSize
	if length%GroupDataSize != 0 {
		existing++
	}
	return &EncryptedStream{
		raw:            raw,
		key:            key,
		readOnly:       readOnly,
		verify:         verify,
		capGroups:      capGroups,
		existingGroups: existing,
		h3:             h3,
		cacheGroup:     -1,
		length:         length,
	}, nil
}

// Size reports the stream's current logical length in bytes.
func (s *EncryptedStream) Size() int64 { return s.length }

// H3Table returns the H3TableSize-byte hash table accumulated so far. Its
// contents past the group boundaries actually flushed are meaningless.
func (s *EncryptedStream) H3Table() []byte { return s.h3 }

func (s *EncryptedStream) Read(p []byte) (int, error) {
	if s.pos >= s.length {
		return 0, io.EOF
	}
	n := 0
	for n < len(p) && s.pos < s.length {
		group := s.pos / GroupDataSize
		if err := s.cacheIn(group); err != nil {
			return n, err
		}
		groupLocal := s.pos % GroupDataSize
		block := groupLocal / BlockDataSize
		blockLocal := groupLocal % BlockDataSize
		cacheOff := block*BlockSize + BlockDataOffset + blockLocal

		chunk := int64(len(p) - n)
		if max := BlockDataSize - blockLocal; chunk > max {
			chunk = max
		}
		if max := s.length - s.pos; chunk > max {
			chunk = max
		}
		copy(p[int64(n):int64(n)+chunk], s.cache[cacheOff:cacheOff+chunk])
		n += int(chunk)
		s.pos += chunk
	}
	return n, nil
}

func (s *EncryptedStream) Write(p []byte) (int, error) {
	if s.readOnly {
		return 0, newUnsupportedError("write on a read-only encrypted stream")
	}
	n := 0
	for n < len(p) {
		group := s.pos / GroupDataSize
		if group >= s.capGroups {
			return n, newUnsupportedError("write exceeds partition capacity")
		}
		if err := s.cacheIn(group); err != nil {
			return n, err
		}
		groupLocal := s.pos % GroupDataSize
		block := groupLocal / BlockDataSize
		blockLocal := groupLocal % BlockDataSize
		cacheOff := block*BlockSize + BlockDataOffset + blockLocal

		chunk := int64(len(p) - n)
		if max := BlockDataSize - blockLocal; chunk > max {
			chunk = max
		}
		copy(s.cache[cacheOff:cacheOff+chunk], p[int64(n):int64(n)+chunk])
		s.dirty = true
		n += int(chunk)
		s.pos += chunk
		if s.pos > s.length {
			s.length = s.pos
		}
	}
	return n, nil
}

func (s *EncryptedStream) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = s.pos + offset
	case io.SeekEnd:
		target = s.length + offset
	default:
		return 0, newUnsupportedError("invalid whence")
	}
	if target < 0 {
		return 0, newUnsupportedError("negative seek")
	}
	s.pos = target
	return s.pos, nil
}

// Flush re-hashes and re-encrypts the current cached group, if dirty, and
// writes it back to raw. It is a no-op on a clean cache.
func (s *EncryptedStream) Flush() error {
	return s.flushCache()
}

// Close flushes any pending group. The caller owns raw and is responsible
// for closing it.
func (s *EncryptedStream) Close() error {
	return s.flushCache()
}

func (s *EncryptedStream) cacheIn(group int64) error {
	if s.cacheLoaded && s.cacheGroup == group {
		return nil
	}
	if err := s.flushCache(); err != nil {
		return err
	}
	if s.cache == nil {
		s.cache = make([]byte, GroupSize)
	}

	if group < s.existingGroups {
		if _, err := s.raw.Seek(group*GroupSize, io.SeekStart); err != nil {
			return newIOError(err)
		}
		if _, err := io.ReadFull(s.raw, s.cache); err != nil {
			return newIOError(err)
		}
		if err := decryptGroup(s.cache, s.key); err != nil {
			return err
		}
		if s.verify {
			h3slot := s.h3[group*20 : group*20+20]
			if err := verifyGroup(s.cache, h3slot, int(group)); err != nil {
				return err
			}
		}
	} else {
		zeroRange(s.cache)
	}

	s.cacheGroup = group
	s.cacheLoaded = true
	s.dirty = false
	return nil
}

func (s *EncryptedStream) flushCache() error {
	if !s.cacheLoaded || !s.dirty {
		return nil
	}
	h3slot := s.h3[s.cacheGroup*20 : s.cacheGroup*20+20]
	if err := hashEncryptGroup(s.cache, h3slot, s.key); err != nil {
		return err
	}
	if _, err := s.raw.Seek(s.cacheGroup*GroupSize, io.SeekStart); err != nil {
		return newIOError(err)
	}
	w, ok := s.raw.(io.Writer)
	if !ok {
		return newUnsupportedError("write on a read-only encrypted stream")
	}
	if _, err := w.Write(s.cache); err != nil {
		return newIOError(err)
	}
	if s.cacheGroup >= s.existingGroups {
		s.existingGroups = s.cacheGroup + 1
	}
	s.dirty = false
	return nil
}
