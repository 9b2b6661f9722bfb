package wiidisc

import (
	"crypto/aes"
	"crypto/cipher"
	"io"
)

// DecryptTitleKey recovers a partition's AES-128 title key from its ticket,
// given the common key it is encrypted under. commonKey is never embedded in this
// package: callers supply whichever Wii common key generation applies to
// the disc at hand.
func DecryptTitleKey(t *Ticket, commonKey [16]byte) ([16]byte, error) {
	block, err := aes.NewCipher(commonKey[:])
	if err != nil {
		return [16]byte{}, newIOError(err)
	}
	// The IV is the 8-byte title ID, zero-padded to a full block.
	var iv [16]byte
	copy(iv[:8], t.TitleID[:])
	var out [16]byte
	cipher.NewCBCDecrypter(block, iv[:]).CryptBlocks(out[:], t.TitleKey[:])
	return out, nil
}

// EncryptTitleKey is DecryptTitleKey's inverse: it wraps a partition's plain
// AES-128 data key for storage in a ticket, under the given common key and
// the ticket's own title ID. Builders hold the plaintext key (it is what
// actually encrypts the partition's data) and must store only this wrapped
// form on disk.
func EncryptTitleKey(t *Ticket, commonKey [16]byte, plainKey [16]byte) error {
	block, err := aes.NewCipher(commonKey[:])
	if err != nil {
		return newIOError(err)
	}
	var iv [16]byte
	copy(iv[:8], t.TitleID[:])
	cipher.NewCBCEncrypter(block, iv[:]).CryptBlocks(t.TitleKey[:], plainKey[:])
	return nil
}

// PartitionReader parses one partition's ticket, TMD, certificate chain and
// H3 table, and exposes its decrypted data area through an EncryptedStream.
type PartitionReader struct {
	base   int64
	Header WiiPartitionHeader
	TMD    TMD
	Certs  [3]Certificate
	H3     []byte

	stream *EncryptedStream
}

func openPartitionReader(ra ReadAtSizer, base int64, commonKey [16]byte) (*PartitionReader, error) {
	sr := io.NewSectionReader(ra, base, ra.Size()-base)

	hdr, err := readPartitionHeader(sr)
	if err != nil {
		return nil, err
	}

	key, err := DecryptTitleKey(&hdr.Ticket, commonKey)
	if err != nil {
		return nil, err
	}

	if _, err := sr.Seek(int64(hdr.TMDOffset()), io.SeekStart); err != nil {
		return nil, newIOError(err)
	}
	tmd, err := readTMD(sr, int64(hdr.TMDSize))
	if err != nil {
		return nil, err
	}

	if _, err := sr.Seek(int64(hdr.CertChainOffset()), io.SeekStart); err != nil {
		return nil, newIOError(err)
	}
	certs, err := readCertificateChain(sr)
	if err != nil {
		return nil, err
	}

	h3 := make([]byte, H3TableSize)
	if _, err := sr.Seek(int64(hdr.H3Offset()), io.SeekStart); err != nil {
		return nil, newIOError(err)
	}
	if _, err := io.ReadFull(sr, h3); err != nil {
		return nil, newIOError(err)
	}

	dataWindow := io.NewSectionReader(ra, base+int64(hdr.DataOffset()), int64(hdr.DataSize()))
	maxGroup := int64(hdr.DataSize()) / GroupSize
	stream, err := NewEncryptedStream(dataWindow, key, true, maxGroup*GroupDataSize, maxGroup, h3, false)
	if err != nil {
		return nil, err
	}

	return &PartitionReader{
		base:   base,
		Header: hdr,
		TMD:    tmd,
		Certs:  certs,
		H3:     h3,
		stream: stream,
	}, nil
}

// Stream returns the partition's decrypted, seekable data area.
func (p *PartitionReader) Stream() *EncryptedStream { return p.stream }

// ReadDiscHeader reads the embedded disc header at the start of the
// partition's data area.
func (p *PartitionReader) ReadDiscHeader() (DiscHeader, error) {
	if _, err := p.stream.Seek(0, io.SeekStart); err != nil {
		return DiscHeader{}, err
	}
	return readDiscHeader(p.stream)
}

// ReadApploader reads the apploader blob at the fixed offset 0x2440.
func (p *PartitionReader) ReadApploader() ([]byte, error) {
	if _, err := p.stream.Seek(0x2440, io.SeekStart); err != nil {
		return nil, err
	}
	h, err := readApploaderHeader(p.stream)
	if err != nil {
		return nil, err
	}
	total := 0x20 + int64(h.Size1) + int64(h.Size2)
	buf := make([]byte, total)
	if _, err := p.stream.Seek(0x2440, io.SeekStart); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(p.stream, buf); err != nil {
		return nil, newIOError(err)
	}
	return buf, nil
}

// ReadDOL reads the main executable, located via the disc header.
func (p *PartitionReader) ReadDOL() ([]byte, error) {
	disc, err := p.ReadDiscHeader()
	if err != nil {
		return nil, err
	}
	if _, err := p.stream.Seek(int64(disc.DOLOffset()), io.SeekStart); err != nil {
		return nil, err
	}
	dolHdr, err := readDOLHeader(p.stream)
	if err != nil {
		return nil, err
	}
	size, err := dolSize(&dolHdr)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	if _, err := p.stream.Seek(int64(disc.DOLOffset()), io.SeekStart); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(p.stream, buf); err != nil {
		return nil, newIOError(err)
	}
	return buf, nil
}

// ReadFST reads the raw filesystem table, located via the disc header.
func (p *PartitionReader) ReadFST() ([]byte, error) {
	disc, err := p.ReadDiscHeader()
	if err != nil {
		return nil, err
	}
	if _, err := p.stream.Seek(int64(disc.FSTOffset()), io.SeekStart); err != nil {
		return nil, err
	}
	buf := make([]byte, disc.FSTSize())
	if _, err := io.ReadFull(p.stream, buf); err != nil {
		return nil, newIOError(err)
	}
	return buf, nil
}

// Fst parses the filesystem table into a tree.
func (p *PartitionReader) Fst() (*FstNode, error) {
	raw, err := p.ReadFST()
	if err != nil {
		return nil, err
	}
	return ParseFST(raw)
}
