package wiidisc

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"io"
	"path"

	"github.com/spf13/afero"
)

// ProgressFunc reports builder progress as a count of work units completed
// out of a known total, e.g. files copied into a partition so far.
type ProgressFunc func(done, total int)

// WiiPartitionDefinition supplies everything a partition builder needs to
// lay out one partition's decrypted data area: the disc header that sits at
// its very start, the BI2 block, the apploader, the main executable, the
// filesystem table, and a way to stream any one file's bytes on demand.
// FST's offsets and lengths are just placeholders: BuildPartitionData
// computes every file's real placement as it streams data in, patches the
// tree (and the disc header's DOL/FST offsets), and rewrites the FST and
// the disc header once every file has been placed.
type WiiPartitionDefinition interface {
	DiscHeader() (DiscHeader, error)
	BI2() ([]byte, error)
	Apploader() ([]byte, error)
	DOL() ([]byte, error)
	FST() (*FstNode, error)
	FileData(path string, offset, length uint64) (io.Reader, error)
}

type fstFile struct {
	path string
	node *FstNode
}

// alignUp rounds n up to the next multiple of align, which must be a power
// of two.
func alignUp(n, align uint64) uint64 {
	return (n + align - 1) &^ (align - 1)
}

// BuildPartitionData writes one partition's decrypted data area into
// stream. BI2 and the apploader sit at their fixed addresses; the DOL, the
// FST, and the files that follow are each placed at the next 0x20-aligned
// (files: 0x40-aligned) position as they're produced, exactly as a real
// Wii partition is laid out. The disc header is written last, once the DOL
// and FST offsets it records are known. It flushes and closes stream and
// returns the resulting H3 table.
func BuildPartitionData(stream *EncryptedStream, def WiiPartitionDefinition, progress ProgressFunc) ([]byte, error) {
	header, err := def.DiscHeader()
	if err != nil {
		return nil, newBuilderError(err)
	}
	bi2, err := def.BI2()
	if err != nil {
		return nil, newBuilderError(err)
	}
	apploader, err := def.Apploader()
	if err != nil {
		return nil, newBuilderError(err)
	}
	dol, err := def.DOL()
	if err != nil {
		return nil, newBuilderError(err)
	}
	fst, err := def.FST()
	if err != nil {
		return nil, newBuilderError(err)
	}

	if _, err := stream.Seek(discHeaderSize, io.SeekStart); err != nil {
		return nil, err
	}
	if _, err := stream.Write(bi2); err != nil {
		return nil, newIOError(err)
	}

	if _, err := stream.Seek(0x2440, io.SeekStart); err != nil {
		return nil, err
	}
	if _, err := stream.Write(apploader); err != nil {
		return nil, newIOError(err)
	}

	pos, err := stream.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}
	dolOff := alignUp(uint64(pos), 0x20)
	header.SetDOLOffset(dolOff)
	if _, err := stream.Seek(int64(dolOff), io.SeekStart); err != nil {
		return nil, err
	}
	if _, err := stream.Write(dol); err != nil {
		return nil, newIOError(err)
	}

	pos, err = stream.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}
	fstOff := alignUp(uint64(pos), 0x20)
	header.SetFSTOffset(fstOff)

	// The placeholder FST already has the right record count, so its
	// serialized size -- and therefore the space to reserve here -- won't
	// change once files get their real offsets and lengths below.
	fstBytes := SerializeFST(fst)
	header.SetFSTSize(uint64(len(fstBytes)))
	if _, err := stream.Seek(int64(fstOff), io.SeekStart); err != nil {
		return nil, err
	}
	if _, err := stream.Write(fstBytes); err != nil {
		return nil, newIOError(err)
	}

	pos, err = stream.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}
	dataStart := alignUp(uint64(pos), 0x40)
	if _, err := stream.Seek(int64(dataStart), io.SeekStart); err != nil {
		return nil, err
	}

	var files []fstFile
	fst.Walk(func(p string, n *FstNode) {
		if !n.IsDir {
			files = append(files, fstFile{p, n})
		}
	})

	for i, f := range files {
		if progress != nil {
			progress(i, len(files))
		}
		off, err := stream.Seek(0, io.SeekCurrent)
		if err != nil {
			return nil, err
		}
		r, err := def.FileData(f.path, f.node.Offset, f.node.Length)
		if err != nil {
			return nil, newBuilderError(err)
		}
		n, err := io.Copy(stream, r)
		if err != nil {
			return nil, newIOError(err)
		}
		f.node.Offset = uint64(off)
		f.node.Length = uint64(n)

		pos, err := stream.Seek(0, io.SeekCurrent)
		if err != nil {
			return nil, err
		}
		if _, err := stream.Seek(int64(alignUp(uint64(pos), 0x40)), io.SeekStart); err != nil {
			return nil, err
		}
	}

	// Files now carry their real offsets and lengths; patch the FST in
	// place. The record layout is fixed-size per entry, so this fits in
	// exactly the space reserved above.
	fstBytes = SerializeFST(fst)
	if _, err := stream.Seek(int64(fstOff), io.SeekStart); err != nil {
		return nil, err
	}
	if _, err := stream.Write(fstBytes); err != nil {
		return nil, newIOError(err)
	}

	if _, err := stream.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	if err := writeDiscHeader(stream, &header); err != nil {
		return nil, err
	}

	if err := stream.Close(); err != nil {
		return nil, err
	}
	return stream.H3Table(), nil
}

// PatchTMD fills in a single-content TMD's content size and hash from the
// finished partition, zeroes its signature (this implementation never holds
// a real Nintendo signing key), and brute-forces the trailing counter field
// until the TMD's signed region hashes to a digest with a leading zero
// byte -- the same relaxed-signature trick homebrew loaders accept in place
// of an actual signature check.
func PatchTMD(t *TMD, dataSize uint64, h3Table []byte) error {
	if len(t.Contents) == 0 {
		t.Contents = make([]ContentRecord, 1)
	}
	t.NumContents = uint16(len(t.Contents))
	t.Contents[0].Size = dataSize
	t.Contents[0].Hash = sha1.Sum(h3Table)
	for i := range t.Signature {
		t.Signature[i] = 0
	}

	var buf bytes.Buffer
	if err := writeTMD(&buf, t); err != nil {
		return err
	}
	raw := buf.Bytes()

	var counter uint64
	for {
		binary.BigEndian.PutUint64(raw[tmdBruteForceOff:tmdBruteForceOff+tmdBruteForceLen], counter)
		sum := sha1.Sum(raw[tmdHashedFrom:])
		if sum[0] == 0 {
			break
		}
		counter++
	}

	patched, err := readTMD(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return err
	}
	*t = patched
	return nil
}

// DiscBuilder assembles a Wii disc image one partition at a time: the disc
// header is written up front, each partition is written via AddPartition,
// and Finish writes the final partition table and region block.
type DiscBuilder struct {
	out     afero.File
	entries []WiiPartTableEntry
}

// CreateDisc opens dest on fs for writing and lays down the disc header.
func CreateDisc(fs afero.Fs, dest string, header DiscHeader) (*DiscBuilder, error) {
	f, err := fs.Create(dest)
	if err != nil {
		return nil, newIOError(err)
	}
	if err := writeDiscHeader(f, &header); err != nil {
		return nil, err
	}
	return &DiscBuilder{out: f}, nil
}

// AddPartition builds one partition at the given byte offset within the
// disc: ticket, header, certificate chain and TMD are written alongside the
// encrypted data area that def describes, with the TMD patched to match the
// data actually written. plainKey is the AES-128 key that actually encrypts
// the partition's data; it is never written to disk as-is, only wrapped
// under commonKey into ticket.TitleKey, mirroring how a real Wii ticket
// stores it.
func (b *DiscBuilder) AddPartition(kind PartitionKind, base int64, ticket Ticket, commonKey, plainKey [16]byte, certs [3]Certificate, tmd TMD, def WiiPartitionDefinition, progress ProgressFunc) error {
	if err := EncryptTitleKey(&ticket, commonKey, plainKey); err != nil {
		return err
	}

	var certBuf bytes.Buffer
	if err := writeCertificateChain(&certBuf, &certs); err != nil {
		return err
	}
	certOff := uint64(PartitionHeaderSize)
	tmdOff := certOff + uint64(certBuf.Len())

	win, err := newWindow(b.out, base)
	if err != nil {
		return err
	}
	dataWin, err := newWindow(b.out, base+PartitionDataOffset)
	if err != nil {
		return err
	}

	stream, err := NewEncryptedStream(dataWin, plainKey, false, 0, -1, nil, false)
	if err != nil {
		return err
	}
	h3, err := BuildPartitionData(stream, def, progress)
	if err != nil {
		return err
	}
	dataSize := uint64(stream.Size())

	if err := PatchTMD(&tmd, dataSize, h3); err != nil {
		return err
	}

	// The partition header's data-size field holds the raw, on-disk size of
	// the encrypted data area -- always a whole number of groups -- not the
	// logical decrypted size recorded in the TMD.
	numGroups := dataSize / GroupDataSize
	if dataSize%GroupDataSize != 0 {
		numGroups++
	}
	rawDataSize := numGroups * GroupSize

	hdr := WiiPartitionHeader{
		Ticket:             ticket,
		TMDOff:             newOffset32(tmdOff),
		TMDSize:            uint32(tmdSize(&tmd)),
		CertChainOff:       newOffset32(certOff),
		CertChainSize:      uint32(certBuf.Len()),
		GlobalHashTableOff: newOffset32(PartitionH3Offset),
		DataOff:            newOffset32(PartitionDataOffset),
		DataSizeRaw:        newOffset32(rawDataSize),
	}

	if _, err := win.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if err := writePartitionHeader(win, &hdr); err != nil {
		return err
	}
	if _, err := win.Write(certBuf.Bytes()); err != nil {
		return newIOError(err)
	}
	if err := writeTMD(win, &tmd); err != nil {
		return err
	}
	if _, err := win.Seek(PartitionH3Offset, io.SeekStart); err != nil {
		return err
	}
	if _, err := win.Write(h3); err != nil {
		return newIOError(err)
	}

	b.entries = append(b.entries, newWiiPartTableEntry(kind, uint64(base)))
	return nil
}

// Finish writes the disc's partition table and region block, then closes
// the output file.
func (b *DiscBuilder) Finish(reg Region) error {
	if err := writePartitionTable(b.out, b.entries); err != nil {
		return err
	}
	if _, err := b.out.Seek(regionOff, io.SeekStart); err != nil {
		return newIOError(err)
	}
	if err := binary.Write(b.out, binary.BigEndian, &reg); err != nil {
		return newIOError(err)
	}
	if err := b.out.Close(); err != nil {
		return newIOError(err)
	}
	return nil
}

// DirPartitionBuilder builds a partition's contents from a directory tree
// previously produced by extraction: sys/boot.bin, sys/bi2.bin,
// sys/apploader.img, sys/main.dol, sys/fst.bin, and files/<path> for every
// file the FST names.
type DirPartitionBuilder struct {
	fs  afero.Fs
	dir string
}

// NewDirPartitionBuilder builds partition contents from dir on fs.
func NewDirPartitionBuilder(fs afero.Fs, dir string) *DirPartitionBuilder {
	return &DirPartitionBuilder{fs: fs, dir: dir}
}

func (d *DirPartitionBuilder) readFile(name string) ([]byte, error) {
	b, err := afero.ReadFile(d.fs, path.Join(d.dir, name))
	if err != nil {
		return nil, newBuilderError(err)
	}
	return b, nil
}

func (d *DirPartitionBuilder) DiscHeader() (DiscHeader, error) {
	b, err := d.readFile("sys/boot.bin")
	if err != nil {
		return DiscHeader{}, err
	}
	return readDiscHeader(bytes.NewReader(b))
}

func (d *DirPartitionBuilder) BI2() ([]byte, error)        { return d.readFile("sys/bi2.bin") }
func (d *DirPartitionBuilder) Apploader() ([]byte, error)  { return d.readFile("sys/apploader.img") }
func (d *DirPartitionBuilder) DOL() ([]byte, error)        { return d.readFile("sys/main.dol") }

func (d *DirPartitionBuilder) FST() (*FstNode, error) {
	b, err := d.readFile("sys/fst.bin")
	if err != nil {
		return nil, err
	}
	return ParseFST(b)
}

func (d *DirPartitionBuilder) FileData(p string, _, _ uint64) (io.Reader, error) {
	f, err := d.fs.Open(path.Join(d.dir, "files", p))
	if err != nil {
		return nil, newBuilderError(err)
	}
	return f, nil
}

// CopyPartitionBuilder rebuilds a partition by reading every region
// straight out of an already-open source partition. Filter, when set, is
// called with every node's full path; returning true drops that file or
// whole directory subtree from the rebuilt FST.
type CopyPartitionBuilder struct {
	src    *PartitionReader
	Filter func(path string, node *FstNode) bool
}

// NewCopyPartitionBuilder builds partition contents by copying from src.
func NewCopyPartitionBuilder(src *PartitionReader) *CopyPartitionBuilder {
	return &CopyPartitionBuilder{src: src}
}

func (c *CopyPartitionBuilder) DiscHeader() (DiscHeader, error) { return c.src.ReadDiscHeader() }

func (c *CopyPartitionBuilder) BI2() ([]byte, error) {
	if _, err := c.src.Stream().Seek(discHeaderSize, io.SeekStart); err != nil {
		return nil, err
	}
	buf := make([]byte, 0x2000)
	if _, err := io.ReadFull(c.src.Stream(), buf); err != nil {
		return nil, newIOError(err)
	}
	return buf, nil
}

func (c *CopyPartitionBuilder) Apploader() ([]byte, error) { return c.src.ReadApploader() }
func (c *CopyPartitionBuilder) DOL() ([]byte, error)       { return c.src.ReadDOL() }

func (c *CopyPartitionBuilder) FST() (*FstNode, error) {
	root, err := c.src.Fst()
	if err != nil {
		return nil, err
	}
	if c.Filter != nil {
		pruneFiltered(root, "", c.Filter)
	}
	return root, nil
}

func (c *CopyPartitionBuilder) FileData(_ string, offset, length uint64) (io.Reader, error) {
	if _, err := c.src.Stream().Seek(int64(offset), io.SeekStart); err != nil {
		return nil, err
	}
	return io.LimitReader(c.src.Stream(), int64(length)), nil
}

func pruneFiltered(node *FstNode, prefix string, filter func(string, *FstNode) bool) {
	kept := node.Children[:0]
	for _, c := range node.Children {
		p := c.Name
		if prefix != "" {
			p = prefix + "/" + c.Name
		}
		if filter(p, c) {
			continue
		}
		if c.IsDir {
			pruneFiltered(c, p, filter)
		}
		kept = append(kept, c)
	}
	node.Children = kept
}
