package wiidisc

import (
	"encoding/binary"
	"io"
)

// Magic constants for the group/block hash tree and partition layout.
const (
	// BlockSize is the raw, on-disk size of a single encrypted block.
	BlockSize = 0x8000
	// BlockDataOffset is where a block's data region begins, after its hash header.
	BlockDataOffset = 0x400
	// BlockDataSize is the number of usable (logical) bytes per block.
	BlockDataSize = BlockSize - BlockDataOffset
	// GroupSize is the raw, on-disk size of a group of 64 blocks.
	GroupSize = 64 * BlockSize
	// GroupDataSize is the number of usable (logical) bytes per group.
	GroupDataSize = 64 * BlockDataSize
	// H3TableSize is the size of a partition's H3 hash table.
	H3TableSize = 0x18000
	// PartitionHeaderSize is the on-wire size of a WiiPartitionHeader.
	PartitionHeaderSize = 704
	// PartitionH3Offset is the fixed offset of the H3 table within a partition.
	PartitionH3Offset = 0x8000
	// PartitionDataOffset is the fixed offset of the encrypted data area within a partition.
	PartitionDataOffset = 0x20000

	discHeaderSize  = 0x440
	partitionInfoOff = 0x40000
	partitionEntriesOff = 0x40020
	regionOff       = 0x4E000
	partitionsStart = 0x50000

	wiiMagic = 0x5D1C9EA3
)

// offset32 is an on-disk big-endian 32-bit value that addresses a byte
// position shifted right by 2 (all partition-relative offsets in the
// partition header and partition table are stored this way).
type offset32 uint32

func (o offset32) addr() uint64    { return uint64(o) << 2 }
func newOffset32(addr uint64) offset32 { return offset32(addr >> 2) }

// PartitionKind identifies the role a partition plays on a disc.
type PartitionKind uint32

const (
	PartitionData    PartitionKind = 0
	PartitionUpdate  PartitionKind = 1
	PartitionChannel PartitionKind = 2
	// partitionUnknown is what partitionKindFromTag and
	// WiiPartTableEntry.Kind report for a raw tag outside the known set,
	// which is tolerated for forward-compatible reads.
	partitionUnknown PartitionKind = 0xffffffff
)

func (k PartitionKind) String() string {
	switch k {
	case PartitionData:
		return "DATA"
	case PartitionUpdate:
		return "UPDATE"
	case PartitionChannel:
		return "CHANNEL"
	default:
		return "UNKNOWN"
	}
}

func partitionKindFromTag(tag uint32) (PartitionKind, error) {
	switch tag {
	case uint32(PartitionData), uint32(PartitionUpdate), uint32(PartitionChannel):
		return PartitionKind(tag), nil
	default:
		return partitionUnknown, newUnknownPartitionKindError(tag)
	}
}

func parsePartitionKind(s string) (PartitionKind, bool) {
	switch s {
	case "DATA":
		return PartitionData, true
	case "UPDATE":
		return PartitionUpdate, true
	case "CHANNEL":
		return PartitionChannel, true
	default:
		return 0, false
	}
}

// DiscHeader is the 0x440-byte record at the start of every Wii disc image.
type DiscHeader struct {
	DiscID                  byte
	GameCode                [2]byte
	RegionCode              byte
	MakerCode               [2]byte
	DiskID                  byte
	DiskVersion             byte
	AudioStreaming          byte
	StreamBufferSize        byte
	Unused1                 [14]byte
	WiiMagic                uint32
	GCMagic                 uint32
	GameName                [64]byte
	DisableHashVerification byte
	DisableDiscEncryption   byte
	_                       [0x3BE]byte
	DOLOff                  uint32
	FSTOff                  uint32
	FSTSizeRaw              uint32
	FSTMaxSizeRaw           uint32
	_                       [0x10]byte
}

// DOLOffset returns the logical byte offset of the main executable.
func (h *DiscHeader) DOLOffset() uint64 { return uint64(h.DOLOff) }

// SetDOLOffset records the logical byte offset of the main executable.
func (h *DiscHeader) SetDOLOffset(off uint64) { h.DOLOff = uint32(off) }

// FSTOffset returns the logical byte offset of the filesystem table.
func (h *DiscHeader) FSTOffset() uint64 { return uint64(h.FSTOff) }

// SetFSTOffset records the logical byte offset of the filesystem table.
func (h *DiscHeader) SetFSTOffset(off uint64) { h.FSTOff = uint32(off) }

// FSTSize returns the byte length of the filesystem table.
func (h *DiscHeader) FSTSize() uint64 { return uint64(h.FSTSizeRaw) }

// SetFSTSize records the byte length of the filesystem table, also updating
// the maximum size field to match (this implementation never ships multiple
// FST revisions).
func (h *DiscHeader) SetFSTSize(size uint64) {
	h.FSTSizeRaw = uint32(size)
	h.FSTMaxSizeRaw = uint32(size)
}

func readDiscHeader(r io.Reader) (DiscHeader, error) {
	var h DiscHeader
	if err := binary.Read(r, binary.BigEndian, &h); err != nil {
		return h, newIOError(err)
	}
	return h, nil
}

func writeDiscHeader(w io.Writer, h *DiscHeader) error {
	if err := binary.Write(w, binary.BigEndian, h); err != nil {
		return newIOError(err)
	}
	return nil
}

// WiiPartTableEntry is one entry of the disc's top-level partition table.
type WiiPartTableEntry struct {
	PartDataOff offset32
	KindTag     uint32
}

// Kind returns the partition's kind, tolerating unknown tags on read.
func (e WiiPartTableEntry) Kind() PartitionKind {
	k, err := partitionKindFromTag(e.KindTag)
	if err != nil {
		return partitionUnknown
	}
	return k
}

// Offset returns the partition's base offset within the disc image.
func (e WiiPartTableEntry) Offset() uint64 { return e.PartDataOff.addr() }

func newWiiPartTableEntry(kind PartitionKind, offset uint64) WiiPartTableEntry {
	return WiiPartTableEntry{PartDataOff: newOffset32(offset), KindTag: uint32(kind)}
}

func readPartitionTable(r io.Reader) ([]WiiPartTableEntry, error) {
	var hdr struct {
		Count      uint32
		EntriesOff uint32 // >> 2
	}
	if err := binary.Read(r, binary.BigEndian, &hdr); err != nil {
		return nil, newIOError(err)
	}
	entries := make([]WiiPartTableEntry, hdr.Count)
	for i := range entries {
		var raw struct {
			Off offset32
			Tag uint32
		}
		if err := binary.Read(r, binary.BigEndian, &raw); err != nil {
			return nil, newIOError(err)
		}
		entries[i] = WiiPartTableEntry{PartDataOff: raw.Off, KindTag: raw.Tag}
	}
	return entries, nil
}

func writePartitionTable(w io.WriteSeeker, entries []WiiPartTableEntry) error {
	if _, err := w.Seek(partitionInfoOff, io.SeekStart); err != nil {
		return newIOError(err)
	}
	hdr := struct {
		Count      uint32
		EntriesOff uint32
	}{uint32(len(entries)), partitionEntriesOff >> 2}
	if err := binary.Write(w, binary.BigEndian, &hdr); err != nil {
		return newIOError(err)
	}
	if _, err := w.Seek(partitionEntriesOff, io.SeekStart); err != nil {
		return newIOError(err)
	}
	for _, e := range entries {
		raw := struct {
			Off offset32
			Tag uint32
		}{e.PartDataOff, e.KindTag}
		if err := binary.Write(w, binary.BigEndian, &raw); err != nil {
			return newIOError(err)
		}
	}
	return nil
}

// Ticket is the 0x2A4-byte record carrying the AES-128 title key used to
// decrypt a partition's data. Fields outside the title key are preserved
// verbatim on round-trip but are not otherwise interpreted: validating the
// embedded signature against real Wii certificate authorities is out of
// scope.
type Ticket struct {
	SignatureType uint32
	Signature     [0x100]byte
	Padding1      [0x3C]byte
	Issuer        [0x40]byte
	ECDHData      [0x3C]byte
	Unknown1      byte
	TitleKey      [16]byte
	Unknown2      byte
	TicketID      [8]byte
	ConsoleID     [4]byte
	TitleID       [8]byte
	Unknown3      [2]byte
	TicketVersion uint16
	PermittedMask uint32
	PermitMask    uint32
	TitleExport   byte
	CommonKeyIdx  byte
	Unknown4      [0x30]byte
	ContentAccess [0x40]byte
	Padding2      [2]byte
	TimeLimits    [0x40]byte
	Padding3      [2]byte
}

func readTicket(r io.Reader) (Ticket, error) {
	var t Ticket
	err := binary.Read(r, binary.BigEndian, &t)
	if err != nil {
		return t, newIOError(err)
	}
	return t, nil
}

func writeTicket(w io.Writer, t *Ticket) error {
	if err := binary.Write(w, binary.BigEndian, t); err != nil {
		return newIOError(err)
	}
	return nil
}

// WiiPartitionHeader is the 704-byte record at the base of every partition.
type WiiPartitionHeader struct {
	Ticket             Ticket
	TMDOff             offset32
	TMDSize            uint32
	CertChainOff       offset32
	CertChainSize      uint32
	GlobalHashTableOff offset32
	DataOff            offset32
	DataSizeRaw        offset32
}

func (h *WiiPartitionHeader) TMDOffset() uint64       { return h.TMDOff.addr() }
func (h *WiiPartitionHeader) CertChainOffset() uint64 { return h.CertChainOff.addr() }
func (h *WiiPartitionHeader) H3Offset() uint64        { return h.GlobalHashTableOff.addr() }
func (h *WiiPartitionHeader) DataOffset() uint64      { return h.DataOff.addr() }
func (h *WiiPartitionHeader) DataSize() uint64        { return h.DataSizeRaw.addr() }

func readPartitionHeader(r io.Reader) (WiiPartitionHeader, error) {
	var h WiiPartitionHeader
	if err := binary.Read(r, binary.BigEndian, &h); err != nil {
		return h, newIOError(err)
	}
	return h, nil
}

func writePartitionHeader(w io.Writer, h *WiiPartitionHeader) error {
	if err := binary.Write(w, binary.BigEndian, h); err != nil {
		return newIOError(err)
	}
	return nil
}

// ContentRecord describes one content entry in a TMD. This implementation
// always builds single-content titles, but preserves however many are
// present on a parsed disc.
type ContentRecord struct {
	ContentID uint32
	Index     uint16
	Type      uint16
	Size      uint64
	Hash      [20]byte
}

const tmdHeaderSize = 0x1E4
const contentRecordSize = 36

// tmdContentSizeOff and tmdContentHashOff are the offsets, within the first
// content record (i.e. relative to the start of the TMD), of the fields
// patched by the builder: the first content's size and SHA-1 hash.
const (
	tmdContentSizeOff = tmdHeaderSize + 8
	tmdContentHashOff = tmdHeaderSize + 16
	tmdSignatureOff   = 4
	tmdSignatureLen   = 0x100
	tmdHashedFrom     = 0x140
	tmdBruteForceOff  = 0x19A
	tmdBruteForceLen  = 8
)

// tmdHeader is the fixed-size prefix of a TMD, everything before the
// variable-length content record array.
type tmdHeader struct {
	SignatureType uint32
	Signature     [0x100]byte
	Padding1      [0x3C]byte
	Issuer        [0x40]byte
	Version       byte
	CACRLVersion  byte
	SignerCRL     byte
	Reserved1     byte
	SystemVersion uint64
	TitleID       uint64
	TitleType     uint32
	GroupID       uint16
	Reserved2     [2]byte
	Region        uint16
	Ratings       [16]byte
	Reserved3     [12]byte
	IPCMask       [12]byte
	Reserved4     [18]byte
	AccessRights  uint32
	TitleVersion  uint16
	NumContents   uint16
	BootIndex     uint16
	Padding2      [2]byte
}

// TMD is the Title Metadata record: a fixed header followed by one
// ContentRecord per content.
type TMD struct {
	tmdHeader
	Contents []ContentRecord
}

func readTMD(r io.Reader, size int64) (TMD, error) {
	var t TMD
	lr := io.LimitReader(r, size)
	if err := binary.Read(lr, binary.BigEndian, &t.tmdHeader); err != nil {
		return t, newIOError(err)
	}
	t.Contents = make([]ContentRecord, t.NumContents)
	if err := binary.Read(lr, binary.BigEndian, t.Contents); err != nil {
		return t, newIOError(err)
	}
	return t, nil
}

func writeTMD(w io.Writer, t *TMD) error {
	if err := binary.Write(w, binary.BigEndian, &t.tmdHeader); err != nil {
		return newIOError(err)
	}
	if err := binary.Write(w, binary.BigEndian, t.Contents); err != nil {
		return newIOError(err)
	}
	return nil
}

// tmdSize reports the on-wire byte length of a TMD.
func tmdSize(t *TMD) int64 {
	return tmdHeaderSize + int64(len(t.Contents))*contentRecordSize
}

// sigKeyLength maps a signature/public-key type tag to its on-disk length,
// per the Wii certificate chain format.
func sigKeyLength(typ uint32) int {
	switch typ {
	case 0x00010000: // RSA-4096
		return 0x200
	case 0x00010001: // RSA-2048
		return 0x100
	case 0x00010002: // ECC
		return 0x3C
	default:
		return 0x100
	}
}

func pubKeyLength(typ uint32) int {
	switch typ {
	case 0: // RSA-4096
		return 0x200
	case 1: // RSA-2048
		return 0x100
	case 2: // ECC
		return 0x3C
	default:
		return 0x100
	}
}

// Certificate is one entry of the inline certificate chain. Unlike the
// other records, its length depends on the signature and key type tags it
// carries, so it is parsed and serialized by hand rather than via a fixed
// struct layout.
type Certificate struct {
	SignatureType uint32
	Signature     []byte
	Issuer        [0x40]byte
	KeyType       uint32
	Subject       [0x40]byte
	PublicKey     []byte
	KeyID         uint32
	Padding       []byte
}

func readCertificate(r io.Reader) (Certificate, error) {
	var c Certificate
	if err := binary.Read(r, binary.BigEndian, &c.SignatureType); err != nil {
		return c, newIOError(err)
	}
	c.Signature = make([]byte, sigKeyLength(c.SignatureType))
	if _, err := io.ReadFull(r, c.Signature); err != nil {
		return c, newIOError(err)
	}
	sigPad := (0x40 - (4+len(c.Signature))%0x40) % 0x40
	if _, err := io.CopyN(io.Discard, r, int64(sigPad)); err != nil {
		return c, newIOError(err)
	}
	if err := binary.Read(r, binary.BigEndian, &c.Issuer); err != nil {
		return c, newIOError(err)
	}
	if err := binary.Read(r, binary.BigEndian, &c.KeyType); err != nil {
		return c, newIOError(err)
	}
	if err := binary.Read(r, binary.BigEndian, &c.Subject); err != nil {
		return c, newIOError(err)
	}
	c.PublicKey = make([]byte, pubKeyLength(c.KeyType))
	if _, err := io.ReadFull(r, c.PublicKey); err != nil {
		return c, newIOError(err)
	}
	if err := binary.Read(r, binary.BigEndian, &c.KeyID); err != nil {
		return c, newIOError(err)
	}
	// padding to the next multiple of 0x40 for the key+exponent region
	used := len(c.PublicKey) + 4
	pad := (0x40 - used%0x40) % 0x40
	c.Padding = make([]byte, pad)
	if _, err := io.ReadFull(r, c.Padding); err != nil {
		return c, newIOError(err)
	}
	return c, nil
}

func writeCertificate(w io.Writer, c *Certificate) error {
	sigPad := (0x40 - (4+len(c.Signature))%0x40) % 0x40
	fields := []interface{}{
		c.SignatureType, c.Signature, make([]byte, sigPad), c.Issuer,
		c.KeyType, c.Subject, c.PublicKey, c.KeyID, c.Padding,
	}
	for _, f := range fields {
		if err := binary.Write(w, binary.BigEndian, f); err != nil {
			return newIOError(err)
		}
	}
	return nil
}

func readCertificateChain(r io.Reader) ([3]Certificate, error) {
	var chain [3]Certificate
	for i := range chain {
		c, err := readCertificate(r)
		if err != nil {
			return chain, err
		}
		chain[i] = c
	}
	return chain, nil
}

func writeCertificateChain(w io.Writer, chain *[3]Certificate) error {
	for i := range chain {
		if err := writeCertificate(w, &chain[i]); err != nil {
			return err
		}
	}
	return nil
}

// ApploaderHeader introduces the apploader blob at logical offset 0x2440.
type ApploaderHeader struct {
	Date        [16]byte
	EntryPoint  uint32
	Size1       uint32
	Size2       uint32
	_           uint32
}

func readApploaderHeader(r io.Reader) (ApploaderHeader, error) {
	var h ApploaderHeader
	if err := binary.Read(r, binary.BigEndian, &h); err != nil {
		return h, newIOError(err)
	}
	return h, nil
}

// DOLHeader is Nintendo's executable header: up to 7 text and 11 data
// sections, each with an offset, a load address, and a size.
type DOLHeader struct {
	TextOff    [7]uint32
	DataOff    [11]uint32
	TextAddr   [7]uint32
	DataAddr   [11]uint32
	TextSizes  [7]uint32
	DataSizes  [11]uint32
	BSSAddr    uint32
	BSSSize    uint32
	EntryPoint uint32
	_          [0x1C]byte
}

func readDOLHeader(r io.Reader) (DOLHeader, error) {
	var h DOLHeader
	if err := binary.Read(r, binary.BigEndian, &h); err != nil {
		return h, newIOError(err)
	}
	return h, nil
}

// dolSize computes the total byte length of a DOL given its header, per
// §4.4: first text section's offset plus the saturating 32-bit sum of every
// section size. Returns KindMalformed if the sum saturates.
func dolSize(h *DOLHeader) (uint64, error) {
	sum := h.TextOff[0]
	saturate := func(a, b uint32) uint32 {
		s := a + b
		if s < a {
			return ^uint32(0)
		}
		return s
	}
	for _, s := range h.TextSizes {
		sum = saturate(sum, s)
	}
	for _, s := range h.DataSizes {
		sum = saturate(sum, s)
	}
	if sum == ^uint32(0) {
		return 0, newMalformedError("DOL size overflow")
	}
	return uint64(sum), nil
}
