package wiidisc

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"io"
	"testing"

	"github.com/spf13/afero"
)

func TestPatchTMD(t *testing.T) {
	tmd := TMD{}
	h3 := bytes.Repeat([]byte{0x5A}, H3TableSize)

	if err := PatchTMD(&tmd, 0x1F0000, h3); err != nil {
		t.Fatalf("PatchTMD: %v", err)
	}
	if len(tmd.Contents) != 1 {
		t.Fatalf("Contents = %d entries, want 1", len(tmd.Contents))
	}
	if tmd.NumContents != 1 {
		t.Fatalf("NumContents = %d, want 1", tmd.NumContents)
	}
	if tmd.Contents[0].Size != 0x1F0000 {
		t.Fatalf("content size = %#x, want %#x", tmd.Contents[0].Size, 0x1F0000)
	}
	wantHash := sha1.Sum(h3)
	if tmd.Contents[0].Hash != wantHash {
		t.Fatalf("content hash mismatch")
	}
	for _, b := range tmd.Signature {
		if b != 0 {
			t.Fatalf("signature not zeroed")
		}
	}

	var buf bytes.Buffer
	if err := writeTMD(&buf, &tmd); err != nil {
		t.Fatalf("writeTMD: %v", err)
	}
	sum := sha1.Sum(buf.Bytes()[tmdHashedFrom:])
	if sum[0] != 0 {
		t.Fatalf("signed-region hash = %x, want leading zero byte", sum)
	}
}

// afSizeReaderAt adapts an afero.File to the ReadAtSizer this package's
// disc reader expects.
type afSizeReaderAt struct {
	afero.File
	size int64
}

func (a *afSizeReaderAt) Size() int64 { return a.size }

// buildFSBundle lays down a directory-builder source tree with two files of
// different sizes in different directories. The FST it writes carries only
// placeholder (zero) offsets and lengths -- real placement is the
// builder's job, not this helper's -- so the round trip below genuinely
// exercises BuildPartitionData's layout algorithm rather than assuming it.
func buildFSBundle(t *testing.T, fs afero.Fs, fileContent, otherContent []byte) {
	t.Helper()
	if err := fs.MkdirAll("sys", 0o755); err != nil {
		t.Fatalf("mkdir sys: %v", err)
	}
	if err := fs.MkdirAll("files/data", 0o755); err != nil {
		t.Fatalf("mkdir files/data: %v", err)
	}

	var header DiscHeader
	header.DiscID = 'R'
	header.GameCode = [2]byte{'T', 'T'}
	copy(header.GameName[:], "builder test disc")

	var dolHdr DOLHeader
	dolHdr.TextOff[0] = 0x100
	dolHdr.TextSizes[0] = 0x20
	var dolBuf bytes.Buffer
	if err := binary.Write(&dolBuf, binary.BigEndian, &dolHdr); err != nil {
		t.Fatalf("encode dol header: %v", err)
	}
	dolBuf.Write(bytes.Repeat([]byte{0xEE}, 0x20))
	if err := afero.WriteFile(fs, "sys/main.dol", dolBuf.Bytes(), 0o644); err != nil {
		t.Fatalf("write main.dol: %v", err)
	}

	apploader := make([]byte, 0x20) // header only, Size1=Size2=0
	if err := afero.WriteFile(fs, "sys/apploader.img", apploader, 0o644); err != nil {
		t.Fatalf("write apploader.img: %v", err)
	}

	if err := afero.WriteFile(fs, "sys/bi2.bin", make([]byte, 0x2000), 0o644); err != nil {
		t.Fatalf("write bi2.bin: %v", err)
	}

	root := &FstNode{IsDir: true, Children: []*FstNode{
		{Name: "test.txt"},
		{Name: "data", IsDir: true, Children: []*FstNode{
			{Name: "course.bin"},
		}},
	}}
	fstBytes := SerializeFST(root)

	if err := afero.WriteFile(fs, "sys/fst.bin", fstBytes, 0o644); err != nil {
		t.Fatalf("write fst.bin: %v", err)
	}
	if err := afero.WriteFile(fs, "files/test.txt", fileContent, 0o644); err != nil {
		t.Fatalf("write files/test.txt: %v", err)
	}
	if err := afero.WriteFile(fs, "files/data/course.bin", otherContent, 0o644); err != nil {
		t.Fatalf("write files/data/course.bin: %v", err)
	}

	if err := WriteDiscHeaderFile(fs, "sys/boot.bin", &header); err != nil {
		t.Fatalf("write boot.bin: %v", err)
	}
}

func TestDirPartitionBuilderFullRoundTrip(t *testing.T) {
	srcFS := afero.NewMemMapFs()
	fileContent := []byte("hello from the builder round trip test!")
	otherContent := bytes.Repeat([]byte{0x7A}, 0x123) // deliberately not a multiple of the alignment
	buildFSBundle(t, srcFS, fileContent, otherContent)

	boot, err := afero.ReadFile(srcFS, "sys/boot.bin")
	if err != nil {
		t.Fatalf("read boot.bin: %v", err)
	}
	header, err := ReadDiscHeaderBytes(boot)
	if err != nil {
		t.Fatalf("ReadDiscHeaderBytes: %v", err)
	}

	destFS := afero.NewMemMapFs()
	builder, err := CreateDisc(destFS, "disc.iso", header)
	if err != nil {
		t.Fatalf("CreateDisc: %v", err)
	}

	def := NewDirPartitionBuilder(srcFS, "")

	commonKey := fillKey(30)
	plainKey := fillKey(40)
	var ticket Ticket
	ticket.TitleID = [8]byte{0, 1, 0, 0, 0, 1, 2, 3}
	var certs [3]Certificate
	for i := range certs {
		certs[i].Signature = make([]byte, sigKeyLength(0))
		certs[i].KeyType = 1
		certs[i].PublicKey = make([]byte, pubKeyLength(certs[i].KeyType))
		used := len(certs[i].PublicKey) + 4
		certs[i].Padding = make([]byte, (0x40-used%0x40)%0x40)
	}
	var tmd TMD

	if err := builder.AddPartition(PartitionData, DefaultPartitionOffset, ticket, commonKey, plainKey, certs, tmd, def, nil); err != nil {
		t.Fatalf("AddPartition: %v", err)
	}
	if err := builder.Finish(DefaultRegion()); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	f, err := destFS.Open("disc.iso")
	if err != nil {
		t.Fatalf("open built disc: %v", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		t.Fatalf("stat built disc: %v", err)
	}

	disc, err := ParseDisc(&afSizeReaderAt{File: f, size: info.Size()})
	if err != nil {
		t.Fatalf("ParseDisc: %v", err)
	}

	entry, err := disc.FindPartition(PartitionData)
	if err != nil {
		t.Fatalf("FindPartition: %v", err)
	}
	if entry.Offset() != DefaultPartitionOffset {
		t.Fatalf("partition offset = %#x, want %#x", entry.Offset(), DefaultPartitionOffset)
	}

	part, err := disc.OpenPartition(PartitionData, commonKey)
	if err != nil {
		t.Fatalf("OpenPartition: %v", err)
	}

	gotHeader, err := part.ReadDiscHeader()
	if err != nil {
		t.Fatalf("ReadDiscHeader: %v", err)
	}
	if gotHeader.DiscID != 'R' || gotHeader.GameCode != [2]byte{'T', 'T'} {
		t.Fatalf("disc header identity mismatch: %+v", gotHeader)
	}
	// Neither offset was ever told to the builder; both must be computed
	// and 0x20-aligned, and must land after the fixed apploader region.
	if gotHeader.DOLOffset()%0x20 != 0 || gotHeader.DOLOffset() < 0x2440 {
		t.Fatalf("DOL offset %#x is not a valid computed placement", gotHeader.DOLOffset())
	}
	if gotHeader.FSTOffset()%0x20 != 0 || gotHeader.FSTOffset() <= gotHeader.DOLOffset() {
		t.Fatalf("FST offset %#x is not a valid computed placement", gotHeader.FSTOffset())
	}

	dol, err := part.ReadDOL()
	if err != nil {
		t.Fatalf("ReadDOL: %v", err)
	}
	if len(dol) != 0x120 {
		t.Fatalf("dol length = %#x, want %#x", len(dol), 0x120)
	}

	root, err := part.Fst()
	if err != nil {
		t.Fatalf("Fst: %v", err)
	}

	stream := part.Stream()
	readBack := func(name string, want []byte) {
		t.Helper()
		node := root.FindNode(name)
		if node == nil {
			t.Fatalf("%s not found in rebuilt FST", name)
		}
		if node.Length != uint64(len(want)) {
			t.Fatalf("%s length = %d, want %d", name, node.Length, len(want))
		}
		if node.Offset%0x40 != 0 {
			t.Fatalf("%s offset %#x is not 0x40-aligned", name, node.Offset)
		}
		if _, err := stream.Seek(int64(node.Offset), io.SeekStart); err != nil {
			t.Fatalf("seek to %s: %v", name, err)
		}
		buf := make([]byte, node.Length)
		if _, err := io.ReadFull(stream, buf); err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if !bytes.Equal(buf, want) {
			t.Fatalf("%s content mismatch: got %q, want %q", name, buf, want)
		}
	}
	readBack("test.txt", fileContent)
	readBack("data/course.bin", otherContent)

	// The two files must not have been placed on top of each other.
	a, b := root.FindNode("test.txt"), root.FindNode("data/course.bin")
	if a.Offset == b.Offset {
		t.Fatalf("test.txt and data/course.bin landed at the same offset %#x", a.Offset)
	}
	lo, hi := a, b
	if lo.Offset > hi.Offset {
		lo, hi = hi, lo
	}
	if lo.Offset+lo.Length > hi.Offset {
		t.Fatalf("file regions overlap: %+v, %+v", a, b)
	}
}
