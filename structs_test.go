package wiidisc

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestDiscHeaderRoundTrip(t *testing.T) {
	var h DiscHeader
	h.DiscID = 'R'
	h.GameCode = [2]byte{'S', 'X'}
	h.RegionCode = 'E'
	copy(h.GameName[:], "Test Game")
	h.SetDOLOffset(0x2F0000)
	h.SetFSTOffset(0x3A0000)
	h.SetFSTSize(0x8000)

	var buf bytes.Buffer
	if err := writeDiscHeader(&buf, &h); err != nil {
		t.Fatalf("writeDiscHeader: %v", err)
	}
	if buf.Len() != discHeaderSize {
		t.Fatalf("serialized size = %d, want %d", buf.Len(), discHeaderSize)
	}

	got, err := readDiscHeader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("readDiscHeader: %v", err)
	}
	if got.DiscID != 'R' || got.GameCode != [2]byte{'S', 'X'} {
		t.Fatalf("header identity mismatch: %+v", got)
	}
	if got.DOLOffset() != 0x2F0000 {
		t.Fatalf("DOLOffset() = %#x, want %#x", got.DOLOffset(), 0x2F0000)
	}
	if got.FSTOffset() != 0x3A0000 || got.FSTSize() != 0x8000 {
		t.Fatalf("FST fields mismatch: off=%#x size=%#x", got.FSTOffset(), got.FSTSize())
	}
}

func TestTicketRoundTrip(t *testing.T) {
	var tk Ticket
	tk.TitleKey = fillKey(5)
	tk.TitleID = [8]byte{0, 1, 0, 0, 0, 1, 2, 3}
	tk.CommonKeyIdx = 1

	var buf bytes.Buffer
	if err := writeTicket(&buf, &tk); err != nil {
		t.Fatalf("writeTicket: %v", err)
	}

	got, err := readTicket(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("readTicket: %v", err)
	}
	if got.TitleKey != tk.TitleKey || got.TitleID != tk.TitleID || got.CommonKeyIdx != 1 {
		t.Fatalf("ticket round-trip mismatch: %+v", got)
	}
}

func TestWiiPartitionHeaderRoundTrip(t *testing.T) {
	hdr := WiiPartitionHeader{
		TMDOff:             newOffset32(0x1000),
		TMDSize:            0x200,
		CertChainOff:       newOffset32(0x500),
		CertChainSize:      0x400,
		GlobalHashTableOff: newOffset32(PartitionH3Offset),
		DataOff:            newOffset32(PartitionDataOffset),
		DataSizeRaw:        newOffset32(GroupDataSize),
	}

	var buf bytes.Buffer
	if err := writePartitionHeader(&buf, &hdr); err != nil {
		t.Fatalf("writePartitionHeader: %v", err)
	}
	if buf.Len() != PartitionHeaderSize {
		t.Fatalf("serialized size = %d, want %d", buf.Len(), PartitionHeaderSize)
	}

	got, err := readPartitionHeader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("readPartitionHeader: %v", err)
	}
	if got.TMDOffset() != 0x1000 || got.TMDSize != 0x200 {
		t.Fatalf("TMD fields mismatch: off=%#x size=%#x", got.TMDOffset(), got.TMDSize)
	}
	if got.DataOffset() != PartitionDataOffset || got.DataSize() != GroupDataSize {
		t.Fatalf("data fields mismatch: off=%#x size=%#x", got.DataOffset(), got.DataSize())
	}
}

func TestTMDRoundTrip(t *testing.T) {
	tmd := TMD{
		Contents: []ContentRecord{
			{ContentID: 0, Index: 0, Type: 1, Size: 0x1F0000, Hash: [20]byte{1, 2, 3}},
		},
	}
	tmd.NumContents = uint16(len(tmd.Contents))
	tmd.TitleID = 0x0001000157494D41

	var buf bytes.Buffer
	if err := writeTMD(&buf, &tmd); err != nil {
		t.Fatalf("writeTMD: %v", err)
	}
	if int64(buf.Len()) != tmdSize(&tmd) {
		t.Fatalf("serialized size = %d, want %d", buf.Len(), tmdSize(&tmd))
	}

	got, err := readTMD(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("readTMD: %v", err)
	}
	if got.TitleID != tmd.TitleID || len(got.Contents) != 1 {
		t.Fatalf("TMD round-trip mismatch: %+v", got)
	}
	if got.Contents[0].Size != 0x1F0000 || got.Contents[0].Hash != tmd.Contents[0].Hash {
		t.Fatalf("content record mismatch: %+v", got.Contents[0])
	}
}

func TestCertificateChainRoundTrip(t *testing.T) {
	mk := func(sigType, keyType uint32) Certificate {
		sig := make([]byte, sigKeyLength(sigType))
		pub := make([]byte, pubKeyLength(keyType))
		used := len(pub) + 4
		pad := (0x40 - used%0x40) % 0x40
		return Certificate{
			SignatureType: sigType,
			Signature:     sig,
			KeyType:       keyType,
			PublicKey:     pub,
			Padding:       make([]byte, pad),
		}
	}
	chain := [3]Certificate{
		mk(0x00010001, 0), // RSA-2048 sig over an RSA-4096 key
		mk(0x00010001, 1),
		mk(0x00010002, 2), // ECC sig over an ECC key
	}
	for i := range chain {
		for j := range chain[i].Signature {
			chain[i].Signature[j] = byte(i + j)
		}
	}

	var buf bytes.Buffer
	if err := writeCertificateChain(&buf, &chain); err != nil {
		t.Fatalf("writeCertificateChain: %v", err)
	}

	got, err := readCertificateChain(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("readCertificateChain: %v", err)
	}
	for i := range got {
		if !bytes.Equal(got[i].Signature, chain[i].Signature) {
			t.Fatalf("cert %d signature mismatch", i)
		}
		if len(got[i].PublicKey) != len(chain[i].PublicKey) {
			t.Fatalf("cert %d public key length mismatch: got %d want %d", i, len(got[i].PublicKey), len(chain[i].PublicKey))
		}
	}
}

func TestApploaderHeaderRoundTrip(t *testing.T) {
	var h ApploaderHeader
	copy(h.Date[:], "2007/01/01")
	h.EntryPoint = 0x80004000
	h.Size1 = 0x1234
	h.Size2 = 0x10

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, &h); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := readApploaderHeader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("readApploaderHeader: %v", err)
	}
	if got.EntryPoint != h.EntryPoint || got.Size1 != h.Size1 || got.Size2 != h.Size2 {
		t.Fatalf("apploader header mismatch: %+v", got)
	}
}

func TestDOLSize(t *testing.T) {
	var h DOLHeader
	h.TextOff[0] = 0x100
	h.TextSizes[0] = 0x1000
	h.DataSizes[0] = 0x2000

	size, err := dolSize(&h)
	if err != nil {
		t.Fatalf("dolSize: %v", err)
	}
	want := uint64(0x100 + 0x1000 + 0x2000)
	if size != want {
		t.Fatalf("dolSize = %#x, want %#x", size, want)
	}
}

func TestDOLSizeOverflow(t *testing.T) {
	var h DOLHeader
	h.TextOff[0] = ^uint32(0)
	for i := range h.TextSizes {
		h.TextSizes[i] = ^uint32(0)
	}
	if _, err := dolSize(&h); err == nil {
		t.Fatalf("expected overflow error")
	}
}
