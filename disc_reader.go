package wiidisc

import (
	"encoding/binary"
	"io"
)

// ReadAtSizer is the minimal random-access source ParseDisc parses: a
// ReaderAt paired with its total size, satisfied by every Reader that
// OpenDiscReader returns (a raw disc file or the wuzc container reader).
type ReadAtSizer interface {
	io.ReaderAt
	Size() int64
}

// Region mirrors the 32-byte region-setting block at regionOff: a region
// code and an age-rating table, preserved verbatim but not otherwise
// interpreted by this package.
type Region struct {
	RegionCode uint32
	Padding    [3]uint32
	AgeRatings [16]byte
}

func readRegion(r io.Reader) (Region, error) {
	var reg Region
	if err := binary.Read(r, binary.BigEndian, &reg); err != nil {
		return reg, newIOError(err)
	}
	return reg, nil
}

// DiscReader parses a whole Wii disc image: its header, partition table,
// and region block, and hands out PartitionReaders on demand.
type DiscReader struct {
	ra     ReadAtSizer
	size   int64
	Header DiscHeader
	Region Region

	entries []WiiPartTableEntry
}

// ParseDisc parses a disc image exposed as a ReaderAt/Size pair, typically
// the result of OpenDiscReader.
func ParseDisc(src ReadAtSizer) (*DiscReader, error) {
	sr := io.NewSectionReader(src, 0, src.Size())

	header, err := readDiscHeader(sr)
	if err != nil {
		return nil, err
	}

	if _, err := sr.Seek(partitionInfoOff, io.SeekStart); err != nil {
		return nil, newIOError(err)
	}
	entries, err := readPartitionTable(sr)
	if err != nil {
		return nil, err
	}

	if _, err := sr.Seek(regionOff, io.SeekStart); err != nil {
		return nil, newIOError(err)
	}
	reg, err := readRegion(sr)
	if err != nil {
		return nil, err
	}

	return &DiscReader{
		ra:      src,
		size:    src.Size(),
		Header:  header,
		Region:  reg,
		entries: entries,
	}, nil
}

// Partitions lists every partition table entry on the disc.
func (d *DiscReader) Partitions() []WiiPartTableEntry {
	return d.entries
}

// FindPartition returns the first partition table entry of the given kind.
func (d *DiscReader) FindPartition(kind PartitionKind) (WiiPartTableEntry, error) {
	for _, e := range d.entries {
		if e.Kind() == kind {
			return e, nil
		}
	}
	return WiiPartTableEntry{}, newSectionNotFoundError(kind)
}

// OpenPartition returns a PartitionReader for the first partition of the
// given kind, read-only. commonKey is the Wii common key matching the
// disc's region/generation, used only to unwrap the partition's ticket.
func (d *DiscReader) OpenPartition(kind PartitionKind, commonKey [16]byte) (*PartitionReader, error) {
	entry, err := d.FindPartition(kind)
	if err != nil {
		return nil, err
	}
	return openPartitionReader(d.ra, int64(entry.Offset()), commonKey)
}
