package wiidisc

import (
	"bytes"

	"github.com/spf13/afero"
)

// DefaultPartitionOffset is where the first (and in this implementation,
// only) partition starts on a freshly built disc.
const DefaultPartitionOffset = partitionsStart

// ParsePartitionKind maps a section name ("DATA", "UPDATE", "CHANNEL") to
// its PartitionKind, for command-line front ends.
func ParsePartitionKind(s string) (PartitionKind, bool) {
	return parsePartitionKind(s)
}

// DefaultRegion returns an all-zero region block (region "ALL", no age
// ratings set), a reasonable default for discs built without a specific
// region requirement.
func DefaultRegion() Region {
	return Region{}
}

// ReadDiscHeaderBytes parses a disc header from an in-memory buffer, as
// produced by extracting sys/boot.bin from a partition.
func ReadDiscHeaderBytes(b []byte) (DiscHeader, error) {
	return readDiscHeader(bytes.NewReader(b))
}

// WriteDiscHeaderFile serializes a disc header to a file on fs, matching
// the sys/boot.bin layout produced by extraction.
func WriteDiscHeaderFile(fs afero.Fs, path string, h *DiscHeader) error {
	f, err := fs.Create(path)
	if err != nil {
		return newIOError(err)
	}
	defer f.Close()
	return writeDiscHeader(f, h)
}
