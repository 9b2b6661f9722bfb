// Package wuzc implements sector-deduplicating compression of whole Wii
// disc images. Unlike a Wii-U WUX container, which compresses an entire
// game disc, wuzc targets the already-encrypted disc images this module
// produces and consumes: runs of identical ciphertext blocks (padding,
// repeated filler, empty regions past a partition's data) collapse to a
// single stored copy, addressed by content hash.
package wuzc

const (
	// Extension is the conventional file extension for this container.
	Extension = ".wuzc"

	magic0 uint32 = 0x5A5A5557 // "WUZZ"... first half of the magic pair
	magic1 uint32 = 0x1a2b3c4d
)

// header is the fixed, padded prefix written at the start of every wuzc
// file: a magic pair, the sector size used for deduplication, the total
// uncompressed size, and a reserved flags word.
type header struct {
	Magic            [2]uint32
	SectorSize       uint32
	_                uint32
	UncompressedSize uint64
	Flags            uint32
	_                uint32
}
