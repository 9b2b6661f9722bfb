package wuzc

// sectorTableEnd returns the byte offset, aligned up to sectorSize, at which
// sector data begins: right after the header and the sector index table.
func sectorTableEnd(headerSize, tableEntries, sectorSize int64) int64 {
	return (headerSize + tableEntries<<2 + sectorSize - 1) &^ (sectorSize - 1)
}
