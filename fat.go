package fat12

import (
	"bytes"
	"fmt"
)

// Cluster numbers with special meanings. Everything in [MinDataCluster,
// MaxDataCluster] addresses a real data cluster; the rest of the 12-bit
// space is free markers, reserved values, the bad-cluster marker, and
// end-of-chain markers.
const (
	MinDataCluster    = 0x002
	MaxDataCluster    = 0xFEF
	BadClusterMark    = 0xFF7
	MinEndOfChainMark = 0xFF8
	MaxEndOfChainMark = 0xFFF
)

// FATEntry is a single decoded 12-bit entry from the file allocation table.
// Only the low 12 bits are ever set.
type FATEntry uint16

// IsFree indicates the cluster owning this entry is unallocated.
func (entry FATEntry) IsFree() bool {
	return entry == 0
}

// IsReserved indicates the entry holds one of the values reserved by the
// format and never valid inside a file chain.
func (entry FATEntry) IsReserved() bool {
	return entry == 0x001 || (entry >= 0xFF0 && entry <= 0xFF6)
}

// IsBad indicates the cluster owning this entry is marked as unusable.
func (entry FATEntry) IsBad() bool {
	return entry == BadClusterMark
}

// IsEndOfChain indicates this entry terminates a cluster chain.
func (entry FATEntry) IsEndOfChain() bool {
	return entry >= MinEndOfChainMark
}

// PointsToData indicates this entry is a link to another data cluster.
func (entry FATEntry) PointsToData() bool {
	return entry >= MinDataCluster && entry <= MaxDataCluster
}

// FAT is one copy of the file allocation table as raw packed bytes, sliced
// directly out of the disk image.
type FAT []byte

// NumEntries returns the number of whole 12-bit entries the table holds,
// counting the two reserved entries at the front. The FAT region usually has
// slack beyond the last real cluster because its size is rounded up to whole
// sectors, so this can exceed the cluster count from the boot sector.
func (fat FAT) NumEntries() int {
	return len(fat) * 2 / 3
}

// EntryAt decodes the 12-bit entry for the given cluster.
//
// Entries are packed three bytes per pair: an even-numbered cluster takes
// the first byte plus the low nibble of the second, and the following odd
// cluster takes the high nibble of the second byte plus all of the third.
// Asking for an entry whose bytes fall even partially outside the table
// fails with ErrClusterOutOfRange.
func (fat FAT) EntryAt(cluster ClusterID) (FATEntry, error) {
	offset := int(cluster) * 3 / 2
	if offset+1 >= len(fat) {
		message := fmt.Sprintf(
			"cluster %d needs FAT bytes %d-%d but the FAT is only %d bytes",
			cluster,
			offset,
			offset+1,
			len(fat))
		return 0, ErrClusterOutOfRange.WithMessage(message)
	}

	if cluster%2 == 0 {
		return FATEntry(fat[offset]) | (FATEntry(fat[offset+1]&0x0F) << 8), nil
	}
	return FATEntry(fat[offset]>>4) | (FATEntry(fat[offset+1]) << 4), nil
}

// VerifyFATMirrors checks that every FAT copy on the disk is byte-for-byte
// identical to the first. A mismatch means the image was written by
// something buggy or was corrupted afterwards; reads still work either way
// since the driver only ever consults the first copy.
func (image *Image) VerifyFATMirrors() error {
	fatSize := image.bootSector.SectorsPerFAT * image.bootSector.BytesPerSector

	for copyIndex := 1; copyIndex < image.bootSector.NumFATs; copyIndex++ {
		start := image.bootSector.ByteOffsetOfSector(
			image.bootSector.FirstFATSector +
				SectorID(copyIndex*image.bootSector.SectorsPerFAT))
		mirror := image.data[start : start+fatSize]

		if !bytes.Equal([]byte(image.fat), mirror) {
			message := fmt.Sprintf(
				"disk corruption detected: FAT copy 1 differs from FAT copy %d",
				copyIndex+1)
			return ErrFATMirrorMismatch.WithMessage(message)
		}
	}
	return nil
}
