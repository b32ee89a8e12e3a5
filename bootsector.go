// Package fat12 implements a read-only driver for FAT12 disk images held
// entirely in memory.
package fat12

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

type SectorID uint32
type ClusterID uint16

// BootRecordSize is the number of bytes of the boot sector that the driver
// needs to see, from the jump instruction through the end of the extended
// boot record. Anything past this (boot code, the 0x55AA signature) is
// optional as far as parsing is concerned.
const BootRecordSize = 62

// rawBootSector is the on-disk representation of the boot sector, up to and
// including the FAT12/FAT16 extended boot record.
//
// Note: Every field must be exported or binary.Read will choke on the struct.
type rawBootSector struct {
	JmpBoot           [3]byte
	OEMName           [8]byte
	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumFATs           uint8
	RootEntryCount    uint16
	TotalSectors16    uint16
	Media             uint8
	SectorsPerFAT16   uint16
	SectorsPerTrack   uint16
	NumHeads          uint16
	HiddenSectors     uint32
	TotalSectors32    uint32
	DriveNumber       uint8
	NTReserved        uint8
	ExBootSignature   uint8
	VolumeID          uint32
	VolumeLabel       [11]byte
	FileSystemType    [8]byte
}

// BootSector is the decoded boot sector plus geometry precomputed for use in
// other operations. Integer fields are widened from their on-disk sizes so
// that arithmetic on them can't overflow.
type BootSector struct {
	OEMName           string
	BytesPerSector    int
	SectorsPerCluster int
	ReservedSectors   int
	NumFATs           int
	RootEntryCount    int
	TotalSectors      int
	SectorsPerFAT     int
	SectorsPerTrack   int
	NumHeads          int
	HiddenSectors     int
	Media             byte

	// Fields from the extended boot record. These are only meaningful if
	// ExtendedBootSignature is 0x29 (or 0x28 for a partial EBR).
	DriveNumber           byte
	ExtendedBootSignature byte
	VolumeID              uint32
	VolumeLabel           string
	FileSystemType        string

	// Derived geometry.
	TotalFATSectors    int
	RootDirSectors     int
	BytesPerCluster    int
	TotalDataSectors   int
	TotalClusters      int
	FirstFATSector     SectorID
	FirstRootDirSector SectorID
	FirstDataSector    SectorID
	FATVersion         int

	// HasBootSignature indicates whether the image carries the 0x55AA
	// signature at offset 510. Plenty of real FAT12 images don't, so its
	// absence is never treated as an error.
	HasBootSignature bool
}

// DetermineFATVersion determines the version of the FAT file system based on
// the number of clusters on the system. (This is the only proper way to do
// so.)
func DetermineFATVersion(totalClusters int) int {
	// These cluster counts, while odd-looking, are correct. They're taken
	// directly from Microsoft's FAT documentation, v1.03, page 14.
	if totalClusters < 4085 {
		return 12
	}
	if totalClusters < 65525 {
		return 16
	}
	return 32
}

// NewBootSector decodes the boot sector at the beginning of `image` and
// returns a structure with detailed information on the file system.
//
// The image must be at least BootRecordSize bytes long or this fails with
// ErrTruncatedImage. A zero BytesPerSector, SectorsPerCluster, or NumFATs
// fails with ErrInvalidGeometry; those three values are the only ones the
// geometry computations divide or multiply by, so they're the only ones
// rejected here. Anything else merely suspicious is left for the caller to
// complain about.
func NewBootSector(image []byte) (*BootSector, error) {
	if len(image) < BootRecordSize {
		message := fmt.Sprintf(
			"image is %d bytes, need at least %d for the boot sector",
			len(image),
			BootRecordSize)
		return nil, ErrTruncatedImage.WithMessage(message)
	}

	raw := rawBootSector{}
	err := binary.Read(bytes.NewReader(image[:BootRecordSize]), binary.LittleEndian, &raw)
	if err != nil {
		// Can't happen with a reader we know holds enough bytes, but the
		// signature demands we deal with it.
		return nil, ErrTruncatedImage.Wrap(err)
	}

	if raw.BytesPerSector == 0 {
		return nil, ErrInvalidGeometry.WithMessage(
			"corruption detected: BytesPerSector is 0")
	}
	if raw.SectorsPerCluster == 0 {
		return nil, ErrInvalidGeometry.WithMessage(
			"corruption detected: SectorsPerCluster is 0")
	}
	if raw.NumFATs == 0 {
		return nil, ErrInvalidGeometry.WithMessage(
			"corruption detected: NumFATs is 0")
	}

	totalSectors := int(raw.TotalSectors16)
	if totalSectors == 0 {
		totalSectors = int(raw.TotalSectors32)
	}

	bytesPerSector := int(raw.BytesPerSector)
	sectorsPerCluster := int(raw.SectorsPerCluster)
	reservedSectors := int(raw.ReservedSectors)
	numFATs := int(raw.NumFATs)
	rootEntryCount := int(raw.RootEntryCount)
	sectorsPerFAT := int(raw.SectorsPerFAT16)

	// The number of sectors taken up by the root directory, rounded up to a
	// whole sector. On FAT32 systems this would be 0; we don't handle those.
	rootDirSectors := ((rootEntryCount * DirentSize) + bytesPerSector - 1) / bytesPerSector

	totalFATSectors := numFATs * sectorsPerFAT
	dataSectors := totalSectors - (reservedSectors + totalFATSectors + rootDirSectors)
	if dataSectors < 0 {
		// The header claims fewer sectors than its own metadata occupies.
		// Treat the data area as empty rather than failing; every cluster
		// reference will then be out of range, which is a more precise error.
		dataSectors = 0
	}
	totalClusters := dataSectors / sectorsPerCluster

	firstFATSector := SectorID(reservedSectors)
	firstRootDirSector := firstFATSector + SectorID(totalFATSectors)
	firstDataSector := firstRootDirSector + SectorID(rootDirSectors)

	bootSector := BootSector{
		OEMName:           decodeOEMString(raw.OEMName[:]),
		BytesPerSector:    bytesPerSector,
		SectorsPerCluster: sectorsPerCluster,
		ReservedSectors:   reservedSectors,
		NumFATs:           numFATs,
		RootEntryCount:    rootEntryCount,
		TotalSectors:      totalSectors,
		SectorsPerFAT:     sectorsPerFAT,
		SectorsPerTrack:   int(raw.SectorsPerTrack),
		NumHeads:          int(raw.NumHeads),
		HiddenSectors:     int(raw.HiddenSectors),
		Media:             raw.Media,

		DriveNumber:           raw.DriveNumber,
		ExtendedBootSignature: raw.ExBootSignature,
		VolumeID:              raw.VolumeID,
		VolumeLabel:           decodeOEMString(raw.VolumeLabel[:]),
		FileSystemType:        decodeOEMString(raw.FileSystemType[:]),

		TotalFATSectors:    totalFATSectors,
		RootDirSectors:     rootDirSectors,
		BytesPerCluster:    bytesPerSector * sectorsPerCluster,
		TotalDataSectors:   dataSectors,
		TotalClusters:      totalClusters,
		FirstFATSector:     firstFATSector,
		FirstRootDirSector: firstRootDirSector,
		FirstDataSector:    firstDataSector,
		FATVersion:         DetermineFATVersion(totalClusters),

		HasBootSignature: len(image) >= 512 && image[510] == 0x55 && image[511] == 0xAA,
	}
	return &bootSector, nil
}

// ByteOffsetOfSector gives the byte offset of a sector within the image.
func (bootSector *BootSector) ByteOffsetOfSector(sector SectorID) int {
	return int(sector) * bootSector.BytesPerSector
}

// SectorOfCluster gives the first sector of a data cluster. The caller is
// responsible for ensuring `cluster` is a valid data cluster, i.e. at least
// MinDataCluster.
func (bootSector *BootSector) SectorOfCluster(cluster ClusterID) SectorID {
	clustersIn := (int(cluster) - MinDataCluster) * bootSector.SectorsPerCluster
	return bootSector.FirstDataSector + SectorID(clustersIn)
}

// ByteOffsetOfCluster gives the byte offset of a data cluster within the
// image. As with SectorOfCluster, `cluster` must be at least MinDataCluster.
func (bootSector *BootSector) ByteOffsetOfCluster(cluster ClusterID) int {
	return bootSector.ByteOffsetOfSector(bootSector.SectorOfCluster(cluster))
}
