// Package testing holds helpers for assembling FAT12 disk images in memory,
// so driver tests can craft any on-disk layout they need without binary
// fixtures checked into the repository.
package testing

import (
	"encoding/binary"
	"testing"

	"github.com/noxer/bytewriter"
	"github.com/stretchr/testify/require"

	"github.com/dargueta/fat12"
	"github.com/dargueta/fat12/disks"
)

// rawBootRecord mirrors the first 62 bytes of a boot sector. The builder
// serializes this itself, rather than going through the driver, so that
// tests exercise the parser against independently produced bytes.
type rawBootRecord struct {
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

// ImageBuilder assembles a FAT12 disk image one piece at a time: clusters,
// FAT entries, and root directory entries land exactly where the caller
// says. Invalid use fails the test immediately rather than returning errors.
type ImageBuilder struct {
	t        *testing.T
	geometry disks.Geometry
	data     []byte

	bytesPerCluster int
	fatSizeBytes    int
	fatOffsets      []int
	rootDirOffset   int
	firstDataSector int
	nextRootSlot    int
}

// NewImageBuilder returns a builder holding a freshly formatted, empty image
// of the given geometry: boot record and signature written, every FAT copy
// initialized with the media entry and nothing else, root directory blank.
func NewImageBuilder(t *testing.T, geometry disks.Geometry) *ImageBuilder {
	rootDirSectors := (geometry.RootEntryCount*fat12.DirentSize +
		geometry.BytesPerSector - 1) / geometry.BytesPerSector

	builder := &ImageBuilder{
		t:               t,
		geometry:        geometry,
		data:            make([]byte, geometry.TotalSizeBytes()),
		bytesPerCluster: geometry.BytesPerSector * geometry.SectorsPerCluster,
		fatSizeBytes:    geometry.SectorsPerFAT * geometry.BytesPerSector,
		firstDataSector: geometry.ReservedSectors +
			geometry.NumFATs*geometry.SectorsPerFAT + rootDirSectors,
	}
	for i := 0; i < geometry.NumFATs; i++ {
		offset := (geometry.ReservedSectors + i*geometry.SectorsPerFAT) *
			geometry.BytesPerSector
		builder.fatOffsets = append(builder.fatOffsets, offset)
	}
	builder.rootDirOffset = (geometry.ReservedSectors +
		geometry.NumFATs*geometry.SectorsPerFAT) * geometry.BytesPerSector

	record := rawBootRecord{
		JmpBoot:           [3]byte{0xEB, 0x3C, 0x90},
		BytesPerSector:    uint16(geometry.BytesPerSector),
		SectorsPerCluster: uint8(geometry.SectorsPerCluster),
		ReservedSectors:   uint16(geometry.ReservedSectors),
		NumFATs:           uint8(geometry.NumFATs),
		RootEntryCount:    uint16(geometry.RootEntryCount),
		TotalSectors16:    uint16(geometry.TotalSectors),
		Media:             byte(geometry.MediaDescriptor),
		SectorsPerFAT16:   uint16(geometry.SectorsPerFAT),
		SectorsPerTrack:   uint16(geometry.SectorsPerTrack),
		NumHeads:          uint16(geometry.Heads),
		ExBootSignature:   0x29,
		VolumeID:          0x1234ABCD,
	}
	copy(record.OEMName[:], "MSDOS5.0")
	copy(record.VolumeLabel[:], "NO NAME    ")
	copy(record.FileSystemType[:], "FAT12   ")

	writer := bytewriter.New(builder.data)
	err := binary.Write(writer, binary.LittleEndian, &record)
	require.NoError(t, err, "serializing the boot record failed")

	builder.data[510] = 0x55
	builder.data[511] = 0xAA

	builder.SetFATEntry(0, 0xF00|uint16(geometry.MediaDescriptor))
	builder.SetFATEntry(1, 0xFFF)

	return builder
}

// Bytes returns the assembled image. The slice aliases the builder's
// buffer, so later builder calls write through to it.
func (builder *ImageBuilder) Bytes() []byte {
	return builder.data
}

// FATOffset returns the byte offset of one FAT copy within the image.
func (builder *ImageBuilder) FATOffset(copyIndex int) int {
	return builder.fatOffsets[copyIndex]
}

// RootDirOffset returns the byte offset of the root directory within the
// image.
func (builder *ImageBuilder) RootDirOffset() int {
	return builder.rootDirOffset
}

// ClusterOffset returns the byte offset of a data cluster within the image.
func (builder *ImageBuilder) ClusterOffset(cluster int) int {
	sector := builder.firstDataSector +
		(cluster-2)*builder.geometry.SectorsPerCluster
	return sector * builder.geometry.BytesPerSector
}

// SetFATEntry writes a 12-bit entry into every FAT copy.
func (builder *ImageBuilder) SetFATEntry(cluster int, value uint16) {
	for copyIndex := range builder.fatOffsets {
		builder.SetFATEntryInCopy(copyIndex, cluster, value)
	}
}

// SetFATEntryInCopy writes a 12-bit entry into a single FAT copy, leaving
// the others alone. Most tests want SetFATEntry; this one exists for
// desynchronizing the copies on purpose.
func (builder *ImageBuilder) SetFATEntryInCopy(copyIndex, cluster int, value uint16) {
	offset := builder.fatOffsets[copyIndex] + cluster*3/2
	require.Less(
		builder.t,
		offset+1,
		builder.fatOffsets[copyIndex]+builder.fatSizeBytes,
		"FAT entry for cluster %d lies outside the FAT",
		cluster)

	if cluster%2 == 0 {
		builder.data[offset] = byte(value)
		builder.data[offset+1] = (builder.data[offset+1] & 0xF0) | byte(value>>8&0x0F)
	} else {
		builder.data[offset] = (builder.data[offset] & 0x0F) | byte(value&0x0F)<<4
		builder.data[offset+1] = byte(value >> 4)
	}
}

// WriteCluster copies a payload into a data cluster. Payloads shorter than
// the cluster leave the remainder untouched.
func (builder *ImageBuilder) WriteCluster(cluster int, payload []byte) {
	require.LessOrEqual(
		builder.t,
		len(payload),
		builder.bytesPerCluster,
		"payload doesn't fit in one cluster")

	offset := builder.ClusterOffset(cluster)
	copy(builder.data[offset:], payload)
}

// DirentSpec describes one root directory entry for AddDirent. Name is
// encoded the way the file system encodes it; RawName overrides that with
// eleven arbitrary bytes for entries no valid name can produce.
type DirentSpec struct {
	Name         string
	RawName      []byte
	Attributes   byte
	StartCluster int
	Size         int
	Deleted      bool
	ModifiedDate uint16
	ModifiedTime uint16
}

// AddDirent writes a directory entry into the next free root slot and
// returns the slot index.
func (builder *ImageBuilder) AddDirent(spec DirentSpec) int {
	require.Less(
		builder.t,
		builder.nextRootSlot,
		builder.geometry.RootEntryCount,
		"root directory is full")

	slot := builder.nextRootSlot
	builder.nextRootSlot++

	offset := builder.rootDirOffset + slot*fat12.DirentSize
	entry := builder.data[offset : offset+fat12.DirentSize]

	if spec.RawName != nil {
		require.Len(builder.t, spec.RawName, 11, "raw names are exactly 11 bytes")
		copy(entry, spec.RawName)
	} else {
		rawName, err := fat12.FilenameToBytes(spec.Name)
		require.NoError(builder.t, err)
		copy(entry, rawName[:])
	}

	entry[11] = spec.Attributes
	binary.LittleEndian.PutUint16(entry[22:24], spec.ModifiedTime)
	binary.LittleEndian.PutUint16(entry[24:26], spec.ModifiedDate)
	binary.LittleEndian.PutUint16(entry[26:28], uint16(spec.StartCluster))
	binary.LittleEndian.PutUint32(entry[28:32], uint32(spec.Size))

	if spec.Deleted {
		entry[0] = 0xE5
	}
	return slot
}

// AddFile writes `contents` into the given clusters in order, links the
// clusters into a terminated chain in every FAT copy, and adds a root
// directory entry pointing at the first one. Listing more clusters than the
// contents need is allowed; the extras join the chain but stay blank.
func (builder *ImageBuilder) AddFile(name string, contents []byte, clusters ...int) {
	if len(contents) > 0 {
		require.NotEmpty(
			builder.t, clusters, "non-empty file needs at least one cluster")
		require.LessOrEqual(
			builder.t,
			len(contents),
			len(clusters)*builder.bytesPerCluster,
			"contents don't fit in the given clusters")
	}

	for i, cluster := range clusters {
		start := i * builder.bytesPerCluster
		end := start + builder.bytesPerCluster
		if end > len(contents) {
			end = len(contents)
		}
		if start < end {
			builder.WriteCluster(cluster, contents[start:end])
		}

		if i+1 < len(clusters) {
			builder.SetFATEntry(cluster, uint16(clusters[i+1]))
		} else {
			builder.SetFATEntry(cluster, 0xFFF)
		}
	}

	startCluster := 0
	if len(clusters) > 0 {
		startCluster = clusters[0]
	}
	builder.AddDirent(DirentSpec{
		Name:         name,
		Attributes:   fat12.AttrArchived,
		StartCluster: startCluster,
		Size:         len(contents),
	})
}

// AddVolumeLabel adds a volume label entry to the root directory.
func (builder *ImageBuilder) AddVolumeLabel(label string) {
	require.LessOrEqual(builder.t, len(label), 11, "labels are at most 11 bytes")

	rawName := []byte("           ")
	copy(rawName, label)
	builder.AddDirent(DirentSpec{RawName: rawName, Attributes: fat12.AttrVolumeLabel})
}

// SetVolumeID overwrites the volume serial number in the boot sector.
func (builder *ImageBuilder) SetVolumeID(id uint32) {
	binary.LittleEndian.PutUint32(builder.data[39:43], id)
}

// SetBootVolumeLabel overwrites the volume label field in the boot sector's
// extended boot record. This is distinct from AddVolumeLabel, which writes
// the root directory entry form of the label.
func (builder *ImageBuilder) SetBootVolumeLabel(label string) {
	require.LessOrEqual(builder.t, len(label), 11, "labels are at most 11 bytes")

	copy(builder.data[43:54], "           ")
	copy(builder.data[43:54], label)
}
