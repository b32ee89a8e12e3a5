package fat12

import (
	"fmt"

	bitmap "github.com/boljen/go-bitmap"
	"go.uber.org/zap"
)

// Image is a read-only view of a FAT12 file system held entirely in memory.
// All methods operate on the byte slice given to New; none of them perform
// I/O and none of them modify the slice.
type Image struct {
	data       []byte
	bootSector *BootSector
	fat        FAT
	rootDir    []byte
	logger     *zap.SugaredLogger
}

// New parses the boot sector of `data` and returns an Image ready for
// reading. The slice must be large enough to hold the reserved region, every
// FAT copy, and the root directory; anything past that is only required once
// a read actually touches it.
//
// The caller keeps ownership of `data` but must not modify it while the
// Image is in use.
func New(data []byte) (*Image, error) {
	return NewWithLogger(data, zap.NewNop().Sugar())
}

// NewWithLogger is New with diagnostics. Oddities that don't prevent
// reading, like a missing boot signature or a sector size no real disk ever
// had, are logged as warnings instead of failing the parse.
func NewWithLogger(data []byte, logger *zap.SugaredLogger) (*Image, error) {
	bootSector, err := NewBootSector(data)
	if err != nil {
		return nil, err
	}

	fatStart := bootSector.ByteOffsetOfSector(bootSector.FirstFATSector)
	fatSize := bootSector.SectorsPerFAT * bootSector.BytesPerSector
	fatRegionEnd := fatStart + bootSector.NumFATs*fatSize
	if fatRegionEnd > len(data) {
		message := fmt.Sprintf(
			"the %d FAT copies end at byte %d but the image is only %d bytes",
			bootSector.NumFATs,
			fatRegionEnd,
			len(data))
		return nil, ErrTruncatedImage.WithMessage(message)
	}

	rootDirStart := bootSector.ByteOffsetOfSector(bootSector.FirstRootDirSector)
	rootDirEnd := rootDirStart + bootSector.RootEntryCount*DirentSize
	if rootDirEnd > len(data) {
		message := fmt.Sprintf(
			"the root directory ends at byte %d but the image is only %d bytes",
			rootDirEnd,
			len(data))
		return nil, ErrTruncatedImage.WithMessage(message)
	}

	switch bootSector.BytesPerSector {
	case 512, 1024, 2048, 4096:
	default:
		logger.Warnf(
			"BytesPerSector should be 512, 1024, 2048, or 4096, got %d; continuing anyway",
			bootSector.BytesPerSector)
	}
	if bootSector.SectorsPerCluster&(bootSector.SectorsPerCluster-1) != 0 {
		logger.Warnf(
			"SectorsPerCluster should be a power of 2, got %d; continuing anyway",
			bootSector.SectorsPerCluster)
	}
	if bootSector.FATVersion != 12 {
		logger.Warnf(
			"%d clusters makes this look like a FAT%d file system; reading it as"+
				" FAT12 will misinterpret the allocation table",
			bootSector.TotalClusters,
			bootSector.FATVersion)
	}
	if !bootSector.HasBootSignature {
		logger.Debugf("image has no 0x55AA boot signature")
	}
	logger.Debugf(
		"%d bytes/sector, %d sectors/cluster, %d reserved, %d FATs of %d sectors,"+
			" %d root entries, %d total sectors, %d data clusters",
		bootSector.BytesPerSector,
		bootSector.SectorsPerCluster,
		bootSector.ReservedSectors,
		bootSector.NumFATs,
		bootSector.SectorsPerFAT,
		bootSector.RootEntryCount,
		bootSector.TotalSectors,
		bootSector.TotalClusters)

	image := &Image{
		data:       data,
		bootSector: bootSector,
		fat:        FAT(data[fatStart : fatStart+fatSize]),
		rootDir:    data[rootDirStart:rootDirEnd],
		logger:     logger,
	}
	return image, nil
}

// BootSector returns the decoded boot sector. The caller must treat it as
// read-only.
func (image *Image) BootSector() *BootSector {
	return image.bootSector
}

// FAT returns the first copy of the file allocation table, aliased directly
// into the image.
func (image *Image) FAT() FAT {
	return image.fat
}

// Size returns the size of the underlying image, in bytes.
func (image *Image) Size() int {
	return len(image.data)
}

// Bytes returns the raw image contents. The caller must not modify them.
func (image *Image) Bytes() []byte {
	return image.data
}

// Stat looks up a file in the root directory by name and returns its
// directory entry. The name is matched the way the file system itself would:
// case-insensitively, against the 11-byte on-disk form. Fails with
// ErrNotFound if no live entry matches.
func (image *Image) Stat(name string) (DirectoryEntry, error) {
	rawName, err := FilenameToBytes(name)
	if err != nil {
		return DirectoryEntry{}, err
	}

	rawDirent, err := findDirent(image.rootDir, rawName)
	if err != nil {
		return DirectoryEntry{}, err
	}
	return NewDirectoryEntryFromRaw(&rawDirent), nil
}

// ReadDir lists the live entries of the root directory in on-disk order.
// The volume label doesn't name a file, so it's omitted here; Info reports
// it instead.
func (image *Image) ReadDir() []DirectoryEntry {
	allDirents := listDirents(image.rootDir)

	dirents := make([]DirectoryEntry, 0, len(allDirents))
	for _, dirent := range allDirents {
		if dirent.IsVolumeLabel() {
			continue
		}
		dirents = append(dirents, dirent)
	}
	return dirents
}

// ReadFile returns the full contents of the named file from the root
// directory.
//
// The directory entry's size field decides how many bytes come back: the
// final cluster's trailing slack is never included, and a chain longer than
// the size needs is never followed past the point where the size is
// satisfied. If the chain ends early instead, ReadFile returns everything it
// managed to recover along with ErrTruncatedFile, in the manner of
// io.ReadFull.
func (image *Image) ReadFile(name string) ([]byte, error) {
	dirent, err := image.Stat(name)
	if err != nil {
		return nil, err
	}

	image.logger.Debugf(
		"reading `%s`: %d bytes starting at cluster %d",
		dirent.Name(),
		dirent.Size,
		dirent.StartCluster)
	return image.readFileContents(&dirent)
}

// readFileContents walks a directory entry's cluster chain and collects the
// file's bytes.
func (image *Image) readFileContents(dirent *DirectoryEntry) ([]byte, error) {
	// An empty file has no clusters and its start field is meaningless, so
	// don't even look at it.
	if dirent.Size == 0 {
		return []byte{}, nil
	}

	contents := make([]byte, 0, dirent.Size)
	remaining := int(dirent.Size)

	// One bit per addressable cluster number, so any cluster that passes the
	// range check below can be marked without further bounds checking.
	visited := bitmap.New(MaxDataCluster + 1)

	cluster := dirent.StartCluster
	for {
		if cluster < MinDataCluster || cluster > MaxDataCluster {
			message := fmt.Sprintf(
				"chain for `%s` hit cluster %#03x, which isn't a data cluster",
				dirent.Name(),
				uint16(cluster))
			return nil, ErrInvalidClusterChain.WithMessage(message)
		}
		if visited.Get(int(cluster)) {
			message := fmt.Sprintf(
				"chain for `%s` visits cluster %d twice",
				dirent.Name(),
				cluster)
			return nil, ErrClusterChainCycle.WithMessage(message)
		}
		visited.Set(int(cluster), true)

		start := image.bootSector.ByteOffsetOfCluster(cluster)
		end := start + image.bootSector.BytesPerCluster
		if end > len(image.data) {
			message := fmt.Sprintf(
				"cluster %d occupies bytes %d-%d but the image is only %d bytes",
				cluster,
				start,
				end-1,
				len(image.data))
			return nil, ErrTruncatedImage.WithMessage(message)
		}

		chunk := image.bootSector.BytesPerCluster
		if remaining < chunk {
			chunk = remaining
		}
		contents = append(contents, image.data[start:start+chunk]...)
		remaining -= chunk

		if remaining == 0 {
			return contents, nil
		}

		entry, err := image.fat.EntryAt(cluster)
		if err != nil {
			return nil, err
		}
		if entry.IsEndOfChain() {
			message := fmt.Sprintf(
				"chain for `%s` ended with %d of %d bytes still unread",
				dirent.Name(),
				remaining,
				dirent.Size)
			return contents, ErrTruncatedFile.WithMessage(message)
		}
		// A free, reserved, or bad-cluster value lands here too; the range
		// check at the top of the loop rejects it on the next pass.
		cluster = ClusterID(entry)
	}
}

// VolumeInfo summarizes a mounted image: identity fields from the boot
// sector and root directory, plus usage statistics tallied from the FAT.
type VolumeInfo struct {
	// Label is the volume label, preferring the root directory's label entry
	// over the boot sector field since that's the one operating systems
	// actually maintain. Empty if the volume has neither.
	Label          string
	VolumeID       uint32
	OEMName        string
	FileSystemType string
	FATVersion     int

	MediaDescriptor byte
	// HasValidMediaEntry reports whether the FAT's first entry holds the
	// media descriptor prefixed with 0xF00, the way formatters write it.
	HasValidMediaEntry bool

	TotalClusters    int
	FreeClusters     int
	UsedClusters     int
	BadClusters      int
	ReservedClusters int

	Files          int
	Subdirectories int
}

// Info tallies up the volume's identity and usage information.
func (image *Image) Info() (*VolumeInfo, error) {
	bootSector := image.bootSector
	info := VolumeInfo{
		VolumeID:        bootSector.VolumeID,
		OEMName:         bootSector.OEMName,
		FileSystemType:  bootSector.FileSystemType,
		FATVersion:      bootSector.FATVersion,
		MediaDescriptor: bootSector.Media,
		TotalClusters:   bootSector.TotalClusters,
	}

	for _, dirent := range listDirents(image.rootDir) {
		switch {
		case dirent.IsVolumeLabel():
			if info.Label == "" {
				info.Label = decodeOEMString(dirent.RawName[:])
			}
		case dirent.IsDirectory():
			info.Subdirectories++
		default:
			info.Files++
		}
	}
	if info.Label == "" && bootSector.ExtendedBootSignature == 0x29 {
		info.Label = bootSector.VolumeLabel
	}

	for i := 0; i < bootSector.TotalClusters; i++ {
		entry, err := image.fat.EntryAt(ClusterID(MinDataCluster + i))
		if err != nil {
			return nil, err
		}

		switch {
		case entry.IsFree():
			info.FreeClusters++
		case entry.IsBad():
			info.BadClusters++
		case entry.IsReserved():
			info.ReservedClusters++
		default:
			info.UsedClusters++
		}
	}

	entry, err := image.fat.EntryAt(0)
	if err == nil {
		info.HasValidMediaEntry =
			entry == 0xF00|FATEntry(bootSector.Media)
	}

	return &info, nil
}

// UsedClusterMap returns one bit per data cluster, set if the cluster is
// allocated to anything at all: a file chain, a bad-cluster mark, or a
// reserved value. Bit 0 corresponds to MinDataCluster.
func (image *Image) UsedClusterMap() (bitmap.Bitmap, error) {
	usageMap := bitmap.New(image.bootSector.TotalClusters)

	for i := 0; i < image.bootSector.TotalClusters; i++ {
		entry, err := image.fat.EntryAt(ClusterID(MinDataCluster + i))
		if err != nil {
			return nil, err
		}
		usageMap.Set(i, !entry.IsFree())
	}
	return usageMap, nil
}
