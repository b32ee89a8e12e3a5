package fat12

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"
)

const (
	// AttrReadOnly is an attribute flag marking a directory entry as read-only.
	AttrReadOnly = 1

	// AttrHidden is an attribute flag marking a directory entry as "hidden",
	// meaning it wouldn't show up in normal directory listings. This is most
	// commonly used for hiding operating system files from normal users.
	AttrHidden = 2

	// AttrSystem is an attribute flag marking a directory entry as essential
	// to the operating system and must not be moved (e.g. during
	// defragmentation) because the OS may have hard-coded pointers to the
	// file.
	AttrSystem = 4

	// AttrVolumeLabel is an attribute flag that marks a file as containing
	// the true volume label of the file system. It must reside in the root
	// directory, and there must be only one.
	//
	// The field in the boot sector only has eleven bytes of space for the
	// volume label. This is not always enough, especially for systems or
	// languages using multi-byte character encodings.
	AttrVolumeLabel = 8

	// AttrDirectory is an attribute flag marking a directory entry as being
	// a directory.
	AttrDirectory = 16

	// AttrArchived is an attribute flag used by some systems to mark a
	// directory entry as "dirty", set whenever the entry is created or
	// modified. Archiving tools use this flag to determine whether the file
	// needs to be backed up or not.
	AttrArchived = 32

	// AttrDevice is an attribute flag marking a directory entry as
	// abstracting a device. This is typically only found on in-memory file
	// systems.
	AttrDevice = 64

	// AttrReserved is an attribute flag that is undefined by the FAT
	// standard and must not be modified by tools.
	AttrReserved = 128

	// AttrLongName is the combination of flags marking a directory entry as
	// one piece of a VFAT long filename. Long name entries are invisible to
	// this driver except as things to skip over.
	AttrLongName = AttrReadOnly | AttrHidden | AttrSystem | AttrVolumeLabel
)

// Values for the first byte of a directory entry that change its meaning.
const (
	// direntMarkerFree marks an entry as never used. No entry after it in
	// the same directory is valid either, so a scan stops here.
	direntMarkerFree = 0x00

	// direntMarkerDeleted marks an entry as deleted. Entries after it are
	// still valid.
	direntMarkerDeleted = 0xE5

	// direntMarkerKanji substitutes for a genuine leading 0xE5 in a
	// filename, which would otherwise read as deleted.
	direntMarkerKanji = 0x05
)

// DirentSize is the size of a single raw directory entry, in bytes.
const DirentSize = 32

// RawDirent is the on-disk representation of a directory entry, broken down
// into its constituent fields.
type RawDirent struct {
	Name              [8]byte
	Extension         [3]byte
	AttributeFlags    uint8
	NTReserved        uint8
	CreatedTimeMillis uint8
	CreatedTime       uint16
	CreatedDate       uint16
	LastAccessedDate  uint16
	FirstClusterHigh  uint16
	LastModifiedTime  uint16
	LastModifiedDate  uint16
	FirstClusterLow   uint16
	FileSize          uint32
}

// NewRawDirentFromBytes deserializes the first 32 bytes of `data` into a
// RawDirent struct for further processing. `data` must hold at least
// DirentSize bytes.
func NewRawDirentFromBytes(data []byte) RawDirent {
	dirent := RawDirent{
		AttributeFlags:    data[11],
		NTReserved:        data[12],
		CreatedTimeMillis: data[13],
		CreatedTime:       binary.LittleEndian.Uint16(data[14:16]),
		CreatedDate:       binary.LittleEndian.Uint16(data[16:18]),
		LastAccessedDate:  binary.LittleEndian.Uint16(data[18:20]),
		FirstClusterHigh:  binary.LittleEndian.Uint16(data[20:22]),
		LastModifiedTime:  binary.LittleEndian.Uint16(data[22:24]),
		LastModifiedDate:  binary.LittleEndian.Uint16(data[24:26]),
		FirstClusterLow:   binary.LittleEndian.Uint16(data[26:28]),
		FileSize:          binary.LittleEndian.Uint32(data[28:32]),
	}

	copy(dirent.Name[:], data[:8])
	copy(dirent.Extension[:], data[8:11])
	return dirent
}

// DateFromInt converts the FAT on-disk representation of a date into a Go
// time.Time object.
func DateFromInt(value uint16) time.Time {
	day := int(value & 0x001f)
	month := time.Month((value >> 5) & 0x000f)
	year := int(1980 + (value >> 9))

	return time.Date(year, month, day, 0, 0, 0, 0, time.Local)
}

// TimestampFromParts converts a FAT timestamp into a time.Time object.
// datePart is required; timePart and hundredths should be 0 if they're not
// present in the source field(s).
func TimestampFromParts(datePart uint16, timePart uint16, hundredths uint8) time.Time {
	date := DateFromInt(datePart)

	// The seconds field counts in units of two seconds; the hundredths field
	// covers the whole 0-199 range of the missing precision.
	seconds := int((timePart & 0x001f) * 2)
	if hundredths >= 100 {
		seconds++
		hundredths -= 100
	}

	minutes := int((timePart >> 5) & 0x003f)
	hours := int(timePart >> 11)
	nanoseconds := int(hundredths) * 10_000_000

	return time.Date(
		date.Year(), date.Month(), date.Day(), hours, minutes, seconds, nanoseconds,
		time.Local)
}

// DirectoryEntry is a representation of a directory entry's data in a
// user-friendly format, e.g. the raw name bytes are rendered as "KERNEL.BIN"
// and 0x50FC is converted to a time.Time representing 2020-07-28 00:00:00
// local time.
type DirectoryEntry struct {
	// RawName holds the name exactly as stored on disk: eight name bytes
	// then three extension bytes, both padded with spaces.
	RawName        [11]byte
	Attributes     byte
	NTReserved     byte
	StartCluster   ClusterID
	Size           int64
	CreatedAt      time.Time
	LastModifiedAt time.Time
	LastAccessedAt time.Time

	name string
}

// NewDirectoryEntryFromRaw creates a fully processed DirectoryEntry from a
// raw one.
func NewDirectoryEntryFromRaw(rawDirent *RawDirent) DirectoryEntry {
	dirent := DirectoryEntry{
		Attributes: rawDirent.AttributeFlags,
		NTReserved: rawDirent.NTReserved,
		// FAT12 only uses the low half of the cluster number; the high half
		// is reserved and frequently holds garbage, so it's ignored.
		StartCluster: ClusterID(rawDirent.FirstClusterLow),
		Size:         int64(rawDirent.FileSize),
		CreatedAt: TimestampFromParts(
			rawDirent.CreatedDate, rawDirent.CreatedTime, rawDirent.CreatedTimeMillis),
		LastModifiedAt: TimestampFromParts(
			rawDirent.LastModifiedDate, rawDirent.LastModifiedTime, 0),
		LastAccessedAt: DateFromInt(rawDirent.LastAccessedDate),
	}

	copy(dirent.RawName[:8], rawDirent.Name[:])
	copy(dirent.RawName[8:], rawDirent.Extension[:])
	dirent.name = BytesToFilename(dirent.RawName)

	return dirent
}

// Name returns the name of the directory entry in the usual "STEM.EXT"
// rendering.
func (dirent DirectoryEntry) Name() string {
	return dirent.name
}

// IsDirectory indicates whether the entry names a subdirectory.
func (dirent DirectoryEntry) IsDirectory() bool {
	return dirent.Attributes&AttrDirectory != 0
}

// IsVolumeLabel indicates whether the entry holds the volume label rather
// than naming a file.
func (dirent DirectoryEntry) IsVolumeLabel() bool {
	return dirent.Attributes&AttrVolumeLabel != 0 &&
		dirent.Attributes&AttrLongName != AttrLongName
}

// IsHidden indicates whether the entry is excluded from normal directory
// listings.
func (dirent DirectoryEntry) IsHidden() bool {
	return dirent.Attributes&AttrHidden != 0
}

// findDirent searches a directory region for an entry whose on-disk name
// matches `rawName` exactly, byte for byte. A free entry ends the search
// early since nothing past it is valid; deleted entries, volume labels, and
// long-name entries are skipped even if their name bytes happen to match.
func findDirent(directory []byte, rawName [11]byte) (RawDirent, error) {
	numEntries := len(directory) / DirentSize

	for i := 0; i < numEntries; i++ {
		entryBytes := directory[i*DirentSize : (i+1)*DirentSize]

		if entryBytes[0] == direntMarkerFree {
			break
		}
		if entryBytes[0] == direntMarkerDeleted {
			continue
		}
		if entryBytes[11]&AttrVolumeLabel != 0 {
			// Also catches long-name entries, which set the label bit.
			continue
		}

		if bytes.Equal(entryBytes[:11], rawName[:]) {
			return NewRawDirentFromBytes(entryBytes), nil
		}
	}

	message := fmt.Sprintf("`%s`", BytesToFilename(rawName))
	return RawDirent{}, ErrNotFound.WithMessage(message)
}

// listDirents processes a directory region into a slice of directory
// entries, in on-disk order. Deleted and long-name entries are dropped; the
// volume label (if any) is kept, so callers that only want real files must
// filter with IsVolumeLabel.
func listDirents(directory []byte) []DirectoryEntry {
	numEntries := len(directory) / DirentSize
	allDirents := []DirectoryEntry{}

	for i := 0; i < numEntries; i++ {
		entryBytes := directory[i*DirentSize : (i+1)*DirentSize]

		if entryBytes[0] == direntMarkerFree {
			break
		}
		if entryBytes[0] == direntMarkerDeleted {
			continue
		}
		if entryBytes[11]&AttrLongName == AttrLongName {
			continue
		}

		rawDirent := NewRawDirentFromBytes(entryBytes)
		allDirents = append(allDirents, NewDirectoryEntryFromRaw(&rawDirent))
	}

	return allDirents
}
