// Package disks catalogs the standard FAT12 floppy formats.
package disks

import (
	_ "embed"
	"fmt"
	"strconv"

	"github.com/gocarina/gocsv"
)

// MediaDescriptor is the media descriptor byte as it appears in the BPB and
// in the first FAT entry. The catalog stores it as two hex digits.
type MediaDescriptor byte

func (descriptor *MediaDescriptor) UnmarshalCSV(value string) error {
	parsed, err := strconv.ParseUint(value, 16, 8)
	if err != nil {
		return fmt.Errorf("bad media descriptor %q: %w", value, err)
	}
	*descriptor = MediaDescriptor(parsed)
	return nil
}

func (descriptor MediaDescriptor) MarshalCSV() (string, error) {
	return fmt.Sprintf("%02x", byte(descriptor)), nil
}

// Geometry describes one standard floppy format: the physical layout plus
// the BPB values a formatter would write for it.
type Geometry struct {
	Name               string `csv:"name"`
	Slug               string `csv:"slug"`
	FirstYearAvailable int    `csv:"first_year_available"`
	// FormFactor is the diameter of the medium in inches.
	FormFactor        string          `csv:"form_factor"`
	BytesPerSector    int             `csv:"bytes_per_sector"`
	SectorsPerCluster int             `csv:"sectors_per_cluster"`
	ReservedSectors   int             `csv:"reserved_sectors"`
	NumFATs           int             `csv:"num_fats"`
	RootEntryCount    int             `csv:"root_entry_count"`
	TotalSectors      int             `csv:"total_sectors"`
	SectorsPerFAT     int             `csv:"sectors_per_fat"`
	SectorsPerTrack   int             `csv:"sectors_per_track"`
	Heads             int             `csv:"heads"`
	MediaDescriptor   MediaDescriptor `csv:"media_descriptor"`
}

// TotalSizeBytes gives the size of the storage device. This is the exact
// size of a raw image of it.
func (geometry *Geometry) TotalSizeBytes() int64 {
	return int64(geometry.TotalSectors) * int64(geometry.BytesPerSector)
}

// https://en.wikipedia.org/wiki/List_of_floppy_disk_formats
//
//go:embed disk-geometries.csv
var diskGeometriesRawCSV string

var diskGeometries map[string]Geometry
var diskGeometryList []Geometry

// GetPredefinedDiskGeometry returns the catalog entry with the given slug,
// e.g. "1.44m" for the ubiquitous 3.5-inch high-density format.
func GetPredefinedDiskGeometry(slug string) (Geometry, error) {
	geometry, ok := diskGeometries[slug]
	if ok {
		return geometry, nil
	}

	err := fmt.Errorf("no predefined disk geometry exists with slug %q", slug)
	return Geometry{}, err
}

// AllPredefinedDiskGeometries returns every catalog entry in order of
// introduction.
func AllPredefinedDiskGeometries() []Geometry {
	geometries := make([]Geometry, len(diskGeometryList))
	copy(geometries, diskGeometryList)
	return geometries
}

// Identify finds the catalog entry matching a boot sector's sector size and
// count. Where two formats share those (none do today), the media descriptor
// breaks the tie. Returns false if the values match nothing standard.
func Identify(bytesPerSector, totalSectors int, media byte) (Geometry, bool) {
	var found Geometry
	var ok bool

	for _, geometry := range diskGeometryList {
		if geometry.BytesPerSector != bytesPerSector || geometry.TotalSectors != totalSectors {
			continue
		}
		if byte(geometry.MediaDescriptor) == media {
			return geometry, true
		}
		if !ok {
			found = geometry
			ok = true
		}
	}
	return found, ok
}

func init() {
	var rows []Geometry
	err := gocsv.UnmarshalString(diskGeometriesRawCSV, &rows)
	if err != nil {
		panic(fmt.Errorf("failed to decode disk geometry catalog: %w", err))
	}

	diskGeometries = make(map[string]Geometry, len(rows))
	for i, row := range rows {
		_, exists := diskGeometries[row.Slug]
		if exists {
			message := fmt.Errorf(
				"duplicate definition for disk %q found on row %d",
				row.Slug,
				i+1)
			panic(message)
		}
		diskGeometries[row.Slug] = row
	}
	diskGeometryList = rows
}
