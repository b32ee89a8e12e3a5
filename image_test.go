package fat12_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dargueta/fat12"
	"github.com/dargueta/fat12/disks"
	ft "github.com/dargueta/fat12/testing"
)

// newFloppyBuilder returns a builder for an empty 1.44 MiB floppy, the
// format most tests use.
func newFloppyBuilder(t *testing.T) *ft.ImageBuilder {
	geometry, err := disks.GetPredefinedDiskGeometry("1.44m")
	require.NoError(t, err)
	return ft.NewImageBuilder(t, geometry)
}

// pattern returns n bytes that don't repeat within a cluster, so tests can
// tell cluster-sized chunks apart.
func pattern(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func TestReadFileSingleCluster(t *testing.T) {
	payload := []byte("Hello KERNEL.BIN")
	builder := newFloppyBuilder(t)
	builder.AddFile("KERNEL.BIN", payload, 2)

	// On this geometry the data area begins at sector 33: one reserved
	// sector, two 9-sector FATs, and 14 sectors of root directory. Pin that
	// down before involving the driver at all.
	require.Equal(t, 33*512, builder.ClusterOffset(2))
	require.Equal(t, payload, builder.Bytes()[33*512:33*512+len(payload)])

	image, err := fat12.New(builder.Bytes())
	require.NoError(t, err)

	contents, err := image.ReadFile("KERNEL.BIN")
	require.NoError(t, err)
	assert.Equal(t, payload, contents)
}

func TestReadFileSpansClusters(t *testing.T) {
	// Two and a half clusters, deliberately out of order on disk so that
	// only the FAT can reassemble them.
	payload := pattern(1280)
	builder := newFloppyBuilder(t)
	builder.AddFile("BIG.DAT", payload, 2, 9, 5)

	image, err := fat12.New(builder.Bytes())
	require.NoError(t, err)

	contents, err := image.ReadFile("BIG.DAT")
	require.NoError(t, err)
	assert.Equal(t, payload, contents)
}

func TestReadFileExactClusterMultiple(t *testing.T) {
	// A size landing exactly on a cluster boundary must not follow the
	// chain any further than the size requires.
	payload := pattern(1024)
	builder := newFloppyBuilder(t)
	builder.AddFile("EXACT.DAT", payload, 2, 3)

	image, err := fat12.New(builder.Bytes())
	require.NoError(t, err)

	contents, err := image.ReadFile("EXACT.DAT")
	require.NoError(t, err)
	assert.Equal(t, payload, contents)
}

func TestReadFileSizeIsAuthoritative(t *testing.T) {
	payload := pattern(100)
	builder := newFloppyBuilder(t)
	builder.AddFile("SMALL.DAT", payload, 2)

	// Poison the file's FAT entry. The size is satisfied by the first
	// cluster alone, so the driver must never look at the entry and must
	// never notice.
	builder.SetFATEntry(2, 0x000)

	image, err := fat12.New(builder.Bytes())
	require.NoError(t, err)

	contents, err := image.ReadFile("SMALL.DAT")
	require.NoError(t, err)
	assert.Equal(t, payload, contents)
}

func TestReadFileEmpty(t *testing.T) {
	builder := newFloppyBuilder(t)
	// Zero-size files frequently carry a garbage start cluster. The driver
	// must return empty contents without touching the FAT or the garbage.
	builder.AddDirent(ft.DirentSpec{
		Name:         "EMPTY.TXT",
		StartCluster: 0xABC,
		Size:         0,
	})

	image, err := fat12.New(builder.Bytes())
	require.NoError(t, err)

	contents, err := image.ReadFile("EMPTY.TXT")
	require.NoError(t, err)
	assert.Empty(t, contents)
}

func TestReadFileTruncatedChain(t *testing.T) {
	// The directory entry claims 2000 bytes but the chain ends after one
	// cluster. The driver hands back the 512 bytes it recovered along with
	// the error.
	builder := newFloppyBuilder(t)
	payload := pattern(512)
	builder.WriteCluster(2, payload)
	builder.SetFATEntry(2, 0xFFF)
	builder.AddDirent(ft.DirentSpec{
		Name:         "TRUNC.BIN",
		StartCluster: 2,
		Size:         2000,
	})

	image, err := fat12.New(builder.Bytes())
	require.NoError(t, err)

	contents, err := image.ReadFile("TRUNC.BIN")
	assert.ErrorIs(t, err, fat12.ErrTruncatedFile)
	assert.Equal(t, payload, contents)
}

func TestReadFileFreeClusterInChain(t *testing.T) {
	builder := newFloppyBuilder(t)
	builder.WriteCluster(2, pattern(512))
	builder.SetFATEntry(2, 0x000)
	builder.AddDirent(ft.DirentSpec{
		Name:         "BROKEN.BIN",
		StartCluster: 2,
		Size:         2000,
	})

	image, err := fat12.New(builder.Bytes())
	require.NoError(t, err)

	_, err = image.ReadFile("BROKEN.BIN")
	assert.ErrorIs(t, err, fat12.ErrInvalidClusterChain)
}

func TestReadFileBadClusterInChain(t *testing.T) {
	builder := newFloppyBuilder(t)
	builder.WriteCluster(2, pattern(512))
	builder.SetFATEntry(2, 0xFF7)
	builder.AddDirent(ft.DirentSpec{
		Name:         "BROKEN.BIN",
		StartCluster: 2,
		Size:         2000,
	})

	image, err := fat12.New(builder.Bytes())
	require.NoError(t, err)

	_, err = image.ReadFile("BROKEN.BIN")
	assert.ErrorIs(t, err, fat12.ErrInvalidClusterChain)
}

func TestReadFileInvalidStartCluster(t *testing.T) {
	builder := newFloppyBuilder(t)
	builder.AddDirent(ft.DirentSpec{
		Name:         "BROKEN.BIN",
		StartCluster: 1,
		Size:         10,
	})

	image, err := fat12.New(builder.Bytes())
	require.NoError(t, err)

	_, err = image.ReadFile("BROKEN.BIN")
	assert.ErrorIs(t, err, fat12.ErrInvalidClusterChain)
}

func TestReadFileChainCycle(t *testing.T) {
	builder := newFloppyBuilder(t)
	builder.WriteCluster(2, pattern(512))
	builder.WriteCluster(3, pattern(512))
	builder.SetFATEntry(2, 3)
	builder.SetFATEntry(3, 2)
	builder.AddDirent(ft.DirentSpec{
		Name:         "LOOP.BIN",
		StartCluster: 2,
		Size:         4096,
	})

	image, err := fat12.New(builder.Bytes())
	require.NoError(t, err)

	_, err = image.ReadFile("LOOP.BIN")
	assert.ErrorIs(t, err, fat12.ErrClusterChainCycle)
}

func TestReadFileSelfReferentialCluster(t *testing.T) {
	builder := newFloppyBuilder(t)
	builder.WriteCluster(2, pattern(512))
	builder.SetFATEntry(2, 2)
	builder.AddDirent(ft.DirentSpec{
		Name:         "LOOP.BIN",
		StartCluster: 2,
		Size:         4096,
	})

	image, err := fat12.New(builder.Bytes())
	require.NoError(t, err)

	_, err = image.ReadFile("LOOP.BIN")
	assert.ErrorIs(t, err, fat12.ErrClusterChainCycle)
}

func TestReadFileClusterPastImageEnd(t *testing.T) {
	// A formally valid cluster number that doesn't physically exist on a
	// floppy this size. The bounds check has to catch it before any copy.
	builder := newFloppyBuilder(t)
	builder.AddDirent(ft.DirentSpec{
		Name:         "BROKEN.BIN",
		StartCluster: 4000,
		Size:         10,
	})

	image, err := fat12.New(builder.Bytes())
	require.NoError(t, err)

	_, err = image.ReadFile("BROKEN.BIN")
	assert.ErrorIs(t, err, fat12.ErrTruncatedImage)
}

func TestReadFileNotFound(t *testing.T) {
	builder := newFloppyBuilder(t)
	builder.AddFile("KERNEL.BIN", pattern(16), 2)

	image, err := fat12.New(builder.Bytes())
	require.NoError(t, err)

	_, err = image.ReadFile("MISSING.TXT")
	assert.ErrorIs(t, err, fat12.ErrNotFound)

	_, err = image.ReadFile("not!a(valid)name.txt")
	assert.ErrorIs(t, err, fat12.ErrInvalidFileName)
}

func TestStat(t *testing.T) {
	builder := newFloppyBuilder(t)
	builder.AddDirent(ft.DirentSpec{
		Name:         "KERNEL.BIN",
		Attributes:   fat12.AttrReadOnly | fat12.AttrArchived,
		StartCluster: 2,
		Size:         16,
		ModifiedDate: 0x50FC,
		ModifiedTime: 0x6BB5,
	})

	image, err := fat12.New(builder.Bytes())
	require.NoError(t, err)

	// Lookups go through the same normalization as the on-disk form, so
	// case doesn't matter.
	dirent, err := image.Stat("kernel.bin")
	require.NoError(t, err)

	assert.Equal(t, "KERNEL.BIN", dirent.Name())
	assert.Equal(t, fat12.ClusterID(2), dirent.StartCluster)
	assert.Equal(t, int64(16), dirent.Size)
	assert.True(
		t,
		dirent.LastModifiedAt.Equal(
			time.Date(2020, time.July, 28, 13, 29, 42, 0, time.Local)))

	_, err = image.Stat("MISSING.TXT")
	assert.ErrorIs(t, err, fat12.ErrNotFound)
}

func TestReadDir(t *testing.T) {
	builder := newFloppyBuilder(t)
	builder.AddVolumeLabel("MYDISK")
	builder.AddFile("FIRST.TXT", pattern(10), 2)
	builder.AddDirent(ft.DirentSpec{Name: "OLD.TXT", Deleted: true})
	builder.AddDirent(ft.DirentSpec{Name: "HIDDEN.SYS", Attributes: fat12.AttrHidden})
	builder.AddDirent(ft.DirentSpec{Name: "SUBDIR", Attributes: fat12.AttrDirectory})

	image, err := fat12.New(builder.Bytes())
	require.NoError(t, err)

	names := []string{}
	for _, dirent := range image.ReadDir() {
		names = append(names, dirent.Name())
	}
	// The label isn't a file and deleted entries are gone; hidden files are
	// still files.
	assert.Equal(t, []string{"FIRST.TXT", "HIDDEN.SYS", "SUBDIR"}, names)
}

func TestInfo(t *testing.T) {
	builder := newFloppyBuilder(t)
	builder.AddVolumeLabel("MYDISK")
	builder.AddFile("FIRST.TXT", pattern(600), 2, 3)
	builder.AddDirent(ft.DirentSpec{Name: "SUBDIR", Attributes: fat12.AttrDirectory})
	builder.SetFATEntry(9, 0xFF7)

	image, err := fat12.New(builder.Bytes())
	require.NoError(t, err)

	info, err := image.Info()
	require.NoError(t, err)

	assert.Equal(t, "MYDISK", info.Label)
	assert.Equal(t, uint32(0x1234ABCD), info.VolumeID)
	assert.Equal(t, "MSDOS5.0", info.OEMName)
	assert.Equal(t, "FAT12", info.FileSystemType)
	assert.Equal(t, 12, info.FATVersion)
	assert.Equal(t, byte(0xF0), info.MediaDescriptor)
	assert.True(t, info.HasValidMediaEntry)

	assert.Equal(t, 2847, info.TotalClusters)
	assert.Equal(t, 2, info.UsedClusters)
	assert.Equal(t, 1, info.BadClusters)
	assert.Equal(t, 0, info.ReservedClusters)
	assert.Equal(t, 2847-3, info.FreeClusters)

	assert.Equal(t, 1, info.Files)
	assert.Equal(t, 1, info.Subdirectories)
}

func TestInfoLabelFallsBackToBootSector(t *testing.T) {
	builder := newFloppyBuilder(t)
	builder.SetBootVolumeLabel("SYSTEM")

	image, err := fat12.New(builder.Bytes())
	require.NoError(t, err)

	info, err := image.Info()
	require.NoError(t, err)
	assert.Equal(t, "SYSTEM", info.Label)
}

func TestVerifyFATMirrors(t *testing.T) {
	builder := newFloppyBuilder(t)
	builder.AddFile("KERNEL.BIN", pattern(2000), 2, 3, 4, 5)

	image, err := fat12.New(builder.Bytes())
	require.NoError(t, err)
	assert.NoError(t, image.VerifyFATMirrors())

	// Desynchronize the second copy and try again.
	builder.SetFATEntryInCopy(1, 30, 0x123)
	err = image.VerifyFATMirrors()
	assert.ErrorIs(t, err, fat12.ErrFATMirrorMismatch)
	assert.ErrorContains(t, err, "FAT copy 1 differs from FAT copy 2")
}

func TestUsedClusterMap(t *testing.T) {
	builder := newFloppyBuilder(t)
	builder.AddFile("KERNEL.BIN", pattern(600), 2, 4)

	image, err := fat12.New(builder.Bytes())
	require.NoError(t, err)

	usageMap, err := image.UsedClusterMap()
	require.NoError(t, err)

	assert.True(t, usageMap.Get(0))  // cluster 2
	assert.False(t, usageMap.Get(1)) // cluster 3
	assert.True(t, usageMap.Get(2))  // cluster 4
	assert.False(t, usageMap.Get(3)) // cluster 5
}

func TestNewTruncatedImage(t *testing.T) {
	builder := newFloppyBuilder(t)
	data := builder.Bytes()

	// Cut inside the second FAT copy: sector 1 + 9 puts the boundary at
	// byte 5120, well short of the 9728 the FAT region needs.
	_, err := fat12.New(data[:5120])
	assert.ErrorIs(t, err, fat12.ErrTruncatedImage)

	// Both FATs fit but the root directory doesn't.
	_, err = fat12.New(data[:10000])
	assert.ErrorIs(t, err, fat12.ErrTruncatedImage)

	// Everything up to the data area fits; parsing succeeds, and only a
	// read that needs a cluster notices anything missing.
	builder.AddDirent(ft.DirentSpec{Name: "A.TXT", StartCluster: 2, Size: 5})
	image, err := fat12.New(data[:16896])
	require.NoError(t, err)

	_, err = image.ReadFile("A.TXT")
	assert.ErrorIs(t, err, fat12.ErrTruncatedImage)
}

func TestNewWarnsOnSuspiciousGeometry(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	logger := zap.New(core).Sugar()

	geometry := disks.Geometry{
		Name:              "test",
		Slug:              "test",
		BytesPerSector:    512,
		SectorsPerCluster: 1,
		ReservedSectors:   1,
		NumFATs:           2,
		RootEntryCount:    224,
		TotalSectors:      8192,
		SectorsPerFAT:     24,
		SectorsPerTrack:   32,
		Heads:             2,
		MediaDescriptor:   0xF8,
	}
	builder := ft.NewImageBuilder(t, geometry)

	// 8129 data clusters is FAT16 territory.
	_, err := fat12.NewWithLogger(builder.Bytes(), logger)
	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessageSnippet("FAT16").Len())
}

func TestEndToEndFloppyLayout(t *testing.T) {
	// The classic 1.44 MiB layout, checked region by region against the
	// numbers every FAT12 reference quotes for it.
	builder := newFloppyBuilder(t)
	image, err := fat12.New(builder.Bytes())
	require.NoError(t, err)

	bootSector := image.BootSector()
	assert.Equal(t, fat12.SectorID(1), bootSector.FirstFATSector)
	assert.Equal(t, fat12.SectorID(19), bootSector.FirstRootDirSector)
	assert.Equal(t, fat12.SectorID(33), bootSector.FirstDataSector)
	assert.Equal(t, fat12.SectorID(33), bootSector.SectorOfCluster(2))
	assert.Equal(t, fat12.SectorID(34), bootSector.SectorOfCluster(3))
	assert.Equal(t, 4608, len(image.FAT()))
	assert.True(t, bytes.Equal(image.Bytes(), builder.Bytes()))
}
