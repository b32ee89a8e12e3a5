package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dargueta/fat12"
	"github.com/dargueta/fat12/disks"
	"github.com/dargueta/fat12/imagefile"
)

var log = zap.NewNop().Sugar()

func main() {
	cli := cli.App{
		Usage: "Read FAT12 floppy disk images",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "show debug output",
			},
		},
		Before: setUpLogging,
		Commands: []*cli.Command{
			{
				Name:      "ls",
				Usage:     "List the root directory of an image",
				Action:    listDirectory,
				ArgsUsage: "IMAGE",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "all",
						Aliases: []string{"a"},
						Usage:   "include hidden files",
					},
				},
			},
			{
				Name:      "cat",
				Usage:     "Write a file's contents to standard output",
				Action:    catFile,
				ArgsUsage: "IMAGE FILENAME",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "hex",
						Usage: "hex dump instead of raw bytes",
					},
				},
			},
			{
				Name:      "info",
				Usage:     "Show volume information and usage statistics",
				Action:    showInfo,
				ArgsUsage: "IMAGE",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "map",
						Usage: "draw a cluster usage map",
					},
				},
			},
			{
				Name:      "raw",
				Usage:     "Hex dump a range of sectors",
				Action:    dumpSectors,
				ArgsUsage: "IMAGE FIRST-SECTOR [NUM-SECTORS]",
			},
			{
				Name:      "decompress",
				Usage:     "Write the raw form of a compressed image",
				Action:    decompressImage,
				ArgsUsage: "INPUT-FILE OUTPUT-FILE",
			},
			{
				Name:   "formats",
				Usage:  "List the known floppy disk formats",
				Action: listFormats,
			},
		},
	}

	err := cli.Run(os.Args)
	if err != nil {
		log.Fatalf("fatal error: %s", err.Error())
	}
}

func setUpLogging(context *cli.Context) error {
	config := zap.NewDevelopmentConfig()
	if context.Bool("verbose") {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		config.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	}

	logger, err := config.Build()
	if err != nil {
		return err
	}
	log = logger.Sugar()
	return nil
}

func loadImage(path string) (*fat12.Image, error) {
	data, err := imagefile.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return fat12.NewWithLogger(data, log)
}

func listDirectory(context *cli.Context) error {
	if context.NArg() != 1 {
		return fmt.Errorf("expected exactly one argument, the image path")
	}

	image, err := loadImage(context.Args().Get(0))
	if err != nil {
		return err
	}

	for _, dirent := range image.ReadDir() {
		if dirent.IsHidden() && !context.Bool("all") {
			continue
		}

		size := strconv.FormatInt(dirent.Size, 10)
		if dirent.IsDirectory() {
			size = "<DIR>"
		}
		fmt.Printf(
			"%-12s %9s  %s\n",
			dirent.Name(),
			size,
			dirent.LastModifiedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

func catFile(context *cli.Context) error {
	if context.NArg() != 2 {
		return fmt.Errorf("expected two arguments, the image path and a filename")
	}

	image, err := loadImage(context.Args().Get(0))
	if err != nil {
		return err
	}

	contents, err := image.ReadFile(context.Args().Get(1))
	if errors.Is(err, fat12.ErrTruncatedFile) {
		// A broken chain still recovers a prefix of the file. Print what we
		// got; the exit status stays zero since that's all the disk has.
		log.Warnf("%s", err.Error())
	} else if err != nil {
		return err
	}

	if context.Bool("hex") {
		dumper := hex.Dumper(os.Stdout)
		defer dumper.Close()
		_, err = dumper.Write(contents)
		return err
	}

	_, err = os.Stdout.Write(contents)
	return err
}

func showInfo(context *cli.Context) error {
	if context.NArg() != 1 {
		return fmt.Errorf("expected exactly one argument, the image path")
	}

	image, err := loadImage(context.Args().Get(0))
	if err != nil {
		return err
	}
	info, err := image.Info()
	if err != nil {
		return err
	}
	bootSector := image.BootSector()

	label := info.Label
	if label == "" {
		label = "(none)"
	}
	fmt.Printf("Volume label:      %s\n", label)
	fmt.Printf(
		"Volume ID:         %04X-%04X\n", info.VolumeID>>16, info.VolumeID&0xFFFF)
	fmt.Printf("OEM name:          %s\n", info.OEMName)
	fmt.Printf("File system type:  %s\n", info.FileSystemType)
	fmt.Printf("FAT version:       FAT%d\n", info.FATVersion)
	fmt.Printf("Media descriptor:  %#02x\n", info.MediaDescriptor)

	geometry, known := disks.Identify(
		bootSector.BytesPerSector, bootSector.TotalSectors, bootSector.Media)
	if known {
		fmt.Printf("Disk format:       %s\n", geometry.Name)
	} else {
		fmt.Printf("Disk format:       nonstandard\n")
	}

	fmt.Printf(
		"Geometry:          %d bytes/sector, %d sectors/cluster, %d reserved,"+
			" %d FATs x %d sectors, %d root entries, %d total sectors\n",
		bootSector.BytesPerSector,
		bootSector.SectorsPerCluster,
		bootSector.ReservedSectors,
		bootSector.NumFATs,
		bootSector.SectorsPerFAT,
		bootSector.RootEntryCount,
		bootSector.TotalSectors)
	fmt.Printf(
		"Clusters:          %d total, %d used, %d free, %d bad, %d reserved\n",
		info.TotalClusters,
		info.UsedClusters,
		info.FreeClusters,
		info.BadClusters,
		info.ReservedClusters)
	fmt.Printf(
		"Root directory:    %d files, %d subdirectories\n",
		info.Files,
		info.Subdirectories)
	fmt.Printf("Boot signature:    %s\n", yesNo(bootSector.HasBootSignature))
	fmt.Printf("Media FAT entry:   %s\n", yesNo(info.HasValidMediaEntry))

	if err := image.VerifyFATMirrors(); err != nil {
		fmt.Printf("FAT copies agree:  no (%s)\n", err.Error())
	} else {
		fmt.Printf("FAT copies agree:  yes\n")
	}

	if context.Bool("map") {
		return drawClusterMap(image)
	}
	return nil
}

// drawClusterMap prints one character per data cluster, 64 to a row.
func drawClusterMap(image *fat12.Image) error {
	usageMap, err := image.UsedClusterMap()
	if err != nil {
		return err
	}

	fmt.Printf("\nCluster map (`#` used, `.` free):\n")
	total := image.BootSector().TotalClusters
	for i := 0; i < total; i++ {
		if i%64 == 0 {
			fmt.Printf("%5d  ", fat12.MinDataCluster+i)
		}
		if usageMap.Get(i) {
			fmt.Print("#")
		} else {
			fmt.Print(".")
		}
		if i%64 == 63 {
			fmt.Println()
		}
	}
	if total%64 != 0 {
		fmt.Println()
	}
	return nil
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}

func dumpSectors(context *cli.Context) error {
	if context.NArg() < 2 || context.NArg() > 3 {
		return fmt.Errorf(
			"expected the image path, a first sector, and optionally a sector count")
	}

	firstSector, err := strconv.Atoi(context.Args().Get(1))
	if err != nil || firstSector < 0 {
		return fmt.Errorf("bad sector number %q", context.Args().Get(1))
	}
	numSectors := 1
	if context.NArg() == 3 {
		numSectors, err = strconv.Atoi(context.Args().Get(2))
		if err != nil || numSectors < 1 {
			return fmt.Errorf("bad sector count %q", context.Args().Get(2))
		}
	}

	image, err := loadImage(context.Args().Get(0))
	if err != nil {
		return err
	}
	bootSector := image.BootSector()

	start := bootSector.ByteOffsetOfSector(fat12.SectorID(firstSector))
	length := numSectors * bootSector.BytesPerSector
	if start+length > image.Size() {
		return fmt.Errorf(
			"sectors %d-%d run past the end of the image",
			firstSector,
			firstSector+numSectors-1)
	}

	stream := imagefile.NewStream(image.Bytes())
	if _, err := stream.Seek(int64(start), io.SeekStart); err != nil {
		return err
	}

	dumper := hex.Dumper(os.Stdout)
	defer dumper.Close()
	_, err = io.CopyN(dumper, stream, int64(length))
	return err
}

func decompressImage(context *cli.Context) error {
	if context.NArg() != 2 {
		return fmt.Errorf("expected two arguments, an input file and an output file")
	}

	data, err := imagefile.LoadFile(context.Args().Get(0))
	if err != nil {
		return err
	}

	outputPath := context.Args().Get(1)
	if err := os.WriteFile(outputPath, data, 0o644); err != nil {
		return err
	}

	fmt.Printf("Wrote %d bytes to %s.\n", len(data), outputPath)
	return nil
}

func listFormats(context *cli.Context) error {
	for _, geometry := range disks.AllPredefinedDiskGeometries() {
		fmt.Printf(
			"%-6s %-24s %5d KiB  %5d sectors  %d sectors/FAT\n",
			geometry.Slug,
			geometry.Name,
			geometry.TotalSizeBytes()/1024,
			geometry.TotalSectors,
			geometry.SectorsPerFAT)
	}
	return nil
}
