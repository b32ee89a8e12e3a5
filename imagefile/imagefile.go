// Package imagefile loads disk images from files. Images are frequently
// passed around compressed, so loading transparently undoes gzip, xz, or
// zstd wrappers, sniffed from the file's leading bytes rather than its
// extension.
package imagefile

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/spf13/afero"
	"github.com/ulikunitz/xz"
	"github.com/xaionaro-go/bytesextra"
)

// Format identifies the compression wrapper around an image file, if any.
type Format int

const (
	FormatRaw Format = iota
	FormatGzip
	FormatXZ
	FormatZstd
)

func (format Format) String() string {
	switch format {
	case FormatRaw:
		return "raw"
	case FormatGzip:
		return "gzip"
	case FormatXZ:
		return "xz"
	case FormatZstd:
		return "zstd"
	}
	return fmt.Sprintf("Format(%d)", int(format))
}

var gzipMagic = []byte{0x1f, 0x8b}
var xzMagic = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// DetectFormat sniffs the compression wrapper from the leading bytes of a
// file. Anything unrecognized is reported as raw.
func DetectFormat(header []byte) Format {
	switch {
	case bytes.HasPrefix(header, gzipMagic):
		return FormatGzip
	case bytes.HasPrefix(header, xzMagic):
		return FormatXZ
	case bytes.HasPrefix(header, zstdMagic):
		return FormatZstd
	}
	return FormatRaw
}

// Decompress undoes whatever compression wrapper DetectFormat sees on
// `data` and returns the raw image bytes. Data that isn't compressed comes
// back as-is, aliasing the input slice.
func Decompress(data []byte) ([]byte, error) {
	switch DetectFormat(data) {
	case FormatGzip:
		reader, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("opening gzip stream: %w", err)
		}
		defer reader.Close()
		return io.ReadAll(reader)

	case FormatXZ:
		reader, err := xz.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("opening xz stream: %w", err)
		}
		return io.ReadAll(reader)

	case FormatZstd:
		decoder, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("opening zstd stream: %w", err)
		}
		defer decoder.Close()
		return io.ReadAll(decoder)
	}

	return data, nil
}

// Load reads an entire image file from `fsys`, decompressing it if needed.
func Load(fsys afero.Fs, path string) ([]byte, error) {
	compressed, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	data, err := Decompress(compressed)
	if err != nil {
		return nil, fmt.Errorf("decompressing %s: %w", path, err)
	}
	return data, nil
}

// LoadFile is Load against the real file system.
func LoadFile(path string) ([]byte, error) {
	return Load(afero.NewOsFs(), path)
}

// NewStream wraps raw image bytes in a seekable stream, for consumers that
// want io semantics instead of a slice. Writes go straight into the slice.
func NewStream(data []byte) io.ReadWriteSeeker {
	return bytesextra.NewReadWriteSeeker(data)
}
