package fat12

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// decodeOEMString renders bytes stored in the OEM character set (code page
// 437, on every disk this driver is likely to meet) as a Go string, with
// trailing padding removed.
func decodeOEMString(raw []byte) string {
	trimmed := bytes.TrimRight(raw, " \x00")
	decoded, err := charmap.CodePage437.NewDecoder().Bytes(trimmed)
	if err != nil {
		// CP437 assigns a character to all 256 byte values so this can't
		// actually fail, but fall back to a lossy conversion anyway.
		return string(trimmed)
	}
	return string(decoded)
}

// isInvalidNameByte reports whether a byte may never appear in the name or
// extension of a directory entry. High bytes are fine; they're printable
// characters in the OEM character set.
func isInvalidNameByte(value byte) bool {
	if value < 0x20 {
		return true
	}
	switch value {
	case '"', '*', '+', ',', '.', '/', ':', ';', '<', '=', '>', '?', '[', '\\', ']', '|':
		return true
	}
	return false
}

// FilenameToBytes converts a filename string to its on-disk representation:
// eight name bytes then three extension bytes, space-padded, uppercase, in
// the OEM character set. A leading 0xE5 byte is stored as 0x05 so the entry
// doesn't read as deleted.
//
// Fails with ErrInvalidFileName if the stem is empty or longer than eight
// characters, the extension is longer than three, or the name contains a
// character that can't go on disk.
func FilenameToBytes(name string) ([11]byte, error) {
	var rawName [11]byte

	encoded, err := charmap.CodePage437.NewEncoder().String(strings.ToUpper(name))
	if err != nil {
		message := fmt.Sprintf("%q cannot be represented in the OEM character set", name)
		return rawName, ErrInvalidFileName.WithMessage(message)
	}

	parts := strings.SplitN(encoded, ".", 2)

	// The first part is always present: the stem of the filename. It cannot
	// be empty and cannot be longer than 8 characters.
	if len(parts[0]) == 0 || len(parts[0]) > 8 {
		message := fmt.Sprintf(
			"filename stem must be one to eight characters: %q", name)
		return rawName, ErrInvalidFileName.WithMessage(message)
	}

	// If there are two parts to the filename then there's an extension. An
	// empty one means the filename ended with a period, which is the same
	// thing as having no extension at all.
	extension := ""
	if len(parts) == 2 {
		if len(parts[1]) > 3 {
			message := fmt.Sprintf(
				"filename extension can be at most three characters: %q", parts[1])
			return rawName, ErrInvalidFileName.WithMessage(message)
		}
		extension = parts[1]
	}

	padded := fmt.Sprintf("%-8s%-3s", parts[0], extension)
	for _, character := range []byte(padded) {
		if isInvalidNameByte(character) {
			message := fmt.Sprintf(
				"filename contains a character not allowed on disk: %q", name)
			return rawName, ErrInvalidFileName.WithMessage(message)
		}
	}

	copy(rawName[:], padded)
	if rawName[0] == direntMarkerDeleted {
		rawName[0] = direntMarkerKanji
	}
	return rawName, nil
}

// BytesToFilename converts the on-disk representation of a filename into its
// user-friendly "STEM.EXT" form. This is the inverse of FilenameToBytes,
// including undoing the 0x05 stand-in for a leading 0xE5.
func BytesToFilename(rawName [11]byte) string {
	if rawName[0] == direntMarkerKanji {
		rawName[0] = direntMarkerDeleted
	}

	stem := decodeOEMString(rawName[:8])
	extension := decodeOEMString(rawName[8:])

	if extension != "" {
		return stem + "." + extension
	}
	return stem
}
