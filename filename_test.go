package fat12

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

type FilenameTest struct {
	Filename   string
	BinaryForm []byte
}

var filenameTests = [...]FilenameTest{
	{Filename: "qwerty.txt", BinaryForm: []byte("QWERTY  TXT")},
	{Filename: "aSdF.g", BinaryForm: []byte("ASDF    G  ")},
	{Filename: "noext", BinaryForm: []byte("NOEXT      ")},
	{Filename: "a B.C", BinaryForm: []byte("A B     C  ")},
	{Filename: "KERNEL.BIN", BinaryForm: []byte("KERNEL  BIN")},
	{Filename: "io.sys", BinaryForm: []byte("IO      SYS")},
	{Filename: "12345678.901", BinaryForm: []byte("12345678901")},
}

func TestSerializeFilenames(t *testing.T) {
	for _, test := range filenameTests {
		serialized, err := FilenameToBytes(test.Filename)
		if err != nil {
			t.Errorf("Error serializing `%s`: %s", test.Filename, err.Error())
		} else if !bytes.Equal(serialized[:], test.BinaryForm) {
			t.Errorf(
				"Serialized filename is wrong; expected `%s`, got `%s`",
				test.BinaryForm,
				serialized[:],
			)
		}
	}
}

func TestDeserializeFilenames(t *testing.T) {
	for _, test := range filenameTests {
		var rawName [11]byte
		copy(rawName[:], test.BinaryForm)

		deserialized := BytesToFilename(rawName)
		if !strings.EqualFold(deserialized, test.Filename) {
			t.Errorf(
				"Deserialized filename is wrong; expected `%s`, got `%s`",
				strings.ToUpper(test.Filename),
				deserialized,
			)
		}
	}
}

func TestSerializeFilenameTrailingPeriod(t *testing.T) {
	// A trailing period means an empty extension, which is stored the same
	// way as no extension at all.
	serialized, err := FilenameToBytes("config.")
	if err != nil {
		t.Errorf("Error serializing `config.`: %s", err.Error())
	} else if !bytes.Equal(serialized[:], []byte("CONFIG     ")) {
		t.Errorf("Serialized filename is wrong; got `%s`", serialized[:])
	}
}

var invalidFilenames = [...]string{
	"",
	".ext",
	"waytoolong",
	"a.toolong",
	"bad/name",
	"a:b",
	"two.dots.ok",
	"a.b.c",
	"qu\"ote",
	"tab\there",
}

func TestSerializeInvalidFilenames(t *testing.T) {
	for _, filename := range invalidFilenames {
		_, err := FilenameToBytes(filename)
		if err == nil {
			t.Errorf("Serializing `%s` should've failed but didn't.", filename)
		} else if !errors.Is(err, ErrInvalidFileName) {
			t.Errorf("Wrong error for `%s`: %s", filename, err.Error())
		}
	}
}

func TestDeserializeKanjiMarker(t *testing.T) {
	// 0x05 in the first byte stands in for a real 0xE5, which is the Greek
	// sigma in the OEM character set.
	var rawName [11]byte
	copy(rawName[:], "\x05ABC    DEF")

	deserialized := BytesToFilename(rawName)
	if deserialized != "σABC.DEF" {
		t.Errorf("Deserialized filename is wrong; got `%s`", deserialized)
	}
}

func TestDecodeOEMString(t *testing.T) {
	tests := []struct {
		Raw     []byte
		Decoded string
	}{
		{[]byte("MSDOS5.0"), "MSDOS5.0"},
		{[]byte("AB      "), "AB"},
		{[]byte("AB\x00\x00"), "AB"},
		{[]byte("ABC\x80"), "ABCÇ"},
		{[]byte(""), ""},
	}

	for _, test := range tests {
		decoded := decodeOEMString(test.Raw)
		if decoded != test.Decoded {
			t.Errorf(
				"Wrong decoding for `% x`; expected `%s`, got `%s`",
				test.Raw,
				test.Decoded,
				decoded,
			)
		}
	}
}
