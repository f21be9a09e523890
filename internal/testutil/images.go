// Package testutil builds small image fixtures for tests.
package testutil

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rwcarlsen/goexif/tiff"

	"github.com/tstromberg/samtid/pkg/exifdir"
)

func tile() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		for y := 0; y < 8; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 30), G: uint8(y * 30), B: 128, A: 255})
		}
	}
	return img
}

// Directory returns a little endian directory with a Make entry in IFD0 and
// the given capture date (if not empty) in the Exif IFD.
func Directory(t testing.TB, capture string) *exifdir.Directory {
	t.Helper()
	d := exifdir.New(binary.LittleEndian)
	if err := d.Add(exifdir.KindIFD0, 0x010F, tiff.DTAscii, []byte("Canon\x00")); err != nil {
		t.Fatalf("add make: %v", err)
	}
	if err := d.Add(exifdir.KindIFD0, 0x0110, tiff.DTAscii, []byte("EOS 5D\x00")); err != nil {
		t.Fatalf("add model: %v", err)
	}
	if capture == "" {
		return d
	}
	for _, tag := range []uint16{exifdir.TagDateTimeOriginal, exifdir.TagDateTimeDigitized} {
		if err := d.Add(exifdir.KindExif, tag, tiff.DTAscii, append([]byte(capture), 0)); err != nil {
			t.Fatalf("add 0x%04x: %v", tag, err)
		}
	}
	return d
}

// JPEG returns a JPEG image, with an APP1 Exif segment holding d when d is not nil.
func JPEG(t testing.TB, d *exifdir.Directory) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, tile(), &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("jpeg encode: %v", err)
	}
	raw := buf.Bytes()
	if d == nil {
		return raw
	}

	td, err := d.Encode()
	if err != nil {
		t.Fatalf("encode directory: %v", err)
	}
	seg := []byte{0xFF, 0xE1}
	seg = binary.BigEndian.AppendUint16(seg, uint16(2+6+len(td)))
	seg = append(seg, "Exif\x00\x00"...)
	seg = append(seg, td...)

	out := append([]byte{}, raw[:2]...)
	out = append(out, seg...)
	return append(out, raw[2:]...)
}

// PNG returns a PNG image, with an eXIf chunk holding d when d is not nil.
func PNG(t testing.TB, d *exifdir.Directory) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, tile()); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	raw := buf.Bytes()
	if d == nil {
		return raw
	}

	td, err := d.Encode()
	if err != nil {
		t.Fatalf("encode directory: %v", err)
	}
	chunk := binary.BigEndian.AppendUint32(nil, uint32(len(td)))
	chunk = append(chunk, "eXIf"...)
	chunk = append(chunk, td...)
	chunk = binary.BigEndian.AppendUint32(chunk, crc32.ChecksumIEEE(chunk[4:]))

	// signature (8) + IHDR (4+4+13+4)
	const afterIHDR = 33
	out := append([]byte{}, raw[:afterIHDR]...)
	out = append(out, chunk...)
	return append(out, raw[afterIHDR:]...)
}

// GIF returns a GIF image.
func GIF(t testing.TB) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := gif.Encode(&buf, tile(), nil); err != nil {
		t.Fatalf("gif encode: %v", err)
	}
	return buf.Bytes()
}

// WriteFile writes data to dir/name and sets its modification time.
func WriteFile(t testing.TB, dir string, name string, data []byte, mtime time.Time) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	if !mtime.IsZero() {
		if err := os.Chtimes(p, mtime, mtime); err != nil {
			t.Fatalf("chtimes %s: %v", p, err)
		}
	}
	return p
}
