package exifdir

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/gabriel-vasile/mimetype"
)

// ErrUnsupportedFormat is returned for content that is not JPEG, PNG or GIF.
var ErrUnsupportedFormat = errors.New("unsupported image format")

// ErrSegmentTooLarge is returned when an encoded directory no longer fits its JPEG segment.
var ErrSegmentTooLarge = errors.New("exif segment too large")

var (
	exifHeader   = []byte("Exif\x00\x00")
	pngSignature = []byte("\x89PNG\r\n\x1a\n")
	pngExifChunk = []byte("eXIf")
	pngEndChunk  = []byte("IEND")
)

const (
	markerSOI  = 0xD8
	markerEOI  = 0xD9
	markerSOS  = 0xDA
	markerAPP1 = 0xE1
	markerTEM  = 0x01

	// maxSegment is the largest JPEG segment payload, including the length field.
	maxSegment = 0xFFFF
)

// Format is an image container format.
type Format int

const (
	FormatUnknown Format = iota
	FormatJPEG
	FormatPNG
	FormatGIF
)

func (f Format) String() string {
	switch f {
	case FormatJPEG:
		return "jpeg"
	case FormatPNG:
		return "png"
	case FormatGIF:
		return "gif"
	}
	return "unknown"
}

// Image is an image file whose metadata directory has been decoded.
type Image struct {
	Format Format
	Dir    *Directory

	data []byte
	// start and end bound the metadata block in data; both are zero when there is none.
	start int
	end   int
}

// Load sniffs the container format of data and decodes its metadata directory.
// Images without an EXIF block get an empty directory.
func Load(data []byte) (*Image, error) {
	m := mimetype.Detect(data)
	i := &Image{data: data}

	var (
		tiffData []byte
		err      error
	)
	switch {
	case m.Is("image/jpeg"):
		i.Format = FormatJPEG
		tiffData, err = i.findJPEG()
	case m.Is("image/png"):
		i.Format = FormatPNG
		tiffData, err = i.findPNG()
	case m.Is("image/gif"):
		// GIF has no EXIF container.
		i.Format = FormatGIF
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, m.String())
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", i.Format, err)
	}

	if tiffData == nil {
		i.Dir = &Directory{Order: binary.LittleEndian}
		return i, nil
	}

	i.Dir, err = Decode(tiffData)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", i.Format, err)
	}
	return i, nil
}

// findJPEG locates the APP1 Exif segment and returns its TIFF payload.
func (i *Image) findJPEG() ([]byte, error) {
	d := i.data
	if len(d) < 2 || d[0] != 0xFF || d[1] != markerSOI {
		return nil, fmt.Errorf("missing SOI marker")
	}

	pos := 2
	for pos+4 <= len(d) {
		if d[pos] != 0xFF {
			return nil, fmt.Errorf("expected marker at offset %d, found 0x%02x", pos, d[pos])
		}
		marker := d[pos+1]
		switch {
		case marker == 0xFF:
			// fill byte
			pos++
			continue
		case marker == markerSOI || marker == markerTEM || (marker >= 0xD0 && marker <= 0xD7):
			pos += 2
			continue
		case marker == markerEOI || marker == markerSOS:
			return nil, nil
		}

		size := int(binary.BigEndian.Uint16(d[pos+2:]))
		if size < 2 || pos+2+size > len(d) {
			return nil, fmt.Errorf("segment 0x%02x at offset %d overruns file", marker, pos)
		}
		payload := d[pos+4 : pos+2+size]
		if marker == markerAPP1 && bytes.HasPrefix(payload, exifHeader) {
			i.start, i.end = pos, pos+2+size
			return payload[len(exifHeader):], nil
		}
		pos += 2 + size
	}
	return nil, nil
}

// findPNG locates the eXIf chunk and returns its TIFF payload.
func (i *Image) findPNG() ([]byte, error) {
	d := i.data
	if !bytes.HasPrefix(d, pngSignature) {
		return nil, fmt.Errorf("missing PNG signature")
	}

	pos := len(pngSignature)
	for pos+8 <= len(d) {
		n := int64(binary.BigEndian.Uint32(d[pos:]))
		typ := d[pos+4 : pos+8]
		end := int64(pos) + 8 + n + 4
		if end > int64(len(d)) {
			return nil, fmt.Errorf("chunk %q at offset %d overruns file", typ, pos)
		}
		if bytes.Equal(typ, pngExifChunk) {
			i.start, i.end = pos, int(end)
			payload := d[pos+8 : int(end)-4]
			// some writers copy the JPEG header into the chunk
			return bytes.TrimPrefix(payload, exifHeader), nil
		}
		if bytes.Equal(typ, pngEndChunk) {
			break
		}
		pos = int(end)
	}
	return nil, nil
}

// Bytes returns the image with its directory re-encoded. Unmodified images are returned as loaded.
func (i *Image) Bytes() ([]byte, error) {
	if i.Dir == nil || !i.Dir.Modified() || i.end == 0 {
		return i.data, nil
	}

	tiffData, err := i.Dir.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}

	var block []byte
	switch i.Format {
	case FormatJPEG:
		size := 2 + len(exifHeader) + len(tiffData)
		if size > maxSegment {
			return nil, fmt.Errorf("%w: %d bytes", ErrSegmentTooLarge, size)
		}
		block = make([]byte, 0, 2+size)
		block = append(block, 0xFF, markerAPP1)
		block = binary.BigEndian.AppendUint16(block, uint16(size))
		block = append(block, exifHeader...)
		block = append(block, tiffData...)
	case FormatPNG:
		block = make([]byte, 0, 12+len(tiffData))
		block = binary.BigEndian.AppendUint32(block, uint32(len(tiffData)))
		block = append(block, pngExifChunk...)
		block = append(block, tiffData...)
		block = binary.BigEndian.AppendUint32(block, crc32.ChecksumIEEE(block[4:]))
	default:
		return nil, fmt.Errorf("%w: cannot write metadata to %s", ErrUnsupportedFormat, i.Format)
	}

	out := make([]byte, 0, len(i.data)-(i.end-i.start)+len(block))
	out = append(out, i.data[:i.start]...)
	out = append(out, block...)
	return append(out, i.data[i.end:]...), nil
}
