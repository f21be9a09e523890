// Package exifdir reads and rewrites the EXIF metadata directory embedded in JPEG and PNG images.
package exifdir

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/rwcarlsen/goexif/tiff"
	"k8s.io/klog/v2"
)

// Tags with special meaning to the directory.
const (
	TagDateTimeOriginal  uint16 = 0x9003
	TagDateTimeDigitized uint16 = 0x9004

	TagExifIFD         uint16 = 0x8769
	TagGPSIFD          uint16 = 0x8825
	TagInteropIFD      uint16 = 0xA005
	TagThumbnailOffset uint16 = 0x0201
	TagThumbnailLength uint16 = 0x0202
	TagStripOffsets    uint16 = 0x0111
	TagStripByteCounts uint16 = 0x0117
	TagTileOffsets     uint16 = 0x0144
	TagTileByteCounts  uint16 = 0x0145
)

// structural entries hold offsets into the blob, overwriting them corrupts the image.
var structural = map[uint16]bool{
	TagExifIFD:         true,
	TagGPSIFD:          true,
	TagInteropIFD:      true,
	TagThumbnailOffset: true,
	TagThumbnailLength: true,
	TagStripOffsets:    true,
	TagStripByteCounts: true,
	TagTileOffsets:     true,
	TagTileByteCounts:  true,
}

var typeSize = map[tiff.DataType]int{
	tiff.DTByte:      1,
	tiff.DTAscii:     1,
	tiff.DTShort:     2,
	tiff.DTLong:      4,
	tiff.DTRational:  8,
	tiff.DTSByte:     1,
	tiff.DTUndefined: 1,
	tiff.DTSShort:    2,
	tiff.DTSLong:     4,
	tiff.DTSRational: 8,
	tiff.DTFloat:     4,
	tiff.DTDouble:    8,
}

// ErrNoFieldSlot is returned when a directory has no entry that can hold a new field.
var ErrNoFieldSlot = errors.New("cannot set capture time: no field slot available")

// SlotPolicy decides where Upsert puts a tag that is not present yet.
type SlotPolicy int

const (
	// SlotAppend allocates a new entry in the Exif sub-IFD.
	SlotAppend SlotPolicy = iota
	// SlotRepurpose overwrites the first non-structural entry.
	SlotRepurpose
)

// ParseSlotPolicy parses "append" or "repurpose".
func ParseSlotPolicy(s string) (SlotPolicy, error) {
	switch s {
	case "append":
		return SlotAppend, nil
	case "repurpose":
		return SlotRepurpose, nil
	}
	return SlotAppend, fmt.Errorf("unknown slot policy %q", s)
}

func (p SlotPolicy) String() string {
	if p == SlotRepurpose {
		return "repurpose"
	}
	return "append"
}

// Kind identifies an image file directory.
type Kind int

const (
	KindIFD0 Kind = iota
	KindExif
	KindGPS
	KindInterop
	KindChain // IFD1 and anything after it
)

// Entry is one tagged field.
type Entry struct {
	Tag   uint16
	Type  tiff.DataType
	Count uint32
	Value []byte

	// valOffset is where Value lived in the decoded blob, 0 when inline or new.
	valOffset uint32

	// dirty entries need encoding; upserted ones were written by Upsert and are never repurposed.
	dirty    bool
	upserted bool
}

// IFD is an ordered list of entries.
type IFD struct {
	Kind    Kind
	Entries []*Entry
}

// Directory is the decoded TIFF structure of an EXIF block.
type Directory struct {
	Order binary.ByteOrder

	ifd0    *IFD
	exif    *IFD
	gps     *IFD
	interop *IFD
	chain   []*IFD

	thumbnail []byte
	raw       []byte
	relayout  bool
}

// New returns an empty directory with an IFD0 ready to receive entries.
func New(order binary.ByteOrder) *Directory {
	return &Directory{Order: order, ifd0: &IFD{Kind: KindIFD0}, relayout: true}
}

// Decode parses a TIFF structure, as found after the "Exif\0\0" header of a JPEG APP1 segment.
// Entries that cannot be decoded (zero count, unknown type, value outside the block) are
// left out of the directory; the rest of the block still loads.
func Decode(raw []byte) (*Directory, error) {
	order, off, err := header(raw)
	if err != nil {
		return nil, fmt.Errorf("decode tiff: %w", err)
	}

	d := &Directory{Order: order, raw: raw}
	seen := map[uint32]bool{}
	for off != 0 {
		if seen[off] {
			return nil, fmt.Errorf("decode tiff: IFD at offset %d links back to itself", off)
		}
		seen[off] = true

		ifd, next, err := d.readIFD(off, KindChain)
		if err != nil {
			return nil, fmt.Errorf("decode tiff: %w", err)
		}
		if d.ifd0 == nil {
			ifd.Kind = KindIFD0
			d.ifd0 = ifd
		} else {
			d.chain = append(d.chain, ifd)
		}
		off = next
	}
	if d.ifd0 == nil {
		return d, nil
	}

	if d.exif, err = d.subIFD(d.ifd0, TagExifIFD, KindExif); err != nil {
		return nil, fmt.Errorf("exif ifd: %w", err)
	}
	if d.gps, err = d.subIFD(d.ifd0, TagGPSIFD, KindGPS); err != nil {
		return nil, fmt.Errorf("gps ifd: %w", err)
	}
	if d.exif != nil {
		if d.interop, err = d.subIFD(d.exif, TagInteropIFD, KindInterop); err != nil {
			return nil, fmt.Errorf("interop ifd: %w", err)
		}
	}

	if len(d.chain) > 0 {
		d.thumbnail = d.readThumbnail(d.chain[0])
	}
	return d, nil
}

// header returns the byte order and first IFD offset of a TIFF block.
func header(raw []byte) (binary.ByteOrder, uint32, error) {
	if len(raw) < 8 {
		return nil, 0, fmt.Errorf("%d bytes is too short for a TIFF header", len(raw))
	}
	var order binary.ByteOrder
	switch string(raw[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, 0, fmt.Errorf("unknown byte order %q", raw[:2])
	}
	if order.Uint16(raw[2:]) != 42 {
		return nil, 0, errors.New("missing TIFF marker")
	}
	return order, order.Uint32(raw[4:]), nil
}

// readIFD decodes the IFD at off one entry at a time and returns it with the offset of the next IFD.
func (d *Directory) readIFD(off uint32, kind Kind) (*IFD, uint32, error) {
	start := uint64(off)
	if start+2 > uint64(len(d.raw)) {
		return nil, 0, fmt.Errorf("offset %d beyond %d byte block", off, len(d.raw))
	}
	end := start + 2 + 12*uint64(d.Order.Uint16(d.raw[start:]))
	if end+4 > uint64(len(d.raw)) {
		return nil, 0, fmt.Errorf("IFD at %d runs past the %d byte block", off, len(d.raw))
	}

	ifd := &IFD{Kind: kind}
	r := bytes.NewReader(d.raw)
	for p := start + 2; p < end; p += 12 {
		if _, err := r.Seek(int64(p), io.SeekStart); err != nil {
			return nil, 0, fmt.Errorf("seek: %w", err)
		}
		tg, err := tiff.DecodeTag(r, d.Order)
		if err == nil && uint64(len(tg.Val)) != uint64(typeSize[tg.Type])*uint64(tg.Count) {
			err = fmt.Errorf("%d value bytes for count %d", len(tg.Val), tg.Count)
		}
		if err != nil {
			klog.V(1).Infof("dropping undecodable entry at offset %d: %v", p, err)
			continue
		}
		ifd.Entries = append(ifd.Entries, &Entry{
			Tag:       tg.Id,
			Type:      tg.Type,
			Count:     tg.Count,
			Value:     tg.Val,
			valOffset: tg.ValOffset,
		})
	}
	return ifd, d.Order.Uint32(d.raw[end:]), nil
}

func (d *Directory) subIFD(parent *IFD, tag uint16, kind Kind) (*IFD, error) {
	off, ok := d.long(parent, tag)
	if !ok {
		return nil, nil
	}
	ifd, _, err := d.readIFD(off, kind)
	return ifd, err
}

func (d *Directory) readThumbnail(ifd *IFD) []byte {
	off, ok := d.long(ifd, TagThumbnailOffset)
	if !ok {
		return nil
	}
	n, ok := d.long(ifd, TagThumbnailLength)
	if !ok {
		return nil
	}
	end := uint64(off) + uint64(n)
	if end > uint64(len(d.raw)) {
		klog.V(1).Infof("thumbnail at %d+%d is outside the %d byte block, ignoring", off, n, len(d.raw))
		return nil
	}
	return append([]byte(nil), d.raw[off:end]...)
}

// long returns the first value of a SHORT or LONG entry.
func (d *Directory) long(ifd *IFD, tag uint16) (uint32, bool) {
	for _, e := range ifd.Entries {
		if e.Tag != tag {
			continue
		}
		switch {
		case e.Type == tiff.DTLong && len(e.Value) >= 4:
			return d.Order.Uint32(e.Value), true
		case e.Type == tiff.DTShort && len(e.Value) >= 2:
			return uint32(d.Order.Uint16(e.Value)), true
		}
	}
	return 0, false
}

func (d *Directory) ifds() []*IFD {
	var out []*IFD
	for _, ifd := range []*IFD{d.ifd0, d.exif, d.gps, d.interop} {
		if ifd != nil {
			out = append(out, ifd)
		}
	}
	return append(out, d.chain...)
}

// Entries returns every entry: IFD0, Exif, GPS, Interop, then the IFD chain.
func (d *Directory) Entries() []*Entry {
	var es []*Entry
	for _, ifd := range d.ifds() {
		es = append(es, ifd.Entries...)
	}
	return es
}

// Len is the number of entries in the directory.
func (d *Directory) Len() int {
	n := 0
	for _, ifd := range d.ifds() {
		n += len(ifd.Entries)
	}
	return n
}

// Find returns all entries with the given tag, in Entries order.
func (d *Directory) Find(tag uint16) []*Entry {
	var es []*Entry
	for _, e := range d.Entries() {
		if e.Tag == tag {
			es = append(es, e)
		}
	}
	return es
}

// Modified reports whether Encode would produce something other than the decoded bytes.
func (d *Directory) Modified() bool {
	if d.relayout {
		return true
	}
	for _, e := range d.Entries() {
		if e.dirty {
			return true
		}
	}
	return false
}

// Add appends an entry to the directory of the given kind, creating that directory when needed.
func (d *Directory) Add(kind Kind, tag uint16, typ tiff.DataType, value []byte) error {
	size, ok := typeSize[typ]
	if !ok {
		return fmt.Errorf("unknown type %d", typ)
	}
	if len(value)%size != 0 {
		return fmt.Errorf("%d bytes is not a multiple of %d for type %d", len(value), size, typ)
	}

	ifd := d.ifd(kind)
	ifd.Entries = append(ifd.Entries, &Entry{
		Tag:   tag,
		Type:  typ,
		Count: uint32(len(value) / size),
		Value: append([]byte(nil), value...),
		dirty: true,
	})
	d.relayout = true
	return nil
}

func (d *Directory) ifd(kind Kind) *IFD {
	if d.ifd0 == nil {
		d.ifd0 = &IFD{Kind: KindIFD0}
	}
	switch kind {
	case KindExif:
		if d.exif == nil {
			d.exif = &IFD{Kind: KindExif}
		}
		return d.exif
	case KindGPS:
		if d.gps == nil {
			d.gps = &IFD{Kind: KindGPS}
		}
		return d.gps
	case KindInterop:
		d.ifd(KindExif)
		if d.interop == nil {
			d.interop = &IFD{Kind: KindInterop}
		}
		return d.interop
	case KindChain:
		if len(d.chain) == 0 {
			d.chain = append(d.chain, &IFD{Kind: KindChain})
		}
		return d.chain[0]
	}
	return d.ifd0
}

// Upsert stores value under tag. Existing entries are overwritten; otherwise policy
// decides whether a new entry is allocated or an existing one is repurposed.
func (d *Directory) Upsert(tag uint16, value []byte, policy SlotPolicy) error {
	if d.Len() == 0 {
		return ErrNoFieldSlot
	}

	if es := d.Find(tag); len(es) > 0 {
		for _, e := range es {
			d.overwrite(e, e.Type, value)
		}
		return nil
	}

	switch policy {
	case SlotAppend:
		return d.Add(KindExif, tag, tiff.DTAscii, value)
	case SlotRepurpose:
		v := d.victim()
		if v == nil {
			return ErrNoFieldSlot
		}
		klog.V(2).Infof("repurposing entry 0x%04x as 0x%04x", v.Tag, tag)
		v.Tag = tag
		d.overwrite(v, tiff.DTAscii, value)
		d.relayout = true
		return nil
	}
	return fmt.Errorf("unknown slot policy %d", policy)
}

// victim is the first entry that may be repurposed.
func (d *Directory) victim() *Entry {
	for _, e := range d.Entries() {
		if structural[e.Tag] || e.upserted {
			continue
		}
		return e
	}
	return nil
}

func (d *Directory) overwrite(e *Entry, typ tiff.DataType, value []byte) {
	if typeSize[typ] != 1 {
		typ = tiff.DTAscii
	}
	if typ != e.Type || len(value) != len(e.Value) || e.valOffset == 0 || d.raw == nil {
		d.relayout = true
	}
	e.Type = typ
	e.Count = uint32(len(value))
	e.Value = append([]byte(nil), value...)
	e.dirty = true
	e.upserted = true
}

// Encode serializes the directory. When only same-sized values changed, the decoded
// bytes are patched in place so that unknown offsets (maker notes) stay valid.
func (d *Directory) Encode() ([]byte, error) {
	if !d.relayout && d.raw != nil {
		out := append([]byte(nil), d.raw...)
		for _, e := range d.Entries() {
			if e.dirty {
				copy(out[e.valOffset:], e.Value)
			}
		}
		return out, nil
	}
	return d.layout()
}

func (d *Directory) layout() ([]byte, error) {
	if d.ifd0 == nil {
		return nil, fmt.Errorf("directory has no IFD0")
	}
	d.link()

	ifds := []*IFD{d.ifd0}
	for _, ifd := range []*IFD{d.exif, d.interop, d.gps} {
		if ifd != nil && len(ifd.Entries) > 0 {
			ifds = append(ifds, ifd)
		}
	}
	ifds = append(ifds, d.chain...)

	ifdOff := map[*IFD]uint32{}
	valOff := map[*Entry]uint32{}
	var thumbOff uint32
	pos := uint64(8)
	for _, ifd := range ifds {
		sort.SliceStable(ifd.Entries, func(i, j int) bool {
			return ifd.Entries[i].Tag < ifd.Entries[j].Tag
		})
		ifdOff[ifd] = uint32(pos)
		pos += 2 + 12*uint64(len(ifd.Entries)) + 4
		for _, e := range ifd.Entries {
			if len(e.Value) > 4 {
				valOff[e] = uint32(pos)
				pos += uint64(len(e.Value))
				pos += pos & 1
			}
		}
		if len(d.chain) > 0 && ifd == d.chain[0] && d.thumbnail != nil {
			thumbOff = uint32(pos)
			pos += uint64(len(d.thumbnail))
			pos += pos & 1
		}
		if pos > 1<<32-1 {
			return nil, fmt.Errorf("directory exceeds 4GiB")
		}
	}

	if d.exif != nil && len(d.exif.Entries) > 0 {
		d.setLong(d.ifd0, TagExifIFD, ifdOff[d.exif])
		if d.interop != nil && len(d.interop.Entries) > 0 {
			d.setLong(d.exif, TagInteropIFD, ifdOff[d.interop])
		}
	}
	if d.gps != nil && len(d.gps.Entries) > 0 {
		d.setLong(d.ifd0, TagGPSIFD, ifdOff[d.gps])
	}
	if len(d.chain) > 0 && d.thumbnail != nil {
		d.setLong(d.chain[0], TagThumbnailOffset, thumbOff)
		d.setLong(d.chain[0], TagThumbnailLength, uint32(len(d.thumbnail)))
	}

	out := make([]byte, pos)
	if d.Order == binary.BigEndian {
		copy(out, "MM")
	} else {
		copy(out, "II")
	}
	d.Order.PutUint16(out[2:], 42)
	d.Order.PutUint32(out[4:], 8)

	// next pointers: IFD0 and the chain link to each other, sub-IFDs end the list.
	next := map[*IFD]uint32{}
	chain := append([]*IFD{d.ifd0}, d.chain...)
	for i := 0; i+1 < len(chain); i++ {
		next[chain[i]] = ifdOff[chain[i+1]]
	}

	for _, ifd := range ifds {
		p := ifdOff[ifd]
		d.Order.PutUint16(out[p:], uint16(len(ifd.Entries)))
		p += 2
		for _, e := range ifd.Entries {
			d.Order.PutUint16(out[p:], e.Tag)
			d.Order.PutUint16(out[p+2:], uint16(e.Type))
			d.Order.PutUint32(out[p+4:], e.Count)
			if off, ok := valOff[e]; ok {
				d.Order.PutUint32(out[p+8:], off)
				copy(out[off:], e.Value)
			} else {
				copy(out[p+8:p+12], e.Value)
			}
			p += 12
		}
		d.Order.PutUint32(out[p:], next[ifd])
	}

	if thumbOff != 0 {
		copy(out[thumbOff:], d.thumbnail)
	}
	return out, nil
}

// link keeps sub-IFD pointer entries in step with the sub-IFDs that will be written.
// It must run before offsets are assigned since it may add entries.
func (d *Directory) link() {
	hasExif := d.exif != nil && len(d.exif.Entries) > 0
	hasInterop := hasExif && d.interop != nil && len(d.interop.Entries) > 0
	hasGPS := d.gps != nil && len(d.gps.Entries) > 0

	d.point(d.ifd0, TagExifIFD, hasExif)
	d.point(d.exif, TagInteropIFD, hasInterop)
	d.point(d.ifd0, TagGPSIFD, hasGPS)
	if len(d.chain) > 0 && d.thumbnail != nil {
		d.point(d.chain[0], TagThumbnailOffset, true)
		d.point(d.chain[0], TagThumbnailLength, true)
	}
}

func (d *Directory) point(ifd *IFD, tag uint16, want bool) {
	if !want {
		d.drop(ifd, tag)
		return
	}
	if _, ok := d.long(ifd, tag); !ok {
		d.setLong(ifd, tag, 0)
	}
}

func (d *Directory) drop(ifd *IFD, tag uint16) {
	if ifd == nil {
		return
	}
	kept := ifd.Entries[:0]
	for _, e := range ifd.Entries {
		if e.Tag != tag {
			kept = append(kept, e)
		}
	}
	ifd.Entries = kept
}

func (d *Directory) setLong(ifd *IFD, tag uint16, v uint32) {
	val := make([]byte, 4)
	d.Order.PutUint32(val, v)
	for _, e := range ifd.Entries {
		if e.Tag == tag {
			e.Type = tiff.DTLong
			e.Count = 1
			e.Value = val
			return
		}
	}
	ifd.Entries = append(ifd.Entries, &Entry{Tag: tag, Type: tiff.DTLong, Count: 1, Value: val})
	sort.SliceStable(ifd.Entries, func(i, j int) bool {
		return ifd.Entries[i].Tag < ifd.Entries[j].Tag
	})
}
