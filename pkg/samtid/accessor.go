package samtid

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"k8s.io/klog/v2"

	"github.com/tstromberg/samtid/pkg/exifdir"
)

// captureTags hold the capture time, in the order they are written.
var captureTags = []uint16{exifdir.TagDateTimeOriginal, exifdir.TagDateTimeDigitized}

// Accessor opens images for reading and rewriting their capture time.
type Accessor interface {
	Open(t Target) (Image, error)
	Close() error
}

// Image is an opened image. Close must be called on every path.
type Image interface {
	// HasCaptureTime reports whether the metadata holds a capture or digitized time.
	HasCaptureTime() bool
	// CaptureTime returns the earliest embedded capture time, ok is false when there is none.
	CaptureTime() (t time.Time, ok bool, err error)
	// SetCaptureTime stores t in both capture fields and writes the image to its output path.
	// It returns ErrOutputExists, leaving the file alone, when something is already there.
	SetCaptureTime(t time.Time) error
	Close() error
}

// NewAccessor returns the accessor for the named backend: "native" or "exiftool".
func NewAccessor(backend string, slot exifdir.SlotPolicy) (Accessor, error) {
	switch backend {
	case "", "native":
		return &NativeAccessor{Slot: slot}, nil
	case "exiftool":
		a, err := NewExiftoolAccessor()
		if err != nil {
			return nil, err
		}
		return a, nil
	}
	return nil, fmt.Errorf("unknown backend %q", backend)
}

// NativeAccessor edits metadata with the built-in codec.
type NativeAccessor struct {
	Slot exifdir.SlotPolicy
}

// Open reads and decodes the input image.
func (a *NativeAccessor) Open(t Target) (Image, error) {
	data, err := os.ReadFile(t.InPath)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	img, err := exifdir.Load(data)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", t.InPath, err)
	}
	klog.V(2).Infof("%s: %s with %d metadata entries", t.InPath, img.Format, img.Dir.Len())
	return &nativeImage{target: t, img: img, slot: a.Slot}, nil
}

// Close is a no-op: nothing is shared between images.
func (a *NativeAccessor) Close() error {
	return nil
}

type nativeImage struct {
	target Target
	img    *exifdir.Image
	slot   exifdir.SlotPolicy
}

func (i *nativeImage) HasCaptureTime() bool {
	for _, tag := range captureTags {
		if len(i.img.Dir.Find(tag)) > 0 {
			return true
		}
	}
	return false
}

func (i *nativeImage) CaptureTime() (time.Time, bool, error) {
	if !i.HasCaptureTime() {
		return time.Time{}, false, nil
	}

	var ts []time.Time
	for _, tag := range captureTags {
		for _, e := range i.img.Dir.Find(tag) {
			t, err := exifdir.DecodeDate(e.Value)
			if err != nil {
				return time.Time{}, false, fmt.Errorf("tag 0x%04x: %w", tag, err)
			}
			ts = append(ts, t)
		}
	}
	return Earliest(ts[0], ts[1:]...), true, nil
}

func (i *nativeImage) SetCaptureTime(t time.Time) error {
	date := exifdir.EncodeDate(t)
	for _, tag := range captureTags {
		if err := i.img.Dir.Upsert(tag, date, i.slot); err != nil {
			return err
		}
	}

	data, err := i.img.Bytes()
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return writeNew(i.target.OutPath, data)
}

func (i *nativeImage) Close() error {
	i.img = nil
	return nil
}

// writeNew writes data to path unless something already exists there.
func writeNew(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("%s: %w", path, ErrOutputExists)
	}
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("write: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("close: %w", err)
	}
	return nil
}
