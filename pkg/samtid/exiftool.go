package samtid

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/barasher/go-exiftool"
	"github.com/otiai10/copy"
	"k8s.io/klog/v2"

	"github.com/tstromberg/samtid/pkg/exifdir"
)

// exiftool names for the capture and digitized time, with -G0 group prefixes.
var exiftoolKeys = []string{"EXIF:DateTimeOriginal", "EXIF:CreateDate"}

// ExiftoolAccessor edits metadata through a long running exiftool process.
type ExiftoolAccessor struct {
	et *exiftool.Exiftool
}

// NewExiftoolAccessor starts exiftool. Close must be called to stop it.
func NewExiftoolAccessor(opts ...func(*exiftool.Exiftool) error) (*ExiftoolAccessor, error) {
	opts = append([]func(*exiftool.Exiftool) error{
		exiftool.PrintGroupNames("0"),
		exiftool.NoPrintConversion(),
	}, opts...)

	et, err := exiftool.NewExiftool(opts...)
	if err != nil {
		return nil, fmt.Errorf("exiftool: %w", err)
	}
	return &ExiftoolAccessor{et: et}, nil
}

// Open extracts the metadata of the input image.
func (a *ExiftoolAccessor) Open(t Target) (Image, error) {
	fi := a.et.ExtractMetadata(t.InPath)[0]
	if fi.Err != nil {
		return nil, fmt.Errorf("extract fail for %q: %w", t.InPath, fi.Err)
	}

	for k, v := range fi.Fields {
		klog.V(2).Infof("%q=%v", k, v)
	}
	return &exiftoolImage{et: a.et, target: t, fi: fi}, nil
}

// Close stops exiftool.
func (a *ExiftoolAccessor) Close() error {
	return a.et.Close()
}

type exiftoolImage struct {
	et     *exiftool.Exiftool
	target Target
	fi     exiftool.FileMetadata
}

func (i *exiftoolImage) HasCaptureTime() bool {
	for _, k := range exiftoolKeys {
		if _, err := i.fi.GetString(k); err == nil {
			return true
		}
	}
	return false
}

func (i *exiftoolImage) CaptureTime() (time.Time, bool, error) {
	var ts []time.Time
	for _, k := range exiftoolKeys {
		ds, err := i.fi.GetString(k)
		if errors.Is(err, exiftool.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return time.Time{}, false, fmt.Errorf("get %s: %w", k, err)
		}

		t, err := exifdir.ParseDate(ds)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("%s: %w", k, err)
		}
		ts = append(ts, t)
	}

	if len(ts) == 0 {
		return time.Time{}, false, nil
	}
	return Earliest(ts[0], ts[1:]...), true, nil
}

// hasExif reports whether exiftool found any field in the EXIF group.
func (i *exiftoolImage) hasExif() bool {
	for k := range i.fi.Fields {
		if strings.HasPrefix(k, "EXIF:") {
			return true
		}
	}
	return false
}

func (i *exiftoolImage) SetCaptureTime(t time.Time) error {
	if !i.hasExif() {
		return exifdir.ErrNoFieldSlot
	}

	out := i.target.OutPath
	if _, err := os.Stat(out); err == nil {
		return fmt.Errorf("%s: %w", out, ErrOutputExists)
	}

	if err := copy.Copy(i.target.InPath, out); err != nil {
		return fmt.Errorf("copy: %w", err)
	}

	ds := t.Local().Format(exifdir.DateLayout)
	fm := exiftool.EmptyFileMetadata()
	fm.File = out
	for _, k := range exiftoolKeys {
		fm.SetString(k, ds)
	}

	fms := []exiftool.FileMetadata{fm}
	i.et.WriteMetadata(fms)
	if err := fms[0].Err; err != nil {
		if rerr := os.Remove(out); rerr != nil {
			klog.Warningf("unable to remove %s: %v", out, rerr)
		}
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

func (i *exiftoolImage) Close() error {
	i.fi = exiftool.FileMetadata{}
	return nil
}
