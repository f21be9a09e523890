package samtid

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"
	"time"

	"golang.org/x/sys/windows"
)

func birthTime(_ string, fi fs.FileInfo) (time.Time, error) {
	d, ok := fi.Sys().(*syscall.Win32FileAttributeData)
	if !ok {
		return time.Time{}, errors.New("no file attribute data")
	}
	return time.Unix(0, d.CreationTime.Nanoseconds()), nil
}

func setBirthTime(path string, t time.Time) error {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return fmt.Errorf("path: %w", err)
	}

	h, err := windows.CreateFile(p, windows.FILE_WRITE_ATTRIBUTES,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE|windows.FILE_SHARE_DELETE,
		nil, windows.OPEN_EXISTING, windows.FILE_FLAG_BACKUP_SEMANTICS, 0)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer windows.CloseHandle(h)

	ft := windows.NsecToFiletime(t.UnixNano())
	if err := windows.SetFileTime(h, &ft, nil, nil); err != nil {
		return fmt.Errorf("set file time: %w", err)
	}
	return nil
}
