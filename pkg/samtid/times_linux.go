package samtid

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"golang.org/x/sys/unix"
)

func birthTime(path string, _ fs.FileInfo) (time.Time, error) {
	var st unix.Statx_t
	if err := unix.Statx(unix.AT_FDCWD, path, 0, unix.STATX_BTIME, &st); err != nil {
		return time.Time{}, fmt.Errorf("statx: %w", err)
	}
	if st.Mask&unix.STATX_BTIME == 0 {
		return time.Time{}, errors.New("filesystem does not record birth time")
	}
	return time.Unix(st.Btime.Sec, int64(st.Btime.Nsec)), nil
}

// Linux has no call to change the birth time of a file.
func setBirthTime(string, time.Time) error {
	return errors.ErrUnsupported
}
