package samtid

import (
	"encoding/binary"
	"fmt"
	"io/fs"
	"time"

	"golang.org/x/sys/unix"
)

func birthTime(path string, _ fs.FileInfo) (time.Time, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return time.Time{}, fmt.Errorf("stat: %w", err)
	}
	return time.Unix(st.Btim.Unix()), nil
}

func setBirthTime(path string, t time.Time) error {
	attrs := unix.Attrlist{
		Bitmapcount: unix.ATTR_BIT_MAP_COUNT,
		Commonattr:  unix.ATTR_CMN_CRTIME,
	}

	// struct timespec
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf, uint64(t.Unix()))
	binary.LittleEndian.PutUint64(buf[8:], uint64(t.Nanosecond()))

	if err := unix.Setattrlist(path, &attrs, buf, 0); err != nil {
		return fmt.Errorf("setattrlist: %w", err)
	}
	return nil
}
