//go:build !linux && !darwin && !windows

package samtid

import (
	"errors"
	"io/fs"
	"time"
)

func birthTime(string, fs.FileInfo) (time.Time, error) {
	return time.Time{}, errors.ErrUnsupported
}

func setBirthTime(string, time.Time) error {
	return errors.ErrUnsupported
}
