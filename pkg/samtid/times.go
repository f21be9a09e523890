package samtid

import (
	"fmt"
	"os"
	"time"

	"k8s.io/klog/v2"
)

// Times are the filesystem timestamps of a file. A zero value means the timestamp is absent.
type Times struct {
	Created  time.Time
	Modified time.Time
}

// FileTimes reads and writes filesystem timestamps.
type FileTimes interface {
	Stat(path string) (Times, error)
	// SetCreated returns errors.ErrUnsupported where the birth time cannot be written.
	SetCreated(path string, t time.Time) error
	SetModified(path string, t time.Time) error
}

// unset is the latest instant that still means "never set": the Unix epoch, and everything
// before it, including the 1601 FILETIME epoch used on Windows.
var unset = time.Unix(0, 0)

// present returns t, or the zero time when t is an unset sentinel.
func present(t time.Time) time.Time {
	if !t.After(unset) {
		return time.Time{}
	}
	return t
}

// OSTimes uses the timestamps of the local filesystem.
type OSTimes struct{}

// Stat returns the birth and modification time of path.
func (OSTimes) Stat(path string) (Times, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return Times{}, fmt.Errorf("stat: %w", err)
	}

	created, err := birthTime(path, fi)
	if err != nil {
		klog.V(1).Infof("no birth time for %s: %v", path, err)
	}
	return Times{Created: present(created), Modified: present(fi.ModTime())}, nil
}

// SetCreated sets the birth time of path.
func (OSTimes) SetCreated(path string, t time.Time) error {
	return setBirthTime(path, t)
}

// SetModified sets the modification time of path, leaving the access time alone.
func (OSTimes) SetModified(path string, t time.Time) error {
	if err := os.Chtimes(path, time.Time{}, t); err != nil {
		return fmt.Errorf("chtimes: %w", err)
	}
	return nil
}
