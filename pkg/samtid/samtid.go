// Package samtid reconciles the filesystem and embedded capture timestamps of images.
package samtid

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tstromberg/samtid/pkg/exifdir"
)

var (
	// ErrSameInputOutput is returned when the input path and output directory are the same.
	ErrSameInputOutput = errors.New("input and output must differ")
	// ErrNoInput is returned when the input contains no eligible files.
	ErrNoInput = errors.New("no valid input files")
	// ErrBadDateAbort is returned when a malformed capture time is found with BadDateAbort.
	ErrBadDateAbort = errors.New("malformed capture time")
	// ErrOutputExists is returned by SetCaptureTime when the output file is already present.
	ErrOutputExists = errors.New("output already exists")
)

// DefaultExtensions are the file extensions processed when none are configured.
var DefaultExtensions = []string{".jpg", ".png", ".gif"}

// Config holds configuration for samtid.
type Config struct {
	InPath     string
	OutDir     string
	Backend    string
	Slot       exifdir.SlotPolicy
	OnBadDate  BadDatePolicy
	Extensions []string

	// Times reads and writes filesystem timestamps, OSTimes when nil.
	Times FileTimes
}

// Target is the input and output location of a single reconciliation.
type Target struct {
	InPath  string
	OutPath string
}

func (t Target) String() string {
	return t.InPath
}

// BadDatePolicy decides what happens to a file whose embedded capture time cannot be parsed.
type BadDatePolicy int

const (
	// BadDateSkip reports the file and leaves it alone.
	BadDateSkip BadDatePolicy = iota
	// BadDateAbsent ignores the embedded capture time.
	BadDateAbsent
	// BadDateAbort stops the batch.
	BadDateAbort
)

// ParseBadDatePolicy parses "skip", "absent" or "abort".
func ParseBadDatePolicy(s string) (BadDatePolicy, error) {
	switch strings.ToLower(s) {
	case "skip":
		return BadDateSkip, nil
	case "absent":
		return BadDateAbsent, nil
	case "abort":
		return BadDateAbort, nil
	}
	return BadDateSkip, fmt.Errorf("unknown bad date policy %q", s)
}

func (p BadDatePolicy) String() string {
	switch p {
	case BadDateAbsent:
		return "absent"
	case BadDateAbort:
		return "abort"
	}
	return "skip"
}
