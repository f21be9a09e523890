package samtid

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/karrick/godirwalk"
	"k8s.io/klog/v2"
)

// CheckPaths returns ErrSameInputOutput when in and outDir name the same location.
func CheckPaths(in, outDir string) error {
	a, err := filepath.Abs(in)
	if err != nil {
		return fmt.Errorf("abs %s: %w", in, err)
	}
	b, err := filepath.Abs(outDir)
	if err != nil {
		return fmt.Errorf("abs %s: %w", outDir, err)
	}
	if filepath.Clean(a) == filepath.Clean(b) {
		return fmt.Errorf("%w: %s", ErrSameInputOutput, a)
	}
	return nil
}

// Inputs returns path itself when it is a regular file, or its direct children
// sorted by name when it is a directory.
func Inputs(path string) ([]string, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat: %w", err)
	}

	switch {
	case fi.Mode().IsRegular():
		return []string{path}, nil
	case fi.IsDir():
	default:
		return nil, fmt.Errorf("%s is neither a file nor a directory", path)
	}

	des, err := godirwalk.ReadDirents(path, nil)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}

	found := []string{}
	for _, de := range des {
		if de.IsDir() {
			klog.V(2).Infof("skipping directory %s", de.Name())
			continue
		}
		found = append(found, filepath.Join(path, de.Name()))
	}
	sort.Strings(found)
	return found, nil
}

// Eligible reports whether path has one of the given extensions, ignoring case.
func Eligible(path string, exts []string) bool {
	ext := filepath.Ext(path)
	for _, e := range exts {
		if strings.EqualFold(ext, e) {
			return true
		}
	}
	return false
}

// ParseExtensions parses a comma separated extension list such as "jpg,.PNG".
func ParseExtensions(s string) []string {
	var exts []string
	for _, e := range strings.Split(s, ",") {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts = append(exts, strings.ToLower(e))
	}
	return exts
}

// OutputPath is where the reconciled copy of in is written.
func OutputPath(outDir, in string) string {
	return filepath.Join(outDir, filepath.Base(in))
}

// Targets resolves the input path to the eligible files and their output paths.
func Targets(c *Config) ([]Target, error) {
	paths, err := Inputs(c.InPath)
	if err != nil {
		return nil, err
	}

	exts := c.Extensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}

	ts := []Target{}
	for _, p := range paths {
		if !Eligible(p, exts) {
			klog.V(2).Infof("skipping %s: ineligible extension", p)
			continue
		}
		ts = append(ts, Target{InPath: p, OutPath: OutputPath(c.OutDir, p)})
	}
	if len(ts) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoInput, c.InPath)
	}
	return ts, nil
}
