// Package input enumerates the files a pipeline runs over.
package input

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// FileHandle is one discovered input file.
type FileHandle struct {
	Path string
	// Fields holds the other columns of the table row the file came from.
	Fields map[string]string
}

// Name returns the base name of the file.
func (f FileHandle) Name() string {
	return filepath.Base(f.Path)
}

// Stem returns the base name without its last extension.
func (f FileHandle) Stem() string {
	name := f.Name()
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// Sequence is a lazy, restartable sequence of file handles. Each range over
// it reads the filesystem again.
type Sequence func(yield func(FileHandle, error) bool)

// Enumerate returns the regular files matching a glob pattern. Nothing is
// read until the sequence is ranged over. The order is the one returned by
// the filesystem and carries no meaning.
func Enumerate(pattern string) Sequence {
	return func(yield func(FileHandle, error) bool) {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			yield(FileHandle{}, errors.Wrapf(err, "invalid pattern %q", pattern))
			return
		}

		seen := make(map[string]struct{}, len(matches))
		for _, match := range matches {
			abs, err := filepath.Abs(match)
			if err != nil {
				if !yield(FileHandle{}, errors.Wrapf(err, "unable to resolve %s", match)) {
					return
				}
				continue
			}
			if _, ok := seen[abs]; ok {
				continue
			}
			seen[abs] = struct{}{}

			info, err := os.Stat(abs)
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					// removed between glob and stat
					continue
				}
				if !yield(FileHandle{}, errors.Wrapf(err, "unable to stat %s", abs)) {
					return
				}
				continue
			}
			if info.IsDir() {
				continue
			}

			if !yield(FileHandle{Path: abs}, nil) {
				return
			}
		}
	}
}

// Files returns a sequence over a fixed list of paths.
func Files(paths ...string) Sequence {
	return func(yield func(FileHandle, error) bool) {
		for _, path := range paths {
			if !yield(FileHandle{Path: path}, nil) {
				return
			}
		}
	}
}

// Collect drains seq and stops at the first error.
func Collect(seq Sequence) ([]FileHandle, error) {
	var out []FileHandle
	for fh, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, fh)
	}

	return out, nil
}
