package pipelinedef

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/askiada/cgemflow/internal/tables"
	"github.com/askiada/cgemflow/pkg/pipeline/input"
)

// ErrMissingItemFile is returned when a table row names a file that does not
// exist.
var ErrMissingItemFile = errors.New("item file does not exist")

// itemAttrs are the item attributes every source provides. Table columns may
// not shadow them.
var itemAttrs = []string{"path", "name", "stem", "index"}

// tableItems yields one item per row of the TSV file at path. The file of
// pathColumn becomes the item path, the other columns its fields. Relative
// file names are resolved against the directory of the table. The table is
// read again on every range.
func tableItems(path, pathColumn string, columns, files []string) input.Sequence {
	return func(yield func(input.FileHandle, error) bool) {
		rows, err := tables.ReadRows(path, append([]string{pathColumn}, columns...)...)
		if err != nil {
			yield(input.FileHandle{}, errors.Wrap(err, "unable to read item table"))
			return
		}

		base := filepath.Dir(path)
		for i, row := range rows {
			fh, err := tableItem(base, row, pathColumn, columns, files)
			if err != nil {
				// the header is line 1
				err = errors.Wrapf(err, "%s line %d", path, i+2)
			}
			if !yield(fh, err) {
				return
			}
		}
	}
}

func tableItem(base string, row map[string]string, pathColumn string, columns, files []string) (input.FileHandle, error) {
	fields := make(map[string]string, len(columns))
	for _, column := range columns {
		fields[column] = row[column]
	}

	for _, column := range files {
		resolved, err := existingFile(base, column, row[column])
		if err != nil {
			return input.FileHandle{}, err
		}
		fields[column] = resolved
	}

	path, err := existingFile(base, pathColumn, row[pathColumn])
	if err != nil {
		return input.FileHandle{}, err
	}

	return input.FileHandle{Path: path, Fields: fields}, nil
}

func existingFile(base, column, name string) (string, error) {
	if name == "" {
		return "", errors.Wrapf(ErrMissingItemFile, "column %s is empty", column)
	}
	if !filepath.IsAbs(name) {
		name = filepath.Join(base, name)
	}

	abs, err := filepath.Abs(name)
	if err != nil {
		return "", errors.Wrapf(err, "unable to resolve %s", name)
	}

	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", errors.Wrapf(ErrMissingItemFile, "column %s: %s", column, abs)
		}

		return "", errors.Wrapf(err, "column %s", column)
	}
	if info.IsDir() {
		return "", errors.Wrapf(ErrMissingItemFile, "column %s: %s is a directory", column, abs)
	}

	return abs, nil
}
