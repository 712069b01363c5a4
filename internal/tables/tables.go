// Package tables reads and writes the tab separated files exchanged between
// the stages of the community modelling pipelines: abundance tables, taxa
// tables and media.
package tables

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrMediumNotFound is returned when the media database has no row for the medium.
	ErrMediumNotFound = errors.New("medium not found in media database")
	// ErrEmptyTable is returned for a file without header line.
	ErrEmptyTable = errors.New("table has no header")
)

// Column sets of the files the pipelines validate.
var (
	AbundanceColumns = []string{"id", "taxonomy", "abundance"}
	MediumColumns    = []string{"reaction_id", "max_uptake"}
	MediaDBColumns   = []string{"medium", "compound"}
	TaxaColumns      = []string{"sample_id", "id", "abundance", "taxonomy", "file"}
)

// MissingColumnsError is returned when a table lacks required columns.
type MissingColumnsError struct {
	Path    string
	Missing []string
}

func (e *MissingColumnsError) Error() string {
	return fmt.Sprintf("%s: missing columns %s", e.Path, strings.Join(e.Missing, ", "))
}

func newReader(r io.Reader) *csv.Reader {
	reader := csv.NewReader(r)
	reader.Comma = '\t'
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	return reader
}

func newWriter(w io.Writer) *csv.Writer {
	writer := csv.NewWriter(w)
	writer.Comma = '\t'

	return writer
}

// table is a parsed TSV file with its column positions.
type table struct {
	path    string
	columns map[string]int
	rows    [][]string
}

func (t *table) get(row []string, column string) string {
	idx, ok := t.columns[column]
	if !ok || idx >= len(row) {
		return ""
	}

	return strings.TrimSpace(row[idx])
}

func (t *table) require(columns ...string) error {
	var missing []string
	for _, column := range columns {
		if _, ok := t.columns[column]; !ok {
			missing = append(missing, column)
		}
	}
	if len(missing) > 0 {
		return &MissingColumnsError{Path: t.path, Missing: missing}
	}

	return nil
}

func readHeader(reader *csv.Reader, path string) (map[string]int, error) {
	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.Wrap(ErrEmptyTable, path)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read header of %s", path)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		if _, ok := columns[name]; !ok {
			columns[name] = i
		}
	}

	return columns, nil
}

func readTable(path string) (*table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "unable to open table")
	}
	defer file.Close()

	reader := newReader(file)
	columns, err := readHeader(reader, path)
	if err != nil {
		return nil, err
	}

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read %s", path)
	}

	return &table{path: path, columns: columns, rows: rows}, nil
}

// ValidateHeader checks that the header line of the TSV file at path names
// every column. Extra columns and column order are not checked.
func ValidateHeader(path string, columns ...string) error {
	file, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "unable to open table")
	}
	defer file.Close()

	header, err := readHeader(newReader(file), path)
	if err != nil {
		return err
	}

	return (&table{path: path, columns: header}).require(columns...)
}

// ReadRows returns the named columns of every row of the TSV file at path, in
// file order. The header must name every column.
func ReadRows(path string, columns ...string) ([]map[string]string, error) {
	t, err := readTable(path)
	if err != nil {
		return nil, err
	}

	err = t.require(columns...)
	if err != nil {
		return nil, err
	}

	rows := make([]map[string]string, 0, len(t.rows))
	for _, row := range t.rows {
		values := make(map[string]string, len(columns))
		blank := true
		for _, column := range columns {
			values[column] = t.get(row, column)
			if values[column] != "" {
				blank = false
			}
		}
		if blank {
			continue
		}
		rows = append(rows, values)
	}

	return rows, nil
}
