package tables

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
)

// MediumRow is an exchange reaction with its uptake bound.
type MediumRow struct {
	ReactionID string
	MaxUptake  float64
}

// ExtractMedium returns the exchange reactions of mediumID in the media
// database, one per compound, in database order.
func ExtractMedium(mediaDB, mediumID, compartment string, maxUptake float64) ([]MediumRow, error) {
	media, err := readTable(mediaDB)
	if err != nil {
		return nil, err
	}

	err = media.require(MediaDBColumns...)
	if err != nil {
		return nil, err
	}

	rows := []MediumRow{}
	seen := map[string]struct{}{}
	found := false
	for _, row := range media.rows {
		if media.get(row, "medium") != mediumID {
			continue
		}
		found = true

		compound := media.get(row, "compound")
		if compound == "" {
			continue
		}

		reaction := "EX_" + compound + "_" + compartment
		if _, ok := seen[reaction]; ok {
			continue
		}
		seen[reaction] = struct{}{}
		rows = append(rows, MediumRow{ReactionID: reaction, MaxUptake: maxUptake})
	}

	if !found {
		return nil, errors.Wrapf(ErrMediumNotFound, "medium %q in %s", mediumID, mediaDB)
	}

	return rows, nil
}

// WriteMedium writes the rows to path, one reaction and bound per line. The
// file has no header line: the exchanges step reads it positionally.
func WriteMedium(path string, rows []MediumRow) error {
	records := make([][]string, 0, len(rows))
	for _, row := range rows {
		records = append(records, []string{row.ReactionID, strconv.FormatFloat(row.MaxUptake, 'g', -1, 64)})
	}

	return writeFile(path, records)
}

func writeFile(path string, records [][]string) error {
	if dir := filepath.Dir(path); dir != "." {
		err := os.MkdirAll(dir, 0o755)
		if err != nil {
			return errors.Wrap(err, "unable to create output directory")
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "unable to create table")
	}
	defer file.Close()

	writer := newWriter(file)
	err = writer.WriteAll(records)
	if err != nil {
		return errors.Wrapf(err, "unable to write %s", path)
	}

	return errors.Wrapf(file.Close(), "unable to close %s", path)
}
