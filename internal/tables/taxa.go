package tables

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// TaxaRow is a line of the taxa table consumed by the community builder.
type TaxaRow struct {
	SampleID  string
	ID        string
	Abundance string
	Taxonomy  string
	File      string
}

const (
	defaultAbundance = "0"
	defaultTaxonomy  = "Unknown"
)

var modelExtensions = map[string]struct{}{".xml": {}, ".json": {}}

// BuildTaxaTable lists the models of gemsDir and joins them with the
// abundance table on the model stem. Models missing from the abundance table
// get a zero abundance and an unknown taxonomy. When basePath is set, it
// replaces gemsDir in the file column. Rows are sorted by id.
func BuildTaxaTable(sampleID, abundancesPath, gemsDir, basePath string) ([]TaxaRow, error) {
	abundances, err := readTable(abundancesPath)
	if err != nil {
		return nil, err
	}

	err = abundances.require(AbundanceColumns...)
	if err != nil {
		return nil, err
	}

	type entry struct{ abundance, taxonomy string }
	byID := make(map[string]entry, len(abundances.rows))
	for _, row := range abundances.rows {
		id := abundances.get(row, "id")
		if id == "" {
			continue
		}
		byID[id] = entry{abundance: abundances.get(row, "abundance"), taxonomy: abundances.get(row, "taxonomy")}
	}

	entries, err := os.ReadDir(gemsDir)
	if err != nil {
		return nil, errors.Wrap(err, "unable to list models")
	}

	if basePath == "" {
		basePath = gemsDir
	}

	rows := []TaxaRow{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		ext := filepath.Ext(e.Name())
		if _, ok := modelExtensions[ext]; !ok {
			continue
		}

		id := strings.TrimSuffix(e.Name(), ext)
		row := TaxaRow{
			SampleID:  sampleID,
			ID:        id,
			Abundance: defaultAbundance,
			Taxonomy:  defaultTaxonomy,
			File:      filepath.Join(basePath, e.Name()),
		}
		if found, ok := byID[id]; ok {
			row.Abundance = found.abundance
			row.Taxonomy = found.taxonomy
		}
		rows = append(rows, row)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].ID != rows[j].ID {
			return rows[i].ID < rows[j].ID
		}
		return rows[i].File < rows[j].File
	})

	return rows, nil
}

// WriteTaxaTable writes the rows with a header line to path.
func WriteTaxaTable(path string, rows []TaxaRow) error {
	records := make([][]string, 0, len(rows)+1)
	records = append(records, TaxaColumns)
	for _, row := range rows {
		records = append(records, []string{row.SampleID, row.ID, row.Abundance, row.Taxonomy, row.File})
	}

	return writeFile(path, records)
}
