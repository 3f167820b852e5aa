package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
)

// DataSourceSpec names a CSV file whose rows rules can query by name, e.g.
// amazon_orders.
type DataSourceSpec struct {
	Name string `mapstructure:"name" validate:"required"`
	File string `mapstructure:"file" validate:"required"`
}

// ReadRows reads a CSV file with a header row into column-name to value
// maps. Short rows are padded with empty values.
func ReadRows(r io.Reader) ([]map[string]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrNoHeader
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var rows []map[string]string
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read rows: %w", err)
		}
		row := make(map[string]string, len(header))
		for i, name := range header {
			if name == "" {
				continue
			}
			if i < len(record) {
				row[name] = strings.TrimSpace(record[i])
			} else {
				row[name] = ""
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// LoadDataSources reads every configured data source. The rows are shared
// read-only by all transactions of a run.
func LoadDataSources(specs []DataSourceSpec) (model.DataSources, error) {
	sources := make(model.DataSources, len(specs))
	for _, spec := range specs {
		if _, dup := sources[spec.Name]; dup {
			return nil, fmt.Errorf("%w: data source %q defined twice", common.ErrInvalidConfig, spec.Name)
		}
		rows, err := readRowsFile(spec.File)
		if err != nil {
			return nil, fmt.Errorf("data source %s: %w", spec.Name, err)
		}
		sources[spec.Name] = rows
		common.LogDebug("Loaded data source", common.Fields{"name": spec.Name, "rows": len(rows)})
	}
	return sources, nil
}

func readRowsFile(path string) ([]map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open data source: %w", err)
	}
	defer func() { _ = f.Close() }()

	return ReadRows(f)
}
