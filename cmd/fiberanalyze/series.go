package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// readColumns reads the given zero-based columns of a CSV stream. A first row
// that does not parse as numbers is treated as a header and skipped. Lines
// starting with '#' are comments.
func readColumns(r io.Reader, cols ...int) ([][]float64, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	out := make([][]float64, len(cols))
	for line := 1; ; line++ {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}

		row := make([]float64, len(cols))
		var parseErr error
		for i, c := range cols {
			if c < 0 || c >= len(record) {
				parseErr = fmt.Errorf("line %d has %d columns, want column %d", line, len(record), c)
				break
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(record[c]), 64)
			if err != nil {
				parseErr = fmt.Errorf("line %d column %d: invalid float '%s': %w", line, c, record[c], err)
				break
			}
			row[i] = v
		}
		if parseErr != nil {
			if line == 1 {
				continue // header
			}
			return nil, parseErr
		}
		for i, v := range row {
			out[i] = append(out[i], v)
		}
	}
	return out, nil
}
