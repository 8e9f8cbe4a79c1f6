package rank

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// coreHeader names the columns of the headerless CORE export.
var coreHeader = []string{"id", "title", "acronym", "source", "rank", "m1", "m2", "m3", "m4"}

// readRecords parses delimited text whose first row is a header into
// column-name keyed rows. Short rows leave missing columns empty.
func readRecords(r io.Reader, comma rune) ([]map[string]string, error) {
	reader := csv.NewReader(r)
	reader.Comma = comma
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i, h := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}

	var rows []map[string]string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		row := make(map[string]string, len(header))
		for i, h := range header {
			if i < len(record) {
				row[h] = strings.TrimSpace(record[i])
			}
		}
		rows = append(rows, row)
	}
}

// withHeader prepends a synthetic header line to a headerless export.
func withHeader(header []string, body []byte) io.Reader {
	return io.MultiReader(
		strings.NewReader(strings.Join(header, ",")+"\n"),
		bytes.NewReader(body),
	)
}
