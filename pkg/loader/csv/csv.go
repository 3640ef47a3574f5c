package csv

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"strings"
)

// ErrEmpty is returned for input without a single non blank record.
var ErrEmpty = errors.New("csv file is empty or contains no valid data")

// ToText normalises CSV content into one comma separated line per record.
// Blank and malformed records are skipped, fields are re-quoted where needed.
func ToText(content []byte) (string, error) {
	reader := csv.NewReader(bytes.NewReader(content))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var output strings.Builder
	lines := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		if blank(record) {
			continue
		}

		if lines > 0 {
			output.WriteByte('\n')
		}
		for i, field := range record {
			if i > 0 {
				output.WriteByte(',')
			}
			if strings.ContainsAny(field, ",\n\"") {
				output.WriteString(`"` + strings.ReplaceAll(field, `"`, `""`) + `"`)
			} else {
				output.WriteString(field)
			}
		}
		lines++
	}

	if lines == 0 {
		return "", ErrEmpty
	}
	return output.String() + "\n", nil
}

func blank(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
