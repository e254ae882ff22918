package pipeline

import (
	"encoding/csv"
	"strconv"
	"strings"
)

// MetadataLines is the number of key/value preamble lines preceding the
// tabular block in a plant CSV export.
const MetadataLines = 5

// Common metadata keys found in the preamble.
const (
	MetaStartTime = "Start Time"
	MetaEndTime   = "End Time"
	MetaCustomer  = "Customer"
	MetaName      = "Name"
)

// ParseResult is the output of ParseCSV.
type ParseResult struct {
	// Records holds the deduplicated, key-normalized samples in input order
	// of their first occurrence.
	Records []Record
	// Metadata holds the key/value pairs from the preamble.
	Metadata map[string]string
	// Skipped counts data rows dropped for lacking a usable Time value.
	Skipped int
	// Duplicates counts rows whose timestamp repeated an earlier row.
	Duplicates int
}

// ParseCSV turns a raw plant CSV export into a deduplicated record sequence.
//
// The first MetadataLines lines are read as key,value metadata; the rest is
// a comma-delimited header line followed by data rows. Column names are
// normalized by replacing spaces with underscores, cell values go through
// typed inference (numbers become float64, true/false become bool, anything
// else stays a string), and rows without a string-valued Time are skipped.
//
// Rows sharing a timestamp collapse to a single record: the record keeps the
// position of the first occurrence and the values of the last one.
//
// Parsing is lenient: structurally malformed input yields an empty result,
// never an error.
func ParseCSV(raw string) ParseResult {
	res := ParseResult{Metadata: make(map[string]string)}

	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
	if len(lines) <= MetadataLines {
		return res
	}

	for _, line := range lines[:MetadataLines] {
		key, value, ok := strings.Cut(line, ",")
		if !ok {
			continue
		}
		res.Metadata[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}

	reader := csv.NewReader(strings.NewReader(strings.Join(lines[MetadataLines:], "\n")))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil || len(rows) < 2 {
		return res
	}

	header := make([]string, len(rows[0]))
	for i, name := range rows[0] {
		header[i] = strings.ReplaceAll(strings.TrimSpace(name), " ", "_")
	}

	byTime := make(map[string]int)
	for _, row := range rows[1:] {
		fields := make(map[string]any, len(header))
		for i, cell := range row {
			if i >= len(header) || header[i] == "" {
				continue
			}
			fields[header[i]] = inferValue(cell)
		}

		ts, ok := fields["Time"].(string)
		if !ok || ts == "" {
			res.Skipped++
			continue
		}
		delete(fields, "Time")
		rec := Record{Time: ts, Fields: fields}

		// Position is first-seen, values are last-seen.
		if at, seen := byTime[ts]; seen {
			res.Records[at] = rec
			res.Duplicates++
			continue
		}
		byTime[ts] = len(res.Records)
		res.Records = append(res.Records, rec)
	}

	return res
}

// inferValue applies typed-value inference to a CSV cell.
func inferValue(cell string) any {
	s := strings.TrimSpace(cell)
	switch s {
	case "true", "True", "TRUE":
		return true
	case "false", "False", "FALSE":
		return false
	}
	if s != "" {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return s
}
