package assist

import (
	"strconv"
	"strings"
	"time"
)

// ColumnType is the inferred type tag for one spreadsheet column.
type ColumnType string

const (
	ColumnNumber  ColumnType = "number"
	ColumnString  ColumnType = "string"
	ColumnBoolean ColumnType = "boolean"
	ColumnDate    ColumnType = "date"
	ColumnNull    ColumnType = "null"
)

// Schema is the only description of a dataset that ever leaves the
// service. It carries column names and inferred type tags; SampleData
// holds at most one row of tags and never raw cell values. The
// slice-of-rows shape exists so the waterfall can detect and reject a
// hand-built schema that smuggles in more than one row.
type Schema struct {
	Headers     []string              `json:"headers"`
	ColumnTypes map[string]ColumnType `json:"columnTypes"`
	SampleData  [][]ColumnType        `json:"sampleData,omitempty"`
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"Jan 2, 2006",
	"2 Jan 2006",
}

// ExtractSchema infers a Schema from column headers and an optional
// sample row. It is pure and never fails: unrecognized cells fall back
// to the string type, and with no sample row every column is a string.
// A sample row shorter than the header list infers null for the
// missing cells; extra cells beyond the headers are ignored.
func ExtractSchema(headers []string, sampleRow []any) Schema {
	schema := Schema{
		Headers:     headers,
		ColumnTypes: make(map[string]ColumnType, len(headers)),
	}

	if len(sampleRow) == 0 {
		for _, header := range headers {
			schema.ColumnTypes[header] = ColumnString
		}
		return schema
	}

	tags := make([]ColumnType, len(headers))
	for i, header := range headers {
		var cell any
		if i < len(sampleRow) {
			cell = sampleRow[i]
		}
		tag := inferCellType(cell)
		schema.ColumnTypes[header] = tag
		tags[i] = tag
	}
	schema.SampleData = [][]ColumnType{tags}
	return schema
}

func inferCellType(cell any) ColumnType {
	if cell == nil {
		return ColumnNull
	}
	switch v := cell.(type) {
	case bool:
		return ColumnBoolean
	case time.Time:
		return ColumnDate
	case float64, float32,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return ColumnNumber
	case string:
		return inferStringType(v)
	}
	return ColumnString
}

func inferStringType(value string) ColumnType {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ColumnString
	}
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, trimmed); err == nil {
			return ColumnDate
		}
	}
	if _, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return ColumnNumber
	}
	return ColumnString
}
