package tabular

import (
	"strconv"
	"strings"
	"time"

	"github.com/datapulse-io/datapulse-engine/pkg/models"
)

// Column types reported in schema info.
const (
	TypeInteger  = "integer"
	TypeFloat    = "float"
	TypeBoolean  = "boolean"
	TypeDatetime = "datetime"
	TypeString   = "string"
)

var datetimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"01/02/2006",
}

// InferSchema infers a type for each column from its non-empty values. A
// column with no non-empty values is a string column. The inferred type is
// the narrowest one every value satisfies, widening integer to float to
// string as values disagree.
func InferSchema(table *Table) models.SchemaInfo {
	schema := make(models.SchemaInfo, len(table.Columns))

	for idx, col := range table.Columns {
		schema[col] = inferColumnType(table, idx)
	}
	return schema
}

func inferColumnType(table *Table, idx int) string {
	sawValue := false
	isInt, isFloat, isBool, isTime := true, true, true, true

	for _, row := range table.Rows {
		cell := strings.TrimSpace(row[idx])
		if cell == "" {
			continue
		}
		sawValue = true

		if isInt {
			if _, err := strconv.ParseInt(cell, 10, 64); err != nil {
				isInt = false
			}
		}
		if isFloat {
			if _, err := strconv.ParseFloat(cell, 64); err != nil {
				isFloat = false
			}
		}
		if isBool && !isBoolLiteral(cell) {
			isBool = false
		}
		if isTime && !isDatetimeLiteral(cell) {
			isTime = false
		}

		if !isInt && !isFloat && !isBool && !isTime {
			return TypeString
		}
	}

	if !sawValue {
		return TypeString
	}

	switch {
	case isBool:
		return TypeBoolean
	case isInt:
		return TypeInteger
	case isFloat:
		return TypeFloat
	case isTime:
		return TypeDatetime
	default:
		return TypeString
	}
}

func isBoolLiteral(s string) bool {
	switch strings.ToLower(s) {
	case "true", "false":
		return true
	}
	return false
}

func isDatetimeLiteral(s string) bool {
	for _, layout := range datetimeLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

// NumericType reports whether a schema type carries numeric statistics.
func NumericType(t string) bool {
	return t == TypeInteger || t == TypeFloat
}
