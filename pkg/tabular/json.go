package tabular

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// FromJSON normalizes an API response body into a table. Accepted shapes:
// a JSON array of objects (one row each), a single object (one row), or an
// object wrapping exactly one array value (the common {"data": [...]}
// envelope). Nested objects are flattened with dot-joined keys. The column
// set is the union of keys across rows, sorted for determinism.
func FromJSON(body []byte) (*Table, error) {
	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("response is not valid JSON: %w", err)
	}

	records, err := extractRecords(raw)
	if err != nil {
		return nil, err
	}

	flat := make([]map[string]string, 0, len(records))
	columnSet := make(map[string]struct{})
	for _, rec := range records {
		row := make(map[string]string)
		flatten("", rec, row)
		for k := range row {
			columnSet[k] = struct{}{}
		}
		flat = append(flat, row)
	}

	columns := make([]string, 0, len(columnSet))
	for c := range columnSet {
		columns = append(columns, c)
	}
	sort.Strings(columns)

	table := &Table{Columns: columns}
	for _, row := range flat {
		cells := make([]string, len(columns))
		for i, c := range columns {
			cells[i] = row[c]
		}
		table.Rows = append(table.Rows, cells)
	}
	return table, nil
}

func extractRecords(raw any) ([]map[string]any, error) {
	switch v := raw.(type) {
	case []any:
		records := make([]map[string]any, 0, len(v))
		for _, item := range v {
			obj, ok := item.(map[string]any)
			if !ok {
				// An array of scalars becomes a single "value" column.
				obj = map[string]any{"value": item}
			}
			records = append(records, obj)
		}
		return records, nil
	case map[string]any:
		// Unwrap a single-array envelope like {"data": [...]}.
		var arrays [][]any
		for _, val := range v {
			if arr, ok := val.([]any); ok {
				arrays = append(arrays, arr)
			}
		}
		if len(arrays) == 1 {
			return extractRecords(arrays[0])
		}
		return []map[string]any{v}, nil
	default:
		return nil, fmt.Errorf("response JSON must be an object or array, got %T", raw)
	}
}

func flatten(prefix string, value any, out map[string]string) {
	switch v := value.(type) {
	case map[string]any:
		for key, val := range v {
			name := key
			if prefix != "" {
				name = prefix + "." + key
			}
			flatten(name, val, out)
		}
	case []any:
		// Arrays below the row level are kept as JSON text.
		encoded, err := json.Marshal(v)
		if err != nil {
			out[prefix] = fmt.Sprintf("%v", v)
			return
		}
		out[prefix] = string(encoded)
	case nil:
		out[prefix] = ""
	case bool:
		out[prefix] = strconv.FormatBool(v)
	case float64:
		out[prefix] = strconv.FormatFloat(v, 'g', -1, 64)
	case string:
		out[prefix] = v
	default:
		out[prefix] = fmt.Sprintf("%v", v)
	}
}
