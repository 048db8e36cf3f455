package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// UploadType identifies how a snapshot entered the system.
type UploadType string

const (
	UploadTypeManual  UploadType = "manual"
	UploadTypeAPIPoll UploadType = "api_poll"
	UploadTypeDBQuery UploadType = "db_query"
)

// Upload is one ingested tabular snapshot. Content is stored as CSV text on
// the row; manual uploads additionally keep the original bytes in blob
// storage under StorageKey. An upload is analyzed exactly once; after that
// the row is immutable.
type Upload struct {
	ID          uuid.UUID  `json:"id"`
	WorkspaceID uuid.UUID  `json:"workspace_id"`
	UploadType  UploadType `json:"upload_type"`
	Filename    string     `json:"filename"`
	Content     string     `json:"-"`
	StorageKey  *string    `json:"storage_key,omitempty"`
	UploadedAt  time.Time  `json:"uploaded_at"`

	SchemaInfo                SchemaInfo       `json:"schema_info,omitempty"`
	AnalysisResults           *AnalysisResults `json:"analysis_results,omitempty"`
	SchemaChangedFromPrevious bool             `json:"schema_changed_from_previous"`
	AnalyzedAt                *time.Time       `json:"analyzed_at,omitempty"`
}

// SchemaInfo maps column name to inferred type ("integer", "float",
// "boolean", "datetime", "string").
type SchemaInfo map[string]string

// Value implements driver.Valuer for JSONB serialization.
func (s SchemaInfo) Value() (driver.Value, error) {
	if s == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(s)
}

// Scan implements sql.Scanner for JSONB deserialization.
func (s *SchemaInfo) Scan(value interface{}) error {
	if value == nil {
		*s = make(SchemaInfo)
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into SchemaInfo", value)
	}
	return json.Unmarshal(bytes, s)
}

// ColumnStats holds descriptive statistics for a single column. Numeric
// fields are pointers because non-numeric columns do not carry them and
// non-finite results are normalized to null before storage.
type ColumnStats struct {
	Count  int64    `json:"count"`
	Mean   *float64 `json:"mean,omitempty"`
	StdDev *float64 `json:"std,omitempty"`
	Min    *float64 `json:"min,omitempty"`
	Max    *float64 `json:"max,omitempty"`
	Q1     *float64 `json:"q1,omitempty"`
	Median *float64 `json:"median,omitempty"`
	Q3     *float64 `json:"q3,omitempty"`

	// Non-numeric columns report cardinality and the modal value instead.
	Unique   *int64  `json:"unique,omitempty"`
	TopValue *string `json:"top_value,omitempty"`
	TopFreq  *int64  `json:"top_freq,omitempty"`
}

// Metric returns the named statistic, or nil when the metric does not apply
// to this column.
func (c *ColumnStats) Metric(name string) *float64 {
	switch name {
	case "count":
		v := float64(c.Count)
		return &v
	case "mean":
		return c.Mean
	case "std":
		return c.StdDev
	case "min":
		return c.Min
	case "max":
		return c.Max
	case "median":
		return c.Median
	}
	return nil
}

// AnalysisResults is the analyzer's output for one upload.
type AnalysisResults struct {
	RowCount    int                    `json:"row_count"`
	ColumnCount int                    `json:"column_count"`
	IsTruncated bool                   `json:"is_truncated"`
	Columns     map[string]ColumnStats `json:"columns"`
}

// Value implements driver.Valuer for JSONB serialization.
func (a AnalysisResults) Value() (driver.Value, error) {
	return json.Marshal(a)
}

// Scan implements sql.Scanner for JSONB deserialization.
func (a *AnalysisResults) Scan(value interface{}) error {
	if value == nil {
		*a = AnalysisResults{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into AnalysisResults", value)
	}
	return json.Unmarshal(bytes, a)
}
