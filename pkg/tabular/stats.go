package tabular

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/datapulse-io/datapulse-engine/pkg/models"
)

// Describe computes per-column descriptive statistics for an analyzed
// table. Numeric columns get count/mean/std/min/max/quantiles; other
// columns get count/unique/most-frequent. Non-finite results are normalized
// to null before they can reach storage.
func Describe(table *Table, schema models.SchemaInfo, truncated bool) *models.AnalysisResults {
	results := &models.AnalysisResults{
		RowCount:    table.RowCount(),
		ColumnCount: len(table.Columns),
		IsTruncated: truncated,
		Columns:     make(map[string]models.ColumnStats, len(table.Columns)),
	}

	for idx, col := range table.Columns {
		if NumericType(schema[col]) {
			results.Columns[col] = describeNumeric(table, idx)
		} else {
			results.Columns[col] = describeCategorical(table, idx)
		}
	}
	return results
}

func describeNumeric(table *Table, idx int) models.ColumnStats {
	values := make([]float64, 0, table.RowCount())
	for _, row := range table.Rows {
		cell := strings.TrimSpace(row[idx])
		if cell == "" {
			continue
		}
		v, err := strconv.ParseFloat(cell, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		values = append(values, v)
	}

	stats := models.ColumnStats{Count: int64(len(values))}
	if len(values) == 0 {
		return stats
	}

	sort.Float64s(values)

	sum := 0.0
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	stats.Mean = finiteOrNil(mean)
	stats.Min = finiteOrNil(values[0])
	stats.Max = finiteOrNil(values[len(values)-1])
	stats.Q1 = finiteOrNil(quantile(values, 0.25))
	stats.Median = finiteOrNil(quantile(values, 0.5))
	stats.Q3 = finiteOrNil(quantile(values, 0.75))

	// Sample standard deviation; undefined for a single observation.
	if len(values) > 1 {
		sumSq := 0.0
		for _, v := range values {
			d := v - mean
			sumSq += d * d
		}
		stats.StdDev = finiteOrNil(math.Sqrt(sumSq / float64(len(values)-1)))
	}

	return stats
}

func describeCategorical(table *Table, idx int) models.ColumnStats {
	counts := make(map[string]int64)
	var total int64
	for _, row := range table.Rows {
		cell := row[idx]
		if strings.TrimSpace(cell) == "" {
			continue
		}
		counts[cell]++
		total++
	}

	stats := models.ColumnStats{Count: total}
	if total == 0 {
		return stats
	}

	unique := int64(len(counts))
	stats.Unique = &unique

	var topValue string
	var topFreq int64
	for value, freq := range counts {
		if freq > topFreq || (freq == topFreq && value < topValue) {
			topValue = value
			topFreq = freq
		}
	}
	stats.TopValue = &topValue
	stats.TopFreq = &topFreq

	return stats
}

// quantile computes the q-th quantile of sorted values using linear
// interpolation between closest ranks.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return sorted[lower]
	}
	frac := pos - float64(lower)
	return sorted[lower]*(1-frac) + sorted[upper]*frac
}

// finiteOrNil normalizes NaN and infinities to null since the persistence
// layer cannot represent them.
func finiteOrNil(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
