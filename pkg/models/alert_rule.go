package models

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// AlertMetric names a statistic an alert rule can watch.
type AlertMetric string

const (
	MetricCount  AlertMetric = "count"
	MetricMean   AlertMetric = "mean"
	MetricStd    AlertMetric = "std"
	MetricMin    AlertMetric = "min"
	MetricMax    AlertMetric = "max"
	MetricMedian AlertMetric = "median"
)

// Valid reports whether the metric is one of the supported statistics.
func (m AlertMetric) Valid() bool {
	switch m {
	case MetricCount, MetricMean, MetricStd, MetricMin, MetricMax, MetricMedian:
		return true
	}
	return false
}

// AlertCondition is the comparison operator of a rule.
type AlertCondition string

const (
	ConditionGreaterThan AlertCondition = "greater_than"
	ConditionLessThan    AlertCondition = "less_than"
	ConditionEquals      AlertCondition = "equals"
	ConditionNotEquals   AlertCondition = "not_equals"
)

// Valid reports whether the condition is a supported operator.
func (c AlertCondition) Valid() bool {
	switch c {
	case ConditionGreaterThan, ConditionLessThan, ConditionEquals, ConditionNotEquals:
		return true
	}
	return false
}

// AlertRule is a user-defined threshold over one column statistic.
type AlertRule struct {
	ID          uuid.UUID      `json:"id"`
	WorkspaceID uuid.UUID      `json:"workspace_id"`
	ColumnName  string         `json:"column_name"`
	Metric      AlertMetric    `json:"metric"`
	Condition   AlertCondition `json:"condition"`
	Value       float64        `json:"value"`
	IsActive    bool           `json:"is_active"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Matches evaluates the rule against an actual statistic value. Both sides
// are rounded to two decimal places so float noise from statistics math does
// not flip a comparison.
func (r *AlertRule) Matches(actual float64) bool {
	a := round2(actual)
	t := round2(r.Value)
	switch r.Condition {
	case ConditionGreaterThan:
		return a > t
	case ConditionLessThan:
		return a < t
	case ConditionEquals:
		return a == t
	case ConditionNotEquals:
		return a != t
	}
	return false
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
