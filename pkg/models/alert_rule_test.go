package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAlertRule_Matches(t *testing.T) {
	tests := []struct {
		name      string
		condition AlertCondition
		threshold float64
		actual    float64
		want      bool
	}{
		{"greater than true", ConditionGreaterThan, 100, 150, true},
		{"greater than false", ConditionGreaterThan, 100, 50, false},
		{"greater than equal is false", ConditionGreaterThan, 100, 100, false},
		{"less than true", ConditionLessThan, 100, 50, true},
		{"equals after rounding", ConditionEquals, 5000.0, 4999.996, true},
		{"equals exact", ConditionEquals, 42, 42, true},
		{"not equals", ConditionNotEquals, 42, 43, true},
		{"not equals within rounding", ConditionNotEquals, 42.0, 42.001, false},
		{"rounding keeps near-threshold below", ConditionGreaterThan, 5000.0, 4999.996, false},
		{"rounding pushes over", ConditionGreaterThan, 5000.0, 5000.006, true},
		{"unknown condition never matches", AlertCondition("between"), 0, 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := &AlertRule{Condition: tt.condition, Value: tt.threshold}
			assert.Equal(t, tt.want, rule.Matches(tt.actual))
		})
	}
}

func TestAlertMetricAndConditionValid(t *testing.T) {
	for _, m := range []AlertMetric{MetricCount, MetricMean, MetricStd, MetricMin, MetricMax, MetricMedian} {
		assert.True(t, m.Valid(), string(m))
	}
	assert.False(t, AlertMetric("variance").Valid())

	for _, c := range []AlertCondition{ConditionGreaterThan, ConditionLessThan, ConditionEquals, ConditionNotEquals} {
		assert.True(t, c.Valid(), string(c))
	}
	assert.False(t, AlertCondition("between").Valid())
}

func TestColumnStats_Metric(t *testing.T) {
	mean := 10.5
	stats := &ColumnStats{Count: 7, Mean: &mean}

	count := stats.Metric("count")
	assert.NotNil(t, count)
	assert.Equal(t, 7.0, *count)

	assert.Equal(t, &mean, stats.Metric("mean"))
	assert.Nil(t, stats.Metric("max"))
	assert.Nil(t, stats.Metric("unique"))
}
