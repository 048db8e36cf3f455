package source

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassifyQueryError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureClass
	}{
		{"nil", nil, FailureSoft},
		{"bad password", errors.New("FATAL: password authentication failed for user \"poller\""), FailureHard},
		{"mssql login", errors.New("mssql: login error: Login failed for user 'sa'"), FailureHard},
		{"permission", errors.New("ERROR: permission denied for table orders"), FailureHard},
		{"syntax", errors.New("ERROR: syntax error at or near \"FORM\""), FailureHard},
		{"missing relation", errors.New("ERROR: relation \"orders\" does not exist"), FailureHard},
		{"timeout", errors.New("dial tcp 10.0.0.5:5432: i/o timeout"), FailureSoft},
		{"refused", errors.New("dial tcp: connection refused"), FailureSoft},
		{"deadline", errors.New("context deadline exceeded"), FailureSoft},
		{"unknown host", errors.New("lookup db.internal: no such host"), FailureSoft},
		{"unclassified", errors.New("something odd happened"), FailureSoft},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyQueryError(tt.err))
		})
	}
}

func TestRenderValue(t *testing.T) {
	ts := time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC)

	assert.Equal(t, "", renderValue(nil))
	assert.Equal(t, "hello", renderValue("hello"))
	assert.Equal(t, "bytes", renderValue([]byte("bytes")))
	assert.Equal(t, "42", renderValue(int64(42)))
	assert.Equal(t, "3.14", renderValue(3.14))
	assert.Equal(t, "true", renderValue(true))
	assert.Equal(t, "2025-03-01T12:30:00Z", renderValue(ts))
}
