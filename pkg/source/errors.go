package source

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FailureClass distinguishes permanent misconfiguration from transient
// conditions when a remote source fails.
type FailureClass int

const (
	// FailureSoft covers transient conditions: the poll is counted against
	// the workspace but polling continues on schedule.
	FailureSoft FailureClass = iota
	// FailureHard covers permanent misconfiguration: the workspace is
	// disabled immediately with no retry.
	FailureHard
)

// hardPatterns match errors that will not heal on their own: bad
// credentials, missing permissions, broken SQL, unknown objects.
var hardPatterns = []string{
	"authentication failed",
	"password authentication",
	"login failed",
	"login error",
	"access denied",
	"permission denied",
	"not authorized",
	"syntax error",
	"invalid object name",
	"does not exist",
	"unknown database",
	"cannot open database",
	"ssl required",
	"no pg_hba.conf entry",
}

// softPatterns match transient conditions worth tolerating a few times.
var softPatterns = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"timeout",
	"timed out",
	"deadline exceeded",
	"temporary failure",
	"too many connections",
	"i/o timeout",
	"network is unreachable",
	"connection timed out",
	"server closed the connection",
}

// ClassifyQueryError buckets a remote-database error into a failure class
// by message pattern. Errors matching neither list are treated as soft so a
// single odd failure never permanently disables a workspace.
func ClassifyQueryError(err error) FailureClass {
	if err == nil {
		return FailureSoft
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range hardPatterns {
		if strings.Contains(errStr, pattern) {
			return FailureHard
		}
	}
	for _, pattern := range softPatterns {
		if strings.Contains(errStr, pattern) {
			return FailureSoft
		}
	}
	return FailureSoft
}

// renderValue converts a scanned database value to its text form for
// tabular serialization. Nil becomes the empty string.
func renderValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case float32:
		return strconv.FormatFloat(float64(val), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", val)
	}
}
