package sql

import (
	libinjection "github.com/corazawaf/libinjection-go"
)

// InjectionCheckResult describes a detected SQL injection pattern in a
// user-supplied configuration value.
type InjectionCheckResult struct {
	IsSQLi      bool   // True if SQL injection pattern detected
	Fingerprint string // libinjection fingerprint of the detected pattern
	FieldName   string // Name of the field that failed the check
	FieldValue  string // The value that was checked
}

// CheckFieldForInjection uses libinjection to detect SQL injection patterns
// in a configuration value that will later appear near SQL (column names in
// alert rules, database identifiers in source config). Returns nil when the
// value is clean.
func CheckFieldForInjection(fieldName, value string) *InjectionCheckResult {
	if value == "" {
		return nil
	}

	isSQLi, fingerprint := libinjection.IsSQLi(value)
	if isSQLi {
		return &InjectionCheckResult{
			IsSQLi:      true,
			Fingerprint: string(fingerprint),
			FieldName:   fieldName,
			FieldValue:  value,
		}
	}

	return nil
}

// CheckFields validates a set of named values and returns a result for each
// one that looks like an injection attempt.
func CheckFields(fields map[string]string) []*InjectionCheckResult {
	var results []*InjectionCheckResult
	for name, value := range fields {
		if result := CheckFieldForInjection(name, value); result != nil {
			results = append(results, result)
		}
	}
	return results
}
