// Package sql provides static validation for user-supplied queries.
package sql

import (
	"strings"
	"unicode"
)

// SandboxResult is the outcome of validating a user-supplied query. Reason
// is human-readable and safe to surface to the workspace owner.
type SandboxResult struct {
	OK     bool
	Reason string
}

// deniedTokens lists verbs and functions that must never appear anywhere in
// a sandboxed query, even as a subquery or string-adjacent token. Covers
// DDL/DML, privilege statements, file and program access, timing functions,
// and cross-database link functions.
var deniedTokens = map[string]struct{}{
	// DML / DDL
	"insert": {}, "update": {}, "delete": {}, "drop": {}, "create": {},
	"alter": {}, "truncate": {}, "merge": {}, "replace": {}, "copy": {},
	"into": {},
	// privilege and session control
	"grant": {}, "revoke": {}, "set": {}, "use": {}, "shutdown": {}, "kill": {},
	// program / procedure execution
	"exec": {}, "execute": {}, "call": {}, "do": {},
	"xp_cmdshell": {}, "sp_executesql": {},
	// file access
	"load_file": {}, "outfile": {}, "dumpfile": {}, "pg_read_file": {},
	"pg_write_file": {}, "lo_import": {}, "lo_export": {},
	// timing
	"sleep": {}, "pg_sleep": {}, "benchmark": {}, "waitfor": {},
	// cross-database links
	"dblink": {}, "openrowset": {}, "openquery": {}, "opendatasource": {},
}

// ValidateSandboxedQuery statically checks that a query is a single
// read-only SELECT. It strips comments, requires the statement to start
// with SELECT, rejects statement separators outside string literals, and
// rejects any denylisted token. Pure function: no state, no network.
func ValidateSandboxedQuery(query string) SandboxResult {
	stripped := strings.TrimSpace(stripComments(query))
	if stripped == "" {
		return SandboxResult{Reason: "query is empty"}
	}

	firstToken := firstWord(stripped)
	if !strings.EqualFold(firstToken, "select") {
		return SandboxResult{Reason: "only SELECT queries are allowed"}
	}

	// A trailing semicolon is tolerated; any other separator means a second
	// statement could ride along.
	normalized := stripTrailingSemicolon(stripped)
	if hasSemicolonOutsideStrings(normalized) {
		return SandboxResult{Reason: "multiple SQL statements are not allowed"}
	}

	for _, token := range tokenize(normalized) {
		if _, denied := deniedTokens[token]; denied {
			return SandboxResult{Reason: "query contains forbidden keyword: " + token}
		}
	}

	return SandboxResult{OK: true}
}

// stripComments removes line comments (-- and #) and block comments so a
// denylisted verb cannot hide behind comment syntax. String literals are
// respected: comment markers inside quotes are data, not comments.
func stripComments(query string) string {
	const (
		stateNormal = iota
		stateSingleQuote
		stateDoubleQuote
		stateLineComment
		stateBlockComment
	)

	var b strings.Builder
	b.Grow(len(query))

	state := stateNormal
	runes := []rune(query)

	for i := 0; i < len(runes); i++ {
		char := runes[i]
		var next rune
		if i+1 < len(runes) {
			next = runes[i+1]
		}

		switch state {
		case stateNormal:
			switch {
			case char == '-' && next == '-':
				state = stateLineComment
				i++
			case char == '#':
				state = stateLineComment
			case char == '/' && next == '*':
				state = stateBlockComment
				i++
				// A comment can glue two tokens together; keep them apart.
				b.WriteRune(' ')
			case char == '\'':
				state = stateSingleQuote
				b.WriteRune(char)
			case char == '"':
				state = stateDoubleQuote
				b.WriteRune(char)
			default:
				b.WriteRune(char)
			}
		case stateSingleQuote:
			b.WriteRune(char)
			if char == '\'' && runes[i-1] != '\\' {
				state = stateNormal
			}
		case stateDoubleQuote:
			b.WriteRune(char)
			if char == '"' && runes[i-1] != '\\' {
				state = stateNormal
			}
		case stateLineComment:
			if char == '\n' {
				state = stateNormal
				b.WriteRune(char)
			}
		case stateBlockComment:
			if char == '*' && next == '/' {
				state = stateNormal
				i++
			}
		}
	}

	return b.String()
}

// tokenize splits the query into lowercase word tokens, skipping string
// literal contents so a denylisted word inside quoted data does not trip
// the check.
func tokenize(query string) []string {
	const (
		stateNormal = iota
		stateSingleQuote
		stateDoubleQuote
	)

	var tokens []string
	var current strings.Builder
	state := stateNormal
	prevChar := rune(0)

	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, strings.ToLower(current.String()))
			current.Reset()
		}
	}

	for _, char := range query {
		switch state {
		case stateNormal:
			switch {
			case char == '\'':
				flush()
				state = stateSingleQuote
			case char == '"':
				flush()
				state = stateDoubleQuote
			case unicode.IsLetter(char) || unicode.IsDigit(char) || char == '_':
				current.WriteRune(char)
			default:
				flush()
			}
		case stateSingleQuote:
			if char == '\'' && prevChar != '\\' {
				state = stateNormal
			}
		case stateDoubleQuote:
			if char == '"' && prevChar != '\\' {
				state = stateNormal
			}
		}
		prevChar = char
	}
	flush()

	return tokens
}

func firstWord(s string) string {
	for i, char := range s {
		if !unicode.IsLetter(char) {
			return s[:i]
		}
	}
	return s
}

// hasSemicolonOutsideStrings returns true if the SQL contains any semicolon
// outside of string literals.
func hasSemicolonOutsideStrings(sqlQuery string) bool {
	const (
		stateNormal = iota
		stateSingleQuote
		stateDoubleQuote
	)

	state := stateNormal
	prevChar := rune(0)

	for _, char := range sqlQuery {
		switch state {
		case stateNormal:
			switch char {
			case ';':
				return true
			case '\'':
				state = stateSingleQuote
			case '"':
				state = stateDoubleQuote
			}
		case stateSingleQuote:
			// Handle both backslash escape (\') and SQL standard escape ('')
			if char == '\'' && prevChar != '\\' {
				state = stateNormal
			}
		case stateDoubleQuote:
			if char == '"' && prevChar != '\\' {
				state = stateNormal
			}
		}
		prevChar = char
	}

	return false
}

// ExecutableQuery prepares a validated query for execution. The trailing
// semicolon the validator tolerates must not survive here: executors embed
// the statement in a row-cap subquery, where it would be a syntax error.
func ExecutableQuery(query string) string {
	return stripTrailingSemicolon(strings.TrimSpace(query))
}

// stripTrailingSemicolon removes a trailing semicolon and surrounding whitespace.
func stripTrailingSemicolon(sqlQuery string) string {
	sqlQuery = strings.TrimRight(sqlQuery, " \t\n\r")
	if strings.HasSuffix(sqlQuery, ";") {
		sqlQuery = strings.TrimSuffix(sqlQuery, ";")
		sqlQuery = strings.TrimRight(sqlQuery, " \t\n\r")
	}
	return sqlQuery
}
