package repositories

import "strings"

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// normalizePageParams clamps pagination parameters to sane bounds.
func normalizePageParams(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// prefixColumns qualifies each column in a comma-separated list with a table
// alias, for queries that join.
func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
