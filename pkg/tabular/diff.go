package tabular

import (
	"sort"

	"github.com/datapulse-io/datapulse-engine/pkg/models"
)

// DiffColumns computes the symmetric difference of column-name sets between
// two schemas. Type changes are not drift; only presence counts.
func DiffColumns(previous, current models.SchemaInfo) (added, removed []string) {
	for col := range current {
		if _, ok := previous[col]; !ok {
			added = append(added, col)
		}
	}
	for col := range previous {
		if _, ok := current[col]; !ok {
			removed = append(removed, col)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}
