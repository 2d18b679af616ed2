package xid

import (
	"strings"

	"github.com/oklog/ulid/v2"
)

// New returns a sortable identifier such as "sale_01J9Z3...". ULIDs keep
// rows created in the same millisecond ordered by insertion.
func New(prefix string) string {
	id := strings.ToLower(ulid.Make().String())
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
