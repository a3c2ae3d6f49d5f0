package docstore

import (
	"strings"

	"github.com/oklog/ulid/v2"
)

// NewID returns a lexicographically sortable document id.
func NewID() string {
	return strings.ToLower(ulid.Make().String())
}
