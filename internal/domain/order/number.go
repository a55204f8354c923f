package order

import (
	"github.com/oklog/ulid/v2"
)

// NumberGenerator issues human-facing order numbers.
type NumberGenerator interface {
	Next() string
}

// ULIDNumbers issues numbers of the form <Prefix>-<ULID>. ULIDs sort by
// creation time, so numbers do too.
type ULIDNumbers struct {
	Prefix string
}

// Next returns a fresh order number.
func (g ULIDNumbers) Next() string {
	prefix := g.Prefix
	if prefix == "" {
		prefix = "CMD"
	}
	return prefix + "-" + ulid.Make().String()
}
