package model

import "github.com/oklog/ulid/v2"

// NewID returns a new task or part id. IDs are ULIDs, so they sort by
// creation time.
func NewID() string {
	return ulid.Make().String()
}

// ValidID reports whether id is well formed. Lookups use it to skip the
// store for ids that cannot exist.
func ValidID(id string) bool {
	_, err := ulid.ParseStrict(id)
	return err == nil
}
