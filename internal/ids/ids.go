package ids

import "github.com/segmentio/ksuid"

// New returns a sortable unique identifier for a persisted entity.
func New() string {
	return ksuid.New().String()
}
