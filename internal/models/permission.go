package models

// Permission is the capability identified by one (feature, action) pair,
// with the names resolved from the catalog tables.
type Permission struct {
	ID      string
	Feature string
	Action  string
}
