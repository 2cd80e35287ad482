package models

import "strings"

// Identity is the stable subject of a verified credential. It scopes every
// read and write against the workflow store.
type Identity string

// String returns the raw subject value.
func (i Identity) String() string {
	return string(i)
}

// IsZero reports whether the identity is empty or whitespace.
func (i Identity) IsZero() bool {
	return strings.TrimSpace(string(i)) == ""
}
