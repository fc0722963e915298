// Package models contains domain models for smallmerge.
package models

import (
	"database/sql/driver"
	"fmt"
	"sort"
	"strings"

	"github.com/goccy/go-json"
)

// Family is one meaning family: a group of related words.
// An empty family marks a family that was absorbed into another one.
type Family []string

// Clone returns a copy of the family that does not share storage with f.
func (f Family) Clone() Family {
	if f == nil {
		return nil
	}
	out := make(Family, len(f))
	copy(out, f)
	return out
}

// IsSorted reports whether the words are in ascending order.
func (f Family) IsSorted() bool {
	return sort.StringsAreSorted(f)
}

// String renders the family as "{ a, b, c }".
func (f Family) String() string {
	return "{ " + strings.Join(f, ", ") + " }"
}

// Scan implements sql.Scanner for JSON-encoded families.
func (f *Family) Scan(value interface{}) error {
	if value == nil {
		*f = nil
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("scan family: unsupported type %T", value)
	}

	if len(data) == 0 {
		*f = nil
		return nil
	}
	return json.Unmarshal(data, f)
}

// Value implements driver.Valuer for JSON-encoded families.
func (f Family) Value() (driver.Value, error) {
	if f == nil {
		return "[]", nil
	}
	data, err := json.Marshal([]string(f))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// CloneAll deep-copies a family collection.
func CloneAll(families []Family) []Family {
	out := make([]Family, len(families))
	for i, f := range families {
		out[i] = f.Clone()
	}
	return out
}

// CountWords returns the total number of words over all families.
func CountWords(families []Family) int {
	n := 0
	for _, f := range families {
		n += len(f)
	}
	return n
}

// FromStrings converts plain string slices to families.
func FromStrings(groups [][]string) []Family {
	out := make([]Family, len(groups))
	for i, g := range groups {
		out[i] = Family(g)
	}
	return out
}
