// Package tags implements the compatibility tags used by trigger matching,
// connector pairing and anchor lookup. Tags compare by a precomputed 64-bit
// hash; the name is kept for logs and config round-trips.
package tags

import (
	"github.com/cespare/xxhash/v2"
	"gopkg.in/yaml.v3"
)

type Tag struct {
	name string
	hash uint64
}

// New interns name. The empty name yields the zero Tag, which matches nothing.
func New(name string) Tag {
	if name == "" {
		return Tag{}
	}
	return Tag{name: name, hash: xxhash.Sum64String(name)}
}

func (t Tag) Name() string   { return t.name }
func (t Tag) String() string { return t.name }
func (t Tag) IsZero() bool   { return t.hash == 0 && t.name == "" }

// Matches reports whether both tags are set and equal.
func (t Tag) Matches(o Tag) bool {
	if t.IsZero() || o.IsZero() {
		return false
	}
	return t.hash == o.hash && t.name == o.name
}

func (t Tag) MarshalYAML() (any, error) { return t.name, nil }

func (t *Tag) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	*t = New(s)
	return nil
}

func (t Tag) MarshalText() ([]byte, error) { return []byte(t.name), nil }

func (t *Tag) UnmarshalText(b []byte) error {
	*t = New(string(b))
	return nil
}

// Set is a small collection of tags, e.g. the tags a trigger volume reacts to.
type Set []Tag

func (s Set) Contains(t Tag) bool {
	for _, x := range s {
		if x.Matches(t) {
			return true
		}
	}
	return false
}
