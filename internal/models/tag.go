package models

import (
	"sort"
	"strings"
)

// Tag is a (name, value) label. Both parts are trimmed and lowercased;
// duplicates within one owner collapse to set semantics.
type Tag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// NewTag builds a normalized tag.
func NewTag(name, value string) Tag {
	return Tag{
		Name:  trimCasefold(name),
		Value: trimCasefold(value),
	}
}

// Normalize trims and lowercases both parts in place.
func (t *Tag) Normalize() {
	t.Name = trimCasefold(t.Name)
	t.Value = trimCasefold(t.Value)
}

// Validate checks the tag after normalization.
func (t Tag) Validate() []FieldError {
	var errs []FieldError
	errs = requireNonEmpty(errs, "name", t.Name)
	return errs
}

// NormalizeTags normalizes, dedupes and sorts tags by name then value.
// Duplicates are not an error.
func NormalizeTags(tags []Tag) []Tag {
	seen := make(map[Tag]struct{}, len(tags))
	out := make([]Tag, 0, len(tags))
	for _, t := range tags {
		t.Normalize()
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Value < out[j].Value
	})
	return out
}

// TagMap renders tags as the map persisted in the row's dmedium column.
func TagMap(tags []Tag) map[string]string {
	m := make(map[string]string, len(tags))
	for _, t := range tags {
		m[t.Name] = t.Value
	}
	return m
}

func trimCasefold(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
