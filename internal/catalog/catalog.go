// Package catalog models the stream catalog: which entity types exist,
// which fields are selected, and which fields are mandatory regardless of
// selection (key properties and bookmark fields).
package catalog

import (
	"encoding/json"
	"os"
	"sort"
)

// Catalog is the full set of syncable streams.
type Catalog struct {
	Streams []*Entry `json:"streams"`
}

// Entry describes one stream: its schema and per-field metadata.
type Entry struct {
	Stream        string         `json:"stream"`
	TapStreamID   string         `json:"tap_stream_id"`
	Schema        map[string]any `json:"schema"`
	Metadata      []Metadata     `json:"metadata"`
	KeyProperties []string       `json:"key_properties,omitempty"`
}

// Metadata is one breadcrumb-addressed metadata node. Field-level nodes
// have a two-element breadcrumb ("properties", <field>).
type Metadata struct {
	Breadcrumb []string       `json:"breadcrumb"`
	Metadata   map[string]any `json:"metadata"`
}

// NewFromFile loads a catalog document.
func NewFromFile(fpath string) (*Catalog, error) {
	bs, err := os.ReadFile(fpath)
	if err != nil {
		return nil, err
	}

	var c Catalog
	if err := json.Unmarshal(bs, &c); err != nil {
		return nil, err
	}

	return &c, nil
}

// Entry returns the entry for a stream name, or nil.
func (c *Catalog) Entry(name string) *Entry {
	for _, e := range c.Streams {
		if e.TapStreamID == name || e.Stream == name {
			return e
		}
	}
	return nil
}

// SelectAll marks every stream and field selected. Used when syncing
// without a curated catalog.
func (c *Catalog) SelectAll() {
	for _, e := range c.Streams {
		for i, m := range e.Metadata {
			if len(m.Breadcrumb) == 0 {
				e.Metadata[i].Metadata["selected"] = true
				continue
			}
			if len(m.Breadcrumb) == 2 {
				e.Metadata[i].Metadata["selected"] = true
			}
		}
	}
}

// Selected reports whether the stream itself is selected for sync.
func (e *Entry) Selected() bool {
	for _, m := range e.Metadata {
		if len(m.Breadcrumb) != 0 {
			continue
		}
		if v, ok := m.Metadata["selected"].(bool); ok {
			return v
		}
	}
	return false
}

// Fields returns the requested field set: every field that is either
// selected or marked for automatic inclusion. Sorted for deterministic
// request construction.
func (e *Entry) Fields() []string {
	set := map[string]struct{}{}
	for _, m := range e.Metadata {
		if len(m.Breadcrumb) != 2 {
			continue
		}
		selected, _ := m.Metadata["selected"].(bool)
		inclusion, _ := m.Metadata["inclusion"].(string)
		if selected || inclusion == "automatic" {
			set[m.Breadcrumb[1]] = struct{}{}
		}
	}
	return sorted(set)
}

// AutomaticFields returns only the fields marked for automatic inclusion.
func (e *Entry) AutomaticFields() []string {
	set := map[string]struct{}{}
	for _, m := range e.Metadata {
		if len(m.Breadcrumb) != 2 {
			continue
		}
		if inclusion, _ := m.Metadata["inclusion"].(string); inclusion == "automatic" {
			set[m.Breadcrumb[1]] = struct{}{}
		}
	}
	return sorted(set)
}

// DateTimeFields returns the schema properties declared as date-time
// strings. Their values are normalized to RFC3339 UTC on emission.
func (e *Entry) DateTimeFields() []string {
	set := map[string]struct{}{}
	props, _ := e.Schema["properties"].(map[string]any)
	for name, raw := range props {
		prop, _ := raw.(map[string]any)
		if format, _ := prop["format"].(string); format == "date-time" {
			set[name] = struct{}{}
		}
	}
	return sorted(set)
}

func sorted(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
