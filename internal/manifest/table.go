package manifest

import "strings"

// Table is a lookup over normalized asset paths, computed once at load
// time rather than re-derived per request.
type Table struct {
	version string
	assets  map[string]*Asset
}

// NormalizeKey strips any query string or fragment and the leading slash
// so that "/app.js?v=3" and "app.js" resolve to the same entry.
func NormalizeKey(path string) string {
	if idx := strings.IndexAny(path, "?#"); idx >= 0 {
		path = path[:idx]
	}
	return strings.TrimPrefix(path, "/")
}

func NewTable(m *Manifest) *Table {
	table := &Table{
		version: m.Version,
		assets:  make(map[string]*Asset, len(m.Assets)),
	}
	for i := range m.Assets {
		asset := &m.Assets[i]
		table.assets[NormalizeKey(asset.OriginalPath)] = asset
	}
	return table
}

func (t *Table) Version() string {
	return t.version
}

func (t *Table) Len() int {
	return len(t.assets)
}

// Lookup resolves a requested path against the manifest, tolerant of a
// leading slash and a trailing query string.
func (t *Table) Lookup(path string) (*Asset, bool) {
	asset, ok := t.assets[NormalizeKey(path)]
	return asset, ok
}
