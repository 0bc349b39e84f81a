package domain

// ColumnType classifies a column for display and comparator selection.
type ColumnType string

const (
	ColumnText     ColumnType = "text"
	ColumnNumeric  ColumnType = "numeric"
	ColumnTemporal ColumnType = "temporal"
	ColumnBool     ColumnType = "bool"
	ColumnBlob     ColumnType = "blob" // opaque; not sortable
)

// Sortable reports whether values of this type have a defined sort order.
func (t ColumnType) Sortable() bool {
	return t != ColumnBlob
}

// Column is one (name, type) pair of a source schema.
type Column struct {
	Name string     `json:"name"`
	Type ColumnType `json:"type"`
}

// Schema is the ordered column layout of a source. Immutable once loaded;
// re-established only when the source is reopened or refreshed.
type Schema []Column

// HasColumn reports whether idx is a valid column index.
func (s Schema) HasColumn(idx int) bool {
	return idx >= 0 && idx < len(s)
}

// Names returns the column names in schema order.
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, c := range s {
		names[i] = c.Name
	}
	return names
}
