package domain

// SortDirection is the order applied to the active sort column.
type SortDirection string

const (
	SortAscending  SortDirection = "asc"
	SortDescending SortDirection = "desc"
)

// SortSpec selects at most one sort column. The zero value is unusable;
// use NoSort for source-native order.
type SortSpec struct {
	Column    int           `json:"column"` // -1 when no sort is active
	Direction SortDirection `json:"direction"`
}

// NoSort returns the spec for source-native row order.
func NoSort() SortSpec {
	return SortSpec{Column: -1}
}

// IsNone reports whether the spec leaves rows in source-native order.
func (s SortSpec) IsNone() bool {
	return s.Column < 0
}

// Reversed flips the direction, keeping the column.
func (s SortSpec) Reversed() SortSpec {
	if s.Direction == SortAscending {
		return SortSpec{Column: s.Column, Direction: SortDescending}
	}
	return SortSpec{Column: s.Column, Direction: SortAscending}
}

// PageRequest identifies one windowed, sorted, filtered slice of a source.
// It is a value type: two requests are equal iff all fields are equal, which
// makes it usable directly as a cache key.
type PageRequest struct {
	Source string   `json:"source"` // source identity, e.g. "file.db#mytable"
	Sort   SortSpec `json:"sort"`
	Page   int      `json:"page"` // zero-based
	Size   int      `json:"size"` // rows per page, > 0
	Filter string   `json:"filter,omitempty"`
}

// Offset returns the index of the first row of the requested window.
func (r PageRequest) Offset() int {
	return r.Page * r.Size
}

// PageResult answers one PageRequest. Rows are aligned to Columns; nil cells
// represent NULL/missing values. TotalRows is the filtered row count known
// at fetch time.
type PageResult struct {
	Request   PageRequest `json:"request"`
	Columns   Schema      `json:"columns"`
	Rows      [][]any     `json:"rows"`
	TotalRows int64       `json:"totalRows"`
}

// ViewStatus is the load state exposed to the rendering layer.
type ViewStatus string

const (
	StatusIdle    ViewStatus = "idle"
	StatusLoading ViewStatus = "loading"
	StatusError   ViewStatus = "error"
)
