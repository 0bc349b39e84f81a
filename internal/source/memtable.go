package source

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"gridcat/internal/domain"
)

// memTable is the shared fetch engine for sources that cannot sort natively
// (delimited files, spreadsheet sheets). The whole table is loaded once;
// each fetch filters, stable-sorts a copy of the row index, and slices the
// requested window.
type memTable struct {
	schema domain.Schema
	rows   [][]any
}

// newMemTable infers column types from the raw cells and converts them to
// typed values. Header length wins: short rows are padded with nils, long
// rows truncated.
func newMemTable(headers []string, raw [][]string) *memTable {
	schema := make(domain.Schema, len(headers))
	for i, h := range headers {
		schema[i] = domain.Column{Name: h, Type: inferColumnType(raw, i)}
	}

	rows := make([][]any, len(raw))
	for r, rec := range raw {
		row := make([]any, len(headers))
		for c := range headers {
			if c < len(rec) {
				row[c] = convertCell(rec[c], schema[c].Type)
			}
		}
		rows[r] = row
	}
	return &memTable{schema: schema, rows: rows}
}

func (t *memTable) fetchPage(req domain.PageRequest) (*domain.PageResult, error) {
	if !req.Sort.IsNone() {
		if !t.schema.HasColumn(req.Sort.Column) {
			return nil, fmt.Errorf("column %d: %w", req.Sort.Column, domain.ErrInvalidSort)
		}
		if !t.schema[req.Sort.Column].Type.Sortable() {
			return nil, fmt.Errorf("column %q: %w", t.schema[req.Sort.Column].Name, domain.ErrInvalidSort)
		}
	}

	rows := t.rows
	if req.Filter != "" {
		rows = filterRows(rows, req.Filter)
	}
	total := int64(len(rows))

	if !req.Sort.IsNone() {
		// Sort a copy; t.rows keeps source-native order, which also makes
		// the stable sort's tie-break deterministic across repeated calls.
		sorted := make([][]any, len(rows))
		copy(sorted, rows)
		sortRows(sorted, req.Sort, t.schema[req.Sort.Column].Type)
		rows = sorted
	}

	start := req.Offset()
	if start > len(rows) {
		start = len(rows)
	}
	end := start + req.Size
	if end > len(rows) {
		end = len(rows)
	}

	page := make([][]any, end-start)
	copy(page, rows[start:end])

	return &domain.PageResult{
		Request:   req,
		Columns:   t.schema,
		Rows:      page,
		TotalRows: total,
	}, nil
}

// filterRows keeps rows where any cell contains the query,
// case-insensitively, matching the original viewer's table search.
func filterRows(rows [][]any, query string) [][]any {
	q := strings.ToLower(query)
	var out [][]any
	for _, row := range rows {
		for _, cell := range row {
			if cell == nil {
				continue
			}
			if strings.Contains(strings.ToLower(cellString(cell)), q) {
				out = append(out, row)
				break
			}
		}
	}
	return out
}

// sortRows stable-sorts by one column. Nulls sort last regardless of
// direction.
func sortRows(rows [][]any, spec domain.SortSpec, colType domain.ColumnType) {
	col := spec.Column
	desc := spec.Direction == domain.SortDescending
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i][col], rows[j][col]
		if a == nil || b == nil {
			return a != nil && b == nil
		}
		c := compareCells(a, b, colType)
		if desc {
			return c > 0
		}
		return c < 0
	})
}

// compareCells orders two non-nil cells of the same column type.
func compareCells(a, b any, colType domain.ColumnType) int {
	switch colType {
	case domain.ColumnNumeric:
		af, aok := toFloat(a)
		bf, bok := toFloat(b)
		if aok && bok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	case domain.ColumnTemporal:
		at, aok := a.(time.Time)
		bt, bok := b.(time.Time)
		if aok && bok {
			return at.Compare(bt)
		}
	case domain.ColumnBool:
		ab, aok := a.(bool)
		bb, bok := b.(bool)
		if aok && bok {
			switch {
			case !ab && bb:
				return -1
			case ab && !bb:
				return 1
			default:
				return 0
			}
		}
	}
	// Text columns and mixed-typed cells fall back to lexicographic order.
	return strings.Compare(cellString(a), cellString(b))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func cellString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case time.Time:
		return val.Format(time.RFC3339)
	case []byte:
		return string(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// Accepted temporal layouts for cell inference, most specific first.
var temporalLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/2006",
}

// inferColumnType scans a column's raw cells and picks the narrowest type
// that fits every non-empty value. Empty columns stay text.
func inferColumnType(raw [][]string, col int) domain.ColumnType {
	seen := false
	numeric, boolean, temporal := true, true, true
	for _, rec := range raw {
		if col >= len(rec) {
			continue
		}
		s := strings.TrimSpace(rec[col])
		if s == "" {
			continue
		}
		seen = true
		if numeric {
			if _, err := strconv.ParseFloat(s, 64); err != nil {
				numeric = false
			}
		}
		if boolean && !isBoolLiteral(s) {
			boolean = false
		}
		if temporal && !isTemporalLiteral(s) {
			temporal = false
		}
		if !numeric && !boolean && !temporal {
			return domain.ColumnText
		}
	}
	switch {
	case !seen:
		return domain.ColumnText
	case boolean:
		return domain.ColumnBool
	case numeric:
		return domain.ColumnNumeric
	case temporal:
		return domain.ColumnTemporal
	default:
		return domain.ColumnText
	}
}

func isBoolLiteral(s string) bool {
	switch strings.ToLower(s) {
	case "true", "false", "yes", "no":
		return true
	}
	return false
}

func isTemporalLiteral(s string) bool {
	for _, layout := range temporalLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

// convertCell parses a raw cell into its column's typed value. Empty cells
// become nil so they sort last and render as NULL.
func convertCell(s string, colType domain.ColumnType) any {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil
	}
	switch colType {
	case domain.ColumnNumeric:
		if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
			return f
		}
	case domain.ColumnBool:
		switch strings.ToLower(trimmed) {
		case "true", "yes":
			return true
		case "false", "no":
			return false
		}
	case domain.ColumnTemporal:
		for _, layout := range temporalLayouts {
			if ts, err := time.Parse(layout, trimmed); err == nil {
				return ts
			}
		}
	}
	return s
}
