package source

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fvbommel/sortorder"

	"gridcat/internal/domain"
)

// TabularSource is the uniform query capability behind which all backends
// (SQL table, delimited file, spreadsheet sheet, Mongo collection) hide.
// Implementations must be safe to call from worker goroutines and must not
// touch any view state.
type TabularSource interface {
	// ID is the stable identity of this source, e.g. "data.db#orders".
	// It keys page-cache entries and mutation notifications.
	ID() string

	// Schema returns the ordered column layout. Loaded once per open;
	// re-established on refresh.
	Schema(ctx context.Context) (domain.Schema, error)

	// RowCount returns the unfiltered row count.
	RowCount(ctx context.Context) (int64, error)

	// FetchPage returns one windowed, sorted, filtered slice of rows
	// together with the filtered total known at fetch time. Fails with
	// domain.ErrSourceUnavailable, domain.ErrInvalidSort or
	// domain.ErrTimeout.
	FetchPage(ctx context.Context, req domain.PageRequest) (*domain.PageResult, error)

	Close() error
}

// Reloadable is implemented by sources that hold a loaded snapshot of a
// file and can drop it so the next fetch re-reads from disk. The viewer
// invokes it on refresh and on mutation notifications.
type Reloadable interface {
	Invalidate()
}

// Catalog is one opened location (database file, DSN, delimited file,
// workbook) exposing its tables/sheets/collections.
type Catalog interface {
	// Location is the path or DSN this catalog was opened from.
	Location() string

	// Tables lists the browsable tables in natural order.
	Tables(ctx context.Context) ([]string, error)

	// Open returns a TabularSource bound to one table.
	Open(table string) (TabularSource, error)

	Close() error
}

var sqliteExtensions = map[string]bool{
	".db": true, ".db3": true, ".sqlite": true, ".sqlite3": true,
}

// OpenCatalog opens a location by extension or DSN scheme, mirroring the
// file-type dispatch of the desktop viewer this engine grew out of.
func OpenCatalog(location string) (Catalog, error) {
	switch {
	case strings.HasPrefix(location, "mysql://"):
		return openSQLCatalog("mysql", strings.TrimPrefix(location, "mysql://"), location)
	case strings.HasPrefix(location, "postgres://"), strings.HasPrefix(location, "postgresql://"):
		return openSQLCatalog("postgres", location, location)
	case strings.HasPrefix(location, "mongodb://"), strings.HasPrefix(location, "mongodb+srv://"):
		return openMongoCatalog(location)
	}

	ext := strings.ToLower(filepath.Ext(location))
	switch {
	case sqliteExtensions[ext]:
		// WAL with busy timeout so an external writer doesn't starve us.
		return openSQLCatalog("sqlite", location+"?_journal_mode=WAL&_busy_timeout=5000", location)
	case ext == ".csv" || ext == ".tsv":
		return newCSVCatalog(location), nil
	case ext == ".xlsx":
		return newExcelCatalog(location), nil
	default:
		return nil, fmt.Errorf("unsupported location %q", location)
	}
}

// sourceID builds the identity for a table within a location.
func sourceID(location, table string) string {
	return location + "#" + table
}

// naturalSort orders table/sheet names the way a human expects
// ("sheet2" before "sheet10").
func naturalSort(names []string) {
	sort.Sort(sortorder.Natural(names))
}
