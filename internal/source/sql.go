package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"gridcat/internal/domain"
)

const sqlFetchTimeout = 30 * time.Second

// sqlCatalog is the shared implementation for SQLite, MySQL and Postgres.
// One *sql.DB per opened location, handed to each table-bound source.
type sqlCatalog struct {
	driverName string
	location   string
	db         *sql.DB
	closed     atomic.Bool
}

func openSQLCatalog(driverName, dsn, location string) (*sqlCatalog, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driverName, err)
	}
	// Sensible pool settings for an interactive viewer
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(10 * time.Minute)

	return &sqlCatalog{driverName: driverName, location: location, db: db}, nil
}

func (c *sqlCatalog) Location() string { return c.location }

func (c *sqlCatalog) Tables(ctx context.Context) ([]string, error) {
	if c.closed.Load() {
		return nil, domain.ErrSourceUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, sqlFetchTimeout)
	defer cancel()

	var query string
	switch c.driverName {
	case "sqlite":
		query = `SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'`
	case "postgres":
		query = `SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema()`
	default:
		query = `SELECT table_name FROM information_schema.tables WHERE table_schema = DATABASE()`
	}

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", wrapSQLErr(err))
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			continue
		}
		names = append(names, name)
	}
	naturalSort(names)
	return names, nil
}

func (c *sqlCatalog) Open(table string) (TabularSource, error) {
	if c.closed.Load() {
		return nil, domain.ErrSourceUnavailable
	}
	return &sqlSource{catalog: c, table: table}, nil
}

func (c *sqlCatalog) Close() error {
	c.closed.Store(true)
	return c.db.Close()
}

// sqlSource serves one table. Sorting and filtering are pushed down to the
// database; the schema is introspected once and cached.
type sqlSource struct {
	catalog *sqlCatalog
	table   string

	mu     sync.Mutex
	schema domain.Schema
}

func (s *sqlSource) ID() string {
	return sourceID(s.catalog.location, s.table)
}

func (s *sqlSource) Schema(ctx context.Context) (domain.Schema, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.schema != nil {
		return s.schema, nil
	}
	if s.catalog.closed.Load() {
		return nil, domain.ErrSourceUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, sqlFetchTimeout)
	defer cancel()

	var (
		schema domain.Schema
		err    error
	)
	if s.catalog.driverName == "sqlite" {
		schema, err = s.introspectSQLite(ctx)
	} else {
		schema, err = s.introspectInfoSchema(ctx)
	}
	if err != nil {
		return nil, err
	}
	if len(schema) == 0 {
		return nil, fmt.Errorf("table %q: %w", s.table, domain.ErrSourceUnavailable)
	}
	s.schema = schema
	return schema, nil
}

func (s *sqlSource) introspectSQLite(ctx context.Context) (domain.Schema, error) {
	rows, err := s.catalog.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent("sqlite", s.table)))
	if err != nil {
		return nil, fmt.Errorf("table_info: %w", wrapSQLErr(err))
	}
	defer rows.Close()

	var schema domain.Schema
	for rows.Next() {
		var cid, notNull, pk int
		var name, colType string
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			continue
		}
		schema = append(schema, domain.Column{Name: name, Type: columnTypeFromDecl(colType)})
	}
	return schema, nil
}

func (s *sqlSource) introspectInfoSchema(ctx context.Context) (domain.Schema, error) {
	query := `SELECT column_name, data_type FROM information_schema.columns
		 WHERE table_name = ` + placeholder(s.catalog.driverName, 1) + ` ORDER BY ordinal_position`
	rows, err := s.catalog.db.QueryContext(ctx, query, s.table)
	if err != nil {
		return nil, fmt.Errorf("introspect: %w", wrapSQLErr(err))
	}
	defer rows.Close()

	var schema domain.Schema
	for rows.Next() {
		var name, dataType string
		if err := rows.Scan(&name, &dataType); err != nil {
			continue
		}
		schema = append(schema, domain.Column{Name: name, Type: columnTypeFromDecl(dataType)})
	}
	return schema, nil
}

func (s *sqlSource) RowCount(ctx context.Context) (int64, error) {
	return s.count(ctx, "", nil)
}

func (s *sqlSource) count(ctx context.Context, where string, args []any) (int64, error) {
	if s.catalog.closed.Load() {
		return 0, domain.ErrSourceUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, sqlFetchTimeout)
	defer cancel()

	query := "SELECT COUNT(*) FROM " + quoteIdent(s.catalog.driverName, s.table) + where
	var n int64
	if err := s.catalog.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", wrapSQLErr(err))
	}
	return n, nil
}

func (s *sqlSource) FetchPage(ctx context.Context, req domain.PageRequest) (*domain.PageResult, error) {
	schema, err := s.Schema(ctx)
	if err != nil {
		return nil, err
	}
	if !req.Sort.IsNone() {
		if !schema.HasColumn(req.Sort.Column) {
			return nil, fmt.Errorf("column %d: %w", req.Sort.Column, domain.ErrInvalidSort)
		}
		if !schema[req.Sort.Column].Type.Sortable() {
			return nil, fmt.Errorf("column %q: %w", schema[req.Sort.Column].Name, domain.ErrInvalidSort)
		}
	}

	where, args := s.filterClause(schema, req.Filter)
	total, err := s.count(ctx, where, args)
	if err != nil {
		return nil, err
	}

	query := "SELECT * FROM " + quoteIdent(s.catalog.driverName, s.table) + where +
		s.orderClause(schema, req.Sort) +
		fmt.Sprintf(" LIMIT %d OFFSET %d", req.Size, req.Offset())

	if s.catalog.closed.Load() {
		return nil, domain.ErrSourceUnavailable
	}
	fetchCtx, cancel := context.WithTimeout(ctx, sqlFetchTimeout)
	defer cancel()

	rows, err := s.catalog.db.QueryContext(fetchCtx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", wrapSQLErr(err))
	}
	defer rows.Close()

	out := make([][]any, 0, req.Size)
	numCols := len(schema)
	for rows.Next() {
		values := make([]any, numCols)
		ptrs := make([]any, numCols)
		for j := range values {
			ptrs[j] = &values[j]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make([]any, numCols)
		for j, v := range values {
			row[j] = formatSQLValue(v, schema[j].Type)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate: %w", wrapSQLErr(err))
	}

	return &domain.PageResult{
		Request:   req,
		Columns:   schema,
		Rows:      out,
		TotalRows: total,
	}, nil
}

// filterClause matches a case-insensitive substring against every column,
// like the original viewer's whole-table search.
func (s *sqlSource) filterClause(schema domain.Schema, filter string) (string, []any) {
	if filter == "" {
		return "", nil
	}
	castType := "TEXT"
	if s.catalog.driverName == "mysql" {
		castType = "CHAR"
	}

	var parts []string
	var args []any
	pattern := "%" + strings.ToLower(filter) + "%"
	for i, col := range schema {
		parts = append(parts, fmt.Sprintf("LOWER(CAST(%s AS %s)) LIKE %s",
			quoteIdent(s.catalog.driverName, col.Name), castType, placeholder(s.catalog.driverName, i+1)))
		args = append(args, pattern)
	}
	return " WHERE " + strings.Join(parts, " OR "), args
}

// orderClause emits a dialect-specific ORDER BY that sorts NULLs last
// regardless of direction. SQLite gets a rowid tie-break so equal keys keep
// a stable, repeatable order.
func (s *sqlSource) orderClause(schema domain.Schema, spec domain.SortSpec) string {
	if spec.IsNone() {
		return ""
	}
	col := quoteIdent(s.catalog.driverName, schema[spec.Column].Name)
	dir := "ASC"
	if spec.Direction == domain.SortDescending {
		dir = "DESC"
	}
	switch s.catalog.driverName {
	case "postgres":
		return fmt.Sprintf(" ORDER BY %s %s NULLS LAST", col, dir)
	case "sqlite":
		return fmt.Sprintf(" ORDER BY (%s IS NULL), %s %s, rowid", col, col, dir)
	default:
		return fmt.Sprintf(" ORDER BY (%s IS NULL), %s %s", col, col, dir)
	}
}

// Invalidate drops the cached schema so a refresh re-introspects the table.
func (s *sqlSource) Invalidate() {
	s.mu.Lock()
	s.schema = nil
	s.mu.Unlock()
}

func (s *sqlSource) Close() error {
	// The catalog owns the connection pool; a single table source holds no
	// resources of its own.
	return nil
}

// wrapSQLErr maps driver errors onto the engine taxonomy.
func wrapSQLErr(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", domain.ErrTimeout, err)
	case errors.Is(err, sql.ErrConnDone):
		return fmt.Errorf("%w: %v", domain.ErrSourceUnavailable, err)
	default:
		return err
	}
}

func quoteIdent(driverName, name string) string {
	if driverName == "mysql" {
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// placeholder returns the n-th positional parameter for the dialect.
func placeholder(driverName string, n int) string {
	if driverName == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// columnTypeFromDecl maps a declared SQL type to the engine's comparator
// classes, following SQLite's affinity rules for the fuzzy cases.
func columnTypeFromDecl(decl string) domain.ColumnType {
	d := strings.ToUpper(decl)
	switch {
	case strings.Contains(d, "BOOL"):
		return domain.ColumnBool
	case strings.Contains(d, "INT"), strings.Contains(d, "REAL"),
		strings.Contains(d, "FLOA"), strings.Contains(d, "DOUB"),
		strings.Contains(d, "NUMERIC"), strings.Contains(d, "DECIMAL"),
		strings.Contains(d, "SERIAL"):
		return domain.ColumnNumeric
	case strings.Contains(d, "DATE"), strings.Contains(d, "TIME"):
		return domain.ColumnTemporal
	case strings.Contains(d, "BLOB"), strings.Contains(d, "BYTEA"),
		strings.Contains(d, "BINARY"), d == "":
		return domain.ColumnBlob
	default:
		return domain.ColumnText
	}
}

// formatSQLValue converts a scanned value to a displayable cell.
func formatSQLValue(v any, colType domain.ColumnType) any {
	if v == nil {
		return nil
	}
	switch val := v.(type) {
	case []byte:
		if colType == domain.ColumnBlob {
			return val
		}
		return string(val)
	case time.Time:
		return val
	default:
		return val
	}
}
