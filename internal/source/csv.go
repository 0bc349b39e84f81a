package source

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gridcat/internal/domain"
)

// csvCatalog exposes a delimited file as a single pseudo-table named after
// the file.
type csvCatalog struct {
	path string
	src  *csvSource
}

func newCSVCatalog(path string) *csvCatalog {
	return &csvCatalog{path: path}
}

func (c *csvCatalog) Location() string { return c.path }

func (c *csvCatalog) Tables(ctx context.Context) ([]string, error) {
	return []string{csvTableName(c.path)}, nil
}

func (c *csvCatalog) Open(table string) (TabularSource, error) {
	if table != csvTableName(c.path) {
		return nil, fmt.Errorf("no table %q in %s", table, c.path)
	}
	if c.src == nil {
		c.src = &csvSource{path: c.path}
	}
	return c.src, nil
}

func (c *csvCatalog) Close() error {
	if c.src != nil {
		return c.src.Close()
	}
	return nil
}

func csvTableName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// csvSource loads the whole file once and serves windows from memory.
// Invalidate drops the snapshot so the next fetch re-reads from disk.
type csvSource struct {
	path string

	mu     sync.Mutex
	tbl    *memTable
	closed bool
}

func (s *csvSource) ID() string {
	return sourceID(s.path, csvTableName(s.path))
}

func (s *csvSource) load(ctx context.Context) (*memTable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, domain.ErrSourceUnavailable
	}
	if s.tbl != nil {
		return s.tbl, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	headers, raw, err := readDelimited(s.path, ',')
	if err == nil && len(headers) == 1 && strings.Contains(headers[0], ";") {
		// Same fallback the original viewer had for European exports.
		headers, raw, err = readDelimited(s.path, ';')
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}

	s.tbl = newMemTable(headers, raw)
	return s.tbl, nil
}

func readDelimited(path string, comma rune) ([]string, [][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open file: %w", domain.ErrSourceUnavailable)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	if strings.EqualFold(filepath.Ext(path), ".tsv") {
		reader.Comma = '\t'
	} else {
		reader.Comma = comma
	}
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("empty file")
	}
	return records[0], records[1:], nil
}

func (s *csvSource) Schema(ctx context.Context) (domain.Schema, error) {
	tbl, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return tbl.schema, nil
}

func (s *csvSource) RowCount(ctx context.Context) (int64, error) {
	tbl, err := s.load(ctx)
	if err != nil {
		return 0, err
	}
	return int64(len(tbl.rows)), nil
}

func (s *csvSource) FetchPage(ctx context.Context, req domain.PageRequest) (*domain.PageResult, error) {
	tbl, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return tbl.fetchPage(req)
}

// Invalidate drops the loaded snapshot. Called on refresh and when the
// mutation watcher reports the file changed.
func (s *csvSource) Invalidate() {
	s.mu.Lock()
	s.tbl = nil
	s.mu.Unlock()
}

func (s *csvSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.tbl = nil
	s.mu.Unlock()
	return nil
}
