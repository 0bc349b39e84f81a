package source

import (
	"context"
	"fmt"
	"sync"

	"github.com/xuri/excelize/v2"

	"gridcat/internal/domain"
)

// excelCatalog exposes each sheet of a workbook as a table. The workbook is
// opened per operation; sheet data lives in the per-sheet sources.
type excelCatalog struct {
	path string

	mu      sync.Mutex
	sources map[string]*excelSource
	closed  bool
}

func newExcelCatalog(path string) *excelCatalog {
	return &excelCatalog{path: path, sources: make(map[string]*excelSource)}
}

func (c *excelCatalog) Location() string { return c.path }

func (c *excelCatalog) Tables(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, domain.ErrSourceUnavailable
	}

	f, err := excelize.OpenFile(c.path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", domain.ErrSourceUnavailable)
	}
	defer f.Close()

	names := f.GetSheetList()
	naturalSort(names)
	return names, nil
}

func (c *excelCatalog) Open(sheet string) (TabularSource, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, domain.ErrSourceUnavailable
	}
	if src, ok := c.sources[sheet]; ok {
		return src, nil
	}
	src := &excelSource{path: c.path, sheet: sheet}
	c.sources[sheet] = src
	return src, nil
}

func (c *excelCatalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for _, src := range c.sources {
		src.Close()
	}
	c.sources = make(map[string]*excelSource)
	return nil
}

// excelSource serves one sheet, loaded once into a memTable. The first row
// is the header, matching how the original viewer read workbooks.
type excelSource struct {
	path  string
	sheet string

	mu     sync.Mutex
	tbl    *memTable
	closed bool
}

func (s *excelSource) ID() string {
	return sourceID(s.path, s.sheet)
}

func (s *excelSource) load(ctx context.Context) (*memTable, error) {
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

	f, err := excelize.OpenFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", domain.ErrSourceUnavailable)
	}
	defer f.Close()

	records, err := f.GetRows(s.sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", s.sheet, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("sheet %q is empty", s.sheet)
	}

	s.tbl = newMemTable(records[0], records[1:])
	return s.tbl, nil
}

func (s *excelSource) Schema(ctx context.Context) (domain.Schema, error) {
	tbl, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return tbl.schema, nil
}

func (s *excelSource) RowCount(ctx context.Context) (int64, error) {
	tbl, err := s.load(ctx)
	if err != nil {
		return 0, err
	}
	return int64(len(tbl.rows)), nil
}

func (s *excelSource) FetchPage(ctx context.Context, req domain.PageRequest) (*domain.PageResult, error) {
	tbl, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return tbl.fetchPage(req)
}

// Invalidate drops the loaded sheet so the next fetch re-reads the workbook.
func (s *excelSource) Invalidate() {
	s.mu.Lock()
	s.tbl = nil
	s.mu.Unlock()
}

func (s *excelSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.tbl = nil
	s.mu.Unlock()
	return nil
}
