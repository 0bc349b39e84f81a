package viewer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"gridcat/internal/domain"
)

// fakeSource is a deterministic in-memory adapter. Per-call delays are
// served with a plain sleep, deliberately ignoring the context: the engine
// must cope with adapters that cannot be preempted.
type fakeSource struct {
	id     string
	schema domain.Schema
	rows   [][]any

	mu            sync.Mutex
	calls         int
	delayFn       func(domain.PageRequest) time.Duration
	failWith      error
	invalidations int
}

func newFakeSource(id string, n int) *fakeSource {
	rows := make([][]any, n)
	for i := range rows {
		rows[i] = []any{fmt.Sprintf("row-%04d", i), float64(i)}
	}
	return &fakeSource{
		id: id,
		schema: domain.Schema{
			{Name: "name", Type: domain.ColumnText},
			{Name: "n", Type: domain.ColumnNumeric},
		},
		rows: rows,
	}
}

func (f *fakeSource) ID() string { return f.id }

func (f *fakeSource) Schema(ctx context.Context) (domain.Schema, error) {
	return f.schema, nil
}

func (f *fakeSource) RowCount(ctx context.Context) (int64, error) {
	return int64(len(f.rows)), nil
}

func (f *fakeSource) FetchPage(ctx context.Context, req domain.PageRequest) (*domain.PageResult, error) {
	f.mu.Lock()
	f.calls++
	var delay time.Duration
	if f.delayFn != nil {
		delay = f.delayFn(req)
	}
	fail := f.failWith
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if fail != nil {
		return nil, fail
	}

	rows := f.rows
	if req.Filter != "" {
		var filtered [][]any
		for _, row := range rows {
			if strings.Contains(fmt.Sprint(row[0]), req.Filter) {
				filtered = append(filtered, row)
			}
		}
		rows = filtered
	}
	total := int64(len(rows))

	start := req.Offset()
	if start > len(rows) {
		start = len(rows)
	}
	end := start + req.Size
	if end > len(rows) {
		end = len(rows)
	}
	return &domain.PageResult{
		Request:   req,
		Columns:   f.schema,
		Rows:      rows[start:end],
		TotalRows: total,
	}, nil
}

func (f *fakeSource) Invalidate() {
	f.mu.Lock()
	f.invalidations++
	f.mu.Unlock()
}

func (f *fakeSource) Close() error { return nil }

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitIdle(t *testing.T, v *Viewer) {
	t.Helper()
	waitFor(t, "idle status", func() bool {
		s, _ := v.Status()
		return s == domain.StatusIdle
	})
}

func TestViewer_LoadsFirstPage(t *testing.T) {
	src := newFakeSource("t", 30)
	v := New(Options{PageSize: 10})
	defer v.Close()

	if err := v.SwitchSource(src); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, v)

	res := v.CommittedResult()
	if res == nil {
		t.Fatal("expected committed result")
	}
	if res.Request.Page != 0 || len(res.Rows) != 10 || res.TotalRows != 30 {
		t.Fatalf("unexpected first page: page=%d rows=%d total=%d",
			res.Request.Page, len(res.Rows), res.TotalRows)
	}
	if v.PageCount() != 3 {
		t.Errorf("expected 3 pages, got %d", v.PageCount())
	}
	if v.Schema() == nil {
		t.Error("expected schema after first commit")
	}
}

// The out-of-order completion race: a slow fetch superseded by a fast one
// must never overwrite the newer committed result, no matter when it lands.
func TestViewer_StaleResultDiscarded(t *testing.T) {
	src := newFakeSource("t", 100)
	src.delayFn = func(req domain.PageRequest) time.Duration {
		if req.Filter == "" {
			return 300 * time.Millisecond
		}
		return 10 * time.Millisecond
	}

	emitter := &MockEmitter{}
	v := New(Options{PageSize: 10, Emitter: emitter})
	defer v.Close()

	if err := v.SwitchSource(src); err != nil { // id 1, slow
		t.Fatal(err)
	}
	if err := v.SetFilter("row-00"); err != nil { // id 2, fast
		t.Fatal(err)
	}

	waitFor(t, "fast result to commit", func() bool {
		res := v.CommittedResult()
		return res != nil && res.Request.Filter == "row-00"
	})

	// Let the slow fetch run to completion, then verify it changed nothing.
	time.Sleep(400 * time.Millisecond)

	res := v.CommittedResult()
	if res.Request.Filter != "row-00" {
		t.Fatalf("stale result overwrote committed state: %+v", res.Request)
	}
	if res.TotalRows != 100 {
		t.Errorf("expected filtered total 100 (row-00xx), got %d", res.TotalRows)
	}
	if status, err := v.Status(); status != domain.StatusIdle || err != nil {
		t.Errorf("expected idle, got %v/%v", status, err)
	}

	// The last idle event must carry the fast request.
	events := emitter.Recorded()
	var lastIdle *StatusEvent
	for i := range events {
		if ev, ok := events[i].Data.(StatusEvent); ok && ev.Status == domain.StatusIdle {
			lastIdle = &ev
		}
	}
	if lastIdle == nil || lastIdle.Result.Request.Filter != "row-00" {
		t.Errorf("expected final idle event for the fast request, got %+v", lastIdle)
	}
}

func TestViewer_InvalidSortRejectedWithoutDispatch(t *testing.T) {
	src := newFakeSource("t", 30)
	v := New(Options{PageSize: 10})
	defer v.Close()

	if err := v.SwitchSource(src); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, v)
	before := src.callCount()

	err := v.SetSort(99, domain.SortAscending)
	if !errors.Is(err, domain.ErrInvalidSort) {
		t.Fatalf("expected ErrInvalidSort, got %v", err)
	}
	if src.callCount() != before {
		t.Error("invalid sort must not dispatch a fetch")
	}
	if !v.DesiredRequest().Sort.IsNone() {
		t.Error("invalid sort must leave the active sort unchanged")
	}
}

func TestViewer_UnsortableColumnRejected(t *testing.T) {
	src := newFakeSource("t", 5)
	src.schema = append(domain.Schema{}, src.schema...)
	src.schema = append(src.schema, domain.Column{Name: "payload", Type: domain.ColumnBlob})
	v := New(Options{PageSize: 10})
	defer v.Close()

	if err := v.SwitchSource(src); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, v)

	err := v.SetSort(len(src.schema)-1, domain.SortDescending)
	if !errors.Is(err, domain.ErrInvalidSort) {
		t.Fatalf("expected ErrInvalidSort for blob column, got %v", err)
	}
}

func TestViewer_PageSizeChangeKeepsAnchor(t *testing.T) {
	src := newFakeSource("t", 1000)
	v := New(Options{PageSize: 10})
	defer v.Close()

	if err := v.SwitchSource(src); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, v)

	if err := v.GoToPage(5); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "page 5", func() bool {
		res := v.CommittedResult()
		return res != nil && res.Request.Page == 5
	})

	if err := v.SetPageSize(25); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "rebased page", func() bool {
		res := v.CommittedResult()
		return res != nil && res.Request.Size == 25
	})

	res := v.CommittedResult()
	if res.Request.Page != 2 {
		t.Fatalf("expected rebased page 2, got %d", res.Request.Page)
	}
	// Anchor row 50 still visible at the top of the new window.
	if res.Rows[0][0] != "row-0050" {
		t.Errorf("expected anchor row-0050 visible, got %v", res.Rows[0][0])
	}
}

func TestViewer_NavigationClamps(t *testing.T) {
	src := newFakeSource("t", 30)
	v := New(Options{PageSize: 10})
	defer v.Close()

	if err := v.SwitchSource(src); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, v)

	if err := v.GoToPage(99); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "last page", func() bool {
		res := v.CommittedResult()
		return res != nil && res.Request.Page == 2
	})

	if err := v.PrevPage(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "page 1", func() bool {
		res := v.CommittedResult()
		return res != nil && res.Request.Page == 1
	})
}

func TestViewer_ErrorKeepsLastGoodPage(t *testing.T) {
	src := newFakeSource("t", 30)
	emitter := &MockEmitter{}
	v := New(Options{PageSize: 10, Emitter: emitter})
	defer v.Close()

	if err := v.SwitchSource(src); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, v)
	good := v.CommittedResult()

	src.mu.Lock()
	src.failWith = fmt.Errorf("adapter: %w", domain.ErrTimeout)
	src.mu.Unlock()

	if err := v.Refresh(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "error status", func() bool {
		s, _ := v.Status()
		return s == domain.StatusError
	})

	if _, err := v.Status(); !errors.Is(err, domain.ErrTimeout) {
		t.Errorf("expected ErrTimeout cause, got %v", err)
	}
	if v.CommittedResult() != good {
		t.Error("failed refresh must keep the last good page")
	}

	var lastErrEvent *StatusEvent
	for _, e := range emitter.Recorded() {
		if ev, ok := e.Data.(StatusEvent); ok && ev.Status == domain.StatusError {
			lastErrEvent = &ev
		}
	}
	if lastErrEvent == nil || !lastErrEvent.Retryable {
		t.Errorf("timeout must surface as retryable, got %+v", lastErrEvent)
	}

	// Retry is the caller's explicit choice.
	src.mu.Lock()
	src.failWith = nil
	src.mu.Unlock()
	if err := v.Refresh(); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, v)
}

func TestViewer_CacheHitSkipsFetch(t *testing.T) {
	src := newFakeSource("t", 30)
	v := New(Options{PageSize: 10})
	defer v.Close()

	if err := v.SwitchSource(src); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, v)

	if err := v.GoToPage(1); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "page 1", func() bool {
		res := v.CommittedResult()
		return res != nil && res.Request.Page == 1
	})
	calls := src.callCount()

	if err := v.GoToPage(0); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "page 0 again", func() bool {
		res := v.CommittedResult()
		return res != nil && res.Request.Page == 0
	})
	if src.callCount() != calls {
		t.Errorf("revisiting a cached page must not re-fetch (calls %d → %d)", calls, src.callCount())
	}
}

func TestViewer_MutationInvalidatesCache(t *testing.T) {
	src := newFakeSource("t", 30)
	cache := NewPageCache(16)
	emitter := &MockEmitter{}
	v := New(Options{PageSize: 10, Cache: cache, Emitter: emitter})
	defer v.Close()

	if err := v.SwitchSource(src); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, v)
	if cache.Len() == 0 {
		t.Fatal("expected a cached page after first load")
	}
	good := v.CommittedResult()

	v.OnSourceMutated()

	if cache.Len() != 0 {
		t.Error("mutation must drop all cached pages for the source")
	}
	if src.invalidations != 1 {
		t.Errorf("expected snapshot invalidation, got %d", src.invalidations)
	}
	if v.CommittedResult() != good {
		t.Error("mutation notification must not change the committed page")
	}

	found := false
	for _, e := range emitter.Recorded() {
		if e.Event == EventMutated {
			found = true
		}
	}
	if !found {
		t.Error("expected a mutated event")
	}
}

func TestViewer_SwitchSourceResetsSortAndFilter(t *testing.T) {
	a := newFakeSource("a", 30)
	b := newFakeSource("b", 20)
	v := New(Options{PageSize: 10})
	defer v.Close()

	if err := v.SwitchSource(a); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, v)
	if err := v.SetSort(0, domain.SortDescending); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "sorted page", func() bool {
		res := v.CommittedResult()
		return res != nil && !res.Request.Sort.IsNone()
	})
	if err := v.SetFilter("row"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "filtered page", func() bool {
		res := v.CommittedResult()
		return res != nil && res.Request.Filter == "row"
	})

	if err := v.SwitchSource(b); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "source b", func() bool {
		res := v.CommittedResult()
		return res != nil && res.Request.Source == "b"
	})

	d := v.DesiredRequest()
	if !d.Sort.IsNone() || d.Filter != "" || d.Page != 0 {
		t.Errorf("switching source must reset sort/filter/page, got %+v", d)
	}
}
