package viewer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"gridcat/internal/domain"
	"gridcat/internal/source"
)

// DefaultPageSize is used when the caller does not pick one.
const DefaultPageSize = 50

// Options configures a Viewer.
type Options struct {
	PageSize int
	Workers  int        // concurrent fetches; default 4
	Cache    *PageCache // shared across viewers when non-nil
	Emitter  Emitter    // nil means no events
}

// Viewer owns the view state of one open table: the desired request, the
// committed result, and the load status. It is the only writer of committed
// state. Every user intent dispatches a fetch tagged with a monotonically
// increasing id; a completion is applied only while its id is still the
// most recently dispatched one, so results always land in request order and
// a slow stale fetch can never clobber a newer page.
type Viewer struct {
	id      string
	emitter Emitter
	cache   *PageCache
	sem     chan struct{} // bounds concurrent adapter calls

	nextID    atomic.Uint64
	committed atomic.Pointer[domain.PageResult] // lock-free reads for the renderer

	mu       sync.Mutex
	src      source.TabularSource
	schema   domain.Schema
	rowCount int64 // filtered total known from the last commit
	desired  domain.PageRequest
	status   domain.ViewStatus
	lastErr  error
	latestID uint64
	cancel   context.CancelFunc // cancels the in-flight fetch, best effort
	closed   bool
}

type noopEmitter struct{}

func (noopEmitter) Emit(string, any) {}

// New creates a Viewer without a source; call SwitchSource to start
// loading.
func New(opts Options) *Viewer {
	if opts.PageSize < 1 {
		opts.PageSize = DefaultPageSize
	}
	if opts.Workers < 1 {
		opts.Workers = 4
	}
	if opts.Cache == nil {
		opts.Cache = NewPageCache(DefaultCacheCapacity)
	}
	var emitter Emitter = noopEmitter{}
	if opts.Emitter != nil {
		emitter = opts.Emitter
	}
	return &Viewer{
		id:      uuid.NewString(),
		emitter: emitter,
		cache:   opts.Cache,
		sem:     make(chan struct{}, opts.Workers),
		desired: domain.PageRequest{Sort: domain.NoSort(), Size: opts.PageSize},
		status:  domain.StatusIdle,
	}
}

// ID identifies this viewer in event payloads.
func (v *Viewer) ID() string { return v.id }

// ── User intents ───────────────────────────────────────────

// SwitchSource points the viewer at a new source. Sort and filter reset,
// paging starts at the first page; the previous committed page stays
// visible until the first fetch commits.
func (v *Viewer) SwitchSource(src source.TabularSource) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return domain.ErrSourceUnavailable
	}
	v.src = src
	v.schema = nil
	v.rowCount = 0
	emit := v.dispatchLocked(domain.PageRequest{
		Source: src.ID(),
		Sort:   domain.NoSort(),
		Page:   0,
		Size:   v.desired.Size,
	})
	v.mu.Unlock()
	emit()
	return nil
}

// SetSort activates a sort column. An out-of-bounds or unsortable column is
// rejected without dispatching a fetch, leaving the active sort unchanged.
func (v *Viewer) SetSort(column int, dir domain.SortDirection) error {
	v.mu.Lock()
	if v.closed || v.src == nil {
		v.mu.Unlock()
		return domain.ErrSourceUnavailable
	}
	if !v.schema.HasColumn(column) {
		v.mu.Unlock()
		return fmt.Errorf("column %d: %w", column, domain.ErrInvalidSort)
	}
	if !v.schema[column].Type.Sortable() {
		v.mu.Unlock()
		return fmt.Errorf("column %q: %w", v.schema[column].Name, domain.ErrInvalidSort)
	}
	d := v.desired
	d.Sort = domain.SortSpec{Column: column, Direction: dir}
	d.Page = 0
	emit := v.dispatchLocked(d)
	v.mu.Unlock()
	emit()
	return nil
}

// ClearSort restores source-native row order.
func (v *Viewer) ClearSort() error {
	v.mu.Lock()
	if v.closed || v.src == nil {
		v.mu.Unlock()
		return domain.ErrSourceUnavailable
	}
	d := v.desired
	d.Sort = domain.NoSort()
	d.Page = 0
	emit := v.dispatchLocked(d)
	v.mu.Unlock()
	emit()
	return nil
}

// GoToPage navigates to a page; out-of-range indexes clamp to the ends.
func (v *Viewer) GoToPage(page int) error {
	v.mu.Lock()
	if v.closed || v.src == nil {
		v.mu.Unlock()
		return domain.ErrSourceUnavailable
	}
	d := v.desired
	d.Page = page
	emit := v.dispatchLocked(d)
	v.mu.Unlock()
	emit()
	return nil
}

func (v *Viewer) NextPage() error {
	return v.GoToPage(v.DesiredRequest().Page + 1)
}

func (v *Viewer) PrevPage() error {
	return v.GoToPage(v.DesiredRequest().Page - 1)
}

// SetPageSize changes the window size, repaging so the first currently
// visible row stays visible.
func (v *Viewer) SetPageSize(size int) error {
	if size < 1 {
		return fmt.Errorf("page size must be >= 1, got %d", size)
	}
	v.mu.Lock()
	if v.closed || v.src == nil {
		v.mu.Unlock()
		return domain.ErrSourceUnavailable
	}
	d := v.desired
	d.Page = Rebase(d.Page, d.Size, size)
	d.Size = size
	emit := v.dispatchLocked(d)
	v.mu.Unlock()
	emit()
	return nil
}

// SetFilter applies a whole-table search and returns to the first page.
// An empty query clears the filter.
func (v *Viewer) SetFilter(query string) error {
	v.mu.Lock()
	if v.closed || v.src == nil {
		v.mu.Unlock()
		return domain.ErrSourceUnavailable
	}
	d := v.desired
	d.Filter = query
	d.Page = 0
	emit := v.dispatchLocked(d)
	v.mu.Unlock()
	emit()
	return nil
}

// Refresh drops cached pages and loaded snapshots for the current source
// and re-fetches the desired page. Retrying a failed fetch is also done
// through Refresh: the engine never retries on its own.
func (v *Viewer) Refresh() error {
	v.mu.Lock()
	if v.closed || v.src == nil {
		v.mu.Unlock()
		return domain.ErrSourceUnavailable
	}
	v.invalidateLocked()
	v.schema = nil
	emit := v.dispatchLocked(v.desired)
	v.mu.Unlock()
	emit()
	return nil
}

// OnSourceMutated handles an external-change notification (typically from
// source.Watcher): cached pages for the source are dropped so the next
// fetch sees fresh data. The committed page stays on screen; actually
// reloading is the consumer's explicit choice.
func (v *Viewer) OnSourceMutated() {
	v.mu.Lock()
	if v.closed || v.src == nil {
		v.mu.Unlock()
		return
	}
	v.invalidateLocked()
	ev := MutatedEvent{Viewer: v.id, Source: v.src.ID()}
	v.mu.Unlock()
	v.emitter.Emit(EventMutated, ev)
}

func (v *Viewer) invalidateLocked() {
	v.cache.InvalidateSource(v.src.ID())
	if r, ok := v.src.(source.Reloadable); ok {
		r.Invalidate()
	}
}

// ── Read side ──────────────────────────────────────────────

// CommittedResult returns the last applied page, or nil before the first
// commit. Safe to call concurrently with dispatches: the pointer is swapped
// atomically, never updated in place.
func (v *Viewer) CommittedResult() *domain.PageResult {
	return v.committed.Load()
}

// DesiredRequest returns the most recently requested view state.
func (v *Viewer) DesiredRequest() domain.PageRequest {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.desired
}

// Status returns the current load state and, in the error state, its cause.
func (v *Viewer) Status() (domain.ViewStatus, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.status, v.lastErr
}

// Schema returns the committed schema, or nil before the first load.
func (v *Viewer) Schema() domain.Schema {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.schema
}

// PageCount derives the page count from the last committed totals.
func (v *Viewer) PageCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return PageCount(v.rowCount, v.desired.Size)
}

// Close cancels any in-flight fetch and rejects further intents. The
// underlying source is not closed; its catalog owns it.
func (v *Viewer) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	if v.cancel != nil {
		v.cancel()
		v.cancel = nil
	}
}

// ── Dispatch and completion (the single-writer core) ───────

// dispatchLocked plans the desired request, supersedes any in-flight fetch
// and either commits straight from cache or hands the fetch to a worker.
// It returns the event emission to run after the lock is released.
func (v *Viewer) dispatchLocked(d domain.PageRequest) func() {
	d = Plan(d, v.rowCount)
	v.desired = d
	id := v.nextID.Add(1)
	v.latestID = id

	// Invalidate acceptance of all older ids and nudge their fetches to
	// stop. The adapter call may still run to completion; its result will
	// be discarded by the id check in complete.
	if v.cancel != nil {
		v.cancel()
		v.cancel = nil
	}

	if res, ok := v.cache.Get(d); ok {
		v.applyLocked(res)
		return v.statusEventLocked()
	}

	ctx, cancel := context.WithCancel(context.Background())
	v.cancel = cancel
	v.status = domain.StatusLoading
	v.lastErr = nil

	go v.fetch(ctx, id, d, v.src)
	return v.statusEventLocked()
}

// fetch runs on a worker slot, off the control path.
func (v *Viewer) fetch(ctx context.Context, id uint64, req domain.PageRequest, src source.TabularSource) {
	v.sem <- struct{}{}
	defer func() { <-v.sem }()

	if err := ctx.Err(); err != nil {
		v.complete(id, nil, err)
		return
	}
	res, err := src.FetchPage(ctx, req)
	v.complete(id, res, err)
}

// complete is the compare-and-apply step: the result is committed only if
// its id is still the most recently dispatched one.
func (v *Viewer) complete(id uint64, res *domain.PageResult, err error) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	if id != v.latestID {
		// Superseded. A successful result may still warm the cache, but
		// committed state is untouched and no error surfaces.
		if err == nil && res != nil {
			v.cache.Put(res.Request, res)
		}
		v.mu.Unlock()
		log.Printf("[VIEW] stale result discarded (viewer=%s id=%d)", v.id, id)
		return
	}
	v.cancel = nil

	if err != nil {
		if errors.Is(err, context.Canceled) {
			// Cancelled while still latest: only Close does this.
			v.mu.Unlock()
			return
		}
		v.status = domain.StatusError
		v.lastErr = err
		emit := v.statusEventLocked()
		v.mu.Unlock()
		emit()
		return
	}

	v.cache.Put(res.Request, res)
	v.applyLocked(res)

	// The planned page was clamped against a stale count; if the window
	// fell off the shrunken table, re-plan against the fresh total.
	if len(res.Rows) == 0 && res.TotalRows > 0 && res.Request.Page > 0 {
		emit := v.dispatchLocked(res.Request)
		v.mu.Unlock()
		emit()
		return
	}

	emit := v.statusEventLocked()
	v.mu.Unlock()
	emit()
}

// applyLocked writes committed state. Reached only from dispatchLocked
// (cache hit) and complete (latest fetch), both under v.mu: the
// single-writer rule.
func (v *Viewer) applyLocked(res *domain.PageResult) {
	v.committed.Store(res)
	v.schema = res.Columns
	v.rowCount = res.TotalRows
	v.desired = res.Request
	v.status = domain.StatusIdle
	v.lastErr = nil
}

// statusEventLocked snapshots the current status into a deferred emission.
func (v *Viewer) statusEventLocked() func() {
	ev := StatusEvent{
		Viewer:    v.id,
		Status:    v.status,
		PageCount: PageCount(v.rowCount, v.desired.Size),
	}
	switch v.status {
	case domain.StatusIdle:
		ev.Result = v.committed.Load()
	case domain.StatusError:
		if v.lastErr != nil {
			ev.Cause = v.lastErr.Error()
			ev.Retryable = errors.Is(v.lastErr, domain.ErrTimeout)
		}
	}
	return func() { v.emitter.Emit(EventStatus, ev) }
}
