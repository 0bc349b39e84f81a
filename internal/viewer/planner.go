package viewer

import "gridcat/internal/domain"

// Pure paging arithmetic. Kept free of state so the properties are
// directly testable: pageCount = ceil(rows/size), pages clamp into
// [0, max(pageCount-1, 0)], and page-size changes keep the first visible
// row visible.

// PageCount returns ceil(rowCount / pageSize); 0 when the table is empty.
func PageCount(rowCount int64, pageSize int) int {
	if rowCount <= 0 || pageSize <= 0 {
		return 0
	}
	return int((rowCount + int64(pageSize) - 1) / int64(pageSize))
}

// ClampPage lands past-the-end navigation on the last page and
// before-the-start navigation on page 0.
func ClampPage(page, pageCount int) int {
	last := pageCount - 1
	if last < 0 {
		last = 0
	}
	if page > last {
		return last
	}
	if page < 0 {
		return 0
	}
	return page
}

// Rebase recomputes the page index for a new page size so the row at the
// top of the old window stays visible.
func Rebase(oldPage, oldSize, newSize int) int {
	if newSize <= 0 {
		return 0
	}
	return oldPage * oldSize / newSize
}

// Plan canonicalizes a desired request against the row count known at plan
// time. The count may be stale; the fetch returns the authoritative total
// and the coordinator re-plans if the window fell off the end.
func Plan(req domain.PageRequest, rowCount int64) domain.PageRequest {
	if req.Size < 1 {
		req.Size = 1
	}
	req.Page = ClampPage(req.Page, PageCount(rowCount, req.Size))
	return req
}
