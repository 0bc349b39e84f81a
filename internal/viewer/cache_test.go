package viewer

import (
	"fmt"
	"testing"

	"gridcat/internal/domain"
)

func cacheReq(source string, page int) domain.PageRequest {
	return domain.PageRequest{Source: source, Sort: domain.NoSort(), Page: page, Size: 10}
}

func cacheRes(req domain.PageRequest) *domain.PageResult {
	return &domain.PageResult{Request: req, TotalRows: 100}
}

func TestPageCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewPageCache(3)
	for i := 0; i < 3; i++ {
		r := cacheReq("a", i)
		c.Put(r, cacheRes(r))
	}

	// Touch page 0 so page 1 becomes the LRU entry.
	if _, ok := c.Get(cacheReq("a", 0)); !ok {
		t.Fatal("expected hit for page 0")
	}

	r := cacheReq("a", 3)
	c.Put(r, cacheRes(r))

	if _, ok := c.Get(cacheReq("a", 1)); ok {
		t.Error("expected LRU page 1 to be evicted")
	}
	for _, page := range []int{0, 2, 3} {
		if _, ok := c.Get(cacheReq("a", page)); !ok {
			t.Errorf("expected page %d to survive", page)
		}
	}
	if c.Len() != 3 {
		t.Errorf("expected capacity-bounded length 3, got %d", c.Len())
	}
}

func TestPageCache_KeyIsFullRequest(t *testing.T) {
	c := NewPageCache(8)
	base := cacheReq("a", 0)
	c.Put(base, cacheRes(base))

	variants := []domain.PageRequest{
		{Source: "a", Sort: domain.SortSpec{Column: 0, Direction: domain.SortAscending}, Page: 0, Size: 10},
		{Source: "a", Sort: domain.NoSort(), Page: 1, Size: 10},
		{Source: "a", Sort: domain.NoSort(), Page: 0, Size: 25},
		{Source: "b", Sort: domain.NoSort(), Page: 0, Size: 10},
		{Source: "a", Sort: domain.NoSort(), Page: 0, Size: 10, Filter: "x"},
	}
	for i, variant := range variants {
		if _, ok := c.Get(variant); ok {
			t.Errorf("variant %d unexpectedly hit the cache", i)
		}
	}
	if _, ok := c.Get(base); !ok {
		t.Error("identical request must hit")
	}
}

func TestPageCache_InvalidateSource(t *testing.T) {
	c := NewPageCache(16)
	for i := 0; i < 4; i++ {
		ra := cacheReq("a", i)
		rb := cacheReq("b", i)
		c.Put(ra, cacheRes(ra))
		c.Put(rb, cacheRes(rb))
	}

	c.InvalidateSource("a")

	for i := 0; i < 4; i++ {
		if _, ok := c.Get(cacheReq("a", i)); ok {
			t.Errorf("source a page %d survived invalidation", i)
		}
		if _, ok := c.Get(cacheReq("b", i)); !ok {
			t.Errorf("source b page %d was wrongly dropped", i)
		}
	}
}

func TestPageCache_MissAfterPurge(t *testing.T) {
	c := NewPageCache(4)
	for i := 0; i < 4; i++ {
		r := cacheReq(fmt.Sprintf("s%d", i), 0)
		c.Put(r, cacheRes(r))
	}
	c.Purge()
	if c.Len() != 0 {
		t.Fatalf("expected empty cache after purge, got %d", c.Len())
	}
}
