package gitlab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// DefaultPerPage is the page size used by CollectAll
const DefaultPerPage = 20

// ErrMissingPagerArgs is returned before any request when the resource path
// or the starting page is missing
var ErrMissingPagerArgs = errors.New("missing rpath or page arguments")

// PageGetter is the part of the remote client a Pager needs
type PageGetter interface {
	Get(ctx context.Context, path string) (json.RawMessage, error)
}

// Pager walks a page-cursor listing endpoint one item at a time:
//
//	p := NewPager[types.GitLabUser](client, "/users", 1, 20)
//	for p.Next(ctx) {
//		user := p.Item()
//	}
//	if err := p.Err(); err != nil { ... }
//
// Pages are requested lazily in ascending order until an empty page. A
// Pager is single-use; build a new one to enumerate again.
type Pager[T any] struct {
	api     PageGetter
	rpath   string
	page    int
	perPage int

	buf  []T
	item T
	done bool
	err  error

	requests int
}

// NewPager returns a pager starting at page with perPage items per request
func NewPager[T any](api PageGetter, rpath string, page, perPage int) *Pager[T] {
	p := &Pager[T]{api: api, rpath: rpath, page: page, perPage: perPage}
	if rpath == "" || page < 1 {
		p.err = ErrMissingPagerArgs
		p.done = true
	}
	if p.perPage < 1 {
		p.perPage = DefaultPerPage
	}
	return p
}

// Next advances to the next item, fetching the next page when the current
// one is drained. It returns false at end of data or on the first error.
func (p *Pager[T]) Next(ctx context.Context) bool {
	for len(p.buf) == 0 {
		if p.done {
			return false
		}
		if err := p.fetch(ctx); err != nil {
			p.err = err
			p.done = true
			return false
		}
	}
	p.item = p.buf[0]
	p.buf = p.buf[1:]
	return true
}

func (p *Pager[T]) fetch(ctx context.Context) error {
	p.requests++
	raw, err := p.api.Get(ctx, pagePath(p.rpath, p.page, p.perPage))
	if err != nil {
		return err
	}
	var items []T
	if err := json.Unmarshal(raw, &items); err != nil {
		return fmt.Errorf("failed to decode page %d of %s: %w", p.page, p.rpath, err)
	}
	if len(items) == 0 {
		p.done = true
		return nil
	}
	p.buf = items
	p.page++
	return nil
}

func pagePath(rpath string, page, perPage int) string {
	sep := "?"
	if strings.Contains(rpath, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%spage=%d&per_page=%d", rpath, sep, page, perPage)
}

// Item returns the current item
func (p *Pager[T]) Item() T {
	return p.item
}

// Err returns the error that stopped the pager, if any
func (p *Pager[T]) Err() error {
	return p.err
}

// Requests returns how many page requests have been issued
func (p *Pager[T]) Requests() int {
	return p.requests
}

// Collect drains the pager into a slice. On error the items read so far are
// returned with it.
func (p *Pager[T]) Collect(ctx context.Context) ([]T, error) {
	items := []T{}
	for p.Next(ctx) {
		items = append(items, p.Item())
	}
	return items, p.Err()
}

// CollectAll enumerates every item of rpath from page 1 with the default page size
func CollectAll[T any](ctx context.Context, api PageGetter, rpath string) ([]T, error) {
	return NewPager[T](api, rpath, 1, DefaultPerPage).Collect(ctx)
}
