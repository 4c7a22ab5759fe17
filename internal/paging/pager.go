package paging

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/fbonesso/storeops/internal/apierr"
)

// Defaults for Pager options.
const (
	DefaultWorkers  = 4
	DefaultMaxPages = 10000
)

// FetchFunc fetches and decodes the page at a cursor.
type FetchFunc[T any] func(ctx context.Context, c Cursor) (Page[T], error)

// RawFetchFunc fetches the page at a cursor without decoding its items.
type RawFetchFunc func(ctx context.Context, c Cursor) (RawPage, error)

// DecodeFunc decodes the items of a raw page body.
type DecodeFunc[T any] func(body []byte) ([]T, error)

type settings struct {
	workers  int
	maxPages int
}

// Option configures a Pager.
type Option func(*settings)

// WithWorkers bounds concurrent page decoding in CollectAll.
func WithWorkers(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithMaxPages caps the number of pages fetched before the sequence is
// declared non-terminating.
func WithMaxPages(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.maxPages = n
		}
	}
}

// fetched is a page whose items may still need decoding.
type fetched[T any] struct {
	next   Cursor
	decode func() ([]T, error)
}

// Pager is a lazy item sequence over a paginated endpoint. It is not
// restartable: once advanced, build a new Pager from the start cursor.
// A Pager is not safe for concurrent use.
type Pager[T any] struct {
	fetch  func(ctx context.Context, c Cursor) (fetched[T], error)
	cursor Cursor
	buf    []T
	done   bool
	pages  int
	cfg    settings
}

// New builds a Pager over a fetch function that returns decoded pages.
func New[T any](fetch FetchFunc[T], start Cursor, opts ...Option) *Pager[T] {
	return newPager(func(ctx context.Context, c Cursor) (fetched[T], error) {
		page, err := fetch(ctx, c)
		if err != nil {
			return fetched[T]{}, err
		}

		items := page.Items

		return fetched[T]{next: page.Next, decode: func() ([]T, error) { return items, nil }}, nil
	}, start, opts)
}

// NewRaw builds a Pager whose fetch only extracts the next cursor; item
// decoding is deferred so CollectAll can run it on a worker pool.
func NewRaw[T any](fetch RawFetchFunc, decode DecodeFunc[T], start Cursor, opts ...Option) *Pager[T] {
	return newPager(func(ctx context.Context, c Cursor) (fetched[T], error) {
		raw, err := fetch(ctx, c)
		if err != nil {
			return fetched[T]{}, err
		}

		body := raw.Body

		return fetched[T]{next: raw.Next, decode: func() ([]T, error) { return decode(body) }}, nil
	}, start, opts)
}

func newPager[T any](fetch func(context.Context, Cursor) (fetched[T], error), start Cursor, opts []Option) *Pager[T] {
	cfg := settings{workers: DefaultWorkers, maxPages: DefaultMaxPages}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Pager[T]{fetch: fetch, cursor: start, cfg: cfg}
}

// Pages returns how many pages have been fetched so far.
func (p *Pager[T]) Pages() int {
	return p.pages
}

// Cursor returns the cursor of the next unfetched page; zero once the
// sequence is exhausted.
func (p *Pager[T]) Cursor() Cursor {
	if p.done {
		return Cursor{}
	}

	return p.cursor
}

// Next returns the next item, fetching a page only when the buffer is empty.
// ok is false once the sequence is exhausted. After an error the Pager is
// finished.
func (p *Pager[T]) Next(ctx context.Context) (item T, ok bool, err error) {
	for len(p.buf) == 0 {
		if p.done {
			return item, false, nil
		}

		f, err := p.advance(ctx)
		if err != nil {
			return item, false, err
		}

		items, err := f.decode()
		if err != nil {
			p.done = true
			return item, false, err
		}

		p.buf = items
	}

	item = p.buf[0]
	p.buf = p.buf[1:]

	return item, true, nil
}

// NextPage fetches exactly one page and returns it with its continuation.
// Buffered items from earlier Next calls are returned first, as their own
// page. ok is false once the sequence is exhausted.
func (p *Pager[T]) NextPage(ctx context.Context) (page Page[T], ok bool, err error) {
	if len(p.buf) > 0 {
		page = Page[T]{Items: p.buf, Next: p.Cursor()}
		p.buf = nil

		return page, true, nil
	}

	if p.done {
		return page, false, nil
	}

	f, err := p.advance(ctx)
	if err != nil {
		return page, false, err
	}

	items, err := f.decode()
	if err != nil {
		p.done = true
		return page, false, err
	}

	return Page[T]{Items: items, Next: f.next}, true, nil
}

// CollectAll exhausts the remaining pages and returns their items in cursor
// order. Page fetches are sequential because each depends on the previous
// cursor; decoding runs concurrently on a bounded pool and results are
// reassembled by page index.
func (p *Pager[T]) CollectAll(ctx context.Context) ([]T, error) {
	out := p.buf
	p.buf = nil

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.workers)

	var (
		slots    []*[]T
		fetchErr error
	)

	for !p.done {
		if err := gctx.Err(); err != nil {
			fetchErr = apierr.FromContext(err, "paging interrupted after %d pages", p.pages)
			break
		}

		f, err := p.advance(gctx)
		if err != nil {
			fetchErr = err
			break
		}

		slot := new([]T)
		slots = append(slots, slot)

		g.Go(func() error {
			items, err := f.decode()
			if err != nil {
				return err
			}

			*slot = items

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		p.done = true
		return nil, err
	}

	if fetchErr != nil {
		return nil, fetchErr
	}

	for _, slot := range slots {
		out = append(out, *slot...)
	}

	return out, nil
}

// advance fetches the page at the current cursor and moves past it.
func (p *Pager[T]) advance(ctx context.Context) (fetched[T], error) {
	if p.pages >= p.cfg.maxPages {
		p.done = true

		return fetched[T]{}, apierr.New(apierr.KindProtocol,
			"pagination did not terminate after %d pages", p.cfg.maxPages)
	}

	at := p.cursor

	f, err := p.fetch(ctx, at)
	if err != nil {
		p.done = true
		return fetched[T]{}, err
	}

	p.pages++

	if !f.next.IsZero() && f.next.value == at.value {
		p.done = true

		return fetched[T]{}, apierr.New(apierr.KindProtocol,
			"provider returned the same page cursor twice (page %d)", p.pages)
	}

	p.cursor = f.next
	if f.next.IsZero() {
		p.done = true
	}

	return f, nil
}

// CollectEach runs several independent pagers concurrently, at most workers
// at a time, and returns their items in input order.
func CollectEach[T any](ctx context.Context, workers int, pagers ...*Pager[T]) ([][]T, error) {
	if workers < 1 {
		workers = DefaultWorkers
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	var mu sync.Mutex

	out := make([][]T, len(pagers))

	for i, p := range pagers {
		g.Go(func() error {
			items, err := p.CollectAll(gctx)
			if err != nil {
				return err
			}

			mu.Lock()
			out[i] = items
			mu.Unlock()

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return out, nil
}
