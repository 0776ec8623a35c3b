// Package source holds what the marketplace parsers share: the parser
// contract, page math, bounded fan-out and preview downloads.
package source

import (
	"context"
	"runtime/debug"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/kr-car-crawler/internal/car"
	"github.com/JakeFAU/kr-car-crawler/internal/dispatcher"
)

// Default concurrency caps for listing pages and detail requests.
const (
	DefaultPageConcurrency   = 40
	DefaultDetailConcurrency = 30
)

// Requester performs outbound requests. A nil response with an error means the
// item could not be fetched and should be skipped.
type Requester interface {
	Do(ctx context.Context, req dispatcher.Request) (*dispatcher.Response, error)
}

// Sink receives each batch a parser emits.
type Sink func(ctx context.Context, records []car.Record) error

// Parser crawls one marketplace catalogue.
type Parser interface {
	Name() car.Source
	// Crawl walks the catalogue and hands every finished batch to sink.
	// Per-page and per-listing failures are skipped; only cancellation and
	// sink errors are returned.
	Crawl(ctx context.Context, sink Sink) error
}

// Options tunes a parser.
type Options struct {
	PageConcurrency   int
	DetailConcurrency int
	MaxPages          int
	Logger            *zap.Logger
}

// WithDefaults fills zero fields.
func (o Options) WithDefaults(maxPages int) Options {
	if o.PageConcurrency <= 0 {
		o.PageConcurrency = DefaultPageConcurrency
	}
	if o.DetailConcurrency <= 0 {
		o.DetailConcurrency = DefaultDetailConcurrency
	}
	if o.MaxPages <= 0 {
		o.MaxPages = maxPages
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// PageCount returns ceil(total/pageSize) capped at maxPages.
func PageCount(total, pageSize, maxPages int) int {
	if total <= 0 || pageSize <= 0 {
		return 0
	}
	pages := (total + pageSize - 1) / pageSize
	if maxPages > 0 && pages > maxPages {
		pages = maxPages
	}
	return pages
}

// Collect runs fn for every item with at most limit calls in flight and
// returns the results in input order. Items are started in order. fn reports
// ok=false to drop an item; only cancellation stops the fan-out early. A
// panicking fn drops its item and is logged through the global zap logger.
func Collect[T, R any](
	ctx context.Context,
	items []T,
	limit int,
	fn func(ctx context.Context, item T) (R, bool),
) ([]R, error) {
	type slot struct {
		value R
		ok    bool
	}
	slots := make([]slot, len(items))

	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, item := range items {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					slots[i] = slot{}
					zap.L().Error("fan-out worker panicked", zap.Int("item", i), zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
				}
			}()
			value, ok := fn(gctx, item)
			slots[i] = slot{value: value, ok: ok}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]R, 0, len(items))
	for _, s := range slots {
		if s.ok {
			out = append(out, s.value)
		}
	}
	return out, nil
}

// Dedupe keeps the first record for every natural key.
func Dedupe(records []car.Record) []car.Record {
	seen := make(map[car.NaturalKey]struct{}, len(records))
	out := records[:0:0]
	for _, rec := range records {
		if _, ok := seen[rec.Key()]; ok {
			continue
		}
		seen[rec.Key()] = struct{}{}
		out = append(out, rec)
	}
	return out
}

// Pages returns 1..n.
func Pages(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i + 1
	}
	return out
}
