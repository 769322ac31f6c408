// Package search filters the item cache by keyword.
package search

import (
	"context"
	"strings"

	"github.com/vbonduro/storagesync/internal/cache"
	"github.com/vbonduro/storagesync/internal/domain"
	"golang.org/x/text/cases"
)

// ItemCache is the part of *cache.ItemCache that search reads.
type ItemCache interface {
	IsFresh() bool
	Refresh(ctx context.Context, fetch cache.Fetcher) error
	Snapshot() []*domain.Item
}

// Search returns the cached items whose name contains keyword, ignoring case,
// in snapshot order. A blank keyword matches nothing and never touches the
// cache. A stale cache is refreshed first; if that refresh fails the previous
// snapshot is searched instead, and the error is returned only when there is
// no snapshot to fall back on. Use SearchStale to observe that fallback.
func Search(ctx context.Context, keyword string, c ItemCache, fetch cache.Fetcher) ([]*domain.Item, error) {
	items, _, err := SearchStale(ctx, keyword, c, fetch)
	return items, err
}

// SearchStale is Search that also returns the refresh error it recovered
// from by searching the previous snapshot. staleErr is nil whenever the
// results come from a fresh snapshot or err is set.
func SearchStale(ctx context.Context, keyword string, c ItemCache, fetch cache.Fetcher) (items []*domain.Item, staleErr, err error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return []*domain.Item{}, nil, nil
	}

	if !c.IsFresh() {
		if refreshErr := c.Refresh(ctx, fetch); refreshErr != nil {
			snapshot := c.Snapshot()
			if len(snapshot) == 0 {
				return nil, nil, refreshErr
			}
			return Filter(snapshot, keyword), refreshErr, nil
		}
	}
	return Filter(c.Snapshot(), keyword), nil, nil
}

// Filter returns the items whose name contains keyword under Unicode case
// folding.
func Filter(items []*domain.Item, keyword string) []*domain.Item {
	// A Caser keeps state between calls and must not be shared.
	fold := cases.Fold()
	needle := fold.String(keyword)

	matches := []*domain.Item{}
	for _, item := range items {
		if strings.Contains(fold.String(item.Name), needle) {
			matches = append(matches, item)
		}
	}
	return matches
}
