// Package cache keeps a short-lived copy of every item so repeated keyword
// searches do not refetch the whole collection from the record store.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vbonduro/storagesync/internal/domain"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTTL   = 30 * time.Second
	DefaultLimit = 500
)

// Fetcher loads at most limit items from the record store.
type Fetcher func(ctx context.Context, limit int) ([]*domain.Item, error)

type Options struct {
	// TTL is the staleness threshold. Zero means DefaultTTL.
	TTL time.Duration
	// Limit caps the records fetched per refresh. Items beyond it are invisible
	// to search until others are deleted. Zero means DefaultLimit.
	Limit int
	// Now overrides the clock in tests.
	Now func() time.Time
}

// ItemCache holds the snapshot. It is safe for concurrent use; the snapshot is
// only ever replaced by Refresh.
type ItemCache struct {
	mu            sync.Mutex
	snapshot      []*domain.Item
	lastRefreshed time.Time
	// epoch advances on every Invalidate so a refresh that raced with a write
	// does not mark its (possibly older) data fresh.
	epoch uint64
	// snapshotEpoch is the epoch the current snapshot was fetched in; an older
	// fetch finishing late never replaces a newer one.
	snapshotEpoch uint64

	ttl    time.Duration
	limit  int
	now    func() time.Time
	group  singleflight.Group
	logger *slog.Logger
}

func New(opts Options, logger *slog.Logger) *ItemCache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &ItemCache{
		ttl:    opts.TTL,
		limit:  opts.Limit,
		now:    opts.Now,
		logger: logger,
	}
}

// IsFresh reports whether the snapshot is younger than the TTL and non-empty.
func (c *ItemCache) IsFresh() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isFreshLocked()
}

func (c *ItemCache) isFreshLocked() bool {
	return len(c.snapshot) > 0 && c.now().Sub(c.lastRefreshed) < c.ttl
}

// Invalidate forces the next search to refresh.
func (c *ItemCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastRefreshed = time.Time{}
	c.epoch++
}

// Snapshot returns a copy of the cached items in fetch order.
func (c *ItemCache) Snapshot() []*domain.Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*domain.Item, len(c.snapshot))
	copy(out, c.snapshot)
	return out
}

// LastRefreshed returns the time of the last refresh that is still valid, or
// the zero time after Invalidate.
func (c *ItemCache) LastRefreshed() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRefreshed
}

// Refresh replaces the snapshot with the result of fetch. Concurrent callers
// share a single fetch unless an Invalidate happened in between, in which case
// the later caller starts its own. On failure the previous snapshot is kept and
// the error is returned. Cancelling ctx abandons the wait but not the shared
// fetch.
func (c *ItemCache) Refresh(ctx context.Context, fetch Fetcher) error {
	c.mu.Lock()
	epoch := c.epoch
	c.mu.Unlock()

	key := strconv.FormatUint(epoch, 10)
	ch := c.group.DoChan(key, func() (any, error) {
		return nil, c.refresh(context.WithoutCancel(ctx), epoch, fetch)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *ItemCache) refresh(ctx context.Context, epoch uint64, fetch Fetcher) error {
	fetched, err := fetch(ctx, c.limit)
	if err != nil {
		c.logger.Warn("item cache refresh failed, keeping previous snapshot", "error", err)
		return fmt.Errorf("failed to refresh item cache: %w", err)
	}
	if len(fetched) > c.limit {
		fetched = fetched[:c.limit]
	}

	items := make([]*domain.Item, 0, len(fetched))
	for _, item := range fetched {
		if verr := validate(item); verr != nil {
			c.logger.Debug("excluding item from cache", "item_id", itemID(item), "error", verr)
			continue
		}
		items = append(items, item)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch < c.snapshotEpoch {
		return nil
	}
	c.snapshot = items
	c.snapshotEpoch = epoch
	if c.epoch == epoch {
		c.lastRefreshed = c.now()
	}
	if len(fetched) == c.limit {
		c.logger.Info("item cache hit fetch limit, search results may be incomplete", "limit", c.limit)
	}
	c.logger.Debug("item cache refreshed", "items", len(items), "excluded", len(fetched)-len(items))
	return nil
}

// validate rejects partial writes: an item needs a non-blank name and an owning box.
func validate(item *domain.Item) error {
	if item == nil {
		return &domain.ValidationError{Field: "item", Reason: "missing record"}
	}
	if strings.TrimSpace(item.Name) == "" {
		return &domain.ValidationError{Field: "name", Reason: "blank"}
	}
	if item.BoxID == "" {
		return &domain.ValidationError{Field: "box", Reason: "missing parent reference"}
	}
	return nil
}

func itemID(item *domain.Item) string {
	if item == nil {
		return ""
	}
	return item.ID
}
