package tariff

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"freightaudit/internal/freight"
)

// Source loads the latest tariff definitions.
type Source interface {
	LoadTariffs(ctx context.Context) ([]freight.Tariff, error)
}

// Cache hands out the current Snapshot and rebuilds it from its Source after
// Invalidate. Readers never observe a partially built snapshot.
type Cache struct {
	src   Source
	log   *zap.Logger
	cur   atomic.Pointer[Snapshot]
	gen   atomic.Uint64
	group singleflight.Group
}

func NewCache(src Source, log *zap.Logger) *Cache {
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{src: src, log: log}
}

// Snapshot returns the current snapshot, building it first if the cache is
// empty. Build errors are returned as-is and leave the cache empty.
//
// Concurrent callers share one build. The build runs detached from any
// caller's cancellation; a caller whose ctx ends stops waiting and gets
// ctx.Err() while the others still receive the snapshot.
func (c *Cache) Snapshot(ctx context.Context) (*Snapshot, error) {
	if s := c.cur.Load(); s != nil {
		return s, nil
	}
	buildCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan("snapshot", func() (any, error) {
		return c.build(buildCtx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Snapshot), nil
	}
}

func (c *Cache) build(ctx context.Context) (*Snapshot, error) {
	if s := c.cur.Load(); s != nil {
		return s, nil
	}
	gen := c.gen.Load()
	start := time.Now()
	tariffs, err := c.src.LoadTariffs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load tariffs: %w", err)
	}
	s, err := Build(tariffs)
	if err != nil {
		return nil, err
	}
	// An Invalidate that landed mid-build wins; the caller still gets a
	// consistent snapshot but the next caller rebuilds.
	if c.gen.Load() == gen {
		c.cur.CompareAndSwap(nil, s)
	}
	c.log.Info("tariff snapshot built",
		zap.Int("tariffs", s.Len()),
		zap.Duration("took", time.Since(start)))
	return s, nil
}

// Invalidate drops the current snapshot. The next Snapshot call rebuilds
// from the source.
func (c *Cache) Invalidate() {
	c.gen.Add(1)
	c.cur.Store(nil)
	c.log.Info("tariff snapshot invalidated")
}
