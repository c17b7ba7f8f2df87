package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tilegate/internal/archive"
	"tilegate/internal/metrics"
	"tilegate/internal/tileset_list"
)

// ErrClosed is returned by Acquire after Close.
var ErrClosed = errors.New("handle cache is closed")

// UnknownTilesetError reports an id that is not in the registry.
type UnknownTilesetError struct {
	ID string
}

func (e *UnknownTilesetError) Error() string {
	return fmt.Sprintf("tileset %q not found", e.ID)
}

func (e *UnknownTilesetError) Is(target error) bool {
	return target == archive.ErrNotFound
}

// entry is either in flight (ready open) or resolved (ready closed).
// handle and err are written once, before ready is closed.
type entry struct {
	path   string
	ready  chan struct{}
	handle archive.Handle
	err    error
}

// HandleCache opens each registered archive at most once and shares the
// resulting handle between all requests.
type HandleCache struct {
	open     archive.Opener
	logger   *zap.Logger
	registry atomic.Pointer[tileset_list.Registry]

	mu      sync.Mutex
	entries map[string]*entry
	retired []archive.Handle
	closed  bool
}

func New(registry *tileset_list.Registry, open archive.Opener, logger *zap.Logger) *HandleCache {
	c := &HandleCache{
		open:    open,
		logger:  logger,
		entries: make(map[string]*entry),
	}
	c.registry.Store(registry)
	metrics.Tilesets.Set(float64(registry.Len()))
	return c
}

// Registry returns the registry currently in use.
func (c *HandleCache) Registry() *tileset_list.Registry {
	return c.registry.Load()
}

// IDs lists the registered tileset ids in sorted order.
func (c *HandleCache) IDs() []string {
	return c.registry.Load().IDs()
}

// Acquire returns the open handle for id, opening the archive if no other
// request has done so. Callers racing on the same id share one open. A failed
// open is reported to everyone waiting on it and then forgotten, so the next
// Acquire tries again.
func (c *HandleCache) Acquire(ctx context.Context, id string) (archive.Handle, error) {
	path, ok := c.registry.Load().Lookup(id)
	if !ok {
		return nil, &UnknownTilesetError{ID: id}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	e, exists := c.entries[id]
	if !exists {
		e = &entry{path: path, ready: make(chan struct{})}
		c.entries[id] = e
		// The open is detached from ctx so that a client going away does not
		// fail the open for everyone else waiting on it.
		go c.openEntry(id, e)
	}
	c.mu.Unlock()

	if exists {
		select {
		case <-e.ready:
			metrics.HandleCacheHits.Inc()
		default:
			metrics.HandleCacheJoins.Inc()
		}
	}

	select {
	case <-e.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if e.err != nil {
		return nil, e.err
	}
	return e.handle, nil
}

func (c *HandleCache) openEntry(id string, e *entry) {
	start := time.Now()
	handle, err := c.safeOpen(e.path)
	metrics.ArchiveOpenLatency.Observe(time.Since(start).Seconds())

	c.mu.Lock()
	switch {
	case err != nil:
		metrics.ArchiveOpens.WithLabelValues("error").Inc()
		if c.entries[id] == e {
			delete(c.entries, id)
		}
		e.err = fmt.Errorf("failed to open tileset %q: %w", id, err)
		c.logger.Error("Failed to open tileset", zap.String("id", id), zap.String("path", e.path), zap.Error(err))

	case c.closed:
		metrics.ArchiveOpens.WithLabelValues("success").Inc()
		handle.Close()
		e.err = ErrClosed

	default:
		metrics.ArchiveOpens.WithLabelValues("success").Inc()
		metrics.OpenHandles.Inc()
		e.handle = handle
		if c.entries[id] != e {
			// Replaced by a rescan while opening.
			c.retired = append(c.retired, handle)
		}
		c.logger.Debug("Opened tileset", zap.String("id", id), zap.Duration("duration", time.Since(start)))
	}
	c.mu.Unlock()

	close(e.ready)
}

func (c *HandleCache) safeOpen(path string) (handle archive.Handle, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while opening archive: %v", r)
		}
	}()
	return c.open(context.Background(), path)
}

// Replace installs a freshly scanned registry. Handles whose id vanished or
// now points at a different file are detached and closed by Close.
func (c *HandleCache) Replace(registry *tileset_list.Registry) {
	c.registry.Store(registry)
	metrics.Tilesets.Set(float64(registry.Len()))

	c.mu.Lock()
	defer c.mu.Unlock()

	for id, e := range c.entries {
		path, ok := registry.Lookup(id)
		if ok && path == e.path {
			continue
		}
		delete(c.entries, id)
		if e.handle != nil {
			c.retired = append(c.retired, e.handle)
		}
		c.logger.Info("Detached tileset after rescan", zap.String("id", id), zap.String("path", e.path))
	}
}

// Preload opens every registered tileset using at most workers concurrent
// opens. Failures are logged and left for request-time retries.
func (c *HandleCache) Preload(ctx context.Context, workers int) int {
	if workers <= 0 {
		workers = 1
	}

	ids := c.registry.Load().IDs()
	c.logger.Info("Preloading tilesets", zap.Int("tilesets", len(ids)), zap.Int("workers", workers))

	var opened atomic.Int64
	var g errgroup.Group
	g.SetLimit(workers)

	for _, id := range ids {
		id := id
		g.Go(func() error {
			if _, err := c.Acquire(ctx, id); err != nil {
				c.logger.Warn("Preload failed", zap.String("id", id), zap.Error(err))
				return nil
			}
			opened.Add(1)
			return nil
		})
	}
	g.Wait()

	c.logger.Info("Preload completed", zap.Int64("opened", opened.Load()))
	return int(opened.Load())
}

// Len returns the number of open handles served to requests.
func (c *HandleCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, e := range c.entries {
		if e.handle != nil {
			n++
		}
	}
	return n
}

// Close closes every handle the cache has opened. In-flight opens are closed
// as they finish.
func (c *HandleCache) Close() error {
	c.mu.Lock()
	c.closed = true
	handles := c.retired
	for _, e := range c.entries {
		if e.handle != nil {
			handles = append(handles, e.handle)
		}
	}
	c.entries = make(map[string]*entry)
	c.retired = nil
	c.mu.Unlock()

	var errs []error
	for _, h := range handles {
		if err := h.Close(); err != nil {
			errs = append(errs, err)
		}
		metrics.OpenHandles.Dec()
	}
	return errors.Join(errs...)
}
