// Package pagecache implements the per-inode page cache: a map from
// file-page index to a cached mem.Frame carrying one of three states —
// Invalid (not yet read from disk), Synced (matches disk), Dirty
// (modified, awaiting write-back) — per spec §4.7. Grounded on the
// teacher's fs/blk.go Bdev_block_t (the same Invalid/clean/dirty
// lifecycle, minus its refcounted Objref_t cache-eviction machinery,
// which this cache replaces with hashtable.Table since pages here are
// uniquely owned per spec §3, not shared/refcounted).
package pagecache

import (
	"sync"

	"rvkernel/hashtable"
	"rvkernel/mem"
)

// State describes a cached page's relationship to its on-disk copy.
type State int

const (
	Invalid State = iota
	Synced
	Dirty
)

// Page is one cached file page.
type Page struct {
	Frame *mem.Frame
	State State
}

func pgHash(idx int) uint32 { return uint32(idx) }
func pgEq(a, b int) bool    { return a == b }

// Cache is one inode's page cache. ReadBack/WriteBack are supplied by
// the caller (the FAT32/tmpfs/devfs backend) since only that backend
// knows how to translate a file-page index into disk sectors.
type Cache struct {
	mu       sync.Mutex
	pages    *hashtable.Table[int, *Page]
	ReadBack func(pgidx int, dst []byte) error
	WriteBack func(pgidx int, src []byte) error
}

// New allocates an empty page cache for one inode.
func New() *Cache {
	return &Cache{pages: hashtable.New[int, *Page](16, pgHash, pgEq)}
}

// Get returns the cached page for pgidx, reading it from the backend via
// ReadBack on a cache miss.
func (c *Cache) Get(pgidx int) (*Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pg, ok := c.pages.Get(pgidx); ok {
		return pg, nil
	}
	f := mem.Physmem.Alloc()
	if c.ReadBack != nil {
		if err := c.ReadBack(pgidx, f.Bytes()); err != nil {
			f.Free()
			return nil, err
		}
	}
	pg := &Page{Frame: f, State: Synced}
	c.pages.Set(pgidx, pg)
	return pg, nil
}

// MarkDirty flags pgidx (which must already be cached) as modified.
func (c *Cache) MarkDirty(pgidx int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pg, ok := c.pages.Get(pgidx); ok {
		pg.State = Dirty
	}
}

// Writeback flushes every Dirty page through WriteBack, marking it
// Synced on success.
func (c *Cache) Writeback() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, kv := range c.pages.Elems() {
		pg := kv.Value
		if pg.State != Dirty {
			continue
		}
		if c.WriteBack != nil {
			if err := c.WriteBack(kv.Key, pg.Frame.Bytes()); err != nil {
				return err
			}
		}
		pg.State = Synced
	}
	return nil
}

// Evict drops pgidx from the cache, releasing its frame. It does not
// write back a Dirty page first — callers that care must Writeback (or
// flush that single page) before Evict.
func (c *Cache) Evict(pgidx int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pg, ok := c.pages.Get(pgidx); ok {
		pg.Frame.Free()
		c.pages.Del(pgidx)
	}
}

// Purge releases every cached page without writing any of them back —
// used when an inode is deleted.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, kv := range c.pages.Elems() {
		kv.Value.Frame.Free()
		c.pages.Del(kv.Key)
	}
}
