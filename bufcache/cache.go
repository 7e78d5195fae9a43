package bufcache

import (
	"container/list"
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"mem"
)

/// Memblocks adapts a mem.Physmem_t into the Blockmem_i shape the cache's
/// blocks expect, so the same physical-frame pool that backs the VM
/// subsystem also backs cached disk blocks.
type Memblocks struct {
	Phys *mem.Physmem_t
}

func (m *Memblocks) Alloc() (mem.Pa_t, *mem.Bytepg_t, bool) {
	pg, pa, ok := m.Phys.Refpg_new_nozero()
	if !ok {
		return 0, nil, false
	}
	return pa, mem.Pg2bytes(pg), true
}

func (m *Memblocks) Free(pa mem.Pa_t) {
	m.Phys.Refdown(pa)
}

func (m *Memblocks) Refup(pa mem.Pa_t) {
	m.Phys.Refup(pa)
}

/// Cache is a fixed-capacity, pin-counted LRU cache of disk blocks backed
/// by a Disk_i. A semaphore.Weighted bounds how many block requests may be
/// in flight at once, modeling a disk controller with a finite command
/// queue depth.
type Cache struct {
	mu       sync.Mutex
	cap      int
	lru      *list.List // front = most recently used
	byBlock  map[int]*list.Element
	mem      Blockmem_i
	disk     Disk_i
	inflight *semaphore.Weighted
}

type entry struct {
	blk    *Bdev_block_t
	pinned int
}

/// NewCache constructs a cache of the given block capacity, with at most
/// maxInflight concurrent disk requests outstanding.
func NewCache(cap, maxInflight int, m Blockmem_i, d Disk_i) *Cache {
	c := &Cache{
		cap:      cap,
		lru:      list.New(),
		byBlock:  make(map[int]*list.Element),
		mem:      m,
		disk:     d,
		inflight: semaphore.NewWeighted(int64(maxInflight)),
	}
	return c
}

/// Relse implements Block_cb_i: it unpins a block, making it eligible for
/// eviction once nothing else references it.
func (c *Cache) Relse(b *Bdev_block_t, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.byBlock[b.Block]
	if !ok {
		return
	}
	e := el.Value.(*entry)
	e.pinned--
	if e.pinned < 0 {
		panic("over-released block")
	}
}

// Get returns the block for the given block number, pinned so it cannot be
// evicted until Put is called. It reads from disk on a cache miss.
func (c *Cache) Get(ctx context.Context, block int) (*Bdev_block_t, error) {
	c.mu.Lock()
	if el, ok := c.byBlock[block]; ok {
		c.lru.MoveToFront(el)
		e := el.Value.(*entry)
		e.pinned++
		c.mu.Unlock()
		return e.blk, nil
	}
	c.mu.Unlock()

	if err := c.inflight.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	b := MkBlock_newpage(block, "", c.mem, c.disk, c)
	b.Read()
	c.inflight.Release(1)

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.byBlock[block]; ok {
		// lost the race against a concurrent miss; keep the winner
		b.Free_page()
		e := el.Value.(*entry)
		e.pinned++
		c.lru.MoveToFront(el)
		return e.blk, nil
	}
	e := &entry{blk: b, pinned: 1}
	el := c.lru.PushFront(e)
	c.byBlock[block] = el
	c.evictLocked()
	return b, nil
}

// Put releases the pin taken by Get.
func (c *Cache) Put(b *Bdev_block_t) {
	b.Done("bufcache.Put")
}

// WriteBack flushes a dirty block to disk synchronously.
func (c *Cache) WriteBack(ctx context.Context, b *Bdev_block_t) error {
	if err := c.inflight.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.inflight.Release(1)
	// the disk's completion of the write releases one pin, so take one
	c.mu.Lock()
	if el, ok := c.byBlock[b.Block]; ok {
		el.Value.(*entry).pinned++
	}
	c.mu.Unlock()
	b.Write()
	return nil
}

// evictLocked walks from the least recently used end, dropping unpinned
// blocks until the cache is back within capacity; pinned blocks are
// skipped, so the cache stays over capacity only while every block is in
// use.
func (c *Cache) evictLocked() {
	for el := c.lru.Back(); el != nil && c.lru.Len() > c.cap; {
		prev := el.Prev()
		e := el.Value.(*entry)
		if e.pinned == 0 {
			c.lru.Remove(el)
			delete(c.byBlock, e.blk.Block)
			e.blk.EvictDone()
		}
		el = prev
	}
}

// Len reports the number of blocks currently cached, for tests.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
