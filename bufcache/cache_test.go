package bufcache

import (
	"context"
	"testing"

	"mem"
)

type fakeDisk struct {
	backing map[int]*mem.Bytepg_t
}

func newFakeDisk() *fakeDisk {
	return &fakeDisk{backing: make(map[int]*mem.Bytepg_t)}
}

func (f *fakeDisk) Start(req *Bdev_req_t) bool {
	switch req.Cmd {
	case BDEV_READ:
		b := req.Blks.FrontBlock()
		if data, ok := f.backing[b.Block]; ok {
			*b.Data = *data
		}
	case BDEV_WRITE:
		for b := req.Blks.FrontBlock(); b != nil; b = req.Blks.NextBlock() {
			cp := *b.Data
			f.backing[b.Block] = &cp
			b.Done("fakeDisk")
		}
	case BDEV_FLUSH:
	}
	return false
}

func (f *fakeDisk) Stats() string { return "" }

func TestCacheReadWriteRoundtrip(t *testing.T) {
	phys := mem.NewPhysmem(16)
	mb := &Memblocks{Phys: phys}
	disk := newFakeDisk()
	c := NewCache(4, 2, mb, disk)

	b, err := c.Get(context.Background(), 7)
	if err != nil {
		t.Fatal(err)
	}
	b.Data[0] = 0x42
	if err := c.WriteBack(context.Background(), b); err != nil {
		t.Fatal(err)
	}
	c.Put(b)

	b2, err := c.Get(context.Background(), 7)
	if err != nil {
		t.Fatal(err)
	}
	if b2.Data[0] != 0x42 {
		t.Fatalf("Data[0] = %#x, want 0x42", b2.Data[0])
	}
	c.Put(b2)
}

func TestCacheEvictsUnpinnedOverCapacity(t *testing.T) {
	phys := mem.NewPhysmem(16)
	mb := &Memblocks{Phys: phys}
	disk := newFakeDisk()
	c := NewCache(2, 2, mb, disk)

	for i := 0; i < 5; i++ {
		b, err := c.Get(context.Background(), i)
		if err != nil {
			t.Fatal(err)
		}
		c.Put(b)
	}
	if c.Len() > 2 {
		t.Fatalf("cache grew to %d entries, want <= 2", c.Len())
	}
}

func TestCachePinnedBlockSurvivesPressure(t *testing.T) {
	phys := mem.NewPhysmem(16)
	mb := &Memblocks{Phys: phys}
	disk := newFakeDisk()
	c := NewCache(1, 2, mb, disk)

	pinned, err := c.Get(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	for i := 2; i < 5; i++ {
		b, err := c.Get(context.Background(), i)
		if err != nil {
			t.Fatal(err)
		}
		c.Put(b)
	}
	if pinned.Block != 1 {
		t.Fatal("pinned block identity changed")
	}
	c.Put(pinned)
}
