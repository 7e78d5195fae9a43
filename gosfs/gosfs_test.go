package gosfs

import (
	"testing"

	"bufcache"
	"defs"
	"mem"
	"stat"
	"ustr"
	"vfs"
)

type fakeDisk struct {
	backing map[int]*mem.Bytepg_t
}

func newFakeDisk() *fakeDisk {
	return &fakeDisk{backing: make(map[int]*mem.Bytepg_t)}
}

func (f *fakeDisk) Start(req *bufcache.Bdev_req_t) bool {
	switch req.Cmd {
	case bufcache.BDEV_READ:
		b := req.Blks.FrontBlock()
		if data, ok := f.backing[b.Block]; ok {
			*b.Data = *data
		}
	case bufcache.BDEV_WRITE:
		for b := req.Blks.FrontBlock(); b != nil; b = req.Blks.NextBlock() {
			cp := *b.Data
			f.backing[b.Block] = &cp
			b.Done("fakeDisk")
		}
	case bufcache.BDEV_FLUSH:
	}
	return false
}

func (f *fakeDisk) Stats() string { return "" }

// fakeUio implements fdops.Userio_i over a plain byte slice, mirroring the
// shape of the kernel's own Fakeubuf_t without pulling in vm as a test
// dependency.
type fakeUio struct {
	buf []uint8
	off int
}

func (u *fakeUio) Uioread(dst []uint8) (int, defs.Err_t) {
	n := copy(dst, u.buf[u.off:])
	u.off += n
	return n, 0
}

func (u *fakeUio) Uiowrite(src []uint8) (int, defs.Err_t) {
	n := copy(u.buf[u.off:], src)
	u.off += n
	return n, 0
}

func (u *fakeUio) Remain() int  { return len(u.buf) - u.off }
func (u *fakeUio) Totalsz() int { return len(u.buf) }

func path(p string) ustr.Ustr { return ustr.Ustr(p) }

func mountFresh(t *testing.T, totalBlocks int) (*Instance, *fakeDisk) {
	t.Helper()
	disk := newFakeDisk()
	phys := mem.NewPhysmem(256)
	mb := &bufcache.Memblocks{Phys: phys}
	if err := Format(disk, mb, totalBlocks); err != 0 {
		t.Fatalf("Format: err %d", err)
	}
	fs, err := Mount(disk, mb, 96, 4)
	if err != 0 {
		t.Fatalf("Mount: err %d", err)
	}
	return fs, disk
}

func TestFormatMountRoot(t *testing.T) {
	fs, _ := mountFresh(t, 2048)
	var st stat.Stat_t
	if err := fs.Stat(path("/"), &st); err != 0 {
		t.Fatalf("Stat(/): err %d", err)
	}
	if st.Mode()&uint(flagIsDir) == 0 {
		t.Fatalf("root is not marked as a directory, mode %#x", st.Mode())
	}
	if st.Size() < 2 {
		t.Fatalf("root size = %d, want >= 2 (. and ..)", st.Size())
	}

	d, err := fs.OpenDirectory(path("/"))
	if err != 0 {
		t.Fatalf("OpenDirectory(/): err %d", err)
	}
	dir := d.(*Dir)
	if len(dir.entries) != 2 {
		t.Fatalf("root has %d entries, want 2 (. and ..)", len(dir.entries))
	}
}

func TestCreateWriteReadRoundtrip(t *testing.T) {
	fs, _ := mountFresh(t, 2048)

	f, err := fs.Open(path("/hello.txt"), vfs.PermRead|vfs.PermWrite)
	if err != 0 {
		t.Fatalf("Open create: err %d", err)
	}
	want := []byte("hello, gosfs")
	wu := &fakeUio{buf: want}
	n, err := f.Write(wu)
	if err != 0 || n != len(want) {
		t.Fatalf("Write: n=%d err=%d", n, err)
	}

	if _, err := f.Lseek(0, 0); err != 0 {
		t.Fatalf("Lseek: err %d", err)
	}

	got := make([]byte, len(want))
	ru := &fakeUio{buf: got}
	n, err = f.Read(ru)
	if err != 0 || n != len(want) {
		t.Fatalf("Read: n=%d err=%d", n, err)
	}
	if string(got) != string(want) {
		t.Fatalf("roundtrip mismatch: got %q, want %q", got, want)
	}

	// Reopening the same path must resolve the existing inode, not create
	// a second one.
	f2, err := fs.Open(path("/hello.txt"), vfs.PermRead)
	if err != 0 {
		t.Fatalf("reopen: err %d", err)
	}
	got2 := make([]byte, len(want))
	ru2 := &fakeUio{buf: got2}
	if _, err := f2.Read(ru2); err != 0 {
		t.Fatalf("reopen read: err %d", err)
	}
	if string(got2) != string(want) {
		t.Fatalf("reopen roundtrip mismatch: got %q, want %q", got2, want)
	}
}

// TestDirectoryExhaustionBug exercises spec Open Question (b): a
// directory inode never grows past its first direct block, because the
// original's second-block allocation path is dead code.
func TestDirectoryExhaustionBug(t *testing.T) {
	fs, _ := mountFresh(t, 2048)

	// The root directory already holds "." and "..", leaving
	// entriesPerBlock-2 free slots in blockList[0].
	free := entriesPerBlock - 2
	for i := 0; i < free; i++ {
		name := "/f" + string(rune('a'+i%26)) + string(rune('0'+i/26))
		if _, err := fs.Open(path(name), vfs.PermRead|vfs.PermWrite); err != 0 {
			t.Fatalf("create %s: err %d (expected room for %d entries)", name, err, free)
		}
	}

	// The next create should fail: blockList[0] is full and the dead
	// second-block-allocation path never runs.
	if _, err := fs.Open(path("/overflow"), vfs.PermRead|vfs.PermWrite); err != defs.ENOSPC {
		t.Fatalf("create past capacity: err %d, want ENOSPC", err)
	}
}

// TestHoleReadZeroFill covers spec 8's sparse-read boundary case: reading
// an unallocated block in the middle of a file's allocated range returns
// zeros without allocating a block for it.
func TestHoleReadZeroFill(t *testing.T) {
	fs, _ := mountFresh(t, 2048)

	f, err := fs.Open(path("/sparse.bin"), vfs.PermRead|vfs.PermWrite)
	if err != 0 {
		t.Fatalf("Open: err %d", err)
	}
	file := f.(*File)

	// Write a single byte at logical block 5, leaving blocks 0-4 as holes.
	if _, err := f.Lseek(5*bs, 0); err != 0 {
		t.Fatalf("Lseek: err %d", err)
	}
	wu := &fakeUio{buf: []byte{0x7f}}
	if _, err := f.Write(wu); err != 0 {
		t.Fatalf("Write: err %d", err)
	}

	n := &fs.sb.inodes[file.ino]
	if n.blockList[0] != 0 {
		t.Fatalf("block 0 got allocated by a write that only touched block 5")
	}
	usedBefore := n.blocksUsed

	if _, err := f.Lseek(0, 0); err != 0 {
		t.Fatalf("Lseek: err %d", err)
	}
	got := make([]byte, bs)
	ru := &fakeUio{buf: got}
	if _, err := f.Read(ru); err != 0 {
		t.Fatalf("Read: err %d", err)
	}
	for i, b := range got {
		if b != 0 {
			t.Fatalf("hole byte %d = %#x, want 0", i, b)
		}
	}
	if n.blocksUsed != usedBefore {
		t.Fatalf("blocksUsed changed from %d to %d after a read-only hole access", usedBefore, n.blocksUsed)
	}
}

// TestDoubleIndirectBoundary is spec 8's scenario 4: writing one byte
// every BLOCK_SIZE for D+I*P+3 logical blocks must cross into the
// double-indirect range, and every byte must read back correctly with
// blocks_used matching the number of data blocks actually allocated.
func TestDoubleIndirectBoundary(t *testing.T) {
	fs, _ := mountFresh(t, 4096)

	f, err := fs.Open(path("/big.bin"), vfs.PermRead|vfs.PermWrite)
	if err != 0 {
		t.Fatalf("Open: err %d", err)
	}
	file := f.(*File)

	numBlocks := D + I*ptrsPerBlock + 3
	values := make([]byte, numBlocks)
	for i := range values {
		values[i] = byte(i % 251)
	}

	for i := 0; i < numBlocks; i++ {
		if _, err := f.Lseek(i*bs, 0); err != 0 {
			t.Fatalf("Lseek block %d: err %d", i, err)
		}
		wu := &fakeUio{buf: []byte{values[i]}}
		if _, err := f.Write(wu); err != 0 {
			t.Fatalf("Write block %d: err %d", i, err)
		}
	}

	n := &fs.sb.inodes[file.ino]
	if int(n.blocksUsed) != numBlocks {
		t.Fatalf("blocksUsed = %d, want %d", n.blocksUsed, numBlocks)
	}

	for i := 0; i < numBlocks; i++ {
		if _, err := f.Lseek(i*bs, 0); err != 0 {
			t.Fatalf("Lseek block %d: err %d", i, err)
		}
		got := make([]byte, 1)
		ru := &fakeUio{buf: got}
		if _, err := f.Read(ru); err != 0 {
			t.Fatalf("Read block %d: err %d", i, err)
		}
		if got[0] != values[i] {
			t.Fatalf("block %d = %#x, want %#x", i, got[0], values[i])
		}
	}
}

func TestDeleteEmptyDirectory(t *testing.T) {
	fs, _ := mountFresh(t, 2048)

	if err := fs.CreateDirectory(path("/sub")); err != 0 {
		t.Fatalf("CreateDirectory: err %d", err)
	}
	if err := fs.Delete(path("/sub")); err != 0 {
		t.Fatalf("Delete empty dir: err %d", err)
	}
	if _, err := fs.OpenDirectory(path("/sub")); err != defs.ENOTFOUND {
		t.Fatalf("OpenDirectory after delete: err %d, want ENOTFOUND", err)
	}
}

func TestDeleteNonEmptyDirectoryFails(t *testing.T) {
	fs, _ := mountFresh(t, 2048)

	if err := fs.CreateDirectory(path("/sub")); err != 0 {
		t.Fatalf("CreateDirectory: err %d", err)
	}
	if _, err := fs.Open(path("/sub/child"), vfs.PermRead|vfs.PermWrite); err != 0 {
		t.Fatalf("create child: err %d", err)
	}
	if err := fs.Delete(path("/sub")); err != defs.ENOTEMPTY {
		t.Fatalf("Delete non-empty dir: err %d, want ENOTEMPTY", err)
	}
}

func TestSyncPersistsAcrossRemount(t *testing.T) {
	fs, disk := mountFresh(t, 2048)

	if _, err := fs.Open(path("/persisted.txt"), vfs.PermRead|vfs.PermWrite); err != 0 {
		t.Fatalf("create: err %d", err)
	}
	if err := fs.Sync(); err != 0 {
		t.Fatalf("Sync: err %d", err)
	}

	phys := mem.NewPhysmem(256)
	mb := &bufcache.Memblocks{Phys: phys}
	fs2, err := Mount(disk, mb, 96, 4)
	if err != 0 {
		t.Fatalf("remount: err %d", err)
	}
	if _, err := fs2.findInodeByName(path("/persisted.txt")); err != 0 {
		t.Fatalf("lookup after remount: err %d", err)
	}
}
