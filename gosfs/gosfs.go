// Package gosfs implements the on-disk filesystem: an inode table and
// free-block bitmap embedded in a superblock that spans one or more
// leading disk blocks, followed by data blocks addressed through direct,
// single-indirect, and double-indirect pointers. Grounded on
// original_source/include/geekos/gosfs.h (on-disk layout) and
// original_source/src/geekos/gosfs.c (every operation below), reworked
// to dispatch through vfs.MountPoint_i and fdops.Fdops_i instead of
// GeekOS's Mount_Point_Ops/File_Ops function-pointer tables.
package gosfs

import (
	"context"
	"encoding/binary"
	"sync"

	"bufcache"
	"defs"
	"limits"
	"stat"
	"ustr"
	"vfs"
)

// Magic identifies a GOSFS image at superblock offset 0 (GOSFS_MAGIC).
const Magic uint64 = 0x0DEADB05

const (
	// D, I, DI mirror GOSFS_NUM_DIRECT_BLOCKS/_INDIRECT_BLOCKS/_2X_INDIRECT_BLOCKS.
	D  = 8
	I  = 1
	DI = 1

	numBlockPtrs = D + I + DI
	// indirectIdx and doubleIndirectIdx index into Inode.blockList.
	indirectIdx       = D
	doubleIndirectIdx = D + I
)

// NumInodes is the fixed inode-table size (GOSFS_NUM_INODES), sourced from
// the same ceiling the rest of the kernel enforces for inode tables.
var NumInodes = limits.Syslimit.Inodes

// AclMaxEntries bounds the ACL entries per inode (VFS_MAX_ACL_ENTRIES was
// never retrieved from the pack's header subset; limits.Syslimit.ACLEntries
// is the equivalent ceiling this module already carries).
var AclMaxEntries = limits.Syslimit.ACLEntries

const (
	bs           = bufcache.BSIZE
	ptrsPerBlock = bs / 8

	// inode scalar fields: inode, size, link_count, blocks_used, flags,
	// time_access, time_modified, time_inode.
	inodeScalarBytes = 8 * 8
	aclEntryBytes    = 8
	filenameMax      = 127
	dirEntrySize     = 8 + 8 + (filenameMax + 1)
)

var (
	inodeSize       = inodeScalarBytes + numBlockPtrs*8 + AclMaxEntries*aclEntryBytes
	entriesPerBlock = bs / dirEntrySize
	superHeaderSize = 8 + 8 + 8 // magic, supersize, size
)

// Inode flag bits, chosen to coincide with stat.IFDIR/stat.ISUID so an
// inode's flags can be handed straight to a stat.Stat_t.
const (
	flagUsed  uint64 = 0x01
	flagIsDir uint64 = uint64(stat.IFDIR) // 0x02
	flagSuid  uint64 = uint64(stat.ISUID) // 0x04
)

// Directory entry types (GOSFS_DIRTYP_*).
const (
	dirTypeRegular int64 = 0
	dirTypeThis    int64 = 1
	dirTypeParent  int64 = 2
	dirTypeFree    int64 = -1
)

// aclEntry is one (uid, perm) pair, matching VFS_ACL_Entry's on-disk shape.
type aclEntry struct {
	uid  uint32
	perm uint32
}

// Inode mirrors struct GOSFS_Inode. blockList holds D direct pointers
// followed by one single-indirect and one double-indirect pointer.
type Inode struct {
	num          uint64
	size         uint64
	linkCount    uint64
	blocksUsed   uint64
	flags        uint64
	timeAccess   uint64
	timeModified uint64
	timeInode    uint64
	blockList    [numBlockPtrs]uint64
	acl          []aclEntry
}

func (n *Inode) used() bool  { return n.flags&flagUsed != 0 }
func (n *Inode) isDir() bool { return n.flags&flagIsDir != 0 }

func (n *Inode) encode(b []byte) {
	o := 0
	put := func(v uint64) {
		binary.LittleEndian.PutUint64(b[o:], v)
		o += 8
	}
	put(n.num)
	put(n.size)
	put(n.linkCount)
	put(n.blocksUsed)
	put(n.flags)
	put(n.timeAccess)
	put(n.timeModified)
	put(n.timeInode)
	for _, bp := range n.blockList {
		put(bp)
	}
	for i := 0; i < AclMaxEntries; i++ {
		var e aclEntry
		if i < len(n.acl) {
			e = n.acl[i]
		}
		binary.LittleEndian.PutUint32(b[o:], e.uid)
		o += 4
		binary.LittleEndian.PutUint32(b[o:], e.perm)
		o += 4
	}
}

func newInode(num uint64) Inode {
	return Inode{num: num, acl: make([]aclEntry, AclMaxEntries)}
}

func decodeInode(b []byte) Inode {
	var n Inode
	o := 0
	get := func() uint64 {
		v := binary.LittleEndian.Uint64(b[o:])
		o += 8
		return v
	}
	n.num = get()
	n.size = get()
	n.linkCount = get()
	n.blocksUsed = get()
	n.flags = get()
	n.timeAccess = get()
	n.timeModified = get()
	n.timeInode = get()
	for i := range n.blockList {
		n.blockList[i] = get()
	}
	n.acl = make([]aclEntry, AclMaxEntries)
	for i := 0; i < AclMaxEntries; i++ {
		n.acl[i].uid = binary.LittleEndian.Uint32(b[o:])
		o += 4
		n.acl[i].perm = binary.LittleEndian.Uint32(b[o:])
		o += 4
	}
	return n
}

// dirent mirrors struct GOSFS_Directory.
type dirent struct {
	typ      int64
	inode    uint64
	filename [filenameMax + 1]byte
}

func mkDirent(typ int64, ino uint64, name string) dirent {
	var d dirent
	d.typ = typ
	d.inode = ino
	copy(d.filename[:filenameMax], name)
	return d
}

func (d *dirent) name() string {
	for i, c := range d.filename {
		if c == 0 {
			return string(d.filename[:i])
		}
	}
	return string(d.filename[:])
}

func (d dirent) encode(b []byte) {
	binary.LittleEndian.PutUint64(b[0:], uint64(d.typ))
	binary.LittleEndian.PutUint64(b[8:], d.inode)
	copy(b[16:16+filenameMax+1], d.filename[:])
}

func decodeDirent(b []byte) dirent {
	var d dirent
	d.typ = int64(binary.LittleEndian.Uint64(b[0:]))
	d.inode = binary.LittleEndian.Uint64(b[8:])
	copy(d.filename[:], b[16:16+filenameMax+1])
	return d
}

// superblock mirrors struct GOSFS_Superblock, minus the trailing bitmap
// which is kept as its own slice rather than a flexible array member.
type superblock struct {
	magic     uint64
	supersize uint64
	size      uint64
	inodes    []Inode
	bitset    []byte
}

func bitmapBytes(totalBlocks int) int {
	return (totalBlocks + 7) / 8
}

func newSuperblock(totalBlocks int) *superblock {
	sb := &superblock{
		magic:  Magic,
		size:   uint64(totalBlocks),
		inodes: make([]Inode, NumInodes),
		bitset: make([]byte, bitmapBytes(totalBlocks)),
	}
	for i := range sb.inodes {
		sb.inodes[i] = newInode(uint64(i))
	}
	sb.supersize = uint64(superHeaderSize + NumInodes*inodeSize + len(sb.bitset))
	return sb
}

func (sb *superblock) encode() []byte {
	buf := make([]byte, sb.supersize)
	binary.LittleEndian.PutUint64(buf[0:], sb.magic)
	binary.LittleEndian.PutUint64(buf[8:], sb.supersize)
	binary.LittleEndian.PutUint64(buf[16:], sb.size)
	o := superHeaderSize
	for i := range sb.inodes {
		sb.inodes[i].encode(buf[o : o+inodeSize])
		o += inodeSize
	}
	copy(buf[o:], sb.bitset)
	return buf
}

func decodeSuperblock(buf []byte) *superblock {
	sb := &superblock{}
	sb.magic = binary.LittleEndian.Uint64(buf[0:])
	sb.supersize = binary.LittleEndian.Uint64(buf[8:])
	sb.size = binary.LittleEndian.Uint64(buf[16:])
	sb.inodes = make([]Inode, NumInodes)
	o := superHeaderSize
	for i := range sb.inodes {
		sb.inodes[i] = decodeInode(buf[o : o+inodeSize])
		o += inodeSize
	}
	sb.bitset = append([]byte(nil), buf[o:]...)
	return sb
}

func (sb *superblock) testBit(i int) bool {
	return sb.bitset[i/8]&(1<<uint(i%8)) != 0
}

func (sb *superblock) setBit(i int) {
	sb.bitset[i/8] |= 1 << uint(i%8)
}

func (sb *superblock) clearBit(i int) {
	sb.bitset[i/8] &^= 1 << uint(i%8)
}

// findFreeBlock scans the bitmap for the first unset bit, mirroring
// Find_First_Free_Bit.
func (sb *superblock) findFreeBlock() (int, defs.Err_t) {
	for i := 0; i < int(sb.size); i++ {
		if !sb.testBit(i) {
			return i, 0
		}
	}
	return 0, defs.ENOSPC
}

func sbBlockCount(supersize uint64) int {
	return (int(supersize) + bs - 1) / bs
}

// Instance is one mounted GOSFS filesystem, grounded on GOSFS_Instance.
// A single mutex serializes every operation, matching spec 4.5's
// concurrency note; the cache may legitimately block while the mutex is
// held, exactly as the original holds its Mutex_Lock across Get_FS_Buffer.
type Instance struct {
	mu       sync.Mutex
	cache    *bufcache.Cache
	disk     bufcache.Disk_i
	sb       *superblock
	sbBlocks int
}

// Format writes a fresh GOSFS image of totalBlocks blocks to disk: a
// zeroed inode table, a cleared bitmap with the superblock's own blocks
// marked used, and block 0's inode pre-allocated as the root directory
// containing "." and ".." (spec 4.5's Format, completing what
// GOSFS_Format's "About to create root-directory" comment never actually
// did in the retrieved source).
func Format(disk bufcache.Disk_i, mem bufcache.Blockmem_i, totalBlocks int) defs.Err_t {
	sb := newSuperblock(totalBlocks)
	sbBlocks := sbBlockCount(sb.supersize)
	for i := 0; i < sbBlocks; i++ {
		sb.setBit(i)
	}

	rootBlock, err := sb.findFreeBlock()
	if err != 0 {
		return err
	}
	sb.setBit(rootBlock)

	root := &sb.inodes[0]
	root.flags = flagUsed | flagIsDir
	root.linkCount = 1
	root.blocksUsed = 1
	root.size = 2
	root.blockList[0] = uint64(rootBlock)
	root.acl[0] = aclEntry{uid: uint32(defs.RootUid), perm: uint32(vfs.PermRead | vfs.PermWrite)}

	cache := bufcache.NewCache(sbBlocks+4, 4, mem, disk)
	if err := writeSuperblock(cache, sb, sbBlocks); err != 0 {
		return err
	}

	dirBlock := make([]byte, bs)
	e0 := mkDirent(dirTypeThis, 0, ".")
	e1 := mkDirent(dirTypeParent, 0, "..")
	e0.encode(dirBlock[0:dirEntrySize])
	e1.encode(dirBlock[dirEntrySize : 2*dirEntrySize])
	for i := 2; i < entriesPerBlock; i++ {
		mkDirent(dirTypeFree, 0, "").encode(dirBlock[i*dirEntrySize : (i+1)*dirEntrySize])
	}
	blk, cerr := cache.Get(context.Background(), rootBlock)
	if cerr != nil {
		return defs.EIO
	}
	copy(blk.Data[:], dirBlock)
	if cerr := cache.WriteBack(context.Background(), blk); cerr != nil {
		cache.Put(blk)
		return defs.EIO
	}
	cache.Put(blk)
	return 0
}

func writeSuperblock(cache *bufcache.Cache, sb *superblock, sbBlocks int) defs.Err_t {
	buf := sb.encode()
	for i := 0; i < sbBlocks; i++ {
		blk, err := cache.Get(context.Background(), i)
		if err != nil {
			return defs.EIO
		}
		lo := i * bs
		hi := lo + bs
		if hi > len(buf) {
			hi = len(buf)
		}
		for j := range blk.Data {
			blk.Data[j] = 0
		}
		copy(blk.Data[:], buf[lo:hi])
		if werr := cache.WriteBack(context.Background(), blk); werr != nil {
			cache.Put(blk)
			return defs.EIO
		}
		cache.Put(blk)
	}
	return 0
}

// Mount reads block 0, verifies the magic, and copies the full on-disk
// superblock into a fresh in-memory Instance (spec 4.5's Mount). Unlike
// GOSFS_Mount's `(supersize/BS)+1`, which over-counts whenever supersize
// is an exact multiple of the block size, the block count below is a
// plain ceiling division, matching FindNumBlocks elsewhere in the same
// source.
func Mount(disk bufcache.Disk_i, mem bufcache.Blockmem_i, cacheCap, maxInflight int) (*Instance, defs.Err_t) {
	cache := bufcache.NewCache(cacheCap, maxInflight, mem, disk)

	hdr, err := cache.Get(context.Background(), 0)
	if err != nil {
		return nil, defs.EIO
	}
	magic := binary.LittleEndian.Uint64(hdr.Data[0:])
	if magic != Magic {
		cache.Put(hdr)
		return nil, defs.EFSGEN
	}
	supersize := binary.LittleEndian.Uint64(hdr.Data[8:])
	cache.Put(hdr)

	sbBlocks := sbBlockCount(supersize)
	buf := make([]byte, int(supersize))
	bwritten := 0
	for i := 0; i < sbBlocks; i++ {
		blk, err := cache.Get(context.Background(), i)
		if err != nil {
			return nil, defs.EIO
		}
		n := bs
		if len(buf)-bwritten < n {
			n = len(buf) - bwritten
		}
		copy(buf[bwritten:bwritten+n], blk.Data[:n])
		bwritten += n
		cache.Put(blk)
	}

	return &Instance{cache: cache, disk: disk, sb: decodeSuperblock(buf), sbBlocks: sbBlocks}, 0
}

// Sync writes the in-memory superblock back to disk. Data blocks are
// already on disk by the time this is called: every mutating operation
// below calls cache.WriteBack immediately after touching a data block,
// the same write-through behavior GOSFS_Sync's single WriteSuperblock
// call implies (only the superblock, never a data block, is deferred).
func (fs *Instance) Sync() defs.Err_t {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return writeSuperblock(fs.cache, fs.sb, fs.sbBlocks)
}

// ACL implements vfs.MountPoint_i by resolving path to an inode and
// translating its stored ACL entries.
func (fs *Instance) ACL(path ustr.Ustr) ([]vfs.ACLEntry, defs.Err_t) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	ino, err := fs.findInodeByName(path)
	if err != 0 {
		return nil, err
	}
	n := &fs.sb.inodes[ino]
	out := make([]vfs.ACLEntry, len(n.acl))
	for i, e := range n.acl {
		out[i] = vfs.ACLEntry{Uid: defs.Uid_t(e.uid), Perm: vfs.Perm(e.perm)}
	}
	return out, 0
}

// SetACL implements vfs.MountPoint_i's ACL-mutation hook for the
// set_acl(path, uid, perms) syscall (spec 6): it replaces any existing
// entry for uid, or appends a new one if room remains, matching GeekOS's
// VFS_Set_ACL. A full ACL (AclMaxEntries entries already used by other
// uids) fails with EACLMAXENTRIES rather than silently dropping perms.
func (fs *Instance) SetACL(path ustr.Ustr, uid defs.Uid_t, perm vfs.Perm) defs.Err_t {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	ino, err := fs.findInodeByName(path)
	if err != 0 {
		return err
	}
	n := &fs.sb.inodes[ino]
	if n.acl[0].uid == uint32(uid) {
		n.acl[0].perm = uint32(perm)
		return 0
	}
	// entry 0 is always the owner; entries past it are "used" only once
	// a nonzero perm has been stamped into them, so an all-zero entry is
	// free for reuse regardless of its leftover uid field.
	for i := 1; i < len(n.acl); i++ {
		if n.acl[i].perm != 0 && n.acl[i].uid == uint32(uid) {
			n.acl[i].perm = uint32(perm)
			return 0
		}
	}
	for i := 1; i < len(n.acl); i++ {
		if n.acl[i].perm == 0 {
			n.acl[i] = aclEntry{uid: uint32(uid), perm: uint32(perm)}
			return 0
		}
	}
	return defs.EACLMAXENTRIES
}

// SetSetuid implements vfs.MountPoint_i's setuid-mutation hook for the
// set_setuid(path, flag) syscall (spec 6), flipping GOSFS_INODE_SETUID on
// the named inode.
func (fs *Instance) SetSetuid(path ustr.Ustr, flag bool) defs.Err_t {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	ino, err := fs.findInodeByName(path)
	if err != 0 {
		return err
	}
	n := &fs.sb.inodes[ino]
	if flag {
		n.flags |= flagSuid
	} else {
		n.flags &^= flagSuid
	}
	return 0
}

// Stat fills st from the inode named by path (spec 4.5 / GOSFS_Stat).
func (fs *Instance) Stat(path ustr.Ustr, st *stat.Stat_t) defs.Err_t {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	ino, err := fs.findInodeByName(path)
	if err != 0 {
		return err
	}
	n := &fs.sb.inodes[ino]
	st.Wino(uint(ino))
	st.Wmode(uint(n.flags &^ flagUsed))
	st.Wsize(uint(n.size))
	return 0
}
