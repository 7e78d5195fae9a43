package gosfs

import (
	"sync"

	"bpath"
	"defs"
	"fdops"
	"ustr"
	"vfs"
)

var _ vfs.MountPoint_i = (*Instance)(nil)
var _ fdops.Fdops_i = (*File)(nil)
var _ fdops.Fdops_i = (*Dir)(nil)

// File is one open regular-file descriptor, grounded on
// struct GOSFS_FileEntry plus the filePos/endPos fields GOSFS keeps on
// struct File itself.
type File struct {
	mu   sync.Mutex
	fs   *Instance
	ino  int
	mode vfs.Perm
	pos  int
}

// Open resolves path to an inode (spec 4.5's path→inode walk), creating a
// fresh regular file when the lookup misses, matching GOSFS_Open's
// O_CREATE branch.
func (fs *Instance) Open(path ustr.Ustr, mode vfs.Perm) (fdops.Fdops_i, defs.Err_t) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	ino, err := fs.findInodeByName(path)
	if err != 0 {
		if err != defs.ENOTFOUND {
			return nil, err
		}
		parent, perr := fs.findInodeByName(bpath.Dirname(path))
		if perr != 0 {
			return nil, perr
		}
		newIno, cerr := fs.createFileInode(parent, bpath.Basename(path).String())
		if cerr != 0 {
			return nil, cerr
		}
		ino = newIno
	} else if fs.sb.inodes[ino].isDir() {
		return nil, defs.ENOTFILE
	}

	return &File{fs: fs, ino: ino, mode: mode}, 0
}

// Close is a no-op: GOSFS_Close's reference counting is already handled
// one level up, by fd.Fd_t's own clone/close bookkeeping.
func (f *File) Close() defs.Err_t { return 0 }

// Reopen matches GOSFS_Clone's success path and does nothing else: the
// duplicated descriptor shares this File, including its cursor.
func (f *File) Reopen() defs.Err_t { return 0 }

func (f *File) Fstat(st fdops.Statable) defs.Err_t {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()
	n := &f.fs.sb.inodes[f.ino]
	st.Wino(uint(f.ino))
	st.Wmode(uint(n.flags &^ flagUsed))
	st.Wsize(uint(n.size))
	return 0
}

// Lseek repositions the file's cursor, matching GOSFS_Seek's unconditional
// assignment (no bounds check against the current size).
func (f *File) Lseek(off, whence int) (int, defs.Err_t) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch whence {
	case 0:
		f.pos = off
	case 1:
		f.pos += off
	case 2:
		f.fs.mu.Lock()
		f.pos = int(f.fs.sb.inodes[f.ino].size) + off
		f.fs.mu.Unlock()
	default:
		return 0, defs.EINVAL
	}
	if f.pos < 0 {
		f.pos = 0
	}
	return f.pos, 0
}

func (f *File) Poll(pm fdops.Pollmsg_t) (fdops.Ready_t, defs.Err_t) {
	return fdops.R_READ | fdops.R_WRITE, 0
}

// Read copies up to dst's remaining capacity from the file starting at
// its current position, clamped to end-of-file, then advances pos by the
// full amount requested rather than the amount actually copied — spec
// 4.5's "advances pos by the requested byte count", carried over
// verbatim from GOSFS_Read's unconditional `file->filePos += numBytes`.
// A hole in the middle of an allocated range reads back as zeros without
// allocating (spec 8's sparse-read boundary case), unlike GOSFS_Read's
// EFSGEN-on-hole, which contradicts that requirement.
func (f *File) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()

	if f.mode&vfs.PermRead == 0 {
		return 0, defs.EACCESS
	}
	n := &f.fs.sb.inodes[f.ino]
	requested := dst.Remain()
	if f.pos >= int(n.size) {
		return 0, 0
	}
	avail := int(n.size) - f.pos
	want := requested
	if want > avail {
		want = avail
	}

	copied := 0
	startBlock := f.pos / bs
	endBlock := (f.pos + want - 1) / bs
	for blk := startBlock; blk <= endBlock && copied < want; blk++ {
		phy, err := f.fs.blockForLogical(n, blk, false)
		if err != 0 {
			return copied, err
		}
		off := 0
		if blk == startBlock {
			off = f.pos % bs
		}
		chunk := bs - off
		if copied+chunk > want {
			chunk = want - copied
		}
		var data [bs]byte
		if phy != 0 {
			b, err := f.fs.readBlock(phy)
			if err != 0 {
				return copied, err
			}
			copy(data[:], b.Data[:])
			f.fs.cache.Put(b)
		}
		if _, err := dst.Uiowrite(data[off : off+chunk]); err != 0 {
			return copied, err
		}
		copied += chunk
	}
	f.pos += requested
	return copied, 0
}

// Write extends the file on demand (allocating missing blocks, growing
// size past the write's end) and always advances pos by the requested
// byte count, matching GOSFS_Write.
func (f *File) Write(src fdops.Userio_i) (int, defs.Err_t) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()

	if f.mode&vfs.PermWrite == 0 {
		return 0, defs.EACCESS
	}
	n := &f.fs.sb.inodes[f.ino]
	numBytes := src.Remain()
	if numBytes == 0 {
		return 0, 0
	}

	written := 0
	startBlock := f.pos / bs
	endBlock := (f.pos + numBytes - 1) / bs
	for blk := startBlock; blk <= endBlock; blk++ {
		phy, err := f.fs.blockForLogical(n, blk, true)
		if err != 0 {
			return written, err
		}
		b, err := f.fs.readBlock(phy)
		if err != 0 {
			return written, err
		}
		off := 0
		if blk == startBlock {
			off = f.pos % bs
		}
		chunk := bs - off
		if written+chunk > numBytes {
			chunk = numBytes - written
		}
		if _, err := src.Uioread(b.Data[off : off+chunk]); err != 0 {
			f.fs.cache.Put(b)
			return written, err
		}
		if err := f.fs.writeBlock(b); err != 0 {
			return written, err
		}
		written += chunk
	}

	if newEnd := f.pos + numBytes; uint64(newEnd) > n.size {
		n.size = uint64(newEnd)
	}
	f.pos += numBytes
	return written, 0
}

// Dir is an open directory descriptor: an in-memory snapshot of live
// entries taken at open_directory time, streamed out one at a time by
// successive Read calls (spec 4.5's "streams the in-memory snapshot
// built at open_directory").
type Dir struct {
	mu      sync.Mutex
	fs      *Instance
	ino     int
	entries []dirent
	cursor  int
}

// OpenDirectory resolves path to a directory inode and snapshots its live
// entries, matching GOSFS_Open_Directory.
func (fs *Instance) OpenDirectory(path ustr.Ustr) (fdops.Fdops_i, defs.Err_t) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	ino, err := fs.findInodeByName(path)
	if err != 0 {
		return nil, err
	}
	n := &fs.sb.inodes[ino]
	if !n.isDir() {
		return nil, defs.ENOTDIR
	}

	var entries []dirent
	for i := 0; i < D; i++ {
		bn := n.blockList[i]
		if bn == 0 {
			continue
		}
		blk, err := fs.readBlock(int(bn))
		if err != 0 {
			return nil, err
		}
		for e := 0; e < entriesPerBlock; e++ {
			d := decodeDirent(blk.Data[e*dirEntrySize : (e+1)*dirEntrySize])
			if d.typ != dirTypeFree {
				entries = append(entries, d)
			}
		}
		fs.cache.Put(blk)
	}
	return &Dir{fs: fs, ino: ino, entries: entries}, 0
}

func (d *Dir) Close() defs.Err_t  { return 0 }
func (d *Dir) Reopen() defs.Err_t { return 0 }

func (d *Dir) Fstat(st fdops.Statable) defs.Err_t {
	d.fs.mu.Lock()
	defer d.fs.mu.Unlock()
	n := &d.fs.sb.inodes[d.ino]
	st.Wino(uint(d.ino))
	st.Wmode(uint(n.flags &^ flagUsed))
	st.Wsize(uint(n.size))
	return 0
}

// Lseek sets the snapshot cursor to off, taken as an absolute entry index
// into the snapshot's flat array; whence is ignored.
func (d *Dir) Lseek(off, whence int) (int, defs.Err_t) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cursor = off
	return d.cursor, 0
}

func (d *Dir) Poll(pm fdops.Pollmsg_t) (fdops.Ready_t, defs.Err_t) {
	return fdops.R_READ, 0
}

// Read serves read_entry: it encodes the next live entry from the
// snapshot as a raw GOSFS_Directory-shaped record and returns 0 once the
// snapshot is exhausted.
func (d *Dir) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cursor >= len(d.entries) {
		return 0, 0
	}
	buf := make([]byte, dirEntrySize)
	d.entries[d.cursor].encode(buf)
	d.cursor++
	return dst.Uiowrite(buf)
}

func (d *Dir) Write(src fdops.Userio_i) (int, defs.Err_t) {
	return 0, defs.EUNSUPPORTED
}

// CreateDirectory allocates a directory inode for path's final component
// inside its parent, matching GOSFS_Create_Directory.
func (fs *Instance) CreateDirectory(path ustr.Ustr) defs.Err_t {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	parent, err := fs.findInodeByName(bpath.Dirname(path))
	if err != 0 {
		return err
	}
	_, err = fs.createDirectoryInode(parent, bpath.Basename(path).String())
	return err
}

// Delete removes path: a non-empty directory fails DIRNOTEMPTY (spec
// 4.5), otherwise every block the inode owns is freed, the inode is
// cleared, and its entry is unlinked from the parent.
func (fs *Instance) Delete(path ustr.Ustr) defs.Err_t {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	ino, err := fs.findInodeByName(path)
	if err != 0 {
		return err
	}
	n := &fs.sb.inodes[ino]
	empty, err := fs.isDirectoryEmpty(n)
	if err != 0 {
		return err
	}
	if !empty {
		return defs.ENOTEMPTY
	}

	parent, err := fs.findInodeByName(bpath.Dirname(path))
	if err != 0 {
		return err
	}
	if err := fs.freeInodeBlocks(n); err != 0 {
		return err
	}
	*n = newInode(uint64(ino))
	return fs.removeDirEntry(parent, ino)
}
