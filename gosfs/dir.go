package gosfs

import (
	"bpath"
	"defs"
	"ustr"
)

// findInodeByName walks path component by component from the root inode,
// mirroring Find_InodeByName/Find_InodeInDirectory. An empty or root path
// resolves to inode 0.
func (fs *Instance) findInodeByName(path ustr.Ustr) (int, defs.Err_t) {
	comps := bpath.Components(path)
	ino := 0
	for _, c := range comps {
		next, err := fs.findInodeInDirectory(ino, c.String())
		if err != 0 {
			return 0, err
		}
		ino = next
	}
	return ino, 0
}

// findInodeInDirectory scans every direct block of dirInode's directory
// contents for a live entry named name.
func (fs *Instance) findInodeInDirectory(dirInode int, name string) (int, defs.Err_t) {
	n := &fs.sb.inodes[dirInode]
	for i := 0; i < D; i++ {
		bn := n.blockList[i]
		if bn == 0 {
			continue
		}
		blk, err := fs.readBlock(int(bn))
		if err != 0 {
			return 0, err
		}
		for e := 0; e < entriesPerBlock; e++ {
			d := decodeDirent(blk.Data[e*dirEntrySize : (e+1)*dirEntrySize])
			if d.typ != dirTypeFree && d.name() == name {
				fs.cache.Put(blk)
				return int(d.inode), 0
			}
		}
		fs.cache.Put(blk)
	}
	return 0, defs.ENOTFOUND
}

// freshDirBlock returns a block of entriesPerBlock free directory entries,
// matching CreateNextDirectoryBlock.
func freshDirBlock() []byte {
	buf := make([]byte, bs)
	for i := 0; i < entriesPerBlock; i++ {
		mkDirent(dirTypeFree, 0, "").encode(buf[i*dirEntrySize : (i+1)*dirEntrySize])
	}
	return buf
}

// addDirEntry appends entry to parentInode's directory contents. This
// reproduces AddDirEntry2Inode's dead second-block-allocation path
// verbatim (spec Open Question (b)): only blockList[0] is ever scanned
// for a free slot, and no new direct block is ever allocated once it
// fills, even though the inode may still have unused direct pointers.
func (fs *Instance) addDirEntry(parentInode int, entry dirent) defs.Err_t {
	n := &fs.sb.inodes[parentInode]
	bn := n.blockList[0]
	if bn == 0 {
		return defs.ENOSPC
	}
	blk, err := fs.readBlock(int(bn))
	if err != 0 {
		return err
	}
	for e := 0; e < entriesPerBlock; e++ {
		off := e * dirEntrySize
		d := decodeDirent(blk.Data[off : off+dirEntrySize])
		if d.typ == dirTypeFree {
			entry.encode(blk.Data[off : off+dirEntrySize])
			if err := fs.writeBlock(blk); err != 0 {
				return err
			}
			n.size++
			return 0
		}
	}
	fs.cache.Put(blk)
	// numDirectPtr is initialized to -1 and never reset before this
	// check in the source this is grounded on, so the branch that would
	// grow the directory into a second block never runs.
	return defs.ENOSPC
}

// removeDirEntry clears the first entry in parentInode's directory whose
// inode number matches childInode, mirroring RemoveDirEntryFromInode.
func (fs *Instance) removeDirEntry(parentInode, childInode int) defs.Err_t {
	n := &fs.sb.inodes[parentInode]
	for i := 0; i < D; i++ {
		bn := n.blockList[i]
		if bn == 0 {
			continue
		}
		blk, err := fs.readBlock(int(bn))
		if err != 0 {
			return err
		}
		for e := 0; e < entriesPerBlock; e++ {
			off := e * dirEntrySize
			d := decodeDirent(blk.Data[off : off+dirEntrySize])
			if int(d.inode) == childInode && d.typ != dirTypeFree {
				mkDirent(dirTypeFree, 0, "").encode(blk.Data[off : off+dirEntrySize])
				if err := fs.writeBlock(blk); err != 0 {
					return err
				}
				n.size--
				return 0
			}
		}
		fs.cache.Put(blk)
	}
	return 0
}

// isDirectoryEmpty reports whether n has no live regular entries,
// matching IsDirectoryEmpty: a non-directory inode is vacuously empty,
// and "." / ".." entries never count against emptiness.
func (fs *Instance) isDirectoryEmpty(n *Inode) (bool, defs.Err_t) {
	if !n.isDir() {
		return true, 0
	}
	for i := 0; i < D; i++ {
		bn := n.blockList[i]
		if bn == 0 {
			continue
		}
		blk, err := fs.readBlock(int(bn))
		if err != 0 {
			return false, err
		}
		for e := 0; e < entriesPerBlock; e++ {
			d := decodeDirent(blk.Data[e*dirEntrySize : (e+1)*dirEntrySize])
			if d.typ == dirTypeRegular {
				fs.cache.Put(blk)
				return false, 0
			}
		}
		fs.cache.Put(blk)
	}
	return true, 0
}

// findFreeInode returns the first inode whose flags field is exactly
// zero (never used), matching Find_Free_Inode.
func (fs *Instance) findFreeInode() (int, defs.Err_t) {
	for i := 0; i < len(fs.sb.inodes); i++ {
		if fs.sb.inodes[i].flags == 0 {
			return i, 0
		}
	}
	return 0, defs.ENOSPC
}

// createFileInode allocates a fresh inode for name inside parentDir and
// links it via addDirEntry, matching CreateFileInode. CreateFileInode
// stamps the owner ACL entry from the creating thread's effective uid;
// vfs.MountPoint_i.Open never passes a caller identity down to the
// mount, so the new inode instead inherits its parent directory's owner
// entry, which keeps ownership consistent along a directory subtree
// without requiring a wider interface change.
func (fs *Instance) createFileInode(parentDir int, name string) (int, defs.Err_t) {
	if _, err := fs.findInodeInDirectory(parentDir, name); err == 0 {
		return 0, defs.EEXIST
	}
	ino, err := fs.findFreeInode()
	if err != 0 {
		return 0, err
	}
	n := &fs.sb.inodes[ino]
	*n = newInode(uint64(ino))
	n.flags = flagUsed
	n.linkCount = 1
	n.acl[0] = fs.sb.inodes[parentDir].acl[0]

	entry := mkDirent(dirTypeRegular, uint64(ino), name)
	if err := fs.addDirEntry(parentDir, entry); err != 0 {
		*n = newInode(uint64(ino))
		return 0, err
	}
	return ino, 0
}

// createDirectoryInode allocates a fresh inode for name inside
// parentDir, links it, and gives it its own "."/".." data block,
// matching GOSFS_Create_Directory.
func (fs *Instance) createDirectoryInode(parentDir int, name string) (int, defs.Err_t) {
	if _, err := fs.findInodeInDirectory(parentDir, name); err == 0 {
		return 0, defs.EEXIST
	}
	ino, err := fs.findFreeInode()
	if err != 0 {
		return 0, err
	}

	entry := mkDirent(dirTypeRegular, uint64(ino), name)
	if err := fs.addDirEntry(parentDir, entry); err != 0 {
		return 0, err
	}

	bn, err := fs.allocBlock()
	if err != 0 {
		return 0, err
	}
	blk, err := fs.readBlock(bn)
	if err != 0 {
		return 0, err
	}
	e0 := mkDirent(dirTypeThis, uint64(ino), ".")
	e1 := mkDirent(dirTypeParent, uint64(parentDir), "..")
	e0.encode(blk.Data[0:dirEntrySize])
	e1.encode(blk.Data[dirEntrySize : 2*dirEntrySize])
	for e := 2; e < entriesPerBlock; e++ {
		mkDirent(dirTypeFree, 0, "").encode(blk.Data[e*dirEntrySize : (e+1)*dirEntrySize])
	}
	if err := fs.writeBlock(blk); err != 0 {
		return 0, err
	}

	n := &fs.sb.inodes[ino]
	*n = newInode(uint64(ino))
	n.flags = flagUsed | flagIsDir
	n.linkCount = 1
	n.size = 2
	n.blocksUsed = 1
	n.blockList[0] = uint64(bn)
	n.acl[0] = fs.sb.inodes[parentDir].acl[0]
	return ino, 0
}
