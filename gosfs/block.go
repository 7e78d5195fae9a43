package gosfs

import (
	"context"
	"encoding/binary"

	"bufcache"
	"defs"
)

// zeroBlock overwrites a cached block's backing page, used both for fresh
// data blocks and freshly allocated indirect blocks.
func zeroBlock(blk *bufcache.Bdev_block_t) {
	for i := range blk.Data {
		blk.Data[i] = 0
	}
}

func (fs *Instance) readBlock(blockNum int) (*bufcache.Bdev_block_t, defs.Err_t) {
	blk, err := fs.cache.Get(context.Background(), blockNum)
	if err != nil {
		return nil, defs.EIO
	}
	return blk, 0
}

func (fs *Instance) writeBlock(blk *bufcache.Bdev_block_t) defs.Err_t {
	if err := fs.cache.WriteBack(context.Background(), blk); err != nil {
		fs.cache.Put(blk)
		return defs.EIO
	}
	fs.cache.Put(blk)
	return 0
}

// allocBlock claims the first free bit in the bitmap (Find_First_Free_Bit
// + Set_Bit) without touching its contents.
func (fs *Instance) allocBlock() (int, defs.Err_t) {
	bn, err := fs.sb.findFreeBlock()
	if err != 0 {
		return 0, defs.ENOSPC
	}
	fs.sb.setBit(bn)
	return bn, 0
}

func (fs *Instance) freeBlockNum(bn int) {
	fs.sb.clearBit(bn)
}

// allocZeroedBlock claims a fresh block and writes zeros to it, matching
// GetNewCleanBlock.
func (fs *Instance) allocZeroedBlock() (int, defs.Err_t) {
	bn, err := fs.allocBlock()
	if err != 0 {
		return 0, err
	}
	blk, err := fs.readBlock(bn)
	if err != 0 {
		return 0, err
	}
	zeroBlock(blk)
	if err := fs.writeBlock(blk); err != 0 {
		return 0, err
	}
	return bn, 0
}

func (fs *Instance) readPtrBlock(bn int) ([]uint64, defs.Err_t) {
	blk, err := fs.readBlock(bn)
	if err != 0 {
		return nil, err
	}
	ptrs := make([]uint64, ptrsPerBlock)
	for i := range ptrs {
		ptrs[i] = binary.LittleEndian.Uint64(blk.Data[i*8:])
	}
	fs.cache.Put(blk)
	return ptrs, 0
}

func (fs *Instance) writePtrBlock(bn int, ptrs []uint64) defs.Err_t {
	blk, err := fs.readBlock(bn)
	if err != 0 {
		return err
	}
	for i, p := range ptrs {
		binary.LittleEndian.PutUint64(blk.Data[i*8:], p)
	}
	return fs.writeBlock(blk)
}

// blockForLogical translates a file-relative logical block number to a
// physical disk block, mirroring GetPhysicalBlockByLogical. When allocate
// is true, missing indirect blocks and the final data block are created
// on demand (spec 4.5's "writing to a hole allocates the missing indirect
// and data blocks, zero-filling the data block"); blocksUsed is bumped
// exactly once per leaf data block allocated, matching CreateFileBlock.
// A returned block number of 0 with a nil error means an unallocated hole.
func (fs *Instance) blockForLogical(n *Inode, logical int, allocate bool) (int, defs.Err_t) {
	switch {
	case logical < D:
		bn := n.blockList[logical]
		if bn != 0 {
			return int(bn), 0
		}
		if !allocate {
			return 0, 0
		}
		newBn, err := fs.allocZeroedBlock()
		if err != 0 {
			return 0, err
		}
		n.blockList[logical] = uint64(newBn)
		n.blocksUsed++
		return newBn, 0

	case logical < D+ptrsPerBlock:
		idx := logical - D
		ind, err := fs.ensureIndirect(&n.blockList[indirectIdx], allocate)
		if err != 0 || ind == 0 {
			return 0, err
		}
		ptrs, err := fs.readPtrBlock(ind)
		if err != 0 {
			return 0, err
		}
		if ptrs[idx] != 0 {
			return int(ptrs[idx]), 0
		}
		if !allocate {
			return 0, 0
		}
		newBn, err := fs.allocZeroedBlock()
		if err != 0 {
			return 0, err
		}
		ptrs[idx] = uint64(newBn)
		if err := fs.writePtrBlock(ind, ptrs); err != 0 {
			return 0, err
		}
		n.blocksUsed++
		return newBn, 0

	case logical < D+ptrsPerBlock+ptrsPerBlock*ptrsPerBlock:
		idx := logical - D - ptrsPerBlock
		top := idx / ptrsPerBlock
		second := idx % ptrsPerBlock

		di, err := fs.ensureIndirect(&n.blockList[doubleIndirectIdx], allocate)
		if err != 0 || di == 0 {
			return 0, err
		}
		topPtrs, err := fs.readPtrBlock(di)
		if err != 0 {
			return 0, err
		}
		l2 := int(topPtrs[top])
		if l2 == 0 {
			if !allocate {
				return 0, 0
			}
			l2, err = fs.allocZeroedBlock()
			if err != 0 {
				return 0, err
			}
			topPtrs[top] = uint64(l2)
			if err := fs.writePtrBlock(di, topPtrs); err != 0 {
				return 0, err
			}
		}
		l2ptrs, err := fs.readPtrBlock(l2)
		if err != 0 {
			return 0, err
		}
		if l2ptrs[second] != 0 {
			return int(l2ptrs[second]), 0
		}
		if !allocate {
			return 0, 0
		}
		newBn, err := fs.allocZeroedBlock()
		if err != 0 {
			return 0, err
		}
		l2ptrs[second] = uint64(newBn)
		if err := fs.writePtrBlock(l2, l2ptrs); err != 0 {
			return 0, err
		}
		n.blocksUsed++
		return newBn, 0

	default:
		return 0, defs.EMAXSIZE
	}
}

// ensureIndirect returns the block number stored at *slot, allocating a
// fresh zeroed indirect block if it is a hole and allocate is set.
func (fs *Instance) ensureIndirect(slot *uint64, allocate bool) (int, defs.Err_t) {
	if *slot != 0 {
		return int(*slot), 0
	}
	if !allocate {
		return 0, 0
	}
	bn, err := fs.allocZeroedBlock()
	if err != 0 {
		return 0, err
	}
	*slot = uint64(bn)
	return bn, 0
}

// freeInodeBlocks releases every direct, indirect, and double-indirect
// block an inode owns, including the indirection blocks themselves
// (spec 4.5's Delete: "frees every direct and indirect data block it
// owns"; the original's double-indirect free loop never dereferences
// its own second-level blocks, which this walk does correctly since
// that gap is not one of the spec's two documented bugs to preserve).
func (fs *Instance) freeInodeBlocks(n *Inode) defs.Err_t {
	for i := 0; i < D; i++ {
		if n.blockList[i] != 0 {
			fs.freeBlockNum(int(n.blockList[i]))
			n.blockList[i] = 0
		}
	}

	if ind := n.blockList[indirectIdx]; ind != 0 {
		ptrs, err := fs.readPtrBlock(int(ind))
		if err != 0 {
			return err
		}
		for _, p := range ptrs {
			if p != 0 {
				fs.freeBlockNum(int(p))
			}
		}
		fs.freeBlockNum(int(ind))
		n.blockList[indirectIdx] = 0
	}

	if di := n.blockList[doubleIndirectIdx]; di != 0 {
		topPtrs, err := fs.readPtrBlock(int(di))
		if err != 0 {
			return err
		}
		for _, l2 := range topPtrs {
			if l2 == 0 {
				continue
			}
			l2ptrs, err := fs.readPtrBlock(int(l2))
			if err != 0 {
				return err
			}
			for _, p := range l2ptrs {
				if p != 0 {
					fs.freeBlockNum(int(p))
				}
			}
			fs.freeBlockNum(int(l2))
		}
		fs.freeBlockNum(int(di))
		n.blockList[doubleIndirectIdx] = 0
	}
	return 0
}
